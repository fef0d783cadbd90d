package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/byteforge/forgelive/internal/execution"
	"github.com/byteforge/forgelive/internal/store"
	"github.com/byteforge/forgelive/internal/workspace"
)

// errRunFinished stops the input pump once the program has ended.
var errRunFinished = errors.New("run finished")

func runCmd(opts *globalOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "run <project-id> <path>",
		Short: "Run a file on the project sandbox and stream its output",
		Long:  "Runs a file remotely. Lines typed on stdin are sent to the program when it asks for input. Exits with the program's exit code.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			projectID, path := args[0], args[1]
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			w, err := e.loadFiles(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			entry, ok := w.FindByPath(path)
			if !ok || entry.IsFolder() {
				return fmt.Errorf("no file %s in project %s", path, projectID)
			}

			l, err := newLive(cmd.Context(), e)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tr := execution.NewTracker(e.log)
			done := make(chan execution.Snapshot, 1)
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			tr.OnLine = func(line string) {
				fmt.Fprintln(out, line)
				if interactive && line == execution.InputMarker {
					fmt.Fprint(out, "> ")
				}
			}
			tr.OnFinish = func(s execution.Snapshot) {
				select {
				case done <- s:
				default:
				}
			}
			l.client.Subscribe(w.HandleEvent)
			l.client.Subscribe(tr.HandleEvent)

			if err := e.connect(cmd.Context(), l.client, projectID); err != nil {
				l.Close()
				return err
			}
			if all {
				files := make(map[string]string)
				for _, f := range w.Files() {
					if !f.IsFolder() && f.Content != nil {
						files[f.Path] = *f.Content
					}
				}
				err = l.client.ExecuteFiles(l.ctx, files, entry.Path)
			} else {
				code := ""
				if entry.Content != nil {
					code = *entry.Content
				}
				err = l.client.ExecuteCode(l.ctx, code, entry.Path)
			}
			if err != nil {
				l.Close()
				return err
			}

			var snap execution.Snapshot
			g, gctx := errgroup.WithContext(l.ctx)
			g.Go(func() error {
				select {
				case snap = <-done:
					return errRunFinished
				case <-gctx.Done():
					return context.Cause(gctx)
				}
			})
			g.Go(func() error {
				pumpInput(gctx, cmd.InOrStdin(), tr, l, e.log)
				return nil
			})
			waitErr := g.Wait()
			closeErr := l.Close()
			if !errors.Is(waitErr, errRunFinished) {
				if closeErr != nil {
					return closeErr
				}
				return waitErr
			}

			recordRun(e, projectID, entry, snap)
			if snap.ExitCode != nil && *snap.ExitCode != 0 {
				return &exitCodeError{code: *snap.ExitCode}
			}
			if snap.State == execution.StateErrored {
				return &exitCodeError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "send every project file, with <path> as the entry point")
	return cmd
}

// pumpInput forwards stdin lines to the running program. It returns when
// stdin closes or ctx ends; a read blocked on a terminal is abandoned.
func pumpInput(ctx context.Context, in io.Reader, tr *execution.Tracker, l *live, log *slog.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := l.client.SendInput(ctx, line); err != nil {
				log.Warn("input not delivered", "err", err)
				continue
			}
			tr.InputSent()
		}
	}
}

// keepRuns bounds the per-project history kept in the cache.
const keepRuns = 200

func recordRun(e *env, projectID string, entry workspace.FileNode, s execution.Snapshot) {
	if e.cache == nil {
		return
	}
	r := &store.Run{
		ProjectID:  projectID,
		EntryPoint: entry.Path,
		State:      string(s.State),
		ExitCode:   s.ExitCode,
		Output:     s.Text(),
		StartedAt:  s.StartedAt,
	}
	if !s.FinishedAt.IsZero() {
		f := s.FinishedAt
		r.FinishedAt = &f
	}
	if err := e.cache.RecordRun(r); err != nil {
		e.log.Warn("record run failed", "err", err)
		return
	}
	if n, err := e.cache.PruneRuns(projectID, keepRuns); err != nil {
		e.log.Warn("prune runs failed", "err", err)
	} else if n > 0 {
		e.log.Debug("pruned old runs", "project", projectID, "removed", n)
	}
}
