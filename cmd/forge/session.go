package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/byteforge/forgelive/internal/presence"
	"github.com/byteforge/forgelive/internal/ws"
)

var errSessionLost = errors.New("connection lost")

// live ties a client's terminal conditions (lost connection, being kicked)
// to a context so commands can simply wait on it.
type live struct {
	client *ws.Client
	roster *presence.Roster
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newLive(ctx context.Context, e *env) (*live, error) {
	c, err := e.newClient()
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithCancelCause(ctx)
	l := &live{client: c, roster: presence.NewRoster(e.log), ctx: lctx, cancel: cancel}

	c.OnStateChange = func(state string, err error) {
		e.log.Debug("connection state", "state", state)
		if state == ws.StateLost {
			cancel(fmt.Errorf("%w: %v", errSessionLost, err))
		}
	}
	l.roster.OnKicked = func(k presence.Kick) {
		cancel(fmt.Errorf("removed from project by %s: %s", k.KickedBy, k.Message))
	}
	c.Subscribe(l.roster.HandleEvent)
	return l, nil
}

// Close disconnects and reports why the session ended, if it ended on its
// own.
func (l *live) Close() error {
	l.client.Disconnect()
	cause := context.Cause(l.ctx)
	l.cancel(nil)
	if cause == nil || errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

func sessionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session <project-id>",
		Short: "Join a project and print live activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			projectID := args[0]
			w, err := e.loadFiles(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			l, err := newLive(cmd.Context(), e)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			l.client.Subscribe(w.HandleEvent)
			l.client.Subscribe(func(ev ws.Event) error {
				printActivity(out, ev)
				return nil
			})
			l.roster.OnChange = func(users []ws.User) {
				names := make([]string, 0, len(users))
				for _, u := range users {
					names = append(names, u.Username)
				}
				fmt.Fprintf(out, "%s online (%d): %s\n", time.Now().Format(time.TimeOnly), len(users), strings.Join(names, ", "))
			}

			if err := e.connect(cmd.Context(), l.client, projectID); err != nil {
				l.Close()
				return err
			}
			fmt.Fprintf(out, "joined project %s as %s (%d files)\n", projectID, l.client.ConnectionID(), w.Len())
			<-l.ctx.Done()
			return l.Close()
		},
	}
}

func printActivity(out io.Writer, ev ws.Event) {
	ts := time.Now().Format(time.TimeOnly)
	switch e := ev.(type) {
	case *ws.SessionInfo:
		fmt.Fprintf(out, "%s session %s\n", ts, e.SessionID)
	case *ws.FileSaved:
		fmt.Fprintf(out, "%s saved   #%d (%d bytes)\n", ts, e.FileID, len(e.Content))
	case *ws.FileCreated:
		fmt.Fprintf(out, "%s created %s\n", ts, e.File.Path)
	case *ws.FileDeleted:
		fmt.Fprintf(out, "%s deleted #%d\n", ts, e.FileID)
	case *ws.FileRenamed:
		fmt.Fprintf(out, "%s renamed #%d -> %s\n", ts, e.FileID, e.NewPath)
	case *ws.ExecutionStarted:
		fmt.Fprintf(out, "%s run started\n", ts)
	case *ws.ExecutionCompleted, *ws.ExecutionStopped:
		fmt.Fprintf(out, "%s run finished\n", ts)
	case *ws.UserKickedBroadcast:
		fmt.Fprintf(out, "%s user #%d removed by %s\n", ts, e.UserID, e.KickedByUsername)
	}
}
