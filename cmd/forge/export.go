package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/byteforge/forgelive/internal/export"
)

func exportCmd(opts *globalOptions) *cobra.Command {
	var (
		format     string
		includeGit bool
		output     string
	)
	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Export a project as an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			last := -1
			p := &export.Poller{
				Client:   export.NewClient(e.api),
				Interval: e.cfg.Export.PollInterval,
				Log:      e.log,
				OnProgress: func(s export.Status) {
					if s.Progress != last {
						last = s.Progress
						fmt.Fprintf(out, "%s %d%%\n", s.Status, s.Progress)
					}
				},
			}
			ar, err := p.Run(cmd.Context(), args[0], export.Request{Format: f, IncludeGit: includeGit})
			if err != nil {
				return err
			}

			dest := output
			if dest == "" {
				dest = ar.Name
			} else if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
				dest = filepath.Join(dest, ar.Name)
			}
			if err := os.WriteFile(dest, ar.Data, 0o644); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			fmt.Fprintf(out, "saved %s (%s)\n", dest, humanize.Bytes(uint64(len(ar.Data))))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "zip", "archive format: zip or rar")
	cmd.Flags().BoolVar(&includeGit, "git", false, "include git history")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default: name chosen by the server)")
	return cmd
}
