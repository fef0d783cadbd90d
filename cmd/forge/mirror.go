package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/byteforge/forgelive/internal/mirror"
)

func mirrorCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror <project-id> <dir>",
		Short: "Keep a local directory in sync with a project",
		Long:  "Writes the project's files to <dir>, applies remote changes as they arrive and saves local edits back to the project.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			projectID, dir := args[0], args[1]
			w, err := e.loadFiles(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			l, err := newLive(cmd.Context(), e)
			if err != nil {
				return err
			}

			m := mirror.New(dir, w, l.client, e.log)
			if err := m.Materialize(); err != nil {
				l.Close()
				return fmt.Errorf("materialize: %w", err)
			}
			// workspace first: the mirror reads the applied state
			l.client.Subscribe(w.HandleEvent)
			l.client.Subscribe(m.HandleEvent)

			if err := e.connect(cmd.Context(), l.client, projectID); err != nil {
				l.Close()
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mirroring project %s into %s (%d files)\n", projectID, dir, w.Len())

			err = m.Run(l.ctx)
			closeErr := l.Close()
			if dirty := w.DirtyFiles(); len(dirty) > 0 {
				e.log.Warn("local edits not confirmed by the server", "files", len(dirty))
			}
			return errors.Join(err, closeErr)
		},
	}
	return cmd
}
