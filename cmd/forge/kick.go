package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/byteforge/forgelive/internal/ws"
)

func kickCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kick <project-id> <user-id>",
		Short: "Remove a user from a project's live session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("user id must be numeric: %w", err)
			}
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			l, err := newLive(cmd.Context(), e)
			if err != nil {
				return err
			}
			if err := e.connect(cmd.Context(), l.client, args[0]); err != nil {
				l.Close()
				return err
			}
			sendErr := l.client.KickUser(cmd.Context(), ws.ID(uid))
			if closeErr := l.Close(); sendErr == nil {
				sendErr = closeErr
			}
			if sendErr != nil {
				return sendErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kick request sent for user %d\n", uid)
			return nil
		},
	}
}
