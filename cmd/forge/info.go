package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/byteforge/forgelive/internal/api"
)

func infoCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <project-id>",
		Short: "Show a project and its contributors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			var (
				p  *api.Project
				cs []api.Contributor
			)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() (err error) {
				p, err = e.api.GetProject(ctx, args[0])
				return err
			})
			g.Go(func() (err error) {
				cs, err = e.api.Contributors(ctx, args[0])
				return err
			})
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			visibility := "private"
			if p.IsPublic {
				visibility = "public"
			}
			fmt.Fprintf(out, "%s (#%d, %s, %d files)\n", p.Title, p.ID, visibility, p.FileCount)
			if p.Description != "" {
				fmt.Fprintln(out, p.Description)
			}
			if len(cs) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSER\tROLE\tONLINE")
			for _, c := range cs {
				online := ""
				if c.Online {
					online = "yes"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ID, c.Username, c.Role, online)
			}
			return tw.Flush()
		},
	}
}
