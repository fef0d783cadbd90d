package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func historyCmd(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "history <project-id>",
		Short: "List recent runs recorded by this machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer e.Close()
			if e.cache == nil {
				return fmt.Errorf("local cache is disabled")
			}

			runs, err := e.cache.Runs(args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tSTATE\tEXIT\tSTARTED\tTOOK")
			for _, r := range runs {
				exit := "-"
				if r.ExitCode != nil {
					exit = fmt.Sprint(*r.ExitCode)
				}
				took := "-"
				if r.FinishedAt != nil {
					took = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.EntryPoint, r.State, exit, humanize.Time(r.StartedAt), took)
			}
			tw.Flush()
			if verbose {
				for _, r := range runs {
					fmt.Fprintf(out, "\n--- run %d (%s) ---\n%s", r.ID, r.EntryPoint, r.Output)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show (0 for all)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each run's output")
	return cmd
}
