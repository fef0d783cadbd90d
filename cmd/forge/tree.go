package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/byteforge/forgelive/internal/workspace"
)

func treeCmd(opts *globalOptions) *cobra.Command {
	var showIDs bool
	cmd := &cobra.Command{
		Use:   "tree <project-id>",
		Short: "Print a project's file tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			w, err := e.loadFiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTree(cmd.OutOrStdout(), w.BuildTree(), showIDs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showIDs, "ids", false, "show file ids")
	return cmd
}

func printTree(out io.Writer, tree []*workspace.TreeNode, showIDs bool) {
	workspace.Walk(tree, func(n *workspace.TreeNode, depth int) {
		name := n.Name
		if n.IsFolder() {
			name += "/"
		}
		if showIDs {
			name = fmt.Sprintf("%s  [%d]", name, n.ID)
		}
		fmt.Fprintf(out, "%s%s\n", strings.Repeat("  ", depth), name)
	})
}
