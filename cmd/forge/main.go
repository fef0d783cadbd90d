package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// exitCodeError makes main exit with a specific status, used by run to pass
// the program's exit code through.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	var opts globalOptions

	root := &cobra.Command{
		Use:           "forge",
		Short:         "Terminal client for collaborative forge projects",
		Long:          "Browse, run and live-mirror projects on a forge server. Changes made by other participants show up as they happen.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.forgelive/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		treeCmd(&opts),
		sessionCmd(&opts),
		runCmd(&opts),
		mirrorCmd(&opts),
		exportCmd(&opts),
		kickCmd(&opts),
		historyCmd(&opts),
		infoCmd(&opts),
		loginCmd(&opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		os.Exit(ec.code)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
