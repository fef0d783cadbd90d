package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/byteforge/forgelive/internal/api"
	"github.com/byteforge/forgelive/internal/config"
)

func loginCmd(opts *globalOptions) *cobra.Command {
	var server, token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the server and access token in the config file",
		Long:  "Saves the server URL and access token, and records the user the token belongs to. Without --token the token is read from stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Read(path)
			if err != nil {
				return err
			}
			if server != "" {
				cfg.Server = strings.TrimRight(server, "/")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if token == "" {
				if token, err = readToken(cmd); err != nil {
					return err
				}
			}
			if token == "" {
				return fmt.Errorf("no token given")
			}
			id, _, err := api.IdentityFromToken(token)
			if err != nil {
				return fmt.Errorf("read token: %w", err)
			}
			cfg.Token = token
			cfg.Identity = config.IdentityConfig{
				UserID:   int64(id.UserID),
				Username: id.Username,
				Email:    id.Email,
			}

			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			name := id.Username
			if name == "" {
				name = "user " + id.UserID.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in to %s as %s (config %s)\n", cfg.Server, name, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server URL, e.g. https://forge.example.com")
	cmd.Flags().StringVar(&token, "token", "", "access token (read from stdin when omitted)")
	return cmd
}

// readToken prompts without echo on a terminal, otherwise reads one line.
func readToken(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "token: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	sc := bufio.NewScanner(in)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}
	return "", sc.Err()
}
