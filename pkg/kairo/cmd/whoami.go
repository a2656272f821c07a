package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kairo-dev/kairo/pkg/kairo/auth"
	"github.com/kairo-dev/kairo/pkg/kairo/client"
	"github.com/kairo-dev/kairo/pkg/kairo/config"
	"github.com/kairo-dev/kairo/pkg/kairo/output"
)

func newWhoamiCommand() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity behind the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			store, err := rt.TokenStore()
			if err != nil {
				return err
			}
			cred, err := store.RequireAuth()
			if err != nil {
				return err
			}

			// The server the token came from wins over config, not over explicit input.
			if serverURL == "" && os.Getenv("KAIRO_SERVER_URL") == "" {
				serverURL = cred.ServerURL
			}
			resolved := rt.cfg.Resolve(config.Overrides{ServerURL: serverURL})
			httpClient, err := rt.Client(resolved)
			if err != nil {
				return err
			}
			session, err := httpClient.GetSession(cmd.Context(), cred.AccessToken)
			if err != nil {
				var httpErr *client.HTTPError
				if !errors.As(err, &httpErr) {
					return fmt.Errorf("%w: %w", auth.ErrNetwork, err)
				}
				return err
			}
			if session == nil {
				return fmt.Errorf("%w: the server reports no active session", auth.ErrUnauthenticated)
			}

			if format == output.FormatTable {
				output.WriteSessionTable(rt.Writer(), session)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, session)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server-url", "", "Auth server URL (default: the server that issued the token)")
	return cmd
}
