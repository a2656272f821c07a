package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kairo-dev/kairo/pkg/kairo/auth"
	"github.com/kairo-dev/kairo/pkg/kairo/client"
	"github.com/kairo-dev/kairo/pkg/kairo/config"
	"github.com/kairo-dev/kairo/pkg/kairo/output"
)

type loginOptions struct {
	serverURL string
	clientID  string
	scope     string
	noBrowser bool
	force     bool
}

func newLoginCommand() *cobra.Command {
	var opts loginOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login via the OAuth device flow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return runLogin(cmd.Context(), rt, opts)
		},
	}
	cmd.Flags().StringVar(&opts.serverURL, "server-url", "", "Auth server URL (default "+config.DefaultServerURL+")")
	cmd.Flags().StringVar(&opts.clientID, "client-id", "", "OAuth client ID")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "Requested scopes (default \""+auth.DefaultScope+"\")")
	cmd.Flags().BoolVar(&opts.noBrowser, "no-browser", false, "Do not offer to open the verification URL")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Start a new login even if a valid token exists")
	return cmd
}

func runLogin(ctx context.Context, rt *runtimeState, opts loginOptions) error {
	if err := rt.EnsureConfigLoaded(); err != nil {
		return err
	}
	resolved := rt.cfg.Resolve(config.Overrides{
		ServerURL: opts.serverURL,
		ClientID:  opts.clientID,
		Scope:     opts.scope,
	})
	if err := resolved.ValidateLogin(); err != nil {
		return err
	}
	store, err := rt.TokenStore()
	if err != nil {
		return err
	}
	w := rt.Writer()
	log := rt.Logger()

	if !opts.force {
		if existing, ok := store.Load(); ok && !existing.Expired(rt.currentTime()) && issuedFor(existing, resolved) {
			if !rt.Interactive() {
				_, _ = fmt.Fprintf(w, "Already logged in (token expires %s). Use --force to log in again.\n", describeExpiry(existing.ExpiresAt))
				return nil
			}
			again, err := rt.confirm("You're already logged in. Do you want to log in again?", false)
			if err != nil {
				return err
			}
			if !again {
				_, _ = fmt.Fprintln(w, "Login cancelled")
				return nil
			}
		}
	}

	httpClient, err := rt.Client(resolved)
	if err != nil {
		return err
	}
	device := auth.NewDeviceClient(httpClient, log).WithClock(rt.currentTime)

	log.Debugw("Requesting device authorization", "server", resolved.ServerURL, "scope", resolved.Scope)
	da, err := device.RequestDeviceCode(ctx, resolved.ClientID, resolved.Scope)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Device Authorization Required")
	_, _ = fmt.Fprintf(w, "Please visit: %s\n", da.BrowserURL())
	_, _ = fmt.Fprintf(w, "Enter code: %s\n", da.UserCode)
	_, _ = fmt.Fprintln(w)

	open, err := rt.shouldOpenBrowser(opts.noBrowser)
	if err != nil {
		return err
	}
	if open {
		if err := rt.browser()(da.BrowserURL()); err != nil {
			log.Warnw("Failed to open browser", "error", err)
			_, _ = fmt.Fprintln(rt.ErrWriter(), "Could not open a browser, please open the URL manually.")
		}
	}

	_, _ = fmt.Fprintf(w, "Waiting for authorization (expires in %s)...\n", describeLifetime(da.Lifetime()))
	poller := auth.Poller{
		Client:   device,
		ClientID: resolved.ClientID,
		Log:      log,
		Sleep:    rt.sleep,
		Now:      rt.now,
	}
	outcome, err := poller.Poll(ctx, da)
	if err != nil {
		log.Debugw("Device flow ended", "state", outcome.State, "attempts", outcome.Attempts)
		return err
	}

	cred := auth.NewStoredCredential(outcome.Token, rt.currentTime())
	cred.ServerURL = resolved.ServerURL
	cred.ClientID = resolved.ClientID
	if cred.Scope == "" {
		cred.Scope = resolved.Scope
	}
	if err := store.Store(cred); err != nil {
		log.Warnw("Failed to persist credential", "error", err)
		_, _ = fmt.Fprintf(rt.ErrWriter(), "Warning: authenticated, but the token could not be saved: %v\n", err)
	}

	_, _ = fmt.Fprintf(w, "Authenticated. Token expires %s\n", describeExpiry(cred.ExpiresAt))
	session, err := httpClient.GetSession(ctx, cred.AccessToken)
	switch {
	case err != nil:
		log.Warnw("Could not resolve identity", "error", err)
	case session != nil:
		_, _ = fmt.Fprintf(w, "Logged in as %s\n", describeUser(session.User))
	}
	return nil
}

// issuedFor reports whether cred came from the server and client a login is
// about to use. Credentials written without that metadata match anything.
func issuedFor(cred auth.StoredCredential, resolved config.Resolved) bool {
	if cred.ServerURL != "" && strings.TrimRight(cred.ServerURL, "/") != resolved.ServerURL {
		return false
	}
	return cred.ClientID == "" || cred.ClientID == resolved.ClientID
}

func (rt *runtimeState) shouldOpenBrowser(noBrowser bool) (bool, error) {
	if noBrowser || strings.EqualFold(os.Getenv("KAIRO_NO_BROWSER"), "true") {
		return false, nil
	}
	if !rt.Interactive() {
		return false, nil
	}
	return rt.confirm("Open browser automatically?", true)
}

func (rt *runtimeState) browser() func(string) error {
	if rt.openBrowser != nil {
		return rt.openBrowser
	}
	return auth.OpenBrowser
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			store, err := rt.TokenStore()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
}

func describeExpiry(expiresAt time.Time) string {
	if expiresAt.IsZero() {
		return "never (no expiry sent by server)"
	}
	return "at " + output.FormatTime(expiresAt)
}

func describeLifetime(d time.Duration) string {
	switch {
	case d <= 0:
		return "an unknown time"
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	default:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
}

func describeUser(u client.User) string {
	switch {
	case u.Name != "" && u.Email != "":
		return fmt.Sprintf("%s <%s>", u.Name, u.Email)
	case u.Email != "":
		return u.Email
	case u.Name != "":
		return u.Name
	}
	return u.ID
}
