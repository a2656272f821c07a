package cmd

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"

	"github.com/kairo-dev/kairo/pkg/kairo/auth"
	"github.com/kairo-dev/kairo/pkg/kairo/output"
)

type statusView struct {
	LoggedIn  bool       `json:"loggedIn" yaml:"loggedIn"`
	Expired   bool       `json:"expired" yaml:"expired"`
	Storage   string     `json:"storage" yaml:"storage"`
	Server    string     `json:"server,omitempty" yaml:"server,omitempty"`
	ClientID  string     `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	Scope     string     `json:"scope,omitempty" yaml:"scope,omitempty"`
	TokenType string     `json:"tokenType,omitempty" yaml:"tokenType,omitempty"`
	IssuedAt  *time.Time `json:"issuedAt,omitempty" yaml:"issuedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	Subject   string     `json:"subject,omitempty" yaml:"subject,omitempty"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local authentication status without contacting the server",
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
			view := buildStatus(store, rt.currentTime())
			if format != output.FormatTable {
				return output.WriteObject(rt.Writer(), format, view)
			}
			if !view.LoggedIn {
				_, _ = fmt.Fprintln(rt.Writer(), "Not logged in")
				return nil
			}
			state := "valid"
			if view.Expired {
				state = "expired"
			}
			fields := []output.Field{
				{Name: "STATE", Value: state},
				{Name: "STORAGE", Value: view.Storage},
				{Name: "SERVER", Value: view.Server},
				{Name: "CLIENT ID", Value: view.ClientID},
				{Name: "SCOPE", Value: view.Scope},
				{Name: "SUBJECT", Value: view.Subject},
			}
			if view.IssuedAt != nil {
				fields = append(fields, output.Field{Name: "ISSUED", Value: output.FormatTime(*view.IssuedAt)})
			}
			if view.ExpiresAt != nil {
				fields = append(fields, output.Field{Name: "EXPIRES", Value: output.FormatTime(*view.ExpiresAt)})
			}
			output.WriteFields(rt.Writer(), fields)
			return nil
		},
	}
}

func buildStatus(store *auth.TokenStore, now time.Time) statusView {
	view := statusView{Storage: store.Location()}
	cred, ok := store.Load()
	if !ok {
		return view
	}
	view.LoggedIn = true
	view.Expired = cred.Expired(now)
	view.Server = cred.ServerURL
	view.ClientID = cred.ClientID
	view.Scope = cred.Scope
	view.TokenType = cred.TokenType
	if !cred.IssuedAt.IsZero() {
		issued := cred.IssuedAt
		view.IssuedAt = &issued
	}
	if !cred.ExpiresAt.IsZero() {
		expires := cred.ExpiresAt
		view.ExpiresAt = &expires
	}
	view.Subject = subjectFromToken(cred.AccessToken)
	return view
}

// subjectFromToken peeks at JWT claims without verifying them. Opaque tokens
// yield an empty string.
func subjectFromToken(token string) string {
	parser := jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	for _, key := range []string{"email", "preferred_username", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
