package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairo-dev/kairo/pkg/kairo/auth"
)

// fakeAuthServer answers the device flow endpoints. The token endpoint
// returns authorization_pending pendingPolls times before issuing tok123,
// or tokenError when set.
type fakeAuthServer struct {
	*httptest.Server
	pendingPolls int32
	tokenError   string
	codeRequests int32
	tokenPolls   int32
	sessionHits  int32
}

func newFakeAuthServer(t *testing.T, pendingPolls int32) *fakeAuthServer {
	t.Helper()
	f := &fakeAuthServer{pendingPolls: pendingPolls}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/device/code", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.codeRequests, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "kairo-cli", r.PostForm.Get("client_id"))
		respondJSON(w, http.StatusOK, fmt.Sprintf(`{
			"device_code": "dev-secret",
			"user_code": "WDJB-MJHT",
			"verification_uri": "%[1]s/device",
			"verification_uri_complete": "%[1]s/device?user_code=WDJB-MJHT",
			"expires_in": 600,
			"interval": 1
		}`, f.URL))
	})
	mux.HandleFunc("/api/auth/device/token", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.tokenPolls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "dev-secret", r.PostForm.Get("device_code"))
		switch {
		case f.tokenError != "":
			respondJSON(w, http.StatusBadRequest, fmt.Sprintf(`{"error":%q}`, f.tokenError))
		case n <= f.pendingPolls:
			respondJSON(w, http.StatusBadRequest, `{"error":"authorization_pending"}`)
		default:
			respondJSON(w, http.StatusOK, `{"access_token":"tok123","token_type":"Bearer","expires_in":3600}`)
		}
	})
	mux.HandleFunc("/api/auth/get-session", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.sessionHits, 1)
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		respondJSON(w, http.StatusOK, `{"user":{"id":"u1","name":"Ada","email":"ada@example.com"}}`)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func respondJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}

func TestLogin_DeviceFlow(t *testing.T) {
	srv := newFakeAuthServer(t, 2)
	cli := newTestCLI(t, "")

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli"))

	out := cli.out.String()
	assert.Contains(t, out, "Device Authorization Required")
	assert.Contains(t, out, "Please visit: "+srv.URL+"/device?user_code=WDJB-MJHT")
	assert.Contains(t, out, "Enter code: WDJB-MJHT")
	assert.Contains(t, out, "Waiting for authorization (expires in 10 minutes)")
	assert.Contains(t, out, "Authenticated.")
	assert.Contains(t, out, "Logged in as Ada <ada@example.com>")
	assert.NotContains(t, out, "tok123")
	assert.NotContains(t, out, "dev-secret")
	assert.NotContains(t, cli.errOut.String(), "tok123")
	assert.Equal(t, int32(3), atomic.LoadInt32(&srv.tokenPolls))

	cred, err := cli.store().RequireAuth()
	require.NoError(t, err)
	assert.Equal(t, "tok123", cred.AccessToken)
	assert.Equal(t, srv.URL, cred.ServerURL)
	assert.Equal(t, "kairo-cli", cred.ClientID)
	assert.Equal(t, auth.DefaultScope, cred.Scope)
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, time.Minute)

	content, err := os.ReadFile(cli.tokenPath())
	require.NoError(t, err)
	assert.NotContains(t, string(content), "dev-secret")
}

func TestLogin_ClientIDFromEnvironment(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "")
	t.Setenv("GITHUB_CLIENT_ID", "kairo-cli")
	t.Setenv("KAIRO_SERVER_URL", srv.URL)

	require.NoError(t, cli.run("login"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&srv.codeRequests))
}

func TestLogin_MissingClientID(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "")

	err := cli.run("login", "--server-url", srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrConfiguration)
	assert.Zero(t, atomic.LoadInt32(&srv.codeRequests))
	assert.Contains(t, cli.errOut.String(), "--client-id")
}

func TestLogin_Denied(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	srv.tokenError = "access_denied"
	cli := newTestCLI(t, "")

	err := cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrAccessDenied)
	assert.Contains(t, cli.errOut.String(), "Error: ")
	assert.Contains(t, cli.errOut.String(), "kairo login")
	_, statErr := os.Stat(cli.tokenPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestLogin_ServerExpiredCode(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	srv.tokenError = "expired_token"
	cli := newTestCLI(t, "")

	err := cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli")
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

func TestLogin_EndpointNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	cli := newTestCLI(t, "")

	err := cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrEndpointNotFound)
	assert.Contains(t, cli.errOut.String(), "server URL is correct")
}

func TestLogin_AlreadyLoggedInNonInteractive(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "")
	require.NoError(t, cli.store().Store(auth.StoredCredential{AccessToken: "old", ExpiresAt: time.Now().Add(time.Hour)}))

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli", "--non-interactive"))
	assert.Contains(t, cli.out.String(), "Already logged in")
	assert.Zero(t, atomic.LoadInt32(&srv.codeRequests))
}

func TestLogin_AlreadyLoggedInDeclined(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "n\n")
	cli.rt.interactive = func() bool { return true }
	require.NoError(t, cli.store().Store(auth.StoredCredential{AccessToken: "old"}))

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli"))
	assert.Contains(t, cli.out.String(), "already logged in")
	assert.Contains(t, cli.out.String(), "Login cancelled")
	assert.Zero(t, atomic.LoadInt32(&srv.codeRequests))

	cred, ok := cli.store().Load()
	require.True(t, ok)
	assert.Equal(t, "old", cred.AccessToken)
}

func TestLogin_ForceReplacesToken(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "")
	require.NoError(t, cli.store().Store(auth.StoredCredential{AccessToken: "old"}))

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli", "--force"))
	cred, ok := cli.store().Load()
	require.True(t, ok)
	assert.Equal(t, "tok123", cred.AccessToken)
}

func TestLogin_ExpiredTokenStartsNewFlow(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "")
	require.NoError(t, cli.store().Store(auth.StoredCredential{AccessToken: "old", ExpiresAt: time.Now().Add(-time.Hour)}))

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&srv.codeRequests))
}

func TestLogin_StoreFailureWarnsButSucceeds(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "")
	parent := filepath.Join(cli.dir, "not-a-dir")
	require.NoError(t, writeFile(parent, "x"))
	cli.rt.tokenPath = filepath.Join(parent, "token.json")

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli"))
	assert.Contains(t, cli.errOut.String(), "Warning: authenticated, but the token could not be saved")
	assert.Contains(t, cli.out.String(), "Authenticated.")
	assert.Contains(t, cli.out.String(), "Logged in as Ada <ada@example.com>")
	assert.NotContains(t, cli.out.String(), "tok123")
	assert.NotContains(t, cli.errOut.String(), "tok123")
}

func TestLogin_ExpiryUsesInjectedClock(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "")
	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	cli.rt.now = func() time.Time { return fixed }

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli"))
	assert.Contains(t, cli.out.String(), "Token expires at 2030-01-01T01:00:00Z")

	cred, ok := cli.store().Load()
	require.True(t, ok)
	assert.True(t, fixed.Equal(cred.IssuedAt))
	assert.True(t, fixed.Add(time.Hour).Equal(cred.ExpiresAt))
}

func TestLogin_CredentialForAnotherServerStartsNewFlow(t *testing.T) {
	tests := []struct {
		name     string
		server   string
		clientID string
	}{
		{"other server", "https://other.example.com", "kairo-cli"},
		{"other client", "", "another-client"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeAuthServer(t, 0)
			cli := newTestCLI(t, "")
			server := tt.server
			if server == "" {
				server = srv.URL
			}
			require.NoError(t, cli.store().Store(auth.StoredCredential{
				AccessToken: "old",
				ServerURL:   server,
				ClientID:    tt.clientID,
				ExpiresAt:   time.Now().Add(time.Hour),
			}))

			require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli", "--non-interactive"))
			assert.NotContains(t, cli.out.String(), "Already logged in")
			assert.Equal(t, int32(1), atomic.LoadInt32(&srv.codeRequests))

			cred, ok := cli.store().Load()
			require.True(t, ok)
			assert.Equal(t, "tok123", cred.AccessToken)
			assert.Equal(t, srv.URL, cred.ServerURL)
			assert.Equal(t, "kairo-cli", cred.ClientID)
		})
	}
}

func TestLogin_SameServerWithTrailingSlashIsAlreadyLoggedIn(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "")
	require.NoError(t, cli.store().Store(auth.StoredCredential{
		AccessToken: "old",
		ServerURL:   srv.URL + "/",
		ClientID:    "kairo-cli",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli", "--non-interactive"))
	assert.Contains(t, cli.out.String(), "Already logged in")
	assert.Zero(t, atomic.LoadInt32(&srv.codeRequests))
}

func TestLogin_OpensBrowserWhenConfirmed(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "\n")
	cli.rt.interactive = func() bool { return true }
	var opened []string
	cli.rt.openBrowser = func(url string) error {
		opened = append(opened, url)
		return nil
	}

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli"))
	assert.Equal(t, []string{srv.URL + "/device?user_code=WDJB-MJHT"}, opened)
	assert.Contains(t, cli.out.String(), "Open browser automatically? [Y/n]")
}

func TestLogin_NoBrowserFlagSkipsPrompt(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "")
	cli.rt.interactive = func() bool { return true }

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli", "--no-browser"))
	assert.NotContains(t, cli.out.String(), "Open browser")
}

func TestLogin_BrowserFailureIsNotFatal(t *testing.T) {
	srv := newFakeAuthServer(t, 0)
	cli := newTestCLI(t, "y\n")
	cli.rt.interactive = func() bool { return true }
	cli.rt.openBrowser = func(string) error { return fmt.Errorf("no display") }

	require.NoError(t, cli.run("login", "--server-url", srv.URL, "--client-id", "kairo-cli"))
	assert.Contains(t, cli.errOut.String(), "open the URL manually")
}

func TestLogout(t *testing.T) {
	cli := newTestCLI(t, "")
	require.NoError(t, cli.store().Store(auth.StoredCredential{AccessToken: "tok123"}))

	require.NoError(t, cli.run("logout"))
	assert.Contains(t, cli.out.String(), "Logged out")
	_, statErr := os.Stat(cli.tokenPath())
	assert.True(t, os.IsNotExist(statErr))

	cli = newTestCLI(t, "")
	require.NoError(t, cli.run("logout"))
	assert.Contains(t, cli.out.String(), "Logged out")
}

func TestDescribeHelpers(t *testing.T) {
	assert.Equal(t, "an unknown time", describeLifetime(0))
	assert.Equal(t, "45 seconds", describeLifetime(45*time.Second))
	assert.Equal(t, "15 minutes", describeLifetime(15*time.Minute))
	assert.Contains(t, describeExpiry(time.Time{}), "never")
	assert.Equal(t, "at 2026-06-01T00:00:00Z", describeExpiry(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
}
