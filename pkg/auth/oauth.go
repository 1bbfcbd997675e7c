// Package auth runs the interactive OAuth consent flow that links a Google
// account to a local owner.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/tasks/v1"
)

// LocalhostAuthPort is the port the loopback server listens on to capture
// the OAuth redirect.
const LocalhostAuthPort = "6789"

const oobRedirect = "urn:ietf:wg:oauth:2.0:oob"

// Scopes covers reading and writing tasks and events, plus listing calendars
// so containers can be mapped by title.
var Scopes = []string{
	tasks.TasksScope,
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// GetConfig reads the client secrets file and returns an oauth2.Config for
// scopes, or Scopes when none are given.
func GetConfig(credentialsPath string, scopes ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", credentialsPath, err)
	}
	if len(scopes) == 0 {
		scopes = Scopes
	}
	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirectURL(config.RedirectURL)
	return config, nil
}

// redirectURL points localhost and out-of-band redirects at the loopback
// server. Anything else is kept as configured.
func redirectURL(raw string) string {
	if raw == oobRedirect || raw == "" {
		fixed := fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
		slog.Debug("overriding redirect url", "from", raw, "to", fixed)
		return fixed
	}
	u, err := url.Parse(raw)
	if err != nil {
		slog.Warn("could not parse redirect url, using it as is", "url", raw, "error", err)
		return raw
	}
	if u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		slog.Warn("redirect url is not a localhost callback", "url", raw)
		return raw
	}
	if u.Port() != LocalhostAuthPort {
		if u.Port() != "" {
			slog.Warn("forcing redirect port", "configured", u.Port(), "port", LocalhostAuthPort)
		}
		u.Host = net.JoinHostPort(u.Hostname(), LocalhostAuthPort)
	}
	return u.String()
}

// LinkAccount prints the consent URL to out, waits for the redirect on the
// loopback server and exchanges the code. The returned token carries the
// refresh token to store in the owner's account link.
func LinkAccount(ctx context.Context, config *oauth2.Config, out io.Writer) (*oauth2.Token, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("localhost", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}

	state := uuid.NewString()
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	server := &http.Server{
		Handler:      callbackHandler(state, codeCh, errCh),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			report(errCh, fmt.Errorf("HTTP server error: %w", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	// AccessTypeOffline plus a forced consent prompt guarantees a refresh token.
	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Fprintf(out, "Open the following URL in your browser to link your Google account:\n%s\n", authURL)
	slog.Info("waiting for authorization", "redirect", config.RedirectURL)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	select {
	case code := <-codeCh:
		tok, err := config.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		if tok.RefreshToken == "" {
			return nil, fmt.Errorf("google returned no refresh token; revoke access and link again")
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("authorization did not complete: %w", ctx.Err())
	}
}

func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authorization denied", http.StatusForbidden)
			report(errCh, fmt.Errorf("authorization denied: %s", e))
			return
		}
		if q.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Authorization code not found", http.StatusBadRequest)
			report(errCh, fmt.Errorf("authorization code not found in redirect URL"))
			return
		}
		fmt.Fprint(w, "Authentication successful! You can close this window.")
		select {
		case codeCh <- code:
		default:
		}
	})
}

func report(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}
