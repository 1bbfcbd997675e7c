package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/harrisonrobin/mirrorsync/pkg/model"
	"github.com/harrisonrobin/mirrorsync/pkg/store"
)

type tokenServer struct {
	*httptest.Server
	hits atomic.Int32
	fail atomic.Bool
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.hits.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if ts.fail.Load() || r.Form.Get("grant_type") != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		// Slow enough for concurrent callers to pile up on the lock.
		time.Sleep(20 * time.Millisecond)
		fmt.Fprintf(w, `{"access_token":"fresh-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func setup(t *testing.T, expiry time.Time) (*Manager, *store.DB, *tokenServer) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.Init(); err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	link := &model.AccountLink{OwnerID: "u1", AccessToken: "stored", RefreshToken: "rt", Expiry: expiry}
	if err := db.SaveLink(context.Background(), link); err != nil {
		t.Fatal(err)
	}

	srv := newTokenServer(t)
	return managerFor(t, db, srv.URL, 0), db, srv
}

func managerFor(t *testing.T, db *store.DB, tokenURL string, timeout time.Duration) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Store: db,
		Refresher: &OAuthRefresher{Config: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		}},
		RefreshTimeout: timeout,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestAccessTokenReusedOutsideMargin(t *testing.T) {
	m, _, srv := setup(t, time.Now().Add(120*time.Second))

	tok, err := m.AccessToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if tok != "stored" {
		t.Errorf("Expected stored token, got %s", tok)
	}
	if srv.hits.Load() != 0 {
		t.Errorf("Expected no refresh, got %d", srv.hits.Load())
	}
}

func TestAccessTokenRefreshedInsideMargin(t *testing.T) {
	m, db, srv := setup(t, time.Now().Add(30*time.Second))

	before := time.Now()
	tok, err := m.AccessToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if tok != "fresh-1" {
		t.Errorf("Expected fresh-1, got %s", tok)
	}
	if srv.hits.Load() != 1 {
		t.Errorf("Expected one refresh, got %d", srv.hits.Load())
	}

	link, err := db.Link(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if link.AccessToken != "fresh-1" {
		t.Errorf("Expected refreshed token to be persisted, got %s", link.AccessToken)
	}
	if link.RefreshToken != "rt" {
		t.Errorf("Expected refresh token to be kept, got %s", link.RefreshToken)
	}
	// expiry = now + 3600s - 60s
	low := before.Add(3540*time.Second - 5*time.Second)
	high := time.Now().Add(3540*time.Second + 5*time.Second)
	if link.Expiry.Before(low) || link.Expiry.After(high) {
		t.Errorf("Expected expiry near now+3540s, got %v", link.Expiry)
	}

	// Second call reuses the persisted token.
	tok, _ = m.AccessToken(context.Background(), "u1")
	if tok != "fresh-1" || srv.hits.Load() != 1 {
		t.Errorf("Expected reuse, got %s after %d hits", tok, srv.hits.Load())
	}
}

func TestRefreshFailureLeavesStateUntouched(t *testing.T) {
	expiry := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	m, db, srv := setup(t, expiry)
	srv.fail.Store(true)

	_, err := m.AccessToken(context.Background(), "u1")
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("Expected ErrRefreshFailed, got %v", err)
	}

	link, _ := db.Link(context.Background(), "u1")
	if link.AccessToken != "stored" || !link.Expiry.Equal(expiry) {
		t.Errorf("stored state changed: %+v", link)
	}
}

func TestNotLinked(t *testing.T) {
	m, _, _ := setup(t, time.Now().Add(time.Hour))
	if _, err := m.AccessToken(context.Background(), "stranger"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("Expected ErrNotLinked, got %v", err)
	}
	if _, err := m.ForceRefresh(context.Background(), "stranger", "x"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("Expected ErrNotLinked from ForceRefresh, got %v", err)
	}
}

func TestConcurrentRefreshIsSerialized(t *testing.T) {
	m, _, srv := setup(t, time.Now().Add(-time.Minute))

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.AccessToken(context.Background(), "u1")
			if err != nil {
				t.Errorf("AccessToken failed: %v", err)
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	if srv.hits.Load() != 1 {
		t.Errorf("Expected a single refresh, got %d", srv.hits.Load())
	}
	for _, tok := range tokens {
		if tok != "fresh-1" {
			t.Errorf("Expected every caller to get fresh-1, got %s", tok)
		}
	}
}

func TestForceRefresh(t *testing.T) {
	m, _, srv := setup(t, time.Now().Add(time.Hour))
	ctx := context.Background()

	tok, err := m.ForceRefresh(ctx, "u1", "stored")
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if tok != "fresh-1" {
		t.Errorf("Expected fresh-1, got %s", tok)
	}

	// A caller still holding the old token gets the already refreshed one.
	tok, err = m.ForceRefresh(ctx, "u1", "stored")
	if err != nil {
		t.Fatal(err)
	}
	if tok != "fresh-1" || srv.hits.Load() != 1 {
		t.Errorf("Expected no second refresh, got %s after %d hits", tok, srv.hits.Load())
	}
}

func TestRefreshTimesOutOnHungEndpoint(t *testing.T) {
	_, db, _ := setup(t, time.Now().Add(-time.Minute))

	release := make(chan struct{})
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(hung.Close)
	t.Cleanup(func() { close(release) })

	m := managerFor(t, db, hung.URL, 100*time.Millisecond)
	done := make(chan error, 1)
	go func() {
		_, err := m.AccessToken(context.Background(), "u1")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrRefreshUnavailable) || errors.Is(err, ErrRefreshFailed) {
			t.Errorf("Expected ErrRefreshUnavailable, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AccessToken still blocked on a hung token endpoint")
	}
}

func TestRefreshServerErrorIsNotRejection(t *testing.T) {
	_, db, _ := setup(t, time.Now().Add(-time.Minute))
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"backend_error"}`)
	}))
	t.Cleanup(broken.Close)

	_, err := managerFor(t, db, broken.URL, time.Second).AccessToken(context.Background(), "u1")
	if !errors.Is(err, ErrRefreshUnavailable) || errors.Is(err, ErrRefreshFailed) {
		t.Errorf("Expected ErrRefreshUnavailable, got %v", err)
	}

	link, _ := db.Link(context.Background(), "u1")
	if link.AccessToken != "stored" {
		t.Errorf("stored state changed: %+v", link)
	}
}
