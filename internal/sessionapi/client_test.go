package sessionapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"crewdesk.app/internal/retry"
)

func fastRetry() retry.Options {
	return retry.Options{Sleep: func(context.Context, time.Duration) error { return nil }}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	stored := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/session":
			var body sessionBody
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			stored = body.Token
			mu.Unlock()
			http.SetCookie(w, &http.Cookie{Name: "crewdesk_session", Value: "cookie-1", Path: "/"})
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/session":
			if c, err := r.Cookie("crewdesk_session"); err != nil || c.Value != "cookie-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			mu.Lock()
			tok := stored
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(sessionBody{Token: tok})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: fastRetry()})
	if err := c.Save(context.Background(), "tok.1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	tok, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tok != "tok.1" {
		t.Fatalf("loaded %q, want tok.1", tok)
	}
}

func TestLoadAbsentSession(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: fastRetry()})
	tok, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("absent session must not be an error, got %v", err)
	}
	if tok != "" {
		t.Fatalf("expected empty token, got %q", tok)
	}
}

func TestLoadUnauthorizedSession(t *testing.T) {
	t.Parallel()

	// No cookie yet: the endpoint answers 401, which maps to "no session".
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: fastRetry()})
	tok, err := c.Load(context.Background())
	if err != nil || tok != "" {
		t.Fatalf("Load = (%q, %v), want empty token and nil error", tok, err)
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()

	cleared := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/logout" {
			cleared = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: fastRetry()})
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !cleared {
		t.Fatal("logout request never reached the endpoint")
	}
}
