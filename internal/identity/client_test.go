package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"crewdesk.app/internal/apperr"
	"crewdesk.app/internal/retry"
)

func fastRetry() retry.Options {
	return retry.Options{Sleep: func(context.Context, time.Duration) error { return nil }}
}

func TestSignIn(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts:signIn" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "key-1" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("X-Device-Id") == "" || r.Header.Get("X-Request-Id") == "" {
			t.Errorf("missing identifying headers")
		}
		var req signInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Email != "w@crewdesk.app" || req.Password != "hunter22" {
			t.Errorf("credentials not forwarded: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(signInResponse{
			UserID:       "user-9",
			IDToken:      "tok.abc.def",
			RefreshToken: "grant-1",
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "key-1", Retry: fastRetry()})
	res, err := c.SignIn(context.Background(), "w@crewdesk.app", "hunter22")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if res.UserID != "user-9" || res.Token != "tok.abc.def" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	t.Parallel()

	calls := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"INVALID_PASSWORD (auth/wrong-password)"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: fastRetry()})
	_, err := c.SignIn(context.Background(), "w@crewdesk.app", "nope")
	rec := apperr.Classify(err)
	if rec.Code != apperr.CodeInvalidCredentials || rec.Status != 401 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("credential failure retried: %d calls", got)
	}
}

func TestSignInRetriesServerErrors(t *testing.T) {
	t.Parallel()

	calls := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(signInResponse{UserID: "u", IDToken: "t"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: fastRetry()})
	if _, err := c.SignIn(context.Background(), "w@crewdesk.app", "pw"); err != nil {
		t.Fatalf("SignIn after retries: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestFreshTokenSendsStoredGrant(t *testing.T) {
	t.Parallel()

	var gotGrant atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts:signIn":
			_ = json.NewEncoder(w).Encode(signInResponse{UserID: "u", IDToken: "t0", RefreshToken: "grant-7"})
		case "/v1/token":
			var req freshTokenRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotGrant.Store(req.RefreshToken)
			if !req.Force {
				t.Errorf("force flag not forwarded")
			}
			_ = json.NewEncoder(w).Encode(freshTokenResponse{IDToken: "t1", RefreshToken: "grant-8"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: fastRetry()})
	if _, err := c.SignIn(context.Background(), "w@crewdesk.app", "pw"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	tok, err := c.FreshToken(context.Background(), true)
	if err != nil {
		t.Fatalf("FreshToken: %v", err)
	}
	if tok != "t1" {
		t.Fatalf("token = %q, want t1", tok)
	}
	if gotGrant.Load() != "grant-7" {
		t.Fatalf("grant = %v, want grant-7", gotGrant.Load())
	}

	// The rotated grant is used next time.
	if _, err := c.FreshToken(context.Background(), true); err != nil {
		t.Fatalf("FreshToken: %v", err)
	}
	if gotGrant.Load() != "grant-8" {
		t.Fatalf("grant = %v, want grant-8 after rotation", gotGrant.Load())
	}
}

func TestSignOutClearsGrant(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts:signIn":
			_ = json.NewEncoder(w).Encode(signInResponse{UserID: "u", IDToken: "t0", RefreshToken: "grant-7"})
		case "/v1/accounts:signOut":
			w.WriteHeader(http.StatusNoContent)
		case "/v1/token":
			var req freshTokenRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.RefreshToken != "" {
				t.Errorf("grant survived sign-out: %q", req.RefreshToken)
			}
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"TOKEN_EXPIRED (auth/session-expired)"}}`))
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: fastRetry()})
	if _, err := c.SignIn(context.Background(), "w@crewdesk.app", "pw"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := c.FreshToken(context.Background(), true); err == nil {
		t.Fatal("expected failure after sign-out")
	}
}

func TestDeviceIDGeneratedOnce(t *testing.T) {
	t.Parallel()

	c := New(Config{BaseURL: "http://localhost"})
	if c.DeviceID() == "" {
		t.Fatal("device id not generated")
	}
	c2 := New(Config{BaseURL: "http://localhost", DeviceID: "device-1"})
	if c2.DeviceID() != "device-1" {
		t.Fatalf("configured device id ignored: %q", c2.DeviceID())
	}
}
