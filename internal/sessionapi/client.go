// Package sessionapi talks to the server-held persisted session endpoint.
// It exists only to carry a session across client restarts; while the
// process runs, the in-memory session store is authoritative.
package sessionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"crewdesk.app/internal/apperr"
	"crewdesk.app/internal/ids"
	"crewdesk.app/internal/obs"
	"crewdesk.app/internal/retry"
)

// Config configures the client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      retry.Options
}

// Client persists and retrieves the server-side session. The session is
// keyed by a cookie, so the client holds its own cookie jar when the
// provided HTTP client has none.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Options
}

// New constructs a client.
func New(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		retry:   cfg.Retry,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err == nil {
			c.http.Jar = jar
		}
	}
	return c
}

type sessionBody struct {
	Token string `json:"token"`
}

// Save persists the token server-side for cross-restart continuity.
func (c *Client) Save(ctx context.Context, token string) error {
	_, err := retry.Do(ctx, "sessionapi.save", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, "save", http.MethodPost, "/v1/session", sessionBody{Token: token}, nil)
	}, c.retry)
	return err
}

// Load retrieves the persisted token. Absence is not an error: it returns
// ("", nil) and the caller stays unauthenticated.
func (c *Client) Load(ctx context.Context) (string, error) {
	out, err := retry.Do(ctx, "sessionapi.load", func(ctx context.Context) (sessionBody, error) {
		var body sessionBody
		err := c.do(ctx, "load", http.MethodGet, "/v1/session", nil, &body)
		return body, err
	}, c.retry)
	if err != nil {
		rec := apperr.Classify(err)
		if rec.Code == apperr.CodeNotFound || rec.Unauthorized() {
			return "", nil
		}
		return "", rec
	}
	return out.Token, nil
}

// Logout clears the persisted session.
func (c *Client) Logout(ctx context.Context) error {
	_, err := retry.Do(ctx, "sessionapi.logout", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, "logout", http.MethodPost, "/v1/logout", nil, nil)
	}, c.retry)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("sessionapi: encode %s: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("sessionapi: build %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", ids.Request())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		obs.ObserveProviderRequest("sessionapi", op, 0, time.Since(start))
		return apperr.Classify(err)
	}
	defer resp.Body.Close()
	obs.ObserveProviderRequest("sessionapi", op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return apperr.FromHTTP(resp.StatusCode, string(msg))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Classify(fmt.Errorf("sessionapi: decode %s response: %w", op, err))
	}
	return nil
}
