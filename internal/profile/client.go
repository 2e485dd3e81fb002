// Package profile reads non-authentication user attributes from the
// profile store. Lookups are best-effort: a failure here never blocks a
// session from becoming authenticated.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crewdesk.app/internal/apperr"
	"crewdesk.app/internal/ids"
	"crewdesk.app/internal/obs"
	"crewdesk.app/internal/retry"
	"crewdesk.app/internal/session"
)

// Config configures the client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Retry      retry.Options
}

// Client reads profiles. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Options
}

// New constructs a client.
func New(cfg Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    cfg.HTTPClient,
		retry:   cfg.Retry,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// Get fetches the profile document for a user. A missing document is not
// an error: it returns (nil, nil) and the session proceeds with
// identity-provider fields only.
func (c *Client) Get(ctx context.Context, userID string) (*session.ProfileFields, error) {
	return retry.Do(ctx, "profile.get", func(ctx context.Context) (*session.ProfileFields, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/profiles/"+userID, nil)
		if err != nil {
			return nil, fmt.Errorf("profile: build request: %w", err)
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("X-Request-Id", ids.Request())

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			obs.ObserveProviderRequest("profile", "get", 0, time.Since(start))
			return nil, apperr.Classify(err)
		}
		defer resp.Body.Close()
		obs.ObserveProviderRequest("profile", "get", resp.StatusCode, time.Since(start))

		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
			return nil, apperr.FromHTTP(resp.StatusCode, string(msg))
		}
		var fields session.ProfileFields
		if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
			return nil, apperr.Classify(fmt.Errorf("profile: decode response: %w", err))
		}
		return &fields, nil
	}, c.retry)
}
