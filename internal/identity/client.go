// Package identity is the REST client for the external identity provider.
// Every call goes through the shared retry policy, and every failure is
// classified before it leaves this package.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crewdesk.app/internal/apperr"
	"crewdesk.app/internal/ids"
	"crewdesk.app/internal/obs"
	"crewdesk.app/internal/retry"
	"crewdesk.app/internal/token"
)

// Config configures the client.
type Config struct {
	BaseURL    string
	APIKey     string
	DeviceID   string
	HTTPClient *http.Client
	Retry      retry.Options
}

// Client talks to the identity provider. Safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
	retry    retry.Options

	mu           sync.Mutex
	refreshToken string
}

// SignInResult is the provider's answer to a successful credential check.
type SignInResult struct {
	UserID string
	Token  string
}

// New constructs a client. A device identifier is generated when none is
// supplied; the provider uses it to bind refresh grants to this install.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		deviceID: cfg.DeviceID,
		http:     cfg.HTTPClient,
		retry:    cfg.Retry,
	}
	if c.deviceID == "" {
		c.deviceID = uuid.NewString()
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// DeviceID returns the device identifier sent with every call.
func (c *Client) DeviceID() string { return c.deviceID }

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
}

type signInResponse struct {
	UserID       string `json:"userId"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

// SignIn exchanges credentials for a token. The password never appears in
// logs or error records produced here.
func (c *Client) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	out, err := retry.Do(ctx, "identity.sign_in", func(ctx context.Context) (signInResponse, error) {
		var resp signInResponse
		err := c.do(ctx, "sign_in", http.MethodPost, "/v1/accounts:signIn", signInRequest{
			Email:    email,
			Password: password,
			DeviceID: c.deviceID,
		}, &resp)
		return resp, err
	}, c.retry)
	if err != nil {
		return SignInResult{}, err
	}
	c.mu.Lock()
	c.refreshToken = out.RefreshToken
	c.mu.Unlock()
	return SignInResult{UserID: out.UserID, Token: out.IDToken}, nil
}

// SignOut revokes this device's refresh grant. Best-effort on the caller's
// side; the local session is cleared regardless.
func (c *Client) SignOut(ctx context.Context) error {
	_, err := retry.Do(ctx, "identity.sign_out", func(ctx context.Context) (struct{}, error) {
		err := c.do(ctx, "sign_out", http.MethodPost, "/v1/accounts:signOut", map[string]string{
			"deviceId": c.deviceID,
		}, nil)
		return struct{}{}, err
	}, c.retry)
	c.mu.Lock()
	c.refreshToken = ""
	c.mu.Unlock()
	return err
}

type freshTokenRequest struct {
	DeviceID     string `json:"deviceId"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Force        bool   `json:"force"`
}

type freshTokenResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

// FreshToken asks the provider for a current token. The refresh grant from
// sign-in is sent when held; otherwise the provider resolves the grant
// from the device binding. Retry here is the caller's concern: the token
// manager already wraps this call in the retry policy.
func (c *Client) FreshToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	grant := c.refreshToken
	c.mu.Unlock()

	var resp freshTokenResponse
	err := c.do(ctx, "fresh_token", http.MethodPost, "/v1/token", freshTokenRequest{
		DeviceID:     c.deviceID,
		RefreshToken: grant,
		Force:        force,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.RefreshToken != "" {
		c.mu.Lock()
		c.refreshToken = resp.RefreshToken
		c.mu.Unlock()
	}
	return resp.IDToken, nil
}

// DecodeClaims decodes the claims of a provider-issued token.
func (c *Client) DecodeClaims(raw string) (*token.Claims, error) {
	return token.Decode(raw)
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("identity: encode %s: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("identity: build %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Device-Id", c.deviceID)
	req.Header.Set("X-Request-Id", ids.Request())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		obs.ObserveProviderRequest("identity", op, 0, time.Since(start))
		return apperr.Classify(err)
	}
	defer resp.Body.Close()
	obs.ObserveProviderRequest("identity", op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&eb)
		return apperr.FromHTTP(resp.StatusCode, eb.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Classify(fmt.Errorf("identity: decode %s response: %w", op, err))
	}
	return nil
}
