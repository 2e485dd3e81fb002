// Package app wires the session core together: the state store, the token
// lifecycle manager, the activity tracker, and the provider clients.
package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"crewdesk.app/internal/activity"
	"crewdesk.app/internal/apperr"
	"crewdesk.app/internal/audit"
	"crewdesk.app/internal/identity"
	"crewdesk.app/internal/obs"
	"crewdesk.app/internal/session"
	"crewdesk.app/internal/token"
)

// IdentityProvider issues and refreshes identity tokens.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (identity.SignInResult, error)
	SignOut(ctx context.Context) error
	FreshToken(ctx context.Context, force bool) (string, error)
}

// ProfileStore reads non-authentication user attributes.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*session.ProfileFields, error)
}

// SessionPersistence carries the session across client restarts.
type SessionPersistence interface {
	Save(ctx context.Context, token string) error
	Load(ctx context.Context) (string, error)
	Logout(ctx context.Context) error
}

// Core owns the authentication session lifecycle.
type Core struct {
	store    *session.Store
	idp      IdentityProvider
	profiles ProfileStore
	persist  SessionPersistence
	manager  *token.Manager
	tracker  *activity.Tracker
	now      func() time.Time

	bootOnce  sync.Once
	restoring atomic.Bool
}

type coreConfig struct {
	now         func() time.Time
	managerOpts []token.Option
	trackerOpts []activity.Option
}

// Option configures the Core.
type Option func(*coreConfig)

// WithClock overrides the Core's time source (useful for tests). The token
// manager and tracker keep their own clocks; see WithManagerOptions and
// WithTrackerOptions.
func WithClock(fn func() time.Time) Option {
	return func(c *coreConfig) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithManagerOptions forwards options to the token manager.
func WithManagerOptions(opts ...token.Option) Option {
	return func(c *coreConfig) { c.managerOpts = append(c.managerOpts, opts...) }
}

// WithTrackerOptions forwards options to the activity tracker.
func WithTrackerOptions(opts ...activity.Option) Option {
	return func(c *coreConfig) { c.trackerOpts = append(c.trackerOpts, opts...) }
}

// NewCore constructs the session core around the three provider clients.
func NewCore(idp IdentityProvider, profiles ProfileStore, persist SessionPersistence, opts ...Option) *Core {
	cfg := coreConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Core{
		store:    session.NewStore(),
		idp:      idp,
		profiles: profiles,
		persist:  persist,
		now:      cfg.now,
	}
	managerOpts := append([]token.Option{
		token.WithTokenSink(c.sinkToken),
		token.WithLogoutHook(c.forcedLogout),
	}, cfg.managerOpts...)
	c.manager = token.NewManager(idp, managerOpts...)
	trackerOpts := append([]activity.Option{
		activity.WithRefreshBuffer(c.manager.RefreshBuffer()),
	}, cfg.trackerOpts...)
	c.tracker = activity.NewTracker(c.store, c.manager, trackerOpts...)
	return c
}

// Store exposes the session state store for observation.
func (c *Core) Store() *session.Store { return c.store }

// Manager exposes the token lifecycle manager.
func (c *Core) Manager() *token.Manager { return c.manager }

// Observe forwards an interaction signal to the activity tracker.
func (c *Core) Observe(ctx context.Context, sig activity.Signal) {
	c.tracker.Observe(ctx, sig)
}

// RefreshNow triggers an immediate token refresh.
func (c *Core) RefreshNow(ctx context.Context) (bool, error) {
	return c.manager.RefreshNow(ctx)
}

// Authorized runs a provider call that needs a live token. A 401-class
// failure triggers one forced refresh through the shared in-flight path
// and the call is retried once with the rotated token; a refresh the
// provider rejects outright tears the session down instead. All other
// failures surface classified, unretried.
func (c *Core) Authorized(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}
	rec := apperr.Classify(err)
	if !rec.Unauthorized() {
		return rec
	}
	ok, refreshErr := c.manager.RefreshNow(ctx)
	if !ok {
		if refreshErr != nil {
			return apperr.Classify(refreshErr)
		}
		return rec
	}
	if retryErr := op(ctx); retryErr != nil {
		return apperr.Classify(retryErr)
	}
	return nil
}

// SignIn authenticates with the identity provider and establishes the
// session. On failure the store records a user-facing message and stays
// unauthenticated.
func (c *Core) SignIn(ctx context.Context, email, password string) error {
	c.store.SetLoading(true)
	defer c.store.SetLoading(false)

	res, err := c.idp.SignIn(ctx, email, password)
	if err != nil {
		rec := apperr.Classify(err)
		c.store.SetError(apperr.FriendlyMessage(rec))
		_ = audit.LogEvent(ctx, "auth.sign_in_failed", map[string]any{
			"op":   "core.sign_in",
			"code": string(rec.Code),
		})
		return rec
	}

	claims, decodeErr := token.Decode(res.Token)
	if decodeErr != nil {
		rec := apperr.Classify(decodeErr)
		c.store.SetError(apperr.FriendlyMessage(rec))
		return rec
	}

	c.establish(ctx, res.Token, claims)
	_ = audit.LogEvent(session.ContextWithUser(ctx, claims.Subject, claims.UserRole()),
		"auth.sign_in", map[string]any{"op": "core.sign_in"})
	return nil
}

// SignOut tears the session down: timer cancelled, tracker stopped, local
// state cleared, server-side session and refresh grant revoked
// best-effort.
func (c *Core) SignOut(ctx context.Context) error {
	snap := c.store.Snapshot()
	c.manager.CancelScheduled()
	c.tracker.Stop()
	c.store.Clear()

	if err := c.persist.Logout(ctx); err != nil {
		c.logSwallowed(ctx, "core.sign_out", "clear persisted session", err)
	}
	if err := c.idp.SignOut(ctx); err != nil {
		c.logSwallowed(ctx, "core.sign_out", "revoke refresh grant", err)
	}
	if snap.User != nil {
		ctx = session.ContextWithUser(ctx, snap.User.ID, snap.User.Role)
	}
	_ = audit.LogEvent(ctx, "auth.sign_out", map[string]any{"op": "core.sign_out"})
	return nil
}

// establish adopts a token with its claims: builds the merged user,
// transitions the store, persists the session, and arms the refresh
// timer.
func (c *Core) establish(ctx context.Context, raw string, claims *token.Claims) {
	user := c.buildUser(ctx, claims)
	c.store.SetAuthenticated(user, raw, claims.Expiry())
	if err := c.persist.Save(ctx, raw); err != nil {
		c.logSwallowed(ctx, "core.establish", "persist session", err)
	}
	c.manager.ScheduleRefresh(claims.Expiry())
	c.tracker.Start()
}

// buildUser merges identity-provider fields with the profile store's
// document. Enrichment is best-effort; a failed lookup leaves the profile
// fields empty and is only logged.
func (c *Core) buildUser(ctx context.Context, claims *token.Claims) *session.UserProfile {
	user := &session.UserProfile{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.UserRole(),
	}
	if c.profiles == nil {
		return user
	}
	fields, err := c.profiles.Get(ctx, claims.Subject)
	if err != nil {
		c.logSwallowed(ctx, "core.build_user", "profile enrichment", err)
		return user
	}
	if fields != nil {
		user.ProfileFields = *fields
	}
	return user
}

// sinkToken receives every token the manager refreshes. A live session
// rotates in place; a refresh that ran before the session was established
// (bootstrap with a stale persisted token) establishes it now.
func (c *Core) sinkToken(raw string, claims *token.Claims) {
	ctx := context.Background()
	if c.store.Snapshot().Authenticated {
		c.store.SetToken(raw, claims.Expiry())
		if err := c.persist.Save(ctx, raw); err != nil {
			c.logSwallowed(ctx, "core.sink_token", "persist session", err)
		}
		return
	}
	// Only the bootstrapper may turn an unauthenticated store into a
	// session from here. A refresh that outlives a sign-out lands in this
	// branch too and must be dropped, not adopted.
	if !c.restoring.Load() {
		return
	}
	c.establish(ctx, raw, claims)
}

// forcedLogout runs when the provider rejects a refresh outright. No error
// surfaces to the user beyond the cleared session; the visible recovery is
// signing in again.
func (c *Core) forcedLogout() {
	c.tracker.Stop()
	c.store.Clear()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.persist.Logout(ctx); err != nil {
		c.logSwallowed(ctx, "core.forced_logout", "clear persisted session", err)
	}
	_ = audit.LogEvent(ctx, "auth.forced_logout", map[string]any{"op": "core.forced_logout"})
}

func (c *Core) logSwallowed(_ context.Context, op, what string, err error) {
	rec := apperr.Classify(err)
	obs.LogOp(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "warn",
		"msg":   what + " failed",
		"op":    op,
		"code":  string(rec.Code),
	})
}
