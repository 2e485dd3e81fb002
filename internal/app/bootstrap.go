package app

import (
	"context"

	"crewdesk.app/internal/apperr"
	"crewdesk.app/internal/audit"
	"crewdesk.app/internal/token"
)

// Bootstrap reconstructs the session from the persisted server-side token.
// It runs at most once per process and never fails the caller: every
// outcome short of a working session simply leaves the client
// unauthenticated.
func (c *Core) Bootstrap(ctx context.Context) {
	c.bootOnce.Do(func() { c.bootstrap(ctx) })
}

func (c *Core) bootstrap(ctx context.Context) {
	if c.store.Snapshot().Authenticated {
		return
	}
	c.store.SetLoading(true)
	defer c.store.SetLoading(false)

	raw, err := c.persist.Load(ctx)
	if err != nil {
		c.logSwallowed(ctx, "core.bootstrap", "load persisted session", err)
		return
	}
	if raw == "" {
		// No persisted session. Not an error.
		return
	}

	claims, decodeErr := token.Decode(raw)
	if decodeErr != nil {
		c.logSwallowed(ctx, "core.bootstrap", "decode persisted token", decodeErr)
		return
	}

	if claims.ExpiredAt(c.now()) {
		// Stale persisted token: never adopt it, ask the provider for a
		// fresh one. Success establishes the session through the token
		// sink; failure leaves the client unauthenticated.
		c.restoring.Store(true)
		defer c.restoring.Store(false)
		if ok, refreshErr := c.manager.RefreshNow(ctx); !ok {
			rec := apperr.Classify(refreshErr)
			c.logSwallowed(ctx, "core.bootstrap", "refresh stale session", rec)
			return
		}
		_ = audit.LogEvent(ctx, "auth.bootstrap_refreshed", map[string]any{"op": "core.bootstrap"})
		return
	}

	c.establish(ctx, raw, claims)
	_ = audit.LogEvent(ctx, "auth.bootstrap", map[string]any{"op": "core.bootstrap"})
}
