// Package session gates backend user registration so it runs at most
// once per session per user. The gate only suppresses redundant
// registration calls; it is not a mutual-exclusion lock and does not
// serialize messaging.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is how long a session flag lives before a new registration
// is allowed again.
const DefaultTTL = 12 * time.Hour

// Token identifies one client session. It is an explicit value threaded
// through the call chain by the caller; the gate holds no ambient
// session state of its own.
type Token string

// Store persists session flags.
type Store interface {
	// Has reports whether key is currently flagged.
	Has(ctx context.Context, key string) (bool, error)
	// Set flags key for ttl.
	Set(ctx context.Context, key string, ttl time.Duration) error
}

// Registrar is the slice of the backend client the gate needs.
type Registrar interface {
	Register(ctx context.Context, userID string) error
}

// Gate runs backend registration at most once per (session, user).
type Gate struct {
	store     Store
	registrar Registrar
	ttl       time.Duration
	logger    *zap.Logger
}

// Opts holds parameters for creating a Gate.
type Opts struct {
	Store     Store
	Registrar Registrar
	TTL       time.Duration // defaults to DefaultTTL
	Logger    *zap.Logger   // optional
}

// New creates a Gate.
func New(opts Opts) (*Gate, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	if opts.Registrar == nil {
		return nil, fmt.Errorf("session: registrar is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: opts.Store, registrar: opts.Registrar, ttl: ttl, logger: logger}, nil
}

// EnsureInitialized registers userID with the backend unless this
// session already did. The flag is set only after a successful
// registration, so a failed attempt is retried on the next call.
// Two concurrent calls may both register; that is harmless duplication,
// not corruption.
func (g *Gate) EnsureInitialized(ctx context.Context, token Token, userID string) error {
	key := flagKey(token, userID)

	flagged, err := g.store.Has(ctx, key)
	if err != nil {
		return fmt.Errorf("session: check flag: %w", err)
	}
	if flagged {
		return nil
	}

	if err := g.registrar.Register(ctx, userID); err != nil {
		return fmt.Errorf("session: initialize user %s: %w", userID, err)
	}

	if err := g.store.Set(ctx, key, g.ttl); err != nil {
		// Registration succeeded; a lost flag only means one extra
		// registration later.
		g.logger.Warn("session flag not persisted",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return nil
}

func flagKey(token Token, userID string) string {
	return "session:init:" + string(token) + ":" + userID
}
