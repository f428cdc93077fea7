// Package tokenstore persists hashed client tokens. Backends: in-memory,
// Redis, bbolt and PostgreSQL; all satisfy Store.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studiodesk/studiodesk/internal/app/domain/activation"
	"github.com/studiodesk/studiodesk/internal/app/storage"
)

// Store keeps activation and login tokens keyed by their hash.
type Store interface {
	Put(ctx context.Context, tok activation.Token) error
	Get(ctx context.Context, hash string) (activation.Token, error)
	// MarkUsed claims the token for a single use. A token that is already
	// used yields storage.ErrConflict.
	MarkUsed(ctx context.Context, hash string) error
	Delete(ctx context.Context, hash string) error
	// DeleteByClient removes every token of the client and returns the count.
	DeleteByClient(ctx context.Context, clientID string) (int, error)
	// PurgeExpired removes tokens that expired at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// ErrExpired is returned by backends that cannot hold a token past its expiry.
var ErrExpired = errors.New("token already expired")

func alreadyUsed(hash string) error {
	return fmt.Errorf("token %s already used: %w", short(hash), storage.ErrConflict)
}

func notFound(hash string) error {
	return fmt.Errorf("token %s: %w", short(hash), storage.ErrNotFound)
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
