// Package lock serializes work on shared keys.
//
// The ingestion pipeline takes one lock per episode hash, per entity name and
// per entity pair so that concurrent episodes never resolve the same entity or
// fact independently. Keys are always acquired in sorted order, which rules
// out lock-order deadlocks between callers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/utils"
)

// ErrUnknownBackend is returned by New for an unsupported lock.backend.
var ErrUnknownBackend = errors.New("unknown lock backend")

// Unlock releases the keys held by one Lock call. Calling it more than once
// is safe.
type Unlock func()

// Locker acquires exclusive ownership of a set of keys.
type Locker interface {
	// Lock blocks until every key is held or ctx is done. On failure no key
	// remains held.
	Lock(ctx context.Context, keys ...string) (Unlock, error)
}

// New builds the locker selected by cfg.Backend.
func New(cfg config.LockConfig, logger *slog.Logger) (Locker, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return NewLocalLocker(), nil
	case "redis":
		return NewRedisLockerFromConfig(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

// EpisodeKey locks one episode's content within a partition.
func EpisodeKey(groupID, contentHash string) string {
	return "episode:" + groupID + ":" + contentHash
}

// EntityKey locks one normalized entity name within a partition.
func EntityKey(groupID, name string) string {
	return "entity:" + groupID + ":" + utils.NormalizeStringExact(name)
}

// EdgeKey locks the unordered entity pair a and b within a partition.
func EdgeKey(groupID, a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "edge:" + groupID + ":" + a + ":" + b
}

// sortedKeys returns the distinct keys in acquisition order.
func sortedKeys(keys []string) []string {
	out := utils.UniqueStrings(keys)
	sort.Strings(out)
	return out
}

// once wraps release so repeated calls are no-ops.
func once(release func()) Unlock {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		release()
	}
}
