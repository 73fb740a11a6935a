// Package cache holds provider responses for a short time so repeated
// browsing of the same tree does not hit the provider API every time.
//
// A cache is advisory: a miss or a backend failure only costs a provider
// call, never correctness.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// DefaultTTL is used when Put is given a non-positive ttl.
const DefaultTTL = 5 * time.Minute

// Operation names used in keys.
const (
	OpDirectory   = "get_directory"
	OpFileContent = "get_file_content"
)

// Cache stores opaque payloads keyed by repository, operation, path and branch.
type Cache interface {
	Get(ctx context.Context, repoID int64, op, path, branch string) ([]byte, bool)
	Put(ctx context.Context, repoID int64, op, path, branch string, payload []byte, ttl time.Duration)
	// Invalidate drops every entry of a repository.
	Invalidate(ctx context.Context, repoID int64)
}

// Key returns the hex SHA-256 of the entry's coordinates.
func Key(repoID int64, op, path, branch string) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(repoID, 10)))
	for _, part := range []string{op, path, branch} {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// Nop never stores anything.
type Nop struct{}

// Compile-time check: Nop implements Cache.
var _ Cache = Nop{}

func (Nop) Get(context.Context, int64, string, string, string) ([]byte, bool) { return nil, false }

func (Nop) Put(context.Context, int64, string, string, string, []byte, time.Duration) {}

func (Nop) Invalidate(context.Context, int64) {}
