// Package cache provides the byte caches used for LLM narratives and a typed
// in-process memo used by the subsumption index.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives a cache key from its parts. Parts are joined with a NUL byte
// so ("ab", "c") and ("a", "bc") never collide.
func Key(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "policheck:v1:" + hex.EncodeToString(hash[:])
}
