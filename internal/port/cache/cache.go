// Package cache defines the port interface for caching model responses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key derives a fixed-length cache key from a namespace and its parts.
// Parts are length-prefixed so that ("ab","c") and ("a","bc") differ.
// The result only uses characters valid in NATS KV keys.
func Key(namespace string, parts ...string) string {
	h := sha256.New()
	var size [8]byte
	for _, p := range parts {
		n := uint64(len(p))
		for i := range size {
			size[i] = byte(n >> (8 * i))
		}
		h.Write(size[:])
		h.Write([]byte(p))
	}
	return namespace + "." + hex.EncodeToString(h.Sum(nil))
}
