// Package cache memoizes validated generated code keyed by the question and
// the dataset shape, so a repeated question against an unchanged schema skips
// generation entirely.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL bounds how long a cached program stays valid without being
// re-requested.
const DefaultTTL = 24 * time.Hour

// Fingerprint derives the cache key for a question asked against a dataset
// shape. The query is normalized (trimmed, lowercased, whitespace collapsed)
// so trivial rephrasings of the same question share an entry; the schema
// signature covers column names and types but not row data, so data updates
// reuse cached code while schema changes miss.
func Fingerprint(query, schemaSignature string) string {
	h := sha256.New()
	h.Write([]byte(normalizeQuery(query)))
	h.Write([]byte{0})
	h.Write([]byte(schemaSignature))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// CodeCache stores generated programs that already passed the safety gate.
// Entries expire after the configured TTL.
type CodeCache struct {
	cache *ttlcache.Cache[string, string]
}

// New creates a code cache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *CodeCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
	)
	go cache.Start()

	return &CodeCache{cache: cache}
}

// Lookup returns the cached program for a fingerprint, if present.
func (c *CodeCache) Lookup(fingerprint string) (string, bool) {
	item := c.cache.Get(fingerprint)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Store records a program under a fingerprint. A cache hit skips generation
// only; the safety gate re-checks cached code on every reuse.
func (c *CodeCache) Store(fingerprint, code string) {
	c.cache.Set(fingerprint, code, ttlcache.DefaultTTL)
}

// Invalidate removes one entry, typically after its code failed at runtime.
func (c *CodeCache) Invalidate(fingerprint string) {
	c.cache.Delete(fingerprint)
}

// Len reports the number of live entries.
func (c *CodeCache) Len() int {
	return c.cache.Len()
}

// Close stops the expiration loop.
func (c *CodeCache) Close() {
	c.cache.Stop()
}
