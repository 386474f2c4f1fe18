package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIdempotent(t *testing.T) {
	a := Fingerprint("total sales by region", "sig-1")
	b := Fingerprint("total sales by region", "sig-1")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintNormalizesQuery(t *testing.T) {
	a := Fingerprint("  Total   Sales by REGION ", "sig-1")
	b := Fingerprint("total sales by region", "sig-1")
	assert.Equal(t, a, b)
}

func TestFingerprintSchemaChangeMisses(t *testing.T) {
	a := Fingerprint("total sales by region", "sig-1")
	b := Fingerprint("total sales by region", "sig-2")
	assert.NotEqual(t, a, b)
}

func TestFingerprintQuerySchemaBoundary(t *testing.T) {
	// The separator keeps query and signature bytes from bleeding together.
	a := Fingerprint("ab", "c")
	b := Fingerprint("a", "bc")
	assert.NotEqual(t, a, b)
}

func TestCodeCacheRoundTrip(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	fp := Fingerprint("how many rows", "sig-1")
	_, ok := c.Lookup(fp)
	require.False(t, ok)

	c.Store(fp, `result = {"type": "scalar", "value": 5}`)
	code, ok := c.Lookup(fp)
	require.True(t, ok)
	assert.Contains(t, code, "scalar")
	assert.Equal(t, 1, c.Len())
}

func TestCodeCacheInvalidate(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	fp := Fingerprint("how many rows", "sig-1")
	c.Store(fp, "result = {}")
	c.Invalidate(fp)

	_, ok := c.Lookup(fp)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCodeCacheExpiry(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Close()

	fp := Fingerprint("how many rows", "sig-1")
	c.Store(fp, "result = {}")

	assert.Eventually(t, func() bool {
		_, ok := c.Lookup(fp)
		return !ok
	}, time.Second, 10*time.Millisecond)
}
