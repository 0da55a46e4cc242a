package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

// backendContract runs the InnerCache contract against a backend.
func backendContract(t *testing.T, c InnerCache) {
	ctx := context.Background()

	// Absent key reads as not found.
	_, found, err := c.Read(ctx, "redirect", "https://t.co/abc")
	require.NoError(t, err)
	assert.False(t, found)

	// Write then read.
	require.NoError(t, c.Write(ctx, Entry{
		Subject:  "redirect",
		Key:      "https://t.co/abc",
		Value:    str("https://example.com/long"),
		Duration: 250 * time.Millisecond,
	}))

	entry, found, err := c.Read(ctx, "redirect", "https://t.co/abc")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, entry.Value)
	assert.Equal(t, "https://example.com/long", *entry.Value)
	assert.InDelta(t, 0.25, entry.Duration.Seconds(), 0.001)

	// Rewriting the same (subject, key) replaces.
	require.NoError(t, c.Write(ctx, Entry{
		Subject:  "redirect",
		Key:      "https://t.co/abc",
		Value:    str("https://example.com/other"),
		Duration: time.Second,
	}))

	entry, found, err = c.Read(ctx, "redirect", "https://t.co/abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://example.com/other", *entry.Value)

	// Subjects are independent namespaces.
	_, found, err = c.Read(ctx, "scrape", "https://t.co/abc")
	require.NoError(t, err)
	assert.False(t, found)

	// A nil value is stored and read back as nil.
	require.NoError(t, c.Write(ctx, Entry{Subject: "redirect", Key: "dead", Duration: time.Millisecond}))
	entry, found, err = c.Read(ctx, "redirect", "dead")
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, entry.Value)

	// Oversized keys still round-trip (stored hashed).
	long := strings.Repeat("k", maxKeyBytes+100)
	require.NoError(t, c.Write(ctx, Entry{Subject: "redirect", Key: long, Value: str("v"), Duration: time.Millisecond}))
	entry, found, err = c.Read(ctx, "redirect", long)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v", *entry.Value)
}

func TestSQLiteCacheContract(t *testing.T) {
	c := NewSQLiteCache(t.TempDir()+"/cache.sqlite", nil)
	defer c.Close()
	backendContract(t, c)
}

func TestMemoryCacheContract(t *testing.T) {
	c := NewMemoryCache(nil)
	defer c.Close()
	backendContract(t, c)
}

func TestSQLitePersistsAcrossOpens(t *testing.T) {
	path := t.TempDir() + "/cache.sqlite"
	ctx := context.Background()

	c := NewSQLiteCache(path, nil)
	require.NoError(t, c.Write(ctx, Entry{Subject: "s", Key: "k", Value: str("v"), Duration: time.Millisecond}))
	require.NoError(t, c.Close())

	c2 := NewSQLiteCache(path, nil)
	defer c2.Close()
	entry, found, err := c2.Read(ctx, "s", "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v", *entry.Value)
}

func TestRedisCacheContract(t *testing.T) {
	srv := miniredis.RunT(t)

	c, err := NewRedisCache(&RedisConfig{Addr: srv.Addr()}, nil)
	require.NoError(t, err)
	defer c.Close()

	backendContract(t, c)
}

func TestHandlePolicyDisablesReadsAndWrites(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryCache(nil)
	defer inner.Close()

	require.NoError(t, inner.Write(ctx, Entry{Subject: "s", Key: "k", Value: str("v"), Duration: time.Millisecond}))

	noRead := NewHandle(inner, Policy{Read: false, Write: true})
	_, found, err := noRead.Read(ctx, "s", "k")
	require.NoError(t, err)
	assert.False(t, found)

	noWrite := NewHandle(inner, Policy{Read: true, Write: false})
	require.NoError(t, noWrite.Write(ctx, Entry{Subject: "s", Key: "k2", Value: str("x"), Duration: 0}))
	_, found, err = NewHandle(inner, DefaultPolicy()).Read(ctx, "s", "k2")
	require.NoError(t, err)
	assert.False(t, found, "write must not have reached the backend")
}

func TestHandleNilInnerIsDisabled(t *testing.T) {
	h := NewHandle(nil, DefaultPolicy())
	_, found, err := h.Read(context.Background(), "s", "k")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, h.Write(context.Background(), Entry{}))
}

func TestHandleDelaySleepsAboutStoredDuration(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryCache(nil)
	defer inner.Close()

	stored := 200 * time.Millisecond
	require.NoError(t, inner.Write(ctx, Entry{Subject: "s", Key: "k", Value: str("v"), Duration: stored}))

	var slept time.Duration
	h := NewHandle(inner, Policy{Read: true, Write: true, Delay: true})
	h.sleep = func(d time.Duration) { slept = d }

	_, found, err := h.Read(ctx, "s", "k")
	require.NoError(t, err)
	require.True(t, found)

	// Within the documented +/- 12.5% noise band.
	assert.GreaterOrEqual(t, slept, time.Duration(float64(stored)*0.875))
	assert.LessOrEqual(t, slept, time.Duration(float64(stored)*1.125))
}

func TestDelayNoiseStaysInBand(t *testing.T) {
	d := time.Second
	for range 1000 {
		got := delayNoise(d)
		assert.GreaterOrEqual(t, got, time.Duration(float64(d)*0.875))
		assert.LessOrEqual(t, got, time.Duration(float64(d)*1.125))
	}
}
