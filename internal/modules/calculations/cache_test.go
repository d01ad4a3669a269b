package calculations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_RoundTrip(t *testing.T) {
	cache := NewCache()

	stored := [][]float64{{0.04, 0.01}, {0.01, 0.03}}
	require.NoError(t, cache.Set("covariance", "abc", stored, time.Minute))
	assert.Equal(t, 1, cache.Len())

	var loaded [][]float64
	require.True(t, cache.Get("covariance", "abc", &loaded))
	assert.Equal(t, stored, loaded)
}

func TestCache_MissAndExpiry(t *testing.T) {
	cache := NewCache()

	var out [][]float64
	assert.False(t, cache.Get("covariance", "missing", &out))

	require.NoError(t, cache.Set("covariance", "stale", [][]float64{{1}}, -time.Second))
	assert.False(t, cache.Get("covariance", "stale", &out), "expired entries must miss")
}

func TestCache_NamespacesAreIsolated(t *testing.T) {
	cache := NewCache()
	require.NoError(t, cache.Set("covariance", "key", []float64{1, 2}, time.Minute))

	var out []float64
	assert.False(t, cache.Get("other", "key", &out))
}

func TestHashAssets_OrderIndependent(t *testing.T) {
	a := HashAssets([]string{"equity_us", "bond_gov", "equity_eu"})
	b := HashAssets([]string{"bond_gov", "equity_eu", "equity_us"})
	assert.Equal(t, a, b, "asset order must not change the hash")

	c := HashAssets([]string{"equity_us", "bond_gov"})
	assert.NotEqual(t, a, c)
}
