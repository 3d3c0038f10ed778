package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGetSetAndHitRate(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.Register("mpesa", time.Minute))

	_, ok := m.Get("mpesa", "balance:254700000001")
	assert.False(t, ok)

	require.NoError(t, m.Set("mpesa", "balance:254700000001", []byte(`{"balance":100}`)))
	data, ok := m.Get("mpesa", "balance:254700000001")
	require.True(t, ok)
	assert.Equal(t, `{"balance":100}`, string(data))

	// one hit, one miss
	assert.InDelta(t, 0.5, m.HitRate("mpesa"), 1e-9)
}

func TestUnknownProvider(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	_, ok := m.Get("ghost", "k")
	assert.False(t, ok)
	assert.Error(t, m.Set("ghost", "k", nil))
	assert.Error(t, m.SetTTL("ghost", time.Minute))
	assert.Zero(t, m.HitRate("ghost"))
}

func TestSetTTLRecreatesCache(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.Register("mtn", time.Minute))
	require.NoError(t, m.Set("mtn", "k", []byte("v")))

	require.NoError(t, m.SetTTL("mtn", 2*time.Minute))

	ttl, ok := m.TTL("mtn")
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, ttl)

	// entries do not survive a TTL change
	_, ok = m.Get("mtn", "k")
	assert.False(t, ok)

	assert.Error(t, m.SetTTL("mtn", 0))
}

func TestRegisterIdempotent(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.Register("mpesa", time.Minute))
	require.NoError(t, m.Set("mpesa", "k", []byte("v")))

	// second register keeps the existing cache
	require.NoError(t, m.Register("mpesa", time.Hour))
	_, ok := m.Get("mpesa", "k")
	assert.True(t, ok)
}

func TestUnregister(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.Register("mpesa", 0))
	m.Unregister("mpesa")
	assert.Error(t, m.Set("mpesa", "k", nil))
}

func TestStats(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.Register("mpesa", time.Minute))
	require.NoError(t, m.Set("mpesa", "k", []byte("v")))
	m.Get("mpesa", "k")

	stats := m.Stats()
	providers := stats["providers"].(map[string]interface{})
	mpesa := providers["mpesa"].(map[string]interface{})
	assert.Equal(t, uint64(1), mpesa["hits"])
	assert.Equal(t, 1, mpesa["entries"])
}
