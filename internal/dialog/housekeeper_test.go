package dialog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vovarama1992/amocrm-ai-bridge/internal/logger"
	"github.com/Vovarama1992/amocrm-ai-bridge/internal/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestHousekeeper_RunOnce(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	st, err := store.Open(ctx, store.Options{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "conversations.db"),
		Now:    clk.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	staleClient, err := st.GetOrCreateClient(ctx, "stale", store.ClientInfo{})
	require.NoError(t, err)
	staleConv, err := st.GetOrCreateConversation(ctx, staleClient, nil)
	require.NoError(t, err)

	clk.Advance(6 * 24 * time.Hour)
	freshClient, err := st.GetOrCreateClient(ctx, "fresh", store.ClientInfo{})
	require.NoError(t, err)
	freshConv, err := st.GetOrCreateConversation(ctx, freshClient, nil)
	require.NoError(t, err)

	clk.Advance(2 * 24 * time.Hour)
	hk := NewHousekeeper(st, 7, time.Hour, logger.NewNop())

	n, err := hk.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	conv, err := st.GetConversation(ctx, staleConv)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, conv.Status)

	conv, err = st.GetConversation(ctx, freshConv)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, conv.Status)

	n, err = hk.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHousekeeper_StartStop(t *testing.T) {
	f := newFixture(t)
	hk := NewHousekeeper(f.store, 0, 0, logger.NewNop())

	assert.False(t, hk.IsRunning())
	require.NoError(t, hk.Start())
	require.NoError(t, hk.Start())
	assert.True(t, hk.IsRunning())

	hk.Stop()
	hk.Stop()
	assert.False(t, hk.IsRunning())
}
