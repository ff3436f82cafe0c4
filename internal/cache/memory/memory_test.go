package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = c.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestLocks(t *testing.T) {
	ctx := context.Background()
	l := NewLocks()

	unlock, err := l.Acquire(ctx, "m1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "m1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	_, err = l.Acquire(ctx, "m2", time.Minute)
	assert.NoError(t, err)

	unlock()
	unlock()
	_, err = l.Acquire(ctx, "m1", time.Minute)
	assert.NoError(t, err)
}

func TestBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus()

	ch, err := b.Subscribe(ctx, "settlements")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "settlements", []byte("hello")))
	require.NoError(t, b.Publish(ctx, "other", []byte("ignored")))

	select {
	case msg := <-ch:
		assert.Equal(t, []byte("hello"), msg)
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	for range ch {
	}
}
