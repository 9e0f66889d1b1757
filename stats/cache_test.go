package stats

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/inkwell/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_MemoizesUntilInvalidated(t *testing.T) {
	repo := newTestRepository(t)
	put(t, repo, 1, 0, "small", "abcd", 4)

	agg, err := NewAggregator(repo)
	require.NoError(t, err)
	cache := NewCache(agg, nil, nil)
	defer cache.Close()
	ctx := context.Background()

	first, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalEmbeddings)

	put(t, repo, 2, 0, "small", "efgh", 4)
	second, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second, "cached value should be reused")

	cache.Invalidate()
	third, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, third.TotalEmbeddings)
}

func TestCache_InvalidatedByBus(t *testing.T) {
	repo := newTestRepository(t)
	put(t, repo, 1, 0, "small", "abcd", 4)

	agg, err := NewAggregator(repo)
	require.NoError(t, err)

	bus := events.NewBus()
	defer bus.Close()
	cache := NewCache(agg, bus, nil)
	defer cache.Close()
	ctx := context.Background()

	stats, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalEmbeddings)

	put(t, repo, 2, 0, "small", "efgh", 4)
	bus.Publish(events.Event{Kind: events.DocumentReembedded, DocumentID: 2, Model: "small", Chunks: 1})

	assert.Eventually(t, func() bool {
		stats, err := cache.Get(ctx)
		return err == nil && stats.TotalEmbeddings == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCache_CloseIsSafeAfterBusClose(t *testing.T) {
	agg, err := NewAggregator(newTestRepository(t))
	require.NoError(t, err)

	bus := events.NewBus()
	cache := NewCache(agg, bus, nil)
	bus.Close()

	done := make(chan struct{})
	go func() {
		cache.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked")
	}
}
