package mock

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()

	a, err := m.EmbedText(ctx, "m", "hello")
	require.NoError(t, err)
	b, err := m.EmbedText(ctx, "m", "hello")
	require.NoError(t, err)
	c, err := m.EmbedText(ctx, "m", "goodbye")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, DefaultDimension)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestMockEmbedder_Dimensions(t *testing.T) {
	m := NewMockEmbedder().WithDimension("small", 8)

	vec, err := m.EmbedText(context.Background(), "small", "x")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	vec, err = m.EmbedText(context.Background(), "other", "x")
	require.NoError(t, err)
	assert.Len(t, vec, DefaultDimension)
}

func TestMockEmbedder_InjectedFunc(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, model, text string) ([]float32, error) {
		if text == "bad" {
			return nil, boom
		}
		return []float32{1, 2}, nil
	})

	vecs, err := m.EmbedTexts(context.Background(), "m", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {1, 2}}, vecs)

	_, err = m.EmbedTexts(context.Background(), "m", []string{"a", "bad"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b", "a", "bad"}, m.Texts())
}

func TestMockEmbedder_ConcurrentCalls(t *testing.T) {
	m := NewMockEmbedder()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.EmbedText(context.Background(), "m", "x")
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, m.CallCount())
	m.Reset()
	assert.Zero(t, m.CallCount())
	assert.Empty(t, m.Texts())
}

func TestMockEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockEmbedder().EmbedText(ctx, "m", "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	mp := p.(*MockProvider)

	assert.Same(t, mp.GetMockEmbedder(), p.Embedder())
	require.NoError(t, p.Close())
	assert.True(t, mp.Closed())
}
