package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/poiesic/inkwell/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type fakeServer struct {
	mu     sync.Mutex
	models []string
}

func (f *fakeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.models = append(f.models, req.Model)
		f.mu.Unlock()

		if req.Model == "broken" {
			http.Error(w, `{"error":{"message":"model not loaded"}}`, http.StatusInternalServerError)
			return
		}

		type datum struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]datum, len(req.Input))
		for i, text := range req.Input {
			data[i] = datum{Object: "embedding", Embedding: []float32{float32(len(text)), float32(i)}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}
}

func newTestEmbedder(t *testing.T) (*Embedder, *fakeServer) {
	t.Helper()
	fake := &fakeServer{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	e, err := newEmbedder(ai.NewConfig(ai.WithHost(srv.URL), ai.WithEmbeddingModel("default-model")))
	require.NoError(t, err)
	return e, fake
}

func TestEmbedder_EmbedText(t *testing.T) {
	e, fake := newTestEmbedder(t)

	vec, err := e.EmbedText(context.Background(), "small", "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0}, vec)
	assert.Equal(t, []string{"small"}, fake.models)
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	e, _ := newTestEmbedder(t)

	vecs, err := e.EmbedTexts(context.Background(), "", []string{"a", "abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {3, 1}}, vecs)
}

func TestEmbedder_DefaultModel(t *testing.T) {
	e, fake := newTestEmbedder(t)

	_, err := e.EmbedText(context.Background(), "", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"default-model"}, fake.models)
}

func TestEmbedder_ClientPerModel(t *testing.T) {
	e, _ := newTestEmbedder(t)

	a, err := e.clientFor("one")
	require.NoError(t, err)
	b, err := e.clientFor("one")
	require.NoError(t, err)
	c, err := e.clientFor("two")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestEmbedder_ServerError(t *testing.T) {
	e, _ := newTestEmbedder(t)

	_, err := e.EmbedText(context.Background(), "broken", "x")
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		_, err := NewProvider(&ai.Config{})
		assert.Error(t, err)
	})

	t.Run("rate limited", func(t *testing.T) {
		p, err := NewProvider(ai.NewConfig(ai.WithRateLimit(10, 2)))
		require.NoError(t, err)
		defer p.Close()
		assert.IsType(t, &ai.RateLimitedEmbedder{}, p.Embedder())
	})

	t.Run("unlimited", func(t *testing.T) {
		p, err := NewProvider(ai.NewConfig())
		require.NoError(t, err)
		defer p.Close()
		assert.IsType(t, &Embedder{}, p.Embedder())
	})
}
