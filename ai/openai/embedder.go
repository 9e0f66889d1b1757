package openai

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/poiesic/inkwell/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
// A langchaingo client is created lazily for each model requested.
type Embedder struct {
	config     *ai.Config
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[string]embeddings.Embedder
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Embedder{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     slog.Default().With("component", "openai-embedder"),
		clients:    make(map[string]embeddings.Embedder),
	}

	// Fail fast on a bad host or default model
	if _, err := e.clientFor(config.EmbeddingModel); err != nil {
		return nil, err
	}
	return e, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, model, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "model", model, "length", len(text))

	vectors, err := e.EmbedTexts(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}

	if len(vectors) == 0 {
		e.logger.Warn("embedder returned empty result", "model", model)
		return []float32{}, nil
	}

	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, model string, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "model", model, "count", len(texts))

	client, err := e.clientFor(model)
	if err != nil {
		return nil, err
	}

	vectors, err := client.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "model", model, "count", len(texts), "err", err)
		return nil, err
	}

	return vectors, nil
}

func (e *Embedder) clientFor(model string) (embeddings.Embedder, error) {
	if model == "" {
		model = e.config.EmbeddingModel
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if client, ok := e.clients[model]; ok {
		return client, nil
	}

	token := e.config.APIKey
	if token == "" {
		// Local OpenAI-compatible services don't require authentication
		token = "none"
	}
	llm, err := openai.New(
		openai.WithBaseURL(e.config.EmbeddingHost),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
		openai.WithHTTPClient(e.httpClient),
	)
	if err != nil {
		return nil, err
	}

	client, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	e.clients[model] = client
	return client, nil
}
