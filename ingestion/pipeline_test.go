package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/inkwell/ai/mock"
	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/events"
	"github.com/poiesic/inkwell/reembed"
	"github.com/poiesic/inkwell/storage"
	"github.com/poiesic/inkwell/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "test-embed"

type testEnv struct {
	documents   storage.DocumentRepository
	embeddings  storage.EmbeddingRepository
	coordinator *reembed.Coordinator
	config      *reembed.Config
	embedder    *mock.MockEmbedder
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	docs, embs, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		embs.Close()
		docs.Close()
		backend.Close()
	})

	config := reembed.DefaultConfig()
	config.Model = testModel
	config.RetryDelay = time.Millisecond
	config.ChunkSize = 32
	config.ChunkOverlap = 8

	embedder := mock.NewMockEmbedder().WithDimension(testModel, 16)
	coordinator, err := reembed.NewCoordinator(docs, embs, mock.NewMockProviderWithEmbedder(embedder), config)
	require.NoError(t, err)

	return &testEnv{
		documents:   docs,
		embeddings:  embs,
		coordinator: coordinator,
		config:      config,
		embedder:    embedder,
	}
}

func (e *testEnv) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(e.documents, e.embeddings, e.coordinator, e.config, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func TestNewPipeline(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name    string
		build   func() (*Pipeline, error)
		wantErr error
	}{
		{
			name: "nil document repository",
			build: func() (*Pipeline, error) {
				return NewPipeline(nil, env.embeddings, env.coordinator, env.config)
			},
			wantErr: ErrDocumentRepositoryRequired,
		},
		{
			name: "nil embedding repository",
			build: func() (*Pipeline, error) {
				return NewPipeline(env.documents, nil, env.coordinator, env.config)
			},
			wantErr: ErrEmbeddingRepositoryRequired,
		},
		{
			name: "nil coordinator",
			build: func() (*Pipeline, error) {
				return NewPipeline(env.documents, env.embeddings, nil, env.config)
			},
			wantErr: ErrCoordinatorRequired,
		},
		{
			name: "config without model",
			build: func() (*Pipeline, error) {
				return NewPipeline(env.documents, env.embeddings, env.coordinator, reembed.DefaultConfig())
			},
			wantErr: core.ErrEmptyModel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.build()
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, p)
		})
	}

	p, err := NewPipeline(env.documents, env.embeddings, env.coordinator, env.config, WithPoolSize(2), WithLogger(nil))
	require.NoError(t, err)
	defer p.Release()
	assert.Equal(t, 2, p.embeddingPool.Cap())
}

func TestPipeline_AddDocument(t *testing.T) {
	env := setupTestEnv(t)
	p := env.pipeline(t)
	ctx := context.Background()

	doc, err := p.AddDocument(ctx, &core.Document{
		Title:   "Prologue",
		Content: "The lighthouse keeper counted ships until the fog rolled in from the east.",
	})
	require.NoError(t, err)
	require.NotZero(t, doc.Id)

	p.Wait()

	stored, err := env.embeddings.GetForDocument(ctx, doc.Id)
	require.NoError(t, err)
	require.Greater(t, len(stored), 1)
	for _, emb := range stored {
		assert.Equal(t, doc.Checksum, emb.Checksum())
		assert.Len(t, emb.Vector, 16)
	}
}

func TestPipeline_AddDocument_Invalid(t *testing.T) {
	env := setupTestEnv(t)
	p := env.pipeline(t)

	_, err := p.AddDocument(context.Background(), &core.Document{Content: "no title"})
	assert.ErrorIs(t, err, core.ErrEmptyTitle)
	p.Wait()
	assert.Zero(t, env.embedder.CallCount())
}

func TestPipeline_UpdateDocument(t *testing.T) {
	env := setupTestEnv(t)
	p := env.pipeline(t)
	ctx := context.Background()

	doc, err := p.AddDocument(ctx, &core.Document{Title: "Draft", Content: "First version of the opening."})
	require.NoError(t, err)
	p.Wait()

	// Title changes keep the content checksum, so nothing is re-embedded
	calls := env.embedder.CallCount()
	doc.Title = "Draft 2"
	doc, err = p.UpdateDocument(ctx, doc)
	require.NoError(t, err)
	p.Wait()
	assert.Equal(t, calls, env.embedder.CallCount())

	doc.Content = "Second version of the opening, somewhat longer."
	doc, err = p.UpdateDocument(ctx, doc)
	require.NoError(t, err)
	p.Wait()

	stored, err := env.embeddings.GetForDocument(ctx, doc.Id)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	for _, emb := range stored {
		assert.Equal(t, doc.Checksum, emb.Checksum())
	}
}

func TestPipeline_DeleteDocument(t *testing.T) {
	env := setupTestEnv(t)
	bus := events.NewBus()
	defer bus.Close()
	ch, unsubscribe := bus.Subscribe(16)
	defer unsubscribe()

	p := env.pipeline(t, WithBus(bus))
	ctx := context.Background()

	doc, err := p.AddDocument(ctx, &core.Document{Title: "Gone", Content: "Soon to be deleted."})
	require.NoError(t, err)
	p.Wait()

	require.NoError(t, p.DeleteDocument(ctx, doc.Id))

	stored, err := env.embeddings.GetForDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Empty(t, stored)

	got, err := env.documents.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	ev := <-ch
	assert.Equal(t, events.DocumentChanged, ev.Kind)
	ev = <-ch
	assert.Equal(t, events.DocumentEmbeddingsRemoved, ev.Kind)
	assert.Equal(t, doc.Id, ev.DocumentID)

	assert.ErrorIs(t, p.DeleteDocument(ctx, 999), storage.ErrNotFound)
}

func TestPipeline_DeleteDuringEmbedding(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, model, text string) ([]float32, error) {
		once.Do(func() { close(started) })
		<-release
		return mock.GenerateVector(text, 16), nil
	})
	coordinator, err := reembed.NewCoordinator(env.documents, env.embeddings, mock.NewMockProviderWithEmbedder(embedder), env.config)
	require.NoError(t, err)
	p, err := NewPipeline(env.documents, env.embeddings, coordinator, env.config)
	require.NoError(t, err)
	t.Cleanup(p.Release)

	doc, err := p.AddDocument(ctx, &core.Document{Title: "Draft", Content: "Written and then thrown away."})
	require.NoError(t, err)
	<-started

	deleted := make(chan error, 1)
	go func() {
		deleted <- p.DeleteDocument(ctx, doc.Id)
	}()
	time.Sleep(10 * time.Millisecond)
	close(release)

	require.NoError(t, <-deleted)
	p.Wait()

	stored, err := env.embeddings.GetForDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Empty(t, stored)

	got, err := env.documents.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestPipeline_IngestFile(t *testing.T) {
	env := setupTestEnv(t)
	p := env.pipeline(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "chapter-one.md")
	require.NoError(t, os.WriteFile(path, []byte("It began, as these things do, with a letter."), 0o644))

	doc, err := p.IngestFile(ctx, path, 7)
	require.NoError(t, err)
	assert.Equal(t, "chapter-one", doc.Title)
	assert.Equal(t, path, doc.Source)
	assert.Equal(t, core.ID(7), doc.ProjectId)
	p.Wait()

	// Unchanged file keeps the same version
	again, err := p.IngestFile(ctx, path, 7)
	require.NoError(t, err)
	assert.Equal(t, doc.Id, again.Id)
	assert.Equal(t, doc.Version, again.Version)

	require.NoError(t, os.WriteFile(path, []byte("It began with a telegram."), 0o644))
	changed, err := p.IngestFile(ctx, path, 7)
	require.NoError(t, err)
	assert.Equal(t, doc.Id, changed.Id)
	assert.Greater(t, changed.Version, doc.Version)
	p.Wait()

	stored, err := env.embeddings.GetForDocument(ctx, doc.Id)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "It began with a telegram.", stored[0].Text)

	_, err = p.IngestFile(ctx, filepath.Join(t.TempDir(), "missing.md"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPipeline_RemoveFile(t *testing.T) {
	env := setupTestEnv(t)
	p := env.pipeline(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the milk"), 0o644))
	doc, err := p.IngestFile(ctx, path, 0)
	require.NoError(t, err)
	p.Wait()

	require.NoError(t, p.RemoveFile(ctx, path))
	_, err = env.documents.GetDocumentBySource(ctx, path)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	stored, err := env.embeddings.GetForDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Empty(t, stored)

	assert.NoError(t, p.RemoveFile(ctx, path), "removing an unknown file is not an error")
}

func TestPipeline_SubmitAfterRelease(t *testing.T) {
	env := setupTestEnv(t)
	p, err := NewPipeline(env.documents, env.embeddings, env.coordinator, env.config)
	require.NoError(t, err)
	p.Release()

	assert.ErrorIs(t, p.submit(1), ErrPipelineReleased)
	p.Wait()
}
