package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEmbeddingRepository(t *testing.T) *EmbeddingRepository {
	t.Helper()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return NewEmbeddingRepository(backend)
}

func testEmbedding(docID core.ID, chunk int, model string, vector ...float32) *core.DocumentEmbedding {
	return &core.DocumentEmbedding{
		Id:         fmt.Sprintf("emb-%d-%d-%s", docID, chunk, model),
		DocumentId: docID,
		ChunkIndex: chunk,
		Text:       fmt.Sprintf("chunk %d", chunk),
		Start:      chunk * 7,
		End:        chunk*7 + 10,
		Vector:     vector,
		Model:      model,
		CreatedAt:  time.Date(2025, 1, 2, 3, 4, 5, 6000, time.UTC),
		Metadata:   map[string]string{core.MetaChecksum: "sum"},
	}
}

func collectAll(t *testing.T, repo storage.EmbeddingRepository) []*core.DocumentEmbedding {
	t.Helper()
	var out []*core.DocumentEmbedding
	for emb, err := range repo.All(context.Background()) {
		require.NoError(t, err)
		out = append(out, emb)
	}
	return out
}

func TestPut_RoundTrip(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	emb := testEmbedding(1, 0, "m", 0.5, -0.5, 1)
	require.NoError(t, repo.Put(ctx, emb))

	got, err := repo.GetForDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, emb, got[0])

	dim, err := repo.ModelDimension(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
}

func TestPut_ReplacesByID(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	emb := testEmbedding(1, 0, "m", 1, 0)
	require.NoError(t, repo.Put(ctx, emb))

	moved := *emb
	moved.DocumentId = 2
	moved.Vector = []float32{0, 1}
	require.NoError(t, repo.Put(ctx, &moved))

	all := collectAll(t, repo)
	require.Len(t, all, 1)
	assert.Equal(t, core.ID(2), all[0].DocumentId)

	old, err := repo.GetForDocument(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestPut_DimensionMismatch(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testEmbedding(1, 0, "m", 1, 2, 3)))

	err := repo.Put(ctx, testEmbedding(1, 1, "m", 1, 2))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	// Other models keep their own dimension
	require.NoError(t, repo.Put(ctx, testEmbedding(1, 1, "other", 1, 2)))
}

func TestPut_Invalid(t *testing.T) {
	repo := newTestEmbeddingRepository(t)

	err := repo.Put(context.Background(), &core.DocumentEmbedding{Id: "x", Model: "m"})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestGetForDocument_OrderedByChunkIndex(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	for _, chunk := range []int{3, 0, 11, 2, 1} {
		require.NoError(t, repo.Put(ctx, testEmbedding(5, chunk, "m", 1)))
	}
	require.NoError(t, repo.Put(ctx, testEmbedding(6, 0, "m", 1)))

	got, err := repo.GetForDocument(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, want := range []int{0, 1, 2, 3, 11} {
		assert.Equal(t, want, got[i].ChunkIndex)
	}
}

func TestReplaceForDocument(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	for chunk := range 4 {
		require.NoError(t, repo.Put(ctx, testEmbedding(1, chunk, "m", 1, 0)))
	}
	require.NoError(t, repo.Put(ctx, testEmbedding(2, 0, "m", 0, 1)))

	fresh := []*core.DocumentEmbedding{
		{Id: "new-0", DocumentId: 1, ChunkIndex: 0, Model: "m", Vector: []float32{0.6, 0.8}},
		{Id: "new-1", DocumentId: 1, ChunkIndex: 1, Model: "m", Vector: []float32{0.8, 0.6}},
	}
	require.NoError(t, repo.ReplaceForDocument(ctx, 1, fresh))

	got, err := repo.GetForDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new-0", got[0].Id)
	assert.Equal(t, "new-1", got[1].Id)

	// Other documents are untouched
	other, err := repo.GetForDocument(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, other, 1)
	assert.Len(t, collectAll(t, repo), 3)
}

func TestReplaceForDocument_IsAtomic(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testEmbedding(1, 0, "m", 1, 0)))

	// Second vector has the wrong dimension; nothing may change.
	bad := []*core.DocumentEmbedding{
		{Id: "a", DocumentId: 1, ChunkIndex: 0, Model: "m", Vector: []float32{1, 0}},
		{Id: "b", DocumentId: 1, ChunkIndex: 1, Model: "m", Vector: []float32{1, 0, 0}},
	}
	err := repo.ReplaceForDocument(ctx, 1, bad)
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	got, err := repo.GetForDocument(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "emb-1-0-m", got[0].Id)
}

func TestReplaceForDocument_WrongDocument(t *testing.T) {
	repo := newTestEmbeddingRepository(t)

	err := repo.ReplaceForDocument(context.Background(), 1, []*core.DocumentEmbedding{testEmbedding(2, 0, "m", 1)})
	assert.ErrorIs(t, err, storage.ErrDocumentMismatch)
}

func TestReplaceForDocument_EmptySetClears(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testEmbedding(1, 0, "m", 1)))
	require.NoError(t, repo.ReplaceForDocument(ctx, 1, nil))

	got, err := repo.GetForDocument(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplaceForDocument_ConcurrentReadersNeverSeeMixedState(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	generation := func(gen int) []*core.DocumentEmbedding {
		embs := make([]*core.DocumentEmbedding, 5)
		for i := range embs {
			embs[i] = &core.DocumentEmbedding{
				Id:         fmt.Sprintf("g%d-%d", gen, i),
				DocumentId: 1,
				ChunkIndex: i,
				Model:      "m",
				Vector:     []float32{1},
				Metadata:   map[string]string{"gen": fmt.Sprint(gen)},
			}
		}
		return embs
	}
	require.NoError(t, repo.ReplaceForDocument(ctx, 1, generation(0)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 1; gen <= 20; gen++ {
			assert.NoError(t, repo.ReplaceForDocument(ctx, 1, generation(gen)))
		}
	}()

	for range 50 {
		got, err := repo.GetForDocument(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 5)
		gens := map[string]bool{}
		for _, emb := range got {
			gens[emb.Metadata["gen"]] = true
		}
		assert.Len(t, gens, 1, "mixed generations visible")
	}
	wg.Wait()
}

func TestDeleteForDocument_Idempotent(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.DeleteForDocument(ctx, 1))

	require.NoError(t, repo.Put(ctx, testEmbedding(1, 0, "m", 1)))
	require.NoError(t, repo.Put(ctx, testEmbedding(1, 1, "m", 1)))
	require.NoError(t, repo.DeleteForDocument(ctx, 1))
	require.NoError(t, repo.DeleteForDocument(ctx, 1))

	got, err := repo.GetForDocument(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, collectAll(t, repo))
}

func TestAll_RestartableAndEarlyStop(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	ctx := context.Background()

	for doc := core.ID(1); doc <= 3; doc++ {
		for chunk := range 2 {
			require.NoError(t, repo.Put(ctx, testEmbedding(doc, chunk, "m", 1)))
		}
	}

	assert.Len(t, collectAll(t, repo), 6)
	assert.Len(t, collectAll(t, repo), 6)

	seen := 0
	for _, err := range repo.All(ctx) {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestAll_CancelledContext(t *testing.T) {
	repo := newTestEmbeddingRepository(t)
	require.NoError(t, repo.Put(context.Background(), testEmbedding(1, 0, "m", 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range repo.All(ctx) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestAll_ClosedBackend(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	repo := NewEmbeddingRepository(backend)
	require.NoError(t, backend.Close())

	var gotErr error
	for _, err := range repo.All(context.Background()) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, storage.ErrStorageClosed)
}

func TestModelDimension_Unknown(t *testing.T) {
	repo := newTestEmbeddingRepository(t)

	dim, err := repo.ModelDimension(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, dim)
}
