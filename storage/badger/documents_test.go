package badger

import (
	"context"
	"testing"

	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDocumentRepository(t *testing.T) *DocumentRepository {
	t.Helper()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	repo, err := NewDocumentRepository(backend)
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})
	return repo
}

func TestCreateDocument(t *testing.T) {
	repo := newTestDocumentRepository(t)
	ctx := context.Background()

	doc, err := repo.CreateDocument(ctx, &core.Document{
		ProjectId: 1,
		Title:     "Chapter 1",
		Content:   "Call me Ishmael.",
	})
	require.NoError(t, err)

	assert.NotZero(t, doc.Id)
	assert.NotZero(t, doc.Version)
	assert.Equal(t, core.Checksum("Call me Ishmael."), doc.Checksum)
	assert.False(t, doc.InsertedAt.IsZero())
	assert.Equal(t, doc.InsertedAt, doc.UpdatedAt)

	fetched, err := repo.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.Equal(t, doc.Title, fetched.Title)
	assert.Equal(t, doc.Checksum, fetched.Checksum)
	assert.Equal(t, doc.Version, fetched.Version)
}

func TestCreateDocument_Invalid(t *testing.T) {
	repo := newTestDocumentRepository(t)

	_, err := repo.CreateDocument(context.Background(), &core.Document{Content: "no title"})
	assert.ErrorIs(t, err, core.ErrInvalidDocument)
}

func TestCreateDocument_UniqueIDs(t *testing.T) {
	repo := newTestDocumentRepository(t)
	ctx := context.Background()

	seen := map[core.ID]bool{}
	for range 10 {
		doc, err := repo.CreateDocument(ctx, &core.Document{Title: "t"})
		require.NoError(t, err)
		assert.False(t, seen[doc.Id], "duplicate id %d", doc.Id)
		seen[doc.Id] = true
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	repo := newTestDocumentRepository(t)

	_, err := repo.GetDocument(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateDocument_ChecksumAndVersionMoveTogether(t *testing.T) {
	repo := newTestDocumentRepository(t)
	ctx := context.Background()

	doc, err := repo.CreateDocument(ctx, &core.Document{Title: "Draft", Content: "first"})
	require.NoError(t, err)
	firstVersion, firstChecksum := doc.Version, doc.Checksum

	edited := *doc
	edited.Content = "second"
	updated, err := repo.UpdateDocument(ctx, &edited)
	require.NoError(t, err)

	assert.Greater(t, updated.Version, firstVersion)
	assert.NotEqual(t, firstChecksum, updated.Checksum)
	assert.Equal(t, core.Checksum("second"), updated.Checksum)
	assert.Equal(t, doc.InsertedAt, updated.InsertedAt)

	// A title-only change bumps the version but keeps the checksum.
	retitled := *updated
	retitled.Title = "Final"
	again, err := repo.UpdateDocument(ctx, &retitled)
	require.NoError(t, err)
	assert.Greater(t, again.Version, updated.Version)
	assert.Equal(t, updated.Checksum, again.Checksum)
}

func TestUpdateDocument_NotFound(t *testing.T) {
	repo := newTestDocumentRepository(t)

	_, err := repo.UpdateDocument(context.Background(), &core.Document{Id: 77, Title: "ghost"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSoftDeleteDocument(t *testing.T) {
	repo := newTestDocumentRepository(t)
	ctx := context.Background()

	doc, err := repo.CreateDocument(ctx, &core.Document{Title: "Doomed", Source: "/tmp/doomed.md"})
	require.NoError(t, err)

	require.NoError(t, repo.SoftDeleteDocument(ctx, doc.Id))
	// Idempotent
	require.NoError(t, repo.SoftDeleteDocument(ctx, doc.Id))

	fetched, err := repo.GetDocument(ctx, doc.Id)
	require.NoError(t, err)
	assert.True(t, fetched.Deleted)
	assert.False(t, fetched.Active())

	_, err = repo.GetDocumentBySource(ctx, "/tmp/doomed.md")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	fetched.Content = "resurrected"
	_, err = repo.UpdateDocument(ctx, fetched)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, repo.SoftDeleteDocument(ctx, 4242), storage.ErrNotFound)
}

func TestGetDocumentBySource(t *testing.T) {
	repo := newTestDocumentRepository(t)
	ctx := context.Background()

	doc, err := repo.CreateDocument(ctx, &core.Document{Title: "notes", Source: "/notes/a.md", Content: "a"})
	require.NoError(t, err)

	found, err := repo.GetDocumentBySource(ctx, "/notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, doc.Id, found.Id)

	// Moving the source updates the index
	found.Source = "/notes/b.md"
	_, err = repo.UpdateDocument(ctx, found)
	require.NoError(t, err)

	_, err = repo.GetDocumentBySource(ctx, "/notes/a.md")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	moved, err := repo.GetDocumentBySource(ctx, "/notes/b.md")
	require.NoError(t, err)
	assert.Equal(t, doc.Id, moved.Id)

	_, err = repo.GetDocumentBySource(ctx, "")
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestListDocuments(t *testing.T) {
	repo := newTestDocumentRepository(t)
	ctx := context.Background()

	var ids []core.ID
	for _, title := range []string{"one", "two", "three"} {
		doc, err := repo.CreateDocument(ctx, &core.Document{Title: title})
		require.NoError(t, err)
		ids = append(ids, doc.Id)
	}
	require.NoError(t, repo.SoftDeleteDocument(ctx, ids[1]))

	active, err := repo.ListDocuments(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, ids[0], active[0].Id)
	assert.Equal(t, ids[2], active[1].Id)

	all, err := repo.ListDocuments(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
