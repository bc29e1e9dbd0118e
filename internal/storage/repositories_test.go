package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/docscan/internal/config"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:", MaxOpenConns: 1},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(ctx, db, "sqlite"))
	return db
}

func newDocument(userID uuid.UUID, title string) *Document {
	return &Document{
		UserID:           userID,
		Title:            title,
		OriginalFilename: title + ".PDF",
		FilePath:         "originals/" + userID.String() + "/" + title + ".pdf",
		FileSize:         1024,
		MimeType:         "application/pdf",
		FileExtension:    ".PDF",
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mgr := NewMigrationManager(db, "sqlite")
	applied, err := mgr.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	status, err := mgr.Check(ctx)
	require.NoError(t, err)
	assert.True(t, status.UpToDate)
	assert.Equal(t, []string{"0001_init_sqlite.sql"}, status.Applied)
}

func TestDocumentRepository_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	doc := newDocument(userID, "invoice")
	doc.Tags = "tax, ,2024,tax"
	require.NoError(t, repo.Create(ctx, doc))

	assert.NotEqual(t, uuid.Nil, doc.ID)
	assert.Equal(t, "pdf", doc.FileExtension)
	assert.Equal(t, OCRStatusPending, doc.OCRStatus)
	assert.Equal(t, 1, doc.PageCount)

	got, err := repo.GetByID(ctx, userID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, "invoice", got.Title)
	assert.Equal(t, "pdf", got.FileExtension)
	assert.Equal(t, []string{"tax", "2024"}, got.TagList())
	assert.Nil(t, got.OCRText)
	assert.Nil(t, got.FolderID)
	assert.Nil(t, got.LastViewed)
	assert.True(t, got.IsPDF())

	_, err = repo.GetByID(ctx, uuid.New(), doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentRepository_ExtractionLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	doc := newDocument(userID, "scan")
	require.NoError(t, repo.Create(ctx, doc))

	// Only pending can start by default.
	require.NoError(t, repo.BeginExtraction(ctx, doc.ID))
	assert.ErrorIs(t, repo.BeginExtraction(ctx, doc.ID), ErrInvalidTransition)

	require.NoError(t, repo.FailExtraction(ctx, doc.ID, "no text found"))
	got, err := repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OCRStatusFailed, got.OCRStatus)
	require.NotNil(t, got.OCRError)
	assert.Equal(t, "no text found", *got.OCRError)
	assert.Nil(t, got.OCRText)

	// Completing a document that is not processing is rejected.
	assert.ErrorIs(t, repo.CompleteExtraction(ctx, doc.ID, "text", nil), ErrInvalidTransition)

	// Rerun from failed.
	require.NoError(t, repo.BeginExtraction(ctx, doc.ID, OCRStatusFailed, OCRStatusCompleted, OCRStatusPending))
	lang := "en"
	require.NoError(t, repo.CompleteExtraction(ctx, doc.ID, "Hello world", &lang))

	got, err = repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OCRStatusCompleted, got.OCRStatus)
	require.NotNil(t, got.OCRText)
	require.NotNil(t, got.Content)
	assert.Equal(t, "Hello world", *got.OCRText)
	assert.Equal(t, "Hello world", *got.Content)
	assert.Nil(t, got.OCRError)
	require.NotNil(t, got.Language)
	assert.Equal(t, "en", *got.Language)
}

func TestDocumentRepository_CompleteRejectsBlankText(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	doc := newDocument(uuid.New(), "blank")
	require.NoError(t, repo.Create(ctx, doc))
	require.NoError(t, repo.BeginExtraction(ctx, doc.ID))

	assert.ErrorIs(t, repo.CompleteExtraction(ctx, doc.ID, " \n\t ", nil), ErrInvalidTransition)

	got, err := repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, OCRStatusProcessing, got.OCRStatus)
}

func TestDocumentRepository_TransitionOnMissingDocument(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)

	err := repo.FailExtraction(context.Background(), uuid.New(), "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentRepository_FailStale(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	stuck := newDocument(userID, "stuck")
	require.NoError(t, repo.Create(ctx, stuck))
	require.NoError(t, repo.BeginExtraction(ctx, stuck.ID))

	idle := newDocument(userID, "idle")
	require.NoError(t, repo.Create(ctx, idle))

	n, err := repo.FailStale(ctx, time.Now().Add(time.Minute), "interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, OCRStatusFailed, got.OCRStatus)
	require.NotNil(t, got.OCRError)
	assert.Equal(t, "interrupted", *got.OCRError)

	got, err = repo.Get(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, OCRStatusPending, got.OCRStatus)

	// Nothing older than an hour ago remains.
	n, err = repo.FailStale(ctx, time.Now().Add(-time.Hour), "interrupted")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDocumentRepository_ListFilters(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	folders := NewFolderRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	folder := &Folder{UserID: userID, Name: "Receipts"}
	require.NoError(t, folders.Create(ctx, folder))

	a := newDocument(userID, "alpha")
	b := newDocument(userID, "beta")
	c := newDocument(userID, "gamma")
	c.IsFavorite = true
	for _, d := range []*Document{a, b, c} {
		require.NoError(t, repo.Create(ctx, d))
	}
	require.NoError(t, repo.Create(ctx, newDocument(uuid.New(), "other-user")))

	require.NoError(t, repo.MoveToFolder(ctx, userID, a.ID, &folder.ID))
	require.NoError(t, repo.BeginExtraction(ctx, b.ID))
	require.NoError(t, repo.CompleteExtraction(ctx, b.ID, "Quarterly Report", nil))

	docs, total, err := repo.List(ctx, DocumentFilter{UserID: userID, SortBy: "title", Order: "asc"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, docs, 3)
	assert.Equal(t, "alpha", docs[0].Title)
	assert.Equal(t, "gamma", docs[2].Title)

	docs, total, err = repo.List(ctx, DocumentFilter{UserID: userID, FolderID: &folder.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, a.ID, docs[0].ID)

	docs, _, err = repo.List(ctx, DocumentFilter{UserID: userID, Unfiled: true})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, _, err = repo.List(ctx, DocumentFilter{UserID: userID, Search: "quarterly"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, b.ID, docs[0].ID)

	fav := true
	docs, _, err = repo.List(ctx, DocumentFilter{UserID: userID, Favorite: &fav})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, c.ID, docs[0].ID)

	docs, _, err = repo.List(ctx, DocumentFilter{UserID: userID, Status: OCRStatusCompleted})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs, total, err = repo.List(ctx, DocumentFilter{UserID: userID, SortBy: "title", Order: "asc", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "beta", docs[0].Title)

	_, _, err = repo.List(ctx, DocumentFilter{UserID: userID, SortBy: "id; DROP TABLE documents"})
	assert.Error(t, err)
}

func TestDocumentRepository_MoveToForeignFolder(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	folders := NewFolderRepository(db)
	ctx := context.Background()

	owner := uuid.New()
	doc := newDocument(owner, "doc")
	require.NoError(t, repo.Create(ctx, doc))

	foreign := &Folder{UserID: uuid.New(), Name: "Not yours"}
	require.NoError(t, folders.Create(ctx, foreign))

	assert.ErrorIs(t, repo.MoveToFolder(ctx, owner, doc.ID, &foreign.ID), ErrFolderNotFound)
}

func TestDocumentRepository_MarkViewedAndContent(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	doc := newDocument(userID, "notes")
	require.NoError(t, repo.Create(ctx, doc))

	_, err := repo.MarkViewed(ctx, userID, doc.ID)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateContent(ctx, userID, doc.ID, "edited"))

	got, err := repo.GetByID(ctx, userID, doc.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastViewed)
	require.NotNil(t, got.Content)
	assert.Equal(t, "edited", *got.Content)
	assert.Nil(t, got.OCRText)

	assert.ErrorIs(t, repo.UpdateContent(ctx, uuid.New(), doc.ID, "x"), ErrNotFound)
}

func TestDocumentRepository_DeleteAndStats(t *testing.T) {
	db := newTestDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	a := newDocument(userID, "a")
	b := newDocument(userID, "b")
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))
	require.NoError(t, repo.BeginExtraction(ctx, b.ID))
	require.NoError(t, repo.FailExtraction(ctx, b.ID, "no text found"))

	stats, err := repo.Stats(ctx, userID)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, OCRStatusFailed, stats[0].Status)
	assert.Equal(t, OCRStatusPending, stats[1].Status)
	assert.Equal(t, int64(1024), stats[1].TotalSize)

	deleted, err := repo.Delete(ctx, userID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.FilePath, deleted.FilePath)

	_, err = repo.Delete(ctx, userID, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFolderRepository_DeleteDetachesDocuments(t *testing.T) {
	db := newTestDB(t)
	docs := NewDocumentRepository(db)
	folders := NewFolderRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	folder := &Folder{UserID: userID, Name: "Work"}
	require.NoError(t, folders.Create(ctx, folder))
	assert.Equal(t, DefaultFolderColor, folder.Color)

	doc := newDocument(userID, "contract")
	require.NoError(t, docs.Create(ctx, doc))
	require.NoError(t, docs.MoveToFolder(ctx, userID, doc.ID, &folder.ID))

	list, err := folders.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].DocumentCount)
	assert.Equal(t, int64(1024), list[0].TotalSize)

	detached, err := folders.Delete(ctx, userID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), detached)

	got, err := docs.GetByID(ctx, userID, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FolderID)

	_, err = folders.GetByID(ctx, userID, folder.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = folders.Delete(ctx, userID, folder.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFolderRepository_Update(t *testing.T) {
	db := newTestDB(t)
	folders := NewFolderRepository(db)
	ctx := context.Background()
	userID := uuid.New()

	folder := &Folder{UserID: userID, Name: "Old", Color: "#ff0000"}
	require.NoError(t, folders.Create(ctx, folder))

	folder.Name = "New"
	require.NoError(t, folders.Update(ctx, folder))

	got, err := folders.GetByID(ctx, userID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
	assert.Equal(t, "#ff0000", got.Color)

	folder.UserID = uuid.New()
	assert.ErrorIs(t, folders.Update(ctx, folder), ErrNotFound)
}
