package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound          = errors.New("record not found")
	ErrConflict          = errors.New("record conflict")
	ErrFolderNotFound    = errors.New("folder not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSort       = errors.New("unsupported sort column")
)

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// TxDB is a DB that can also start transactions.
type TxDB interface {
	DB
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

const documentColumns = `id, user_id, folder_id, title, description, original_filename, file_path,
	thumbnail_path, file_size, mime_type, file_extension, ocr_text, content, ocr_status,
	ocr_error, language, page_count, tags, is_favorite, is_archived, created_at, updated_at, last_viewed`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc        Document
		folderID   uuid.NullUUID
		thumb      sql.NullString
		ocrText    sql.NullString
		content    sql.NullString
		ocrError   sql.NullString
		language   sql.NullString
		lastViewed sql.NullTime
		status     string
	)
	err := row.Scan(
		&doc.ID, &doc.UserID, &folderID, &doc.Title, &doc.Description, &doc.OriginalFilename,
		&doc.FilePath, &thumb, &doc.FileSize, &doc.MimeType, &doc.FileExtension, &ocrText,
		&content, &status, &ocrError, &language, &doc.PageCount, &doc.Tags, &doc.IsFavorite,
		&doc.IsArchived, &doc.CreatedAt, &doc.UpdatedAt, &lastViewed,
	)
	if err != nil {
		return nil, err
	}

	doc.OCRStatus = OCRStatus(status)
	if folderID.Valid {
		id := folderID.UUID
		doc.FolderID = &id
	}
	doc.ThumbnailPath = nullString(thumb)
	doc.OCRText = nullString(ocrText)
	doc.Content = nullString(content)
	doc.OCRError = nullString(ocrError)
	doc.Language = nullString(language)
	if lastViewed.Valid {
		t := lastViewed.Time
		doc.LastViewed = &t
	}
	return &doc, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// DocumentRepository handles document persistence and the extraction status machine.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document. The extension is normalized and the
// status defaults to pending.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.OCRStatus == "" {
		doc.OCRStatus = OCRStatusPending
	}
	if doc.PageCount < 1 {
		doc.PageCount = 1
	}
	doc.FileExtension = NormalizeExtension(doc.FileExtension)
	doc.Tags = JoinTags(SplitTags(doc.Tags))
	doc.CreatedAt = now()
	doc.UpdatedAt = doc.CreatedAt

	query := `
		INSERT INTO documents (id, user_id, folder_id, title, description, original_filename,
			file_path, thumbnail_path, file_size, mime_type, file_extension, ocr_text, content,
			ocr_status, ocr_error, language, page_count, tags, is_favorite, is_archived,
			created_at, updated_at, last_viewed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.UserID, nullUUID(doc.FolderID), doc.Title, doc.Description, doc.OriginalFilename,
		doc.FilePath, doc.ThumbnailPath, doc.FileSize, doc.MimeType, doc.FileExtension, doc.OCRText,
		doc.Content, string(doc.OCRStatus), doc.OCRError, doc.Language, doc.PageCount, doc.Tags,
		doc.IsFavorite, doc.IsArchived, doc.CreatedAt, doc.UpdatedAt, doc.LastViewed,
	)
	return err
}

// Get retrieves a document by ID regardless of owner. Used by background workers.
func (r *DocumentRepository) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// GetByID retrieves a document by ID with owner scoping.
func (r *DocumentRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND user_id = $2`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// DocumentFilter narrows a document listing.
type DocumentFilter struct {
	UserID   uuid.UUID
	FolderID *uuid.UUID
	Unfiled  bool
	Status   OCRStatus
	Search   string
	Tag      string
	Favorite *bool
	Archived *bool
	SortBy   string
	Order    string
	Limit    int
	Offset   int
}

var documentSortColumns = map[string]string{
	"":            "created_at",
	"created_at":  "created_at",
	"updated_at":  "updated_at",
	"title":       "title",
	"file_size":   "file_size",
	"last_viewed": "last_viewed",
}

// queryBuilder accumulates WHERE clauses with $N placeholders.
type queryBuilder struct {
	where []string
	args  []interface{}
}

func (b *queryBuilder) add(clause string, args ...interface{}) {
	for _, a := range args {
		b.args = append(b.args, a)
		clause = strings.Replace(clause, "?", "$"+strconv.Itoa(len(b.args)), 1)
	}
	b.where = append(b.where, clause)
}

func (b *queryBuilder) clause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

// List returns one page of documents matching the filter plus the total match count.
func (r *DocumentRepository) List(ctx context.Context, f DocumentFilter) ([]*Document, int, error) {
	b := &queryBuilder{}
	b.add("user_id = ?", f.UserID)
	switch {
	case f.FolderID != nil:
		b.add("folder_id = ?", *f.FolderID)
	case f.Unfiled:
		b.add("folder_id IS NULL")
	}
	if f.Status != "" {
		b.add("ocr_status = ?", string(f.Status))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + strings.ToLower(s) + "%"
		b.add("(LOWER(title) LIKE ? OR LOWER(COALESCE(content, '')) LIKE ?)", pattern, pattern)
	}
	if t := strings.TrimSpace(f.Tag); t != "" {
		b.add("tags LIKE ?", "%"+t+"%")
	}
	if f.Favorite != nil {
		b.add("is_favorite = ?", *f.Favorite)
	}
	if f.Archived != nil {
		b.add("is_archived = ?", *f.Archived)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM documents` + b.clause()
	if err := r.db.QueryRowContext(ctx, countQuery, b.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	column, ok := documentSortColumns[f.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidSort, f.SortBy)
	}
	order := "DESC"
	if strings.EqualFold(f.Order, "asc") {
		order = "ASC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + documentColumns + ` FROM documents` + b.clause() +
		fmt.Sprintf(" ORDER BY %s %s, id LIMIT %d OFFSET %d", column, order, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// UpdateMetadata persists user-editable metadata of a document.
func (r *DocumentRepository) UpdateMetadata(ctx context.Context, doc *Document) error {
	doc.Tags = JoinTags(SplitTags(doc.Tags))
	doc.UpdatedAt = now()
	query := `
		UPDATE documents
		SET title = $1, description = $2, tags = $3, is_favorite = $4, is_archived = $5, updated_at = $6
		WHERE id = $7 AND user_id = $8
	`
	res, err := r.db.ExecContext(ctx, query,
		doc.Title, doc.Description, doc.Tags, doc.IsFavorite, doc.IsArchived, doc.UpdatedAt,
		doc.ID, doc.UserID,
	)
	return expectOne(res, err, ErrNotFound)
}

// UpdateContent replaces the user-editable text. The raw extraction output is kept.
func (r *DocumentRepository) UpdateContent(ctx context.Context, userID, id uuid.UUID, content string) error {
	query := `UPDATE documents SET content = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`
	res, err := r.db.ExecContext(ctx, query, content, now(), id, userID)
	return expectOne(res, err, ErrNotFound)
}

// SetThumbnail records the stored thumbnail path.
func (r *DocumentRepository) SetThumbnail(ctx context.Context, id uuid.UUID, path string) error {
	query := `UPDATE documents SET thumbnail_path = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, path, now(), id)
	return expectOne(res, err, ErrNotFound)
}

// SetPageCount records the page count. Values below one are stored as one.
func (r *DocumentRepository) SetPageCount(ctx context.Context, id uuid.UUID, pages int) error {
	if pages < 1 {
		pages = 1
	}
	query := `UPDATE documents SET page_count = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, pages, now(), id)
	return expectOne(res, err, ErrNotFound)
}

// MoveToFolder sets or clears the folder of a document. The folder must
// belong to the same user.
func (r *DocumentRepository) MoveToFolder(ctx context.Context, userID, id uuid.UUID, folderID *uuid.UUID) error {
	if folderID != nil {
		var exists int
		err := r.db.QueryRowContext(ctx,
			`SELECT 1 FROM folders WHERE id = $1 AND user_id = $2`, *folderID, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFolderNotFound
		}
		if err != nil {
			return err
		}
	}

	query := `UPDATE documents SET folder_id = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`
	res, err := r.db.ExecContext(ctx, query, nullUUID(folderID), now(), id, userID)
	return expectOne(res, err, ErrNotFound)
}

// MarkViewed bumps last_viewed. updated_at is left alone.
func (r *DocumentRepository) MarkViewed(ctx context.Context, userID, id uuid.UUID) (time.Time, error) {
	ts := now()
	query := `UPDATE documents SET last_viewed = $1 WHERE id = $2 AND user_id = $3`
	res, err := r.db.ExecContext(ctx, query, ts, id, userID)
	return ts, expectOne(res, err, ErrNotFound)
}

// BeginExtraction moves a document into processing if its current status is
// one of from. It returns ErrInvalidTransition when the document exists but is
// in another status.
func (r *DocumentRepository) BeginExtraction(ctx context.Context, id uuid.UUID, from ...OCRStatus) error {
	if len(from) == 0 {
		from = []OCRStatus{OCRStatusPending}
	}
	args := []interface{}{string(OCRStatusProcessing), now(), id}
	placeholders := make([]string, len(from))
	for i, s := range from {
		args = append(args, string(s))
		placeholders[i] = "$" + strconv.Itoa(len(args))
	}
	query := `UPDATE documents SET ocr_status = $1, updated_at = $2
		WHERE id = $3 AND ocr_status IN (` + strings.Join(placeholders, ", ") + `)`

	res, err := r.db.ExecContext(ctx, query, args...)
	return r.transitionResult(ctx, id, res, err)
}

// CompleteExtraction stores extracted text on a processing document and marks
// it completed. Both ocr_text and content receive the text; ocr_error is cleared.
func (r *DocumentRepository) CompleteExtraction(ctx context.Context, id uuid.UUID, text string, language *string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("complete extraction: %w: empty text", ErrInvalidTransition)
	}
	query := `
		UPDATE documents
		SET ocr_status = $1, ocr_text = $2, content = $3, ocr_error = NULL, language = $4, updated_at = $5
		WHERE id = $6 AND ocr_status = $7
	`
	res, err := r.db.ExecContext(ctx, query,
		string(OCRStatusCompleted), text, text, language, now(), id, string(OCRStatusProcessing))
	return r.transitionResult(ctx, id, res, err)
}

// FailExtraction marks a processing document failed with a diagnostic message.
// Existing text is left untouched.
func (r *DocumentRepository) FailExtraction(ctx context.Context, id uuid.UUID, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "unknown extraction error"
	}
	query := `UPDATE documents SET ocr_status = $1, ocr_error = $2, updated_at = $3
		WHERE id = $4 AND ocr_status = $5`
	res, err := r.db.ExecContext(ctx, query,
		string(OCRStatusFailed), message, now(), id, string(OCRStatusProcessing))
	return r.transitionResult(ctx, id, res, err)
}

// FailStale fails every document that has been processing since before cutoff.
func (r *DocumentRepository) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	query := `UPDATE documents SET ocr_status = $1, ocr_error = $2, updated_at = $3
		WHERE ocr_status = $4 AND updated_at < $5`
	res, err := r.db.ExecContext(ctx, query,
		string(OCRStatusFailed), message, now(), string(OCRStatusProcessing), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *DocumentRepository) transitionResult(ctx context.Context, id uuid.UUID, res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// Delete removes a document row and returns it so callers can clean up files.
func (r *DocumentRepository) Delete(ctx context.Context, userID, id uuid.UUID) (*Document, error) {
	doc, err := r.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, id, userID)
	if err := expectOne(res, err, ErrNotFound); err != nil {
		return nil, err
	}
	return doc, nil
}

// Stats aggregates a user's documents by status.
func (r *DocumentRepository) Stats(ctx context.Context, userID uuid.UUID) ([]StatusCount, error) {
	query := `
		SELECT ocr_status, COUNT(*), COALESCE(SUM(file_size), 0)
		FROM documents WHERE user_id = $1
		GROUP BY ocr_status ORDER BY ocr_status
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []StatusCount
	for rows.Next() {
		var (
			sc     StatusCount
			status string
		)
		if err := rows.Scan(&status, &sc.Count, &sc.TotalSize); err != nil {
			return nil, err
		}
		sc.Status = OCRStatus(status)
		stats = append(stats, sc)
	}
	return stats, rows.Err()
}

// FolderRepository handles folder CRUD operations.
type FolderRepository struct {
	db TxDB
}

// NewFolderRepository creates a new folder repository.
func NewFolderRepository(db TxDB) *FolderRepository {
	return &FolderRepository{db: db}
}

// Create creates a new folder.
func (r *FolderRepository) Create(ctx context.Context, folder *Folder) error {
	if folder.ID == uuid.Nil {
		folder.ID = uuid.New()
	}
	if folder.Color == "" {
		folder.Color = DefaultFolderColor
	}
	folder.CreatedAt = now()
	folder.UpdatedAt = folder.CreatedAt

	query := `
		INSERT INTO folders (id, user_id, name, description, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		folder.ID, folder.UserID, folder.Name, folder.Description, folder.Color,
		folder.CreatedAt, folder.UpdatedAt,
	)
	return err
}

// GetByID retrieves a folder by ID with owner scoping.
func (r *FolderRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*Folder, error) {
	query := `
		SELECT id, user_id, name, description, color, created_at, updated_at
		FROM folders WHERE id = $1 AND user_id = $2
	`
	folder := &Folder{}
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&folder.ID, &folder.UserID, &folder.Name, &folder.Description, &folder.Color,
		&folder.CreatedAt, &folder.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return folder, err
}

// ListByUser lists a user's folders with document counts, ordered by name.
func (r *FolderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Folder, error) {
	query := `
		SELECT f.id, f.user_id, f.name, f.description, f.color, f.created_at, f.updated_at,
			COUNT(d.id), COALESCE(SUM(d.file_size), 0)
		FROM folders f
		LEFT JOIN documents d ON d.folder_id = f.id
		WHERE f.user_id = $1
		GROUP BY f.id, f.user_id, f.name, f.description, f.color, f.created_at, f.updated_at
		ORDER BY f.name
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []*Folder
	for rows.Next() {
		folder := &Folder{}
		if err := rows.Scan(
			&folder.ID, &folder.UserID, &folder.Name, &folder.Description, &folder.Color,
			&folder.CreatedAt, &folder.UpdatedAt, &folder.DocumentCount, &folder.TotalSize,
		); err != nil {
			return nil, err
		}
		folders = append(folders, folder)
	}
	return folders, rows.Err()
}

// Update renames or recolors a folder.
func (r *FolderRepository) Update(ctx context.Context, folder *Folder) error {
	if folder.Color == "" {
		folder.Color = DefaultFolderColor
	}
	folder.UpdatedAt = now()
	query := `
		UPDATE folders SET name = $1, description = $2, color = $3, updated_at = $4
		WHERE id = $5 AND user_id = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		folder.Name, folder.Description, folder.Color, folder.UpdatedAt, folder.ID, folder.UserID)
	return expectOne(res, err, ErrNotFound)
}

// Delete removes a folder. Its documents are detached, not deleted.
// It returns the number of documents detached.
func (r *FolderRepository) Delete(ctx context.Context, userID, id uuid.UUID) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET folder_id = NULL, updated_at = $1 WHERE folder_id = $2 AND user_id = $3`,
		now(), id, userID)
	if err != nil {
		return 0, fmt.Errorf("detach documents: %w", err)
	}
	detached, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM folders WHERE id = $1 AND user_id = $2`, id, userID)
	if err := expectOne(res, err, ErrNotFound); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return detached, nil
}

func expectOne(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
