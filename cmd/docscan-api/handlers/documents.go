package handlers

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/docscan/internal/cache"
	"github.com/spherical-ai/docscan/internal/filestore"
	"github.com/spherical-ai/docscan/internal/ingest"
	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/storage"
	"github.com/spherical-ai/docscan/internal/validate"
)

const (
	// multipartOverhead is allowed on top of the upload limit for form
	// boundaries and text fields.
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20

	defaultPageSize = 20
	maxPageSize     = 100
)

// DocumentHandler handles document upload, capture, listing and editing.
type DocumentHandler struct {
	logger    *observability.Logger
	pipeline  *ingest.Pipeline
	documents *storage.DocumentRepository
	files     *filestore.Store
	cache     *cache.DocumentCache
	maxUpload int64
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(
	logger *observability.Logger,
	pipeline *ingest.Pipeline,
	documents *storage.DocumentRepository,
	files *filestore.Store,
	docCache *cache.DocumentCache,
	maxUpload int64,
) *DocumentHandler {
	return &DocumentHandler{
		logger:    logger,
		pipeline:  pipeline,
		documents: documents,
		files:     files,
		cache:     docCache,
		maxUpload: maxUpload,
	}
}

// DocumentDTO is the API representation of a document.
type DocumentDTO struct {
	ID               uuid.UUID  `json:"id"`
	FolderID         *uuid.UUID `json:"folder_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	OriginalFilename string     `json:"original_filename"`
	FileSize         int64      `json:"file_size"`
	MimeType         string     `json:"mime_type"`
	FileExtension    string     `json:"file_extension"`
	HasThumbnail     bool       `json:"has_thumbnail"`
	OCRStatus        string     `json:"ocr_status"`
	OCRError         *string    `json:"ocr_error,omitempty"`
	OCRText          *string    `json:"ocr_text,omitempty"`
	Content          *string    `json:"content,omitempty"`
	Language         *string    `json:"language,omitempty"`
	PageCount        int        `json:"page_count"`
	Tags             []string   `json:"tags"`
	IsFavorite       bool       `json:"is_favorite"`
	IsArchived       bool       `json:"is_archived"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastViewed       *time.Time `json:"last_viewed,omitempty"`
}

// DocumentListDTO is one page of a document listing.
type DocumentListDTO struct {
	Documents []DocumentDTO `json:"documents"`
	Total     int           `json:"total"`
	Limit     int           `json:"limit"`
	Offset    int           `json:"offset"`
}

// StatusDTO is the poll response for a document's extraction state.
type StatusDTO struct {
	ID        uuid.UUID `json:"id"`
	OCRStatus string    `json:"ocr_status"`
	OCRError  *string   `json:"ocr_error,omitempty"`
	PageCount int       `json:"page_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CaptureRequestDTO is the body of POST /documents/capture.
type CaptureRequestDTO struct {
	Image    string  `json:"image"`
	Title    string  `json:"title"`
	FolderID *string `json:"folder_id"`
	Crop     bool    `json:"crop"`
	AutoOCR  *bool   `json:"auto_ocr"`
}

// PatchRequestDTO is the body of PATCH /documents/{id}. Absent fields are
// left unchanged.
type PatchRequestDTO struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
	IsFavorite  *bool     `json:"is_favorite"`
	IsArchived  *bool     `json:"is_archived"`
}

// ContentRequestDTO is the body of PUT /documents/{id}/content.
type ContentRequestDTO struct {
	Content string `json:"content"`
}

// MoveRequestDTO is the body of POST /documents/{id}/move. A null folder
// unfiles the document.
type MoveRequestDTO struct {
	FolderID *string `json:"folder_id"`
}

func toDocumentDTO(doc *storage.Document, withText bool) DocumentDTO {
	dto := DocumentDTO{
		ID:               doc.ID,
		FolderID:         doc.FolderID,
		Title:            doc.Title,
		Description:      doc.Description,
		OriginalFilename: doc.OriginalFilename,
		FileSize:         doc.FileSize,
		MimeType:         doc.MimeType,
		FileExtension:    doc.FileExtension,
		HasThumbnail:     doc.ThumbnailPath != nil,
		OCRStatus:        string(doc.OCRStatus),
		OCRError:         doc.OCRError,
		Language:         doc.Language,
		PageCount:        doc.PageCount,
		Tags:             doc.TagList(),
		IsFavorite:       doc.IsFavorite,
		IsArchived:       doc.IsArchived,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		LastViewed:       doc.LastViewed,
	}
	if dto.Tags == nil {
		dto.Tags = []string{}
	}
	if withText {
		dto.OCRText = doc.OCRText
		dto.Content = doc.Content
	}
	return dto
}

// acceptedStatus is 202 while extraction continues in the background.
func acceptedStatus(doc *storage.Document, done int) int {
	if doc.OCRStatus == storage.OCRStatusProcessing {
		return http.StatusAccepted
	}
	return done
}

// Upload handles POST /documents.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", err.Error())
		return
	}
	defer file.Close()

	folderID, err := parseOptionalUUID(r.FormValue("folder_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid folder_id", err.Error())
		return
	}

	autoOCR := true
	if v := r.FormValue("auto_ocr"); v != "" {
		autoOCR, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid auto_ocr", err.Error())
			return
		}
	}

	doc, err := h.pipeline.Accept(r.Context(), ingest.UploadRequest{
		UserID:      userID,
		Filename:    header.Filename,
		Body:        file,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		FolderID:    folderID,
		SkipOCR:     !autoOCR,
	})
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	writeJSON(w, acceptedStatus(doc, http.StatusCreated), toDocumentDTO(doc, true))
}

// Capture handles POST /documents/capture.
func (h *DocumentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	// Base64 inflates the payload by a third.
	limit := h.maxUpload/3*4 + multipartOverhead
	var req CaptureRequestDTO
	if err := readJSON(w, r, limit, validate.Capture, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	var folderID *uuid.UUID
	if req.FolderID != nil {
		id, err := uuid.Parse(*req.FolderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid folder_id", err.Error())
			return
		}
		folderID = &id
	}

	doc, err := h.pipeline.Capture(r.Context(), ingest.CaptureRequest{
		UserID:   userID,
		Image:    req.Image,
		Title:    req.Title,
		FolderID: folderID,
		Crop:     req.Crop,
		SkipOCR:  req.AutoOCR != nil && !*req.AutoOCR,
	})
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	writeJSON(w, acceptedStatus(doc, http.StatusCreated), toDocumentDTO(doc, true))
}

// List handles GET /documents.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	filter := storage.DocumentFilter{
		UserID: userID,
		Search: q.Get("q"),
		Tag:    q.Get("tag"),
		SortBy: q.Get("sort"),
		Order:  q.Get("order"),
	}

	switch v := q.Get("folder_id"); v {
	case "":
	case "none":
		filter.Unfiled = true
	default:
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid folder_id", err.Error())
			return
		}
		filter.FolderID = &id
	}

	// Archived documents are hidden unless asked for.
	switch v := q.Get("archived"); v {
	case "all":
	case "":
		archived := false
		filter.Archived = &archived
	default:
		archived, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid archived", err.Error())
			return
		}
		filter.Archived = &archived
	}

	if v := q.Get("favorites"); v != "" {
		fav, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid favorites", err.Error())
			return
		}
		if fav {
			filter.Favorite = &fav
		}
	}

	if v := q.Get("status"); v != "" {
		status := storage.OCRStatus(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status", v)
			return
		}
		filter.Status = status
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit"), defaultPageSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = defaultPageSize
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil || filter.Offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset", q.Get("offset"))
		return
	}

	docs, total, err := h.documents.List(r.Context(), filter)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	resp := DocumentListDTO{
		Documents: make([]DocumentDTO, 0, len(docs)),
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	}
	for _, doc := range docs {
		resp.Documents = append(resp.Documents, toDocumentDTO(doc, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// Get handles GET /documents/{id}. It counts as a view.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	viewed, err := h.documents.MarkViewed(ctx, userID, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	doc, hit := h.cache.Get(ctx, userID, id)
	if !hit {
		doc, err = h.documents.GetByID(ctx, userID, id)
		if err != nil {
			writeFailure(w, r, h.logger, err)
			return
		}
	}
	doc.LastViewed = &viewed
	h.cache.Set(ctx, doc)

	writeJSON(w, http.StatusOK, toDocumentDTO(doc, true))
}

// Status handles GET /documents/{id}/status. Polling does not count as a view.
func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.GetByID(r.Context(), userID, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusDTO{
		ID:        doc.ID,
		OCRStatus: string(doc.OCRStatus),
		OCRError:  doc.OCRError,
		PageCount: doc.PageCount,
		UpdatedAt: doc.UpdatedAt,
	})
}

// Update handles PATCH /documents/{id}.
func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req PatchRequestDTO
	if err := readJSON(w, r, maxJSONBody, validate.DocumentPatch, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	doc, err := h.documents.GetByID(ctx, userID, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if req.Title != nil {
		doc.Title = *req.Title
	}
	if req.Description != nil {
		doc.Description = *req.Description
	}
	if req.Tags != nil {
		doc.Tags = storage.JoinTags(*req.Tags)
	}
	if req.IsFavorite != nil {
		doc.IsFavorite = *req.IsFavorite
	}
	if req.IsArchived != nil {
		doc.IsArchived = *req.IsArchived
	}

	if err := h.documents.UpdateMetadata(ctx, doc); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	h.cache.Invalidate(ctx, userID, id)

	writeJSON(w, http.StatusOK, toDocumentDTO(doc, true))
}

// UpdateContent handles PUT /documents/{id}/content. The raw OCR text is kept.
func (h *DocumentHandler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// Documents can carry a lot of text.
	var req ContentRequestDTO
	if err := readJSON(w, r, 16*maxJSONBody, validate.Content, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	if err := h.documents.UpdateContent(ctx, userID, id, req.Content); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	h.cache.Invalidate(ctx, userID, id)

	h.respondDocument(w, r, userID, id, http.StatusOK)
}

// Move handles POST /documents/{id}/move.
func (h *DocumentHandler) Move(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req MoveRequestDTO
	if err := readJSON(w, r, maxJSONBody, validate.Move, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	var folderID *uuid.UUID
	if req.FolderID != nil {
		fid, err := uuid.Parse(*req.FolderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid folder_id", err.Error())
			return
		}
		folderID = &fid
	}

	if err := h.documents.MoveToFolder(ctx, userID, id, folderID); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	h.cache.Invalidate(ctx, userID, id)

	h.respondDocument(w, r, userID, id, http.StatusOK)
}

// Rerun handles POST /documents/{id}/rerun.
func (h *DocumentHandler) Rerun(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	doc, err := h.pipeline.Rerun(r.Context(), userID, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	writeJSON(w, acceptedStatus(doc, http.StatusOK), toDocumentDTO(doc, true))
}

// Delete handles DELETE /documents/{id}.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.pipeline.Delete(r.Context(), userID, id); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// File handles GET /documents/{id}/file. Pass ?download=1 for an attachment.
func (h *DocumentHandler) File(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.GetByID(r.Context(), userID, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	contentType := doc.MimeType
	if contentType == "" {
		contentType = ingest.MimeType(doc.FileExtension)
	}
	disposition := "inline"
	if download, _ := strconv.ParseBool(r.URL.Query().Get("download")); download {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType(disposition, map[string]string{"filename": doc.OriginalFilename}))

	h.serveStored(w, r, doc.FilePath, doc.OriginalFilename, contentType)
}

// Thumbnail handles GET /documents/{id}/thumbnail.
func (h *DocumentHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.GetByID(r.Context(), userID, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if doc.ThumbnailPath == nil {
		writeError(w, http.StatusNotFound, "thumbnail not available", "")
		return
	}

	h.serveStored(w, r, *doc.ThumbnailPath, "thumbnail.jpg", "image/jpeg")
}

func (h *DocumentHandler) serveStored(w http.ResponseWriter, r *http.Request, rel, name, contentType string) {
	f, err := h.files.Open(rel)
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "file not found", "")
		return
	}
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *DocumentHandler) respondDocument(w http.ResponseWriter, r *http.Request, userID, id uuid.UUID, status int) {
	doc, err := h.documents.GetByID(r.Context(), userID, id)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	writeJSON(w, status, toDocumentDTO(doc, true))
}
