package handlers

import (
	"errors"
	"net/http"

	"github.com/spherical-ai/docscan/internal/cache"
	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/storage"
	"github.com/spherical-ai/docscan/internal/validate"
)

// FolderHandler handles folder CRUD.
type FolderHandler struct {
	logger  *observability.Logger
	folders *storage.FolderRepository
	cache   *cache.DocumentCache
}

// NewFolderHandler creates a new folder handler.
func NewFolderHandler(logger *observability.Logger, folders *storage.FolderRepository, docCache *cache.DocumentCache) *FolderHandler {
	return &FolderHandler{logger: logger, folders: folders, cache: docCache}
}

// FolderRequestDTO is the body of folder create and update requests.
type FolderRequestDTO struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

// FolderDeleteDTO reports how many documents were unfiled.
type FolderDeleteDTO struct {
	Deleted  bool  `json:"deleted"`
	Detached int64 `json:"detached_documents"`
}

// List handles GET /folders.
func (h *FolderHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	folders, err := h.folders.ListByUser(r.Context(), userID)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	if folders == nil {
		folders = []*storage.Folder{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"folders": folders})
}

// Create handles POST /folders.
func (h *FolderHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req FolderRequestDTO
	if err := readJSON(w, r, maxJSONBody, validate.FolderCreate, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	folder := &storage.Folder{UserID: userID, Name: *req.Name}
	if req.Description != nil {
		folder.Description = *req.Description
	}
	if req.Color != nil {
		folder.Color = *req.Color
	}
	if err := h.folders.Create(r.Context(), folder); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	h.logger.WithContext(r.Context()).Info().
		Str("user_id", userID.String()).
		Str("folder_id", folder.ID.String()).
		Msg("Folder created")
	writeJSON(w, http.StatusCreated, folder)
}

// Update handles PATCH /folders/{id}.
func (h *FolderHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req FolderRequestDTO
	if err := readJSON(w, r, maxJSONBody, validate.FolderUpdate, &req); err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	folder, err := h.folders.GetByID(ctx, userID, id)
	if err != nil {
		writeFailure(w, r, h.logger, storageFolderErr(err))
		return
	}
	if req.Name != nil {
		folder.Name = *req.Name
	}
	if req.Description != nil {
		folder.Description = *req.Description
	}
	if req.Color != nil {
		folder.Color = *req.Color
	}
	if err := h.folders.Update(ctx, folder); err != nil {
		writeFailure(w, r, h.logger, storageFolderErr(err))
		return
	}

	writeJSON(w, http.StatusOK, folder)
}

// Delete handles DELETE /folders/{id}. Documents in the folder are unfiled.
func (h *FolderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	detached, err := h.folders.Delete(ctx, userID, id)
	if err != nil {
		writeFailure(w, r, h.logger, storageFolderErr(err))
		return
	}
	// Cached views still point at the folder.
	if detached > 0 {
		h.cache.InvalidateUser(ctx, userID)
	}

	writeJSON(w, http.StatusOK, FolderDeleteDTO{Deleted: true, Detached: detached})
}

// storageFolderErr reports a missing folder as such rather than as a
// generic not found.
func storageFolderErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ErrFolderNotFound
	}
	return err
}
