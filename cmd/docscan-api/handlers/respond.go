// Package handlers provides HTTP handlers for the docscan API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/spherical-ai/docscan/cmd/docscan-api/middleware"
	"github.com/spherical-ai/docscan/internal/filestore"
	"github.com/spherical-ai/docscan/internal/ingest"
	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/storage"
	"github.com/spherical-ai/docscan/internal/validate"
)

// maxJSONBody caps JSON request bodies other than captures.
const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{"error": message, "message": message}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}

// writeFailure maps a service error to a status code. Unexpected errors are
// logged and reported without detail.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error) {
	var (
		ve  *validate.Error
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.As(err, &mbe), errors.Is(err, filestore.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large", err.Error())
	case errors.Is(err, ingest.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid upload", err.Error())
	case errors.Is(err, storage.ErrInvalidSort):
		writeError(w, http.StatusBadRequest, "invalid sort", err.Error())
	case errors.Is(err, storage.ErrFolderNotFound):
		writeError(w, http.StatusNotFound, "folder not found", "")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", "")
	case errors.Is(err, ingest.ErrAlreadyProcessing):
		writeError(w, http.StatusConflict, "document is already being processed", "")
	case errors.Is(err, ingest.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "extraction queue is full", "")
	default:
		logger.WithContext(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// currentUser returns the caller resolved by middleware.User.
func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user", "")
	}
	return userID, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// readJSON reads at most limit bytes and checks them against schema before
// decoding into dst.
func readJSON(w http.ResponseWriter, r *http.Request, limit int64, schema string, dst interface{}) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return err
	}
	if err := validate.Body(schema, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &validate.Error{Schema: schema, Problems: []string{fmt.Sprintf("body: %v", err)}}
	}
	return nil
}

// parseOptionalUUID parses s, treating an empty string as no value.
func parseOptionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
