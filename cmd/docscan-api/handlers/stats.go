package handlers

import (
	"net/http"

	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/storage"
)

// StatsHandler reports per-user document statistics.
type StatsHandler struct {
	logger    *observability.Logger
	documents *storage.DocumentRepository
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(logger *observability.Logger, documents *storage.DocumentRepository) *StatsHandler {
	return &StatsHandler{logger: logger, documents: documents}
}

// StatsDTO summarizes a user's documents.
type StatsDTO struct {
	TotalDocuments int            `json:"total_documents"`
	TotalSize      int64          `json:"total_size"`
	ByStatus       map[string]int `json:"by_status"`
}

// Get handles GET /stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	counts, err := h.documents.Stats(r.Context(), userID)
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}

	resp := StatsDTO{ByStatus: map[string]int{
		string(storage.OCRStatusPending):    0,
		string(storage.OCRStatusProcessing): 0,
		string(storage.OCRStatusCompleted):  0,
		string(storage.OCRStatusFailed):     0,
	}}
	for _, c := range counts {
		resp.TotalDocuments += c.Count
		resp.TotalSize += c.TotalSize
		resp.ByStatus[string(c.Status)] = c.Count
	}
	writeJSON(w, http.StatusOK, resp)
}
