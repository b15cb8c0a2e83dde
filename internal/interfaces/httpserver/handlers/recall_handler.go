package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/domain/embedding"
	"github.com/recallhq/recall-server/internal/domain/recall"
	"github.com/recallhq/recall-server/internal/interfaces/httpserver/middleware"
	"github.com/recallhq/recall-server/internal/interfaces/httpserver/responses"
)

type RecallHandler struct {
	service *recall.Service
}

func NewRecallHandler(service *recall.Service) *RecallHandler {
	return &RecallHandler{service: service}
}

type syncRunRequest struct {
	Source string `json:"source"`
}

// HandleSearch handles POST /v1/search
func (h *RecallHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if r.Method != http.MethodPost {
		responses.Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		responses.Error(w, r, http.StatusUnauthorized, "missing principal")
		return
	}

	var req recall.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("Failed to decode search request")
		responses.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" && len(req.QueryVector) == 0 {
		responses.Error(w, r, http.StatusBadRequest, "query or query_vector is required")
		return
	}

	results, err := h.service.Search(r.Context(), principal, req)
	if err != nil {
		if errors.Is(err, embedding.ErrProviderUnavailable) {
			responses.Error(w, r, http.StatusServiceUnavailable, "embedding provider unavailable")
			return
		}
		logger.Error().Err(err).Msg("Search failed")
		responses.Error(w, r, http.StatusInternalServerError, "search failed")
		return
	}

	responses.JSON(w, r, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// HandleSyncRun handles POST /v1/sync/run
func (h *RecallHandler) HandleSyncRun(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if r.Method != http.MethodPost {
		responses.Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		responses.Error(w, r, http.StatusUnauthorized, "missing principal")
		return
	}

	var req syncRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error().Err(err).Msg("Failed to decode sync run request")
		responses.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Source == "" {
		responses.Error(w, r, http.StatusBadRequest, "source is required")
		return
	}

	logger.Info().
		Str("owner_id", principal.ID).
		Str("source", req.Source).
		Msg("Sync run requested")

	report, err := h.service.RunSync(r.Context(), principal, req.Source)
	if err != nil {
		if errors.Is(err, recall.ErrSyncAlreadyRunning) {
			responses.Error(w, r, http.StatusConflict, "sync already running for this source")
			return
		}
		logger.Error().Err(err).Msg("Sync run failed")
		responses.Error(w, r, http.StatusInternalServerError, "sync failed")
		return
	}

	responses.JSON(w, r, http.StatusOK, report)
}

// HandleSyncStatus handles GET /v1/sync/status
func (h *RecallHandler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	if r.Method != http.MethodGet {
		responses.Error(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		responses.Error(w, r, http.StatusUnauthorized, "missing principal")
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		responses.Error(w, r, http.StatusBadRequest, "source query parameter is required")
		return
	}

	state, err := h.service.GetSyncStatus(r.Context(), principal, source)
	if err != nil {
		if errors.Is(err, recall.ErrNotFound) {
			responses.Error(w, r, http.StatusNotFound, "no sync state for this source")
			return
		}
		logger.Error().Err(err).Msg("Failed to get sync status")
		responses.Error(w, r, http.StatusInternalServerError, "failed to get sync status")
		return
	}

	responses.JSON(w, r, http.StatusOK, state)
}

// HandleHealth handles GET /healthz
func (h *RecallHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	responses.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
