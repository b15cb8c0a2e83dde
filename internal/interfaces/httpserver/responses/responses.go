package responses

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/interfaces/httpserver/middleware"
)

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// JSON writes payload as a JSON response. The payload is marshalled up
// front so an encoding failure turns into a 500 instead of a truncated
// body after the status line has gone out.
func JSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-ID", id)
	}
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(payload)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to write response")
	}
}

// Error writes a structured error body carrying the request ID.
func Error(w http.ResponseWriter, r *http.Request, status int, message string) {
	JSON(w, r, status, errorResponse{
		Error:     message,
		RequestID: middleware.GetRequestID(r.Context()),
	})
}
