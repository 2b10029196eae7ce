package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"chatwoot-formbricks-sync/internal/adapters/chatwoot"
	"chatwoot-formbricks-sync/internal/adapters/formbricks"
	"chatwoot-formbricks-sync/internal/jobs"
	"chatwoot-formbricks-sync/internal/services"
	"chatwoot-formbricks-sync/internal/store"

	"github.com/rs/zerolog/log"
)

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respondData(w http.ResponseWriter, statusCode int, data any) {
	respondWithJSON(w, statusCode, apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, statusCode int, msg string) {
	respondWithJSON(w, statusCode, apiResponse{Success: false, Error: msg})
}

// respondErr maps err to a status code and writes it as the JSON error body.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Admin request failed")
	} else {
		log.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Admin request rejected")
	}
	respondError(w, status, err.Error())
}

func errorStatus(err error) int {
	var cwErr *chatwoot.APIError
	var fbErr *formbricks.APIError
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyConverted), errors.Is(err, store.ErrDuplicate), errors.Is(err, jobs.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, services.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &cwErr), errors.As(err, &fbErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// upstreamError reports whether err came from a vendor API call.
func upstreamError(err error) bool {
	var cwErr *chatwoot.APIError
	var fbErr *formbricks.APIError
	return errors.As(err, &cwErr) || errors.As(err, &fbErr)
}
