package server

import (
	"errors"
	"net/http"

	"strategy-advisor-lab/internal/backtest"
	"strategy-advisor-lab/internal/decision"
	"strategy-advisor-lab/internal/storage"
)

// errorResponse is the structured error body. Entity context is
// included where the underlying error carries it, so the caller can
// re-issue a corrected request.
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Entity  string `json:"entity,omitempty"`
	ID      string `json:"id,omitempty"`
	Version int    `json:"version,omitempty"`
}

// toErrorResponse maps engine errors onto HTTP status codes.
// DataInsufficientError and VersionConflictError are retryable by the
// caller; InvalidTransitionError and NotFoundError are not.
func toErrorResponse(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}

	var notFound *storage.NotFoundError
	if errors.As(err, &notFound) {
		resp.Code = "not_found"
		resp.Entity = notFound.Entity
		resp.ID = notFound.ID
		resp.Version = notFound.Version
		return http.StatusNotFound, resp
	}

	var conflict *storage.VersionConflictError
	if errors.As(err, &conflict) {
		resp.Code = "concurrent_modification"
		resp.Entity = conflict.Entity
		resp.ID = conflict.ID
		resp.Version = conflict.Version
		return http.StatusConflict, resp
	}

	var invalidTransition *decision.InvalidTransitionError
	if errors.As(err, &invalidTransition) {
		resp.Code = "invalid_transition"
		resp.ID = invalidTransition.DecisionID
		if resp.ID == "" {
			resp.ID = invalidTransition.StrategyID
			resp.Version = invalidTransition.Version
		}
		return http.StatusConflict, resp
	}

	var insufficient *backtest.DataInsufficientError
	if errors.As(err, &insufficient) {
		resp.Code = "data_insufficient"
		return http.StatusUnprocessableEntity, resp
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		resp.Code = "not_found"
		return http.StatusNotFound, resp
	case errors.Is(err, storage.ErrDuplicateKey):
		resp.Code = "duplicate"
		return http.StatusConflict, resp
	case errors.Is(err, storage.ErrTraceCompleted):
		resp.Code = "trace_completed"
		return http.StatusConflict, resp
	case errors.Is(err, storage.ErrInvalidInput):
		resp.Code = "invalid_input"
		return http.StatusBadRequest, resp
	default:
		resp.Code = "internal"
		return http.StatusInternalServerError, resp
	}
}
