package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"dapurpos/backend/internal/config"
	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/service"
	"dapurpos/backend/internal/store"
)

type errorResponse struct {
	Error        string   `json:"error"`
	Kind         string   `json:"kind"`
	EntityID     string   `json:"entity_id,omitempty"`
	Field        string   `json:"field,omitempty"`
	Retryable    bool     `json:"retryable"`
	PendingItems []string `json:"pending_items,omitempty"`
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError writes a plain error body for failures raised by the HTTP layer
// itself. 5xx details are logged, never returned.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.WithError(err).WithField("status", status).Error("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kindForStatus(status)})
}

// writeServiceError maps an error returned by the service layer onto a
// status code and a structured body.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status, body := describeError(err)
	if status >= 500 {
		config.LogError(a.logger, "httpapi", "writeServiceError", body.Kind, logrus.Fields{
			"status":    status,
			"entity_id": body.EntityID,
		}, err)
		if status == http.StatusServiceUnavailable {
			body.Error = "service temporarily unavailable, retry the request"
		} else {
			body.Error = "internal server error"
		}
	}
	if body.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, body)
}

func describeError(err error) (int, errorResponse) {
	body := errorResponse{Error: err.Error(), Retryable: domain.IsRetryable(err)}

	var partial *domain.PartialApplyError
	if errors.As(err, &partial) {
		body.Kind = "partial_apply"
		body.EntityID = partial.PurchaseOrderID
		body.PendingItems = partial.Pending
		if partial.FailedLineID != "" {
			body.Field = partial.FailedLineID
		}
		status, _ := describeError(partial.Cause)
		if status >= 500 {
			status = http.StatusServiceUnavailable
		}
		return status, body
	}

	var validation *domain.ValidationError
	var invalidState *domain.InvalidStateError
	var invariant *domain.InvariantViolation
	var lockTimeout *domain.LockTimeoutError

	switch {
	case errors.As(err, &validation):
		body.Kind = "validation"
		body.Field = validation.Field
		body.EntityID = validation.EntityID
		return http.StatusBadRequest, body
	case errors.Is(err, domain.ErrValidation):
		body.Kind = "validation"
		return http.StatusBadRequest, body
	case errors.Is(err, service.ErrForbidden):
		body.Kind = "forbidden"
		return http.StatusForbidden, body
	case errors.Is(err, store.ErrNotFound):
		body.Kind = "not_found"
		return http.StatusNotFound, body
	case errors.As(err, &invalidState):
		body.Kind = "invalid_state"
		body.EntityID = invalidState.PurchaseOrderID
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrInvalidState):
		body.Kind = "invalid_state"
		return http.StatusConflict, body
	case errors.Is(err, store.ErrDuplicate):
		body.Kind = "conflict"
		return http.StatusConflict, body
	case errors.As(err, &invariant):
		body.Kind = "invariant_violation"
		body.EntityID = invariant.IngredientID
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrInvariantViolation):
		body.Kind = "invariant_violation"
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &lockTimeout):
		body.Kind = "lock_timeout"
		body.EntityID = lockTimeout.IngredientID
		return http.StatusServiceUnavailable, body
	case errors.Is(err, domain.ErrLockTimeout):
		body.Kind = "lock_timeout"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, domain.ErrConcurrentModification):
		body.Kind = "concurrent_modification"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		body.Kind = "timeout"
		return http.StatusServiceUnavailable, body
	}

	body.Kind = "internal"
	return http.StatusInternalServerError, body
}

func kindForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if status >= 500 {
		return "internal"
	}
	return "error"
}
