package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/models"
	"github.com/bidpackuk/backend/internal/schema"
)

const topUpHint = "Top up ACUs or upgrade your plan to continue."

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Balance   *int   `json:"balance,omitempty"`
	Required  *int   `json:"required,omitempty"`
	Shortfall *int   `json:"shortfall,omitempty"`
	Hint      string `json:"hint,omitempty"`
	// Set on AI execute failures so the client can show what was recorded.
	Request any `json:"request,omitempty"`
	Quote   any `json:"quote,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidTransactionType),
		errors.Is(err, models.ErrInvalidConfig),
		errors.Is(err, schema.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrOrgSuspended):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrLedgerFrozen),
		errors.Is(err, models.ErrLedgerCorrupted),
		errors.Is(err, models.ErrRequestFinalized),
		errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrGlobalCapExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrAIProviderFailure):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrAIDisabledGlobally):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error) (int, *errorBody) {
	status := statusFor(err)
	body := &errorBody{Error: err.Error(), Code: models.Code(err)}
	if errors.Is(err, schema.ErrValidation) {
		body.Code = "invalid_input"
	}
	switch status {
	case http.StatusInternalServerError:
		body.Error = "internal error"
	case http.StatusPaymentRequired:
		body.Hint = topUpHint
		var ibe *models.InsufficientBalanceError
		if errors.As(err, &ibe) {
			short := ibe.Shortfall()
			body.Balance, body.Required, body.Shortfall = &ibe.Balance, &ibe.Required, &short
		}
	case http.StatusForbidden:
		body.Error = "Organization suspended. Please contact support."
	}
	return status, body
}

// writeError logs unexpected failures and writes the mapped error body.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", models.ErrInvalidInput, err)
	}
	return nil
}

func pathOrgID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid organization id", models.ErrInvalidInput)
	}
	return id, nil
}

// parseDateRange reads start_date and end_date as RFC 3339 timestamps or
// calendar dates. A calendar end_date covers the whole day.
func parseDateRange(r *http.Request) (start, end *time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("start_date"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: start_date: %v", models.ErrInvalidInput, err)
		}
		start = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: end_date: %v", models.ErrInvalidInput, err)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		end = &t
	}
	return start, end, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	return t, true, err
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", models.ErrInvalidInput, key)
	}
	return n, nil
}
