package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"divvy/internal/core"
	"divvy/internal/ledger"
)

// writeJSON marshals v into the response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed encoding response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses. Unrecognized errors
// become opaque 500s; their detail goes to the log, not the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method, "url", r.URL.Path, "error", err)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidExpense),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidCurrency),
		errors.Is(err, core.ErrInvalidTitle),
		errors.Is(err, core.ErrUnknownParticipant):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrLedgerNotFound),
		errors.Is(err, core.ErrExpenseNotFound),
		errors.Is(err, ledger.ErrDraftNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrCurrencyLocked),
		errors.Is(err, core.ErrExpenseVoided):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// badRequest reports a malformed request that never reached the domain.
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}
