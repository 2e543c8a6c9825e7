package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/dosekeeper/internal/lifecycle"
	"github.com/dukerupert/dosekeeper/internal/model"
	"github.com/dukerupert/dosekeeper/internal/session"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

const maxBody = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v)
}

// writeError maps the error taxonomy to a status and a message safe for the
// user. Unexpected errors are logged and reported as 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		refusal *session.Refusal
		verr    *lifecycle.ValidationError
	)
	switch {
	case errors.As(err, &refusal):
		code := "unauthenticated"
		if errors.Is(refusal.Reason, model.ErrSessionExpired) {
			code = "session_expired"
		}
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: refusal.Message(), Code: code})
	case errors.Is(err, session.ErrLoginFailed):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Sign-in failed. Check your email and password.", Code: "login_failed"})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Code: "validation", Field: verr.Field})
	case errors.Is(err, model.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid reminder", Code: "validation"})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "reminder not found", Code: "not_found"})
	case errors.Is(err, model.ErrSessionExpired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: (&session.Refusal{Reason: model.ErrSessionExpired}).Message(), Code: "session_expired"})
	case errors.Is(err, model.ErrNetwork):
		logger.Warn("backend unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "The reminder service is unreachable. Try again shortly.", Code: "network"})
	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
