package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/dosekeeper/internal/model"
)

type SessionHandler struct {
	engine  Lifecycle
	session SessionStatus
	logger  *slog.Logger
}

func NewSessionHandler(engine Lifecycle, status SessionStatus, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{engine: engine, session: status, logger: logger}
}

type sessionResponse struct {
	Status    string     `json:"status"`
	Subject   string     `json:"subject,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *SessionHandler) current() sessionResponse {
	resp := sessionResponse{Status: h.session.Status().String()}
	if cred, ok := h.session.Credential(); ok {
		resp.Subject = cred.Subject
		exp := cred.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

// Status handles GET /api/session
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current())
}

// Login handles POST /api/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.Identity
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "validation"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "email and password are required", Code: "validation"})
		return
	}

	if err := h.engine.Login(r.Context(), req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("signed in")
	writeJSON(w, http.StatusOK, h.current())
}

// Logout handles POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Logout(r.Context()); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("signed out")
	w.WriteHeader(http.StatusNoContent)
}
