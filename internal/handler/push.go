package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// PushSubscriptions persists browser push endpoints.
type PushSubscriptions interface {
	CreateSubscription(endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

type PushHandler struct {
	subs      PushSubscriptions
	publicKey string
	logger    *slog.Logger
}

func NewPushHandler(subs PushSubscriptions, vapidPublicKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{subs: subs, publicKey: vapidPublicKey, logger: logger}
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscribe
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}

	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "endpoint, p256dh, and auth are required"})
		return
	}

	sub, err := h.subs.CreateSubscription(req.Endpoint, req.P256dh, req.Auth, req.DeviceName)
	if err != nil {
		h.logger.Error("create push subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to save subscription"})
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe handles DELETE /api/push/subscribe
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Endpoint == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "endpoint is required"})
		return
	}

	if err := h.subs.DeleteByEndpoint(req.Endpoint); err != nil {
		h.logger.Error("delete push subscription", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to delete subscription"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.publicKey})
}
