package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmhodges/clock"

	"github.com/dukerupert/dosekeeper/internal/handler"
	"github.com/dukerupert/dosekeeper/internal/middleware"
	ws "github.com/dukerupert/dosekeeper/internal/websocket"
)

const (
	loginLimit  = 10
	loginWindow = time.Minute
)

// Config carries the collaborators the HTTP surface serves.
type Config struct {
	Engine  handler.Lifecycle
	Session handler.SessionStatus
	Hub     *ws.Hub
	// Push is nil when web push is not configured.
	Push           handler.PushSubscriptions
	VAPIDPublicKey string
	OriginPatterns []string
	Clock          clock.Clock
}

type Server struct {
	hub         *ws.Hub
	reminderH   *handler.ReminderHandler
	sessionH    *handler.SessionHandler
	pushH       *handler.PushHandler
	origins     []string
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		hub:         cfg.Hub,
		reminderH:   handler.NewReminderHandler(cfg.Engine, cfg.Session, logger.With("component", "reminder")),
		sessionH:    handler.NewSessionHandler(cfg.Engine, cfg.Session, logger.With("component", "session")),
		origins:     cfg.OriginPatterns,
		rateLimiter: middleware.NewRateLimiter(cfg.Clock),
		logger:      logger,
	}
	if cfg.Push != nil {
		s.pushH = handler.NewPushHandler(cfg.Push, cfg.VAPIDPublicKey, logger.With("component", "push_handler"))
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.origins))

	mux.HandleFunc("GET /api/session", s.sessionH.Status)
	mux.HandleFunc("POST /api/session/login", s.rateLimitedHandler(s.sessionH.Login))
	mux.HandleFunc("POST /api/session/logout", s.sessionH.Logout)

	mux.HandleFunc("GET /api/timeline", s.reminderH.Timeline)
	mux.HandleFunc("GET /api/badge", s.reminderH.Badge)
	mux.HandleFunc("POST /api/reminders", s.reminderH.Create)
	mux.HandleFunc("PUT /api/reminders/{kind}/{id}", s.reminderH.Update)
	mux.HandleFunc("DELETE /api/reminders/{kind}/{id}", s.reminderH.Delete)
	mux.HandleFunc("POST /api/reminders/{kind}/{id}/toggle", s.reminderH.Toggle)
	mux.HandleFunc("POST /api/reminders/{kind}/{id}/taken", s.reminderH.Taken)
	mux.HandleFunc("POST /api/reminders/{kind}/{id}/skip", s.reminderH.Skip)

	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscribe", s.pushH.Unsubscribe)
	}

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	return middleware.RateLimit(s.rateLimiter, keyFunc, loginLimit, loginWindow)(h).ServeHTTP
}
