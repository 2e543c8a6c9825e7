package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/dosekeeper/internal/lifecycle"
	"github.com/dukerupert/dosekeeper/internal/model"
	"github.com/dukerupert/dosekeeper/internal/recurrence"
	"github.com/dukerupert/dosekeeper/internal/session"
)

// Lifecycle is the reminder engine as seen by the HTTP surface.
type Lifecycle interface {
	Snapshot() []model.TimelineEntry
	Badge() int
	Create(ctx context.Context, r model.Reminder) (model.Reminder, error)
	Update(ctx context.Context, r model.Reminder) (model.Reminder, error)
	Delete(ctx context.Context, key model.Key) error
	Toggle(ctx context.Context, key model.Key, active bool) (model.Reminder, error)
	MarkTaken(ctx context.Context, key model.Key, at time.Time) (model.Reminder, error)
	Skip(ctx context.Context, key model.Key, at time.Time) (model.Reminder, error)
	Login(ctx context.Context, id model.Identity) error
	Logout(ctx context.Context) error
}

// SessionStatus reports the current credential without side effects.
type SessionStatus interface {
	Status() session.Validity
	Credential() (model.Credential, bool)
}

type ReminderHandler struct {
	engine  Lifecycle
	session SessionStatus
	logger  *slog.Logger
}

func NewReminderHandler(engine Lifecycle, status SessionStatus, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{engine: engine, session: status, logger: logger}
}

type timelineEntry struct {
	model.TimelineEntry
	Schedule string `json:"schedule,omitempty"`
}

type timelineResponse struct {
	Entries []timelineEntry `json:"entries"`
	Badge   int             `json:"badge"`
	Session string          `json:"session"`
}

// Timeline handles GET /api/timeline
func (h *ReminderHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	snapshot := h.engine.Snapshot()
	entries := make([]timelineEntry, 0, len(snapshot))
	for _, e := range snapshot {
		te := timelineEntry{TimelineEntry: e}
		if rule, err := recurrence.NewRule(e.Reminder); err == nil {
			te.Schedule = rule.Describe(e.Reminder.TimeOfDay)
		}
		entries = append(entries, te)
	}
	writeJSON(w, http.StatusOK, timelineResponse{
		Entries: entries,
		Badge:   h.engine.Badge(),
		Session: h.session.Status().String(),
	})
}

// Badge handles GET /api/badge
func (h *ReminderHandler) Badge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.engine.Badge()})
}

// Create handles POST /api/reminders
func (h *ReminderHandler) Create(w http.ResponseWriter, r *http.Request) {
	rem, ok := h.decodeReminder(w, r)
	if !ok {
		return
	}

	created, err := h.engine.Create(r.Context(), rem)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Update handles PUT /api/reminders/{kind}/{id}
func (h *ReminderHandler) Update(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}

	rem, ok := h.decodeReminder(w, r)
	if !ok {
		return
	}
	rem.Kind, rem.ID = key.Kind, key.ID

	updated, err := h.engine.Update(r.Context(), rem)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/reminders/{kind}/{id}
func (h *ReminderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	if err := h.engine.Delete(r.Context(), key); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleRequest struct {
	Active bool `json:"active"`
}

// Toggle handles POST /api/reminders/{kind}/{id}/toggle
func (h *ReminderHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}

	var req toggleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "validation"})
		return
	}

	updated, err := h.engine.Toggle(r.Context(), key, req.Active)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type recordRequest struct {
	At *time.Time `json:"at,omitempty"`
}

// Taken handles POST /api/reminders/{kind}/{id}/taken
func (h *ReminderHandler) Taken(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, h.engine.MarkTaken)
}

// Skip handles POST /api/reminders/{kind}/{id}/skip
func (h *ReminderHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, h.engine.Skip)
}

func (h *ReminderHandler) record(
	w http.ResponseWriter,
	r *http.Request,
	apply func(context.Context, model.Key, time.Time) (model.Reminder, error),
) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}

	// The body is optional; an empty one means now.
	var req recordRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "validation"})
		return
	}
	var at time.Time
	if req.At != nil {
		at = *req.At
	}

	updated, err := apply(r.Context(), key, at)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ReminderHandler) decodeReminder(w http.ResponseWriter, r *http.Request) (model.Reminder, bool) {
	var req lifecycle.ReminderInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Code: "validation"})
		return model.Reminder{}, false
	}
	rem, err := req.Reminder()
	if err != nil {
		writeError(w, h.logger, err)
		return model.Reminder{}, false
	}
	return rem, true
}

func (h *ReminderHandler) key(w http.ResponseWriter, r *http.Request) (model.Key, bool) {
	kind, err := model.ParseSourceKind(r.PathValue("kind"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown reminder kind", Code: "validation", Field: "kind"})
		return model.Key{}, false
	}
	id := r.PathValue("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id is required", Code: "validation", Field: "id"})
		return model.Key{}, false
	}
	return model.Key{Kind: kind, ID: id}, true
}
