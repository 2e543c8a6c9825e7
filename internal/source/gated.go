package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/dosekeeper/internal/model"
	"github.com/dukerupert/dosekeeper/internal/session"
)

// GatedAdapter serves linked reminders. Nothing leaves it unless the session
// guard authorizes the read, and its cache is dropped as soon as the session
// is known to be unusable.
type GatedAdapter struct {
	guard   Authorizer
	backend LinkedBackend
	cache   Cache
	logger  *slog.Logger

	// epoch advances on every DropCache; results fetched under an older
	// epoch are not cached.
	mu    sync.Mutex
	epoch uint64
}

func NewGatedAdapter(guard Authorizer, backend LinkedBackend, cache Cache, logger *slog.Logger) *GatedAdapter {
	return &GatedAdapter{guard: guard, backend: backend, cache: cache, logger: logger}
}

func (a *GatedAdapter) Kind() model.SourceKind { return model.SourceLinked }

// List returns an empty refused batch, never an error, when the session is
// missing or expired.
func (a *GatedAdapter) List(ctx context.Context) (Batch, error) {
	epoch := a.currentEpoch()
	token, ok := a.authorize(ctx, session.Read(model.SourceLinked))
	if !ok {
		a.DropCache()
		return Batch{Kind: model.SourceLinked, Refused: true}, nil
	}

	reminders, err := a.backend.ListLinked(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrSessionExpired) || errors.Is(err, model.ErrUnauthenticated) {
			a.DropCache()
			return Batch{Kind: model.SourceLinked, Refused: true}, nil
		}
		cached, cerr := a.cache.Load()
		if cerr != nil {
			a.logger.Warn("linked cache has unreadable records", "error", cerr)
		}
		if len(cached) == 0 {
			return Batch{}, fmt.Errorf("list linked: %w", err)
		}
		a.logger.Warn("serving cached linked reminders", "error", err, "count", len(cached))
		return Batch{Kind: model.SourceLinked, Reminders: tag(cached, model.SourceLinked)}, nil
	}

	a.attachLabels(ctx, token, reminders)
	reminders = tag(reminders, model.SourceLinked)
	a.mu.Lock()
	if a.epoch != epoch {
		a.mu.Unlock()
		return Batch{Kind: model.SourceLinked, Refused: true}, nil
	}
	if err := a.cache.Replace(reminders); err != nil {
		a.logger.Error("failed to cache linked reminders", "error", err)
	}
	a.mu.Unlock()
	return Batch{Kind: model.SourceLinked, Reminders: reminders, Confirmed: true}, nil
}

// attachLabels sets each reminder's label to its medicine's display name.
// A failed medicine lookup keeps whatever label the backend sent.
func (a *GatedAdapter) attachLabels(ctx context.Context, token string, reminders []model.Reminder) {
	meds, err := a.backend.ListMedicines(ctx, token)
	if err != nil {
		a.logger.Warn("failed to list medicines", "error", err)
		return
	}
	names := make(map[string]string, len(meds))
	for _, m := range meds {
		names[m.ID] = m.Name
	}
	for i := range reminders {
		if name, ok := names[reminders[i].MedicineID]; ok && name != "" {
			reminders[i].Label = name
		}
	}
}

func (a *GatedAdapter) authorize(ctx context.Context, op session.Operation) (string, bool) {
	if err := a.guard.Authorize(ctx, op); err != nil {
		return "", false
	}
	return a.guard.Token()
}

// writeToken authorizes a write and returns the refusal as an error.
func (a *GatedAdapter) writeToken(ctx context.Context) (string, error) {
	if err := a.guard.Authorize(ctx, session.Write(model.SourceLinked)); err != nil {
		return "", err
	}
	token, ok := a.guard.Token()
	if !ok {
		return "", &session.Refusal{Reason: model.ErrSessionExpired}
	}
	return token, nil
}

func (a *GatedAdapter) Create(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	epoch := a.currentEpoch()
	token, err := a.writeToken(ctx)
	if err != nil {
		return model.Reminder{}, err
	}
	created, err := a.backend.CreateLinked(ctx, token, r)
	if err != nil {
		return model.Reminder{}, fmt.Errorf("create linked: %w", err)
	}
	created.Kind = model.SourceLinked
	a.store(epoch, created)
	return created, nil
}

func (a *GatedAdapter) Update(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	epoch := a.currentEpoch()
	token, err := a.writeToken(ctx)
	if err != nil {
		return model.Reminder{}, err
	}
	updated, err := a.backend.UpdateLinked(ctx, token, r)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			a.forget(epoch, r.ID)
		}
		return model.Reminder{}, fmt.Errorf("update linked: %w", err)
	}
	updated.Kind = model.SourceLinked
	a.store(epoch, updated)
	return updated, nil
}

// Delete treats an already-removed id as success.
func (a *GatedAdapter) Delete(ctx context.Context, id string) error {
	epoch := a.currentEpoch()
	token, err := a.writeToken(ctx)
	if err != nil {
		return err
	}
	if err := a.backend.DeleteLinked(ctx, token, id); err != nil && !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("delete linked: %w", err)
	}
	a.forget(epoch, id)
	return nil
}

func (a *GatedAdapter) Toggle(ctx context.Context, id string, active bool) (model.Reminder, error) {
	epoch := a.currentEpoch()
	token, err := a.writeToken(ctx)
	if err != nil {
		return model.Reminder{}, err
	}
	updated, err := a.backend.ToggleLinked(ctx, token, id, active)
	if err != nil {
		return model.Reminder{}, fmt.Errorf("toggle linked: %w", err)
	}
	updated.Kind = model.SourceLinked
	a.store(epoch, updated)
	return updated, nil
}

func (a *GatedAdapter) Record(ctx context.Context, id string, action model.Action, at time.Time) (model.Reminder, error) {
	epoch := a.currentEpoch()
	token, err := a.writeToken(ctx)
	if err != nil {
		return model.Reminder{}, err
	}
	updated, err := a.backend.RecordLinked(ctx, token, id, action, at)
	if err != nil {
		return model.Reminder{}, fmt.Errorf("record %s: %w", action, err)
	}
	updated.Kind = model.SourceLinked
	a.store(epoch, updated)
	return updated, nil
}

// DropCache discards every cached linked record. Writes and listings still in
// flight when it runs leave the cache untouched.
func (a *GatedAdapter) DropCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.epoch++
	if err := a.cache.Clear(); err != nil {
		a.logger.Error("failed to drop linked cache", "error", err)
	}
}

func (a *GatedAdapter) currentEpoch() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch
}

func (a *GatedAdapter) store(epoch uint64, r model.Reminder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch {
		a.logger.Debug("skipping cache write from a dropped session", "reminder", r.ID)
		return
	}
	if err := a.cache.Put(r); err != nil {
		a.logger.Error("failed to cache linked reminder", "reminder", r.ID, "error", err)
	}
}

func (a *GatedAdapter) forget(epoch uint64, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch {
		return
	}
	if err := a.cache.Delete(id); err != nil {
		a.logger.Error("failed to evict linked reminder", "reminder", id, "error", err)
	}
}
