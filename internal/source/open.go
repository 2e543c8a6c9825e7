package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// OpenAdapter serves standalone reminders. Writes land in the local store
// first and are rolled back if the backend rejects them. With a nil backend
// the local store is the source of truth.
type OpenAdapter struct {
	backend StandaloneBackend
	cache   Cache
	clk     clock.Clock
	logger  *slog.Logger

	// mu serializes read-modify-write sequences on the local store.
	mu sync.Mutex
}

func NewOpenAdapter(backend StandaloneBackend, cache Cache, clk clock.Clock, logger *slog.Logger) *OpenAdapter {
	return &OpenAdapter{backend: backend, cache: cache, clk: clk, logger: logger}
}

func (a *OpenAdapter) Kind() model.SourceKind { return model.SourceStandalone }

// LocalOnly reports whether there is no remote backend.
func (a *OpenAdapter) LocalOnly() bool {
	return a.backend == nil
}

func (a *OpenAdapter) List(ctx context.Context) (Batch, error) {
	if a.backend == nil {
		local, err := a.loadLocal()
		if err != nil {
			return Batch{}, err
		}
		return Batch{Kind: model.SourceStandalone, Reminders: local, Confirmed: true}, nil
	}

	reminders, err := a.backend.ListStandalone(ctx)
	if err != nil {
		local, lerr := a.loadLocal()
		if lerr != nil {
			return Batch{}, fmt.Errorf("list standalone: %w", errors.Join(err, lerr))
		}
		a.logger.Warn("serving local standalone reminders", "error", err, "count", len(local))
		return Batch{Kind: model.SourceStandalone, Reminders: local}, nil
	}

	reminders = tag(reminders, model.SourceStandalone)
	if err := a.cache.Replace(reminders); err != nil {
		a.logger.Error("failed to store standalone reminders", "error", err)
	}
	return Batch{Kind: model.SourceStandalone, Reminders: reminders, Confirmed: true}, nil
}

// loadLocal returns the decodable local records. Unreadable ones are logged
// and left out.
func (a *OpenAdapter) loadLocal() ([]model.Reminder, error) {
	local, err := a.cache.Load()
	if err != nil && !errors.Is(err, model.ErrMalformed) {
		return nil, err
	}
	if err != nil {
		a.logger.Warn("standalone store has unreadable records", "error", err)
	}
	return tag(local, model.SourceStandalone), nil
}

func (a *OpenAdapter) Create(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clk.Now()
	r.Kind = model.SourceStandalone
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if err := a.cache.Put(r); err != nil {
		return model.Reminder{}, fmt.Errorf("store standalone: %w", err)
	}
	if a.backend == nil {
		return r, nil
	}

	created, err := a.backend.CreateStandalone(ctx, r)
	if err != nil {
		a.rollback(r.ID, model.Reminder{}, false)
		return model.Reminder{}, fmt.Errorf("create standalone: %w", err)
	}
	created.Kind = model.SourceStandalone
	if created.ID != r.ID {
		a.rollback(r.ID, model.Reminder{}, false)
	}
	if err := a.cache.Put(created); err != nil {
		a.logger.Error("failed to store created reminder", "reminder", created.ID, "error", err)
	}
	return created, nil
}

func (a *OpenAdapter) Update(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	r.Kind = model.SourceStandalone
	return a.mutate(ctx, r.ID, func(prev model.Reminder) model.Reminder {
		next := r.Clone()
		next.CreatedAt = prev.CreatedAt
		next.LastCompletedAt, next.LastSkippedAt = prev.LastCompletedAt, prev.LastSkippedAt
		if r.LastCompletedAt != nil {
			next.LastCompletedAt = r.LastCompletedAt
		}
		if r.LastSkippedAt != nil {
			next.LastSkippedAt = r.LastSkippedAt
		}
		return next
	}, func(ctx context.Context, next model.Reminder) (model.Reminder, error) {
		return a.backend.UpdateStandalone(ctx, next)
	})
}

func (a *OpenAdapter) Toggle(ctx context.Context, id string, active bool) (model.Reminder, error) {
	return a.mutate(ctx, id, func(prev model.Reminder) model.Reminder {
		next := prev.Clone()
		next.IsActive = active
		return next
	}, func(ctx context.Context, _ model.Reminder) (model.Reminder, error) {
		return a.backend.ToggleStandalone(ctx, id, active)
	})
}

func (a *OpenAdapter) Record(ctx context.Context, id string, action model.Action, at time.Time) (model.Reminder, error) {
	return a.mutate(ctx, id, func(prev model.Reminder) model.Reminder {
		return prev.Apply(action, at)
	}, func(ctx context.Context, _ model.Reminder) (model.Reminder, error) {
		return a.backend.RecordStandalone(ctx, id, action, at)
	})
}

// mutate applies change to the stored record, then confirms with the
// backend. Failure restores the previous record.
func (a *OpenAdapter) mutate(
	ctx context.Context,
	id string,
	change func(prev model.Reminder) model.Reminder,
	remote func(ctx context.Context, next model.Reminder) (model.Reminder, error),
) (model.Reminder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, ok, err := a.cache.Get(id)
	if err != nil {
		return model.Reminder{}, fmt.Errorf("load standalone %s: %w", id, err)
	}
	if !ok && a.backend == nil {
		return model.Reminder{}, fmt.Errorf("standalone %s: %w", id, model.ErrNotFound)
	}

	next := change(prev)
	next.ID = id
	next.Kind = model.SourceStandalone
	next.UpdatedAt = a.clk.Now()
	if err := a.cache.Put(next); err != nil {
		return model.Reminder{}, fmt.Errorf("store standalone: %w", err)
	}
	if a.backend == nil {
		return next, nil
	}

	confirmed, err := remote(ctx, next)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			a.rollback(id, model.Reminder{}, false)
		} else {
			a.rollback(id, prev, ok)
		}
		return model.Reminder{}, fmt.Errorf("update standalone %s: %w", id, err)
	}
	confirmed.Kind = model.SourceStandalone
	if err := a.cache.Put(confirmed); err != nil {
		a.logger.Error("failed to store confirmed reminder", "reminder", id, "error", err)
	}
	return confirmed, nil
}

// Delete removes the record locally, then remotely. A remote not-found is
// success; any other failure restores the record.
func (a *OpenAdapter) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, ok, err := a.cache.Get(id)
	if err != nil {
		return fmt.Errorf("load standalone %s: %w", id, err)
	}
	if err := a.cache.Delete(id); err != nil {
		return fmt.Errorf("delete standalone %s: %w", id, err)
	}
	if a.backend == nil {
		return nil
	}
	if err := a.backend.DeleteStandalone(ctx, id); err != nil && !errors.Is(err, model.ErrNotFound) {
		a.rollback(id, prev, ok)
		return fmt.Errorf("delete standalone %s: %w", id, err)
	}
	return nil
}

func (a *OpenAdapter) rollback(id string, prev model.Reminder, existed bool) {
	var err error
	if existed {
		err = a.cache.Put(prev)
	} else {
		err = a.cache.Delete(id)
	}
	if err != nil {
		a.logger.Error("failed to roll back standalone write", "reminder", id, "error", err)
	}
}
