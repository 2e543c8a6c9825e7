package merge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/dosekeeper/internal/model"
	"github.com/dukerupert/dosekeeper/internal/source"
)

// OverrideStore persists the override map.
type OverrideStore interface {
	Load() (map[model.Key]model.Override, error)
	Put(key model.Key, o model.Override) error
	Delete(key model.Key) error
}

// Engine holds the mutable merge state: overrides, exclusions, pending
// writes and the last good record set of each source. All of it is reached
// only through Engine methods.
type Engine struct {
	store  OverrideStore
	logger *slog.Logger

	mu        sync.Mutex
	overrides map[model.Key]model.Override
	excluded  map[model.Key]struct{}
	pending   map[model.Key]uint64
	seq       uint64
	lastGood  map[model.SourceKind][]model.Reminder
}

func NewEngine(store OverrideStore, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		logger:    logger,
		overrides: make(map[model.Key]model.Override),
		excluded:  make(map[model.Key]struct{}),
		pending:   make(map[model.Key]uint64),
		lastGood:  make(map[model.SourceKind][]model.Reminder),
	}
}

// Load restores persisted overrides. Unreadable entries are dropped.
func (e *Engine) Load() error {
	overrides, err := e.store.Load()
	if err != nil && overrides == nil {
		return fmt.Errorf("load overrides: %w", err)
	}
	if err != nil {
		e.logger.Warn("dropping unreadable overrides", "error", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, o := range overrides {
		e.overrides[k] = o
	}
	return nil
}

// Ingest records one source's fetch result and returns the records to merge.
//
// A fetch error yields the last good set for the source. A refused batch
// forgets that set. A confirmed batch expires exclusions for ids it no longer
// contains and clears overrides it confirms or supersedes, unless a write to
// that id is still pending.
func (e *Engine) Ingest(kind model.SourceKind, b source.Batch, fetchErr error) []model.Reminder {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fetchErr != nil {
		e.logger.Warn("fetch failed, using last good set", "source", kind, "error", fetchErr)
		return e.filterLocked(e.lastGood[kind])
	}
	if b.Refused {
		delete(e.lastGood, kind)
		return nil
	}

	byID := make(map[string]model.Reminder, len(b.Reminders))
	for _, r := range b.Reminders {
		byID[r.ID] = r
	}

	if b.Confirmed {
		for key := range e.excluded {
			if key.Kind != kind {
				continue
			}
			_, present := byID[key.ID]
			if _, busy := e.pending[key]; !present && !busy {
				delete(e.excluded, key)
			}
		}
		for key, o := range e.overrides {
			if key.Kind != kind {
				continue
			}
			if _, busy := e.pending[key]; busy {
				continue
			}
			r, present := byID[key.ID]
			if !present || r.IsActive == o.Active || r.UpdatedAt.After(o.SetAt) {
				e.clearOverrideLocked(key)
			}
		}
	}

	kept := e.filterLocked(b.Reminders)
	e.lastGood[kind] = kept
	return kept
}

// Merge combines the ingested sets with overrides applied and exclusions
// removed.
func (e *Engine) Merge(gated, open []model.Reminder) []model.Reminder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Merge(e.filterLocked(gated), e.filterLocked(open), e.overrides)
}

func (e *Engine) filterLocked(rs []model.Reminder) []model.Reminder {
	out := make([]model.Reminder, 0, len(rs))
	for _, r := range rs {
		if _, gone := e.excluded[r.Key()]; gone {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// SetOverride applies a local active flag until a fetch confirms it.
func (e *Engine) SetOverride(key model.Key, active bool, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := model.Override{Active: active, SetAt: at}
	e.overrides[key] = o
	if err := e.store.Put(key, o); err != nil {
		e.logger.Error("failed to persist override", "reminder", key, "error", err)
	}
}

func (e *Engine) ClearOverride(key model.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clearOverrideLocked(key)
}

func (e *Engine) clearOverrideLocked(key model.Key) {
	if _, ok := e.overrides[key]; !ok {
		return
	}
	delete(e.overrides, key)
	if err := e.store.Delete(key); err != nil {
		e.logger.Error("failed to delete override", "reminder", key, "error", err)
	}
}

// Override returns the override for key, if one is set.
func (e *Engine) Override(key model.Key) (model.Override, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.overrides[key]
	return o, ok
}

// Exclude hides key from every later result until a confirmed fetch shows
// it absent.
func (e *Engine) Exclude(key model.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.excluded[key] = struct{}{}
}

// Unexclude restores key after a failed delete.
func (e *Engine) Unexclude(key model.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.excluded, key)
}

func (e *Engine) IsExcluded(key model.Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.excluded[key]
	return ok
}

// BeginWrite marks key as having a write in flight and returns its sequence.
func (e *Engine) BeginWrite(key model.Key) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.pending[key] = e.seq
	return e.seq
}

// EndWrite completes the write with sequence seq. It reports whether seq was
// the latest write for key; a superseded write must not apply its result.
func (e *Engine) EndWrite(key model.Key, seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	latest, ok := e.pending[key]
	if !ok || latest != seq {
		return false
	}
	delete(e.pending, key)
	return true
}

func (e *Engine) IsPending(key model.Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[key]
	return ok
}

// Remember folds a confirmed write result into the last good set so a
// failing fetch still shows it.
func (e *Engine) Remember(r model.Reminder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.lastGood[r.Kind]
	for i := range set {
		if set[i].ID == r.ID {
			set[i] = r.Clone()
			return
		}
	}
	e.lastGood[r.Kind] = append(set, r.Clone())
}

// Forget drops key from the last good set.
func (e *Engine) Forget(key model.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.lastGood[key.Kind]
	for i := range set {
		if set[i].ID == key.ID {
			e.lastGood[key.Kind] = append(set[:i:i], set[i+1:]...)
			return
		}
	}
}

// PurgeAll discards all session-dependent state. purge runs under the
// engine's lock and is expected to delete the persisted copy atomically;
// in-memory state is cleared even when it fails.
func (e *Engine) PurgeAll(purge func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if purge != nil {
		err = purge()
	}
	e.overrides = make(map[model.Key]model.Override)
	for key := range e.excluded {
		if key.Kind == model.SourceLinked {
			delete(e.excluded, key)
		}
	}
	delete(e.lastGood, model.SourceLinked)
	if err != nil {
		return fmt.Errorf("purge session state: %w", err)
	}
	return nil
}
