// Package lifecycle runs evaluation ticks over both reminder sources and
// carries every write through the session guard and the merge engine.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"github.com/dukerupert/dosekeeper/internal/merge"
	"github.com/dukerupert/dosekeeper/internal/model"
	"github.com/dukerupert/dosekeeper/internal/notify"
	"github.com/dukerupert/dosekeeper/internal/recurrence"
	"github.com/dukerupert/dosekeeper/internal/session"
	"github.com/dukerupert/dosekeeper/internal/source"
	"github.com/dukerupert/dosekeeper/internal/store"
)

// Guard is the part of the session guard the engine uses directly.
type Guard interface {
	Check(op session.Operation) (session.Decision, error)
	Login(ctx context.Context, id model.Identity) error
	Revoke()
	Status() session.Validity
	Credential() (model.Credential, bool)
}

// GatedSource is the linked adapter.
type GatedSource interface {
	source.Adapter
	DropCache()
}

// Purger deletes whole namespaces of local persistence in one transaction.
type Purger interface {
	Purge(namespaces ...string) error
}

type Options struct {
	TickInterval time.Duration
	Classify     recurrence.Options
}

type Engine struct {
	linked     GatedSource
	open       source.Adapter
	merger     *merge.Engine
	dispatcher *notify.Dispatcher
	guard      Guard
	kv         Purger
	clk        clock.Clock
	opts       Options
	logger     *slog.Logger

	// tickMu is held for the whole of a tick; overlapping ticks are skipped.
	tickMu sync.Mutex

	mu       sync.RWMutex
	timeline []model.TimelineEntry
	byKey    map[model.Key]model.TimelineEntry

	// epoch advances on logout and on an account switch. Linked write
	// results obtained under an older epoch are discarded.
	sessionMu sync.Mutex
	epoch     uint64

	kick chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(
	linked GatedSource,
	open source.Adapter,
	merger *merge.Engine,
	dispatcher *notify.Dispatcher,
	guard Guard,
	kv Purger,
	clk clock.Clock,
	opts Options,
	logger *slog.Logger,
) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 30 * time.Second
	}
	if opts.Classify == (recurrence.Options{}) {
		opts.Classify = recurrence.DefaultOptions()
	}
	return &Engine{
		linked:     linked,
		open:       open,
		merger:     merger,
		dispatcher: dispatcher,
		guard:      guard,
		kv:         kv,
		clk:        clk,
		opts:       opts,
		logger:     logger,
		byKey:      make(map[model.Key]model.TimelineEntry),
		kick:       make(chan struct{}, 1),
	}
}

// Tick runs one evaluation pass: list both sources, merge, classify each
// record, dispatch. It reports false if another tick was already running.
func (e *Engine) Tick(ctx context.Context) bool {
	if !e.tickMu.TryLock() {
		e.logger.Debug("tick skipped, previous tick still running")
		return false
	}
	defer e.tickMu.Unlock()

	linkedBatch, linkedErr := e.linked.List(ctx)
	openBatch, openErr := e.open.List(ctx)

	gated := e.merger.Ingest(model.SourceLinked, linkedBatch, linkedErr)
	open := e.merger.Ingest(model.SourceStandalone, openBatch, openErr)
	merged := e.merger.Merge(gated, open)

	now := e.clk.Now()
	e.mu.RLock()
	prev := e.byKey
	e.mu.RUnlock()

	entries := make([]model.TimelineEntry, 0, len(merged))
	byKey := make(map[model.Key]model.TimelineEntry, len(merged))
	for _, r := range merged {
		key := r.Key()
		pending := e.merger.IsPending(key)
		if pending {
			if p, ok := prev[key]; ok {
				p.Pending = true
				entries = append(entries, p)
				byKey[key] = p
				continue
			}
		}

		res, err := recurrence.Classify(r, now, e.opts.Classify)
		if err != nil {
			e.logger.Warn("dropping malformed reminder", "reminder", key.String(), "error", err)
			continue
		}
		entry := model.TimelineEntry{
			Reminder:         r,
			State:            res.State,
			ScheduledAt:      res.ScheduledAt,
			NextOccurrenceAt: res.NextOccurrenceAt,
			SecondsFromNow:   res.SecondsFromNow,
			Pending:          pending,
		}
		entries = append(entries, entry)
		byKey[key] = entry
	}

	e.dispatcher.Dispatch(e.publish(entries, byKey))
	return true
}

// publish swaps in a freshly computed timeline and returns what was kept.
// Keys excluded after the merge, by a delete that raced the tick, are
// dropped under the same lock hide takes.
func (e *Engine) publish(entries []model.TimelineEntry, byKey map[model.Key]model.TimelineEntry) []model.TimelineEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := make([]model.TimelineEntry, 0, len(entries))
	for _, entry := range entries {
		key := entry.Reminder.Key()
		if e.merger.IsExcluded(key) {
			delete(byKey, key)
			continue
		}
		kept = append(kept, entry)
	}
	e.timeline, e.byKey = kept, byKey
	return kept
}

// Snapshot returns the timeline computed by the last tick.
func (e *Engine) Snapshot() []model.TimelineEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.TimelineEntry, len(e.timeline))
	copy(out, e.timeline)
	return out
}

// Badge returns the live due plus overdue count.
func (e *Engine) Badge() int {
	return e.dispatcher.Count()
}

// Start begins ticking: once immediately, then every TickInterval and after
// each write.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	e.runMu.Unlock()

	go func() {
		defer close(e.done)
		e.Tick(ctx)

		ticker := time.NewTicker(e.opts.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Tick(ctx)
			case <-e.kick:
				e.Tick(ctx)
			}
		}
	}()
}

// Stop ends the tick loop and waits for the running tick to finish.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel := e.cancel
	done := e.done
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// requestTick asks the loop for a reconciling tick without blocking.
func (e *Engine) requestTick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) adapter(kind model.SourceKind) (source.Adapter, error) {
	switch kind {
	case model.SourceLinked:
		return e.linked, nil
	case model.SourceStandalone:
		return e.open, nil
	}
	return nil, &ValidationError{Field: "source_kind", Message: "must be linked or standalone"}
}

// precheck refuses linked writes up front so nothing optimistic happens
// under an unusable session. The returned epoch must be handed to commit.
func (e *Engine) precheck(kind model.SourceKind) (uint64, error) {
	epoch := e.sessionEpoch()
	if d, err := e.guard.Check(session.Write(kind)); d != session.Authorized {
		return 0, err
	}
	return epoch, nil
}

func (e *Engine) sessionEpoch() uint64 {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	return e.epoch
}

// commit applies fn unless the session ended since epoch was read. Standalone
// keys are not session-owned and always commit.
func (e *Engine) commit(key model.Key, epoch uint64, fn func()) {
	if key.Kind != model.SourceLinked {
		fn()
		return
	}
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	if e.epoch != epoch {
		e.logger.Info("discarding write result from an ended session", "reminder", key.String())
		return
	}
	fn()
}

// endSession advances the epoch so in-flight linked writes cannot commit
// into state that is about to be purged.
func (e *Engine) endSession() {
	e.sessionMu.Lock()
	e.epoch++
	e.sessionMu.Unlock()
}

// Create validates and stores a new reminder.
func (e *Engine) Create(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	if err := Validate(&r); err != nil {
		return model.Reminder{}, err
	}
	a, err := e.adapter(r.Kind)
	if err != nil {
		return model.Reminder{}, err
	}
	epoch, err := e.precheck(r.Kind)
	if err != nil {
		return model.Reminder{}, err
	}

	r.ID = ""
	created, err := a.Create(ctx, r)
	if err != nil {
		return model.Reminder{}, err
	}
	e.commit(created.Key(), epoch, func() { e.merger.Remember(created) })
	e.requestTick()
	return created, nil
}

// Update replaces a reminder's schedule and label. Updating an id that is
// already gone succeeds without effect.
func (e *Engine) Update(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	if err := Validate(&r); err != nil {
		return model.Reminder{}, err
	}
	if r.ID == "" {
		return model.Reminder{}, &ValidationError{Field: "id", Message: "is required"}
	}
	a, err := e.adapter(r.Kind)
	if err != nil {
		return model.Reminder{}, err
	}
	epoch, err := e.precheck(r.Kind)
	if err != nil {
		return model.Reminder{}, err
	}

	key := r.Key()
	seq := e.merger.BeginWrite(key)
	updated, err := a.Update(ctx, r)
	latest := e.merger.EndWrite(key, seq)
	defer e.requestTick()

	if errors.Is(err, model.ErrNotFound) {
		e.logger.Info("update target already removed", "reminder", key.String())
		e.merger.Forget(key)
		return r, nil
	}
	if err != nil {
		return model.Reminder{}, err
	}
	if latest {
		e.commit(key, epoch, func() { e.merger.Remember(updated) })
	}
	return updated, nil
}

// Delete removes a reminder. It disappears from every later tick at once and
// stays hidden even if an in-flight fetch still returns it.
func (e *Engine) Delete(ctx context.Context, key model.Key) error {
	a, err := e.adapter(key.Kind)
	if err != nil {
		return err
	}
	epoch, err := e.precheck(key.Kind)
	if err != nil {
		return err
	}

	e.merger.Exclude(key)
	e.hide(key)
	seq := e.merger.BeginWrite(key)
	err = a.Delete(ctx, key.ID)
	latest := e.merger.EndWrite(key, seq)
	defer e.requestTick()

	if err != nil && !errors.Is(err, model.ErrNotFound) {
		if latest {
			e.merger.Unexclude(key)
		}
		return err
	}
	e.merger.Forget(key)
	e.commit(key, epoch, func() { e.merger.ClearOverride(key) })
	return nil
}

// Toggle flips a reminder's active flag optimistically. A refused or failed
// write leaves the visible state unchanged.
func (e *Engine) Toggle(ctx context.Context, key model.Key, active bool) (model.Reminder, error) {
	a, err := e.adapter(key.Kind)
	if err != nil {
		return model.Reminder{}, err
	}
	epoch, err := e.precheck(key.Kind)
	if err != nil {
		return model.Reminder{}, err
	}

	seq := e.merger.BeginWrite(key)
	e.commit(key, epoch, func() { e.merger.SetOverride(key, active, e.clk.Now()) })
	updated, err := a.Toggle(ctx, key.ID, active)
	latest := e.merger.EndWrite(key, seq)
	defer e.requestTick()

	if err != nil {
		if latest {
			e.merger.ClearOverride(key)
		}
		if errors.Is(err, model.ErrNotFound) {
			e.merger.Forget(key)
		}
		return model.Reminder{}, err
	}
	if latest {
		e.commit(key, epoch, func() { e.merger.Remember(updated) })
	}
	return updated, nil
}

// MarkTaken records that today's dose was taken at the given instant (now if
// zero).
func (e *Engine) MarkTaken(ctx context.Context, key model.Key, at time.Time) (model.Reminder, error) {
	return e.record(ctx, key, model.ActionTaken, at)
}

// Skip records that today's dose was deliberately skipped.
func (e *Engine) Skip(ctx context.Context, key model.Key, at time.Time) (model.Reminder, error) {
	return e.record(ctx, key, model.ActionSkipped, at)
}

func (e *Engine) record(ctx context.Context, key model.Key, action model.Action, at time.Time) (model.Reminder, error) {
	a, err := e.adapter(key.Kind)
	if err != nil {
		return model.Reminder{}, err
	}
	now := e.clk.Now()
	if at.IsZero() {
		at = now
	}
	if at.After(now.Add(e.opts.Classify.DueTolerance)) {
		return model.Reminder{}, &ValidationError{Field: "at", Message: "must not be in the future"}
	}
	epoch, err := e.precheck(key.Kind)
	if err != nil {
		return model.Reminder{}, err
	}

	seq := e.merger.BeginWrite(key)
	updated, err := a.Record(ctx, key.ID, action, at)
	latest := e.merger.EndWrite(key, seq)
	defer e.requestTick()
	if err != nil {
		return model.Reminder{}, fmt.Errorf("%s %s: %w", action, key, err)
	}
	if latest {
		e.commit(key, epoch, func() { e.merger.Remember(updated) })
	}
	return updated, nil
}

// hide drops key from the current timeline without waiting for a tick.
func (e *Engine) hide(key model.Key) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byKey[key]; !ok {
		return
	}
	// Tick reads the previous map without the lock, so replace rather than mutate.
	byKey := make(map[model.Key]model.TimelineEntry, len(e.byKey))
	kept := make([]model.TimelineEntry, 0, len(e.timeline))
	for _, entry := range e.timeline {
		if k := entry.Reminder.Key(); k != key {
			kept = append(kept, entry)
			byKey[k] = entry
		}
	}
	e.timeline, e.byKey = kept, byKey
}

// Login installs a credential. Session state left by a different account is
// purged first.
func (e *Engine) Login(ctx context.Context, id model.Identity) error {
	before, hadBefore := e.guard.Credential()
	if err := e.guard.Login(ctx, id); err != nil {
		return err
	}
	after, _ := e.guard.Credential()
	if hadBefore && before.Subject != after.Subject {
		e.endSession()
		e.linked.DropCache()
		err := e.merger.PurgeAll(func() error {
			return e.kv.Purge(store.NamespaceOverrides, store.NamespaceLinkedCache)
		})
		if err != nil {
			e.logger.Error("failed to purge previous account state", "error", err)
		}
	}
	e.requestTick()
	return nil
}

// Logout forgets the credential and purges every session-owned key in one
// transaction, then re-evaluates so only standalone reminders remain.
func (e *Engine) Logout(ctx context.Context) error {
	// Wait out a running tick so it cannot repopulate what is purged here.
	e.tickMu.Lock()
	e.endSession()
	e.guard.Revoke()
	e.linked.DropCache()
	err := e.merger.PurgeAll(func() error {
		return e.kv.Purge(store.SessionNamespaces...)
	})
	e.tickMu.Unlock()
	if err != nil {
		e.logger.Error("logout purge failed", "error", err)
	}

	e.Tick(ctx)
	return err
}
