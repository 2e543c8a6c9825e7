// Package notify turns classified timelines into notification events and a
// live badge count.
package notify

import (
	"log/slog"
	"sync"

	"github.com/jmhodges/clock"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// Sink receives events and badge counts. Implementations must not block;
// errors are logged and dropped.
type Sink interface {
	Notify(ev model.NotificationEvent) error
	Badge(count int) error
}

type dedupKey struct {
	key    model.Key
	state  model.State
	minute int64
}

// Dispatcher emits at most one event per reminder state transition.
type Dispatcher struct {
	clk    clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	last     map[model.Key]model.State
	sent     map[dedupKey]struct{}
	count    int
	counted  bool
	sinks    map[int]Sink
	nextSink int
}

func NewDispatcher(clk clock.Clock, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		clk:    clk,
		logger: logger,
		last:   make(map[model.Key]model.State),
		sent:   make(map[dedupKey]struct{}),
		sinks:  make(map[int]Sink),
	}
}

// Subscribe registers a sink and returns the function that removes it.
func (d *Dispatcher) Subscribe(s Sink) (unsubscribe func()) {
	d.mu.Lock()
	id := d.nextSink
	d.nextSink++
	d.sinks[id] = s
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.sinks, id)
			d.mu.Unlock()
		})
	}
}

// Count returns the due plus overdue count of the last dispatched timeline.
func (d *Dispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Count returns how many entries need attention. It depends on entries only.
func Count(entries []model.TimelineEntry) int {
	n := 0
	for _, e := range entries {
		if e.State.Attention() {
			n++
		}
	}
	return n
}

func eventState(s model.State) bool {
	return s == model.StateDue || s == model.StateOverdue || s == model.StateUpcoming
}

// Dispatch compares entries with the previous tick and delivers an event for
// every reminder whose state changed. The first observation of a reminder
// only fires if it already needs attention. Entries with a pending write keep
// their previous state and fire nothing.
func (d *Dispatcher) Dispatch(entries []model.TimelineEntry) []model.NotificationEvent {
	now := d.clk.Now()
	minute := now.Unix() / 60

	d.mu.Lock()
	var events []model.NotificationEvent
	seen := make(map[model.Key]struct{}, len(entries))
	for _, e := range entries {
		key := e.Reminder.Key()
		seen[key] = struct{}{}
		if e.Pending {
			continue
		}

		prev, known := d.last[key]
		d.last[key] = e.State
		fire := known && prev != e.State || !known && e.State.Attention()
		if !fire || !eventState(e.State) {
			continue
		}

		dk := dedupKey{key: key, state: e.State, minute: minute}
		if _, dup := d.sent[dk]; dup {
			continue
		}
		d.sent[dk] = struct{}{}
		events = append(events, model.NotificationEvent{
			ReminderKey: key,
			Label:       e.Reminder.Label,
			State:       e.State,
			FiredAt:     now,
		})
	}

	for key := range d.last {
		if _, ok := seen[key]; !ok {
			delete(d.last, key)
		}
	}
	for dk := range d.sent {
		if dk.minute < minute-1 {
			delete(d.sent, dk)
		}
	}

	count := Count(entries)
	badgeChanged := !d.counted || count != d.count
	d.count, d.counted = count, true

	sinks := make([]Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		sinks = append(sinks, s)
	}
	d.mu.Unlock()

	for _, s := range sinks {
		for _, ev := range events {
			if err := s.Notify(ev); err != nil {
				d.logger.Warn("notification dropped", "reminder", ev.ReminderKey.String(), "state", ev.State, "error", err)
			}
		}
		if badgeChanged {
			if err := s.Badge(count); err != nil {
				d.logger.Warn("badge update dropped", "count", count, "error", err)
			}
		}
	}
	return events
}
