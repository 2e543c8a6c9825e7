package recurrence

import (
	"time"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// Options are the classification thresholds.
type Options struct {
	// DueTolerance is how long after the scheduled instant a reminder stays due.
	DueTolerance time.Duration
	// OverdueWindow is how long after the scheduled instant a missed reminder
	// stays overdue before rolling to its next occurrence.
	OverdueWindow time.Duration
}

func DefaultOptions() Options {
	return Options{
		DueTolerance:  60 * time.Second,
		OverdueWindow: 24 * time.Hour,
	}
}

// Result is the classification of one reminder at one instant.
type Result struct {
	State model.State
	// ScheduledAt is today's occurrence when the state refers to it
	// (due, overdue, taken, skipped).
	ScheduledAt      *time.Time
	NextOccurrenceAt *time.Time
	SecondsFromNow   int64
}

// Classify determines the lifecycle state of a reminder at now. It is pure:
// the same inputs always yield the same result. An error means the stored
// reminder is malformed; inactive and as-needed reminders are not errors.
//
// Only the occurrence on now's calendar date can be due or overdue. A reminder
// is due from its scheduled instant through DueTolerance, overdue after that
// until OverdueWindow elapses or the day ends, and upcoming otherwise. A taken
// or skipped action recorded on the same day marks that day's occurrence.
func Classify(r model.Reminder, now time.Time, opts Options) (Result, error) {
	if !r.IsActive {
		return Result{State: model.StateInactive}, nil
	}

	rule, err := NewRule(r)
	if err != nil {
		return Result{}, err
	}
	if rule.Freq == model.FrequencyAsNeeded {
		return Result{State: model.StateUpcoming}, nil
	}

	now = now.Truncate(time.Second)
	today := startOfDay(now)

	if s, ok := rule.occurrenceOn(today, r.TimeOfDay); ok {
		if state, acted := actionOn(r, today, now); acted {
			res := Result{State: state, ScheduledAt: &s}
			after := now
			if s.After(after) {
				after = s
			}
			res.setNext(rule, r.TimeOfDay, after, now)
			return res, nil
		}

		if !now.Before(s) {
			elapsed := now.Sub(s)
			switch {
			case elapsed <= opts.DueTolerance:
				res := Result{State: model.StateDue, ScheduledAt: &s}
				res.setNext(rule, r.TimeOfDay, now, now)
				return res, nil
			case elapsed < opts.OverdueWindow:
				res := Result{State: model.StateOverdue, ScheduledAt: &s}
				res.setNext(rule, r.TimeOfDay, now, now)
				return res, nil
			}
			// Rolled over: fall through to the next occurrence.
		}
	}

	res := Result{State: model.StateUpcoming}
	res.setNext(rule, r.TimeOfDay, now, now)
	return res, nil
}

func (res *Result) setNext(rule Rule, at model.TimeOfDay, after, now time.Time) {
	next, ok := rule.Next(at, after)
	if !ok {
		return
	}
	res.NextOccurrenceAt = &next
	res.SecondsFromNow = int64(next.Sub(now) / time.Second)
}

// actionOn returns the state implied by the latest taken or skipped action
// recorded on today's date and no later than now.
func actionOn(r model.Reminder, today, now time.Time) (model.State, bool) {
	var (
		latest time.Time
		state  model.State
	)
	consider := func(at *time.Time, s model.State) {
		if at == nil {
			return
		}
		t := at.In(today.Location()).Truncate(time.Second)
		if t.Before(today) || t.After(now) {
			return
		}
		if state == "" || t.After(latest) {
			latest, state = t, s
		}
	}
	consider(r.LastCompletedAt, model.StateTaken)
	consider(r.LastSkippedAt, model.StateSkipped)
	return state, state != ""
}
