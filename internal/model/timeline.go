package model

import "time"

type State string

const (
	StateUpcoming State = "upcoming"
	StateDue      State = "due"
	StateOverdue  State = "overdue"
	StateTaken    State = "taken"
	StateSkipped  State = "skipped"
	StateInactive State = "inactive"
)

// Attention reports whether the state counts toward the badge.
func (s State) Attention() bool {
	return s == StateDue || s == StateOverdue
}

// TimelineEntry is a merged reminder together with its classification.
type TimelineEntry struct {
	Reminder         Reminder   `json:"reminder"`
	State            State      `json:"state"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	NextOccurrenceAt *time.Time `json:"next_occurrence_at,omitempty"`
	SecondsFromNow   int64      `json:"seconds_from_now"`
	Pending          bool       `json:"pending,omitempty"`
}

// NotificationEvent is emitted once per state transition. Not persisted.
type NotificationEvent struct {
	ReminderKey Key       `json:"reminder"`
	Label       string    `json:"label"`
	State       State     `json:"state"`
	FiredAt     time.Time `json:"fired_at"`
}

// Override is a locally applied active flag not yet confirmed by a fetch.
type Override struct {
	Active bool      `json:"active"`
	SetAt  time.Time `json:"set_at"`
}
