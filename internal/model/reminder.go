package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SourceKind string

const (
	SourceLinked     SourceKind = "linked"
	SourceStandalone SourceKind = "standalone"
)

// ParseSourceKind accepts the wire names used by the HTTP surface.
func ParseSourceKind(s string) (SourceKind, error) {
	switch SourceKind(strings.ToLower(strings.TrimSpace(s))) {
	case SourceLinked:
		return SourceLinked, nil
	case SourceStandalone:
		return SourceStandalone, nil
	}
	return "", fmt.Errorf("unknown source kind: %q", s)
}

type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyAsNeeded Frequency = "as-needed"
)

// Key identifies a reminder across both sources. Ids are only unique within
// their source kind, so the kind is part of the key.
type Key struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id"`
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.ID
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h). A trailing ":SS" is accepted and ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day: %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour: %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute: %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight, used for ordering.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On returns the instant at this time of day on the date of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, d.Location())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Reminder is the shared shape of linked and standalone reminders. Kind is the
// discriminant; MedicineID is only meaningful for linked reminders.
type Reminder struct {
	ID              string     `json:"id"`
	Kind            SourceKind `json:"source_kind"`
	Label           string     `json:"label"`
	MedicineID      string     `json:"medicine_id,omitempty"`
	TimeOfDay       TimeOfDay  `json:"time_of_day"`
	Frequency       Frequency  `json:"frequency"`
	DaysOfWeek      []int      `json:"days_of_week,omitempty"`
	IsActive        bool       `json:"is_active"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	LastSkippedAt   *time.Time `json:"last_skipped_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (r Reminder) Key() Key {
	return Key{Kind: r.Kind, ID: r.ID}
}

// Clone returns a copy that shares no slices or pointers with r.
func (r Reminder) Clone() Reminder {
	c := r
	if r.DaysOfWeek != nil {
		c.DaysOfWeek = append([]int(nil), r.DaysOfWeek...)
	}
	if r.LastCompletedAt != nil {
		t := *r.LastCompletedAt
		c.LastCompletedAt = &t
	}
	if r.LastSkippedAt != nil {
		t := *r.LastSkippedAt
		c.LastSkippedAt = &t
	}
	return c
}

// Medicine is the parent record of a linked reminder.
type Medicine struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Action is a manual log entry against a reminder's occurrence.
type Action string

const (
	ActionTaken   Action = "taken"
	ActionSkipped Action = "skipped"
)

// Apply returns a copy of r with the action recorded at the given instant.
func (r Reminder) Apply(a Action, at time.Time) Reminder {
	c := r.Clone()
	switch a {
	case ActionTaken:
		c.LastCompletedAt = &at
	case ActionSkipped:
		c.LastSkippedAt = &at
	}
	return c
}
