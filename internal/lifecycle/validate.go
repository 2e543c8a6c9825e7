package lifecycle

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/dosekeeper/internal/model"
	"github.com/dukerupert/dosekeeper/internal/recurrence"
)

// ValidationError rejects reminder input before any write is attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return model.ErrValidation
}

// ReminderInput is a reminder as a client submits it. TimeOfDay is a pointer
// so a missing time is not taken for midnight.
type ReminderInput struct {
	Kind       model.SourceKind `json:"source_kind"`
	Label      string           `json:"label"`
	MedicineID string           `json:"medicine_id,omitempty"`
	TimeOfDay  *model.TimeOfDay `json:"time_of_day"`
	Frequency  model.Frequency  `json:"frequency"`
	DaysOfWeek []int            `json:"days_of_week,omitempty"`
	IsActive   bool             `json:"is_active"`
}

// Reminder converts the input, rejecting it if no time of day was given.
func (in ReminderInput) Reminder() (model.Reminder, error) {
	if in.TimeOfDay == nil {
		return model.Reminder{}, &ValidationError{Field: "time_of_day", Message: "is required"}
	}
	return model.Reminder{
		Kind:       in.Kind,
		Label:      in.Label,
		MedicineID: in.MedicineID,
		TimeOfDay:  *in.TimeOfDay,
		Frequency:  in.Frequency,
		DaysOfWeek: in.DaysOfWeek,
		IsActive:   in.IsActive,
	}, nil
}

// Validate checks reminder input and normalizes it in place: the label is
// trimmed and the day set sorted.
func Validate(r *model.Reminder) error {
	if _, err := model.ParseSourceKind(string(r.Kind)); err != nil {
		return &ValidationError{Field: "source_kind", Message: "must be linked or standalone"}
	}

	r.Label = strings.TrimSpace(r.Label)
	switch r.Kind {
	case model.SourceLinked:
		if strings.TrimSpace(r.MedicineID) == "" {
			return &ValidationError{Field: "medicine_id", Message: "is required"}
		}
	case model.SourceStandalone:
		if r.Label == "" {
			return &ValidationError{Field: "label", Message: "is required"}
		}
	}
	if utf8.RuneCountInString(r.Label) > 200 {
		return &ValidationError{Field: "label", Message: "must be at most 200 characters"}
	}

	if r.TimeOfDay.Hour < 0 || r.TimeOfDay.Hour > 23 || r.TimeOfDay.Minute < 0 || r.TimeOfDay.Minute > 59 {
		return &ValidationError{Field: "time_of_day", Message: "must be HH:MM"}
	}

	freq, err := recurrence.ParseFrequency(string(r.Frequency))
	if err != nil {
		return &ValidationError{Field: "frequency", Message: err.Error()}
	}
	r.Frequency = freq

	days, err := recurrence.ParseDays(r.DaysOfWeek)
	if err != nil {
		return &ValidationError{Field: "days_of_week", Message: err.Error()}
	}
	if len(days) == 0 {
		r.DaysOfWeek = nil
	} else {
		r.DaysOfWeek = make([]int, len(days))
		for i, d := range days {
			r.DaysOfWeek[i] = int(d)
		}
	}
	return nil
}
