package recurrence

import (
	"slices"
	"time"

	"github.com/dukerupert/dosekeeper/internal/model"
)

// maxScanDays bounds the search for the next occurrence. Every rule with at
// least one scheduled day repeats within a month, so a year is ample.
const maxScanDays = 400

// OccursOn reports whether the rule schedules an occurrence on day's date.
func (r Rule) OccursOn(day time.Time) bool {
	day = startOfDay(day)
	if !r.Anchor.IsZero() && day.Before(startOfDay(r.Anchor.In(day.Location()))) {
		return false
	}

	switch r.Freq {
	case model.FrequencyDaily:
		return len(r.Days) == 0 || slices.Contains(r.Days, day.Weekday())
	case model.FrequencyWeekly:
		if len(r.Days) > 0 {
			return slices.Contains(r.Days, day.Weekday())
		}
		return day.Weekday() == r.anchorWeekday()
	case model.FrequencyMonthly:
		if len(r.Days) > 0 {
			// First matching weekday of the month
			return day.Day() <= 7 && slices.Contains(r.Days, day.Weekday())
		}
		want := r.anchorMonthDay()
		if last := daysInMonth(day.Year(), day.Month()); want > last {
			want = last
		}
		return day.Day() == want
	}
	return false
}

// occurrenceOn returns the scheduled instant on day's date, if any.
// Instants before the anchor never count.
func (r Rule) occurrenceOn(day time.Time, at model.TimeOfDay) (time.Time, bool) {
	if !r.OccursOn(day) {
		return time.Time{}, false
	}
	s := at.On(day)
	if !r.Anchor.IsZero() && s.Before(r.Anchor.Truncate(time.Second)) {
		return time.Time{}, false
	}
	return s, true
}

// Next returns the first occurrence strictly after the given instant.
// As-needed rules never have one.
func (r Rule) Next(at model.TimeOfDay, after time.Time) (time.Time, bool) {
	if r.Freq == model.FrequencyAsNeeded {
		return time.Time{}, false
	}
	base := startOfDay(after)
	for i := 0; i < maxScanDays; i++ {
		day := time.Date(base.Year(), base.Month(), base.Day()+i, 0, 0, 0, 0, base.Location())
		s, ok := r.occurrenceOn(day, at)
		if ok && s.After(after) {
			return s, true
		}
	}
	return time.Time{}, false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
