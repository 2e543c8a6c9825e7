package recurrence

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/dosekeeper/internal/model"
)

var freqFromName = map[string]model.Frequency{
	"daily":     model.FrequencyDaily,
	"weekly":    model.FrequencyWeekly,
	"monthly":   model.FrequencyMonthly,
	"as-needed": model.FrequencyAsNeeded,
	"as_needed": model.FrequencyAsNeeded,
	"asneeded":  model.FrequencyAsNeeded,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "Sun",
	time.Monday:    "Mon",
	time.Tuesday:   "Tue",
	time.Wednesday: "Wed",
	time.Thursday:  "Thu",
	time.Friday:    "Fri",
	time.Saturday:  "Sat",
}

// Rule is the recurrence of a single reminder: frequency plus an optional
// weekday subset. Anchor is the creation instant; weekly rules without days
// repeat on its weekday and monthly rules on its day of month.
type Rule struct {
	Freq   model.Frequency
	Days   []time.Weekday // sorted, unique; empty = every day the frequency implies
	Anchor time.Time      // zero = no lower bound
}

// ParseFrequency parses a frequency name such as "daily" or "as-needed".
func ParseFrequency(s string) (model.Frequency, error) {
	f, ok := freqFromName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown frequency: %q", s)
	}
	return f, nil
}

// ParseDays converts weekday indices (0 = Sunday) into a sorted, deduplicated set.
func ParseDays(days []int) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid day of week: %d", d)
		}
		wd := time.Weekday(d)
		if !slices.Contains(out, wd) {
			out = append(out, wd)
		}
	}
	slices.Sort(out)
	return out, nil
}

// NewRule builds the rule for a reminder. It fails only on malformed stored
// data: an unknown frequency or an out-of-range weekday.
func NewRule(r model.Reminder) (Rule, error) {
	freq, err := ParseFrequency(string(r.Frequency))
	if err != nil {
		return Rule{}, err
	}
	days, err := ParseDays(r.DaysOfWeek)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Freq: freq, Days: days, Anchor: r.CreatedAt}, nil
}

// Describe returns a human-readable description of the rule at the given time.
func (r Rule) Describe(at model.TimeOfDay) string {
	suffix := " at " + at.String()
	switch r.Freq {
	case model.FrequencyDaily:
		if len(r.Days) > 0 {
			return "Daily on " + r.dayList() + suffix
		}
		return "Daily" + suffix
	case model.FrequencyWeekly:
		if len(r.Days) > 0 {
			return "Weekly on " + r.dayList() + suffix
		}
		return "Weekly on " + dayAbbrev[r.anchorWeekday()] + suffix
	case model.FrequencyMonthly:
		if len(r.Days) > 0 {
			return "Monthly on the first " + r.dayList() + suffix
		}
		return fmt.Sprintf("Monthly on day %d%s", r.anchorMonthDay(), suffix)
	case model.FrequencyAsNeeded:
		return "As needed"
	}
	return ""
}

func (r Rule) dayList() string {
	names := make([]string, 0, len(r.Days))
	for _, d := range r.Days {
		names = append(names, dayAbbrev[d])
	}
	return strings.Join(names, ", ")
}

// anchorWeekday defaults to Monday, the start of the week, when there is no anchor.
func (r Rule) anchorWeekday() time.Weekday {
	if r.Anchor.IsZero() {
		return time.Monday
	}
	return r.Anchor.Weekday()
}

func (r Rule) anchorMonthDay() int {
	if r.Anchor.IsZero() {
		return 1
	}
	return r.Anchor.Day()
}
