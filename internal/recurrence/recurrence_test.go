package recurrence

import (
	"testing"
	"time"

	"github.com/dukerupert/dosekeeper/internal/model"
)

func at(hour, minute int) model.TimeOfDay {
	return model.TimeOfDay{Hour: hour, Minute: minute}
}

func daily(t model.TimeOfDay) model.Reminder {
	return model.Reminder{
		ID: "r1", Kind: model.SourceStandalone, Label: "Vitamin D",
		TimeOfDay: t, Frequency: model.FrequencyDaily, IsActive: true,
	}
}

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		input string
		want  model.Frequency
	}{
		{"daily", model.FrequencyDaily},
		{"WEEKLY", model.FrequencyWeekly},
		{" monthly ", model.FrequencyMonthly},
		{"as-needed", model.FrequencyAsNeeded},
		{"as_needed", model.FrequencyAsNeeded},
	}
	for _, tt := range tests {
		got, err := ParseFrequency(tt.input)
		if err != nil {
			t.Errorf("ParseFrequency(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFrequency(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	if _, err := ParseFrequency("hourly"); err == nil {
		t.Error("ParseFrequency(hourly) should error")
	}
}

func TestParseDays(t *testing.T) {
	days, err := ParseDays([]int{5, 1, 3, 1})
	if err != nil {
		t.Fatalf("ParseDays error: %v", err)
	}
	want := []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	if len(days) != len(want) {
		t.Fatalf("len = %d, want %d", len(days), len(want))
	}
	for i := range want {
		if days[i] != want[i] {
			t.Errorf("days[%d] = %v, want %v", i, days[i], want[i])
		}
	}

	for _, bad := range [][]int{{7}, {-1}} {
		if _, err := ParseDays(bad); err == nil {
			t.Errorf("ParseDays(%v) should error", bad)
		}
	}
}

func TestDescribe(t *testing.T) {
	anchor := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC) // Friday
	tests := []struct {
		rule Rule
		want string
	}{
		{Rule{Freq: model.FrequencyDaily}, "Daily at 09:00"},
		{Rule{Freq: model.FrequencyDaily, Days: []time.Weekday{time.Monday, time.Wednesday}}, "Daily on Mon, Wed at 09:00"},
		{Rule{Freq: model.FrequencyWeekly, Anchor: anchor}, "Weekly on Fri at 09:00"},
		{Rule{Freq: model.FrequencyMonthly, Anchor: anchor}, "Monthly on day 15 at 09:00"},
		{Rule{Freq: model.FrequencyMonthly, Days: []time.Weekday{time.Tuesday}}, "Monthly on the first Tue at 09:00"},
		{Rule{Freq: model.FrequencyAsNeeded}, "As needed"},
	}
	for _, tt := range tests {
		if got := tt.rule.Describe(at(9, 0)); got != tt.want {
			t.Errorf("Describe() = %q, want %q", got, tt.want)
		}
	}
}

func TestDailyDueWindow(t *testing.T) {
	r := daily(at(9, 0))
	now := time.Date(2024, 1, 1, 9, 0, 30, 0, time.UTC)

	res, err := Classify(r, now, DefaultOptions())
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if res.State != model.StateDue {
		t.Errorf("state = %q, want %q", res.State, model.StateDue)
	}
	want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if res.ScheduledAt == nil || !res.ScheduledAt.Equal(want) {
		t.Errorf("scheduled = %v, want %v", res.ScheduledAt, want)
	}
	next := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	if res.NextOccurrenceAt == nil || !res.NextOccurrenceAt.Equal(next) {
		t.Errorf("next = %v, want %v", res.NextOccurrenceAt, next)
	}
}

func TestToleranceBoundary(t *testing.T) {
	r := daily(at(9, 0))
	tests := []struct {
		now  time.Time
		want model.State
	}{
		{time.Date(2024, 1, 1, 8, 59, 59, 0, time.UTC), model.StateUpcoming},
		{time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), model.StateDue},
		{time.Date(2024, 1, 1, 9, 0, 59, 0, time.UTC), model.StateDue},
		{time.Date(2024, 1, 1, 9, 1, 0, 0, time.UTC), model.StateDue},
		{time.Date(2024, 1, 1, 9, 1, 1, 0, time.UTC), model.StateOverdue},
		{time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC), model.StateOverdue},
	}
	for _, tt := range tests {
		res, err := Classify(r, tt.now, DefaultOptions())
		if err != nil {
			t.Fatalf("Classify(%v) error: %v", tt.now, err)
		}
		if res.State != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.now.Format("15:04:05"), res.State, tt.want)
		}
	}
}

func TestSubSecondDoesNotFlap(t *testing.T) {
	r := daily(at(9, 0))
	now := time.Date(2024, 1, 1, 9, 1, 0, 999_000_000, time.UTC)

	res, _ := Classify(r, now, DefaultOptions())
	if res.State != model.StateDue {
		t.Errorf("state = %q, want %q (sub-second ignored)", res.State, model.StateDue)
	}
}

func TestUpcomingSecondsFromNow(t *testing.T) {
	r := daily(at(9, 0))
	now := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)

	res, _ := Classify(r, now, DefaultOptions())
	if res.State != model.StateUpcoming {
		t.Fatalf("state = %q, want upcoming", res.State)
	}
	if res.SecondsFromNow != 1800 {
		t.Errorf("seconds from now = %d, want 1800", res.SecondsFromNow)
	}
}

func TestOverdueRollsOverAfterWindow(t *testing.T) {
	r := daily(at(9, 0))
	opts := Options{DueTolerance: time.Minute, OverdueWindow: 2 * time.Hour}

	res, _ := Classify(r, time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC), opts)
	if res.State != model.StateOverdue {
		t.Errorf("state at 10:30 = %q, want overdue", res.State)
	}

	res, _ = Classify(r, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC), opts)
	if res.State != model.StateUpcoming {
		t.Errorf("state at 11:00 = %q, want upcoming", res.State)
	}
	next := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	if res.NextOccurrenceAt == nil || !res.NextOccurrenceAt.Equal(next) {
		t.Errorf("next = %v, want %v", res.NextOccurrenceAt, next)
	}
}

func TestMissedYesterdayIsNotOverdueToday(t *testing.T) {
	r := daily(at(9, 0))
	res, _ := Classify(r, time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC), DefaultOptions())
	if res.State != model.StateUpcoming {
		t.Errorf("state = %q, want upcoming", res.State)
	}
}

func TestDayOfWeekFilter(t *testing.T) {
	r := daily(at(9, 0))
	r.DaysOfWeek = []int{1, 3, 5}
	// 2024-01-02 is a Tuesday
	for _, hm := range [][2]int{{8, 0}, {9, 0}, {9, 0}, {12, 0}} {
		now := time.Date(2024, 1, 2, hm[0], hm[1], 0, 0, time.UTC)
		res, err := Classify(r, now, DefaultOptions())
		if err != nil {
			t.Fatalf("Classify error: %v", err)
		}
		if res.State != model.StateUpcoming {
			t.Errorf("Tuesday %02d:%02d state = %q, want upcoming", hm[0], hm[1], res.State)
		}
		want := time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)
		if res.NextOccurrenceAt == nil || !res.NextOccurrenceAt.Equal(want) {
			t.Errorf("next = %v, want %v", res.NextOccurrenceAt, want)
		}
	}
}

func TestWeeklyMondayOnTuesday(t *testing.T) {
	r := daily(at(9, 0))
	r.Frequency = model.FrequencyWeekly
	r.DaysOfWeek = []int{1}
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

	res, _ := Classify(r, now, DefaultOptions())
	if res.State != model.StateUpcoming {
		t.Errorf("state = %q, want upcoming", res.State)
	}
	want := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	if res.NextOccurrenceAt == nil || !res.NextOccurrenceAt.Equal(want) {
		t.Errorf("next = %v, want %v", res.NextOccurrenceAt, want)
	}
}

func TestWeeklyAnchoredOnCreation(t *testing.T) {
	r := daily(at(9, 0))
	r.Frequency = model.FrequencyWeekly
	r.CreatedAt = time.Date(2024, 1, 3, 7, 0, 0, 0, time.UTC) // Wednesday

	res, _ := Classify(r, time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC), DefaultOptions())
	want := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	if res.NextOccurrenceAt == nil || !res.NextOccurrenceAt.Equal(want) {
		t.Errorf("next = %v, want %v", res.NextOccurrenceAt, want)
	}

	res, _ = Classify(r, time.Date(2024, 1, 10, 9, 0, 10, 0, time.UTC), DefaultOptions())
	if res.State != model.StateDue {
		t.Errorf("state on anchor weekday = %q, want due", res.State)
	}
}

func TestMonthlyClampsToShortMonth(t *testing.T) {
	r := daily(at(8, 0))
	r.Frequency = model.FrequencyMonthly
	r.CreatedAt = time.Date(2024, 1, 31, 7, 0, 0, 0, time.UTC)

	res, _ := Classify(r, time.Date(2024, 2, 10, 12, 0, 0, 0, time.UTC), DefaultOptions())
	want := time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)
	if res.NextOccurrenceAt == nil || !res.NextOccurrenceAt.Equal(want) {
		t.Errorf("next = %v, want %v", res.NextOccurrenceAt, want)
	}
}

func TestMonthlyFirstWeekday(t *testing.T) {
	r := daily(at(8, 0))
	r.Frequency = model.FrequencyMonthly
	r.DaysOfWeek = []int{1}

	res, _ := Classify(r, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), DefaultOptions())
	want := time.Date(2024, 2, 5, 8, 0, 0, 0, time.UTC) // first Monday of February
	if res.NextOccurrenceAt == nil || !res.NextOccurrenceAt.Equal(want) {
		t.Errorf("next = %v, want %v", res.NextOccurrenceAt, want)
	}
}

func TestCreatedAfterTodaysOccurrence(t *testing.T) {
	r := daily(at(9, 0))
	r.CreatedAt = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	res, _ := Classify(r, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), DefaultOptions())
	if res.State != model.StateUpcoming {
		t.Errorf("state = %q, want upcoming (created after today's slot)", res.State)
	}
}

func TestAsNeededIsAlwaysUpcoming(t *testing.T) {
	r := daily(at(9, 0))
	r.Frequency = model.FrequencyAsNeeded

	res, err := Classify(r, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), DefaultOptions())
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if res.State != model.StateUpcoming {
		t.Errorf("state = %q, want upcoming", res.State)
	}
	if res.NextOccurrenceAt != nil {
		t.Errorf("next = %v, want nil", res.NextOccurrenceAt)
	}
}

func TestInactiveNeverScheduled(t *testing.T) {
	r := daily(at(9, 0))
	r.IsActive = false

	res, _ := Classify(r, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), DefaultOptions())
	if res.State != model.StateInactive {
		t.Errorf("state = %q, want inactive", res.State)
	}
}

func TestTakenAndSkipped(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	r := daily(at(9, 0))
	taken := time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC)
	r.LastCompletedAt = &taken
	res, _ := Classify(r, now, DefaultOptions())
	if res.State != model.StateTaken {
		t.Errorf("state = %q, want taken", res.State)
	}

	skipped := time.Date(2024, 1, 1, 9, 10, 0, 0, time.UTC)
	r.LastSkippedAt = &skipped
	res, _ = Classify(r, now, DefaultOptions())
	if res.State != model.StateSkipped {
		t.Errorf("state = %q, want skipped (later action wins)", res.State)
	}

	yesterday := time.Date(2023, 12, 31, 9, 0, 0, 0, time.UTC)
	r.LastCompletedAt, r.LastSkippedAt = &yesterday, nil
	res, _ = Classify(r, now, DefaultOptions())
	if res.State != model.StateOverdue {
		t.Errorf("state = %q, want overdue (completion was yesterday)", res.State)
	}
}

func TestTakenEarly(t *testing.T) {
	r := daily(at(9, 0))
	early := time.Date(2024, 1, 1, 8, 40, 0, 0, time.UTC)
	r.LastCompletedAt = &early

	res, _ := Classify(r, time.Date(2024, 1, 1, 8, 45, 0, 0, time.UTC), DefaultOptions())
	if res.State != model.StateTaken {
		t.Errorf("state = %q, want taken", res.State)
	}
	want := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	if res.NextOccurrenceAt == nil || !res.NextOccurrenceAt.Equal(want) {
		t.Errorf("next = %v, want %v", res.NextOccurrenceAt, want)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	r := daily(at(9, 0))
	r.DaysOfWeek = []int{0, 2, 4}
	now := time.Date(2024, 1, 4, 9, 0, 45, 0, time.UTC)

	a, errA := Classify(r, now, DefaultOptions())
	b, errB := Classify(r, now, DefaultOptions())
	if errA != nil || errB != nil {
		t.Fatalf("errors: %v, %v", errA, errB)
	}
	if a.State != b.State || a.SecondsFromNow != b.SecondsFromNow ||
		!a.NextOccurrenceAt.Equal(*b.NextOccurrenceAt) || !a.ScheduledAt.Equal(*b.ScheduledAt) {
		t.Errorf("results differ: %+v vs %+v", a, b)
	}
	if len(r.DaysOfWeek) != 3 || r.DaysOfWeek[0] != 0 {
		t.Error("input reminder was mutated")
	}
}

func TestMalformedFrequencyErrors(t *testing.T) {
	r := daily(at(9, 0))
	r.Frequency = "fortnightly"
	if _, err := Classify(r, time.Now(), DefaultOptions()); err == nil {
		t.Error("expected error for unknown frequency")
	}
}
