package urgency_test

import (
	"testing"
	"time"

	"radwerk/internal/urgency"
)

func ts(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestClassifyTiers(t *testing.T) {
	now := ts(2026, 3, 10, 9, 0)
	c := urgency.Classifier{}

	cases := []struct {
		name string
		due  *time.Time
		want urgency.Tier
	}{
		{"no due date", nil, urgency.TierNone},
		{"yesterday morning", ptr(ts(2026, 3, 9, 10, 0)), urgency.TierOverdue},
		{"last week", ptr(ts(2026, 3, 3, 12, 0)), urgency.TierOverdue},
		{"earlier today", ptr(ts(2026, 3, 10, 8, 0)), urgency.TierDueToday},
		{"later today", ptr(ts(2026, 3, 10, 23, 59)), urgency.TierDueToday},
		{"tomorrow within 24h", ptr(ts(2026, 3, 11, 8, 0)), urgency.TierDueTomorrow},
		{"in two days", ptr(ts(2026, 3, 12, 9, 0)), urgency.TierUpcoming},
		{"in three days", ptr(ts(2026, 3, 13, 9, 0)), urgency.TierUpcoming},
		{"in four days", ptr(ts(2026, 3, 14, 9, 0)), urgency.TierFarFuture},
		{"next month", ptr(ts(2026, 4, 10, 9, 0)), urgency.TierFarFuture},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.due, now)
			if got.Tier != tc.want {
				t.Fatalf("got %s, want %s", got.Tier, tc.want)
			}
		})
	}
}

func TestDueTodayBeatsOverdue(t *testing.T) {
	// An order due at 23:59 yesterday evening checked at 00:01 is not
	// today; one due later today checked now must be due_today even
	// though a pure Before() check would also fire for earlier today.
	now := ts(2026, 3, 10, 0, 1)
	c := urgency.Classifier{}

	late := ts(2026, 3, 10, 23, 59)
	got := c.Classify(&late, now)
	if got.Tier != urgency.TierDueToday {
		t.Fatalf("due 23:59 at 00:01 same day: got %s, want due_today", got.Tier)
	}

	passed := ts(2026, 3, 10, 0, 0)
	got = c.Classify(&passed, now)
	if got.Tier != urgency.TierDueToday {
		t.Fatalf("passed due same calendar day: got %s, want due_today", got.Tier)
	}

	yesterday := ts(2026, 3, 9, 23, 59)
	got = c.Classify(&yesterday, now)
	if got.Tier != urgency.TierOverdue {
		t.Fatalf("due yesterday: got %s, want overdue", got.Tier)
	}
}

func TestConfigurableUpcomingWindow(t *testing.T) {
	now := ts(2026, 3, 10, 9, 0)
	wide := urgency.Classifier{UpcomingDays: 7}

	day6 := ts(2026, 3, 16, 9, 0)
	if got := wide.Classify(&day6, now); got.Tier != urgency.TierUpcoming {
		t.Fatalf("6 days out with window 7: got %s, want upcoming", got.Tier)
	}
	day8 := ts(2026, 3, 18, 9, 0)
	if got := wide.Classify(&day8, now); got.Tier != urgency.TierFarFuture {
		t.Fatalf("8 days out with window 7: got %s, want far_future", got.Tier)
	}

	// zero value falls back to the default window
	def := urgency.Classifier{}
	day3 := ts(2026, 3, 13, 9, 0)
	if got := def.Classify(&day3, now); got.Tier != urgency.TierUpcoming {
		t.Fatalf("3 days out with default window: got %s, want upcoming", got.Tier)
	}
}

func TestClassificationFlags(t *testing.T) {
	now := ts(2026, 3, 10, 9, 0)
	c := urgency.Classifier{}

	overdue := c.Classify(ptr(ts(2026, 3, 9, 9, 0)), now)
	if !overdue.IsOverdue || !overdue.IsUrgent || overdue.IsDueToday {
		t.Fatalf("overdue flags wrong: %+v", overdue)
	}
	today := c.Classify(ptr(ts(2026, 3, 10, 17, 0)), now)
	if !today.IsDueToday || !today.IsUrgent || today.IsOverdue {
		t.Fatalf("due_today flags wrong: %+v", today)
	}
	tomorrow := c.Classify(ptr(ts(2026, 3, 11, 8, 0)), now)
	if !tomorrow.IsUrgent || tomorrow.IsOverdue || tomorrow.IsDueToday {
		t.Fatalf("due_tomorrow flags wrong: %+v", tomorrow)
	}
	upcoming := c.Classify(ptr(ts(2026, 3, 12, 9, 0)), now)
	if upcoming.IsUrgent {
		t.Fatalf("upcoming must not be urgent: %+v", upcoming)
	}
	none := c.Classify(nil, now)
	if none.IsUrgent || none.IsOverdue || none.IsDueToday {
		t.Fatalf("none flags wrong: %+v", none)
	}
	if none.Label == "" || none.Badge == "" {
		t.Fatalf("expected display metadata for none tier")
	}
}

func TestClassifyDeterministic(t *testing.T) {
	now := ts(2026, 3, 10, 9, 0)
	due := ts(2026, 3, 11, 8, 0)
	c := urgency.Classifier{}
	first := c.Classify(&due, now)
	for i := 0; i < 10; i++ {
		if got := c.Classify(&due, now); got != first {
			t.Fatalf("classification not deterministic: %+v vs %+v", got, first)
		}
	}
}

func ptr(t time.Time) *time.Time { return &t }
