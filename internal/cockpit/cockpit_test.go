package cockpit_test

import (
	"testing"
	"time"

	"radwerk/internal/cockpit"
	"radwerk/internal/urgency"
)

func ts(day, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func fixtureEntries() []cockpit.Entry {
	return []cockpit.Entry{
		{ID: "b-1", EntityKind: "build", Title: "City bike", Status: "in_progress", DueDate: ptr(ts(12, 9))},  // upcoming
		{ID: "o-1", EntityKind: "order", Title: "Brake service", Status: "received", DueDate: ptr(ts(9, 10))}, // overdue
		{ID: "o-2", EntityKind: "order", Title: "Tune-up", Status: "in_progress", DueDate: ptr(ts(10, 17))},  // due today
		{ID: "o-3", EntityKind: "order", Title: "Wheel true", Status: "qc_pending"},                          // no due date
		{ID: "b-2", EntityKind: "build", Title: "Gravel bike", Status: "open", DueDate: ptr(ts(11, 8))},      // due tomorrow
		{ID: "o-4", EntityKind: "order", Title: "Frame swap", Status: "received", DueDate: ptr(ts(25, 9))},   // far future
	}
}

func classified(t *testing.T) []cockpit.Entry {
	t.Helper()
	c := cockpit.Cockpit{Classifier: urgency.Classifier{}}
	return c.ClassifyAndSort(fixtureEntries(), ts(10, 9))
}

func TestClassifyAndSortOrder(t *testing.T) {
	sorted := classified(t)
	wantOrder := []string{"o-1", "o-2", "b-2", "b-1", "o-4", "o-3"}
	if len(sorted) != len(wantOrder) {
		t.Fatalf("got %d entries, want %d", len(sorted), len(wantOrder))
	}
	for i, want := range wantOrder {
		if sorted[i].ID != want {
			t.Fatalf("position %d: got %s, want %s (full order %v)", i, sorted[i].ID, want, ids(sorted))
		}
	}
	// overdue first, nil due date last
	if !sorted[0].Classification.IsOverdue {
		t.Fatalf("first entry must be overdue")
	}
	if sorted[len(sorted)-1].DueDate != nil {
		t.Fatalf("entry without due date must sort last")
	}
}

func TestClassifyAndSortDoesNotMutateInput(t *testing.T) {
	entries := fixtureEntries()
	c := cockpit.Cockpit{Classifier: urgency.Classifier{}}
	_ = c.ClassifyAndSort(entries, ts(10, 9))
	if entries[0].ID != "b-1" || entries[0].Classification.Tier != "" {
		t.Fatalf("input slice was mutated: %+v", entries[0])
	}
}

func TestFilterByTier(t *testing.T) {
	sorted := classified(t)

	all := cockpit.FilterByTier(sorted, cockpit.FilterAll)
	if len(all) != 6 {
		t.Fatalf("all: got %d", len(all))
	}
	overdue := cockpit.FilterByTier(sorted, cockpit.FilterOverdue)
	if len(overdue) != 1 || overdue[0].ID != "o-1" {
		t.Fatalf("overdue: got %v", ids(overdue))
	}
	today := cockpit.FilterByTier(sorted, cockpit.FilterToday)
	if len(today) != 1 || today[0].ID != "o-2" {
		t.Fatalf("today: got %v", ids(today))
	}
	urgent := cockpit.FilterByTier(sorted, cockpit.FilterUrgent)
	if len(urgent) != 3 {
		t.Fatalf("urgent: got %v", ids(urgent))
	}
	// upcoming = dated and not urgent; includes far_future, excludes nil due
	upcoming := cockpit.FilterByTier(sorted, cockpit.FilterUpcoming)
	if len(upcoming) != 2 {
		t.Fatalf("upcoming: got %v", ids(upcoming))
	}
	for _, e := range upcoming {
		if e.DueDate == nil || e.Classification.IsUrgent {
			t.Fatalf("upcoming contains wrong entry %+v", e)
		}
	}
}

func TestCountsMatchFilters(t *testing.T) {
	sorted := classified(t)
	counts := cockpit.CountsByTier(sorted)
	for _, f := range cockpit.Filters {
		if got, want := counts[f], len(cockpit.FilterByTier(sorted, f)); got != want {
			t.Errorf("filter %s: count %d != filtered length %d", f, got, want)
		}
	}
}

func TestCountsOnEmptyBoard(t *testing.T) {
	counts := cockpit.CountsByTier(nil)
	for _, f := range cockpit.Filters {
		if counts[f] != 0 {
			t.Fatalf("filter %s: got %d on empty board", f, counts[f])
		}
	}
	if len(counts) != len(cockpit.Filters) {
		t.Fatalf("expected a zero count per filter, got %v", counts)
	}
	if got := cockpit.FilterByTier(nil, cockpit.FilterAll); len(got) != 0 {
		t.Fatalf("expected empty filtered list, got %v", got)
	}
}

func TestSortStableTiebreak(t *testing.T) {
	due := ts(12, 9)
	entries := []cockpit.Entry{
		{ID: "z", DueDate: ptr(due)},
		{ID: "a", DueDate: ptr(due)},
		{ID: "m", DueDate: ptr(due)},
	}
	c := cockpit.Cockpit{Classifier: urgency.Classifier{}}
	sorted := c.ClassifyAndSort(entries, ts(10, 9))
	if sorted[0].ID != "a" || sorted[1].ID != "m" || sorted[2].ID != "z" {
		t.Fatalf("equal due dates must order by id, got %v", ids(sorted))
	}
}

func ids(entries []cockpit.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
