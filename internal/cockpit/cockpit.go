// Package cockpit composes lifecycle and urgency data over a collection
// of orders and builds into the sorted, filtered, counted views the
// dashboard renders. Stateless; safe for any number of readers.
package cockpit

import (
	"sort"
	"time"

	"radwerk/internal/urgency"
)

// Entry is one unit of work as the dashboard sees it.
type Entry struct {
	ID             string                 `json:"id"`
	EntityKind     string                 `json:"entity_kind" enum:"order,build"`
	Title          string                 `json:"title"`
	Status         string                 `json:"status"`
	AssigneeID     string                 `json:"assignee_id,omitempty"`
	DueDate        *time.Time             `json:"due_date,omitempty"`
	Classification urgency.Classification `json:"classification"`
}

// Filter names the dashboard tabs.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterOverdue  Filter = "overdue"
	FilterToday    Filter = "today"
	FilterUrgent   Filter = "urgent"
	FilterUpcoming Filter = "upcoming"
)

// Filters in badge display order.
var Filters = []Filter{FilterAll, FilterOverdue, FilterToday, FilterUrgent, FilterUpcoming}

type Cockpit struct {
	Classifier urgency.Classifier
}

// ClassifyAndSort stamps every entry with its classification against one
// now snapshot and orders the result: overdue first, then ascending due
// date, entries without a due date last. ID breaks ties so the order is
// stable across calls.
func (c Cockpit) ClassifyAndSort(entries []Entry, now time.Time) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	for i := range out {
		out[i].Classification = c.Classifier.Classify(out[i].DueDate, now)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Classification.IsOverdue != b.Classification.IsOverdue {
			return a.Classification.IsOverdue
		}
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return a.ID < b.ID
		case a.DueDate == nil:
			return false
		case b.DueDate == nil:
			return true
		}
		if !a.DueDate.Equal(*b.DueDate) {
			return a.DueDate.Before(*b.DueDate)
		}
		return a.ID < b.ID
	})
	return out
}

// FilterByTier returns the subset of already-classified entries matching
// a dashboard filter. urgent covers overdue, due_today and due_tomorrow;
// upcoming is every dated entry that is not urgent.
func FilterByTier(entries []Entry, f Filter) []Entry {
	out := []Entry{}
	for _, e := range entries {
		if matches(e, f) {
			out = append(out, e)
		}
	}
	return out
}

// CountsByTier returns the badge counts. By construction each count
// equals len(FilterByTier(entries, f)) for its filter.
func CountsByTier(entries []Entry) map[Filter]int {
	counts := map[Filter]int{}
	for _, f := range Filters {
		counts[f] = 0
	}
	for _, e := range entries {
		for _, f := range Filters {
			if matches(e, f) {
				counts[f]++
			}
		}
	}
	return counts
}

func matches(e Entry, f Filter) bool {
	cl := e.Classification
	switch f {
	case FilterAll:
		return true
	case FilterOverdue:
		return cl.Tier == urgency.TierOverdue
	case FilterToday:
		return cl.Tier == urgency.TierDueToday
	case FilterUrgent:
		return cl.IsUrgent
	case FilterUpcoming:
		return e.DueDate != nil && !cl.IsUrgent
	default:
		return false
	}
}
