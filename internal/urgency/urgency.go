// Package urgency maps a due date to a discrete urgency tier. Pure and
// deterministic: everything derives from the (due, now) pair handed in,
// with no clock reads of its own.
package urgency

import "time"

type Tier string

const (
	TierOverdue     Tier = "overdue"
	TierDueToday    Tier = "due_today"
	TierDueTomorrow Tier = "due_tomorrow"
	TierUpcoming    Tier = "upcoming"
	TierFarFuture   Tier = "far_future"
	TierNone        Tier = "none"
)

// DefaultUpcomingDays is the window for the upcoming tier when the
// workshop config does not override it.
const DefaultUpcomingDays = 3

// Classification is the display-ready result for one entity.
type Classification struct {
	Tier       Tier   `json:"tier"`
	Label      string `json:"label"`
	Badge      string `json:"badge"`
	IsOverdue  bool   `json:"is_overdue"`
	IsDueToday bool   `json:"is_due_today"`
	IsUrgent   bool   `json:"is_urgent"`
}

type Classifier struct {
	UpcomingDays int
}

func (c Classifier) upcomingDays() int {
	if c.UpcomingDays > 0 {
		return c.UpcomingDays
	}
	return DefaultUpcomingDays
}

// Classify buckets a due date relative to a single now snapshot.
// "Today" is a calendar-day comparison, not a 24h window, so an order
// due at 23:59 is still due_today at 00:01 the same day.
func (c Classifier) Classify(due *time.Time, now time.Time) Classification {
	if due == nil {
		return classification(TierNone)
	}
	d := due.In(now.Location())
	switch {
	case sameDay(d, now):
		return classification(TierDueToday)
	case d.Before(now):
		return classification(TierOverdue)
	case d.Sub(now) < 24*time.Hour:
		return classification(TierDueTomorrow)
	case daysUntil(d, now) <= c.upcomingDays():
		return classification(TierUpcoming)
	default:
		return classification(TierFarFuture)
	}
}

func classification(tier Tier) Classification {
	meta := tierMeta[tier]
	return Classification{
		Tier:       tier,
		Label:      meta.label,
		Badge:      meta.badge,
		IsOverdue:  tier == TierOverdue,
		IsDueToday: tier == TierDueToday,
		IsUrgent:   tier == TierOverdue || tier == TierDueToday || tier == TierDueTomorrow,
	}
}

var tierMeta = map[Tier]struct {
	label string
	badge string
}{
	TierOverdue:     {"Overdue", "red"},
	TierDueToday:    {"Due today", "orange"},
	TierDueTomorrow: {"Due tomorrow", "yellow"},
	TierUpcoming:    {"Upcoming", "blue"},
	TierFarFuture:   {"Scheduled", "gray"},
	TierNone:        {"No due date", "gray"},
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// daysUntil counts whole calendar days from now's date to t's date.
func daysUntil(t, now time.Time) int {
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	start := time.Date(ny, nm, nd, 0, 0, 0, 0, now.Location())
	end := time.Date(ty, tm, td, 0, 0, 0, 0, now.Location())
	return int(end.Sub(start) / (24 * time.Hour))
}
