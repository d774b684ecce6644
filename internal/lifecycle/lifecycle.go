// Package lifecycle owns the status enumerations for workshop entities
// and the rules for moving between them. It validates transitions and
// produces the matching audit event; it never touches the store.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"radwerk/internal/domain"
)

type EntityKind string

const (
	KindOrder EntityKind = "order"
	KindBuild EntityKind = "build"
)

// Repair order statuses.
const (
	OrderReceived       = "received"
	OrderAwaitingParts  = "awaiting_parts"
	OrderInProgress     = "in_progress"
	OrderQCPending      = "qc_pending"
	OrderReadyForPickup = "ready_for_pickup"
	OrderPickedUp       = "picked_up"
	OrderClosed         = "closed"
)

// Assembly build statuses.
const (
	BuildOpen       = "open"
	BuildInProgress = "in_progress"
	BuildAssembled  = "assembled"
	BuildInspected  = "inspected"
)

// StatusPurged is terminal for both kinds. It is not in any adjacency
// table; only the retention sweep moves entities here.
const StatusPurged = "purged"

// orderTransitions is the closed adjacency table for repair orders.
// closed -> in_progress is the explicit reopen path.
var orderTransitions = map[string][]string{
	OrderReceived:       {OrderAwaitingParts, OrderInProgress},
	OrderAwaitingParts:  {OrderInProgress},
	OrderInProgress:     {OrderAwaitingParts, OrderQCPending},
	OrderQCPending:      {OrderInProgress, OrderReadyForPickup},
	OrderReadyForPickup: {OrderPickedUp},
	OrderPickedUp:       {OrderClosed},
	OrderClosed:         {OrderInProgress},
}

// buildTransitions has no reopen: an inspected build is final.
var buildTransitions = map[string][]string{
	BuildOpen:       {BuildInProgress},
	BuildInProgress: {BuildAssembled},
	BuildAssembled:  {BuildInspected},
	BuildInspected:  {},
}

func transitionTable(kind EntityKind) map[string][]string {
	switch kind {
	case KindOrder:
		return orderTransitions
	case KindBuild:
		return buildTransitions
	default:
		return nil
	}
}

// InitialStatus is the status a freshly created entity starts in.
func InitialStatus(kind EntityKind) string {
	switch kind {
	case KindOrder:
		return OrderReceived
	case KindBuild:
		return BuildOpen
	default:
		return ""
	}
}

// Statuses returns the full enumeration for a kind, sorted.
func Statuses(kind EntityKind) []string {
	table := transitionTable(kind)
	var out []string
	for s := range table {
		out = append(out, s)
	}
	out = append(out, StatusPurged)
	sort.Strings(out)
	return out
}

// IsValidStatus reports membership in the kind's enumeration.
func IsValidStatus(kind EntityKind, status string) bool {
	if status == StatusPurged {
		return true
	}
	_, ok := transitionTable(kind)[status]
	return ok
}

// CanTransition reports whether from -> to is in the adjacency table.
// Unknown pairs are illegal; purged is never a legal target here.
func CanTransition(kind EntityKind, from, to string) bool {
	for _, next := range transitionTable(kind)[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the status_change event to
// append. The caller persists the status and the event in one transaction.
func Transition(kind EntityKind, entityID, from, to string, actor domain.Actor, now time.Time) (domain.Event, error) {
	if !IsValidStatus(kind, to) {
		return domain.Event{}, &UnknownStatusError{Kind: kind, Status: to}
	}
	if !CanTransition(kind, from, to) {
		return domain.Event{}, &InvalidTransitionError{Kind: kind, From: from, To: to}
	}
	payload, err := json.Marshal(domain.StatusChangePayload{OldStatus: from, NewStatus: to})
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal status change: %w", err)
	}
	return domain.Event{
		TS:         now.UTC().Format(time.RFC3339),
		Kind:       domain.EventStatusChange,
		EntityKind: string(kind),
		EntityID:   entityID,
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		Payload:    string(payload),
	}, nil
}

// CanComplete checks the workshop's required-fields policy against the
// collected bike attributes. The required list has set semantics; blank
// values count as missing.
func CanComplete(required []string, fields map[string]string) error {
	var missing []string
	seen := map[string]bool{}
	for _, name := range required {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &IncompleteDataError{Missing: missing}
	}
	return nil
}
