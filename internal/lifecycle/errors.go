package lifecycle

import (
	"fmt"
	"strings"
)

// InvalidTransitionError means the requested pair is not in the
// adjacency table. The entity is left untouched.
type InvalidTransitionError struct {
	Kind EntityKind
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s status transition %s -> %s", e.Kind, e.From, e.To)
}

// UnknownStatusError means the target status is outside the kind's
// enumeration entirely.
type UnknownStatusError struct {
	Kind   EntityKind
	Status string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown %s status %q", e.Kind, e.Status)
}

// IncompleteDataError reports which required completion fields were
// missing or blank.
type IncompleteDataError struct {
	Missing []string
}

func (e *IncompleteDataError) Error() string {
	return fmt.Sprintf("completion data incomplete: missing %s", strings.Join(e.Missing, ", "))
}
