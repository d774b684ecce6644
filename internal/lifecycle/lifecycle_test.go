package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"radwerk/internal/domain"
	"radwerk/internal/lifecycle"
)

func TestOrderTransitionTable(t *testing.T) {
	allowed := []struct{ from, to string }{
		{lifecycle.OrderReceived, lifecycle.OrderAwaitingParts},
		{lifecycle.OrderReceived, lifecycle.OrderInProgress},
		{lifecycle.OrderAwaitingParts, lifecycle.OrderInProgress},
		{lifecycle.OrderInProgress, lifecycle.OrderAwaitingParts},
		{lifecycle.OrderInProgress, lifecycle.OrderQCPending},
		{lifecycle.OrderQCPending, lifecycle.OrderInProgress},
		{lifecycle.OrderQCPending, lifecycle.OrderReadyForPickup},
		{lifecycle.OrderReadyForPickup, lifecycle.OrderPickedUp},
		{lifecycle.OrderPickedUp, lifecycle.OrderClosed},
		{lifecycle.OrderClosed, lifecycle.OrderInProgress},
	}
	for _, tc := range allowed {
		if !lifecycle.CanTransition(lifecycle.KindOrder, tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to string }{
		{lifecycle.OrderReceived, lifecycle.OrderClosed},
		{lifecycle.OrderReceived, lifecycle.OrderQCPending},
		{lifecycle.OrderAwaitingParts, lifecycle.OrderReceived},
		{lifecycle.OrderClosed, lifecycle.OrderPickedUp},
		{lifecycle.OrderPickedUp, lifecycle.OrderInProgress},
		{lifecycle.OrderInProgress, lifecycle.StatusPurged},
	}
	for _, tc := range denied {
		if lifecycle.CanTransition(lifecycle.KindOrder, tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestBuildTransitionTable(t *testing.T) {
	seq := []string{lifecycle.BuildOpen, lifecycle.BuildInProgress, lifecycle.BuildAssembled, lifecycle.BuildInspected}
	for i := 0; i < len(seq)-1; i++ {
		if !lifecycle.CanTransition(lifecycle.KindBuild, seq[i], seq[i+1]) {
			t.Errorf("expected %s -> %s to be allowed", seq[i], seq[i+1])
		}
	}
	// no skipping, no going back, no reopen
	if lifecycle.CanTransition(lifecycle.KindBuild, lifecycle.BuildOpen, lifecycle.BuildAssembled) {
		t.Error("expected open -> assembled to be denied")
	}
	if lifecycle.CanTransition(lifecycle.KindBuild, lifecycle.BuildAssembled, lifecycle.BuildInProgress) {
		t.Error("expected assembled -> in_progress to be denied")
	}
	if lifecycle.CanTransition(lifecycle.KindBuild, lifecycle.BuildInspected, lifecycle.BuildOpen) {
		t.Error("expected inspected -> open to be denied")
	}
}

func TestTransitionEvent(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	actor := domain.Actor{ID: "mech-1", DisplayName: "Sam"}
	evt, err := lifecycle.Transition(lifecycle.KindOrder, "ord-1", lifecycle.OrderReceived, lifecycle.OrderInProgress, actor, now)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if evt.Kind != domain.EventStatusChange {
		t.Fatalf("unexpected kind %q", evt.Kind)
	}
	if evt.EntityID != "ord-1" || evt.EntityKind != "order" {
		t.Fatalf("unexpected entity %s/%s", evt.EntityKind, evt.EntityID)
	}
	if evt.ActorID != "mech-1" {
		t.Fatalf("unexpected actor %q", evt.ActorID)
	}
	payload, err := evt.DecodePayload()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	sc, ok := payload.(domain.StatusChangePayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", payload)
	}
	if sc.OldStatus != lifecycle.OrderReceived || sc.NewStatus != lifecycle.OrderInProgress {
		t.Fatalf("unexpected payload %+v", sc)
	}
}

func TestTransitionErrors(t *testing.T) {
	now := time.Now()
	_, err := lifecycle.Transition(lifecycle.KindOrder, "o", lifecycle.OrderReceived, "melted", domain.Actor{}, now)
	var unknown *lifecycle.UnknownStatusError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownStatusError, got %v", err)
	}
	if unknown.Status != "melted" {
		t.Fatalf("unexpected status %q", unknown.Status)
	}

	_, err = lifecycle.Transition(lifecycle.KindOrder, "o", lifecycle.OrderReceived, lifecycle.OrderClosed, domain.Actor{}, now)
	var invalid *lifecycle.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != lifecycle.OrderReceived || invalid.To != lifecycle.OrderClosed {
		t.Fatalf("unexpected error fields %+v", invalid)
	}

	// purged is a valid status but never a legal transition target
	_, err = lifecycle.Transition(lifecycle.KindOrder, "o", lifecycle.OrderClosed, lifecycle.StatusPurged, domain.Actor{}, now)
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError for purged target, got %v", err)
	}
}

func TestInitialStatus(t *testing.T) {
	if got := lifecycle.InitialStatus(lifecycle.KindOrder); got != lifecycle.OrderReceived {
		t.Fatalf("order initial = %q", got)
	}
	if got := lifecycle.InitialStatus(lifecycle.KindBuild); got != lifecycle.BuildOpen {
		t.Fatalf("build initial = %q", got)
	}
}

func TestCanComplete(t *testing.T) {
	required := []string{"brand", "model", "frame_number"}

	if err := lifecycle.CanComplete(required, map[string]string{
		"brand": "Cube", "model": "Touring", "frame_number": "WX123",
	}); err != nil {
		t.Fatalf("expected complete, got %v", err)
	}

	err := lifecycle.CanComplete(required, map[string]string{"brand": "Cube"})
	var inc *lifecycle.IncompleteDataError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteDataError, got %v", err)
	}
	if len(inc.Missing) != 2 || inc.Missing[0] != "frame_number" || inc.Missing[1] != "model" {
		t.Fatalf("unexpected missing list %v", inc.Missing)
	}

	// blank values count as missing
	err = lifecycle.CanComplete(required, map[string]string{
		"brand": "Cube", "model": "  ", "frame_number": "WX123",
	})
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteDataError for blank value, got %v", err)
	}
	if len(inc.Missing) != 1 || inc.Missing[0] != "model" {
		t.Fatalf("unexpected missing list %v", inc.Missing)
	}

	// duplicate required names behave as a set
	if err := lifecycle.CanComplete([]string{"brand", "brand"}, map[string]string{"brand": "Cube"}); err != nil {
		t.Fatalf("expected set semantics, got %v", err)
	}

	// extra fields beyond the required set are fine
	if err := lifecycle.CanComplete([]string{"brand"}, map[string]string{"brand": "Cube", "color": "red"}); err != nil {
		t.Fatalf("expected extras allowed, got %v", err)
	}

	// no policy means nothing to check
	if err := lifecycle.CanComplete(nil, nil); err != nil {
		t.Fatalf("expected nil policy to pass, got %v", err)
	}
}
