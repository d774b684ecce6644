package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"radwerk/internal/cockpit"
	"radwerk/internal/config"
	"radwerk/internal/db"
	"radwerk/internal/domain"
	"radwerk/internal/engine"
	"radwerk/internal/lifecycle"
	"radwerk/internal/migrate"
	"radwerk/internal/urgency"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

var testActor = domain.Actor{ID: "mech-1", DisplayName: "Sam"}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("shop-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitWorkshop(ctx, "shop-1", "Test Shop"); err != nil {
		t.Fatalf("init workshop: %v", err)
	}
	return testEnv{Engine: &eng, Ctx: ctx}
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		WorkshopID:   "shop-1",
		Title:        "Brake service",
		CustomerName: "Alex",
		Actor:        testActor,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if o.Status != lifecycle.OrderReceived {
		t.Fatalf("new order status = %q", o.Status)
	}

	path := []string{
		lifecycle.OrderInProgress,
		lifecycle.OrderAwaitingParts,
		lifecycle.OrderInProgress,
		lifecycle.OrderQCPending,
		lifecycle.OrderReadyForPickup,
		lifecycle.OrderPickedUp,
		lifecycle.OrderClosed,
	}
	for _, status := range path {
		o, err = env.Engine.TransitionOrder(env.Ctx, o.ID, status, testActor)
		if err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
		if o.Status != status {
			t.Fatalf("status = %q, want %q", o.Status, status)
		}
	}

	// reopen
	o, err = env.Engine.TransitionOrder(env.Ctx, o.ID, lifecycle.OrderInProgress, testActor)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if o.Status != lifecycle.OrderInProgress {
		t.Fatalf("reopened status = %q", o.Status)
	}

	// every transition plus creation is on the audit trail, oldest first
	events, err := env.Engine.History(env.Ctx, lifecycle.KindOrder, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != len(path)+2 {
		t.Fatalf("got %d events, want %d", len(events), len(path)+2)
	}
	if events[0].Kind != domain.EventCreated {
		t.Fatalf("first event = %q", events[0].Kind)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Kind != domain.EventStatusChange {
			t.Fatalf("event %d kind = %q", i, events[i].Kind)
		}
		if events[i].ID <= events[i-1].ID {
			t.Fatalf("event ids not strictly increasing at %d", i)
		}
	}
}

func TestInvalidTransitionLeavesOrderUntouched(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		WorkshopID: "shop-1", Title: "Tune-up", Actor: testActor,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = env.Engine.TransitionOrder(env.Ctx, o.ID, lifecycle.OrderClosed, testActor)
	var invalid *lifecycle.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	_, err = env.Engine.TransitionOrder(env.Ctx, o.ID, "melted", testActor)
	var unknown *lifecycle.UnknownStatusError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownStatusError, got %v", err)
	}

	got, err := env.Engine.Repo.GetOrder(env.Ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != lifecycle.OrderReceived {
		t.Fatalf("status changed on failed transition: %q", got.Status)
	}
	events, err := env.Engine.History(env.Ctx, lifecycle.KindOrder, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("failed transitions must not append events, got %d", len(events))
	}
}

func TestAssignNoteChecklist(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		WorkshopID: "shop-1", Title: "Wheel true", Actor: testActor,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	o, err = env.Engine.AssignOrder(env.Ctx, o.ID, "mech-2", "Kim", testActor)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if o.AssigneeID == nil || *o.AssigneeID != "mech-2" {
		t.Fatalf("assignee not set: %+v", o.AssigneeID)
	}
	if _, err := env.Engine.AddOrderNote(env.Ctx, o.ID, "spokes replaced", testActor); err != nil {
		t.Fatalf("note: %v", err)
	}
	if _, err := env.Engine.UpdateChecklist(env.Ctx, o.ID, "brakes checked", true, testActor); err != nil {
		t.Fatalf("checklist: %v", err)
	}

	events, err := env.Engine.History(env.Ctx, lifecycle.KindOrder, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	kinds := []string{domain.EventCreated, domain.EventAssignment, domain.EventNote, domain.EventChecklistUpdate}
	if len(events) != len(kinds) {
		t.Fatalf("got %d events, want %d", len(events), len(kinds))
	}
	for i, want := range kinds {
		if events[i].Kind != want {
			t.Fatalf("event %d kind = %q, want %q", i, events[i].Kind, want)
		}
	}
	payload, err := events[3].DecodePayload()
	if err != nil {
		t.Fatalf("decode checklist payload: %v", err)
	}
	cu, ok := payload.(domain.ChecklistUpdatePayload)
	if !ok || cu.Item != "brakes checked" || !cu.Done {
		t.Fatalf("unexpected checklist payload %+v", payload)
	}
}

// setRequiredFields replaces a workshop's stored completion policy.
func setRequiredFields(t *testing.T, env testEnv, workshopID string, fields []string) {
	t.Helper()
	cfg := config.Default(workshopID)
	cfg.Completion.RequiredFields = fields
	if err := env.Engine.Repo.UpsertWorkshopConfig(env.Ctx, workshopID, cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
}

func TestCompleteBuildGuard(t *testing.T) {
	env := newTestEnv(t)
	setRequiredFields(t, env, "shop-1", []string{"brand", "model"})

	b, err := env.Engine.CreateBuild(env.Ctx, engine.BuildCreateOptions{
		WorkshopID: "shop-1", Title: "City bike", Actor: testActor,
	})
	if err != nil {
		t.Fatalf("create build: %v", err)
	}
	b, err = env.Engine.TransitionBuild(env.Ctx, b.ID, lifecycle.BuildInProgress, testActor)
	if err != nil {
		t.Fatalf("to in_progress: %v", err)
	}

	// a bare status transition past in_progress runs the guard too
	_, err = env.Engine.TransitionBuild(env.Ctx, b.ID, lifecycle.BuildAssembled, testActor)
	var inc *lifecycle.IncompleteDataError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteDataError, got %v", err)
	}

	_, err = env.Engine.CompleteBuild(env.Ctx, b.ID, map[string]string{"brand": "Cube"}, testActor)
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteDataError, got %v", err)
	}
	if len(inc.Missing) != 1 || inc.Missing[0] != "model" {
		t.Fatalf("unexpected missing %v", inc.Missing)
	}
	got, err := env.Engine.Repo.GetBuild(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if got.Status != lifecycle.BuildInProgress {
		t.Fatalf("failed completion changed status to %q", got.Status)
	}

	b, err = env.Engine.CompleteBuild(env.Ctx, b.ID, map[string]string{"brand": "Cube", "model": "Hyde"}, testActor)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if b.Status != lifecycle.BuildAssembled {
		t.Fatalf("status = %q", b.Status)
	}
	if b.SpecsJSON == nil {
		t.Fatalf("specs not stored")
	}

	events, err := env.Engine.History(env.Ctx, lifecycle.KindBuild, b.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	// created, status_change, completion, status_change
	kinds := []string{domain.EventCreated, domain.EventStatusChange, domain.EventCompletion, domain.EventStatusChange}
	if len(events) != len(kinds) {
		t.Fatalf("got %d events, want %d", len(events), len(kinds))
	}
	for i, want := range kinds {
		if events[i].Kind != want {
			t.Fatalf("event %d kind = %q, want %q", i, events[i].Kind, want)
		}
	}

	b, err = env.Engine.TransitionBuild(env.Ctx, b.ID, lifecycle.BuildInspected, testActor)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if b.Status != lifecycle.BuildInspected {
		t.Fatalf("status = %q", b.Status)
	}
}

func TestCompletionPolicyPerWorkshop(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitWorkshop(env.Ctx, "shop-2", "Second Shop"); err != nil {
		t.Fatalf("init second workshop: %v", err)
	}
	setRequiredFields(t, env, "shop-1", []string{"brand"})
	setRequiredFields(t, env, "shop-2", []string{"serial_number"})

	mk := func(workshopID string) string {
		t.Helper()
		b, err := env.Engine.CreateBuild(env.Ctx, engine.BuildCreateOptions{
			WorkshopID: workshopID, Title: "Gravel bike", Actor: testActor,
		})
		if err != nil {
			t.Fatalf("create build in %s: %v", workshopID, err)
		}
		if _, err := env.Engine.TransitionBuild(env.Ctx, b.ID, lifecycle.BuildInProgress, testActor); err != nil {
			t.Fatalf("to in_progress: %v", err)
		}
		return b.ID
	}
	first := mk("shop-1")
	second := mk("shop-2")

	// the same fields satisfy shop-1 but not shop-2
	if _, err := env.Engine.CompleteBuild(env.Ctx, first, map[string]string{"brand": "Cube"}, testActor); err != nil {
		t.Fatalf("complete in shop-1: %v", err)
	}
	_, err := env.Engine.CompleteBuild(env.Ctx, second, map[string]string{"brand": "Cube"}, testActor)
	var inc *lifecycle.IncompleteDataError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteDataError in shop-2, got %v", err)
	}
	if len(inc.Missing) != 1 || inc.Missing[0] != "serial_number" {
		t.Fatalf("unexpected missing %v", inc.Missing)
	}
	b, err := env.Engine.CompleteBuild(env.Ctx, second, map[string]string{"serial_number": "WX123"}, testActor)
	if err != nil {
		t.Fatalf("complete in shop-2: %v", err)
	}
	if b.Status != lifecycle.BuildAssembled {
		t.Fatalf("status = %q", b.Status)
	}
}

func TestUrgencyWindowPerWorkshop(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitWorkshop(env.Ctx, "shop-2", "Second Shop"); err != nil {
		t.Fatalf("init second workshop: %v", err)
	}
	wide := config.Default("shop-2")
	wide.Urgency.UpcomingDays = 10
	if err := env.Engine.Repo.UpsertWorkshopConfig(env.Ctx, "shop-2", wide); err != nil {
		t.Fatalf("upsert config: %v", err)
	}

	// now is fixed at 2026-03-10 09:00 UTC; five days out is past
	// shop-1's default 3 day window but inside shop-2's 10 days
	for _, workshopID := range []string{"shop-1", "shop-2"} {
		_, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
			WorkshopID: workshopID, Title: "Fork swap", DueDate: "2026-03-15T12:00:00Z", Actor: testActor,
		})
		if err != nil {
			t.Fatalf("create order in %s: %v", workshopID, err)
		}
	}

	near, err := env.Engine.Cockpit(env.Ctx, "shop-1", cockpit.FilterAll)
	if err != nil {
		t.Fatalf("cockpit shop-1: %v", err)
	}
	if got := near.Entries[0].Classification.Tier; got != urgency.TierFarFuture {
		t.Fatalf("shop-1 tier = %q, want %q", got, urgency.TierFarFuture)
	}
	far, err := env.Engine.Cockpit(env.Ctx, "shop-2", cockpit.FilterAll)
	if err != nil {
		t.Fatalf("cockpit shop-2: %v", err)
	}
	if got := far.Entries[0].Classification.Tier; got != urgency.TierUpcoming {
		t.Fatalf("shop-2 tier = %q, want %q", got, urgency.TierUpcoming)
	}
}

func TestCockpitView(t *testing.T) {
	env := newTestEnv(t)
	mk := func(title, due string) {
		t.Helper()
		_, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
			WorkshopID: "shop-1", Title: title, DueDate: due, Actor: testActor,
		})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	// now is fixed at 2026-03-10 09:00 UTC
	mk("overdue job", "2026-03-09T10:00:00Z")
	mk("today job", "2026-03-10T17:00:00Z")
	mk("tomorrow job", "2026-03-11T08:00:00Z")
	mk("someday job", "")

	view, err := env.Engine.Cockpit(env.Ctx, "shop-1", cockpit.FilterAll)
	if err != nil {
		t.Fatalf("cockpit: %v", err)
	}
	if len(view.Entries) != 4 {
		t.Fatalf("got %d entries", len(view.Entries))
	}
	if view.Entries[0].Title != "overdue job" {
		t.Fatalf("overdue not first: %s", view.Entries[0].Title)
	}
	if view.Entries[3].Title != "someday job" {
		t.Fatalf("undated not last: %s", view.Entries[3].Title)
	}
	if view.Counts[cockpit.FilterUrgent] != 3 {
		t.Fatalf("urgent count = %d", view.Counts[cockpit.FilterUrgent])
	}
	if view.Counts[cockpit.FilterOverdue] != 1 || view.Counts[cockpit.FilterToday] != 1 {
		t.Fatalf("counts = %v", view.Counts)
	}

	urgent, err := env.Engine.Cockpit(env.Ctx, "shop-1", cockpit.FilterUrgent)
	if err != nil {
		t.Fatalf("cockpit urgent: %v", err)
	}
	if len(urgent.Entries) != urgent.Counts[cockpit.FilterUrgent] {
		t.Fatalf("filtered length %d != count %d", len(urgent.Entries), urgent.Counts[cockpit.FilterUrgent])
	}
}

func TestArchiveAndPurge(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		WorkshopID:   "shop-1",
		Title:        "Old repair",
		CustomerName: "Alex",
		Actor:        testActor,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	o, err = env.Engine.ArchiveOrder(env.Ctx, o.ID, "customer picked up", testActor)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if o.ArchivedAt == nil {
		t.Fatalf("archived_at not set")
	}
	// archiving twice is a no-op
	again, err := env.Engine.ArchiveOrder(env.Ctx, o.ID, "again", testActor)
	if err != nil {
		t.Fatalf("re-archive: %v", err)
	}
	if *again.ArchivedAt != *o.ArchivedAt {
		t.Fatalf("archived_at changed on second archive")
	}

	// archived orders drop out of default listings and the cockpit
	view, err := env.Engine.Cockpit(env.Ctx, "shop-1", cockpit.FilterAll)
	if err != nil {
		t.Fatalf("cockpit: %v", err)
	}
	if len(view.Entries) != 0 {
		t.Fatalf("archived order still on cockpit: %v", view.Entries)
	}

	// inside the retention window nothing is purged
	n, err := env.Engine.PurgeExpired(env.Ctx, "shop-1")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 0 {
		t.Fatalf("purged %d inside retention window", n)
	}

	// jump past the 30 day window
	env.Engine.Now = func() time.Time { return time.Date(2026, 4, 20, 9, 0, 0, 0, time.UTC) }
	n, err = env.Engine.PurgeExpired(env.Ctx, "shop-1")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}

	got, err := env.Engine.Repo.GetOrder(env.Ctx, o.ID)
	if err != nil {
		t.Fatalf("get purged order: %v", err)
	}
	if got.Status != lifecycle.StatusPurged {
		t.Fatalf("status = %q, want purged", got.Status)
	}
	if got.CustomerName != "" {
		t.Fatalf("personal data survived the purge: %q", got.CustomerName)
	}

	events, err := env.Engine.History(env.Ctx, lifecycle.KindOrder, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := events[len(events)-1]
	if last.Kind != domain.EventPurged {
		t.Fatalf("last event = %q, want purged", last.Kind)
	}
	if last.ActorID != "" {
		t.Fatalf("purge event must be system-attributed, got actor %q", last.ActorID)
	}

	// a second sweep finds nothing
	n, err = env.Engine.PurgeExpired(env.Ctx, "shop-1")
	if err != nil {
		t.Fatalf("second purge: %v", err)
	}
	if n != 0 {
		t.Fatalf("second purge touched %d entities", n)
	}
}
