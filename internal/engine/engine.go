package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"radwerk/internal/cockpit"
	"radwerk/internal/config"
	"radwerk/internal/domain"
	"radwerk/internal/events"
	"radwerk/internal/lifecycle"
	"radwerk/internal/repo"
	"radwerk/internal/urgency"
)

// Engine runs every mutation as one transaction: the entity write and
// its audit event commit together or not at all.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// InitWorkshop creates the workshop row and seeds its config.
func (e Engine) InitWorkshop(ctx context.Context, workshopID, name string) (domain.Workshop, error) {
	if workshopID == "" {
		return domain.Workshop{}, errors.New("workshop id is required")
	}
	w := domain.Workshop{
		ID:        workshopID,
		Name:      name,
		Status:    "active",
		CreatedAt: e.nowStr(),
	}
	if w.Name == "" {
		w.Name = workshopID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workshop{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkshop(ctx, tx, w); err != nil {
		return domain.Workshop{}, err
	}
	if err := e.Repo.UpsertWorkshopConfigTx(ctx, tx, w.ID, config.Default(w.ID)); err != nil {
		return domain.Workshop{}, fmt.Errorf("insert workshop config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Workshop{}, err
	}
	return w, nil
}

// OrderCreateOptions are parameters for taking in a repair order.
type OrderCreateOptions struct {
	ID           string
	WorkshopID   string
	Title        string
	CustomerName string
	BikeDesc     string
	AssigneeID   string
	AssigneeName string
	DueDate      string
	Actor        domain.Actor
}

func (e Engine) CreateOrder(ctx context.Context, opts OrderCreateOptions) (domain.Order, error) {
	if opts.Title == "" {
		return domain.Order{}, errors.New("title is required")
	}
	if opts.WorkshopID == "" {
		return domain.Order{}, errors.New("workshop is required")
	}
	if _, err := e.Repo.GetWorkshop(ctx, opts.WorkshopID); err != nil {
		return domain.Order{}, err
	}
	due, err := normalizeDue(opts.DueDate)
	if err != nil {
		return domain.Order{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowStr()
	o := domain.Order{
		ID:           id,
		WorkshopID:   opts.WorkshopID,
		Title:        opts.Title,
		CustomerName: opts.CustomerName,
		BikeDesc:     opts.BikeDesc,
		Status:       lifecycle.InitialStatus(lifecycle.KindOrder),
		AssigneeID:   optionalString(opts.AssigneeID),
		AssigneeName: optionalString(opts.AssigneeName),
		DueDate:      due,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOrder(ctx, tx, o); err != nil {
		return domain.Order{}, err
	}
	if err := e.appendEvent(ctx, tx, domain.EventCreated, o.WorkshopID, lifecycle.KindOrder, o.ID, opts.Actor,
		domain.CreatedPayload{Title: o.Title, Status: o.Status}); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// TransitionOrder moves an order along the adjacency table. The order
// is read and updated inside one transaction together with the
// status_change event; on any error the persisted order is untouched.
func (e Engine) TransitionOrder(ctx context.Context, id, toStatus string, actor domain.Actor) (domain.Order, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, err
	}
	defer tx.Rollback()
	o, err := e.Repo.GetOrderTx(ctx, tx, id)
	if err != nil {
		return o, err
	}
	evt, err := lifecycle.Transition(lifecycle.KindOrder, o.ID, o.Status, toStatus, actor, e.now())
	if err != nil {
		return o, err
	}
	evt.WorkshopID = o.WorkshopID
	o.Status = toStatus
	o.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateOrder(ctx, tx, o); err != nil {
		return o, err
	}
	if _, err := e.Events.Append(ctx, tx, evt); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// AssignOrder sets the responsible employee and records it.
func (e Engine) AssignOrder(ctx context.Context, id, assigneeID, assigneeName string, actor domain.Actor) (domain.Order, error) {
	o, err := e.Repo.GetOrder(ctx, id)
	if err != nil {
		return o, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	o.AssigneeID = optionalString(assigneeID)
	o.AssigneeName = optionalString(assigneeName)
	o.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateOrder(ctx, tx, o); err != nil {
		return o, err
	}
	if err := e.appendEvent(ctx, tx, domain.EventAssignment, o.WorkshopID, lifecycle.KindOrder, o.ID, actor,
		domain.AssignmentPayload{AssigneeID: assigneeID, AssigneeName: assigneeName}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// AddOrderNote appends a free-text note to the order's history.
func (e Engine) AddOrderNote(ctx context.Context, id, text string, actor domain.Actor) (domain.Event, error) {
	if text == "" {
		return domain.Event{}, errors.New("note text is required")
	}
	o, err := e.Repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}
	return e.appendStandalone(ctx, domain.EventNote, o.WorkshopID, lifecycle.KindOrder, o.ID, actor,
		domain.NotePayload{Text: text})
}

// UpdateChecklist records a repair-checklist item being ticked on or off.
func (e Engine) UpdateChecklist(ctx context.Context, id, item string, done bool, actor domain.Actor) (domain.Event, error) {
	if item == "" {
		return domain.Event{}, errors.New("checklist item is required")
	}
	o, err := e.Repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}
	return e.appendStandalone(ctx, domain.EventChecklistUpdate, o.WorkshopID, lifecycle.KindOrder, o.ID, actor,
		domain.ChecklistUpdatePayload{Item: item, Done: done})
}

// ArchiveOrder soft-deletes: the order drops out of listings but stays
// readable until the retention sweep purges it.
func (e Engine) ArchiveOrder(ctx context.Context, id, reason string, actor domain.Actor) (domain.Order, error) {
	o, err := e.Repo.GetOrder(ctx, id)
	if err != nil {
		return o, err
	}
	if o.ArchivedAt != nil {
		return o, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	now := e.nowStr()
	o.ArchivedAt = &now
	o.UpdatedAt = now
	if err := e.Repo.UpdateOrder(ctx, tx, o); err != nil {
		return o, err
	}
	if err := e.appendEvent(ctx, tx, domain.EventArchived, o.WorkshopID, lifecycle.KindOrder, o.ID, actor,
		domain.ArchivedPayload{Reason: reason}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// BuildCreateOptions are parameters for opening an assembly build.
type BuildCreateOptions struct {
	ID           string
	WorkshopID   string
	Title        string
	CustomerName string
	AssigneeID   string
	AssigneeName string
	DueDate      string
	Actor        domain.Actor
}

func (e Engine) CreateBuild(ctx context.Context, opts BuildCreateOptions) (domain.Build, error) {
	if opts.Title == "" {
		return domain.Build{}, errors.New("title is required")
	}
	if opts.WorkshopID == "" {
		return domain.Build{}, errors.New("workshop is required")
	}
	if _, err := e.Repo.GetWorkshop(ctx, opts.WorkshopID); err != nil {
		return domain.Build{}, err
	}
	due, err := normalizeDue(opts.DueDate)
	if err != nil {
		return domain.Build{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowStr()
	b := domain.Build{
		ID:           id,
		WorkshopID:   opts.WorkshopID,
		Title:        opts.Title,
		CustomerName: opts.CustomerName,
		Status:       lifecycle.InitialStatus(lifecycle.KindBuild),
		AssigneeID:   optionalString(opts.AssigneeID),
		AssigneeName: optionalString(opts.AssigneeName),
		DueDate:      due,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Build{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertBuild(ctx, tx, b); err != nil {
		return domain.Build{}, err
	}
	if err := e.appendEvent(ctx, tx, domain.EventCreated, b.WorkshopID, lifecycle.KindBuild, b.ID, opts.Actor,
		domain.CreatedPayload{Title: b.Title, Status: b.Status}); err != nil {
		return domain.Build{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Build{}, err
	}
	return b, nil
}

// TransitionBuild moves a build along its table. Advancing past
// in_progress runs the completion guard against the specs already on
// record; use CompleteBuild to supply them.
func (e Engine) TransitionBuild(ctx context.Context, id, toStatus string, actor domain.Actor) (domain.Build, error) {
	b, err := e.Repo.GetBuild(ctx, id)
	if err != nil {
		return b, err
	}
	if b.Status == lifecycle.BuildInProgress && toStatus == lifecycle.BuildAssembled {
		if err := lifecycle.CanComplete(e.requiredFieldsFor(ctx, b.WorkshopID), domain.DecodeSpecs(b.SpecsJSON)); err != nil {
			return b, err
		}
	}
	evt, err := lifecycle.Transition(lifecycle.KindBuild, b.ID, b.Status, toStatus, actor, e.now())
	if err != nil {
		return b, err
	}
	evt.WorkshopID = b.WorkshopID
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	b.Status = toStatus
	b.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateBuild(ctx, tx, b); err != nil {
		return b, err
	}
	if _, err := e.Events.Append(ctx, tx, evt); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// CompleteBuild collects the physical bike attributes, checks them
// against the workshop's required-fields policy and advances the build
// to assembled. One transaction: specs, completion event, status_change
// event and the status write all land together.
func (e Engine) CompleteBuild(ctx context.Context, id string, fields map[string]string, actor domain.Actor) (domain.Build, error) {
	b, err := e.Repo.GetBuild(ctx, id)
	if err != nil {
		return b, err
	}
	if err := lifecycle.CanComplete(e.requiredFieldsFor(ctx, b.WorkshopID), fields); err != nil {
		return b, err
	}
	evt, err := lifecycle.Transition(lifecycle.KindBuild, b.ID, b.Status, lifecycle.BuildAssembled, actor, e.now())
	if err != nil {
		return b, err
	}
	evt.WorkshopID = b.WorkshopID
	specs, err := json.Marshal(fields)
	if err != nil {
		return b, fmt.Errorf("marshal specs: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	specsStr := string(specs)
	b.SpecsJSON = &specsStr
	b.Status = lifecycle.BuildAssembled
	b.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateBuild(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.appendEvent(ctx, tx, domain.EventCompletion, b.WorkshopID, lifecycle.KindBuild, b.ID, actor,
		domain.CompletionPayload{Fields: fields}); err != nil {
		return b, err
	}
	if _, err := e.Events.Append(ctx, tx, evt); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

func (e Engine) AssignBuild(ctx context.Context, id, assigneeID, assigneeName string, actor domain.Actor) (domain.Build, error) {
	b, err := e.Repo.GetBuild(ctx, id)
	if err != nil {
		return b, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	b.AssigneeID = optionalString(assigneeID)
	b.AssigneeName = optionalString(assigneeName)
	b.UpdatedAt = e.nowStr()
	if err := e.Repo.UpdateBuild(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.appendEvent(ctx, tx, domain.EventAssignment, b.WorkshopID, lifecycle.KindBuild, b.ID, actor,
		domain.AssignmentPayload{AssigneeID: assigneeID, AssigneeName: assigneeName}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

func (e Engine) AddBuildNote(ctx context.Context, id, text string, actor domain.Actor) (domain.Event, error) {
	if text == "" {
		return domain.Event{}, errors.New("note text is required")
	}
	b, err := e.Repo.GetBuild(ctx, id)
	if err != nil {
		return domain.Event{}, err
	}
	return e.appendStandalone(ctx, domain.EventNote, b.WorkshopID, lifecycle.KindBuild, b.ID, actor,
		domain.NotePayload{Text: text})
}

func (e Engine) ArchiveBuild(ctx context.Context, id, reason string, actor domain.Actor) (domain.Build, error) {
	b, err := e.Repo.GetBuild(ctx, id)
	if err != nil {
		return b, err
	}
	if b.ArchivedAt != nil {
		return b, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return b, err
	}
	defer tx.Rollback()
	now := e.nowStr()
	b.ArchivedAt = &now
	b.UpdatedAt = now
	if err := e.Repo.UpdateBuild(ctx, tx, b); err != nil {
		return b, err
	}
	if err := e.appendEvent(ctx, tx, domain.EventArchived, b.WorkshopID, lifecycle.KindBuild, b.ID, actor,
		domain.ArchivedPayload{Reason: reason}); err != nil {
		return b, err
	}
	if err := tx.Commit(); err != nil {
		return b, err
	}
	return b, nil
}

// PurgeExpired is the retention sweep. Entities archived longer than
// the configured window become purged tombstones; each gets a final
// system event with no actor. Returns how many entities were purged.
func (e Engine) PurgeExpired(ctx context.Context, workshopID string) (int, error) {
	retention := 30
	if cfg := e.configFor(ctx, workshopID); cfg != nil && cfg.Retention.ArchiveDays > 0 {
		retention = cfg.Retention.ArchiveDays
	}
	cutoff := e.now().UTC().AddDate(0, 0, -retention).Format(time.RFC3339)
	orders, err := e.Repo.ArchivedOrdersBefore(ctx, workshopID, cutoff)
	if err != nil {
		return 0, err
	}
	builds, err := e.Repo.ArchivedBuildsBefore(ctx, workshopID, cutoff)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, o := range orders {
		if err := e.purgeOne(ctx, lifecycle.KindOrder, o.ID, o.WorkshopID, deref(o.ArchivedAt)); err != nil {
			return purged, err
		}
		purged++
	}
	for _, b := range builds {
		if err := e.purgeOne(ctx, lifecycle.KindBuild, b.ID, b.WorkshopID, deref(b.ArchivedAt)); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (e Engine) purgeOne(ctx context.Context, kind lifecycle.EntityKind, id, workshopID, archivedAt string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.nowStr()
	switch kind {
	case lifecycle.KindOrder:
		err = e.Repo.PurgeOrder(ctx, tx, id, now)
	case lifecycle.KindBuild:
		err = e.Repo.PurgeBuild(ctx, tx, id, now)
	}
	if err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, domain.EventPurged, workshopID, kind, id, domain.Actor{},
		domain.PurgedPayload{ArchivedAt: archivedAt}); err != nil {
		return err
	}
	return tx.Commit()
}

// CockpitView is the dashboard payload: classified, sorted entries plus
// the badge counts.
type CockpitView struct {
	Filter  cockpit.Filter         `json:"filter"`
	Entries []cockpit.Entry        `json:"entries"`
	Counts  map[cockpit.Filter]int `json:"counts"`
}

// Cockpit loads active work, classifies it against one now snapshot and
// returns the filtered, ranked view.
func (e Engine) Cockpit(ctx context.Context, workshopID string, filter cockpit.Filter) (CockpitView, error) {
	if filter == "" {
		filter = cockpit.FilterAll
	}
	orders, err := e.Repo.ListOrders(ctx, repo.OrderFilters{WorkshopID: workshopID})
	if err != nil {
		return CockpitView{}, err
	}
	builds, err := e.Repo.ListBuilds(ctx, repo.BuildFilters{WorkshopID: workshopID})
	if err != nil {
		return CockpitView{}, err
	}
	var entries []cockpit.Entry
	for _, o := range orders {
		if o.Status == lifecycle.StatusPurged {
			continue
		}
		entries = append(entries, cockpit.Entry{
			ID:         o.ID,
			EntityKind: string(lifecycle.KindOrder),
			Title:      o.Title,
			Status:     o.Status,
			AssigneeID: deref(o.AssigneeID),
			DueDate:    parseDue(o.DueDate),
		})
	}
	for _, b := range builds {
		if b.Status == lifecycle.StatusPurged {
			continue
		}
		entries = append(entries, cockpit.Entry{
			ID:         b.ID,
			EntityKind: string(lifecycle.KindBuild),
			Title:      b.Title,
			Status:     b.Status,
			AssigneeID: deref(b.AssigneeID),
			DueDate:    parseDue(b.DueDate),
		})
	}
	c := cockpit.Cockpit{Classifier: e.classifierFor(ctx, workshopID)}
	sorted := c.ClassifyAndSort(entries, e.now())
	return CockpitView{
		Filter:  filter,
		Entries: cockpit.FilterByTier(sorted, filter),
		Counts:  cockpit.CountsByTier(sorted),
	}, nil
}

// History returns the full audit trail for one entity, oldest first.
func (e Engine) History(ctx context.Context, kind lifecycle.EntityKind, id string) ([]domain.Event, error) {
	switch kind {
	case lifecycle.KindOrder:
		if _, err := e.Repo.GetOrder(ctx, id); err != nil {
			return nil, err
		}
	case lifecycle.KindBuild:
		if _, err := e.Repo.GetBuild(ctx, id); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return e.Repo.EntityHistory(ctx, string(kind), id)
}

// configFor resolves the policy document for one workshop. Every
// workshop keeps its own stored config; the engine's startup config is
// only the fallback when the store has none.
func (e Engine) configFor(ctx context.Context, workshopID string) *config.Config {
	if workshopID != "" {
		if cfg, err := e.Repo.GetWorkshopConfig(ctx, workshopID); err == nil {
			return cfg
		}
	}
	return e.Config
}

func (e Engine) classifierFor(ctx context.Context, workshopID string) urgency.Classifier {
	c := urgency.Classifier{}
	if cfg := e.configFor(ctx, workshopID); cfg != nil {
		c.UpcomingDays = cfg.Urgency.UpcomingDays
	}
	return c
}

func (e Engine) requiredFieldsFor(ctx context.Context, workshopID string) []string {
	if cfg := e.configFor(ctx, workshopID); cfg != nil {
		return cfg.Completion.RequiredFields
	}
	return nil
}

// --- helpers ---

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, kind, workshopID string, entityKind lifecycle.EntityKind, entityID string, actor domain.Actor, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = e.Events.Append(ctx, tx, domain.Event{
		TS:         e.nowStr(),
		Kind:       kind,
		WorkshopID: workshopID,
		EntityKind: string(entityKind),
		EntityID:   entityID,
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		Payload:    string(data),
	})
	return err
}

func (e Engine) appendStandalone(ctx context.Context, kind, workshopID string, entityKind lifecycle.EntityKind, entityID string, actor domain.Actor, payload any) (domain.Event, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt, err := e.Events.Append(ctx, tx, domain.Event{
		TS:         e.nowStr(),
		Kind:       kind,
		WorkshopID: workshopID,
		EntityKind: string(entityKind),
		EntityID:   entityID,
		ActorID:    actor.ID,
		ActorName:  actor.DisplayName,
		Payload:    string(data),
	})
	if err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}

func normalizeDue(due string) (*string, error) {
	if due == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, due)
	if err != nil {
		return nil, fmt.Errorf("due date must be RFC3339: %w", err)
	}
	s := t.UTC().Format(time.RFC3339)
	return &s, nil
}

func parseDue(due *string) *time.Time {
	if due == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *due)
	if err != nil {
		return nil
	}
	return &t
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
