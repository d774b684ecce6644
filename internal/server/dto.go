package server

import (
	"time"

	"radwerk/internal/cockpit"
	"radwerk/internal/config"
	"radwerk/internal/domain"
	"radwerk/internal/urgency"
)

// Request payloads

type CreateWorkshopRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type CreateOrderRequest struct {
	ID           *string `json:"id,omitempty"`
	Title        string  `json:"title"`
	CustomerName string  `json:"customer_name,omitempty"`
	BikeDesc     string  `json:"bike_desc,omitempty"`
	AssigneeID   string  `json:"assignee_id,omitempty"`
	AssigneeName string  `json:"assignee_name,omitempty"`
	DueDate      string  `json:"due_date,omitempty" format:"date-time"`
}

type CreateBuildRequest struct {
	ID           *string `json:"id,omitempty"`
	Title        string  `json:"title"`
	CustomerName string  `json:"customer_name,omitempty"`
	AssigneeID   string  `json:"assignee_id,omitempty"`
	AssigneeName string  `json:"assignee_name,omitempty"`
	DueDate      string  `json:"due_date,omitempty" format:"date-time"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type AssignRequest struct {
	AssigneeID   string `json:"assignee_id"`
	AssigneeName string `json:"assignee_name,omitempty"`
}

type NoteRequest struct {
	Text string `json:"text"`
}

type ChecklistRequest struct {
	Item string `json:"item"`
	Done bool   `json:"done"`
}

type ArchiveRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CompleteBuildRequest struct {
	Fields map[string]string `json:"fields"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type WorkshopResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type OrderResponse struct {
	ID           string  `json:"id"`
	WorkshopID   string  `json:"workshop_id"`
	Title        string  `json:"title"`
	CustomerName string  `json:"customer_name,omitempty"`
	BikeDesc     string  `json:"bike_desc,omitempty"`
	Status       string  `json:"status" enum:"received,awaiting_parts,in_progress,qc_pending,ready_for_pickup,picked_up,closed,purged"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	AssigneeName *string `json:"assignee_name,omitempty"`
	DueDate      *string `json:"due_date,omitempty" format:"date-time"`
	ArchivedAt   *string `json:"archived_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type BuildResponse struct {
	ID           string            `json:"id"`
	WorkshopID   string            `json:"workshop_id"`
	Title        string            `json:"title"`
	CustomerName string            `json:"customer_name,omitempty"`
	Status       string            `json:"status" enum:"open,in_progress,assembled,inspected,purged"`
	AssigneeID   *string           `json:"assignee_id,omitempty"`
	AssigneeName *string           `json:"assignee_name,omitempty"`
	DueDate      *string           `json:"due_date,omitempty" format:"date-time"`
	Specs        map[string]string `json:"specs,omitempty"`
	ArchivedAt   *string           `json:"archived_at,omitempty" format:"date-time"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Kind       string `json:"kind"`
	WorkshopID string `json:"workshop_id,omitempty"`
	EntityKind string `json:"entity_kind" enum:"order,build"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id,omitempty"`
	ActorName  string `json:"actor_name,omitempty"`
	Payload    any    `json:"payload"`
}

type CockpitEntryResponse struct {
	ID         string  `json:"id"`
	EntityKind string  `json:"entity_kind" enum:"order,build"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	AssigneeID string  `json:"assignee_id,omitempty"`
	DueDate    *string `json:"due_date,omitempty" format:"date-time"`
	Tier       string  `json:"tier" enum:"overdue,due_today,due_tomorrow,upcoming,far_future,none"`
	Label      string  `json:"label"`
	Badge      string  `json:"badge"`
	IsOverdue  bool    `json:"is_overdue"`
	IsDueToday bool    `json:"is_due_today"`
	IsUrgent   bool    `json:"is_urgent"`
}

type CockpitResponse struct {
	Filter  string                 `json:"filter" enum:"all,overdue,today,urgent,upcoming"`
	Entries []CockpitEntryResponse `json:"entries"`
	Counts  map[string]int         `json:"counts"`
}

type WorkshopConfigResponse struct {
	Workshop struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"workshop"`
	Completion struct {
		RequiredFields []string `json:"required_fields"`
	} `json:"completion"`
	Urgency struct {
		UpcomingDays int `json:"upcoming_days"`
	} `json:"urgency"`
	Retention struct {
		ArchiveDays int `json:"archive_days"`
	} `json:"retention"`
}

// UpdateWorkshopConfigRequest replaces the stored policy document for a
// workshop. The workshop id comes from the path, never the body.
type UpdateWorkshopConfigRequest struct {
	Workshop struct {
		Name string `json:"name,omitempty"`
	} `json:"workshop,omitempty"`
	Completion struct {
		RequiredFields []string `json:"required_fields,omitempty"`
	} `json:"completion,omitempty"`
	Urgency struct {
		UpcomingDays int `json:"upcoming_days,omitempty" minimum:"0"`
	} `json:"urgency,omitempty"`
	Retention struct {
		ArchiveDays int `json:"archive_days,omitempty" minimum:"0"`
	} `json:"retention,omitempty"`
}

type paginatedOrders struct {
	Items      []OrderResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedBuilds struct {
	Items      []BuildResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type PurgeResponse struct {
	Purged int `json:"purged"`
}

// Conversion helpers

func workshopResponse(w domain.Workshop) WorkshopResponse {
	return WorkshopResponse(w)
}

func orderResponse(o domain.Order) OrderResponse {
	return OrderResponse(o)
}

func buildResponse(b domain.Build) BuildResponse {
	return BuildResponse{
		ID:           b.ID,
		WorkshopID:   b.WorkshopID,
		Title:        b.Title,
		CustomerName: b.CustomerName,
		Status:       b.Status,
		AssigneeID:   b.AssigneeID,
		AssigneeName: b.AssigneeName,
		DueDate:      b.DueDate,
		Specs:        domain.DecodeSpecs(b.SpecsJSON),
		ArchivedAt:   b.ArchivedAt,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload, err := e.DecodePayload()
	if err != nil {
		payload = map[string]any{}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Kind:       e.Kind,
		WorkshopID: e.WorkshopID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		ActorName:  e.ActorName,
		Payload:    payload,
	}
}

func cockpitEntryResponse(e cockpit.Entry) CockpitEntryResponse {
	var due *string
	if e.DueDate != nil {
		s := e.DueDate.UTC().Format(time.RFC3339)
		due = &s
	}
	cl := e.Classification
	return CockpitEntryResponse{
		ID:         e.ID,
		EntityKind: e.EntityKind,
		Title:      e.Title,
		Status:     e.Status,
		AssigneeID: e.AssigneeID,
		DueDate:    due,
		Tier:       string(cl.Tier),
		Label:      cl.Label,
		Badge:      cl.Badge,
		IsOverdue:  cl.IsOverdue,
		IsDueToday: cl.IsDueToday,
		IsUrgent:   cl.IsUrgent,
	}
}

func cockpitCounts(counts map[cockpit.Filter]int) map[string]int {
	out := make(map[string]int, len(counts))
	for f, n := range counts {
		out[string(f)] = n
	}
	return out
}

func configResponse(cfg *config.Config) WorkshopConfigResponse {
	var res WorkshopConfigResponse
	res.Workshop.ID = cfg.Workshop.ID
	res.Workshop.Name = cfg.Workshop.Name
	res.Completion.RequiredFields = nonNilSlice(cfg.Completion.RequiredFields)
	res.Urgency.UpcomingDays = cfg.Urgency.UpcomingDays
	if res.Urgency.UpcomingDays == 0 {
		res.Urgency.UpcomingDays = urgency.DefaultUpcomingDays
	}
	res.Retention.ArchiveDays = cfg.Retention.ArchiveDays
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
