package domain

import "encoding/json"

type Workshop struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Order struct {
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

type Build struct {
	ID           string  `json:"id"`
	WorkshopID   string  `json:"workshop_id"`
	Title        string  `json:"title"`
	CustomerName string  `json:"customer_name,omitempty"`
	Status       string  `json:"status" enum:"open,in_progress,assembled,inspected,purged"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	AssigneeName *string `json:"assignee_name,omitempty"`
	DueDate      *string `json:"due_date,omitempty" format:"date-time"`
	SpecsJSON    *string `json:"specs_json,omitempty"`
	ArchivedAt   *string `json:"archived_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// DecodeSpecs unpacks a build's stored bike attributes. A missing or
// malformed column reads as no attributes at all.
func DecodeSpecs(specsJSON *string) map[string]string {
	if specsJSON == nil || *specsJSON == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(*specsJSON), &out); err != nil {
		return nil
	}
	return out
}

// Actor identifies who caused an event. The zero value marks a
// system-generated event with no attribution.
type Actor struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

func (a Actor) IsZero() bool { return a.ID == "" && a.DisplayName == "" }

// Event is one immutable record in an entity's history. Rows are never
// updated or deleted after insert; ordering is by insert id, not TS.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Kind       string `json:"kind" enum:"created,status_change,assignment,note,checklist_update,completion,archived,purged"`
	WorkshopID string `json:"workshop_id,omitempty"`
	EntityKind string `json:"entity_kind" enum:"order,build"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id,omitempty"`
	ActorName  string `json:"actor_name,omitempty"`
	Payload    string `json:"payload_json"`
}

// Event kinds.
const (
	EventCreated         = "created"
	EventStatusChange    = "status_change"
	EventAssignment      = "assignment"
	EventNote            = "note"
	EventChecklistUpdate = "checklist_update"
	EventCompletion      = "completion"
	EventArchived        = "archived"
	EventPurged          = "purged"
)

// Typed payloads, one per event kind. Stored as JSON in the payload
// column; DecodePayload is the single place mapping kind to type.

type CreatedPayload struct {
	Title  string `json:"title"`
	Status string `json:"status"`
}

type StatusChangePayload struct {
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

type AssignmentPayload struct {
	AssigneeID   string `json:"assignee_id"`
	AssigneeName string `json:"assignee_name,omitempty"`
}

type NotePayload struct {
	Text string `json:"text"`
}

type ChecklistUpdatePayload struct {
	Item string `json:"item"`
	Done bool   `json:"done"`
}

type CompletionPayload struct {
	Fields map[string]string `json:"fields"`
}

type ArchivedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type PurgedPayload struct {
	ArchivedAt string `json:"archived_at"`
}

// DecodePayload unmarshals an event payload into its kind-specific type.
// Unknown kinds come back as a plain map so old logs still render.
func (e Event) DecodePayload() (any, error) {
	raw := []byte(e.Payload)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch e.Kind {
	case EventCreated:
		var p CreatedPayload
		return p, json.Unmarshal(raw, &p)
	case EventStatusChange:
		var p StatusChangePayload
		return p, json.Unmarshal(raw, &p)
	case EventAssignment:
		var p AssignmentPayload
		return p, json.Unmarshal(raw, &p)
	case EventNote:
		var p NotePayload
		return p, json.Unmarshal(raw, &p)
	case EventChecklistUpdate:
		var p ChecklistUpdatePayload
		return p, json.Unmarshal(raw, &p)
	case EventCompletion:
		var p CompletionPayload
		return p, json.Unmarshal(raw, &p)
	case EventArchived:
		var p ArchivedPayload
		return p, json.Unmarshal(raw, &p)
	case EventPurged:
		var p PurgedPayload
		return p, json.Unmarshal(raw, &p)
	default:
		var p map[string]any
		return p, json.Unmarshal(raw, &p)
	}
}
