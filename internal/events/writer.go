package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"radwerk/internal/domain"
)

// Writer appends history rows. Append always runs inside the caller's
// transaction so a status write and its audit event commit as one unit.
type Writer struct {
	Now func() time.Time
}

// Append inserts the event, assigning TS from the clock when the caller
// left it blank. Ordering between events is defined by the insert id,
// never by TS, so skewed caller clocks cannot reorder history.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.Event) (domain.Event, error) {
	if e.TS == "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		e.TS = now().UTC().Format(time.RFC3339)
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,kind,workshop_id,entity_kind,entity_id,actor_id,actor_name,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		e.TS, e.Kind, nullable(e.WorkshopID), e.EntityKind, e.EntityID, nullable(e.ActorID), nullable(e.ActorName), e.Payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return e, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
