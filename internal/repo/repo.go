package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"radwerk/internal/config"
	"radwerk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrUnavailable wraps driver-level failures so callers can tell a
// broken store apart from a domain error and retry.
var ErrUnavailable = errors.New("store unavailable")

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// --- workshops ---

func (r Repo) InsertWorkshop(ctx context.Context, tx *sql.Tx, w domain.Workshop) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workshops(id,name,status,created_at) VALUES (?,?,?,?)`,
		w.ID, w.Name, w.Status, w.CreatedAt)
	if err != nil {
		return storeErr("insert workshop", err)
	}
	return nil
}

func (r Repo) GetWorkshop(ctx context.Context, id string) (domain.Workshop, error) {
	var w domain.Workshop
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM workshops WHERE id=?`, id).
		Scan(&w.ID, &w.Name, &w.Status, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, storeErr("get workshop", err)
	}
	return w, nil
}

func (r Repo) SingleWorkshop(ctx context.Context) (domain.Workshop, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM workshops`)
	if err != nil {
		return domain.Workshop{}, storeErr("list workshops", err)
	}
	defer rows.Close()
	var workshops []domain.Workshop
	for rows.Next() {
		var w domain.Workshop
		if err := rows.Scan(&w.ID, &w.Name, &w.Status, &w.CreatedAt); err != nil {
			return domain.Workshop{}, storeErr("scan workshop", err)
		}
		workshops = append(workshops, w)
	}
	if len(workshops) == 0 {
		return domain.Workshop{}, ErrNotFound
	}
	if len(workshops) > 1 {
		return domain.Workshop{}, fmt.Errorf("multiple workshops exist; specify --workshop")
	}
	return workshops[0], nil
}

func (r Repo) ListWorkshops(ctx context.Context) ([]domain.Workshop, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM workshops ORDER BY created_at DESC`)
	if err != nil {
		return nil, storeErr("list workshops", err)
	}
	defer rows.Close()
	var res []domain.Workshop
	for rows.Next() {
		var w domain.Workshop
		if err := rows.Scan(&w.ID, &w.Name, &w.Status, &w.CreatedAt); err != nil {
			return nil, storeErr("scan workshop", err)
		}
		res = append(res, w)
	}
	return res, nil
}

// --- workshop configs ---

func (r Repo) UpsertWorkshopConfig(ctx context.Context, workshopID string, cfg *config.Config) error {
	return upsertWorkshopConfig(ctx, r.DB, nil, workshopID, cfg)
}

func (r Repo) UpsertWorkshopConfigTx(ctx context.Context, tx *sql.Tx, workshopID string, cfg *config.Config) error {
	return upsertWorkshopConfig(ctx, nil, tx, workshopID, cfg)
}

func upsertWorkshopConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, workshopID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Workshop.ID = workshopID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO workshop_configs(workshop_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(workshop_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, workshopID, string(payload), now, now)
	if err != nil {
		return storeErr("upsert workshop config", err)
	}
	return nil
}

func (r Repo) GetWorkshopConfig(ctx context.Context, workshopID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workshop_configs WHERE workshop_id=?`, workshopID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get workshop config", err)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Workshop.ID == "" {
		cfg.Workshop.ID = workshopID
	}
	return &cfg, cfg.Validate()
}

// --- orders ---

const orderColumns = `id,workshop_id,title,customer_name,bike_desc,status,assignee_id,assignee_name,due_date,archived_at,created_at,updated_at`

func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orders(`+orderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.WorkshopID, o.Title, nullable(o.CustomerName), nullable(o.BikeDesc), o.Status,
		nullableStringPtr(o.AssigneeID), nullableStringPtr(o.AssigneeName), nullableStringPtr(o.DueDate),
		nullableStringPtr(o.ArchivedAt), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return storeErr("insert order", err)
	}
	return nil
}

func (r Repo) UpdateOrder(ctx context.Context, tx *sql.Tx, o domain.Order) error {
	_, err := tx.ExecContext(ctx, `UPDATE orders SET title=?, customer_name=?, bike_desc=?, status=?, assignee_id=?, assignee_name=?, due_date=?, archived_at=?, updated_at=? WHERE id=?`,
		o.Title, nullable(o.CustomerName), nullable(o.BikeDesc), o.Status,
		nullableStringPtr(o.AssigneeID), nullableStringPtr(o.AssigneeName), nullableStringPtr(o.DueDate),
		nullableStringPtr(o.ArchivedAt), o.UpdatedAt, o.ID)
	if err != nil {
		return storeErr("update order", err)
	}
	return nil
}

func scanOrder(scan func(dest ...any) error) (domain.Order, error) {
	var o domain.Order
	var customer, bike, assigneeID, assigneeName, due, archived sql.NullString
	err := scan(&o.ID, &o.WorkshopID, &o.Title, &customer, &bike, &o.Status,
		&assigneeID, &assigneeName, &due, &archived, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	if customer.Valid {
		o.CustomerName = customer.String
	}
	if bike.Valid {
		o.BikeDesc = bike.String
	}
	o.AssigneeID = fromNull(assigneeID)
	o.AssigneeName = fromNull(assigneeName)
	o.DueDate = fromNull(due)
	o.ArchivedAt = fromNull(archived)
	return o, nil
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	o, err := scanOrder(row.Scan)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, storeErr("get order", err)
	}
	return o, nil
}

func (r Repo) GetOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.Order, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=?`, id)
	o, err := scanOrder(row.Scan)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, storeErr("get order", err)
	}
	return o, nil
}

type OrderFilters struct {
	WorkshopID      string
	Status          string
	AssigneeID      string
	IncludeArchived bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.Order, error) {
	var clauses []string
	var args []any
	if f.WorkshopID != "" {
		clauses = append(clauses, "workshop_id=?")
		args = append(args, f.WorkshopID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived_at IS NULL")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list orders", err)
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, storeErr("scan order", err)
		}
		res = append(res, o)
	}
	return res, nil
}

func (r Repo) CountOrdersByStatus(ctx context.Context, workshopID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM orders WHERE workshop_id=? AND archived_at IS NULL GROUP BY status`, workshopID)
	if err != nil {
		return nil, storeErr("count orders", err)
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storeErr("scan count", err)
		}
		res[status] = count
	}
	return res, nil
}

// --- builds ---

const buildColumns = `id,workshop_id,title,customer_name,status,assignee_id,assignee_name,due_date,specs_json,archived_at,created_at,updated_at`

func (r Repo) InsertBuild(ctx context.Context, tx *sql.Tx, b domain.Build) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO builds(`+buildColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.WorkshopID, b.Title, nullable(b.CustomerName), b.Status,
		nullableStringPtr(b.AssigneeID), nullableStringPtr(b.AssigneeName), nullableStringPtr(b.DueDate),
		nullableStringPtr(b.SpecsJSON), nullableStringPtr(b.ArchivedAt), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return storeErr("insert build", err)
	}
	return nil
}

func (r Repo) UpdateBuild(ctx context.Context, tx *sql.Tx, b domain.Build) error {
	_, err := tx.ExecContext(ctx, `UPDATE builds SET title=?, customer_name=?, status=?, assignee_id=?, assignee_name=?, due_date=?, specs_json=?, archived_at=?, updated_at=? WHERE id=?`,
		b.Title, nullable(b.CustomerName), b.Status,
		nullableStringPtr(b.AssigneeID), nullableStringPtr(b.AssigneeName), nullableStringPtr(b.DueDate),
		nullableStringPtr(b.SpecsJSON), nullableStringPtr(b.ArchivedAt), b.UpdatedAt, b.ID)
	if err != nil {
		return storeErr("update build", err)
	}
	return nil
}

func scanBuild(scan func(dest ...any) error) (domain.Build, error) {
	var b domain.Build
	var customer, assigneeID, assigneeName, due, specs, archived sql.NullString
	err := scan(&b.ID, &b.WorkshopID, &b.Title, &customer, &b.Status,
		&assigneeID, &assigneeName, &due, &specs, &archived, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	if customer.Valid {
		b.CustomerName = customer.String
	}
	b.AssigneeID = fromNull(assigneeID)
	b.AssigneeName = fromNull(assigneeName)
	b.DueDate = fromNull(due)
	b.SpecsJSON = fromNull(specs)
	b.ArchivedAt = fromNull(archived)
	return b, nil
}

func (r Repo) GetBuild(ctx context.Context, id string) (domain.Build, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id=?`, id)
	b, err := scanBuild(row.Scan)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, storeErr("get build", err)
	}
	return b, nil
}

type BuildFilters struct {
	WorkshopID      string
	Status          string
	AssigneeID      string
	IncludeArchived bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListBuilds(ctx context.Context, f BuildFilters) ([]domain.Build, error) {
	var clauses []string
	var args []any
	if f.WorkshopID != "" {
		clauses = append(clauses, "workshop_id=?")
		args = append(args, f.WorkshopID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived_at IS NULL")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + buildColumns + ` FROM builds ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list builds", err)
	}
	defer rows.Close()
	var res []domain.Build
	for rows.Next() {
		b, err := scanBuild(rows.Scan)
		if err != nil {
			return nil, storeErr("scan build", err)
		}
		res = append(res, b)
	}
	return res, nil
}

func (r Repo) CountBuildsByStatus(ctx context.Context, workshopID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM builds WHERE workshop_id=? AND archived_at IS NULL GROUP BY status`, workshopID)
	if err != nil {
		return nil, storeErr("count builds", err)
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storeErr("scan count", err)
		}
		res[status] = count
	}
	return res, nil
}

// --- events ---

const eventColumns = `id,ts,kind,workshop_id,entity_kind,entity_id,actor_id,actor_name,payload_json`

func scanEvent(scan func(dest ...any) error) (domain.Event, error) {
	var e domain.Event
	var workshopID, actorID, actorName, payload sql.NullString
	err := scan(&e.ID, &e.TS, &e.Kind, &workshopID, &e.EntityKind, &e.EntityID, &actorID, &actorName, &payload)
	if err != nil {
		return e, err
	}
	if workshopID.Valid {
		e.WorkshopID = workshopID.String
	}
	if actorID.Valid {
		e.ActorID = actorID.String
	}
	if actorName.Valid {
		e.ActorName = actorName.String
	}
	if payload.Valid {
		e.Payload = payload.String
	}
	return e, nil
}

// EntityHistory returns the full history for one entity, oldest first.
// Positions are stable: a row at index i never changes across reads.
func (r Repo) EntityHistory(ctx context.Context, entityKind, entityID string) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE entity_kind=? AND entity_id=? ORDER BY id ASC`, entityKind, entityID)
	if err != nil {
		return nil, storeErr("read history", err)
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, storeErr("scan event", err)
		}
		res = append(res, e)
	}
	return res, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, workshopID, kind, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, workshopID, kind, entityKind, entityID)
}

// LatestEventsFrom pages the event log newest first; cursor is an event id.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, workshopID, kind, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if workshopID != "" {
		clauses = append(clauses, "workshop_id=?")
		args = append(args, workshopID)
	}
	if kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, kind)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT `+eventColumns+` FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list events", err)
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, storeErr("scan event", err)
		}
		res = append(res, e)
	}
	return res, nil
}

// --- retention ---

// ArchivedOrdersBefore lists orders archived at or before the cutoff
// that the sweep has not purged yet.
func (r Repo) ArchivedOrdersBefore(ctx context.Context, workshopID, cutoff string) ([]domain.Order, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE workshop_id=? AND archived_at IS NOT NULL AND archived_at<=? AND status!=?`, workshopID, cutoff, "purged")
	if err != nil {
		return nil, storeErr("list archived orders", err)
	}
	defer rows.Close()
	var res []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, storeErr("scan order", err)
		}
		res = append(res, o)
	}
	return res, nil
}

func (r Repo) ArchivedBuildsBefore(ctx context.Context, workshopID, cutoff string) ([]domain.Build, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE workshop_id=? AND archived_at IS NOT NULL AND archived_at<=? AND status!=?`, workshopID, cutoff, "purged")
	if err != nil {
		return nil, storeErr("list archived builds", err)
	}
	defer rows.Close()
	var res []domain.Build
	for rows.Next() {
		b, err := scanBuild(rows.Scan)
		if err != nil {
			return nil, storeErr("scan build", err)
		}
		res = append(res, b)
	}
	return res, nil
}

// PurgeOrder clears the personal columns and parks the row as a
// tombstone so event history keeps a valid target.
func (r Repo) PurgeOrder(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE orders SET status='purged', customer_name=NULL, bike_desc=NULL, assignee_id=NULL, assignee_name=NULL, due_date=NULL, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return storeErr("purge order", err)
	}
	return nil
}

func (r Repo) PurgeBuild(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE builds SET status='purged', customer_name=NULL, assignee_id=NULL, assignee_name=NULL, due_date=NULL, specs_json=NULL, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return storeErr("purge build", err)
	}
	return nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
