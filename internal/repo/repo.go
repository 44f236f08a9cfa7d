package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"clucko/internal/domain"
)

// Repo reads the activity journal.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// EventFilter narrows journal queries. Zero values match everything.
type EventFilter struct {
	Type       string
	EntityKind string
	EntityID   string
}

func (f EventFilter) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		if strings.HasSuffix(f.Type, ".*") {
			clauses = append(clauses, "type LIKE ?")
			args = append(args, strings.TrimSuffix(f.Type, "*")+"%")
		} else {
			clauses = append(clauses, "type=?")
			args = append(args, f.Type)
		}
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	return clauses, args
}

func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilter) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, f)
}

// LatestEventsFrom returns events older than cursor, newest first.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// GetEvent returns one event by id.
func (r Repo) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	events, err := r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events WHERE id=?`, id)
	if err != nil {
		return domain.Event{}, err
	}
	if len(events) == 0 {
		return domain.Event{}, ErrNotFound
	}
	return events[0], nil
}

// LatestEventID returns the most recent event ID, or 0 for an empty journal.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
