package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Writer appends controller activity to the journal table. It never stores
// one-time codes or session tokens; callers pass only metadata.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time

	mu        sync.RWMutex
	listeners []func(id int64, evtType string)
}

// redacted keys are dropped from payloads before they are written.
var redacted = map[string]struct{}{
	"code":  {},
	"token": {},
	"raw":   {},
}

// Record appends one event outside any caller transaction.
func (w *Writer) Record(ctx context.Context, evtType, entityKind, entityID string, payload map[string]any) error {
	res, err := w.insert(ctx, w.DB, evtType, entityKind, entityID, payload)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	w.mu.RLock()
	listeners := append([]func(int64, string){}, w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		fn(id, evtType)
	}
	return nil
}

// OnRecord registers fn to be called after each successful Record.
func (w *Writer) OnRecord(fn func(id int64, evtType string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (w *Writer) insert(ctx context.Context, db execer, evtType, entityKind, entityID string, payload map[string]any) (sql.Result, error) {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	clean := make(map[string]any, len(payload))
	for k, v := range payload {
		if _, drop := redacted[k]; drop {
			continue
		}
		clean[k] = v
	}
	data, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return db.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), string(data))
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
