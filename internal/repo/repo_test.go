package repo_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"clucko/internal/db"
	"clucko/internal/events"
	"clucko/internal/migrate"
	"clucko/internal/repo"
)

type testEnv struct {
	Writer *events.Writer
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := &events.Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	return testEnv{Writer: w, Repo: repo.Repo{DB: conn}, Ctx: ctx}
}

func TestMigrateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := migrate.Migrate(env.Ctx, env.Repo.DB); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := migrate.Version(env.Ctx, env.Repo.DB)
	if err != nil {
		t.Fatal(err)
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if v != latest || v == 0 {
		t.Fatalf("expected version %d, got %d", latest, v)
	}
}

func TestRecordAndQuery(t *testing.T) {
	env := newTestEnv(t)
	var notified []string
	env.Writer.OnRecord(func(id int64, evtType string) { notified = append(notified, evtType) })

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(env.Writer.Record(env.Ctx, "auth.code_requested", "session", "a@b.com", nil))
	must(env.Writer.Record(env.Ctx, "auth.authenticated", "session", "a@b.com", map[string]any{"subject": "u1", "token": "secret"}))
	must(env.Writer.Record(env.Ctx, "transaction.pending", "transaction", "", nil))
	must(env.Writer.Record(env.Ctx, "transaction.confirmed", "transaction", "0xHASH", nil))

	if len(notified) != 4 {
		t.Fatalf("expected 4 notifications, got %v", notified)
	}

	latest, err := env.Repo.LatestEvents(env.Ctx, 10, repo.EventFilter{})
	must(err)
	if len(latest) != 4 || latest[0].Type != "transaction.confirmed" {
		t.Fatalf("unexpected latest events: %+v", latest)
	}
	if latest[0].TS != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected ts %s", latest[0].TS)
	}
	if latest[1].EntityID != "" {
		t.Fatalf("expected empty entity id for pending tx, got %q", latest[1].EntityID)
	}

	auth, err := env.Repo.LatestEvents(env.Ctx, 10, repo.EventFilter{Type: "auth.*"})
	must(err)
	if len(auth) != 2 {
		t.Fatalf("expected 2 auth events, got %d", len(auth))
	}
	var payload map[string]any
	must(json.Unmarshal([]byte(auth[0].Payload), &payload))
	if _, ok := payload["token"]; ok {
		t.Fatalf("token leaked into journal: %s", auth[0].Payload)
	}
	if payload["subject"] != "u1" {
		t.Fatalf("payload lost subject: %s", auth[0].Payload)
	}

	byHash, err := env.Repo.LatestEvents(env.Ctx, 10, repo.EventFilter{EntityKind: "transaction", EntityID: "0xHASH"})
	must(err)
	if len(byHash) != 1 {
		t.Fatalf("expected one event for hash, got %d", len(byHash))
	}

	after, err := env.Repo.EventsAfter(env.Ctx, 10, latest[2].ID)
	must(err)
	if len(after) != 2 || after[0].ID >= after[1].ID {
		t.Fatalf("expected ascending tail, got %+v", after)
	}

	older, err := env.Repo.LatestEventsFrom(env.Ctx, 10, latest[1].ID, repo.EventFilter{})
	must(err)
	if len(older) != 2 {
		t.Fatalf("expected 2 older events, got %d", len(older))
	}

	maxID, err := env.Repo.LatestEventID(env.Ctx)
	must(err)
	if maxID != latest[0].ID {
		t.Fatalf("latest id %d != %d", maxID, latest[0].ID)
	}
	if _, err := env.Repo.GetEvent(env.Ctx, maxID+100); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
