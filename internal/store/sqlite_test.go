package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"webcron/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return New(db)
}

func TestCreateGetRoundTrip(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, domain.Job{
		Name:        "ping",
		URL:         "http://example.test/ping",
		Method:      "POST",
		Headers:     map[string]string{"X-Token": "abc", "Content-Type": "application/json"},
		Body:        []byte(`{"k":1}`),
		ContentType: "application/json",
		CronSpec:    "*/5 * * * *",
		Active:      true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	j, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Name != "ping" || j.URL != "http://example.test/ping" || j.Method != "POST" {
		t.Fatalf("job: %+v", j)
	}
	if j.Headers["X-Token"] != "abc" {
		t.Fatalf("headers: %v", j.Headers)
	}
	if string(j.Body) != `{"k":1}` {
		t.Fatalf("body: %q", j.Body)
	}
	if j.CronSpec != "*/5 * * * *" || !j.Active {
		t.Fatalf("job: %+v", j)
	}
	if j.LastRun != nil || j.LastStatus != "" {
		t.Fatalf("fresh job has last-run info: %+v", j)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound", err)
	}
}

func TestListActiveFiltersPaused(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	id1, _ := s.Create(ctx, domain.Job{Name: "a", URL: "http://a.test", CronSpec: "* * * * *", Active: true})
	id2, _ := s.Create(ctx, domain.Job{Name: "b", URL: "http://b.test", CronSpec: "* * * * *", Active: true})
	if err := s.SetActive(ctx, id2, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != id1 {
		t.Fatalf("active = %+v", active)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d jobs", len(all))
	}
}

func TestSetActiveUnknownJob(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	if err := s.SetActive(context.Background(), "missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetActive = %v, want ErrNotFound", err)
	}
}

func TestUpdateLastRun(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, domain.Job{Name: "a", URL: "http://a.test", CronSpec: "* * * * *", Active: true})
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := s.UpdateLastRun(ctx, id, at, "failed"); err != nil {
		t.Fatalf("UpdateLastRun: %v", err)
	}

	j, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.LastRun == nil || !j.LastRun.Equal(at) {
		t.Fatalf("last run = %v", j.LastRun)
	}
	if j.LastStatus != "failed" {
		t.Fatalf("last status = %q", j.LastStatus)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, domain.Job{Name: "a", URL: "http://a.test", CronSpec: "* * * * *", Active: true})
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
