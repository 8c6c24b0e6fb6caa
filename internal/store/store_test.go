package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/3cpo-dev/specrun/pkg/api"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPing(t *testing.T) {
	s := openTemp(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestReopenKeepsJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.RecordDispatch(context.Background(), api.Dispatch{RunID: "r", TaskID: "1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	list, err := s.ListDispatches(context.Background(), "r")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected persisted dispatch, got %v %v", list, err)
	}
}

func TestDispatchLifecycle(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Second)

	d := api.Dispatch{
		RunID:        "run-1",
		TaskID:       "1a",
		Lane:         1,
		Replica:      1,
		Kind:         "chrome",
		Specs:        []string{"/specs/a_spec.js"},
		Capabilities: map[string]any{"browserName": "chrome"},
		DispatchedAt: start,
	}
	if err := s.RecordDispatch(ctx, d); err != nil {
		t.Fatalf("record: %v", err)
	}
	d2 := d
	d2.TaskID = "1b"
	d2.Specs = []string{"/specs/b_spec.js"}
	d2.DispatchedAt = start.Add(time.Millisecond)
	if err := s.RecordDispatch(ctx, d2); err != nil {
		t.Fatalf("record: %v", err)
	}

	list, err := s.ListDispatches(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].TaskID != "1a" || list[1].TaskID != "1b" {
		t.Fatalf("unexpected dispatches: %+v", list)
	}
	if list[0].Status != api.DispatchRunning || list[0].ReleasedAt != nil {
		t.Fatalf("new dispatch should be running: %+v", list[0])
	}
	if list[0].Capabilities["browserName"] != "chrome" || list[0].Specs[0] != "/specs/a_spec.js" {
		t.Fatalf("payload not round-tripped: %+v", list[0])
	}

	if err := s.MarkReleased(ctx, "run-1", "1a", api.DispatchFailed, "boom"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.MarkReleased(ctx, "run-1", "1b", api.DispatchSucceeded, ""); err != nil {
		t.Fatalf("mark: %v", err)
	}
	list, _ = s.ListDispatches(ctx, "run-1")
	if list[0].Status != api.DispatchFailed || list[0].Error != "boom" || list[0].ReleasedAt == nil {
		t.Fatalf("release not recorded: %+v", list[0])
	}
	if list[0].Duration() <= 0 {
		t.Fatalf("expected positive duration, got %s", list[0].Duration())
	}

	sum, err := s.Summary(ctx, "run-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Tasks != 2 || sum.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestMarkReleasedUnknown(t *testing.T) {
	s := openTemp(t)
	if err := s.MarkReleased(context.Background(), "nope", "1", api.DispatchSucceeded, ""); err == nil {
		t.Fatalf("expected error for unknown dispatch")
	}
}

func TestDuplicateDispatchRejected(t *testing.T) {
	s := openTemp(t)
	d := api.Dispatch{RunID: "r", TaskID: "1"}
	if err := s.RecordDispatch(context.Background(), d); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordDispatch(context.Background(), d); err == nil {
		t.Fatalf("expected primary key violation")
	}
}

func TestLatestRun(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	if _, err := s.LatestRun(ctx); !errors.Is(err, ErrNoRuns) {
		t.Fatalf("expected ErrNoRuns, got %v", err)
	}
	old := time.Now().Add(-time.Hour)
	_ = s.RecordDispatch(ctx, api.Dispatch{RunID: "old", TaskID: "1", DispatchedAt: old})
	_ = s.RecordDispatch(ctx, api.Dispatch{RunID: "new", TaskID: "1", DispatchedAt: old.Add(30 * time.Minute)})
	_ = s.RecordDispatch(ctx, api.Dispatch{RunID: "new", TaskID: "2", DispatchedAt: old.Add(31 * time.Minute)})

	sum, err := s.LatestRun(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if sum.RunID != "new" || sum.Tasks != 2 {
		t.Fatalf("unexpected latest run: %+v", sum)
	}
	if _, err := s.Summary(ctx, "missing"); err == nil {
		t.Fatalf("expected error for missing run")
	}
}
