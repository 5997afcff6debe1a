package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	cs "github.com/3cpo-dev/cmsadmin/internal/contentstore"
	"github.com/3cpo-dev/cmsadmin/internal/reorder"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, started time.Time, ok bool) *reorder.Outcome {
	o := &reorder.Outcome{
		RunID:      id,
		ItemIDs:    []string{"a", "b"},
		Success:    ok,
		Backup:     []reorder.BackupRecord{{ID: "a", Order: 3, State: cs.Published}, {ID: "b", Order: 1, State: cs.Draft}},
		Unbacked:   []string{},
		Results:    []reorder.UpdateResult{{ID: "a", Success: true}, {ID: "b", Success: ok}},
		Rollback:   []reorder.RollbackResult{},
		StartedAt:  started,
		FinishedAt: started.Add(250 * time.Millisecond),
	}
	if !ok {
		o.Results[1].Error = "update entry b: conflict"
		o.Rollback = []reorder.RollbackResult{
			{ID: "a", Status: reorder.RollbackRestored},
			{ID: "b", Status: reorder.RollbackFailed, Error: "boom"},
		}
	}
	return o
}

func TestSaveAndGetRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Date(2026, 4, 2, 8, 30, 0, 123456789, time.UTC)
	run := sampleRun("01A", start, false)

	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetRun(ctx, "01A")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(run, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestSaveRunNilSlices(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := &reorder.Outcome{RunID: "01B", Success: true, StartedAt: time.Now(), FinishedAt: time.Now()}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetRun(ctx, "01B")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Success || len(got.Unbacked) != 0 || len(got.Rollback) != 0 {
		t.Fatalf("unexpected run %+v", got)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour), i != 1)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "r3" || runs[2].ID != "r1" {
		t.Fatalf("unexpected order %+v", runs)
	}
	if runs[1].Status != "partial_failure" || runs[1].FailedCount != 1 || runs[1].ItemCount != 2 {
		t.Fatalf("unexpected summary %+v", runs[1])
	}
	if !runs[0].StartedAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("started_at %v", runs[0].StartedAt)
	}

	limited, err := s.ListRuns(ctx, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("limit: %v %d", err, len(limited))
	}
}

func TestListRunsOrdersSubsecondStarts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	runs := map[string]time.Time{
		"whole": base,
		"half":  base.Add(500 * time.Millisecond),
		"next":  base.Add(time.Second),
	}
	for id, started := range runs {
		if err := s.SaveRun(ctx, sampleRun(id, started, true)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	got, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var order []string
	for _, r := range got {
		order = append(order, r.ID)
	}
	if diff := cmp.Diff([]string{"next", "half", "whole"}, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if !got[2].StartedAt.Equal(base) {
		t.Fatalf("started_at %v", got[2].StartedAt)
	}
}

func TestDuplicateRunIDRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	run := sampleRun("dup", time.Now(), true)
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveRun(ctx, run); err == nil {
		t.Fatalf("expected primary key violation")
	}
}

func TestRestoreCount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, sampleRun("r", time.Now(), false)); err != nil {
		t.Fatalf("save: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.SaveRestore(ctx, "r", []reorder.RollbackResult{{ID: "a", Status: reorder.RollbackRestored}}); err != nil {
			t.Fatalf("save restore: %v", err)
		}
	}
	n, err := s.RestoreCount(ctx, "r")
	if err != nil || n != 2 {
		t.Fatalf("count %d err %v", n, err)
	}
}

func TestFileJournalPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveRun(context.Background(), sampleRun("persisted", time.Now(), true)); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Close()

	s, err = NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := s.GetRun(context.Background(), "persisted"); err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
}
