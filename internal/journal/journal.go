package journal

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/cmsadmin/internal/reorder"
)

var ErrRunNotFound = errors.New("reorder run not found")

// timeLayout is fixed width so that text order in SQLite is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed history of reorder runs.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// NewStore opens (creating if needed) the journal at path. ":memory:" gives
// a private in-memory journal.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	ItemCount   int       `json:"itemCount"`
	FailedCount int       `json:"failedCount"`
}

func runStatus(o *reorder.Outcome) string {
	if o.Success {
		return "success"
	}
	return "partial_failure"
}

// SaveRun implements reorder.Journal.
func (s *Store) SaveRun(ctx context.Context, o *reorder.Outcome) error {
	cols := make([]string, 0, 5)
	for _, v := range []any{o.ItemIDs, o.Backup, nonNil(o.Unbacked), o.Results, nonNilRollback(o.Rollback)} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode run %s: %w", o.RunID, err)
		}
		cols = append(cols, string(b))
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO reorder_runs
		(id, status, started_at, finished_at, item_count, failed_count, item_ids, backup, unbacked, results, rollback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, runStatus(o),
		o.StartedAt.UTC().Format(timeLayout), o.FinishedAt.UTC().Format(timeLayout),
		len(o.ItemIDs), len(o.FailedUpdates()),
		cols[0], cols[1], cols[2], cols[3], cols[4],
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", o.RunID, err)
	}
	return nil
}

// GetRun loads a journaled run.
func (s *Store) GetRun(ctx context.Context, id string) (*reorder.Outcome, error) {
	var status, started, finished string
	var itemIDs, backup, unbacked, results, rollback string
	err := s.db.QueryRowContext(ctx, `SELECT status, started_at, finished_at, item_ids, backup, unbacked, results, rollback
		FROM reorder_runs WHERE id = ?`, id).
		Scan(&status, &started, &finished, &itemIDs, &backup, &unbacked, &results, &rollback)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select run %s: %w", id, err)
	}
	o := &reorder.Outcome{RunID: id, Success: status == "success"}
	if o.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if o.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}
	decode := []struct {
		raw string
		dst any
	}{
		{itemIDs, &o.ItemIDs}, {backup, &o.Backup}, {unbacked, &o.Unbacked},
		{results, &o.Results}, {rollback, &o.Rollback},
	}
	for _, d := range decode {
		if err := json.Unmarshal([]byte(d.raw), d.dst); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", id, err)
		}
	}
	return o, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, started_at, finished_at, item_count, failed_count
		FROM reorder_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Status, &started, &finished, &r.ItemCount, &r.FailedCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRestore records a manual restore of a run's backup.
func (s *Store) SaveRestore(ctx context.Context, runID string, results []reorder.RollbackResult) error {
	b, err := json.Marshal(nonNilRollback(results))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO restores (run_id, restored_at, results) VALUES (?, ?, ?)`,
		runID, time.Now().UTC().Format(timeLayout), string(b))
	if err != nil {
		return fmt.Errorf("insert restore for run %s: %w", runID, err)
	}
	return nil
}

// RestoreCount reports how many manual restores were recorded for a run.
func (s *Store) RestoreCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM restores WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilRollback(r []reorder.RollbackResult) []reorder.RollbackResult {
	if r == nil {
		return []reorder.RollbackResult{}
	}
	return r
}
