// Package reorder persists a new display order for a batch of content store
// entries, keeping each entry's publish state, and rolls the batch back on
// partial failure.
//
// Entries are processed strictly one at a time. A run holds an exclusive lock
// on every id it touches, and once the locks are held the run is detached
// from the caller's cancellation: it always finishes, and its outcome is
// written to the journal when one is configured.
package reorder

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	cs "github.com/3cpo-dev/cmsadmin/internal/contentstore"
	"github.com/3cpo-dev/cmsadmin/internal/telemetry"
)

// Journal records finished runs.
type Journal interface {
	SaveRun(ctx context.Context, o *Outcome) error
}

type Options struct {
	OrderField string
	Locale     string
	Locker     *KeyLocker
	Journal    Journal
	NewRunID   func() string
	Now        func() time.Time
}

type Coordinator struct {
	store      cs.Store
	orderField string
	locale     string
	locker     *KeyLocker
	journal    Journal
	newRunID   func() string
	now        func() time.Time
}

func New(store cs.Store, opts Options) *Coordinator {
	c := &Coordinator{
		store:      store,
		orderField: opts.OrderField,
		locale:     opts.Locale,
		locker:     opts.Locker,
		journal:    opts.Journal,
		newRunID:   opts.NewRunID,
		now:        opts.Now,
	}
	if c.orderField == "" {
		c.orderField = "order"
	}
	if c.locale == "" {
		c.locale = "en-US"
	}
	if c.locker == nil {
		c.locker = NewKeyLocker()
	}
	if c.newRunID == nil {
		c.newRunID = func() string { return ulid.Make().String() }
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Reorder sets the order field of ids[i] to i. On any per-entry failure the
// batch still runs to completion, every backed-up entry is restored, and the
// returned error is ErrPartialFailure alongside the full Outcome. An id the
// store cannot address fails its own position without a store call.
func (c *Coordinator) Reorder(ctx context.Context, ids []string) (*Outcome, error) {
	release, err := c.locker.Acquire(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock entries: %w", err)
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	out := &Outcome{
		RunID:     c.newRunID(),
		ItemIDs:   append([]string{}, ids...),
		Backup:    []BackupRecord{},
		Results:   make([]UpdateResult, 0, len(ids)),
		StartedAt: c.now(),
	}
	logger := log.With().Str("run_id", out.RunID).Int("items", len(ids)).Logger()
	logger.Info().Msg("Reorder started")

	c.backup(ctx, out, &logger)

	failed := 0
	touched := make(map[string]bool, len(ids))
	for i, id := range ids {
		err := cs.ValidateID(id)
		if err == nil {
			var wrote bool
			wrote, err = c.apply(ctx, id, i)
			touched[id] = touched[id] || wrote
		}
		if err != nil {
			failed++
			logger.Error().Err(err).Str("id", id).Int("position", i).Msg("Reorder update failed")
			out.Results = append(out.Results, UpdateResult{ID: id, Success: false, Error: err.Error()})
			continue
		}
		out.Results = append(out.Results, UpdateResult{ID: id, Success: true})
	}

	if failed > 0 {
		logger.Warn().Int("failed", failed).Msg("Rolling back reorder")
		out.Rollback = c.restoreAll(ctx, out.Backup, &logger)
		for _, id := range out.Unbacked {
			if !touched[id] {
				out.Rollback = append(out.Rollback, RollbackResult{ID: id, Status: RollbackUntouched})
				continue
			}
			logger.Warn().Str("id", id).Msg("No backup captured; entry cannot be restored")
			out.Rollback = append(out.Rollback, RollbackResult{ID: id, Status: RollbackUnrestorable})
		}
	}
	out.Success = failed == 0
	out.FinishedAt = c.now()

	c.record(ctx, out, &logger)

	if !out.Success {
		return out, ErrPartialFailure
	}
	logger.Info().Dur("duration", out.Duration()).Msg("Reorder finished")
	return out, nil
}

// Restore puts each entry in backup back to its recorded order and publish
// state. It is the rollback step of Reorder, exposed for manual recovery.
func (c *Coordinator) Restore(ctx context.Context, backup []BackupRecord) ([]RollbackResult, error) {
	ids := make([]string, len(backup))
	for i, b := range backup {
		ids[i] = b.ID
	}
	release, err := c.locker.Acquire(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock entries: %w", err)
	}
	defer release()
	logger := log.With().Str("op", "restore").Int("items", len(backup)).Logger()
	return c.restoreAll(context.WithoutCancel(ctx), backup, &logger), nil
}

func (c *Coordinator) backup(ctx context.Context, out *Outcome, logger *zerolog.Logger) {
	seen := make(map[string]struct{}, len(out.ItemIDs))
	for _, id := range out.ItemIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if cs.ValidateID(id) != nil {
			continue
		}
		e, err := c.store.FetchEntry(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Str("id", id).Msg("Backup fetch failed; continuing without backup")
			out.Unbacked = append(out.Unbacked, id)
			continue
		}
		order, _ := e.Fields.Int(c.orderField, c.locale)
		out.Backup = append(out.Backup, BackupRecord{ID: id, Order: order, State: e.State})
	}
}

// apply moves one entry to position. Published entries are unpublished for
// the write and published again afterwards. wrote reports whether a
// mutating call was issued, failed or not.
func (c *Coordinator) apply(ctx context.Context, id string, position int) (wrote bool, err error) {
	e, err := c.store.FetchEntry(ctx, id)
	if err != nil {
		return false, err
	}
	wasPublished := e.IsPublished()
	if wasPublished {
		if _, err := c.store.UnpublishEntry(ctx, id, e.Version); err != nil {
			return true, err
		}
		if e, err = c.store.FetchEntry(ctx, id); err != nil {
			return true, err
		}
	}
	updated, err := c.store.UpdateEntry(ctx, id, e.Version, e.Fields.With(c.orderField, c.locale, position))
	if err != nil {
		return true, err
	}
	if wasPublished {
		if _, err := c.store.PublishEntry(ctx, id, updated.Version); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (c *Coordinator) restoreAll(ctx context.Context, backup []BackupRecord, logger *zerolog.Logger) []RollbackResult {
	results := make([]RollbackResult, 0, len(backup))
	for _, b := range backup {
		if err := c.restore(ctx, b); err != nil {
			logger.Error().Err(err).Str("id", b.ID).Msg("Rollback failed")
			results = append(results, RollbackResult{ID: b.ID, Status: RollbackFailed, Error: err.Error()})
			continue
		}
		results = append(results, RollbackResult{ID: b.ID, Status: RollbackRestored})
	}
	return results
}

// restore writes the backed-up order on an unpublished copy, then publishes
// only if the backup says the entry was published. An entry already in its
// backed-up order and state is left alone.
func (c *Coordinator) restore(ctx context.Context, b BackupRecord) error {
	e, err := c.store.FetchEntry(ctx, b.ID)
	if err != nil {
		return err
	}
	order, _ := e.Fields.Int(c.orderField, c.locale)
	if order == b.Order && e.IsPublished() == (b.State == cs.Published) {
		return nil
	}
	if e.IsPublished() {
		if _, err := c.store.UnpublishEntry(ctx, b.ID, e.Version); err != nil {
			return err
		}
		if e, err = c.store.FetchEntry(ctx, b.ID); err != nil {
			return err
		}
	}
	updated, err := c.store.UpdateEntry(ctx, b.ID, e.Version, e.Fields.With(c.orderField, c.locale, b.Order))
	if err != nil {
		return err
	}
	if b.State == cs.Published {
		if _, err := c.store.PublishEntry(ctx, b.ID, updated.Version); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) record(ctx context.Context, out *Outcome, logger *zerolog.Logger) {
	status := "success"
	if !out.Success {
		status = "partial_failure"
	}
	labels := map[string]string{"component": "reorder", "status": status, "store": c.store.Name()}
	telemetry.CounterGlobal("cmsadmin_reorder_runs", 1, labels)
	telemetry.CounterGlobal("cmsadmin_reorder_failed_updates", float64(len(out.FailedUpdates())), labels)
	telemetry.CounterGlobal("cmsadmin_reorder_rollback_failures", float64(len(out.RollbackFailures())), labels)
	telemetry.TimerGlobal("cmsadmin_reorder_duration", out.Duration(), labels)

	if c.journal == nil {
		return
	}
	if err := c.journal.SaveRun(ctx, out); err != nil {
		logger.Error().Err(err).Msg("Failed to journal reorder run")
	}
}
