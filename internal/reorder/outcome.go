package reorder

import (
	"errors"
	"time"

	cs "github.com/3cpo-dev/cmsadmin/internal/contentstore"
)

// ErrPartialFailure is returned when at least one entry could not be
// reordered. Rollback has been attempted by the time it is returned.
var ErrPartialFailure = errors.New("reorder: one or more updates failed; rollback attempted")

// BackupRecord is an entry's state captured before the batch mutates it.
type BackupRecord struct {
	ID    string          `json:"id"`
	Order int             `json:"order"`
	State cs.PublishState `json:"publishState"`
}

// UpdateResult is the outcome of setting one entry's new order.
type UpdateResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type RollbackStatus string

const (
	RollbackRestored RollbackStatus = "restored"
	RollbackFailed   RollbackStatus = "failed"
	// RollbackUnrestorable marks a mutated entry that has no backup.
	RollbackUnrestorable RollbackStatus = "unrestorable"
	// RollbackUntouched marks an entry without backup that was never written.
	RollbackUntouched RollbackStatus = "untouched"
)

type RollbackResult struct {
	ID     string         `json:"id"`
	Status RollbackStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// Outcome describes one reorder run.
type Outcome struct {
	RunID      string           `json:"runId"`
	ItemIDs    []string         `json:"itemIds"`
	Success    bool             `json:"success"`
	Backup     []BackupRecord   `json:"backup"`
	Unbacked   []string         `json:"unbacked,omitempty"`
	Results    []UpdateResult   `json:"results"`
	Rollback   []RollbackResult `json:"rollback,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
}

func (o *Outcome) FailedUpdates() []UpdateResult {
	failed := []UpdateResult{}
	for _, r := range o.Results {
		if !r.Success {
			failed = append(failed, r)
		}
	}
	return failed
}

func (o *Outcome) RollbackFailures() []RollbackResult {
	var out []RollbackResult
	for _, r := range o.Rollback {
		if r.Status != RollbackRestored && r.Status != RollbackUntouched {
			out = append(out, r)
		}
	}
	return out
}

func (o *Outcome) Duration() time.Duration { return o.FinishedAt.Sub(o.StartedAt) }
