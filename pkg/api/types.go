package api

import "github.com/3cpo-dev/cmsadmin/internal/reorder"

// v0 wire types of the admin HTTP API.

type (
	BackupRecord   = reorder.BackupRecord
	UpdateResult   = reorder.UpdateResult
	RollbackResult = reorder.RollbackResult
)

type ReorderRequest struct {
	ItemIDs []string `json:"itemIds"`
}

// ReorderResponse is the 200 body.
type ReorderResponse struct {
	Success  bool           `json:"success"`
	RunID    string         `json:"runId"`
	Backup   []BackupRecord `json:"backup"`
	Unbacked []string       `json:"unbacked"`
	Progress int            `json:"progress"`
}

// ReorderFailure is the 500 body after a rollback attempt.
type ReorderFailure struct {
	Error         string           `json:"error"`
	RunID         string           `json:"runId"`
	FailedUpdates []UpdateResult   `json:"failedUpdates"`
	Backup        []BackupRecord   `json:"backup"`
	Rollback      []RollbackResult `json:"rollback"`
	Unbacked      []string         `json:"unbacked"`
}

type RestoreResponse struct {
	RunID    string           `json:"runId"`
	Success  bool             `json:"success"`
	Rollback []RollbackResult `json:"rollback"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Progress reported with a completed reorder.
const ProgressComplete = 100
