package contentstore

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("entry not found")
	ErrVersionConflict = errors.New("entry version mismatch")
)

// Op names a content store operation.
type Op string

const (
	OpFetch     Op = "fetch"
	OpUpdate    Op = "update"
	OpPublish   Op = "publish"
	OpUnpublish Op = "unpublish"
)

// OpError reports a failed store call for one entry.
type OpError struct {
	Op  Op
	ID  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s entry %s: %v", e.Op, e.ID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func wrapOp(op Op, id string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) && oe.Op == op && oe.ID == id {
		return err
	}
	return &OpError{Op: op, ID: id, Err: err}
}

// FetchError wraps err as a failed fetch of id.
func FetchError(id string, err error) error { return wrapOp(OpFetch, id, err) }

// UpdateError wraps err as a failed field update of id.
func UpdateError(id string, err error) error { return wrapOp(OpUpdate, id, err) }

// PublishError wraps err as a rejected publish of id.
func PublishError(id string, err error) error { return wrapOp(OpPublish, id, err) }

// UnpublishError wraps err as a rejected unpublish of id.
func UnpublishError(id string, err error) error { return wrapOp(OpUnpublish, id, err) }

// IsOp reports whether err came from the given store operation.
func IsOp(err error, op Op) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.Op == op
}

// APIError carries a non-2xx response from a remote store.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("content store api status %d: %s", e.Status, e.Body)
}

// ValidationError represents invalid input to a store or workflow
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%s: %s", e.Field, e.Value, e.Message)
}

// ValidateID checks that id is usable as an entry identifier.
func ValidateID(id string) error {
	if id == "" {
		return ValidationError{Field: "id", Value: "", Message: "entry id is required"}
	}
	if len(id) > 64 {
		return ValidationError{Field: "id", Value: id[:16] + "...", Message: "entry id longer than 64 characters"}
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || r == '.' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return ValidationError{Field: "id", Value: id, Message: "entry id contains invalid characters"}
		}
	}
	return nil
}
