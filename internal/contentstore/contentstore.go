package contentstore

import "context"

// PublishState is the publication status of an entry.
type PublishState string

const (
	Draft     PublishState = "draft"
	Published PublishState = "published"
)

// Entry is a record held by the remote content store.
type Entry struct {
	ID          string       `json:"id"`
	ContentType string       `json:"contentType,omitempty"`
	Version     int          `json:"version"`
	State       PublishState `json:"publishState"`
	Fields      Fields       `json:"fields"`
}

func (e *Entry) IsPublished() bool { return e != nil && e.State == Published }

// Store is the content-management surface used by the admin workflows.
// Every write carries the version of the copy it modifies.
type Store interface {
	Name() string
	FetchEntry(ctx context.Context, id string) (*Entry, error)
	UpdateEntry(ctx context.Context, id string, version int, fields Fields) (*Entry, error)
	PublishEntry(ctx context.Context, id string, version int) (*Entry, error)
	UnpublishEntry(ctx context.Context, id string, version int) (*Entry, error)
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
