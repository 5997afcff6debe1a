package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	cs "github.com/3cpo-dev/cmsadmin/internal/contentstore"
)

var errNotPublished = errors.New("entry is not published")

// Store keeps entries in process, with the same version rules as the
// management API: every write must name the current version and bumps it.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*cs.Entry
}

func New(entries ...cs.Entry) *Store {
	s := &Store{entries: map[string]*cs.Entry{}}
	for _, e := range entries {
		s.Put(e)
	}
	return s
}

func (s *Store) Name() string { return "memory" }

type fixture struct {
	Entries []struct {
		ID          string    `yaml:"id"`
		ContentType string    `yaml:"content_type"`
		State       string    `yaml:"state"`
		Fields      cs.Fields `yaml:"fields"`
	} `yaml:"entries"`
}

// LoadFixture seeds a store from a YAML file.
func LoadFixture(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(b, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	s := New()
	for _, e := range fx.Entries {
		if e.ID == "" {
			return nil, fmt.Errorf("fixture entry without id")
		}
		state := cs.Draft
		if e.State == string(cs.Published) {
			state = cs.Published
		}
		s.Put(cs.Entry{ID: e.ID, ContentType: e.ContentType, State: state, Fields: e.Fields})
	}
	return s, nil
}

// Put inserts or replaces an entry. A zero version is set to 1.
func (s *Store) Put(e cs.Entry) {
	if e.Version == 0 {
		e.Version = 1
	}
	if e.State == "" {
		e.State = cs.Draft
	}
	e.Fields = e.Fields.Clone()
	s.mu.Lock()
	s.entries[e.ID] = &e
	s.mu.Unlock()
}

// IDs returns the stored entry ids in lexical order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) FetchEntry(ctx context.Context, id string) (*cs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, cs.FetchError(id, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, cs.FetchError(id, cs.ErrNotFound)
	}
	return copyEntry(e), nil
}

func (s *Store) UpdateEntry(ctx context.Context, id string, version int, fields cs.Fields) (*cs.Entry, error) {
	out, err := s.write(ctx, id, version, func(e *cs.Entry) error {
		e.Fields = fields.Clone()
		return nil
	})
	return out, cs.UpdateError(id, err)
}

func (s *Store) PublishEntry(ctx context.Context, id string, version int) (*cs.Entry, error) {
	out, err := s.write(ctx, id, version, func(e *cs.Entry) error {
		e.State = cs.Published
		return nil
	})
	return out, cs.PublishError(id, err)
}

func (s *Store) UnpublishEntry(ctx context.Context, id string, version int) (*cs.Entry, error) {
	out, err := s.write(ctx, id, version, func(e *cs.Entry) error {
		if e.State != cs.Published {
			return errNotPublished
		}
		e.State = cs.Draft
		return nil
	})
	return out, cs.UnpublishError(id, err)
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) write(ctx context.Context, id string, version int, mutate func(*cs.Entry) error) (*cs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, cs.ErrNotFound
	}
	if e.Version != version {
		return nil, fmt.Errorf("%w: have %d, got %d", cs.ErrVersionConflict, e.Version, version)
	}
	next := copyEntry(e)
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version++
	s.entries[id] = next
	return copyEntry(next), nil
}

func copyEntry(e *cs.Entry) *cs.Entry {
	cp := *e
	cp.Fields = e.Fields.Clone()
	return &cp
}
