package reorder

import (
	"context"
	"errors"
	"sync"
	"testing"

	cs "github.com/3cpo-dev/cmsadmin/internal/contentstore"
	"github.com/3cpo-dev/cmsadmin/internal/contentstore/memory"
)

var errInjected = errors.New("injected failure")

// faultyStore wraps the memory store and fails chosen calls a set number
// of times.
type faultyStore struct {
	*memory.Store

	mu          sync.Mutex
	failFetch   map[string]int
	failUpdate  map[string]int
	failPublish map[string]int
	onFetch     func(id string)
	calls       []string
}

func newFaultyStore(entries ...cs.Entry) *faultyStore {
	return &faultyStore{
		Store:       memory.New(entries...),
		failFetch:   map[string]int{},
		failUpdate:  map[string]int{},
		failPublish: map[string]int{},
	}
}

func (f *faultyStore) take(m map[string]int, op, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+id)
	if m[id] > 0 {
		m[id]--
		return true
	}
	return false
}

func (f *faultyStore) FetchEntry(ctx context.Context, id string) (*cs.Entry, error) {
	if f.onFetch != nil {
		f.onFetch(id)
	}
	if f.take(f.failFetch, "fetch", id) {
		return nil, cs.FetchError(id, errInjected)
	}
	return f.Store.FetchEntry(ctx, id)
}

func (f *faultyStore) UpdateEntry(ctx context.Context, id string, version int, fields cs.Fields) (*cs.Entry, error) {
	if f.take(f.failUpdate, "update", id) {
		return nil, cs.UpdateError(id, errInjected)
	}
	return f.Store.UpdateEntry(ctx, id, version, fields)
}

func (f *faultyStore) PublishEntry(ctx context.Context, id string, version int) (*cs.Entry, error) {
	if f.take(f.failPublish, "publish", id) {
		return nil, cs.PublishError(id, errInjected)
	}
	return f.Store.PublishEntry(ctx, id, version)
}

func (f *faultyStore) UnpublishEntry(ctx context.Context, id string, version int) (*cs.Entry, error) {
	f.take(nil, "unpublish", id)
	return f.Store.UnpublishEntry(ctx, id, version)
}

func entry(id string, order int, state cs.PublishState) cs.Entry {
	return cs.Entry{
		ID:          id,
		ContentType: "card",
		State:       state,
		Fields:      cs.Fields{"order": {"en-US": order}, "title": {"en-US": "title " + id}},
	}
}

type snapshot struct {
	Order int
	State cs.PublishState
}

func snapshotOf(t *testing.T, s cs.Store, ids ...string) map[string]snapshot {
	t.Helper()
	out := make(map[string]snapshot, len(ids))
	for _, id := range ids {
		e, err := s.FetchEntry(context.Background(), id)
		if err != nil {
			t.Fatalf("fetch %s: %v", id, err)
		}
		order, _ := e.Fields.Int("order", "en-US")
		out[id] = snapshot{Order: order, State: e.State}
	}
	return out
}

type recordingJournal struct {
	mu   sync.Mutex
	runs []*Outcome
	errs []error
}

func (j *recordingJournal) SaveRun(ctx context.Context, o *Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, o)
	j.errs = append(j.errs, ctx.Err())
	return nil
}
