package reorder

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyLocker hands out exclusive per-entry locks. Locks are created on first
// use and dropped when no caller holds or waits for them.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: map[string]*keyLock{}}
}

// Acquire locks every distinct id in lexical order, so two batches that
// share ids cannot deadlock. On error nothing stays locked.
func (k *KeyLocker) Acquire(ctx context.Context, ids []string) (release func(), err error) {
	keys := distinctSorted(ids)
	held := make([]string, 0, len(keys))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.unlock(held[i])
		}
	}
	for _, key := range keys {
		l := k.ref(key)
		if err := l.sem.Acquire(ctx, 1); err != nil {
			k.unref(key)
			releaseHeld()
			return nil, err
		}
		held = append(held, key)
	}
	var once sync.Once
	return func() { once.Do(releaseHeld) }, nil
}

// Held reports how many ids currently have a lock record.
func (k *KeyLocker) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (k *KeyLocker) ref(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyLocker) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.locks[key]; ok {
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
}

func (k *KeyLocker) unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	l.sem.Release(1)
	k.unref(key)
}

func distinctSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
