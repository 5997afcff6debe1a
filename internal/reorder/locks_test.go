package reorder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLockerExclusive(t *testing.T) {
	k := NewKeyLocker()
	release, err := k.Acquire(context.Background(), []string{"b", "a", "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, k.Held())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(ctx, []string{"c", "a"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, k.Held(), "failed acquire leaves nothing behind")

	release()
	release()
	assert.Equal(t, 0, k.Held())

	release, err = k.Acquire(context.Background(), []string{"a", "c"})
	require.NoError(t, err)
	release()
}

func TestKeyLockerDisjointBatchesRunTogether(t *testing.T) {
	k := NewKeyLocker()
	r1, err := k.Acquire(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := k.Acquire(ctx, []string{"c", "d"})
	require.NoError(t, err)
	r2()
}

func TestKeyLockerNoDeadlockOnOpposedOrder(t *testing.T) {
	k := NewKeyLocker()
	var inside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		ids := []string{"x", "y", "z"}
		if i%2 == 1 {
			ids = []string{"z", "y", "x"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), ids)
			if err != nil {
				t.Error(err)
				return
			}
			if n := atomic.AddInt32(&inside, 1); n != 1 {
				t.Errorf("%d holders at once", n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, k.Held())
}
