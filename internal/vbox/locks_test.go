package vbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocksMutualExclusion(t *testing.T) {
	l := newKeyedLocks()
	var held int
	var maxHeld int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "vm-1")
			require.NoError(t, err)
			mu.Lock()
			held++
			if held > maxHeld {
				maxHeld = held
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			held--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxHeld)
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	l := newKeyedLocks()
	r1, err := l.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	defer r1()

	done := make(chan struct{})
	go func() {
		r2, err := l.Acquire(context.Background(), "vm-2")
		assert.NoError(t, err)
		r2()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestKeyedLocksAcquireObservesCancellation(t *testing.T) {
	l := newKeyedLocks()
	release, err := l.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "vm-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGlobalLock(t *testing.T) {
	l := newKeyedLocks()
	release, err := l.AcquireGlobal(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.AcquireGlobal(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	r2, err := l.AcquireGlobal(context.Background())
	require.NoError(t, err)
	r2()
}
