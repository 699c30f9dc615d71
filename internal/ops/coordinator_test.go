package ops

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vbox-mcp/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForState(t *testing.T, c *Coordinator, id string, want State) View {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		v, ok := c.Get(id)
		require.True(t, ok)
		if v.State == want {
			return v
		}
		time.Sleep(10 * time.Millisecond)
	}
	v, _ := c.Get(id)
	t.Fatalf("operation %s never reached %s (last: %s)", id, want, v.State)
	return View{}
}

func TestOperationSucceeds(t *testing.T) {
	c := NewCoordinator(2, testLogger())
	id := c.Start("vm_management", func(ctx context.Context) (any, error) {
		return map[string]any{"vm_id": "abc"}, nil
	})

	v := waitForState(t, c, id, StateSucceeded)
	assert.Equal(t, "vm_management", v.Tool)
	assert.NotNil(t, v.Result)
	assert.Nil(t, v.Error)
	assert.False(t, v.FinishedAt.IsZero())
}

func TestOperationFails(t *testing.T) {
	c := NewCoordinator(2, testLogger())
	id := c.Start("vm_management", func(ctx context.Context) (any, error) {
		return nil, provider.NewError(provider.KindHypervisorError, "boom")
	})

	v := waitForState(t, c, id, StateFailed)
	assert.Equal(t, provider.KindHypervisorError, provider.KindOf(v.Error))
}

func TestOperationCancelWithinThreeSeconds(t *testing.T) {
	c := NewCoordinator(2, testLogger())
	started := make(chan struct{})
	id := c.Start("vm_management", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	begin := time.Now()
	observed := c.Cancel(id)
	assert.True(t, observed)
	assert.Less(t, time.Since(begin), 3*time.Second)

	v := waitForState(t, c, id, StateCancelled)
	assert.Equal(t, StateCancelled, v.State)
}

func TestCancelUnknownOperation(t *testing.T) {
	c := NewCoordinator(2, testLogger())
	assert.False(t, c.Cancel("OP-nope"))
}

func TestCancelTerminalOperationReturnsFalse(t *testing.T) {
	c := NewCoordinator(2, testLogger())
	id := c.Start("t", func(ctx context.Context) (any, error) { return nil, nil })
	waitForState(t, c, id, StateSucceeded)
	assert.False(t, c.Cancel(id))
}

func TestTerminalStatesAreFinal(t *testing.T) {
	c := NewCoordinator(2, testLogger())
	id := c.Start("t", func(ctx context.Context) (any, error) { return "done", nil })
	waitForState(t, c, id, StateSucceeded)

	// A late cancel must not move the operation out of its terminal
	// state.
	c.Cancel(id)
	v, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, v.State)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	c := NewCoordinator(2, testLogger())
	var running, peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		c.Start("t", func(ctx context.Context) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil, nil
		})
	}
	time.Sleep(200 * time.Millisecond)
	close(release)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCancelPendingOperation(t *testing.T) {
	c := NewCoordinator(1, testLogger())
	block := make(chan struct{})
	first := c.Start("t", func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})
	// Second operation queues behind the single worker slot.
	second := c.Start("t", func(ctx context.Context) (any, error) {
		return nil, nil
	})

	waitForState(t, c, first, StateRunning)
	c.Cancel(second)
	v := waitForState(t, c, second, StateCancelled)
	assert.Equal(t, StateCancelled, v.State)

	close(block)
	waitForState(t, c, first, StateSucceeded)
}

func TestListIncludesAllOperations(t *testing.T) {
	c := NewCoordinator(2, testLogger())
	id1 := c.Start("a", func(ctx context.Context) (any, error) { return nil, nil })
	id2 := c.Start("b", func(ctx context.Context) (any, error) { return nil, errors.New("x") })
	waitForState(t, c, id1, StateSucceeded)
	waitForState(t, c, id2, StateFailed)

	views := c.List()
	assert.Len(t, views, 2)
}
