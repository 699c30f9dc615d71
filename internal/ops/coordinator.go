// Package ops tracks long-running operations and background metric
// polling. The coordinator owns cancellation and the bounded worker
// pool; per-VM serialization stays with the adapter locks.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"vbox-mcp/internal/provider"
)

// State is the lifecycle state of a tracked operation. Transitions are
// pending -> running -> one of the terminal states; terminal states are
// final.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// HandlerFunc is the work body of one long-running operation. It must
// observe ctx at every suspension point.
type HandlerFunc func(ctx context.Context) (any, error)

// operation is one tracked execution.
type operation struct {
	id        string
	tool      string
	startedAt time.Time

	mu         sync.Mutex
	state      State
	result     any
	err        error
	finishedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// View is a read-time snapshot of an operation.
type View struct {
	ID         string    `json:"operation_id"`
	Tool       string    `json:"tool_name"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Result     any       `json:"result,omitempty"`
	Error      error     `json:"-"`
}

// Coordinator runs long operations on a bounded worker pool and exposes
// status and best-effort cancellation.
type Coordinator struct {
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu  sync.Mutex
	ops map[string]*operation
	wg  sync.WaitGroup

	// Metric polling state, set up by EnableMetrics.
	metricSource    MetricSource
	ringSize        int
	defaultInterval time.Duration
	pollers         map[string]*poller

	// finishHook, when set, observes every terminal transition.
	finishHook func(View)
}

// SetFinishHook registers a callback invoked once per operation when it
// reaches a terminal state. Must be set before the first Start.
func (c *Coordinator) SetFinishHook(fn func(View)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishHook = fn
}

// NewCoordinator builds a coordinator with the given pool size.
func NewCoordinator(poolSize int, logger *slog.Logger) *Coordinator {
	if poolSize < 1 {
		poolSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sem:    semaphore.NewWeighted(int64(poolSize)),
		logger: logger,
		ops:    make(map[string]*operation),
	}
}

// shortID mirrors the hypervisor-style short identifiers used elsewhere.
func shortID() string {
	return strings.Split(uuid.NewString(), "-")[0]
}

// Start allocates an operation entry, schedules the handler on the pool
// and returns immediately with the operation id.
func (c *Coordinator) Start(tool string, fn HandlerFunc) string {
	ctx, cancel := context.WithCancel(context.Background())
	op := &operation{
		id:        fmt.Sprintf("OP-%s", shortID()),
		tool:      tool,
		startedAt: time.Now().UTC(),
		state:     StatePending,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.mu.Lock()
	c.ops[op.id] = op
	c.mu.Unlock()

	c.logger.Info("operation queued", "operation_id", op.id, "tool_name", tool)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(op.done)
		defer cancel()

		if err := c.sem.Acquire(ctx, 1); err != nil {
			c.finish(op, nil, provider.WrapError(provider.KindCancelled, err,
				"operation cancelled before it started"))
			return
		}
		defer c.sem.Release(1)

		op.mu.Lock()
		if op.state != StatePending {
			op.mu.Unlock()
			return
		}
		op.state = StateRunning
		op.mu.Unlock()

		result, err := fn(ctx)
		c.finish(op, result, err)
	}()
	return op.id
}

// finish moves the operation to its terminal state exactly once.
func (c *Coordinator) finish(op *operation, result any, err error) {
	op.mu.Lock()
	if op.state.Terminal() {
		op.mu.Unlock()
		return
	}
	op.finishedAt = time.Now().UTC()
	switch {
	case err == nil:
		op.state = StateSucceeded
		op.result = result
	case provider.KindOf(err) == provider.KindCancelled || errors.Is(err, context.Canceled):
		op.state = StateCancelled
		op.err = err
	default:
		op.state = StateFailed
		op.err = err
	}
	state := op.state
	durationMS := op.finishedAt.Sub(op.startedAt).Milliseconds()
	op.mu.Unlock()

	c.logger.Info("operation finished",
		"operation_id", op.id,
		"tool_name", op.tool,
		"state", string(state),
		"duration_ms", durationMS,
	)

	c.mu.Lock()
	hook := c.finishHook
	c.mu.Unlock()
	if hook != nil {
		hook(op.view())
	}
}

// Get returns a snapshot of the operation.
func (c *Coordinator) Get(id string) (View, bool) {
	c.mu.Lock()
	op, ok := c.ops[id]
	c.mu.Unlock()
	if !ok {
		return View{}, false
	}
	return op.view(), true
}

// List returns snapshots of all tracked operations.
func (c *Coordinator) List() []View {
	c.mu.Lock()
	ops := make([]*operation, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	c.mu.Unlock()

	views := make([]View, 0, len(ops))
	for _, op := range ops {
		views = append(views, op.view())
	}
	return views
}

func (op *operation) view() View {
	op.mu.Lock()
	defer op.mu.Unlock()
	return View{
		ID:         op.id,
		Tool:       op.tool,
		State:      op.state,
		StartedAt:  op.startedAt,
		FinishedAt: op.finishedAt,
		Result:     op.result,
		Error:      op.err,
	}
}

// Cancel signals the operation and waits briefly for it to reach a
// terminal state. Returns false for unknown or already-terminal
// operations. Cancellation is best effort: committed hypervisor side
// effects stay.
func (c *Coordinator) Cancel(id string) bool {
	c.mu.Lock()
	op, ok := c.ops[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	op.mu.Lock()
	if op.state.Terminal() {
		op.mu.Unlock()
		return false
	}
	op.mu.Unlock()

	c.logger.Info("operation cancel requested", "operation_id", id)
	op.cancel()

	select {
	case <-op.done:
		return true
	case <-time.After(3 * time.Second):
		return false
	}
}

// Shutdown cancels everything and waits for the workers to drain.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, op := range c.ops {
		op.cancel()
	}
	c.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
