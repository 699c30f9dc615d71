package vbox

import (
	"context"
	"sync"
)

// keyedLocks serializes mutating operations per VM id, plus one
// process-wide lock for operations that mutate global hypervisor state
// (VM registration, media registry). Waiters queue on a buffered channel
// so acquisition can observe cancellation.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	global  chan struct{}
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{
		entries: make(map[string]*lockEntry),
		global:  make(chan struct{}, 1),
	}
}

// Acquire takes the exclusive lock for key, blocking until it is free or
// ctx is done. The returned release function must be called exactly once.
func (l *keyedLocks) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() { l.release(key, e) }, nil
	case <-ctx.Done():
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (l *keyedLocks) release(key string, e *lockEntry) {
	<-e.ch
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// AcquireGlobal takes the process-wide lock used by global-mutating
// operations.
func (l *keyedLocks) AcquireGlobal(ctx context.Context) (func(), error) {
	select {
	case l.global <- struct{}{}:
		return func() { <-l.global }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
