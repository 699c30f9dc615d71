// Package vbox implements the VirtualBox hypervisor adapter on top of
// the VBoxManage CLI. It is the only layer that knows VBoxManage syntax
// and output formats; everything above sees typed values and classified
// errors.
package vbox

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vbox-mcp/internal/execx"
	"vbox-mcp/internal/provider"
)

// Manager is the VirtualBox implementation of provider.Manager.
type Manager struct {
	runner   execx.Runner
	logger   *slog.Logger
	timeout  time.Duration
	awaitMax time.Duration
	resolver *resolver
	locks    *keyedLocks

	// armed tracks which VMs have had metric collection set up in this
	// process.
	armedMu sync.Mutex
	armed   map[string]bool
}

// Option configures the Manager during construction.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDefaultTimeout overrides the per-invocation CLI timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithStateTimeout overrides how long lifecycle operations wait for the
// VM to reach its target state.
func WithStateTimeout(d time.Duration) Option {
	return func(m *Manager) { m.awaitMax = d }
}

// WithResolverTTL overrides the identifier cache TTL.
func WithResolverTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.resolver = newResolver(ttl, m.listForResolver)
	}
}

// New constructs a VirtualBox manager over the given runner.
func New(runner execx.Runner, opts ...Option) *Manager {
	m := &Manager{
		runner:   runner,
		logger:   slog.Default(),
		timeout:  120 * time.Second,
		awaitMax: 120 * time.Second,
		locks:    newKeyedLocks(),
	}
	m.resolver = newResolver(5*time.Second, m.listForResolver)
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name implements provider.Manager.
func (m *Manager) Name() string { return "virtualbox" }

// Available implements provider.Manager.
func (m *Manager) Available() bool { return m.runner.Available(execx.ProgramVBoxManage) }

// listForResolver feeds the resolver without re-entering the cache.
func (m *Manager) listForResolver(ctx context.Context) ([]provider.VMSummary, error) {
	out, err := m.query(ctx, "list", "vms")
	if err != nil {
		return nil, err
	}
	return parseVMList(out), nil
}

// sessionBusyMarkers are stderr fragments VirtualBox emits when another
// process holds the machine session. These failures occur before any
// state transition, so retrying is safe for mutations too.
var sessionBusyMarkers = []string{
	"is already locked",
	"session is busy",
	"The object is not ready",
	"E_ACCESSDENIED",
	"VBOX_E_INVALID_OBJECT_STATE",
}

func isSessionBusy(stderr string) bool {
	for _, marker := range sessionBusyMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// classifyStderr maps VBoxManage failure output onto the error taxonomy.
func classifyStderr(stderr string, exitCode int) *provider.Error {
	switch {
	case strings.Contains(stderr, "Could not find a registered machine"),
		strings.Contains(stderr, "VBOX_E_OBJECT_NOT_FOUND"):
		return provider.NewError(provider.KindVMNotFound, firstStderrLine(stderr))
	case strings.Contains(stderr, "is not currently running"),
		strings.Contains(stderr, "VBOX_E_INVALID_VM_STATE"),
		strings.Contains(stderr, "Invalid machine state"),
		strings.Contains(stderr, "VBOX_E_OBJECT_IN_USE"):
		return provider.NewError(provider.KindInvalidState, firstStderrLine(stderr))
	case strings.Contains(stderr, "already exists"):
		return provider.NewError(provider.KindResourceConflict, firstStderrLine(stderr))
	default:
		return provider.Errorf(provider.KindHypervisorError,
			"VBoxManage failed with exit code %d", exitCode).
			WithDetail("stderr", truncateRaw(stderr))
	}
}

// firstStderrLine extracts the leading VBoxManage error line, stripping
// the "VBoxManage: error: " prefix.
func firstStderrLine(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimPrefix(line, "VBoxManage: error: ")
	}
	return "VBoxManage reported an error"
}

// run invokes VBoxManage once, without retry. Non-zero exits are
// classified into the taxonomy.
func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	res, err := m.runner.Run(ctx, execx.Request{
		Program: execx.ProgramVBoxManage,
		Args:    args,
		Timeout: m.timeout,
	})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return res.Stdout, classifyStderr(res.Stderr, res.ExitCode)
	}
	return res.Stdout, nil
}

// retryPolicy is the bounded exponential backoff applied to transient
// session-lock failures: base 500 ms, factor 2, at most 3 attempts
// within 10 s elapsed.
func retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

// query runs a read-only command with the retry policy. Queries are
// always retry-safe.
func (m *Manager) query(ctx context.Context, args ...string) (string, error) {
	var out string
	op := func() error {
		var err error
		out, err = m.run(ctx, args...)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, retryPolicy(ctx))
	return out, err
}

// mutate runs a state-changing command. Session-lock contention fails
// before any state transition takes place, so retrying it cannot
// double-apply the mutation; every other failure is final.
func (m *Manager) mutate(ctx context.Context, args ...string) (string, error) {
	return m.query(ctx, args...)
}

func isRetryable(err error) bool {
	var pe *provider.Error
	if !errors.As(err, &pe) {
		return false
	}
	if pe.Kind != provider.KindHypervisorError {
		return false
	}
	if stderr, ok := pe.Details["stderr"].(string); ok {
		return isSessionBusy(stderr)
	}
	return false
}

// currentState reads the VM's state without taking the lock.
func (m *Manager) currentState(ctx context.Context, vmID string) (provider.VMState, error) {
	out, err := m.query(ctx, "showvminfo", vmID, "--machinereadable")
	if err != nil {
		return provider.StateUnknown, err
	}
	props := parseMachineReadable(out)
	raw, ok := props["VMState"]
	if !ok {
		return provider.StateUnknown, provider.NewError(provider.KindAdapterParseError,
			"showvminfo output is missing VMState").WithDetail("raw", truncateRaw(out))
	}
	return stateFromVBox(raw), nil
}

// awaitState polls until the VM reaches one of the target states or the
// deadline elapses. Polling backs off from 250 ms to 2 s with 10 %
// jitter. Transient states are observed and skipped, never treated as
// failures.
func (m *Manager) awaitState(ctx context.Context, vmID string, targets ...provider.VMState) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = m.awaitMax

	op := func() error {
		state, err := m.currentState(ctx, vmID)
		if err != nil {
			return backoff.Permanent(err)
		}
		for _, t := range targets {
			if state == t {
				return nil
			}
		}
		if state == provider.StateStuck {
			return backoff.Permanent(provider.Errorf(provider.KindHypervisorError,
				"vm %s entered the stuck state", vmID))
		}
		return provider.Errorf(provider.KindTimeout,
			"vm %s is in state %s, waiting for %v", vmID, state, targets)
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
