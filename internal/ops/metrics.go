package ops

import (
	"context"
	"sync"
	"time"

	"vbox-mcp/internal/provider"
)

// MetricSource is the slice of the adapter the pollers consume.
type MetricSource interface {
	Sample(ctx context.Context, idOrName string) (*provider.MetricSample, error)
	GetVMInfo(ctx context.Context, idOrName string) (*provider.VMInfo, error)
}

// ring is a fixed-size sample buffer. Single writer (the poll loop),
// many readers receiving copies.
type ring struct {
	mu      sync.Mutex
	samples []provider.MetricSample
	next    int
	full    bool
}

func newRing(size int) *ring {
	if size < 1 {
		size = 1
	}
	return &ring{samples: make([]provider.MetricSample, size)}
}

func (r *ring) add(s provider.MetricSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.next] = s
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the retained samples oldest-first.
func (r *ring) snapshot() []provider.MetricSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]provider.MetricSample, r.next)
		copy(out, r.samples[:r.next])
		return out
	}
	out := make([]provider.MetricSample, 0, len(r.samples))
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}

// poller is one per-VM polling loop with a subscriber count.
type poller struct {
	vmID     string
	interval time.Duration
	ring     *ring
	subs     int
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

const (
	// MinMetricInterval and MaxMetricInterval bound subscriber-requested
	// polling intervals.
	MinMetricInterval = time.Second
	MaxMetricInterval = 300 * time.Second

	// consecutiveStops is how many non-running or failed ticks end a
	// polling loop.
	consecutiveStops = 3
)

// MetricsOptions configures the metrics side of the coordinator.
type MetricsOptions struct {
	Source   MetricSource
	RingSize int
	Interval time.Duration
}

// EnableMetrics attaches a metric source to the coordinator. Must be
// called once before SubscribeMetrics.
func (c *Coordinator) EnableMetrics(opts MetricsOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metricSource = opts.Source
	c.ringSize = opts.RingSize
	if c.ringSize < 1 {
		c.ringSize = 300
	}
	c.defaultInterval = opts.Interval
	if c.defaultInterval <= 0 {
		c.defaultInterval = 5 * time.Second
	}
	c.pollers = make(map[string]*poller)
}

// SubscribeMetrics starts (or joins) the polling loop for a VM. The
// first subscriber fixes the interval; later subscribers join as-is.
func (c *Coordinator) SubscribeMetrics(vmID string, interval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metricSource == nil {
		return provider.NewError(provider.KindInternal, "metrics are not enabled")
	}
	if interval <= 0 {
		interval = c.defaultInterval
	}
	if interval < MinMetricInterval || interval > MaxMetricInterval {
		return provider.Errorf(provider.KindInvalidArguments,
			"metric interval must be within [%s, %s]", MinMetricInterval, MaxMetricInterval)
	}

	if p, ok := c.pollers[vmID]; ok {
		select {
		case <-p.done:
			// The previous loop ended; replace it.
		default:
			p.subs++
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		vmID:     vmID,
		interval: interval,
		ring:     newRing(c.ringSize),
		subs:     1,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.pollers[vmID] = p
	c.wg.Add(1)
	go c.pollLoop(ctx, p)
	c.logger.Info("metric polling started", "vm_id", vmID, "interval", interval.String())
	return nil
}

// UnsubscribeMetrics drops one subscriber; the loop stops when none
// remain. The collected history stays readable.
func (c *Coordinator) UnsubscribeMetrics(vmID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pollers[vmID]
	if !ok {
		return
	}
	p.subs--
	if p.subs <= 0 {
		p.cancel()
	}
}

// MetricsHistory returns a copy of the VM's retained samples,
// oldest-first, plus any terminal polling error.
func (c *Coordinator) MetricsHistory(vmID string) ([]provider.MetricSample, error, bool) {
	c.mu.Lock()
	p, ok := c.pollers[vmID]
	c.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	var err error
	select {
	case <-p.done:
		err = p.err
	default:
	}
	return p.ring.snapshot(), err, true
}

// pollLoop samples until cancelled, until the VM settles in a
// non-running state, or until sampling fails repeatedly. Samples within
// one ring are monotonically timestamped because the single loop is the
// only writer.
func (c *Coordinator) pollLoop(ctx context.Context, p *poller) {
	defer c.wg.Done()
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	errStreak := 0
	stoppedStreak := 0
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("metric polling stopped", "vm_id", p.vmID)
			return
		case <-ticker.C:
		}

		info, err := c.metricSource.GetVMInfo(ctx, p.vmID)
		if err == nil && info.State != provider.StateRunning {
			stoppedStreak++
			if stoppedStreak >= consecutiveStops {
				c.logger.Info("metric polling ended: vm left running state",
					"vm_id", p.vmID, "state", string(info.State))
				return
			}
			continue
		}
		stoppedStreak = 0

		sample, err := c.metricSource.Sample(ctx, p.vmID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errStreak++
			c.logger.Warn("metric sample failed",
				"vm_id", p.vmID, "error", err, "streak", errStreak)
			if errStreak >= consecutiveStops {
				p.err = err
				c.logger.Error("metric polling ended after repeated failures",
					"vm_id", p.vmID, "error", err)
				return
			}
			continue
		}
		errStreak = 0
		p.ring.add(*sample)
	}
}
