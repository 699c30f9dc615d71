package vbox

import (
	"context"
	"time"

	"vbox-mcp/internal/provider"
)

// vmMetricNames are the VirtualBox metric names one sample reads.
const vmMetricNames = "CPU/Load/User,CPU/Load/Kernel,RAM/Usage/Used,Disk/Load/Read,Disk/Load/Write,Net/Rate/Rx,Net/Rate/Tx"

// Sample implements provider.Manager. Collection must be armed once per
// VM; arming is idempotent, so it runs before every first read of a VM
// this process has not sampled yet.
func (m *Manager) Sample(ctx context.Context, idOrName string) (*provider.MetricSample, error) {
	vmID, err := m.resolver.Resolve(ctx, idOrName)
	if err != nil {
		return nil, err
	}

	if !m.metricsArmed(vmID) {
		if _, err := m.query(ctx, "metrics", "setup", "--period", "1", "--samples", "1", vmID); err != nil {
			return nil, err
		}
		m.armMetrics(vmID)
	}

	out, err := m.query(ctx, "metrics", "query", vmID, vmMetricNames)
	if err != nil {
		return nil, err
	}
	return sampleFromMetrics(vmID, time.Now().UTC(), parseMetrics(out)), nil
}

func (m *Manager) metricsArmed(vmID string) bool {
	m.armedMu.Lock()
	defer m.armedMu.Unlock()
	return m.armed[vmID]
}

func (m *Manager) armMetrics(vmID string) {
	m.armedMu.Lock()
	defer m.armedMu.Unlock()
	if m.armed == nil {
		m.armed = make(map[string]bool)
	}
	m.armed[vmID] = true
}

// HostInfo implements provider.Manager.
func (m *Manager) HostInfo(ctx context.Context) (*provider.HostInfo, error) {
	out, err := m.query(ctx, "list", "hostinfo")
	if err != nil {
		return nil, err
	}
	return parseHostInfo(out), nil
}

// ListOSTypes implements provider.Manager.
func (m *Manager) ListOSTypes(ctx context.Context) ([]provider.OSType, error) {
	out, err := m.query(ctx, "list", "ostypes")
	if err != nil {
		return nil, err
	}
	return parseOSTypes(out), nil
}
