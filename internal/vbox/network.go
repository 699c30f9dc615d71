package vbox

import (
	"context"
	"strconv"

	"vbox-mcp/internal/provider"
)

// ListAdapters implements provider.Manager.
func (m *Manager) ListAdapters(ctx context.Context, idOrName string) ([]provider.NetworkAdapter, error) {
	info, err := m.GetVMInfo(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	return info.NetworkAdapters, nil
}

// ConfigureAdapter implements provider.Manager. Adapter reconfiguration
// uses modifyvm, which VirtualBox only accepts on a VM that is not
// running.
func (m *Manager) ConfigureAdapter(ctx context.Context, idOrName string, cfg provider.AdapterConfig) error {
	if cfg.Slot < 0 || cfg.Slot > 7 {
		return provider.Errorf(provider.KindInvalidArguments,
			"adapter slot must be within [0, 7], got %d", cfg.Slot)
	}
	vmID, err := m.resolver.Resolve(ctx, idOrName)
	if err != nil {
		return err
	}
	release, err := m.locks.Acquire(ctx, vmID)
	if err != nil {
		return err
	}
	defer release()
	defer m.resolver.Invalidate(vmID)

	state, err := m.currentState(ctx, vmID)
	if err != nil {
		return err
	}
	if state == provider.StateRunning || state == provider.StatePaused || state.Transient() {
		return provider.Errorf(provider.KindInvalidState,
			"cannot reconfigure adapters while the vm is %s", state)
	}

	n := strconv.Itoa(cfg.Slot + 1)
	args := []string{"modifyvm", vmID, "--nic" + n, vboxNICArg(cfg.Mode)}
	if cfg.Type != "" {
		args = append(args, "--nictype"+n, cfg.Type)
	}
	if cfg.MAC != "" {
		args = append(args, "--macaddress"+n, cfg.MAC)
	}
	switch cfg.Mode {
	case provider.NetworkBridged:
		if cfg.HostInterface != "" {
			args = append(args, "--bridgeadapter"+n, cfg.HostInterface)
		}
	case provider.NetworkHostOnly:
		if cfg.HostInterface != "" {
			args = append(args, "--hostonlyadapter"+n, cfg.HostInterface)
		}
	case provider.NetworkInternal:
		if cfg.NetworkName != "" {
			args = append(args, "--intnet"+n, cfg.NetworkName)
		}
	case provider.NetworkNATNetwork:
		if cfg.NetworkName != "" {
			args = append(args, "--nat-network"+n, cfg.NetworkName)
		}
	}
	_, err = m.mutate(ctx, args...)
	if err == nil {
		m.logger.Info("adapter configured", "vm_id", vmID, "slot", cfg.Slot, "mode", string(cfg.Mode))
	}
	return err
}
