package vbox

import (
	"context"
	"errors"
	"strings"

	"vbox-mcp/internal/provider"
)

// CreateSnapshot implements provider.Manager. Snapshots of a running VM
// must be requested as live snapshots; the paused/saved/poweroff states
// snapshot offline.
func (m *Manager) CreateSnapshot(ctx context.Context, idOrName, name, description string, live bool) (string, error) {
	vmID, err := m.resolver.Resolve(ctx, idOrName)
	if err != nil {
		return "", err
	}
	release, err := m.locks.Acquire(ctx, vmID)
	if err != nil {
		return "", err
	}
	defer release()
	defer m.resolver.Invalidate(vmID)

	state, err := m.currentState(ctx, vmID)
	if err != nil {
		return "", err
	}
	if state == provider.StateRunning && !live {
		return "", provider.NewError(provider.KindInvalidState,
			"vm is running; request a live snapshot or stop the vm first")
	}

	args := []string{"snapshot", vmID, "take", name}
	if description != "" {
		args = append(args, "--description", description)
	}
	if live && state == provider.StateRunning {
		args = append(args, "--live")
	}
	out, err := m.mutate(ctx, args...)
	if err != nil {
		return "", err
	}
	snapID := parseCreatedUUID(out)
	if snapID == "" {
		// Older VBoxManage prints no UUID on take; fall back to the tree.
		tree, terr := m.snapshotTree(ctx, vmID)
		if terr == nil {
			if node := findSnapshotByName(tree, name); node != nil {
				snapID = node.ID
			}
		}
	}
	m.logger.Info("snapshot created", "vm_id", vmID, "snapshot", name, "snapshot_id", snapID, "live", live)
	return snapID, nil
}

// RestoreSnapshot implements provider.Manager. Restore on a running VM
// is rejected; the caller stops or saves the VM first. This is the one
// policy this adapter implements, documented here rather than split
// between implicit-stop paths.
func (m *Manager) RestoreSnapshot(ctx context.Context, idOrName, snapshot string) error {
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
			"cannot restore a snapshot while the vm is %s; stop it first", state)
	}

	if _, err := m.mutate(ctx, "snapshot", vmID, "restore", snapshot); err != nil {
		return err
	}
	m.logger.Info("snapshot restored", "vm_id", vmID, "snapshot", snapshot)
	return nil
}

// DeleteSnapshot implements provider.Manager. VirtualBox collapses the
// deleted snapshot into its parent; online delete of some configurations
// is unsupported and surfaces as InvalidState from the CLI.
func (m *Manager) DeleteSnapshot(ctx context.Context, idOrName, snapshot string) error {
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

	if _, err := m.mutate(ctx, "snapshot", vmID, "delete", snapshot); err != nil {
		return err
	}
	m.logger.Info("snapshot deleted", "vm_id", vmID, "snapshot", snapshot)
	return nil
}

// ListSnapshots implements provider.Manager. Returns nil when the VM has
// no snapshots.
func (m *Manager) ListSnapshots(ctx context.Context, idOrName string) (*provider.Snapshot, error) {
	vmID, err := m.resolver.Resolve(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	return m.snapshotTree(ctx, vmID)
}

// snapshotTree reads the snapshot tree; list is a read operation and
// does not take the VM lock.
func (m *Manager) snapshotTree(ctx context.Context, vmID string) (*provider.Snapshot, error) {
	out, err := m.query(ctx, "snapshot", vmID, "list", "--machinereadable")
	if err != nil {
		// A VM without snapshots reports a benign non-zero exit.
		var pe *provider.Error
		if errors.As(err, &pe) && pe.Kind == provider.KindHypervisorError {
			if stderr, ok := pe.Details["stderr"].(string); ok &&
				strings.Contains(stderr, "does not have any snapshots") {
				return nil, nil
			}
		}
		return nil, err
	}
	if strings.Contains(out, "does not have any snapshots") {
		return nil, nil
	}
	return parseSnapshotTree(out), nil
}

func findSnapshotByName(node *provider.Snapshot, name string) *provider.Snapshot {
	if node == nil {
		return nil
	}
	if node.Name == name {
		return node
	}
	for i := range node.Children {
		if found := findSnapshotByName(&node.Children[i], name); found != nil {
			return found
		}
	}
	return nil
}
