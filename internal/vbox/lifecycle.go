package vbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"vbox-mcp/internal/provider"
)

// ListVMs implements provider.Manager. The long listing is the only form
// that carries states, so its human-readable output is parsed here;
// state words are a stable part of the CLI contract.
func (m *Manager) ListVMs(ctx context.Context) ([]provider.VMSummary, error) {
	out, err := m.query(ctx, "list", "vms", "--long")
	if err != nil {
		return nil, err
	}
	return parseVMListLong(out), nil
}

// GetVMInfo implements provider.Manager.
func (m *Manager) GetVMInfo(ctx context.Context, idOrName string) (*provider.VMInfo, error) {
	vmID, err := m.resolver.Resolve(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	out, err := m.query(ctx, "showvminfo", vmID, "--machinereadable")
	if err != nil {
		return nil, err
	}
	return parseVMInfo(out)
}

// CreateVM implements provider.Manager. Registration mutates global
// hypervisor state, so the process-wide lock is held for the whole
// create sequence.
func (m *Manager) CreateVM(ctx context.Context, spec provider.CreateSpec) (string, error) {
	if spec.Name == "" {
		return "", provider.NewError(provider.KindInvalidArguments, "vm name is required")
	}
	release, err := m.locks.AcquireGlobal(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	vms, err := m.ListVMs(ctx)
	if err != nil {
		return "", err
	}
	for _, vm := range vms {
		if vm.Name == spec.Name {
			return "", provider.Errorf(provider.KindResourceConflict,
				"a virtual machine named %q already exists", spec.Name)
		}
	}

	osType := spec.OSType
	if osType == "" {
		osType = "Other_64"
	}
	out, err := m.mutate(ctx, "createvm", "--name", spec.Name, "--ostype", osType, "--register")
	if err != nil {
		return "", err
	}
	vmID := parseCreatedUUID(out)
	if vmID == "" {
		return "", provider.NewError(provider.KindAdapterParseError,
			"createvm output did not contain the new machine UUID").
			WithDetail("raw", truncateRaw(out))
	}
	settingsFile := parseSettingsFile(out)

	m.logger.Info("vm registered", "vm_id", vmID, "name", spec.Name)

	modifyArgs := []string{"modifyvm", vmID}
	if spec.MemoryMB > 0 {
		modifyArgs = append(modifyArgs, "--memory", strconv.Itoa(spec.MemoryMB))
	}
	if spec.CPUCount > 0 {
		modifyArgs = append(modifyArgs, "--cpus", strconv.Itoa(spec.CPUCount))
	}
	netMode := spec.NetworkMode
	if netMode == "" {
		netMode = provider.NetworkNAT
	}
	modifyArgs = append(modifyArgs, "--nic1", vboxNICArg(netMode))
	if _, err := m.mutate(ctx, modifyArgs...); err != nil {
		return vmID, err
	}

	if spec.DiskSizeGB > 0 {
		if err := m.provisionBootDisk(ctx, vmID, spec, settingsFile); err != nil {
			return vmID, err
		}
	}
	return vmID, nil
}

// provisionBootDisk creates a SATA controller, a VDI next to the machine
// settings file, and attaches it at port 0.
func (m *Manager) provisionBootDisk(ctx context.Context, vmID string, spec provider.CreateSpec, settingsFile string) error {
	if _, err := m.mutate(ctx, "storagectl", vmID,
		"--name", "SATA", "--add", "sata", "--controller", "IntelAhci", "--portcount", "2"); err != nil {
		return err
	}

	diskDir := filepath.Dir(settingsFile)
	if diskDir == "." || diskDir == "" {
		return provider.NewError(provider.KindAdapterParseError,
			"createvm output did not contain the settings file path")
	}
	diskPath := filepath.Join(diskDir, spec.Name+".vdi")
	sizeMB := int64(spec.DiskSizeGB) * 1024
	out, err := m.mutate(ctx, "createmedium", "disk",
		"--filename", diskPath, "--size", strconv.FormatInt(sizeMB, 10), "--format", "VDI")
	if err != nil {
		return err
	}
	if parseCreatedUUID(out) == "" {
		m.logger.Warn("createmedium output did not contain a UUID", "path", diskPath)
	}

	_, err = m.mutate(ctx, "storageattach", vmID,
		"--storagectl", "SATA", "--port", "0", "--device", "0",
		"--type", "hdd", "--medium", diskPath)
	return err
}

// StartVM implements provider.Manager. The VM must be in poweroff, saved
// or aborted state; anything else fails with InvalidState so that concurrent
// starts serialize into exactly one winner.
func (m *Manager) StartVM(ctx context.Context, idOrName string, mode provider.StartMode) error {
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
	switch state {
	case provider.StatePoweroff, provider.StateSaved, provider.StateAborted:
	default:
		return provider.Errorf(provider.KindInvalidState,
			"cannot start vm in state %s", state)
	}

	if mode == "" {
		mode = provider.StartHeadless
	}
	if _, err := m.mutate(ctx, "startvm", vmID, "--type", string(mode)); err != nil {
		return err
	}
	return m.awaitState(ctx, vmID, provider.StateRunning)
}

// StopVM implements provider.Manager. Stopping an already-stopped VM is
// InvalidState, not a silent success.
func (m *Manager) StopVM(ctx context.Context, idOrName string, style provider.StopStyle) error {
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
	if state != provider.StateRunning && state != provider.StatePaused {
		return provider.Errorf(provider.KindInvalidState,
			"cannot stop vm in state %s", state)
	}

	switch style {
	case provider.StopSave:
		if _, err := m.mutate(ctx, "controlvm", vmID, "savestate"); err != nil {
			return err
		}
		return m.awaitState(ctx, vmID, provider.StateSaved)
	case provider.StopForce:
		if _, err := m.mutate(ctx, "controlvm", vmID, "poweroff"); err != nil {
			return err
		}
		return m.awaitState(ctx, vmID, provider.StatePoweroff)
	case provider.StopACPI, "":
		if _, err := m.mutate(ctx, "controlvm", vmID, "acpipowerbutton"); err != nil {
			return err
		}
		return m.awaitState(ctx, vmID, provider.StatePoweroff)
	default:
		return provider.Errorf(provider.KindInvalidArguments, "unknown stop style %q", style)
	}
}

// ResetVM implements provider.Manager.
func (m *Manager) ResetVM(ctx context.Context, idOrName string) error {
	return m.controlRunning(ctx, idOrName, "reset", provider.StateRunning)
}

// PauseVM implements provider.Manager.
func (m *Manager) PauseVM(ctx context.Context, idOrName string) error {
	return m.controlRunning(ctx, idOrName, "pause", provider.StatePaused)
}

// ResumeVM implements provider.Manager.
func (m *Manager) ResumeVM(ctx context.Context, idOrName string) error {
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
	if state != provider.StatePaused {
		return provider.Errorf(provider.KindInvalidState,
			"cannot resume vm in state %s", state)
	}
	if _, err := m.mutate(ctx, "controlvm", vmID, "resume"); err != nil {
		return err
	}
	return m.awaitState(ctx, vmID, provider.StateRunning)
}

// controlRunning issues a controlvm verb that requires a running VM and
// awaits the target state.
func (m *Manager) controlRunning(ctx context.Context, idOrName, verb string, target provider.VMState) error {
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
	if state != provider.StateRunning {
		return provider.Errorf(provider.KindInvalidState,
			"cannot %s vm in state %s", verb, state)
	}
	if _, err := m.mutate(ctx, "controlvm", vmID, verb); err != nil {
		return err
	}
	return m.awaitState(ctx, vmID, target)
}

// DeleteVM implements provider.Manager. Running VMs are not deleted
// implicitly; the caller stops them first.
func (m *Manager) DeleteVM(ctx context.Context, idOrName string, withDisks bool) error {
	vmID, err := m.resolver.Resolve(ctx, idOrName)
	if err != nil {
		return err
	}
	release, err := m.locks.AcquireGlobal(ctx)
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
			"cannot delete vm in state %s; stop it first", state)
	}

	args := []string{"unregistervm", vmID}
	if withDisks {
		args = append(args, "--delete")
	}
	_, err = m.mutate(ctx, args...)
	if err == nil {
		m.logger.Info("vm deleted", "vm_id", vmID, "with_disks", withDisks)
	}
	return err
}

// CloneVM implements provider.Manager. Cloning registers a new machine,
// so it holds the global lock; the source VM lock is taken as well to
// keep its disks stable during the copy.
func (m *Manager) CloneVM(ctx context.Context, src, dst string, mode provider.CloneMode) (string, error) {
	srcID, err := m.resolver.Resolve(ctx, src)
	if err != nil {
		return "", err
	}
	releaseGlobal, err := m.locks.AcquireGlobal(ctx)
	if err != nil {
		return "", err
	}
	defer releaseGlobal()
	releaseSrc, err := m.locks.Acquire(ctx, srcID)
	if err != nil {
		return "", err
	}
	defer releaseSrc()

	vms, err := m.ListVMs(ctx)
	if err != nil {
		return "", err
	}
	for _, vm := range vms {
		if vm.Name == dst {
			return "", provider.Errorf(provider.KindResourceConflict,
				"a virtual machine named %q already exists", dst)
		}
	}

	args := []string{"clonevm", srcID, "--name", dst, "--register"}
	if mode == provider.CloneLinked {
		// Linked clones require a snapshot base; VBoxManage rejects the
		// request if the source has none and that error surfaces as-is.
		args = append(args, "--options", "link")
	}
	if _, err := m.mutate(ctx, args...); err != nil {
		return "", err
	}

	info, err := m.GetVMInfo(ctx, dst)
	if err != nil {
		return "", fmt.Errorf("clone succeeded but new vm is unreadable: %w", err)
	}
	m.logger.Info("vm cloned", "src", srcID, "dst", info.ID, "mode", string(mode))
	return info.ID, nil
}

// Version implements provider.Manager.
func (m *Manager) Version(ctx context.Context) (string, error) {
	out, err := m.query(ctx, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
