package vbox

import (
	"context"
	"strconv"
	"strings"

	"vbox-mcp/internal/provider"
)

// CreateDisk implements provider.Manager. Media registration is global
// hypervisor state.
func (m *Manager) CreateDisk(ctx context.Context, path string, sizeMB int64, format string) (string, error) {
	if path == "" || sizeMB <= 0 {
		return "", provider.NewError(provider.KindInvalidArguments,
			"disk path and a positive size are required")
	}
	release, err := m.locks.AcquireGlobal(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	if format == "" {
		format = "VDI"
	}
	out, err := m.mutate(ctx, "createmedium", "disk",
		"--filename", path, "--size", strconv.FormatInt(sizeMB, 10),
		"--format", strings.ToUpper(format))
	if err != nil {
		return "", err
	}
	uuid := parseCreatedUUID(out)
	if uuid == "" {
		return "", provider.NewError(provider.KindAdapterParseError,
			"createmedium output did not contain the new medium UUID").
			WithDetail("raw", truncateRaw(out))
	}
	m.logger.Info("disk created", "uuid", uuid, "path", path, "size_mb", sizeMB)
	return uuid, nil
}

// DeleteDisk implements provider.Manager. The medium must be detached
// from every VM; VirtualBox reports attached media as in-use and the
// error surfaces as InvalidState.
func (m *Manager) DeleteDisk(ctx context.Context, uuidOrPath string) error {
	release, err := m.locks.AcquireGlobal(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = m.mutate(ctx, "closemedium", "disk", uuidOrPath, "--delete")
	if err == nil {
		m.logger.Info("disk deleted", "medium", uuidOrPath)
	}
	return err
}

// ListDisks implements provider.Manager.
func (m *Manager) ListDisks(ctx context.Context) ([]provider.DiskMedium, error) {
	out, err := m.query(ctx, "list", "hdds")
	if err != nil {
		return nil, err
	}
	return parseHDDs(out), nil
}

// AttachDisk implements provider.Manager.
func (m *Manager) AttachDisk(ctx context.Context, idOrName, controller string, port, device int, medium string) error {
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

	_, err = m.mutate(ctx, "storageattach", vmID,
		"--storagectl", controller,
		"--port", strconv.Itoa(port),
		"--device", strconv.Itoa(device),
		"--type", "hdd",
		"--medium", medium)
	return err
}

// DetachDisk implements provider.Manager. Detaching sets the slot medium
// to none; the medium itself stays registered.
func (m *Manager) DetachDisk(ctx context.Context, idOrName, controller string, port, device int) error {
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

	_, err = m.mutate(ctx, "storageattach", vmID,
		"--storagectl", controller,
		"--port", strconv.Itoa(port),
		"--device", strconv.Itoa(device),
		"--medium", "none")
	return err
}
