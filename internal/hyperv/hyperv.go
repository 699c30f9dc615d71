// Package hyperv is the secondary backend: the same provider contract
// driven through PowerShell's Hyper-V module with a narrower verb set.
// Operations outside that set report themselves unsupported instead of
// guessing at semantics VirtualBox defines.
package hyperv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"vbox-mcp/internal/execx"
	"vbox-mcp/internal/provider"
)

// Manager is the Hyper-V implementation of provider.Manager.
type Manager struct {
	runner  execx.Runner
	logger  *slog.Logger
	timeout time.Duration
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

// New constructs a Hyper-V manager over the given runner.
func New(runner execx.Runner, opts ...Option) *Manager {
	m := &Manager{
		runner:  runner,
		logger:  slog.Default(),
		timeout: 120 * time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name implements provider.Manager.
func (m *Manager) Name() string { return "hyperv" }

// Available implements provider.Manager.
func (m *Manager) Available() bool { return m.runner.Available(execx.ProgramPowerShell) }

// run executes one PowerShell pipeline non-interactively.
func (m *Manager) run(ctx context.Context, script string) (string, error) {
	res, err := m.runner.Run(ctx, execx.Request{
		Program: execx.ProgramPowerShell,
		Args:    []string{"-NoProfile", "-NonInteractive", "-Command", script},
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

func classifyStderr(stderr string, exitCode int) *provider.Error {
	switch {
	case strings.Contains(stderr, "Unable to find a virtual machine"),
		strings.Contains(stderr, "ObjectNotFound"):
		return provider.NewError(provider.KindVMNotFound, strings.TrimSpace(firstLine(stderr)))
	case strings.Contains(stderr, "is not in a valid state"),
		strings.Contains(stderr, "InvalidOperation"):
		return provider.NewError(provider.KindInvalidState, strings.TrimSpace(firstLine(stderr)))
	case strings.Contains(stderr, "already exists"):
		return provider.NewError(provider.KindResourceConflict, strings.TrimSpace(firstLine(stderr)))
	default:
		return provider.Errorf(provider.KindHypervisorError,
			"powershell failed with exit code %d", exitCode).
			WithDetail("stderr", stderr)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// vmRecord is the JSON shape of one Get-VM result.
type vmRecord struct {
	Name            string          `json:"Name"`
	ID              string          `json:"Id"`
	State           json.RawMessage `json:"State"`
	MemoryStartupMB int64           `json:"MemoryStartup"`
	ProcessorCount  int             `json:"ProcessorCount"`
}

// decodeVMRecords accepts both a single object and an array: PowerShell
// flattens one-element pipelines before ConvertTo-Json.
func decodeVMRecords(out string) ([]vmRecord, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	var records []vmRecord
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, provider.WrapError(provider.KindAdapterParseError, err,
				"Get-VM output is not valid JSON").WithDetail("raw", trimmed)
		}
		return records, nil
	}
	var one vmRecord
	if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
		return nil, provider.WrapError(provider.KindAdapterParseError, err,
			"Get-VM output is not valid JSON").WithDetail("raw", trimmed)
	}
	return []vmRecord{one}, nil
}

// stateFromHyperV maps Hyper-V state values (enum names or their numeric
// codes, depending on the PowerShell serialization depth) onto the
// provider state set.
func stateFromHyperV(raw json.RawMessage) provider.VMState {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if n, err := strconv.Atoi(s); err == nil {
		switch n {
		case 2:
			return provider.StateRunning
		case 3:
			return provider.StatePoweroff
		case 6:
			return provider.StateSaved
		case 9:
			return provider.StatePaused
		case 10:
			return provider.StateStarting
		case 4:
			return provider.StateStopping
		case 5:
			return provider.StateSaving
		default:
			return provider.StateUnknown
		}
	}
	switch strings.ToLower(s) {
	case "running":
		return provider.StateRunning
	case "off":
		return provider.StatePoweroff
	case "saved":
		return provider.StateSaved
	case "paused":
		return provider.StatePaused
	case "starting":
		return provider.StateStarting
	case "stopping":
		return provider.StateStopping
	case "saving":
		return provider.StateSaving
	default:
		return provider.StateUnknown
	}
}

// quote escapes a value for interpolation into a single-quoted
// PowerShell string literal. The script itself is passed as one argv
// element, never through a shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ListVMs implements provider.Manager.
func (m *Manager) ListVMs(ctx context.Context) ([]provider.VMSummary, error) {
	out, err := m.run(ctx, "Get-VM | Select-Object Name,Id,State | ConvertTo-Json -Depth 2")
	if err != nil {
		return nil, err
	}
	records, err := decodeVMRecords(out)
	if err != nil {
		return nil, err
	}
	vms := make([]provider.VMSummary, 0, len(records))
	for _, r := range records {
		vms = append(vms, provider.VMSummary{
			ID:    r.ID,
			Name:  r.Name,
			State: stateFromHyperV(r.State),
		})
	}
	return vms, nil
}

// GetVMInfo implements provider.Manager.
func (m *Manager) GetVMInfo(ctx context.Context, idOrName string) (*provider.VMInfo, error) {
	script := fmt.Sprintf(
		"Get-VM -Name %s | Select-Object Name,Id,State,ProcessorCount,@{n='MemoryStartup';e={[int64]($_.MemoryStartup/1MB)}} | ConvertTo-Json -Depth 2",
		quote(idOrName))
	out, err := m.run(ctx, script)
	if err != nil {
		return nil, err
	}
	records, err := decodeVMRecords(out)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, provider.Errorf(provider.KindVMNotFound, "no virtual machine named %q", idOrName)
	}
	r := records[0]
	return &provider.VMInfo{
		ID:       r.ID,
		Name:     r.Name,
		State:    stateFromHyperV(r.State),
		MemoryMB: int(r.MemoryStartupMB),
		CPUCount: r.ProcessorCount,
	}, nil
}

// CreateVM implements provider.Manager.
func (m *Manager) CreateVM(ctx context.Context, spec provider.CreateSpec) (string, error) {
	if spec.Name == "" {
		return "", provider.NewError(provider.KindInvalidArguments, "vm name is required")
	}
	memory := spec.MemoryMB
	if memory <= 0 {
		memory = 1024
	}
	script := fmt.Sprintf("New-VM -Name %s -MemoryStartupBytes %dMB", quote(spec.Name), memory)
	if spec.DiskSizeGB > 0 {
		script += fmt.Sprintf(" -NewVHDPath %s -NewVHDSizeBytes %dGB",
			quote(spec.Name+".vhdx"), spec.DiskSizeGB)
	}
	if _, err := m.run(ctx, script); err != nil {
		return "", err
	}
	if spec.CPUCount > 0 {
		if _, err := m.run(ctx, fmt.Sprintf("Set-VM -Name %s -ProcessorCount %d", quote(spec.Name), spec.CPUCount)); err != nil {
			return "", err
		}
	}
	info, err := m.GetVMInfo(ctx, spec.Name)
	if err != nil {
		return "", err
	}
	m.logger.Info("vm created", "vm_id", info.ID, "name", spec.Name)
	return info.ID, nil
}

// StartVM implements provider.Manager. Hyper-V has no console-mode
// distinction; the mode argument is accepted and ignored.
func (m *Manager) StartVM(ctx context.Context, idOrName string, _ provider.StartMode) error {
	_, err := m.run(ctx, "Start-VM -Name "+quote(idOrName))
	return err
}

// StopVM implements provider.Manager.
func (m *Manager) StopVM(ctx context.Context, idOrName string, style provider.StopStyle) error {
	var script string
	switch style {
	case provider.StopForce:
		script = "Stop-VM -Name " + quote(idOrName) + " -TurnOff -Force"
	case provider.StopSave:
		script = "Save-VM -Name " + quote(idOrName)
	case provider.StopACPI, "":
		script = "Stop-VM -Name " + quote(idOrName)
	default:
		return provider.Errorf(provider.KindInvalidArguments, "unknown stop style %q", style)
	}
	_, err := m.run(ctx, script)
	return err
}

// ResetVM implements provider.Manager.
func (m *Manager) ResetVM(ctx context.Context, idOrName string) error {
	_, err := m.run(ctx, "Restart-VM -Name "+quote(idOrName)+" -Force")
	return err
}

// PauseVM implements provider.Manager.
func (m *Manager) PauseVM(ctx context.Context, idOrName string) error {
	_, err := m.run(ctx, "Suspend-VM -Name "+quote(idOrName))
	return err
}

// ResumeVM implements provider.Manager.
func (m *Manager) ResumeVM(ctx context.Context, idOrName string) error {
	_, err := m.run(ctx, "Resume-VM -Name "+quote(idOrName))
	return err
}

// DeleteVM implements provider.Manager.
func (m *Manager) DeleteVM(ctx context.Context, idOrName string, withDisks bool) error {
	if withDisks {
		// Remove-VM keeps the VHDs; delete them first while the paths
		// are still known.
		script := fmt.Sprintf(
			"Get-VM -Name %s | Select-Object -ExpandProperty HardDrives | ForEach-Object { Remove-Item -Path $_.Path -ErrorAction SilentlyContinue }; Remove-VM -Name %s -Force",
			quote(idOrName), quote(idOrName))
		_, err := m.run(ctx, script)
		return err
	}
	_, err := m.run(ctx, "Remove-VM -Name "+quote(idOrName)+" -Force")
	return err
}

// CloneVM implements provider.Manager.
func (m *Manager) CloneVM(ctx context.Context, src, dst string, _ provider.CloneMode) (string, error) {
	return "", provider.ErrUnsupported(m.Name(), "clone_vm")
}

// CreateSnapshot implements provider.Manager via Hyper-V checkpoints.
func (m *Manager) CreateSnapshot(ctx context.Context, idOrName, name, _ string, _ bool) (string, error) {
	_, err := m.run(ctx, fmt.Sprintf("Checkpoint-VM -Name %s -SnapshotName %s", quote(idOrName), quote(name)))
	if err != nil {
		return "", err
	}
	out, err := m.run(ctx, fmt.Sprintf(
		"Get-VMSnapshot -VMName %s -Name %s | Select-Object -ExpandProperty Id | ConvertTo-Json",
		quote(idOrName), quote(name)))
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(out), `"`), nil
}

// RestoreSnapshot implements provider.Manager.
func (m *Manager) RestoreSnapshot(ctx context.Context, idOrName, snapshot string) error {
	_, err := m.run(ctx, fmt.Sprintf(
		"Restore-VMSnapshot -VMName %s -Name %s -Confirm:$false", quote(idOrName), quote(snapshot)))
	return err
}

// DeleteSnapshot implements provider.Manager.
func (m *Manager) DeleteSnapshot(ctx context.Context, idOrName, snapshot string) error {
	_, err := m.run(ctx, fmt.Sprintf(
		"Remove-VMSnapshot -VMName %s -Name %s", quote(idOrName), quote(snapshot)))
	return err
}

// ListSnapshots implements provider.Manager. Hyper-V reports checkpoints
// as a flat list; the parent chain is flattened into top-level children.
func (m *Manager) ListSnapshots(ctx context.Context, idOrName string) (*provider.Snapshot, error) {
	out, err := m.run(ctx, fmt.Sprintf(
		"Get-VMSnapshot -VMName %s | Select-Object Name,Id | ConvertTo-Json -Depth 2", quote(idOrName)))
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	type snapRecord struct {
		Name string `json:"Name"`
		ID   string `json:"Id"`
	}
	var records []snapRecord
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, provider.WrapError(provider.KindAdapterParseError, err,
				"Get-VMSnapshot output is not valid JSON").WithDetail("raw", trimmed)
		}
	} else {
		var one snapRecord
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, provider.WrapError(provider.KindAdapterParseError, err,
				"Get-VMSnapshot output is not valid JSON").WithDetail("raw", trimmed)
		}
		records = []snapRecord{one}
	}
	if len(records) == 0 {
		return nil, nil
	}
	root := &provider.Snapshot{Name: records[0].Name, ID: records[0].ID}
	for _, r := range records[1:] {
		root.Children = append(root.Children, provider.Snapshot{Name: r.Name, ID: r.ID})
	}
	return root, nil
}

// CreateDisk implements provider.Manager.
func (m *Manager) CreateDisk(ctx context.Context, path string, sizeMB int64, _ string) (string, error) {
	_, err := m.run(ctx, fmt.Sprintf("New-VHD -Path %s -SizeBytes %dMB", quote(path), sizeMB))
	if err != nil {
		return "", err
	}
	return path, nil
}

// DeleteDisk implements provider.Manager.
func (m *Manager) DeleteDisk(ctx context.Context, uuidOrPath string) error {
	_, err := m.run(ctx, "Remove-Item -Path "+quote(uuidOrPath))
	return err
}

// ListDisks implements provider.Manager.
func (m *Manager) ListDisks(ctx context.Context) ([]provider.DiskMedium, error) {
	return nil, provider.ErrUnsupported(m.Name(), "list_disks")
}

// AttachDisk implements provider.Manager.
func (m *Manager) AttachDisk(ctx context.Context, idOrName, _ string, _, _ int, medium string) error {
	_, err := m.run(ctx, fmt.Sprintf("Add-VMHardDiskDrive -VMName %s -Path %s", quote(idOrName), quote(medium)))
	return err
}

// DetachDisk implements provider.Manager.
func (m *Manager) DetachDisk(ctx context.Context, idOrName, controller string, port, device int) error {
	return provider.ErrUnsupported(m.Name(), "detach_disk")
}

// ListAdapters implements provider.Manager.
func (m *Manager) ListAdapters(ctx context.Context, idOrName string) ([]provider.NetworkAdapter, error) {
	return nil, provider.ErrUnsupported(m.Name(), "list_adapters")
}

// ConfigureAdapter implements provider.Manager.
func (m *Manager) ConfigureAdapter(ctx context.Context, idOrName string, cfg provider.AdapterConfig) error {
	return provider.ErrUnsupported(m.Name(), "configure_adapter")
}

// Sample implements provider.Manager via Measure-VM.
func (m *Manager) Sample(ctx context.Context, idOrName string) (*provider.MetricSample, error) {
	out, err := m.run(ctx, fmt.Sprintf(
		"Measure-VM -Name %s | Select-Object AverageProcessorUsage,AverageMemoryUsage | ConvertTo-Json",
		quote(idOrName)))
	if err != nil {
		return nil, err
	}
	var rec struct {
		AverageProcessorUsage float64 `json:"AverageProcessorUsage"`
		AverageMemoryUsage    float64 `json:"AverageMemoryUsage"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		return nil, provider.WrapError(provider.KindAdapterParseError, err,
			"Measure-VM output is not valid JSON").WithDetail("raw", out)
	}
	return &provider.MetricSample{
		VMID:      idOrName,
		Timestamp: time.Now().UTC(),
		CPUPct:    rec.AverageProcessorUsage,
		MemUsedMB: rec.AverageMemoryUsage,
	}, nil
}

// HostInfo implements provider.Manager.
func (m *Manager) HostInfo(ctx context.Context) (*provider.HostInfo, error) {
	out, err := m.run(ctx, "Get-VMHost | Select-Object LogicalProcessorCount,@{n='MemoryMB';e={[int64]($_.MemoryCapacity/1MB)}} | ConvertTo-Json")
	if err != nil {
		return nil, err
	}
	var rec struct {
		LogicalProcessorCount int   `json:"LogicalProcessorCount"`
		MemoryMB              int64 `json:"MemoryMB"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		return nil, provider.WrapError(provider.KindAdapterParseError, err,
			"Get-VMHost output is not valid JSON").WithDetail("raw", out)
	}
	return &provider.HostInfo{
		ProcessorCount: rec.LogicalProcessorCount,
		MemoryTotalMB:  rec.MemoryMB,
	}, nil
}

// ListOSTypes implements provider.Manager. Hyper-V has no guest OS type
// catalog; generation numbers stand in.
func (m *Manager) ListOSTypes(ctx context.Context) ([]provider.OSType, error) {
	return []provider.OSType{
		{ID: "Generation1", Description: "Hyper-V generation 1 (BIOS)"},
		{ID: "Generation2", Description: "Hyper-V generation 2 (UEFI)", Is64Bit: true},
	}, nil
}

// Version implements provider.Manager.
func (m *Manager) Version(ctx context.Context) (string, error) {
	out, err := m.run(ctx, "(Get-Module -ListAvailable Hyper-V | Select-Object -First 1).Version.ToString()")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
