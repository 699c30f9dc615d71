package provider

import "context"

// Manager is the provider-neutral hypervisor management interface. The
// VirtualBox adapter is the primary implementation; the Hyper-V backend
// implements the same contract with a narrower verb set and reports
// unsupported operations as hypervisor errors.
//
// Every method that takes a VM identifier accepts either the hypervisor
// UUID or the human name; implementations resolve to the canonical UUID
// before acting. Mutating methods serialize per VM; reads do not take the
// lock and may observe a state mid-mutation.
type Manager interface {
	// Available reports whether the backing CLI resolved at startup.
	// When false, mutating operations fail fast with BinaryNotFound and
	// the service runs in degraded (read-only) mode.
	Available() bool

	// Name identifies the backend ("virtualbox", "hyperv").
	Name() string

	ListVMs(ctx context.Context) ([]VMSummary, error)
	GetVMInfo(ctx context.Context, idOrName string) (*VMInfo, error)

	CreateVM(ctx context.Context, spec CreateSpec) (string, error)
	StartVM(ctx context.Context, idOrName string, mode StartMode) error
	StopVM(ctx context.Context, idOrName string, style StopStyle) error
	ResetVM(ctx context.Context, idOrName string) error
	PauseVM(ctx context.Context, idOrName string) error
	ResumeVM(ctx context.Context, idOrName string) error
	DeleteVM(ctx context.Context, idOrName string, withDisks bool) error
	CloneVM(ctx context.Context, src, dst string, mode CloneMode) (string, error)

	CreateSnapshot(ctx context.Context, idOrName, name, description string, live bool) (string, error)
	RestoreSnapshot(ctx context.Context, idOrName, snapshot string) error
	DeleteSnapshot(ctx context.Context, idOrName, snapshot string) error
	ListSnapshots(ctx context.Context, idOrName string) (*Snapshot, error)

	CreateDisk(ctx context.Context, path string, sizeMB int64, format string) (string, error)
	DeleteDisk(ctx context.Context, uuidOrPath string) error
	ListDisks(ctx context.Context) ([]DiskMedium, error)
	AttachDisk(ctx context.Context, idOrName, controller string, port, device int, medium string) error
	DetachDisk(ctx context.Context, idOrName, controller string, port, device int) error

	ListAdapters(ctx context.Context, idOrName string) ([]NetworkAdapter, error)
	ConfigureAdapter(ctx context.Context, idOrName string, cfg AdapterConfig) error

	Sample(ctx context.Context, idOrName string) (*MetricSample, error)
	HostInfo(ctx context.Context) (*HostInfo, error)
	ListOSTypes(ctx context.Context) ([]OSType, error)
	Version(ctx context.Context) (string, error)
}

// ErrUnsupported builds the error a backend returns for an operation
// outside its verb set.
func ErrUnsupported(backend, op string) *Error {
	return Errorf(KindHypervisorError, "operation %s is not supported by the %s backend", op, backend)
}
