package provider

import "time"

// VMState is the hypervisor-reported execution state of a virtual machine.
// The values follow the VirtualBox dialect; secondary backends map their
// native states onto this set.
type VMState string

const (
	StatePoweroff  VMState = "poweroff"
	StateSaved     VMState = "saved"
	StateAborted   VMState = "aborted"
	StateRunning   VMState = "running"
	StatePaused    VMState = "paused"
	StateStuck     VMState = "stuck"
	StateStarting  VMState = "starting"
	StateStopping  VMState = "stopping"
	StateSaving    VMState = "saving"
	StateRestoring VMState = "restoring"
	StateUnknown   VMState = "unknown"
)

// Stable reports whether the state is a resting state that lifecycle
// operations may target. Transient states are observed while a transition
// is in flight and are never commanded directly.
func (s VMState) Stable() bool {
	switch s {
	case StatePoweroff, StateSaved, StateAborted, StateRunning, StatePaused, StateStuck:
		return true
	}
	return false
}

// Transient reports whether the state is an in-flight transition state.
func (s VMState) Transient() bool {
	switch s {
	case StateStarting, StateStopping, StateSaving, StateRestoring:
		return true
	}
	return false
}

// StartMode selects how a VM's console is presented when it boots.
type StartMode string

const (
	StartHeadless StartMode = "headless"
	StartGUI      StartMode = "gui"
	StartSeparate StartMode = "separate"
)

// StopStyle selects how a running VM is brought down.
type StopStyle string

const (
	StopACPI  StopStyle = "acpi"
	StopForce StopStyle = "force"
	StopSave  StopStyle = "save"
)

// CloneMode selects between a linked clone (differencing disks against a
// snapshot) and a full copy.
type CloneMode string

const (
	CloneLinked CloneMode = "linked"
	CloneFull   CloneMode = "full"
)

// NetworkMode is the attachment mode of a VM network adapter slot.
type NetworkMode string

const (
	NetworkNAT        NetworkMode = "nat"
	NetworkBridged    NetworkMode = "bridged"
	NetworkHostOnly   NetworkMode = "hostonly"
	NetworkInternal   NetworkMode = "internal"
	NetworkNATNetwork NetworkMode = "natnetwork"
	NetworkNone       NetworkMode = "none"
)

// VMSummary is one row of a VM listing.
type VMSummary struct {
	ID    string  `json:"vm_id"`
	Name  string  `json:"name"`
	State VMState `json:"state"`
}

// VMInfo is the full configuration and current state of a VM, read from
// the hypervisor on demand. It is never cached authoritatively.
type VMInfo struct {
	ID                 string              `json:"vm_id"`
	Name               string              `json:"name"`
	State              VMState             `json:"state"`
	OSType             string              `json:"os_type"`
	MemoryMB           int                 `json:"memory_mb"`
	CPUCount           int                 `json:"cpu_count"`
	FirmwareType       string              `json:"firmware,omitempty"`
	StorageControllers []StorageController `json:"storage_controllers"`
	NetworkAdapters    []NetworkAdapter    `json:"network_adapters"`
	CurrentSnapshot    string              `json:"current_snapshot,omitempty"`
	SnapshotCount      int                 `json:"snapshot_count"`
}

// StorageController groups the attachments behind one controller name.
type StorageController struct {
	Name        string              `json:"name"`
	Bus         string              `json:"bus,omitempty"`
	Attachments []StorageAttachment `json:"attachments"`
}

// StorageAttachment is a (controller, port, device) triple pointing at a
// medium.
type StorageAttachment struct {
	Controller string `json:"controller"`
	Port       int    `json:"port"`
	Device     int    `json:"device"`
	Medium     string `json:"medium"`
	MediumUUID string `json:"medium_uuid,omitempty"`
}

// NetworkAdapter describes one adapter slot (0-7 on VirtualBox).
type NetworkAdapter struct {
	Slot          int         `json:"slot"`
	Mode          NetworkMode `json:"mode"`
	Type          string      `json:"type,omitempty"`
	MAC           string      `json:"mac,omitempty"`
	HostInterface string      `json:"host_interface,omitempty"`
	NetworkName   string      `json:"network_name,omitempty"`
	Cable         bool        `json:"cable_connected"`
}

// AdapterConfig carries the requested settings for a single adapter slot.
// Zero-value fields other than Slot and Mode are left unchanged.
type AdapterConfig struct {
	Slot          int
	Mode          NetworkMode
	Type          string
	MAC           string
	HostInterface string
	NetworkName   string
}

// Snapshot is one node of a VM's snapshot tree.
type Snapshot struct {
	ID          string     `json:"snapshot_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Current     bool       `json:"current"`
	Children    []Snapshot `json:"children,omitempty"`
}

// CreateSpec describes a new VM to be created and registered.
type CreateSpec struct {
	Name        string
	OSType      string
	MemoryMB    int
	CPUCount    int
	DiskSizeGB  int
	NetworkMode NetworkMode
}

// DiskMedium is one entry of the host's registered disk media.
type DiskMedium struct {
	UUID       string `json:"uuid"`
	Location   string `json:"location"`
	Format     string `json:"format,omitempty"`
	SizeMB     int64  `json:"size_mb,omitempty"`
	State      string `json:"state,omitempty"`
	AttachedTo string `json:"attached_to,omitempty"`
}

// MetricSample is one instantaneous reading of a VM's resource usage.
type MetricSample struct {
	VMID         string    `json:"vm_id"`
	Timestamp    time.Time `json:"timestamp"`
	CPUPct       float64   `json:"cpu_pct"`
	MemUsedMB    float64   `json:"mem_used_mb"`
	DiskReadBps  float64   `json:"disk_read_bps"`
	DiskWriteBps float64   `json:"disk_write_bps"`
	NetRxBps     float64   `json:"net_rx_bps"`
	NetTxBps     float64   `json:"net_tx_bps"`
}

// OSType is one guest OS type known to the hypervisor.
type OSType struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Is64Bit     bool   `json:"is_64bit"`
}

// HostInfo is a summary of the hypervisor host.
type HostInfo struct {
	ProcessorCount  int     `json:"processor_count"`
	ProcessorOnline int     `json:"processor_online,omitempty"`
	MemoryTotalMB   int64   `json:"memory_total_mb"`
	MemoryFreeMB    int64   `json:"memory_free_mb"`
	OSName          string  `json:"os_name,omitempty"`
	OSVersion       string  `json:"os_version,omitempty"`
	CPULoadPct      float64 `json:"cpu_load_pct,omitempty"`
}
