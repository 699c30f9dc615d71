package vbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vbox-mcp/internal/provider"
)

func TestParseMachineReadable(t *testing.T) {
	out := `name="web-1"
UUID="c9d1a0f0-1111-2222-3333-444455556666"
VMState="running"
memory=2048
"SATA-0-0"="/vms/web-1/web-1.vdi"
nic1="nat"
description=""
`
	props := parseMachineReadable(out)
	assert.Equal(t, "web-1", props["name"])
	assert.Equal(t, "c9d1a0f0-1111-2222-3333-444455556666", props["UUID"])
	assert.Equal(t, "running", props["VMState"])
	assert.Equal(t, "2048", props["memory"])
	assert.Equal(t, "/vms/web-1/web-1.vdi", props["SATA-0-0"])
	assert.Equal(t, "", props["description"])
}

func TestStateFromVBox(t *testing.T) {
	cases := map[string]provider.VMState{
		"poweroff":        provider.StatePoweroff,
		"powered off":     provider.StatePoweroff,
		"running":         provider.StateRunning,
		"saved":           provider.StateSaved,
		"paused":          provider.StatePaused,
		"aborted":         provider.StateAborted,
		"guru meditation": provider.StateStuck,
		"starting":        provider.StateStarting,
		"restoring":       provider.StateRestoring,
		"bogus":           provider.StateUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, stateFromVBox(raw), raw)
	}
}

func TestParseVMList(t *testing.T) {
	out := `"alpha" {11111111-2222-3333-4444-555555555555}
"beta vm" {66666666-7777-8888-9999-aaaaaaaaaaaa}
`
	vms := parseVMList(out)
	require.Len(t, vms, 2)
	assert.Equal(t, "alpha", vms[0].Name)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", vms[0].ID)
	assert.Equal(t, "beta vm", vms[1].Name)
}

func TestParseVMListLong(t *testing.T) {
	out := `Name:            alpha
UUID:            11111111-2222-3333-4444-555555555555
State:           powered off (since 2026-07-01T10:00:00.000000000)

Name:            beta
UUID:            66666666-7777-8888-9999-aaaaaaaaaaaa
State:           running (since 2026-07-01T11:00:00.000000000)
`
	vms := parseVMListLong(out)
	require.Len(t, vms, 2)
	assert.Equal(t, provider.StatePoweroff, vms[0].State)
	assert.Equal(t, provider.StateRunning, vms[1].State)
}

func TestParseVMInfo(t *testing.T) {
	out := `name="web-1"
UUID="c9d1a0f0-1111-2222-3333-444455556666"
VMState="running"
ostype="Ubuntu_64"
memory=2048
cpus=2
firmware="BIOS"
storagecontrollername0="SATA"
storagecontrollertype0="IntelAhci"
"SATA-0-0"="/vms/web-1/web-1.vdi"
"SATA-ImageUUID-0-0"="aaaa0000-1111-2222-3333-444455556666"
"SATA-1-0"="none"
nic1="nat"
nictype1="82540EM"
macaddress1="080027AABBCC"
cableconnected1="on"
nic2="bridged"
bridgeadapter2="eth0"
nic3="none"
CurrentSnapshotName="base"
SnapshotCount=1
`
	info, err := parseVMInfo(out)
	require.NoError(t, err)
	assert.Equal(t, "web-1", info.Name)
	assert.Equal(t, provider.StateRunning, info.State)
	assert.Equal(t, "Ubuntu_64", info.OSType)
	assert.Equal(t, 2048, info.MemoryMB)
	assert.Equal(t, 2, info.CPUCount)
	assert.Equal(t, "base", info.CurrentSnapshot)
	assert.Equal(t, 1, info.SnapshotCount)

	require.Len(t, info.StorageControllers, 1)
	sc := info.StorageControllers[0]
	assert.Equal(t, "SATA", sc.Name)
	require.Len(t, sc.Attachments, 1)
	assert.Equal(t, 0, sc.Attachments[0].Port)
	assert.Equal(t, "/vms/web-1/web-1.vdi", sc.Attachments[0].Medium)
	assert.Equal(t, "aaaa0000-1111-2222-3333-444455556666", sc.Attachments[0].MediumUUID)

	require.Len(t, info.NetworkAdapters, 3)
	assert.Equal(t, provider.NetworkNAT, info.NetworkAdapters[0].Mode)
	assert.True(t, info.NetworkAdapters[0].Cable)
	assert.Equal(t, provider.NetworkBridged, info.NetworkAdapters[1].Mode)
	assert.Equal(t, "eth0", info.NetworkAdapters[1].HostInterface)
	assert.Equal(t, provider.NetworkNone, info.NetworkAdapters[2].Mode)
}

func TestParseVMInfoMissingKeys(t *testing.T) {
	_, err := parseVMInfo(`memory=2048`)
	require.Error(t, err)
	assert.Equal(t, provider.KindAdapterParseError, provider.KindOf(err))
}

func TestParseSnapshotTree(t *testing.T) {
	out := `SnapshotName="base"
SnapshotUUID="00000000-0000-0000-0000-000000000001"
SnapshotDescription="clean install"
SnapshotName-1="patched"
SnapshotUUID-1="00000000-0000-0000-0000-000000000002"
SnapshotName-1-1="configured"
SnapshotUUID-1-1="00000000-0000-0000-0000-000000000003"
SnapshotName-2="experiment"
SnapshotUUID-2="00000000-0000-0000-0000-000000000004"
CurrentSnapshotName="configured"
CurrentSnapshotUUID="00000000-0000-0000-0000-000000000003"
CurrentSnapshotNode="SnapshotName-1-1"
`
	root := parseSnapshotTree(out)
	require.NotNil(t, root)
	assert.Equal(t, "base", root.Name)
	assert.Equal(t, "clean install", root.Description)
	assert.False(t, root.Current)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "patched", root.Children[0].Name)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "configured", root.Children[0].Children[0].Name)
	assert.True(t, root.Children[0].Children[0].Current)
	assert.Equal(t, "experiment", root.Children[1].Name)
}

func TestParseSnapshotTreeEmpty(t *testing.T) {
	assert.Nil(t, parseSnapshotTree("This machine does not have any snapshots.\n"))
}

func TestParseHDDs(t *testing.T) {
	out := `UUID:           aaaa0000-1111-2222-3333-444455556666
Parent UUID:    base
State:          created
Location:       /vms/web-1/web-1.vdi
Storage format: VDI
Capacity:       10240 MBytes
In use by VMs:  web-1 (UUID: c9d1a0f0-1111-2222-3333-444455556666)

UUID:           bbbb0000-1111-2222-3333-444455556666
State:          created
Location:       /vms/spare.vdi
Storage format: VDI
Capacity:       2048 MBytes
`
	disks := parseHDDs(out)
	require.Len(t, disks, 2)
	assert.Equal(t, int64(10240), disks[0].SizeMB)
	assert.Equal(t, "VDI", disks[0].Format)
	assert.Contains(t, disks[0].AttachedTo, "web-1")
	assert.Equal(t, "/vms/spare.vdi", disks[1].Location)
}

func TestParseOSTypes(t *testing.T) {
	out := `ID:          Ubuntu_64
Description: Ubuntu (64-bit)

ID:          Windows10
Description: Windows 10 (32-bit)
`
	types := parseOSTypes(out)
	require.Len(t, types, 2)
	assert.True(t, types[0].Is64Bit)
	assert.False(t, types[1].Is64Bit)
}

func TestParseHostInfo(t *testing.T) {
	out := `Host Information:

Host time: 2026-07-01T10:00:00.000000000Z
Processor online count: 8
Processor count: 8
Memory size: 16384 MByte
Memory available: 9216 MByte
Operating system: Linux
Operating system version: 6.8.0
`
	info := parseHostInfo(out)
	assert.Equal(t, 8, info.ProcessorCount)
	assert.Equal(t, int64(16384), info.MemoryTotalMB)
	assert.Equal(t, int64(9216), info.MemoryFreeMB)
	assert.Equal(t, "Linux", info.OSName)
}

func TestParseMetricsAndSample(t *testing.T) {
	out := `Object     Metric               Value
vm-1       CPU/Load/User        12.50%
vm-1       CPU/Load/Kernel      3.25%
vm-1       RAM/Usage/Used       1048576kB
vm-1       Net/Rate/Rx          2048kB/s
vm-1       Net/Rate/Tx          1024B/s
`
	metrics := parseMetrics(out)
	assert.InDelta(t, 12.50, metrics["CPU/Load/User"], 0.001)
	assert.InDelta(t, 1048576, metrics["RAM/Usage/Used"], 0.001)
	assert.InDelta(t, 2048*1024, metrics["Net/Rate/Rx"], 0.001)
	assert.InDelta(t, 1024, metrics["Net/Rate/Tx"], 0.001)

	at := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	sample := sampleFromMetrics("vm-1", at, metrics)
	assert.InDelta(t, 15.75, sample.CPUPct, 0.001)
	assert.InDelta(t, 1024, sample.MemUsedMB, 0.001)
	assert.Equal(t, at, sample.Timestamp)
}

func TestParseCreatedUUIDAndSettingsFile(t *testing.T) {
	out := `Virtual machine 't1' is created and registered.
UUID: 12345678-1234-1234-1234-123456789abc
Settings file: '/home/u/VirtualBox VMs/t1/t1.vbox'
`
	assert.Equal(t, "12345678-1234-1234-1234-123456789abc", parseCreatedUUID(out))
	assert.Equal(t, "/home/u/VirtualBox VMs/t1/t1.vbox", parseSettingsFile(out))
	assert.Equal(t, "", parseCreatedUUID("no uuid here"))
}
