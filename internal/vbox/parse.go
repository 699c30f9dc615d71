package vbox

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vbox-mcp/internal/provider"
)

// reKeyValue matches one line of --machinereadable output. Keys and
// values may each be bare or double-quoted.
var reKeyValue = regexp.MustCompile(`^"?([^",=]+)"?=("(.*)"|(.*))$`)

// parseMachineReadable reads key="value" lines into a map. Unrecognized
// keys are carried through untouched; callers pick the ones they know.
func parseMachineReadable(out string) map[string]string {
	props := make(map[string]string)
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		res := reKeyValue.FindStringSubmatch(strings.TrimSpace(s.Text()))
		if res == nil {
			continue
		}
		val := res[3]
		if res[2] != "" && !strings.HasPrefix(res[2], `"`) {
			val = res[4]
		}
		props[res[1]] = val
	}
	return props
}

// stateFromVBox maps VirtualBox state words (both machine-readable
// tokens and the long-listing phrases) onto the provider state set.
func stateFromVBox(raw string) provider.VMState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "poweroff", "powered off":
		return provider.StatePoweroff
	case "saved":
		return provider.StateSaved
	case "aborted":
		return provider.StateAborted
	case "running":
		return provider.StateRunning
	case "paused":
		return provider.StatePaused
	case "gurumeditation", "guru meditation", "stuck":
		return provider.StateStuck
	case "starting":
		return provider.StateStarting
	case "stopping":
		return provider.StateStopping
	case "saving":
		return provider.StateSaving
	case "restoring":
		return provider.StateRestoring
	default:
		return provider.StateUnknown
	}
}

// reVMListLine matches one line of `list vms`: "name" {uuid}.
var reVMListLine = regexp.MustCompile(`^"(.+)" \{([0-9a-fA-F-]+)\}$`)

// parseVMList reads `list vms` output into (name, uuid) pairs.
func parseVMList(out string) []provider.VMSummary {
	var vms []provider.VMSummary
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		res := reVMListLine.FindStringSubmatch(strings.TrimSpace(s.Text()))
		if res == nil {
			continue
		}
		vms = append(vms, provider.VMSummary{Name: res[1], ID: res[2]})
	}
	return vms
}

// reStorageAttachment matches attachment keys of showvminfo output,
// e.g. SATA-0-0="/path/disk.vdi". ImageUUID keys are looked up
// separately.
var reStorageAttachment = regexp.MustCompile(`^(.+)-(\d+)-(\d+)$`)

// parseVMInfo builds a VMInfo from showvminfo --machinereadable
// properties. Returns an AdapterParseError when required keys are
// missing; the raw payload travels in the error details.
func parseVMInfo(out string) (*provider.VMInfo, error) {
	props := parseMachineReadable(out)

	required := []string{"name", "UUID", "VMState"}
	var missing []string
	for _, k := range required {
		if _, ok := props[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, provider.Errorf(provider.KindAdapterParseError,
			"showvminfo output is missing required keys: %s", strings.Join(missing, ", ")).
			WithDetail("missing", missing).
			WithDetail("raw", truncateRaw(out))
	}

	info := &provider.VMInfo{
		ID:           props["UUID"],
		Name:         props["name"],
		State:        stateFromVBox(props["VMState"]),
		OSType:       props["ostype"],
		FirmwareType: props["firmware"],
	}
	if v, err := strconv.Atoi(props["memory"]); err == nil {
		info.MemoryMB = v
	}
	if v, err := strconv.Atoi(props["cpus"]); err == nil {
		info.CPUCount = v
	}
	info.CurrentSnapshot = props["CurrentSnapshotName"]
	if v, err := strconv.Atoi(props["SnapshotCount"]); err == nil {
		info.SnapshotCount = v
	}

	info.StorageControllers = parseStorageControllers(props)
	info.NetworkAdapters = parseNetworkAdapters(props)
	return info, nil
}

func parseStorageControllers(props map[string]string) []provider.StorageController {
	var controllers []provider.StorageController
	byName := make(map[string]int)
	for i := 0; ; i++ {
		name, ok := props["storagecontrollername"+strconv.Itoa(i)]
		if !ok {
			break
		}
		byName[name] = len(controllers)
		controllers = append(controllers, provider.StorageController{
			Name: name,
			Bus:  props["storagecontrollertype"+strconv.Itoa(i)],
		})
	}
	for key, medium := range props {
		if medium == "none" || medium == "emptydrive" {
			continue
		}
		if strings.Contains(key, "-ImageUUID-") || strings.Contains(key, "-IsEjected") {
			continue
		}
		res := reStorageAttachment.FindStringSubmatch(key)
		if res == nil {
			continue
		}
		idx, ok := byName[res[1]]
		if !ok {
			continue
		}
		port, _ := strconv.Atoi(res[2])
		device, _ := strconv.Atoi(res[3])
		controllers[idx].Attachments = append(controllers[idx].Attachments, provider.StorageAttachment{
			Controller: res[1],
			Port:       port,
			Device:     device,
			Medium:     medium,
			MediumUUID: props[res[1]+"-ImageUUID-"+res[2]+"-"+res[3]],
		})
	}
	return controllers
}

func parseNetworkAdapters(props map[string]string) []provider.NetworkAdapter {
	var adapters []provider.NetworkAdapter
	for n := 1; n <= 8; n++ {
		i := strconv.Itoa(n)
		raw, ok := props["nic"+i]
		if !ok {
			continue
		}
		a := provider.NetworkAdapter{
			Slot:  n - 1,
			Mode:  networkModeFromVBox(raw),
			Type:  props["nictype"+i],
			MAC:   props["macaddress"+i],
			Cable: props["cableconnected"+i] == "on",
		}
		switch a.Mode {
		case provider.NetworkBridged:
			a.HostInterface = props["bridgeadapter"+i]
		case provider.NetworkHostOnly:
			a.HostInterface = props["hostonlyadapter"+i]
		case provider.NetworkInternal:
			a.NetworkName = props["intnet"+i]
		case provider.NetworkNATNetwork:
			a.NetworkName = props["nat-network"+i]
		}
		adapters = append(adapters, a)
	}
	return adapters
}

func networkModeFromVBox(raw string) provider.NetworkMode {
	switch raw {
	case "nat":
		return provider.NetworkNAT
	case "bridged":
		return provider.NetworkBridged
	case "hostonly":
		return provider.NetworkHostOnly
	case "intnet":
		return provider.NetworkInternal
	case "natnetwork":
		return provider.NetworkNATNetwork
	default:
		return provider.NetworkNone
	}
}

// vboxNICArg maps a provider mode back to the modifyvm --nicN argument.
func vboxNICArg(mode provider.NetworkMode) string {
	switch mode {
	case provider.NetworkInternal:
		return "intnet"
	case provider.NetworkNone:
		return "none"
	default:
		return string(mode)
	}
}

// parseSnapshotTree builds the snapshot tree from
// `snapshot <vm> list --machinereadable` output. Node positions are
// encoded in key suffixes: SnapshotName, SnapshotName-1, SnapshotName-1-2.
func parseSnapshotTree(out string) *provider.Snapshot {
	props := parseMachineReadable(out)
	if _, ok := props["SnapshotName"]; !ok {
		return nil
	}
	currentUUID := props["CurrentSnapshotUUID"]
	root := buildSnapshotNode(props, "", currentUUID)
	return root
}

func buildSnapshotNode(props map[string]string, suffix, currentUUID string) *provider.Snapshot {
	node := &provider.Snapshot{
		Name:        props["SnapshotName"+suffix],
		ID:          props["SnapshotUUID"+suffix],
		Description: props["SnapshotDescription"+suffix],
	}
	node.Current = node.ID != "" && node.ID == currentUUID
	for i := 1; ; i++ {
		childSuffix := suffix + "-" + strconv.Itoa(i)
		if _, ok := props["SnapshotName"+childSuffix]; !ok {
			break
		}
		node.Children = append(node.Children, *buildSnapshotNode(props, childSuffix, currentUUID))
	}
	return node
}

// reStanzaField matches one "Key:   value" line of long-format listings.
var reStanzaField = regexp.MustCompile(`^([A-Za-z0-9 ()/_-]+):\s+(.*)$`)

// parseStanzas splits blank-line-separated long-format output into field
// maps. Keys keep their original capitalization.
func parseStanzas(out string) []map[string]string {
	var stanzas []map[string]string
	current := make(map[string]string)
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		line := s.Text()
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				stanzas = append(stanzas, current)
				current = make(map[string]string)
			}
			continue
		}
		if res := reStanzaField.FindStringSubmatch(line); res != nil {
			current[strings.TrimSpace(res[1])] = strings.TrimSpace(res[2])
		}
	}
	if len(current) > 0 {
		stanzas = append(stanzas, current)
	}
	return stanzas
}

// parseVMListLong reads `list vms --long` into summaries with states.
func parseVMListLong(out string) []provider.VMSummary {
	var vms []provider.VMSummary
	for _, st := range parseStanzas(out) {
		name, ok := st["Name"]
		if !ok {
			continue
		}
		uuid := st["UUID"]
		if uuid == "" {
			uuid = st["Hardware UUID"]
		}
		if uuid == "" {
			continue
		}
		state := st["State"]
		// Long output appends "(since ...)" to the state word.
		if i := strings.Index(state, "(since"); i > 0 {
			state = state[:i]
		}
		vms = append(vms, provider.VMSummary{
			Name:  name,
			ID:    uuid,
			State: stateFromVBox(state),
		})
	}
	return vms
}

// parseHDDs reads `list hdds` stanzas into disk media.
func parseHDDs(out string) []provider.DiskMedium {
	var disks []provider.DiskMedium
	for _, st := range parseStanzas(out) {
		uuid, ok := st["UUID"]
		if !ok {
			continue
		}
		d := provider.DiskMedium{
			UUID:       uuid,
			Location:   st["Location"],
			Format:     st["Storage format"],
			State:      st["State"],
			AttachedTo: st["In use by VMs"],
		}
		if capacity, ok := st["Capacity"]; ok {
			// "10240 MBytes"
			if fields := strings.Fields(capacity); len(fields) > 0 {
				if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
					d.SizeMB = v
				}
			}
		}
		disks = append(disks, d)
	}
	return disks
}

// parseOSTypes reads `list ostypes` stanzas.
func parseOSTypes(out string) []provider.OSType {
	var types []provider.OSType
	for _, st := range parseStanzas(out) {
		id, ok := st["ID"]
		if !ok {
			continue
		}
		types = append(types, provider.OSType{
			ID:          id,
			Description: st["Description"],
			Is64Bit:     strings.HasSuffix(id, "_64"),
		})
	}
	return types
}

// parseHostInfo reads `list hostinfo` output.
func parseHostInfo(out string) *provider.HostInfo {
	info := &provider.HostInfo{}
	for _, st := range parseStanzas(out) {
		if v, ok := st["Processor count"]; ok {
			info.ProcessorCount, _ = strconv.Atoi(v)
		}
		if v, ok := st["Processor online count"]; ok {
			info.ProcessorOnline, _ = strconv.Atoi(v)
		}
		if v, ok := st["Memory size"]; ok {
			info.MemoryTotalMB = parseMByteField(v)
		}
		if v, ok := st["Memory available"]; ok {
			info.MemoryFreeMB = parseMByteField(v)
		}
		if v, ok := st["Operating system"]; ok {
			info.OSName = v
		}
		if v, ok := st["Operating system version"]; ok {
			info.OSVersion = v
		}
	}
	return info
}

func parseMByteField(v string) int64 {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0
	}
	n, _ := strconv.ParseInt(fields[0], 10, 64)
	return n
}

// reMetricLine matches one data row of `metrics query` output:
// object, metric name, value.
var reMetricLine = regexp.MustCompile(`^(\S+)\s+(\S+)\s+(\S+)\s*$`)

// parseMetrics reads `metrics query` output into metric-name -> numeric
// value. Unit suffixes (%, kB, B/s) are stripped.
func parseMetrics(out string) map[string]float64 {
	metrics := make(map[string]float64)
	s := bufio.NewScanner(strings.NewReader(out))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "Object") {
			continue
		}
		res := reMetricLine.FindStringSubmatch(line)
		if res == nil {
			continue
		}
		raw := res[3]
		mult := 1.0
		switch {
		case strings.HasSuffix(raw, "%"):
			raw = strings.TrimSuffix(raw, "%")
		case strings.HasSuffix(raw, "kB/s"):
			raw = strings.TrimSuffix(raw, "kB/s")
			mult = 1024
		case strings.HasSuffix(raw, "B/s"):
			raw = strings.TrimSuffix(raw, "B/s")
		case strings.HasSuffix(raw, "kB"):
			raw = strings.TrimSuffix(raw, "kB")
		case strings.HasSuffix(raw, "MB"):
			raw = strings.TrimSuffix(raw, "MB")
			mult = 1024
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		metrics[res[2]] = v * mult
	}
	return metrics
}

// sampleFromMetrics assembles a MetricSample from the known VirtualBox
// metric names. RAM usage arrives in kB; it is normalized to MB.
func sampleFromMetrics(vmID string, at time.Time, metrics map[string]float64) *provider.MetricSample {
	sample := &provider.MetricSample{VMID: vmID, Timestamp: at}
	sample.CPUPct = metrics["CPU/Load/User"] + metrics["CPU/Load/Kernel"]
	if v, ok := metrics["RAM/Usage/Used"]; ok {
		sample.MemUsedMB = v / 1024
	}
	sample.DiskReadBps = metrics["Disk/Load/Read"]
	sample.DiskWriteBps = metrics["Disk/Load/Write"]
	sample.NetRxBps = metrics["Net/Rate/Rx"]
	sample.NetTxBps = metrics["Net/Rate/Tx"]
	return sample
}

// reCreatedUUID extracts the UUID VBoxManage prints after creating an
// object ("UUID: <uuid>" or "...created. UUID: <uuid>").
var reCreatedUUID = regexp.MustCompile(`UUID: ([0-9a-fA-F-]{36})`)

func parseCreatedUUID(out string) string {
	res := reCreatedUUID.FindStringSubmatch(out)
	if res == nil {
		return ""
	}
	return res[1]
}

// reSettingsFile extracts the settings file path from createvm output.
var reSettingsFile = regexp.MustCompile(`Settings file: '(.+)'`)

func parseSettingsFile(out string) string {
	res := reSettingsFile.FindStringSubmatch(out)
	if res == nil {
		return ""
	}
	return res[1]
}

func truncateRaw(s string) string {
	const max = 2048
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
