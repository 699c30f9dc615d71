package mcp

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

func (s *Server) registerSystemManagement() {
	s.registry.register(&Tool{
		Name:        "system_management",
		Description: "Host and hypervisor facts, guest OS type catalog, and VM metric collection.",
		Category:    "system",
		Actions: []*Action{
			{
				Name:        "host_info",
				Description: "Host facts from the hypervisor and the OS.",
				Class:       ClassRead,
				Handler:     s.handleHostInfo,
			},
			{
				Name:        "list_ostypes",
				Description: "Guest OS types the hypervisor can create.",
				Class:       ClassRead,
				Handler:     s.handleListOSTypes,
			},
			{
				Name:        "version",
				Description: "Hypervisor and server versions.",
				Class:       ClassRead,
				Handler:     s.handleVersion,
			},
			{
				Name:        "metrics_sample",
				Description: "Take one resource usage sample of a VM.",
				Class:       ClassRead,
				Fields:      []Field{vmNameField()},
				Handler:     s.handleMetricsSample,
			},
			{
				Name:        "metrics_start",
				Description: "Start (or join) background metric polling for a VM.",
				Class:       ClassRead,
				Fields: []Field{
					vmNameField(),
					{Name: "interval_seconds", Type: TypeInteger, Min: IntPtr(1), Max: IntPtr(300),
						Description: "Polling interval; defaults to the configured interval."},
				},
				Handler: s.handleMetricsStart,
			},
			{
				Name:        "metrics_stop",
				Description: "Drop one metric polling subscription for a VM.",
				Class:       ClassRead,
				Fields:      []Field{vmNameField()},
				Handler:     s.handleMetricsStop,
			},
			{
				Name:        "metrics_history",
				Description: "Read the retained metric samples for a VM.",
				Class:       ClassRead,
				Fields:      []Field{vmNameField()},
				Handler:     s.handleMetricsHistory,
			},
		},
	})
}

func (s *Server) handleHostInfo(ctx context.Context, args Args) (any, error) {
	result := map[string]any{}

	// The hypervisor view is best-effort: host facts stay available in
	// degraded mode.
	if info, err := s.mgr.HostInfo(ctx); err == nil {
		result["hypervisor"] = info
	} else {
		s.logger.Debug("hypervisor host info unavailable", "error", err)
	}

	osInfo := map[string]any{}
	if hi, err := host.InfoWithContext(ctx); err == nil {
		osInfo["hostname"] = hi.Hostname
		osInfo["os"] = hi.OS
		osInfo["platform"] = hi.Platform
		osInfo["platform_version"] = hi.PlatformVersion
		osInfo["uptime_sec"] = hi.Uptime
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		osInfo["logical_cpus"] = counts
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		osInfo["memory_total_mb"] = vm.Total / (1 << 20)
		osInfo["memory_available_mb"] = vm.Available / (1 << 20)
		osInfo["memory_used_pct"] = vm.UsedPercent
	}
	result["host"] = osInfo
	return result, nil
}

func (s *Server) handleListOSTypes(ctx context.Context, args Args) (any, error) {
	types, err := s.mgr.ListOSTypes(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ostypes": types,
		"count":   len(types),
	}, nil
}

func (s *Server) handleVersion(ctx context.Context, args Args) (any, error) {
	result := map[string]any{
		"server_version": Version,
		"backend":        s.mgr.Name(),
	}
	if v, err := s.mgr.Version(ctx); err == nil {
		result["hypervisor_version"] = v
	} else {
		s.logger.Debug("hypervisor version unavailable", "error", err)
	}
	return result, nil
}

func (s *Server) handleMetricsSample(ctx context.Context, args Args) (any, error) {
	sample, err := s.mgr.Sample(ctx, args.String("vm_name"))
	if err != nil {
		return nil, err
	}
	return sample, nil
}

func (s *Server) handleMetricsStart(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	// Resolve to the canonical id so pollers key consistently.
	info, err := s.mgr.GetVMInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	interval := time.Duration(args.Int("interval_seconds")) * time.Second
	if err := s.coord.SubscribeMetrics(info.ID, interval); err != nil {
		return nil, err
	}
	return map[string]any{
		"polling": true,
		"vm_id":   info.ID,
	}, nil
}

func (s *Server) handleMetricsStop(ctx context.Context, args Args) (any, error) {
	info, err := s.mgr.GetVMInfo(ctx, args.String("vm_name"))
	if err != nil {
		return nil, err
	}
	s.coord.UnsubscribeMetrics(info.ID)
	return map[string]any{
		"stopped": true,
		"vm_id":   info.ID,
	}, nil
}

func (s *Server) handleMetricsHistory(ctx context.Context, args Args) (any, error) {
	info, err := s.mgr.GetVMInfo(ctx, args.String("vm_name"))
	if err != nil {
		return nil, err
	}
	samples, pollErr, ok := s.coord.MetricsHistory(info.ID)
	result := map[string]any{
		"vm_id":   info.ID,
		"samples": samples,
		"count":   len(samples),
	}
	if !ok {
		result["polling"] = false
		return result, nil
	}
	result["polling"] = pollErr == nil
	if pollErr != nil {
		result["poll_error"] = pollErr.Error()
	}
	return result, nil
}
