package mcp

import (
	"context"

	"vbox-mcp/internal/provider"
)

func (s *Server) registerVMManagement() {
	s.registry.register(&Tool{
		Name:        "vm_management",
		Description: "Manage virtual machine lifecycle: list, create, start, stop, delete, clone, reset, pause, resume, and inspect VMs.",
		Category:    "vm",
		Actions: []*Action{
			{
				Name:        "list",
				Description: "List all registered virtual machines with their states.",
				Class:       ClassRead,
				Handler:     s.handleVMList,
			},
			{
				Name:        "info",
				Description: "Get full configuration and current state of a VM.",
				Class:       ClassRead,
				Fields:      []Field{vmNameField()},
				Handler:     s.handleVMInfo,
			},
			{
				Name:        "create",
				Description: "Create and register a new VM with a boot disk.",
				Class:       ClassGlobalMutating,
				LongRunning: true,
				Fields: []Field{
					vmNameField(),
					{Name: "os_type", Type: TypeString, Default: "Ubuntu_64",
						Description: "Guest OS type id (see system_management action=list_ostypes)."},
					{Name: "memory_mb", Type: TypeInteger, Default: 2048, Min: IntPtr(4), Max: IntPtr(1048576),
						Description: "RAM in MB."},
					{Name: "cpu_count", Type: TypeInteger, Default: 1, Min: IntPtr(1), Max: IntPtr(64),
						Description: "Number of virtual CPUs."},
					{Name: "disk_size_gb", Type: TypeInteger, Default: 10, Min: IntPtr(0), Max: IntPtr(65536),
						Description: "Boot disk size in GB; 0 skips disk creation."},
					{Name: "network_mode", Type: TypeString, Default: "nat",
						Enum:        []string{"nat", "bridged", "hostonly", "internal", "natnetwork", "none"},
						Description: "Attachment mode for the first network adapter."},
					timeoutField(),
				},
				Handler: s.handleVMCreate,
			},
			{
				Name:        "start",
				Description: "Start a VM and wait until it is running.",
				Class:       ClassVMMutating,
				Fields: []Field{
					vmNameField(),
					{Name: "mode", Type: TypeString, Default: "headless",
						Enum:        []string{"headless", "gui", "separate"},
						Description: "Console mode."},
					timeoutField(),
				},
				Handler: s.handleVMStart,
			},
			{
				Name:        "stop",
				Description: "Stop a running VM and wait until it settles.",
				Class:       ClassVMMutating,
				Fields: []Field{
					vmNameField(),
					{Name: "style", Type: TypeString, Default: "acpi",
						Enum:        []string{"acpi", "force", "save"},
						Description: "acpi sends the power button, force cuts power, save suspends to disk."},
					timeoutField(),
				},
				Handler: s.handleVMStop,
			},
			{
				Name:        "reset",
				Description: "Hard-reset a running VM.",
				Class:       ClassVMMutating,
				Fields:      []Field{vmNameField()},
				Handler:     s.handleVMReset,
			},
			{
				Name:        "pause",
				Description: "Pause a running VM.",
				Class:       ClassVMMutating,
				Fields:      []Field{vmNameField()},
				Handler:     s.handleVMPause,
			},
			{
				Name:        "resume",
				Description: "Resume a paused VM.",
				Class:       ClassVMMutating,
				Fields:      []Field{vmNameField()},
				Handler:     s.handleVMResume,
			},
			{
				Name:        "delete",
				Description: "Unregister a VM, optionally deleting its disks.",
				Class:       ClassVMMutating,
				Fields: []Field{
					vmNameField(),
					{Name: "delete_disks", Type: TypeBoolean, Default: false,
						Description: "Also delete the attached disk images."},
				},
				Handler: s.handleVMDelete,
			},
			{
				Name:        "clone",
				Description: "Clone a VM into a new machine.",
				Class:       ClassGlobalMutating,
				LongRunning: true,
				Fields: []Field{
					vmNameField(),
					{Name: "clone_name", Type: TypeString, Required: true, MaxLen: 256,
						Description: "Name for the new VM."},
					{Name: "mode", Type: TypeString, Default: "full",
						Enum:        []string{"linked", "full"},
						Description: "linked shares base disks via a snapshot, full copies everything."},
					timeoutField(),
				},
				Handler: s.handleVMClone,
			},
		},
	})
}

func (s *Server) handleVMList(ctx context.Context, args Args) (any, error) {
	vms, err := s.mgr.ListVMs(ctx)
	if err != nil {
		return nil, err
	}
	return vmSummaryList(vms), nil
}

func (s *Server) handleVMInfo(ctx context.Context, args Args) (any, error) {
	info, err := s.mgr.GetVMInfo(ctx, args.String("vm_name"))
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Server) handleVMCreate(ctx context.Context, args Args) (any, error) {
	ctx, cancel := s.withTimeout(ctx, args)
	defer cancel()

	spec := provider.CreateSpec{
		Name:        args.String("vm_name"),
		OSType:      args.String("os_type"),
		MemoryMB:    args.Int("memory_mb"),
		CPUCount:    args.Int("cpu_count"),
		DiskSizeGB:  args.Int("disk_size_gb"),
		NetworkMode: provider.NetworkMode(args.String("network_mode")),
	}
	vmID, err := s.mgr.CreateVM(ctx, spec)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"vm_id":   vmID,
		"name":    spec.Name,
	}, nil
}

func (s *Server) handleVMStart(ctx context.Context, args Args) (any, error) {
	ctx, cancel := s.withTimeout(ctx, args)
	defer cancel()

	name := args.String("vm_name")
	if err := s.mgr.StartVM(ctx, name, provider.StartMode(args.String("mode"))); err != nil {
		return nil, err
	}
	return map[string]any{
		"started": true,
		"vm_name": name,
	}, nil
}

func (s *Server) handleVMStop(ctx context.Context, args Args) (any, error) {
	ctx, cancel := s.withTimeout(ctx, args)
	defer cancel()

	name := args.String("vm_name")
	style := args.String("style")
	if err := s.mgr.StopVM(ctx, name, provider.StopStyle(style)); err != nil {
		return nil, err
	}
	return map[string]any{
		"stopped": true,
		"vm_name": name,
		"style":   style,
	}, nil
}

func (s *Server) handleVMReset(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	if err := s.mgr.ResetVM(ctx, name); err != nil {
		return nil, err
	}
	return map[string]any{"reset": true, "vm_name": name}, nil
}

func (s *Server) handleVMPause(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	if err := s.mgr.PauseVM(ctx, name); err != nil {
		return nil, err
	}
	return map[string]any{"paused": true, "vm_name": name}, nil
}

func (s *Server) handleVMResume(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	if err := s.mgr.ResumeVM(ctx, name); err != nil {
		return nil, err
	}
	return map[string]any{"resumed": true, "vm_name": name}, nil
}

func (s *Server) handleVMDelete(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	withDisks := args.Bool("delete_disks")
	if err := s.mgr.DeleteVM(ctx, name, withDisks); err != nil {
		return nil, err
	}
	return map[string]any{
		"deleted":      true,
		"vm_name":      name,
		"delete_disks": withDisks,
	}, nil
}

func (s *Server) handleVMClone(ctx context.Context, args Args) (any, error) {
	ctx, cancel := s.withTimeout(ctx, args)
	defer cancel()

	src := args.String("vm_name")
	dst := args.String("clone_name")
	vmID, err := s.mgr.CloneVM(ctx, src, dst, provider.CloneMode(args.String("mode")))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"cloned":     true,
		"source":     src,
		"clone_name": dst,
		"vm_id":      vmID,
	}, nil
}
