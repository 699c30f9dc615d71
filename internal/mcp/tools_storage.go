package mcp

import (
	"context"
)

func (s *Server) registerStorageManagement() {
	controllerField := Field{
		Name:        "controller",
		Type:        TypeString,
		Default:     "SATA",
		MaxLen:      64,
		Description: "Storage controller name.",
	}
	portField := Field{
		Name: "port", Type: TypeInteger, Default: 1, Min: IntPtr(0), Max: IntPtr(29),
		Description: "Controller port.",
	}
	deviceField := Field{
		Name: "device", Type: TypeInteger, Default: 0, Min: IntPtr(0), Max: IntPtr(1),
		Description: "Device slot on the port.",
	}

	s.registry.register(&Tool{
		Name:        "storage_management",
		Description: "Manage disk media: create, delete, and list disks, and attach or detach them from VMs.",
		Category:    "storage",
		Actions: []*Action{
			{
				Name:        "create_disk",
				Description: "Create a new disk image and register it.",
				Class:       ClassGlobalMutating,
				Fields: []Field{
					{Name: "path", Type: TypeString, Required: true, MaxLen: 4096,
						Description: "Filesystem path for the new disk image."},
					{Name: "size_mb", Type: TypeInteger, Required: true, Min: IntPtr(1), Max: IntPtr(67108864),
						Description: "Disk capacity in MB."},
					{Name: "format", Type: TypeString, Default: "VDI",
						Enum:        []string{"VDI", "VMDK", "VHD"},
						Description: "Disk image format."},
				},
				Handler: s.handleDiskCreate,
			},
			{
				Name:        "delete_disk",
				Description: "Unregister a disk image and delete its file. The disk must be detached everywhere.",
				Class:       ClassGlobalMutating,
				Fields: []Field{
					{Name: "medium", Type: TypeString, Required: true, MaxLen: 4096,
						Description: "Disk UUID or path."},
				},
				Handler: s.handleDiskDelete,
			},
			{
				Name:        "list_disks",
				Description: "List all registered disk media.",
				Class:       ClassRead,
				Handler:     s.handleDiskList,
			},
			{
				Name:        "attach_disk",
				Description: "Attach a disk to a VM storage controller slot.",
				Class:       ClassVMMutating,
				Fields: []Field{
					vmNameField(),
					controllerField,
					portField,
					deviceField,
					{Name: "medium", Type: TypeString, Required: true, MaxLen: 4096,
						Description: "Disk UUID or path to attach."},
				},
				Handler: s.handleDiskAttach,
			},
			{
				Name:        "detach_disk",
				Description: "Detach whatever medium occupies a controller slot.",
				Class:       ClassVMMutating,
				Fields: []Field{
					vmNameField(),
					controllerField,
					portField,
					deviceField,
				},
				Handler: s.handleDiskDetach,
			},
		},
	})
}

func (s *Server) handleDiskCreate(ctx context.Context, args Args) (any, error) {
	path := args.String("path")
	uuid, err := s.mgr.CreateDisk(ctx, path, int64(args.Int("size_mb")), args.String("format"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"created": true,
		"uuid":    uuid,
		"path":    path,
	}, nil
}

func (s *Server) handleDiskDelete(ctx context.Context, args Args) (any, error) {
	medium := args.String("medium")
	if err := s.mgr.DeleteDisk(ctx, medium); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true, "medium": medium}, nil
}

func (s *Server) handleDiskList(ctx context.Context, args Args) (any, error) {
	disks, err := s.mgr.ListDisks(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"disks": disks,
		"count": len(disks),
	}, nil
}

func (s *Server) handleDiskAttach(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	err := s.mgr.AttachDisk(ctx, name,
		args.String("controller"), args.Int("port"), args.Int("device"), args.String("medium"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"attached": true,
		"vm_name":  name,
		"medium":   args.String("medium"),
	}, nil
}

func (s *Server) handleDiskDetach(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	err := s.mgr.DetachDisk(ctx, name,
		args.String("controller"), args.Int("port"), args.Int("device"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"detached": true, "vm_name": name}, nil
}
