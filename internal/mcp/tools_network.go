package mcp

import (
	"context"

	"vbox-mcp/internal/provider"
)

func (s *Server) registerNetworkManagement() {
	s.registry.register(&Tool{
		Name:        "network_management",
		Description: "Inspect and configure VM network adapters (slots 0-7).",
		Category:    "network",
		Actions: []*Action{
			{
				Name:        "list_adapters",
				Description: "List the VM's network adapters and their modes.",
				Class:       ClassRead,
				Fields:      []Field{vmNameField()},
				Handler:     s.handleAdapterList,
			},
			{
				Name:        "configure_adapter",
				Description: "Reconfigure one adapter slot. The VM must not be running.",
				Class:       ClassVMMutating,
				Fields: []Field{
					vmNameField(),
					{Name: "slot", Type: TypeInteger, Required: true, Min: IntPtr(0), Max: IntPtr(7),
						Description: "Adapter slot index."},
					{Name: "mode", Type: TypeString, Required: true,
						Enum:        []string{"nat", "bridged", "hostonly", "internal", "natnetwork", "none"},
						Description: "Attachment mode."},
					{Name: "adapter_type", Type: TypeString, MaxLen: 64,
						Description: "Emulated NIC hardware (e.g. 82540EM, virtio)."},
					{Name: "mac", Type: TypeString, MaxLen: 17,
						Description: "MAC address override."},
					{Name: "host_interface", Type: TypeString, MaxLen: 128,
						Description: "Host interface for bridged/hostonly modes."},
					{Name: "network_name", Type: TypeString, MaxLen: 128,
						Description: "Network name for internal/natnetwork modes."},
				},
				Handler: s.handleAdapterConfigure,
			},
		},
	})
}

func (s *Server) handleAdapterList(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	adapters, err := s.mgr.ListAdapters(ctx, name)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"vm_name":  name,
		"adapters": adapters,
		"count":    len(adapters),
	}, nil
}

func (s *Server) handleAdapterConfigure(ctx context.Context, args Args) (any, error) {
	name := args.String("vm_name")
	cfg := provider.AdapterConfig{
		Slot:          args.Int("slot"),
		Mode:          provider.NetworkMode(args.String("mode")),
		Type:          args.String("adapter_type"),
		MAC:           args.String("mac"),
		HostInterface: args.String("host_interface"),
		NetworkName:   args.String("network_name"),
	}
	if err := s.mgr.ConfigureAdapter(ctx, name, cfg); err != nil {
		return nil, err
	}
	return map[string]any{
		"configured": true,
		"vm_name":    name,
		"slot":       cfg.Slot,
		"mode":       string(cfg.Mode),
	}, nil
}
