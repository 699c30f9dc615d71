package mcp

import (
	"context"
	"time"

	"vbox-mcp/internal/provider"
)

// registerTools declares every tool exposed by this server. The action
// sets are closed and versioned; adding an action is a breaking change
// to a tool's contract.
func (s *Server) registerTools() {
	s.registerVMManagement()
	s.registerSnapshotManagement()
	s.registerStorageManagement()
	s.registerNetworkManagement()
	s.registerSystemManagement()
	s.registerOperationTools()
}

// vmNameField is the identifier argument shared by most actions. Either
// the VM's name or its UUID is accepted.
func vmNameField() Field {
	return Field{
		Name:        "vm_name",
		Type:        TypeString,
		Required:    true,
		Description: "Name or UUID of the virtual machine.",
		MaxLen:      256,
	}
}

// callTimeout derives the handler deadline from the optional
// timeout_seconds argument, falling back to the configured default.
func (s *Server) callTimeout(args Args) time.Duration {
	if sec := args.Int("timeout_seconds"); sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return s.cfg.Exec.DefaultTimeout
}

// withTimeout bounds a handler body with the per-call deadline.
func (s *Server) withTimeout(ctx context.Context, args Args) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout(args))
}

func timeoutField() Field {
	return Field{
		Name:        "timeout_seconds",
		Type:        TypeInteger,
		Description: "Overrides the default operation timeout.",
		Min:         IntPtr(1),
		Max:         IntPtr(3600),
	}
}

// vmSummaryList renders a listing the way clients consume it.
func vmSummaryList(vms []provider.VMSummary) map[string]any {
	items := make([]map[string]any, 0, len(vms))
	for _, vm := range vms {
		items = append(items, map[string]any{
			"vm_id": vm.ID,
			"name":  vm.Name,
			"state": string(vm.State),
		})
	}
	return map[string]any{
		"vms":   items,
		"count": len(items),
	}
}
