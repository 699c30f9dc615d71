package mcp

import (
	"context"

	"vbox-mcp/internal/ops"
	"vbox-mcp/internal/provider"
)

func (s *Server) registerOperationTools() {
	operationIDField := Field{
		Name:        "operation_id",
		Type:        TypeString,
		Required:    true,
		MaxLen:      64,
		Description: "Operation id returned by a long-running tool call.",
	}

	s.registry.register(&Tool{
		Name:        "operation_status",
		Description: "Check the state and result of a long-running operation.",
		Category:    "operations",
		Class:       ClassRead,
		Fields:      []Field{operationIDField},
		Handler:     s.handleOperationStatus,
	})

	s.registry.register(&Tool{
		Name:        "operation_cancel",
		Description: "Request cancellation of a running operation. Best effort: committed hypervisor side effects remain.",
		Category:    "operations",
		Class:       ClassRead,
		Fields:      []Field{operationIDField},
		Handler:     s.handleOperationCancel,
	})

	s.registry.register(&Tool{
		Name:        "operation_list",
		Description: "List all operations tracked in this session.",
		Category:    "operations",
		Class:       ClassRead,
		Handler:     s.handleOperationList,
	})
}

func operationView(v ops.View) map[string]any {
	out := map[string]any{
		"operation_id": v.ID,
		"tool_name":    v.Tool,
		"state":        string(v.State),
		"started_at":   v.StartedAt,
	}
	if !v.FinishedAt.IsZero() {
		out["finished_at"] = v.FinishedAt
	}
	if v.Result != nil {
		out["result"] = v.Result
	}
	if v.Error != nil {
		out["error_kind"] = string(provider.KindOf(v.Error))
		out["error"] = v.Error.Error()
	}
	return out
}

func (s *Server) handleOperationStatus(ctx context.Context, args Args) (any, error) {
	id := args.String("operation_id")
	v, ok := s.coord.Get(id)
	if !ok {
		return nil, provider.Errorf(provider.KindInvalidArguments,
			"unknown operation id %q", id)
	}
	return operationView(v), nil
}

func (s *Server) handleOperationCancel(ctx context.Context, args Args) (any, error) {
	id := args.String("operation_id")
	if _, ok := s.coord.Get(id); !ok {
		return nil, provider.Errorf(provider.KindInvalidArguments,
			"unknown operation id %q", id)
	}
	observed := s.coord.Cancel(id)
	v, _ := s.coord.Get(id)
	return map[string]any{
		"operation_id": id,
		"cancelled":    observed,
		"state":        string(v.State),
	}, nil
}

func (s *Server) handleOperationList(ctx context.Context, args Args) (any, error) {
	views := s.coord.List()
	items := make([]map[string]any, 0, len(views))
	for _, v := range views {
		items = append(items, operationView(v))
	}
	return map[string]any{
		"operations": items,
		"count":      len(items),
	}, nil
}
