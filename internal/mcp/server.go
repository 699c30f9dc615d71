package mcp

import (
	"context"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"vbox-mcp/internal/config"
	"vbox-mcp/internal/ops"
	"vbox-mcp/internal/provider"
	"vbox-mcp/internal/store"
	"vbox-mcp/internal/telemetry"
)

// Version is the server version advertised in the MCP handshake.
const Version = "0.3.0"

// Server wraps an MCP server exposing hypervisor management tools over
// stdio.
type Server struct {
	cfg       *config.Config
	mgr       provider.Manager
	coord     *ops.Coordinator
	registry  *Registry
	store     store.Store
	telemetry telemetry.Service
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer wires the registry, coordinator, and backend manager into an
// MCP server. In degraded mode (hypervisor binary missing) only tools
// with a read surface are advertised.
func NewServer(cfg *config.Config, mgr provider.Manager, coord *ops.Coordinator, st store.Store, tele telemetry.Service, logger *slog.Logger) *Server {
	if st == nil {
		st = store.NewNoop()
	}
	if tele == nil {
		tele = telemetry.NewNoopService()
	}
	s := &Server{
		cfg:       cfg,
		mgr:       mgr,
		coord:     coord,
		store:     st,
		telemetry: tele,
		logger:    logger,
	}
	s.registry = NewRegistry(coord, func() bool { return !mgr.Available() })
	s.registerTools()

	coord.SetFinishHook(func(v ops.View) {
		rec := &store.OperationRecord{
			OperationID: v.ID,
			Tool:        v.Tool,
			State:       string(v.State),
			StartedAt:   v.StartedAt,
			FinishedAt:  v.FinishedAt,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.store.RecordOperation(context.Background(), rec); err != nil {
			s.logger.Debug("audit operation record failed", "error", err)
		}
	})

	s.mcpServer = server.NewMCPServer("vbox-mcp", Version,
		server.WithToolCapabilities(false),
	)
	for _, t := range s.registry.List() {
		s.mcpServer.AddTool(buildMCPTool(t), s.dispatch(t.Name))
	}
	if !mgr.Available() {
		logger.Warn("hypervisor CLI not found; serving read-only tools",
			"backend", mgr.Name(),
		)
	}
	return s
}

// Serve starts the MCP server on stdio. Blocks until the connection
// closes; stdout carries the RPC channel, all logs go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// dispatch adapts one registry tool into an mcp-go handler: it routes
// the raw arguments through validation and dispatch, records the
// invocation, and serializes the outcome.
func (s *Server) dispatch(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := request.GetArguments()
		action, _ := raw["action"].(string)
		start := time.Now()

		s.logger.Info("tool call", "tool_name", name, "action", action)
		result, err := s.registry.Call(ctx, name, raw)
		duration := time.Since(start)

		s.recordInvocation(ctx, name, action, err, duration)

		if err != nil {
			s.logger.Warn("tool call failed",
				"tool_name", name,
				"action", action,
				"error_kind", string(provider.KindOf(err)),
				"duration_ms", duration.Milliseconds(),
				"error", err,
			)
			return errorResult(err, s.logger)
		}

		s.logger.Info("tool call succeeded",
			"tool_name", name,
			"action", action,
			"duration_ms", duration.Milliseconds(),
		)
		return jsonResult(result)
	}
}

func (s *Server) recordInvocation(ctx context.Context, tool, action string, callErr error, duration time.Duration) {
	inv := &store.ToolInvocation{
		Tool:       tool,
		Action:     action,
		OK:         callErr == nil,
		DurationMS: duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if callErr != nil {
		inv.ErrorKind = string(provider.KindOf(callErr))
	}
	if err := s.store.RecordInvocation(ctx, inv); err != nil {
		s.logger.Debug("audit invocation record failed", "error", err)
	}

	s.telemetry.Track("mcp_tool_call", map[string]any{
		"tool_name": tool,
		"action":    action,
		"success":   callErr == nil,
	})
}

// buildMCPTool generates the advertised JSON schema from a descriptor.
// Multi-action tools expose the action enum plus the union of their
// action fields; per-action requirements are enforced by the validator
// after action resolution, so union fields advertise as optional.
func buildMCPTool(t *Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description)}

	if t.multiAction() {
		names := t.actionNames()
		enumVals := make([]string, len(names))
		copy(enumVals, names)
		opts = append(opts, mcp.WithString("action",
			mcp.Required(),
			mcp.Description("The operation to perform."),
			mcp.Enum(enumVals...),
		))
		seen := map[string]bool{"action": true}
		for _, a := range t.Actions {
			for _, f := range a.Fields {
				if seen[f.Name] {
					continue
				}
				seen[f.Name] = true
				opts = append(opts, fieldOption(f, false))
			}
		}
		return mcp.NewTool(t.Name, opts...)
	}

	for _, f := range t.Fields {
		opts = append(opts, fieldOption(f, f.Required))
	}
	return mcp.NewTool(t.Name, opts...)
}

func fieldOption(f Field, required bool) mcp.ToolOption {
	var propOpts []mcp.PropertyOption
	if required {
		propOpts = append(propOpts, mcp.Required())
	}
	if f.Description != "" {
		propOpts = append(propOpts, mcp.Description(f.Description))
	}
	switch f.Type {
	case TypeString:
		if len(f.Enum) > 0 {
			propOpts = append(propOpts, mcp.Enum(f.Enum...))
		}
		return mcp.WithString(f.Name, propOpts...)
	case TypeInteger, TypeNumber:
		return mcp.WithNumber(f.Name, propOpts...)
	case TypeBoolean:
		return mcp.WithBoolean(f.Name, propOpts...)
	case TypeObject:
		return mcp.WithObject(f.Name, propOpts...)
	default:
		return mcp.WithString(f.Name, propOpts...)
	}
}
