package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"vbox-mcp/internal/provider"
)

// jsonResult marshals v to JSON and returns it as a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorEnvelope is the stable error shape clients receive. Tool failures
// travel in the result payload with IsError set; the JSON-RPC error
// field stays reserved for protocol-level failures.
type errorEnvelope struct {
	ErrorKind     string         `json:"error_kind"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// errorResult serializes err into the envelope. Internal errors are
// logged with a correlation id and surfaced without their cause: no
// stack traces or internal paths cross the boundary.
func errorResult(err error, logger *slog.Logger) (*mcp.CallToolResult, error) {
	kind := provider.KindOf(err)
	env := errorEnvelope{ErrorKind: string(kind)}

	var pe *provider.Error
	if ok := errors.As(err, &pe); ok && kind != provider.KindInternal {
		env.Message = pe.Message
		env.Details = pe.Details
	} else if kind != provider.KindInternal {
		env.Message = err.Error()
	} else {
		env.CorrelationID = uuid.NewString()
		env.Message = "an internal error occurred; see the server log"
		logger.Error("internal error",
			"correlation_id", env.CorrelationID,
			"error", err,
		)
	}
	// AdapterParseError is an implementation detail; clients see a
	// hypervisor failure with the parse context preserved in details.
	if kind == provider.KindAdapterParseError {
		env.ErrorKind = string(provider.KindHypervisorError)
	}

	data, merr := json.Marshal(env)
	if merr != nil {
		return nil, fmt.Errorf("marshal error envelope: %w", merr)
	}
	result := mcp.NewToolResultText(string(data))
	result.IsError = true
	return result, nil
}
