package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vbox-mcp/internal/config"
	"vbox-mcp/internal/ops"
	"vbox-mcp/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockManager implements provider.Manager with overridable funcs.
type mockManager struct {
	available bool

	listVMsFn    func(ctx context.Context) ([]provider.VMSummary, error)
	getVMInfoFn  func(ctx context.Context, id string) (*provider.VMInfo, error)
	startVMFn    func(ctx context.Context, id string, mode provider.StartMode) error
	stopVMFn     func(ctx context.Context, id string, style provider.StopStyle) error
	createVMFn   func(ctx context.Context, spec provider.CreateSpec) (string, error)
	cloneVMFn    func(ctx context.Context, src, dst string, mode provider.CloneMode) (string, error)
	deleteVMFn   func(ctx context.Context, id string, withDisks bool) error
	sampleFn     func(ctx context.Context, id string) (*provider.MetricSample, error)
	createSnapFn func(ctx context.Context, id, name, desc string, live bool) (string, error)
}

func (m *mockManager) Available() bool { return m.available }
func (m *mockManager) Name() string    { return "virtualbox" }

func (m *mockManager) ListVMs(ctx context.Context) ([]provider.VMSummary, error) {
	if m.listVMsFn != nil {
		return m.listVMsFn(ctx)
	}
	return nil, nil
}

func (m *mockManager) GetVMInfo(ctx context.Context, id string) (*provider.VMInfo, error) {
	if m.getVMInfoFn != nil {
		return m.getVMInfoFn(ctx, id)
	}
	return &provider.VMInfo{ID: id, Name: id, State: provider.StatePoweroff}, nil
}

func (m *mockManager) CreateVM(ctx context.Context, spec provider.CreateSpec) (string, error) {
	if m.createVMFn != nil {
		return m.createVMFn(ctx, spec)
	}
	return "new-vm-id", nil
}

func (m *mockManager) StartVM(ctx context.Context, id string, mode provider.StartMode) error {
	if m.startVMFn != nil {
		return m.startVMFn(ctx, id, mode)
	}
	return nil
}

func (m *mockManager) StopVM(ctx context.Context, id string, style provider.StopStyle) error {
	if m.stopVMFn != nil {
		return m.stopVMFn(ctx, id, style)
	}
	return nil
}

func (m *mockManager) ResetVM(context.Context, string) error  { return nil }
func (m *mockManager) PauseVM(context.Context, string) error  { return nil }
func (m *mockManager) ResumeVM(context.Context, string) error { return nil }

func (m *mockManager) DeleteVM(ctx context.Context, id string, withDisks bool) error {
	if m.deleteVMFn != nil {
		return m.deleteVMFn(ctx, id, withDisks)
	}
	return nil
}

func (m *mockManager) CloneVM(ctx context.Context, src, dst string, mode provider.CloneMode) (string, error) {
	if m.cloneVMFn != nil {
		return m.cloneVMFn(ctx, src, dst, mode)
	}
	return "clone-id", nil
}

func (m *mockManager) CreateSnapshot(ctx context.Context, id, name, desc string, live bool) (string, error) {
	if m.createSnapFn != nil {
		return m.createSnapFn(ctx, id, name, desc, live)
	}
	return "snap-id", nil
}

func (m *mockManager) RestoreSnapshot(context.Context, string, string) error { return nil }
func (m *mockManager) DeleteSnapshot(context.Context, string, string) error  { return nil }
func (m *mockManager) ListSnapshots(context.Context, string) (*provider.Snapshot, error) {
	return nil, nil
}

func (m *mockManager) CreateDisk(context.Context, string, int64, string) (string, error) {
	return "disk-id", nil
}
func (m *mockManager) DeleteDisk(context.Context, string) error { return nil }
func (m *mockManager) ListDisks(context.Context) ([]provider.DiskMedium, error) {
	return nil, nil
}
func (m *mockManager) AttachDisk(context.Context, string, string, int, int, string) error {
	return nil
}
func (m *mockManager) DetachDisk(context.Context, string, string, int, int) error { return nil }

func (m *mockManager) ListAdapters(context.Context, string) ([]provider.NetworkAdapter, error) {
	return nil, nil
}
func (m *mockManager) ConfigureAdapter(context.Context, string, provider.AdapterConfig) error {
	return nil
}

func (m *mockManager) Sample(ctx context.Context, id string) (*provider.MetricSample, error) {
	if m.sampleFn != nil {
		return m.sampleFn(ctx, id)
	}
	return &provider.MetricSample{VMID: id, Timestamp: time.Now().UTC()}, nil
}

func (m *mockManager) HostInfo(context.Context) (*provider.HostInfo, error) {
	return &provider.HostInfo{ProcessorCount: 8}, nil
}
func (m *mockManager) ListOSTypes(context.Context) ([]provider.OSType, error) {
	return []provider.OSType{{ID: "Ubuntu_64", Is64Bit: true}}, nil
}
func (m *mockManager) Version(context.Context) (string, error) { return "7.0.0", nil }

// --- helpers ---

func newTestServer(t *testing.T, mgr *mockManager) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	coord := ops.NewCoordinator(2, testLogger())
	return NewServer(cfg, mgr, coord, nil, nil, testLogger())
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) map[string]any {
	t.Helper()
	handler := s.dispatch(name)
	result, err := handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent")
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &m))
	if result.IsError {
		m["__is_error"] = true
	}
	return m
}

func TestToolCallListVMs(t *testing.T) {
	mgr := &mockManager{available: true}
	mgr.listVMsFn = func(context.Context) ([]provider.VMSummary, error) {
		return []provider.VMSummary{
			{ID: "id-1", Name: "alpha", State: provider.StatePoweroff},
		}, nil
	}
	s := newTestServer(t, mgr)

	out := callTool(t, s, "vm_management", map[string]any{"action": "list"})
	assert.Nil(t, out["__is_error"])
	assert.Equal(t, float64(1), out["count"])
}

func TestToolCallUnknownActionEnvelope(t *testing.T) {
	s := newTestServer(t, &mockManager{available: true})

	out := callTool(t, s, "vm_management", map[string]any{"action": "teleport"})
	assert.Equal(t, true, out["__is_error"])
	assert.Equal(t, "InvalidAction", out["error_kind"])
	assert.Contains(t, out["message"], "start")
}

func TestToolCallMissingRequiredFieldEnvelope(t *testing.T) {
	called := false
	mgr := &mockManager{available: true}
	mgr.startVMFn = func(context.Context, string, provider.StartMode) error {
		called = true
		return nil
	}
	s := newTestServer(t, mgr)

	out := callTool(t, s, "vm_management", map[string]any{"action": "start"})
	assert.Equal(t, true, out["__is_error"])
	assert.Equal(t, "InvalidArguments", out["error_kind"])
	assert.False(t, called, "handler must never run on validation failure")
}

func TestToolCallForwardCompatibleExtraField(t *testing.T) {
	var gotMode provider.StartMode
	mgr := &mockManager{available: true}
	mgr.startVMFn = func(_ context.Context, _ string, mode provider.StartMode) error {
		gotMode = mode
		return nil
	}
	s := newTestServer(t, mgr)

	out := callTool(t, s, "vm_management", map[string]any{
		"action":            "start",
		"vm_name":           "v2",
		"experimental_flag": true,
	})
	assert.Nil(t, out["__is_error"])
	assert.Equal(t, true, out["started"])
	assert.Equal(t, provider.StartHeadless, gotMode)
}

func TestToolCallErrorKindPassthrough(t *testing.T) {
	mgr := &mockManager{available: true}
	mgr.stopVMFn = func(context.Context, string, provider.StopStyle) error {
		return provider.Errorf(provider.KindInvalidState, "cannot stop vm in state poweroff")
	}
	s := newTestServer(t, mgr)

	out := callTool(t, s, "vm_management", map[string]any{
		"action": "stop", "vm_name": "v2",
	})
	assert.Equal(t, true, out["__is_error"])
	assert.Equal(t, "InvalidState", out["error_kind"])
}

func TestToolCallInternalErrorGetsCorrelationID(t *testing.T) {
	mgr := &mockManager{available: true}
	mgr.stopVMFn = func(context.Context, string, provider.StopStyle) error {
		return context.DeadlineExceeded // classified Timeout, not internal
	}
	s := newTestServer(t, mgr)
	out := callTool(t, s, "vm_management", map[string]any{"action": "stop", "vm_name": "v2"})
	assert.Equal(t, "Timeout", out["error_kind"])

	mgr.stopVMFn = func(context.Context, string, provider.StopStyle) error {
		return assert.AnError
	}
	out = callTool(t, s, "vm_management", map[string]any{"action": "stop", "vm_name": "v2"})
	assert.Equal(t, "Internal", out["error_kind"])
	assert.NotEmpty(t, out["correlation_id"])
	assert.NotContains(t, out["message"], assert.AnError.Error())
}

func TestLongRunningCloneReturnsOperationAndCancels(t *testing.T) {
	mgr := &mockManager{available: true}
	started := make(chan struct{})
	mgr.cloneVMFn = func(ctx context.Context, src, dst string, mode provider.CloneMode) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	s := newTestServer(t, mgr)

	out := callTool(t, s, "vm_management", map[string]any{
		"action": "clone", "vm_name": "big", "clone_name": "big-copy",
	})
	require.Nil(t, out["__is_error"])
	opID, _ := out["operation_id"].(string)
	require.NotEmpty(t, opID)
	assert.Equal(t, "pending", out["state"])

	<-started
	cancelOut := callTool(t, s, "operation_cancel", map[string]any{"operation_id": opID})
	assert.Equal(t, true, cancelOut["cancelled"])

	statusOut := callTool(t, s, "operation_status", map[string]any{"operation_id": opID})
	assert.Equal(t, "cancelled", statusOut["state"])
}

func TestDegradedModeToolListingAndCalls(t *testing.T) {
	mgr := &mockManager{available: false}
	s := newTestServer(t, mgr)

	// Listing excludes tools with no read surface; multi-action tools with
	// read actions stay.
	names := map[string]bool{}
	for _, tool := range s.registry.List() {
		names[tool.Name] = true
	}
	assert.True(t, names["vm_management"])
	assert.True(t, names["operation_status"])

	// A mutating action fails fast with BinaryNotFound.
	out := callTool(t, s, "vm_management", map[string]any{
		"action": "start", "vm_name": "v2",
	})
	assert.Equal(t, true, out["__is_error"])
	assert.Equal(t, "BinaryNotFound", out["error_kind"])
}

func TestSnapshotCreateFlow(t *testing.T) {
	mgr := &mockManager{available: true}
	var gotLive bool
	mgr.createSnapFn = func(_ context.Context, id, name, desc string, live bool) (string, error) {
		gotLive = live
		return "snap-1", nil
	}
	s := newTestServer(t, mgr)

	out := callTool(t, s, "snapshot_management", map[string]any{
		"action": "create", "vm_name": "t1", "snapshot_name": "s1", "live": true,
	})
	assert.Nil(t, out["__is_error"])
	assert.Equal(t, "snap-1", out["snapshot_id"])
	assert.True(t, gotLive)
}

func TestBuildMCPToolSchema(t *testing.T) {
	s := newTestServer(t, &mockManager{available: true})
	tool, ok := s.registry.Get("vm_management")
	require.True(t, ok)

	mcpTool := buildMCPTool(tool)
	assert.Equal(t, "vm_management", mcpTool.Name)
	require.NotNil(t, mcpTool.InputSchema.Properties["action"])
	// Union fields advertise as optional; only action is required.
	assert.Equal(t, []string{"action"}, mcpTool.InputSchema.Required)
}
