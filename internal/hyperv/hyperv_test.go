package hyperv

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vbox-mcp/internal/execx"
	"vbox-mcp/internal/provider"
)

func TestDecodeVMRecordsArray(t *testing.T) {
	out := `[{"Name":"dev","Id":"aaa","State":2},{"Name":"ci","Id":"bbb","State":3}]`
	records, err := decodeVMRecords(out)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "dev", records[0].Name)
	assert.Equal(t, provider.StateRunning, stateFromHyperV(records[0].State))
	assert.Equal(t, provider.StatePoweroff, stateFromHyperV(records[1].State))
}

func TestDecodeVMRecordsSingleObject(t *testing.T) {
	records, err := decodeVMRecords(`{"Name":"dev","Id":"aaa","State":"Running"}`)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, provider.StateRunning, stateFromHyperV(records[0].State))
}

func TestDecodeVMRecordsEmpty(t *testing.T) {
	records, err := decodeVMRecords("  \n")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecodeVMRecordsBadJSON(t *testing.T) {
	_, err := decodeVMRecords("{not json")
	require.Error(t, err)
	assert.Equal(t, provider.KindAdapterParseError, provider.KindOf(err))
}

func TestStateFromHyperVNames(t *testing.T) {
	cases := map[string]provider.VMState{
		`"Running"`: provider.StateRunning,
		`"Off"`:     provider.StatePoweroff,
		`"Saved"`:   provider.StateSaved,
		`"Paused"`:  provider.StatePaused,
		`"Weird"`:   provider.StateUnknown,
		`6`:         provider.StateSaved,
		`9`:         provider.StatePaused,
	}
	for raw, want := range cases {
		assert.Equal(t, want, stateFromHyperV(json.RawMessage(raw)), raw)
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, quote("plain"))
	assert.Equal(t, `'it''s'`, quote("it's"))
}

func TestClassifyStderr(t *testing.T) {
	assert.Equal(t, provider.KindVMNotFound,
		classifyStderr(`Get-VM : Unable to find a virtual machine with name "ghost".`, 1).Kind)
	assert.Equal(t, provider.KindInvalidState,
		classifyStderr(`Stop-VM : The virtual machine is not in a valid state for this operation.`, 1).Kind)
	assert.Equal(t, provider.KindHypervisorError,
		classifyStderr("something else entirely", 1).Kind)
}

// fakeRunner returns one scripted response for every call.
type fakeRunner struct {
	stdout    string
	stderr    string
	exit      int
	available bool
	lastArgs  []string
}

func (f *fakeRunner) Available(execx.Program) bool { return f.available }

func (f *fakeRunner) Run(_ context.Context, req execx.Request) (*execx.Result, error) {
	f.lastArgs = req.Args
	return &execx.Result{Stdout: f.stdout, Stderr: f.stderr, ExitCode: f.exit}, nil
}

func TestListVMs(t *testing.T) {
	f := &fakeRunner{available: true, stdout: `[{"Name":"dev","Id":"aaa","State":2}]`}
	m := New(f, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithDefaultTimeout(5*time.Second))

	vms, err := m.ListVMs(context.Background())
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, "dev", vms[0].Name)
	assert.Equal(t, provider.StateRunning, vms[0].State)
	// Every pipeline runs non-interactively without profile scripts.
	assert.Equal(t, "-NoProfile", f.lastArgs[0])
	assert.Equal(t, "-NonInteractive", f.lastArgs[1])
}

func TestUnsupportedOperations(t *testing.T) {
	f := &fakeRunner{available: true}
	m := New(f, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := m.CloneVM(context.Background(), "a", "b", provider.CloneFull)
	require.Error(t, err)
	assert.Equal(t, provider.KindHypervisorError, provider.KindOf(err))
	assert.Contains(t, err.Error(), "not supported")
}
