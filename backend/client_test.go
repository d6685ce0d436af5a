package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/reporter"
)

func stringPtr(s string) *string { return &s }

func TestHandleInitializeNegotiatesCapabilities(t *testing.T) {
	client, err := startRPCClient(fakeBackendCmd(), nil, reporter.Event{})
	require.NoError(t, err)
	defer client.close()

	h := &Handle{client: client}
	caps, err := h.initialize(model.InitParams{Project: &model.ProjectModel{Name: stringPtr("widget")}})
	require.NoError(t, err)
	require.Equal(t, 1, caps.ProtocolVersion)
	require.True(t, caps.SupportsOutputs)
	require.True(t, caps.SupportsNullName)
}

func TestHandleInitializeRejectsMissingNameWithoutSupport(t *testing.T) {
	const scriptNoNullName = `
i=0
while IFS= read -r line; do
  i=$((i+1))
  printf '{"id":%d,"result":{"protocolVersion":1,"supportsOutputs":true,"supportsNullName":false}}\n' "$i"
done
`
	client, err := startRPCClient(shCmd(scriptNoNullName), nil, reporter.Event{})
	require.NoError(t, err)
	defer client.close()

	h := &Handle{client: client}
	_, err = h.initialize(model.InitParams{Project: &model.ProjectModel{Name: nil}})
	require.Error(t, err)
}

func TestHandleOutputsPrefersOutputsWhenAdvertised(t *testing.T) {
	client, err := startRPCClient(fakeBackendCmd(), nil, reporter.Event{})
	require.NoError(t, err)
	defer client.close()

	h := &Handle{client: client, caps: Capabilities{SupportsOutputs: true}}
	resp, err := h.Outputs(OutputsRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{"*.py"}, resp.InputGlobs)
}

func TestHandleOutputsFallsBackToGetMetadataWhenUnsupported(t *testing.T) {
	client, err := startRPCClient(fakeBackendCmd(), nil, reporter.Event{})
	require.NoError(t, err)
	defer client.close()

	h := &Handle{client: client, caps: Capabilities{SupportsOutputs: false}}
	resp, err := h.Outputs(OutputsRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{"legacy.py"}, resp.InputGlobs)
}

func TestHandleInMemoryBackendSkipsProcess(t *testing.T) {
	mem := &recordingInMemoryBackend{}
	h := &Handle{memory: mem}

	_, err := h.Outputs(OutputsRequest{Channels: []string{"conda-forge"}})
	require.NoError(t, err)
	require.Equal(t, 1, mem.outputsCalls)
}

type recordingInMemoryBackend struct {
	outputsCalls int
}

func (b *recordingInMemoryBackend) Outputs(req OutputsRequest) (OutputsResponse, error) {
	b.outputsCalls++
	return OutputsResponse{}, nil
}

func (b *recordingInMemoryBackend) Build(req BuildRequest) (BuildResponse, error) {
	return BuildResponse{}, nil
}
