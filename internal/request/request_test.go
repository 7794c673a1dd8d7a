package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/status"
)

func v2Config(maxBatch int) *modelconfig.ModelConfig {
	return &modelconfig.ModelConfig{
		Name:         "echo",
		MaxBatchSize: maxBatch,
		Inputs: []modelconfig.IOSpec{
			{Name: "INPUT0", Datatype: modelconfig.TypeInt32, Dims: modelconfig.Dims{4}},
		},
		Outputs: []modelconfig.IOSpec{
			{Name: "OUTPUT0", Datatype: modelconfig.TypeInt32, Dims: modelconfig.Dims{4}},
		},
		Profile: modelconfig.ProfileV2,
	}
}

func withInput(t *testing.T, r *Request, batch int64) {
	t.Helper()
	require.NoError(t, r.AddOriginalInput(Input{
		Name:  "INPUT0",
		Shape: []int64{batch, 4},
		Data:  make([]byte, batch*4*4),
	}))
}

func TestPrepareV2DerivesBatchSizeFromLeadingDim(t *testing.T) {
	cfg := v2Config(8)
	r := New("echo")
	withInput(t, r, 3)

	require.NoError(t, r.Prepare(cfg))
	assert.Equal(t, uint32(3), r.BatchSize)
	assert.Equal(t, []int64{4}, r.Inputs()["INPUT0"].WorkingShape)
	assert.Equal(t, int64(3*4*4), r.BatchByteSizes["INPUT0"])
}

func TestPrepareIsIdempotent(t *testing.T) {
	cfg := v2Config(8)
	r := New("echo")
	withInput(t, r, 2)

	require.NoError(t, r.Prepare(cfg))
	first := r.BatchByteSizes["INPUT0"]
	firstShape := append([]int64{}, r.Inputs()["INPUT0"].WorkingShape...)

	require.NoError(t, r.Prepare(cfg))
	assert.Equal(t, first, r.BatchByteSizes["INPUT0"])
	assert.Equal(t, firstShape, r.Inputs()["INPUT0"].WorkingShape)
}

func TestPrepareRejectsBatchSizeAboveMax(t *testing.T) {
	cfg := v2Config(4)
	r := New("echo")
	withInput(t, r, 5)

	err := r.Prepare(cfg)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.InvalidArg))
}

func TestPrepareRejectsBatchSizeOfZero(t *testing.T) {
	cfg := v2Config(4)
	r := New("echo")
	withInput(t, r, 0)

	err := r.Prepare(cfg)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.InvalidArg))
}

func TestPrepareRejectsWrongInputCount(t *testing.T) {
	cfg := v2Config(4)
	r := New("echo")
	// no inputs added at all

	err := r.Prepare(cfg)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.InvalidArg))
}

func TestPrepareRejectsUnknownRequestedOutput(t *testing.T) {
	cfg := v2Config(4)
	r := New("echo")
	withInput(t, r, 1)
	r.AddRequestedOutput("NOT_AN_OUTPUT")

	err := r.Prepare(cfg)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.NotFound))
}

func TestRemoveOriginalThenAddOverrideIsPermitted(t *testing.T) {
	cfg := v2Config(4)
	r := New("echo")
	withInput(t, r, 1)

	require.NoError(t, r.RemoveOriginalInput("INPUT0"))
	require.NoError(t, r.AddOverrideInput(Input{Name: "INPUT0", Shape: []int64{1, 4}, Data: make([]byte, 16)}))

	require.NoError(t, r.Prepare(cfg))
	assert.Equal(t, uint32(1), r.BatchSize)
}

func TestPrepareZeroMaxBatchSizeForcesBatchOne(t *testing.T) {
	cfg := v2Config(0)
	r := New("echo")
	require.NoError(t, r.AddOriginalInput(Input{Name: "INPUT0", Shape: []int64{4}, Data: make([]byte, 16)}))

	require.NoError(t, r.Prepare(cfg))
	assert.Equal(t, uint32(1), r.BatchSize)
}
