package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servecore/runtime/internal/backend"
	"github.com/servecore/runtime/internal/refbackend"
	"github.com/servecore/runtime/internal/repostore"
)

const configYAML = `
name: echo
max_batch_size: 4
inputs:
  - name: INPUT0
    datatype: INT32
    dims: [4]
outputs:
  - name: OUTPUT0
    datatype: INT32
    dims: [4]
version_policy:
  kind: latest
`

func newRepo(t *testing.T, versions ...int) (string, *repostore.Store) {
	t.Helper()
	root := t.TempDir()
	modelDir := filepath.Join(root, "echo")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "config.yaml"), []byte(configYAML), 0o644))
	for _, v := range versions {
		vdir := filepath.Join(modelDir, itoa(v))
		require.NoError(t, os.MkdirAll(vdir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(vdir, "model.bin"), []byte("x"), 0o644))
	}
	return root, repostore.New([]string{root}, nil)
}

func itoa(v int) string {
	switch v {
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "9"
	}
}

func TestBootstrapLoadsEveryModelUnderModeNone(t *testing.T) {
	_, store := newRepo(t, 1)
	m := New(store, refbackend.New, ModeNone)

	require.NoError(t, m.Bootstrap(context.Background(), nil))
	assert.True(t, m.ModelIsReady("echo"))
}

func TestBootstrapUnderExplicitModeSkipsNonStartupModels(t *testing.T) {
	_, store := newRepo(t, 1)
	m := New(store, refbackend.New, ModeExplicit)

	require.NoError(t, m.Bootstrap(context.Background(), map[string]bool{}))
	assert.False(t, m.ModelIsReady("echo"))
}

func TestLoadModelThenGetInferenceBackend(t *testing.T) {
	_, store := newRepo(t, 1)
	m := New(store, refbackend.New, ModeExplicit)

	require.NoError(t, m.LoadModel(context.Background(), "echo"))
	h, err := m.GetInferenceBackend("echo", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.Version())
	m.ReleaseBackend("echo", h.Version())
}

func TestGetInferenceBackendResolvesLatestVersion(t *testing.T) {
	_, store := newRepo(t, 1, 2)
	m := New(store, refbackend.New, ModeNone)
	require.NoError(t, m.Bootstrap(context.Background(), nil))

	// ModeNone's Bootstrap only loads the latest discovered version.
	h, err := m.GetInferenceBackend("echo", -1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.Version())
}

func TestUnloadModelTransitionsToUnavailable(t *testing.T) {
	_, store := newRepo(t, 1)
	m := New(store, refbackend.New, ModeExplicit)
	require.NoError(t, m.LoadModel(context.Background(), "echo"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.UnloadModel(ctx, "echo"))

	statuses := m.ListModels()
	require.Len(t, statuses, 1)
	assert.Equal(t, backend.Unavailable, statuses[0].State)
}

func TestGetInferenceBackendNotFound(t *testing.T) {
	_, store := newRepo(t, 1)
	m := New(store, refbackend.New, ModeExplicit)

	_, err := m.GetInferenceBackend("missing", -1)
	assert.Error(t, err)
}

func TestPollRepositoryPicksUpNewVersion(t *testing.T) {
	root, store := newRepo(t, 1)
	m := New(store, refbackend.New, ModePoll)
	require.NoError(t, m.Bootstrap(context.Background(), map[string]bool{"echo": true}))

	vdir := filepath.Join(root, "echo", "2")
	require.NoError(t, os.MkdirAll(vdir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(vdir, "model.bin"), []byte("y"), 0o644))

	require.NoError(t, m.PollRepository(context.Background()))

	h, err := m.GetInferenceBackend("echo", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.Version())
}

func TestPollRepositoryUnloadsRemovedVersion(t *testing.T) {
	root, store := newRepo(t, 1, 2)
	m := New(store, refbackend.New, ModePoll)
	require.NoError(t, m.Bootstrap(context.Background(), map[string]bool{"echo": true}))

	// Bootstrap under ModePoll only loads the latest version, so load
	// version 1 explicitly before removing it.
	require.NoError(t, m.loadVersion(context.Background(), "echo", 1, "v1"))
	_, err := m.GetInferenceBackend("echo", 1)
	require.NoError(t, err)
	m.ReleaseBackend("echo", 1)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "echo", "1")))
	require.NoError(t, m.PollRepository(context.Background()))

	_, err = m.GetInferenceBackend("echo", 1)
	assert.Error(t, err, "removed version should no longer be ready")

	h, err := m.GetInferenceBackend("echo", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.Version())
}

func TestPollRepositoryUnloadsRemovedModel(t *testing.T) {
	root, store := newRepo(t, 1)
	m := New(store, refbackend.New, ModePoll)
	require.NoError(t, m.Bootstrap(context.Background(), map[string]bool{"echo": true}))
	assert.True(t, m.ModelIsReady("echo"))

	require.NoError(t, os.RemoveAll(filepath.Join(root, "echo")))
	require.NoError(t, m.PollRepository(context.Background()))

	assert.False(t, m.ModelIsReady("echo"))
}
