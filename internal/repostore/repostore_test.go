package repostore

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModel(t *testing.T, root, name string, versions []int, withConfig bool) {
	t.Helper()
	modelDir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(modelDir, 0o755))

	if withConfig {
		cfg := `
name: ` + name + `
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
		require.NoError(t, os.WriteFile(filepath.Join(modelDir, "config.yaml"), []byte(cfg), 0o644))
	}

	for _, v := range versions {
		vdir := filepath.Join(modelDir, strconv.Itoa(v))
		require.NoError(t, os.MkdirAll(vdir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(vdir, "model.bin"), []byte("data"), 0o644))
	}
}

func TestScanDiscoversModelsAndVersions(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "simple_string", []int{1, 2}, true)

	store := New([]string{root}, nil)
	entries, err := store.Scan()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, "simple_string", entries[0].Name)
	require.Len(t, entries[0].Versions, 2)
	assert.Equal(t, int64(1), entries[0].Versions[0].Version)
	assert.Equal(t, int64(2), entries[0].Versions[1].Version)
	assert.NotEmpty(t, entries[0].Versions[0].ModKey)
}

func TestScanIgnoresNonVersionSubdirectories(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "simple_string", []int{1}, true)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "simple_string", "not_a_version"), 0o755))

	store := New([]string{root}, nil)
	entries, err := store.Scan()
	require.NoError(t, err)
	require.Len(t, entries[0].Versions, 1)
}

func TestReadConfigDefaultsNameToDirectory(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "simple_string")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	cfg := `
max_batch_size: 0
inputs:
  - name: INPUT0
    datatype: INT32
    dims: [4]
outputs:
  - name: OUTPUT0
    datatype: INT32
    dims: [4]
`
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "config.yaml"), []byte(cfg), 0o644))

	store := New([]string{root}, nil)
	parsed, err := store.ReadConfig(root, "simple_string", false)
	require.NoError(t, err)
	assert.Equal(t, "simple_string", parsed.Name)
}

func TestReadConfigMissingNonStrictAutoGenerates(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "no_config")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))

	store := New([]string{root}, nil)
	parsed, err := store.ReadConfig(root, "no_config", false)
	require.NoError(t, err)
	assert.Equal(t, "no_config", parsed.Name)
	require.Len(t, parsed.Inputs, 1)
	require.Len(t, parsed.Outputs, 1)
}

func TestReadConfigMissingStrictRejects(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "no_config")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))

	store := New([]string{root}, nil)
	_, err := store.ReadConfig(root, "no_config", true)
	assert.Error(t, err)
}

func TestReadConfigInvalidNonStrictAutoGenerates(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "bad_config")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "config.yaml"), []byte("max_batch_size: -1\n"), 0o644))

	store := New([]string{root}, nil)
	parsed, err := store.ReadConfig(root, "bad_config", false)
	require.NoError(t, err)
	assert.Equal(t, "bad_config", parsed.Name)
}

func TestReadConfigInvalidStrictRejects(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "bad_config")
	require.NoError(t, os.MkdirAll(modelDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "config.yaml"), []byte("max_batch_size: -1\n"), 0o644))

	store := New([]string{root}, nil)
	_, err := store.ReadConfig(root, "bad_config", true)
	assert.Error(t, err)
}

func TestFingerprintStableAcrossRescans(t *testing.T) {
	root := t.TempDir()
	writeModel(t, root, "simple_string", []int{1}, true)

	store := New([]string{root}, nil)
	first, err := store.Scan()
	require.NoError(t, err)
	second, err := store.Scan()
	require.NoError(t, err)

	assert.Equal(t, first[0].Versions[0].ModKey, second[0].Versions[0].ModKey)
}
