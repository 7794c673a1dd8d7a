// Package repostore maps on-disk model repository directories to logical
// (name, versions) sets and parses each model's declarative configuration.
//
//	<repo_root>/<model_name>/config.yaml
//	<repo_root>/<model_name>/<version>/<artifact files...>
package repostore

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/status"
)

// VersionEntry describes one on-disk model version and its fingerprint.
type VersionEntry struct {
	Version   int64
	ModKey    string // content fingerprint, stable under idempotent re-reads
	SizeBytes int64  // recursive byte size of the version directory
}

// ModelEntry is one discovered model directory.
type ModelEntry struct {
	Name     string
	Versions []VersionEntry
}

// Store scans one or more repository roots.
type Store struct {
	Roots  []string
	Logger *slog.Logger
}

func New(roots []string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Roots: roots, Logger: logger}
}

// Scan enumerates every model directory under every root. A version is any
// subdirectory whose name parses as a positive integer; siblings that don't
// parse are ignored with a warning.
func (s *Store) Scan() ([]ModelEntry, error) {
	var out []ModelEntry
	for _, root := range s.Roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, status.Wrap(status.Internal, err, "reading repository root %q", root)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			name := e.Name()
			modelDir := filepath.Join(root, name)
			versions, err := s.scanVersions(modelDir)
			if err != nil {
				return nil, err
			}
			out = append(out, ModelEntry{Name: name, Versions: versions})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) scanVersions(modelDir string) ([]VersionEntry, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "reading model dir %q", modelDir)
	}

	var versions []VersionEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.ParseInt(e.Name(), 10, 64)
		if err != nil || v <= 0 {
			s.Logger.Warn("ignoring non-version subdirectory", "dir", filepath.Join(modelDir, e.Name()))
			continue
		}
		key, size, err := fingerprint(filepath.Join(modelDir, e.Name()))
		if err != nil {
			return nil, err
		}
		versions = append(versions, VersionEntry{Version: v, ModKey: key, SizeBytes: size})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

// fingerprint combines max(mtime) over the version subtree with its
// recursive byte size — stable across idempotent re-reads.
func fingerprint(dir string) (string, int64, error) {
	var maxMtime time.Time
	var totalSize int64

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(maxMtime) {
			maxMtime = info.ModTime()
		}
		if !d.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return "", 0, status.Wrap(status.Internal, err, "fingerprinting %q", dir)
	}
	return fmt.Sprintf("%d-%d", maxMtime.UnixNano(), totalSize), totalSize, nil
}

// ReadConfig parses and validates a model's config.yaml. When strict is
// false, a missing, unparsable, or invalid config.yaml is tolerated: a
// permissive auto-generated config is returned instead of an error. When
// strict is true, any of those conditions is rejected outright.
func (s *Store) ReadConfig(root, name string, strict bool) (*modelconfig.ModelConfig, error) {
	path := filepath.Join(root, name, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !strict && os.IsNotExist(err) {
			s.Logger.Warn("no config.yaml found, auto-generating a permissive default", "model", name)
			return autoGenerateConfig(name), nil
		}
		return nil, status.Wrap(status.NotFound, err, "reading config for model %q", name)
	}

	var cfg modelconfig.ModelConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if !strict {
			s.Logger.Warn("invalid config.yaml, auto-generating a permissive default", "model", name, "error", err)
			return autoGenerateConfig(name), nil
		}
		return nil, status.Wrap(status.InvalidArg, err, "parsing config for model %q", name)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}

	if err := modelconfig.Validate(&cfg); err != nil {
		if !strict {
			s.Logger.Warn("invalid config.yaml, auto-generating a permissive default", "model", name, "error", err)
			return autoGenerateConfig(name), nil
		}
		return nil, err
	}
	return &cfg, nil
}

// autoGenerateConfig builds a permissive single-input/output passthrough
// config for a model directory with no usable declared config.yaml. Used
// only when strict_model_config is false.
func autoGenerateConfig(name string) *modelconfig.ModelConfig {
	return &modelconfig.ModelConfig{
		Name:          name,
		MaxBatchSize:  0,
		Inputs:        []modelconfig.IOSpec{{Name: "INPUT0", Datatype: modelconfig.TypeBytes, Dims: modelconfig.Dims{-1}}},
		Outputs:       []modelconfig.IOSpec{{Name: "OUTPUT0", Datatype: modelconfig.TypeBytes, Dims: modelconfig.Dims{-1}}},
		VersionPolicy: modelconfig.VersionPolicy{Kind: modelconfig.PolicyLatest},
	}
}

// ModelPath returns the version directory path for a loaded backend factory.
func ModelPath(root, name string, version int64) string {
	return filepath.Join(root, name, strconv.FormatInt(version, 10))
}
