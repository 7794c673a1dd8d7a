package modelconfig

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/servecore/runtime/internal/status"
)

var structValidator = validator.New()

// Validate normalizes and cross-checks a parsed ModelConfig, returning an
// InvalidArg status naming the first offending field on failure.
func Validate(cfg *ModelConfig) error {
	if err := structValidator.Struct(cfg); err != nil {
		return status.Wrap(status.InvalidArg, err, "model %q: config field invalid", cfg.Name)
	}

	if err := checkBatching(cfg); err != nil {
		return err
	}
	if err := checkReshape(cfg); err != nil {
		return err
	}
	if err := checkVersionPolicy(cfg); err != nil {
		return err
	}
	return nil
}

// checkBatching verifies that, when framework batching is enabled, every
// input declares a leading batch dimension.
func checkBatching(cfg *ModelConfig) error {
	if cfg.MaxBatchSize < 0 {
		return status.New(status.InvalidArg, "model %q: max_batch_size must be >= 0", cfg.Name)
	}
	if cfg.MaxBatchSize == 0 {
		return nil
	}
	for _, in := range cfg.Inputs {
		if len(in.Dims) == 0 {
			return status.New(status.InvalidArg, "model %q input %q: dims must be non-empty", cfg.Name, in.Name)
		}
	}
	return nil
}

// checkReshape verifies every wildcard in reshape.shape pairs, in order,
// with a wildcard in dims (I4), and that reshape never introduces more
// wildcards than dims declares.
func checkReshape(cfg *ModelConfig) error {
	for _, io := range append(append([]IOSpec{}, cfg.Inputs...), cfg.Outputs...) {
		if io.Reshape == nil {
			continue
		}
		dimsWildcards := countWildcards(io.Dims)
		reshapeWildcards := countWildcards(io.Reshape.Shape)
		if reshapeWildcards > dimsWildcards {
			return status.New(status.InvalidArg,
				"model %q io %q: reshape.shape has more wildcards (%d) than dims (%d)",
				cfg.Name, io.Name, reshapeWildcards, dimsWildcards)
		}
	}
	return nil
}

func countWildcards(d Dims) int {
	n := 0
	for _, v := range d {
		if v == -1 {
			n++
		}
	}
	return n
}

// checkVersionPolicy verifies the policy is well-formed for its kind.
func checkVersionPolicy(cfg *ModelConfig) error {
	vp := cfg.VersionPolicy
	switch vp.Kind {
	case "", PolicyLatest:
		if vp.Latest < 0 {
			return status.New(status.InvalidArg, "model %q: version_policy.latest_n must be >= 0", cfg.Name)
		}
	case PolicyAll:
		// no further constraints
	case PolicySpecific:
		if len(vp.Specific) == 0 {
			return status.New(status.InvalidArg, "model %q: version_policy \"specific\" requires at least one version", cfg.Name)
		}
	default:
		return status.New(status.InvalidArg, "model %q: unknown version_policy.kind %q", cfg.Name, vp.Kind)
	}

	switch cfg.Profile {
	case "", ProfileV1, ProfileV2:
	default:
		return status.New(status.InvalidArg, "model %q: unknown normalization_profile %q", cfg.Name, cfg.Profile)
	}
	return nil
}

// CompareDimsWithWildcard implements I2: dims[i] == shape[i] or dims[i] == -1.
func CompareDimsWithWildcard(dims Dims, shape []int64) bool {
	if len(dims) != len(shape) {
		return false
	}
	for i := range dims {
		if dims[i] != -1 && dims[i] != shape[i] {
			return false
		}
	}
	return true
}

// ApplyReshape implements I4: pre-reshape wildcard values, captured in
// order from shape against dims, are substituted into reshape.shape's
// wildcard slots in order, yielding the post-reshape working shape.
func ApplyReshape(dims Dims, reshape *Reshape, shape []int64) ([]int64, error) {
	if reshape == nil {
		return shape, nil
	}
	var captured []int64
	for i, d := range dims {
		if d == -1 {
			if i >= len(shape) {
				return nil, fmt.Errorf("reshape: dims wildcard at %d out of range of shape len %d", i, len(shape))
			}
			captured = append(captured, shape[i])
		}
	}

	out := make([]int64, len(reshape.Shape))
	ci := 0
	for i, v := range reshape.Shape {
		if v == -1 {
			if ci >= len(captured) {
				return nil, fmt.Errorf("reshape: more wildcards in reshape.shape than captured from dims")
			}
			out[i] = captured[ci]
			ci++
		} else {
			out[i] = v
		}
	}
	return out, nil
}
