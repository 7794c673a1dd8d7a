package request

import (
	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/status"
)

// Prepare normalizes the request against cfg: validates priority, output
// names, input count, derives batch size, checks shapes against wildcard
// dims, applies reshape, and computes per-input batch byte sizes.
// It is idempotent — calling it twice without an intervening mutation is a
// no-op, per the Testable Properties idempotence law.
func (r *Request) Prepare(cfg *modelconfig.ModelConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.prepared && !r.needsNormalization {
		return nil
	}

	// Step 1: priority defaulting.
	maxPrio := uint32(cfg.MaxPriorityLevel())
	if r.Priority == 0 || r.Priority > maxPrio {
		r.Priority = uint32(cfg.DefaultPriorityLevel())
	}

	// Step 2: requested-output names must exist on the model.
	for name := range r.requestedOutputs {
		if _, ok := cfg.FindOutput(name); !ok {
			return status.New(status.NotFound, "model %q: requested output %q not found", cfg.Name, name)
		}
	}

	// Rebuild the frozen input map: originals, then overrides on top.
	merged := make(map[string]*Input, len(r.originalInputs)+len(r.overrideInputs))
	for name, in := range r.originalInputs {
		merged[name] = in
	}
	for name, in := range r.overrideInputs {
		merged[name] = in
	}

	// Step 3 (I1): input count must match config.
	if len(merged) != len(cfg.Inputs) {
		return status.New(status.InvalidArg, "model %q: request has %d inputs, config declares %d", cfg.Name, len(merged), len(cfg.Inputs))
	}

	var err error
	switch cfg.EffectiveProfile() {
	case modelconfig.ProfileV1:
		err = normalizeV1(r, cfg, merged)
	default:
		err = normalizeV2(r, cfg, merged)
	}
	if err != nil {
		return err
	}

	r.inputs = merged
	r.prepared = true
	r.needsNormalization = false
	return nil
}

// normalizeV2 is the primary profile: batch size is the common leading
// dimension of every input; per-input shapes carry it and are stripped
// during normalize.
func normalizeV2(r *Request, cfg *modelconfig.ModelConfig, inputs map[string]*Input) error {
	if cfg.MaxBatchSize == 0 {
		r.BatchSize = 1
		for _, in := range inputs {
			in.WorkingShape = cloneShape(in.Shape)
		}
		return checkShapesAndReshape(cfg, inputs, r)
	}

	var batchSize int64 = -1
	for name, in := range inputs {
		if len(in.Shape) == 0 {
			return status.New(status.InvalidArg, "model %q input %q: shape must include the batch dimension", cfg.Name, name)
		}
		lead := in.Shape[0]
		if batchSize == -1 {
			batchSize = lead
		} else if lead != batchSize {
			return status.New(status.InvalidArg, "model %q: inconsistent batch size across inputs (%d vs %d) for input %q", cfg.Name, batchSize, lead, name)
		}
		in.WorkingShape = cloneShape(in.Shape[1:])
	}

	if err := checkBatchBounds(cfg, batchSize); err != nil {
		return err
	}
	r.BatchSize = uint32(batchSize)

	return checkShapesAndReshape(cfg, inputs, r)
}

// normalizeV1 is the historical profile: batch size is a request-level
// integer the caller sets directly; per-input shapes do not carry the
// batch dim, and caller-supplied byte sizes are cross-validated.
func normalizeV1(r *Request, cfg *modelconfig.ModelConfig, inputs map[string]*Input) error {
	batchSize := int64(r.BatchSize)
	if cfg.MaxBatchSize == 0 {
		batchSize = 1
		r.BatchSize = 1
	} else {
		if err := checkBatchBounds(cfg, batchSize); err != nil {
			return err
		}
	}

	for _, in := range inputs {
		in.WorkingShape = cloneShape(in.Shape)
	}

	if err := checkShapesAndReshape(cfg, inputs, r); err != nil {
		return err
	}

	// Cross-validate caller-supplied byte sizes for variable-size inputs.
	for name, in := range inputs {
		spec, _ := cfg.FindInput(name)
		if spec.Datatype.IsVariableSize() && in.ByteSize <= 0 {
			return status.New(status.InvalidArg, "model %q input %q: variable-size datatype requires caller-supplied byte size", cfg.Name, name)
		}
	}
	return nil
}

// checkBatchBounds enforces 1 <= batch_size <= max_batch_size.
func checkBatchBounds(cfg *modelconfig.ModelConfig, batchSize int64) error {
	if batchSize < 1 {
		return status.New(status.InvalidArg, "model %q: batch_size must be >= 1, got %d", cfg.Name, batchSize)
	}
	if cfg.MaxBatchSize > 0 && batchSize > int64(cfg.MaxBatchSize) {
		return status.New(status.InvalidArg, "model %q: batch_size %d exceeds max_batch_size %d", cfg.Name, batchSize, cfg.MaxBatchSize)
	}
	return nil
}

// checkShapesAndReshape validates per-input dims and reshape, then
// shared by both profiles once WorkingShape has been derived.
func checkShapesAndReshape(cfg *modelconfig.ModelConfig, inputs map[string]*Input, r *Request) error {
	if r.BatchByteSizes == nil {
		r.BatchByteSizes = make(map[string]int64, len(inputs))
	}

	for name, in := range inputs {
		spec, ok := cfg.FindInput(name)
		if !ok {
			return status.New(status.NotFound, "model %q: input %q not declared", cfg.Name, name)
		}
		in.Datatype = spec.Datatype
		in.IsShapeTensor = spec.IsShapeTensor

		if !modelconfig.CompareDimsWithWildcard(spec.Dims, in.WorkingShape) {
			if hasNegative(in.WorkingShape) && spec.Reshape == nil {
				return status.New(status.InvalidArg, "model %q input %q: variable-size dimension in request must specify reshape", cfg.Name, name)
			}
			return status.New(status.InvalidArg, "model %q input %q: shape %v does not match config dims %v", cfg.Name, name, in.WorkingShape, spec.Dims)
		}

		if spec.Reshape != nil {
			reshaped, err := modelconfig.ApplyReshape(spec.Dims, spec.Reshape, in.WorkingShape)
			if err != nil {
				return status.Wrap(status.InvalidArg, err, "model %q input %q: reshape failed", cfg.Name, name)
			}
			in.WorkingShape = reshaped
		}

		size, err := batchByteSize(spec.Datatype, in.WorkingShape, int64(r.BatchSize), spec.IsShapeTensor, in.ByteSize)
		if err != nil {
			return status.Wrap(status.InvalidArg, err, "model %q input %q", cfg.Name, name)
		}
		r.BatchByteSizes[name] = size
	}
	return nil
}

func hasNegative(shape []int64) bool {
	for _, v := range shape {
		if v < 0 {
			return true
		}
	}
	return false
}

// batchByteSize computes total byte size from (datatype, working_shape,
// batch_size, is_shape_tensor). Variable-size datatypes
// accept the caller-supplied byte size as-is.
func batchByteSize(dt modelconfig.Datatype, shape []int64, batchSize int64, isShapeTensor bool, callerByteSize int64) (int64, error) {
	if dt.IsVariableSize() {
		if callerByteSize <= 0 {
			return 0, status.New(status.InvalidArg, "variable-size datatype %s requires caller-supplied byte size", dt)
		}
		return callerByteSize, nil
	}

	elems := int64(1)
	for _, d := range shape {
		if d < 0 {
			return 0, status.New(status.InvalidArg, "resolved shape still has a wildcard dimension")
		}
		elems *= d
	}
	if !isShapeTensor {
		elems *= batchSize
	}
	return elems * dt.FixedSize(), nil
}
