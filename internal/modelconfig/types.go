// Package modelconfig defines the declarative per-model configuration
// (inputs, outputs, batching, versioning, reshape) and validates it.
package modelconfig

// Datatype enumerates the fixed-size primitives plus the variable-size
// byte string type used for text/tokenized inputs and outputs.
type Datatype string

const (
	TypeBool    Datatype = "BOOL"
	TypeUint8   Datatype = "UINT8"
	TypeUint16  Datatype = "UINT16"
	TypeUint32  Datatype = "UINT32"
	TypeUint64  Datatype = "UINT64"
	TypeInt8    Datatype = "INT8"
	TypeInt16   Datatype = "INT16"
	TypeInt32   Datatype = "INT32"
	TypeInt64   Datatype = "INT64"
	TypeFP16    Datatype = "FP16"
	TypeFP32    Datatype = "FP32"
	TypeFP64    Datatype = "FP64"
	TypeBytes   Datatype = "BYTES" // variable-size byte string
)

// IsVariableSize reports whether byte size must be supplied by the caller
// rather than derived from shape * fixed element size.
func (d Datatype) IsVariableSize() bool { return d == TypeBytes }

// FixedSize returns the element byte size for fixed-size datatypes, or 0
// for BYTES (caller-supplied).
func (d Datatype) FixedSize() int64 {
	switch d {
	case TypeBool, TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16, TypeFP16:
		return 2
	case TypeUint32, TypeInt32, TypeFP32:
		return 4
	case TypeUint64, TypeInt64, TypeFP64:
		return 8
	default:
		return 0
	}
}

// Dims is a declared dimension list; -1 marks a wildcard slot.
type Dims []int64

// Reshape rewrites an input's declared shape. Wildcard slots in Shape pair,
// in order, with the wildcard slots of the owning IOSpec's Dims (I4).
type Reshape struct {
	Shape Dims `yaml:"shape" validate:"required,min=1"`
}

// IOSpec describes one named input or output.
type IOSpec struct {
	Name          string   `yaml:"name" validate:"required"`
	Datatype      Datatype `yaml:"datatype" validate:"required"`
	Dims          Dims     `yaml:"dims" validate:"required,min=1"`
	Reshape       *Reshape `yaml:"reshape,omitempty"`
	IsShapeTensor bool     `yaml:"is_shape_tensor,omitempty"`
}

// VersionPolicyKind names the three supported version-selection policies.
type VersionPolicyKind string

const (
	PolicyLatest   VersionPolicyKind = "latest"
	PolicyAll      VersionPolicyKind = "all"
	PolicySpecific VersionPolicyKind = "specific"
)

// VersionPolicy picks which loaded versions of a model are eligible.
type VersionPolicy struct {
	Kind     VersionPolicyKind `yaml:"kind"`
	Latest   int               `yaml:"latest_n,omitempty"`
	Specific []int64           `yaml:"versions,omitempty"`
}

// NormalizationProfile selects which of the two historical normalization
// conventions this model follows. Declared once per model rather
// than branched on at every Prepare call (dual-profile
// normalization).
type NormalizationProfile string

const (
	ProfileV1 NormalizationProfile = "v1"
	ProfileV2 NormalizationProfile = "v2"
)

// Scheduling carries the dynamic batcher's tuning knobs.
type Scheduling struct {
	PreferredBatchSizes []int `yaml:"preferred_batch_sizes,omitempty"`
	MaxQueueDelayUs     int64 `yaml:"max_queue_delay_us,omitempty"`
	PriorityLevels      int   `yaml:"priority_levels,omitempty" validate:"gte=0"`
	DefaultPriority     int   `yaml:"default_priority,omitempty" validate:"gte=0"`
}

// ModelConfig is the immutable-once-loaded per-model declaration.
type ModelConfig struct {
	Name         string               `yaml:"name" validate:"required"`
	MaxBatchSize int                  `yaml:"max_batch_size" validate:"gte=0"`
	Inputs       []IOSpec             `yaml:"inputs" validate:"required,min=1,dive"`
	Outputs      []IOSpec             `yaml:"outputs" validate:"required,min=1,dive"`
	VersionPolicy VersionPolicy       `yaml:"version_policy"`
	Scheduling   Scheduling           `yaml:"scheduling"`
	Profile      NormalizationProfile `yaml:"normalization_profile,omitempty"`
}

// MaxPriorityLevel returns the highest numeric priority level, defaulting
// to 1 when the config leaves priority_levels unset (single-level FIFO).
func (c *ModelConfig) MaxPriorityLevel() int {
	if c.Scheduling.PriorityLevels <= 0 {
		return 1
	}
	return c.Scheduling.PriorityLevels
}

// DefaultPriorityLevel returns the priority assigned to requests that omit
// or misconfigure priority.
func (c *ModelConfig) DefaultPriorityLevel() int {
	if c.Scheduling.DefaultPriority <= 0 {
		return 1
	}
	return c.Scheduling.DefaultPriority
}

// FindInput returns the input IOSpec by name.
func (c *ModelConfig) FindInput(name string) (*IOSpec, bool) {
	for i := range c.Inputs {
		if c.Inputs[i].Name == name {
			return &c.Inputs[i], true
		}
	}
	return nil, false
}

// FindOutput returns the output IOSpec by name.
func (c *ModelConfig) FindOutput(name string) (*IOSpec, bool) {
	for i := range c.Outputs {
		if c.Outputs[i].Name == name {
			return &c.Outputs[i], true
		}
	}
	return nil, false
}

// EffectiveProfile defaults unset configs to v2, the profile this repo
// implements fully.
func (c *ModelConfig) EffectiveProfile() NormalizationProfile {
	if c.Profile == "" {
		return ProfileV2
	}
	return c.Profile
}
