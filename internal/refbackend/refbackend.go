// Package refbackend is a reference Handle implementation used by tests
// and the servectl demo command. It performs no real inference: OUTPUT0
// is INPUT0's integers incremented by one, OUTPUT1 is INPUT1's exclusive
// running sum — the "simple_string" fixture from the Testable Properties
// (INPUT0 ["1".."16"] -> OUTPUT0 ["2".."17"], INPUT1 ["1"]x16 -> OUTPUT1
// ["0".."15"]).
package refbackend

import (
	"bytes"
	"strconv"

	"github.com/servecore/runtime/internal/backend"
	"github.com/servecore/runtime/internal/modelconfig"
	"github.com/servecore/runtime/internal/request"
	"github.com/servecore/runtime/internal/response"
	"github.com/servecore/runtime/internal/status"
)

// Handle is the reference backend. New is a backend.Factory.
type Handle struct {
	name    string
	version int64
	cfg     *modelconfig.ModelConfig
}

func New(name string, version int64, cfg *modelconfig.ModelConfig, versionPath string) (backend.Handle, error) {
	return &Handle{name: name, version: version, cfg: cfg}, nil
}

func (h *Handle) Name() string                     { return h.name }
func (h *Handle) Version() int64                   { return h.version }
func (h *Handle) Config() *modelconfig.ModelConfig  { return h.cfg }
func (h *Handle) Close() error                      { return nil }
func (h *Handle) MaxPriorityLevel() int             { return h.cfg.MaxPriorityLevel() }
func (h *Handle) DefaultPriorityLevel() int         { return h.cfg.DefaultPriorityLevel() }
func (h *Handle) GetInput(name string) (*modelconfig.IOSpec, bool)  { return h.cfg.FindInput(name) }
func (h *Handle) GetOutput(name string) (*modelconfig.IOSpec, bool) { return h.cfg.FindOutput(name) }

// Run transforms every request in the batch independently — it is
// oblivious to batching beyond iterating requests one at a time.
func (h *Handle) Run(batch *backend.Batch, builder *response.Builder) error {
	for _, req := range batch.Requests {
		resp, err := h.runOne(req, builder)
		if err != nil {
			resp = &response.Response{RequestID: req.ID, Status: err}
		}
		select {
		case req.Done <- resp:
		default:
		}
	}
	return nil
}

func (h *Handle) runOne(req *request.Request, builder *response.Builder) (*response.Response, error) {
	inputs := req.Inputs()

	outSpecs := make([]modelconfig.IOSpec, 0, len(h.cfg.Outputs))
	requested := req.RequestedOutputNames()
	for _, o := range h.cfg.Outputs {
		if len(requested) == 0 || requested[o.Name] {
			outSpecs = append(outSpecs, o)
		}
	}

	values := make(map[string][]int64, len(inputs))
	for name, in := range inputs {
		vals, err := decodeInts(in.Data)
		if err != nil {
			return nil, status.Wrap(status.InvalidArg, err, "decoding input %q", name)
		}
		values[name] = vals
	}

	byteSizes := make(map[string]int64, len(outSpecs))
	encoded := make(map[string][]byte, len(outSpecs))
	for _, spec := range outSpecs {
		in, ok := inputs[correspondingInput(spec.Name)]
		if !ok {
			return nil, status.New(status.Internal, "reference backend has no input paired with output %q", spec.Name)
		}
		vals := values[in.Name]

		var out []int64
		switch spec.Name {
		case "OUTPUT0":
			out = make([]int64, len(vals))
			for i, v := range vals {
				out[i] = v + 1
			}
		case "OUTPUT1":
			out = make([]int64, len(vals))
			var sum int64
			for i, v := range vals {
				out[i] = sum
				sum += v
			}
		default:
			out = vals
		}

		buf := encodeInts(out)
		encoded[spec.Name] = buf
		byteSizes[spec.Name] = int64(len(buf))
	}

	resp, err := builder.Prepare(req.ID, outSpecs, byteSizes, response.MemoryCPU, 0)
	if err != nil {
		return nil, err
	}
	for i := range resp.Outputs {
		copy(resp.Outputs[i].Buffer, encoded[resp.Outputs[i].Name])
	}
	return resp, nil
}

// correspondingInput maps an output name to the input it is derived
// from — OUTPUT0 from INPUT0, OUTPUT1 from INPUT1, by naming convention.
func correspondingInput(outputName string) string {
	return "INPUT" + outputName[len("OUTPUT"):]
}

// decodeInts parses newline-delimited decimal integers, the BYTES wire
// form the reference fixtures use for INPUT0/INPUT1.
func decodeInts(data []byte) ([]int64, error) {
	if len(data) == 0 {
		return nil, nil
	}
	fields := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	out := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(string(f), 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func encodeInts(vals []int64) []byte {
	var buf bytes.Buffer
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(strconv.FormatInt(v, 10))
	}
	return buf.Bytes()
}
