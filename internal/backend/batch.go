package backend

import "github.com/servecore/runtime/internal/request"

// Batch is a formed group of requests dispatched together to one Handle's
// Run method. Every member shares the same requested-output set
// and identical per-input working shapes (modulo the summed batch
// dimension), which Run may rely on.
type Batch struct {
	Requests []*request.Request

	// TotalBatchSize is the sum of each request's normalized BatchSize.
	TotalBatchSize uint32
}

// Size reports how many requests were folded into the batch.
func (b *Batch) Size() int { return len(b.Requests) }
