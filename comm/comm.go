// Package comm is the message-passing transport used by the grid
// implementations. It exposes the small collective surface the partitioning
// strategies need: tagged non-blocking point-to-point transfers with
// wait-all, all-reduce, exclusive scan, all-gather, and neighbor all-gather
// over an explicit graph neighborhood.
//
// Payloads are flat byte slices; strategies serialize their records by hand
// with the fixed-width codec helpers in this package. The in-process World
// implementation in channel.go defines the behavioral contract (blocking,
// matching by (peer, tag), deterministic rank-ordered reductions) that any
// real transport must meet.
package comm

// Op selects the combining operation of a reduction.
type Op int

const (
	OpSum Op = iota
	OpMax
	OpMin
)

// Comm is one rank's endpoint of a communicator spanning Size() ranks.
// Methods that are collectives must be called by every rank of the
// communicator in the same program order.
type Comm interface {
	Rank() int
	Size() int

	// Isend starts sending payload to dest. The returned request completes
	// when the payload has been handed to the transport; the payload must
	// not be modified until then.
	Isend(dest, tag int, payload []byte) *Request

	// Irecv starts receiving a message matching (source, tag). Wait returns
	// the payload. Messages from the same source with the same tag are
	// delivered in sending order.
	Irecv(source, tag int) *Request

	AllreduceFloat64(op Op, x []float64) []float64
	AllreduceInt64(op Op, x []int64) []int64

	// ExscanFloat64 returns the exclusive prefix sum of x over ranks; rank 0
	// receives 0.
	ExscanFloat64(x float64) float64

	// AllgatherFloat64 concatenates every rank's x in rank order.
	AllgatherFloat64(x []float64) []float64

	Barrier()

	// Graph creates a neighborhood communicator over the given neighbor
	// ranks. The neighbor relation must be symmetric across ranks.
	Graph(neighbors []int) *GraphComm
}

// Request is a handle for an outstanding non-blocking transfer.
type Request struct {
	payload []byte
	wait    func() []byte
	done    bool
}

// Wait blocks until the transfer completed and returns the received payload
// (nil for sends).
func (r *Request) Wait() []byte {
	if !r.done {
		r.payload = r.wait()
		r.done = true
	}
	return r.payload
}

// WaitAll drains a set of requests.
func WaitAll(reqs ...*Request) {
	for _, r := range reqs {
		r.Wait()
	}
}

// GraphComm is a neighborhood communicator: a fixed, symmetric set of
// neighbor ranks over which neighbor collectives run. It must be freed when
// the neighborhood changes.
type GraphComm struct {
	c         Comm
	neighbors []int
	freed     bool
}

// Neighbors returns the neighbor ranks in communicator order.
func (g *GraphComm) Neighbors() []int {
	return g.neighbors
}

// AllgatherFloat64 exchanges x with every neighbor and returns their values
// in neighbor order. Collective over the neighborhood.
func (g *GraphComm) AllgatherFloat64(x []float64) [][]float64 {
	if g.freed {
		panic("comm: use of freed graph communicator")
	}
	payload := AppendFloat64s(nil, x)
	sreqs := make([]*Request, len(g.neighbors))
	rreqs := make([]*Request, len(g.neighbors))
	for i, n := range g.neighbors {
		sreqs[i] = g.c.Isend(n, tagGraphGather, payload)
	}
	for i, n := range g.neighbors {
		rreqs[i] = g.c.Irecv(n, tagGraphGather)
	}
	out := make([][]float64, len(g.neighbors))
	for i, r := range rreqs {
		out[i] = Float64s(r.Wait())
	}
	WaitAll(sreqs...)
	return out
}

// Free releases the neighborhood. Any later use panics.
func (g *GraphComm) Free() {
	g.freed = true
}

// Internal tags; user tags must stay below tagInternalBase.
const (
	tagInternalBase = 1 << 20
	tagGraphGather  = tagInternalBase
	tagCollective   = tagInternalBase + 1
	tagBarrier      = tagInternalBase + 2
)
