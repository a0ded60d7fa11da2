// Package grids provides parallel linked-cell grids over a periodic cubic
// simulation box. A grid distributes the global cells across the ranks of a
// communicator, maintains a one-cell ghost layer around each rank's
// subdomain, and can repartition at runtime from a user-supplied per-cell
// weight metric. Several partitioning strategies share one contract,
// ParallelLCGrid; the factory in New selects among them.
package grids

import (
	"errors"
	"fmt"

	"github.com/notargets/pargrid/globox"
)

// Rank identifies a process of the communicator.
type Rank int

// RankNone marks an unknown owner inside a partition vector.
const RankNone Rank = -1

// GlobalIndex identifies a cell globally, in [0, Gx*Gy*Gz). The row-major
// linearization of globox is the strategy-agnostic global identity.
type GlobalIndex int

// LocalIndex identifies a cell owned by this rank, in [0, NLocalCells()).
// Local indices are invalidated by every successful repartition.
type LocalIndex int

// GhostIndex identifies a ghost cell cached on this rank, in
// [0, NGhostCells()). Invalidated like local indices.
type GhostIndex int

// NeighIdx selects one cell of the canonical 27-cell full-shell
// neighborhood: 0 is the cell itself, 1-13 the half shell, 14-26 the rest.
type NeighIdx int

// NewNeighIdx validates the range at construction.
func NewNeighIdx(k int) (NeighIdx, error) {
	if k < 0 || k > 26 {
		return 0, fmt.Errorf("grids: neighbor index %d outside [0,26]", k)
	}
	return NeighIdx(k), nil
}

// CellRef refers to either a local or a ghost cell. The zero value is the
// local cell 0.
type CellRef struct {
	idx   int
	ghost bool
}

// Local wraps a local cell index.
func Local(i LocalIndex) CellRef {
	return CellRef{idx: int(i)}
}

// Ghost wraps a ghost cell index.
func Ghost(i GhostIndex) CellRef {
	return CellRef{idx: int(i), ghost: true}
}

// AsLocal returns the local index if the reference is local.
func (r CellRef) AsLocal() (LocalIndex, bool) {
	if r.ghost {
		return 0, false
	}
	return LocalIndex(r.idx), true
}

// AsGhost returns the ghost index if the reference is a ghost.
func (r CellRef) AsGhost() (GhostIndex, bool) {
	if !r.ghost {
		return 0, false
	}
	return GhostIndex(r.idx), true
}

// Flat maps the reference onto contiguous per-cell storage where local
// cells occupy [0, nLocal) and ghosts follow.
func (r CellRef) Flat(nLocal int) int {
	if r.ghost {
		return nLocal + r.idx
	}
	return r.idx
}

func flatRef(flat, nLocal int) CellRef {
	if flat >= nLocal {
		return Ghost(GhostIndex(flat - nLocal))
	}
	return Local(LocalIndex(flat))
}

// GhostExchangeDesc pairs the local cells sent to one rank each exchange
// round with the ghost cells received from it. Send and Recv have equal
// length and are ordered identically on both endpoints (sorted by global
// cell index before conversion to local indices).
type GhostExchangeDesc struct {
	Dest Rank
	Send []LocalIndex
	Recv []GhostIndex
}

// Metric returns one non-negative weight per local cell, in local-cell
// order. Weights are additive estimates of per-cell work.
type Metric func() []float64

// ParallelLCGrid is the contract shared by all partitioning strategies.
// Methods that repartition are collective: every rank of the communicator
// must call them in the same program order.
type ParallelLCGrid interface {
	NLocalCells() int
	NGhostCells() int

	// CellSize returns the edge lengths of one cell.
	CellSize() [3]float64
	// GridSize returns the global cell grid dimensions.
	GridSize() [3]int

	// NeighborRanks returns the ranks this rank exchanges ghosts with, each
	// exactly once.
	NeighborRanks() []Rank

	// CellNeighborIndex resolves neighbor k of local cell c to a local or
	// ghost cell.
	CellNeighborIndex(c LocalIndex, k NeighIdx) CellRef

	// GetBoundaryInfo returns the exchange descriptors, in ascending rank
	// order. The returned slice is owned by the grid and valid until the
	// next successful repartition.
	GetBoundaryInfo() []GhostExchangeDesc

	// PositionToCellIndex maps a position in this rank's subdomain to its
	// local cell; fails with ErrNotLocal otherwise.
	PositionToCellIndex(pos [3]float64) (LocalIndex, error)

	// PositionToRank returns the owner of the cell at pos. The Cartesian,
	// graph, kd-tree and SFC strategies answer for the whole box. The
	// diffusion strategy only knows owners within the own subdomain plus
	// ghost layer and fails with ErrNotLocal beyond it; the grid-based one
	// does the same after its first irregular repartition. The hybrid
	// strategy answers like its active implementation.
	PositionToRank(pos [3]float64) (Rank, error)

	// PositionToNeighIdx returns the index into NeighborRanks of the owner
	// of pos, which must lie in the ghost layer.
	PositionToNeighIdx(pos [3]float64) (int, error)

	// GlobalHash returns the strategy-independent global identity of a
	// local or ghost cell. Two ranks holding the same cell agree on it.
	GlobalHash(c CellRef) GlobalIndex

	// Repartition may change the cell-to-rank assignment based on the
	// metric. It returns true if the partition changed, in which case all
	// cell indices and descriptors are invalidated. exchangeStart is called
	// after ownership is updated but before local data structures are
	// rebuilt, while PositionToRank already answers for the new partition.
	Repartition(m Metric, exchangeStart func()) (bool, error)

	// Command delivers an implementation-defined tuning command.
	Command(cmd string) error
}

// Error taxonomy. ErrOutOfBox is re-exported from globox so callers can
// match every grid error against this package.
var (
	ErrOutOfBox = globox.ErrOutOfBox

	// ErrNotLocal reports a position outside this rank's subdomain (or
	// ghost layer, where an operation is specified for it).
	ErrNotLocal = errors.New("grids: position not in local subdomain")

	// ErrPartitionEmpty reports that a repartition left at least one rank
	// without local cells. Fatal for the grid.
	ErrPartitionEmpty = errors.New("grids: repartition left a rank with no local cells")

	// ErrInvalidOctagon reports that the grid-based strategy could not build
	// a valid octagon decomposition at construction. A repartition round
	// with an invalid candidate octagon is rolled back and returns false
	// without this error.
	ErrInvalidOctagon = errors.New("grids: invalid octagon subdomain")
)

// UnknownCommandError reports a Command string the strategy does not
// understand.
type UnknownCommandError struct {
	Cmd string
}

func (e UnknownCommandError) Error() string {
	return fmt.Sprintf("grids: could not interpret command `%s'", e.Cmd)
}

// Ensure aborts on invariant violations. Unlike testing assertions it fires
// in every build; the conditions it guards are never user errors.
func Ensure(cond bool, msg string) {
	if !cond {
		panic("grids: invariant violated: " + msg)
	}
}

// Tags reserved for the repartition communication phases.
const (
	tagReassign     = 10
	tagNeighborhood = 11
)
