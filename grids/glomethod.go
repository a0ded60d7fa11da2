package grids

import (
	"fmt"

	"github.com/notargets/gocfd/utils"
	"github.com/notargets/pargrid/comm"
	"github.com/notargets/pargrid/globox"
)

// gloMethod carries the state shared by strategies that materialize the
// full partition vector (diffusion, graph): the vector itself, the derived
// subdomain, and the neighborhood graph communicator. Each rank holds a
// copy of the whole vector, but only entries within distance one of its own
// cells are kept up to date unless keepFull is set.
type gloMethod struct {
	comm    comm.Comm
	self    Rank
	gbox    *globox.GlobalBox
	boxSize [3]float64

	partition []Rank
	keepFull  bool

	sub   *subdomain
	graph *comm.GraphComm
}

// Initial partition kinds accepted by the factory's Extra.InitPart.
const (
	InitPartLinear = "Linear"
	InitPartCart1D = "Cart1D"
	InitPartCart3D = "Cart3D"
)

func newGloMethod(c comm.Comm, boxSize [3]float64, minCellSize float64, keepFull bool, initPart string) (*gloMethod, error) {
	gb, err := globox.New(boxSize, minCellSize)
	if err != nil {
		return nil, err
	}
	if gb.NCells() < c.Size() {
		return nil, fmt.Errorf("grids: %d cells cannot host %d ranks", gb.NCells(), c.Size())
	}
	g := &gloMethod{
		comm:     c,
		self:     Rank(c.Rank()),
		gbox:     gb,
		boxSize:  boxSize,
		keepFull: keepFull,
	}
	if g.partition, err = initialPartition(gb, c.Size(), initPart); err != nil {
		return nil, err
	}
	if err := g.reinit(); err != nil {
		return nil, err
	}
	return g, nil
}

// initialPartition assigns every global cell an owner before the first
// repartition round.
func initialPartition(gb *globox.GlobalBox, nprocs int, kind string) ([]Rank, error) {
	n := gb.NCells()
	part := make([]Rank, n)
	switch kind {
	case "", InitPartLinear:
		// Contiguous index ranges, one bucket per rank.
		pm := utils.NewPartitionMap(nprocs, n)
		for i := 0; i < n; i++ {
			b, _, _ := pm.GetBucket(i)
			part[i] = Rank(b)
		}
	case InitPartCart1D:
		// Slabs along the longest grid axis.
		axis := 0
		for d := 1; d < 3; d++ {
			if gb.GridSize[d] > gb.GridSize[axis] {
				axis = d
			}
		}
		pm := utils.NewPartitionMap(nprocs, gb.GridSize[axis])
		for i := 0; i < n; i++ {
			x, y, z := gb.Unlinearize(i)
			c := [3]int{x, y, z}
			b, _, _ := pm.GetBucket(c[axis])
			part[i] = Rank(b)
		}
	case InitPartCart3D:
		pg := procGridDims(nprocs, gb.GridSize)
		pms := [3]*utils.PartitionMap{}
		for d := 0; d < 3; d++ {
			pms[d] = utils.NewPartitionMap(pg[d], gb.GridSize[d])
		}
		for i := 0; i < n; i++ {
			x, y, z := gb.Unlinearize(i)
			c := [3]int{x, y, z}
			var p [3]int
			for d := 0; d < 3; d++ {
				p[d], _, _ = pms[d].GetBucket(c[d])
			}
			part[i] = Rank(p[0] + pg[0]*(p[1]+pg[1]*p[2]))
		}
	default:
		return nil, fmt.Errorf("grids: unknown initial partition %q", kind)
	}
	return part, nil
}

// procGridDims factorizes nprocs into three dimensions, largest factors to
// the longest grid axes. Deterministic.
func procGridDims(nprocs int, grid [3]int) [3]int {
	dims := [3]int{1, 1, 1}
	// Collect prime factors in ascending order; the loop below hands them
	// out largest first.
	var factors []int
	p := nprocs
	for f := 2; f*f <= p; f++ {
		for p%f == 0 {
			factors = append(factors, f)
			p /= f
		}
	}
	if p > 1 {
		factors = append(factors, p)
	}
	for i := len(factors) - 1; i >= 0; i-- {
		// Grow the axis with the most grid cells per process slot.
		best := 0
		for d := 1; d < 3; d++ {
			if grid[d]*dims[best] > grid[best]*dims[d] {
				best = d
			}
		}
		dims[best] *= factors[i]
	}
	return dims
}

// clearUnknownCellOwnership drops partition entries whose full-shell
// neighborhood contains no cell of this rank. Entries inside the one-cell
// halo stay known (invariant I6).
func (g *gloMethod) clearUnknownCellOwnership() {
	for i := range g.partition {
		if g.partition[i] == g.self || g.partition[i] == RankNone {
			continue
		}
		keep := false
		for _, n := range g.gbox.FullShell(i) {
			if g.partition[n] == g.self {
				keep = true
				break
			}
		}
		if !keep {
			g.partition[i] = RankNone
		}
	}
}

// reinit rebuilds every structure derived from the partition vector: local
// and ghost cells, border cells, exchange descriptors and the neighborhood
// graph communicator. The previous graph communicator is always released.
func (g *gloMethod) reinit() error {
	var localCells []GlobalIndex
	for i, r := range g.partition {
		if r == g.self {
			localCells = append(localCells, GlobalIndex(i))
		}
	}
	if len(localCells) == 0 {
		if g.graph != nil {
			g.graph.Free()
		}
		return ErrPartitionEmpty
	}
	if !g.keepFull {
		g.clearUnknownCellOwnership()
	}
	g.sub = buildSubdomain(g.gbox, g.self, localCells, func(c GlobalIndex) Rank {
		return g.partition[c]
	})
	if g.graph != nil {
		g.graph.Free()
	}
	g.graph = g.comm.Graph(g.sub.neighborInts())
	return nil
}

func (g *gloMethod) NLocalCells() int { return g.sub.nLocal }
func (g *gloMethod) NGhostCells() int { return g.sub.nGhost }

func (g *gloMethod) CellSize() [3]float64 { return g.gbox.CellSize }
func (g *gloMethod) GridSize() [3]int     { return g.gbox.GridSize }

func (g *gloMethod) NeighborRanks() []Rank { return g.sub.neighbors }

func (g *gloMethod) CellNeighborIndex(c LocalIndex, k NeighIdx) CellRef {
	return g.sub.cellNeighborIndex(c, k)
}

func (g *gloMethod) GetBoundaryInfo() []GhostExchangeDesc { return g.sub.exchanges }

func (g *gloMethod) GlobalHash(c CellRef) GlobalIndex { return g.sub.globalHash(c) }

func (g *gloMethod) PositionToRank(pos [3]float64) (Rank, error) {
	c, err := g.gbox.CellAt(pos)
	if err != nil {
		return RankNone, err
	}
	r := g.partition[c]
	if r == RankNone {
		return RankNone, fmt.Errorf("%w: cell %d not in scope", ErrNotLocal, c)
	}
	return r, nil
}

func (g *gloMethod) PositionToCellIndex(pos [3]float64) (LocalIndex, error) {
	r, err := g.PositionToRank(pos)
	if err != nil {
		return 0, err
	}
	if r != g.self {
		return 0, fmt.Errorf("%w: owned by rank %d", ErrNotLocal, r)
	}
	c, _ := g.gbox.CellAt(pos)
	return LocalIndex(g.sub.globalToLocal[GlobalIndex(c)]), nil
}

func (g *gloMethod) PositionToNeighIdx(pos [3]float64) (int, error) {
	r, err := g.PositionToRank(pos)
	if err != nil {
		return 0, err
	}
	ni := g.sub.neighborIndex(r)
	if ni < 0 {
		return 0, fmt.Errorf("%w: rank %d is not a neighbor", ErrNotLocal, r)
	}
	return ni, nil
}

func (g *gloMethod) Command(cmd string) error {
	return UnknownCommandError{Cmd: cmd}
}
