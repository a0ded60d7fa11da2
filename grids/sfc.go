package grids

import (
	"fmt"
	"sort"

	"github.com/notargets/gocfd/utils"
	"github.com/notargets/pargrid/comm"
	"github.com/notargets/pargrid/globox"
	"gonum.org/v1/gonum/floats"
)

// cellShellType classifies a cell of the SFC shell records.
type cellShellType uint8

const (
	shellInner cellShellType = iota
	shellBoundary
	shellGhost
)

// localShell is the per-cell record the SFC strategy maintains: shell type,
// grid coordinates, and for local cells the owners and local references of
// all 26 neighbors.
type localShell struct {
	typ   cellShellType
	coord [3]int

	neighborRank [26]Rank
	neighborRef  [26]int // flat local-or-ghost index; -1 on ghost records
}

// SFCGrid enumerates the cell grid along a 3D Morton curve embedded in a
// cube of side 2^level and assigns each rank one contiguous interval of the
// curve. Repartitioning recomputes interval lengths from an exclusive scan
// of the cell weights; a rank ending up with zero cells is fatal.
type SFCGrid struct {
	comm    comm.Comm
	self    Rank
	gbox    *globox.GlobalBox
	boxSize [3]float64

	level int

	// mortonOf maps the row-major global index to the Morton index;
	// mortonOrder lists all cells sorted by Morton index.
	mortonOf    []int64
	mortonOrder []GlobalIndex

	// counts and firstCellIdx describe the current intervals: cells per
	// rank and the globally replicated first Morton index of each rank,
	// with one sentinel entry past the end.
	counts       []int64
	firstCellIdx []int64

	// cells holds own cells in Morton order, then ghosts in discovery
	// order. shells parallels cells.
	cells         []GlobalIndex
	globalToLocal map[GlobalIndex]int
	nLocal        int
	nGhost        int
	shells        []localShell

	neighbors []Rank
	exchanges []GhostExchangeDesc
}

// cellMortonIdx interleaves the bits of a grid coordinate along the Z-order
// curve.
func cellMortonIdx(x, y, z int) int64 {
	var idx int64
	pos := int64(1)
	for i := 0; i < 21; i++ {
		if x&1 == 1 {
			idx += pos
		}
		x >>= 1
		pos <<= 1
		if y&1 == 1 {
			idx += pos
		}
		y >>= 1
		pos <<= 1
		if z&1 == 1 {
			idx += pos
		}
		z >>= 1
		pos <<= 1
	}
	return idx
}

func newSFCGrid(c comm.Comm, boxSize [3]float64, minCellSize float64) (*SFCGrid, error) {
	gb, err := globox.New(boxSize, minCellSize)
	if err != nil {
		return nil, err
	}
	if gb.NCells() < c.Size() {
		return nil, fmt.Errorf("grids: %d cells cannot host %d ranks", gb.NCells(), c.Size())
	}
	g := &SFCGrid{
		comm:    c,
		self:    Rank(c.Rank()),
		gbox:    gb,
		boxSize: boxSize,
	}
	maxDim := gb.GridSize[0]
	for d := 1; d < 3; d++ {
		if gb.GridSize[d] > maxDim {
			maxDim = gb.GridSize[d]
		}
	}
	for 1<<g.level < maxDim {
		g.level++
	}

	n := gb.NCells()
	g.mortonOf = make([]int64, n)
	g.mortonOrder = make([]GlobalIndex, n)
	for i := 0; i < n; i++ {
		x, y, z := gb.Unlinearize(i)
		g.mortonOf[i] = cellMortonIdx(x, y, z)
		g.mortonOrder[i] = GlobalIndex(i)
	}
	sort.Slice(g.mortonOrder, func(a, b int) bool {
		return g.mortonOf[g.mortonOrder[a]] < g.mortonOf[g.mortonOrder[b]]
	})

	// Initial intervals: contiguous curve positions, one bucket per rank.
	nprocs := c.Size()
	g.counts = make([]int64, nprocs)
	pm := utils.NewPartitionMap(nprocs, n)
	for r := 0; r < nprocs; r++ {
		lo, hi := pm.GetBucketRange(r)
		g.counts[r] = int64(hi - lo)
	}
	g.applyIntervals()
	g.reinitialize()
	return g, nil
}

// applyIntervals derives the own cell list and the replicated first-Morton
// array from the current counts.
func (g *SFCGrid) applyIntervals() {
	nprocs := g.comm.Size()
	g.firstCellIdx = make([]int64, nprocs+1)
	off := int64(0)
	for r := 0; r < nprocs; r++ {
		g.firstCellIdx[r] = g.mortonOf[g.mortonOrder[off]]
		if Rank(r) == g.self {
			own := g.mortonOrder[off : off+g.counts[r]]
			g.cells = append([]GlobalIndex(nil), own...)
			g.nLocal = len(own)
		}
		off += g.counts[r]
	}
	side := int64(1) << g.level
	g.firstCellIdx[nprocs] = side * side * side
}

// rankOfCell resolves ownership from the replicated first-Morton array with
// upper-bound semantics: a cell whose Morton index equals a rank's first
// index belongs to that rank.
func (g *SFCGrid) rankOfCell(c GlobalIndex) Rank {
	m := g.mortonOf[c]
	// First entry strictly greater than m, minus one.
	i := sort.Search(len(g.firstCellIdx), func(i int) bool {
		return g.firstCellIdx[i] > m
	})
	return Rank(i - 1)
}

// reinitialize rebuilds the shell records, the ghost layer and the exchange
// descriptors by a one-ring discovery pass over the own interval.
func (g *SFCGrid) reinitialize() {
	g.cells = g.cells[:g.nLocal]
	g.nGhost = 0
	g.globalToLocal = make(map[GlobalIndex]int, g.nLocal)
	for i, c := range g.cells {
		g.globalToLocal[c] = i
	}
	g.shells = make([]localShell, g.nLocal)

	// Local pass: classify cells and discover ghosts in neighbor order.
	for i := 0; i < g.nLocal; i++ {
		c := g.cells[i]
		x, y, z := g.gbox.Unlinearize(int(c))
		g.shells[i] = localShell{typ: shellInner, coord: [3]int{x, y, z}}
		for k := 1; k < 27; k++ {
			nb := GlobalIndex(g.gbox.Neighbor(int(c), k))
			owner := g.rankOfCell(nb)
			g.shells[i].neighborRank[k-1] = owner
			if owner != g.self {
				g.shells[i].typ = shellBoundary
				if _, ok := g.globalToLocal[nb]; !ok {
					g.globalToLocal[nb] = g.nLocal + g.nGhost
					g.cells = append(g.cells, nb)
					gx, gy, gz := g.gbox.Unlinearize(int(nb))
					ghost := localShell{typ: shellGhost, coord: [3]int{gx, gy, gz}}
					for k := range ghost.neighborRef {
						ghost.neighborRef[k] = -1
					}
					ghost.neighborRank[0] = owner // record keeps its owner in slot 0
					g.shells = append(g.shells, ghost)
					g.nGhost++
				}
			}
		}
	}
	// Second pass fills the neighbor references once all ghosts exist.
	for i := 0; i < g.nLocal; i++ {
		c := g.cells[i]
		for k := 1; k < 27; k++ {
			nb := GlobalIndex(g.gbox.Neighbor(int(c), k))
			g.shells[i].neighborRef[k-1] = g.globalToLocal[nb]
		}
	}

	g.prepareCommunication()
}

// prepareCommunication assembles per-rank send and recv lists from the
// shell records: ghosts group by owner, boundary cells go to every rank
// owning one of their ghost neighbors. Both lists are sorted by global cell
// index so the pairing agrees on both endpoints.
func (g *SFCGrid) prepareCommunication() {
	type lists struct {
		send, recv []GlobalIndex
		sent       map[GlobalIndex]bool
	}
	byRank := make(map[Rank]*lists)
	get := func(r Rank) *lists {
		l := byRank[r]
		if l == nil {
			l = &lists{sent: make(map[GlobalIndex]bool)}
			byRank[r] = l
		}
		return l
	}

	for gi := 0; gi < g.nGhost; gi++ {
		flat := g.nLocal + gi
		owner := g.shells[flat].neighborRank[0]
		get(owner).recv = append(get(owner).recv, g.cells[flat])
	}
	for i := 0; i < g.nLocal; i++ {
		if g.shells[i].typ != shellBoundary {
			continue
		}
		for k := 0; k < 26; k++ {
			owner := g.shells[i].neighborRank[k]
			if owner == g.self {
				continue
			}
			l := get(owner)
			if !l.sent[g.cells[i]] {
				l.sent[g.cells[i]] = true
				l.send = append(l.send, g.cells[i])
			}
		}
	}

	g.neighbors = g.neighbors[:0]
	for r := range byRank {
		g.neighbors = append(g.neighbors, r)
	}
	sortRanks(g.neighbors)

	g.exchanges = g.exchanges[:0]
	for _, r := range g.neighbors {
		l := byRank[r]
		Ensure(len(l.send) > 0 && len(l.recv) > 0, "one-sided exchange descriptor")
		sortGlobal(l.send)
		sortGlobal(l.recv)
		ex := GhostExchangeDesc{Dest: r}
		ex.Send = make([]LocalIndex, len(l.send))
		for i, c := range l.send {
			ex.Send[i] = LocalIndex(g.globalToLocal[c])
		}
		ex.Recv = make([]GhostIndex, len(l.recv))
		for i, c := range l.recv {
			ex.Recv[i] = GhostIndex(g.globalToLocal[c] - g.nLocal)
		}
		g.exchanges = append(g.exchanges, ex)
	}
}

func (g *SFCGrid) Repartition(m Metric, exchangeStart func()) (bool, error) {
	weights := m()
	Ensure(len(weights) == g.nLocal, "metric length does not match local cell count")

	localSum := floats.Sum(weights)
	sum := g.comm.AllreduceFloat64(comm.OpSum, []float64{localSum})[0]
	if sum <= 0 {
		return false, nil
	}
	prefix := g.comm.ExscanFloat64(localSum)
	target := sum / float64(g.comm.Size())

	nprocs := g.comm.Size()
	counts := make([]int64, nprocs)
	cellpref := prefix
	for i := 0; i < g.nLocal; i++ {
		proc := int(cellpref / target)
		if proc > nprocs-1 {
			proc = nprocs - 1
		}
		counts[proc]++
		cellpref += weights[i]
	}
	counts = g.comm.AllreduceInt64(comm.OpSum, counts)

	for _, n := range counts {
		if n == 0 {
			// No interval may be empty; there is no way to recover without
			// globally reshuffling the metric.
			return false, ErrPartitionEmpty
		}
	}

	same := true
	for r := range counts {
		if counts[r] != g.counts[r] {
			same = false
			break
		}
	}
	if same {
		return false, nil
	}

	g.counts = counts
	g.applyIntervals()
	// The replicated interval table answers position-to-rank already.
	exchangeStart()
	g.reinitialize()
	return true, nil
}

func (g *SFCGrid) NLocalCells() int                     { return g.nLocal }
func (g *SFCGrid) NGhostCells() int                     { return g.nGhost }
func (g *SFCGrid) CellSize() [3]float64                 { return g.gbox.CellSize }
func (g *SFCGrid) GridSize() [3]int                     { return g.gbox.GridSize }
func (g *SFCGrid) NeighborRanks() []Rank                { return g.neighbors }
func (g *SFCGrid) GetBoundaryInfo() []GhostExchangeDesc { return g.exchanges }

func (g *SFCGrid) CellNeighborIndex(c LocalIndex, k NeighIdx) CellRef {
	Ensure(int(c) >= 0 && int(c) < g.nLocal, "cell index outside local subdomain")
	if k == 0 {
		return Local(c)
	}
	return flatRef(g.shells[c].neighborRef[k-1], g.nLocal)
}

func (g *SFCGrid) GlobalHash(c CellRef) GlobalIndex {
	flat := c.Flat(g.nLocal)
	Ensure(flat >= 0 && flat < len(g.cells), "cell reference out of range")
	return g.cells[flat]
}

func (g *SFCGrid) PositionToRank(pos [3]float64) (Rank, error) {
	c, err := g.gbox.CellAt(pos)
	if err != nil {
		return RankNone, err
	}
	return g.rankOfCell(GlobalIndex(c)), nil
}

// PositionToCellIndex finds the local cell by binary search over the own
// Morton interval.
func (g *SFCGrid) PositionToCellIndex(pos [3]float64) (LocalIndex, error) {
	c, err := g.gbox.CellAt(pos)
	if err != nil {
		return 0, err
	}
	needle := g.mortonOf[c]
	i := sort.Search(g.nLocal, func(i int) bool {
		return g.mortonOf[g.cells[i]] >= needle
	})
	if i == g.nLocal || g.mortonOf[g.cells[i]] != needle {
		return 0, fmt.Errorf("%w: cell %d", ErrNotLocal, c)
	}
	return LocalIndex(i), nil
}

func (g *SFCGrid) PositionToNeighIdx(pos [3]float64) (int, error) {
	r, err := g.PositionToRank(pos)
	if err != nil {
		return 0, err
	}
	for i, n := range g.neighbors {
		if n == r {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: rank %d is not a neighbor", ErrNotLocal, r)
}

func (g *SFCGrid) Command(cmd string) error {
	return UnknownCommandError{Cmd: cmd}
}
