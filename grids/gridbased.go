package grids

import (
	"fmt"

	"github.com/notargets/pargrid/comm"
	"github.com/notargets/pargrid/globox"
	"github.com/notargets/pargrid/tetra"
	"gonum.org/v1/gonum/floats"
)

// SubdomainMidpoint maps a cell to the point that represents it in the
// grid-based strategy: containment of this point decides cell ownership and
// its weighted average forms the center of load. Defaults to the cell
// centroid.
type SubdomainMidpoint func(gb *globox.GlobalBox, c GlobalIndex) GridPoint

// GridPoint is a position in the box, possibly unwrapped beyond it.
type GridPoint = [3]float64

// GridBasedGrid tiles the box with one octagon per rank. The octagon
// corners form a 3D grid of movable points, initially the regular Cartesian
// subdivision; each repartition round every rank shifts its own corner (the
// upper-right-back vertex of its subdomain) toward its center of load. The
// set of octagon neighbors in the process grid is fixed for the lifetime of
// the grid, even as the corner points move.
type GridBasedGrid struct {
	comm    comm.Comm
	self    Rank
	gbox    *globox.GlobalBox
	boxSize [3]float64

	// Factor for grid point displacement, settable via "set mu".
	mu float64

	// While the decomposition still is the regular grid, position-to-rank
	// queries can be answered for the whole box. Afterwards only for the
	// own subdomain plus ghost layer.
	isRegularGrid bool

	prec     tetra.Precision
	cutoff   float64
	midpoint SubdomainMidpoint

	procGrid [3]int
	procPos  [3]int

	gridpoint  GridPoint   // own movable corner
	gridpoints []GridPoint // gathered corners of every rank

	myDom        tetra.Octagon
	neighborDoms []tetra.Octagon
	octNeighbors []Rank // fixed process-grid neighborhood, ascending

	sub *subdomain
}

const defaultMu = 0.1

func newGridBasedGrid(c comm.Comm, boxSize [3]float64, minCellSize float64, midpoint SubdomainMidpoint) (*GridBasedGrid, error) {
	gb, err := globox.New(boxSize, minCellSize)
	if err != nil {
		return nil, err
	}
	if midpoint == nil {
		midpoint = func(gb *globox.GlobalBox, c GlobalIndex) GridPoint {
			return gb.CellCenter(int(c))
		}
	}
	g := &GridBasedGrid{
		comm:          c,
		self:          Rank(c.Rank()),
		gbox:          gb,
		boxSize:       boxSize,
		mu:            defaultMu,
		isRegularGrid: true,
		prec:          tetra.DefaultPrecision(boxSize),
		cutoff:        minCellSize,
		midpoint:      midpoint,
		procGrid:      procGridDims(c.Size(), gb.GridSize),
	}
	r := c.Rank()
	g.procPos[0] = r % g.procGrid[0]
	r /= g.procGrid[0]
	g.procPos[1] = r % g.procGrid[1]
	g.procPos[2] = r / g.procGrid[1]

	g.initNeighbors()
	g.initPartitioning()
	if err := g.reinit(); err != nil {
		return nil, err
	}
	return g, nil
}

// initNeighbors collects the unique ranks of the 26 Moore neighbors in the
// process grid. This set never changes.
func (g *GridBasedGrid) initNeighbors() {
	seen := make(map[Rank]bool)
	for k := 1; k < 27; k++ {
		off := globox.NeighborOffset(k)
		r := g.rankAtProcPos(
			g.procPos[0]+off[0],
			g.procPos[1]+off[1],
			g.procPos[2]+off[2],
		)
		if r != g.self && !seen[r] {
			seen[r] = true
			g.octNeighbors = append(g.octNeighbors, r)
		}
	}
	sortRanks(g.octNeighbors)
}

func (g *GridBasedGrid) rankAtProcPos(px, py, pz int) Rank {
	px = wrapMod(px, g.procGrid[0])
	py = wrapMod(py, g.procGrid[1])
	pz = wrapMod(pz, g.procGrid[2])
	return Rank(px + g.procGrid[0]*(py+g.procGrid[1]*pz))
}

func wrapMod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

// initPartitioning places every corner point on the regular Cartesian
// subdivision.
func (g *GridBasedGrid) initPartitioning() {
	nprocs := g.comm.Size()
	g.gridpoints = make([]GridPoint, nprocs)
	for r := 0; r < nprocs; r++ {
		px := r % g.procGrid[0]
		py := r / g.procGrid[0] % g.procGrid[1]
		pz := r / (g.procGrid[0] * g.procGrid[1])
		g.gridpoints[r] = GridPoint{
			float64(px+1) * g.boxSize[0] / float64(g.procGrid[0]),
			float64(py+1) * g.boxSize[1] / float64(g.procGrid[1]),
			float64(pz+1) * g.boxSize[2] / float64(g.procGrid[2]),
		}
	}
	g.gridpoint = g.gridpoints[g.self]
}

// boundingBox assembles the eight corner vertices of the subdomain of rank
// r from the gathered grid points. Vertex bit b selects the lower grid
// point of that axis; crossing the lower domain boundary mirrors the
// wrapped point down by one box length.
func (g *GridBasedGrid) boundingBox(points []GridPoint, r Rank) tetra.BoundingBox {
	px := int(r) % g.procGrid[0]
	py := int(r) / g.procGrid[0] % g.procGrid[1]
	pz := int(r) / (g.procGrid[0] * g.procGrid[1])
	q0 := [3]int{px + 1, py + 1, pz + 1}

	var bb tetra.BoundingBox
	for k := 0; k < 8; k++ {
		q := q0
		for d := 0; d < 3; d++ {
			if k>>d&1 == 1 {
				q[d]--
			}
			if q[d] == 0 {
				q[d] = g.procGrid[d]
				bb.Mirrors[k][d] = -1
			}
		}
		src := g.rankAtProcPos(q[0]-1, q[1]-1, q[2]-1)
		bb.Vertices[k] = points[src]
	}
	return bb
}

// buildOctagons constructs candidate octagons for this rank and its fixed
// neighbors from a gathered point set. The second return is false if any
// candidate is degenerate or thinner than the cutoff.
func (g *GridBasedGrid) buildOctagons(points []GridPoint) (tetra.Octagon, []tetra.Octagon, bool) {
	my := tetra.NewWithCutoff(g.prec, g.boxSize, g.boundingBox(points, g.self), g.cutoff)
	ok := my.IsValid()
	doms := make([]tetra.Octagon, len(g.octNeighbors))
	for i, r := range g.octNeighbors {
		doms[i] = tetra.NewWithCutoff(g.prec, g.boxSize, g.boundingBox(points, r), g.cutoff)
		if !doms[i].IsValid() {
			ok = false
		}
	}
	return my, doms, ok
}

// imageShifts are the periodic images tested for octagon containment: the
// corner points live in (-L, L], so each coordinate is tried as-is and
// shifted down one box length.
var imageShifts = [8][3]int{
	{0, 0, 0}, {-1, 0, 0}, {0, -1, 0}, {-1, -1, 0},
	{0, 0, -1}, {-1, 0, -1}, {0, -1, -1}, {-1, -1, -1},
}

func (g *GridBasedGrid) octContains(o *tetra.Octagon, p GridPoint) bool {
	for _, s := range imageShifts {
		q := GridPoint{
			p[0] + float64(s[0])*g.boxSize[0],
			p[1] + float64(s[1])*g.boxSize[1],
			p[2] + float64(s[2])*g.boxSize[2],
		}
		if o.Contains(q) {
			return true
		}
	}
	return false
}

// gloidxToRank resolves a cell against the own and the neighbor octagons.
func (g *GridBasedGrid) gloidxToRank(c GlobalIndex) Rank {
	p := g.midpoint(g.gbox, c)
	if g.octContains(&g.myDom, p) {
		return g.self
	}
	for i := range g.neighborDoms {
		if g.octContains(&g.neighborDoms[i], p) {
			return g.octNeighbors[i]
		}
	}
	return RankNone
}

// reinit rebuilds the octagons from the current grid points and derives the
// local cell set and exchange descriptors.
func (g *GridBasedGrid) reinit() error {
	var ok bool
	g.myDom, g.neighborDoms, ok = g.buildOctagons(g.gridpoints)
	if !ok {
		return fmt.Errorf("%w: initial decomposition invalid", ErrInvalidOctagon)
	}
	localCells := g.collectLocalCells()
	if len(localCells) == 0 {
		return ErrPartitionEmpty
	}
	g.sub = buildSubdomain(g.gbox, g.self, localCells, g.gloidxToRank)
	return nil
}

func (g *GridBasedGrid) collectLocalCells() []GlobalIndex {
	var cells []GlobalIndex
	for c := 0; c < g.gbox.NCells(); c++ {
		if g.octContains(&g.myDom, g.midpoint(g.gbox, GlobalIndex(c))) {
			cells = append(cells, GlobalIndex(c))
		}
	}
	return cells
}

// centerOfLoad is the weighted average of the local cell midpoints.
func (g *GridBasedGrid) centerOfLoad(weights []float64) GridPoint {
	total := floats.Sum(weights)
	if total <= 0 {
		return g.gridpoint
	}
	var c GridPoint
	for i := 0; i < g.sub.nLocal; i++ {
		p := g.midpoint(g.gbox, g.sub.cells[i])
		for d := 0; d < 3; d++ {
			c[d] += weights[i] * p[d]
		}
	}
	for d := 0; d < 3; d++ {
		c[d] /= total
	}
	return c
}

func (g *GridBasedGrid) Repartition(m Metric, exchangeStart func()) (bool, error) {
	weights := m()
	Ensure(len(weights) == g.sub.nLocal, "metric length does not match local cell count")

	c := g.centerOfLoad(weights)
	shifted := g.gridpoint
	for d := 0; d < 3; d++ {
		shifted[d] += g.mu * (c[d] - shifted[d])
	}

	flat := g.comm.AllgatherFloat64(shifted[:])
	points := make([]GridPoint, g.comm.Size())
	for r := range points {
		copy(points[r][:], flat[3*r:3*r+3])
	}

	myDom, neighborDoms, ok := g.buildOctagons(points)
	okVal := int64(1)
	if !ok {
		okVal = 0
	}
	if g.comm.AllreduceInt64(comm.OpMin, []int64{okVal})[0] == 0 {
		// Some candidate octagon somewhere is invalid: roll back the round.
		return false, nil
	}

	oldLocal := g.sub.cells[:g.sub.nLocal]
	g.gridpoint = shifted
	g.gridpoints = points
	g.myDom = myDom
	g.neighborDoms = neighborDoms
	g.isRegularGrid = false

	newLocal := g.collectLocalCells()

	changed := int64(0)
	if !equalGlobal(oldLocal, newLocal) {
		changed = 1
	}
	if g.comm.AllreduceInt64(comm.OpMax, []int64{changed})[0] == 0 {
		return false, nil
	}
	if len(newLocal) == 0 {
		return false, ErrPartitionEmpty
	}

	// Ownership is final here: positions resolve against the new octagons.
	exchangeStart()
	g.sub = buildSubdomain(g.gbox, g.self, newLocal, g.gloidxToRank)
	return true, nil
}

func equalGlobal(a, b []GlobalIndex) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (g *GridBasedGrid) NLocalCells() int                     { return g.sub.nLocal }
func (g *GridBasedGrid) NGhostCells() int                     { return g.sub.nGhost }
func (g *GridBasedGrid) CellSize() [3]float64                 { return g.gbox.CellSize }
func (g *GridBasedGrid) GridSize() [3]int                     { return g.gbox.GridSize }
func (g *GridBasedGrid) NeighborRanks() []Rank                { return g.sub.neighbors }
func (g *GridBasedGrid) GetBoundaryInfo() []GhostExchangeDesc { return g.sub.exchanges }

func (g *GridBasedGrid) CellNeighborIndex(c LocalIndex, k NeighIdx) CellRef {
	return g.sub.cellNeighborIndex(c, k)
}

func (g *GridBasedGrid) GlobalHash(c CellRef) GlobalIndex { return g.sub.globalHash(c) }

func (g *GridBasedGrid) PositionToRank(pos [3]float64) (Rank, error) {
	if _, err := g.gbox.CellAt(pos); err != nil {
		return RankNone, err
	}
	if g.isRegularGrid {
		return g.cartTopologyPositionToRank(pos), nil
	}
	if g.octContains(&g.myDom, pos) {
		return g.self, nil
	}
	for i := range g.neighborDoms {
		if g.octContains(&g.neighborDoms[i], pos) {
			return g.octNeighbors[i], nil
		}
	}
	return RankNone, fmt.Errorf("%w: position beyond own subdomain and ghost layer", ErrNotLocal)
}

// cartTopologyPositionToRank answers box-wide queries while the
// decomposition still is the regular grid.
func (g *GridBasedGrid) cartTopologyPositionToRank(pos [3]float64) Rank {
	var p [3]int
	for d := 0; d < 3; d++ {
		p[d] = int(pos[d] / g.boxSize[d] * float64(g.procGrid[d]))
		if p[d] >= g.procGrid[d] {
			p[d] = g.procGrid[d] - 1
		}
	}
	return Rank(p[0] + g.procGrid[0]*(p[1]+g.procGrid[1]*p[2]))
}

func (g *GridBasedGrid) PositionToCellIndex(pos [3]float64) (LocalIndex, error) {
	c, err := g.gbox.CellAt(pos)
	if err != nil {
		return 0, err
	}
	flat, ok := g.sub.globalToLocal[GlobalIndex(c)]
	if !ok || flat >= g.sub.nLocal {
		return 0, fmt.Errorf("%w: cell %d", ErrNotLocal, c)
	}
	return LocalIndex(flat), nil
}

func (g *GridBasedGrid) PositionToNeighIdx(pos [3]float64) (int, error) {
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

// Command understands "set mu <value>" with mu in (0, 0.5].
func (g *GridBasedGrid) Command(cmd string) error {
	var mu float64
	if n, err := fmt.Sscanf(cmd, "set mu %f", &mu); err == nil && n == 1 {
		if mu <= 0 || mu > 0.5 {
			return UnknownCommandError{Cmd: cmd}
		}
		g.mu = mu
		return nil
	}
	return UnknownCommandError{Cmd: cmd}
}

func sortRanks(rs []Rank) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j] < rs[j-1]; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}
