package grids

import (
	"fmt"

	"github.com/notargets/gocfd/utils"
	"github.com/notargets/pargrid/comm"
	"github.com/notargets/pargrid/globox"
)

// CartGrid is the static Cartesian baseline: the cell grid is cut into a
// fixed process grid of axis-aligned blocks. Repartition is a no-op; the
// strategy exists as the trivial reference the balancing strategies are
// measured against.
type CartGrid struct {
	comm    comm.Comm
	self    Rank
	gbox    *globox.GlobalBox
	boxSize [3]float64

	procGrid [3]int
	procPos  [3]int
	axis     [3]*utils.PartitionMap

	sub *subdomain
}

func newCartGrid(c comm.Comm, boxSize [3]float64, minCellSize float64) (*CartGrid, error) {
	gb, err := globox.New(boxSize, minCellSize)
	if err != nil {
		return nil, err
	}
	g := &CartGrid{
		comm:     c,
		self:     Rank(c.Rank()),
		gbox:     gb,
		boxSize:  boxSize,
		procGrid: procGridDims(c.Size(), gb.GridSize),
	}
	for d := 0; d < 3; d++ {
		if g.procGrid[d] > gb.GridSize[d] {
			return nil, fmt.Errorf("grids: process grid %v exceeds cell grid %v", g.procGrid, gb.GridSize)
		}
		g.axis[d] = utils.NewPartitionMap(g.procGrid[d], gb.GridSize[d])
	}
	r := c.Rank()
	g.procPos[0] = r % g.procGrid[0]
	r /= g.procGrid[0]
	g.procPos[1] = r % g.procGrid[1]
	g.procPos[2] = r / g.procGrid[1]

	var localCells []GlobalIndex
	x0, x1 := g.axis[0].GetBucketRange(g.procPos[0])
	y0, y1 := g.axis[1].GetBucketRange(g.procPos[1])
	z0, z1 := g.axis[2].GetBucketRange(g.procPos[2])
	for z := z0; z < z1; z++ {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				localCells = append(localCells, GlobalIndex(gb.Linearize(x, y, z)))
			}
		}
	}
	g.sub = buildSubdomain(gb, g.self, localCells, g.cellOwner)
	return g, nil
}

// cellOwner maps a global cell to its rank from the per-axis bucket maps.
func (g *CartGrid) cellOwner(c GlobalIndex) Rank {
	x, y, z := g.gbox.Unlinearize(int(c))
	px, _, _ := g.axis[0].GetBucket(x)
	py, _, _ := g.axis[1].GetBucket(y)
	pz, _, _ := g.axis[2].GetBucket(z)
	return Rank(px + g.procGrid[0]*(py+g.procGrid[1]*pz))
}

func (g *CartGrid) NLocalCells() int         { return g.sub.nLocal }
func (g *CartGrid) NGhostCells() int         { return g.sub.nGhost }
func (g *CartGrid) CellSize() [3]float64     { return g.gbox.CellSize }
func (g *CartGrid) GridSize() [3]int         { return g.gbox.GridSize }
func (g *CartGrid) NeighborRanks() []Rank    { return g.sub.neighbors }
func (g *CartGrid) GetBoundaryInfo() []GhostExchangeDesc { return g.sub.exchanges }

func (g *CartGrid) CellNeighborIndex(c LocalIndex, k NeighIdx) CellRef {
	return g.sub.cellNeighborIndex(c, k)
}

func (g *CartGrid) GlobalHash(c CellRef) GlobalIndex { return g.sub.globalHash(c) }

func (g *CartGrid) PositionToRank(pos [3]float64) (Rank, error) {
	c, err := g.gbox.CellAt(pos)
	if err != nil {
		return RankNone, err
	}
	return g.cellOwner(GlobalIndex(c)), nil
}

func (g *CartGrid) PositionToCellIndex(pos [3]float64) (LocalIndex, error) {
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

func (g *CartGrid) PositionToNeighIdx(pos [3]float64) (int, error) {
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

// Repartition never moves cells on the Cartesian grid.
func (g *CartGrid) Repartition(m Metric, exchangeStart func()) (bool, error) {
	return false, nil
}

func (g *CartGrid) Command(cmd string) error {
	return UnknownCommandError{Cmd: cmd}
}
