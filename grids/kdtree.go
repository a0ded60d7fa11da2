package grids

import (
	"fmt"

	"github.com/notargets/pargrid/comm"
	"github.com/notargets/pargrid/globox"
	"github.com/notargets/pargrid/kdpart"
)

// KDTreeGrid assigns every rank a rectangular sub-box of the cell grid by
// recursive weight-balanced bisection. Repartitioning rebuilds the tree
// from the gathered global weight profile; every rank derives the identical
// tree, so ownership queries descend it in O(log P).
type KDTreeGrid struct {
	comm    comm.Comm
	self    Rank
	gbox    *globox.GlobalBox
	boxSize [3]float64

	tree  *kdpart.Tree
	myDom kdpart.Domain

	sub *subdomain
}

func newKDTreeGrid(c comm.Comm, boxSize [3]float64, minCellSize float64) (*KDTreeGrid, error) {
	gb, err := globox.New(boxSize, minCellSize)
	if err != nil {
		return nil, err
	}
	g := &KDTreeGrid{
		comm:    c,
		self:    Rank(c.Rank()),
		gbox:    gb,
		boxSize: boxSize,
	}
	g.tree, err = kdpart.Build(gb.GridSize, c.Size(), func(x, y, z int) float64 { return 1 })
	if err != nil {
		return nil, err
	}
	g.reinit()
	return g, nil
}

func (g *KDTreeGrid) cellOwner(c GlobalIndex) Rank {
	x, y, z := g.gbox.Unlinearize(int(c))
	return Rank(g.tree.RankAt(x, y, z))
}

// reinit enumerates the own sub-box in ascending global order and derives
// ghost layer and exchange descriptors against the tree ownership.
func (g *KDTreeGrid) reinit() {
	g.myDom = g.tree.SubdomainOf(int(g.self))
	localCells := make([]GlobalIndex, 0, g.myDom.Volume())
	for z := g.myDom.Lo[2]; z < g.myDom.Hi[2]; z++ {
		for y := g.myDom.Lo[1]; y < g.myDom.Hi[1]; y++ {
			for x := g.myDom.Lo[0]; x < g.myDom.Hi[0]; x++ {
				localCells = append(localCells, GlobalIndex(g.gbox.Linearize(x, y, z)))
			}
		}
	}
	g.sub = buildSubdomain(g.gbox, g.self, localCells, g.cellOwner)
}

func (g *KDTreeGrid) Repartition(m Metric, exchangeStart func()) (bool, error) {
	weights := m()
	Ensure(len(weights) == g.sub.nLocal, "metric length does not match local cell count")

	dense := make([]float64, g.gbox.NCells())
	for i := 0; i < g.sub.nLocal; i++ {
		dense[g.sub.cells[i]] = weights[i]
	}
	global := g.comm.AllreduceFloat64(comm.OpSum, dense)

	newTree, err := kdpart.Build(g.gbox.GridSize, g.comm.Size(), func(x, y, z int) float64 {
		return global[g.gbox.Linearize(x, y, z)]
	})
	if err != nil {
		return false, err
	}
	if g.tree.Equal(newTree) {
		return false, nil
	}

	g.tree = newTree
	exchangeStart()
	g.reinit()
	return true, nil
}

func (g *KDTreeGrid) NLocalCells() int                     { return g.sub.nLocal }
func (g *KDTreeGrid) NGhostCells() int                     { return g.sub.nGhost }
func (g *KDTreeGrid) CellSize() [3]float64                 { return g.gbox.CellSize }
func (g *KDTreeGrid) GridSize() [3]int                     { return g.gbox.GridSize }
func (g *KDTreeGrid) NeighborRanks() []Rank                { return g.sub.neighbors }
func (g *KDTreeGrid) GetBoundaryInfo() []GhostExchangeDesc { return g.sub.exchanges }

func (g *KDTreeGrid) CellNeighborIndex(c LocalIndex, k NeighIdx) CellRef {
	return g.sub.cellNeighborIndex(c, k)
}

func (g *KDTreeGrid) GlobalHash(c CellRef) GlobalIndex { return g.sub.globalHash(c) }

func (g *KDTreeGrid) PositionToRank(pos [3]float64) (Rank, error) {
	c, err := g.gbox.CellAt(pos)
	if err != nil {
		return RankNone, err
	}
	return g.cellOwner(GlobalIndex(c)), nil
}

func (g *KDTreeGrid) PositionToCellIndex(pos [3]float64) (LocalIndex, error) {
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

func (g *KDTreeGrid) PositionToNeighIdx(pos [3]float64) (int, error) {
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

func (g *KDTreeGrid) Command(cmd string) error {
	return UnknownCommandError{Cmd: cmd}
}
