package grids

import (
	"sync"
	"testing"

	"github.com/notargets/pargrid/comm"
	"github.com/notargets/pargrid/globox"
)

// TestKDTreeUniformCube is the S6 seed scenario: box (4,4,4), cell size 1,
// 8 ranks with constant weights.
func TestKDTreeUniformCube(t *testing.T) {
	boxSize := [3]float64{4, 4, 4}
	grids := runWorld(t, StrategyKDTree, 8, boxSize, 1, nil,
		func(c comm.Comm, g ParallelLCGrid) {
			if _, err := g.Repartition(onesMetric(g), func() {}); err != nil {
				t.Errorf("rank %d: %v", c.Rank(), err)
			}
		})

	gb, _ := globox.New(boxSize, 1)
	checkInvariants(t, grids, gb)

	for r, g := range grids {
		if g.NLocalCells() != 8 {
			t.Errorf("rank %d: n_local %d, want 8 (2x2x2 sub-box)", r, g.NLocalCells())
		}
		if len(g.NeighborRanks()) != 7 {
			t.Errorf("rank %d: %d neighbors, want 7", r, len(g.NeighborRanks()))
		}
		kd := g.(*KDTreeGrid)
		if kd.myDom.Size() != [3]int{2, 2, 2} {
			t.Errorf("rank %d: sub-box %v, want 2x2x2", r, kd.myDom)
		}
	}

	// Every ghost cell is a local cell of its owner.
	for r, g := range grids {
		for gi := 0; gi < g.NGhostCells(); gi++ {
			h := g.GlobalHash(Ghost(GhostIndex(gi)))
			x, y, z := gb.Unlinearize(int(h))
			owner := grids[r].(*KDTreeGrid).tree.RankAt(x, y, z)
			if owner == r {
				t.Fatalf("rank %d: ghost %d owned by itself", r, gi)
			}
			found := false
			for c := 0; c < grids[owner].NLocalCells(); c++ {
				if grids[owner].GlobalHash(Local(LocalIndex(c))) == h {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("ghost cell %d of rank %d not local on owner %d", h, r, owner)
			}
		}
	}
}

// TestKDTreeFollowsWeights shifts all weight into one region and checks
// that the heavy rank sheds cells.
func TestKDTreeFollowsWeights(t *testing.T) {
	boxSize := [3]float64{1, 1, 1}
	const minCellSize = 0.125
	var mu sync.Mutex
	counts := make(map[int]int)

	grids := runWorld(t, StrategyKDTree, 4, boxSize, minCellSize, nil,
		func(c comm.Comm, g ParallelLCGrid) {
			gb, _ := globox.New(boxSize, minCellSize)
			metric := func() []float64 {
				w := make([]float64, g.NLocalCells())
				for i := range w {
					center := gb.CellCenter(int(g.GlobalHash(Local(LocalIndex(i)))))
					if center[0] < 0.25 {
						w[i] = 8
					} else {
						w[i] = 1
					}
				}
				return w
			}
			changed, err := g.Repartition(metric, func() {})
			if err != nil {
				t.Errorf("rank %d: %v", c.Rank(), err)
				return
			}
			if !changed {
				t.Errorf("rank %d: skewed weights did not change the tree", c.Rank())
			}
			mu.Lock()
			counts[c.Rank()] = g.NLocalCells()
			mu.Unlock()
		})

	gb, _ := globox.New(boxSize, minCellSize)
	checkInvariants(t, grids, gb)

	// The rank owning the heavy region must hold fewer cells than an even
	// share.
	heavyOwner, err := grids[0].PositionToRank([3]float64{0.05, 0.05, 0.05})
	if err != nil {
		t.Fatalf("PositionToRank: %v", err)
	}
	even := gb.NCells() / 4
	if counts[int(heavyOwner)] >= even {
		t.Errorf("heavy rank %d holds %d cells, want < %d", heavyOwner, counts[int(heavyOwner)], even)
	}
}

func TestKDTreePositionToRankMatchesTree(t *testing.T) {
	boxSize := [3]float64{2, 2, 2}
	grids := runWorld(t, StrategyKDTree, 3, boxSize, 0.5, nil, nil)
	gb, _ := globox.New(boxSize, 0.5)
	for c := 0; c < gb.NCells(); c++ {
		pos := gb.CellCenter(c)
		want, err := grids[0].PositionToRank(pos)
		if err != nil {
			t.Fatalf("PositionToRank: %v", err)
		}
		for r := 1; r < 3; r++ {
			got, err := grids[r].PositionToRank(pos)
			if err != nil || got != want {
				t.Fatalf("rank %d disagrees on %v: %d vs %d", r, pos, got, want)
			}
		}
	}
}
