package grids

import (
	"testing"

	"github.com/notargets/pargrid/comm"
	"github.com/notargets/pargrid/globox"
)

func TestHybridToggleSwitchesImplementation(t *testing.T) {
	boxSize := [3]float64{1, 1, 1}
	const minCellSize = 0.125

	grids := runWorld(t, StrategyHybrid, 4, boxSize, minCellSize, nil,
		func(c comm.Comm, g ParallelLCGrid) {
			h := g.(*HybridGPDiff)
			if !h.useDiff {
				t.Errorf("rank %d: hybrid must start on diffusion", c.Rank())
			}
			if err := g.Command("toggle"); err != nil {
				t.Errorf("rank %d: toggle rejected: %v", c.Rank(), err)
			}
			// The switch is applied at the start of the next repartition.
			if _, err := g.Repartition(onesMetric(g), func() {}); err != nil {
				t.Errorf("rank %d: %v", c.Rank(), err)
				return
			}
			if h.useDiff {
				t.Errorf("rank %d: toggle did not switch to the graph method", c.Rank())
			}
			// And back again.
			if err := g.Command("toggle"); err != nil {
				t.Errorf("rank %d: %v", c.Rank(), err)
			}
			if _, err := g.Repartition(onesMetric(g), func() {}); err != nil {
				t.Errorf("rank %d: %v", c.Rank(), err)
				return
			}
			if !h.useDiff {
				t.Errorf("rank %d: second toggle did not switch back", c.Rank())
			}
		})

	gb, _ := globox.New(boxSize, minCellSize)
	checkInvariants(t, grids, gb)
}

func TestHybridDelegatesCommands(t *testing.T) {
	grids := runWorld(t, StrategyHybrid, 2, [3]float64{1, 1, 1}, 0.25, nil, nil)
	err := grids[0].Command("bogus")
	if _, ok := err.(UnknownCommandError); !ok {
		t.Fatalf("expected UnknownCommandError, got %v", err)
	}
}

// TestGraphRebalancesWeights drives the graph method directly with a skewed
// metric: the overloaded rank must end up with fewer cells.
func TestGraphRebalancesWeights(t *testing.T) {
	boxSize := [3]float64{1, 1, 1}
	const minCellSize = 0.125
	counts := make([]int, 4)

	grids := runWorld(t, StrategyGraph, 4, boxSize, minCellSize, nil,
		func(c comm.Comm, g ParallelLCGrid) {
			metric := func() []float64 {
				w := make([]float64, g.NLocalCells())
				for i := range w {
					if c.Rank() == 0 {
						w[i] = 4
					} else {
						w[i] = 1
					}
				}
				return w
			}
			if _, err := g.Repartition(metric, func() {}); err != nil {
				t.Errorf("rank %d: %v", c.Rank(), err)
				return
			}
			counts[c.Rank()] = g.NLocalCells()
		})

	gb, _ := globox.New(boxSize, minCellSize)
	checkInvariants(t, grids, gb)

	even := gb.NCells() / 4
	if counts[0] >= even {
		t.Errorf("rank 0 holds %d cells after rebalancing, want < %d", counts[0], even)
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	if total != gb.NCells() {
		t.Errorf("counts sum to %d, want %d", total, gb.NCells())
	}
}

// TestGraphExchangeStartCallback checks the callback contract: it fires
// only on change, after ownership is updated.
func TestGraphExchangeStartCallback(t *testing.T) {
	boxSize := [3]float64{1, 1, 1}
	const minCellSize = 0.25
	fired := make([]bool, 2)

	runWorld(t, StrategyGraph, 2, boxSize, minCellSize, nil,
		func(c comm.Comm, g ParallelLCGrid) {
			// Positional weights: the global profile is identical no matter
			// who owns a cell, so a second round is an exact fixed point.
			gb, _ := globox.New(boxSize, minCellSize)
			metric := func() []float64 {
				w := make([]float64, g.NLocalCells())
				for i := range w {
					center := gb.CellCenter(int(g.GlobalHash(Local(LocalIndex(i)))))
					if center[0] < 0.5 {
						w[i] = 3
					} else {
						w[i] = 1
					}
				}
				return w
			}
			pos := [3]float64{0.95, 0.95, 0.95}
			changed, err := g.Repartition(metric, func() {
				fired[c.Rank()] = true
				// Inside the callback the new ownership must already be
				// queryable.
				if _, err := g.PositionToRank(pos); err != nil {
					t.Errorf("rank %d: PositionToRank inside callback: %v", c.Rank(), err)
				}
			})
			if err != nil {
				t.Errorf("rank %d: %v", c.Rank(), err)
			}
			if changed && !fired[c.Rank()] {
				t.Errorf("rank %d: partition changed but callback not fired", c.Rank())
			}
			// A second identical call converges and must not fire again.
			fired[c.Rank()] = false
			changed, err = g.Repartition(metric, func() { fired[c.Rank()] = true })
			if err != nil {
				t.Errorf("rank %d: %v", c.Rank(), err)
			}
			if changed || fired[c.Rank()] {
				t.Errorf("rank %d: converged call changed=%v fired=%v", c.Rank(), changed, fired[c.Rank()])
			}
		})
}
