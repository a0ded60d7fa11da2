package grids

import (
	"errors"
	"sync"
	"testing"

	"github.com/notargets/pargrid/comm"
	"github.com/notargets/pargrid/globox"
)

func TestCellMortonIdx(t *testing.T) {
	cases := []struct {
		x, y, z int
		want    int64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{0, 1, 0, 2},
		{0, 0, 1, 4},
		{1, 1, 1, 7},
		{2, 0, 0, 8},
		{3, 3, 3, 63},
		{4, 0, 0, 64},
	}
	for _, c := range cases {
		if got := cellMortonIdx(c.x, c.y, c.z); got != c.want {
			t.Errorf("morton(%d,%d,%d) = %d, want %d", c.x, c.y, c.z, got, c.want)
		}
	}

	// Uniqueness over a full cube.
	seen := make(map[int64]bool)
	for z := 0; z < 8; z++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				m := cellMortonIdx(x, y, z)
				if seen[m] {
					t.Fatalf("duplicate morton index %d", m)
				}
				seen[m] = true
			}
		}
	}
}

// TestSFCUniformLoad is the S5 seed scenario: every rank holds an equal
// contiguous stretch of the Morton curve under constant weights.
func TestSFCUniformLoad(t *testing.T) {
	boxSize := [3]float64{16, 16, 16}
	const minCellSize = 1 // 16x16x16 cells
	grids := runWorld(t, StrategySFC, 4, boxSize, minCellSize, nil,
		func(c comm.Comm, g ParallelLCGrid) {
			changed, err := g.Repartition(onesMetric(g), func() {})
			if err != nil {
				t.Errorf("rank %d: %v", c.Rank(), err)
			}
			if changed {
				t.Errorf("rank %d: uniform weights moved cells", c.Rank())
			}
		})

	gb, _ := globox.New(boxSize, minCellSize)
	checkInvariants(t, grids, gb)
	for r, g := range grids {
		if g.NLocalCells() != 1024 {
			t.Errorf("rank %d: n_local %d, want 4096/4 = 1024", r, g.NLocalCells())
		}
	}
}

// TestSFCShedsDoubledWeights doubles one rank's weights; its interval must
// shrink and keep shrinking (monotonically non-increasing) while the rank
// keeps carrying double-weight cells.
func TestSFCShedsDoubledWeights(t *testing.T) {
	boxSize := [3]float64{16, 16, 16}
	const minCellSize = 2 // 8x8x8 cells
	var mu sync.Mutex
	var history []int

	grids := runWorld(t, StrategySFC, 4, boxSize, minCellSize, nil,
		func(c comm.Comm, g ParallelLCGrid) {
			metric := func() []float64 {
				w := make([]float64, g.NLocalCells())
				for i := range w {
					if c.Rank() == 0 {
						w[i] = 2
					} else {
						w[i] = 1
					}
				}
				return w
			}
			for round := 0; round < 4; round++ {
				if _, err := g.Repartition(metric, func() {}); err != nil {
					t.Errorf("rank %d round %d: %v", c.Rank(), round, err)
					return
				}
				c.Barrier()
				if c.Rank() == 0 {
					mu.Lock()
					history = append(history, g.NLocalCells())
					mu.Unlock()
				}
				c.Barrier()
			}
		})

	gb, _ := globox.New(boxSize, minCellSize)
	checkInvariants(t, grids, gb)

	even := gb.NCells() / 4
	if history[0] >= even {
		t.Errorf("after one round rank 0 holds %d cells, want < %d", history[0], even)
	}
	for i := 1; i < len(history); i++ {
		if history[i] > history[i-1] {
			t.Errorf("rank 0 interval grew from %d to %d", history[i-1], history[i])
		}
	}
}

func TestSFCPositionLookups(t *testing.T) {
	boxSize := [3]float64{1, 1, 1}
	const minCellSize = 0.25
	grids := runWorld(t, StrategySFC, 4, boxSize, minCellSize, nil, nil)
	gb, _ := globox.New(boxSize, minCellSize)

	for c := 0; c < gb.NCells(); c++ {
		pos := gb.CellCenter(c)
		owner, err := grids[0].PositionToRank(pos)
		if err != nil {
			t.Fatalf("PositionToRank(%v): %v", pos, err)
		}
		li, err := grids[owner].PositionToCellIndex(pos)
		if err != nil {
			t.Fatalf("owner %d cannot resolve %v: %v", owner, pos, err)
		}
		if got := grids[owner].GlobalHash(Local(li)); int(got) != c {
			t.Fatalf("morton lookup resolved the wrong cell: %d vs %d", got, c)
		}
		// Non-owners reject the position.
		for r, g := range grids {
			if Rank(r) == owner {
				continue
			}
			if _, err := g.PositionToCellIndex(pos); !errors.Is(err, ErrNotLocal) {
				t.Fatalf("rank %d accepted foreign position %v (%v)", r, pos, err)
			}
		}
	}
}

// TestSFCShellRecords checks the rebuilt shell classification: a cell whose
// 26 neighbors are all local is inner, everything else on the interval
// boundary; ghosts carry their owner.
func TestSFCShellRecords(t *testing.T) {
	boxSize := [3]float64{1, 1, 1}
	const minCellSize = 0.125
	grids := runWorld(t, StrategySFC, 2, boxSize, minCellSize, nil, nil)

	for r, pg := range grids {
		g := pg.(*SFCGrid)
		for i := 0; i < g.nLocal; i++ {
			foreign := false
			for k := 0; k < 26; k++ {
				if g.shells[i].neighborRank[k] != g.self {
					foreign = true
				}
			}
			wantType := shellInner
			if foreign {
				wantType = shellBoundary
			}
			if g.shells[i].typ != wantType {
				t.Fatalf("rank %d cell %d: shell type %d, want %d", r, i, g.shells[i].typ, wantType)
			}
		}
		for gi := 0; gi < g.nGhost; gi++ {
			sh := g.shells[g.nLocal+gi]
			if sh.typ != shellGhost {
				t.Fatalf("rank %d ghost %d: type %d", r, gi, sh.typ)
			}
			if sh.neighborRank[0] == g.self || sh.neighborRank[0] == RankNone {
				t.Fatalf("rank %d ghost %d: bad owner %d", r, gi, sh.neighborRank[0])
			}
		}
	}
}
