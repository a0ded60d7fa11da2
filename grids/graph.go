package grids

import (
	"github.com/notargets/pargrid/comm"
	"gonum.org/v1/gonum/floats"
)

// Graph is the global repartitioning method over the materialized partition
// vector: all ranks assemble the complete cell weight profile, then cut the
// row-major cell ordering into contiguous weight-balanced intervals. Every
// rank computes the identical new partition, so no ownership needs to be
// negotiated afterwards.
type Graph struct {
	gloMethod
}

func newGraph(c comm.Comm, boxSize [3]float64, minCellSize float64, initPart string) (*Graph, error) {
	g, err := newGloMethod(c, boxSize, minCellSize, true, initPart)
	if err != nil {
		return nil, err
	}
	return &Graph{gloMethod: *g}, nil
}

func (g *Graph) Repartition(m Metric, exchangeStart func()) (bool, error) {
	weights := m()
	Ensure(len(weights) == g.sub.nLocal, "metric length does not match local cell count")

	// Dense global weight profile: each rank contributes its own cells.
	dense := make([]float64, g.gbox.NCells())
	for i := 0; i < g.sub.nLocal; i++ {
		dense[g.sub.cells[i]] = weights[i]
	}
	global := g.comm.AllreduceFloat64(comm.OpSum, dense)

	total := floats.Sum(global)
	if total <= 0 {
		return false, nil
	}

	nprocs := g.comm.Size()
	target := total / float64(nprocs)
	newPart := make([]Rank, len(global))
	counts := make([]int, nprocs)
	prefix := 0.0
	for i, w := range global {
		r := int(prefix / target)
		if r > nprocs-1 {
			r = nprocs - 1
		}
		newPart[i] = Rank(r)
		counts[r]++
		prefix += w
	}
	for _, c := range counts {
		if c == 0 {
			return false, ErrPartitionEmpty
		}
	}

	changed := false
	for i, r := range newPart {
		if g.partition[i] != r {
			changed = true
			break
		}
	}
	if !changed {
		return false, nil
	}

	copy(g.partition, newPart)
	exchangeStart()
	if err := g.reinit(); err != nil {
		return false, err
	}
	return true, nil
}
