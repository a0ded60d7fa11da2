package grids

import (
	"fmt"

	"github.com/notargets/pargrid/comm"
)

// Strategy selects a partitioning scheme in New.
type Strategy int

const (
	StrategyCart Strategy = iota
	StrategyGraph
	StrategyDiffusion
	StrategyGridBased
	StrategyKDTree
	StrategySFC
	StrategyHybrid
)

func (s Strategy) String() string {
	switch s {
	case StrategyCart:
		return "Cart"
	case StrategyGraph:
		return "Graph"
	case StrategyDiffusion:
		return "Diffusion"
	case StrategyGridBased:
		return "GridBased"
	case StrategyKDTree:
		return "KDTree"
	case StrategySFC:
		return "SFC"
	case StrategyHybrid:
		return "Hybrid"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Extra carries the optional construction parameters some strategies
// recognize.
type Extra struct {
	// SubdomainMidpoint overrides the cell representative point of the
	// grid-based strategy. Defaults to the cell centroid.
	SubdomainMidpoint SubdomainMidpoint

	// InitPart selects the initial partition of the unstructured
	// strategies: InitPartLinear (default), InitPartCart1D, InitPartCart3D.
	InitPart string
}

// New constructs a grid with the chosen strategy. Collective over the
// communicator.
func New(s Strategy, c comm.Comm, boxSize [3]float64, minCellSize float64, extra *Extra) (ParallelLCGrid, error) {
	if extra == nil {
		extra = &Extra{}
	}
	switch s {
	case StrategyCart:
		return newCartGrid(c, boxSize, minCellSize)
	case StrategyGraph:
		return newGraph(c, boxSize, minCellSize, extra.InitPart)
	case StrategyDiffusion:
		return newDiffusion(c, boxSize, minCellSize, extra.InitPart)
	case StrategyGridBased:
		return newGridBasedGrid(c, boxSize, minCellSize, extra.SubdomainMidpoint)
	case StrategyKDTree:
		return newKDTreeGrid(c, boxSize, minCellSize)
	case StrategySFC:
		return newSFCGrid(c, boxSize, minCellSize)
	case StrategyHybrid:
		return newHybridGPDiff(c, boxSize, minCellSize, extra.InitPart)
	}
	return nil, fmt.Errorf("grids: unknown strategy %d", int(s))
}
