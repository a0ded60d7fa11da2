package grids

import "github.com/notargets/pargrid/comm"

// HybridGPDiff combines the global graph method with diffusion: the graph
// method heals a badly degraded decomposition in one global step, diffusion
// refines it cheaply in between. command("toggle") arms a switch; the next
// Repartition copies the active partition vector onto the other
// implementation and continues there.
type HybridGPDiff struct {
	diff  *Diffusion
	graph *Graph

	active   ParallelLCGrid
	useDiff  bool
	switchTo bool
}

func newHybridGPDiff(c comm.Comm, boxSize [3]float64, minCellSize float64, initPart string) (*HybridGPDiff, error) {
	d, err := newDiffusion(c, boxSize, minCellSize, initPart)
	if err != nil {
		return nil, err
	}
	g, err := newGraph(c, boxSize, minCellSize, initPart)
	if err != nil {
		return nil, err
	}
	h := &HybridGPDiff{diff: d, graph: g, useDiff: true}
	h.active = d
	return h, nil
}

// switchImplementation copies the current partition onto the inactive
// implementation and activates it. Both work on the same vector layout, so
// the copy is the entire handover.
func (h *HybridGPDiff) switchImplementation() error {
	if h.useDiff {
		copy(h.graph.partition, h.diff.partition)
		if err := h.graph.reinit(); err != nil {
			return err
		}
		h.active = h.graph
	} else {
		copy(h.diff.partition, h.graph.partition)
		if err := h.diff.reinit(); err != nil {
			return err
		}
		h.active = h.diff
	}
	h.useDiff = !h.useDiff
	return nil
}

func (h *HybridGPDiff) Repartition(m Metric, exchangeStart func()) (bool, error) {
	if h.switchTo {
		h.switchTo = false
		if err := h.switchImplementation(); err != nil {
			return false, err
		}
	}
	return h.active.Repartition(m, exchangeStart)
}

// Command understands "toggle"; everything else is delegated to the active
// implementation.
func (h *HybridGPDiff) Command(cmd string) error {
	if cmd == "toggle" {
		h.switchTo = true
		return nil
	}
	return h.active.Command(cmd)
}

func (h *HybridGPDiff) NLocalCells() int                     { return h.active.NLocalCells() }
func (h *HybridGPDiff) NGhostCells() int                     { return h.active.NGhostCells() }
func (h *HybridGPDiff) CellSize() [3]float64                 { return h.active.CellSize() }
func (h *HybridGPDiff) GridSize() [3]int                     { return h.active.GridSize() }
func (h *HybridGPDiff) NeighborRanks() []Rank                { return h.active.NeighborRanks() }
func (h *HybridGPDiff) GetBoundaryInfo() []GhostExchangeDesc { return h.active.GetBoundaryInfo() }

func (h *HybridGPDiff) CellNeighborIndex(c LocalIndex, k NeighIdx) CellRef {
	return h.active.CellNeighborIndex(c, k)
}

func (h *HybridGPDiff) GlobalHash(c CellRef) GlobalIndex { return h.active.GlobalHash(c) }

func (h *HybridGPDiff) PositionToRank(pos [3]float64) (Rank, error) {
	return h.active.PositionToRank(pos)
}

func (h *HybridGPDiff) PositionToCellIndex(pos [3]float64) (LocalIndex, error) {
	return h.active.PositionToCellIndex(pos)
}

func (h *HybridGPDiff) PositionToNeighIdx(pos [3]float64) (int, error) {
	return h.active.PositionToNeighIdx(pos)
}
