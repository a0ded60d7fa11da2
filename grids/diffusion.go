package grids

import (
	"container/heap"

	"github.com/notargets/pargrid/comm"
	"gonum.org/v1/gonum/floats"
)

// Diffusion balances load iteratively by shifting cells between neighboring
// subdomains. One Repartition call performs exactly one diffusion round:
// exchange loads within the neighborhood, compute per-neighbor send
// volumes, pick border cells greedily, and broadcast the reassignments in
// two communication steps before rebuilding the local structures.
//
// See Willebeek-LeMair and Reeves, IEEE Trans. Parallel Distrib. Syst.
// 4(9), 1993 for the send-volume scheme.
type Diffusion struct {
	gloMethod
}

func newDiffusion(c comm.Comm, boxSize [3]float64, minCellSize float64, initPart string) (*Diffusion, error) {
	g, err := newGloMethod(c, boxSize, minCellSize, false, initPart)
	if err != nil {
		return nil, err
	}
	return &Diffusion{gloMethod: *g}, nil
}

func (d *Diffusion) Repartition(m Metric, exchangeStart func()) (bool, error) {
	weights := m()
	Ensure(len(weights) == d.sub.nLocal, "metric length does not match local cell count")

	d.clearUnknownCellOwnership()

	load := floats.Sum(weights)
	sendVolume := d.computeSendVolume(load)

	toSend := make([][]GlobalIndex, len(d.sub.neighbors))
	sentAny := false
	for _, v := range sendVolume {
		if v > 0 {
			sentAny = true
			break
		}
	}
	if sentAny {
		toSend = d.computeSendList(sendVolume, weights)
		sentAny = false
		for i, cells := range toSend {
			for _, c := range cells {
				d.partition[c] = d.sub.neighbors[i]
				sentAny = true
			}
		}
	}

	// First communication step: the complete reassignment lists go to every
	// neighbor, not only the targets, so that freshly created neighborhood
	// edges learn about their new cells.
	payload := encodeAssignments(toSend, d.sub.neighbors)
	sreqs := make([]*comm.Request, len(d.sub.neighbors))
	rreqs := make([]*comm.Request, len(d.sub.neighbors))
	for i, n := range d.sub.neighbors {
		sreqs[i] = d.comm.Isend(int(n), tagReassign, payload)
	}
	for i, n := range d.sub.neighbors {
		rreqs[i] = d.comm.Irecv(int(n), tagReassign)
	}
	for _, r := range rreqs {
		lists, targets := decodeAssignments(r.Wait())
		for j, cells := range lists {
			for _, c := range cells {
				d.partition[c] = targets[j]
			}
		}
	}
	comm.WaitAll(sreqs...)

	// Second communication step: the 26-neighbor owner vectors of every
	// sent cell, so the receiver can build its ghost layer around them.
	for i, n := range d.sub.neighbors {
		records := make([]neighSend, len(toSend[i]))
		for j, c := range toSend[i] {
			records[j].basecell = c
			for k, nb := range d.gbox.FullShellWithoutCenter(int(c)) {
				records[j].neighranks[k] = d.partition[nb]
			}
		}
		sreqs[i] = d.comm.Isend(int(n), tagNeighborhood, encodeNeighborhoods(records))
	}
	for i, n := range d.sub.neighbors {
		rreqs[i] = d.comm.Irecv(int(n), tagNeighborhood)
	}
	for _, r := range rreqs {
		for _, rec := range decodeNeighborhoods(r.Wait()) {
			for k, nb := range d.gbox.FullShellWithoutCenter(int(rec.basecell)) {
				d.partition[nb] = rec.neighranks[k]
			}
		}
	}
	comm.WaitAll(sreqs...)

	// A round where nobody moved a cell leaves every subdomain intact.
	moved := int64(0)
	if sentAny {
		moved = 1
	}
	if d.comm.AllreduceInt64(comm.OpMax, []int64{moved})[0] == 0 {
		return false, nil
	}

	exchangeStart()
	if err := d.reinit(); err != nil {
		return false, err
	}
	return true, nil
}

// computeSendVolume exchanges loads within the neighborhood and returns the
// volume of load to hand to each neighbor, in neighbor order. Underloaded
// ranks send nothing; so does a rank whose neighbors are all at or above
// the neighborhood average.
func (d *Diffusion) computeSendVolume(load float64) []float64 {
	neighLoads := d.graph.AllgatherFloat64([]float64{load})
	vol := make([]float64, len(neighLoads))

	avg := load
	for _, nl := range neighLoads {
		avg += nl[0]
	}
	avg /= float64(len(neighLoads) + 1)
	if load < avg {
		return vol
	}

	totalDeficiency := 0.0
	for i, nl := range neighLoads {
		if def := avg - nl[0]; def > 0 {
			vol[i] = def
			totalDeficiency += def
		}
	}
	if totalDeficiency == 0 {
		return vol
	}
	overload := load - avg
	for i := range vol {
		vol[i] = overload * vol[i] / totalDeficiency
	}
	return vol
}

// computeSendList selects border cells to hand off. Cells are drawn from a
// max-heap ordered by fewest newly created border cells first, then highest
// weight; each drawn cell goes to the first adjacent neighbor whose
// remaining send volume still covers its weight.
func (d *Diffusion) computeSendList(sendVolume []float64, weights []float64) [][]GlobalIndex {
	isBorder := make([]bool, d.sub.nLocal)
	for _, b := range d.sub.borderCells {
		isBorder[b] = true
	}

	var pl profitList
	for _, b := range d.sub.borderCells {
		profit := weights[b]
		if profit <= 0 {
			continue
		}
		// Local border neighbors of this cell would turn into additional
		// communication partners if it is sent away.
		nadditional := 0
		for _, n := range d.gbox.FullShellWithoutCenter(int(d.sub.cells[b])) {
			if d.partition[n] != d.self {
				continue
			}
			if flat, ok := d.sub.globalToLocal[GlobalIndex(n)]; ok && flat < d.sub.nLocal && isBorder[flat] {
				nadditional++
			}
		}
		Ensure(nadditional < 27, "border cost out of range")
		pl = append(pl, profitEntry{
			cost:   27 - nadditional,
			profit: profit,
			cell:   b,
			global: d.sub.cells[b],
		})
	}

	toSend := make([][]GlobalIndex, len(sendVolume))
	heap.Init(&pl)
	for pl.Len() > 0 {
		e := heap.Pop(&pl).(profitEntry)
		for _, r := range d.sub.borderNeighbors[e.cell] {
			ni := d.sub.neighborIndex(r)
			if weights[e.cell] <= sendVolume[ni] {
				toSend[ni] = append(toSend[ni], d.sub.cells[e.cell])
				sendVolume[ni] -= weights[e.cell]
				break
			}
		}
	}
	return toSend
}

type profitEntry struct {
	cost   int
	profit float64
	cell   LocalIndex
	global GlobalIndex
}

// profitList is a max-heap on (cost, profit), ties broken toward the lower
// global cell index to keep rounds deterministic.
type profitList []profitEntry

func (p profitList) Len() int { return len(p) }
func (p profitList) Less(i, j int) bool {
	if p[i].cost != p[j].cost {
		return p[i].cost > p[j].cost
	}
	if p[i].profit != p[j].profit {
		return p[i].profit > p[j].profit
	}
	return p[i].global < p[j].global
}
func (p profitList) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p *profitList) Push(x any)   { *p = append(*p, x.(profitEntry)) }
func (p *profitList) Pop() any {
	old := *p
	n := len(old)
	x := old[n-1]
	*p = old[:n-1]
	return x
}
