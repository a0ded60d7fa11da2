package grids

import (
	"sort"

	"github.com/notargets/pargrid/globox"
)

// subdomain is the per-rank view every strategy derives from an ownership
// assignment: the local cells, the discovered ghost layer, border cells and
// the ghost-exchange descriptors toward each neighboring rank.
type subdomain struct {
	gbox *globox.GlobalBox
	self Rank

	// cells holds global indices, local cells first in the order given to
	// buildSubdomain, ghost cells after in discovery order.
	cells         []GlobalIndex
	globalToLocal map[GlobalIndex]int
	nLocal        int
	nGhost        int

	borderCells     []LocalIndex
	borderNeighbors map[LocalIndex][]Rank

	neighbors []Rank
	exchanges []GhostExchangeDesc
}

// buildSubdomain walks the 26-neighborhood of every local cell against the
// ownership function and derives the ghost layer and the exchange
// descriptors. owner must resolve every cell within distance one of a local
// cell; descriptors are emitted in ascending rank order with their send and
// recv lists sorted by global cell index, so that both endpoints of an
// exchange pair cells identically.
func buildSubdomain(gb *globox.GlobalBox, self Rank, localCells []GlobalIndex, owner func(GlobalIndex) Rank) *subdomain {
	s := &subdomain{
		gbox:            gb,
		self:            self,
		cells:           append([]GlobalIndex(nil), localCells...),
		globalToLocal:   make(map[GlobalIndex]int, len(localCells)),
		nLocal:          len(localCells),
		borderNeighbors: make(map[LocalIndex][]Rank),
	}
	for i, c := range localCells {
		s.globalToLocal[c] = i
	}

	type tmpDesc struct {
		send, recv []GlobalIndex
		sent, rcvd map[GlobalIndex]bool
	}
	tmp := make(map[Rank]*tmpDesc)

	for i := 0; i < s.nLocal; i++ {
		li := LocalIndex(i)
		c := s.cells[i]
		for _, n := range gb.FullShellWithoutCenter(int(c)) {
			gn := GlobalIndex(n)
			r := owner(gn)
			if r == s.self {
				continue
			}
			Ensure(r != RankNone, "owner unknown inside the ghost layer")

			// First foreign neighbor marks the cell as border cell.
			if len(s.borderCells) == 0 || s.borderCells[len(s.borderCells)-1] != li {
				s.borderCells = append(s.borderCells, li)
			}
			pushBackUniqueRank(s.borderNeighbors, li, r)

			// Ghost cells enter once, in discovery order.
			if _, ok := s.globalToLocal[gn]; !ok {
				s.globalToLocal[gn] = s.nLocal + s.nGhost
				s.cells = append(s.cells, gn)
				s.nGhost++
			}

			d := tmp[r]
			if d == nil {
				d = &tmpDesc{sent: make(map[GlobalIndex]bool), rcvd: make(map[GlobalIndex]bool)}
				tmp[r] = d
			}
			if !d.rcvd[gn] {
				d.rcvd[gn] = true
				d.recv = append(d.recv, gn)
			}
			if !d.sent[c] {
				d.sent[c] = true
				d.send = append(d.send, c)
			}
		}
	}

	s.neighbors = make([]Rank, 0, len(tmp))
	for r := range tmp {
		s.neighbors = append(s.neighbors, r)
	}
	sort.Slice(s.neighbors, func(i, j int) bool { return s.neighbors[i] < s.neighbors[j] })

	s.exchanges = make([]GhostExchangeDesc, 0, len(tmp))
	for _, r := range s.neighbors {
		d := tmp[r]
		sortGlobal(d.send)
		sortGlobal(d.recv)
		ex := GhostExchangeDesc{Dest: r}
		ex.Send = make([]LocalIndex, len(d.send))
		for i, g := range d.send {
			flat := s.globalToLocal[g]
			Ensure(flat < s.nLocal, "send entry is not a local cell")
			ex.Send[i] = LocalIndex(flat)
		}
		ex.Recv = make([]GhostIndex, len(d.recv))
		for i, g := range d.recv {
			flat := s.globalToLocal[g]
			Ensure(flat >= s.nLocal, "recv entry is not a ghost cell")
			ex.Recv[i] = GhostIndex(flat - s.nLocal)
		}
		Ensure(len(ex.Send) > 0 && len(ex.Recv) > 0, "descriptor toward a rank without shared boundary")
		s.exchanges = append(s.exchanges, ex)
	}
	return s
}

func pushBackUniqueRank(m map[LocalIndex][]Rank, key LocalIndex, r Rank) {
	for _, have := range m[key] {
		if have == r {
			return
		}
	}
	m[key] = append(m[key], r)
}

func sortGlobal(v []GlobalIndex) {
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
}

// cellNeighborIndex resolves neighbor k of local cell c against the
// global-to-local table.
func (s *subdomain) cellNeighborIndex(c LocalIndex, k NeighIdx) CellRef {
	Ensure(int(c) >= 0 && int(c) < s.nLocal, "cell index outside local subdomain")
	g := s.gbox.Neighbor(int(s.cells[c]), int(k))
	flat, ok := s.globalToLocal[GlobalIndex(g)]
	Ensure(ok, "neighbor neither local nor ghost")
	return flatRef(flat, s.nLocal)
}

func (s *subdomain) globalHash(c CellRef) GlobalIndex {
	flat := c.Flat(s.nLocal)
	Ensure(flat >= 0 && flat < len(s.cells), "cell reference out of range")
	return s.cells[flat]
}

// neighborIndex returns the position of a rank in the neighbors list, or -1.
func (s *subdomain) neighborIndex(r Rank) int {
	for i, n := range s.neighbors {
		if n == r {
			return i
		}
	}
	return -1
}

func (s *subdomain) neighborInts() []int {
	out := make([]int, len(s.neighbors))
	for i, r := range s.neighbors {
		out[i] = int(r)
	}
	return out
}
