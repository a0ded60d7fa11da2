// Package kdpart builds weight-balanced kd-trees over a regular integer
// cell grid. Each leaf assigns one rank to an axis-aligned box of cells;
// interior nodes split the rank range in half and place the split plane so
// that the summed cell weight on each side matches the rank split to within
// one grid slab.
package kdpart

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Domain is a half-open axis-aligned box of grid cells: it includes Lo and
// excludes Hi.
type Domain struct {
	Lo, Hi [3]int
}

// Size returns the extents of the domain.
func (d Domain) Size() [3]int {
	return [3]int{d.Hi[0] - d.Lo[0], d.Hi[1] - d.Lo[1], d.Hi[2] - d.Lo[2]}
}

// Volume returns the number of cells in the domain.
func (d Domain) Volume() int {
	s := d.Size()
	return s[0] * s[1] * s[2]
}

// Contains reports whether the (unwrapped) cell coordinate is inside.
func (d Domain) Contains(x, y, z int) bool {
	return x >= d.Lo[0] && x < d.Hi[0] &&
		y >= d.Lo[1] && y < d.Hi[1] &&
		z >= d.Lo[2] && z < d.Hi[2]
}

type node struct {
	dom    Domain
	r0, r1 int

	axis, pos   int // split plane; left side is coord[axis] < pos
	left, right int // node indices, -1 on leaves
}

// Tree is an immutable weight-balanced partition of the grid over nranks
// ranks. Construction is deterministic for identical inputs.
type Tree struct {
	nodes  []node
	grid   [3]int
	nranks int
}

// Build constructs the tree. weight is evaluated once per cell; it must be
// identical on every rank for the trees to agree.
func Build(grid [3]int, nranks int, weight func(x, y, z int) float64) (*Tree, error) {
	if nranks < 1 {
		return nil, fmt.Errorf("kdpart: nranks must be >= 1, got %d", nranks)
	}
	ncells := grid[0] * grid[1] * grid[2]
	if ncells < nranks {
		return nil, fmt.Errorf("kdpart: %d cells cannot host %d ranks", ncells, nranks)
	}
	t := &Tree{grid: grid, nranks: nranks}
	root := Domain{Hi: grid}
	if _, err := t.build(root, 0, nranks, weight); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) build(dom Domain, r0, r1 int, weight func(x, y, z int) float64) (int, error) {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, node{dom: dom, r0: r0, r1: r1, left: -1, right: -1})
	if r1-r0 == 1 {
		return idx, nil
	}

	nleft := (r1 - r0) / 2
	nright := (r1 - r0) - nleft

	// Split on the longest side; ties pick the lower axis.
	size := dom.Size()
	axis := 0
	for d := 1; d < 3; d++ {
		if size[d] > size[axis] {
			axis = d
		}
	}

	// Slab weight profile along the split axis.
	slabs := make([]float64, size[axis])
	for z := dom.Lo[2]; z < dom.Hi[2]; z++ {
		for y := dom.Lo[1]; y < dom.Hi[1]; y++ {
			for x := dom.Lo[0]; x < dom.Hi[0]; x++ {
				c := [3]int{x, y, z}
				slabs[c[axis]-dom.Lo[axis]] += weight(x, y, z)
			}
		}
	}
	cum := make([]float64, len(slabs))
	floats.CumSum(cum, slabs)
	total := cum[len(cum)-1]
	target := total * float64(nleft) / float64(r1-r0)

	// First slab boundary reaching the target weight.
	pos := dom.Hi[axis]
	for k, c := range cum {
		if c >= target {
			pos = dom.Lo[axis] + k + 1
			break
		}
	}

	// Both sides must keep at least one cell per rank.
	area := dom.Volume() / size[axis]
	minPos := dom.Lo[axis] + ceilDiv(nleft, area)
	maxPos := dom.Hi[axis] - ceilDiv(nright, area)
	if minPos > maxPos {
		return -1, fmt.Errorf("kdpart: domain %v too small for ranks [%d,%d)", dom, r0, r1)
	}
	if pos < minPos {
		pos = minPos
	}
	if pos > maxPos {
		pos = maxPos
	}

	ldom, rdom := dom, dom
	ldom.Hi[axis] = pos
	rdom.Lo[axis] = pos

	t.nodes[idx].axis = axis
	t.nodes[idx].pos = pos
	l, err := t.build(ldom, r0, r0+nleft, weight)
	if err != nil {
		return -1, err
	}
	r, err := t.build(rdom, r0+nleft, r1, weight)
	if err != nil {
		return -1, err
	}
	t.nodes[idx].left = l
	t.nodes[idx].right = r
	return idx, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// NRanks returns the number of ranks the tree partitions over.
func (t *Tree) NRanks() int {
	return t.nranks
}

// RankAt returns the owner of a cell coordinate by tree descent.
func (t *Tree) RankAt(x, y, z int) int {
	n := &t.nodes[0]
	for n.left != -1 {
		c := [3]int{x, y, z}
		if c[n.axis] < n.pos {
			n = &t.nodes[n.left]
		} else {
			n = &t.nodes[n.right]
		}
	}
	return n.r0
}

// SubdomainOf returns the box of cells owned by a rank.
func (t *Tree) SubdomainOf(rank int) Domain {
	n := &t.nodes[0]
	for n.left != -1 {
		if rank < t.nodes[n.left].r1 {
			n = &t.nodes[n.left]
		} else {
			n = &t.nodes[n.right]
		}
	}
	return n.dom
}

// Equal reports whether two trees assign identical subdomains.
func (t *Tree) Equal(o *Tree) bool {
	if t.nranks != o.nranks || t.grid != o.grid {
		return false
	}
	for r := 0; r < t.nranks; r++ {
		if t.SubdomainOf(r) != o.SubdomainOf(r) {
			return false
		}
	}
	return true
}
