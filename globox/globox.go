// Package globox models the global cell grid of a cubic, fully periodic
// simulation box: the mapping from positions to global cell indices and the
// 27-cell Moore neighborhoods of cells under periodic wrap. It is pure
// geometry; it holds no per-rank state.
package globox

import (
	"errors"
	"fmt"
)

// ErrOutOfBox reports a position outside [0, L) after applying the
// round-off tolerance.
var ErrOutOfBox = errors.New("globox: position outside simulation box")

// RoundErrorPrec is the relative round-off tolerance applied to positions
// near the box boundary before they are rejected.
const RoundErrorPrec = 1e-14

// GlobalBox is the immutable geometry of the global cell grid. All axes are
// periodic. Cells are linearized row-major: index = x + Gx*(y + Gy*z).
type GlobalBox struct {
	BoxSize     [3]float64
	CellSize    [3]float64
	InvCellSize [3]float64
	GridSize    [3]int

	ncells int
}

// New derives the cell grid from the box extents and the minimum cell size:
// Gi = floor(Li/h), at least 1 per axis, with cell size Li/Gi.
func New(boxSize [3]float64, minCellSize float64) (*GlobalBox, error) {
	if minCellSize <= 0 {
		return nil, fmt.Errorf("globox: min cell size must be positive, got %g", minCellSize)
	}
	g := &GlobalBox{BoxSize: boxSize}
	for d := 0; d < 3; d++ {
		if boxSize[d] <= 0 {
			return nil, fmt.Errorf("globox: box size[%d] must be positive, got %g", d, boxSize[d])
		}
		n := int(boxSize[d] / minCellSize)
		if n < 1 {
			n = 1
		}
		g.GridSize[d] = n
		g.CellSize[d] = boxSize[d] / float64(n)
		g.InvCellSize[d] = 1.0 / g.CellSize[d]
	}
	g.ncells = g.GridSize[0] * g.GridSize[1] * g.GridSize[2]
	return g, nil
}

// NCells returns the total number of cells Gx*Gy*Gz.
func (g *GlobalBox) NCells() int {
	return g.ncells
}

// Linearize maps grid coordinates to the global cell index. Coordinates must
// be in range; use Wrap for periodic images.
func (g *GlobalBox) Linearize(x, y, z int) int {
	return x + g.GridSize[0]*(y+g.GridSize[1]*z)
}

// Unlinearize is the inverse of Linearize.
func (g *GlobalBox) Unlinearize(idx int) (x, y, z int) {
	x = idx % g.GridSize[0]
	idx /= g.GridSize[0]
	y = idx % g.GridSize[1]
	z = idx / g.GridSize[1]
	return
}

// Wrap maps arbitrary grid coordinates into range under periodicity.
func (g *GlobalBox) Wrap(x, y, z int) (int, int, int) {
	return mod(x, g.GridSize[0]), mod(y, g.GridSize[1]), mod(z, g.GridSize[2])
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

// CellAt maps a position to its global cell index. Positions within
// 0.5*RoundErrorPrec*L of the boundary are clamped into the box; anything
// further outside fails with ErrOutOfBox.
func (g *GlobalBox) CellAt(pos [3]float64) (int, error) {
	var c [3]int
	for d := 0; d < 3; d++ {
		p := pos[d]
		errmar := 0.5 * RoundErrorPrec * g.BoxSize[d]
		if p < 0 && p > -errmar {
			p = 0
		} else if p >= g.BoxSize[d] && p < g.BoxSize[d]+errmar {
			// Pull just inside the last cell.
			p -= 0.5 * g.CellSize[d]
		}
		if p < 0 || p >= g.BoxSize[d] {
			return -1, fmt.Errorf("%w: pos[%d]=%g, box=%g", ErrOutOfBox, d, pos[d], g.BoxSize[d])
		}
		c[d] = int(p * g.InvCellSize[d])
		if c[d] >= g.GridSize[d] {
			c[d] = g.GridSize[d] - 1
		}
	}
	return g.Linearize(c[0], c[1], c[2]), nil
}

// CellCenter returns the midpoint of a cell.
func (g *GlobalBox) CellCenter(idx int) [3]float64 {
	x, y, z := g.Unlinearize(idx)
	return [3]float64{
		(float64(x) + 0.5) * g.CellSize[0],
		(float64(y) + 0.5) * g.CellSize[1],
		(float64(z) + 0.5) * g.CellSize[2],
	}
}

// CellLowerCorner returns the lower corner of a cell.
func (g *GlobalBox) CellLowerCorner(idx int) [3]float64 {
	x, y, z := g.Unlinearize(idx)
	return [3]float64{
		float64(x) * g.CellSize[0],
		float64(y) * g.CellSize[1],
		float64(z) * g.CellSize[2],
	}
}

// shellOffsets is the canonical full-shell neighborhood order shared by all
// grid implementations: offset 0 is the cell itself, offsets 1-13 are the
// half shell and offsets 14-26 the mirrored rest, with
// shellOffsets[k+13] == -shellOffsets[k] for k in [1,13].
var shellOffsets = buildShellOffsets()

func buildShellOffsets() [27][3]int {
	var o [27][3]int
	i := 1
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				upper := dz > 0 || (dz == 0 && dy > 0) || (dz == 0 && dy == 0 && dx > 0)
				if !upper {
					continue
				}
				o[i] = [3]int{dx, dy, dz}
				o[i+13] = [3]int{-dx, -dy, -dz}
				i++
			}
		}
	}
	return o
}

// NeighborOffset returns the canonical offset of neighbor k, k in [0,27).
func NeighborOffset(k int) [3]int {
	return shellOffsets[k]
}

// Neighbor returns the global index of the k-th full-shell neighbor of a
// cell under periodic wrap, k in [0,27).
func (g *GlobalBox) Neighbor(idx, k int) int {
	x, y, z := g.Unlinearize(idx)
	off := shellOffsets[k]
	x, y, z = g.Wrap(x+off[0], y+off[1], z+off[2])
	return g.Linearize(x, y, z)
}

// FullShell enumerates the 27-cell neighborhood of a cell, the cell itself
// first.
func (g *GlobalBox) FullShell(idx int) [27]int {
	var r [27]int
	for k := 0; k < 27; k++ {
		r[k] = g.Neighbor(idx, k)
	}
	return r
}

// FullShellWithoutCenter enumerates the 26 proper neighbors of a cell in
// canonical order (offsets 1-26).
func (g *GlobalBox) FullShellWithoutCenter(idx int) [26]int {
	var r [26]int
	for k := 1; k < 27; k++ {
		r[k-1] = g.Neighbor(idx, k)
	}
	return r
}
