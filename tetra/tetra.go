// Package tetra implements the containment geometry for octagon subdomains:
// eight-corner volumes used by the grid-based partitioning strategy. An
// octagon is decomposed into six tetrahedra around its main diagonal and
// point containment is decided by sign tests of integer signed volumes.
//
// All arithmetic is done on a fixed-point grid: a Precision value gives the
// number of grid points per unit length and every vertex and query point is
// rounded to that grid before testing. Together with the boundary
// convention below this guarantees that a point lies in exactly one octagon
// when octagons tile space.
//
// Boundary convention: of the six quad faces of an octagon, only the three
// adjacent to the first corner (vertex 0, the upper-right-back corner)
// accept points lying exactly on them; the three faces through the opposite
// corner reject them.
package tetra

import "math"

// Precision is the number of fixed-point grid points per unit length. It is
// passed explicitly to every construction; there is no package-level state.
type Precision int64

// maxScaled bounds |coordinate*precision| so that the signed-volume
// arithmetic below cannot overflow int64.
const maxScaled = 1 << 18

// DefaultPrecision picks the largest power-of-two precision, at most 2^14,
// whose scaled coordinates stay within the overflow-safe range for the
// given box.
func DefaultPrecision(boxSize [3]float64) Precision {
	maxL := boxSize[0]
	if boxSize[1] > maxL {
		maxL = boxSize[1]
	}
	if boxSize[2] > maxL {
		maxL = boxSize[2]
	}
	p := Precision(1 << 14)
	for p > 2 && float64(p)*maxL > maxScaled {
		p >>= 1
	}
	return p
}

// BoundingBox holds the eight corner vertices of an octagon plus per-vertex
// periodic mirror counts (in units of whole box lengths). Vertex k has bits
// (k&1, k>>1&1, k>>2&1); a set bit selects the lower side of that axis, so
// vertex 0 is the upper corner and vertex 7 the lower one.
type BoundingBox struct {
	Vertices [8][3]float64
	Mirrors  [8][3]int
}

// NewBoundingBox wraps plain vertices with zero mirrors.
func NewBoundingBox(vertices [8][3]float64) BoundingBox {
	return BoundingBox{Vertices: vertices}
}

type ipoint [3]int64

func sub(a, b ipoint) ipoint {
	return ipoint{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func cross(a, b ipoint) ipoint {
	return ipoint{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b ipoint) int64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// face is one oriented tetrahedron face. The normal points inward; a point
// p is on the correct side if dot(n, p-base) > 0, with equality allowed
// only when accept is set.
type face struct {
	base   ipoint
	n      ipoint
	accept bool
}

func (f *face) side(p ipoint) int64 {
	return dot(f.n, sub(p, f.base))
}

type tetrahedron struct {
	faces      [4]face
	degenerate bool
}

func (t *tetrahedron) contains(p ipoint) bool {
	if t.degenerate {
		return false
	}
	for i := range t.faces {
		s := t.faces[i].side(p)
		if s < 0 || (s == 0 && !t.faces[i].accept) {
			return false
		}
	}
	return true
}

// fanEquator is the hexagonal edge cycle around the v0-v7 diagonal. Tet i
// is (v0, fanEquator[i], fanEquator[i+1], v7); consecutive octagons sharing
// a quad face split it along the same diagonal, which makes tilings exact.
var fanEquator = [7]int{1, 3, 2, 6, 4, 5, 1}

// Octagon is the containment tester for one subdomain. The zero value is
// uninitialized; Contains panics on it.
type Octagon struct {
	tets  [6]tetrahedron
	prec  Precision
	box   [3]float64
	verts [8]ipoint

	initialized bool
	hasCutoff   bool
	valid       bool
}

// New builds an octagon from a bounding box without a cutoff; IsValid is
// unavailable on the result.
func New(prec Precision, boxSize [3]float64, bb BoundingBox) Octagon {
	return NewWithCutoff(prec, boxSize, bb, 0)
}

// NewWithCutoff builds an octagon and records whether it is valid: positive
// volume and every pair of opposite faces at least maxCutoff apart.
func NewWithCutoff(prec Precision, boxSize [3]float64, bb BoundingBox, maxCutoff float64) Octagon {
	o := Octagon{prec: prec, box: boxSize, initialized: true, hasCutoff: maxCutoff > 0}

	var shift [3]int64
	for d := 0; d < 3; d++ {
		shift[d] = int64(math.Round(boxSize[d] * float64(prec)))
	}
	for k := 0; k < 8; k++ {
		for d := 0; d < 3; d++ {
			o.verts[k][d] = int64(math.Round(bb.Vertices[k][d]*float64(prec))) +
				int64(bb.Mirrors[k][d])*shift[d]
		}
	}

	for i := 0; i < 6; i++ {
		a, b := o.verts[fanEquator[i]], o.verts[fanEquator[i+1]]
		o.tets[i] = newTetrahedron(o.verts[0], a, b, o.verts[7])
	}

	if o.hasCutoff {
		o.valid = o.checkValid(maxCutoff)
	}
	return o
}

// newTetrahedron orients each face normal inward using the opposite vertex.
// Faces: (v0,a,b) lies on an octagon face adjacent to vertex 0 (accepts
// boundary points), (a,b,v7) on a face adjacent to vertex 7 (rejects), the
// two diagonal faces are interior to the octagon (accept).
func newTetrahedron(v0, a, b, v7 ipoint) tetrahedron {
	var t tetrahedron
	type spec struct {
		p, q, r, opp ipoint
		accept       bool
	}
	specs := [4]spec{
		{v0, a, b, v7, true},
		{a, b, v7, v0, false},
		{v0, a, v7, b, true},
		{v0, b, v7, a, true},
	}
	for i, s := range specs {
		n := cross(sub(s.q, s.p), sub(s.r, s.p))
		d := dot(n, sub(s.opp, s.p))
		if d == 0 {
			t.degenerate = true
			return t
		}
		if d < 0 {
			n = ipoint{-n[0], -n[1], -n[2]}
		}
		t.faces[i] = face{base: s.p, n: n, accept: s.accept}
	}
	return t
}

// Contains reports whether the octagon owns the given point after rounding
// it to the fixed-point grid.
func (o *Octagon) Contains(pos [3]float64) bool {
	if !o.initialized {
		panic("tetra: Contains on uninitialized octagon")
	}
	var p ipoint
	for d := 0; d < 3; d++ {
		p[d] = int64(math.Round(pos[d] * float64(o.prec)))
	}
	for i := range o.tets {
		if o.tets[i].contains(p) {
			return true
		}
	}
	return false
}

// IsValid reports whether the octagon can serve as a subdomain. It panics
// when the octagon was constructed without a cutoff.
func (o *Octagon) IsValid() bool {
	if !o.initialized {
		panic("tetra: IsValid on uninitialized octagon")
	}
	if !o.hasCutoff {
		panic("tetra: IsValid requires a construction cutoff")
	}
	return o.valid
}

// quadFaces lists the vertex indices of the six quad faces as three pairs
// of opposite faces: the face adjacent to vertex 0 first in each pair.
var quadFaces = [3][2][4]int{
	{{0, 2, 4, 6}, {1, 3, 5, 7}}, // x upper / lower
	{{0, 1, 4, 5}, {2, 3, 6, 7}}, // y upper / lower
	{{0, 1, 2, 3}, {4, 5, 6, 7}}, // z upper / lower
}

func (o *Octagon) checkValid(cutoff float64) bool {
	var vol int64
	for i := range o.tets {
		if o.tets[i].degenerate {
			return false
		}
	}
	// Positive volume: sum of |tet volumes| with all tets consistently
	// oriented (non-degeneracy above guarantees each is proper).
	for i := 0; i < 6; i++ {
		a, b := o.verts[fanEquator[i]], o.verts[fanEquator[i+1]]
		v := dot(cross(sub(a, o.verts[0]), sub(b, o.verts[0])), sub(o.verts[7], o.verts[0]))
		if v < 0 {
			v = -v
		}
		vol += v
	}
	if vol == 0 {
		return false
	}

	for axis := 0; axis < 3; axis++ {
		if o.oppositeFaceDistance(axis) < cutoff {
			return false
		}
	}
	return true
}

// oppositeFaceDistance returns the minimum distance between the two
// (generally non-planar) opposite quad faces of one axis pair, measured as
// the smallest vertex-to-triangle-plane distance across both faces.
func (o *Octagon) oppositeFaceDistance(axis int) float64 {
	inv := 1.0 / float64(o.prec)
	pt := func(k int) [3]float64 {
		return [3]float64{
			float64(o.verts[k][0]) * inv,
			float64(o.verts[k][1]) * inv,
			float64(o.verts[k][2]) * inv,
		}
	}
	min := math.Inf(1)
	for side := 0; side < 2; side++ {
		f := quadFaces[axis][side]
		opp := quadFaces[axis][1-side]
		// Split the quad into its two triangles.
		tris := [2][3]int{{f[0], f[1], f[3]}, {f[0], f[3], f[2]}}
		for _, tri := range tris {
			a, b, c := pt(tri[0]), pt(tri[1]), pt(tri[2])
			n := crossF(subF(b, a), subF(c, a))
			nn := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
			if nn == 0 {
				continue
			}
			for _, k := range opp {
				p := pt(k)
				d := math.Abs(n[0]*(p[0]-a[0])+n[1]*(p[1]-a[1])+n[2]*(p[2]-a[2])) / nn
				if d < min {
					min = d
				}
			}
		}
	}
	return min
}

func subF(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func crossF(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
