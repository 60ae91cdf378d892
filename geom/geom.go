// Package geom maps the parametric coordinates of a forest mesh to
// physical space. Each coarse block carries a parameterization over
// [0,1]^d; an Evaluator turns a (block, u, v, w) location into a
// physical point. Blocks sharing a boundary must agree on it
// geometrically, since node coordinates are always evaluated in the
// boundary's canonical block.
package geom

import (
	"errors"
	"fmt"

	"github.com/notargets/forestmesh/topology"
)

// ErrGeometry reports an evaluator construction failure.
var ErrGeometry = errors.New("invalid geometry")

// Point is a physical location. Z is zero for planar meshes.
type Point struct {
	X, Y, Z float64
}

// Evaluator maps block-parametric coordinates to physical space.
// u, v and w lie in [0,1]; w is ignored by 2D evaluators.
type Evaluator interface {
	EvalPoint(block int, u, v, w float64) Point
}

// Bilinear interpolates block geometry linearly from the four corner
// vertices of each 2D block.
type Bilinear struct {
	conn  *topology.Connectivity
	verts []Point
}

// NewBilinear builds a straight-sided evaluator for a 2D mesh. verts
// holds the physical position of every global vertex.
func NewBilinear(conn *topology.Connectivity, verts []Point) (*Bilinear, error) {
	if len(verts) != conn.NumVertices() {
		return nil, fmt.Errorf("%w: %d vertex positions for %d vertices",
			ErrGeometry, len(verts), conn.NumVertices())
	}
	return &Bilinear{conn: conn, verts: verts}, nil
}

// EvalPoint implements Evaluator.
func (g *Bilinear) EvalPoint(block int, u, v, _ float64) Point {
	var p Point
	for k := 0; k < 4; k++ {
		w := weight1(u, k&1) * weight1(v, (k>>1)&1)
		c := g.verts[g.conn.BlockVertex(block, k)]
		p.X += w * c.X
		p.Y += w * c.Y
	}
	return p
}

// Trilinear interpolates block geometry linearly from the eight corner
// vertices of each 3D block.
type Trilinear struct {
	conn  *topology.Connectivity
	verts []Point
}

// NewTrilinear builds a straight-sided evaluator for a 3D mesh.
func NewTrilinear(conn *topology.Connectivity, verts []Point) (*Trilinear, error) {
	if len(verts) != conn.NumVertices() {
		return nil, fmt.Errorf("%w: %d vertex positions for %d vertices",
			ErrGeometry, len(verts), conn.NumVertices())
	}
	return &Trilinear{conn: conn, verts: verts}, nil
}

// EvalPoint implements Evaluator.
func (g *Trilinear) EvalPoint(block int, u, v, w float64) Point {
	var p Point
	for k := 0; k < 8; k++ {
		wt := weight1(u, k&1) * weight1(v, (k>>1)&1) * weight1(w, (k>>2)&1)
		c := g.verts[g.conn.BlockVertex(block, k)]
		p.X += wt * c.X
		p.Y += wt * c.Y
		p.Z += wt * c.Z
	}
	return p
}

func weight1(u float64, bit int) float64 {
	if bit == 0 {
		return 1 - u
	}
	return u
}
