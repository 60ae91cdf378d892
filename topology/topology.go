// Package topology derives the full inter-block connectivity of a
// forest mesh from its minimal description: a list of blocks, each
// given as the global vertex ids of its corners.
//
// Construction unifies the edges and (in 3D) faces shared between
// blocks, inverts every incidence relation, and assigns a deterministic
// owner to each shared entity so that parallel algorithms agree on a
// canonical block for coordinates that lie on a block boundary. For 3D
// faces it also records the relative orientation of each incident block
// with respect to the owner, one of the eight symmetries of the square.
package topology

import (
	"errors"
	"fmt"

	"github.com/notargets/forestmesh/cell"
)

// ErrInvalidConnectivity reports a malformed block description.
var ErrInvalidConnectivity = errors.New("invalid block connectivity")

// Corner numbering is bitwise: bit 0 is x, bit 1 is y, bit 2 is z.

// edgeCorners2D lists the two corners of each 2D block edge, in edge
// index order -x, +x, -y, +y.
var edgeCorners2D = [4][2]int{{0, 2}, {1, 3}, {0, 1}, {2, 3}}

// edgeCorners3D lists the two corners of each 3D block edge. Edges 0-3
// are aligned with x, 4-7 with y, 8-11 with z.
var edgeCorners3D = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// faceCorners3D lists the four corners of each 3D block face in
// tangential order, first tangent direction fastest. Faces 0-5 are
// -x, +x, -y, +y, -z, +z; the tangent pairs are (y,z), (x,z), (x,y).
var faceCorners3D = [6][4]int{
	{0, 2, 4, 6}, {1, 3, 5, 7},
	{0, 1, 4, 5}, {2, 3, 6, 7},
	{0, 1, 2, 3}, {4, 5, 6, 7},
}

// VertexIncidence locates one block corner meeting a global vertex.
type VertexIncidence struct {
	Block  int
	Corner int
}

// EdgeIncidence locates one block edge lying on a global edge.
type EdgeIncidence struct {
	Block int
	Edge  int // local edge index within Block
}

// FaceIncidence locates one block face lying on a global face, with the
// orientation id of that block relative to the owner block.
type FaceIncidence struct {
	Block int
	Face  int // local face index within Block
	ID    int // orientation relative to the owner, 0..7
}

// Connectivity is the immutable derived topology of a block mesh.
type Connectivity struct {
	dim cell.Dim

	numBlocks   int
	numVertices int
	numEdges    int
	numFaces    int // 3D only

	blockVerts []int // NumCorners() per block
	blockEdges []int // 4 per block in 2D, 12 in 3D
	blockFaces []int // 6 per block, 3D only

	vertBlocks [][]VertexIncidence
	edgeBlocks [][]EdgeIncidence
	faceBlocks [][]FaceIncidence

	vertOwners []int
	edgeOwners []int
	faceOwners []int
}

// New2D builds the connectivity of a 2D mesh of quadrilateral blocks.
// blockVerts holds four global vertex ids per block in corner order.
func New2D(numVertices int, blockVerts []int) (*Connectivity, error) {
	return build(cell.D2, numVertices, blockVerts)
}

// New3D builds the connectivity of a 3D mesh of hexahedral blocks.
// blockVerts holds eight global vertex ids per block in corner order.
func New3D(numVertices int, blockVerts []int) (*Connectivity, error) {
	return build(cell.D3, numVertices, blockVerts)
}

func build(dim cell.Dim, numVertices int, blockVerts []int) (*Connectivity, error) {
	nc := dim.NumCorners()
	if numVertices <= 0 {
		return nil, fmt.Errorf("%w: %d vertices", ErrInvalidConnectivity, numVertices)
	}
	if len(blockVerts) == 0 || len(blockVerts)%nc != 0 {
		return nil, fmt.Errorf("%w: vertex list length %d is not a multiple of %d",
			ErrInvalidConnectivity, len(blockVerts), nc)
	}
	for i, v := range blockVerts {
		if v < 0 || v >= numVertices {
			return nil, fmt.Errorf("%w: block %d corner %d references vertex %d of %d",
				ErrInvalidConnectivity, i/nc, i%nc, v, numVertices)
		}
	}

	c := &Connectivity{
		dim:         dim,
		numBlocks:   len(blockVerts) / nc,
		numVertices: numVertices,
		blockVerts:  append([]int(nil), blockVerts...),
	}
	for b := 0; b < c.numBlocks; b++ {
		seen := map[int]bool{}
		for k := 0; k < nc; k++ {
			v := c.blockVerts[nc*b+k]
			if seen[v] {
				return nil, fmt.Errorf("%w: block %d repeats vertex %d",
					ErrInvalidConnectivity, b, v)
			}
			seen[v] = true
		}
	}

	c.invertVertices()
	c.unifyEdges()
	if dim == cell.D3 {
		if err := c.unifyFaces(); err != nil {
			return nil, err
		}
	}
	c.computeOwners()
	return c, nil
}

// invertVertices builds the vertex-to-block incidence lists.
func (c *Connectivity) invertVertices() {
	nc := c.dim.NumCorners()
	c.vertBlocks = make([][]VertexIncidence, c.numVertices)
	for b := 0; b < c.numBlocks; b++ {
		for k := 0; k < nc; k++ {
			v := c.blockVerts[nc*b+k]
			c.vertBlocks[v] = append(c.vertBlocks[v], VertexIncidence{Block: b, Corner: k})
		}
	}
}

func (c *Connectivity) edgeCorners(e int) [2]int {
	if c.dim == cell.D3 {
		return edgeCorners3D[e]
	}
	return edgeCorners2D[e]
}

func (c *Connectivity) edgesPerBlock() int {
	if c.dim == cell.D3 {
		return 12
	}
	return 4
}

// unifyEdges assigns a global number to every distinct block edge. Two
// block edges are the same global edge when they join the same pair of
// global vertices. Matching spreads from each unnumbered edge through
// the vertex incidence lists with a growable worklist, so arbitrarily
// many blocks may meet along one edge.
func (c *Connectivity) unifyEdges() {
	ne := c.edgesPerBlock()
	nc := c.dim.NumCorners()
	c.blockEdges = make([]int, ne*c.numBlocks)
	for i := range c.blockEdges {
		c.blockEdges[i] = -1
	}

	edge := 0
	for b := 0; b < c.numBlocks; b++ {
		for e := 0; e < ne; e++ {
			if c.blockEdges[ne*b+e] >= 0 {
				continue
			}
			ec := c.edgeCorners(e)
			n1 := c.blockVerts[nc*b+ec[0]]
			n2 := c.blockVerts[nc*b+ec[1]]

			work := []EdgeIncidence{{Block: b, Edge: e}}
			c.blockEdges[ne*b+e] = edge
			for len(work) > 0 {
				cur := work[len(work)-1]
				work = work[:len(work)-1]
				cc := c.edgeCorners(cur.Edge)
				v := c.blockVerts[nc*cur.Block+cc[0]]
				for _, inc := range c.vertBlocks[v] {
					for ee := 0; ee < ne; ee++ {
						if c.blockEdges[ne*inc.Block+ee] >= 0 {
							continue
						}
						oc := c.edgeCorners(ee)
						m1 := c.blockVerts[nc*inc.Block+oc[0]]
						m2 := c.blockVerts[nc*inc.Block+oc[1]]
						if (m1 == n1 && m2 == n2) || (m1 == n2 && m2 == n1) {
							c.blockEdges[ne*inc.Block+ee] = edge
							work = append(work, EdgeIncidence{Block: inc.Block, Edge: ee})
						}
					}
				}
			}
			edge++
		}
	}
	c.numEdges = edge

	c.edgeBlocks = make([][]EdgeIncidence, c.numEdges)
	for b := 0; b < c.numBlocks; b++ {
		for e := 0; e < ne; e++ {
			g := c.blockEdges[ne*b+e]
			c.edgeBlocks[g] = append(c.edgeBlocks[g], EdgeIncidence{Block: b, Edge: e})
		}
	}
}

// unifyFaces assigns a global number to every distinct 3D block face
// and records each incident block's orientation relative to the face
// owner, which is the lowest-numbered incident block.
func (c *Connectivity) unifyFaces() error {
	c.blockFaces = make([]int, 6*c.numBlocks)
	ids := make([]int, 6*c.numBlocks)
	for i := range c.blockFaces {
		c.blockFaces[i] = -1
	}

	face := 0
	for b := 0; b < c.numBlocks; b++ {
		for f := 0; f < 6; f++ {
			if c.blockFaces[6*b+f] >= 0 {
				continue
			}
			var fv [4]int
			for k := 0; k < 4; k++ {
				fv[k] = c.blockVerts[8*b+faceCorners3D[f][k]]
			}
			c.blockFaces[6*b+f] = face
			ids[6*b+f] = 0 // b is the owner of a face it numbers first

			// All other blocks on this face share its first vertex.
			for _, inc := range c.vertBlocks[fv[0]] {
				if inc.Block == b {
					continue
				}
				for ff := 0; ff < 6; ff++ {
					if c.blockFaces[6*inc.Block+ff] >= 0 {
						continue
					}
					var ov [4]int
					for k := 0; k < 4; k++ {
						ov[k] = c.blockVerts[8*inc.Block+faceCorners3D[ff][k]]
					}
					if !sameVertexSet(fv, ov) {
						continue
					}
					id, err := faceOrientation(fv, ov)
					if err != nil {
						return fmt.Errorf("%w: blocks %d and %d share face %d with "+
							"inconsistent corners", ErrInvalidConnectivity, b, inc.Block, face)
					}
					c.blockFaces[6*inc.Block+ff] = face
					ids[6*inc.Block+ff] = id
				}
			}
			face++
		}
	}
	c.numFaces = face

	c.faceBlocks = make([][]FaceIncidence, c.numFaces)
	for b := 0; b < c.numBlocks; b++ {
		for f := 0; f < 6; f++ {
			g := c.blockFaces[6*b+f]
			c.faceBlocks[g] = append(c.faceBlocks[g],
				FaceIncidence{Block: b, Face: f, ID: ids[6*b+f]})
		}
	}
	return nil
}

func sameVertexSet(a, b [4]int) bool {
	for _, x := range a {
		found := false
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// faceOrientation returns the orientation id of a face whose ordered
// corner vertices are got, relative to the owner ordering ref. The id
// packs the image of the owner origin corner in bits 0-1 and a
// transposition flag in bit 2. See FaceToOwner for the coordinate map.
func faceOrientation(ref, got [4]int) (int, error) {
	e := -1
	for k := 0; k < 4; k++ {
		if got[k] == ref[0] {
			e = k
			break
		}
	}
	if e < 0 {
		return 0, errors.New("no shared origin corner")
	}
	switch ref[1] {
	case got[e^1]:
		if ref[2] == got[e^2] && ref[3] == got[e^3] {
			return e, nil
		}
	case got[e^2]:
		if ref[2] == got[e^1] && ref[3] == got[e^3] {
			return e | 4, nil
		}
	}
	return 0, errors.New("corner orderings do not correspond")
}

// computeOwners picks the canonical block for every shared entity: the
// lowest-numbered incident block. Ranks that never exchange a message
// still agree on these choices, which is what makes boundary node
// coordinates globally unique.
func (c *Connectivity) computeOwners() {
	c.vertOwners = make([]int, c.numVertices)
	for v, incs := range c.vertBlocks {
		owner := -1
		for _, inc := range incs {
			if owner < 0 || inc.Block < owner {
				owner = inc.Block
			}
		}
		c.vertOwners[v] = owner
	}
	c.edgeOwners = make([]int, c.numEdges)
	for e, incs := range c.edgeBlocks {
		owner := incs[0].Block
		for _, inc := range incs[1:] {
			if inc.Block < owner {
				owner = inc.Block
			}
		}
		c.edgeOwners[e] = owner
	}
	if c.dim == cell.D3 {
		c.faceOwners = make([]int, c.numFaces)
		for f, incs := range c.faceBlocks {
			owner := incs[0].Block
			for _, inc := range incs[1:] {
				if inc.Block < owner {
					owner = inc.Block
				}
			}
			c.faceOwners[f] = owner
		}
	}
}

// Dim returns the spatial dimension of the mesh.
func (c *Connectivity) Dim() cell.Dim { return c.dim }

// NumBlocks returns the number of blocks.
func (c *Connectivity) NumBlocks() int { return c.numBlocks }

// NumVertices returns the number of global vertices.
func (c *Connectivity) NumVertices() int { return c.numVertices }

// NumEdges returns the number of distinct global edges.
func (c *Connectivity) NumEdges() int { return c.numEdges }

// NumFaces returns the number of distinct global faces in 3D, zero in 2D.
func (c *Connectivity) NumFaces() int { return c.numFaces }

// BlockVertex returns the global vertex id at the given corner of a block.
func (c *Connectivity) BlockVertex(block, corner int) int {
	return c.blockVerts[c.dim.NumCorners()*block+corner]
}

// BlockEdge returns the global edge id of a local block edge.
func (c *Connectivity) BlockEdge(block, edge int) int {
	return c.blockEdges[c.edgesPerBlock()*block+edge]
}

// BlockFace returns the global face id of a local 3D block face.
func (c *Connectivity) BlockFace(block, face int) int {
	return c.blockFaces[6*block+face]
}

// VertexBlocks returns every block corner meeting a global vertex.
func (c *Connectivity) VertexBlocks(v int) []VertexIncidence { return c.vertBlocks[v] }

// EdgeBlocks returns every block edge lying on a global edge.
func (c *Connectivity) EdgeBlocks(e int) []EdgeIncidence { return c.edgeBlocks[e] }

// FaceBlocks returns every block face lying on a global 3D face.
func (c *Connectivity) FaceBlocks(f int) []FaceIncidence { return c.faceBlocks[f] }

// VertexOwner returns the canonical block of a global vertex.
func (c *Connectivity) VertexOwner(v int) int { return c.vertOwners[v] }

// EdgeOwner returns the canonical block of a global edge.
func (c *Connectivity) EdgeOwner(e int) int { return c.edgeOwners[e] }

// FaceOwner returns the canonical block of a global 3D face.
func (c *Connectivity) FaceOwner(f int) int { return c.faceOwners[f] }

// EdgeVertices returns the two global vertex ids bounding a local block
// edge, in the block's own edge direction. Comparing these across two
// incident blocks decides whether their edge parameterizations run in
// opposite directions.
func (c *Connectivity) EdgeVertices(block, edge int) (int, int) {
	ec := c.edgeCorners(edge)
	nc := c.dim.NumCorners()
	return c.blockVerts[nc*block+ec[0]], c.blockVerts[nc*block+ec[1]]
}
