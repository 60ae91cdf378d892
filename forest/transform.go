package forest

import (
	"github.com/notargets/forestmesh/cell"
	"github.com/notargets/forestmesh/topology"
)

// Cross-block transforms. A cell derived by neighbor arithmetic can
// leave its block's coordinate domain; these helpers re-express it in
// the frame of every other block incident to the boundary entity it
// crossed. The span argument is the alignment extent of the image: the
// cell size for exact images, twice the size for sibling-0 aligned
// images, zero for lattice points.

// place2DEdge writes the coordinates of an image on local edge ee of a
// 2D block, with tangential coordinate u and normal offset off.
func place2DEdge(q *cell.Cell, ee int, u, off int32) {
	if ee < 2 {
		q.X = off * int32(ee%2)
		q.Y = u
	} else {
		q.X = u
		q.Y = off * int32(ee%2)
	}
}

// place3DEdge writes the coordinates of an image on local 3D edge ee,
// with along-edge coordinate u and transverse offset off.
func place3DEdge(q *cell.Cell, ee int, u, off int32) {
	j := ee % 4
	switch ee / 4 {
	case 0:
		q.X = u
		q.Y = off * int32(j&1)
		q.Z = off * int32((j>>1)&1)
	case 1:
		q.Y = u
		q.X = off * int32(j&1)
		q.Z = off * int32((j>>1)&1)
	case 2:
		q.Z = u
		q.X = off * int32(j&1)
		q.Y = off * int32((j>>1)&1)
	}
}

// place3DFace writes the coordinates of an image on local 3D face fi,
// with tangential coordinates (s, t) and normal offset off.
func place3DFace(q *cell.Cell, fi int, s, t, off int32) {
	switch fi / 2 {
	case 0:
		q.X = off * int32(fi%2)
		q.Y = s
		q.Z = t
	case 1:
		q.Y = off * int32(fi%2)
		q.X = s
		q.Z = t
	case 2:
		q.Z = off * int32(fi%2)
		q.X = s
		q.Y = t
	}
}

// crossEdge2D visits the images of p, which lies across local edge
// eindex of its block, in every other block on that global edge.
func (f *Forest) crossEdge2D(eindex int, p cell.Cell, span int32, visit func(cell.Cell)) {
	hmax := cell.MaxCoord
	block := int(p.Block)
	edge := f.conn.BlockEdge(block, eindex)

	var ucoord int32
	if eindex < 2 {
		ucoord = p.Y
	} else {
		ucoord = p.X
	}
	n1, n2 := f.conn.EdgeVertices(block, eindex)

	for _, inc := range f.conn.EdgeBlocks(edge) {
		if inc.Block == block {
			continue
		}
		m1, m2 := f.conn.EdgeVertices(inc.Block, inc.Edge)
		u := ucoord
		if n1 == m2 && n2 == m1 {
			u = hmax - span - ucoord
		}
		q := cell.Cell{Block: int32(inc.Block), Level: p.Level}
		place2DEdge(&q, inc.Edge, u, hmax-span)
		visit(q)
	}
}

// crossCorner visits an image at the corner of every other block
// meeting the given corner of block b.
func (f *Forest) crossCorner(b, corner int, level, span int32, visit func(cell.Cell)) {
	hmax := cell.MaxCoord
	v := f.conn.BlockVertex(b, corner)
	for _, inc := range f.conn.VertexBlocks(v) {
		if inc.Block == b {
			continue
		}
		q := cell.Cell{Block: int32(inc.Block), Level: level}
		q.X = (hmax - span) * int32(inc.Corner&1)
		q.Y = (hmax - span) * int32((inc.Corner>>1)&1)
		if f.dim() == cell.D3 {
			q.Z = (hmax - span) * int32((inc.Corner>>2)&1)
		}
		visit(q)
	}
}

// crossEdge3D visits the images of p, which lies across local 3D edge
// eindex of its block, in every other block on that global edge.
func (f *Forest) crossEdge3D(eindex int, p cell.Cell, span int32, visit func(cell.Cell)) {
	hmax := cell.MaxCoord
	block := int(p.Block)
	edge := f.conn.BlockEdge(block, eindex)

	var ucoord int32
	switch eindex / 4 {
	case 0:
		ucoord = p.X
	case 1:
		ucoord = p.Y
	default:
		ucoord = p.Z
	}
	n1, n2 := f.conn.EdgeVertices(block, eindex)

	for _, inc := range f.conn.EdgeBlocks(edge) {
		if inc.Block == block {
			continue
		}
		m1, m2 := f.conn.EdgeVertices(inc.Block, inc.Edge)
		u := ucoord
		if n1 == m2 && n2 == m1 {
			u = hmax - span - ucoord
		}
		q := cell.Cell{Block: int32(inc.Block), Level: p.Level}
		place3DEdge(&q, inc.Edge, u, hmax-span)
		visit(q)
	}
}

// crossFace3D visits the images of p, which lies across local face
// findex of its block, in every other block on that global face. The
// tangential coordinates pass through the owner frame so that any pair
// of incident orientations composes correctly.
func (f *Forest) crossFace3D(findex int, p cell.Cell, span int32, visit func(cell.Cell)) {
	hmax := cell.MaxCoord
	block := int(p.Block)
	face := f.conn.BlockFace(block, findex)
	incs := f.conn.FaceBlocks(face)

	selfID := 0
	for _, inc := range incs {
		if inc.Block == block && inc.Face == findex {
			selfID = inc.ID
			break
		}
	}
	u, v := topology.FaceCoords(findex, p)
	uo, vo := topology.FaceToOwner(selfID, hmax, span, u, v)

	for _, inc := range incs {
		if inc.Block == block {
			continue
		}
		s, t := topology.OwnerToFace(inc.ID, hmax, span, uo, vo)
		q := cell.Cell{Block: int32(inc.Block), Level: p.Level}
		place3DFace(&q, inc.Face, s, t, hmax-span)
		visit(q)
	}
}

// routeCell dispatches an out-of-bounds cell to the crossing handler
// matching the boundary entity it lies across, visiting every image.
// Cells beyond a boundary with no adjacent block produce no images.
func (f *Forest) routeCell(p cell.Cell, span int32, visit func(cell.Cell)) {
	hmax := cell.MaxCoord
	ex := p.X < 0 || p.X >= hmax
	ey := p.Y < 0 || p.Y >= hmax
	if f.dim() == cell.D2 {
		switch {
		case ex && ey:
			corner := b2i(p.X >= hmax) + 2*b2i(p.Y >= hmax)
			f.crossCorner(int(p.Block), corner, p.Level, span, visit)
		case ex:
			f.crossEdge2D(b2i(p.X >= hmax), p, span, visit)
		case ey:
			f.crossEdge2D(2+b2i(p.Y >= hmax), p, span, visit)
		}
		return
	}

	ez := p.Z < 0 || p.Z >= hmax
	switch {
	case ex && ey && ez:
		corner := b2i(p.X >= hmax) + 2*b2i(p.Y >= hmax) + 4*b2i(p.Z >= hmax)
		f.crossCorner(int(p.Block), corner, p.Level, span, visit)
	case ey && ez:
		f.crossEdge3D(b2i(p.Y >= hmax)+2*b2i(p.Z >= hmax), p, span, visit)
	case ex && ez:
		f.crossEdge3D(4+b2i(p.X >= hmax)+2*b2i(p.Z >= hmax), p, span, visit)
	case ex && ey:
		f.crossEdge3D(8+b2i(p.X >= hmax)+2*b2i(p.Y >= hmax), p, span, visit)
	case ex:
		f.crossFace3D(b2i(p.X >= hmax), p, span, visit)
	case ey:
		f.crossFace3D(2+b2i(p.Y >= hmax), p, span, visit)
	case ez:
		f.crossFace3D(4+b2i(p.Z >= hmax), p, span, visit)
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// transformNode rewrites a node record lying on a block boundary into
// the frame of the boundary's canonical owner block, making node
// identity global. Coordinates equal to the domain extent are truncated
// onto the last lattice point, which convertToCoordinate maps back to
// the far end of the parameter range.
func (f *Forest) transformNode(p *cell.Cell) {
	if f.dim() == cell.D3 {
		f.transformNode3D(p)
		return
	}
	hmax := cell.MaxCoord
	fx0 := p.X == 0
	fy0 := p.Y == 0
	fx := fx0 || p.X == hmax
	fy := fy0 || p.Y == hmax
	block := int(p.Block)

	if fx && fy {
		corner := b2i(!fx0) + 2*b2i(!fy0)
		v := f.conn.BlockVertex(block, corner)
		if owner := f.conn.VertexOwner(v); owner != block {
			for _, inc := range f.conn.VertexBlocks(v) {
				if inc.Block == owner {
					p.Block = int32(owner)
					p.X = hmax * int32(inc.Corner&1)
					p.Y = hmax * int32((inc.Corner>>1)&1)
					break
				}
			}
		}
	} else if fx || fy {
		var eindex int
		var u int32
		if fx {
			eindex = b2i(!fx0)
			u = p.Y
		} else {
			eindex = 2 + b2i(!fy0)
			u = p.X
		}
		edge := f.conn.BlockEdge(block, eindex)
		if owner := f.conn.EdgeOwner(edge); owner != block {
			n1, n2 := f.conn.EdgeVertices(block, eindex)
			for _, inc := range f.conn.EdgeBlocks(edge) {
				if inc.Block != owner {
					continue
				}
				m1, m2 := f.conn.EdgeVertices(inc.Block, inc.Edge)
				up := u
				if n1 == m2 && n2 == m1 {
					up = hmax - u
				}
				p.Block = int32(owner)
				place2DEdge(p, inc.Edge, up, hmax)
				break
			}
		}
	}

	if p.X == hmax {
		p.X = hmax - 1
	}
	if p.Y == hmax {
		p.Y = hmax - 1
	}
}

func (f *Forest) transformNode3D(p *cell.Cell) {
	hmax := cell.MaxCoord
	fx0 := p.X == 0
	fy0 := p.Y == 0
	fz0 := p.Z == 0
	fx := fx0 || p.X == hmax
	fy := fy0 || p.Y == hmax
	fz := fz0 || p.Z == hmax
	block := int(p.Block)

	switch {
	case fx && fy && fz:
		corner := b2i(!fx0) + 2*b2i(!fy0) + 4*b2i(!fz0)
		v := f.conn.BlockVertex(block, corner)
		if owner := f.conn.VertexOwner(v); owner != block {
			for _, inc := range f.conn.VertexBlocks(v) {
				if inc.Block == owner {
					p.Block = int32(owner)
					p.X = hmax * int32(inc.Corner&1)
					p.Y = hmax * int32((inc.Corner>>1)&1)
					p.Z = hmax * int32((inc.Corner>>2)&1)
					break
				}
			}
		}

	case (fy && fz) || (fx && fz) || (fx && fy):
		var eindex int
		var u int32
		switch {
		case fy && fz:
			eindex = b2i(!fy0) + 2*b2i(!fz0)
			u = p.X
		case fx && fz:
			eindex = 4 + b2i(!fx0) + 2*b2i(!fz0)
			u = p.Y
		default:
			eindex = 8 + b2i(!fx0) + 2*b2i(!fy0)
			u = p.Z
		}
		edge := f.conn.BlockEdge(block, eindex)
		if owner := f.conn.EdgeOwner(edge); owner != block {
			n1, n2 := f.conn.EdgeVertices(block, eindex)
			for _, inc := range f.conn.EdgeBlocks(edge) {
				if inc.Block != owner {
					continue
				}
				m1, m2 := f.conn.EdgeVertices(inc.Block, inc.Edge)
				up := u
				if n1 == m2 && n2 == m1 {
					up = hmax - u
				}
				p.Block = int32(owner)
				place3DEdge(p, inc.Edge, up, hmax)
				break
			}
		}

	case fx || fy || fz:
		var findex int
		switch {
		case fx:
			findex = b2i(!fx0)
		case fy:
			findex = 2 + b2i(!fy0)
		default:
			findex = 4 + b2i(!fz0)
		}
		face := f.conn.BlockFace(block, findex)
		if owner := f.conn.FaceOwner(face); owner != block {
			selfID := 0
			var ownerInc topology.FaceIncidence
			for _, inc := range f.conn.FaceBlocks(face) {
				if inc.Block == block && inc.Face == findex {
					selfID = inc.ID
				}
				if inc.Block == owner {
					ownerInc = inc
				}
			}
			u, v := topology.FaceCoords(findex, *p)
			uo, vo := topology.FaceToOwner(selfID, hmax, 0, u, v)
			p.Block = int32(owner)
			place3DFace(p, ownerInc.Face, uo, vo, hmax)
		}
	}

	if p.X == hmax {
		p.X = hmax - 1
	}
	if p.Y == hmax {
		p.Y = hmax - 1
	}
	if p.Z == hmax {
		p.Z = hmax - 1
	}
}
