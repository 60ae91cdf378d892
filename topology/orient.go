package topology

import "github.com/notargets/forestmesh/cell"

// Face orientation ids encode the eight symmetries of the square that
// relate two block parameterizations of the same 3D face. Bits 0-1 give
// the corner of the incident face that coincides with the owner's
// origin corner; bit 2 is set when the tangent directions are swapped.
// Id 0 is the identity.

// OwnerToFace maps tangential face coordinates (u, v) in the owner
// block's frame to (s, t) in the frame of an incident block with the
// given orientation id. The coordinates locate a feature of extent span
// inside a face of extent hmax, so a reversed direction maps u to
// hmax - span - u. Pass span 1 for lattice points and a cell size for
// cells.
func OwnerToFace(id int, hmax, span, u, v int32) (s, t int32) {
	a, b := u, v
	if id&4 != 0 {
		a, b = v, u
	}
	if id&1 != 0 {
		a = hmax - span - a
	}
	if id&2 != 0 {
		b = hmax - span - b
	}
	return a, b
}

// FaceToOwner is the inverse of OwnerToFace.
func FaceToOwner(id int, hmax, span, s, t int32) (u, v int32) {
	if id&1 != 0 {
		s = hmax - span - s
	}
	if id&2 != 0 {
		t = hmax - span - t
	}
	if id&4 != 0 {
		return t, s
	}
	return s, t
}

// FaceTangents returns, for a local 3D face index, which cell
// coordinates form the face's (u, v) tangent pair: 0 for x, 1 for y,
// 2 for z. The normal direction is the remaining coordinate.
func FaceTangents(face int) (int, int) {
	switch face / 2 {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

// FaceCoords extracts the tangential coordinates of a cell relative to
// its block for the given local face index.
func FaceCoords(face int, c cell.Cell) (u, v int32) {
	switch face / 2 {
	case 0:
		return c.Y, c.Z
	case 1:
		return c.X, c.Z
	default:
		return c.X, c.Y
	}
}
