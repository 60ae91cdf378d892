package topology

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/forestmesh/cell"
)

// grid2D builds an nx by ny grid of quadrilateral blocks over a
// (nx+1) by (ny+1) vertex lattice.
func grid2D(t *testing.T, nx, ny int) *Connectivity {
	t.Helper()
	vid := func(i, j int) int { return j*(nx+1) + i }
	var bv []int
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			bv = append(bv, vid(i, j), vid(i+1, j), vid(i, j+1), vid(i+1, j+1))
		}
	}
	conn, err := New2D((nx+1)*(ny+1), bv)
	require.NoError(t, err)
	return conn
}

func TestGrid2D(t *testing.T) {
	conn := grid2D(t, 2, 2)

	t.Run("Counts", func(t *testing.T) {
		assert.Equal(t, 4, conn.NumBlocks())
		assert.Equal(t, 9, conn.NumVertices())
		assert.Equal(t, 12, conn.NumEdges())
	})

	t.Run("Interior vertex meets four blocks", func(t *testing.T) {
		incs := conn.VertexBlocks(4)
		require.Len(t, incs, 4)
		assert.Equal(t, 0, conn.VertexOwner(4))
		// The center appears as a different corner of each block.
		corners := map[int]bool{}
		for _, inc := range incs {
			assert.Equal(t, 4, conn.BlockVertex(inc.Block, inc.Corner))
			corners[inc.Corner] = true
		}
		assert.Len(t, corners, 4)
	})

	t.Run("Shared edges meet two blocks", func(t *testing.T) {
		shared := 0
		for e := 0; e < conn.NumEdges(); e++ {
			incs := conn.EdgeBlocks(e)
			if len(incs) == 2 {
				shared++
				assert.Equal(t, conn.EdgeOwner(e), min(incs[0].Block, incs[1].Block))
			} else {
				require.Len(t, incs, 1)
			}
		}
		assert.Equal(t, 4, shared)
	})

	t.Run("Edge numbering is consistent across blocks", func(t *testing.T) {
		// +x edge of block 0 and -x edge of block 1 are the same edge.
		assert.Equal(t, conn.BlockEdge(0, 1), conn.BlockEdge(1, 0))
		// +y edge of block 0 and -y edge of block 2 likewise.
		assert.Equal(t, conn.BlockEdge(0, 3), conn.BlockEdge(2, 2))
	})
}

func TestEdgeDirection2D(t *testing.T) {
	// Block 1 is attached across the +x edge of block 0 with its corner
	// ordering flipped, so the shared edge runs in opposite directions
	// in the two blocks.
	conn, err := New2D(6, []int{
		0, 1, 2, 3,
		3, 4, 1, 5,
	})
	require.NoError(t, err)
	require.Equal(t, conn.BlockEdge(0, 1), conn.BlockEdge(1, 0))

	n1, n2 := conn.EdgeVertices(0, 1)
	m1, m2 := conn.EdgeVertices(1, 0)
	assert.Equal(t, n1, m2)
	assert.Equal(t, n2, m1)
}

func TestManyBlocksOnOneEdge(t *testing.T) {
	// A fan of 24 hexahedra around one shared x-aligned edge. Edge
	// unification must follow the incidence lists however many blocks
	// meet, so the full fan ends up with a single global edge number.
	const n = 24
	spoke := func(k int) (int, int) { return 2 + 2*k, 3 + 2*k }
	outer := func(k int) (int, int) { return 2 + 2*(n+1) + 2*k, 3 + 2*(n+1) + 2*k }

	var bv []int
	for k := 0; k < n; k++ {
		p0, p1 := spoke(k)
		q0, q1 := spoke(k + 1)
		r0, r1 := outer(k)
		bv = append(bv, 0, 1, p0, p1, q0, q1, r0, r1)
	}
	conn, err := New3D(2+2*(n+1)+2*n, bv)
	require.NoError(t, err)

	hub := conn.BlockEdge(0, 0)
	for k := 0; k < n; k++ {
		assert.Equal(t, hub, conn.BlockEdge(k, 0), "block %d", k)
	}
	assert.Len(t, conn.EdgeBlocks(hub), n)
	assert.Equal(t, 0, conn.EdgeOwner(hub))
}

func TestFaceUnification3D(t *testing.T) {
	// Block 1 shares the +x face of block 0 through a quarter turn.
	conn, err := New3D(12, []int{
		0, 1, 2, 3, 4, 5, 6, 7,
		5, 8, 1, 9, 7, 10, 3, 11,
	})
	require.NoError(t, err)

	t.Run("Counts", func(t *testing.T) {
		assert.Equal(t, 11, conn.NumFaces())
		assert.Equal(t, 20, conn.NumEdges())
	})

	shared := conn.BlockFace(0, 1)
	require.Equal(t, shared, conn.BlockFace(1, 0))
	require.Equal(t, 0, conn.FaceOwner(shared))

	var inc1 FaceIncidence
	for _, inc := range conn.FaceBlocks(shared) {
		if inc.Block == 1 {
			inc1 = inc
		}
	}
	require.Equal(t, 0, inc1.Face)

	t.Run("Orientation id maps owner corners onto shared vertices", func(t *testing.T) {
		ref := [4]int{1, 3, 5, 7} // owner face corners, u fastest
		got := [4]int{5, 1, 7, 3} // block 1 face corners
		for dv := int32(0); dv < 2; dv++ {
			for du := int32(0); du < 2; du++ {
				s, tt := OwnerToFace(inc1.ID, 2, 1, du, dv)
				assert.Equal(t, ref[du+2*dv], got[s+2*tt])
			}
		}
	})

	t.Run("Transform round trip", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for id := 0; id < 8; id++ {
			for trial := 0; trial < 50; trial++ {
				span := int32(1) << rng.Intn(10)
				u := rng.Int31n(cell.MaxCoord - span)
				v := rng.Int31n(cell.MaxCoord - span)
				s, tt := OwnerToFace(id, cell.MaxCoord, span, u, v)
				u2, v2 := FaceToOwner(id, cell.MaxCoord, span, s, tt)
				require.Equal(t, u, u2)
				require.Equal(t, v, v2)
			}
		}
	})
}

func TestValidation(t *testing.T) {
	t.Run("Vertex id out of range", func(t *testing.T) {
		_, err := New2D(3, []int{0, 1, 2, 3})
		assert.ErrorIs(t, err, ErrInvalidConnectivity)
	})

	t.Run("Truncated vertex list", func(t *testing.T) {
		_, err := New2D(4, []int{0, 1, 2})
		assert.ErrorIs(t, err, ErrInvalidConnectivity)
	})

	t.Run("Degenerate block", func(t *testing.T) {
		_, err := New2D(4, []int{0, 1, 1, 2})
		assert.ErrorIs(t, err, ErrInvalidConnectivity)
	})

	t.Run("Empty mesh", func(t *testing.T) {
		_, err := New2D(4, nil)
		assert.ErrorIs(t, err, ErrInvalidConnectivity)
	})
}
