package forest

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/forestmesh/comm"
	"github.com/notargets/forestmesh/geom"
)

func twoBlockVerts() []geom.Point {
	return []geom.Point{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0},
		{X: 0, Y: 1}, {X: 1, Y: 1}, {X: 2, Y: 1},
	}
}

func unitSquareVerts() []geom.Point {
	return []geom.Point{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1},
	}
}

func unitCubeVerts() []geom.Point {
	v := make([]geom.Point, 8)
	for i := range v {
		v[i] = geom.Point{
			X: float64(i & 1),
			Y: float64(i >> 1 & 1),
			Z: float64(i >> 2 & 1),
		}
	}
	return v
}

func TestCreateNodesUniform(t *testing.T) {
	conn := twoBlocks2D(t)
	eval, err := geom.NewBilinear(conn, twoBlockVerts())
	require.NoError(t, err)

	runRanks(t, 1, func(c *comm.Comm) {
		f, _ := New(c, conn, Options{})
		assert.NoError(t, f.CreateTrees(1))
		assert.NoError(t, f.Balance())
		assert.NoError(t, f.CreateNodes(2, UniformPoints, eval))

		// A 5x3 grid of shared corner nodes over the two blocks.
		assert.Equal(t, 15, f.Nodes().Len())
		assert.Equal(t, 15, f.NodeRange()[1])
		assert.Equal(t, 15, f.NumOwnedNodes())
		assert.Zero(t, f.NumDepNodes())

		assert.Len(t, f.ElementConn(), 8*4)
		for _, n := range f.ElementConn() {
			assert.GreaterOrEqual(t, n, int32(0))
			assert.Less(t, n, int32(15))
		}

		// Physical positions land on the half-unit lattice, with the
		// inter-block nodes at x = 1 appearing exactly once.
		pts := f.Points()
		assert.Len(t, pts, 15)
		seen := map[[2]float64]int{}
		for _, p := range pts {
			seen[[2]float64{p.X, p.Y}]++
		}
		assert.Len(t, seen, 15)
		for _, x := range []float64{0, 0.5, 1, 1.5, 2} {
			for _, y := range []float64{0, 0.5, 1} {
				assert.Equal(t, 1, seen[[2]float64{x, y}], "missing node (%g, %g)", x, y)
			}
		}
	})
}

func TestCreateNodesHanging(t *testing.T) {
	conn := singleBlock2D(t)

	refineFirst := func(t *testing.T, c *comm.Comm, rounds int) *Forest {
		f, _ := New(c, conn, Options{MaxLevel: 20})
		assert.NoError(t, f.CreateTrees(1))
		for r := 0; r < rounds; r++ {
			deltas := make([]int, f.Cells().Len())
			deltas[0] = 1
			assert.NoError(t, f.Refine(deltas))
			assert.NoError(t, f.Balance())
		}
		return f
	}

	t.Run("Order 2 hanging edges", func(t *testing.T) {
		runRanks(t, 1, func(c *comm.Comm) {
			f := refineFirst(t, c, 1)
			assert.Equal(t, 7, f.Cells().Len())
			assert.NoError(t, f.CreateNodes(2, UniformPoints, nil))

			// One hanging node per coarse/fine edge pair.
			assert.Equal(t, 2, f.NumDepNodes())
			ptr, cols, wts := f.DepNodeConn()
			assert.Len(t, ptr, 3)
			for d := 0; d < 2; d++ {
				row := wts[ptr[d]:ptr[d+1]]
				assert.Len(t, row, 2)
				assert.InDelta(t, 0.5, row[0], 1e-15)
				assert.InDelta(t, 0.5, row[1], 1e-15)
			}
			for _, col := range cols {
				assert.GreaterOrEqual(t, col, int32(0))
			}
		})
	})

	t.Run("Order 3 hanging edges", func(t *testing.T) {
		runRanks(t, 1, func(c *comm.Comm) {
			f := refineFirst(t, c, 1)
			assert.NoError(t, f.CreateNodes(3, UniformPoints, nil))

			// Quarter point nodes hang; the edge midpoint coincides
			// with the coarse midnode and stays independent.
			assert.Equal(t, 4, f.NumDepNodes())
			ptr, cols, wts := f.DepNodeConn()
			for d := 0; d < f.NumDepNodes(); d++ {
				row := wts[ptr[d]:ptr[d+1]]
				assert.Len(t, row, 3)
				sum, abs := 0.0, []float64{}
				for _, w := range row {
					sum += w
					if w < 0 {
						abs = append(abs, -w)
					} else {
						abs = append(abs, w)
					}
				}
				sort.Float64s(abs)
				assert.InDelta(t, 1.0, sum, 1e-15)
				assert.InDelta(t, 0.125, abs[0], 1e-15)
				assert.InDelta(t, 0.375, abs[1], 1e-15)
				assert.InDelta(t, 0.75, abs[2], 1e-15)
			}
			for _, col := range cols {
				assert.GreaterOrEqual(t, col, int32(0))
			}
		})
	})

	t.Run("Chained constraints resolve to independents", func(t *testing.T) {
		runRanks(t, 1, func(c *comm.Comm) {
			f := refineFirst(t, c, 2)
			assert.NoError(t, f.CreateNodes(2, UniformPoints, nil))
			assert.Positive(t, f.NumDepNodes())

			ptr, cols, wts := f.DepNodeConn()
			for d := 0; d < f.NumDepNodes(); d++ {
				sum := 0.0
				for j := ptr[d]; j < ptr[d+1]; j++ {
					assert.GreaterOrEqual(t, cols[j], int32(0))
					sum += wts[j]
				}
				assert.InDelta(t, 1.0, sum, 1e-14)
			}
		})
	})
}

func TestCreateNodesParallel(t *testing.T) {
	conn := singleBlock2D(t)
	owned := make([]int, 2)
	runRanks(t, 2, func(c *comm.Comm) {
		f, _ := New(c, conn, Options{})
		assert.NoError(t, f.CreateTrees(2))
		assert.NoError(t, f.Balance())
		assert.NoError(t, f.Repartition())
		assert.Equal(t, 8, f.Cells().Len())
		assert.NoError(t, f.CreateNodes(2, UniformPoints, nil))

		assert.NotNil(t, f.Ghosts())
		assert.Positive(t, f.Ghosts().Len())
		assert.Equal(t, 25, f.NodeRange()[2])
		owned[c.Rank()] = f.NumOwnedNodes()

		// Every element entry resolved, local or remote.
		assert.Len(t, f.ElementConn(), 8*4)
		for _, n := range f.ElementConn() {
			assert.GreaterOrEqual(t, n, int32(0))
			assert.Less(t, n, int32(25))
		}
	})
	assert.Equal(t, 25, owned[0]+owned[1])
}

func TestCreateNodesValidation(t *testing.T) {
	conn := singleBlock2D(t)
	runRanks(t, 1, func(c *comm.Comm) {
		f, _ := New(c, conn, Options{})
		assert.NoError(t, f.CreateTrees(1))
		assert.NoError(t, f.Balance())
		assert.ErrorIs(t, f.CreateNodes(5, UniformPoints, nil), ErrUnsupportedOrder)
		assert.ErrorIs(t, f.CreateNodes(1, UniformPoints, nil), ErrUnsupportedOrder)
	})
}

func TestKnots(t *testing.T) {
	conn := singleBlock2D(t)
	runRanks(t, 1, func(c *comm.Comm) {
		f, _ := New(c, conn, Options{MaxLevel: 20})
		assert.NoError(t, f.CreateTrees(0))
		assert.NoError(t, f.Balance())
		assert.NoError(t, f.CreateNodes(3, GaussLobattoPoints, nil))
		knots := f.Knots()
		assert.Len(t, knots, 3)
		assert.InDelta(t, 0.0, knots[0], 1e-15)
		assert.InDelta(t, 0.5, knots[1], 1e-15)
		assert.InDelta(t, 1.0, knots[2], 1e-15)
	})
}

func twoHexRotatedVerts() []geom.Point {
	return []geom.Point{
		{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0},
		{X: 1, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 1},
		{X: 0, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1},
		{X: 2, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 1},
		{X: 2, Y: 1, Z: 0}, {X: 2, Y: 1, Z: 1},
	}
}

func TestCreateNodesRotatedFace3D(t *testing.T) {
	conn := twoHexRotated3D(t)
	eval, err := geom.NewTrilinear(conn, twoHexRotatedVerts())
	require.NoError(t, err)

	t.Run("Interface nodes unify across the turned face", func(t *testing.T) {
		runRanks(t, 1, func(c *comm.Comm) {
			f, _ := New(c, conn, Options{})
			assert.NoError(t, f.CreateTrees(1))
			assert.NoError(t, f.Balance())
			assert.NoError(t, f.CreateNodes(2, UniformPoints, eval))

			// Two 3x3x3 grids sharing a 3x3 interface plane.
			assert.Equal(t, 45, f.Nodes().Len())
			assert.Zero(t, f.NumDepNodes())

			seen := map[geom.Point]int{}
			for _, p := range f.Points() {
				seen[p]++
			}
			assert.Len(t, seen, 45)
			for _, x := range []float64{0, 0.5, 1, 1.5, 2} {
				for _, y := range []float64{0, 0.5, 1} {
					for _, z := range []float64{0, 0.5, 1} {
						assert.Equal(t, 1, seen[geom.Point{X: x, Y: y, Z: z}],
							"node (%g, %g, %g)", x, y, z)
					}
				}
			}
		})
	})

	t.Run("Hanging faces constrain across the interface", func(t *testing.T) {
		runRanks(t, 1, func(c *comm.Comm) {
			f, _ := New(c, conn, Options{})
			assert.NoError(t, f.CreateTrees(1))
			deltas := make([]int, f.Cells().Len())
			for i := range deltas {
				q := f.Cells().At(i)
				if q.Block == 0 && q.X == q.Size() && q.Y == 0 && q.Z == 0 {
					deltas[i] = 1
				}
			}
			assert.NoError(t, f.Refine(deltas))
			assert.NoError(t, f.Balance())
			assert.NoError(t, f.CreateNodes(2, UniformPoints, eval))

			assert.Positive(t, f.NumDepNodes())
			ptr, cols, wts := f.DepNodeConn()
			for d := 0; d < f.NumDepNodes(); d++ {
				sum := 0.0
				for j := ptr[d]; j < ptr[d+1]; j++ {
					assert.GreaterOrEqual(t, cols[j], int32(0))
					sum += wts[j]
				}
				assert.InDelta(t, 1.0, sum, 1e-14)
			}

			// The refined octant touches the block interface, so some
			// hanging nodes sit on the x = 1 plane with masters in the
			// turned block.
			onInterface := false
			for i, num := range f.NodeNumbers() {
				if num < 0 && f.Points()[i].X == 1.0 {
					onInterface = true
				}
			}
			assert.True(t, onInterface)
		})
	})
}

func TestCreateNodes3D(t *testing.T) {
	conn := unitCube3D(t)
	eval, err := geom.NewTrilinear(conn, unitCubeVerts())
	require.NoError(t, err)

	t.Run("Uniform octants", func(t *testing.T) {
		runRanks(t, 1, func(c *comm.Comm) {
			f, _ := New(c, conn, Options{})
			assert.NoError(t, f.CreateTrees(1))
			assert.NoError(t, f.Balance())
			assert.NoError(t, f.CreateNodes(2, UniformPoints, eval))
			assert.Equal(t, 27, f.Nodes().Len())
			assert.Zero(t, f.NumDepNodes())
			assert.Len(t, f.ElementConn(), 8*8)

			seen := map[geom.Point]bool{}
			for _, p := range f.Points() {
				seen[p] = true
			}
			assert.Len(t, seen, 27)
			assert.True(t, seen[geom.Point{X: 0.5, Y: 0.5, Z: 0.5}])
		})
	})

	t.Run("Hanging faces and edges", func(t *testing.T) {
		runRanks(t, 1, func(c *comm.Comm) {
			f, _ := New(c, conn, Options{})
			assert.NoError(t, f.CreateTrees(1))
			deltas := make([]int, 8)
			deltas[0] = 1
			assert.NoError(t, f.Refine(deltas))
			assert.NoError(t, f.Balance())
			assert.NoError(t, f.CreateNodes(2, UniformPoints, nil))

			// Three hanging faces and three hanging edges around the
			// refined octant: one node each at order 2, plus the face
			// boundary edges shared with them.
			assert.Positive(t, f.NumDepNodes())
			ptr, cols, wts := f.DepNodeConn()
			for d := 0; d < f.NumDepNodes(); d++ {
				sum := 0.0
				n := ptr[d+1] - ptr[d]
				assert.Contains(t, []int32{2, 4}, n)
				for j := ptr[d]; j < ptr[d+1]; j++ {
					assert.GreaterOrEqual(t, cols[j], int32(0))
					sum += wts[j]
				}
				assert.InDelta(t, 1.0, sum, 1e-14)
			}
		})
	})
}
