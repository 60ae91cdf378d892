package forest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/forestmesh/cell"
	"github.com/notargets/forestmesh/comm"
	"github.com/notargets/forestmesh/topology"
)

// faceAdjacent reports whether two cells in the same block share a
// face: exact touch along one axis, open overlap along the other.
func faceAdjacent(a, b cell.Cell) bool {
	if a.Block != b.Block {
		return false
	}
	ha, hb := a.Size(), b.Size()
	touchX := a.X+ha == b.X || b.X+hb == a.X
	touchY := a.Y+ha == b.Y || b.Y+hb == a.Y
	overlapX := a.X < b.X+hb && b.X < a.X+ha
	overlapY := a.Y < b.Y+hb && b.Y < a.Y+ha
	return (touchX && overlapY) || (touchY && overlapX)
}

func checkTiling2D(t *testing.T, leaves []cell.Cell, blocks int) {
	var area uint64
	for i, q := range leaves {
		h := uint64(q.Size())
		area += h * h
		if i > 0 {
			assert.Negative(t, leaves[i-1].Compare(q))
			assert.False(t, leaves[i-1].Contains(q))
		}
	}
	assert.Equal(t, uint64(blocks)<<60, area)
}

func checkTwoToOne(t *testing.T, leaves []cell.Cell) {
	for i, a := range leaves {
		for _, b := range leaves[i+1:] {
			if !faceAdjacent(a, b) {
				continue
			}
			d := a.Level - b.Level
			if d < 0 {
				d = -d
			}
			assert.LessOrEqual(t, d, int32(1),
				"levels %d and %d share a face", a.Level, b.Level)
		}
	}
}

func TestBalance(t *testing.T) {
	conn := singleBlock2D(t)

	t.Run("Random forest balances to a 2:1 tiling", func(t *testing.T) {
		runRanks(t, 1, func(c *comm.Comm) {
			f, _ := New(c, conn, Options{})
			rng := rand.New(rand.NewSource(42))
			assert.NoError(t, f.CreateRandomTrees(rng, 25, 0, 6))
			assert.NoError(t, f.Balance())
			assert.Equal(t, StateBalanced, f.State())
			leaves := f.Cells().Cells()
			checkTiling2D(t, leaves, 1)
			checkTwoToOne(t, leaves)
		})
	})

	t.Run("Siblings complete every family", func(t *testing.T) {
		runRanks(t, 1, func(c *comm.Comm) {
			f, _ := New(c, conn, Options{})
			assert.NoError(t, f.CreateTrees(1))
			assert.NoError(t, f.Refine([]int{2, 0, 0, 0}))
			assert.NoError(t, f.Balance())
			leaves := f.Cells().Cells()
			checkTiling2D(t, leaves, 1)
			checkTwoToOne(t, leaves)
			// The corner leaf splits uniformly to level 3 and drags
			// its neighbors down to level 2.
			byLevel := map[int32]int{}
			for _, q := range leaves {
				byLevel[q.Level]++
			}
			assert.Equal(t, 16, byLevel[3])
			assert.Positive(t, byLevel[2])
		})
	})

	t.Run("Corner balance tightens the mesh", func(t *testing.T) {
		count := func(corner bool) int {
			var n int
			runRanks(t, 1, func(c *comm.Comm) {
				f, _ := New(c, conn, Options{CornerBalance: corner})
				rng := rand.New(rand.NewSource(9))
				assert.NoError(t, f.CreateRandomTrees(rng, 20, 0, 7))
				assert.NoError(t, f.Balance())
				checkTiling2D(t, f.Cells().Cells(), 1)
				n = f.Cells().Len()
			})
			return n
		}
		assert.GreaterOrEqual(t, count(true), count(false))
	})
}

func TestBalanceAcrossBlocks(t *testing.T) {
	// Two blocks meeting along an edge whose orientation is reversed
	// between them.
	conn, err := topology.New2D(6, []int{
		0, 1, 2, 3,
		3, 4, 1, 5,
	})
	require.NoError(t, err)

	runRanks(t, 2, func(c *comm.Comm) {
		f, _ := New(c, conn, Options{})
		assert.NoError(t, f.CreateTrees(1))
		// Deep refinement near the shared edge in block 0 only.
		if c.Rank() == 0 {
			assert.NoError(t, f.Refine([]int{0, 3, 0, 3}))
		} else {
			assert.NoError(t, f.Refine(make([]int, f.Cells().Len())))
		}
		assert.NoError(t, f.Balance())

		leaves := f.Cells().Cells()
		checkTwoToOne(t, leaves)
		for _, q := range leaves {
			assert.Equal(t, int32(c.Rank()), q.Block)
		}
		if c.Rank() == 1 {
			// Balance propagated across the interface: block 1 cannot
			// stay uniformly at level 1.
			finest := int32(0)
			for _, q := range leaves {
				if q.Level > finest {
					finest = q.Level
				}
			}
			assert.Greater(t, finest, int32(1))
		}
	})
}

func TestRandomSeedsCoverEveryBlock(t *testing.T) {
	// Three blocks in a strip; a seed set that skips a block would
	// leave it without leaves, since balance images arriving from a
	// neighbor at level 1 or coarser stop propagating.
	conn, err := topology.New2D(8, []int{
		0, 1, 4, 5,
		1, 2, 5, 6,
		2, 3, 6, 7,
	})
	require.NoError(t, err)

	runRanks(t, 1, func(c *comm.Comm) {
		f, _ := New(c, conn, Options{})
		rng := rand.New(rand.NewSource(11))
		assert.NoError(t, f.CreateRandomTrees(rng, 1, 4, 4))

		seeded := map[int32]bool{}
		for i := 0; i < f.Cells().Len(); i++ {
			seeded[f.Cells().At(i).Block] = true
		}
		assert.Len(t, seeded, 3)

		assert.NoError(t, f.Balance())
		leaves := f.Cells().Cells()
		checkTiling2D(t, leaves, 3)
		checkTwoToOne(t, leaves)

		var perBlock [3]uint64
		for _, q := range leaves {
			h := uint64(q.Size())
			perBlock[q.Block] += h * h
		}
		for b, area := range perBlock {
			assert.Equal(t, uint64(1)<<60, area, "block %d not tiled", b)
		}
	})
}

func TestBalanceKeepsEmptyRanksEmpty(t *testing.T) {
	conn := singleBlock2D(t)
	runRanks(t, 2, func(c *comm.Comm) {
		f, _ := New(c, conn, Options{})
		// One block: rank 0 seeds everything, rank 1 starts empty and
		// must own an empty interval rather than absorb the mesh.
		assert.NoError(t, f.CreateTrees(2))
		assert.NoError(t, f.Balance())
		if c.Rank() == 0 {
			assert.Equal(t, 16, f.Cells().Len())
		} else {
			assert.Zero(t, f.Cells().Len())
		}

		// Refinement keeps routing to the populated rank.
		assert.NoError(t, f.Refine(nil))
		assert.NoError(t, f.Balance())
		if c.Rank() == 0 {
			assert.Equal(t, 64, f.Cells().Len())
		} else {
			assert.Zero(t, f.Cells().Len())
		}
	})
}

// twoHexRotated3D joins two unit hexes along a face whose orientation
// is turned between the blocks: block 1's v and w axes are block 0's z
// and y.
func twoHexRotated3D(t *testing.T) *topology.Connectivity {
	t.Helper()
	conn, err := topology.New3D(12, []int{
		0, 1, 2, 3, 4, 5, 6, 7,
		1, 8, 5, 9, 3, 10, 7, 11,
	})
	require.NoError(t, err)
	return conn
}

func checkTiling3D(t *testing.T, leaves []cell.Cell, blocks int) {
	var volume float64
	for i, q := range leaves {
		h := float64(q.Size()) / float64(int64(1)<<cell.MaxLevel)
		volume += h * h * h
		if i > 0 {
			assert.Negative(t, leaves[i-1].Compare(q))
			assert.False(t, leaves[i-1].Contains(q))
		}
	}
	assert.InDelta(t, float64(blocks), volume, 1e-12)
}

func TestBalanceAcrossRotatedFace3D(t *testing.T) {
	conn := twoHexRotated3D(t)
	runRanks(t, 1, func(c *comm.Comm) {
		f, _ := New(c, conn, Options{})
		assert.NoError(t, f.CreateTrees(1))
		// Deep refinement of the block-0 octants touching the shared
		// face.
		deltas := make([]int, f.Cells().Len())
		for i := range deltas {
			q := f.Cells().At(i)
			if q.Block == 0 && q.X == q.Size() {
				deltas[i] = 2
			}
		}
		assert.NoError(t, f.Refine(deltas))
		assert.NoError(t, f.Balance())

		leaves := f.Cells().Cells()
		checkTiling3D(t, leaves, 2)

		// Propagation through the turned interface: block 1 cannot
		// stay uniformly coarse, and its refined cells sit on the
		// interface side (local -x).
		finest := int32(0)
		for _, q := range leaves {
			if q.Block != 1 {
				continue
			}
			if q.Level > finest {
				finest = q.Level
			}
			if q.Level > 1 {
				assert.Less(t, q.X, int32(1)<<(cell.MaxLevel-1))
			}
		}
		assert.Greater(t, finest, int32(1))
	})
}

func TestBalanceDeterminism(t *testing.T) {
	conn := twoBlocks2D(t)

	build := func(size int) []cell.Cell {
		parts := make([][]cell.Cell, size)
		runRanks(t, size, func(c *comm.Comm) {
			f, _ := New(c, conn, Options{})
			assert.NoError(t, f.CreateTrees(1))
			for round := 0; round < 2; round++ {
				deltas := make([]int, f.Cells().Len())
				for i := range deltas {
					q := f.Cells().At(i)
					if q.X == 0 && q.Y == 0 {
						deltas[i] = 1
					}
				}
				assert.NoError(t, f.Refine(deltas))
				assert.NoError(t, f.Balance())
			}
			gatherLeaves(f, parts)
		})
		return flattenSorted(parts)
	}

	assert.Equal(t, build(1), build(3))
}
