// Package forest maintains a distributed forest of adaptive quadtrees
// or octrees over a block-structured domain. Each rank of a comm.World
// owns a contiguous interval of the globally sorted leaf sequence; the
// forest refines, coarsens, 2:1-balances and repartitions that
// sequence, and derives from it a globally consistent finite element
// node numbering with hanging-node constraints and coarse-to-fine
// interpolation operators.
//
// The lifecycle runs in one direction: seed the forest with CreateTrees
// or Refine, then Balance, then CreateNodes. Operations that change the
// leaves drop any node data derived from them.
package forest

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/notargets/forestmesh/cell"
	"github.com/notargets/forestmesh/comm"
	"github.com/notargets/forestmesh/geom"
	"github.com/notargets/forestmesh/topology"
)

var (
	// ErrLifecycle reports an operation invoked before its inputs exist,
	// such as CreateNodes on an unbalanced forest.
	ErrLifecycle = errors.New("forest lifecycle violation")

	// ErrUnsupportedOrder reports a mesh order outside the supported
	// range. Node identity is encoded on the integer coordinate lattice,
	// which pins the element node spacing to half cell sizes; orders 2
	// and 3 fit that lattice, higher orders do not.
	ErrUnsupportedOrder = errors.New("unsupported mesh order")

	// ErrInvalidLevel reports refinement bounds outside [0, MaxLevel].
	ErrInvalidLevel = errors.New("invalid refinement level")

	// ErrNoEnclosing reports fine nodes that no coarse element covers.
	ErrNoEnclosing = errors.New("no enclosing element")
)

// InterpolationType selects the 1D node spacing within elements.
type InterpolationType uint8

const (
	// UniformPoints spaces the element nodes evenly.
	UniformPoints InterpolationType = iota
	// GaussLobattoPoints uses Gauss-Lobatto spacing. For the supported
	// orders the interior knot coincides with the uniform midpoint, so
	// the choice only affects the reported knot vector.
	GaussLobattoPoints
)

// State tracks where a forest is in its lifecycle.
type State uint8

const (
	// StateCreated means no leaves exist yet.
	StateCreated State = iota
	// StateSeeded means leaves exist but 2:1 balance is not established.
	StateSeeded
	// StateBalanced means the leaves form a complete 2:1-balanced
	// partition of the domain.
	StateBalanced
	// StateNoded means node data has been built on the balanced leaves.
	StateNoded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSeeded:
		return "seeded"
	case StateBalanced:
		return "balanced"
	case StateNoded:
		return "noded"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Options configures a forest.
type Options struct {
	// MinLevel is the coarsening floor applied by Refine.
	MinLevel int32
	// MaxLevel is the refinement ceiling applied by Refine and
	// CreateTrees. Zero selects cell.MaxLevel - 1, which keeps a full
	// half-cell node lattice available at the finest level.
	MaxLevel int32
	// CornerBalance additionally enforces 2:1 balance across cell
	// corners. Edge and face balance is always enforced.
	CornerBalance bool
}

type depEdge struct {
	cell  cell.Cell
	index int // local edge index of the coarse element
}

// Forest is one rank's view of the distributed forest. All methods that
// communicate must be entered collectively by every rank.
type Forest struct {
	comm  *comm.Comm
	conn  *topology.Connectivity
	opts  Options
	state State

	cells  *cell.Array // local leaves, sorted
	owners []cell.Cell // first leaf of every rank

	ghosts *cell.Array // off-rank leaves adjacent to local ones

	order int
	itype InterpolationType
	knots []float64

	nodes     *cell.Array  // local node records, sorted by position
	nodeNums  []int32      // global number or -(dep+1), parallel to nodes
	nodeRange []int        // owned-node interval per rank
	numDep    int          // local dependent nodes
	points    []geom.Point // physical node positions, parallel to nodes
	elemConn  []int32      // order^d node numbers per local leaf

	depEdges []depEdge
	depFaces []depEdge // 3D hanging faces; index is the local face index

	depPtr []int32
	depCon []int32
	depWts []float64
}

// New creates an empty forest over the given connectivity. The zero
// Options value selects full-depth refinement bounds with corner
// balancing off.
func New(c *comm.Comm, conn *topology.Connectivity, opts Options) (*Forest, error) {
	if c == nil || conn == nil {
		return nil, errors.New("forest: nil comm or connectivity")
	}
	if opts.MaxLevel == 0 {
		opts.MaxLevel = cell.MaxLevel - 1
	}
	if opts.MinLevel < 0 || opts.MaxLevel > cell.MaxLevel-1 || opts.MinLevel > opts.MaxLevel {
		return nil, fmt.Errorf("%w: min %d max %d", ErrInvalidLevel,
			opts.MinLevel, opts.MaxLevel)
	}
	return &Forest{comm: c, conn: conn, opts: opts}, nil
}

func (f *Forest) dim() cell.Dim { return f.conn.Dim() }

// Comm returns the transport endpoint of this rank.
func (f *Forest) Comm() *comm.Comm { return f.comm }

// Connectivity returns the shared block topology.
func (f *Forest) Connectivity() *topology.Connectivity { return f.conn }

// State returns the lifecycle state.
func (f *Forest) State() State { return f.state }

// Cells returns the sorted local leaves. The array is owned by the
// forest and must not be modified.
func (f *Forest) Cells() *cell.Array { return f.cells }

// Owners returns the first leaf of every rank in encoding order.
func (f *Forest) Owners() []cell.Cell { return f.owners }

// Ghosts returns the off-rank leaves adjacent to local ones, or nil
// before CreateNodes.
func (f *Forest) Ghosts() *cell.Array { return f.ghosts }

// Order returns the mesh order set by CreateNodes.
func (f *Forest) Order() int { return f.order }

// Knots returns the 1D interpolation knots in [0,1].
func (f *Forest) Knots() []float64 { return f.knots }

// Nodes returns the local node records sorted by position.
func (f *Forest) Nodes() *cell.Array { return f.nodes }

// NodeNumbers returns, parallel to Nodes, the global number of each
// independent node or -(d+1) for the d-th local dependent node.
func (f *Forest) NodeNumbers() []int32 { return f.nodeNums }

// NodeRange returns the global numbering intervals: rank r owns numbers
// [NodeRange()[r], NodeRange()[r+1]).
func (f *Forest) NodeRange() []int { return f.nodeRange }

// NumOwnedNodes returns the number of independent nodes this rank owns.
func (f *Forest) NumOwnedNodes() int {
	if f.nodeRange == nil {
		return 0
	}
	return f.nodeRange[f.comm.Rank()+1] - f.nodeRange[f.comm.Rank()]
}

// NumDepNodes returns the number of local dependent nodes.
func (f *Forest) NumDepNodes() int { return f.numDep }

// Points returns the physical node positions, parallel to Nodes.
func (f *Forest) Points() []geom.Point { return f.points }

// ElementConn returns the element connectivity: Order()^d node numbers
// per local leaf in lexicographic node order, with -(d+1) marking
// dependent nodes.
func (f *Forest) ElementConn() []int32 { return f.elemConn }

// invalidateNodes drops everything derived from the leaf set.
func (f *Forest) invalidateNodes() {
	f.ghosts = nil
	f.nodes = nil
	f.nodeNums = nil
	f.nodeRange = nil
	f.numDep = 0
	f.points = nil
	f.elemConn = nil
	f.depEdges = nil
	f.depFaces = nil
	f.depPtr = nil
	f.depCon = nil
	f.depWts = nil
	f.order = 0
	f.knots = nil
}

// Duplicate returns an independent copy of the forest sharing the
// connectivity and transport. Node data is not copied; the duplicate
// drops back to the balanced state at most.
func (f *Forest) Duplicate() *Forest {
	d := &Forest{
		comm:  f.comm,
		conn:  f.conn,
		opts:  f.opts,
		state: f.state,
	}
	if d.state == StateNoded {
		d.state = StateBalanced
	}
	if f.cells != nil {
		d.cells = f.cells.Duplicate()
	}
	d.owners = append([]cell.Cell(nil), f.owners...)
	return d
}

// PartitionStats summarizes the distribution of leaves across ranks.
type PartitionStats struct {
	TotalCells int
	MinCells   int
	MaxCells   int
	AvgCells   float64
	// Imbalance is MaxCells divided by the ideal per-rank share. A
	// perfectly even partition reports 1.0.
	Imbalance float64
}

// Stats gathers partition statistics. Collective.
func (f *Forest) Stats() PartitionStats {
	local := 0
	if f.cells != nil {
		local = f.cells.Len()
	}
	counts := f.comm.AllGatherInt(local)
	s := PartitionStats{MinCells: counts[0], MaxCells: counts[0]}
	for _, n := range counts {
		s.TotalCells += n
		if n < s.MinCells {
			s.MinCells = n
		}
		if n > s.MaxCells {
			s.MaxCells = n
		}
	}
	s.AvgCells = float64(s.TotalCells) / float64(len(counts))
	if s.AvgCells > 0 {
		s.Imbalance = float64(s.MaxCells) / s.AvgCells
	}
	return s
}

// BoundaryCells returns the local leaves with at least one side on the
// domain boundary, paired with the side index. A leaf appears once per
// boundary side it touches.
func (f *Forest) BoundaryCells() ([]cell.Cell, []int, error) {
	if f.state < StateSeeded {
		return nil, nil, fmt.Errorf("%w: no cells in state %s", ErrLifecycle, f.state)
	}
	var cells []cell.Cell
	var sides []int
	nf := f.dim().NumFaces()
	for i := 0; i < f.cells.Len(); i++ {
		q := f.cells.At(i)
		for s := 0; s < nf; s++ {
			n := q.FaceNeighbor(s)
			if n.InBounds(f.dim()) {
				continue
			}
			if f.boundarySide(q, s) {
				cells = append(cells, q)
				sides = append(sides, s)
			}
		}
	}
	return cells, sides, nil
}

// boundarySide reports whether side s of q lies on the domain boundary
// rather than an inter-block interface.
func (f *Forest) boundarySide(q cell.Cell, s int) bool {
	b := int(q.Block)
	if f.dim() == cell.D3 {
		return len(f.conn.FaceBlocks(f.conn.BlockFace(b, s))) == 1
	}
	return len(f.conn.EdgeBlocks(f.conn.BlockEdge(b, s))) == 1
}

var log = logrus.WithField("pkg", "forest")
