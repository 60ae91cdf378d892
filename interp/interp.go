// Package interp collects the rows of a coarse-to-fine interpolation
// operator. Each row belongs to one fine node and holds the weights of
// the coarse nodes contributing to it; after assembly the operator
// prolongates coarse nodal vectors onto the fine mesh.
package interp

import (
	"errors"
	"fmt"

	"github.com/ctessum/sparse"
)

// ErrShape reports a row or column index outside the operator.
var ErrShape = errors.New("interpolation index out of range")

// Matrix is a sparse interpolation operator with fine nodes as rows and
// coarse nodes as columns.
type Matrix struct {
	a          *sparse.SparseArray
	rows, cols int
	filled     []bool
}

// NewMatrix returns an empty rows x cols operator.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{
		a:      sparse.ZerosSparse(rows, cols),
		rows:   rows,
		cols:   cols,
		filled: make([]bool, rows),
	}
}

// Dims returns the operator shape.
func (m *Matrix) Dims() (int, int) { return m.rows, m.cols }

// AddRow accumulates the weights of one fine node. Entries repeating a
// column add up, which lets callers emit a master more than once.
func (m *Matrix) AddRow(node int, cols []int32, weights []float64) error {
	if node < 0 || node >= m.rows {
		return fmt.Errorf("%w: row %d of %d", ErrShape, node, m.rows)
	}
	if len(cols) != len(weights) {
		return fmt.Errorf("%w: %d columns with %d weights", ErrShape, len(cols), len(weights))
	}
	for i, c := range cols {
		if c < 0 || int(c) >= m.cols {
			return fmt.Errorf("%w: column %d of %d", ErrShape, c, m.cols)
		}
		m.a.AddVal(weights[i], node, int(c))
	}
	m.filled[node] = true
	return nil
}

// Filled reports whether a row has received any entries.
func (m *Matrix) Filled(node int) bool { return m.filled[node] }

// At returns one operator entry.
func (m *Matrix) At(i, j int) float64 { return m.a.Get(i, j) }

// RowSum returns the weight sum of one row. Interpolation operators
// reproduce constants, so assembled rows sum to one.
func (m *Matrix) RowSum(i int) float64 {
	s := 0.0
	for j := 0; j < m.cols; j++ {
		s += m.a.Get(i, j)
	}
	return s
}

// Apply prolongates a coarse nodal vector to the fine nodes.
func (m *Matrix) Apply(coarse []float64) ([]float64, error) {
	if len(coarse) != m.cols {
		return nil, fmt.Errorf("%w: vector of %d for %d columns", ErrShape, len(coarse), m.cols)
	}
	fine := make([]float64, m.rows)
	for flat, w := range m.a.Elements {
		ij := m.a.IndexNd(flat)
		fine[ij[0]] += w * coarse[ij[1]]
	}
	return fine, nil
}

// Sum returns the sum of all operator entries.
func (m *Matrix) Sum() float64 { return m.a.Sum() }

// Scale multiplies every entry in place.
func (m *Matrix) Scale(f float64) { m.a.Scale(f) }
