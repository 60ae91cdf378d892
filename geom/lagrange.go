package geom

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LagrangePatch is a curved 2D block parameterization fitted through a
// uniform grid of sample points per block. The fit solves a tensor
// Vandermonde system once per block at construction, then evaluates the
// resulting polynomial coefficients directly. An n by n sample grid
// yields a bi-degree n-1 patch.
type LagrangePatch struct {
	n     int
	coefX []*mat.Dense // per block, n x n power-basis coefficients
	coefY []*mat.Dense
}

// NewLagrangePatch fits one patch per block. samples[b] holds n*n
// points in row-major order, v varying slowest, sampled at the uniform
// parametric grid i/(n-1).
func NewLagrangePatch(n int, samples [][]Point) (*LagrangePatch, error) {
	if n < 2 {
		return nil, fmt.Errorf("%w: sample grid %d is below 2", ErrGeometry, n)
	}
	// Vandermonde of the 1D sample parameters.
	vand := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		u := float64(i) / float64(n-1)
		p := 1.0
		for j := 0; j < n; j++ {
			vand.Set(i, j, p)
			p *= u
		}
	}
	var lu mat.LU
	lu.Factorize(vand)

	g := &LagrangePatch{n: n}
	for b, pts := range samples {
		if len(pts) != n*n {
			return nil, fmt.Errorf("%w: block %d has %d samples, want %d",
				ErrGeometry, b, len(pts), n*n)
		}
		fx := mat.NewDense(n, n, nil)
		fy := mat.NewDense(n, n, nil)
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				fx.Set(j, i, pts[j*n+i].X)
				fy.Set(j, i, pts[j*n+i].Y)
			}
		}
		cx, err := solvePatch(&lu, fx)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrGeometry, b, err)
		}
		cy, err := solvePatch(&lu, fy)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrGeometry, b, err)
		}
		g.coefX = append(g.coefX, cx)
		g.coefY = append(g.coefY, cy)
	}
	return g, nil
}

// solvePatch computes coefficients c with V c V^T = f, where f holds
// sample values indexed (v-row, u-column).
func solvePatch(lu *mat.LU, f *mat.Dense) (*mat.Dense, error) {
	n, _ := f.Dims()
	var tmp mat.Dense
	if err := lu.SolveTo(&tmp, false, f.T()); err != nil {
		return nil, err
	}
	var c mat.Dense
	if err := lu.SolveTo(&c, false, tmp.T()); err != nil {
		return nil, err
	}
	out := mat.NewDense(n, n, nil)
	out.Copy(&c)
	return out, nil
}

// EvalPoint implements Evaluator. w is ignored.
func (g *LagrangePatch) EvalPoint(block int, u, v, _ float64) Point {
	cx, cy := g.coefX[block], g.coefY[block]
	var p Point
	pv := 1.0
	for j := 0; j < g.n; j++ {
		pu := 1.0
		for i := 0; i < g.n; i++ {
			p.X += cx.At(j, i) * pu * pv
			p.Y += cy.At(j, i) * pu * pv
			pu *= u
		}
		pv *= v
	}
	return p
}
