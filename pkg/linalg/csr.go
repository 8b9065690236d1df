// Package linalg provides the sparse system used by implicit integration: a
// compressed-sparse-row matrix assembled from triplets, usable wherever gonum
// expects a mat.Matrix, and a projected conjugate gradient solve driven by
// gonum/optimize.
package linalg

import (
	"fmt"
	"sort"

	"github.com/chazu/softbody/pkg/parallel"
	"gonum.org/v1/gonum/mat"
)

// Triplet is one (row, col, value) contribution. Duplicates are summed on
// assembly.
type Triplet struct {
	Row, Col int
	Value    float64
}

// CSR is an immutable compressed-sparse-row matrix.
type CSR struct {
	rows, cols int
	indptr     []int
	indices    []int
	data       []float64
}

var _ mat.Matrix = (*CSR)(nil)

// NewCSR assembles a rows x cols matrix from triplets, summing duplicates.
// Column indices within a row are sorted.
func NewCSR(rows, cols int, triplets []Triplet) (*CSR, error) {
	counts := make([]int, rows+1)
	for _, t := range triplets {
		if t.Row < 0 || t.Row >= rows || t.Col < 0 || t.Col >= cols {
			return nil, fmt.Errorf("linalg: triplet (%d, %d) outside %dx%d matrix", t.Row, t.Col, rows, cols)
		}
		counts[t.Row+1]++
	}
	for i := 0; i < rows; i++ {
		counts[i+1] += counts[i]
	}

	// Bucket by row, then sort and merge each row.
	cols0 := make([]int, len(triplets))
	vals0 := make([]float64, len(triplets))
	next := append([]int(nil), counts[:rows]...)
	for _, t := range triplets {
		k := next[t.Row]
		cols0[k] = t.Col
		vals0[k] = t.Value
		next[t.Row]++
	}

	m := &CSR{rows: rows, cols: cols, indptr: make([]int, rows+1)}
	for i := 0; i < rows; i++ {
		start, end := counts[i], counts[i+1]
		row := rowSorter{cols: cols0[start:end], vals: vals0[start:end]}
		sort.Sort(row)
		for k := start; k < end; k++ {
			n := len(m.indices)
			if n > m.indptr[i] && m.indices[n-1] == cols0[k] {
				m.data[n-1] += vals0[k]
				continue
			}
			m.indices = append(m.indices, cols0[k])
			m.data = append(m.data, vals0[k])
		}
		m.indptr[i+1] = len(m.indices)
	}
	return m, nil
}

type rowSorter struct {
	cols []int
	vals []float64
}

func (r rowSorter) Len() int           { return len(r.cols) }
func (r rowSorter) Less(i, j int) bool { return r.cols[i] < r.cols[j] }
func (r rowSorter) Swap(i, j int) {
	r.cols[i], r.cols[j] = r.cols[j], r.cols[i]
	r.vals[i], r.vals[j] = r.vals[j], r.vals[i]
}

// Dims returns the matrix dimensions.
func (m *CSR) Dims() (int, int) { return m.rows, m.cols }

// At returns the element at (i, j).
func (m *CSR) At(i, j int) float64 {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	row := m.indices[m.indptr[i]:m.indptr[i+1]]
	k := sort.SearchInts(row, j)
	if k < len(row) && row[k] == j {
		return m.data[m.indptr[i]+k]
	}
	return 0
}

// T returns the implicit transpose.
func (m *CSR) T() mat.Matrix { return mat.Transpose{Matrix: m} }

// NNZ returns the number of stored entries.
func (m *CSR) NNZ() int { return len(m.data) }

// Diagonal returns the main diagonal.
func (m *CSR) Diagonal() []float64 {
	n := min(m.rows, m.cols)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = m.At(i, i)
	}
	return d
}

// MulVecTo sets dst = m * x. Rows are computed in parallel.
func (m *CSR) MulVecTo(dst *mat.VecDense, x mat.Vector) {
	if x.Len() != m.cols {
		panic(mat.ErrShape)
	}
	if dst.Len() != m.rows {
		panic(mat.ErrShape)
	}
	parallel.For(m.rows, func(start, end int) {
		for i := start; i < end; i++ {
			var sum float64
			for k := m.indptr[i]; k < m.indptr[i+1]; k++ {
				sum += m.data[k] * x.AtVec(m.indices[k])
			}
			dst.SetVec(i, sum)
		}
	})
}

// Add returns alpha*a + beta*b. Both matrices must have the same shape.
func Add(alpha float64, a *CSR, beta float64, b *CSR) (*CSR, error) {
	if a.rows != b.rows || a.cols != b.cols {
		return nil, fmt.Errorf("linalg: add %dx%d and %dx%d: %w", a.rows, a.cols, b.rows, b.cols, mat.ErrShape)
	}
	triplets := make([]Triplet, 0, a.NNZ()+b.NNZ())
	for _, s := range []struct {
		m     *CSR
		scale float64
	}{{a, alpha}, {b, beta}} {
		for i := 0; i < s.m.rows; i++ {
			for k := s.m.indptr[i]; k < s.m.indptr[i+1]; k++ {
				triplets = append(triplets, Triplet{Row: i, Col: s.m.indices[k], Value: s.scale * s.m.data[k]})
			}
		}
	}
	return NewCSR(a.rows, a.cols, triplets)
}

// Diag returns the n x n diagonal matrix with the given entries.
func Diag(d []float64) *CSR {
	m := &CSR{rows: len(d), cols: len(d), indptr: make([]int, len(d)+1)}
	for i, v := range d {
		m.indices = append(m.indices, i)
		m.data = append(m.data, v)
		m.indptr[i+1] = len(m.indices)
	}
	return m
}
