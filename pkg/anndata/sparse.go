package anndata

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

var _ mat.Matrix = &Sparse{}

// Sparse is a compressed sparse row matrix used for pairwise observation data
// such as spatial adjacency.
type Sparse struct {
	rows, cols int
	indptr     []int
	indices    []int
	data       []float64
}

// SparseBuilder accumulates entries before freezing them into a Sparse matrix.
type SparseBuilder struct {
	rows, cols int
	entries    []map[int]float64
}

func NewSparseBuilder(rows, cols int) *SparseBuilder {
	entries := make([]map[int]float64, rows)
	for i := range entries {
		entries[i] = map[int]float64{}
	}
	return &SparseBuilder{rows: rows, cols: cols, entries: entries}
}

func (b *SparseBuilder) Set(i, j int, v float64) {
	if i < 0 || i >= b.rows || j < 0 || j >= b.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	if v == 0 {
		delete(b.entries[i], j)
		return
	}
	b.entries[i][j] = v
}

func (b *SparseBuilder) Build() *Sparse {
	s := &Sparse{rows: b.rows, cols: b.cols, indptr: make([]int, b.rows+1)}
	for i, row := range b.entries {
		columns := make([]int, 0, len(row))
		for j := range row {
			columns = append(columns, j)
		}
		sort.Ints(columns)
		for _, j := range columns {
			s.indices = append(s.indices, j)
			s.data = append(s.data, row[j])
		}
		s.indptr[i+1] = len(s.indices)
	}
	return s
}

func (s *Sparse) Dims() (int, int) {
	return s.rows, s.cols
}

func (s *Sparse) At(i, j int) float64 {
	if i < 0 || i >= s.rows || j < 0 || j >= s.cols {
		panic(mat.ErrIndexOutOfRange)
	}
	columns := s.indices[s.indptr[i]:s.indptr[i+1]]
	k := sort.SearchInts(columns, j)
	if k < len(columns) && columns[k] == j {
		return s.data[s.indptr[i]+k]
	}
	return 0
}

func (s *Sparse) T() mat.Matrix {
	return mat.Transpose{Matrix: s}
}

func (s *Sparse) NNZ() int {
	return len(s.indices)
}

// Dense returns the matrix in dense form, nil when it has no rows or no columns.
func (s *Sparse) Dense() *mat.Dense {
	if s.rows == 0 || s.cols == 0 {
		return nil
	}
	d := mat.NewDense(s.rows, s.cols, nil)
	s.DoNonZero(d.Set)
	return d
}

// Row returns the column indices and values of the non-zero entries of row i.
// The returned slices must not be modified.
func (s *Sparse) Row(i int) ([]int, []float64) {
	return s.indices[s.indptr[i]:s.indptr[i+1]], s.data[s.indptr[i]:s.indptr[i+1]]
}

// DoNonZero calls fn for every non-zero entry in row-major order.
func (s *Sparse) DoNonZero(fn func(i, j int, v float64)) {
	for i := 0; i < s.rows; i++ {
		for k := s.indptr[i]; k < s.indptr[i+1]; k++ {
			fn(i, s.indices[k], s.data[k])
		}
	}
}

// subset keeps the rows and columns listed in keep, in that order.
func (s *Sparse) subset(keep []int) *Sparse {
	position := make(map[int]int, len(keep))
	for i, k := range keep {
		position[k] = i
	}
	b := NewSparseBuilder(len(keep), len(keep))
	for i, k := range keep {
		columns, values := s.Row(k)
		for n, j := range columns {
			if p, ok := position[j]; ok {
				b.Set(i, p, values[n])
			}
		}
	}
	return b.Build()
}
