// Package anndata implements an annotated data matrix: an observation by feature
// matrix together with per-observation and per-feature metadata, auxiliary
// matrices keyed by axis, pairwise observation matrices and an unstructured store.
package anndata

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var ErrInvalidAxis = errors.New("invalid axis")

type Axis int

const (
	Obs Axis = iota
	Var
)

func (a Axis) String() string {
	if a == Var {
		return "var"
	}
	return "obs"
}

// AxisFromString parses "obs" or "var".
func AxisFromString(s string) (Axis, error) {
	switch strings.ToLower(s) {
	case "obs":
		return Obs, nil
	case "var":
		return Var, nil
	}
	return Obs, fmt.Errorf("%q: %w", s, ErrInvalidAxis)
}

// Matrix is an auxiliary matrix with optional column labels. gonum has no
// matrix with a zero dimension, so Dense is nil when the matrix has no rows or
// no columns and Rows then holds its row count.
type Matrix struct {
	*mat.Dense
	Columns []string
	Rows    int
}

func (m *Matrix) Dims() (int, int) {
	if m.Dense == nil {
		return m.Rows, len(m.Columns)
	}
	return m.Dense.Dims()
}

func (m *Matrix) subsetRows(rows []int) *Matrix {
	out := &Matrix{Columns: append([]string(nil), m.Columns...), Rows: len(rows)}
	_, c := m.Dims()
	if m.Dense == nil || len(rows) == 0 || c == 0 {
		return out
	}
	out.Dense = mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}

type AnnData struct {
	// X is the observation by feature matrix, it may be nil for metadata-only data
	X *mat.Dense

	Obs *Frame
	Var *Frame

	Obsm map[string]*Matrix
	Varm map[string]*Matrix

	// Obsp holds observation by observation matrices such as spatial adjacency
	Obsp map[string]*Sparse

	Uns map[string]interface{}
}

func New(x *mat.Dense, obsNames, varNames []string) *AnnData {
	return &AnnData{
		X:    x,
		Obs:  NewFrame(obsNames),
		Var:  NewFrame(varNames),
		Obsm: map[string]*Matrix{},
		Varm: map[string]*Matrix{},
		Obsp: map[string]*Sparse{},
		Uns:  map[string]interface{}{},
	}
}

func (a *AnnData) NumObs() int {
	return a.Obs.Len()
}

func (a *AnnData) NumVars() int {
	return a.Var.Len()
}

func (a *AnnData) Frame(axis Axis) *Frame {
	if axis == Var {
		return a.Var
	}
	return a.Obs
}

// AxisMatrices returns the auxiliary matrix slots of the given axis.
func (a *AnnData) AxisMatrices(axis Axis) map[string]*Matrix {
	if axis == Var {
		return a.Varm
	}
	return a.Obsm
}

// SetAxisMatrix stores m under key after checking its row count against the axis length.
func (a *AnnData) SetAxisMatrix(axis Axis, key string, m *Matrix) error {
	r, _ := m.Dims()
	if r != a.Frame(axis).Len() {
		return fmt.Errorf("%sm[%q] has %d rows, expected %d: %w", axis, key, r, a.Frame(axis).Len(), ErrLengthMismatch)
	}
	a.AxisMatrices(axis)[key] = m
	return nil
}

// Subset returns a copy of the data restricted to the given rows of axis.
// Unstructured entries are shared with the receiver.
func (a *AnnData) Subset(axis Axis, rows []int) *AnnData {
	out := &AnnData{
		Obs:  a.Obs,
		Var:  a.Var,
		Obsm: a.Obsm,
		Varm: a.Varm,
		Obsp: a.Obsp,
		Uns:  make(map[string]interface{}, len(a.Uns)),
	}
	for k, v := range a.Uns {
		out.Uns[k] = v
	}

	switch axis {
	case Obs:
		out.Obs = a.Obs.subset(rows)
		out.Obsm = make(map[string]*Matrix, len(a.Obsm))
		for k, m := range a.Obsm {
			out.Obsm[k] = m.subsetRows(rows)
		}
		out.Obsp = make(map[string]*Sparse, len(a.Obsp))
		for k, p := range a.Obsp {
			out.Obsp[k] = p.subset(rows)
		}
		if a.X != nil && len(rows) > 0 {
			_, c := a.X.Dims()
			out.X = mat.NewDense(len(rows), c, nil)
			for i, r := range rows {
				out.X.SetRow(i, a.X.RawRowView(r))
			}
		}
	case Var:
		out.Var = a.Var.subset(rows)
		out.Varm = make(map[string]*Matrix, len(a.Varm))
		for k, m := range a.Varm {
			out.Varm[k] = m.subsetRows(rows)
		}
		if a.X != nil && len(rows) > 0 {
			r, _ := a.X.Dims()
			out.X = mat.NewDense(r, len(rows), nil)
			for j, c := range rows {
				for i := 0; i < r; i++ {
					out.X.Set(i, j, a.X.At(i, c))
				}
			}
		}
	}
	return out
}
