package transforms

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"ncem/pkg/anndata"
)

const SizeFactorKey = "size_factor"

var ErrNoCounts = errors.New("no counts to derive size factors from")

// AddSizeFactors stores the per-cell size factor, the cell's total count divided
// by the mean total count, in the numeric obs column KeyAdded.
type AddSizeFactors struct {
	KeyAdded string
}

func (t *AddSizeFactors) Apply(a *anndata.AnnData) (*anndata.AnnData, error) {
	if a.X == nil {
		return nil, ErrNoCounts
	}
	n, _ := a.X.Dims()
	totals := make([]float64, n)
	for i := range totals {
		totals[i] = floats.Sum(a.X.RawRowView(i))
	}
	mean := floats.Sum(totals) / float64(n)
	if mean == 0 {
		return nil, ErrNoCounts
	}
	floats.Scale(1/mean, totals)

	key := t.KeyAdded
	if key == "" {
		key = SizeFactorKey
	}
	if err := a.Obs.Set(anndata.NewNumericColumn(key, totals)); err != nil {
		return nil, fmt.Errorf("size factors: %w", err)
	}
	return a, nil
}
