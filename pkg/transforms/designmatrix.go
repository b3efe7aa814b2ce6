package transforms

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"ncem/pkg/anndata"
)

// AddDesignMatrix stores in Obsm[KeyAdded] the design matrix of a linear NCEM:
//
//	[ L | N | L (x) N ]
//
// L is the one-hot label of each cell, N[i,c] is 1 when a neighbour of i in
// Obsp[AdjKey] has label c and L (x) N holds the label/neighbour-label
// interactions. When Categories is nil the labels observed in LabelKey are used,
// otherwise cells whose label is not listed get an all zero label block.
type AddDesignMatrix struct {
	LabelKey   string
	AdjKey     string
	KeyAdded   string
	Categories []string
}

func (t *AddDesignMatrix) Apply(a *anndata.AnnData) (*anndata.AnnData, error) {
	m, err := t.Build(a)
	if err != nil {
		return nil, err
	}
	if err := a.SetAxisMatrix(anndata.Obs, t.KeyAdded, m); err != nil {
		return nil, err
	}
	return a, nil
}

func (t *AddDesignMatrix) Build(a *anndata.AnnData) (*anndata.Matrix, error) {
	column, err := a.Obs.Column(t.LabelKey)
	if err != nil {
		return nil, err
	}
	adj, ok := a.Obsp[t.AdjKey]
	if !ok {
		return nil, fmt.Errorf("obsp %q: %w", t.AdjKey, anndata.ErrKeyNotFound)
	}

	var labels []string
	var codes []int
	if t.Categories == nil {
		labels, codes = observedCategories(column)
	} else {
		labels, codes = t.Categories, codesFor(column, t.Categories)
	}
	numLabels, n := len(labels), a.NumObs()
	if numLabels == 0 || n == 0 {
		return nil, fmt.Errorf("label %q: %w", t.LabelKey, ErrNoCategories)
	}

	width := 2*numLabels + numLabels*numLabels
	design := mat.NewDense(n, width, nil)
	for i := 0; i < n; i++ {
		own := codes[i]
		if own >= 0 {
			design.Set(i, own, 1)
		}
		neighbours, _ := adj.Row(i)
		for _, j := range neighbours {
			c := codes[j]
			if c < 0 {
				continue
			}
			design.Set(i, numLabels+c, 1)
			if own >= 0 {
				design.Set(i, 2*numLabels+own*numLabels+c, 1)
			}
		}
	}

	columns := make([]string, 0, width)
	columns = append(columns, labels...)
	for _, c := range labels {
		columns = append(columns, "neighbor:"+c)
	}
	for _, own := range labels {
		for _, c := range labels {
			columns = append(columns, own+"|neighbor:"+c)
		}
	}
	return &anndata.Matrix{Dense: design, Columns: columns}, nil
}
