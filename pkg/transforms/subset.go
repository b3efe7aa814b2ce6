package transforms

import (
	"ncem/pkg/anndata"
)

// Subset keeps the rows of an axis whose value in Key is one of Values.
// It returns a new dataset.
type Subset struct {
	Key    string
	Values []string
	Axis   anndata.Axis
}

func (s *Subset) Apply(a *anndata.AnnData) (*anndata.AnnData, error) {
	column, err := a.Frame(s.Axis).Column(s.Key)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]struct{}, len(s.Values))
	for _, v := range s.Values {
		keep[v] = struct{}{}
	}
	var rows []int
	for i := 0; i < column.Len(); i++ {
		label, ok := column.Label(i)
		if !ok {
			continue
		}
		if _, ok := keep[label]; ok {
			rows = append(rows, i)
		}
	}
	return a.Subset(s.Axis, rows), nil
}
