package transforms

import (
	"errors"
	"fmt"

	"ncem/pkg/anndata"
)

var ErrNotCategorical = errors.New("column cannot be made categorical")

// Categorize turns string columns into categorical ones with sorted categories.
// Columns that are already categorical are left as they are.
type Categorize struct {
	Keys []string
	Axis anndata.Axis
}

func (c *Categorize) Apply(a *anndata.AnnData) (*anndata.AnnData, error) {
	frame := a.Frame(c.Axis)
	for _, key := range c.Keys {
		column, err := frame.Column(key)
		if err != nil {
			return nil, err
		}
		switch column.Kind {
		case anndata.Categorical:
			continue
		case anndata.String:
			if err := frame.Set(anndata.Categorize(key, column.Strings)); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%s column %q is %s: %w", c.Axis, key, column.Kind, ErrNotCategorical)
		}
	}
	return a, nil
}
