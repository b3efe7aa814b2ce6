// Package transforms contains data transforms over annotated data: categorical
// encoding, spatial graph construction and design matrix assembly.
package transforms

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"ncem/pkg/anndata"
)

// Transform mutates the dataset and returns it. Transforms that select rows
// return a new dataset instead.
type Transform interface {
	Apply(a *anndata.AnnData) (*anndata.AnnData, error)
}

// Compose applies transforms in order and stops at the first failure.
type Compose []Transform

func (c Compose) Apply(a *anndata.AnnData) (*anndata.AnnData, error) {
	var err error
	for i, t := range c {
		a, err = t.Apply(a)
		if err != nil {
			return nil, fmt.Errorf("transform %d (%T): %w", i, t, err)
		}
		log.Debug().Int("Step", i).Str("Transform", fmt.Sprintf("%T", t)).Int("Obs", a.NumObs()).Msg("applied transform")
	}
	return a, nil
}
