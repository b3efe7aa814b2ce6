package pkg

import (
	"fmt"

	"ncem/pkg/anndata"
	"ncem/pkg/graph"
	"ncem/pkg/io"
	"ncem/pkg/model"
	"ncem/pkg/transforms"
)

const (
	adjacencyKey    = "spatial_connectivities"
	edgeIndexKey    = "edge_index"
	labelsKey       = "labels"
	designMatrixKey = "design_matrix"
)

// buildGraph turns the loaded cells into the model graph. The first call on
// fresh metadata fixes the label vocabulary and the feature and target names,
// later calls rebuild the same features from them.
func buildGraph(data *anndata.AnnData, metaData *model.Metadata) (*graph.Data, error) {
	steps := transforms.Compose{
		&transforms.Categorize{Keys: []string{metaData.LabelKey}, Axis: anndata.Obs},
		&transforms.AddEdgeIndex{
			SpatialKey:   io.SpatialKey,
			AdjKey:       adjacencyKey,
			EdgeIndexKey: edgeIndexKey,
			NumNeighbors: metaData.NumNeighbors,
			Radius:       metaData.Radius,
		},
		&transforms.AddSizeFactors{KeyAdded: transforms.SizeFactorKey},
	}
	learnVocabulary := metaData.LabelMappings == nil
	if learnVocabulary {
		steps = append(steps, &transforms.OneHotEncode{
			Keys: []string{metaData.LabelKey}, Axis: anndata.Obs, KeyAdded: labelsKey})
	}
	data, err := steps.Apply(data)
	if err != nil {
		return nil, err
	}
	if learnVocabulary {
		metaData.LabelMappings = data.Uns[transforms.MappingsKey(labelsKey)].(transforms.Mappings)
	}

	design := &transforms.AddDesignMatrix{
		LabelKey:   metaData.LabelKey,
		AdjKey:     adjacencyKey,
		KeyAdded:   designMatrixKey,
		Categories: metaData.Categories(),
	}
	if data, err = design.Apply(data); err != nil {
		return nil, err
	}

	features := data.Obsm[designMatrixKey].Columns
	if metaData.FeatureCount() == 0 {
		metaData.FeatureMap = model.NewNameMap(features...)
		metaData.TargetMap = model.NewNameMap(data.Var.Index...)
	} else if metaData.FeatureCount() != len(features) {
		return nil, fmt.Errorf("%d features built, model expects %d: %w", len(features), metaData.FeatureCount(), graph.ErrShapeMismatch)
	} else {
		for i, name := range features {
			if index, ok := metaData.FeatureMap.ContainsName(name); !ok || index != i {
				return nil, fmt.Errorf("feature %q built as column %d does not match the model: %w", name, i, graph.ErrShapeMismatch)
			}
		}
	}

	return io.NewGraphData(data, io.GraphKeys{
		Features:    designMatrixKey,
		EdgeIndex:   edgeIndexKey,
		SizeFactors: transforms.SizeFactorKey,
	})
}
