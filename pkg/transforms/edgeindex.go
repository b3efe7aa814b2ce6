package transforms

import (
	"fmt"

	"ncem/pkg/anndata"
	"ncem/pkg/graph"
)

// AddEdgeIndexFromAdj converts the adjacency in Obsp[AdjKey] into an edge index
// stored in Uns[EdgeIndexKey]. Edges follow the row-major order of the
// non-zero entries, row i column j giving the edge i -> j.
type AddEdgeIndexFromAdj struct {
	AdjKey       string
	EdgeIndexKey string
}

func (t *AddEdgeIndexFromAdj) Apply(a *anndata.AnnData) (*anndata.AnnData, error) {
	adj, ok := a.Obsp[t.AdjKey]
	if !ok {
		return nil, fmt.Errorf("obsp %q: %w", t.AdjKey, anndata.ErrKeyNotFound)
	}
	a.Uns[t.EdgeIndexKey] = EdgeIndex(adj)
	return a, nil
}

func EdgeIndex(adj *anndata.Sparse) graph.EdgeIndex {
	sources := make([]int, 0, adj.NNZ())
	targets := make([]int, 0, adj.NNZ())
	adj.DoNonZero(func(i, j int, _ float64) {
		sources = append(sources, i)
		targets = append(targets, j)
	})
	return graph.NewEdgeIndex(sources, targets)
}

// AddEdgeIndex builds the spatial adjacency and its edge index in one step.
type AddEdgeIndex struct {
	SpatialKey   string
	AdjKey       string
	EdgeIndexKey string
	NumNeighbors int
	Radius       float64
}

func (t *AddEdgeIndex) Apply(a *anndata.AnnData) (*anndata.AnnData, error) {
	return Compose{
		&AddAdjMatrix{SpatialKey: t.SpatialKey, KeyAdded: t.AdjKey, NumNeighbors: t.NumNeighbors, Radius: t.Radius},
		&AddEdgeIndexFromAdj{AdjKey: t.AdjKey, EdgeIndexKey: t.EdgeIndexKey},
	}.Apply(a)
}

// EdgeIndexFrom fetches an edge index previously stored under key.
func EdgeIndexFrom(a *anndata.AnnData, key string) (graph.EdgeIndex, error) {
	value, ok := a.Uns[key]
	if !ok {
		return graph.EdgeIndex{}, fmt.Errorf("uns %q: %w", key, anndata.ErrKeyNotFound)
	}
	edges, ok := value.(graph.EdgeIndex)
	if !ok {
		return graph.EdgeIndex{}, fmt.Errorf("uns %q holds %T, not an edge index", key, value)
	}
	return edges, nil
}
