package io

import (
	"fmt"
	"math/rand"

	"ncem/pkg/anndata"
	"ncem/pkg/graph"
	"ncem/pkg/transforms"
)

// DataSet iterates over the cells of a single graph in batches of at most
// BatchSize seed cells. Every batch holds its seeds followed by their
// neighbours so that the seeds see their whole neighbourhood.
type DataSet struct {
	Graph        *graph.Data
	BatchSize    int
	Rand         *rand.Rand
	incoming     [][]int
	dataIndices  []int
	currentOrder []int
	currentIndex int
}

type DatasetOrder int

const (
	OriginalOrder DatasetOrder = iota
	RandomOrder
)

func (d *DataSet) ResetOrder(order DatasetOrder) {
	if d.currentOrder == nil {
		d.currentOrder = make([]int, len(d.dataIndices))
	}
	switch order {
	case OriginalOrder:
		copy(d.currentOrder, d.dataIndices)
	case RandomOrder:
		ind := d.Rand.Perm(len(d.currentOrder))
		for i := range ind {
			d.currentOrder[i] = d.dataIndices[ind[i]]
		}
	}

	d.currentIndex = 0
}

func (d *DataSet) HasNext() bool {
	return d.currentIndex < len(d.currentOrder)
}

// NextSeeds returns the cells of the next batch.
func (d *DataSet) NextSeeds() []int {
	seeds := make([]int, 0, d.BatchSize)
	for ; d.currentIndex < len(d.currentOrder) && len(seeds) < d.BatchSize; d.currentIndex++ {
		seeds = append(seeds, d.currentOrder[d.currentIndex])
	}
	return seeds
}

func (d *DataSet) Next() (*graph.Batch, error) {
	return d.Batch(d.NextSeeds())
}

// Batch builds the neighbourhood batch of the given seed cells.
func (d *DataSet) Batch(seeds []int) (*graph.Batch, error) {
	return graph.Neighborhood(d.Graph, d.incoming, seeds)
}

func (d *DataSet) Size() int {
	return len(d.dataIndices)
}

func NewDataSet(data *graph.Data, batchSize int) *DataSet {
	dataIndices := make([]int, data.NumNodes())
	for i := range dataIndices {
		dataIndices[i] = i
	}
	return NewDataSetSplit(data, batchSize, dataIndices)
}

func NewDataSetSplit(data *graph.Data, batchSize int, indices []int) *DataSet {
	ds := &DataSet{
		Graph: data, BatchSize: batchSize, dataIndices: indices,
		incoming: data.EdgeIndex.Incoming(data.NumNodes())}
	ds.ResetOrder(OriginalOrder)
	return ds
}

// RandomSplit partitions the cells of the data set. Splits keep the whole graph,
// so cells of one split still aggregate over neighbours from another.
func (d *DataSet) RandomSplit(sizes ...int) []*DataSet {
	indices := make([]int, len(d.dataIndices))
	copy(indices, d.dataIndices)
	d.Rand.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
	splits := make([]*DataSet, len(sizes))
	idx := 0
	for i := range sizes {
		splitIndices := make([]int, sizes[i])
		for j := range splitIndices {
			splitIndices[j] = indices[idx]
			idx++
		}
		splits[i] = &DataSet{
			Graph: d.Graph, BatchSize: d.BatchSize, Rand: d.Rand,
			incoming: d.incoming, dataIndices: splitIndices}
		splits[i].ResetOrder(OriginalOrder)
	}
	return splits
}

// GraphKeys locate the parts of an AnnData that make up the model graph.
type GraphKeys struct {
	// Features is the obsm slot of the node features
	Features string
	// EdgeIndex is the uns key of the spatial edge index
	EdgeIndex string
	// SizeFactors is the numeric obs column of the size factors, none when empty
	SizeFactors string
}

// NewGraphData assembles the graph over all cells: node features from Obsm,
// targets from X, edges and size factors from the given keys.
func NewGraphData(a *anndata.AnnData, keys GraphKeys) (*graph.Data, error) {
	features, ok := a.Obsm[keys.Features]
	if !ok {
		return nil, fmt.Errorf("obsm %q: %w", keys.Features, anndata.ErrKeyNotFound)
	}
	edges, err := transforms.EdgeIndexFrom(a, keys.EdgeIndex)
	if err != nil {
		return nil, err
	}
	data := &graph.Data{X: features.Dense, Y: a.X, EdgeIndex: edges}
	if keys.SizeFactors != "" {
		column, err := a.Obs.Column(keys.SizeFactors)
		if err != nil {
			return nil, err
		}
		data.SF = column.Values
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return data, nil
}
