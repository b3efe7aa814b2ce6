// Package graph holds spatial graph samples and their collation into batches.
package graph

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmptyBatch    = errors.New("empty batch")
	ErrShapeMismatch = errors.New("shape mismatch")
)

// EdgeIndex is a 2 x E edge list: EdgeIndex[0] holds source nodes and
// EdgeIndex[1] target nodes.
type EdgeIndex [2][]int

func NewEdgeIndex(sources, targets []int) EdgeIndex {
	return EdgeIndex{sources, targets}
}

func (e EdgeIndex) Len() int {
	return len(e[0])
}

// Incoming returns, for every node, the source nodes of the edges pointing at it.
func (e EdgeIndex) Incoming(numNodes int) [][]int {
	incoming := make([][]int, numNodes)
	for k, target := range e[1] {
		incoming[target] = append(incoming[target], e[0][k])
	}
	return incoming
}

// Data is one graph sample. X and Y hold one row per node.
type Data struct {
	X         *mat.Dense
	Y         *mat.Dense
	SF        []float64 // per-node size factors, nil when not available
	EdgeIndex EdgeIndex

	// NumSeeds is the number of leading rows that contribute to the loss,
	// 0 means every row does
	NumSeeds int
}

func (d *Data) NumNodes() int {
	if d.X == nil {
		return 0
	}
	r, _ := d.X.Dims()
	return r
}

func (d *Data) seeds() int {
	if d.NumSeeds == 0 {
		return d.NumNodes()
	}
	return d.NumSeeds
}

func (d *Data) Validate() error {
	n := d.NumNodes()
	if n == 0 {
		return ErrEmptyBatch
	}
	if d.Y != nil {
		if r, _ := d.Y.Dims(); r != n {
			return fmt.Errorf("%d feature rows and %d target rows: %w", n, r, ErrShapeMismatch)
		}
	}
	if d.SF != nil && len(d.SF) != n {
		return fmt.Errorf("%d feature rows and %d size factors: %w", n, len(d.SF), ErrShapeMismatch)
	}
	if len(d.EdgeIndex[0]) != len(d.EdgeIndex[1]) {
		return fmt.Errorf("%d edge sources and %d edge targets: %w", len(d.EdgeIndex[0]), len(d.EdgeIndex[1]), ErrShapeMismatch)
	}
	for k := range d.EdgeIndex[0] {
		s, t := d.EdgeIndex[0][k], d.EdgeIndex[1][k]
		if s < 0 || s >= n || t < 0 || t >= n {
			return fmt.Errorf("edge %d (%d->%d) outside of %d nodes: %w", k, s, t, n, ErrShapeMismatch)
		}
	}
	if d.NumSeeds < 0 || d.NumSeeds > n {
		return fmt.Errorf("%d seeds for %d nodes: %w", d.NumSeeds, n, ErrShapeMismatch)
	}
	return nil
}
