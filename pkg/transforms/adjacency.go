package transforms

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"ncem/pkg/anndata"
)

const DefaultNumNeighbors = 6

var ErrInvalidNeighborhood = errors.New("invalid neighborhood")

// AddAdjMatrix builds a symmetric spatial adjacency from the coordinates in
// Obsm[SpatialKey] and stores it in Obsp[KeyAdded]. A positive Radius connects
// all cells within that distance, otherwise every cell is connected to its
// NumNeighbors nearest cells. Self loops are never added.
type AddAdjMatrix struct {
	SpatialKey   string
	KeyAdded     string
	NumNeighbors int
	Radius       float64
}

func (t *AddAdjMatrix) Apply(a *anndata.AnnData) (*anndata.AnnData, error) {
	coordinates, ok := a.Obsm[t.SpatialKey]
	if !ok {
		return nil, fmt.Errorf("obsm %q: %w", t.SpatialKey, anndata.ErrKeyNotFound)
	}
	if t.Radius <= 0 && t.NumNeighbors <= 0 {
		return nil, fmt.Errorf("neither radius nor neighbor count set: %w", ErrInvalidNeighborhood)
	}

	n, _ := coordinates.Dims()
	points := make(cells, n)
	for i := range points {
		points[i] = cell{index: i, pos: coordinates.RawRowView(i)}
	}
	tree := kdtree.New(append(cells(nil), points...), false)

	b := anndata.NewSparseBuilder(n, n)
	for i, p := range points {
		var keeper kdtree.Keeper
		if t.Radius > 0 {
			keeper = kdtree.NewDistKeeper(t.Radius * t.Radius)
		} else {
			keeper = kdtree.NewNKeeper(t.NumNeighbors + 1)
		}
		tree.NearestSet(keeper, p)

		added := 0
		for _, found := range neighbors(keeper) {
			j := found.Comparable.(cell).index
			if j == i || (t.Radius <= 0 && added == t.NumNeighbors) {
				continue
			}
			b.Set(i, j, 1)
			b.Set(j, i, 1)
			added++
		}
	}
	a.Obsp[t.KeyAdded] = b.Build()
	return a, nil
}

func neighbors(keeper kdtree.Keeper) []kdtree.ComparableDist {
	var heap kdtree.Heap
	switch k := keeper.(type) {
	case *kdtree.NKeeper:
		heap = k.Heap
	case *kdtree.DistKeeper:
		heap = k.Heap
	}
	found := make([]kdtree.ComparableDist, 0, len(heap))
	for _, cd := range heap {
		// keepers start with a sentinel entry that carries no point
		if cd.Comparable != nil {
			found = append(found, cd)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].Dist != found[j].Dist {
			return found[i].Dist < found[j].Dist
		}
		return found[i].Comparable.(cell).index < found[j].Comparable.(cell).index
	})
	return found
}

// cell is a point of the k-d tree that remembers its observation index.
type cell struct {
	index int
	pos   []float64
}

func (c cell) Compare(other kdtree.Comparable, d kdtree.Dim) float64 {
	return c.pos[d] - other.(cell).pos[d]
}

func (c cell) Dims() int {
	return len(c.pos)
}

// Distance returns the squared euclidean distance.
func (c cell) Distance(other kdtree.Comparable) float64 {
	o := other.(cell)
	var sum float64
	for d := range c.pos {
		diff := c.pos[d] - o.pos[d]
		sum += diff * diff
	}
	return sum
}

type cells []cell

func (c cells) Index(i int) kdtree.Comparable         { return c[i] }
func (c cells) Len() int                              { return len(c) }
func (c cells) Pivot(d kdtree.Dim) int                { return plane{Dim: d, cells: c}.Pivot() }
func (c cells) Slice(start, end int) kdtree.Interface { return c[start:end] }

type plane struct {
	kdtree.Dim
	cells
}

func (p plane) Less(i, j int) bool { return p.cells[i].pos[p.Dim] < p.cells[j].pos[p.Dim] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.cells = p.cells[start:end]
	return p
}
func (p plane) Swap(i, j int) { p.cells[i], p.cells[j] = p.cells[j], p.cells[i] }
