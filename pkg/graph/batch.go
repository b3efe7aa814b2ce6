package graph

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Batcher is anything that can be turned into a Batch.
type Batcher interface {
	Batch() (*Batch, error)
}

var (
	_ Batcher = &Batch{}
	_ Batcher = DataList{}
)

// Batch is a collated graph whose first BatchSize rows carry the loss.
type Batch struct {
	Data

	// BatchSize is the number of leading loss-bearing rows
	BatchSize int

	// Sample maps every node to the index of the sample it came from
	Sample []int
}

func (b *Batch) Batch() (*Batch, error) {
	if err := b.Data.Validate(); err != nil {
		return nil, err
	}
	if b.BatchSize <= 0 || b.BatchSize > b.NumNodes() {
		return nil, fmt.Errorf("batch size %d for %d nodes: %w", b.BatchSize, b.NumNodes(), ErrShapeMismatch)
	}
	return b, nil
}

// DataList is a list of samples that still need to be collated.
type DataList []*Data

func (l DataList) Batch() (*Batch, error) {
	return FromDataList(l)
}

// FromDataList collates samples into a single disconnected graph. The seed rows
// of all samples are moved in front of the remaining rows, so BatchSize is the
// total number of seeds.
func FromDataList(samples []*Data) (*Batch, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyBatch
	}

	for i, s := range samples {
		if s == nil {
			return nil, fmt.Errorf("sample %d: %w", i, ErrEmptyBatch)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	numNodes, numSeeds := 0, 0
	withSF := samples[0].SF != nil
	withY := samples[0].Y != nil
	_, xCols := samples[0].X.Dims()
	yCols := 0
	if withY {
		_, yCols = samples[0].Y.Dims()
	}
	for i, s := range samples {
		if (s.SF != nil) != withSF || (s.Y != nil) != withY {
			return nil, fmt.Errorf("sample %d differs in size factors or targets: %w", i, ErrShapeMismatch)
		}
		if _, c := s.X.Dims(); c != xCols {
			return nil, fmt.Errorf("sample %d has %d features, expected %d: %w", i, c, xCols, ErrShapeMismatch)
		}
		if withY {
			if _, c := s.Y.Dims(); c != yCols {
				return nil, fmt.Errorf("sample %d has %d targets, expected %d: %w", i, c, yCols, ErrShapeMismatch)
			}
		}
		numNodes += s.NumNodes()
		numSeeds += s.seeds()
	}

	// new row of every node of every sample: seeds first, then the rest
	positions := make([][]int, len(samples))
	seedPos, restPos := 0, numSeeds
	for i, s := range samples {
		positions[i] = make([]int, s.NumNodes())
		for n := range positions[i] {
			if n < s.seeds() {
				positions[i][n] = seedPos
				seedPos++
			} else {
				positions[i][n] = restPos
				restPos++
			}
		}
	}

	b := &Batch{
		Data: Data{
			X:        mat.NewDense(numNodes, xCols, nil),
			NumSeeds: numSeeds,
		},
		BatchSize: numSeeds,
		Sample:    make([]int, numNodes),
	}
	if withY {
		b.Y = mat.NewDense(numNodes, yCols, nil)
	}
	if withSF {
		b.SF = make([]float64, numNodes)
	}
	for i, s := range samples {
		for n, p := range positions[i] {
			b.X.SetRow(p, s.X.RawRowView(n))
			if withY {
				b.Y.SetRow(p, s.Y.RawRowView(n))
			}
			if withSF {
				b.SF[p] = s.SF[n]
			}
			b.Sample[p] = i
		}
		for k := range s.EdgeIndex[0] {
			b.EdgeIndex[0] = append(b.EdgeIndex[0], positions[i][s.EdgeIndex[0][k]])
			b.EdgeIndex[1] = append(b.EdgeIndex[1], positions[i][s.EdgeIndex[1][k]])
		}
	}
	return b, nil
}

// Neighborhood extracts the batch made of seeds followed by their one-hop
// neighbours. Only edges pointing at seeds are kept, which is all the
// aggregation of the seed rows needs. incoming is full.EdgeIndex.Incoming.
func Neighborhood(full *Data, incoming [][]int, seeds []int) (*Batch, error) {
	if len(seeds) == 0 {
		return nil, ErrEmptyBatch
	}
	n := full.NumNodes()
	position := make(map[int]int, len(seeds))
	nodes := make([]int, 0, len(seeds))
	for _, s := range seeds {
		if s < 0 || s >= n {
			return nil, fmt.Errorf("seed %d outside of %d nodes: %w", s, n, ErrShapeMismatch)
		}
		if _, ok := position[s]; ok {
			return nil, fmt.Errorf("duplicate seed %d: %w", s, ErrShapeMismatch)
		}
		position[s] = len(nodes)
		nodes = append(nodes, s)
	}

	var edges EdgeIndex
	for _, s := range seeds {
		for _, source := range incoming[s] {
			p, ok := position[source]
			if !ok {
				p = len(nodes)
				position[source] = p
				nodes = append(nodes, source)
			}
			edges[0] = append(edges[0], p)
			edges[1] = append(edges[1], position[s])
		}
	}

	_, xCols := full.X.Dims()
	b := &Batch{
		Data: Data{
			X:         mat.NewDense(len(nodes), xCols, nil),
			EdgeIndex: edges,
			NumSeeds:  len(seeds),
		},
		BatchSize: len(seeds),
		Sample:    make([]int, len(nodes)),
	}
	if full.Y != nil {
		_, yCols := full.Y.Dims()
		b.Y = mat.NewDense(len(nodes), yCols, nil)
	}
	if full.SF != nil {
		b.SF = make([]float64, len(nodes))
	}
	for i, node := range nodes {
		b.X.SetRow(i, full.X.RawRowView(node))
		if b.Y != nil {
			b.Y.SetRow(i, full.Y.RawRowView(node))
		}
		if b.SF != nil {
			b.SF[i] = full.SF[node]
		}
	}
	return b, nil
}
