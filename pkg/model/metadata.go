package model

import "ncem/pkg/transforms"

// NameMap implements a bidirectional mapping between a name and an index
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
}

func (f NameMap) Set(name string, index int) {
	f.NameToIndex[name] = index
	f.IndexToName[index] = name
}

func (f NameMap) Size() int {
	return len(f.IndexToName)
}

func (f NameMap) ContainsName(name string) (int, bool) {
	index, ok := f.NameToIndex[name]
	return index, ok
}

// Names returns the names ordered by index.
func (f NameMap) Names() []string {
	names := make([]string, f.Size())
	for i := range names {
		names[i] = f.IndexToName[i]
	}
	return names
}

func NewNameMap(names ...string) NameMap {
	m := NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
	for i, name := range names {
		m.Set(name, i)
	}
	return m
}

// Metadata describes how the model inputs and outputs were built from the data.
type Metadata struct {
	RunID string

	// LabelKey is the obs column holding the cell label the design matrix is built from
	LabelKey string

	// LabelMappings are the label categories seen in training; position is the
	// design matrix column
	LabelMappings transforms.Mappings

	// FeatureMap names the design matrix columns fed to the model
	FeatureMap NameMap

	// TargetMap names the genes predicted by the model
	TargetMap NameMap

	// IndexColumn and SpatialColumns are the cell name and coordinate columns of
	// the input file
	IndexColumn    string
	SpatialColumns []string

	NumNeighbors int
	Radius       float64
}

func NewMetadata() *Metadata {
	return &Metadata{
		FeatureMap: NewNameMap(),
		TargetMap:  NewNameMap(),
	}
}

// Categories returns the label vocabulary seen in training.
func (d *Metadata) Categories() []string {
	labels, _ := d.LabelMappings.Labels(d.LabelKey)
	return labels
}

func (d *Metadata) FeatureCount() int {
	return d.FeatureMap.Size()
}

func (d *Metadata) TargetCount() int {
	return d.TargetMap.Size()
}
