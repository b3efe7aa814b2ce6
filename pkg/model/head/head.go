// Package head implements the linear heads of the NCEM: a plain linear map of
// each node and a graph-linear map that also sees the mean of the node's
// incoming neighbours.
package head

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
)

var (
	_ nn.Model = &Model{}
)

type Model struct {
	nn.BaseModel
	InChannels  int
	OutChannels int
	Spatial     bool

	// Self maps the node itself, Neighbor the mean of its incoming neighbours.
	// Neighbor is nil for non spatial heads.
	Self     *linear.Model
	Neighbor *linear.Model
}

func New(inChannels, outChannels int, spatial bool) *Model {
	m := &Model{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Spatial:     spatial,
		Self:        linear.New(inChannels, outChannels),
	}
	if spatial {
		m.Neighbor = linear.New(inChannels, outChannels, linear.BiasGrad(false))
	}
	return m
}

func (m *Model) Init(generator *rand.LockedRand) {
	gain := initializers.Gain(ag.OpIdentity)
	initializers.XavierUniform(m.Self.W.Value(), gain, generator)
	if m.Neighbor != nil {
		initializers.XavierUniform(m.Neighbor.W.Value(), gain, generator)
	}
}

// Forward maps every node of xs. incoming[i] lists the nodes with an edge into i
// and is ignored by non spatial heads.
func (m *Model) Forward(xs []ag.Node, incoming [][]int) []ag.Node {
	out := m.Self.Forward(xs...)
	if !m.Spatial {
		return out
	}

	g := m.Graph()
	var targets []int
	var aggregated []ag.Node
	for i := range xs {
		if len(incoming[i]) == 0 {
			continue
		}
		var sum ag.Node
		for _, j := range incoming[i] {
			sum = g.Add(sum, xs[j])
		}
		aggregated = append(aggregated, g.DivScalar(sum, g.Constant(mat.Float(len(incoming[i])))))
		targets = append(targets, i)
	}
	if len(aggregated) == 0 {
		return out
	}

	neighbors := m.Neighbor.Forward(aggregated...)
	for k, i := range targets {
		out[i] = g.Add(out[i], neighbors[k])
	}
	return out
}
