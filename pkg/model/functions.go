package model

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/ag/fn"
)

var (
	_ fn.Function = &clamp{}
	_ fn.Function = &floor{}
)

// clamp limits every value to [min, max]. The gradient is zero outside the range.
type clamp struct {
	x        fn.Operand
	min, max mat.Float
}

func Clamp(g *ag.Graph, x ag.Node, min, max mat.Float) ag.Node {
	return g.NewOperator(&clamp{x: x, min: min, max: max}, x)
}

func (c *clamp) Forward() mat.Matrix {
	x := c.x.Value()
	out := make([]mat.Float, 0, x.Size())
	for _, v := range x.Data() {
		switch {
		case v < c.min:
			v = c.min
		case v > c.max:
			v = c.max
		}
		out = append(out, v)
	}
	return mat.NewDense(x.Rows(), x.Columns(), out)
}

func (c *clamp) Backward(gy mat.Matrix) {
	if !c.x.RequiresGrad() {
		return
	}
	x := c.x.Value().Data()
	gx := make([]mat.Float, len(x))
	for i, v := range gy.Data() {
		if x[i] >= c.min && x[i] <= c.max {
			gx[i] = v
		}
	}
	c.x.PropagateGrad(mat.NewDense(gy.Rows(), gy.Columns(), gx))
}

// floor raises values below min to min and lets the gradient through unchanged,
// the way an in-place clamp outside of the graph would.
type floor struct {
	x   fn.Operand
	min mat.Float
}

func Floor(g *ag.Graph, x ag.Node, min mat.Float) ag.Node {
	return g.NewOperator(&floor{x: x, min: min}, x)
}

func (f *floor) Forward() mat.Matrix {
	x := f.x.Value()
	out := make([]mat.Float, 0, x.Size())
	for _, v := range x.Data() {
		if v < f.min {
			v = f.min
		}
		out = append(out, v)
	}
	return mat.NewDense(x.Rows(), x.Columns(), out)
}

func (f *floor) Backward(gy mat.Matrix) {
	if f.x.RequiresGrad() {
		f.x.PropagateGrad(gy)
	}
}
