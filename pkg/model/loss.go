package model

import (
	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
)

// VarianceEpsilon is the smallest variance the Gaussian likelihood works with.
const VarianceEpsilon mat.Float = 1e-5

// GaussianNLL is the mean over all elements of
//
//	0.5 * (log(var) + (mu - y)^2 / var)
//
// with the variance floored at VarianceEpsilon.
func GaussianNLL(g *ag.Graph, mu, target, variance []ag.Node) ag.Node {
	var sum ag.Node
	count := 0
	for i := range mu {
		v := Floor(g, variance[i], VarianceEpsilon)
		diff := g.Sub(mu[i], target[i])
		term := g.Add(g.Log(v), g.Div(g.Square(diff), v))
		sum = g.Add(sum, g.ReduceSum(term))
		count += len(mu[i].Value().Data())
	}
	return g.ProdScalar(sum, g.Constant(0.5/mat.Float(count)))
}
