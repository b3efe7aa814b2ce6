package model

import (
	"errors"
	"fmt"
	"math"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd/adam"

	"ncem/pkg/graph"
	"ncem/pkg/model/head"
)

var (
	_ nn.Model = &LinearNCEM{}
)

const (
	// SigmaBound limits the scale output, MuBound = e^SigmaBound the location output
	SigmaBound mat.Float = 60.0
)

var MuBound = mat.Float(math.Exp(float64(SigmaBound)))

var ErrMissingSizeFactors = errors.New("node scaling enabled but batch has no size factors")

// LinearNCEM is a linear non-covariance expression model. It predicts, for every
// cell, the mean (mu) and the scale (sigma) of a Gaussian over the expression of
// OutChannels genes from InChannels node features.
type LinearNCEM struct {
	nn.BaseModel
	Config
	Variant Variant
	Mu      *head.Model
	Sigma   *head.Model
}

// New validates the configuration and builds both heads of the selected variant.
func New(config Config) (*LinearNCEM, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	variant, err := ParseVariant(config.Type)
	if err != nil {
		return nil, err
	}
	spatial := variant == Spatial
	return &LinearNCEM{
		Config:  config,
		Variant: variant,
		Mu:      head.New(config.InChannels, config.OutChannels, spatial),
		Sigma:   head.New(config.InChannels, config.OutChannels, spatial),
	}, nil
}

func (m *LinearNCEM) Init(generator *rand.LockedRand) {
	m.Mu.Init(generator)
	m.Sigma.Init(generator)
}

// Forward returns mu and sigma for every node of the batch. With UseNodeScale
// both are multiplied by the node's size factor. mu is clamped to
// [-MuBound, MuBound] and sigma to [-SigmaBound, SigmaBound].
func (m *LinearNCEM) Forward(batch *graph.Batch) ([]ag.Node, []ag.Node, error) {
	if m.UseNodeScale && batch.SF == nil {
		return nil, nil, ErrMissingSizeFactors
	}
	if _, c := batch.X.Dims(); c != m.InChannels {
		return nil, nil, fmt.Errorf("batch has %d features, model expects %d: %w", c, m.InChannels, graph.ErrShapeMismatch)
	}
	g := m.Graph()
	n := batch.NumNodes()

	xs := make([]ag.Node, n)
	for i := range xs {
		xs[i] = g.NewVariable(mat.NewVecDense(toFloats(batch.X.RawRowView(i))), false)
	}
	incoming := batch.EdgeIndex.Incoming(n)

	mu := m.Mu.Forward(xs, incoming)
	sigma := m.Sigma.Forward(xs, incoming)
	for i := range sigma {
		sigma[i] = g.Exp(sigma[i])
		if m.UseNodeScale {
			sf := g.Constant(mat.Float(batch.SF[i]))
			mu[i] = g.ProdScalar(mu[i], sf)
			sigma[i] = g.ProdScalar(sigma[i], sf)
		}
		mu[i] = Clamp(g, mu[i], -MuBound, MuBound)
		sigma[i] = Clamp(g, sigma[i], -SigmaBound, SigmaBound)
	}
	return mu, sigma, nil
}

// Predict returns mu and sigma of the batch's leading BatchSize rows.
func (m *LinearNCEM) Predict(input graph.Batcher) ([][]float64, [][]float64, error) {
	batch, err := input.Batch()
	if err != nil {
		return nil, nil, err
	}
	mu, sigma, err := m.Forward(batch)
	if err != nil {
		return nil, nil, err
	}
	return values(mu[:batch.BatchSize]), values(sigma[:batch.BatchSize]), nil
}

// TrainingStep returns the Gaussian negative log likelihood of the batch's
// leading BatchSize rows and logs it as train_loss.
func (m *LinearNCEM) TrainingStep(input graph.Batcher, logger MetricLogger) (ag.Node, error) {
	batch, mu, sigma, err := m.prepare(input)
	if err != nil {
		return nil, err
	}
	loss := m.loss(batch, mu, sigma)
	logger.Log("train_loss", float64(loss.ScalarValue()), batch.BatchSize)
	return loss, nil
}

// ValidationStep logs val_loss and val_r2_score. A batch with a single seed
// has no R² and only logs its loss.
func (m *LinearNCEM) ValidationStep(input graph.Batcher, logger MetricLogger) error {
	return m.evaluate("val", input, logger)
}

// TestStep logs test_loss and test_r2_score, skipping R² like ValidationStep.
func (m *LinearNCEM) TestStep(input graph.Batcher, logger MetricLogger) error {
	return m.evaluate("test", input, logger)
}

func (m *LinearNCEM) evaluate(prefix string, input graph.Batcher, logger MetricLogger) error {
	batch, mu, sigma, err := m.prepare(input)
	if err != nil {
		return err
	}
	loss := m.loss(batch, mu, sigma)
	if batch.BatchSize > 1 {
		r2 := R2Score(targetRows(batch), values(mu[:batch.BatchSize]))
		logger.Log(prefix+"_r2_score", r2, batch.BatchSize)
	}
	logger.Log(prefix+"_loss", float64(loss.ScalarValue()), batch.BatchSize)
	return nil
}

func (m *LinearNCEM) prepare(input graph.Batcher) (*graph.Batch, []ag.Node, []ag.Node, error) {
	batch, err := input.Batch()
	if err != nil {
		return nil, nil, nil, err
	}
	if batch.Y == nil {
		return nil, nil, nil, fmt.Errorf("batch has no targets: %w", graph.ErrShapeMismatch)
	}
	if _, c := batch.Y.Dims(); c != m.OutChannels {
		return nil, nil, nil, fmt.Errorf("batch has %d targets, model expects %d: %w", c, m.OutChannels, graph.ErrShapeMismatch)
	}
	mu, sigma, err := m.Forward(batch)
	if err != nil {
		return nil, nil, nil, err
	}
	return batch, mu, sigma, nil
}

func (m *LinearNCEM) loss(batch *graph.Batch, mu, sigma []ag.Node) ag.Node {
	g := m.Graph()
	k := batch.BatchSize
	targets := make([]ag.Node, k)
	for i := range targets {
		targets[i] = g.NewVariable(mat.NewVecDense(toFloats(batch.Y.RawRowView(i))), false)
	}
	return GaussianNLL(g, mu[:k], targets, sigma[:k])
}

// Optimizer is Adam with L2 weight decay added to the gradients before every
// update.
type Optimizer struct {
	*gd.GradientDescent
	model       nn.Model
	weightDecay mat.Float
}

// ConfigureOptimizer builds the optimizer over all the model parameters.
func (m *LinearNCEM) ConfigureOptimizer() *Optimizer {
	updaterConfig := adam.NewDefaultConfig()
	updaterConfig.StepSize = mat.Float(m.LearningRate)
	return &Optimizer{
		GradientDescent: gd.NewOptimizer(adam.New(updaterConfig), nn.NewDefaultParamsIterator(m)),
		model:           m,
		weightDecay:     mat.Float(m.WeightDecay),
	}
}

// Step applies weight decay and updates the parameters with the accumulated gradients.
func (o *Optimizer) Step() {
	if o.weightDecay > 0 {
		nn.ForEachParam(o.model, func(param nn.Param) {
			if param.HasGrad() {
				param.PropagateGrad(param.Value().ProdScalar(o.weightDecay))
			}
		})
	}
	o.Optimize()
}

func toFloats(values []float64) []mat.Float {
	out := make([]mat.Float, len(values))
	for i, v := range values {
		out[i] = mat.Float(v)
	}
	return out
}

func values(nodes []ag.Node) [][]float64 {
	out := make([][]float64, len(nodes))
	for i, n := range nodes {
		data := n.Value().Data()
		out[i] = make([]float64, len(data))
		for j, v := range data {
			out[i][j] = float64(v)
		}
	}
	return out
}

func targetRows(batch *graph.Batch) [][]float64 {
	out := make([][]float64, batch.BatchSize)
	for i := range out {
		out[i] = batch.Y.RawRowView(i)
	}
	return out
}
