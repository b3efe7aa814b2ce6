package model

import (
	"errors"
	"math"
	"testing"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/stretchr/testify/require"
	gmat "gonum.org/v1/gonum/mat"

	"ncem/pkg/graph"
	"ncem/pkg/model/head"
)

const testNumNodes = 6

func newTestModel(t *testing.T, modelType string, in, out int) *LinearNCEM {
	config := DefaultConfig()
	config.Type = modelType
	config.InChannels = in
	config.OutChannels = out
	m, err := New(config)
	require.NoError(t, err)
	m.Init(rand.NewLockedRand(42))
	return m
}

// ring builds a cycle graph over testNumNodes nodes with size factors 1+i/10.
func ring(in, out int, numSeeds int) *graph.Data {
	x := gmat.NewDense(testNumNodes, in, nil)
	y := gmat.NewDense(testNumNodes, out, nil)
	sf := make([]float64, testNumNodes)
	var edges graph.EdgeIndex
	for i := 0; i < testNumNodes; i++ {
		for j := 0; j < in; j++ {
			x.Set(i, j, float64((i+j)%3))
		}
		for j := 0; j < out; j++ {
			y.Set(i, j, float64(i+j)/4)
		}
		sf[i] = 1 + float64(i)/10
		next := (i + 1) % testNumNodes
		edges[0] = append(edges[0], i, next)
		edges[1] = append(edges[1], next, i)
	}
	return &graph.Data{X: x, Y: y, SF: sf, EdgeIndex: edges, NumSeeds: numSeeds}
}

func reify(m *LinearNCEM, mode nn.ProcessingMode) *LinearNCEM {
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	return nn.Reify(nn.Context{Graph: g, Mode: mode}, m).(*LinearNCEM)
}

type recorder map[string][]float64

func (r recorder) Log(name string, value float64, batchSize int) {
	r[name] = append(r[name], value)
}

func TestParseVariant(t *testing.T) {
	for _, name := range []string{"spatial", "Spatial", "SPATIAL"} {
		v, err := ParseVariant(name)
		require.NoError(t, err)
		require.Equal(t, Spatial, v)
	}
	v, err := ParseVariant("NonSpatial")
	require.NoError(t, err)
	require.Equal(t, NonSpatial, v)

	_, err = ParseVariant("diagonal")
	require.True(t, errors.Is(err, ErrInvalidModelType))
}

func TestNew(t *testing.T) {
	mixed := newTestModel(t, "Spatial", 3, 2)
	lower := newTestModel(t, "spatial", 3, 2)
	require.Equal(t, lower.Variant, mixed.Variant)
	require.NotNil(t, mixed.Mu.Neighbor)
	require.NotNil(t, mixed.Sigma.Neighbor)

	nonSpatial := newTestModel(t, "nonspatial", 3, 2)
	require.Nil(t, nonSpatial.Mu.Neighbor)

	config := DefaultConfig()
	config.InChannels, config.OutChannels = 3, 2
	config.Type = "diagonal"
	_, err := New(config)
	require.True(t, errors.Is(err, ErrInvalidModelType))

	config.Type = "spatial"
	config.InChannels = 0
	_, err = New(config)
	require.Error(t, err)

	config.InChannels = 3
	config.LearningRate = 0
	_, err = New(config)
	require.Error(t, err)
}

func TestForward_Shapes(t *testing.T) {
	tests := []struct {
		modelType string
		in, out   int
	}{
		{modelType: "spatial", in: 4, out: 1},
		{modelType: "nonspatial", in: 4, out: 3},
	}
	for _, tt := range tests {
		m := newTestModel(t, tt.modelType, tt.in, tt.out)
		batch, err := graph.DataList{ring(tt.in, tt.out, 0)}.Batch()
		require.NoError(t, err)

		mu, sigma, err := reify(m, nn.Inference).Forward(batch)
		require.NoError(t, err)
		require.Equal(t, testNumNodes, len(mu))
		require.Equal(t, testNumNodes, len(sigma))
		for i := range mu {
			require.Equal(t, tt.out, mu[i].Value().Rows())
			for _, s := range sigma[i].Value().Data() {
				require.True(t, s > 0)
			}
		}
	}
}

func TestForward_SpatialHeadSeesNeighbours(t *testing.T) {
	m := newTestModel(t, "spatial", 2, 1)
	m.UseNodeScale = false
	data := ring(2, 1, 0)
	withEdges, err := graph.DataList{data}.Batch()
	require.NoError(t, err)
	mu, _, err := reify(m, nn.Inference).Forward(withEdges)
	require.NoError(t, err)

	data.EdgeIndex = graph.EdgeIndex{}
	withoutEdges, err := graph.DataList{data}.Batch()
	require.NoError(t, err)
	isolated, _, err := reify(m, nn.Inference).Forward(withoutEdges)
	require.NoError(t, err)

	require.NotEqual(t, mu[0].Value().Data(), isolated[0].Value().Data())
}

func TestForward_Clamp(t *testing.T) {
	for _, modelType := range []string{"spatial", "nonspatial"} {
		m := newTestModel(t, modelType, 2, 2)
		m.UseNodeScale = false
		for _, h := range []*head.Model{m.Mu, m.Sigma} {
			fill(h.Self.W.Value().Data(), 1)
			if h.Neighbor != nil {
				fill(h.Neighbor.W.Value().Data(), 1)
			}
		}

		for _, magnitude := range []float64{1e30, -1e30} {
			data := ring(2, 2, 0)
			data.X.Apply(func(i, j int, v float64) float64 { return magnitude }, data.X)
			batch, err := graph.DataList{data}.Batch()
			require.NoError(t, err)

			mu, sigma, err := reify(m, nn.Inference).Forward(batch)
			require.NoError(t, err)
			for i := range mu {
				for _, v := range mu[i].Value().Data() {
					require.True(t, v >= -MuBound && v <= MuBound, "mu %v out of bounds", v)
				}
				for _, v := range sigma[i].Value().Data() {
					require.True(t, v >= -SigmaBound && v <= SigmaBound, "sigma %v out of bounds", v)
				}
			}
			if magnitude > 0 {
				require.Equal(t, MuBound, mu[0].Value().Data()[0])
				require.Equal(t, SigmaBound, sigma[0].Value().Data()[0])
			} else {
				require.Equal(t, -MuBound, mu[0].Value().Data()[0])
			}
		}
	}
}

func fill(data []mat.Float, v mat.Float) {
	for i := range data {
		data[i] = v
	}
}

func TestForward_SizeFactorScaling(t *testing.T) {
	m := newTestModel(t, "spatial", 3, 2)
	data := ring(3, 2, 0)
	// keeps sigma well below its bound
	data.X.Scale(0.1, data.X)
	batch, err := graph.DataList{data}.Batch()
	require.NoError(t, err)

	m.UseNodeScale = false
	mu, sigma, err := reify(m, nn.Inference).Forward(batch)
	require.NoError(t, err)

	m.UseNodeScale = true
	scaledMu, scaledSigma, err := reify(m, nn.Inference).Forward(batch)
	require.NoError(t, err)

	for i := range mu {
		sf := batch.SF[i]
		for j, v := range mu[i].Value().Data() {
			require.InDelta(t, sf*float64(v), float64(scaledMu[i].Value().Data()[j]), 1e-4)
		}
		for j, v := range sigma[i].Value().Data() {
			require.InDelta(t, sf*float64(v), float64(scaledSigma[i].Value().Data()[j]), 1e-4)
		}
	}

	batch.SF = nil
	_, _, err = reify(m, nn.Inference).Forward(batch)
	require.True(t, errors.Is(err, ErrMissingSizeFactors))
}

func TestTrainingStep_BatchAndDataList(t *testing.T) {
	m := newTestModel(t, "spatial", 3, 2)
	samples := graph.DataList{ring(3, 2, 2), ring(3, 2, 3)}

	fromList := recorder{}
	loss, err := reify(m, nn.Training).TrainingStep(samples, fromList)
	require.NoError(t, err)

	batch, err := samples.Batch()
	require.NoError(t, err)
	require.Equal(t, 5, batch.BatchSize)
	fromBatch := recorder{}
	same, err := reify(m, nn.Training).TrainingStep(batch, fromBatch)
	require.NoError(t, err)

	require.InDelta(t, float64(loss.ScalarValue()), float64(same.ScalarValue()), 1e-6)
	require.Len(t, fromList["train_loss"], 1)
	require.Equal(t, fromList["train_loss"], fromBatch["train_loss"])
}

func TestTrainingStep_IgnoresTrailingRows(t *testing.T) {
	m := newTestModel(t, "nonspatial", 3, 2)
	batch, err := graph.DataList{ring(3, 2, 2)}.Batch()
	require.NoError(t, err)

	loss, err := reify(m, nn.Training).TrainingStep(batch, recorder{})
	require.NoError(t, err)

	for i := batch.BatchSize; i < batch.NumNodes(); i++ {
		batch.Y.Set(i, 0, 1000)
	}
	same, err := reify(m, nn.Training).TrainingStep(batch, recorder{})
	require.NoError(t, err)
	require.Equal(t, loss.ScalarValue(), same.ScalarValue())
}

func TestValidationAndTestStep(t *testing.T) {
	m := newTestModel(t, "spatial", 3, 2)
	batch, err := graph.DataList{ring(3, 2, 0)}.Batch()
	require.NoError(t, err)

	logged := recorder{}
	require.NoError(t, reify(m, nn.Inference).ValidationStep(batch, logged))
	require.NoError(t, reify(m, nn.Inference).TestStep(batch, logged))
	for _, name := range []string{"val_loss", "val_r2_score", "test_loss", "test_r2_score"} {
		require.Len(t, logged[name], 1, name)
		require.False(t, math.IsNaN(logged[name][0]), name)
	}

	wrong := ring(3, 4, 0)
	err = reify(m, nn.Inference).ValidationStep(graph.DataList{wrong}, logged)
	require.True(t, errors.Is(err, graph.ErrShapeMismatch))

	_, err = reify(m, nn.Training).TrainingStep(graph.DataList{}, logged)
	require.True(t, errors.Is(err, graph.ErrEmptyBatch))
}

func TestValidationStep_SingleSeedBatch(t *testing.T) {
	m := newTestModel(t, "spatial", 3, 2)
	metrics := NewEpochMetrics()
	require.NoError(t, reify(m, nn.Inference).ValidationStep(graph.DataList{ring(3, 2, 5)}, metrics))
	require.NoError(t, reify(m, nn.Inference).ValidationStep(graph.DataList{ring(3, 2, 1)}, metrics))

	r2, ok := metrics.Mean("val_r2_score")
	require.True(t, ok)
	require.False(t, math.IsNaN(r2))
	loss, ok := metrics.Mean("val_loss")
	require.True(t, ok)
	require.False(t, math.IsNaN(loss))

	logged := recorder{}
	require.NoError(t, reify(m, nn.Inference).TestStep(graph.DataList{ring(3, 2, 1)}, logged))
	require.Len(t, logged["test_loss"], 1)
	require.NotContains(t, logged, "test_r2_score")
}

func TestOptimizer_ReducesLoss(t *testing.T) {
	m := newTestModel(t, "spatial", 3, 2)
	m.LearningRate = 0.05
	optimizer := m.ConfigureOptimizer()
	batch, err := graph.DataList{ring(3, 2, 0)}.Batch()
	require.NoError(t, err)

	var first, last float64
	for step := 0; step < 200; step++ {
		optimizer.IncBatch()
		g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
		proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, m).(*LinearNCEM)
		loss, err := proc.TrainingStep(batch, recorder{})
		require.NoError(t, err)
		g.Backward(loss)
		optimizer.Step()
		if step == 0 {
			first = float64(loss.ScalarValue())
		}
		last = float64(loss.ScalarValue())
		g.Clear()
	}
	require.Less(t, last, first)
}

func TestGaussianNLL(t *testing.T) {
	g := ag.NewGraph()
	mu := []ag.Node{g.NewVariable(mat.NewVecDense([]mat.Float{0, 2}), true)}
	y := []ag.Node{g.NewVariable(mat.NewVecDense([]mat.Float{1, 2}), false)}
	variance := []ag.Node{g.NewVariable(mat.NewVecDense([]mat.Float{1, math.E}), true)}

	// 0.5 * mean(log 1 + 1/1, log e + 0/e) = 0.5 * (1 + 1) / 2
	loss := GaussianNLL(g, mu, y, variance)
	require.InDelta(t, 0.5, float64(loss.ScalarValue()), 1e-6)

	// a zero variance is floored instead of producing infinities
	zero := []ag.Node{g.NewVariable(mat.NewVecDense([]mat.Float{0, 0}), true)}
	loss = GaussianNLL(g, mu, y, zero)
	require.False(t, math.IsInf(float64(loss.ScalarValue()), 0))
}

func TestR2Score(t *testing.T) {
	targets := [][]float64{{1, 5}, {2, 5}, {3, 5}}
	require.InDelta(t, 1.0, R2Score(targets, targets), 1e-12)

	// second column is constant and mispredicted
	predictions := [][]float64{{1, 4}, {2, 4}, {3, 4}}
	require.InDelta(t, 0.5, R2Score(targets, predictions), 1e-12)

	// predicting the mean of the first column scores 0 there
	mean := [][]float64{{2, 5}, {2, 5}, {2, 5}}
	require.InDelta(t, 0.5, R2Score(targets, mean), 1e-12)

	require.True(t, math.IsNaN(R2Score(targets[:1], targets[:1])))
}

func TestEpochMetrics(t *testing.T) {
	metrics := NewEpochMetrics()
	metrics.Log("val_loss", 1, 1)
	metrics.Log("val_loss", 4, 3)
	mean, ok := metrics.Mean("val_loss")
	require.True(t, ok)
	require.InDelta(t, 13.0/4.0, mean, 1e-12)
	require.Equal(t, []string{"val_loss"}, metrics.Names())

	metrics.Reset()
	_, ok = metrics.Mean("val_loss")
	require.False(t, ok)
}
