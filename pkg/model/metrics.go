package model

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// MetricLogger receives the metrics computed by the step hooks.
type MetricLogger interface {
	Log(name string, value float64, batchSize int)
}

// EpochMetrics averages logged metrics over an epoch, weighting every value by
// its batch size.
type EpochMetrics struct {
	sums    map[string]float64
	weights map[string]int
}

func NewEpochMetrics() *EpochMetrics {
	return &EpochMetrics{sums: map[string]float64{}, weights: map[string]int{}}
}

func (e *EpochMetrics) Log(name string, value float64, batchSize int) {
	e.sums[name] += value * float64(batchSize)
	e.weights[name] += batchSize
}

// Mean returns the weighted mean of name and false if it was never logged.
func (e *EpochMetrics) Mean(name string) (float64, bool) {
	w, ok := e.weights[name]
	if !ok || w == 0 {
		return 0, false
	}
	return e.sums[name] / float64(w), true
}

func (e *EpochMetrics) Names() []string {
	names := make([]string, 0, len(e.sums))
	for name := range e.sums {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *EpochMetrics) Reset() {
	e.sums = map[string]float64{}
	e.weights = map[string]int{}
}

// Fields adds every metric mean to the event.
func (e *EpochMetrics) Fields(event *zerolog.Event) *zerolog.Event {
	for _, name := range e.Names() {
		mean, _ := e.Mean(name)
		event = event.Float64(name, mean)
	}
	return event
}

// R2Score is the coefficient of determination averaged uniformly over output
// dimensions. Rows are observations. A constant target column scores 1 when it is
// predicted exactly and 0 otherwise. Fewer than two rows give NaN.
func R2Score(targets, predictions [][]float64) float64 {
	if len(targets) < 2 {
		return math.NaN()
	}
	dims := len(targets[0])
	values := make([]float64, len(targets))
	estimates := make([]float64, len(targets))
	total := 0.0
	for d := 0; d < dims; d++ {
		for i := range targets {
			values[i] = targets[i][d]
			estimates[i] = predictions[i][d]
		}
		total += r2(estimates, values)
	}
	return total / float64(dims)
}

func r2(estimates, values []float64) float64 {
	mean := stat.Mean(values, nil)
	var residual, spread float64
	for i, v := range values {
		residual += (v - estimates[i]) * (v - estimates[i])
		spread += (v - mean) * (v - mean)
	}
	if spread == 0 {
		if residual == 0 {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(estimates, values, nil)
}
