package pkg

import (
	"encoding/csv"
	"fmt"
	gio "io"
	"os"
	"strconv"

	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/rs/zerolog/log"

	"ncem/pkg/graph"
	"ncem/pkg/io"
	"ncem/pkg/model"
)

const evaluationBatchSize = 256

// Test evaluates a saved model on the cells of inputFileName. When
// outputFileName is set the predicted mu and sigma of every cell are written to
// it as CSV.
func Test(modelFileName, inputFileName, outputFileName string) error {

	modelFile, err := os.Open(modelFileName)
	if err != nil {
		return fmt.Errorf("error opening model file %s: %w", modelFileName, err)
	}
	defer modelFile.Close()

	m, err := io.LoadModel(modelFile)
	if err != nil {
		return fmt.Errorf("error loading model from file %s: %w", modelFileName, err)
	}
	data, dataErrors, err := io.LoadData(io.DataParameters{DataFile: inputFileName}, m.MetaData)
	if err != nil {
		return fmt.Errorf("error loading data from %s: %w", inputFileName, err)
	}
	printDataErrors(dataErrors)

	full, err := buildGraph(data, m.MetaData)
	if err != nil {
		return fmt.Errorf("error building features: %w", err)
	}
	_, err = testInternal(m, data.Obs.Index, full, evaluationBatchSize, outputFileName)
	return err
}

// testInternal evaluates m on every cell of full in batches of batchSize seeds
// and returns the test metrics averaged over all cells.
func testInternal(m *model.Model, cells []string, full *graph.Data, batchSize int, outputFileName string) (*model.EpochMetrics, error) {

	var outputWriter gio.Writer
	if outputFileName != "" {
		outputFile, err := os.Create(outputFileName)
		if err != nil {
			return nil, fmt.Errorf("error opening output file %s: %w", outputFileName, err)
		}
		defer outputFile.Close()
		outputWriter = outputFile
	} else {
		outputWriter = NoopWriter{}
	}
	predictions := newPredictionWriter(outputWriter, m.MetaData.TargetMap.Names())

	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(42)))
	metrics := model.NewEpochMetrics()
	ds := io.NewDataSet(full, batchSize)
	for ds.HasNext() {
		seeds := ds.NextSeeds()
		batch, err := ds.Batch(seeds)
		if err != nil {
			return nil, err
		}
		proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, m.NCEM).(*model.LinearNCEM)
		if err := proc.TestStep(batch, metrics); err != nil {
			return nil, err
		}
		if outputFileName != "" {
			mu, sigma, err := proc.Predict(batch)
			if err != nil {
				return nil, err
			}
			for i, seed := range seeds {
				if err := predictions.write(cells[seed], mu[i], sigma[i]); err != nil {
					return nil, err
				}
			}
		}
		g.Clear()
	}
	if err := predictions.flush(); err != nil {
		return nil, fmt.Errorf("error writing predictions: %w", err)
	}

	metrics.Fields(log.Info().Str("run", m.MetaData.RunID)).Msg("Test")
	return metrics, nil
}

// predictionWriter writes one row per cell: the cell name, then mu and sigma
// of every gene.
type predictionWriter struct {
	writer *csv.Writer
	header []string
	row    []string
}

func newPredictionWriter(w gio.Writer, genes []string) *predictionWriter {
	header := []string{"cell"}
	for _, gene := range genes {
		header = append(header, gene+"_mu")
	}
	for _, gene := range genes {
		header = append(header, gene+"_sigma")
	}
	return &predictionWriter{writer: csv.NewWriter(w), header: header}
}

func (p *predictionWriter) write(cell string, mu, sigma []float64) error {
	if p.header != nil {
		if err := p.writer.Write(p.header); err != nil {
			return err
		}
		p.header = nil
	}
	p.row = append(p.row[:0], cell)
	for _, v := range mu {
		p.row = append(p.row, strconv.FormatFloat(v, 'f', 5, 64))
	}
	for _, v := range sigma {
		p.row = append(p.row, strconv.FormatFloat(v, 'f', 5, 64))
	}
	return p.writer.Write(p.row)
}

func (p *predictionWriter) flush() error {
	p.writer.Flush()
	return p.writer.Error()
}
