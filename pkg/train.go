package pkg

import (
	"errors"
	"fmt"
	mrand "math/rand"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nlpodyssey/spago/pkg/mat32/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/rs/zerolog/log"

	"ncem/pkg/graph"
	"ncem/pkg/io"
	"ncem/pkg/model"
)

var ErrNoTrainingData = errors.New("no data to train")

var paramsValidate = validator.New()

type TrainingParameters struct {
	BatchSize          int      `yaml:"batch_size" validate:"gt=0"`
	NumEpochs          int      `yaml:"num_epochs" validate:"gte=0"`
	ReportInterval     int      `yaml:"report_interval" validate:"gte=0"`
	RndSeed            uint64   `yaml:"random_seed"`
	ValidationFraction float64  `yaml:"validation_fraction" validate:"gte=0,lt=1"`
	LabelKey           string   `yaml:"label_key" validate:"required"`
	IndexColumn        string   `yaml:"index_column"`
	CategoricalColumns []string `yaml:"categorical_columns"`
	SpatialColumns     []string `yaml:"spatial_columns" validate:"min=1"`
	GeneColumns        []string `yaml:"gene_columns"`
	NumNeighbors       int      `yaml:"num_neighbors" validate:"gte=0"`
	Radius             float64  `yaml:"radius" validate:"gte=0"`
}

func (p TrainingParameters) Validate() error {
	if err := paramsValidate.Struct(p); err != nil {
		return fmt.Errorf("invalid training parameters: %w", err)
	}
	return nil
}

type Trainer struct {
	params    TrainingParameters
	optimizer *model.Optimizer
	model     *model.LinearNCEM
	rndGen    *rand.LockedRand
}

// Train fits a model on the cells of trainFile and saves it to outputFileName.
// InChannels and OutChannels of config are derived from the data.
func Train(trainFile, outputFileName string, config model.Config, trainingParams TrainingParameters) error {
	if err := trainingParams.Validate(); err != nil {
		return err
	}
	t := &Trainer{params: trainingParams, rndGen: rand.NewLockedRand(trainingParams.RndSeed)}

	data, dataErrors, err := io.LoadData(io.DataParameters{
		DataFile:           trainFile,
		IndexColumn:        trainingParams.IndexColumn,
		CategoricalColumns: io.NewSet(append(trainingParams.CategoricalColumns, trainingParams.LabelKey)...),
		SpatialColumns:     trainingParams.SpatialColumns,
		GeneColumns:        trainingParams.GeneColumns,
	}, nil)
	if err != nil {
		return fmt.Errorf("error reading training data: %w", err)
	}
	printDataErrors(dataErrors)

	metaData := model.NewMetadata()
	metaData.RunID = uuid.New().String()
	metaData.LabelKey = trainingParams.LabelKey
	metaData.IndexColumn = trainingParams.IndexColumn
	metaData.SpatialColumns = trainingParams.SpatialColumns
	metaData.NumNeighbors = trainingParams.NumNeighbors
	metaData.Radius = trainingParams.Radius

	full, err := buildGraph(data, metaData)
	if err != nil {
		return fmt.Errorf("error building features: %w", err)
	}

	//Overwrite values that are only known after parsing the dataset
	config.InChannels = metaData.FeatureCount()
	config.OutChannels = metaData.TargetCount()

	t.model, err = model.New(config)
	if err != nil {
		return err
	}
	t.model.Init(t.rndGen)
	t.optimizer = t.model.ConfigureOptimizer()

	trainSet, validationSet, err := t.split(full)
	if err != nil {
		return err
	}
	log.Info().
		Str("run", metaData.RunID).
		Int("cells", full.NumNodes()).
		Int("edges", full.EdgeIndex.Len()).
		Int("features", config.InChannels).
		Int("genes", config.OutChannels).
		Str("model", t.model.Variant.String()).
		Msg("Training")

	metrics := model.NewEpochMetrics()
	for epoch := 0; epoch < trainingParams.NumEpochs; epoch++ {
		t.optimizer.IncEpoch()
		metrics.Reset()

		trainSet.ResetOrder(io.RandomOrder)
		for i := 0; trainSet.HasNext(); i++ {
			batch, err := trainSet.Next()
			if err != nil {
				return err
			}
			loss, err := t.trainBatch(batch, metrics)
			if err != nil {
				return err
			}
			if t.params.ReportInterval > 0 && i%t.params.ReportInterval == 0 {
				log.Debug().Int("epoch", epoch).Int("batch", i).Float64("loss", loss).Msg("")
			}
		}

		if validationSet != nil {
			validationSet.ResetOrder(io.OriginalOrder)
			for validationSet.HasNext() {
				batch, err := validationSet.Next()
				if err != nil {
					return err
				}
				if err := t.validateBatch(batch, metrics); err != nil {
					return err
				}
			}
		}
		metrics.Fields(log.Info().Int("epoch", epoch)).Msg("Epoch")
	}

	m := model.Model{
		MetaData: metaData,
		NCEM:     t.model,
	}

	outputFile, err := os.Create(outputFileName)
	if err != nil {
		return fmt.Errorf("error creating output file %s: %w", outputFileName, err)
	}
	defer outputFile.Close()

	if err := io.SaveModel(&m, outputFile); err != nil {
		return fmt.Errorf("error saving model to %s: %w", outputFileName, err)
	}

	_, err = testInternal(&m, data.Obs.Index, full, evaluationBatchSize, "")
	return err
}

// split holds out ValidationFraction of the cells, rounded down, for validation.
func (t *Trainer) split(full *graph.Data) (*io.DataSet, *io.DataSet, error) {
	all := io.NewDataSet(full, t.params.BatchSize)
	all.Rand = mrand.New(mrand.NewSource(int64(t.params.RndSeed)))

	validationSize := int(t.params.ValidationFraction * float64(all.Size()))
	if validationSize == 0 {
		return all, nil, nil
	}
	if validationSize >= all.Size() {
		return nil, nil, fmt.Errorf("validation fraction %.2f leaves no cells: %w", t.params.ValidationFraction, ErrNoTrainingData)
	}
	splits := all.RandomSplit(all.Size()-validationSize, validationSize)
	return splits[0], splits[1], nil
}

func (t *Trainer) trainBatch(batch *graph.Batch, metrics model.MetricLogger) (float64, error) {
	t.optimizer.IncBatch()

	g := ag.NewGraph(ag.Rand(t.rndGen))
	defer g.Clear()
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Training}, t.model).(*model.LinearNCEM)
	loss, err := proc.TrainingStep(batch, metrics)
	if err != nil {
		return 0, err
	}
	g.Backward(loss)
	t.optimizer.Step()
	return float64(loss.ScalarValue()), nil
}

func (t *Trainer) validateBatch(batch *graph.Batch, metrics model.MetricLogger) error {
	g := ag.NewGraph(ag.Rand(t.rndGen))
	defer g.Clear()
	proc := nn.Reify(nn.Context{Graph: g, Mode: nn.Inference}, t.model).(*model.LinearNCEM)
	return proc.ValidationStep(batch, metrics)
}
