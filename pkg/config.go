package pkg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ncem/pkg/model"
	"ncem/pkg/transforms"
)

// Config is the content of a run configuration file.
type Config struct {
	Model    model.Config       `yaml:"model"`
	Training TrainingParameters `yaml:"training"`
}

func DefaultConfig() Config {
	return Config{
		Model: model.DefaultConfig(),
		Training: TrainingParameters{
			BatchSize:          64,
			NumEpochs:          10,
			ReportInterval:     10,
			RndSeed:            42,
			ValidationFraction: 0.1,
			LabelKey:           "cell_type",
			SpatialColumns:     []string{"x", "y"},
			NumNeighbors:       transforms.DefaultNumNeighbors,
		},
	}
}

// LoadConfig reads a YAML configuration. Keys missing from the file keep their
// default value, unknown keys are an error.
func LoadConfig(fileName string) (Config, error) {
	config := DefaultConfig()
	file, err := os.Open(fileName)
	if err != nil {
		return config, fmt.Errorf("error opening config file %s: %w", fileName, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return config, fmt.Errorf("error parsing config file %s: %w", fileName, err)
	}
	return config, nil
}
