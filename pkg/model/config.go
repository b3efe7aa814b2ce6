package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidModelType = errors.New("invalid model type, valid types: 'spatial' or 'nonspatial'")

var configValidate = validator.New()

type Variant int

const (
	Spatial Variant = iota + 1
	NonSpatial
)

func (v Variant) String() string {
	switch v {
	case Spatial:
		return "spatial"
	case NonSpatial:
		return "nonspatial"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant resolves a model type name, ignoring case.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(name) {
	case "spatial":
		return Spatial, nil
	case "nonspatial":
		return NonSpatial, nil
	}
	return 0, fmt.Errorf("%q: %w", name, ErrInvalidModelType)
}

// Config holds the hyperparameters persisted with the model.
type Config struct {
	Type         string  `yaml:"type" validate:"required"`
	InChannels   int     `yaml:"in_channels" validate:"gt=0"`
	OutChannels  int     `yaml:"out_channels" validate:"gt=0"`
	LearningRate float64 `yaml:"lr" validate:"gt=0"`
	WeightDecay  float64 `yaml:"weight_decay" validate:"gte=0"`
	UseNodeScale bool    `yaml:"use_node_scale"`
}

func DefaultConfig() Config {
	return Config{
		Type:         "spatial",
		LearningRate: 0.1,
		WeightDecay:  2e-3,
		UseNodeScale: true,
	}
}

func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid model configuration: %w", err)
	}
	return nil
}
