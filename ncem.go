package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ncem/pkg"

	"github.com/spf13/cobra"
)

// trainFlags copies the value of a flag set on the command line over the one
// read from the configuration file.
var trainFlags = map[string]func(dst, src *pkg.Config){
	"type":                func(d, s *pkg.Config) { d.Model.Type = s.Model.Type },
	"lr":                  func(d, s *pkg.Config) { d.Model.LearningRate = s.Model.LearningRate },
	"weight-decay":        func(d, s *pkg.Config) { d.Model.WeightDecay = s.Model.WeightDecay },
	"use-node-scale":      func(d, s *pkg.Config) { d.Model.UseNodeScale = s.Model.UseNodeScale },
	"batch-size":          func(d, s *pkg.Config) { d.Training.BatchSize = s.Training.BatchSize },
	"num-epochs":          func(d, s *pkg.Config) { d.Training.NumEpochs = s.Training.NumEpochs },
	"report-interval":     func(d, s *pkg.Config) { d.Training.ReportInterval = s.Training.ReportInterval },
	"random-seed":         func(d, s *pkg.Config) { d.Training.RndSeed = s.Training.RndSeed },
	"validation-fraction": func(d, s *pkg.Config) { d.Training.ValidationFraction = s.Training.ValidationFraction },
	"label-key":           func(d, s *pkg.Config) { d.Training.LabelKey = s.Training.LabelKey },
	"index-column":        func(d, s *pkg.Config) { d.Training.IndexColumn = s.Training.IndexColumn },
	"categorical-columns": func(d, s *pkg.Config) { d.Training.CategoricalColumns = s.Training.CategoricalColumns },
	"spatial-columns":     func(d, s *pkg.Config) { d.Training.SpatialColumns = s.Training.SpatialColumns },
	"gene-columns":        func(d, s *pkg.Config) { d.Training.GeneColumns = s.Training.GeneColumns },
	"num-neighbors":       func(d, s *pkg.Config) { d.Training.NumNeighbors = s.Training.NumNeighbors },
	"radius":              func(d, s *pkg.Config) { d.Training.Radius = s.Training.Radius },
}

func TrainCommand() *cobra.Command {

	var trainFile string
	var outputFile string
	var configFile string
	config := pkg.DefaultConfig()
	modelParameters := &config.Model
	trainingParameters := &config.Training

	var cmd = &cobra.Command{
		Use:   "train -i trainData -o outputFile",
		Short: "Trains a new model on the provided cells and saves the trained model",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			run := config
			if configFile != "" {
				var err error
				if run, err = pkg.LoadConfig(configFile); err != nil {
					return err
				}
				for name, apply := range trainFlags {
					if cmd.Flags().Changed(name) {
						apply(&run, &config)
					}
				}
			}
			return pkg.Train(trainFile, outputFile, run.Model, run.Training)
		},
	}

	cmd.Flags().StringVarP(&trainFile, "train-file", "i", "", "name of train file")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "name of the file to save model to.")
	cmd.Flags().StringVarP(&configFile, "config", "", "", "YAML configuration file, flags given on the command line take precedence")

	cmd.Flags().IntVarP(&trainingParameters.BatchSize, "batch-size", "b", trainingParameters.BatchSize, "number of seed cells per batch")
	cmd.Flags().IntVarP(&trainingParameters.ReportInterval, "report-interval", "r", trainingParameters.ReportInterval, "loss report interval")
	cmd.Flags().IntVarP(&trainingParameters.NumEpochs, "num-epochs", "n", trainingParameters.NumEpochs, "number of epochs to train")
	cmd.Flags().Uint64VarP(&trainingParameters.RndSeed, "random-seed", "x", trainingParameters.RndSeed, "random seed")
	cmd.Flags().Float64VarP(&trainingParameters.ValidationFraction, "validation-fraction", "v", trainingParameters.ValidationFraction, "fraction of cells held out for validation")
	cmd.Flags().StringVarP(&trainingParameters.LabelKey, "label-key", "t", trainingParameters.LabelKey, "column holding the cell type")
	cmd.Flags().StringVarP(&trainingParameters.IndexColumn, "index-column", "", trainingParameters.IndexColumn, "column holding the cell names")
	cmd.Flags().StringSliceVarP(&trainingParameters.CategoricalColumns, "categorical-columns", "", trainingParameters.CategoricalColumns, "list of further columns holding categorical data")
	cmd.Flags().StringSliceVarP(&trainingParameters.SpatialColumns, "spatial-columns", "", trainingParameters.SpatialColumns, "list of columns holding the cell coordinates")
	cmd.Flags().StringSliceVarP(&trainingParameters.GeneColumns, "gene-columns", "", trainingParameters.GeneColumns, "list of columns holding gene expression, all remaining columns when empty")
	cmd.Flags().IntVarP(&trainingParameters.NumNeighbors, "num-neighbors", "k", trainingParameters.NumNeighbors, "number of nearest cells connected to every cell")
	cmd.Flags().Float64VarP(&trainingParameters.Radius, "radius", "", trainingParameters.Radius, "connect all cells within this distance instead of the nearest ones")

	cmd.Flags().StringVarP(&modelParameters.Type, "type", "", modelParameters.Type, "model type: spatial or nonspatial")
	cmd.Flags().Float64VarP(&modelParameters.LearningRate, "lr", "l", modelParameters.LearningRate, "learning rate")
	cmd.Flags().Float64VarP(&modelParameters.WeightDecay, "weight-decay", "", modelParameters.WeightDecay, "weight decay")
	cmd.Flags().BoolVarP(&modelParameters.UseNodeScale, "use-node-scale", "", modelParameters.UseNodeScale, "scale the outputs by the cell size factors")

	_ = cmd.MarkFlagRequired("train-file")
	_ = cmd.MarkFlagRequired("output-file")

	return cmd
}

func TestCommand() *cobra.Command {
	var modelFile string
	var inputFile string
	var outputFile string

	var cmd = &cobra.Command{
		Use:   "test -m modelFile -i inputFile [-o outputFile]",
		Short: "Runs the provided model on the specified cells and optionally writes the predictions",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pkg.Test(modelFile, inputFile, outputFile)
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of model to test")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "name of predictions output file (optional)")

	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input")

	return cmd

}

var logLevel string
var logFormat string

func main() {

	Main := &cobra.Command{Use: "ncem", PersistentPreRun: setupLogging}

	Main.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	Main.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")

	Main.AddCommand(TrainCommand())
	Main.AddCommand(TestCommand())

	if err := Main.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) {

	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		panic("Invalid logging level specified")
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
	default:
		panic("Invalid log format specified")

	}

}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}

	}
	log.Logger = log.Output(writer)

}
