package io

import (
	"encoding/csv"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"ncem/pkg/anndata"
	"ncem/pkg/model"
)

// SpatialKey is the obsm slot the cell coordinates are loaded into.
const SpatialKey = "spatial"

var ErrNoData = errors.New("no cells in data file")

type void struct{}

var Void = void{}

type Set map[string]void

func NewSet(values ...string) Set {
	set := Set{}
	for _, val := range values {
		set[val] = Void
	}
	return set
}

type DataParameters struct {
	DataFile string

	// IndexColumn names the cells, row numbers are used when empty
	IndexColumn string

	// CategoricalColumns are loaded as categorical obs columns
	CategoricalColumns Set

	// SpatialColumns hold the cell coordinates
	SpatialColumns []string

	// GeneColumns hold the expression values. When empty every column that is not
	// index, categorical or spatial is a gene.
	GeneColumns []string
}

type DataError struct {
	Line  int
	Error string
}

type columnRole int

const (
	roleOther columnRole = iota
	roleIndex
	roleCategorical
	roleSpatial
	roleGene
)

// LoadData reads a cell by column CSV file into an AnnData: genes go to X,
// coordinates to Obsm[SpatialKey] and every other column to Obs. With metaData
// the columns are the ones the model was trained on. Lines that cannot be
// parsed are skipped and reported as DataErrors.
func LoadData(p DataParameters, metaData *model.Metadata) (*anndata.AnnData, []DataError, error) {
	if metaData != nil {
		p.IndexColumn = metaData.IndexColumn
		p.SpatialColumns = metaData.SpatialColumns
		p.GeneColumns = metaData.TargetMap.Names()
		categorical := NewSet(metaData.LabelKey)
		for c := range p.CategoricalColumns {
			categorical[c] = Void
		}
		p.CategoricalColumns = categorical
	}

	inputFile, err := os.Open(p.DataFile)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening file: %w", err)
	}
	defer inputFile.Close()

	reader := csv.NewReader(inputFile)
	reader.Comma = ','

	//First line is expected to be a header
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading data header: %w", err)
	}
	roles, genes, err := assignRoles(p, header)
	if err != nil {
		return nil, nil, err
	}

	var dataErrors []DataError
	var index []string
	var expression, coordinates []float64
	meta := map[string][]string{}

	n, line := 0, 1
	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			dataErrors = append(dataErrors, DataError{Line: line, Error: err.Error()})
			continue
		}

		rowGenes := make([]float64, len(genes))
		rowCoordinates := make([]float64, len(p.SpatialColumns))
		if err := parseRow(header, roles, record, rowGenes, rowCoordinates); err != nil {
			dataErrors = append(dataErrors, DataError{Line: line, Error: err.Error()})
			continue
		}

		expression = append(expression, rowGenes...)
		coordinates = append(coordinates, rowCoordinates...)
		for i, column := range header {
			switch roles[i].kind {
			case roleIndex:
				index = append(index, record[i])
			case roleCategorical, roleOther:
				meta[column] = append(meta[column], record[i])
			}
		}
		n++
	}

	if n == 0 {
		return nil, dataErrors, fmt.Errorf("%s: %w", p.DataFile, ErrNoData)
	}
	if index == nil {
		index = make([]string, n)
		for i := range index {
			index[i] = strconv.Itoa(i)
		}
	}

	var x *mat.Dense
	if len(genes) > 0 {
		x = mat.NewDense(n, len(genes), expression)
	}
	data := anndata.New(x, index, genes)
	if len(p.SpatialColumns) > 0 {
		spatial := &anndata.Matrix{
			Dense:   mat.NewDense(n, len(p.SpatialColumns), coordinates),
			Columns: append([]string(nil), p.SpatialColumns...),
		}
		if err := data.SetAxisMatrix(anndata.Obs, SpatialKey, spatial); err != nil {
			return nil, dataErrors, err
		}
	}
	for i, column := range header {
		var c *anndata.Column
		switch roles[i].kind {
		case roleCategorical:
			c = anndata.Categorize(column, meta[column])
		case roleOther:
			c = anndata.NewStringColumn(column, meta[column])
		default:
			continue
		}
		if err := data.Obs.Set(c); err != nil {
			return nil, dataErrors, err
		}
	}
	return data, dataErrors, nil
}

// role tells what a file column is loaded as. slot is the position of gene and
// spatial columns in X and Obsm[SpatialKey].
type role struct {
	kind columnRole
	slot int
}

func assignRoles(p DataParameters, header []string) ([]role, []string, error) {
	roles := make([]role, len(header))
	position := make(map[string]int, len(header))
	for i, column := range header {
		position[column] = i
	}
	mark := func(column string, kind columnRole, slot int) error {
		i, ok := position[column]
		if !ok {
			return fmt.Errorf("column %s not found in data header", column)
		}
		if roles[i].kind != roleOther {
			return fmt.Errorf("column %s used twice", column)
		}
		roles[i] = role{kind: kind, slot: slot}
		return nil
	}

	if p.IndexColumn != "" {
		if err := mark(p.IndexColumn, roleIndex, 0); err != nil {
			return nil, nil, err
		}
	}
	for column := range p.CategoricalColumns {
		if err := mark(column, roleCategorical, 0); err != nil {
			return nil, nil, err
		}
	}
	for slot, column := range p.SpatialColumns {
		if err := mark(column, roleSpatial, slot); err != nil {
			return nil, nil, err
		}
	}

	genes := p.GeneColumns
	if len(genes) == 0 {
		for i, column := range header {
			if roles[i].kind == roleOther {
				genes = append(genes, column)
			}
		}
	}
	for slot, column := range genes {
		if err := mark(column, roleGene, slot); err != nil {
			return nil, nil, err
		}
	}
	return roles, genes, nil
}

func parseRow(header []string, roles []role, record []string, rowGenes, rowCoordinates []float64) error {
	for i, column := range header {
		r := roles[i]
		if r.kind != roleGene && r.kind != roleSpatial {
			continue
		}
		value, err := strconv.ParseFloat(record[i], 64)
		if err != nil {
			return fmt.Errorf("error parsing %s: %w", column, err)
		}
		if r.kind == roleGene {
			rowGenes[r.slot] = value
		} else {
			rowCoordinates[r.slot] = value
		}
	}
	return nil
}

func SaveModel(model *model.Model, writer io.Writer) error {
	encoder := gob.NewEncoder(writer)
	err := encoder.Encode(model)
	if err != nil {
		return fmt.Errorf("error encoding model: %w", err)
	}
	return nil
}

func LoadModel(input io.Reader) (*model.Model, error) {
	decoder := gob.NewDecoder(input)
	model := model.Model{}
	err := decoder.Decode(&model)
	if err != nil {
		return nil, fmt.Errorf("error decoding model: %w", err)
	}
	return &model, nil
}
