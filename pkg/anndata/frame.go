package anndata

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrLengthMismatch = errors.New("column length does not match frame length")
)

type ColumnKind int

const (
	Numeric ColumnKind = iota
	String
	Categorical
)

func (k ColumnKind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case String:
		return "string"
	case Categorical:
		return "categorical"
	}
	return "unknown"
}

// Column is a single metadata column. Only the slice matching Kind is populated.
type Column struct {
	Name string
	Kind ColumnKind

	// Values holds numeric data, NaN marks a missing value
	Values []float64

	// Strings holds string data, the empty string marks a missing value
	Strings []string

	// Categories is the ordered vocabulary of a categorical column and Codes
	// indexes into it, -1 marks a missing value
	Categories []string
	Codes      []int
}

func NewNumericColumn(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Values: values}
}

func NewStringColumn(name string, values []string) *Column {
	return &Column{Name: name, Kind: String, Strings: values}
}

func NewCategoricalColumn(name string, categories []string, codes []int) *Column {
	return &Column{Name: name, Kind: Categorical, Categories: categories, Codes: codes}
}

// Categorize builds a categorical column from raw strings. Categories are sorted
// lexically and empty strings become missing values.
func Categorize(name string, values []string) *Column {
	seen := map[string]struct{}{}
	for _, v := range values {
		if v != "" {
			seen[v] = struct{}{}
		}
	}
	categories := make([]string, 0, len(seen))
	for v := range seen {
		categories = append(categories, v)
	}
	sort.Strings(categories)

	index := make(map[string]int, len(categories))
	for i, c := range categories {
		index[c] = i
	}
	codes := make([]int, len(values))
	for i, v := range values {
		code, ok := index[v]
		if !ok {
			code = -1
		}
		codes[i] = code
	}
	return NewCategoricalColumn(name, categories, codes)
}

func (c *Column) Len() int {
	switch c.Kind {
	case Numeric:
		return len(c.Values)
	case String:
		return len(c.Strings)
	default:
		return len(c.Codes)
	}
}

// Label returns the value at row i rendered as a string and false if it is missing.
func (c *Column) Label(i int) (string, bool) {
	switch c.Kind {
	case Numeric:
		v := c.Values[i]
		if math.IsNaN(v) {
			return "", false
		}
		return strconv.FormatFloat(v, 'g', -1, 64), true
	case String:
		return c.Strings[i], c.Strings[i] != ""
	default:
		code := c.Codes[i]
		if code < 0 {
			return "", false
		}
		return c.Categories[code], true
	}
}

func (c *Column) subset(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	switch c.Kind {
	case Numeric:
		out.Values = make([]float64, len(rows))
		for i, r := range rows {
			out.Values[i] = c.Values[r]
		}
	case String:
		out.Strings = make([]string, len(rows))
		for i, r := range rows {
			out.Strings[i] = c.Strings[r]
		}
	default:
		out.Categories = append([]string(nil), c.Categories...)
		out.Codes = make([]int, len(rows))
		for i, r := range rows {
			out.Codes[i] = c.Codes[r]
		}
	}
	return out
}

// Frame holds per-observation or per-feature metadata as ordered named columns.
type Frame struct {
	Index   []string
	columns map[string]*Column
	order   []string
}

func NewFrame(index []string) *Frame {
	return &Frame{
		Index:   index,
		columns: map[string]*Column{},
	}
}

func (f *Frame) Len() int {
	return len(f.Index)
}

// Keys returns the column names in insertion order.
func (f *Frame) Keys() []string {
	return append([]string(nil), f.order...)
}

func (f *Frame) Column(key string) (*Column, error) {
	c, ok := f.columns[key]
	if !ok {
		return nil, fmt.Errorf("column %q: %w", key, ErrKeyNotFound)
	}
	return c, nil
}

// Set adds or replaces a column.
func (f *Frame) Set(c *Column) error {
	if c.Len() != f.Len() {
		return fmt.Errorf("column %q has %d rows, frame has %d: %w", c.Name, c.Len(), f.Len(), ErrLengthMismatch)
	}
	if _, ok := f.columns[c.Name]; !ok {
		f.order = append(f.order, c.Name)
	}
	f.columns[c.Name] = c
	return nil
}

func (f *Frame) subset(rows []int) *Frame {
	index := make([]string, len(rows))
	for i, r := range rows {
		index[i] = f.Index[r]
	}
	out := NewFrame(index)
	for _, key := range f.order {
		out.columns[key] = f.columns[key].subset(rows)
	}
	out.order = append([]string(nil), f.order...)
	return out
}
