package transforms

import (
	"errors"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"ncem/pkg/anndata"
)

var ErrNoCategories = errors.New("no categories observed")

// Mapping lists the category labels of one encoded key; position i is the label
// of column i of the key's indicator block.
type Mapping struct {
	Key    string
	Labels []string
}

// Mappings holds one Mapping per encoded key, in encoding order.
type Mappings []Mapping

func (m Mappings) Labels(key string) ([]string, bool) {
	for _, mapping := range m {
		if mapping.Key == key {
			return mapping.Labels, true
		}
	}
	return nil, false
}

// Width is the total number of indicator columns.
func (m Mappings) Width() int {
	width := 0
	for _, mapping := range m {
		width += len(mapping.Labels)
	}
	return width
}

// MappingsKey is the unstructured store key the mappings of keyAdded are saved under.
func MappingsKey(keyAdded string) string {
	return keyAdded + "_mappings"
}

// OneHotEncode encodes metadata columns of an axis into indicator columns, one
// block per key in key order, and stores them in the axis matrix slot KeyAdded.
//
// Categories are discovered on every call, so encoding the same key on two
// different subsets may give blocks of different widths.
type OneHotEncode struct {
	Keys     []string
	Axis     anndata.Axis
	KeyAdded string
}

func (o *OneHotEncode) Apply(a *anndata.AnnData) (*anndata.AnnData, error) {
	m, mappings, err := o.Encode(a)
	if err != nil {
		return nil, err
	}
	if err := a.SetAxisMatrix(o.Axis, o.KeyAdded, m); err != nil {
		return nil, err
	}
	a.Uns[MappingsKey(o.KeyAdded)] = mappings
	return a, nil
}

// Encode builds the indicator matrix and its mappings without touching the dataset.
// A key missing from the axis returns the frame lookup error as is. A key without
// any observed value gets an empty block, so the matrix may have no columns.
func (o *OneHotEncode) Encode(a *anndata.AnnData) (*anndata.Matrix, Mappings, error) {
	frame := a.Frame(o.Axis)
	n := frame.Len()

	mappings := make(Mappings, 0, len(o.Keys))
	codes := make([][]int, 0, len(o.Keys))
	for _, key := range o.Keys {
		column, err := frame.Column(key)
		if err != nil {
			return nil, nil, err
		}
		labels, rowCodes := observedCategories(column)
		mappings = append(mappings, Mapping{Key: key, Labels: labels})
		codes = append(codes, rowCodes)
	}

	width := mappings.Width()
	columns := make([]string, 0, width)
	for _, mapping := range mappings {
		columns = append(columns, mapping.Labels...)
	}
	if n == 0 || width == 0 {
		return &anndata.Matrix{Columns: columns, Rows: n}, mappings, nil
	}

	data := mat.NewDense(n, width, nil)
	offset := 0
	for k, mapping := range mappings {
		for i, code := range codes[k] {
			if code >= 0 {
				data.Set(i, offset+code, 1)
			}
		}
		offset += len(mapping.Labels)
	}
	return &anndata.Matrix{Dense: data, Columns: columns, Rows: n}, mappings, nil
}

// observedCategories returns the labels present in c and the per-row position of
// each row's label in them, -1 for missing values. Categorical columns keep their
// category order, numeric columns are sorted by value and strings lexically.
func observedCategories(c *anndata.Column) ([]string, []int) {
	n := c.Len()
	if c.Kind == anndata.Categorical {
		used := make([]bool, len(c.Categories))
		for _, code := range c.Codes {
			if code >= 0 {
				used[code] = true
			}
		}
		remap := make([]int, len(c.Categories))
		var labels []string
		for i, u := range used {
			remap[i] = -1
			if u {
				remap[i] = len(labels)
				labels = append(labels, c.Categories[i])
			}
		}
		codes := make([]int, n)
		for i, code := range c.Codes {
			codes[i] = -1
			if code >= 0 {
				codes[i] = remap[code]
			}
		}
		return labels, codes
	}

	seen := map[string]struct{}{}
	for i := 0; i < n; i++ {
		if label, ok := c.Label(i); ok {
			seen[label] = struct{}{}
		}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	if c.Kind == anndata.Numeric {
		sort.Slice(labels, func(i, j int) bool {
			a, _ := strconv.ParseFloat(labels[i], 64)
			b, _ := strconv.ParseFloat(labels[j], 64)
			return a < b
		})
	} else {
		sort.Strings(labels)
	}
	return labels, codesFor(c, labels)
}

// codesFor returns the position of every row's label in labels, -1 when the row is
// missing or its label is not listed.
func codesFor(c *anndata.Column, labels []string) []int {
	index := make(map[string]int, len(labels))
	for i, label := range labels {
		index[label] = i
	}
	codes := make([]int, c.Len())
	for i := range codes {
		codes[i] = -1
		if label, ok := c.Label(i); ok {
			if code, ok := index[label]; ok {
				codes[i] = code
			}
		}
	}
	return codes
}
