package transforms

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"ncem/pkg/anndata"
	"ncem/pkg/graph"
)

// gridData lays out 9 cells on a 3x3 unit grid with two annotations and two genes.
func gridData(t *testing.T) *anndata.AnnData {
	names := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8"}
	x := mat.NewDense(9, 2, nil)
	coordinates := mat.NewDense(9, 2, nil)
	for i := 0; i < 9; i++ {
		x.Set(i, 0, float64(i+1))
		x.Set(i, 1, 1)
		coordinates.Set(i, 0, float64(i%3))
		coordinates.Set(i, 1, float64(i/3))
	}
	a := anndata.New(x, names, []string{"g0", "g1"})
	require.NoError(t, a.Obs.Set(anndata.NewStringColumn("cell_type",
		[]string{"T", "B", "T", "NK", "B", "T", "T", "B", "NK"})))
	require.NoError(t, a.Obs.Set(anndata.Categorize("region",
		[]string{"tumor", "tumor", "stroma", "tumor", "tumor", "tumor", "stroma", "stroma", "tumor"})))
	require.NoError(t, a.Obs.Set(anndata.NewNumericColumn("batch",
		[]float64{2, 1, 2, 1, 2, 10, 1, 2, 1})))
	require.NoError(t, a.SetAxisMatrix(anndata.Obs, "spatial", &anndata.Matrix{Dense: coordinates, Columns: []string{"x", "y"}}))
	return a
}

type OneHotSuite struct {
	suite.Suite
	data *anndata.AnnData
}

func (s *OneHotSuite) SetupTest() {
	s.data = gridData(s.T())
}

func (s *OneHotSuite) TestBlocksAreOneHot() {
	require := require.New(s.T())
	encoder := &OneHotEncode{Keys: []string{"cell_type", "region"}, Axis: anndata.Obs, KeyAdded: "labels"}
	out, err := encoder.Apply(s.data)
	require.NoError(err)
	require.Same(s.data, out, "the dataset is mutated in place and returned")

	m := out.Obsm["labels"]
	require.NotNil(m)
	mappings, ok := out.Uns[MappingsKey("labels")].(Mappings)
	require.True(ok)

	cellTypes, ok := mappings.Labels("cell_type")
	require.True(ok)
	require.Equal([]string{"B", "NK", "T"}, cellTypes)
	regions, ok := mappings.Labels("region")
	require.True(ok)
	require.Equal([]string{"stroma", "tumor"}, regions)

	// cell_type block comes before region block
	require.Equal("cell_type", mappings[0].Key)
	require.Equal([]string{"B", "NK", "T", "stroma", "tumor"}, m.Columns)

	r, c := m.Dims()
	require.Equal(9, r)
	require.Equal(5, c)

	cellType, _ := out.Obs.Column("cell_type")
	region, _ := out.Obs.Column("region")
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		require.Equal(1.0, floats.Sum(row[:3]))
		require.Equal(1.0, floats.Sum(row[3:]))

		hot := floats.MaxIdx(row[:3])
		label, _ := cellType.Label(i)
		require.Equal(label, cellTypes[hot])

		hot = floats.MaxIdx(row[3:])
		label, _ = region.Label(i)
		require.Equal(label, regions[hot])
	}
}

func (s *OneHotSuite) TestNumericColumnsSortByValue() {
	require := require.New(s.T())
	_, mappings, err := (&OneHotEncode{Keys: []string{"batch"}, Axis: anndata.Obs, KeyAdded: "b"}).Encode(s.data)
	require.NoError(err)
	require.Equal([]string{"1", "2", "10"}, mappings[0].Labels)
}

func (s *OneHotSuite) TestMissingValuesProduceNoIndicator() {
	require := require.New(s.T())
	require.NoError(s.data.Obs.Set(anndata.NewStringColumn("annotation",
		[]string{"a", "", "b", "a", "", "b", "a", "a", "b"})))
	m, mappings, err := (&OneHotEncode{Keys: []string{"annotation"}, Axis: anndata.Obs, KeyAdded: "a"}).Encode(s.data)
	require.NoError(err)
	require.Equal([]string{"a", "b"}, mappings[0].Labels)
	require.Equal([]float64{0, 0}, m.RawRowView(1))
	require.Equal([]float64{1, 0}, m.RawRowView(0))
}

func (s *OneHotSuite) TestMissingKeyReturnsLookupError() {
	_, err := (&OneHotEncode{Keys: []string{"cell_type", "niche"}, Axis: anndata.Obs, KeyAdded: "x"}).Apply(s.data)
	s.Require().True(errors.Is(err, anndata.ErrKeyNotFound))
	_, ok := s.data.Obsm["x"]
	s.Require().False(ok)
}

func (s *OneHotSuite) TestWidthFollowsObservedVocabulary() {
	require := require.New(s.T())
	encoder := &OneHotEncode{Keys: []string{"cell_type"}, Axis: anndata.Obs, KeyAdded: "ct"}

	tumor, err := (&Subset{Key: "region", Values: []string{"tumor"}, Axis: anndata.Obs}).Apply(s.data)
	require.NoError(err)
	stroma, err := (&Subset{Key: "region", Values: []string{"stroma"}, Axis: anndata.Obs}).Apply(s.data)
	require.NoError(err)

	tm, _, err := encoder.Encode(tumor)
	require.NoError(err)
	sm, _, err := encoder.Encode(stroma)
	require.NoError(err)

	_, tumorWidth := tm.Dims()
	_, stromaWidth := sm.Dims()
	require.Equal(3, tumorWidth)
	require.Equal(2, stromaWidth)
}

func (s *OneHotSuite) TestKeyWithoutValuesGivesEmptyBlock() {
	require := require.New(s.T())
	require.NoError(s.data.Obs.Set(anndata.NewStringColumn("empty", make([]string, 9))))

	out, err := (&OneHotEncode{Keys: []string{"empty"}, Axis: anndata.Obs, KeyAdded: "e"}).Apply(s.data)
	require.NoError(err)
	rows, width := out.Obsm["e"].Dims()
	require.Equal(9, rows)
	require.Equal(0, width)
	mappings := out.Uns[MappingsKey("e")].(Mappings)
	require.Len(mappings, 1)
	require.Empty(mappings[0].Labels)

	// the empty block takes no columns next to an observed key
	m, mappings, err := (&OneHotEncode{Keys: []string{"empty", "region"}, Axis: anndata.Obs, KeyAdded: "er"}).Encode(s.data)
	require.NoError(err)
	require.Equal([]string{"stroma", "tumor"}, m.Columns)
	require.Equal(2, mappings.Width())
	require.Equal([]float64{0, 1}, m.RawRowView(0))

	// the design matrix still needs a label vocabulary
	_, err = (&AddAdjMatrix{SpatialKey: "spatial", KeyAdded: "adj", Radius: 1.01}).Apply(s.data)
	require.NoError(err)
	_, err = (&AddDesignMatrix{LabelKey: "empty", AdjKey: "adj", KeyAdded: "d"}).Build(s.data)
	require.True(errors.Is(err, ErrNoCategories))
}

func (s *OneHotSuite) TestSubsetWithoutMatches() {
	require := require.New(s.T())
	none, err := (&Subset{Key: "region", Values: []string{"bone"}, Axis: anndata.Obs}).Apply(s.data)
	require.NoError(err)
	require.Equal(0, none.NumObs())
	rows, cols := none.Obsm["spatial"].Dims()
	require.Equal(0, rows)
	require.Equal(2, cols)

	out, err := (&OneHotEncode{Keys: []string{"cell_type"}, Axis: anndata.Obs, KeyAdded: "ct"}).Apply(none)
	require.NoError(err)
	rows, cols = out.Obsm["ct"].Dims()
	require.Equal(0, rows)
	require.Equal(0, cols)
	require.Equal(9, s.data.NumObs())
}

func (s *OneHotSuite) TestVarAxis() {
	require := require.New(s.T())
	require.NoError(s.data.Var.Set(anndata.NewStringColumn("kind", []string{"ligand", "receptor"})))
	out, err := (&OneHotEncode{Keys: []string{"kind"}, Axis: anndata.Var, KeyAdded: "kind"}).Apply(s.data)
	require.NoError(err)
	require.Equal([]float64{0, 1}, out.Varm["kind"].RawRowView(1))
}

func TestOneHotSuite(t *testing.T) {
	suite.Run(t, new(OneHotSuite))
}

func TestCategorize(t *testing.T) {
	a := gridData(t)
	_, err := (&Categorize{Keys: []string{"cell_type", "region"}, Axis: anndata.Obs}).Apply(a)
	require.NoError(t, err)
	c, err := a.Obs.Column("cell_type")
	require.NoError(t, err)
	require.Equal(t, anndata.Categorical, c.Kind)
	require.Equal(t, []string{"B", "NK", "T"}, c.Categories)

	_, err = (&Categorize{Keys: []string{"batch"}, Axis: anndata.Obs}).Apply(a)
	require.True(t, errors.Is(err, ErrNotCategorical))
}

func TestAddAdjMatrix_KNN(t *testing.T) {
	a := gridData(t)
	_, err := (&AddAdjMatrix{SpatialKey: "spatial", KeyAdded: "adj", NumNeighbors: 2}).Apply(a)
	require.NoError(t, err)

	adj := a.Obsp["adj"]
	for i := 0; i < 9; i++ {
		require.Equal(t, 0.0, adj.At(i, i), "no self loops")
		neighbours, _ := adj.Row(i)
		require.GreaterOrEqual(t, len(neighbours), 2)
		for _, j := range neighbours {
			require.Equal(t, 1.0, adj.At(j, i), "adjacency is symmetric")
		}
	}
	// the corner cell's two nearest neighbours are its grid neighbours
	require.Equal(t, 1.0, adj.At(0, 1))
	require.Equal(t, 1.0, adj.At(0, 3))
}

func TestAddAdjMatrix_Radius(t *testing.T) {
	a := gridData(t)
	_, err := (&AddAdjMatrix{SpatialKey: "spatial", KeyAdded: "adj", Radius: 1.01}).Apply(a)
	require.NoError(t, err)
	adj := a.Obsp["adj"]

	// a 3x3 grid has 12 unit-length edges, stored in both directions
	require.Equal(t, 24, adj.NNZ())
	centre, _ := adj.Row(4)
	require.Equal(t, []int{1, 3, 5, 7}, centre)
}

func TestAddAdjMatrix_Errors(t *testing.T) {
	a := gridData(t)
	_, err := (&AddAdjMatrix{SpatialKey: "coords", KeyAdded: "adj", NumNeighbors: 2}).Apply(a)
	require.True(t, errors.Is(err, anndata.ErrKeyNotFound))
	_, err = (&AddAdjMatrix{SpatialKey: "spatial", KeyAdded: "adj"}).Apply(a)
	require.True(t, errors.Is(err, ErrInvalidNeighborhood))
}

func TestAddEdgeIndex(t *testing.T) {
	a := gridData(t)
	_, err := (&AddEdgeIndex{SpatialKey: "spatial", AdjKey: "adj", EdgeIndexKey: "edge_index", Radius: 1.01}).Apply(a)
	require.NoError(t, err)

	edges, err := EdgeIndexFrom(a, "edge_index")
	require.NoError(t, err)
	require.Equal(t, a.Obsp["adj"].NNZ(), edges.Len())
	for k := range edges[0] {
		require.Equal(t, 1.0, a.Obsp["adj"].At(edges[0][k], edges[1][k]))
	}

	_, err = EdgeIndexFrom(a, "missing")
	require.True(t, errors.Is(err, anndata.ErrKeyNotFound))
}

func TestAddDesignMatrix(t *testing.T) {
	a := gridData(t)
	_, err := Compose{
		&Categorize{Keys: []string{"cell_type"}, Axis: anndata.Obs},
		&AddAdjMatrix{SpatialKey: "spatial", KeyAdded: "adj", Radius: 1.01},
		&AddDesignMatrix{LabelKey: "cell_type", AdjKey: "adj", KeyAdded: "design"},
	}.Apply(a)
	require.NoError(t, err)

	design := a.Obsm["design"]
	_, width := design.Dims()
	require.Equal(t, 3+3+9, width)
	require.Equal(t, "neighbor:B", design.Columns[3])
	require.Equal(t, "B|neighbor:NK", design.Columns[7])

	// cell 0 is a T cell next to cell 1 (B) and cell 3 (NK)
	row := design.RawRowView(0)
	require.Equal(t, []float64{0, 0, 1}, row[:3])
	require.Equal(t, []float64{1, 1, 0}, row[3:6])
	require.Equal(t, []float64{1, 1, 0}, row[6+2*3:6+3*3])
	require.Equal(t, 0.0, floats.Sum(row[6:6+2*3]))
}

func TestAddDesignMatrix_FixedCategories(t *testing.T) {
	a := gridData(t)
	_, err := (&AddAdjMatrix{SpatialKey: "spatial", KeyAdded: "adj", Radius: 1.01}).Apply(a)
	require.NoError(t, err)
	m, err := (&AddDesignMatrix{LabelKey: "cell_type", AdjKey: "adj", KeyAdded: "d", Categories: []string{"T", "Treg"}}).Build(a)
	require.NoError(t, err)
	_, width := m.Dims()
	require.Equal(t, 2+2+4, width)
	// cell 1 is a B cell, unknown to the vocabulary
	require.Equal(t, []float64{0, 0}, m.RawRowView(1)[:2])
}

func TestAddSizeFactors(t *testing.T) {
	a := gridData(t)
	_, err := (&AddSizeFactors{}).Apply(a)
	require.NoError(t, err)
	c, err := a.Obs.Column(SizeFactorKey)
	require.NoError(t, err)
	require.InDelta(t, 1.0, floats.Sum(c.Values)/9, 1e-12)
	// totals are i+2, mean 6
	require.InDelta(t, 2.0/6.0, c.Values[0], 1e-12)
}

func TestCompose_StopsAtFirstError(t *testing.T) {
	a := gridData(t)
	_, err := Compose{
		&Categorize{Keys: []string{"cell_type"}, Axis: anndata.Obs},
		&AddEdgeIndexFromAdj{AdjKey: "adj", EdgeIndexKey: "edges"},
		&OneHotEncode{Keys: []string{"cell_type"}, Axis: anndata.Obs, KeyAdded: "never"},
	}.Apply(a)
	require.True(t, errors.Is(err, anndata.ErrKeyNotFound))
	_, ok := a.Obsm["never"]
	require.False(t, ok)
}

func TestEdgeIndexFeedsNeighborhood(t *testing.T) {
	a := gridData(t)
	_, err := (&AddAdjMatrix{SpatialKey: "spatial", KeyAdded: "adj", Radius: 1.01}).Apply(a)
	require.NoError(t, err)
	edges := EdgeIndex(a.Obsp["adj"])

	full := &graph.Data{X: a.X, EdgeIndex: edges}
	batch, err := graph.Neighborhood(full, edges.Incoming(9), []int{4})
	require.NoError(t, err)
	require.Equal(t, 5, batch.NumNodes())
}
