package partition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChicagoDave/parcelgen/pkg/footprint"
	"github.com/ChicagoDave/parcelgen/pkg/geo"
	"github.com/ChicagoDave/parcelgen/pkg/osm"
)

// block builds a map holding a closed road way around the given corners and
// returns the open cycle of its node ids.
func block(corners ...geo.Point) (*osm.Map, []int64) {
	m := osm.NewMap()
	cycle := make([]int64, len(corners))
	for i, p := range corners {
		id := int64(i + 1)
		m.AddNode(&osm.Node{ID: id, Point: p})
		cycle[i] = id
	}
	ring := append(append([]int64{}, cycle...), cycle[0])
	m.AddWay(&osm.Way{ID: 100, NodeIDs: ring, Tags: osm.Tags{"highway": "primary"}})
	return m, cycle
}

func newContext(m *osm.Map) *Context {
	ids := osm.NewIDAllocator(0)
	ids.SeedFrom(m)
	return NewContext(m, ids, footprint.New(footprint.DefaultConfig()), DefaultConfig(), nil)
}

func squareBlock() (*osm.Map, []int64) {
	return block(geo.Pt(0, 0), geo.Pt(0, 10), geo.Pt(10, 10), geo.Pt(10, 0))
}

func area(t *testing.T, m *osm.Map, cycle []int64) float64 {
	t.Helper()
	p, err := m.Polygon(cycle)
	require.NoError(t, err)
	return p.Area()
}

func buildings(m *osm.Map) []*osm.Way {
	var out []*osm.Way
	for _, w := range m.Ways {
		if w.Tags.Has("building") {
			out = append(out, w)
		}
	}
	return out
}

func TestSplitSquareAlongTiedLongestEdge(t *testing.T) {
	m, cycle := squareBlock()
	c := newContext(m)

	h, outcome := c.Split(cycle)
	require.Equal(t, Split, outcome)

	assert.InDelta(t, 50, area(t, m, h.First), 1e-9)
	assert.InDelta(t, 50, area(t, m, h.Second), 1e-9)

	a := m.Nodes[h.A].Point
	b := m.Nodes[h.B].Point
	assert.InDelta(t, 5, a.X, 1e-9)
	assert.InDelta(t, 5, b.X, 1e-9)
	assert.ElementsMatch(t, []float64{0, 10}, []float64{a.Y, b.Y})
}

func TestSplitHalvesShareOnlyNewNodes(t *testing.T) {
	m, cycle := squareBlock()
	c := newContext(m)

	h, outcome := c.Split(cycle)
	require.Equal(t, Split, outcome)

	shared := map[int64]int{}
	for _, id := range h.First {
		shared[id]++
	}
	var common []int64
	for _, id := range h.Second {
		if shared[id] > 0 {
			common = append(common, id)
		}
	}
	assert.ElementsMatch(t, []int64{h.A, h.B}, common)
	assert.Len(t, h.First, 4)
	assert.Len(t, h.Second, 4)
}

func TestSplitSplicesRoadAndAddsSplitWay(t *testing.T) {
	m, cycle := squareBlock()
	c := newContext(m)

	h, outcome := c.Split(cycle)
	require.Equal(t, Split, outcome)

	road := m.Ways[100]
	assert.Contains(t, road.NodeIDs, h.A)
	assert.Contains(t, road.NodeIDs, h.B)
	assert.Len(t, road.NodeIDs, 7)

	var split *osm.Way
	for _, w := range m.Ways {
		if w.Tags.Has("highway", "residential") {
			split = w
		}
	}
	require.NotNil(t, split)
	assert.Equal(t, []int64{h.A, h.B}, split.NodeIDs)
}

func TestSplitWithoutRoadTag(t *testing.T) {
	m, cycle := squareBlock()
	c := newContext(m)
	c.Config.SplitRoadTag = ""

	_, outcome := c.Split(cycle)
	require.Equal(t, Split, outcome)
	assert.Len(t, m.Ways, 1)
}

func TestSplitAreasSumToParent(t *testing.T) {
	shapes := [][]geo.Point{
		{geo.Pt(0, 0), geo.Pt(40, 0), geo.Pt(40, 12), geo.Pt(0, 12)},
		{geo.Pt(0, 0), geo.Pt(30, 2), geo.Pt(28, 20), geo.Pt(3, 17)},
		{geo.Pt(0, 0), geo.Pt(20, 0), geo.Pt(25, 8), geo.Pt(10, 15), geo.Pt(-4, 7)},
	}
	for i, corners := range shapes {
		m, cycle := block(corners...)
		c := newContext(m)
		parent := area(t, m, cycle)

		h, outcome := c.Split(cycle)
		require.Equal(t, Split, outcome, "shape %d", i)
		sum := area(t, m, h.First) + area(t, m, h.Second)
		assert.Less(t, math.Abs(sum-parent)/parent, 1e-6, "shape %d", i)
	}
}

func TestSplitRejectsIrregularPolygon(t *testing.T) {
	// A C shape opening to the right: the bisector at x=15 crosses four edges.
	m, cycle := block(
		geo.Pt(0, 0), geo.Pt(30, 0), geo.Pt(30, 3), geo.Pt(5, 3),
		geo.Pt(5, 7), geo.Pt(30, 7), geo.Pt(30, 10), geo.Pt(0, 10),
	)
	c := newContext(m)
	nodes := len(m.Nodes)

	_, outcome := c.Split(cycle)
	assert.Equal(t, TooManyCrossings, outcome)
	assert.Len(t, m.Nodes, nodes)
}

func TestSplitDegenerateCycle(t *testing.T) {
	m, cycle := block(geo.Pt(0, 0), geo.Pt(5, 5), geo.Pt(0, 0))
	c := newContext(m)
	_, outcome := c.Split(cycle)
	assert.Equal(t, Degenerate, outcome)
}

func TestPartitionSquareWithBudgetTwo(t *testing.T) {
	m, cycle := squareBlock()
	c := newContext(m)

	require.NoError(t, c.Partition(cycle, 2))

	assert.Equal(t, 2, c.Stats.Splits)
	assert.Equal(t, 3, c.Stats.Footprints)
	fps := buildings(m)
	require.Len(t, fps, 3)
	for _, w := range fps {
		assert.True(t, w.Closed())
		pts, err := m.Points(w.NodeIDs)
		require.NoError(t, err)
		assert.LessOrEqual(t, geo.NewPolygon(pts...).Area(), 20.0)
	}
}

func TestPartitionTerminates(t *testing.T) {
	for _, budget := range []float64{1, 3, 8, 19} {
		m, cycle := block(geo.Pt(0, 0), geo.Pt(0, 100), geo.Pt(160, 100), geo.Pt(160, 0))
		c := newContext(m)
		require.NoError(t, c.Partition(cycle, budget))
		assert.Positive(t, c.Stats.Splits, "budget %v", budget)
		assert.Equal(t, c.Stats.Splits+1, c.Stats.Footprints+c.Stats.Empty, "budget %v", budget)
	}
}

func TestPartitionZeroBudgetDoesNothing(t *testing.T) {
	m, cycle := squareBlock()
	c := newContext(m)
	require.NoError(t, c.Partition(cycle, 0))
	assert.Len(t, m.Ways, 1)
	assert.Zero(t, c.Stats.Splits)
}

func TestPartitionPreconditions(t *testing.T) {
	m, _ := squareBlock()
	c := newContext(m)

	err := c.Partition([]int64{1, 2, 999}, 2)
	assert.ErrorIs(t, err, osm.ErrUnknownNode)

	err = c.Partition([]int64{1, 2}, 2)
	assert.ErrorIs(t, err, ErrEmptyPolygon)
}

func TestObserverSeesOutcomes(t *testing.T) {
	m, cycle := squareBlock()
	c := newContext(m)
	seen := map[Outcome]int{}
	c.Observe = func(o Outcome) { seen[o]++ }

	require.NoError(t, c.Partition(cycle, 2))
	assert.Equal(t, 2, seen[Split])
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "split", Split.String())
	assert.Equal(t, "too_many_crossings", TooManyCrossings.String())
}
