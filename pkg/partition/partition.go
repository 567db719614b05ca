// Package partition recursively splits road-bounded parcels along the
// bisector of their minimum bounding rectangle and places a footprint in
// every terminal sub-parcel.
package partition

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ChicagoDave/parcelgen/pkg/footprint"
	"github.com/ChicagoDave/parcelgen/pkg/geo"
	"github.com/ChicagoDave/parcelgen/pkg/logging"
	"github.com/ChicagoDave/parcelgen/pkg/osm"
)

// ErrEmptyPolygon is returned when a cycle has fewer than 3 distinct vertices.
var ErrEmptyPolygon = errors.New("polygon has fewer than 3 distinct vertices")

// Outcome classifies a single split attempt.
type Outcome int

const (
	// Split means the bisector crossed exactly two edges.
	Split Outcome = iota
	// TooFewCrossings means the bisector crossed 0 or 1 edges.
	TooFewCrossings
	// TooManyCrossings means the polygon is too irregular for the bisector.
	TooManyCrossings
	// Degenerate means the sub-cycle collapsed below 3 distinct vertices.
	Degenerate
)

func (o Outcome) String() string {
	switch o {
	case Split:
		return "split"
	case TooFewCrossings:
		return "too_few_crossings"
	case TooManyCrossings:
		return "too_many_crossings"
	case Degenerate:
		return "degenerate"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Config controls how split edges are recorded.
type Config struct {
	// SplitRoadTag, when set, adds a way tagged highway=<value> along every
	// splitting edge so later splits stay connected to it.
	SplitRoadTag string `yaml:"split_road_tag" json:"split_road_tag"`
}

// DefaultConfig records split edges as residential roads.
func DefaultConfig() Config {
	return Config{SplitRoadTag: "residential"}
}

// Stats counts what a partition run did.
type Stats struct {
	Splits     int `json:"splits"`
	TooFew     int `json:"too_few"`
	TooMany    int `json:"too_many"`
	Degenerate int `json:"degenerate"`
	Footprints int `json:"footprints"`
	Empty      int `json:"empty_terminals"`
}

func (s *Stats) record(o Outcome) {
	switch o {
	case Split:
		s.Splits++
	case TooFewCrossings:
		s.TooFew++
	case TooManyCrossings:
		s.TooMany++
	case Degenerate:
		s.Degenerate++
	}
}

// Observer receives every split outcome; metrics hook in here.
type Observer func(Outcome)

// Context threads the map being edited, the id allocator and the footprint
// generator through the recursion.
type Context struct {
	Map        *osm.Map
	IDs        *osm.IDAllocator
	Footprints *footprint.Generator
	Config     Config
	Logger     *zap.Logger
	Observe    Observer
	Stats      Stats
}

// NewContext returns a context editing m.
func NewContext(m *osm.Map, ids *osm.IDAllocator, fp *footprint.Generator, cfg Config, logger *zap.Logger) *Context {
	logger = logging.OrNop(logger)
	return &Context{
		Map:        m,
		IDs:        ids,
		Footprints: fp,
		Config:     cfg,
		Logger:     logger,
	}
}

// Partition subdivides the parcel bounded by cycle using a budget of
// partitionsLeft. Geometric failures inside the recursion never return an
// error; they end the affected branch and are counted in Stats. Only a
// malformed cycle is reported.
func (c *Context) Partition(cycle []int64, partitionsLeft float64) error {
	cycle = osm.NormalizeCycle(cycle)
	poly, err := c.Map.Polygon(cycle)
	if err != nil {
		return fmt.Errorf("resolving cycle: %w", err)
	}
	if poly.IsEmpty() {
		return ErrEmptyPolygon
	}
	if partitionsLeft <= 0 {
		return nil
	}
	c.partition(cycle, partitionsLeft)
	return nil
}

// Halves is the result of one successful split.
type Halves struct {
	First, Second []int64
	A, B          int64
}

// Split carves cycle in two along its bisector. On success the two new
// boundary nodes are added to the map and spliced into every boundary way
// that ran between the crossed vertices.
func (c *Context) Split(cycle []int64) (Halves, Outcome) {
	poly, err := c.Map.Polygon(cycle)
	if err != nil || poly.IsEmpty() {
		return Halves{}, Degenerate
	}

	crossings := geo.SplittingBisector(poly).Crossings(poly)
	switch {
	case len(crossings) > 2:
		c.Logger.Debug("bisector crossed more than two edges",
			zap.Int("crossings", len(crossings)), zap.Int64s("cycle", cycle))
		return Halves{}, TooManyCrossings
	case len(crossings) < 2:
		c.Logger.Warn("partitioning with bounding rectangle failed",
			zap.Int("crossings", len(crossings)), zap.Int64s("cycle", cycle))
		return Halves{}, TooFewCrossings
	}

	n := len(cycle)
	first, second := crossings[0], crossings[1]

	n1 := c.Map.NewNode(c.IDs, first.Point)
	c.Map.InsertBetween(cycle[first.Edge], cycle[(first.Edge+1)%n], n1.ID)
	n2 := c.Map.NewNode(c.IDs, second.Point)
	c.Map.InsertBetween(cycle[second.Edge], cycle[(second.Edge+1)%n], n2.ID)

	if c.Config.SplitRoadTag != "" {
		c.Map.NewWay(c.IDs, []int64{n1.ID, n2.ID}, osm.Tags{"highway": c.Config.SplitRoadTag})
	}

	start := first.Edge + 1
	stop := (second.Edge + 1) % n

	h := Halves{A: n1.ID, B: n2.ID}
	h.First = append(h.First, n1.ID)
	for i := start; i != stop; i = (i + 1) % n {
		h.First = append(h.First, cycle[i])
	}
	h.First = append(h.First, n2.ID)

	h.Second = append(h.Second, n2.ID)
	for i := stop; i != start; i = (i + 1) % n {
		h.Second = append(h.Second, cycle[i])
	}
	h.Second = append(h.Second, n1.ID)

	return h, Split
}

// partition runs one recursion frame. The first half gets half the budget;
// the second half gets that halved budget minus one.
func (c *Context) partition(cycle []int64, partitionsLeft float64) {
	halves, outcome := c.Split(cycle)
	c.Stats.record(outcome)
	if c.Observe != nil {
		c.Observe(outcome)
	}
	if outcome != Split {
		return
	}

	partitionsLeft /= 2
	if partitionsLeft >= 1 {
		c.partition(halves.First, partitionsLeft)
	} else {
		c.place(halves.First)
	}

	// TODO: the second branch inherits the already halved budget; confirm
	// whether a symmetric split (budget-1 from the parent) was intended.
	partitionsLeft--
	if partitionsLeft > 0 {
		c.partition(halves.Second, partitionsLeft)
	} else {
		c.place(halves.Second)
	}
}

// place puts a footprint in a terminal sub-parcel.
func (c *Context) place(cycle []int64) {
	pts, err := c.Map.Points(cycle)
	if err != nil {
		c.Stats.Empty++
		return
	}
	if _, ok := c.Footprints.Place(c.Map, c.IDs, pts); ok {
		c.Stats.Footprints++
		return
	}
	c.Stats.Empty++
	c.Logger.Debug("no footprint for terminal parcel", zap.Int64s("cycle", cycle))
}
