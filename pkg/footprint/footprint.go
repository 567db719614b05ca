// Package footprint erodes terminal parcels into building footprints.
package footprint

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"

	"github.com/ChicagoDave/parcelgen/pkg/geo"
	"github.com/ChicagoDave/parcelgen/pkg/osm"
)

// BuildingTags are the tags put on every generated footprint way.
var BuildingTags = osm.Tags{"building": "residential"}

// Config controls the erosion loop. Offsets are in scaled units.
type Config struct {
	Scale         float64 `yaml:"scale" json:"scale" validate:"gt=0"`
	InitialOffset float64 `yaml:"initial_offset" json:"initial_offset" validate:"gt=0"`
	Growth        float64 `yaml:"growth" json:"growth" validate:"gt=1"`
	TargetRatio   float64 `yaml:"target_ratio" json:"target_ratio" validate:"gt=0,lt=1"`
	MaxAttempts   int     `yaml:"max_attempts" json:"max_attempts" validate:"gte=1"`
	QuadSegs      int     `yaml:"quad_segs" json:"quad_segs" validate:"gte=1"`
	// MitreLimit bounds how far a mitred corner may extend, as a multiple of
	// the offset. Sharper corners are bevelled.
	MitreLimit float64 `yaml:"mitre_limit" json:"mitre_limit" validate:"gt=0"`
}

// DefaultConfig matches geographic input: coordinates are scaled by 2^32 and
// the first inward offset is 10000 scaled units.
func DefaultConfig() Config {
	return Config{
		Scale:         1 << 32,
		InitialOffset: 10000,
		Growth:        1.5,
		TargetRatio:   0.4,
		MaxAttempts:   64,
		QuadSegs:      8,
		MitreLimit:    2,
	}
}

// Generator erodes lots into footprints.
type Generator struct {
	cfg Config
}

// New returns a generator for cfg.
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg}
}

// Config returns the generator configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

// Erode shrinks lot inward with a growing offset until the eroded ring covers
// at most TargetRatio of the lot area. It returns false when the offset
// collapses the lot, when the lot is degenerate, or when MaxAttempts is
// exhausted.
func (g *Generator) Erode(lot []geo.Point) (geo.Polygon, bool) {
	poly := geo.NewPolygon(lot...)
	if poly.IsEmpty() {
		return geo.Polygon{}, false
	}
	lotArea := poly.Area()
	if lotArea < geo.Epsilon {
		return geo.Polygon{}, false
	}

	subject := g.toGEOS(poly)

	offset := g.cfg.InitialOffset
	for attempt := 0; attempt < g.cfg.MaxAttempts; attempt++ {
		eroded, ok := g.erodeOnce(subject, offset)
		if !ok {
			return geo.Polygon{}, false
		}
		if eroded.Area()/lotArea <= g.cfg.TargetRatio {
			return eroded, true
		}
		offset *= g.cfg.Growth
	}
	return geo.Polygon{}, false
}

// Place erodes lot and writes the footprint into m as new nodes and a closed
// way tagged as a residential building.
func (g *Generator) Place(m *osm.Map, ids *osm.IDAllocator, lot []geo.Point) (*osm.Way, bool) {
	ring, ok := g.Erode(lot)
	if !ok {
		return nil, false
	}
	nodeIDs := make([]int64, 0, ring.Len()+1)
	for _, p := range ring.Vertices {
		nodeIDs = append(nodeIDs, m.NewNode(ids, p).ID)
	}
	nodeIDs = append(nodeIDs, nodeIDs[0])
	tags := make(osm.Tags, len(BuildingTags))
	for k, v := range BuildingTags {
		tags[k] = v
	}
	return m.NewWay(ids, nodeIDs, tags), true
}

// toGEOS converts the polygon into the integer working space as a
// counter-clockwise GEOS polygon.
func (g *Generator) toGEOS(p geo.Polygon) *geos.Geom {
	ring := make([][]float64, 0, p.Len()+1)
	for _, v := range p.Vertices {
		ring = append(ring, []float64{
			math.Round(v.X * g.cfg.Scale),
			math.Round(v.Y * g.cfg.Scale),
		})
	}
	ring = append(ring, ring[0])
	if p.SignedArea() < 0 {
		for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
			ring[i], ring[j] = ring[j], ring[i]
		}
	}
	return geos.NewPolygon([][][]float64{ring})
}

// erodeOnce applies a single inward mitred offset and converts the exterior
// ring of the first resulting polygon back to map coordinates.
func (g *Generator) erodeOnce(subject *geos.Geom, offset float64) (geo.Polygon, bool) {
	buffered := subject.BufferWithStyle(-offset, g.cfg.QuadSegs,
		geos.BufCapStyleFlat, geos.BufJoinStyleMitre, g.cfg.MitreLimit)
	if buffered == nil || buffered.IsEmpty() {
		return geo.Polygon{}, false
	}
	if buffered.TypeID() == geos.TypeIDMultiPolygon {
		buffered = buffered.Geometry(0)
	}
	if buffered.TypeID() != geos.TypeIDPolygon {
		return geo.Polygon{}, false
	}

	coords := buffered.ExteriorRing().CoordSeq().ToCoords()
	if len(coords) < 4 {
		return geo.Polygon{}, false
	}
	ring := make(orb.Ring, len(coords))
	for i, c := range coords {
		ring[i] = orb.Point{c[0] / g.cfg.Scale, c[1] / g.cfg.Scale}
	}
	return geo.FromRing(ring), true
}
