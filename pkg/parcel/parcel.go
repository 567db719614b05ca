// Package parcel turns road cycles into parcel records: geometry, existing
// buildings and the neighbor graph the density search runs over.
package parcel

import (
	"fmt"
	"math"
	"sort"

	"github.com/ChicagoDave/parcelgen/pkg/density"
	"github.com/ChicagoDave/parcelgen/pkg/geo"
	"github.com/ChicagoDave/parcelgen/pkg/osm"
)

// Record is one road-bounded parcel.
type Record struct {
	Index     int       `json:"index"`
	NodeIDs   []int64   `json:"node_ids"`
	Centroid  geo.Point `json:"centroid"`
	Area      float64   `json:"area"`
	Buildings []int64   `json:"buildings"`
	Neighbors []int     `json:"neighbors"`
}

// Density returns existing buildings per unit area.
func (r Record) Density() float64 {
	if r.Area == 0 {
		return 0
	}
	return float64(len(r.Buildings)) / r.Area
}

// Options controls how parcels are measured and filtered.
type Options struct {
	// Geodesic treats coordinates as lon/lat and measures areas on the sphere.
	// Record areas are then in km².
	Geodesic bool `yaml:"geodesic" json:"geodesic"`
	// MinArea drops cycles smaller than this, in m² when Geodesic.
	MinArea float64 `yaml:"min_area" json:"min_area" validate:"gte=0"`
	// MinOBBRatio drops cycles whose bounding rectangle is thinner than this
	// short/long side ratio.
	MinOBBRatio float64 `yaml:"min_obb_ratio" json:"min_obb_ratio" validate:"gte=0,lte=1"`
	// Neighbors selects the neighbor graph: "mst" or "nearest".
	Neighbors string `yaml:"neighbors" json:"neighbors" validate:"oneof=mst nearest"`
	// K is the neighbor count for the nearest strategy.
	K int `yaml:"k" json:"k" validate:"min=1"`
}

// DefaultOptions returns geodesic measurement with the usual small-parcel
// thresholds and an MST neighbor graph.
func DefaultOptions() Options {
	return Options{
		Geodesic:    true,
		MinArea:     3000,
		MinOBBRatio: 0.25,
		Neighbors:   "mst",
		K:           3,
	}
}

func (o Options) area(p geo.Polygon) float64 {
	if o.Geodesic {
		return p.GeodesicArea()
	}
	return p.Area()
}

// FilterEmpty keeps the cycles that no road node outside the cycle falls
// strictly inside. roads holds the road nodes.
func FilterEmpty(roads *osm.Map, cycles [][]int64) ([][]int64, error) {
	var out [][]int64
	for _, c := range cycles {
		c = osm.NormalizeCycle(c)
		poly, err := roads.Polygon(c)
		if err != nil {
			return nil, err
		}
		on := make(map[int64]bool, len(c))
		for _, id := range c {
			on[id] = true
		}
		empty := true
		for id, n := range roads.Nodes {
			if !on[id] && poly.Contains(n.Point) {
				empty = false
				break
			}
		}
		if empty {
			out = append(out, c)
		}
	}
	return out, nil
}

// OBBSides returns the short and long side lengths of the cycle's minimum
// bounding rectangle.
func OBBSides(p geo.Polygon) (short, long float64) {
	r := geo.MinimumBoundingRectangle(p)
	a, b := r[0].Distance(r[1]), r[1].Distance(r[2])
	return math.Min(a, b), math.Max(a, b)
}

// FilterSmall drops cycles below MinArea or thinner than MinOBBRatio. The
// ratio is taken on raw coordinates.
func FilterSmall(m *osm.Map, cycles [][]int64, opts Options) ([][]int64, error) {
	var out [][]int64
	for _, c := range cycles {
		poly, err := m.Polygon(c)
		if err != nil {
			return nil, err
		}
		if poly.IsEmpty() {
			continue
		}
		short, long := OBBSides(poly)
		if long == 0 || short/long < opts.MinOBBRatio {
			continue
		}
		if opts.area(poly) < opts.MinArea {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// CountBuildings returns the ids of building ways lying inside cycle,
// sorted.
func CountBuildings(m *osm.Map, cycle []int64) ([]int64, error) {
	poly, err := m.Polygon(cycle)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for id, w := range m.Ways {
		if !w.Tags.Has("building") {
			continue
		}
		pts, err := m.Points(w.NodeIDs)
		if err != nil {
			return nil, fmt.Errorf("building %d: %w", id, err)
		}
		if geo.NewPolygon(pts...).Inside(poly) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Build measures every cycle and counts the buildings already inside it.
// Neighbors are left empty; see Link.
func Build(m *osm.Map, cycles [][]int64, opts Options) ([]Record, error) {
	out := make([]Record, 0, len(cycles))
	for i, c := range cycles {
		c = osm.NormalizeCycle(c)
		poly, err := m.Polygon(c)
		if err != nil {
			return nil, fmt.Errorf("cycle %d: %w", i, err)
		}
		if poly.IsEmpty() {
			return nil, fmt.Errorf("cycle %d: fewer than 3 distinct vertices", i)
		}
		b, err := CountBuildings(m, c)
		if err != nil {
			return nil, fmt.Errorf("cycle %d: %w", i, err)
		}
		area := poly.Area()
		if opts.Geodesic {
			area = poly.GeodesicArea() / 1e6
		}
		out = append(out, Record{
			Index:     i,
			NodeIDs:   c,
			Centroid:  poly.Centroid(),
			Area:      area,
			Buildings: b,
		})
	}
	return out, nil
}

// Centroids returns the record centroids in order.
func Centroids(records []Record) []geo.Point {
	out := make([]geo.Point, len(records))
	for i, r := range records {
		out[i] = r.Centroid
	}
	return out
}

// Link fills Neighbors on every record from the graph.
func Link(records []Record, graph map[int][]int) {
	for i := range records {
		records[i].Neighbors = graph[i]
	}
}

// Problem converts records into a fitness problem. Parcels without existing
// buildings are editable; the returned seed holds the existing counts.
func Problem(records []Record) (density.Problem, []int) {
	p := density.Problem{
		Areas:     make([]float64, len(records)),
		Neighbors: make(map[int][]int),
	}
	seed := make([]int, len(records))
	for i, r := range records {
		p.Areas[i] = r.Area
		seed[i] = len(r.Buildings)
		if seed[i] == 0 {
			p.Editable = append(p.Editable, i)
			p.Neighbors[i] = r.Neighbors
		}
	}
	return p.WithDefaults(), seed
}
