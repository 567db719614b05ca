package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Epsilon guards slope and determinant computations against division by
// (near) zero.
const Epsilon = 1e-12

// Polygon is a closed polygon defined by its vertices in order. The closing
// edge from the last vertex back to the first is implicit.
type Polygon struct {
	Vertices []Point
}

// NewPolygon creates a polygon from a list of vertices. A repeated closing
// vertex is dropped.
func NewPolygon(pts ...Point) Polygon {
	return Polygon{Vertices: Open(pts)}
}

// Open returns pts without a trailing vertex equal to the first one.
func Open(pts []Point) []Point {
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		return pts[:len(pts)-1]
	}
	return pts
}

// Len returns the number of vertices.
func (p Polygon) Len() int {
	return len(p.Vertices)
}

// IsEmpty returns true if the polygon has fewer than 3 distinct vertices.
func (p Polygon) IsEmpty() bool {
	if len(p.Vertices) < 3 {
		return true
	}
	distinct := make(map[Point]struct{}, len(p.Vertices))
	for _, v := range p.Vertices {
		distinct[v] = struct{}{}
		if len(distinct) >= 3 {
			return false
		}
	}
	return true
}

// Edge returns the i-th edge as (start, end). Wraps around.
func (p Polygon) Edge(i int) (Point, Point) {
	n := len(p.Vertices)
	return p.Vertices[i%n], p.Vertices[(i+1)%n]
}

// SignedArea returns the signed area using the shoelace formula.
// Positive for counterclockwise winding, negative for clockwise.
func (p Polygon) SignedArea() float64 {
	n := len(p.Vertices)
	if n < 3 {
		return 0
	}
	area := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += p.Vertices[i].X * p.Vertices[j].Y
		area -= p.Vertices[j].X * p.Vertices[i].Y
	}
	return area / 2
}

// Area returns the unsigned planar area of the polygon.
func (p Polygon) Area() float64 {
	return math.Abs(p.SignedArea())
}

// GeodesicArea returns the area in square meters, treating X as longitude
// and Y as latitude.
func (p Polygon) GeodesicArea() float64 {
	if len(p.Vertices) < 3 {
		return 0
	}
	return math.Abs(orbgeo.Area(p.Ring()))
}

// Centroid returns the area-weighted centroid of the polygon. Degenerate
// polygons fall back to the vertex average.
func (p Polygon) Centroid() Point {
	n := len(p.Vertices)
	if n == 0 {
		return Point{}
	}
	if n >= 3 && p.Area() > Epsilon {
		c, _ := planar.CentroidArea(p.Ring())
		return Point{c[0], c[1]}
	}
	sum := Point{}
	for _, v := range p.Vertices {
		sum = sum.Add(v)
	}
	return sum.Scale(1.0 / float64(n))
}

// Ring returns the polygon as a closed orb.Ring.
func (p Polygon) Ring() orb.Ring {
	ring := make(orb.Ring, 0, len(p.Vertices)+1)
	for _, v := range p.Vertices {
		ring = append(ring, orb.Point{v.X, v.Y})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return ring
}

// FromRing converts an orb.Ring into a Polygon, dropping the closing vertex.
func FromRing(r orb.Ring) Polygon {
	pts := make([]Point, len(r))
	for i, v := range r {
		pts[i] = Point{v[0], v[1]}
	}
	return NewPolygon(pts...)
}

// Contains reports whether (x, y) lies inside the polygon using ray-casting
// parity. Edges with near-zero horizontal extent are guarded by Epsilon.
func (p Polygon) Contains(pt Point) bool {
	n := len(p.Vertices)
	if n < 3 {
		return false
	}
	count := 0
	for i := 0; i < n; i++ {
		a, b := p.Edge(i)
		if (pt.Y > a.Y && pt.Y < b.Y) || (pt.Y > b.Y && pt.Y < a.Y) {
			dx := b.X - a.X
			if math.Abs(dx) < Epsilon {
				dx = math.Copysign(Epsilon, dx)
			}
			m := (b.Y - a.Y) / dx
			rayX := a.X + (pt.Y-a.Y)/m
			if rayX > pt.X {
				count++
			}
		}
	}
	return count%2 == 1
}

// Crosses reports whether any edge of p intersects any edge of q.
func (p Polygon) Crosses(q Polygon) bool {
	for i := 0; i < p.Len(); i++ {
		a1, a2 := p.Edge(i)
		for j := 0; j < q.Len(); j++ {
			b1, b2 := q.Edge(j)
			if segmentsCross(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

// Inside reports whether p lies inside q: no edges cross and at least one
// vertex of p is contained in q.
func (p Polygon) Inside(q Polygon) bool {
	if p.Crosses(q) {
		return false
	}
	for _, v := range p.Vertices {
		if q.Contains(v) {
			return true
		}
	}
	return false
}

// SelfIntersects reports whether any two non-adjacent edges cross.
func (p Polygon) SelfIntersects() bool {
	n := p.Len()
	for i := 0; i < n; i++ {
		a1, a2 := p.Edge(i)
		for j := i + 2; j < n; j++ {
			if i == 0 && j == n-1 {
				continue
			}
			b1, b2 := p.Edge(j)
			if segmentsCross(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}
