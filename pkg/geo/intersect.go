package geo

import "math"

// ExtendFactor is the fraction of a segment's length added beyond its end
// point by ExtendLine.
const ExtendFactor = 0.1

// ccw reports whether a, b, c make a strict counterclockwise turn. Collinear
// points count as clockwise, so a line passing exactly through a shared vertex
// crosses only one of the two edges meeting there.
func ccw(a, b, c Point) bool {
	return (c.Y-a.Y)*(b.X-a.X) > (b.Y-a.Y)*(c.X-a.X)
}

// segmentsCross reports whether segment p1→p2 crosses segment p3→p4.
func segmentsCross(p1, p2, p3, p4 Point) bool {
	return ccw(p1, p3, p4) != ccw(p2, p3, p4) && ccw(p1, p2, p3) != ccw(p1, p2, p4)
}

// SegmentIntersect returns the point where segment p1→p2 crosses segment
// p3→p4. The second result is false when the segments do not cross or are
// (near) parallel.
func SegmentIntersect(p1, p2, p3, p4 Point) (Point, bool) {
	if !segmentsCross(p1, p2, p3, p4) {
		return Point{}, false
	}
	return lineIntersection(p1, p2, p3, p4)
}

// lineIntersection returns the intersection point of lines (p1→p2) and (p3→p4).
func lineIntersection(p1, p2, p3, p4 Point) (Point, bool) {
	d := (p1.X-p2.X)*(p3.Y-p4.Y) - (p1.Y-p2.Y)*(p3.X-p4.X)
	if math.Abs(d) < Epsilon {
		return Point{}, false
	}
	t := ((p1.X-p3.X)*(p3.Y-p4.Y) - (p1.Y-p3.Y)*(p3.X-p4.X)) / d
	return Point{
		X: p1.X + t*(p2.X-p1.X),
		Y: p1.Y + t*(p2.Y-p1.Y),
	}, true
}

// ExtendLine returns a point beyond to on the line from → to, at
// ExtendFactor of the segment length past to.
func ExtendLine(from, to Point) Point {
	return to.Add(to.Sub(from).Scale(ExtendFactor))
}

// Bisector is a splitting segment crossing a polygon.
type Bisector struct {
	A, B Point
}

// Crossing is an intersection of a bisector with polygon edge Edge
// (from vertex Edge to vertex Edge+1).
type Crossing struct {
	Point Point
	Edge  int
}

// Crossings intersects the bisector with every edge of the polygon, in edge
// order.
func (b Bisector) Crossings(p Polygon) []Crossing {
	var out []Crossing
	for i := 0; i < p.Len(); i++ {
		e1, e2 := p.Edge(i)
		if pt, ok := SegmentIntersect(e1, e2, b.A, b.B); ok {
			out = append(out, Crossing{Point: pt, Edge: i})
		}
	}
	return out
}
