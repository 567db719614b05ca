package geo

import (
	"math"
	"sort"
)

// Rectangle is an oriented rectangle given by its corners in cyclic order.
type Rectangle [4]Point

// Polygon returns the rectangle as a polygon.
func (r Rectangle) Polygon() Polygon {
	return NewPolygon(r[:]...)
}

// Area returns the rectangle area.
func (r Rectangle) Area() float64 {
	return r[0].Distance(r[1]) * r[1].Distance(r[2])
}

// ConvexHull returns the convex hull of pts in counterclockwise order using
// Andrew's monotone chain. Collinear points are dropped.
func ConvexHull(pts []Point) []Point {
	sorted := make([]Point, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})
	// Remove duplicates.
	uniq := sorted[:0]
	for i, p := range sorted {
		if i == 0 || p != sorted[i-1] {
			uniq = append(uniq, p)
		}
	}
	if len(uniq) < 3 {
		return uniq
	}

	turn := func(o, a, b Point) float64 {
		return a.Sub(o).Cross(b.Sub(o))
	}
	hull := make([]Point, 0, 2*len(uniq))
	for _, p := range uniq {
		for len(hull) >= 2 && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(uniq) - 2; i >= 0; i-- {
		p := uniq[i]
		for len(hull) >= lower && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// MinimumBoundingRectangle returns the minimum-area rectangle enclosing the
// polygon. Every hull edge direction is tried; the first rectangle of minimum
// area wins, so the result is deterministic for a given vertex order. The
// result is undefined for polygons with fewer than 3 vertices.
func MinimumBoundingRectangle(p Polygon) Rectangle {
	hull := ConvexHull(p.Vertices)
	if len(hull) < 2 {
		var r Rectangle
		for i := range r {
			if len(hull) > 0 {
				r[i] = hull[0]
			}
		}
		return r
	}

	bestArea := math.Inf(1)
	var best Rectangle
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		// Directions differing by a quarter turn give the same box.
		angle := math.Mod(b.Sub(a).Angle(), math.Pi/2)
		if angle < 0 {
			angle += math.Pi / 2
		}

		minX, maxX := math.Inf(1), math.Inf(-1)
		minY, maxY := math.Inf(1), math.Inf(-1)
		for _, v := range hull {
			r := v.Rotate(-angle)
			minX = math.Min(minX, r.X)
			maxX = math.Max(maxX, r.X)
			minY = math.Min(minY, r.Y)
			maxY = math.Max(maxY, r.Y)
		}
		area := (maxX - minX) * (maxY - minY)
		if area < bestArea-Epsilon {
			bestArea = area
			best = Rectangle{
				Pt(minX, minY).Rotate(angle),
				Pt(maxX, minY).Rotate(angle),
				Pt(maxX, maxY).Rotate(angle),
				Pt(minX, maxY).Rotate(angle),
			}
		}
	}
	return best
}

// LargestEdge returns the longest edge of the rectangle and the edge two
// positions away, its opposite side. Ties keep the first edge found.
func LargestEdge(r Rectangle) (a, b, oppA, oppB Point) {
	longest := -1.0
	for i := 0; i < 4; i++ {
		p1, p2 := r[i], r[(i+1)%4]
		if d := p1.Distance(p2); d > longest {
			longest = d
			a, b = p1, p2
			oppA, oppB = r[(i+2)%4], r[(i+3)%4]
		}
	}
	return a, b, oppA, oppB
}

// SplittingBisector returns the segment joining the midpoints of the longest
// side of the polygon's minimum bounding rectangle and its opposite side,
// extended past both ends so it reliably crosses the polygon boundary.
func SplittingBisector(p Polygon) Bisector {
	a, b, oppA, oppB := LargestEdge(MinimumBoundingRectangle(p))
	mid := MidPoint(a, b)
	midOpp := MidPoint(oppA, oppB)
	midOpp = ExtendLine(mid, midOpp)
	mid = ExtendLine(midOpp, mid)
	return Bisector{A: mid, B: midOpp}
}
