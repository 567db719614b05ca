package validation

import (
	"fmt"

	"github.com/ChicagoDave/parcelgen/pkg/geo"
	"github.com/ChicagoDave/parcelgen/pkg/osm"
	"github.com/ChicagoDave/parcelgen/pkg/scenario"
)

// ValidateScenario checks a loaded scenario before any parcel is built:
// id uniqueness, node references and cycle geometry.
func ValidateScenario(s *scenario.Scenario) *Report {
	r := NewReport()

	nodes := validateNodes(s, r)
	validateWays(s, nodes, r)
	validateCycles(s, nodes, r)

	r.AddInfo(Finding{
		Stage:   StageReferences,
		Code:    CodeCounts,
		At:      ListRef(KindScenario),
		Message: fmt.Sprintf("%d nodes, %d ways, %d cycles", len(s.Nodes), len(s.Ways), len(s.Cycles)),
	})
	return r
}

func validateNodes(s *scenario.Scenario, r *Report) map[int64]geo.Point {
	nodes := make(map[int64]geo.Point, len(s.Nodes))
	for i, n := range s.Nodes {
		if _, dup := nodes[n.ID]; dup {
			r.AddError(Finding{
				Stage:   StageReferences,
				Code:    CodeDuplicateID,
				At:      NodeRef(i, n.ID),
				Message: fmt.Sprintf("duplicate node id %d", n.ID),
				Got:     n.ID,
				Want:    "unique id",
			})
		}
		nodes[n.ID] = geo.Pt(n.X, n.Y)
	}
	return nodes
}

func validateWays(s *scenario.Scenario, nodes map[int64]geo.Point, r *Report) {
	seen := make(map[int64]bool, len(s.Ways))
	roads := 0
	for i, w := range s.Ways {
		if seen[w.ID] {
			r.AddError(Finding{
				Stage:   StageReferences,
				Code:    CodeDuplicateID,
				At:      WayRef(i, w.ID),
				Message: fmt.Sprintf("duplicate way id %d", w.ID),
				Got:     w.ID,
				Want:    "unique id",
			})
		}
		seen[w.ID] = true
		if _, clash := nodes[w.ID]; clash {
			r.AddWarning(Finding{
				Stage:   StageReferences,
				Code:    CodeIDClash,
				At:      WayRef(i, w.ID),
				Message: fmt.Sprintf("way id %d is also a node id", w.ID),
				Got:     w.ID,
				Hint:    "Generated ids come from one counter; keep node and way ids disjoint",
			})
		}
		if len(w.Nodes) < 2 {
			r.AddWarning(Finding{
				Stage:   StageReferences,
				Code:    CodeShortWay,
				At:      WayRef(i, w.ID),
				Message: fmt.Sprintf("way %d has fewer than 2 nodes", w.ID),
				Got:     len(w.Nodes),
				Want:    ">= 2",
			})
		}
		for j, id := range w.Nodes {
			if _, ok := nodes[id]; !ok {
				r.AddError(Finding{
					Stage:   StageReferences,
					Code:    CodeUnknownNode,
					At:      WayNodeRef(i, w.ID, j),
					Message: fmt.Sprintf("way %d references unknown node %d", w.ID, id),
					Got:     id,
				})
			}
		}
		if osm.Tags(w.Tags).Has("highway") {
			roads++
		}
	}
	if roads == 0 {
		r.AddWarning(Finding{
			Stage:   StageReferences,
			Code:    CodeNoRoads,
			At:      ListRef(KindWay),
			Message: "scenario has no highway ways",
		})
	}
}

func validateCycles(s *scenario.Scenario, nodes map[int64]geo.Point, r *Report) {
	if len(s.Cycles) == 0 {
		r.AddWarning(Finding{
			Stage:   StageReferences,
			Code:    CodeNoCycles,
			At:      ListRef(KindCycle),
			Message: "scenario has no road cycles",
			Hint:    "Run a cycle finder over the highway ways and list the cycles",
		})
		return
	}

	for i, c := range s.Cycles {
		c = osm.NormalizeCycle(c)
		pts := make([]geo.Point, 0, len(c))
		known := true
		for j, id := range c {
			p, ok := nodes[id]
			if !ok {
				known = false
				r.AddError(Finding{
					Stage:   StageReferences,
					Code:    CodeUnknownNode,
					At:      CycleNodeRef(i, j),
					Message: fmt.Sprintf("cycle %d references unknown node %d", i, id),
					Got:     id,
				})
				continue
			}
			pts = append(pts, p)
		}
		if !known {
			continue
		}

		poly := geo.NewPolygon(pts...)
		switch {
		case poly.IsEmpty():
			r.AddError(Finding{
				Stage:   StageGeometry,
				Code:    CodeFewVertices,
				At:      CycleRef(i),
				Message: fmt.Sprintf("cycle %d has fewer than 3 distinct vertices", i),
				Got:     len(c),
				Want:    ">= 3 distinct vertices",
			})
		case poly.SelfIntersects():
			r.AddWarning(Finding{
				Stage:   StageGeometry,
				Code:    CodeSelfIntersection,
				At:      CycleRef(i),
				Message: fmt.Sprintf("cycle %d intersects itself", i),
				Hint:    "Reorder the cycle so its edges do not cross",
			})
		case poly.Area() <= geo.Epsilon:
			r.AddError(Finding{
				Stage:   StageGeometry,
				Code:    CodeZeroArea,
				At:      CycleRef(i),
				Message: fmt.Sprintf("cycle %d has zero area", i),
				Want:    "> 0",
			})
		}
	}
}
