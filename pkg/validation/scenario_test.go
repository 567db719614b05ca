package validation

import (
	"strings"
	"testing"

	"github.com/ChicagoDave/parcelgen/pkg/scenario"
)

func validScenario() *scenario.Scenario {
	return &scenario.Scenario{
		Name: "block",
		Nodes: []scenario.Node{
			{ID: 1, X: 0, Y: 0},
			{ID: 2, X: 100, Y: 0},
			{ID: 3, X: 100, Y: 100},
			{ID: 4, X: 0, Y: 100},
		},
		Ways: []scenario.Way{
			{ID: 10, Nodes: []int64{1, 2, 3, 4, 1}, Tags: map[string]string{"highway": "residential"}},
		},
		Cycles: [][]int64{{1, 2, 3, 4}},
	}
}

func TestValidScenarioPasses(t *testing.T) {
	r := ValidateScenario(validScenario())
	if !r.Valid {
		t.Errorf("valid scenario should pass, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", r.Warnings)
	}
	if len(r.Info) != 1 || r.Info[0].Message != "4 nodes, 1 ways, 1 cycles" {
		t.Errorf("unexpected info: %v", r.Info)
	}
}

func TestDuplicateNodeID(t *testing.T) {
	s := validScenario()
	s.Nodes = append(s.Nodes, scenario.Node{ID: 2, X: 5, Y: 5})
	r := ValidateScenario(s)
	assertHasError(t, r, CodeDuplicateID, NodeRef(4, 2))
}

func TestDuplicateWayID(t *testing.T) {
	s := validScenario()
	s.Ways = append(s.Ways, scenario.Way{ID: 10, Nodes: []int64{1, 2}})
	r := ValidateScenario(s)
	assertHasError(t, r, CodeDuplicateID, WayRef(1, 10))
}

func TestWayUnknownNode(t *testing.T) {
	s := validScenario()
	s.Ways[0].Nodes = []int64{1, 2, 99}
	r := ValidateScenario(s)
	assertHasError(t, r, CodeUnknownNode, WayNodeRef(0, 10, 2))
}

func TestCycleUnknownNode(t *testing.T) {
	s := validScenario()
	s.Cycles = [][]int64{{1, 2, 77}}
	r := ValidateScenario(s)
	assertHasError(t, r, CodeUnknownNode, CycleNodeRef(0, 2))
}

func TestDegenerateCycle(t *testing.T) {
	s := validScenario()
	s.Cycles = [][]int64{{1, 2, 1}}
	r := ValidateScenario(s)
	assertHasError(t, r, CodeFewVertices, CycleRef(0))
}

func TestCollinearCycle(t *testing.T) {
	s := validScenario()
	s.Nodes = append(s.Nodes, scenario.Node{ID: 5, X: 50, Y: 0})
	s.Cycles = [][]int64{{1, 5, 2}}
	r := ValidateScenario(s)
	assertHasError(t, r, CodeZeroArea, CycleRef(0))
}

func TestSelfIntersectingCycleWarns(t *testing.T) {
	s := validScenario()
	s.Cycles = [][]int64{{1, 3, 2, 4}}
	r := ValidateScenario(s)
	if !r.Valid {
		t.Errorf("self-intersection should only warn, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, CodeSelfIntersection, CycleRef(0))
}

func TestMissingRoadsAndCyclesWarn(t *testing.T) {
	s := validScenario()
	s.Ways[0].Tags = nil
	s.Cycles = nil
	r := ValidateScenario(s)
	if !r.Valid {
		t.Errorf("expected valid report, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, CodeNoRoads, ListRef(KindWay))
	assertHasWarning(t, r, CodeNoCycles, ListRef(KindCycle))
}

func TestWayNodeIDClashWarns(t *testing.T) {
	s := validScenario()
	s.Ways[0].ID = 3
	r := ValidateScenario(s)
	assertHasWarning(t, r, CodeIDClash, WayRef(0, 3))
}

type limits struct {
	PopRange int     `validate:"min=1"`
	Rate     float64 `validate:"gte=0,lte=1"`
	Mode     string  `validate:"oneof=mst nearest"`
}

func TestValidateStruct(t *testing.T) {
	r := ValidateStruct(limits{PopRange: 10, Rate: 0.1, Mode: "mst"})
	if !r.Valid {
		t.Errorf("expected valid, got %v", r.Errors)
	}
	if r.Err() != nil {
		t.Errorf("Err() = %v, want nil", r.Err())
	}

	r = ValidateStruct(limits{PopRange: 0, Rate: 2, Mode: "grid"})
	if len(r.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(r.Errors), r.Errors)
	}
	assertHasError(t, r, CodeConstraint, FieldRef("limits.PopRange"))
	if r.Errors[0].Want != "min=1" {
		t.Errorf("want = %q, expected %q", r.Errors[0].Want, "min=1")
	}
	if err := r.Err(); err == nil || !strings.Contains(err.Error(), "limits.Mode") {
		t.Errorf("Err() = %v, want mention of limits.Mode", err)
	}
}

func hasFinding(fs []Finding, code Code, at Ref) bool {
	for _, f := range fs {
		if f.Code == code && f.At == at {
			return true
		}
	}
	return false
}

func assertHasError(t *testing.T, r *Report, code Code, at Ref) {
	t.Helper()
	if r.Valid {
		t.Errorf("expected invalid report for %s at %s", code, at)
	}
	if !hasFinding(r.Errors, code, at) {
		t.Errorf("no %s error at %s; got %v", code, at, r.Errors)
	}
}

func assertHasWarning(t *testing.T, r *Report, code Code, at Ref) {
	t.Helper()
	if !hasFinding(r.Warnings, code, at) {
		t.Errorf("no %s warning at %s; got %v", code, at, r.Warnings)
	}
}
