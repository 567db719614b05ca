// Package validation collects findings about scenario input and run
// configuration into a report of errors, warnings and info. Every finding
// points at the node, way, cycle or config field it is about.
package validation

import (
	"fmt"
	"strings"
)

// Stage names the check that produced a finding.
type Stage string

const (
	// StageReferences covers ids and the node references of ways and cycles.
	StageReferences Stage = "references"
	// StageGeometry covers the shape of road cycles.
	StageGeometry Stage = "geometry"
	// StageConfig covers struct-tag checks on settings and requests.
	StageConfig Stage = "config"
)

// Severity indicates how critical a finding is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Code classifies a finding so callers can react without parsing messages.
type Code string

const (
	CodeDuplicateID      Code = "duplicate_id"
	CodeIDClash          Code = "id_clash"
	CodeUnknownNode      Code = "unknown_node"
	CodeShortWay         Code = "short_way"
	CodeNoRoads          Code = "no_roads"
	CodeNoCycles         Code = "no_cycles"
	CodeFewVertices      Code = "few_vertices"
	CodeSelfIntersection Code = "self_intersection"
	CodeZeroArea         Code = "zero_area"
	CodeConstraint       Code = "constraint"
	CodeCounts           Code = "counts"
)

// Kind is the type of element a Ref points at.
type Kind string

const (
	KindScenario Kind = "scenario"
	KindNode     Kind = "node"
	KindWay      Kind = "way"
	KindCycle    Kind = "cycle"
	KindField    Kind = "field"
)

// Ref locates a finding. Index is the element's position in its scenario
// list and Member a position inside a way's or cycle's node list; both are
// -1 when they do not apply. ID carries the node or way id.
type Ref struct {
	Kind   Kind   `json:"kind"`
	Index  int    `json:"index"`
	Member int    `json:"member"`
	ID     int64  `json:"id,omitempty"`
	Field  string `json:"field,omitempty"`
}

// NodeRef points at the i-th node, whose id is id.
func NodeRef(i int, id int64) Ref { return Ref{Kind: KindNode, Index: i, Member: -1, ID: id} }

// WayRef points at the i-th way, whose id is id.
func WayRef(i int, id int64) Ref { return Ref{Kind: KindWay, Index: i, Member: -1, ID: id} }

// WayNodeRef points at position j of the i-th way's node list.
func WayNodeRef(i int, id int64, j int) Ref {
	return Ref{Kind: KindWay, Index: i, Member: j, ID: id}
}

// CycleRef points at the i-th cycle.
func CycleRef(i int) Ref { return Ref{Kind: KindCycle, Index: i, Member: -1} }

// CycleNodeRef points at position j of the i-th cycle.
func CycleNodeRef(i, j int) Ref { return Ref{Kind: KindCycle, Index: i, Member: j} }

// ListRef points at a whole scenario list, or the scenario itself.
func ListRef(k Kind) Ref { return Ref{Kind: k, Index: -1, Member: -1} }

// FieldRef points at a struct field by its validator namespace.
func FieldRef(namespace string) Ref {
	return Ref{Kind: KindField, Index: -1, Member: -1, Field: namespace}
}

// String renders r as a path into the scenario document, e.g.
// "ways[3].nodes[1]" or "cycles[0][2]".
func (r Ref) String() string {
	var b strings.Builder
	switch r.Kind {
	case KindField:
		return r.Field
	case KindScenario:
		return "scenario"
	case KindNode:
		b.WriteString("nodes")
	case KindWay:
		b.WriteString("ways")
	case KindCycle:
		b.WriteString("cycles")
	default:
		return string(r.Kind)
	}
	if r.Index < 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "[%d]", r.Index)
	if r.Member >= 0 {
		if r.Kind == KindWay {
			b.WriteString(".nodes")
		}
		fmt.Fprintf(&b, "[%d]", r.Member)
	}
	return b.String()
}

// Finding is a single validation result.
type Finding struct {
	Stage    Stage    `json:"stage"`
	Severity Severity `json:"severity"`
	Code     Code     `json:"code"`
	At       Ref      `json:"at"`
	Message  string   `json:"message"`
	// Got is the offending value and Want what was expected instead.
	Got  any    `json:"got,omitempty"`
	Want string `json:"want,omitempty"`
	Hint string `json:"hint,omitempty"`
}

// Report is the complete validation output.
type Report struct {
	Valid    bool      `json:"valid"`
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
	Info     []Finding `json:"info"`
	Summary  string    `json:"summary"`
}

// NewReport creates an empty valid report.
func NewReport() *Report {
	return &Report{
		Valid:    true,
		Errors:   []Finding{},
		Warnings: []Finding{},
		Info:     []Finding{},
	}
}

// AddError adds an error finding and marks the report invalid.
func (r *Report) AddError(f Finding) {
	f.Severity = SeverityError
	r.Errors = append(r.Errors, f)
	r.Valid = false
	r.updateSummary()
}

// AddWarning adds a warning finding.
func (r *Report) AddWarning(f Finding) {
	f.Severity = SeverityWarning
	r.Warnings = append(r.Warnings, f)
	r.updateSummary()
}

// AddInfo adds an informational finding.
func (r *Report) AddInfo(f Finding) {
	f.Severity = SeverityInfo
	r.Info = append(r.Info, f)
	r.updateSummary()
}

// Merge combines another report into this one.
func (r *Report) Merge(other *Report) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Info = append(r.Info, other.Info...)
	if !other.Valid {
		r.Valid = false
	}
	r.updateSummary()
}

func (r *Report) updateSummary() {
	r.Summary = fmt.Sprintf("%d errors, %d warnings, %d info",
		len(r.Errors), len(r.Warnings), len(r.Info))
}
