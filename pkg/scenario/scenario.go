// Package scenario loads the map a run works on: nodes, tagged ways and the
// road cycles found in them by an external cycle finder.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ChicagoDave/parcelgen/pkg/geo"
	"github.com/ChicagoDave/parcelgen/pkg/osm"
)

// FileName is the scenario document inside a project directory.
const FileName = "scenario.yaml"

// Node is a map vertex as written in a scenario file.
type Node struct {
	ID   int64             `yaml:"id" json:"id"`
	X    float64           `yaml:"x" json:"x"`
	Y    float64           `yaml:"y" json:"y"`
	Tags map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Way is a tagged node sequence as written in a scenario file.
type Way struct {
	ID    int64             `yaml:"id" json:"id"`
	Nodes []int64           `yaml:"nodes" json:"nodes"`
	Tags  map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Scenario is the complete input of a run.
type Scenario struct {
	Name   string    `yaml:"name" json:"name"`
	Nodes  []Node    `yaml:"nodes" json:"nodes"`
	Ways   []Way     `yaml:"ways" json:"ways"`
	Cycles [][]int64 `yaml:"cycles" json:"cycles"`
}

// Load reads a scenario from a YAML file. A missing name defaults to the
// file's base name without extension.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if s.Name == "" {
		base := filepath.Base(path)
		s.Name = base[:len(base)-len(filepath.Ext(base))]
	}
	return s, nil
}

// Parse decodes a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}
	return &s, nil
}

// LoadProject loads a scenario from a project directory.
// It looks for scenario.yaml in the given directory and names the scenario
// after the directory when the document does not.
func LoadProject(projectDir string) (*Scenario, error) {
	s, err := Load(filepath.Join(projectDir, FileName))
	if err != nil {
		return nil, err
	}
	if s.Name == "scenario" {
		s.Name = filepath.Base(filepath.Clean(projectDir))
	}
	return s, nil
}

// ToMap builds the editable map model. Later duplicates of an id replace
// earlier ones; validation reports them.
func (s *Scenario) ToMap() *osm.Map {
	m := osm.NewMap()
	for _, n := range s.Nodes {
		m.AddNode(&osm.Node{ID: n.ID, Point: geo.Pt(n.X, n.Y), Tags: osm.Tags(n.Tags)})
	}
	for _, w := range s.Ways {
		m.AddWay(&osm.Way{ID: w.ID, NodeIDs: append([]int64(nil), w.Nodes...), Tags: osm.Tags(w.Tags)})
	}
	return m
}

// FromMap converts a map back into scenario form, nodes and ways ordered by
// id, keeping the given cycles.
func FromMap(name string, m *osm.Map, cycles [][]int64) *Scenario {
	s := &Scenario{Name: name, Cycles: cycles}
	for _, id := range sortedIDs(m.Nodes) {
		n := m.Nodes[id]
		s.Nodes = append(s.Nodes, Node{ID: n.ID, X: n.Point.X, Y: n.Point.Y, Tags: n.Tags})
	}
	for _, id := range sortedIDs(m.Ways) {
		w := m.Ways[id]
		s.Ways = append(s.Ways, Way{ID: w.ID, Nodes: w.NodeIDs, Tags: w.Tags})
	}
	return s
}

// Write encodes the scenario as YAML to path.
func (s *Scenario) Write(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding scenario: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing scenario file: %w", err)
	}
	return nil
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
