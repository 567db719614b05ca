// Package osm holds the node/way map model that parcels are carved from and
// that generated footprints are written back into.
package osm

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ChicagoDave/parcelgen/pkg/geo"
)

// ErrUnknownNode is returned when a way or cycle references a node id that
// is not in the map.
var ErrUnknownNode = errors.New("unknown node")

// Tags is a key→value tag set.
type Tags map[string]string

// Has reports whether key is set, and when values are given, whether its
// value is one of them.
func (t Tags) Has(key string, values ...string) bool {
	v, ok := t[key]
	if !ok {
		return false
	}
	if len(values) == 0 {
		return true
	}
	for _, want := range values {
		if v == want {
			return true
		}
	}
	return false
}

// Node is a map vertex.
type Node struct {
	ID    int64     `json:"id" yaml:"id"`
	Point geo.Point `json:"point" yaml:"point"`
	Tags  Tags      `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Way is an ordered list of node ids. Closed rings repeat the first id at
// the end.
type Way struct {
	ID      int64   `json:"id" yaml:"id"`
	NodeIDs []int64 `json:"nodes" yaml:"nodes"`
	Tags    Tags    `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Closed reports whether the way forms a ring.
func (w *Way) Closed() bool {
	return len(w.NodeIDs) > 2 && w.NodeIDs[0] == w.NodeIDs[len(w.NodeIDs)-1]
}

// IDAllocator hands out monotonically increasing, never reused ids for new
// nodes and ways. It is safe for concurrent use.
type IDAllocator struct {
	next atomic.Int64
}

// NewIDAllocator returns an allocator whose first id is start.
func NewIDAllocator(start int64) *IDAllocator {
	a := &IDAllocator{}
	a.next.Store(start)
	return a
}

// Next returns a fresh id.
func (a *IDAllocator) Next() int64 {
	return a.next.Add(1) - 1
}

// SeedFrom advances the allocator past every id already used in m.
func (a *IDAllocator) SeedFrom(m *Map) {
	high := m.MaxID() + 1
	for {
		cur := a.next.Load()
		if cur >= high || a.next.CompareAndSwap(cur, high) {
			return
		}
	}
}

// Map is a set of nodes and ways keyed by id.
type Map struct {
	Nodes map[int64]*Node
	Ways  map[int64]*Way
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{
		Nodes: make(map[int64]*Node),
		Ways:  make(map[int64]*Way),
	}
}

// AddNode stores n, replacing any node with the same id.
func (m *Map) AddNode(n *Node) {
	m.Nodes[n.ID] = n
}

// AddWay stores w, replacing any way with the same id.
func (m *Map) AddWay(w *Way) {
	m.Ways[w.ID] = w
}

// NewNode allocates a node at p and adds it to the map.
func (m *Map) NewNode(ids *IDAllocator, p geo.Point) *Node {
	n := &Node{ID: ids.Next(), Point: p}
	m.AddNode(n)
	return n
}

// NewWay allocates a way over nodeIDs and adds it to the map.
func (m *Map) NewWay(ids *IDAllocator, nodeIDs []int64, tags Tags) *Way {
	w := &Way{ID: ids.Next(), NodeIDs: nodeIDs, Tags: tags}
	m.AddWay(w)
	return w
}

// MaxID returns the highest node or way id in the map, or 0 when empty.
func (m *Map) MaxID() int64 {
	var high int64
	for id := range m.Nodes {
		high = max(high, id)
	}
	for id := range m.Ways {
		high = max(high, id)
	}
	return high
}

// Points resolves node ids to coordinates.
func (m *Map) Points(ids []int64) ([]geo.Point, error) {
	pts := make([]geo.Point, len(ids))
	for i, id := range ids {
		n, ok := m.Nodes[id]
		if !ok {
			return nil, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
		}
		pts[i] = n.Point
	}
	return pts, nil
}

// Polygon resolves a node-id cycle to a polygon.
func (m *Map) Polygon(cycle []int64) (geo.Polygon, error) {
	pts, err := m.Points(cycle)
	if err != nil {
		return geo.Polygon{}, err
	}
	return geo.NewPolygon(pts...), nil
}

// InsertBetween splices node id into every way where a and b are
// consecutive, so the road geometry stays connected through the new node.
// It returns the number of ways updated.
func (m *Map) InsertBetween(a, b, id int64) int {
	updated := 0
	for _, w := range m.Ways {
		for i := 0; i+1 < len(w.NodeIDs); i++ {
			u, v := w.NodeIDs[i], w.NodeIDs[i+1]
			if (u == a && v == b) || (u == b && v == a) {
				w.NodeIDs = append(w.NodeIDs[:i+1], append([]int64{id}, w.NodeIDs[i+1:]...)...)
				updated++
				break
			}
		}
	}
	return updated
}

// FilterByTag returns the sub-map of ways carrying key (with one of values,
// when given) and the nodes they reference. Nodes and ways are shared with m.
func (m *Map) FilterByTag(key string, values ...string) *Map {
	out := NewMap()
	for id, w := range m.Ways {
		if !w.Tags.Has(key, values...) {
			continue
		}
		out.Ways[id] = w
		for _, nid := range w.NodeIDs {
			if n, ok := m.Nodes[nid]; ok {
				out.Nodes[nid] = n
			}
		}
	}
	return out
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	out := &Map{
		Nodes: make(map[int64]*Node, len(m.Nodes)),
		Ways:  make(map[int64]*Way, len(m.Ways)),
	}
	for id, n := range m.Nodes {
		c := *n
		c.Tags = cloneTags(n.Tags)
		out.Nodes[id] = &c
	}
	for id, w := range m.Ways {
		c := *w
		c.NodeIDs = append([]int64(nil), w.NodeIDs...)
		c.Tags = cloneTags(w.Tags)
		out.Ways[id] = &c
	}
	return out
}

func cloneTags(t Tags) Tags {
	if t == nil {
		return nil
	}
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// NormalizeCycle drops a repeated closing id so cycles are stored open.
func NormalizeCycle(cycle []int64) []int64 {
	if len(cycle) > 1 && cycle[0] == cycle[len(cycle)-1] {
		return cycle[:len(cycle)-1]
	}
	return cycle
}
