package osm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChicagoDave/parcelgen/pkg/geo"
)

func sampleMap() *Map {
	m := NewMap()
	m.AddNode(&Node{ID: 1, Point: geo.Pt(0, 0)})
	m.AddNode(&Node{ID: 2, Point: geo.Pt(0, 10)})
	m.AddNode(&Node{ID: 3, Point: geo.Pt(10, 10)})
	m.AddNode(&Node{ID: 4, Point: geo.Pt(10, 0)})
	m.AddWay(&Way{ID: 10, NodeIDs: []int64{1, 2, 3}, Tags: Tags{"highway": "primary"}})
	m.AddWay(&Way{ID: 11, NodeIDs: []int64{3, 4, 1}, Tags: Tags{"highway": "residential"}})
	m.AddWay(&Way{ID: 12, NodeIDs: []int64{1, 2, 3, 1}, Tags: Tags{"building": "yes"}})
	return m
}

func TestIDAllocatorMonotonic(t *testing.T) {
	ids := NewIDAllocator(100)
	assert.Equal(t, int64(100), ids.Next())
	assert.Equal(t, int64(101), ids.Next())
	assert.Equal(t, int64(102), ids.Next())
}

func TestIDAllocatorConcurrentUnique(t *testing.T) {
	ids := NewIDAllocator(1)
	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				id := ids.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}

func TestIDAllocatorSeedFrom(t *testing.T) {
	ids := NewIDAllocator(1)
	ids.SeedFrom(sampleMap())
	assert.Equal(t, int64(13), ids.Next())

	// Seeding never moves the allocator backwards.
	ahead := NewIDAllocator(500)
	ahead.SeedFrom(sampleMap())
	assert.Equal(t, int64(500), ahead.Next())
}

func TestPointsUnknownNode(t *testing.T) {
	_, err := sampleMap().Points([]int64{1, 99})
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestInsertBetweenSplicesEveryWay(t *testing.T) {
	m := sampleMap()
	n := m.NewNode(NewIDAllocator(50), geo.Pt(5, 10))
	updated := m.InsertBetween(3, 2, n.ID)
	assert.Equal(t, 2, updated)
	assert.Equal(t, []int64{1, 2, 50, 3}, m.Ways[10].NodeIDs)
	assert.Equal(t, []int64{1, 2, 50, 3, 1}, m.Ways[12].NodeIDs)
	assert.Equal(t, []int64{3, 4, 1}, m.Ways[11].NodeIDs)
}

func TestFilterByTag(t *testing.T) {
	m := sampleMap()
	roads := m.FilterByTag("highway")
	assert.Len(t, roads.Ways, 2)
	assert.Len(t, roads.Nodes, 4)

	primary := m.FilterByTag("highway", "primary")
	assert.Len(t, primary.Ways, 1)
	assert.Len(t, primary.Nodes, 3)
}

func TestCloneIsDeep(t *testing.T) {
	m := sampleMap()
	c := m.Clone()
	c.Ways[10].NodeIDs[0] = 99
	c.Nodes[1].Point = geo.Pt(7, 7)
	c.Ways[10].Tags["highway"] = "trunk"
	assert.Equal(t, int64(1), m.Ways[10].NodeIDs[0])
	assert.Equal(t, geo.Pt(0, 0), m.Nodes[1].Point)
	assert.Equal(t, "primary", m.Ways[10].Tags["highway"])
}

func TestNormalizeCycle(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, NormalizeCycle([]int64{1, 2, 3, 1}))
	assert.Equal(t, []int64{1, 2, 3}, NormalizeCycle([]int64{1, 2, 3}))
}

func TestWayClosed(t *testing.T) {
	m := sampleMap()
	assert.True(t, m.Ways[12].Closed())
	assert.False(t, m.Ways[10].Closed())
}
