package parcel

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/ChicagoDave/parcelgen/pkg/geo"
)

// MSTNeighbors links each centroid to its neighbors in the minimum spanning
// tree of the complete centroid-distance graph. The result is symmetric.
func MSTNeighbors(centroids []geo.Point) map[int][]int {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range centroids {
		g.AddNode(simple.Node(i))
	}
	for i := range centroids {
		for j := i + 1; j < len(centroids); j++ {
			w := centroids[i].Distance(centroids[j])
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), w))
		}
	}

	tree := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Prim(tree, g)

	out := make(map[int][]int, len(centroids))
	for i := range centroids {
		out[i] = []int{}
		if tree.Node(int64(i)) == nil {
			continue
		}
		it := tree.From(int64(i))
		for it.Next() {
			out[i] = append(out[i], int(it.Node().ID()))
		}
		sort.Ints(out[i])
	}
	return out
}

// KNearestNeighbors links each centroid to its k closest others. Ties are
// broken by index. The result is not symmetric.
func KNearestNeighbors(centroids []geo.Point, k int) map[int][]int {
	out := make(map[int][]int, len(centroids))
	for i, c := range centroids {
		others := make([]int, 0, len(centroids)-1)
		for j := range centroids {
			if j != i {
				others = append(others, j)
			}
		}
		sort.SliceStable(others, func(a, b int) bool {
			return c.Distance(centroids[others[a]]) < c.Distance(centroids[others[b]])
		})
		out[i] = others[:min(k, len(others))]
	}
	return out
}

// Neighbors builds the graph selected by opts.
func Neighbors(centroids []geo.Point, opts Options) map[int][]int {
	if opts.Neighbors == "nearest" {
		return KNearestNeighbors(centroids, opts.K)
	}
	return MSTNeighbors(centroids)
}
