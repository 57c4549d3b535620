package cluster

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// denseFit is the all-pairs reference: a full distance matrix, sorted rows
// for core distances and Prim over the stored matrix.
func denseFit(points [][]float64, mcs int) ([]float64, []edge, []int) {
	n := len(points)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(points[i], points[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}

	core := make([]float64, n)
	for i, row := range dist {
		sorted := append([]float64(nil), row...)
		sort.Float64s(sorted)
		core[i] = sorted[mcs-1]
	}

	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}
	var edges []edge
	cur := 0
	inTree[cur] = true
	for len(edges) < n-1 {
		next, nextW := -1, math.Inf(1)
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			if w := math.Max(dist[cur][j], math.Max(core[cur], core[j])); w < best[j] {
				best[j], from[j] = w, cur
			}
			if best[j] < nextW {
				next, nextW = j, best[j]
			}
		}
		inTree[next] = true
		edges = append(edges, edge{a: from[next], b: next, w: nextW})
		cur = next
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })

	ct := condense(singleLinkage(n, edges), mcs)
	selected := ct.selectClusters()
	ids := make([]int, 0, len(selected))
	for c := range selected {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	labels := make([]int, n)
	for p := range labels {
		labels[p] = Noise
		for c := ct.pointParent[p]; c >= 0 && labels[p] == Noise; c = ct.parent[c] {
			if i := sort.SearchInts(ids, c); i < len(ids) && ids[i] == c {
				labels[p] = i
			}
		}
	}
	return core, edges, labels
}

// blobFixture scatters three gaussian blobs of different spread plus
// uniform background points.
func blobFixture() [][]float64 {
	rng := rand.New(rand.NewSource(7))
	var out [][]float64
	for _, c := range []struct{ x, y, sd float64 }{{0, 0, 0.4}, {6, 1, 0.8}, {2, 7, 0.3}} {
		for i := 0; i < 25; i++ {
			out = append(out, []float64{c.x + rng.NormFloat64()*c.sd, c.y + rng.NormFloat64()*c.sd})
		}
	}
	for i := 0; i < 10; i++ {
		out = append(out, []float64{rng.Float64()*14 - 4, rng.Float64()*14 - 4})
	}
	// A duplicate pair exercises zero distances in the core heap.
	out = append(out, []float64{out[3][0], out[3][1]})
	return out
}

func TestHDBSCAN_MatchesAllPairsReference(t *testing.T) {
	points := blobFixture()
	for _, mcs := range []int{2, 5, 10} {
		wantCore, wantEdges, wantLabels := denseFit(points, mcs)

		assert.Equal(t, wantCore, coreDistances(points, mcs), "core distances, mcs=%d", mcs)
		assert.Equal(t, wantEdges, mutualReachabilityMST(points, wantCore), "mst, mcs=%d", mcs)

		labels, err := fitHDBSCAN(points, Options{MinClusterSize: mcs})
		require.NoError(t, err)
		assert.Equal(t, wantLabels, labels, "labels, mcs=%d", mcs)
	}
}

func TestCoreDistances_CountsSelf(t *testing.T) {
	points := [][]float64{{0}, {1}, {3}, {7}}
	assert.Equal(t, []float64{0, 0, 0, 0}, coreDistances(points, 1))
	assert.Equal(t, []float64{1, 1, 2, 4}, coreDistances(points, 2))
	assert.Equal(t, []float64{7, 6, 4, 7}, coreDistances(points, 4))
}
