package cluster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// fitHDBSCAN labels points by hierarchical density: mutual-reachability
// minimum spanning tree, single-linkage hierarchy, condensed tree, then
// excess-of-mass cluster selection. min_samples equals the minimum cluster
// size and the root is never selected as a cluster.
func fitHDBSCAN(points [][]float64, opts Options) ([]int, error) {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n < 2 {
		return labels, nil
	}

	mcs := opts.MinClusterSize
	if mcs <= 0 {
		mcs = DefaultMinClusterSize
	}
	if mcs < 2 {
		mcs = 2
	}
	if mcs > n {
		mcs = n
	}

	core := coreDistances(points, mcs)
	edges := mutualReachabilityMST(points, core)
	h := singleLinkage(n, edges)
	ct := condense(h, mcs)
	selected := ct.selectClusters()

	ids := make([]int, 0, len(selected))
	for c := range selected {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	labelOf := make(map[int]int, len(ids))
	for i, c := range ids {
		labelOf[c] = i
	}

	for p := 0; p < n; p++ {
		for c := ct.pointParent[p]; c >= 0; c = ct.parent[c] {
			if l, ok := labelOf[c]; ok {
				labels[p] = l
				break
			}
		}
	}
	return labels, nil
}

func distance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// coreDistances is the distance to the k-th nearest point, counting the
// point itself. Each row keeps only a bounded max-heap of the k smallest
// distances seen, so memory stays O(n + k).
func coreDistances(points [][]float64, k int) []float64 {
	out := make([]float64, len(points))
	heap := make([]float64, 0, k)
	for i := range points {
		heap = heap[:0]
		for j := range points {
			d := 0.0
			if j != i {
				d = distance(points[i], points[j])
			}
			if len(heap) < k {
				heap = append(heap, d)
				siftUp(heap, len(heap)-1)
				continue
			}
			if d < heap[0] {
				heap[0] = d
				siftDown(heap, 0)
			}
		}
		out[i] = heap[0]
	}
	return out
}

// siftUp and siftDown maintain a max-heap of float64.
func siftUp(h []float64, i int) {
	for i > 0 {
		p := (i - 1) / 2
		if h[p] >= h[i] {
			return
		}
		h[p], h[i] = h[i], h[p]
		i = p
	}
}

func siftDown(h []float64, i int) {
	for {
		largest := i
		l, r := 2*i+1, 2*i+2
		if l < len(h) && h[l] > h[largest] {
			largest = l
		}
		if r < len(h) && h[r] > h[largest] {
			largest = r
		}
		if largest == i {
			return
		}
		h[i], h[largest] = h[largest], h[i]
		i = largest
	}
}

type edge struct {
	a, b int
	w    float64
}

// mutualReachabilityMST runs Prim's algorithm on the complete
// mutual-reachability graph, computing each distance when it is needed.
func mutualReachabilityMST(points [][]float64, core []float64) []edge {
	n := len(points)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]edge, 0, n-1)
	cur := 0
	inTree[cur] = true
	for len(edges) < n-1 {
		next, nextW := -1, math.Inf(1)
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			w := math.Max(distance(points[cur], points[j]), math.Max(core[cur], core[j]))
			if w < best[j] {
				best[j] = w
				from[j] = cur
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
	return edges
}

// hierarchy is a single-linkage dendrogram. Nodes 0..n-1 are points; node
// n+i is the i-th merge.
type hierarchy struct {
	n     int
	left  []int
	right []int
	dist  []float64
	size  []int
}

func (h *hierarchy) sizeOf(node int) int {
	if node < h.n {
		return 1
	}
	return h.size[node-h.n]
}

func singleLinkage(n int, edges []edge) *hierarchy {
	h := &hierarchy{n: n}
	parent := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for i, e := range edges {
		ra, rb := find(e.a), find(e.b)
		node := n + i
		h.left = append(h.left, ra)
		h.right = append(h.right, rb)
		h.dist = append(h.dist, e.w)
		h.size = append(h.size, h.sizeOf(ra)+h.sizeOf(rb))
		parent[ra] = node
		parent[rb] = node
	}
	return h
}

// condensedTree keeps only splits where both sides reach the minimum
// cluster size. Cluster IDs are dense, root = 0, children always have
// larger IDs than their parent.
type condensedTree struct {
	parent      []int     // cluster -> parent cluster, -1 for root
	birth       []float64 // lambda at which the cluster appeared
	stability   []float64
	children    [][]int
	pointParent []int // point -> cluster it fell out of
}

func condense(h *hierarchy, mcs int) *condensedTree {
	ct := &condensedTree{pointParent: make([]int, h.n)}
	root := ct.newCluster(-1, 0)

	var fallOut func(node, cluster int, lambda float64)
	fallOut = func(node, cluster int, lambda float64) {
		if node < h.n {
			ct.pointParent[node] = cluster
			ct.stability[cluster] += lambda - ct.birth[cluster]
			return
		}
		fallOut(h.left[node-h.n], cluster, lambda)
		fallOut(h.right[node-h.n], cluster, lambda)
	}

	var walk func(node, cluster int)
	walk = func(node, cluster int) {
		if node < h.n {
			// Unreachable while mcs >= 2.
			fallOut(node, cluster, ct.birth[cluster])
			return
		}
		i := node - h.n
		lambda := toLambda(h.dist[i])
		l, r := h.left[i], h.right[i]
		ls, rs := h.sizeOf(l), h.sizeOf(r)
		switch {
		case ls >= mcs && rs >= mcs:
			ct.stability[cluster] += (lambda - ct.birth[cluster]) * float64(ls+rs)
			a := ct.newCluster(cluster, lambda)
			walk(l, a)
			b := ct.newCluster(cluster, lambda)
			walk(r, b)
		case ls >= mcs:
			fallOut(r, cluster, lambda)
			walk(l, cluster)
		case rs >= mcs:
			fallOut(l, cluster, lambda)
			walk(r, cluster)
		default:
			fallOut(l, cluster, lambda)
			fallOut(r, cluster, lambda)
		}
	}
	walk(2*h.n-2, root)
	return ct
}

func (ct *condensedTree) newCluster(parent int, birth float64) int {
	id := len(ct.parent)
	ct.parent = append(ct.parent, parent)
	ct.birth = append(ct.birth, birth)
	ct.stability = append(ct.stability, 0)
	ct.children = append(ct.children, nil)
	if parent >= 0 {
		ct.children[parent] = append(ct.children[parent], id)
	}
	return id
}

// selectClusters applies excess-of-mass selection bottom-up, excluding the
// root.
func (ct *condensedTree) selectClusters() map[int]struct{} {
	total := make([]float64, len(ct.parent))
	chosen := make([]bool, len(ct.parent))
	for c := len(ct.parent) - 1; c > 0; c-- {
		var sub float64
		for _, child := range ct.children[c] {
			sub += total[child]
		}
		if len(ct.children[c]) > 0 && sub > ct.stability[c] {
			total[c] = sub
			continue
		}
		total[c] = ct.stability[c]
		chosen[c] = true
		ct.clearBelow(c, chosen)
	}

	out := make(map[int]struct{})
	for c, ok := range chosen {
		if ok {
			out[c] = struct{}{}
		}
	}
	return out
}

func (ct *condensedTree) clearBelow(c int, chosen []bool) {
	for _, child := range ct.children[c] {
		chosen[child] = false
		ct.clearBelow(child, chosen)
	}
}

// toLambda converts a merge distance to density. Duplicate points merge at
// distance 0; their lambda is clamped so stabilities stay finite.
func toLambda(d float64) float64 {
	if d < 1e-12 {
		return 1e12
	}
	return 1 / d
}
