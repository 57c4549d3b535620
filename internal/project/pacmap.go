package project

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PaCMAP defaults from the reference implementation.
const (
	mnRatio       = 0.5
	fpRatio       = 2.0
	phase1Iters   = 100
	phase2Iters   = 100
	phase3Iters   = 250
	learningRate  = 1.0
	adamBeta1     = 0.9
	adamBeta2     = 0.999
	adamEps       = 1e-7
	midNearSample = 6
	// LocalMAP local adjustment.
	lowDistThreshold = 10.0
	resampleEvery    = 10
)

type pair struct{ i, j int }

type layout struct {
	x    [][]float64
	y    [][]float64
	rng  *rand.Rand
	nb   []pair
	mn   []pair
	fp   []pair
	kNN  [][]int
	nFP  int
	grad [][]float64
	m    [][]float64
	v    [][]float64
	step int
}

func fitPaCMAP(x [][]float64, opts Options) ([][]float64, error) {
	return runLayout(x, opts, false)
}

func fitLocalMAP(x [][]float64, opts Options) ([][]float64, error) {
	return runLayout(x, opts, true)
}

func runLayout(x [][]float64, opts Options, local bool) ([][]float64, error) {
	n := len(x)
	if n < 3 {
		// Too few points for neighbor pairs; the PCA layout is exact.
		return fitPCA(x, opts)
	}

	k := opts.NNeighbors
	if k > n-1 {
		k = n - 1
	}
	nMN := int(math.Round(float64(k) * mnRatio))
	if nMN < 1 {
		nMN = 1
	}
	nFP := int(math.Round(float64(k) * fpRatio))
	if nFP > n-1-k {
		nFP = n - 1 - k
	}

	l := &layout{
		x:   x,
		rng: rand.New(rand.NewSource(opts.Seed)),
		nFP: nFP,
	}
	start, err := fitPCA(x, opts)
	if err != nil {
		return nil, err
	}
	l.y = initialLayout(start, l.rng)
	l.kNN = nearestNeighbors(x, k)
	l.nb = neighborPairs(l.kNN)
	l.mn = l.midNearPairs(nMN)
	l.fp = l.furtherPairs()
	l.grad = zeros(n)
	l.m = zeros(n)
	l.v = zeros(n)

	total := phase1Iters + phase2Iters + phase3Iters
	for itr := 0; itr < total; itr++ {
		wNB, wMN, wFP := weights(itr)
		if local && itr >= phase1Iters+phase2Iters {
			if (itr-phase1Iters-phase2Iters)%resampleEvery == 0 {
				l.fp = l.localFurtherPairs()
			}
			l.gradient(wNB, wMN, wFP, true)
		} else {
			l.gradient(wNB, wMN, wFP, false)
		}
		l.adam()
	}
	return l.y, nil
}

// weights returns the (neighbor, mid-near, further) weights for iteration itr.
func weights(itr int) (float64, float64, float64) {
	switch {
	case itr < phase1Iters:
		frac := float64(itr) / phase1Iters
		return 2, 1000*(1-frac) + 3*frac, 1
	case itr < phase1Iters+phase2Iters:
		return 3, 3, 1
	default:
		return 1, 0, 1
	}
}

// initialLayout scales the PCA layout so the first axis has std 0.01. A
// degenerate PCA result falls back to small random noise.
func initialLayout(p [][]float64, rng *rand.Rand) [][]float64 {
	first := make([]float64, len(p))
	for i := range p {
		first[i] = p[i][0]
	}
	sd := stat.StdDev(first, nil)
	out := zeros(len(p))
	for i := range p {
		for c := 0; c < Dims; c++ {
			if sd > 1e-12 {
				out[i][c] = 0.01 * p[i][c] / sd
			} else {
				out[i][c] = 1e-4 * rng.NormFloat64()
			}
		}
	}
	return out
}

func nearestNeighbors(x [][]float64, k int) [][]int {
	n := len(x)
	out := make([][]int, n)
	idx := make([]int, 0, n-1)
	dist := make([]float64, n)
	for i := 0; i < n; i++ {
		idx = idx[:0]
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			dist[j] = floats.Distance(x[i], x[j], 2)
			idx = append(idx, j)
		}
		sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })
		out[i] = append([]int(nil), idx[:k]...)
	}
	return out
}

func neighborPairs(kNN [][]int) []pair {
	var out []pair
	for i, nbrs := range kNN {
		for _, j := range nbrs {
			out = append(out, pair{i, j})
		}
	}
	return out
}

// midNearPairs samples midNearSample random points per pair and keeps the
// second closest.
func (l *layout) midNearPairs(perPoint int) []pair {
	n := len(l.x)
	sample := midNearSample
	if sample > n-1 {
		sample = n - 1
	}
	var out []pair
	cand := make([]int, 0, sample)
	for i := 0; i < n; i++ {
		for p := 0; p < perPoint; p++ {
			cand = cand[:0]
			for len(cand) < sample {
				j := l.rng.Intn(n)
				if j == i || contains(cand, j) {
					continue
				}
				cand = append(cand, j)
			}
			sort.SliceStable(cand, func(a, b int) bool {
				return floats.Distance(l.x[i], l.x[cand[a]], 2) < floats.Distance(l.x[i], l.x[cand[b]], 2)
			})
			pick := cand[0]
			if len(cand) > 1 {
				pick = cand[1]
			}
			out = append(out, pair{i, pick})
		}
	}
	return out
}

// furtherPairs samples random non-neighbors.
func (l *layout) furtherPairs() []pair {
	n := len(l.x)
	var out []pair
	chosen := make([]int, 0, l.nFP)
	for i := 0; i < n; i++ {
		chosen = chosen[:0]
		for len(chosen) < l.nFP {
			j := l.rng.Intn(n)
			if j == i || contains(l.kNN[i], j) || contains(chosen, j) {
				continue
			}
			chosen = append(chosen, j)
		}
		for _, j := range chosen {
			out = append(out, pair{i, j})
		}
	}
	return out
}

// localFurtherPairs resamples further pairs among the points currently
// closest in the layout, excluding high-dimensional neighbors, so the
// final phase separates clusters that sit next to each other.
func (l *layout) localFurtherPairs() []pair {
	n := len(l.y)
	var out []pair
	idx := make([]int, 0, n-1)
	dist := make([]float64, n)
	for i := 0; i < n; i++ {
		idx = idx[:0]
		for j := 0; j < n; j++ {
			if j == i || contains(l.kNN[i], j) {
				continue
			}
			dist[j] = floats.Distance(l.y[i], l.y[j], 2)
			idx = append(idx, j)
		}
		sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })
		pool := idx
		if len(pool) > 4*l.nFP {
			pool = pool[:4*l.nFP]
		}
		perm := l.rng.Perm(len(pool))
		for p := 0; p < l.nFP && p < len(perm); p++ {
			out = append(out, pair{i, pool[perm[p]]})
		}
	}
	return out
}

func (l *layout) gradient(wNB, wMN, wFP float64, localAdjust bool) {
	for i := range l.grad {
		l.grad[i][0], l.grad[i][1] = 0, 0
	}
	apply := func(p pair, coef float64) {
		dx := l.y[p.i][0] - l.y[p.j][0]
		dy := l.y[p.i][1] - l.y[p.j][1]
		l.grad[p.i][0] += coef * dx
		l.grad[p.i][1] += coef * dy
		l.grad[p.j][0] -= coef * dx
		l.grad[p.j][1] -= coef * dy
	}
	for _, p := range l.nb {
		d := 1 + sqDist(l.y[p.i], l.y[p.j])
		coef := wNB * 20 / ((10 + d) * (10 + d))
		if localAdjust && d > lowDistThreshold {
			coef *= lowDistThreshold / (2 * math.Sqrt(d))
		}
		apply(p, coef)
	}
	if wMN > 0 {
		for _, p := range l.mn {
			d := 1 + sqDist(l.y[p.i], l.y[p.j])
			apply(p, wMN*20000/((10000+d)*(10000+d)))
		}
	}
	for _, p := range l.fp {
		d := 1 + sqDist(l.y[p.i], l.y[p.j])
		apply(p, -wFP*2/((1+d)*(1+d)))
	}
}

func (l *layout) adam() {
	l.step++
	b1t := 1 - math.Pow(adamBeta1, float64(l.step))
	b2t := 1 - math.Pow(adamBeta2, float64(l.step))
	lr := learningRate * math.Sqrt(b2t) / b1t
	for i := range l.y {
		for c := 0; c < Dims; c++ {
			g := l.grad[i][c]
			l.m[i][c] += (1 - adamBeta1) * (g - l.m[i][c])
			l.v[i][c] += (1 - adamBeta2) * (g*g - l.v[i][c])
			l.y[i][c] -= lr * l.m[i][c] / (math.Sqrt(l.v[i][c]) + adamEps)
		}
	}
}

func sqDist(a, b []float64) float64 {
	dx := a[0] - b[0]
	dy := a[1] - b[1]
	return dx*dx + dy*dy
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
