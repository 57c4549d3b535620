package cluster

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// fitKMeans runs Lloyd's algorithm. Seeded runs start from opts.Init;
// otherwise centers come from a k-means++ draw on opts.Seed.
func fitKMeans(points [][]float64, opts Options) ([]int, error) {
	n := len(points)
	dims := len(points[0])

	var centers [][]float64
	if len(opts.Init) > 0 {
		seeds := opts.Init
		if len(seeds) > n {
			seeds = seeds[:n]
		}
		centers = make([][]float64, len(seeds))
		for i, c := range seeds {
			centers[i] = make([]float64, dims)
			copy(centers[i], c[:])
		}
	} else {
		k := opts.K
		if k <= 0 {
			k = DefaultK
		}
		if k > n {
			k = n
		}
		centers = kMeansPlusPlus(points, k, rand.New(rand.NewSource(opts.Seed)))
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	sums := make([][]float64, len(centers))
	for c := range sums {
		sums[c] = make([]float64, dims)
	}
	counts := make([]int, len(centers))

	for iter := 0; iter < maxKMeansIterations; iter++ {
		changed := false
		for i, p := range points {
			if best := nearest(p, centers); best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		for c := range sums {
			floats.Scale(0, sums[c])
			counts[c] = 0
		}
		for i, p := range points {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centers {
			// An empty cluster keeps its previous center.
			if counts[c] == 0 {
				continue
			}
			floats.ScaleTo(centers[c], 1/float64(counts[c]), sums[c])
		}
	}
	return labels, nil
}

func nearest(p []float64, centers [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if d := sqDistance(p, center); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func kMeansPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), points[rng.Intn(n)]...))

	dist := make([]float64, n)
	for i, p := range points {
		dist[i] = sqDistance(p, centers[0])
	}
	for len(centers) < k {
		total := floats.Sum(dist)
		next := 0
		if total == 0 {
			next = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				next = i
				if target < 0 {
					break
				}
			}
		}
		c := append([]float64(nil), points[next]...)
		centers = append(centers, c)
		for i, p := range points {
			if d := sqDistance(p, c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centers
}

func sqDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}
