// Package cluster assigns cluster labels to projected 2-D coordinates.
//
// Two variants exist: centroid-based KMeans and density-based HDBSCAN. Both
// return one label per input point in input order; HDBSCAN uses Noise for
// points outside every dense region.
package cluster

import (
	"fmt"
	"strings"

	"github.com/hurttlocker/polismap/internal/polis"
	"github.com/hurttlocker/polismap/internal/project"
)

// Algorithm identifies a clustering variant.
type Algorithm string

const (
	KMeans  Algorithm = "kmeans"
	HDBSCAN Algorithm = "hdbscan"
)

// Noise is the HDBSCAN label for unclustered points.
const Noise = -1

// Defaults.
const (
	DefaultK              = 3
	DefaultMinClusterSize = 5
	maxKMeansIterations   = 300
)

// Options carries clustering parameters. Zero values select defaults.
type Options struct {
	Seed int64
	// K is the KMeans cluster count when Init is empty.
	K int
	// MinClusterSize is the HDBSCAN minimum cluster size.
	MinClusterSize int
	// Init seeds KMeans; its length fixes the cluster count. Ignored by
	// HDBSCAN.
	Init [][2]float64
}

type fitFunc func(points [][]float64, opts Options) ([]int, error)

type variant struct {
	display string
	fit     fitFunc
}

var variants = map[Algorithm]variant{
	KMeans:  {display: "KMeans", fit: fitKMeans},
	HDBSCAN: {display: "HDBSCAN", fit: fitHDBSCAN},
}

// Algorithms lists every variant in canonical order.
func Algorithms() []Algorithm { return []Algorithm{KMeans, HDBSCAN} }

// Parse resolves a case-insensitive algorithm name.
func Parse(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := variants[a]; !ok {
		return "", fmt.Errorf("unknown clustering method: %q", name)
	}
	return a, nil
}

// DisplayName returns the conventional spelling, e.g. "HDBSCAN".
func (a Algorithm) DisplayName() string {
	if v, ok := variants[a]; ok {
		return v.display
	}
	return string(a)
}

// Run labels points with the given algorithm.
func Run(a Algorithm, points [][]float64, opts Options) ([]int, error) {
	v, ok := variants[a]
	if !ok {
		return nil, fmt.Errorf("unknown clustering method: %q", a)
	}
	if len(points) == 0 {
		return []int{}, nil
	}
	labels, err := v.fit(points, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", v.display, err)
	}
	if len(labels) != len(points) {
		return nil, fmt.Errorf("%s: returned %d labels for %d points", v.display, len(labels), len(points))
	}
	return labels, nil
}

// UsesSeeds reports whether the (projection, clusterer) pair consumes
// centroid seeds: PCA paired with KMeans.
func UsesSeeds(p project.Algorithm, c Algorithm) bool {
	return p == project.PCA && c == KMeans
}

// ResolveSeeds converts the snapshot's group centers into initial KMeans
// centroids, negating x and/or y. A nil snapshot yields no seeds.
func ResolveSeeds(snap *polis.MathSnapshot, flipX, flipY bool) [][2]float64 {
	centers := snap.Centers()
	if len(centers) == 0 {
		return nil
	}
	out := make([][2]float64, len(centers))
	for i, c := range centers {
		if flipX {
			c[0] = -c[0]
		}
		if flipY {
			c[1] = -c[1]
		}
		out[i] = c
	}
	return out
}

// Count returns the number of distinct non-noise labels.
func Count(labels []int) int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		if l != Noise {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}
