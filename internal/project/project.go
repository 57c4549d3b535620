// Package project reduces an imputed vote matrix to two dimensions.
//
// The algorithm set is closed: PCA, PaCMAP and LocalMAP. Each is reached
// through the variants table; callers never branch on names themselves.
// Every variant receives the same column-mean imputed input, and only PCA
// output is rescaled for sparsity.
package project

import (
	"fmt"
	"math"
	"strings"
)

// Algorithm identifies a projection variant.
type Algorithm string

const (
	PCA      Algorithm = "pca"
	PaCMAP   Algorithm = "pacmap"
	LocalMAP Algorithm = "localmap"
)

// Dims is the output dimensionality of every projection.
const Dims = 2

// DefaultSeed matches the seed the published opinion maps were built with.
const DefaultSeed int64 = 607642

// Options carries algorithm parameters. Zero values select defaults.
type Options struct {
	Seed int64
	// NNeighbors overrides DefaultNeighbors for the manifold variants.
	NNeighbors int
}

type fitFunc func(x [][]float64, opts Options) ([][]float64, error)

type variant struct {
	display       string
	fit           fitFunc
	sparsityScale bool
}

var variants = map[Algorithm]variant{
	PCA:      {display: "PCA", fit: fitPCA, sparsityScale: true},
	PaCMAP:   {display: "PaCMAP", fit: fitPaCMAP},
	LocalMAP: {display: "LocalMAP", fit: fitLocalMAP},
}

// Algorithms lists every variant in canonical order.
func Algorithms() []Algorithm { return []Algorithm{PCA, PaCMAP, LocalMAP} }

// Parse resolves a case-insensitive algorithm name.
func Parse(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := variants[a]; !ok {
		return "", fmt.Errorf("unknown projection method: %q", name)
	}
	return a, nil
}

// DisplayName returns the conventional spelling, e.g. "PaCMAP".
func (a Algorithm) DisplayName() string {
	if v, ok := variants[a]; ok {
		return v.display
	}
	return string(a)
}

// Run imputes missing values in sparse (NaN = missing), applies the
// algorithm and, for PCA, rescales rows for sparsity. The result has one
// [x, y] row per input row.
//
// Sparsity is measured over the columns of sparse only. Callers that drop
// moderated-out statements before projecting therefore scale by votes on
// the kept statements, not by votes on every statement in the conversation.
func Run(a Algorithm, sparse [][]float64, opts Options) ([][]float64, error) {
	v, ok := variants[a]
	if !ok {
		return nil, fmt.Errorf("unknown projection method: %q", a)
	}
	if len(sparse) == 0 {
		return [][]float64{}, nil
	}
	if opts.NNeighbors <= 0 {
		opts.NNeighbors = DefaultNeighbors(len(sparse))
	}

	out, err := v.fit(Impute(sparse), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", v.display, err)
	}
	if len(out) != len(sparse) {
		return nil, fmt.Errorf("%s: returned %d rows for %d inputs", v.display, len(out), len(sparse))
	}
	if v.sparsityScale {
		out = SparsityAwareScale(out, sparse)
	}
	return out, nil
}

// DefaultNeighbors is the population-adaptive neighborhood size used by
// PaCMAP: 10 up to 10,000 points, then 10 + 15·(log10(n) − 4).
func DefaultNeighbors(n int) int {
	if n <= 10000 {
		return 10
	}
	return int(math.Round(10 + 15*(math.Log10(float64(n))-4)))
}

// Impute replaces NaN cells with their column mean over all rows. A column
// with no values at all is filled with 0.
func Impute(sparse [][]float64) [][]float64 {
	if len(sparse) == 0 {
		return nil
	}
	cols := len(sparse[0])
	sums := make([]float64, cols)
	counts := make([]int, cols)
	for _, row := range sparse {
		for j, v := range row {
			if !math.IsNaN(v) {
				sums[j] += v
				counts[j]++
			}
		}
	}
	means := make([]float64, cols)
	for j := range means {
		if counts[j] > 0 {
			means[j] = sums[j] / float64(counts[j])
		}
	}

	out := make([][]float64, len(sparse))
	for i, row := range sparse {
		filled := make([]float64, cols)
		for j, v := range row {
			if math.IsNaN(v) {
				v = means[j]
			}
			filled[j] = v
		}
		out[i] = filled
	}
	return out
}

// SparsityAwareScale multiplies each projected row by
// sqrt(statements / votes cast) so participants who voted on few statements
// are not collapsed toward the origin by mean imputation. Both counts come
// from the columns of sparse.
func SparsityAwareScale(projected, sparse [][]float64) [][]float64 {
	out := make([][]float64, len(projected))
	for i, row := range projected {
		total := len(sparse[i])
		voted := 0
		for _, v := range sparse[i] {
			if !math.IsNaN(v) {
				voted++
			}
		}
		if voted == 0 {
			voted = 1
		}
		f := math.Sqrt(float64(total) / float64(voted))
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = v * f
		}
		out[i] = scaled
	}
	return out
}

func zeros(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, Dims)
	}
	return out
}
