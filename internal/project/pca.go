package project

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// fitPCA projects onto the first two principal axes. Axis signs are fixed
// so the largest-magnitude loading of each axis is positive, which makes the
// output independent of the SVD backend's sign choice.
func fitPCA(x [][]float64, _ Options) ([][]float64, error) {
	n := len(x)
	if n == 0 {
		return [][]float64{}, nil
	}
	d := len(x[0])
	if d == 0 || n < 2 {
		return zeros(n), nil
	}

	centered := mat.NewDense(n, d, nil)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			col[i] = x[i][j]
		}
		mean := stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			centered.Set(i, j, x[i][j]-mean)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, errors.New("SVD did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	_, rank := v.Dims()
	k := Dims
	if rank < k {
		k = rank
	}
	for c := 0; c < k; c++ {
		if axisSign(&v, c) < 0 {
			for r := 0; r < d; r++ {
				v.Set(r, c, -v.At(r, c))
			}
		}
	}

	var proj mat.Dense
	proj.Mul(centered, v.Slice(0, d, 0, k))

	out := zeros(n)
	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			out[i][c] = proj.At(i, c)
		}
	}
	return out, nil
}

func axisSign(v *mat.Dense, c int) float64 {
	rows, _ := v.Dims()
	best, sign := 0.0, 1.0
	for r := 0; r < rows; r++ {
		if a := math.Abs(v.At(r, c)); a > best {
			best = a
			sign = math.Copysign(1, v.At(r, c))
		}
	}
	return sign
}
