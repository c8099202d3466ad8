package fusion

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Dense-slice matrix helpers sized for the small state and measurement
// dimensions the filter works with.

func zeroMat(r, c int) [][]float64 {
	m := make([][]float64, r)
	for i := 0; i < r; i++ {
		m[i] = make([]float64, c)
	}
	return m
}

func identity(n int) [][]float64 {
	m := zeroMat(n, n)
	for i := 0; i < n; i++ {
		m[i][i] = 1
	}
	return m
}

func matAdd(a, b [][]float64) [][]float64 {
	r := len(a)
	c := len(a[0])
	out := zeroMat(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[i][j] = a[i][j] + b[i][j]
		}
	}
	return out
}

func matMul(a, b [][]float64) [][]float64 {
	r := len(a)
	c := len(b[0])
	k := len(a[0])
	out := zeroMat(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sum := 0.0
			for t := 0; t < k; t++ {
				sum += a[i][t] * b[t][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

func transpose(a [][]float64) [][]float64 {
	r := len(a)
	c := len(a[0])
	out := zeroMat(c, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[j][i] = a[i][j]
		}
	}
	return out
}

func symmetrize(a [][]float64) [][]float64 {
	r := len(a)
	c := len(a[0])
	out := zeroMat(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[i][j] = 0.5 * (a[i][j] + a[j][i])
		}
	}
	return out
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func allFiniteMat(m [][]float64) bool {
	for i := 0; i < len(m); i++ {
		for j := 0; j < len(m[i]); j++ {
			if math.IsNaN(m[i][j]) || math.IsInf(m[i][j], 0) {
				return false
			}
		}
	}
	return true
}

// pinv computes the Moore-Penrose pseudo-inverse via SVD. Used for the
// innovation covariance so a near-singular measurement geometry degrades
// gracefully instead of blowing up the gain.
func pinv(a [][]float64) [][]float64 {
	r := len(a)
	if r == 0 {
		return [][]float64{}
	}
	c := len(a[0])

	data := make([]float64, 0, r*c)
	for _, row := range a {
		data = append(data, row...)
	}
	A := mat.NewDense(r, c, data)

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDThin); !ok {
		return zeroMat(c, r)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	maxS := 0.0
	if len(s) > 0 {
		maxS = s[0]
	}
	tol := 1e-15 * float64(max(r, c)) * maxS

	sigInv := mat.NewDense(len(s), len(s), nil)
	for i, val := range s {
		if val > tol {
			sigInv.Set(i, i, 1.0/val)
		}
	}

	var tmp, res mat.Dense
	tmp.Mul(&v, sigInv)
	res.Mul(&tmp, u.T())

	rows, cols := res.Dims()
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = make([]float64, cols)
		copy(out[i], res.RawRowView(i))
	}
	return out
}
