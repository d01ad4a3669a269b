// Package calculations provides the shared statistics helpers used by every
// risk module: moments, quantiles, VaR/ES estimators, covariance and
// Cholesky factorization, plus an in-memory cache for expensive results.
package calculations

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// stdNormal is the unit normal used for parametric quantiles.
var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Moments holds the first four distribution moments of a return series.
type Moments struct {
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std"`
	Skewness float64 `json:"skew"`
	Kurtosis float64 `json:"kurtosis"` // excess kurtosis
}

// ComputeMoments calculates mean, standard deviation, skewness and excess
// kurtosis of a series.
func ComputeMoments(data []float64) Moments {
	if len(data) == 0 {
		return Moments{}
	}
	m := Moments{
		Mean:   stat.Mean(data, nil),
		StdDev: stat.StdDev(data, nil),
	}
	if len(data) > 2 && m.StdDev > 0 {
		m.Skewness = stat.Skew(data, nil)
		m.Kurtosis = stat.ExKurtosis(data, nil)
	}
	return m
}

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Percentile returns the empirical p-quantile of data (p in [0, 1]).
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// HistoricalVaR estimates Value at Risk from the empirical return
// distribution. The result is a positive loss magnitude.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	return -Percentile(returns, 1-confidence)
}

// HistoricalES estimates Expected Shortfall as the mean return at or below
// the negative VaR threshold. When no observation sits in the tail the ES
// degrades to the VaR itself, keeping the ES >= VaR invariant.
func HistoricalES(returns []float64, confidence float64) float64 {
	v := HistoricalVaR(returns, confidence)
	sum := 0.0
	count := 0
	for _, r := range returns {
		if r <= -v {
			sum += r
			count++
		}
	}
	if count == 0 {
		return v
	}
	es := -sum / float64(count)
	if es < v {
		return v
	}
	return es
}

// ParametricVaR estimates Gaussian VaR from sample mean and standard
// deviation. Zero variance degrades to the mean loss.
func ParametricVaR(mean, std, confidence float64) float64 {
	if std <= 0 {
		return -mean
	}
	z := stdNormal.Quantile(1 - confidence)
	return -(mean + std*z)
}

// ParametricES estimates Gaussian Expected Shortfall via the closed-form
// normal tail mean: ES = -mean + std * phi(z) / (1 - confidence).
func ParametricES(mean, std, confidence float64) float64 {
	if std <= 0 {
		return -mean
	}
	z := stdNormal.Quantile(1 - confidence)
	return -mean + std*stdNormal.Prob(z)/(1-confidence)
}

// CovarianceMatrix computes the sample covariance matrix of the columns,
// where data is T observations by K assets in row-major order.
func CovarianceMatrix(rows [][]float64, cols int) (*mat.SymDense, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", len(rows))
	}
	flat := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	dense := mat.NewDense(len(rows), cols, flat)
	cov := mat.NewSymDense(cols, nil)
	stat.CovarianceMatrix(cov, dense, nil)
	return cov, nil
}

// CholeskyFactor returns the lower-triangular Cholesky factor of a
// covariance matrix. Near-singular matrices get a small diagonal ridge
// before a second attempt.
func CholeskyFactor(cov *mat.SymDense) (*mat.TriDense, error) {
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		var lower mat.TriDense
		chol.LTo(&lower)
		return &lower, nil
	}

	n := cov.SymmetricDim()
	ridged := mat.NewSymDense(n, nil)
	ridged.CopySym(cov)
	trace := 0.0
	for i := 0; i < n; i++ {
		trace += cov.At(i, i)
	}
	ridge := math.Max(trace/float64(n)*1e-8, 1e-12)
	for i := 0; i < n; i++ {
		ridged.SetSym(i, i, ridged.At(i, i)+ridge)
	}
	if !chol.Factorize(ridged) {
		return nil, fmt.Errorf("covariance matrix is not positive definite")
	}
	var lower mat.TriDense
	chol.LTo(&lower)
	return &lower, nil
}

// PortfolioVolatility computes sqrt(w' Sigma w).
func PortfolioVolatility(weights []float64, cov *mat.SymDense) float64 {
	n := len(weights)
	variance := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			variance += weights[i] * weights[j] * cov.At(i, j)
		}
	}
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// MeanAbsoluteDeviation computes the mean absolute deviation around the mean.
func MeanAbsoluteDeviation(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	mean := stat.Mean(data, nil)
	sum := 0.0
	for _, v := range data {
		sum += math.Abs(v - mean)
	}
	return sum / float64(len(data))
}

// SpearmanCorrelation computes the Spearman rank correlation by applying
// Pearson correlation to the rank-transformed series.
func SpearmanCorrelation(x, y []float64) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("series length mismatch: %d vs %d", len(x), len(y))
	}
	if len(x) < 3 {
		return 0, fmt.Errorf("need at least 3 observations for rank correlation, got %d", len(x))
	}
	return stat.Correlation(ranks(x), ranks(y), nil), nil
}

// ranks returns average ranks (ties share the mean rank).
func ranks(data []float64) []float64 {
	n := len(data)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return data[idx[a]] < data[idx[b]] })

	out := make([]float64, n)
	i := 0
	for i < n {
		j := i
		for j+1 < n && data[idx[j+1]] == data[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}
