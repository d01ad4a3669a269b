package tailrisk

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// fitGPDMaxLikelihood fits Generalized Pareto (shape, scale) to excesses
// over a threshold by minimizing the negative log-likelihood with
// Nelder-Mead. The scale is optimized on the log scale to keep it positive.
func fitGPDMaxLikelihood(excesses []float64) (shape, scale float64, err error) {
	shape0, scale0 := momentsGPD(excesses, 0)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return gpdNegLogLikelihood(excesses, x[0], math.Exp(x[1]))
		},
	}

	initial := []float64{shape0, math.Log(math.Max(scale0, 1e-8))}
	result, optErr := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if optErr != nil {
		return 0, 0, fmt.Errorf("GPD optimization failed: %w", optErr)
	}
	if !converged(result.Status) {
		return 0, 0, fmt.Errorf("GPD optimization did not converge: status=%v", result.Status)
	}

	shape = result.X[0]
	scale = math.Exp(result.X[1])
	if !isFiniteParam(shape) || !isFiniteParam(scale) || scale <= 0 {
		return 0, 0, fmt.Errorf("GPD optimization produced degenerate parameters: shape=%v scale=%v", shape, scale)
	}
	return shape, scale, nil
}

// gpdNegLogLikelihood is the GPD negative log-likelihood; +Inf outside the
// distribution's support.
func gpdNegLogLikelihood(excesses []float64, shape, scale float64) float64 {
	if scale <= 0 {
		return math.Inf(1)
	}
	nll := 0.0
	for _, y := range excesses {
		if math.Abs(shape) < shapeEpsilon {
			nll += math.Log(scale) + y/scale
			continue
		}
		z := 1 + shape*y/scale
		if z <= 0 {
			return math.Inf(1)
		}
		nll += math.Log(scale) + (1+1/shape)*math.Log(z)
	}
	return nll
}

// momentsGPD is the method-of-moments GPD estimate. Degenerate samples (too
// few excesses or zero variance) get the 0.2 heavy-tail heuristic and a
// scale derived from whatever spread information exists, so the fallback
// always yields a usable positive scale.
func momentsGPD(excesses []float64, lossStd float64) (shape, scale float64) {
	const heuristicShape = 0.2

	if len(excesses) < 2 {
		scale = lossStd
		if len(excesses) == 1 && excesses[0] > 0 {
			scale = excesses[0]
		}
		return heuristicShape, math.Max(scale, 1e-4)
	}

	mean := stat.Mean(excesses, nil)
	variance := stat.Variance(excesses, nil)
	if mean <= 0 || variance <= 0 {
		return heuristicShape, math.Max(math.Max(mean, lossStd), 1e-4)
	}

	r := mean * mean / variance
	shape = 0.5 * (1 - r)
	scale = 0.5 * mean * (r + 1)

	// Clamp to the region where quantile inversion stays sane.
	shape = math.Max(-0.5, math.Min(0.9, shape))
	scale = math.Max(scale, 1e-8)
	return shape, scale
}

// fitGEVMaxLikelihood fits GEV (shape, location, scale) to block maxima by
// minimizing the negative log-likelihood with Nelder-Mead, starting from
// the Gumbel moment estimates.
func fitGEVMaxLikelihood(maxima []float64) (shape, location, scale float64, err error) {
	mean := stat.Mean(maxima, nil)
	std := stat.StdDev(maxima, nil)
	if std <= 0 {
		return 0, 0, 0, fmt.Errorf("block maxima have zero variance")
	}

	// Gumbel moment estimators seed the search.
	scale0 := std * math.Sqrt(6) / math.Pi
	location0 := mean - 0.5772*scale0

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return gevNegLogLikelihood(maxima, x[0], x[1], math.Exp(x[2]))
		},
	}

	initial := []float64{0.1, location0, math.Log(math.Max(scale0, 1e-8))}
	result, optErr := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if optErr != nil {
		return 0, 0, 0, fmt.Errorf("GEV optimization failed: %w", optErr)
	}
	if !converged(result.Status) {
		return 0, 0, 0, fmt.Errorf("GEV optimization did not converge: status=%v", result.Status)
	}

	shape = result.X[0]
	location = result.X[1]
	scale = math.Exp(result.X[2])
	if !isFiniteParam(shape) || !isFiniteParam(location) || !isFiniteParam(scale) || scale <= 0 {
		return 0, 0, 0, fmt.Errorf("GEV optimization produced degenerate parameters: shape=%v location=%v scale=%v", shape, location, scale)
	}
	return shape, location, scale, nil
}

// gevNegLogLikelihood is the GEV negative log-likelihood; +Inf outside the
// distribution's support.
func gevNegLogLikelihood(maxima []float64, shape, location, scale float64) float64 {
	if scale <= 0 {
		return math.Inf(1)
	}
	nll := 0.0
	for _, y := range maxima {
		z := (y - location) / scale
		if math.Abs(shape) < shapeEpsilon {
			nll += math.Log(scale) + z + math.Exp(-z)
			continue
		}
		t := 1 + shape*z
		if t <= 0 {
			return math.Inf(1)
		}
		nll += math.Log(scale) + (1+1/shape)*math.Log(t) + math.Pow(t, -1/shape)
	}
	return nll
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold, optimize.StepConvergence:
		return true
	default:
		return false
	}
}

func isFiniteParam(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
