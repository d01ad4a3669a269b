// Package tailrisk implements an extreme value theory (EVT) model for
// heavy-tailed loss estimation. It supports Peaks-Over-Threshold fitting
// with a Generalized Pareto tail, Block-Maxima fitting with a Generalized
// Extreme Value distribution, analytic VaR/ES inversion, tail scenario
// sampling and tail dependence between two series.
package tailrisk

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/quantsingularity/riskoptimizer/internal/modules/calculations"
)

// Supported estimation methods.
const (
	MethodEVT        = "evt"
	MethodHistorical = "historical"
	MethodNormal     = "normal"
)

// DefaultThresholdQuantile is the default POT tail fraction (top 10% of
// losses).
const DefaultThresholdQuantile = 0.10

// Scenario severity bands: the tail probability range sampled from.
type Severity string

const (
	SeverityExtreme  Severity = "extreme"  // top 1%
	SeverityModerate Severity = "moderate" // top 5%
	SeverityMixed    Severity = "mixed"    // top 10%
)

const (
	minExceedances = 10
	minBlocks      = 10
	shapeEpsilon   = 1e-6 // below this the exponential-limit forms apply
)

// esShapeCap multiplies VaR when the GPD shape makes the closed-form ES
// diverge (shape >= 1). The tail mean is unbounded there; the cap keeps the
// result finite and flagged.
const esShapeCap = 1.5

// POTFit holds Generalized Pareto parameters fitted to excesses over a
// threshold. Immutable once returned.
type POTFit struct {
	Shape          float64 `json:"shape"`
	Scale          float64 `json:"scale"`
	Threshold      float64 `json:"threshold"`
	Exceedances    int     `json:"exceedances"`
	MomentFallback bool    `json:"moment_fallback"`
}

// BlockMaximaFit holds Generalized Extreme Value parameters fitted to
// per-block maximum losses. Immutable once returned.
type BlockMaximaFit struct {
	Shape          float64 `json:"shape"`
	Location       float64 `json:"location"`
	Scale          float64 `json:"scale"`
	Blocks         int     `json:"blocks"`
	NormalFallback bool    `json:"normal_fallback"`
}

// Model estimates the heavy tail of a loss distribution. A model holds at
// most one POT fit and one Block-Maxima fit at a time.
type Model struct {
	returns []float64
	losses  []float64
	pot     *POTFit
	blocks  *BlockMaximaFit
	log     zerolog.Logger
}

// NewModel creates a tail risk model over a return series. Losses are the
// negated returns.
func NewModel(returns []float64, log zerolog.Logger) *Model {
	losses := make([]float64, len(returns))
	for i, r := range returns {
		losses[i] = -r
	}
	return &Model{
		returns: returns,
		losses:  losses,
		log:     log.With().Str("component", "tailrisk").Logger(),
	}
}

// POT returns the current Peaks-Over-Threshold fit, or nil.
func (m *Model) POT() *POTFit { return m.pot }

// BlockMaxima returns the current Block-Maxima fit, or nil.
func (m *Model) BlockMaxima() *BlockMaximaFit { return m.blocks }

// FitPOT fits a Generalized Pareto distribution to losses exceeding the
// given threshold. Fewer than 10 exceedances, or a failed maximum likelihood
// fit, degrade to a method-of-moments estimate with a logged warning.
func (m *Model) FitPOT(threshold float64) (*POTFit, error) {
	if len(m.losses) < 2 {
		return nil, fmt.Errorf("insufficient data: need at least 2 observations, got %d", len(m.losses))
	}

	excesses := make([]float64, 0)
	for _, l := range m.losses {
		if l > threshold {
			excesses = append(excesses, l-threshold)
		}
	}

	fit := &POTFit{Threshold: threshold, Exceedances: len(excesses)}

	if len(excesses) < minExceedances {
		fit.Shape, fit.Scale = momentsGPD(excesses, calculations.StdDev(m.losses))
		fit.MomentFallback = true
		m.log.Warn().
			Int("exceedances", len(excesses)).
			Int("required", minExceedances).
			Msg("Too few exceedances for MLE, using method-of-moments estimate")
		m.pot = fit
		return fit, nil
	}

	shape, scale, err := fitGPDMaxLikelihood(excesses)
	if err != nil {
		fit.Shape, fit.Scale = momentsGPD(excesses, calculations.StdDev(m.losses))
		fit.MomentFallback = true
		m.log.Warn().Err(err).Msg("GPD maximum likelihood fit failed, using method-of-moments estimate")
	} else {
		fit.Shape, fit.Scale = shape, scale
	}

	m.log.Debug().
		Float64("shape", fit.Shape).
		Float64("scale", fit.Scale).
		Float64("threshold", threshold).
		Int("exceedances", fit.Exceedances).
		Msg("Fitted POT tail")

	m.pot = fit
	return fit, nil
}

// FitPOTQuantile fits a POT tail using the empirical loss quantile as the
// threshold: quantile 0.10 means the top 10% of losses are treated as the
// tail.
func (m *Model) FitPOTQuantile(quantile float64) (*POTFit, error) {
	if quantile <= 0 || quantile >= 1 {
		return nil, fmt.Errorf("threshold quantile must be in (0, 1), got %v", quantile)
	}
	threshold := calculations.Percentile(m.losses, 1-quantile)
	return m.FitPOT(threshold)
}

// FitBlockMaxima partitions the loss series into contiguous non-overlapping
// blocks, takes per-block maxima and fits a GEV distribution. Fewer than 10
// blocks degrade to a normal approximation with a logged warning.
func (m *Model) FitBlockMaxima(blockSize int) (*BlockMaximaFit, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	numBlocks := len(m.losses) / blockSize
	if numBlocks == 0 {
		return nil, fmt.Errorf("series of %d observations is shorter than one block of %d", len(m.losses), blockSize)
	}

	maxima := make([]float64, numBlocks)
	for b := 0; b < numBlocks; b++ {
		maxVal := math.Inf(-1)
		for i := b * blockSize; i < (b+1)*blockSize; i++ {
			if m.losses[i] > maxVal {
				maxVal = m.losses[i]
			}
		}
		maxima[b] = maxVal
	}

	fit := &BlockMaximaFit{Blocks: numBlocks}

	if numBlocks < minBlocks {
		fit.Shape = 0
		fit.Location = calculations.Mean(maxima)
		fit.Scale = math.Max(calculations.StdDev(maxima), 1e-8)
		fit.NormalFallback = true
		m.log.Warn().
			Int("blocks", numBlocks).
			Int("required", minBlocks).
			Msg("Too few blocks for GEV fit, using normal approximation")
		m.blocks = fit
		return fit, nil
	}

	shape, location, scale, err := fitGEVMaxLikelihood(maxima)
	if err != nil {
		fit.Shape = 0
		fit.Location = calculations.Mean(maxima)
		fit.Scale = math.Max(calculations.StdDev(maxima), 1e-8)
		fit.NormalFallback = true
		m.log.Warn().Err(err).Msg("GEV maximum likelihood fit failed, using normal approximation")
	} else {
		fit.Shape, fit.Location, fit.Scale = shape, location, scale
	}

	m.log.Debug().
		Float64("shape", fit.Shape).
		Float64("location", fit.Location).
		Float64("scale", fit.Scale).
		Int("blocks", numBlocks).
		Msg("Fitted block maxima tail")

	m.blocks = fit
	return fit, nil
}

// VaR answers a Value-at-Risk query for the given confidence level as a
// positive loss magnitude. Method "evt" requires exactly one of a POT or
// Block-Maxima fit.
func (m *Model) VaR(confidence float64, method string) (float64, error) {
	if confidence <= 0 || confidence >= 1 {
		return 0, fmt.Errorf("confidence level must be in (0, 1), got %v", confidence)
	}

	switch method {
	case MethodEVT:
		switch {
		case m.pot != nil && m.blocks != nil:
			return 0, fmt.Errorf("both POT and block maxima fits present, method evt is ambiguous")
		case m.pot != nil:
			return m.potVaR(confidence), nil
		case m.blocks != nil:
			return m.gevVaR(confidence), nil
		default:
			return 0, fmt.Errorf("method evt requires a POT or block maxima fit")
		}
	case MethodHistorical:
		return calculations.HistoricalVaR(m.returns, confidence), nil
	case MethodNormal:
		mean := calculations.Mean(m.returns)
		std := calculations.StdDev(m.returns)
		return calculations.ParametricVaR(mean, std, confidence), nil
	default:
		return 0, fmt.Errorf("unsupported method %q", method)
	}
}

// VaRForReturnPeriod converts a return period (in observation units) into
// the equivalent confidence level, confidence = 1 - 1/period, and answers
// the VaR query at that level.
func (m *Model) VaRForReturnPeriod(period float64, method string) (float64, error) {
	if period <= 1 {
		return 0, fmt.Errorf("return period must exceed 1 observation, got %v", period)
	}
	return m.VaR(1-1/period, method)
}

// ES answers an Expected Shortfall query for the given confidence level as
// a positive loss magnitude.
func (m *Model) ES(confidence float64, method string) (float64, error) {
	if confidence <= 0 || confidence >= 1 {
		return 0, fmt.Errorf("confidence level must be in (0, 1), got %v", confidence)
	}

	switch method {
	case MethodEVT:
		switch {
		case m.pot != nil && m.blocks != nil:
			return 0, fmt.Errorf("both POT and block maxima fits present, method evt is ambiguous")
		case m.pot != nil:
			return m.potES(confidence), nil
		case m.blocks != nil:
			return m.gevES(confidence), nil
		default:
			return 0, fmt.Errorf("method evt requires a POT or block maxima fit")
		}
	case MethodHistorical:
		return calculations.HistoricalES(m.returns, confidence), nil
	case MethodNormal:
		mean := calculations.Mean(m.returns)
		std := calculations.StdDev(m.returns)
		return calculations.ParametricES(mean, std, confidence), nil
	default:
		return 0, fmt.Errorf("unsupported method %q", method)
	}
}

// potVaR inverts the conditional exceedance probability above the threshold.
// For tail probabilities inside the empirical body it falls back to the
// empirical loss quantile.
func (m *Model) potVaR(confidence float64) float64 {
	fit := m.pot
	p := 1 - confidence
	exceedProb := float64(fit.Exceedances) / float64(len(m.losses))

	if exceedProb <= 0 || p >= exceedProb {
		return calculations.Percentile(m.losses, confidence)
	}

	ratio := exceedProb / p
	if math.Abs(fit.Shape) < shapeEpsilon {
		// Exponential limit of the GPD.
		return fit.Threshold + fit.Scale*math.Log(ratio)
	}
	return fit.Threshold + fit.Scale/fit.Shape*(math.Pow(ratio, fit.Shape)-1)
}

// potES uses the closed-form GPD relationship between VaR and ES, valid for
// shape < 1. At shape >= 1 the tail mean diverges and the result is capped.
func (m *Model) potES(confidence float64) float64 {
	fit := m.pot
	v := m.potVaR(confidence)
	if fit.Shape >= 1 {
		return m.cappedES(v)
	}
	es := v/(1-fit.Shape) + (fit.Scale-fit.Shape*fit.Threshold)/(1-fit.Shape)
	if es < v {
		return v
	}
	return es
}

// cappedES is the named approximation path for the ES singularity at
// shape >= 1: a finite multiple of VaR instead of an unbounded tail mean.
func (m *Model) cappedES(varValue float64) float64 {
	m.log.Warn().
		Float64("shape", m.pot.Shape).
		Msg("GPD shape >= 1, expected shortfall is unbounded; returning capped approximation")
	return esShapeCap * varValue
}

// gevVaR inverts the GEV quantile function at the confidence level.
func (m *Model) gevVaR(confidence float64) float64 {
	fit := m.blocks
	if math.Abs(fit.Shape) < shapeEpsilon {
		return fit.Location - fit.Scale*math.Log(-math.Log(confidence))
	}
	return fit.Location + fit.Scale/fit.Shape*(math.Pow(-math.Log(confidence), -fit.Shape)-1)
}

// gevES approximates ES as the empirical mean of losses at or beyond the
// GEV VaR. An empty tail degrades to the VaR itself.
func (m *Model) gevES(confidence float64) float64 {
	v := m.gevVaR(confidence)
	sum := 0.0
	count := 0
	for _, l := range m.losses {
		if l >= v {
			sum += l
			count++
		}
	}
	if count == 0 {
		return v
	}
	es := sum / float64(count)
	if es < v {
		return v
	}
	return es
}

// severityBand maps a severity to the width of the sampled tail probability
// range.
func severityBand(severity Severity) (float64, error) {
	switch severity {
	case SeverityExtreme:
		return 0.01, nil
	case SeverityModerate:
		return 0.05, nil
	case SeverityMixed, "":
		return 0.10, nil
	default:
		return 0, fmt.Errorf("unsupported severity %q", severity)
	}
}

// GenerateScenarios draws n synthetic losses by inverse-transform sampling
// from the fitted tail model, restricted to the severity band for POT fits.
// Block-Maxima fits sample the GEV directly. Historical and normal methods
// resample or perturb the empirical and Gaussian distributions within the
// same band. A nil rng gets a clock-seeded source.
func (m *Model) GenerateScenarios(n int, method string, severity Severity, rng *rand.Rand) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("scenario count must be positive, got %d", n)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	band, err := severityBand(severity)
	if err != nil {
		return nil, err
	}

	scenarios := make([]float64, n)
	switch method {
	case MethodEVT:
		switch {
		case m.pot != nil && m.blocks != nil:
			return nil, fmt.Errorf("both POT and block maxima fits present, method evt is ambiguous")
		case m.pot != nil:
			for i := range scenarios {
				p := tailProbability(rng, band)
				scenarios[i] = m.potVaRAt(p)
			}
		case m.blocks != nil:
			for i := range scenarios {
				u := rng.Float64()
				if u <= 0 {
					u = math.SmallestNonzeroFloat64
				}
				scenarios[i] = m.gevVaR(u)
			}
		default:
			return nil, fmt.Errorf("method evt requires a POT or block maxima fit")
		}
	case MethodHistorical:
		tail := m.tailLosses(band)
		for i := range scenarios {
			scenarios[i] = tail[rng.Intn(len(tail))]
		}
	case MethodNormal:
		mean := calculations.Mean(m.returns)
		std := calculations.StdDev(m.returns)
		for i := range scenarios {
			p := tailProbability(rng, band)
			scenarios[i] = calculations.ParametricVaR(mean, std, 1-p)
		}
	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}

	return scenarios, nil
}

// potVaRAt is potVaR expressed on the tail probability scale.
func (m *Model) potVaRAt(p float64) float64 {
	return m.potVaR(1 - p)
}

// tailProbability draws a tail probability uniformly from (0, band].
func tailProbability(rng *rand.Rand, band float64) float64 {
	p := rng.Float64() * band
	if p <= 0 {
		p = band * math.SmallestNonzeroFloat64
	}
	return p
}

// tailLosses returns the worst band-fraction of losses; never empty.
func (m *Model) tailLosses(band float64) []float64 {
	threshold := calculations.Percentile(m.losses, 1-band)
	tail := make([]float64, 0)
	for _, l := range m.losses {
		if l >= threshold {
			tail = append(tail, l)
		}
	}
	if len(tail) == 0 {
		maxLoss := m.losses[0]
		for _, l := range m.losses[1:] {
			if l > maxLoss {
				maxLoss = l
			}
		}
		tail = []float64{maxLoss}
	}
	return tail
}

// TailDependence measures the probability that y breaches its own extreme
// quantile given x has breached its threshold. The empirical method counts
// joint breaches; the copula method derives a Student-t tail dependence
// coefficient from the Spearman rank correlation. The result is in [0, 1].
func TailDependence(x, y []float64, method string, quantile float64, log zerolog.Logger) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("series length mismatch: %d vs %d", len(x), len(y))
	}
	if len(x) < 10 {
		return 0, fmt.Errorf("need at least 10 paired observations, got %d", len(x))
	}
	if quantile <= 0 || quantile >= 1 {
		return 0, fmt.Errorf("threshold quantile must be in (0, 1), got %v", quantile)
	}

	switch method {
	case "empirical":
		tx := calculations.Percentile(x, quantile)
		ty := calculations.Percentile(y, quantile)
		joint, breaches := 0, 0
		for i := range x {
			if x[i] > tx {
				breaches++
				if y[i] > ty {
					joint++
				}
			}
		}
		if breaches == 0 {
			return 0, nil
		}
		return clamp01(float64(joint) / float64(breaches)), nil
	case "copula":
		spearman, err := calculations.SpearmanCorrelation(x, y)
		if err != nil {
			return 0, err
		}
		// Spearman to Pearson under ellipticity, then the Student-t tail
		// dependence coefficient with nu = 4.
		rho := 2 * math.Sin(math.Pi*spearman/6)
		rho = math.Max(-0.999, math.Min(0.999, rho))
		const nu = 4.0
		arg := -math.Sqrt((nu + 1) * (1 - rho) / (1 + rho))
		t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu + 1}
		lambda := 2 * t.CDF(arg)
		log.Debug().
			Float64("spearman", spearman).
			Float64("rho", rho).
			Float64("lambda", lambda).
			Msg("Computed copula tail dependence")
		return clamp01(lambda), nil
	default:
		return 0, fmt.Errorf("unsupported method %q", method)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
