// Package optimization searches the portfolio space by generating random
// candidate portfolios in parallel, then derives the efficient frontier and
// named optimal portfolios from the merged candidate set.
package optimization

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/quantsingularity/riskoptimizer/internal/domain"
	"github.com/quantsingularity/riskoptimizer/internal/engine"
	"github.com/quantsingularity/riskoptimizer/internal/modules/calculations"
)

// Supported risk measures.
const (
	RiskMarkowitz = "markowitz" // annualized volatility
	RiskCVaR      = "cvar"      // annualized 95% expected shortfall
	RiskMAD       = "mad"       // annualized mean absolute deviation
)

// DefaultFrontierBins is the number of return bins swept when building the
// efficient frontier.
const DefaultFrontierBins = 50

// frontierToleranceFactor scales the bin width into the tolerance window
// around each bin center. Candidates outside every window are excluded, so
// the frontier is an approximate envelope and may have fewer points than
// bins.
const frontierToleranceFactor = 0.25

// cvarConfidence is the confidence level behind the cvar risk measure.
const cvarConfidence = 0.95

// Options configures a portfolio search.
type Options struct {
	RiskMeasure  string
	Portfolios   int
	RiskFreeRate float64
	TargetReturn *float64
	TargetRisk   *float64
	FrontierBins int
}

// OptimalPortfolio is a selected candidate: weights plus its annualized
// return, risk and risk-adjusted ratio.
type OptimalPortfolio struct {
	Weights domain.Weights `json:"weights"`
	Return  float64        `json:"return"`
	Risk    float64        `json:"risk"`
	Ratio   float64        `json:"ratio"`
}

// FrontierPoint is one point of the approximate efficient frontier.
type FrontierPoint struct {
	Return  float64        `json:"return"`
	Risk    float64        `json:"risk"`
	Ratio   float64        `json:"ratio"`
	Weights domain.Weights `json:"weights"`
}

// Result holds the merged search output.
type Result struct {
	Frontier              []FrontierPoint   `json:"efficient_frontier"`
	MaxRatio              OptimalPortfolio  `json:"max_ratio_portfolio"`
	MinRisk               OptimalPortfolio  `json:"min_risk_portfolio"`
	TargetReturnPortfolio *OptimalPortfolio `json:"target_return_portfolio,omitempty"`
	TargetRiskPortfolio   *OptimalPortfolio `json:"target_risk_portfolio,omitempty"`
	Candidates            int               `json:"candidates"`
}

// candidate is the per-unit search output, merged after dispatch.
type candidate struct {
	weights []float64
	ret     float64
	risk    float64
	ratio   float64
}

// Searcher generates and ranks random portfolios.
type Searcher struct {
	dispatcher *engine.Dispatcher
	cache      *calculations.Cache
	log        zerolog.Logger
}

// NewSearcher creates a portfolio searcher. The cache is optional; when set,
// covariance matrices are reused across calls that present the same return
// data.
func NewSearcher(cfg engine.Config, cache *calculations.Cache, log zerolog.Logger) *Searcher {
	return &Searcher{
		dispatcher: engine.New(cfg, log),
		cache:      cache,
		log:        log.With().Str("component", "optimizer").Logger(),
	}
}

// Run searches opts.Portfolios random candidates in parallel batches and
// derives the frontier and named portfolios. Every returned portfolio has
// non-negative weights summing to 1.
func (s *Searcher) Run(ctx context.Context, table *domain.ReturnTable, opts Options) (*Result, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid return table: %w", err)
	}
	if opts.Portfolios <= 0 {
		return nil, fmt.Errorf("portfolio count must be positive, got %d", opts.Portfolios)
	}
	switch opts.RiskMeasure {
	case RiskMarkowitz, RiskCVaR, RiskMAD:
	default:
		return nil, fmt.Errorf("unsupported risk measure %q", opts.RiskMeasure)
	}
	bins := opts.FrontierBins
	if bins <= 0 {
		bins = DefaultFrontierBins
	}

	assets := table.Assets
	factor := table.Frequency.AnnualizationFactor()
	sqrtFactor := math.Sqrt(factor)
	mu := table.MeanVector()

	cov, err := s.covariance(table)
	if err != nil {
		return nil, err
	}

	// Column-major copy of the table so candidate evaluation is a tight
	// dot product.
	n := table.Observations()
	columns := make([][]float64, len(assets))
	for j, asset := range assets {
		columns[j] = table.Data[asset]
	}

	candidates := make([]candidate, opts.Portfolios)
	err = s.dispatcher.Run(ctx, opts.Portfolios, func(_ context.Context, batch engine.Batch) error {
		portfolio := make([]float64, n)
		for i := batch.Start; i < batch.End; i++ {
			weights := randomWeights(len(assets), batch.Rng)

			annualReturn := 0.0
			for j, w := range weights {
				annualReturn += w * mu[j]
			}
			annualReturn *= factor

			var risk float64
			switch opts.RiskMeasure {
			case RiskMarkowitz:
				risk = calculations.PortfolioVolatility(weights, cov) * sqrtFactor
			case RiskCVaR:
				projectPortfolio(portfolio, columns, weights)
				risk = calculations.HistoricalES(portfolio, cvarConfidence) * sqrtFactor
			case RiskMAD:
				projectPortfolio(portfolio, columns, weights)
				risk = calculations.MeanAbsoluteDeviation(portfolio) * sqrtFactor
			}

			ratio := 0.0
			if risk > 0 {
				ratio = (annualReturn - opts.RiskFreeRate) / risk
			}

			candidates[i] = candidate{weights: weights, ret: annualReturn, risk: risk, ratio: ratio}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("portfolio search failed: %w", err)
	}

	result := &Result{Candidates: len(candidates)}

	maxRatioIdx, minRiskIdx := 0, 0
	for i, c := range candidates {
		if c.ratio > candidates[maxRatioIdx].ratio {
			maxRatioIdx = i
		}
		if c.risk < candidates[minRiskIdx].risk {
			minRiskIdx = i
		}
	}
	result.MaxRatio = toPortfolio(candidates[maxRatioIdx], assets)
	result.MinRisk = toPortfolio(candidates[minRiskIdx], assets)

	result.Frontier = buildFrontier(candidates, assets, bins)

	if opts.TargetReturn != nil {
		p := toPortfolio(nearestBy(candidates, func(c candidate) float64 {
			return math.Abs(c.ret - *opts.TargetReturn)
		}), assets)
		result.TargetReturnPortfolio = &p
	}
	if opts.TargetRisk != nil {
		p := toPortfolio(nearestBy(candidates, func(c candidate) float64 {
			return math.Abs(c.risk - *opts.TargetRisk)
		}), assets)
		result.TargetRiskPortfolio = &p
	}

	s.log.Info().
		Int("candidates", len(candidates)).
		Int("frontier_points", len(result.Frontier)).
		Str("risk_measure", opts.RiskMeasure).
		Float64("max_ratio", result.MaxRatio.Ratio).
		Float64("min_risk", result.MinRisk.Risk).
		Msg("Portfolio search complete")

	return result, nil
}

// cachedCovariance is the cache entry for a covariance matrix. The asset
// order the matrix was computed in is stored alongside it, since the caller
// may present the same table with a different column order.
type cachedCovariance struct {
	Assets []string    `msgpack:"assets"`
	Matrix [][]float64 `msgpack:"matrix"`
}

// covariance returns the sample covariance of the table. When a cache is
// configured, entries are keyed by the table fingerprint (asset names,
// frequency and the return data itself), so tables that merely share asset
// names never alias each other, and a hit is permuted into the caller's
// asset order before use.
func (s *Searcher) covariance(table *domain.ReturnTable) (*mat.SymDense, error) {
	key := table.Fingerprint()

	if s.cache != nil {
		var cached cachedCovariance
		if s.cache.Get("covariance", key, &cached) {
			if sym, ok := reorderCovariance(cached, table.Assets); ok {
				s.log.Debug().Str("fingerprint", key[:8]).Msg("Using cached covariance matrix")
				return sym, nil
			}
		}
	}

	n := table.Observations()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = table.Row(i)
	}
	cov, err := calculations.CovarianceMatrix(rows, len(table.Assets))
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		entry := cachedCovariance{Assets: table.Assets, Matrix: symToSlice(cov)}
		if err := s.cache.Set("covariance", key, entry, calculations.TTLCovariance); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache covariance matrix")
		}
	}
	return cov, nil
}

// reorderCovariance permutes a cached matrix into the requested asset
// order. Reports false when the entry does not cover the requested assets,
// which is treated as a cache miss.
func reorderCovariance(cached cachedCovariance, assets []string) (*mat.SymDense, bool) {
	if len(cached.Assets) != len(assets) || len(cached.Matrix) != len(assets) {
		return nil, false
	}
	index := make(map[string]int, len(cached.Assets))
	for i, asset := range cached.Assets {
		index[asset] = i
	}

	n := len(assets)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		ci, ok := index[assets[i]]
		if !ok {
			return nil, false
		}
		for j := i; j < n; j++ {
			cj, ok := index[assets[j]]
			if !ok {
				return nil, false
			}
			sym.SetSym(i, j, cached.Matrix[ci][cj])
		}
	}
	return sym, true
}

// randomWeights draws non-negative weights renormalized to sum to 1.
func randomWeights(k int, rng *rand.Rand) []float64 {
	weights := make([]float64, k)
	sum := 0.0
	for i := range weights {
		weights[i] = rng.Float64()
		sum += weights[i]
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(k)
		}
		return weights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// projectPortfolio writes the portfolio return series for the weight vector
// into dst.
func projectPortfolio(dst []float64, columns [][]float64, weights []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for j, col := range columns {
		w := weights[j]
		if w == 0 {
			continue
		}
		for i, r := range col {
			dst[i] += w * r
		}
	}
}

// buildFrontier sweeps a fixed number of return bins in ascending order,
// keeping the minimum-risk candidate within the tolerance window of each
// bin center. Bins with no candidate in tolerance are skipped, so the
// frontier is an approximate envelope with at most bins points.
func buildFrontier(candidates []candidate, assets []string, bins int) []FrontierPoint {
	minRet, maxRet := candidates[0].ret, candidates[0].ret
	for _, c := range candidates {
		if c.ret < minRet {
			minRet = c.ret
		}
		if c.ret > maxRet {
			maxRet = c.ret
		}
	}
	if maxRet <= minRet {
		best := nearestBy(candidates, func(c candidate) float64 { return c.risk })
		return []FrontierPoint{{Return: best.ret, Risk: best.risk, Ratio: best.ratio, Weights: weightsMap(best.weights, assets)}}
	}

	binWidth := (maxRet - minRet) / float64(bins)
	tolerance := binWidth * frontierToleranceFactor

	frontier := make([]FrontierPoint, 0, bins)
	for b := 0; b < bins; b++ {
		center := minRet + (float64(b)+0.5)*binWidth
		bestIdx := -1
		for i, c := range candidates {
			if math.Abs(c.ret-center) > tolerance {
				continue
			}
			if bestIdx == -1 || c.risk < candidates[bestIdx].risk {
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			continue
		}
		best := candidates[bestIdx]
		frontier = append(frontier, FrontierPoint{
			Return:  best.ret,
			Risk:    best.risk,
			Ratio:   best.ratio,
			Weights: weightsMap(best.weights, assets),
		})
	}
	return frontier
}

// nearestBy returns the candidate minimizing the distance function.
func nearestBy(candidates []candidate, distance func(candidate) float64) candidate {
	best := 0
	for i := range candidates {
		if distance(candidates[i]) < distance(candidates[best]) {
			best = i
		}
	}
	return candidates[best]
}

func toPortfolio(c candidate, assets []string) OptimalPortfolio {
	return OptimalPortfolio{
		Weights: weightsMap(c.weights, assets),
		Return:  c.ret,
		Risk:    c.risk,
		Ratio:   c.ratio,
	}
}

func weightsMap(weights []float64, assets []string) domain.Weights {
	m := make(domain.Weights, len(assets))
	for i, asset := range assets {
		m[asset] = weights[i]
	}
	return m
}

func symToSlice(sym *mat.SymDense) [][]float64 {
	n := sym.SymmetricDim()
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = sym.At(i, j)
		}
	}
	return out
}
