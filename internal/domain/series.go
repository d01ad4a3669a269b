// Package domain holds the pure data types shared by the risk modules:
// return series, return tables and portfolio weights. It has no
// infrastructure dependencies.
package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
)

// Frequency describes the observation frequency of a return series.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// AnnualizationFactor returns the number of observation periods per year.
// Unknown frequencies default to daily (252 trading days).
func (f Frequency) AnnualizationFactor() float64 {
	switch f {
	case Weekly:
		return 52
	case Monthly:
		return 12
	default:
		return 252
	}
}

// ReturnTable is a time-ordered table of per-asset returns: T observations
// by K assets. Assets fixes the column order; Data holds one aligned series
// per asset.
type ReturnTable struct {
	Assets    []string             `json:"assets"`
	Data      map[string][]float64 `json:"data"`
	Frequency Frequency            `json:"frequency"`
}

// Validate checks that every asset has an aligned, finite return series.
func (t *ReturnTable) Validate() error {
	if len(t.Assets) == 0 {
		return fmt.Errorf("return table has no assets")
	}

	length := -1
	for _, asset := range t.Assets {
		series, ok := t.Data[asset]
		if !ok {
			return fmt.Errorf("missing return series for asset %s", asset)
		}
		if length == -1 {
			length = len(series)
		}
		if len(series) != length {
			return fmt.Errorf("inconsistent series lengths: asset %s has %d observations, expected %d", asset, len(series), length)
		}
		for i, r := range series {
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return fmt.Errorf("asset %s has a non-finite return at observation %d", asset, i)
			}
		}
	}
	if length < 2 {
		return fmt.Errorf("insufficient data: need at least 2 observations, got %d", length)
	}
	return nil
}

// Observations returns the number of rows in the table.
func (t *ReturnTable) Observations() int {
	if len(t.Assets) == 0 {
		return 0
	}
	return len(t.Data[t.Assets[0]])
}

// Row returns observation i as a vector in asset order.
func (t *ReturnTable) Row(i int) []float64 {
	row := make([]float64, len(t.Assets))
	for j, asset := range t.Assets {
		row[j] = t.Data[asset][i]
	}
	return row
}

// Fingerprint returns a short digest of the table contents: asset names,
// frequency and every return series. Reordering Assets does not change the
// fingerprint; changing any return value does.
func (t *ReturnTable) Fingerprint() string {
	sorted := make([]string, len(t.Assets))
	copy(sorted, t.Assets)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(t.Frequency))
	var buf [8]byte
	for _, asset := range sorted {
		h.Write([]byte(asset))
		for _, r := range t.Data[asset] {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(r))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// MeanVector returns the per-asset mean return in asset order.
func (t *ReturnTable) MeanVector() []float64 {
	mu := make([]float64, len(t.Assets))
	for j, asset := range t.Assets {
		series := t.Data[asset]
		sum := 0.0
		for _, r := range series {
			sum += r
		}
		if len(series) > 0 {
			mu[j] = sum / float64(len(series))
		}
	}
	return mu
}

// PortfolioReturns projects the table onto a weight vector, producing the
// portfolio return series. Weights for assets absent from the table are an
// error; table assets missing from the weights contribute zero.
func (t *ReturnTable) PortfolioReturns(weights Weights) ([]float64, error) {
	for asset := range weights {
		if _, ok := t.Data[asset]; !ok {
			return nil, fmt.Errorf("weight refers to unknown asset %s", asset)
		}
	}

	n := t.Observations()
	portfolio := make([]float64, n)
	for _, asset := range t.Assets {
		w := weights[asset]
		if w == 0 {
			continue
		}
		series := t.Data[asset]
		for i := 0; i < n; i++ {
			portfolio[i] += w * series[i]
		}
	}
	return portfolio, nil
}

// Copy returns a deep copy of the table. Shock application always works on
// a copy so the source series is never mutated.
func (t *ReturnTable) Copy() *ReturnTable {
	dup := &ReturnTable{
		Assets:    make([]string, len(t.Assets)),
		Data:      make(map[string][]float64, len(t.Data)),
		Frequency: t.Frequency,
	}
	copy(dup.Assets, t.Assets)
	for asset, series := range t.Data {
		s := make([]float64, len(series))
		copy(s, series)
		dup.Data[asset] = s
	}
	return dup
}
