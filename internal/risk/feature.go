// Package risk computes forest-risk statistics from severity-coded polygons.
//
// The package does no I/O and never mutates its input. Every figure the
// dashboard shows is derived by [Aggregate] in a single pass.
package risk

import "math"

// MaxLevel is the highest ranked severity code.
const MaxLevel = 4

// NumLevels is the number of ranked severity codes (0..MaxLevel).
const NumLevels = MaxLevel + 1

// HighRiskThreshold is the lowest code counted as high risk.
const HighRiskThreshold = 3

// Feature is one risk polygon reduced to the attributes the aggregator reads.
// DN is NaN when the source value was not numeric.
type Feature struct {
	DN   float64 `json:"dn" doc:"Severity code (0-4)" example:"2"`
	Area float64 `json:"surf" doc:"Surface area in square meters" example:"50000"`
}

// Level returns the ranked level of the feature and whether it is ranked.
// Non-integer codes and codes outside 0..MaxLevel are unranked.
func (f Feature) Level() (int, bool) {
	if math.IsNaN(f.DN) || math.IsInf(f.DN, 0) {
		return 0, false
	}
	if f.DN != math.Trunc(f.DN) || f.DN < 0 || f.DN > MaxLevel {
		return 0, false
	}
	return int(f.DN), true
}

// LevelAreas holds summed area per ranked level, indexed by code.
type LevelAreas [NumLevels]float64

// Sum returns the total area over all levels, summed in code order.
func (a LevelAreas) Sum() float64 {
	var total float64
	for _, v := range a {
		total += v
	}
	return total
}

// Map returns the areas keyed by code, the shape JSON consumers expect.
func (a LevelAreas) Map() map[int]float64 {
	m := make(map[int]float64, NumLevels)
	for code, v := range a {
		m[code] = v
	}
	return m
}
