package risk

import (
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// UnrankedPolicy decides whether features with an out-of-range severity count
// toward the total area.
type UnrankedPolicy int

const (
	// UnrankedInTotal keeps unranked area in the total but out of every
	// bucketed statistic. This is the historical dashboard behaviour.
	UnrankedInTotal UnrankedPolicy = iota
	// UnrankedExcluded drops unranked area from the total as well.
	UnrankedExcluded
)

// String returns the policy name used in config files and query strings.
func (p UnrankedPolicy) String() string {
	if p == UnrankedExcluded {
		return "exclude"
	}
	return "include"
}

// ParseUnrankedPolicy parses "include" or "exclude". The empty string is the default.
func ParseUnrankedPolicy(s string) (UnrankedPolicy, error) {
	switch s {
	case "", "include":
		return UnrankedInTotal, nil
	case "exclude":
		return UnrankedExcluded, nil
	}
	return UnrankedInTotal, goerr.New("unknown unranked policy", goerr.V("policy", s))
}

type options struct {
	unranked UnrankedPolicy
}

// Option configures Aggregate.
type Option func(*options)

// WithUnrankedPolicy sets how unranked severities affect the total area.
func WithUnrankedPolicy(p UnrankedPolicy) Option {
	return func(o *options) { o.unranked = p }
}

// Result is the immutable outcome of one aggregation pass.
type Result struct {
	TotalArea     float64
	AreaByLevel   LevelAreas
	HighRiskArea  float64
	HighRiskCount int

	FeatureCount  int
	InvalidCount  int
	UnrankedCount int
	UnrankedArea  float64
	Issues        []Issue
	Policy        UnrankedPolicy

	weightedSum float64
}

// WeightedSum returns the sum of area times code over ranked features.
func (r Result) WeightedSum() float64 {
	return r.weightedSum
}

// VulnerabilityIndex returns the area-weighted mean severity. The numerator
// only covers ranked features; the denominator is TotalArea.
func (r Result) VulnerabilityIndex() (float64, error) {
	if r.TotalArea == 0 {
		return 0, goerr.Wrap(ErrDivisionUndefined, "vulnerability index",
			goerr.V("features", r.FeatureCount))
	}
	return r.weightedSum / r.TotalArea, nil
}

// Aggregate computes a Result from features in one pass, in input order.
// Invalid features are skipped and recorded; they never abort the pass.
func Aggregate(features []Feature, opts ...Option) Result {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res := Result{FeatureCount: len(features), Policy: o.unranked}

	for i, f := range features {
		if math.IsNaN(f.Area) || math.IsInf(f.Area, 0) || f.Area < 0 {
			res.InvalidCount++
			res.Issues = append(res.Issues, Issue{Index: i, Err: goerr.New("invalid surface area",
				goerr.T(TagInvalidFeature), goerr.V("index", i), goerr.V("area", f.Area))})
			continue
		}
		if math.IsNaN(f.DN) || math.IsInf(f.DN, 0) {
			res.InvalidCount++
			res.Issues = append(res.Issues, Issue{Index: i, Err: goerr.New("non-numeric severity",
				goerr.T(TagInvalidFeature), goerr.V("index", i))})
			continue
		}

		level, ranked := f.Level()
		if !ranked {
			res.UnrankedCount++
			res.UnrankedArea += f.Area
			res.Issues = append(res.Issues, Issue{Index: i, Err: goerr.New("severity outside ranked levels",
				goerr.T(TagUnrankedSeverity), goerr.V("index", i), goerr.V("dn", f.DN))})
			if o.unranked == UnrankedInTotal {
				res.TotalArea += f.Area
			}
			continue
		}

		res.TotalArea += f.Area
		res.AreaByLevel[level] += f.Area
		res.weightedSum += f.Area * float64(level)
		if level >= HighRiskThreshold {
			res.HighRiskArea += f.Area
		}
		if level == MaxLevel {
			res.HighRiskCount++
		}
	}

	return res
}
