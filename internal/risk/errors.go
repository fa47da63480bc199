package risk

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrDivisionUndefined is returned when a ratio is requested over a zero
	// total area. Callers choose the fallback display.
	ErrDivisionUndefined = goerr.New("division undefined: total area is zero")

	// TagInvalidFeature marks a feature skipped for a non-finite or negative
	// area, or a non-numeric severity.
	TagInvalidFeature = goerr.NewTag("invalid_feature")

	// TagUnrankedSeverity marks a feature whose code lies outside 0..MaxLevel.
	TagUnrankedSeverity = goerr.NewTag("unranked_severity")
)

// Issue records a per-feature anomaly found during aggregation.
type Issue struct {
	Index int
	Err   error
}

// Invalid reports whether the issue caused the feature to be skipped.
func (i Issue) Invalid() bool {
	return goerr.HasTag(i.Err, TagInvalidFeature)
}

// Unranked reports whether the feature had an out-of-range severity.
func (i Issue) Unranked() bool {
	return goerr.HasTag(i.Err, TagUnrankedSeverity)
}
