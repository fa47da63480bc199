package risk

import (
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// Percentages is the share of each level, in percent with one decimal.
type Percentages [NumLevels]float64

// ToPercentages converts bucket areas into percentages of their own sum.
// Values are rounded independently, so they need not add up to 100.
func ToPercentages(areas LevelAreas) (Percentages, error) {
	return percentagesOf(areas, areas.Sum())
}

// Percentages converts the level distribution into percentages of TotalArea.
func (r Result) Percentages() (Percentages, error) {
	return percentagesOf(r.AreaByLevel, r.TotalArea)
}

func percentagesOf(areas LevelAreas, total float64) (Percentages, error) {
	var p Percentages
	if total == 0 {
		return p, goerr.Wrap(ErrDivisionUndefined, "percentages")
	}
	for code, a := range areas {
		p[code] = RoundTo(a/total*100, 1)
	}
	return p, nil
}

// RoundTo rounds v to the given number of decimals, halves away from zero.
func RoundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
