package risk

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SquareMetersPerHectare converts surface areas for display.
const SquareMetersPerHectare = 10000

// Level is the display metadata of one severity code.
type Level struct {
	Code  int    `json:"code" yaml:"code" doc:"Severity code" example:"4"`
	Label string `json:"label" yaml:"label" doc:"Display label" example:"Critical (4)"`
	Color string `json:"color" yaml:"color" doc:"CSS color" example:"#ef4444"`
}

// Levels holds the metadata for codes 0..MaxLevel, indexed by code.
type Levels [NumLevels]Level

// DefaultLevels is the green-to-red palette used by the dashboard.
var DefaultLevels = Levels{
	{Code: 0, Label: "None (0)", Color: "#10b981"},
	{Code: 1, Label: "Low (1)", Color: "#a3e635"},
	{Code: 2, Label: "Medium (2)", Color: "#facc15"},
	{Code: 3, Label: "High (3)", Color: "#fb923c"},
	{Code: 4, Label: "Critical (4)", Color: "#ef4444"},
}

// Lookup returns the metadata for a feature's code, if ranked.
func (l Levels) Lookup(f Feature) (Level, bool) {
	code, ok := f.Level()
	if !ok {
		return Level{}, false
	}
	return l[code], true
}

// Band classifies a vulnerability index for display.
type Band struct {
	Name  string `json:"name" doc:"Band name" example:"medium"`
	Color string `json:"color" doc:"CSS color" example:"#facc15"`
}

// Bands holds the index thresholds. An index below Medium is low, below High
// is medium, anything else is high.
type Bands struct {
	Medium float64 `json:"medium" yaml:"medium"`
	High   float64 `json:"high" yaml:"high"`
}

// DefaultBands are the index thresholds used by the KPI card.
var DefaultBands = Bands{Medium: 1.5, High: 2.5}

// Classify returns the band of an index value.
func (b Bands) Classify(index float64) Band {
	switch {
	case index < b.Medium:
		return Band{Name: "low", Color: "#a3e635"}
	case index < b.High:
		return Band{Name: "medium", Color: "#facc15"}
	default:
		return Band{Name: "high", Color: "#ef4444"}
	}
}

// Hectares converts square meters to hectares.
func Hectares(m2 float64) float64 {
	return m2 / SquareMetersPerHectare
}

// Tooltip is the hover description of one feature.
type Tooltip struct {
	Ranked   bool    `json:"ranked" doc:"Whether the code is within 0-4"`
	Level    int     `json:"level" doc:"Severity code"`
	Label    string  `json:"label" doc:"Level label"`
	Color    string  `json:"color" doc:"Level color"`
	Hectares float64 `json:"hectares" doc:"Area in hectares, one decimal"`
}

// Describe builds the tooltip of a feature. Everything it needs is passed in.
func Describe(f Feature, levels Levels) Tooltip {
	var t Tooltip
	if !math.IsNaN(f.DN) && !math.IsInf(f.DN, 0) {
		t.Level = int(f.DN)
	}
	if !math.IsNaN(f.Area) && !math.IsInf(f.Area, 0) {
		t.Hectares = RoundTo(Hectares(f.Area), 1)
	}
	if lvl, ok := levels.Lookup(f); ok {
		t.Ranked = true
		t.Label = lvl.Label
		t.Color = lvl.Color
	} else {
		t.Label = fmt.Sprintf("Unranked (%v)", f.DN)
	}
	return t
}

// IndexPlaceholder is displayed when the index is undefined.
const IndexPlaceholder = "—"

// Summary is the KPI view of a Result.
type Summary struct {
	HighRiskHectares string    `json:"highRiskHectares" doc:"High-risk area in hectares, grouped digits" example:"1,234"`
	Index            string    `json:"index" doc:"Vulnerability index with two decimals, or a dash" example:"0.88"`
	IndexDefined     bool      `json:"indexDefined" doc:"False when total area is zero"`
	Band             Band      `json:"band" doc:"Display band of the index"`
	CriticalCount    int       `json:"criticalCount" doc:"Number of level-4 features"`
	Chart            []float64 `json:"chart" doc:"Per-level percentages"`
}

// Summarize formats a Result for KPI cards using the given locale.
func Summarize(res Result, bands Bands, lang language.Tag) Summary {
	p := message.NewPrinter(lang)
	s := Summary{
		HighRiskHectares: p.Sprintf("%d", int64(math.Round(Hectares(res.HighRiskArea)))),
		Index:            IndexPlaceholder,
		CriticalCount:    res.HighRiskCount,
		Chart:            make([]float64, NumLevels),
	}
	if idx, err := res.VulnerabilityIndex(); err == nil {
		s.Index = fmt.Sprintf("%.2f", RoundTo(idx, 2))
		s.IndexDefined = true
		s.Band = bands.Classify(idx)
	}
	if pct, err := res.Percentages(); err == nil {
		copy(s.Chart, pct[:])
	}
	return s
}
