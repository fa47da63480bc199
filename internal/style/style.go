// Package style derives MapLibre layer styling and the chart legend from a
// risk profile. Output is plain data; rendering happens in the browser.
package style

import (
	"github.com/joeblew999/plat-forest/internal/config"
	"github.com/joeblew999/plat-forest/internal/risk"
)

// LayerID is the id of the extruded risk layer on the map.
const LayerID = "forest-3d"

// Paint is a MapLibre fill-extrusion paint block. Expressions are left as
// untyped JSON arrays.
type Paint struct {
	Color   []any   `json:"fill-extrusion-color" doc:"Color interpolation over DN"`
	Height  []any   `json:"fill-extrusion-height" doc:"Height interpolation over DN"`
	Base    float64 `json:"fill-extrusion-base" doc:"Extrusion base height"`
	Opacity float64 `json:"fill-extrusion-opacity" doc:"Layer opacity"`
}

// Layer is a MapLibre layer definition for the risk polygons.
type Layer struct {
	ID     string `json:"id" doc:"Layer id" example:"forest-3d"`
	Type   string `json:"type" doc:"Layer type" example:"fill-extrusion"`
	Source string `json:"source" doc:"Source id" example:"forest"`
	Paint  Paint  `json:"paint" doc:"Paint properties"`
}

// LegendEntry is one bar of the distribution chart.
type LegendEntry struct {
	Code  int    `json:"code" doc:"Severity code"`
	Label string `json:"label" doc:"Display label"`
	Color string `json:"color" doc:"CSS color"`
}

// Style bundles everything the dashboard needs to draw the risk layer.
type Style struct {
	Layer  Layer         `json:"layer" doc:"MapLibre layer definition"`
	Legend []LegendEntry `json:"legend" doc:"Chart legend in code order"`
}

// Build derives the style from a profile.
func Build(p *config.Profile, source string) Style {
	levels := p.LevelTable()

	color := []any{"interpolate", []any{"linear"}, []any{"get", "DN"}}
	legend := make([]LegendEntry, 0, risk.NumLevels)
	for _, lvl := range levels {
		color = append(color, lvl.Code, lvl.Color)
		legend = append(legend, LegendEntry{Code: lvl.Code, Label: lvl.Label, Color: lvl.Color})
	}

	height := []any{"interpolate", []any{"linear"}, []any{"get", "DN"},
		0, p.Extrusion.MinHeight,
		risk.MaxLevel, p.Extrusion.MaxHeight,
	}

	return Style{
		Layer: Layer{
			ID:     LayerID,
			Type:   "fill-extrusion",
			Source: source,
			Paint: Paint{
				Color:   color,
				Height:  height,
				Base:    0,
				Opacity: p.Extrusion.Opacity,
			},
		},
		Legend: legend,
	}
}

// ExtrusionHeight evaluates the height interpolation for a code, clamping
// to the configured range the way MapLibre does outside the stops.
func ExtrusionHeight(p *config.Profile, dn float64) float64 {
	switch {
	case dn <= 0:
		return p.Extrusion.MinHeight
	case dn >= risk.MaxLevel:
		return p.Extrusion.MaxHeight
	}
	return p.Extrusion.MinHeight + (p.Extrusion.MaxHeight-p.Extrusion.MinHeight)*dn/risk.MaxLevel
}
