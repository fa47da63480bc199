package dashboard

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-forest/internal/humastar"
)

// Overlay layer names accepted by the toggle.
const (
	LayerSatellite = "satellite"
	LayerCommunes  = "communes"
)

// LayerHandler toggles overlay visibility. The current state arrives in the
// request signals and the new state is returned; nothing is kept server side.
type LayerHandler struct {
	humastar.Handler
}

func NewLayerHandler() *LayerHandler {
	return &LayerHandler{}
}

func (h *LayerHandler) RegisterRoutes(api huma.API) {
	huma.Post(api, "/api/v1/dashboard/layers", h.Toggle, huma.OperationTags("dashboard"))
}

// Toggle flips the layer named by the "layer" signal.
func (h *LayerHandler) Toggle(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}

	var patch map[string]any
	switch layer := signals.String("layer"); layer {
	case LayerSatellite:
		patch = map[string]any{"satelliteOpacity": ToggleOpacity(signals.Float("satelliteOpacity"))}
	case LayerCommunes:
		patch = map[string]any{"communesVisibility": ToggleVisibility(signals.String("communesVisibility"))}
	default:
		return nil, huma.Error400BadRequest("unknown layer: " + layer)
	}

	return h.Stream(func(sse humastar.SSE) {
		sse.Signals(patch)
	}), nil
}

// ToggleOpacity switches a raster between hidden (0) and fully shown (1).
// Only a fully shown raster is hidden; any other opacity is shown.
func ToggleOpacity(current float64) float64 {
	if current == 1 {
		return 0
	}
	return 1
}

// ToggleVisibility switches a layer's visibility property. Only "visible"
// is hidden; "none" and an unset property become visible.
func ToggleVisibility(current string) string {
	if current == "visible" {
		return "none"
	}
	return "visible"
}
