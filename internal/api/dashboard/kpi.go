// Package dashboard contains Datastar SSE handlers for the risk dashboard.
package dashboard

import (
	"bytes"
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/m-mizutani/ctxlog"

	"github.com/joeblew999/plat-forest/internal/humastar"
	"github.com/joeblew999/plat-forest/internal/risk"
	"github.com/joeblew999/plat-forest/internal/service"
)

// undefinedColor is shown for the index when the total area is zero.
const undefinedColor = "#9ca3af"

// KPIHandler streams KPI signals and the chart legend for one dataset.
type KPIHandler struct {
	humastar.Handler
	datasets *service.DatasetService
}

// NewKPIHandler creates a KPI handler.
func NewKPIHandler(datasets *service.DatasetService, renderer *humastar.Renderer) *KPIHandler {
	return &KPIHandler{
		Handler:  humastar.Handler{Renderer: renderer},
		datasets: datasets,
	}
}

func (h *KPIHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/dashboard/datasets", h.Datasets, huma.OperationTags("dashboard"))
	huma.Get(api, "/api/v1/dashboard/{name}", h.Show, huma.OperationTags("dashboard"))
	huma.Get(api, "/api/v1/dashboard/{name}/events", h.Events, huma.OperationTags("dashboard"))
}

type NameInput struct {
	Name     string `path:"name" doc:"Dataset file name" example:"haut-rhin.geojson"`
	Unranked string `query:"unranked" enum:"include,exclude" doc:"Unranked policy (defaults to the profile)"`
}

// LegendItem is one row of the chart legend.
type LegendItem struct {
	Code    int
	Label   string
	Color   string
	Area    float64
	Percent float64
}

// Datasets patches the dataset picker.
func (h *KPIHandler) Datasets(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
	files, err := h.datasets.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list datasets", err)
	}
	items := make([]any, len(files))
	for i, f := range files {
		items[i] = f
	}
	empty := map[string]string{"Title": "No datasets"}
	return h.Stream(func(sse humastar.SSE) {
		sse.Patch(h.RenderList("dataset-option", "dataset-empty", items, empty), "#dataset-select")
	}), nil
}

// Show sends the KPIs of a dataset once.
func (h *KPIHandler) Show(ctx context.Context, input *NameInput) (*huma.StreamResponse, error) {
	policy, err := h.policy(input.Unranked)
	if err != nil {
		return nil, err
	}
	report, err := h.datasets.Aggregate(ctx, input.Name, policy, false)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return h.Stream(func(sse humastar.SSE) {
		h.send(sse, report)
	}), nil
}

// Events sends the KPIs, then re-sends them whenever the dataset changes.
func (h *KPIHandler) Events(ctx context.Context, input *NameInput) (*huma.StreamResponse, error) {
	policy, err := h.policy(input.Unranked)
	if err != nil {
		return nil, err
	}
	if err := service.ValidateName(input.Name); err != nil {
		return nil, toHTTPError(err)
	}
	bus := h.datasets.Bus()
	if bus == nil {
		return nil, huma.Error503ServiceUnavailable("Live updates are disabled")
	}

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := humastar.NewSSE(humaCtx)
			ch := bus.Subscribe(input.Name)
			defer bus.Unsubscribe(ch)

			refresh := func() {
				report, err := h.datasets.Aggregate(ctx, input.Name, policy, false)
				if err != nil {
					h.sendError(ctx, sse, err)
					return
				}
				h.send(sse, report)
			}
			refresh()

			for {
				select {
				case <-humaCtx.Context().Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					switch ev.Kind {
					case service.DatasetUpdated:
						refresh()
					case service.DatasetDeleted:
						h.sendError(ctx, sse, service.ErrDatasetNotFound)
					default:
						continue
					}
					sse.DispatchCustomEvent("dataset-changed", map[string]any{
						"dataset": ev.Dataset,
						"kind":    ev.Kind,
					})
				}
			}
		},
	}, nil
}

func (h *KPIHandler) send(sse humastar.SSE, report *service.Report) {
	sse.Signals(KPISignals(report.Summary))
	sse.Patch(h.renderLegend(report.Result), "#legend")
}

func (h *KPIHandler) sendError(ctx context.Context, sse humastar.SSE, err error) {
	if errors.Is(err, service.ErrDatasetNotFound) {
		sse.Error("Dataset not found")
		return
	}
	ctxlog.From(ctx).Warn("dashboard refresh failed", "error", err)
	sse.Error("Failed to aggregate dataset")
}

func (h *KPIHandler) renderLegend(res risk.Result) string {
	levels := h.datasets.Profile().LevelTable()
	pct, _ := res.Percentages()

	var buf bytes.Buffer
	for i, lvl := range levels {
		h.Renderer.RenderToBuffer(&buf, "legend-item", LegendItem{
			Code:    lvl.Code,
			Label:   lvl.Label,
			Color:   lvl.Color,
			Area:    res.AreaByLevel[i],
			Percent: pct[i],
		})
	}
	return buf.String()
}

func (h *KPIHandler) policy(value string) (risk.UnrankedPolicy, error) {
	if value == "" {
		return h.datasets.Profile().Policy(), nil
	}
	p, err := risk.ParseUnrankedPolicy(value)
	if err != nil {
		return 0, huma.Error400BadRequest(err.Error())
	}
	return p, nil
}

// KPISignals maps a summary to the dashboard signal names.
func KPISignals(s risk.Summary) map[string]any {
	color := undefinedColor
	if s.IndexDefined {
		color = s.Band.Color
	}
	return map[string]any{
		"kpiSurf":      s.HighRiskHectares,
		"kpiCritical":  s.CriticalCount,
		"ivm":          s.Index,
		"ivmColor":     color,
		"indexDefined": s.IndexDefined,
		"chart":        s.Chart,
		"error":        "",
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, service.ErrDatasetNotFound):
		return huma.Error404NotFound("dataset not found")
	case errors.Is(err, service.ErrInvalidName):
		return huma.Error400BadRequest(err.Error())
	}
	return huma.Error500InternalServerError("Failed to aggregate dataset", err)
}
