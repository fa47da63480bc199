// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/joeblew999/plat-forest/internal/dataset"
	"github.com/joeblew999/plat-forest/internal/humastar"
	"github.com/joeblew999/plat-forest/internal/risk"
	"github.com/joeblew999/plat-forest/internal/service"
	"github.com/joeblew999/plat-forest/internal/style"
)

// Version is reported by /health and /api/v1/info.
const Version = "1.0.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Datasets *service.DatasetService
}

// RegisterRoutes registers every REST handler on api.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// Types

type NameInput struct {
	Name string `path:"name" doc:"Dataset file name" example:"haut-rhin.geojson"`
}

type AggregateParams struct {
	Unranked string `query:"unranked" enum:"include,exclude" doc:"Whether unranked codes count toward the total area (defaults to the profile)"`
	Record   bool   `query:"record" doc:"Persist the result as a snapshot"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

// IssueBody is one per-feature anomaly.
type IssueBody struct {
	Index   int    `json:"index" doc:"Position of the feature in the input"`
	Kind    string `json:"kind" enum:"invalid,unranked" doc:"Anomaly kind"`
	Message string `json:"message" doc:"Description"`
}

// AggregateBody is the JSON view of an aggregation.
type AggregateBody struct {
	Dataset            string            `json:"dataset,omitempty" doc:"Dataset file name"`
	ComputedAt         time.Time         `json:"computedAt" doc:"When the aggregation ran"`
	Policy             string            `json:"policy" enum:"include,exclude" doc:"Unranked policy used"`
	TotalArea          float64           `json:"totalArea" doc:"Total area in m²"`
	AreaByLevel        risk.LevelAreas   `json:"areaByLevel" doc:"Area per DN level 0-4 in m²"`
	HighRiskArea       float64           `json:"highRiskArea" doc:"Area with DN >= 3 in m²"`
	HighRiskCount      int               `json:"highRiskCount" doc:"Number of DN 4 polygons"`
	VulnerabilityIndex *float64          `json:"vulnerabilityIndex" nullable:"true" doc:"Area-weighted mean DN, null when total area is zero"`
	IndexDefined       bool              `json:"indexDefined" doc:"False when total area is zero"`
	Percentages        *risk.Percentages `json:"percentages" nullable:"true" doc:"Share of each level in the total area, one decimal"`
	FeatureCount       int               `json:"featureCount" doc:"Features read"`
	InvalidCount       int               `json:"invalidCount" doc:"Features skipped as invalid"`
	UnrankedCount      int               `json:"unrankedCount" doc:"Features with a code outside 0-4"`
	UnrankedArea       float64           `json:"unrankedArea" doc:"Area of unranked features in m²"`
	Issues             []IssueBody       `json:"issues" doc:"Per-feature anomalies"`
	Summary            risk.Summary      `json:"summary" doc:"Formatted KPI values"`
}

// NewAggregateBody converts a report to its JSON view.
func NewAggregateBody(r *service.Report) AggregateBody {
	res := r.Result
	body := AggregateBody{
		Dataset:       r.Dataset,
		ComputedAt:    r.ComputedAt,
		Policy:        res.Policy.String(),
		TotalArea:     res.TotalArea,
		AreaByLevel:   res.AreaByLevel,
		HighRiskArea:  res.HighRiskArea,
		HighRiskCount: res.HighRiskCount,
		FeatureCount:  res.FeatureCount,
		InvalidCount:  res.InvalidCount,
		UnrankedCount: res.UnrankedCount,
		UnrankedArea:  res.UnrankedArea,
		Issues:        make([]IssueBody, 0, len(res.Issues)),
		Summary:       r.Summary,
	}
	if idx, err := res.VulnerabilityIndex(); err == nil {
		body.VulnerabilityIndex = &idx
		body.IndexDefined = true
	}
	if pct, err := res.Percentages(); err == nil {
		body.Percentages = &pct
	}
	for _, issue := range res.Issues {
		kind := "invalid"
		if issue.Unranked() {
			kind = "unranked"
		}
		body.Issues = append(body.Issues, IssueBody{Index: issue.Index, Kind: kind, Message: issue.Err.Error()})
	}
	return body
}

// FeatureRow is one feature with its tooltip. Non-numeric values are null.
type FeatureRow struct {
	Index   int          `json:"index" doc:"Position in the collection"`
	DN      *float64     `json:"dn" nullable:"true" doc:"Severity code"`
	Surf    *float64     `json:"surf" nullable:"true" doc:"Area in m²"`
	Height  *float64     `json:"height" nullable:"true" doc:"Extrusion height in meters, as drawn by the style"`
	Tooltip risk.Tooltip `json:"tooltip" doc:"Display values"`
}

type BoundsBody struct {
	Dataset string    `json:"dataset" doc:"Dataset file name"`
	Defined bool      `json:"defined" doc:"False when the dataset has no polygon geometry"`
	Bounds  []float64 `json:"bounds" doc:"[minLon, minLat, maxLon, maxLat]"`
}

type InlineAggregateInput struct {
	Body struct {
		Features []risk.Feature `json:"features" doc:"Features to aggregate"`
		Unranked string         `json:"unranked,omitempty" enum:"include,exclude" doc:"Unranked policy (defaults to the profile)"`
	}
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterDatasets registers dataset routes.
func (h *APIHandler) RegisterDatasets(api huma.API) {
	huma.Get(api, "/api/v1/datasets", h.ListDatasets, huma.OperationTags("datasets"))
	huma.Put(api, "/api/v1/datasets/{name}", h.PutDataset, huma.OperationTags("datasets"))
	huma.Delete(api, "/api/v1/datasets/{name}", h.DeleteDataset, huma.OperationTags("datasets"))
	huma.Get(api, "/api/v1/datasets/{name}/aggregate", h.AggregateDataset, huma.OperationTags("datasets"))
	huma.Get(api, "/api/v1/datasets/{name}/features", h.ListFeatures, huma.OperationTags("datasets"))
	huma.Get(api, "/api/v1/datasets/{name}/bounds", h.GetBounds, huma.OperationTags("datasets"))
}

// RegisterAggregate registers the inline aggregation route.
func (h *APIHandler) RegisterAggregate(api huma.API) {
	huma.Post(api, "/api/v1/aggregate", h.AggregateInline, huma.OperationTags("aggregate"))
}

// RegisterStyle registers the map style route.
func (h *APIHandler) RegisterStyle(api huma.API) {
	huma.Get(api, "/api/v1/style", h.GetStyle, huma.OperationTags("style"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) ListDatasets(ctx context.Context, input *struct{}) (*struct{ Body []service.DatasetFile }, error) {
	files, err := h.datasets().List()
	if err != nil {
		return nil, toHTTPError(ctx, err)
	}
	return &struct{ Body []service.DatasetFile }{Body: files}, nil
}

func (h *APIHandler) PutDataset(ctx context.Context, input *struct {
	NameInput
	RawBody []byte `contentType:"application/geo+json"`
}) (*struct{ Body MessageBody }, error) {
	ds, err := h.datasets().Save(input.Name, input.RawBody)
	if err != nil {
		return nil, toHTTPError(ctx, err)
	}
	ctxlog.From(ctx).Info("dataset saved", "dataset", input.Name, "features", len(ds.Features))
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Dataset saved"}}, nil
}

func (h *APIHandler) DeleteDataset(ctx context.Context, input *NameInput) (*struct{ Body MessageBody }, error) {
	if err := h.datasets().Delete(input.Name); err != nil {
		return nil, toHTTPError(ctx, err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Dataset deleted"}}, nil
}

func (h *APIHandler) AggregateDataset(ctx context.Context, input *struct {
	NameInput
	AggregateParams
}) (*struct{ Body AggregateBody }, error) {
	policy, err := h.policy(input.Unranked)
	if err != nil {
		return nil, err
	}
	report, err := h.datasets().Aggregate(ctx, input.Name, policy, input.Record)
	if err != nil {
		return nil, toHTTPError(ctx, err)
	}
	return &struct{ Body AggregateBody }{Body: NewAggregateBody(report)}, nil
}

func (h *APIHandler) ListFeatures(ctx context.Context, input *struct {
	NameInput
	Offset int `query:"offset" minimum:"0" default:"0" doc:"First feature to return"`
	Limit  int `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Page size"`
}) (*struct {
	Body humastar.PageBody[FeatureRow]
}, error) {
	ds, err := h.datasets().Load(input.Name)
	if err != nil {
		return nil, toHTTPError(ctx, err)
	}

	profile := h.datasets().Profile()
	levels := profile.LevelTable()
	page := humastar.Page(ds.Features, input.Offset, input.Limit)
	rows := make([]FeatureRow, len(page.Data))
	for i, f := range page.Data {
		rows[i] = FeatureRow{
			Index:   page.Offset + i,
			DN:      finite(f.DN),
			Surf:    finite(f.Area),
			Height:  finite(style.ExtrusionHeight(profile, f.DN)),
			Tooltip: risk.Describe(f, levels),
		}
	}

	return &struct {
		Body humastar.PageBody[FeatureRow]
	}{Body: humastar.PageBody[FeatureRow]{
		Total: page.Total, Offset: page.Offset, Limit: page.Limit, Data: rows,
	}}, nil
}

func (h *APIHandler) GetBounds(ctx context.Context, input *NameInput) (*struct{ Body BoundsBody }, error) {
	ds, err := h.datasets().Load(input.Name)
	if err != nil {
		return nil, toHTTPError(ctx, err)
	}
	body := BoundsBody{Dataset: ds.Name, Bounds: []float64{}}
	if ds.HasBound {
		body.Defined = true
		body.Bounds = []float64{ds.Bound.Min.Lon(), ds.Bound.Min.Lat(), ds.Bound.Max.Lon(), ds.Bound.Max.Lat()}
	}
	return &struct{ Body BoundsBody }{Body: body}, nil
}

func (h *APIHandler) AggregateInline(ctx context.Context, input *InlineAggregateInput) (*struct{ Body AggregateBody }, error) {
	policy, err := h.policy(input.Body.Unranked)
	if err != nil {
		return nil, err
	}
	res := risk.Aggregate(input.Body.Features, risk.WithUnrankedPolicy(policy))
	report := h.datasets().Summarize("", res)
	return &struct{ Body AggregateBody }{Body: NewAggregateBody(report)}, nil
}

func (h *APIHandler) GetStyle(ctx context.Context, input *struct {
	Source string `query:"source" default:"forest" doc:"Map source id the layer reads from"`
}) (*struct{ Body style.Style }, error) {
	return &struct{ Body style.Style }{Body: style.Build(h.datasets().Profile(), input.Source)}, nil
}

func (h *APIHandler) datasets() *service.DatasetService {
	return h.svc.Datasets
}

// policy resolves the query value, falling back to the profile.
func (h *APIHandler) policy(value string) (risk.UnrankedPolicy, error) {
	if value == "" {
		return h.datasets().Profile().Policy(), nil
	}
	p, err := risk.ParseUnrankedPolicy(value)
	if err != nil {
		return 0, huma.Error400BadRequest(err.Error())
	}
	return p, nil
}

// toHTTPError maps service errors to Huma status errors.
func toHTTPError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrDatasetNotFound):
		return huma.Error404NotFound("dataset not found")
	case errors.Is(err, service.ErrInvalidName):
		return huma.Error400BadRequest(err.Error())
	case goerr.HasTag(err, dataset.TagInvalidGeoJSON):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	ctxlog.From(ctx).Error("request failed", "error", err)
	return huma.Error500InternalServerError("internal error")
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
