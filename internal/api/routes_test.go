package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-forest/internal/db"
	"github.com/joeblew999/plat-forest/internal/risk"
	"github.com/joeblew999/plat-forest/internal/service"
)

const sample = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {"DN": 0, "surf": 100000},
   "geometry": {"type": "Polygon", "coordinates": [[[7.0, 47.5], [7.2, 47.5], [7.2, 47.7], [7.0, 47.5]]]}},
  {"type": "Feature", "properties": {"DN": 2, "surf": 50000}, "geometry": {"type": "Point", "coordinates": [7.1, 47.6]}},
  {"type": "Feature", "properties": {"DN": 4, "surf": 10000}, "geometry": {"type": "Point", "coordinates": [7.2, 47.7]}},
  {"type": "Feature", "properties": {"DN": 7, "surf": 5000}, "geometry": {"type": "Point", "coordinates": [7.3, 47.8]}},
  {"type": "Feature", "properties": {"DN": "x", "surf": 1}, "geometry": {"type": "Point", "coordinates": [7.3, 47.8]}}
]}`

func newTestAPI(t *testing.T) (humatest.TestAPI, *service.DatasetService) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sources"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sources", "sample.geojson"), []byte(sample), 0644))

	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	store, err := db.NewSnapshotStore(context.Background(), conn)
	require.NoError(t, err)

	datasets := service.NewDatasetService(dir, nil, service.WithRecorder(store))

	cfg := huma.DefaultConfig("test", Version)
	cfg.CreateHooks = nil
	cfg.Transformers = append(cfg.Transformers, LinkTransformer())
	_, api := humatest.New(t, cfg)

	RegisterRoutes(api, &Services{Datasets: datasets})
	NewDBHandler(conn, store).RegisterRoutes(api)
	return api, datasets
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func TestHealth(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", decode[HealthBody](t, resp.Body.Bytes()).Status)
	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/datasets>; rel="datasets"`)
}

func TestListDatasets(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/api/v1/datasets")
	require.Equal(t, http.StatusOK, resp.Code)
	files := decode[[]service.DatasetFile](t, resp.Body.Bytes())
	require.Len(t, files, 1)
	assert.Equal(t, "sample.geojson", files[0].Name)
}

func TestAggregateDataset(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/api/v1/datasets/sample.geojson/aggregate?unranked=exclude")
	require.Equal(t, http.StatusOK, resp.Code)

	body := decode[AggregateBody](t, resp.Body.Bytes())
	assert.Equal(t, "exclude", body.Policy)
	assert.Equal(t, 160000.0, body.TotalArea)
	assert.Equal(t, 5000.0, body.UnrankedArea)
	assert.Equal(t, 1, body.InvalidCount)
	assert.Equal(t, 1, body.UnrankedCount)
	require.NotNil(t, body.VulnerabilityIndex)
	assert.Equal(t, 0.875, *body.VulnerabilityIndex)
	require.NotNil(t, body.Percentages)
	assert.Equal(t, 62.5, body.Percentages[0])
	assert.Len(t, body.Issues, 2)
	assert.Contains(t, resp.Header().Get("Link"), "collection")

	resp = api.Get("/api/v1/datasets/sample.geojson/aggregate")
	require.Equal(t, http.StatusOK, resp.Code)
	body = decode[AggregateBody](t, resp.Body.Bytes())
	assert.Equal(t, "include", body.Policy)
	assert.Equal(t, 165000.0, body.TotalArea)
}

func TestAggregateDataset_Errors(t *testing.T) {
	api, datasets := newTestAPI(t)

	assert.Equal(t, http.StatusNotFound, api.Get("/api/v1/datasets/missing.geojson/aggregate").Code)
	assert.Equal(t, http.StatusBadRequest, api.Get("/api/v1/datasets/data.csv/aggregate").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, api.Get("/api/v1/datasets/sample.geojson/aggregate?unranked=maybe").Code)

	require.NoError(t, os.WriteFile(filepath.Join(datasets.SourcesDir(), "broken.geojson"), []byte("{"), 0644))
	assert.Equal(t, http.StatusUnprocessableEntity, api.Get("/api/v1/datasets/broken.geojson/aggregate").Code)
}

func TestAggregateDataset_Record(t *testing.T) {
	api, _ := newTestAPI(t)

	require.Equal(t, http.StatusOK, api.Get("/api/v1/datasets/sample.geojson/aggregate?record=true").Code)
	require.Equal(t, http.StatusOK, api.Get("/api/v1/datasets/sample.geojson/aggregate").Code)

	resp := api.Get("/api/v1/snapshots?dataset=sample.geojson")
	require.Equal(t, http.StatusOK, resp.Code)
	snaps := decode[[]db.Snapshot](t, resp.Body.Bytes())
	require.Len(t, snaps, 1)
	assert.Equal(t, 165000.0, snaps[0].TotalArea)

	resp = api.Get("/api/v1/tables")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, decode[TablesBody](t, resp.Body.Bytes()).Tables, "aggregate_snapshots")

	resp = api.Post("/api/v1/query", map[string]any{"query": "SELECT count(*) AS n FROM aggregate_snapshots"})
	require.Equal(t, http.StatusOK, resp.Code)
	q := decode[QueryBody](t, resp.Body.Bytes())
	assert.Equal(t, []string{"n"}, q.Columns)
	assert.Equal(t, 1, q.Count)

	assert.Equal(t, http.StatusBadRequest, api.Post("/api/v1/query", map[string]any{"query": "SELEKT"}).Code)
}

func TestSchemas_NullableIndex(t *testing.T) {
	api, _ := newTestAPI(t)

	schemas := api.OpenAPI().Components.Schemas.Map()
	for _, name := range []string{"Snapshot", "AggregateBody"} {
		require.Contains(t, schemas, name)
		prop := schemas[name].Properties["vulnerabilityIndex"]
		require.NotNil(t, prop, name)
		assert.True(t, prop.Nullable, name)
	}
}

func TestAggregateInline(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Post("/api/v1/aggregate", map[string]any{
		"features": []map[string]any{},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode[AggregateBody](t, resp.Body.Bytes())
	assert.Nil(t, body.VulnerabilityIndex)
	assert.False(t, body.IndexDefined)
	assert.Nil(t, body.Percentages)
	assert.Equal(t, risk.IndexPlaceholder, body.Summary.Index)

	resp = api.Post("/api/v1/aggregate", map[string]any{
		"features": []map[string]any{
			{"dn": 3, "surf": 50000},
			{"dn": 4, "surf": 30000},
			{"dn": 1, "surf": 20000},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	body = decode[AggregateBody](t, resp.Body.Bytes())
	assert.Equal(t, 80000.0, body.HighRiskArea)
	assert.Equal(t, 1, body.HighRiskCount)
	assert.Equal(t, "8", body.Summary.HighRiskHectares)
	require.NotNil(t, body.VulnerabilityIndex)
	assert.InDelta(t, 2.9, *body.VulnerabilityIndex, 1e-9)
	assert.Equal(t, "high", body.Summary.Band.Name)
}

func TestListFeatures(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/api/v1/datasets/sample.geojson/features?offset=1&limit=1")
	require.Equal(t, http.StatusOK, resp.Code)
	medium := decode[struct {
		Data []FeatureRow `json:"data"`
	}](t, resp.Body.Bytes())
	require.Len(t, medium.Data, 1)
	require.NotNil(t, medium.Data[0].Height)
	assert.Equal(t, 1510.0, *medium.Data[0].Height)

	resp = api.Get("/api/v1/datasets/sample.geojson/features?offset=3&limit=2")
	require.Equal(t, http.StatusOK, resp.Code)

	type page struct {
		Total  int          `json:"total"`
		Offset int          `json:"offset"`
		Data   []FeatureRow `json:"data"`
	}
	p := decode[page](t, resp.Body.Bytes())
	assert.Equal(t, 5, p.Total)
	require.Len(t, p.Data, 2)

	unranked := p.Data[0]
	assert.Equal(t, 3, unranked.Index)
	assert.False(t, unranked.Tooltip.Ranked)
	assert.Equal(t, 0.5, unranked.Tooltip.Hectares)
	require.NotNil(t, unranked.Height)
	assert.Equal(t, 3000.0, *unranked.Height, "codes above 4 clamp to the top stop")

	invalid := p.Data[1]
	assert.Nil(t, invalid.DN)
	assert.Nil(t, invalid.Height)
	require.NotNil(t, invalid.Surf)

	assert.Contains(t, resp.Header().Values("Link"), `</api/v1/datasets/sample.geojson/features?offset=1&limit=2>; rel="prev"`)
}

func TestGetBounds(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/api/v1/datasets/sample.geojson/bounds")
	require.Equal(t, http.StatusOK, resp.Code)
	b := decode[BoundsBody](t, resp.Body.Bytes())
	assert.True(t, b.Defined)
	assert.Equal(t, []float64{7.0, 47.5, 7.2, 47.7}, b.Bounds)
}

func TestGetStyle(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/api/v1/style?source=alsace")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"source":"alsace"`)
	assert.Contains(t, resp.Body.String(), `"fill-extrusion-opacity":0.9`)
}

func TestPutAndDeleteDataset(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Put("/api/v1/datasets/new.geojson", "Content-Type: application/geo+json", strings.NewReader(sample))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, http.StatusOK, api.Get("/api/v1/datasets/new.geojson/aggregate").Code)

	assert.Equal(t, http.StatusOK, api.Delete("/api/v1/datasets/new.geojson").Code)
	assert.Equal(t, http.StatusNotFound, api.Delete("/api/v1/datasets/new.geojson").Code)
}
