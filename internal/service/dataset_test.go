package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-forest/internal/config"
	"github.com/joeblew999/plat-forest/internal/observability"
	"github.com/joeblew999/plat-forest/internal/risk"
)

const sampleCollection = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {"DN": 0, "surf": 100000}, "geometry": {"type": "Point", "coordinates": [7.0, 47.5]}},
  {"type": "Feature", "properties": {"DN": 2, "surf": 50000}, "geometry": {"type": "Point", "coordinates": [7.1, 47.6]}},
  {"type": "Feature", "properties": {"DN": 4, "surf": 10000}, "geometry": {"type": "Point", "coordinates": [7.2, 47.7]}},
  {"type": "Feature", "properties": {"DN": 7, "surf": 5000}, "geometry": {"type": "Point", "coordinates": [7.3, 47.8]}}
]}`

type fakeRecorder struct {
	saved []string
	err   error
}

func (r *fakeRecorder) Save(_ context.Context, dataset string, _ time.Time, _ risk.Result) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.saved = append(r.saved, dataset)
	return int64(len(r.saved)), nil
}

func newTestService(t *testing.T, opts ...DatasetOption) *DatasetService {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sources"), 0755))
	svc := NewDatasetService(dir, nil, opts...)
	writeSource(t, svc, "sample.geojson", sampleCollection)
	return svc
}

func writeSource(t *testing.T, svc *DatasetService, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(svc.SourcesDir(), name), []byte(body), 0644))
}

func TestDatasetService_List(t *testing.T) {
	svc := newTestService(t)
	writeSource(t, svc, "b.json", `{"type":"FeatureCollection","features":[]}`)
	writeSource(t, svc, "notes.txt", "ignored")

	files, err := svc.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b.json", files[0].Name)
	assert.Equal(t, "sample.geojson", files[1].Name)
}

func TestDatasetService_ListMissingDir(t *testing.T) {
	svc := NewDatasetService(filepath.Join(t.TempDir(), "nope"), nil)
	files, err := svc.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDatasetService_Load(t *testing.T) {
	svc := newTestService(t)

	ds, err := svc.Load("sample.geojson")
	require.NoError(t, err)
	assert.Len(t, ds.Features, 4)

	_, err = svc.Load("missing.geojson")
	assert.True(t, errors.Is(err, ErrDatasetNotFound))

	_, err = svc.Load("../etc/passwd.json")
	assert.True(t, errors.Is(err, ErrInvalidName))

	_, err = svc.Load("sample.shp")
	assert.True(t, errors.Is(err, ErrInvalidName))
}

func TestDatasetService_LoadCorrupt(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	svc := newTestService(t, WithMetrics(metrics))
	writeSource(t, svc, "broken.geojson", "{not json")

	_, err := svc.Load("broken.geojson")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DatasetLoadErrors))
}

func TestDatasetService_Aggregate(t *testing.T) {
	fixed := time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC)
	metrics := observability.NewMetricsForTesting()
	bus := NewEventBus()
	rec := &fakeRecorder{}
	svc := newTestService(t,
		WithMetrics(metrics),
		WithBus(bus),
		WithRecorder(rec),
		WithClock(clockwork.NewFakeClockAt(fixed)),
	)

	ch := bus.Subscribe("sample.geojson")
	defer bus.Unsubscribe(ch)

	report, err := svc.Aggregate(context.Background(), "sample.geojson", risk.UnrankedExcluded, true)
	require.NoError(t, err)

	assert.Equal(t, "sample.geojson", report.Dataset)
	assert.Equal(t, fixed, report.ComputedAt)
	assert.Equal(t, 160000.0, report.Result.TotalArea)
	assert.Equal(t, 1, report.Result.UnrankedCount)
	assert.Equal(t, 1, report.Result.HighRiskCount)
	assert.Equal(t, []string{"sample.geojson"}, rec.saved)

	idx, err := report.Result.VulnerabilityIndex()
	require.NoError(t, err)
	assert.Equal(t, 0.875, idx)
	assert.Equal(t, "0.88", report.Summary.Index)

	select {
	case ev := <-ch:
		assert.Equal(t, DatasetAggregated, ev.Kind)
		assert.Equal(t, fixed, ev.At)
	default:
		t.Fatal("expected aggregated event")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapshotsRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Aggregations.WithLabelValues("exclude")))
}

func TestDatasetService_AggregateIncludePolicy(t *testing.T) {
	svc := newTestService(t)

	report, err := svc.Aggregate(context.Background(), "sample.geojson", risk.UnrankedInTotal, false)
	require.NoError(t, err)
	assert.Equal(t, 165000.0, report.Result.TotalArea)
}

func TestDatasetService_AggregateRecordError(t *testing.T) {
	svc := newTestService(t, WithRecorder(&fakeRecorder{err: errors.New("disk full")}))

	_, err := svc.Aggregate(context.Background(), "sample.geojson", risk.UnrankedInTotal, true)
	require.Error(t, err)

	// Without record the recorder is not called.
	_, err = svc.Aggregate(context.Background(), "sample.geojson", risk.UnrankedInTotal, false)
	require.NoError(t, err)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("haut-rhin.geojson"))
	assert.NoError(t, ValidateName("ALSACE.JSON"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("a/b.geojson"))
	assert.Error(t, ValidateName(`a\b.geojson`))
	assert.Error(t, ValidateName("..geojson"))
	assert.Error(t, ValidateName("data.csv"))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.0 KB", formatSize(1024))
	assert.Equal(t, "1.5 MB", formatSize(1536*1024))
}

func TestDatasetService_SaveAndDelete(t *testing.T) {
	bus := NewEventBus()
	svc := newTestService(t, WithBus(bus))
	ch := bus.Subscribe("upload.geojson")
	defer bus.Unsubscribe(ch)

	ds, err := svc.Save("upload.geojson", []byte(sampleCollection))
	require.NoError(t, err)
	assert.Len(t, ds.Features, 4)
	assert.Equal(t, DatasetUpdated, (<-ch).Kind)

	_, err = svc.Save("upload.geojson", []byte("{broken"))
	require.Error(t, err)

	_, err = svc.Save("upload.csv", []byte(sampleCollection))
	assert.True(t, errors.Is(err, ErrInvalidName))

	require.NoError(t, svc.Delete("upload.geojson"))
	assert.Equal(t, DatasetDeleted, (<-ch).Kind)

	err = svc.Delete("upload.geojson")
	assert.True(t, errors.Is(err, ErrDatasetNotFound))
}

func TestDatasetService_SaveWatchedSources(t *testing.T) {
	bus := NewEventBus()
	svc := newTestService(t, WithBus(bus), WithWatchedSources())
	ch := bus.Subscribe("")
	defer bus.Unsubscribe(ch)

	_, err := svc.Save("upload.geojson", []byte(sampleCollection))
	require.NoError(t, err)
	require.NoError(t, svc.Delete("upload.geojson"))

	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event, the watcher reports file changes", ev.Kind)
	default:
	}
}

func TestDatasetService_AggregateProfileProperties(t *testing.T) {
	profile := config.DefaultProfile()
	profile.Properties = config.Properties{Severity: "niveau", Area: "aire_m2", AreaFromGeometry: true}

	dir := t.TempDir()
	svc := NewDatasetService(dir, profile)
	require.NoError(t, os.MkdirAll(svc.SourcesDir(), 0755))
	writeSource(t, svc, "renamed.geojson", `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {"niveau": 4, "aire_m2": 10000}, "geometry": {"type": "Point", "coordinates": [7.0, 47.5]}},
  {"type": "Feature", "properties": {"niveau": "2"}, "geometry": {"type": "Polygon", "coordinates": [[[7.0, 47.0], [7.01, 47.0], [7.01, 47.01], [7.0, 47.01], [7.0, 47.0]]]}},
  {"type": "Feature", "properties": {"DN": 1, "surf": 5000}, "geometry": {"type": "Point", "coordinates": [7.2, 47.7]}}
]}`)

	report, err := svc.Aggregate(context.Background(), "renamed.geojson", risk.UnrankedInTotal, false)
	require.NoError(t, err)

	res := report.Result
	assert.Equal(t, 3, res.FeatureCount)
	assert.Equal(t, 1, res.InvalidCount, "default property names are not read")
	assert.Equal(t, 1, res.HighRiskCount)
	assert.Equal(t, 10000.0, res.AreaByLevel[4])
	assert.Greater(t, res.AreaByLevel[2], 500000.0, "area computed from the polygon")
	assert.InDelta(t, res.AreaByLevel[2]+10000, res.TotalArea, 1e-6)

	// Without the fallback the polygon has no area and is skipped.
	profile.Properties.AreaFromGeometry = false
	report, err = NewDatasetService(dir, profile).Aggregate(context.Background(), "renamed.geojson", risk.UnrankedInTotal, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Result.InvalidCount)
	assert.Equal(t, 10000.0, report.Result.TotalArea)
}
