package dataset

import (
	"math"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-forest/internal/risk"
)

const sample = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"DN": 0, "surf": 100000},
     "geometry": {"type": "Polygon", "coordinates": [[[7.0, 47.5], [7.2, 47.5], [7.2, 47.7], [7.0, 47.5]]]}},
    {"type": "Feature", "properties": {"DN": "2", "surf": "50000"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[7.5, 48.0], [7.6, 48.0], [7.6, 48.2], [7.5, 48.0]]]]}},
    {"type": "Feature", "properties": {"DN": 4, "surf": 10000},
     "geometry": {"type": "Point", "coordinates": [9.0, 50.0]}}
  ]
}`

func TestDecode(t *testing.T) {
	ds, err := Decode("sample", []byte(sample), Options{})
	require.NoError(t, err)

	assert.Equal(t, "sample", ds.Name)
	assert.Equal(t, []risk.Feature{
		{DN: 0, Area: 100000},
		{DN: 2, Area: 50000},
		{DN: 4, Area: 10000},
	}, ds.Features)

	require.True(t, ds.HasBound)
	assert.Equal(t, orb.Bound{Min: orb.Point{7.0, 47.5}, Max: orb.Point{7.6, 48.2}}, ds.Bound)

	res := risk.Aggregate(ds.Features)
	idx, err := res.VulnerabilityIndex()
	require.NoError(t, err)
	assert.Equal(t, 0.875, idx)
}

func TestDecode_MissingAndBadProperties(t *testing.T) {
	data := `{"type": "FeatureCollection", "features": [
	  {"type": "Feature", "properties": {"DN": "high", "surf": 10}, "geometry": {"type": "Point", "coordinates": [7.0, 47.0]}},
	  {"type": "Feature", "properties": {"DN": 1}, "geometry": {"type": "Point", "coordinates": [7.0, 47.0]}}
	]}`

	ds, err := Decode("bad", []byte(data), Options{})
	require.NoError(t, err)
	require.Len(t, ds.Features, 2)
	assert.True(t, math.IsNaN(ds.Features[0].DN))
	assert.True(t, math.IsNaN(ds.Features[1].Area))
	assert.False(t, ds.HasBound)

	res := risk.Aggregate(ds.Features)
	assert.Equal(t, 2, res.InvalidCount)
}

func TestDecode_AreaFromGeometry(t *testing.T) {
	data := `{"type": "FeatureCollection", "features": [
	  {"type": "Feature", "properties": {"DN": 3},
	   "geometry": {"type": "Polygon", "coordinates": [[[7.0, 47.0], [7.01, 47.0], [7.01, 47.01], [7.0, 47.01], [7.0, 47.0]]]}}
	]}`

	ds, err := Decode("geom", []byte(data), Options{AreaFromGeometry: true})
	require.NoError(t, err)
	require.Len(t, ds.Features, 1)

	// Roughly 0.01° x 0.01° at 47°N.
	assert.InDelta(t, 845000, ds.Features[0].Area, 50000)
}

func TestDecode_CustomProperties(t *testing.T) {
	data := `{"type": "FeatureCollection", "features": [
	  {"type": "Feature", "properties": {"level": 2, "area_m2": 40}, "geometry": {"type": "Point", "coordinates": [7.0, 47.0]}}
	]}`

	ds, err := Decode("custom", []byte(data), Options{SeverityProperty: "level", AreaProperty: "area_m2"})
	require.NoError(t, err)
	assert.Equal(t, []risk.Feature{{DN: 2, Area: 40}}, ds.Features)
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode("broken", []byte("{not json"), Options{})
	require.Error(t, err)
	assert.True(t, goerr.HasTag(err, TagInvalidGeoJSON))
}
