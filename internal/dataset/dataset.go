// Package dataset decodes forest-risk GeoJSON into aggregator input.
//
// Geometry is only read for two things: the bounding box used as a camera hint,
// and an optional geodesic area fallback when a feature carries no area
// attribute. Everything else is attribute reading.
package dataset

import (
	"math"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-forest/internal/risk"
)

// Default property names in the source polygons.
const (
	DefaultSeverityProperty = "DN"
	DefaultAreaProperty     = "surf"
)

// TagInvalidGeoJSON marks input that is not a GeoJSON FeatureCollection.
var TagInvalidGeoJSON = goerr.NewTag("invalid_geojson")

// Options controls how properties are read.
type Options struct {
	SeverityProperty string
	AreaProperty     string
	// AreaFromGeometry computes a geodesic area for features without an
	// area property instead of marking them invalid.
	AreaFromGeometry bool
}

func (o Options) withDefaults() Options {
	if o.SeverityProperty == "" {
		o.SeverityProperty = DefaultSeverityProperty
	}
	if o.AreaProperty == "" {
		o.AreaProperty = DefaultAreaProperty
	}
	return o
}

// Dataset is a decoded feature collection.
type Dataset struct {
	Name     string
	Features []risk.Feature
	// Bound covers the outer rings of all polygons. Valid only if HasBound.
	Bound    orb.Bound
	HasBound bool
}

// Decode parses a GeoJSON FeatureCollection. Feature order is preserved.
func Decode(name string, data []byte, opts Options) (*Dataset, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, goerr.Wrap(err, "parsing geojson", goerr.V("dataset", name), goerr.T(TagInvalidGeoJSON))
	}
	return FromFeatureCollection(name, fc, opts), nil
}

// FromFeatureCollection converts an already parsed collection.
func FromFeatureCollection(name string, fc *geojson.FeatureCollection, opts Options) *Dataset {
	opts = opts.withDefaults()
	ds := &Dataset{
		Name:     name,
		Features: make([]risk.Feature, 0, len(fc.Features)),
	}

	for _, f := range fc.Features {
		rf := risk.Feature{
			DN:   numberProperty(f.Properties, opts.SeverityProperty),
			Area: numberProperty(f.Properties, opts.AreaProperty),
		}
		if math.IsNaN(rf.Area) && opts.AreaFromGeometry && f.Geometry != nil {
			rf.Area = math.Abs(geo.Area(f.Geometry))
		}
		ds.Features = append(ds.Features, rf)

		if b, ok := outerBound(f.Geometry); ok {
			if ds.HasBound {
				ds.Bound = ds.Bound.Union(b)
			} else {
				ds.Bound = b
				ds.HasBound = true
			}
		}
	}

	return ds
}

// numberProperty reads a numeric property, accepting numeric strings.
// Missing or non-numeric values yield NaN.
func numberProperty(props geojson.Properties, key string) float64 {
	v, ok := props[key]
	if !ok || v == nil {
		return math.NaN()
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

// outerBound returns the bound of the outer rings of polygonal geometry.
func outerBound(g orb.Geometry) (orb.Bound, bool) {
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return orb.Bound{}, false
		}
		return g[0].Bound(), true
	case orb.MultiPolygon:
		var (
			b     orb.Bound
			found bool
		)
		for _, poly := range g {
			pb, ok := outerBound(poly)
			if !ok {
				continue
			}
			if found {
				b = b.Union(pb)
			} else {
				b, found = pb, true
			}
		}
		return b, found
	}
	return orb.Bound{}, false
}
