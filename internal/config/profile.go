// Package config loads the display profile of the risk dashboard.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-forest/internal/dataset"
	"github.com/joeblew999/plat-forest/internal/risk"
)

// Extrusion holds the 3D height range of the risk layer, in meters.
type Extrusion struct {
	MinHeight float64 `yaml:"minHeight" json:"minHeight"`
	MaxHeight float64 `yaml:"maxHeight" json:"maxHeight"`
	Opacity   float64 `yaml:"opacity" json:"opacity"`
}

// Properties names the GeoJSON properties holding severity and area.
type Properties struct {
	Severity string `yaml:"severity" json:"severity"`
	Area     string `yaml:"area" json:"area"`
	// AreaFromGeometry falls back to the geodesic polygon area when the
	// area property is missing.
	AreaFromGeometry bool `yaml:"areaFromGeometry" json:"areaFromGeometry"`
}

// Profile describes the five severity levels and the display constants
// derived from them.
//
// Example:
//
//	levels:
//	  - {code: 0, label: "Nul (0)", color: "#10b981"}
//	  ...
//	unranked: include
//	extrusion: {minHeight: 20, maxHeight: 3000, opacity: 0.9}
//	bands: {medium: 1.5, high: 2.5}
//	locale: fr
//	properties: {severity: DN, area: surf, areaFromGeometry: false}
type Profile struct {
	Levels     []risk.Level `yaml:"levels"`
	Unranked   string       `yaml:"unranked"`
	Extrusion  Extrusion    `yaml:"extrusion"`
	Bands      risk.Bands   `yaml:"bands"`
	Locale     string       `yaml:"locale"`
	Properties Properties   `yaml:"properties"`
}

// DefaultProfile returns the profile used when no file is configured.
func DefaultProfile() *Profile {
	return &Profile{
		Levels:    append([]risk.Level(nil), risk.DefaultLevels[:]...),
		Unranked:  risk.UnrankedInTotal.String(),
		Extrusion: Extrusion{MinHeight: 20, MaxHeight: 3000, Opacity: 0.9},
		Bands:     risk.DefaultBands,
		Locale:    "en",
		Properties: Properties{
			Severity: dataset.DefaultSeverityProperty,
			Area:     dataset.DefaultAreaProperty,
		},
	}
}

// LoadProfile reads a YAML profile. Keys absent from the file keep their
// defaults. An empty path or a missing file yields the default profile.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return nil, goerr.Wrap(err, "reading profile", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, goerr.Wrap(err, "parsing profile", goerr.V("path", path))
	}
	if err := p.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid profile", goerr.V("path", path))
	}
	return p, nil
}

var colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Validate checks level codes, colors, thresholds and heights.
func (p *Profile) Validate() error {
	if len(p.Levels) != risk.NumLevels {
		return goerr.New("profile must define exactly five levels",
			goerr.V("count", len(p.Levels)))
	}
	seen := make(map[int]bool, risk.NumLevels)
	for i, lvl := range p.Levels {
		if lvl.Code < 0 || lvl.Code > risk.MaxLevel {
			return goerr.New("level code out of range", goerr.V("index", i), goerr.V("code", lvl.Code))
		}
		if seen[lvl.Code] {
			return goerr.New("duplicate level code", goerr.V("code", lvl.Code))
		}
		seen[lvl.Code] = true
		if lvl.Label == "" {
			return goerr.New("level label is required", goerr.V("code", lvl.Code))
		}
		if !colorPattern.MatchString(lvl.Color) {
			return goerr.New("invalid level color", goerr.V("code", lvl.Code), goerr.V("color", lvl.Color))
		}
	}
	if _, err := risk.ParseUnrankedPolicy(p.Unranked); err != nil {
		return err
	}
	if p.Bands.Medium <= 0 || p.Bands.High <= p.Bands.Medium || p.Bands.High > risk.MaxLevel {
		return goerr.New("band thresholds must satisfy 0 < medium < high <= 4",
			goerr.V("medium", p.Bands.Medium), goerr.V("high", p.Bands.High))
	}
	if p.Extrusion.MinHeight < 0 || p.Extrusion.MaxHeight < p.Extrusion.MinHeight {
		return goerr.New("extrusion heights must satisfy 0 <= min <= max",
			goerr.V("min", p.Extrusion.MinHeight), goerr.V("max", p.Extrusion.MaxHeight))
	}
	if p.Extrusion.Opacity < 0 || p.Extrusion.Opacity > 1 {
		return goerr.New("extrusion opacity must be within 0-1", goerr.V("opacity", p.Extrusion.Opacity))
	}
	if p.Properties.Severity == "" || p.Properties.Area == "" {
		return goerr.New("severity and area property names are required",
			goerr.V("severity", p.Properties.Severity), goerr.V("area", p.Properties.Area))
	}
	if p.Properties.Severity == p.Properties.Area {
		return goerr.New("severity and area must be different properties", goerr.V("name", p.Properties.Area))
	}
	if _, err := language.Parse(p.Locale); err != nil {
		return goerr.Wrap(err, "invalid locale", goerr.V("locale", p.Locale))
	}
	return nil
}

// LevelTable returns the levels indexed by code. Call after Validate.
func (p *Profile) LevelTable() risk.Levels {
	var l risk.Levels
	for _, lvl := range p.Levels {
		if lvl.Code >= 0 && lvl.Code <= risk.MaxLevel {
			l[lvl.Code] = lvl
		}
	}
	return l
}

// Policy returns the configured unranked policy, defaulting to include.
func (p *Profile) Policy() risk.UnrankedPolicy {
	policy, _ := risk.ParseUnrankedPolicy(p.Unranked)
	return policy
}

// DecodeOptions returns the property mapping used to read datasets.
func (p *Profile) DecodeOptions() dataset.Options {
	return dataset.Options{
		SeverityProperty: p.Properties.Severity,
		AreaProperty:     p.Properties.Area,
		AreaFromGeometry: p.Properties.AreaFromGeometry,
	}
}

// Language returns the locale used for number formatting.
func (p *Profile) Language() language.Tag {
	tag, err := language.Parse(p.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

// LogValue returns structured log value
func (p Profile) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("unranked", p.Unranked),
		slog.String("locale", p.Locale),
		slog.Float64("band_medium", p.Bands.Medium),
		slog.Float64("band_high", p.Bands.High),
		slog.String("severity_property", p.Properties.Severity),
		slog.String("area_property", p.Properties.Area),
		slog.Bool("area_from_geometry", p.Properties.AreaFromGeometry),
	)
}
