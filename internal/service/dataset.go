package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/joeblew999/plat-forest/internal/config"
	"github.com/joeblew999/plat-forest/internal/dataset"
	"github.com/joeblew999/plat-forest/internal/observability"
	"github.com/joeblew999/plat-forest/internal/risk"
)

var (
	// ErrDatasetNotFound is returned when no source file has the given name.
	ErrDatasetNotFound = goerr.New("dataset not found")
	// ErrInvalidName is returned for names with path separators or an
	// unsupported extension.
	ErrInvalidName = goerr.New("invalid dataset name")
)

// datasetExts are the source file extensions treated as GeoJSON.
var datasetExts = map[string]bool{
	".geojson": true,
	".json":    true,
}

// SnapshotRecorder persists aggregate results.
type SnapshotRecorder interface {
	Save(ctx context.Context, dataset string, at time.Time, res risk.Result) (int64, error)
}

// DatasetService lists, loads and aggregates GeoJSON source files.
type DatasetService struct {
	sourcesDir string
	profile    *config.Profile
	decode     dataset.Options
	metrics    *observability.Metrics
	bus        *EventBus
	recorder   SnapshotRecorder
	clock      clockwork.Clock
	watched    bool
}

// DatasetOption configures a DatasetService.
type DatasetOption func(*DatasetService)

// WithMetrics records aggregation metrics.
func WithMetrics(m *observability.Metrics) DatasetOption {
	return func(s *DatasetService) { s.metrics = m }
}

// WithBus publishes aggregation events.
func WithBus(b *EventBus) DatasetOption {
	return func(s *DatasetService) { s.bus = b }
}

// WithRecorder enables snapshot recording.
func WithRecorder(r SnapshotRecorder) DatasetOption {
	return func(s *DatasetService) { s.recorder = r }
}

// WithDecodeOptions overrides the GeoJSON property mapping of the profile.
func WithDecodeOptions(o dataset.Options) DatasetOption {
	return func(s *DatasetService) { s.decode = o }
}

// WithWatchedSources tells the service that a Watcher publishes file events
// for the sources directory, so Save and Delete do not publish their own.
func WithWatchedSources() DatasetOption {
	return func(s *DatasetService) { s.watched = true }
}

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) DatasetOption {
	return func(s *DatasetService) { s.clock = c }
}

// NewDatasetService creates a dataset service reading <dataDir>/sources.
func NewDatasetService(dataDir string, profile *config.Profile, opts ...DatasetOption) *DatasetService {
	if profile == nil {
		profile = config.DefaultProfile()
	}
	s := &DatasetService{
		sourcesDir: filepath.Join(dataDir, "sources"),
		profile:    profile,
		decode:     profile.DecodeOptions(),
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SourcesDir returns the path to the sources directory.
func (s *DatasetService) SourcesDir() string {
	return s.sourcesDir
}

// Profile returns the display profile.
func (s *DatasetService) Profile() *config.Profile {
	return s.profile
}

// Bus returns the event bus, which may be nil.
func (s *DatasetService) Bus() *EventBus {
	return s.bus
}

// List returns all dataset files sorted by name.
func (s *DatasetService) List() ([]DatasetFile, error) {
	entries, err := os.ReadDir(s.sourcesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []DatasetFile{}, nil
		}
		return nil, goerr.Wrap(err, "listing datasets", goerr.V("dir", s.sourcesDir))
	}

	files := []DatasetFile{}
	for _, entry := range entries {
		if entry.IsDir() || !IsDatasetFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, DatasetFile{
			Name:     entry.Name(),
			Size:     formatSize(info.Size()),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Load reads and decodes a dataset by file name.
func (s *DatasetService) Load(name string) (*dataset.Dataset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.sourcesDir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(ErrDatasetNotFound, "loading dataset", goerr.V("name", name))
		}
		s.loadFailed()
		return nil, goerr.Wrap(err, "reading dataset", goerr.V("name", name))
	}

	ds, err := dataset.Decode(name, data, s.decode)
	if err != nil {
		s.loadFailed()
		return nil, err
	}
	return ds, nil
}

// Save validates and writes a dataset file, replacing any existing one.
func (s *DatasetService) Save(name string, data []byte) (*dataset.Dataset, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	ds, err := dataset.Decode(name, data, s.decode)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.sourcesDir, 0755); err != nil {
		return nil, goerr.Wrap(err, "creating sources directory", goerr.V("dir", s.sourcesDir))
	}
	if err := os.WriteFile(filepath.Join(s.sourcesDir, name), data, 0644); err != nil {
		return nil, goerr.Wrap(err, "writing dataset", goerr.V("name", name))
	}
	s.fileChanged(DatasetUpdated, name)
	return ds, nil
}

// Delete removes a dataset file.
func (s *DatasetService) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.sourcesDir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return goerr.Wrap(ErrDatasetNotFound, "deleting dataset", goerr.V("name", name))
		}
		return goerr.Wrap(err, "deleting dataset", goerr.V("name", name))
	}
	s.fileChanged(DatasetDeleted, name)
	return nil
}

// Aggregate loads a dataset and aggregates it with the given policy. When
// record is set and a recorder is configured, the result is persisted.
func (s *DatasetService) Aggregate(ctx context.Context, name string, policy risk.UnrankedPolicy, record bool) (*Report, error) {
	start := s.clock.Now()

	ds, err := s.Load(name)
	if err != nil {
		return nil, err
	}

	report := s.Summarize(name, risk.Aggregate(ds.Features, risk.WithUnrankedPolicy(policy)))

	if s.metrics != nil {
		s.metrics.ObserveResult(report.Result)
		s.metrics.AggregateDuration.Observe(s.clock.Since(start).Seconds())
	}

	logger := ctxlog.From(ctx)
	logger.Debug("dataset aggregated",
		"dataset", name,
		"features", report.Result.FeatureCount,
		"invalid", report.Result.InvalidCount,
		"unranked", report.Result.UnrankedCount,
		"policy", policy.String(),
	)
	if report.Result.InvalidCount > 0 {
		logger.Warn("skipped invalid features", "dataset", name, "count", report.Result.InvalidCount)
	}

	if record && s.recorder != nil {
		if _, err := s.recorder.Save(ctx, name, report.ComputedAt, report.Result); err != nil {
			return nil, goerr.Wrap(err, "recording snapshot", goerr.V("dataset", name))
		}
		if s.metrics != nil {
			s.metrics.SnapshotsRecorded.Inc()
		}
	}

	if s.bus != nil {
		s.bus.Publish(Event{Kind: DatasetAggregated, Dataset: name, At: report.ComputedAt})
	}

	return report, nil
}

// Summarize wraps an already computed result into a report using the
// service profile.
func (s *DatasetService) Summarize(name string, res risk.Result) *Report {
	return &Report{
		Dataset:    name,
		ComputedAt: s.clock.Now().UTC(),
		Result:     res,
		Summary:    risk.Summarize(res, s.profile.Bands, s.profile.Language()),
	}
}

func (s *DatasetService) fileChanged(kind, name string) {
	if s.bus == nil || s.watched {
		return
	}
	s.bus.Publish(Event{Kind: kind, Dataset: name})
}

func (s *DatasetService) loadFailed() {
	if s.metrics != nil {
		s.metrics.DatasetLoadErrors.Inc()
	}
}

// IsDatasetFile reports whether a file name has a GeoJSON extension.
func IsDatasetFile(name string) bool {
	return datasetExts[strings.ToLower(filepath.Ext(name))]
}

// ValidateName rejects path traversal and unsupported extensions.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return goerr.Wrap(ErrInvalidName, "path separators are not allowed", goerr.V("name", name))
	}
	if !IsDatasetFile(name) {
		return goerr.Wrap(ErrInvalidName, "unsupported file type", goerr.V("ext", filepath.Ext(name)))
	}
	return nil
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
