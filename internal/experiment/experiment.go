// Package experiment assembles a run from its configuration: the shot series
// with its sources, the diagnostics registry and the permanent result cache.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/banshee-data/postexperiment/internal/cache"
	"github.com/banshee-data/postexperiment/internal/config"
	"github.com/banshee-data/postexperiment/internal/datasource"
	"github.com/banshee-data/postexperiment/internal/diagnostics"
	"github.com/banshee-data/postexperiment/internal/fsutil"
	"github.com/banshee-data/postexperiment/internal/httputil"
	"github.com/banshee-data/postexperiment/internal/monitoring"
	"github.com/banshee-data/postexperiment/internal/shot"
)

// Source names, also the order sources are loaded in.
const (
	FileSourceName    = "files"
	LabBookSourceName = "labbook"
)

// Options supply the dependencies of an Experiment. Zero values select the
// real filesystem, the default HTTP client and a fresh registry.
type Options struct {
	FS       fsutil.FileSystem
	Client   httputil.HTTPClient
	Registry *diagnostics.Registry
}

// Experiment is one configured run.
type Experiment struct {
	cfg      *config.RunConfig
	series   *shot.Series
	registry *diagnostics.Registry
	store    *cache.Store

	mu     sync.Mutex
	cached map[string]*cache.Function[Stored]
}

// New builds the experiment described by cfg. The series is empty until Load
// is called. A cache store is opened when cfg.CachePath is set; Close must be
// called to persist it.
func New(cfg *config.RunConfig, opts Options) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	spec, err := IDSpec(cfg.IDFields)
	if err != nil {
		return nil, err
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Registry == nil {
		opts.Registry = diagnostics.NewRegistry()
	}

	e := &Experiment{
		cfg:      cfg,
		series:   shot.NewSeries(spec),
		registry: opts.Registry,
		cached:   make(map[string]*cache.Function[Stored]),
	}

	if cfg.FilePattern != "" {
		src, err := fileSource(cfg, opts.FS)
		if err != nil {
			return nil, err
		}
		e.series.AddSource(FileSourceName, src)
	}
	if cfg.LabBook.URL != "" {
		e.series.AddSource(LabBookSourceName, labBookSource(cfg.LabBook, opts.Client))
	}

	for _, f := range cfg.Focus {
		diagnostics.SetupFocusDiagnostic(e.registry, f.Key, f.Image)
	}

	if cfg.CachePath != "" {
		// sqlite needs the directory on the real filesystem.
		if dir := filepath.Dir(cfg.CachePath); dir != "." && cfg.CachePath != ":memory:" {
			if err := (fsutil.OSFileSystem{}).MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create cache dir: %w", err)
			}
		}
		store, err := cache.Open(cfg.CachePath)
		if err != nil {
			return nil, err
		}
		e.store = store
	}
	return e, nil
}

// IDSpec builds the shot ID spec from its configuration. Fields without a
// type are integers.
func IDSpec(fields []config.IDFieldConfig) (*shot.IDSpec, error) {
	if len(fields) == 0 {
		return nil, errors.New("no id fields")
	}
	out := make([]shot.IDField, len(fields))
	for i, f := range fields {
		conv := converter(f.Type)
		if conv == nil {
			conv = shot.Int
		}
		out[i] = shot.IDField{Name: f.Name, Convert: conv}
	}
	return shot.NewIDSpec(out...), nil
}

func converter(t string) shot.Converter {
	switch t {
	case config.TypeInt:
		return shot.Int
	case config.TypeFloat:
		return shot.Float
	case config.TypeString:
		return shot.String
	}
	return nil
}

func fileSource(cfg *config.RunConfig, fsys fsutil.FileSystem) (*datasource.FileSource, error) {
	fields := make(map[int]datasource.FieldSpec, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields[f.Group] = datasource.FieldSpec{Name: f.Name, Convert: converter(f.Type)}
	}
	src, err := datasource.NewFileSource(fsys, cfg.DataDir, cfg.FilePattern, cfg.FileKey, fields)
	if err != nil {
		return nil, err
	}
	src.FileKeyGroup = cfg.FileKeyGroup
	for key, r := range cfg.Readers {
		if r.Kind == "raw" {
			src.Readers[key] = &datasource.RawReader{
				Name: key, Width: r.Width, Height: r.Height,
				Bands: r.Bands, BigEndian: r.BigEndian,
			}
			continue
		}
		src.Readers[key] = datasource.ImageReader{}
	}
	return src, nil
}

func labBookSource(cfg config.LabBookConfig, client httputil.HTTPClient) *datasource.LabBookSource {
	src := datasource.NewLabBookSource(client, cfg.URL, cfg.IDField)
	src.Entry.Header = cfg.Header
	src.Entry.RowStart = cfg.RowStart
	src.Entry.RowEnd = cfg.RowEnd
	src.Fetch.Attempts = cfg.Attempts
	return src
}

// Config returns the configuration the experiment was built from.
func (e *Experiment) Config() *config.RunConfig { return e.cfg }

// Series returns the shot series.
func (e *Experiment) Series() *shot.Series { return e.series }

// Registry returns the diagnostics registry.
func (e *Experiment) Registry() *diagnostics.Registry { return e.registry }

// Store returns the cache store, nil when caching is disabled.
func (e *Experiment) Store() *cache.Store { return e.store }

// Load merges the records of every source into the series.
func (e *Experiment) Load(ctx context.Context) error {
	if err := e.series.Load(ctx); err != nil {
		return err
	}
	monitoring.Logf("experiment: %s loaded from %v", e.series, e.series.SourceNames())
	return nil
}

// Close saves pending cache entries and closes the store.
func (e *Experiment) Close(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	n, err := e.store.SaveAll(ctx)
	if err != nil {
		_ = e.store.Close()
		return err
	}
	if n > 0 {
		monitoring.Logf("experiment: saved %d cache entries to %s", n, e.store.Path())
	}
	return e.store.Close()
}
