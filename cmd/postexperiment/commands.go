package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	gplot "gonum.org/v1/plot"

	"github.com/banshee-data/postexperiment/internal/cache"
	"github.com/banshee-data/postexperiment/internal/config"
	"github.com/banshee-data/postexperiment/internal/diagnostics"
	"github.com/banshee-data/postexperiment/internal/experiment"
	"github.com/banshee-data/postexperiment/internal/field"
	"github.com/banshee-data/postexperiment/internal/fsutil"
	"github.com/banshee-data/postexperiment/internal/monitoring"
	"github.com/banshee-data/postexperiment/internal/plot"
	"github.com/banshee-data/postexperiment/internal/security"
)

type commonFlags struct {
	config  string
	workers int
}

func newFlagSet(name string, out io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	c := &commonFlags{}
	fs.StringVar(&c.config, "config", config.DefaultConfigPath, "Run configuration file")
	fs.IntVar(&c.workers, "workers", -1, "Concurrent shot evaluations (default from config)")
	return fs, c
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func (c *commonFlags) loadConfig() (*config.RunConfig, error) {
	cfg, err := config.LoadRunConfig(c.config)
	if err != nil {
		return nil, err
	}
	if c.workers >= 0 {
		cfg.Workers = c.workers
	}
	return cfg, nil
}

func (c *commonFlags) open(ctx context.Context) (*experiment.Experiment, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	e, err := experiment.New(cfg, experiment.Options{Registry: diagnostics.Default})
	if err != nil {
		return nil, err
	}
	if err := e.Load(ctx); err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	return e, nil
}

func handleList(ctx context.Context, args []string, stdout io.Writer) error {
	fs, common := newFlagSet("list", stdout)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	e, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close(ctx)

	series := e.Series()
	ids := series.IDs()
	for i, sh := range series.Shots() {
		fmt.Fprintf(stdout, "%s\t%s\n", ids[i], sh.Describe())
	}
	fmt.Fprintf(stdout, "%s\n", series)
	return nil
}

func handleEval(ctx context.Context, args []string, stdout io.Writer) (err error) {
	fs, common := newFlagSet("eval", stdout)
	diag := fs.String("diag", "", "Diagnostic to evaluate (required)")
	mean := fs.Bool("mean", false, "Print the mean over all shots")
	group := fs.String("group", "", "Comma separated keys to average groups of shots by")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *diag == "" {
		return fmt.Errorf("%w: eval: -diag is required", errUsage)
	}

	e, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(ctx); err == nil {
			err = cerr
		}
	}()

	switch {
	case *group != "":
		keys := splitKeys(*group)
		groups, means, err := e.GroupedMean(ctx, *diag, keys)
		if err != nil {
			return err
		}
		for i, g := range groups {
			fmt.Fprintf(stdout, "%s\t%s\n", groupLabel(keys, g), formatValue(means[i]))
		}
	case *mean:
		m, err := e.Mean(ctx, *diag)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, formatValue(m))
	default:
		vals, err := e.Evaluate(ctx, *diag)
		if err != nil {
			return err
		}
		ids := e.Series().IDs()
		for i, v := range vals {
			fmt.Fprintf(stdout, "%s\t%s\n", ids[i], formatValue(v))
		}
	}
	return nil
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func groupLabel(keys []string, vals []any) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, vals[i])
	}
	return strings.Join(parts, ",")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', 6, 64)
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'g', 6, 64)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%+v", v)
}

func handlePlot(ctx context.Context, args []string, stdout io.Writer) (err error) {
	fs, common := newFlagSet("plot", stdout)
	diag := fs.String("diag", "", "Diagnostic to plot (required)")
	out := fs.String("out", "", "Output file, .png or .html (default <output_dir>/<diag>.png)")
	group := fs.String("group", "", "Comma separated keys; draws one line per group for 1D results")
	logScale := fs.Bool("log", false, "Logarithmic colour or y scale")
	symmetric := fs.Bool("symmetric", false, "Colour scale symmetric around zero")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *diag == "" {
		return fmt.Errorf("%w: plot: -diag is required", errUsage)
	}

	e, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(ctx); err == nil {
			err = cerr
		}
	}()

	fsys := fsutil.OSFileSystem{}
	path := *out
	if path == "" {
		dir := e.Config().OutputDir
		if dir == "" {
			dir = "."
		}
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
		if path, err = security.OutputPath(dir, *diag, ".png"); err != nil {
			return err
		}
	}

	if strings.EqualFold(filepath.Ext(path), ".html") {
		pts, err := e.Points(ctx, *diag)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		opts := plot.ChartOptions{XName: lastIDField(e), YName: *diag}
		if err := plot.SeriesChart(&buf, *diag, pts, opts); err != nil {
			return err
		}
		if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
		if err := fsys.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s (%d shots)\n", path, len(pts))
		return nil
	}

	var fields []*field.Field
	if *group != "" {
		keys := splitKeys(*group)
		groups, means, err := e.GroupedMean(ctx, *diag, keys)
		if err != nil {
			return err
		}
		for i, m := range means {
			f, ok := m.(*field.Field)
			if !ok {
				return fmt.Errorf("diagnostic %q yields %T, not a field", *diag, m)
			}
			f = f.Copy()
			f.Name = groupLabel(keys, groups[i])
			fields = append(fields, f)
		}
	} else {
		m, err := e.Mean(ctx, *diag)
		if err != nil {
			return err
		}
		f, ok := m.(*field.Field)
		if !ok {
			return fmt.Errorf("diagnostic %q yields %T, not a field; use an .html output for scalars", *diag, m)
		}
		fields = append(fields, f)
	}

	p, err := plotFields(*diag, fields, *logScale, *symmetric)
	if err != nil {
		return err
	}
	if err := plot.SavePNG(fsys, p, plot.DefaultWidth, plot.DefaultHeight, path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", path)
	return nil
}

func plotFields(title string, fields []*field.Field, logScale, symmetric bool) (*gplot.Plot, error) {
	if len(fields) == 1 && fields[0].Squeeze().Dimensions() == 2 {
		return plot.FieldImage(fields[0], plot.ImageOptions{Title: title, Log: logScale, Symmetric: symmetric})
	}
	return plot.FieldLines(fields, plot.LineOptions{Title: title, Log: logScale})
}

func lastIDField(e *experiment.Experiment) string {
	names := e.Series().IDSpec().Names()
	if len(names) == 0 {
		return ""
	}
	return names[len(names)-1]
}

func handleCache(ctx context.Context, args []string, stdout io.Writer) error {
	fs, common := newFlagSet("cache", stdout)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	action := fs.Arg(0)
	if action != "gc" && action != "stats" {
		return fmt.Errorf("%w: cache: want gc or stats, got %q", errUsage, action)
	}

	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	if cfg.CachePath == "" {
		return errors.New("cache: no cache_path configured")
	}
	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.StoredFunctions(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fns := make([]*cache.Function[experiment.Stored], 0, len(names))
	for _, name := range names {
		fn, err := cache.Register[experiment.Stored](ctx, store, name, cache.Options{MaxSize: cfg.CacheMaxSize})
		if err != nil {
			return err
		}
		fns = append(fns, fn)
	}

	if action == "gc" {
		if err := store.GCAll(ctx); err != nil {
			return err
		}
		monitoring.Logf("cache: collected %d functions in %s", len(fns), store.Path())
	}
	for _, fn := range fns {
		fmt.Fprintln(stdout, fn)
	}
	if len(fns) == 0 {
		fmt.Fprintf(stdout, "cache %s is empty\n", store.Path())
	}
	return nil
}
