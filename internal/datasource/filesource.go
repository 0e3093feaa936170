// Package datasource provides the sources shot records are loaded from: files
// on disk matched by name, and a lab book spreadsheet.
package datasource

import (
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"

	"github.com/banshee-data/postexperiment/internal/fsutil"
	"github.com/banshee-data/postexperiment/internal/monitoring"
	"github.com/banshee-data/postexperiment/internal/shot"
)

// FieldSpec extracts one value from a regexp group of a file name.
type FieldSpec struct {
	Name string
	// Convert is optional. When it fails the raw string is stored.
	Convert shot.Converter
}

// FileSource produces one record per file below Dir whose base name matches
// Pattern. The match must start at the beginning of the name.
type FileSource struct {
	FS      fsutil.FileSystem
	Dir     string
	Pattern *regexp.Regexp

	// FileKey is the key the lazy file value is stored under. When
	// FileKeyGroup is positive the key is taken from that regexp group.
	FileKey      string
	FileKeyGroup int

	// Fields maps regexp group numbers to the values they provide.
	Fields map[int]FieldSpec

	// SkipTemp ignores files whose names end in "temp", as written by
	// acquisition software while a file is incomplete.
	SkipTemp bool

	// Readers selects a reader per file key; ImageReader is the fallback.
	Readers map[string]Reader
}

// NewFileSource compiles pattern and returns a source skipping temporary
// files.
func NewFileSource(fsys fsutil.FileSystem, dir, pattern, fileKey string, fields map[int]FieldSpec) (*FileSource, error) {
	re, err := compileAnchored(pattern)
	if err != nil {
		return nil, err
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &FileSource{
		FS:       fsys,
		Dir:      dir,
		Pattern:  re,
		FileKey:  fileKey,
		Fields:   fields,
		SkipTemp: true,
		Readers:  map[string]Reader{},
	}, nil
}

func compileAnchored(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Records implements shot.Source.
func (s *FileSource) Records(ctx context.Context) ([]shot.Record, error) {
	if s.Pattern == nil {
		return nil, fmt.Errorf("file source %s: no pattern", s.Dir)
	}
	fsys := s.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}

	var recs []shot.Record
	err := fsys.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if s.SkipTemp && strings.HasSuffix(name, "temp") {
			return nil
		}
		m := s.Pattern.FindStringSubmatch(name)
		if m == nil {
			return nil
		}
		rec, err := s.record(fsys, path, m)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.Dir, err)
	}
	monitoring.Logf("file source %s: %d files matched %s", s.Dir, len(recs), s.Pattern)
	return recs, nil
}

func (s *FileSource) record(fsys fsutil.FileSystem, path string, m []string) (shot.Record, error) {
	key := s.FileKey
	if s.FileKeyGroup > 0 {
		if s.FileKeyGroup >= len(m) {
			return nil, fmt.Errorf("file key group %d not in pattern %s", s.FileKeyGroup, s.Pattern)
		}
		key = m[s.FileKeyGroup]
	}

	rec := shot.Record{key: NewLazyFile(fsys, path, s.Readers[key])}

	groups := make([]int, 0, len(s.Fields))
	for g := range s.Fields {
		groups = append(groups, g)
	}
	sort.Ints(groups)
	for _, g := range groups {
		spec := s.Fields[g]
		if g >= len(m) {
			return nil, fmt.Errorf("field %q: group %d not in pattern %s", spec.Name, g, s.Pattern)
		}
		raw := m[g]
		var v any = raw
		if spec.Convert != nil {
			if cv, err := spec.Convert(raw); err == nil {
				v = cv
			}
		}
		rec[spec.Name] = v
	}
	return rec, nil
}
