package datasource

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/postexperiment/internal/field"
	"github.com/banshee-data/postexperiment/internal/fsutil"
	"github.com/banshee-data/postexperiment/internal/shot"
)

func init() {
	shot.RegisterLazy("file", func() shot.Lazy { return &LazyFile{} })
	shot.RegisterLazy("dummy", func() shot.Lazy { return &LazyDummy{} })
}

// LazyFile references a file that is read when the shot value is accessed.
type LazyFile struct {
	Path   string
	Reader Reader
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
}

// NewLazyFile returns a lazy reference to path. A nil reader selects
// ImageReader.
func NewLazyFile(fsys fsutil.FileSystem, path string, r Reader) *LazyFile {
	if r == nil {
		r = ImageReader{}
	}
	return &LazyFile{Path: path, Reader: r, FS: fsys}
}

// Access implements shot.Lazy.
func (l *LazyFile) Access(_ *shot.Shot, _ string) (any, error) {
	fsys := l.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	r := l.Reader
	if r == nil {
		r = ImageReader{}
	}
	return r.Read(fsys, l.Path)
}

// LazyKind implements shot.LazyKind.
func (l *LazyFile) LazyKind() string { return "file" }

func (l *LazyFile) String() string {
	kind := "image"
	if l.Reader != nil {
		kind = l.Reader.Kind()
	}
	return fmt.Sprintf("<LazyFile(%s)@%s>", kind, l.Path)
}

type lazyFileJSON struct {
	Path   string          `json:"path"`
	Reader string          `json:"reader"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MarshalJSON encodes the path and reader configuration.
func (l *LazyFile) MarshalJSON() ([]byte, error) {
	r := l.Reader
	if r == nil {
		r = ImageReader{}
	}
	params, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(lazyFileJSON{Path: l.Path, Reader: r.Kind(), Params: params})
}

// UnmarshalJSON restores a LazyFile reading from the OS filesystem.
func (l *LazyFile) UnmarshalJSON(data []byte) error {
	var v lazyFileJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	newReader, ok := readerKinds[v.Reader]
	if !ok {
		return fmt.Errorf("unknown reader kind %q", v.Reader)
	}
	r := newReader()
	if len(v.Params) > 0 {
		if err := json.Unmarshal(v.Params, r); err != nil {
			return fmt.Errorf("decoding %s reader: %w", v.Reader, err)
		}
	}
	l.Path, l.Reader, l.FS = v.Path, r, nil
	return nil
}

// ErrAccessDenied is returned by a LazyDummy with FailOnAccess set.
var ErrAccessDenied = errors.New("datasource: access denied")

// LazyDummy produces reproducible pseudo-random images. It stands in for
// real data in tests and examples.
type LazyDummy struct {
	Seed         uint64 `json:"seed"`
	FailOnAccess bool   `json:"fail_on_access,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
}

// Access implements shot.Lazy.
func (l *LazyDummy) Access(_ *shot.Shot, key string) (any, error) {
	if l.FailOnAccess {
		return nil, fmt.Errorf("%w: %s on %s", ErrAccessDenied, l, key)
	}
	w, h := l.Width, l.Height
	if w <= 0 {
		w = 17
	}
	if h <= 0 {
		h = 10
	}
	rng := rand.New(rand.NewPCG(l.Seed, l.Seed))
	f := field.Zeros(key, "", field.PixelAxis("x", w), field.PixelAxis("y", h))
	for i := range f.Data {
		f.Data[i] = rng.Float64()
	}
	return f, nil
}

// LazyKind implements shot.LazyKind.
func (l *LazyDummy) LazyKind() string { return "dummy" }

func (l *LazyDummy) String() string {
	return fmt.Sprintf("<LazyDummy(seed=%d)>", l.Seed)
}
