package datasource

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/banshee-data/postexperiment/internal/field"
	"github.com/banshee-data/postexperiment/internal/fsutil"
)

// ErrFormat is returned when file contents do not match the reader.
var ErrFormat = errors.New("datasource: unexpected file format")

// Reader turns a file into a field.
type Reader interface {
	// Kind names the reader for serialization.
	Kind() string
	Read(fsys fsutil.FileSystem, path string) (*field.Field, error)
}

var readerKinds = map[string]func() Reader{
	"image": func() Reader { return &ImageReader{} },
	"raw":   func() Reader { return &RawReader{} },
}

// ImageReader decodes PNG, JPEG, GIF, TIFF and BMP files into a grey 2D field
// with x pointing right and y pointing up. Colour images are averaged over
// their RGB channels.
type ImageReader struct{}

func (ImageReader) Kind() string { return "image" }

// Read implements Reader.
func (ImageReader) Read(fsys fsutil.FileSystem, path string) (*field.Field, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	fld := imageField(img)
	fld.Name = path
	fld.Unit = format
	return fld, nil
}

func imageField(img image.Image) *field.Field {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := field.Zeros("", "", field.PixelAxis("x", w), field.PixelAxis("y", h))
	grey := greyFunc(img)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			// image rows run top to bottom
			out.Set(grey(b.Min.X+x, b.Max.Y-1-y), x, y)
		}
	}
	return out
}

// greyFunc returns the pixel value in the image's native bit depth.
func greyFunc(img image.Image) func(x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray:
		return func(x, y int) float64 { return float64(im.GrayAt(x, y).Y) }
	case *image.Gray16:
		return func(x, y int) float64 { return float64(im.Gray16At(x, y).Y) }
	}
	shift := uint32(8)
	switch img.ColorModel() {
	case color.RGBA64Model, color.NRGBA64Model, color.Gray16Model:
		shift = 0
	}
	return func(x, y int) float64 {
		r, g, bl, _ := img.At(x, y).RGBA()
		return float64((r>>shift)+(g>>shift)+(bl>>shift)) / 3
	}
}

// RawReader reads headerless dumps of unsigned 16 bit pixels. Multi-band data
// must be pixel interleaved.
type RawReader struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bands     int    `json:"bands,omitempty"`
	BigEndian bool   `json:"big_endian,omitempty"`
}

func (*RawReader) Kind() string { return "raw" }

func (r *RawReader) byteOrder() binary.ByteOrder {
	if r.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Read implements Reader. The result has axes x, y and, for more than one
// band, band.
func (r *RawReader) Read(fsys fsutil.FileSystem, path string) (*field.Field, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return r.Decode(data)
}

// Decode converts raw bytes into a field.
func (r *RawReader) Decode(data []byte) (*field.Field, error) {
	bands := max(r.Bands, 1)
	n := r.Width * r.Height * bands
	if r.Width <= 0 || r.Height <= 0 || len(data) != 2*n {
		return nil, fmt.Errorf("%w: %d bytes for %dx%dx%d uint16 pixels", ErrFormat, len(data), r.Width, r.Height, bands)
	}
	order := r.byteOrder()

	axes := []field.Axis{field.PixelAxis("x", r.Width), field.PixelAxis("y", r.Height)}
	if bands > 1 {
		axes = append(axes, field.NewAxis("band", "", field.PixelAxis("band", bands).Grid))
	}
	out := field.Zeros(r.Name, "counts", axes...)
	for row := 0; row < r.Height; row++ {
		y := r.Height - 1 - row
		for x := 0; x < r.Width; x++ {
			for b := 0; b < bands; b++ {
				k := ((row*r.Width + x) * bands) + b
				v := float64(order.Uint16(data[2*k:]))
				if bands > 1 {
					out.Set(v, x, y, b)
				} else {
					out.Set(v, x, y)
				}
			}
		}
	}
	return out, nil
}
