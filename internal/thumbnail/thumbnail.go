// Package thumbnail turns arbitrary images into fixed-size, padded thumbnails.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"thumbnail-service/internal/models"
)

// DefaultMaxPixels bounds width*height of accepted inputs. Decoding allocates
// memory proportional to the pixel count, not the encoded size.
const DefaultMaxPixels int64 = 89_478_485

// Options configures a Transformer.
type Options struct {
	Width      int
	Height     int
	Background color.Color
	// Format is one of png, jpeg or gif.
	Format string
	// MaxPixels rejects inputs larger than this many pixels; DefaultMaxPixels when unset.
	MaxPixels int64
}

// Transformer produces thumbnails of exactly Width x Height.
type Transformer struct {
	width      int
	height     int
	background color.Color
	format     imaging.Format
	formatName string
	maxPixels  int64
}

// New builds a Transformer, filling unset options with a 100x100 white PNG.
func New(opts Options) *Transformer {
	if opts.Width <= 0 {
		opts.Width = 100
	}
	if opts.Height <= 0 {
		opts.Height = 100
	}
	if opts.Background == nil {
		opts.Background = color.White
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	format, name := parseFormat(opts.Format)
	return &Transformer{
		width:      opts.Width,
		height:     opts.Height,
		background: opts.Background,
		format:     format,
		formatName: name,
		maxPixels:  opts.MaxPixels,
	}
}

// Size returns the target thumbnail dimensions.
func (t *Transformer) Size() (int, int) {
	return t.width, t.height
}

// ContentType is the MIME type of encoded thumbnails.
func (t *Transformer) ContentType() string {
	return "image/" + t.formatName
}

// Transform decodes data, builds the thumbnail and encodes it in the configured format.
func (t *Transformer) Transform(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := Validate(data, t.maxPixels); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrInvalidImage)
	}

	thumb := t.Thumbnail(src)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, t.format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail scales src to fit the target box and pads the short axis with the
// background color so the result is exactly the target size.
func (t *Transformer) Thumbnail(src image.Image) *image.NRGBA {
	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), t.width, t.height)
	scaled := imaging.Resize(src, w, h, imaging.Lanczos)
	if w == t.width && h == t.height {
		return scaled
	}

	// fitWithin always fills one axis, so at most one offset is non-zero.
	var x, y int
	if w < t.width {
		x = (t.width - w) / 2
	} else if h < t.height {
		y = (t.height - h) / 2
	}
	canvas := imaging.New(t.width, t.height, t.background)
	return imaging.Paste(canvas, scaled, image.Pt(x, y))
}

// Validate is a cheap header check used before a job is queued and again
// before decoding. It does not decode pixel data, so corrupt bodies can still
// fail later in Transform. maxPixels <= 0 means DefaultMaxPixels.
func Validate(data []byte, maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", models.ErrInvalidImage, cfg.Width, cfg.Height)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > maxPixels {
		return fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", models.ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// fitWithin returns the largest aspect-preserving size inside maxW x maxH,
// rounding the derived dimension down.
func fitWithin(srcW, srcH, maxW, maxH int) (int, int) {
	sw, sh, mw, mh := int64(srcW), int64(srcH), int64(maxW), int64(maxH)
	var w, h int64
	if sw*mh >= sh*mw {
		w = mw
		h = sh * mw / sw
	} else {
		h = mh
		w = sw * mh / sh
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return int(w), int(h)
}

func parseFormat(name string) (imaging.Format, string) {
	switch strings.ToLower(name) {
	case "jpeg", "jpg":
		return imaging.JPEG, "jpeg"
	case "gif":
		return imaging.GIF, "gif"
	default:
		return imaging.PNG, "png"
	}
}
