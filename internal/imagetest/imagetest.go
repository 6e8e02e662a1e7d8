// Package imagetest builds encoded images for tests.
package imagetest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

var Red = color.NRGBA{R: 255, A: 255}

// Solid returns an NRGBA image of the given size filled with c.
func Solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// Pattern returns an image whose pixels all differ, useful for identity checks.
func Pattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 2), G: uint8(y * 2), B: uint8(x + y), A: 255})
		}
	}
	return img
}

// PNG encodes img as PNG.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEG encodes img as JPEG.
func JPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// SolidPNG is shorthand for PNG(t, Solid(w, h, Red)).
func SolidPNG(t testing.TB, w, h int) []byte {
	return PNG(t, Solid(w, h, Red))
}

// Decode decodes encoded image bytes.
func Decode(t testing.TB, data []byte) image.Image {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	return img
}

// NotAnImage is a body no image decoder accepts.
var NotAnImage = []byte("this is plain text, not an image")

// PNGWithHeaderSize returns data, a PNG, with its IHDR rewritten to claim
// w x h pixels. The pixel data is left untouched, so the result is small and
// passes header checks while describing a huge image.
func PNGWithHeaderSize(t testing.TB, data []byte, w, h uint32) []byte {
	t.Helper()
	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc at 29.
	if len(data) < 33 || string(data[12:16]) != "IHDR" {
		t.Fatalf("not a PNG with a leading IHDR chunk")
	}
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}
