// Package imaging prepares the pixels a card is attached to: it decodes PNG,
// JPEG and BMP sources, scales them down and re-encodes them as PNG.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"io"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// IsPNG reports whether b starts with the PNG signature.
func IsPNG(b []byte) bool {
	return bytes.HasPrefix(b, pngSignature)
}

// Decode decodes image bytes in any supported format.
func Decode(b []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// FitWithin scales img down so neither side exceeds maxDim, keeping the
// aspect ratio. Images already small enough, and maxDim <= 0, are returned
// unchanged.
func FitWithin(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}
	if w >= h {
		h = max(1, h*maxDim/w)
		w = maxDim
	} else {
		w = max(1, w*maxDim/h)
		h = maxDim
	}
	return transform.Resize(img, w, h, transform.Linear)
}

// EncodePNG writes img to w as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := imgio.PNGEncoder()(w, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}

// ToPNG returns PNG bytes for src. A PNG source that needs no resizing is
// returned byte-for-byte so its other metadata survives; anything else is
// decoded, scaled to maxDim and re-encoded.
func ToPNG(src []byte, maxDim int) ([]byte, error) {
	if IsPNG(src) && maxDim <= 0 {
		return src, nil
	}
	img, err := Decode(src)
	if err != nil {
		return nil, err
	}
	if IsPNG(src) {
		b := img.Bounds()
		if b.Dx() <= maxDim && b.Dy() <= maxDim {
			return src, nil
		}
	}

	var buf bytes.Buffer
	if err := EncodePNG(&buf, FitWithin(img, maxDim)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Blank returns a w×h image filled with c.
func Blank(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// BlankPNG returns the PNG encoding of a w×h image filled with c.
func BlankPNG(w, h int, c color.Color) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, Blank(w, h, c)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
