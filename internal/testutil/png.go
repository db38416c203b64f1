package testutil

import (
	"image/color"
	"testing"

	"chara-go/internal/card"
	"chara-go/internal/imaging"
	"chara-go/internal/pngmeta"
)

// BlankPNG returns a small opaque PNG without card metadata. Different
// widths give different bytes.
func BlankPNG(t *testing.T, width int) []byte {
	t.Helper()
	b, err := imaging.BlankPNG(width, 2, color.White)
	if err != nil {
		t.Fatalf("building PNG: %v", err)
	}
	return b
}

// CardPNG returns a PNG carrying c as card metadata.
func CardPNG(t *testing.T, c *card.Card) []byte {
	t.Helper()
	b, err := pngmeta.WriteCard(BlankPNG(t, 2), c)
	if err != nil {
		t.Fatalf("embedding card: %v", err)
	}
	return b
}
