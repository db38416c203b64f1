// Package pngmeta reads and writes the character card embedded in a PNG
// image's text metadata under the "chara" keyword, as
// base64(utf8(json(card))). Pixel data is never decoded: every chunk other
// than the card's text chunk passes through unchanged.
package pngmeta

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"chara-go/internal/card"
)

// CardKeyword is the text chunk keyword holding the card.
const CardKeyword = "chara"

var (
	// ErrInvalidImage means the bytes are not a well-formed PNG stream.
	ErrInvalidImage = errors.New("invalid PNG image")

	// ErrCorruptCardMetadata means a card is present but its base64, UTF-8
	// or JSON encoding is broken.
	ErrCorruptCardMetadata = errors.New("corrupt card metadata")
)

// ReadText returns every decodable text entry of the image. When a keyword
// appears more than once the last chunk wins.
func ReadText(png []byte) (map[string]string, error) {
	chunks, err := parseChunks(png)
	if err != nil {
		return nil, err
	}
	texts, _ := collectText(chunks)
	return texts, nil
}

func collectText(chunks []chunk) (map[string]string, map[string]error) {
	texts := map[string]string{}
	failed := map[string]error{}
	for _, c := range chunks {
		if !isTextChunk(c.typ) {
			continue
		}
		kw, value, err := decodeText(c)
		if err != nil {
			if kw != "" {
				failed[kw] = err
				delete(texts, kw)
			}
			continue
		}
		texts[kw] = value
		delete(failed, kw)
	}
	return texts, failed
}

// ReadCard decodes the card embedded in png. An image without card
// metadata yields a default card and no error.
func ReadCard(png []byte) (*card.Card, error) {
	c, _, err := LookupCard(png)
	return c, err
}

// LookupCard is ReadCard that also reports whether card metadata was
// present.
func LookupCard(png []byte) (*card.Card, bool, error) {
	chunks, err := parseChunks(png)
	if err != nil {
		return nil, false, err
	}
	texts, failed := collectText(chunks)
	if err, ok := failed[CardKeyword]; ok {
		return nil, true, fmt.Errorf("%w: %v", ErrCorruptCardMetadata, err)
	}
	encoded, ok := texts[CardKeyword]
	if !ok {
		return card.New(""), false, nil
	}
	c, err := DecodeCardText(encoded)
	if err != nil {
		return nil, true, err
	}
	return c, true, nil
}

// DecodeCardText decodes the value of a "chara" text entry.
func DecodeCardText(s string) (*card.Card, error) {
	s = strings.TrimSpace(s)
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrCorruptCardMetadata, err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not UTF-8", ErrCorruptCardMetadata)
	}
	c, err := card.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCardMetadata, err)
	}
	return c, nil
}

// EncodeCardText returns the "chara" text value for c.
func EncodeCardText(c *card.Card) (string, error) {
	b, err := card.Serialize(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// WriteCard returns a copy of png carrying c. Existing card chunks are
// removed and a single tEXt chunk is placed before the first IDAT.
func WriteCard(png []byte, c *card.Card) ([]byte, error) {
	encoded, err := EncodeCardText(c)
	if err != nil {
		return nil, err
	}
	return WriteText(png, CardKeyword, encoded)
}

// WriteText sets a text entry, replacing every existing chunk with the same
// keyword. The new chunk is placed before the first IDAT.
func WriteText(png []byte, keyword, value string) ([]byte, error) {
	chunks, err := parseChunks(png)
	if err != nil {
		return nil, err
	}
	text, err := encodeText(keyword, value)
	if err != nil {
		return nil, err
	}

	out := make([]chunk, 0, len(chunks)+1)
	inserted := false
	for _, c := range chunks {
		if isTextChunk(c.typ) && textKeyword(c) == keyword {
			continue
		}
		if c.typ == "IDAT" && !inserted {
			out = append(out, text)
			inserted = true
		}
		out = append(out, c)
	}
	if !inserted {
		return nil, fmt.Errorf("%w: no IDAT chunk", ErrInvalidImage)
	}
	return encodeChunks(out), nil
}
