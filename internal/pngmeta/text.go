package pngmeta

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"unicode/utf8"
)

const maxKeywordLen = 79

func isTextChunk(typ string) bool {
	return typ == "tEXt" || typ == "zTXt" || typ == "iTXt"
}

// textKeyword returns the keyword of a text chunk without decoding its value.
func textKeyword(c chunk) string {
	kw, _, _ := bytes.Cut(c.data, []byte{0})
	return latin1(kw)
}

// decodeText returns the keyword and value of a tEXt, zTXt or iTXt chunk.
func decodeText(c chunk) (keyword, value string, err error) {
	kw, rest, ok := bytes.Cut(c.data, []byte{0})
	if !ok || len(kw) == 0 {
		return "", "", fmt.Errorf("%s chunk without keyword", c.typ)
	}
	keyword = latin1(kw)

	switch c.typ {
	case "tEXt":
		return keyword, latin1(rest), nil

	case "zTXt":
		if len(rest) < 1 || rest[0] != 0 {
			return keyword, "", fmt.Errorf("zTXt %q: unsupported compression method", keyword)
		}
		text, err := inflate(rest[1:])
		if err != nil {
			return keyword, "", fmt.Errorf("zTXt %q: %w", keyword, err)
		}
		return keyword, latin1(text), nil

	case "iTXt":
		if len(rest) < 2 {
			return keyword, "", fmt.Errorf("iTXt %q: truncated header", keyword)
		}
		compressed, method := rest[0], rest[1]
		_, rest, ok = bytes.Cut(rest[2:], []byte{0}) // language tag
		if !ok {
			return keyword, "", fmt.Errorf("iTXt %q: missing language tag", keyword)
		}
		_, text, ok := bytes.Cut(rest, []byte{0}) // translated keyword
		if !ok {
			return keyword, "", fmt.Errorf("iTXt %q: missing translated keyword", keyword)
		}
		if compressed == 1 {
			if method != 0 {
				return keyword, "", fmt.Errorf("iTXt %q: unsupported compression method", keyword)
			}
			if text, err = inflate(text); err != nil {
				return keyword, "", fmt.Errorf("iTXt %q: %w", keyword, err)
			}
		}
		if !utf8.Valid(text) {
			return keyword, "", fmt.Errorf("iTXt %q: invalid UTF-8", keyword)
		}
		return keyword, string(text), nil
	}
	return "", "", fmt.Errorf("%s is not a text chunk", c.typ)
}

// encodeText builds a tEXt chunk, or an uncompressed iTXt chunk when value
// cannot be represented in Latin-1.
func encodeText(keyword, value string) (chunk, error) {
	kw, ok := toLatin1(keyword)
	if !ok || len(kw) == 0 || len(kw) > maxKeywordLen || bytes.IndexByte(kw, 0) >= 0 {
		return chunk{}, fmt.Errorf("invalid text keyword %q", keyword)
	}

	if text, ok := toLatin1(value); ok {
		data := make([]byte, 0, len(kw)+1+len(text))
		data = append(data, kw...)
		data = append(data, 0)
		data = append(data, text...)
		return newChunk("tEXt", data), nil
	}

	data := make([]byte, 0, len(kw)+5+len(value))
	data = append(data, kw...)
	data = append(data, 0, 0, 0, 0, 0)
	data = append(data, value...)
	return newChunk("iTXt", data), nil
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func latin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func toLatin1(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, false
		}
		out = append(out, byte(r))
	}
	return out, true
}
