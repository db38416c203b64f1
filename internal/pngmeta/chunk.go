package pngmeta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

var signature = []byte("\x89PNG\r\n\x1a\n")

// chunk is one PNG chunk. raw holds the complete on-disk bytes (length,
// type, data and CRC) so untouched chunks are written back unchanged.
type chunk struct {
	typ  string
	data []byte
	raw  []byte
}

// parseChunks splits a PNG stream into chunks, verifying the signature and
// every CRC. Bytes after IEND are ignored.
func parseChunks(b []byte) ([]chunk, error) {
	if !bytes.HasPrefix(b, signature) {
		return nil, fmt.Errorf("%w: missing PNG signature", ErrInvalidImage)
	}

	var chunks []chunk
	rest := b[len(signature):]
	for {
		if len(rest) < 12 {
			return nil, fmt.Errorf("%w: truncated chunk", ErrInvalidImage)
		}
		length := binary.BigEndian.Uint32(rest[:4])
		if uint64(length) > uint64(len(rest)-12) {
			return nil, fmt.Errorf("%w: chunk length %d exceeds data", ErrInvalidImage, length)
		}
		n := int(length)
		end := 12 + n
		typ := string(rest[4:8])
		data := rest[8 : 8+n]
		sum := binary.BigEndian.Uint32(rest[8+n : end])
		if crc32.ChecksumIEEE(rest[4:8+n]) != sum {
			return nil, fmt.Errorf("%w: bad CRC in %s chunk", ErrInvalidImage, typ)
		}

		if len(chunks) == 0 && typ != "IHDR" {
			return nil, fmt.Errorf("%w: first chunk is %s, want IHDR", ErrInvalidImage, typ)
		}
		chunks = append(chunks, chunk{typ: typ, data: data, raw: rest[:end]})
		rest = rest[end:]
		if typ == "IEND" {
			return chunks, nil
		}
	}
}

// newChunk builds a chunk with a freshly computed CRC.
func newChunk(typ string, data []byte) chunk {
	raw := make([]byte, 12+len(data))
	binary.BigEndian.PutUint32(raw[:4], uint32(len(data)))
	copy(raw[4:8], typ)
	copy(raw[8:], data)
	binary.BigEndian.PutUint32(raw[8+len(data):], crc32.ChecksumIEEE(raw[4:8+len(data)]))
	return chunk{typ: typ, data: raw[8 : 8+len(data)], raw: raw}
}

func encodeChunks(chunks []chunk) []byte {
	size := len(signature)
	for _, c := range chunks {
		size += len(c.raw)
	}
	out := make([]byte, 0, size)
	out = append(out, signature...)
	for _, c := range chunks {
		out = append(out, c.raw...)
	}
	return out
}
