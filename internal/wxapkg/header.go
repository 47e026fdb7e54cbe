// Package wxapkg reads and writes the mini-program package container: a
// fixed big-endian header, a file index of (name, offset, size) records, and
// raw file bodies addressed by absolute offsets.
package wxapkg

import (
	"encoding/binary"
	"fmt"

	"github.com/starford/wedecode/internal/apperr"
)

const (
	// HeaderSize is the fixed header length preceding the index.
	HeaderSize = 14

	FirstMark byte = 0xBE
	LastMark  byte = 0xED

	MinVersion uint32 = 0
	MaxVersion uint32 = 1

	// Ext is the conventional package file extension.
	Ext = ".wxapkg"
)

// Header is the parsed fixed-size archive header.
type Header struct {
	FirstMark   byte   `json:"first_mark"`
	Version     uint32 `json:"version"`
	IndexLength uint32 `json:"index_length"`
	BodyLength  uint32 `json:"body_length"`
	LastMark    byte   `json:"last_mark"`
	FileCount   uint32 `json:"file_count"`
	Size        int64  `json:"size"` // physical size of the buffer the header was read from
}

// DeclaredSize is the container size implied by the header fields.
func (h Header) DeclaredSize() int64 {
	return HeaderSize + int64(h.IndexLength) + int64(h.BodyLength)
}

// HasMagic reports whether data starts with a container header signature.
// Both marks must be present; a bare leading 0xBE is not enough.
func HasMagic(data []byte) bool {
	return len(data) >= HeaderSize && data[0] == FirstMark && data[13] == LastMark
}

// ParseHeader validates and decodes the header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wxapkg: header needs %d bytes, have %d: %w", HeaderSize, len(data), apperr.ErrFormat)
	}
	h := Header{
		FirstMark:   data[0],
		Version:     binary.BigEndian.Uint32(data[1:5]),
		IndexLength: binary.BigEndian.Uint32(data[5:9]),
		BodyLength:  binary.BigEndian.Uint32(data[9:13]),
		LastMark:    data[13],
		Size:        int64(len(data)),
	}
	if h.FirstMark != FirstMark || h.LastMark != LastMark {
		return h, fmt.Errorf("wxapkg: bad magic %#02x/%#02x: %w", h.FirstMark, h.LastMark, apperr.ErrFormat)
	}
	if h.Version > MaxVersion {
		return h, fmt.Errorf("wxapkg: version %d outside [%d, %d]: %w", h.Version, MinVersion, MaxVersion, apperr.ErrFormat)
	}
	if HeaderSize+int64(h.IndexLength) > h.Size {
		return h, fmt.Errorf("wxapkg: index length %d exceeds archive size %d: %w", h.IndexLength, h.Size, apperr.ErrTruncated)
	}
	if h.DeclaredSize() > h.Size {
		return h, fmt.Errorf("wxapkg: declared size %d exceeds archive size %d: %w", h.DeclaredSize(), h.Size, apperr.ErrTruncated)
	}
	if h.IndexLength < 4 {
		return h, fmt.Errorf("wxapkg: index length %d cannot hold a file count: %w", h.IndexLength, apperr.ErrTruncated)
	}
	h.FileCount = binary.BigEndian.Uint32(data[HeaderSize : HeaderSize+4])
	return h, nil
}
