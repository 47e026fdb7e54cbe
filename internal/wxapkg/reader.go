package wxapkg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"strings"

	"github.com/starford/wedecode/internal/apperr"
)

// EncryptedMarker prefixes packages (and embedded files) sealed by the
// desktop client.
var EncryptedMarker = []byte("V1MMWX")

// recordOverhead is the fixed part of an index record: name length, offset, size.
const recordOverhead = 12

// FileDescriptor is one index record.
type FileDescriptor struct {
	Name      string `json:"name"` // as declared in the index
	Offset    uint32 `json:"offset"`
	Length    uint32 `json:"length"`
	Encrypted bool   `json:"encrypted,omitempty"` // body carries EncryptedMarker
}

// End returns the exclusive end offset of the file body.
func (d FileDescriptor) End() int64 { return int64(d.Offset) + int64(d.Length) }

// Archive is a parsed container: header plus file index. It retains the
// buffer it was read from so bodies can be sliced without copying.
type Archive struct {
	Header Header
	Files  []FileDescriptor
	data   []byte
}

// Read parses the header and index of data. It never writes anything and
// never copies file bodies. Records may appear in any order and may point
// anywhere in the buffer; every range is validated against len(data).
func Read(data []byte) (*Archive, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	indexEnd := int64(HeaderSize) + int64(h.IndexLength)
	maxRecords := (int64(h.IndexLength) - 4) / recordOverhead
	if int64(h.FileCount) > maxRecords {
		return nil, fmt.Errorf("wxapkg: %d records cannot fit in a %d byte index: %w", h.FileCount, h.IndexLength, apperr.ErrTruncated)
	}

	files := make([]FileDescriptor, 0, h.FileCount)
	pos := int64(HeaderSize + 4)
	for i := uint32(0); i < h.FileCount; i++ {
		if pos+4 > indexEnd {
			return nil, fmt.Errorf("wxapkg: record %d name length overruns index: %w", i, apperr.ErrTruncated)
		}
		nameLen := int64(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+nameLen+8 > indexEnd {
			return nil, fmt.Errorf("wxapkg: record %d (%d byte name) overruns index: %w", i, nameLen, apperr.ErrTruncated)
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen
		d := FileDescriptor{
			Name:   name,
			Offset: binary.BigEndian.Uint32(data[pos : pos+4]),
			Length: binary.BigEndian.Uint32(data[pos+4 : pos+8]),
		}
		pos += 8
		if d.End() > h.Size {
			return nil, fmt.Errorf("wxapkg: %s range [%d, %d) exceeds archive size %d: %w", name, d.Offset, d.End(), h.Size, apperr.ErrTruncated)
		}
		d.Encrypted = bytes.HasPrefix(data[d.Offset:d.End()], EncryptedMarker)
		files = append(files, d)
	}

	return &Archive{Header: h, Files: files, data: data}, nil
}

// Body returns the raw bytes of d. The slice aliases the archive buffer.
func (a *Archive) Body(d FileDescriptor) []byte {
	return a.data[d.Offset:d.End()]
}

// Bytes returns the buffer the archive was read from.
func (a *Archive) Bytes() []byte { return a.data }

// NormalizePath maps an index name to a slash-separated path relative to the
// output root. Names that are empty or escape the root are rejected.
func NormalizePath(name string) (string, error) {
	p := strings.ReplaceAll(name, `\`, "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", fmt.Errorf("wxapkg: empty file name %q", name)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("wxapkg: file name escapes root: %q", name)
	}
	return cleaned, nil
}
