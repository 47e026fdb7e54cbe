package wxapkg

import (
	"encoding/binary"
)

// Entry is one file to place into a packed container.
type Entry struct {
	Name string
	Data []byte
}

// Pack builds a container holding entries in order: header, index, then
// bodies laid out back to back.
func Pack(version uint32, entries []Entry) []byte {
	indexLen := 4
	bodyLen := 0
	for _, e := range entries {
		indexLen += recordOverhead + len(e.Name)
		bodyLen += len(e.Data)
	}

	buf := make([]byte, 0, HeaderSize+indexLen+bodyLen)
	buf = append(buf, FirstMark)
	buf = binary.BigEndian.AppendUint32(buf, version)
	buf = binary.BigEndian.AppendUint32(buf, uint32(indexLen))
	buf = binary.BigEndian.AppendUint32(buf, uint32(bodyLen))
	buf = append(buf, LastMark)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(entries)))

	offset := HeaderSize + indexLen
	for _, e := range entries {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Name)))
		buf = append(buf, e.Name...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(offset))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Data)))
		offset += len(e.Data)
	}
	for _, e := range entries {
		buf = append(buf, e.Data...)
	}
	return buf
}
