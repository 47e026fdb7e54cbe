package wxapkg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/wedecode/internal/apperr"
)

func sampleEntries() []Entry {
	return []Entry{
		{Name: "/app-config.json", Data: []byte(`{"pages":["pages/index/index"]}`)},
		{Name: "/app-service.js", Data: []byte(`define("app.js", function(require){ App({}) });`)},
		{Name: "/images/logo.png", Data: []byte{0x89, 'P', 'N', 'G', 0, 1, 2}},
		{Name: "/empty.wxss", Data: nil},
	}
}

func TestReadRoundTrip(t *testing.T) {
	entries := sampleEntries()
	data := Pack(0, entries)

	a, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if a.Header.FileCount != uint32(len(entries)) {
		t.Fatalf("file count = %d, want %d", a.Header.FileCount, len(entries))
	}
	if a.Header.DeclaredSize() != int64(len(data)) {
		t.Errorf("declared size = %d, want %d", a.Header.DeclaredSize(), len(data))
	}

	// Re-assembling bodies by (offset, length) reproduces the body region.
	rebuilt := make([]byte, len(data))
	copy(rebuilt, data[:HeaderSize+a.Header.IndexLength])
	for i, d := range a.Files {
		if d.Name != entries[i].Name {
			t.Errorf("file %d name = %q, want %q", i, d.Name, entries[i].Name)
		}
		if !bytes.Equal(a.Body(d), entries[i].Data) {
			t.Errorf("file %d body mismatch", i)
		}
		copy(rebuilt[d.Offset:], a.Body(d))
	}
	if !bytes.Equal(rebuilt, data) {
		t.Error("re-assembled archive differs from original")
	}
}

func TestReadEmptyIndex(t *testing.T) {
	a, err := Read(Pack(0, nil))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(a.Files) != 0 {
		t.Errorf("files = %d, want 0", len(a.Files))
	}
}

func TestReadBadMagic(t *testing.T) {
	data := Pack(0, sampleEntries())
	data[0] = 0x00
	_, err := Read(data)
	if !errors.Is(err, apperr.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}

	data = Pack(0, sampleEntries())
	data[13] = 0x00
	if _, err := Read(data); !errors.Is(err, apperr.ErrFormat) {
		t.Fatalf("last mark: err = %v, want ErrFormat", err)
	}
}

func TestReadUnsupportedVersion(t *testing.T) {
	data := Pack(MaxVersion+1, sampleEntries())
	if _, err := Read(data); !errors.Is(err, apperr.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
	if _, err := Read(Pack(MaxVersion, sampleEntries())); err != nil {
		t.Fatalf("max version should be accepted: %v", err)
	}
}

func TestReadShortHeader(t *testing.T) {
	if _, err := Read([]byte{FirstMark, 0, 0}); !errors.Is(err, apperr.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
}

func TestReadTruncatedBody(t *testing.T) {
	data := Pack(0, sampleEntries())
	cut := data[:len(data)-3]
	_, err := Read(cut)
	if !errors.Is(err, apperr.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestReadRangeBeyondArchive(t *testing.T) {
	data := Pack(0, []Entry{{Name: "/a.js", Data: []byte("abc")}})
	// Record layout: count(4) nameLen(4) name(5) offset(4) size(4).
	sizeAt := HeaderSize + 4 + 4 + 5 + 4
	binary.BigEndian.PutUint32(data[sizeAt:], 1<<20)
	if _, err := Read(data); !errors.Is(err, apperr.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestReadNameOverrunsIndex(t *testing.T) {
	data := Pack(0, []Entry{{Name: "/a.js", Data: []byte("abc")}})
	binary.BigEndian.PutUint32(data[HeaderSize+4:], 4096)
	if _, err := Read(data); !errors.Is(err, apperr.ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestReadRecordsInAnyOrder(t *testing.T) {
	// Hand-built index whose records point at bodies in reverse order.
	bodies := [][]byte{[]byte("second"), []byte("first")}
	names := []string{"/one", "/two"}
	indexLen := 4
	for _, n := range names {
		indexLen += recordOverhead + len(n)
	}
	var buf []byte
	buf = append(buf, FirstMark)
	buf = binary.BigEndian.AppendUint32(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, uint32(indexLen))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(bodies[0])+len(bodies[1])))
	buf = append(buf, LastMark)
	buf = binary.BigEndian.AppendUint32(buf, 2)
	start := HeaderSize + indexLen
	// "/one" points at the later body, "/two" at the earlier one.
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(names[0])))
	buf = append(buf, names[0]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(start+len(bodies[1])))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(bodies[0])))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(names[1])))
	buf = append(buf, names[1]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(start))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(bodies[1])))
	buf = append(buf, bodies[1]...)
	buf = append(buf, bodies[0]...)

	a, err := Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	got := map[string]string{}
	for _, d := range a.Files {
		got[d.Name] = string(a.Body(d))
	}
	want := map[string]string{"/one": "second", "/two": "first"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bodies mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFlagsEncryptedBodies(t *testing.T) {
	sealed := append(append([]byte{}, EncryptedMarker...), 1, 2, 3)
	a, err := Read(Pack(0, []Entry{{Name: "/sub.wxapkg", Data: sealed}, {Name: "/a.js", Data: []byte("x")}}))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !a.Files[0].Encrypted || a.Files[1].Encrypted {
		t.Errorf("encrypted flags = %v, %v", a.Files[0].Encrypted, a.Files[1].Encrypted)
	}
}

func TestHasMagic(t *testing.T) {
	if !HasMagic(Pack(0, nil)) {
		t.Error("packed archive should carry magic")
	}
	if HasMagic([]byte{FirstMark, 1, 2}) {
		t.Error("short buffer should not carry magic")
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/app-service.js":         "app-service.js",
		`\pages\index\index.wxml`: "pages/index/index.wxml",
		"//a/./b/../c.js":         "a/c.js",
	}
	for in, want := range cases {
		got, err := NormalizePath(in)
		if err != nil {
			t.Errorf("NormalizePath(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"", "/", "a/../..", "../x", "/../etc/passwd"} {
		if _, err := NormalizePath(bad); err == nil {
			t.Errorf("NormalizePath(%q) should fail", bad)
		}
	}
}
