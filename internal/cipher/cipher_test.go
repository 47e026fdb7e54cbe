package cipher

import (
	"bytes"
	"errors"
	"testing"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/wxapkg"
)

const testAppID = "wx0123456789abcdef"

func samplePackage(bodySize int) []byte {
	return wxapkg.Pack(0, []wxapkg.Entry{
		{Name: "/app-service.js", Data: bytes.Repeat([]byte("x"), bodySize)},
	})
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := Resolve(nil, testAppID)
	for _, size := range []int{0, 100, 1023 - 37, 1023, 4096} {
		plain := samplePackage(size)
		sealed, err := s.Seal(plain)
		if err != nil {
			t.Fatalf("Seal(%d): %v", size, err)
		}
		if Detect(sealed) != ModePC {
			t.Fatalf("sealed buffer should be detected as pc")
		}
		got, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("Open(%d): %v", size, err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("round trip mismatch for body size %d (len %d vs %d)", size, len(got), len(plain))
		}
	}
}

func TestOpenPlainPassThrough(t *testing.T) {
	plain := samplePackage(10)
	s := Resolve(plain, "")
	if s.Mode != ModePlain {
		t.Fatalf("mode = %v, want plain", s.Mode)
	}
	got, err := s.Open(plain)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("plain buffer must pass through unchanged")
	}
}

func TestOpenWrongAppID(t *testing.T) {
	sealed, err := Resolve(nil, testAppID).Seal(samplePackage(2048))
	if err != nil {
		t.Fatal(err)
	}
	_, err = Resolve(sealed, "wxffffffffffffffff").Open(sealed)
	if !errors.Is(err, apperr.ErrDecryption) {
		t.Fatalf("err = %v, want ErrDecryption", err)
	}
}

func TestOpenWithoutAppID(t *testing.T) {
	sealed, err := Resolve(nil, testAppID).Seal(samplePackage(10))
	if err != nil {
		t.Fatal(err)
	}
	s := Resolve(sealed, "")
	if s.Mode != ModePC {
		t.Fatalf("mode = %v, want pc", s.Mode)
	}
	if _, err := s.Open(sealed); !errors.Is(err, apperr.ErrDecryption) {
		t.Fatalf("err = %v, want ErrDecryption", err)
	}
}

func TestOpenMisalignedHead(t *testing.T) {
	bad := append(append([]byte{}, wxapkg.EncryptedMarker...), 1, 2, 3)
	if _, err := Resolve(bad, testAppID).Open(bad); !errors.Is(err, apperr.ErrDecryption) {
		t.Fatalf("err = %v, want ErrDecryption", err)
	}
}

func TestXORKeyFallback(t *testing.T) {
	if s := Resolve(nil, "w"); s.xor != defaultXORKey {
		t.Errorf("xor = %#x, want %#x", s.xor, defaultXORKey)
	}
	if s := Resolve(nil, testAppID); s.xor != 'e' {
		t.Errorf("xor = %q, want 'e'", s.xor)
	}
}

func TestAppIDFromPath(t *testing.T) {
	cases := map[string]string{
		"/data/Applet/wx0123456789abcdef/12/__APP__.wxapkg": testAppID,
		"wx0123456789abcdef":                               testAppID,
		"/tmp/pkg/__APP__.wxapkg":                          "",
		"/tmp/wx0123/__APP__.wxapkg":                       "",
	}
	for in, want := range cases {
		if got := AppIDFromPath(in); got != want {
			t.Errorf("AppIDFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}
