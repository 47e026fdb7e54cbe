// Package cipher detects and reverses the optional package encryption. The
// mode is resolved once per run into a Strategy that the reader and the
// extractor share.
package cipher

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/sha1"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/wxapkg"
)

// Mode is the cipher variant applied to a buffer.
type Mode int

const (
	// ModePlain buffers carry no marker and pass through unchanged.
	ModePlain Mode = iota
	// ModePC buffers start with wxapkg.EncryptedMarker: an AES-CBC head
	// followed by a single-byte XOR tail.
	ModePC
)

func (m Mode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModePC:
		return "pc"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

const (
	headSize      = 1024
	defaultXORKey = 0x66
	kdfSalt       = "saltiest"
	kdfIterations = 1000
	kdfKeyLen     = 32
)

var (
	iv        = []byte("the iv: 16 bytes")
	appIDExpr = regexp.MustCompile(`^wx[0-9a-f]{16}$`)
)

// Strategy holds the key material for one run. A zero AppID means sealed
// buffers cannot be opened.
type Strategy struct {
	Mode  Mode
	AppID string
	key   []byte
	xor   byte
}

// Detect inspects the marker at the start of data.
func Detect(data []byte) Mode {
	if bytes.HasPrefix(data, wxapkg.EncryptedMarker) {
		return ModePC
	}
	return ModePlain
}

// Resolve detects the mode of the top-level buffer and derives key material
// from appID. The same Strategy also opens sealed embedded files, so the key
// is derived whenever an appID is known, even for plain archives.
func Resolve(data []byte, appID string) *Strategy {
	s := &Strategy{Mode: Detect(data), AppID: appID, xor: defaultXORKey}
	if appID != "" {
		s.key = pbkdf2.Key([]byte(appID), []byte(kdfSalt), kdfIterations, kdfKeyLen, sha1.New)
		if len(appID) >= 2 {
			s.xor = appID[len(appID)-2]
		}
	}
	return s
}

// Open returns the plaintext of data. Buffers without the marker are
// returned unchanged. The plaintext of a sealed buffer must itself be a
// container; anything else is reported as apperr.ErrDecryption.
func (s *Strategy) Open(data []byte) ([]byte, error) {
	if Detect(data) == ModePlain {
		return data, nil
	}
	if s.key == nil {
		return nil, fmt.Errorf("cipher: sealed buffer but no app id to derive the key: %w", apperr.ErrDecryption)
	}

	payload := data[len(wxapkg.EncryptedMarker):]
	headLen := min(headSize, len(payload))
	if headLen == 0 || headLen%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cipher: sealed head of %d bytes is not block aligned: %w", headLen, apperr.ErrDecryption)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("cipher: init aes: %w", err)
	}
	head := make([]byte, headLen)
	gocipher.NewCBCDecrypter(block, iv).CryptBlocks(head, payload[:headLen])

	tail := payload[headLen:]
	var out []byte
	if len(tail) == 0 {
		out, err = unpad(head)
		if err != nil {
			return nil, err
		}
	} else {
		out = make([]byte, 0, headSize-1+len(tail))
		out = append(out, head[:headSize-1]...)
		for _, b := range tail {
			out = append(out, b^s.xor)
		}
	}

	if !wxapkg.HasMagic(out) {
		return nil, fmt.Errorf("cipher: plaintext is not a package (wrong app id %q?): %w", s.AppID, apperr.ErrDecryption)
	}
	return out, nil
}

// Seal is the inverse of Open. It is used to build test fixtures and by the
// repack command.
func (s *Strategy) Seal(plain []byte) ([]byte, error) {
	if s.key == nil {
		return nil, fmt.Errorf("cipher: seal requires an app id")
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("cipher: init aes: %w", err)
	}

	var head, tail []byte
	if len(plain) >= headSize-1 {
		head = append(append([]byte{}, plain[:headSize-1]...), 0x01)
		tail = plain[headSize-1:]
	} else {
		head = pad(plain)
	}

	out := make([]byte, 0, len(wxapkg.EncryptedMarker)+len(head)+len(tail))
	out = append(out, wxapkg.EncryptedMarker...)
	sealed := make([]byte, len(head))
	gocipher.NewCBCEncrypter(block, iv).CryptBlocks(sealed, head)
	out = append(out, sealed...)
	for _, b := range tail {
		out = append(out, b^s.xor)
	}
	return out, nil
}

// AppIDFromPath returns the nearest path segment shaped like an app id, or
// "" when none is present. Desktop clients store packages under a directory
// named after the app id.
func AppIDFromPath(p string) string {
	segs := strings.Split(filepath.ToSlash(p), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if appIDExpr.MatchString(segs[i]) {
			return segs[i]
		}
	}
	return ""
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b), len(b)+n)
	copy(out, b)
	for i := 0; i < n; i++ {
		out = append(out, byte(n))
	}
	return out
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("cipher: bad padding: %w", apperr.ErrDecryption)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("cipher: bad padding: %w", apperr.ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}
