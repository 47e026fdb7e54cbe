package split

import (
	"strconv"
	"strings"

	"github.com/starford/wedecode/internal/bundle"
)

// Units describes the size-unit rewrite: every <number><From> literal in
// code becomes <number*Factor><To>.
type Units struct {
	From   string  `yaml:"from"`
	To     string  `yaml:"to"`
	Factor float64 `yaml:"factor"`
}

// DefaultUnits converts responsive pixels on a 750-wide design to CSS pixels.
func DefaultUnits() Units {
	return Units{From: "rpx", To: "px", Factor: 0.5}
}

// Rewrite returns src with unit literals converted and the number of
// literals rewritten. Strings, comments, templates and regex literals are
// left untouched.
func (u Units) Rewrite(src string, lang bundle.Lang) (string, int) {
	if u.From == "" || !strings.Contains(src, u.From) {
		return src, 0
	}
	var (
		b     strings.Builder
		last  int
		count int
	)
	for tok := range bundle.Tokens(src, lang) {
		if tok.Kind != bundle.TokenNumber {
			continue
		}
		repl, ok := u.convert(src[tok.Start:tok.End])
		if !ok {
			continue
		}
		if count == 0 {
			b.Grow(len(src))
		}
		b.WriteString(src[last:tok.Start])
		b.WriteString(repl)
		last = tok.End
		count++
	}
	if count == 0 {
		return src, 0
	}
	b.WriteString(src[last:])
	return b.String(), count
}

func (u Units) convert(lit string) (string, bool) {
	num, ok := strings.CutSuffix(lit, u.From)
	if !ok || num == "" {
		return "", false
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(v*u.Factor, 'f', -1, 64) + u.To, true
}
