package split

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/starford/wedecode/internal/bundle"
)

// InlineScripts returns the text of the inline <script> elements in markup
// that contain module registrations, joined by newlines in document order.
// Scripts with a src attribute are skipped.
func InlineScripts(markup []byte, opts ...bundle.Option) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("split: parse markup: %w", err)
	}
	var parts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if _, ok := s.Attr("src"); ok {
			return
		}
		text := s.Text()
		if bundle.IsBundle(text, opts...) {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n"), nil
}
