package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"go-extractor/internal/model"
)

// extractMeta pulls title, description, keywords and OpenGraph values from
// a parsed document.
func extractMeta(doc *goquery.Document) model.MetaInfo {
	meta := model.MetaInfo{}

	meta.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || content == "" {
			return
		}
		switch name, _ := s.Attr("name"); strings.ToLower(name) {
		case "description":
			meta.Description = content
		case "keywords":
			meta.Keywords = content
		}
		if prop, ok := s.Attr("property"); ok && strings.HasPrefix(prop, "og:") {
			if meta.OG == nil {
				meta.OG = make(map[string]string)
			}
			meta.OG[prop] = content
		}
	})

	return meta
}

// visibleText returns the document's text content with script, style and
// noscript nodes stripped.
func visibleText(doc *goquery.Document) string {
	clone := doc.Selection.Clone()
	clone.Find("script, style, noscript").Remove()
	return clone.Text()
}
