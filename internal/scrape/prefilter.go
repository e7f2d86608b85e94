package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"go-extractor/internal/model"
)

// contextRadius is the number of characters kept on each side of a keyword
// occurrence when building its context snippet.
const contextRadius = 50

// KeywordPrefilter fetches a page and reports which of the configured
// keywords it contains, with surrounding context. It holds no shared state;
// a fetch or parse failure is reported as an error with an empty result and
// is non-fatal to the caller.
type KeywordPrefilter struct {
	client    *http.Client
	userAgent string
}

func NewKeywordPrefilter(timeout time.Duration, userAgent string) *KeywordPrefilter {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &KeywordPrefilter{client: newClient(timeout), userAgent: userAgent}
}

// Check matches keywords case-insensitively against the page's visible text
// and, when includeMeta is set, against its meta-information. Keywords found
// only in meta-information get a field-identifying label instead of a text
// window.
func (p *KeywordPrefilter) Check(ctx context.Context, rawURL string, keywords []string, includeMeta bool) (model.KeywordResult, error) {
	empty := model.KeywordResult{Contexts: map[string]string{}}

	body, err := fetch(ctx, p.client, p.userAgent, rawURL)
	if err != nil {
		return empty, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return empty, err
	}

	text := strings.ToLower(visibleText(doc))
	meta := model.MetaInfo{}
	if includeMeta {
		meta = extractMeta(doc)
	}

	result := model.KeywordResult{
		Meta:     meta,
		Contexts: make(map[string]string),
	}

	for _, kw := range keywords {
		lower := strings.ToLower(kw)
		idx := strings.Index(text, lower)
		if idx < 0 {
			continue
		}
		result.Matches = append(result.Matches, kw)
		result.Contexts[kw] = contextWindow(text, idx, len(lower))
	}

	if includeMeta {
		p.matchMeta(keywords, meta, &result)
	}

	result.Matched = len(result.Matches) > 0
	return result, nil
}

// matchMeta adds keywords that the body text missed but that appear in the
// concatenated meta fields, labelling the field that matched.
func (p *KeywordPrefilter) matchMeta(keywords []string, meta model.MetaInfo, result *model.KeywordResult) {
	var ogValues []string
	for _, v := range meta.OG {
		ogValues = append(ogValues, v)
	}
	metaText := strings.ToLower(strings.Join([]string{
		meta.Title, meta.Description, meta.Keywords, strings.Join(ogValues, " "),
	}, " "))

	for _, kw := range keywords {
		lower := strings.ToLower(kw)
		if !strings.Contains(metaText, lower) || containsKeyword(result.Matches, kw) {
			continue
		}
		result.Matches = append(result.Matches, kw)
		switch {
		case strings.Contains(strings.ToLower(meta.Title), lower):
			result.Contexts[kw] = fmt.Sprintf("Found in title: %s", meta.Title)
		case strings.Contains(strings.ToLower(meta.Description), lower):
			result.Contexts[kw] = fmt.Sprintf("Found in meta description: %s", meta.Description)
		case strings.Contains(strings.ToLower(meta.Keywords), lower):
			result.Contexts[kw] = fmt.Sprintf("Found in meta keywords: %s", meta.Keywords)
		default:
			result.Contexts[kw] = "Found in meta information"
		}
	}
}

func containsKeyword(matches []string, kw string) bool {
	for _, m := range matches {
		if m == kw {
			return true
		}
	}
	return false
}

// contextWindow returns the text surrounding the first occurrence of a
// keyword, contextRadius characters on each side. byteIdx and byteLen refer
// to the match position in text; the window is cut on rune boundaries.
func contextWindow(text string, byteIdx, byteLen int) string {
	runes := []rune(text)
	start := utf8.RuneCountInString(text[:byteIdx])
	length := utf8.RuneCountInString(text[byteIdx : byteIdx+byteLen])

	from := start - contextRadius
	if from < 0 {
		from = 0
	}
	to := start + length + contextRadius
	if to > len(runes) {
		to = len(runes)
	}
	return fmt.Sprintf("...%s...", string(runes[from:to]))
}
