package learning

import (
	"regexp"
	"strings"
)

// maxExcerpt bounds each transcript piece sent to the extractor expert.
const maxExcerpt = 6000

// textCleaner normalizes model-written text before it is stored.
type textCleaner struct {
	multiWhitespace *regexp.Regexp
	htmlTags        *regexp.Regexp
	emphasis        *regexp.Regexp
	sentenceEnd     *regexp.Regexp
}

var cleaner = &textCleaner{
	multiWhitespace: regexp.MustCompile(`[ \t]+`),
	htmlTags:        regexp.MustCompile(`<[^>]*>`),
	emphasis:        regexp.MustCompile(`\*\*([^*]+)\*\*|__([^_]+)__`),
	sentenceEnd:     regexp.MustCompile(`[.!?]\s`),
}

// Clean strips HTML tags and markdown emphasis and collapses runs of blank
// lines to one.
func (tc *textCleaner) Clean(content string) string {
	content = tc.htmlTags.ReplaceAllString(content, "")
	content = tc.emphasis.ReplaceAllString(content, "$1$2")
	content = tc.multiWhitespace.ReplaceAllString(content, " ")

	lines := strings.Split(content, "\n")
	var cleaned []string
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(cleaned) > 0 {
				cleaned = append(cleaned, "")
			}
			blank = true
			continue
		}
		blank = false
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// Keywords lowercases and de-duplicates keywords, keeping first-seen order.
func (tc *textCleaner) Keywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	var out []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// Excerpt shortens text to at most max bytes, cutting after the last full
// sentence when there is one in the second half.
func (tc *textCleaner) Excerpt(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	ends := tc.sentenceEnd.FindAllStringIndex(cut, -1)
	if len(ends) > 0 {
		if last := ends[len(ends)-1][0] + 1; last > max/2 {
			cut = cut[:last]
		}
	}
	return strings.TrimSpace(cut) + " [truncated]"
}
