package analyzer

import (
	"strings"
	"unicode"
)

// Token length thresholds for heuristic tags: a token is kept when its
// length is strictly greater than the threshold.
const (
	TextTagMinLen  = 4
	ImageTagMinLen = 3
	maxTags        = 10
)

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "this": {}, "that": {}, "with": {}, "from": {},
	"image": {}, "picture": {}, "photo": {},
	"about": {}, "after": {}, "again": {}, "also": {}, "because": {}, "been": {},
	"before": {}, "being": {}, "could": {}, "each": {}, "have": {}, "into": {},
	"other": {}, "should": {}, "some": {}, "than": {}, "their": {}, "there": {},
	"these": {}, "they": {}, "those": {}, "very": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "while": {}, "will": {}, "would": {},
	"your": {},
}

// HeuristicTags derives up to ten tags from free text. Tokens are lowercased,
// stripped of surrounding punctuation, filtered by length and stop words, and
// deduplicated in first-occurrence order.
func HeuristicTags(text string, minLen int) []string {
	tags := make([]string, 0, maxTags)
	seen := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		tok := strings.TrimFunc(field, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if len([]rune(tok)) <= minLen {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tags = append(tags, tok)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// firstLine returns the first non-empty trimmed line of s.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
