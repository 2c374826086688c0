// Package processing holds the text helpers shared by ingestion and the stages.
package processing

import (
	"html"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	htmlTag     = regexp.MustCompile(`<[^>]*>`)
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "in": {}, "for": {},
	"and": {}, "of": {}, "on": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "are": {}, "was": {}, "will": {}, "has": {}, "have": {},
	"its": {}, "said": {}, "says": {}, "into": {}, "about": {}, "after": {},
}

// ExtractURLs returns the distinct HTTP(S) URLs of input in order of appearance.
func ExtractURLs(input string) []string {
	var urls []string
	for _, u := range urlRegex.FindAllString(input, -1) {
		if !slices.Contains(urls, u) {
			urls = append(urls, u)
		}
	}
	return urls
}

// RemoveURLs removes all URLs from the input text.
func RemoveURLs(input string) string {
	return urlRegex.ReplaceAllString(input, " ")
}

// StripHTML drops markup and decodes entities while keeping the text layout readable.
// Feed summaries and aggregator posts arrive as HTML fragments.
func StripHTML(input string) string {
	if input == "" {
		return ""
	}
	text := htmlTag.ReplaceAllString(input, " ")
	text = html.UnescapeString(text)
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(whitespace.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// CleanText strips HTML entities, punctuation, squeezes whitespace, and removes URLs.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = RemoveURLs(decoded)
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// Truncate returns at most maxLen characters of s. It never splits a UTF-8 sequence.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	count := 0
	for i := range s {
		if count == maxLen {
			return s[:i]
		}
		count++
	}
	return s
}

// ExtractKeywords returns up to limit of the most frequent words of at least minLen
// runes, skipping stop-words. Ties sort alphabetically. A limit <= 0 returns all.
func ExtractKeywords(text string, limit, minLen int) []string {
	freq := make(map[string]int)
	for _, token := range strings.Fields(strings.ToLower(CleanText(text))) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if _, skip := stopwords[token]; skip || len([]rune(token)) < minLen {
			continue
		}
		freq[token]++
	}
	if len(freq) == 0 {
		return nil
	}

	words := make([]string, 0, len(freq))
	for word := range freq {
		words = append(words, word)
	}
	slices.SortFunc(words, func(a, b string) int {
		if freq[a] != freq[b] {
			return freq[b] - freq[a]
		}
		return strings.Compare(a, b)
	})

	if limit > 0 && limit < len(words) {
		words = words[:limit]
	}
	return words
}

// GenerateTitleFromText builds a title from the first sentence of text, cut to
// maxWords words with a trailing ellipsis. A maxWords <= 0 keeps the whole sentence.
func GenerateTitleFromText(text string, maxWords int) string {
	sentence := RemoveURLs(text)
	if end := strings.IndexAny(sentence, ".!?"); end > 0 {
		sentence = sentence[:end]
	}

	words := strings.Fields(sentence)
	if maxWords > 0 && len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + "..."
	}
	return strings.Join(words, " ")
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats produced by feeds, APIs and crawlers.
// Values without a zone are read as UTC. ok is false for blank or unrecognized input.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
