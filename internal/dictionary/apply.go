package dictionary

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/loqalabs/loqa-dictate/internal/domain"
)

type span struct {
	start, end int
	value      string
}

type compiledEntry struct {
	re    *regexp.Regexp
	value string
	size  int
}

// Apply substitutes every whole-word, case-insensitive occurrence of each entry key with its value.
// Longer keys claim text first and claimed spans are never rescanned, so "AI model" wins over "AI".
func Apply(text string, entries []domain.DictionaryEntry) string {
	compiled := compile(entries)
	if len(compiled) == 0 || text == "" {
		return text
	}

	var claimed []span
	for _, entry := range compiled {
		offset := 0
		for offset <= len(text) {
			loc := entry.re.FindStringIndex(text[offset:])
			if loc == nil {
				break
			}
			start, end := offset+loc[0], offset+loc[1]
			if end == start {
				break
			}
			if wordBoundary(text, start, end) && !overlaps(claimed, start, end) {
				claimed = append(claimed, span{start: start, end: end, value: entry.value})
				offset = end
				continue
			}
			_, size := utf8.DecodeRuneInString(text[start:])
			offset = start + size
		}
	}
	if len(claimed) == 0 {
		return text
	}

	sort.Slice(claimed, func(i, j int) bool { return claimed[i].start < claimed[j].start })
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range claimed {
		b.WriteString(text[last:s.start])
		b.WriteString(s.value)
		last = s.end
	}
	b.WriteString(text[last:])
	return b.String()
}

func compile(entries []domain.DictionaryEntry) []compiledEntry {
	out := make([]compiledEntry, 0, len(entries))
	for _, entry := range entries {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(key))
		if err != nil {
			continue
		}
		out = append(out, compiledEntry{re: re, value: entry.Value, size: utf8.RuneCountInString(key)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].size > out[j].size })
	return out
}

func wordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		first, _ := utf8.DecodeRuneInString(text[start:])
		if isWordRune(r) && isWordRune(first) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		last, _ := utf8.DecodeLastRuneInString(text[:end])
		if isWordRune(r) && isWordRune(last) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func overlaps(claimed []span, start, end int) bool {
	for _, s := range claimed {
		if start < s.end && s.start < end {
			return true
		}
	}
	return false
}
