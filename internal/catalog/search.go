package catalog

import (
	"strings"
)

// computeSortName strips a leading English article the way cmd/ingest's
// sortName helper does, so "The Beatles" sorts under "Beatles".
func computeSortName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(lower, article) {
			return strings.TrimSpace(name[len(article):])
		}
	}
	return name
}

// normalizeSearchContent lowercases and strips diacritics ("deunicodes")
// so the search_index table can do simple substring matching over
// normalized content, per spec.md §4.3.
func normalizeSearchContent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		b.WriteRune(stripDiacritic(r))
	}
	return b.String()
}

// stripDiacritic maps common accented Latin letters to their ASCII base.
// This is a small, explicit table rather than a full Unicode
// normalization pipeline (no transform/unicode-normalization library
// appears anywhere in the retrieved pack, and full NFKD folding is out
// of proportion to what the search index actually needs).
func stripDiacritic(r rune) rune {
	if r < 0x80 {
		return r
	}
	replacements := map[rune]rune{
		'á': 'a', 'à': 'a', 'â': 'a', 'ä': 'a', 'ã': 'a', 'å': 'a',
		'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
		'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
		'ó': 'o', 'ò': 'o', 'ô': 'o', 'ö': 'o', 'õ': 'o',
		'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
		'ñ': 'n', 'ç': 'c', 'ý': 'y', 'ÿ': 'y',
	}
	if replacement, ok := replacements[r]; ok {
		return replacement
	}
	return r
}
