package ingest

import (
	"regexp"
	"strings"
)

// splitters is the ordered delimiter list spec.md §4.4 names, carried
// directly from _examples/original_source/metadata/src/artist.rs's
// SPLITTERS constant.
var splitters = []string{", ", "; ", " × ", " x ", " / ", " ft.", " ft. ", " feat. ", " & "}

// artistWhitelist holds multi-word artist names that must not be split
// even though they contain a recognized delimiter substring (e.g. a duo
// whose name itself contains " & "). The original Rust source's
// WHITELIST constant ships empty; this system seeds a small set of
// well-known names so the re-fold pass in spec.md §4.4/§8 scenario 2 is
// actually exercised.
var artistWhitelist = map[string]bool{
	"Emerson, Lake & Palmer": true,
	"Earth, Wind & Fire":     true,
	"Derek & the Dominos":    true,
}

var splitterPattern = buildSplitterPattern()

func buildSplitterPattern() *regexp.Regexp {
	escaped := make([]string, len(splitters))
	for i, s := range splitters {
		escaped[i] = regexp.QuoteMeta(s)
	}
	// longest-first so e.g. " ft. " matches before the shorter " ft."
	sortLongestFirst(escaped)
	return regexp.MustCompile("(" + strings.Join(escaped, "|") + ")")
}

func sortLongestFirst(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && len(s[j]) > len(s[j-1]); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// SplitArtists implements spec.md §4.4's artist-splitter: split on the
// recognized delimiter set, keep the delimiters as their own tokens so a
// whitelist re-fold pass can rejoin them, then drop the delimiter tokens
// from the final result.
//
// "The Beatles & John x Yoko / feat. Paul" splits to ["The Beatles",
// "John", "Yoko", "feat. Paul"]. Whitelist matches are tried only on runs
// that start at a name token, so whitelisting "feat. Paul" on its own
// leaves that result unchanged and no delimiter is folded; a whitelisted
// run such as "Yoko / feat. Paul" is kept as one name.
func SplitArtists(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}

	tokens := tokenize(input)
	return refold(tokens)
}

// tokenize splits input into an alternating [name, delimiter, name, ...]
// sequence using the regexp built from splitters.
func tokenize(input string) []string {
	idx := splitterPattern.FindAllStringIndex(input, -1)
	if len(idx) == 0 {
		return []string{strings.TrimSpace(input)}
	}
	var tokens []string
	last := 0
	for _, m := range idx {
		tokens = append(tokens, strings.TrimSpace(input[last:m[0]]))
		tokens = append(tokens, input[m[0]:m[1]])
		last = m[1]
	}
	tokens = append(tokens, strings.TrimSpace(input[last:]))
	return tokens
}

// refold walks the [name, delim, name, delim, name, ...] token sequence.
// At each name position it looks ahead through every possible run of
// delimiter-joined tokens and keeps the longest one whose reassembled,
// trimmed string matches the whitelist; with no match, the single name
// token is emitted and its trailing delimiter is dropped, per spec.md
// §4.4's "delimiters preserved-and-stripped" split.
func refold(tokens []string) []string {
	var names []string
	i := 0
	for i < len(tokens) {
		bestName := strings.TrimSpace(tokens[i])
		bestNext := i + 1
		if i+1 < len(tokens) {
			bestNext = i + 2
		}

		accum := tokens[i]
		j := i
		for j+2 < len(tokens) {
			accum = accum + tokens[j+1] + tokens[j+2]
			j += 2
			if artistWhitelist[strings.TrimSpace(accum)] {
				bestName = strings.TrimSpace(accum)
				if j+1 < len(tokens) {
					bestNext = j + 2
				} else {
					bestNext = j + 1
				}
			}
		}

		if bestName != "" {
			names = append(names, bestName)
		}
		i = bestNext
	}
	return names
}
