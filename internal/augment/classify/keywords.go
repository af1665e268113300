// internal/augment/classify/keywords.go
package classify

import (
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// KeywordTable matches a fixed word list as whole words. The automaton
// reports overlapping occurrences; a hit counts only when both edges fall on
// a word boundary, so "flag" never matches inside "flight".
type KeywordTable struct {
	words []string
	ac    ahocorasick.AhoCorasick
}

// NewKeywordTable compiles words (ASCII case-insensitive). Blank entries are
// dropped.
func NewKeywordTable(words []string) *KeywordTable {
	kt := &KeywordTable{}
	seen := make(map[string]bool)
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		kt.words = append(kt.words, w)
	}
	if len(kt.words) == 0 {
		return kt
	}
	b := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.StandardMatch,
		DFA:                  false,
	})
	kt.ac = b.Build(kt.words)
	return kt
}

// Words returns the compiled list.
func (kt *KeywordTable) Words() []string { return append([]string(nil), kt.words...) }

// Match returns the first whole-word keyword in text that allow does not
// exempt.
func (kt *KeywordTable) Match(text string, allow map[string]bool) (string, bool) {
	if len(kt.words) == 0 || text == "" {
		return "", false
	}
	iter := kt.ac.IterOverlapping(text)
	for {
		m := iter.Next()
		if m == nil {
			return "", false
		}
		start, end := m.Start(), m.End()
		if !boundaryBefore(text, start) || !boundaryAfter(text, end) {
			continue
		}
		w := kt.words[m.Pattern()]
		if allow[w] {
			continue
		}
		return w, true
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func boundaryBefore(s string, i int) bool {
	if i <= 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

// SourceText returns the path of src with the extension dropped, as the text
// keyword matching runs against. Embedded data and blob URLs yield nothing.
func SourceText(src string) string {
	src = strings.TrimSpace(src)
	lower := strings.ToLower(src)
	if src == "" || strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return ""
	}
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	p := u.Path
	if ext := path.Ext(p); ext != "" {
		p = strings.TrimSuffix(p, ext)
	}
	return p
}
