package sync

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var leadingArticles = []string{"the ", "a ", "an "}

// Normalize folds s for comparison: accents are removed, letters lower-cased,
// punctuation replaced by spaces, whitespace collapsed and a leading article
// dropped.
func Normalize(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '\'' || r == '’':
			// "Ender's" and "Enders" compare equal
		default:
			b.WriteRune(' ')
		}
	}

	out := strings.Join(strings.Fields(b.String()), " ")
	for _, article := range leadingArticles {
		if strings.HasPrefix(out, article) {
			out = strings.TrimPrefix(out, article)
			break
		}
	}
	return out
}

// TitleSimilarity returns a score in [0, 1] for two titles, 1 meaning equal
// after normalization.
func TitleSimilarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	return 1 - float64(fuzzy.LevenshteinDistance(na, nb))/float64(longest)
}

// AuthorsOverlap reports whether any author appears in both lists after
// normalization.
func AuthorsOverlap(a, b []string) bool {
	names := make(map[string]bool, len(a))
	for _, name := range a {
		if n := Normalize(name); n != "" {
			names[n] = true
		}
	}
	for _, name := range b {
		if names[Normalize(name)] {
			return true
		}
	}
	return false
}
