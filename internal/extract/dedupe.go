package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// titleKeyRunes bounds the prefix used to decide two items are the same.
const titleKeyRunes = 80

// TitleKey normalizes a title for duplicate detection: accents folded,
// lowercased, whitespace collapsed and cut to the first 80 runes.
func TitleKey(title string) string {
	r := []rune(Fold(title))
	if len(r) > titleKeyRunes {
		r = r[:titleKeyRunes]
	}
	return string(r)
}

// Fold strips diacritics, lowercases and collapses whitespace.
func Fold(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Item is one listing block before normalization.
type Item struct {
	Title string
	Body  string
	Date  string
	Link  string
}

// Dedupe keeps the first item for every title key, preserving order. Items
// without a usable title are dropped.
func Dedupe(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		key := TitleKey(it.Title)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}
