// Package query filters and summarises an owner's cached snippet collection.
//
// PURE FUNCTIONS:
// Nothing here touches the store or the cache. Every function takes a slice
// and returns a new value, so the same snapshot can be filtered many times
// (once per keystroke in a search box) without any locking.
//
// HOW A PREDICATE MATCHES:
//
//	Text          lowercase substring of title, description, or any tag
//	Language      exact match on the stored language value
//	FavoritesOnly only snippets marked as favorite
//
// Clauses are ANDed, and an empty clause always matches.
package query

import (
	"strconv"
	"strings"

	"github.com/sakif/snippet-vault/internal/model"
)

// Predicate describes which snippets to show. The zero value matches
// everything.
type Predicate struct {
	Text          string         `json:"text,omitempty"`
	Language      model.Language `json:"language,omitempty"`
	FavoritesOnly bool           `json:"favoritesOnly,omitempty"`
}

// IsZero reports whether p has no active clause.
func (p Predicate) IsZero() bool {
	return p.Text == "" && p.Language == "" && !p.FavoritesOnly
}

// ParsePredicate builds a Predicate from presentation inputs such as query
// string parameters. The text is kept verbatim, so "react " only matches
// where a space follows. An empty language means "any language" (it is NOT
// mapped to "other"), and favorites accepts anything strconv.ParseBool does.
func ParsePredicate(text, language, favorites string) Predicate {
	p := Predicate{Text: text}
	if strings.TrimSpace(language) != "" {
		p.Language = model.ParseLanguage(language)
	}
	if fav, err := strconv.ParseBool(strings.TrimSpace(favorites)); err == nil {
		p.FavoritesOnly = fav
	}
	return p
}

// Match reports whether s satisfies every clause of p.
func (p Predicate) Match(s model.Snippet) bool {
	if p.FavoritesOnly && !s.IsFavorite {
		return false
	}
	if p.Language != "" && s.Language != p.Language {
		return false
	}
	return matchText(s, strings.ToLower(p.Text))
}

// matchText expects needle to be lowercased already.
func matchText(s model.Snippet, needle string) bool {
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(s.Title), needle) ||
		strings.Contains(strings.ToLower(s.Description), needle) {
		return true
	}
	for _, tag := range s.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Filter returns the snippets matching p in their original order.
// The result is never nil.
func Filter(snippets []model.Snippet, p Predicate) []model.Snippet {
	out := make([]model.Snippet, 0, len(snippets))
	if p.IsZero() {
		return append(out, snippets...)
	}

	for _, s := range snippets {
		if p.Match(s) {
			out = append(out, s)
		}
	}
	return out
}

// GroupCountsByLanguage counts snippets per stored language value.
// Unregistered values get their own key; callers that display them use
// Language.Label, which falls back to "Other".
func GroupCountsByLanguage(snippets []model.Snippet) map[model.Language]int {
	counts := make(map[model.Language]int)
	for _, s := range snippets {
		counts[s.Language]++
	}
	return counts
}

// CountFavorites returns how many snippets are marked as favorite.
func CountFavorites(snippets []model.Snippet) int {
	n := 0
	for _, s := range snippets {
		if s.IsFavorite {
			n++
		}
	}
	return n
}

// LanguageCount is one row of a language facet.
type LanguageCount struct {
	Language model.Language `json:"language"`
	Label    string         `json:"label"`
	Count    int            `json:"count"`
}

// Facets summarises a collection for a sidebar.
type Facets struct {
	Total     int             `json:"total"`
	Favorites int             `json:"favorites"`
	Languages []LanguageCount `json:"languages"`
}

// Summarize computes Facets. Languages are listed in registry order, then
// unregistered values in the order they first appear. Languages with no
// snippets are omitted.
func Summarize(snippets []model.Snippet) Facets {
	counts := GroupCountsByLanguage(snippets)
	f := Facets{
		Total:     len(snippets),
		Favorites: CountFavorites(snippets),
		Languages: make([]LanguageCount, 0, len(counts)),
	}

	for _, info := range model.Languages() {
		if n := counts[info.Value]; n > 0 {
			f.Languages = append(f.Languages, LanguageCount{info.Value, info.Label, n})
			delete(counts, info.Value)
		}
	}
	for _, s := range snippets {
		if n, ok := counts[s.Language]; ok {
			f.Languages = append(f.Languages, LanguageCount{s.Language, s.Language.Label(), n})
			delete(counts, s.Language)
		}
	}
	return f
}
