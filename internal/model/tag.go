package model

import (
	"slices"
	"strings"

	"github.com/sakif/snippet-vault/internal/apperror"
)

// NormalizeTag canonicalises a single tag: surrounding whitespace trimmed,
// lowercased. Input that is empty after trimming is rejected.
func NormalizeTag(raw string) (string, error) {
	tag := strings.ToLower(strings.TrimSpace(raw))
	if tag == "" {
		return "", apperror.ValidationFailed("tag", "tag must not be empty")
	}
	return tag, nil
}

// NormalizeTagSet adds raw to existing. If the normalised tag is already
// present, or raw is rejected, existing is returned unchanged. The input
// slice is never modified in place.
func NormalizeTagSet(existing []string, raw string) []string {
	tag, err := NormalizeTag(raw)
	if err != nil || slices.Contains(existing, tag) {
		return existing
	}
	out := make([]string, 0, len(existing)+1)
	out = append(out, existing...)
	return append(out, tag)
}

// NormalizeTags builds a tag set from a raw list, keeping first-seen order and
// silently dropping empties and duplicates. The result is never nil, so an
// absent tag list becomes the empty set.
func NormalizeTags(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = NormalizeTagSet(out, r)
	}
	return out
}

// RemoveTag returns tags without the normalised form of raw.
func RemoveTag(tags []string, raw string) []string {
	tag, err := NormalizeTag(raw)
	if err != nil {
		return tags
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}
