// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import (
	"slices"
	"time"
)

// Snippet represents a saved code snippet owned by one user.
//
// IMMUTABLE vs MUTABLE FIELDS:
//   - ID, Owner and CreatedAt are set once by the store at creation.
//   - Everything else can change through a Patch, and every successful
//     change (even a favorite toggle) moves UpdatedAt forward.
//
// The `json:"..."` tags define the export/interchange format. Tags always
// encode as an array: an empty set is `[]`, never `null`.
type Snippet struct {
	ID          string    `json:"id"`
	Owner       string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Code        string    `json:"code"`
	Language    Language  `json:"language"`
	Tags        []string  `json:"tags"`
	IsFavorite  bool      `json:"isFavorite"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers can't alias the tag slice of a
// cached snippet.
func (s Snippet) Clone() Snippet {
	s.Tags = slices.Clone(s.Tags)
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return s
}

// Draft is the input for creating a snippet. The store fills in ID, Owner
// and timestamps.
type Draft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Code        string   `json:"code"`
	Language    Language `json:"language"`
	Tags        []string `json:"tags"`
}

// Patch is a partial update. A nil field means "leave unchanged".
//
// WHY POINTERS?
// With plain strings we couldn't tell "clear the description" ("") from
// "don't touch the description" (field absent in the JSON body). A nil
// pointer is "absent", a pointer to "" is "set to empty".
type Patch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Code        *string   `json:"code,omitempty"`
	Language    *Language `json:"language,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	IsFavorite  *bool     `json:"isFavorite,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Code == nil &&
		p.Language == nil && p.Tags == nil && p.IsFavorite == nil
}

// Apply writes the set fields of p onto s. It does not touch timestamps;
// stores own UpdatedAt.
func (p Patch) Apply(s *Snippet) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Code != nil {
		s.Code = *p.Code
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	if p.Tags != nil {
		s.Tags = slices.Clone(*p.Tags)
		if s.Tags == nil {
			s.Tags = []string{}
		}
	}
	if p.IsFavorite != nil {
		s.IsFavorite = *p.IsFavorite
	}
}

// NextUpdatedAt returns the timestamp for a mutation happening at now on a
// snippet last updated at prev. The result is always strictly after prev,
// even when the clock hasn't advanced (or went backwards) between calls.
func NextUpdatedAt(prev, now time.Time) time.Time {
	now = now.UTC()
	if !now.After(prev) {
		return prev.UTC().Add(time.Microsecond)
	}
	return now
}
