// Package mention finds @name references in free text and resolves them
// against the user directory.
package mention

import (
	"context"
	"fmt"
	"sort"
	"unicode"

	"github.com/jwalitptl/moderation-engine/internal/model"
	"github.com/jwalitptl/moderation-engine/internal/repository"
)

type entry struct {
	name []rune // lowercased
	user *model.User
}

// Index is an immutable, ordered view of the directory used for matching.
// Entries are sorted by name length descending, then user id ascending, so
// the first prefix hit is always the longest match with a deterministic tie-break.
type Index struct {
	entries []entry
}

// NewIndex builds an index. Users whose display name is empty or contains
// characters that can never appear inside a mention token are skipped.
func NewIndex(users []*model.User) *Index {
	entries := make([]entry, 0, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		name := lowerRunes(u.DisplayName)
		if len(name) == 0 || !allNameRunes(name) {
			continue
		}
		entries = append(entries, entry{name: name, user: u})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if len(entries[i].name) != len(entries[j].name) {
			return len(entries[i].name) > len(entries[j].name)
		}
		return entries[i].user.ID.String() < entries[j].user.ID.String()
	})
	return &Index{entries: entries}
}

func (idx *Index) match(token []rune) (entry, bool) {
	for _, e := range idx.entries {
		if len(e.name) <= len(token) && runesEqual(e.name, token[:len(e.name)]) {
			return e, true
		}
	}
	return entry{}, false
}

// Resolve scans text left to right and returns the mentions it contains,
// sorted by StartIndex and never overlapping. Offsets count runes.
//
// A candidate is '@' at the start of text or after a non-name character,
// followed by one or more name characters. It resolves to the longest
// display name that is a case-insensitive prefix of the token; the span
// covers '@' plus that name and scanning resumes right after it.
func Resolve(text string, idx *Index) []model.Mention {
	runes := []rune(text)
	mentions := make([]model.Mention, 0)
	if idx == nil {
		return mentions
	}

	for i := 0; i < len(runes); {
		if runes[i] != '@' || (i > 0 && isNameRune(runes[i-1])) {
			i++
			continue
		}

		end := i + 1
		for end < len(runes) && isNameRune(runes[end]) {
			end++
		}
		if end == i+1 {
			i++
			continue
		}

		token := make([]rune, end-i-1)
		for k, r := range runes[i+1 : end] {
			token[k] = unicode.ToLower(r)
		}

		e, ok := idx.match(token)
		if !ok {
			i = end
			continue
		}

		stop := i + 1 + len(e.name)
		mentions = append(mentions, model.Mention{
			UserID:      e.user.ID,
			DisplayName: e.user.DisplayName,
			StartIndex:  i,
			EndIndex:    stop,
		})
		i = stop
	}
	return mentions
}

// Resolver loads the directory on each call and resolves against it.
type Resolver struct {
	directory repository.UserDirectory
}

func NewResolver(directory repository.UserDirectory) *Resolver {
	return &Resolver{directory: directory}
}

func (r *Resolver) Resolve(ctx context.Context, text string) ([]model.Mention, error) {
	users, err := r.directory.Users(ctx)
	if err != nil {
		return nil, fmt.Errorf("load user directory: %w", err)
	}
	return Resolve(text, NewIndex(users)), nil
}

func isNameRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func allNameRunes(rs []rune) bool {
	for _, r := range rs {
		if !isNameRune(r) {
			return false
		}
	}
	return true
}

func lowerRunes(s string) []rune {
	rs := []rune(s)
	for i, r := range rs {
		rs[i] = unicode.ToLower(r)
	}
	return rs
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
