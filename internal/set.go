package internal

import (
	"maps"
	"slices"
)

// Set is an unordered collection of logins. Logins are case-sensitive and
// orgs are only ever compared to orgs, users to users.
type Set map[string]struct{}

// NewSet returns a set holding the given logins.
func NewSet(logins ...string) Set {
	s := make(Set, len(logins))
	for _, l := range logins {
		s.Add(l)
	}
	return s
}

// Add inserts a login.
func (s Set) Add(login string) {
	s[login] = struct{}{}
}

// Has reports whether the login is present.
func (s Set) Has(login string) bool {
	_, ok := s[login]
	return ok
}

// Union adds every member of other to s.
func (s Set) Union(other Set) {
	for l := range other {
		s[l] = struct{}{}
	}
}

// Difference returns a new set with the members of s that aren't in other.
func (s Set) Difference(other Set) Set {
	out := Set{}
	for l := range s {
		if !other.Has(l) {
			out.Add(l)
		}
	}
	return out
}

// Clone returns a shallow copy.
func (s Set) Clone() Set {
	return maps.Clone(s)
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	return slices.Sorted(maps.Keys(s))
}
