// Package access derives the set of documents a requester may query.
package access

import "sort"

// AllowedSet is the finite set of filenames visible to one requester for one query.
// It is recomputed per request and never means "unrestricted".
type AllowedSet map[string]struct{}

// NewAllowedSet builds a set from filenames
func NewAllowedSet(filenames ...string) AllowedSet {
	s := make(AllowedSet, len(filenames))
	for _, f := range filenames {
		s[f] = struct{}{}
	}
	return s
}

// Contains reports whether filename is in the set
func (s AllowedSet) Contains(filename string) bool {
	_, ok := s[filename]
	return ok
}

// Len returns the number of filenames
func (s AllowedSet) Len() int {
	return len(s)
}

// Empty reports whether the set has no filenames
func (s AllowedSet) Empty() bool {
	return len(s) == 0
}

// Union returns a new set with the filenames of both sets
func (s AllowedSet) Union(other AllowedSet) AllowedSet {
	out := make(AllowedSet, len(s)+len(other))
	for f := range s {
		out[f] = struct{}{}
	}
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// Intersect returns a new set with the filenames present in both sets
func (s AllowedSet) Intersect(other AllowedSet) AllowedSet {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(AllowedSet, len(small))
	for f := range small {
		if large.Contains(f) {
			out[f] = struct{}{}
		}
	}
	return out
}

// Sorted returns the filenames in lexical order
func (s AllowedSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SubsetOf reports whether every filename of s is in other
func (s AllowedSet) SubsetOf(other AllowedSet) bool {
	for f := range s {
		if !other.Contains(f) {
			return false
		}
	}
	return true
}
