package dsync

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// PathSet is an unordered set of paths.
type PathSet map[string]struct{}

// NewPathSet builds a set from paths.
func NewPathSet(paths ...string) PathSet {
	return PathSet(lo.Keyify(paths))
}

func (s PathSet) Add(p string) { s[p] = struct{}{} }

func (s PathSet) Contains(p string) bool {
	_, ok := s[p]
	return ok
}

func (s PathSet) Len() int { return len(s) }

// Sorted returns the members in lexical order, which puts every directory
// before its children.
func (s PathSet) Sorted() []string {
	out := lo.Keys(s)
	sort.Strings(out)
	return out
}

// Union returns a new set holding the members of both.
func (s PathSet) Union(o PathSet) PathSet {
	return PathSet(lo.Assign(s, o))
}

// Covers reports whether p equals a member or lies beneath one.
func (s PathSet) Covers(p string) bool {
	for {
		if s.Contains(p) {
			return true
		}
		parent := filepath.Dir(p)
		if parent == p || parent == "." || parent == string(filepath.Separator) {
			return false
		}
		p = parent
	}
}

// deepestFirst orders paths so children come before their parents.
func deepestFirst(paths []string) []string {
	out := append([]string(nil), paths...)
	sort.SliceStable(out, func(i, j int) bool {
		di := strings.Count(out[i], string(filepath.Separator))
		dj := strings.Count(out[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return out[i] > out[j]
	})
	return out
}
