package dsync

import (
	"path/filepath"
	"testing"
)

func TestPathSet_Covers(t *testing.T) {
	s := NewPathSet("link", filepath.Join("a", "b"))

	tests := []struct {
		path string
		want bool
	}{
		{"link", true},
		{filepath.Join("link", "x.txt"), true},
		{filepath.Join("a", "b", "c", "d"), true},
		{"a", false},
		{"linked", false},
		{filepath.Join("a", "bb"), false},
	}
	for _, tt := range tests {
		if got := s.Covers(tt.path); got != tt.want {
			t.Errorf("Covers(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDeepestFirst(t *testing.T) {
	in := []string{"a", filepath.Join("a", "b"), "c", filepath.Join("a", "b", "c.txt"), filepath.Join("c", "d")}

	got := deepestFirst(in)

	pos := make(map[string]int, len(got))
	for i, p := range got {
		pos[p] = i
	}
	for _, p := range in {
		parent := filepath.Dir(p)
		if parent == "." {
			continue
		}
		if pos[p] > pos[parent] {
			t.Errorf("%q ordered after its parent %q: %v", p, parent, got)
		}
	}
	if len(in) != 5 || in[0] != "a" {
		t.Error("deepestFirst() modified its input")
	}
}
