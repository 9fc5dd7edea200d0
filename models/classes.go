// Package models - Definitions for glyph output classes.
package models

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The zero-based index returned by the decoder.
	Index int
	// The glyph the class stands for.
	Name string
}

// OutputClassSet maps decoder class indices to glyphs and back. Background is
// not part of the set: index 0 is the first glyph.
type OutputClassSet struct {
	// Classes that are supported and mappable.
	Classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewOutputClassSet builds a class set from labels in index order.
//
// Arguments:
//   - labels: One glyph per class. Labels must be non-empty and distinct.
//
// Returns:
//   - *OutputClassSet: The class set.
//   - error: An error for an empty or duplicate label.
func NewOutputClassSet(labels []string) (*OutputClassSet, error) {
	s := &OutputClassSet{Classes: make([]OutputClass, len(labels))}
	for i, l := range labels {
		if l == "" {
			return nil, errors.Errorf("class %d has an empty label", i)
		}
		s.Classes[i] = OutputClass{Index: i, Name: l}
	}
	s.BuildNameIndexMap()
	if len(s.nameToIdx) != len(labels) {
		return nil, errors.Errorf("duplicate labels in %q", labels)
	}
	return s, nil
}

// ClassSetFromTexts derives the class set of a corpus of annotations: one
// class per distinct character, indexed in sorted order.
func ClassSetFromTexts(texts []string) *OutputClassSet {
	seen := map[string]bool{}
	for _, text := range texts {
		for _, r := range text {
			seen[string(r)] = true
		}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	// Distinct and non-empty by construction.
	s, _ := NewOutputClassSet(labels)
	return s
}

// BuildNameIndexMap builds or rebuilds the name->index map.
func (s *OutputClassSet) BuildNameIndexMap() {
	s.nameToIdx = make(map[string]int, len(s.Classes))
	for _, c := range s.Classes {
		s.nameToIdx[c.Name] = c.Index
	}
}

// Len returns the number of classes.
func (s *OutputClassSet) Len() int { return len(s.Classes) }

// Labels returns the glyphs in index order.
func (s *OutputClassSet) Labels() []string {
	out := make([]string, len(s.Classes))
	for i, c := range s.Classes {
		out[i] = c.Name
	}
	return out
}

// GetName returns the glyph of a class index.
func (s *OutputClassSet) GetName(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Classes) {
		return "", errors.Errorf("index %d out of range for %d classes", idx, len(s.Classes))
	}
	return s.Classes[idx].Name, nil
}

// GetIndex returns the class index of a glyph.
func (s *OutputClassSet) GetIndex(name string) (int, error) {
	idx, ok := s.nameToIdx[name]
	if !ok {
		return -1, errors.Errorf("glyph %q not in class set", name)
	}
	return idx, nil
}

// Text joins the glyphs of a label sequence.
func (s *OutputClassSet) Text(labels []int) (string, error) {
	var b strings.Builder
	for _, l := range labels {
		name, err := s.GetName(l)
		if err != nil {
			return "", err
		}
		b.WriteString(name)
	}
	return b.String(), nil
}

// Indices maps every character of text to its class index.
func (s *OutputClassSet) Indices(text string) ([]int, error) {
	out := make([]int, 0, len(text))
	for _, r := range text {
		idx, err := s.GetIndex(string(r))
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, nil
}
