package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-multibox/dataset"
)

type fakeFileSolver struct {
	solutions map[string]*Solution
	solved    []string
}

func (f *fakeFileSolver) SolveFile(path string) (*Solution, error) {
	name := filepath.Base(path)
	f.solved = append(f.solved, name)
	sol, ok := f.solutions[name]
	if !ok {
		return nil, errors.Errorf("cannot read %s", name)
	}
	return sol, nil
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("GIF89a"), 0o644))
	}
}

func TestAnnotate(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.gif", "b.gif", "c.gif", "d.png", "readme.txt")

	existing := dataset.Annotations{
		"a.gif": {File: "a.gif", Text: "hello", BBs: [][4]float64{{1, 2, 3, 4}}},
		"d.png": {File: "d.png", Text: ""},
	}
	require.NoError(t, existing.Save(filepath.Join(dir, dataset.FileName)))

	solver := &fakeFileSolver{solutions: map[string]*Solution{
		"b.gif": {Text: "xy", Boxes: [][4]int{{0, 0, 24, 24}, {0, 30, 24, 54}}, Scores: []float32{0.9, 0.8}},
		"d.png": {Text: "z", Boxes: [][4]int{{1, 1, 25, 25}}, Scores: []float32{0.7}},
	}}
	stats, err := NewAnnotator(solver, logs.NewTestingLog(t)).Annotate(dir)
	require.NoError(t, err)

	assert.Equal(t, AnnotationStats{Images: 4, Skipped: 1, Annotated: 2, Failed: 1}, stats)
	assert.Equal(t, []string{"b.gif", "c.gif", "d.png"}, solver.solved)

	saved, err := dataset.ReadAnnotations(filepath.Join(dir, dataset.FileName))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.gif", "b.gif", "d.png"}, saved.Keys())
	assert.Equal(t, "hello", saved["a.gif"].Text, "annotated entries are kept")
	assert.Equal(t, &dataset.Entry{
		File:  "b.gif",
		Text:  "xy",
		BBs:   [][4]float64{{0, 0, 24, 24}, {0, 30, 24, 54}},
		Score: []float32{0.9, 0.8},
	}, saved["b.gif"])
	assert.Equal(t, "z", saved["d.png"].Text)
}

func TestAnnotateCreatesDataset(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.gif")
	solver := &fakeFileSolver{solutions: map[string]*Solution{
		"a.gif": {Text: "q", Boxes: [][4]int{{0, 0, 24, 24}}, Scores: []float32{0.5}},
	}}

	stats, err := NewAnnotator(solver, logs.NewTestingLog(t)).Annotate(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Annotated)

	saved, err := dataset.ReadAnnotations(filepath.Join(dir, dataset.FileName))
	require.NoError(t, err)
	assert.True(t, saved["a.gif"].Annotated())
}

func TestAnnotateBadDataset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, dataset.FileName), []byte("{"), 0o644))
	_, err := NewAnnotator(&fakeFileSolver{}, logs.NewTestingLog(t)).Annotate(dir)
	assert.Error(t, err)
}
