package dataset

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-multibox/images"
)

const testDataset = `{
  "c.gif": {"file": "c.gif", "text": "ba9zz", "bbs": [[10, 5, 34, 25], [10, 30, 34, 50], [10, 60, 34, 80], [10, 90, 34, 110], [10, 120, 34, 140]]},
  "a.gif": {"file": "a.gif", "text": "a1b2c", "bbs": [[12, 3, 36, 21], [12, 33, 36, 51], [12, 63, 36, 81], [12, 93, 36, 111], [12, 123, 36, 141]]},
  "b.gif": {"file": "b.gif", "text": "q7", "bbs": [[0, 0, 24, 20], [0, 30, 24, 50]]},
  "d.gif": {"file": "d.gif", "text": "", "bbs": null}
}`

func writeDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(testDataset), 0o644))
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeDataset(t)
	ds, err := Load(dir, DefaultMaxChars)
	require.NoError(t, err)

	// Classes come from every entry, including the short one.
	assert.Equal(t, []string{"1", "2", "7", "9", "a", "b", "c", "q", "z"}, ds.Classes.Labels())

	require.Equal(t, 2, ds.Len())
	first := ds.Samples[0]
	assert.Equal(t, "a.gif", first.File)
	assert.Equal(t, filepath.Join(dir, "a.gif"), first.Path)
	assert.Equal(t, []int{4, 0, 5, 1, 6}, first.Truth.Labels)
	assert.Equal(t, images.Rect{Y0: 12, X0: 33, Y1: 36, X1: 51}, first.Truth.Boxes[1])

	assert.Equal(t, "ba9zz", ds.Samples[1].Text)
	assert.Len(t, Truths(ds.Samples), 2)
}

func TestSplit(t *testing.T) {
	tests := []struct {
		n, train int
	}{
		{10, 9},
		{15, 14}, // 13.5 rounds up
		{14, 13}, // 12.6 rounds up
		{1, 1},
		{0, 0},
	}
	for _, tt := range tests {
		ds := &Dataset{Samples: make([]Sample, tt.n)}
		train, validation := ds.Split(DefaultTrainFraction)
		assert.Len(t, train, tt.train, "train share of %d", tt.n)
		assert.Len(t, validation, tt.n-tt.train, "validation share of %d", tt.n)
	}
}

func TestAnnotationsSaveAndRead(t *testing.T) {
	dir := writeDataset(t)
	path := filepath.Join(dir, FileName)
	a, err := ReadAnnotations(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.gif", "b.gif", "c.gif", "d.gif"}, a.Keys())
	assert.True(t, a["a.gif"].Annotated())
	assert.False(t, a["d.gif"].Annotated())

	a["e.gif"] = &Entry{File: "e.gif", Text: "xyz12", BBs: [][4]float64{{1, 2, 3, 4}}}
	require.NoError(t, a.Save(path))

	again, err := ReadAnnotations(path)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestListImageFilesAndInputs(t *testing.T) {
	dir := t.TempDir()
	img := image.NewGray(image.Rect(0, 0, 175, 60))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for _, name := range []string{"b.png", "a.png"} {
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	files, err := ListImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.png", files[0].Name)
	assert.Equal(t, "b.png", files[1].Name)

	samples := []Sample{{Path: files[0].Path}, {Path: files[1].Path}}
	inputs, err := LoadInputs(samples, 60, 175)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Len(t, inputs[1], 60*175)
	assert.InDelta(t, 1.0, inputs[1][0], 1e-6)

	_, err = LoadInputs([]Sample{{Path: filepath.Join(dir, "missing.png")}}, 60, 175)
	assert.Error(t, err)
}
