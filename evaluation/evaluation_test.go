package evaluation

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-multibox/dataset"
	"github.com/nvr-ai/go-multibox/images"
	"github.com/nvr-ai/go-multibox/models/multibox"
	"github.com/nvr-ai/go-multibox/models/postprocess"
)

func det(x0 float64, class int, score float32) postprocess.Result {
	return postprocess.Result{
		Box:   images.Rect{Y0: 0, X0: x0, Y1: 24, X1: x0 + 20},
		Score: score,
		Class: class,
	}
}

func TestReading(t *testing.T) {
	truth := []int{3, 1, 2}
	tests := []struct {
		name       string
		detections []postprocess.Result
		want       []int
		ok         bool
	}{
		{
			name:       "exact",
			detections: []postprocess.Result{det(0, 3, 0.9), det(30, 1, 0.9), det(60, 2, 0.9)},
			want:       []int{3, 1, 2},
			ok:         true,
		},
		{
			name:       "ordered by x",
			detections: []postprocess.Result{det(60, 2, 0.9), det(0, 3, 0.8), det(30, 1, 0.7)},
			want:       []int{3, 1, 2},
			ok:         true,
		},
		{
			name:       "extra low score glyph dropped",
			detections: []postprocess.Result{det(0, 3, 0.9), det(15, 0, 0.2), det(30, 1, 0.9), det(60, 2, 0.9)},
			want:       []int{3, 1, 2},
			ok:         true,
		},
		{
			name:       "too few",
			detections: []postprocess.Result{det(0, 3, 0.9), det(30, 1, 0.9)},
			want:       []int{3, 1},
			ok:         false,
		},
		{
			name:       "wrong glyph",
			detections: []postprocess.Result{det(0, 3, 0.9), det(30, 0, 0.9), det(60, 2, 0.9)},
			want:       []int{3, 0, 2},
			ok:         false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Reading(truth, tt.detections)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate(t *testing.T) {
	samples := []dataset.Sample{
		{File: "a.gif", Truth: multibox.GroundTruth{Labels: []int{0, 1}}},
		{File: "b.gif", Truth: multibox.GroundTruth{Labels: []int{1, 1}}},
		{File: "c.gif", Truth: multibox.GroundTruth{Labels: []int{2, 0}}},
		{File: "d.gif", Truth: multibox.GroundTruth{Labels: []int{2, 2}}},
	}
	readings := map[string][]postprocess.Result{
		"a.gif": {det(0, 0, 0.9), det(30, 1, 0.9)},
		"b.gif": {det(0, 1, 0.9), det(30, 1, 0.9)},
		"c.gif": {det(0, 0, 0.9), det(30, 2, 0.9)},
		"d.gif": {det(0, 2, 0.9)},
	}
	report, err := Evaluate(samples, func(s dataset.Sample) ([]postprocess.Result, error) {
		return readings[s.File], nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Correct)
	assert.InDelta(t, 0.5, report.Accuracy(), 1e-12)
	require.Len(t, report.Mistakes, 2)
	assert.Equal(t, "c.gif: want [2 0], got [0 2]", report.Mistakes[0].String())
	assert.Equal(t, "d.gif", report.Mistakes[1].File)
}

func TestEvaluateEmptyAndErrors(t *testing.T) {
	report, err := Evaluate(nil, nil)
	require.NoError(t, err)
	assert.Zero(t, report.Accuracy())

	_, err = Evaluate([]dataset.Sample{{File: "x.gif"}}, func(dataset.Sample) ([]postprocess.Result, error) {
		return nil, errors.New("boom")
	})
	assert.EqualError(t, err, "evaluating x.gif: boom")
}

type recordingDetector struct {
	inputs [][]float32
}

func (r *recordingDetector) Detect(input []float32) ([]postprocess.Result, error) {
	r.inputs = append(r.inputs, input)
	return []postprocess.Result{det(0, 0, 0.9)}, nil
}

func TestFromDetector(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 40, 20))))
	require.NoError(t, f.Close())

	d := &recordingDetector{}
	report, err := Evaluate([]dataset.Sample{
		{File: "a.png", Path: path, Truth: multibox.GroundTruth{Labels: []int{0}}},
	}, FromDetector(d, 10, 20))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Correct)
	require.Len(t, d.inputs, 1)
	assert.Len(t, d.inputs[0], 200)
}
