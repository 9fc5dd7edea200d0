package multibox

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDecoder(t *testing.T, cfg Config) *Decoder {
	t.Helper()
	boxes, err := NewDefaultBoxes(cfg)
	require.NoError(t, err)
	dec, err := NewDecoder(boxes, cfg)
	require.NoError(t, err)
	return dec
}

// backgroundLogits returns logits where every anchor is confidently background.
func backgroundLogits(n, k int) []float32 {
	conf := make([]float32, n*k)
	for i := 0; i < n; i++ {
		conf[i*k] = 10
	}
	return conf
}

func TestSoftmax(t *testing.T) {
	tests := []struct {
		name   string
		logits []float32
	}{
		{"uniform", []float32{0, 0, 0, 0}},
		{"mixed", []float32{-3, 0.5, 2, 7}},
		{"overflowing", []float32{1000, 1000, 0}},
		{"very negative", []float32{-1000, -999, 0}},
		{"huge magnitudes", []float32{1e30, -1e30, 0}},
		{"all at the float32 floor", []float32{-math.MaxFloat32, -math.MaxFloat32}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probs := make([]float32, len(tt.logits))
			Softmax(probs, tt.logits)
			var sum float32
			for _, p := range probs {
				assert.False(t, math.IsNaN(float64(p)))
				assert.GreaterOrEqual(t, p, float32(0))
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-5)
		})
	}

	probs := make([]float32, 3)
	Softmax(probs, []float32{1000, 88.72, 0})
	assert.InDelta(t, probs[0], probs[1], 1e-7, "logits above the cap equal the cap")
}

func TestDecodeExtremeLogits(t *testing.T) {
	cfg := smallConfig()
	dec := newDecoder(t, cfg)
	k := cfg.NClass + 1

	conf := backgroundLogits(4, k)
	conf[2*k], conf[2*k+1], conf[2*k+2] = -1e30, 1e30, -1e30

	detections, err := dec.Decode(make([]float32, 4*4), conf)
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, 0, detections[0].Class)
	assert.False(t, math.IsNaN(float64(detections[0].Score)))
	assert.InDelta(t, 1.0, detections[0].Score, 1e-6)
}

func TestDecodeEmpty(t *testing.T) {
	cfg := smallConfig()
	dec := newDecoder(t, cfg)

	detections, err := dec.Decode(make([]float32, 4*4), backgroundLogits(4, 3))
	require.NoError(t, err)
	assert.Empty(t, detections)
}

func TestDecodeLeftToRight(t *testing.T) {
	cfg := smallConfig()
	dec := newDecoder(t, cfg)
	k := cfg.NClass + 1

	conf := backgroundLogits(4, k)
	// Anchor 3 (right column) is class 0, anchor 0 (left column) class 1.
	conf[3*k], conf[3*k+1] = 0, 10
	conf[0*k], conf[0*k+2] = 0, 9

	detections, err := dec.Decode(make([]float32, 4*4), conf)
	require.NoError(t, err)
	require.Len(t, detections, 2)

	assert.Equal(t, 1, detections[0].Class)
	assert.Equal(t, dec.boxes.Rect(0), detections[0].Box)
	assert.Equal(t, 0, detections[1].Class)
	assert.Equal(t, dec.boxes.Rect(3), detections[1].Box)
	assert.Greater(t, detections[1].Score, float32(0.99))

	again, err := dec.Decode(make([]float32, 4*4), conf)
	require.NoError(t, err)
	assert.Equal(t, detections, again, "decoding is deterministic")
}

func TestDecodeSuppression(t *testing.T) {
	cfg := smallConfig()
	cfg.AspectRatios = [][]float64{{2}}
	dec := newDecoder(t, cfg)
	n, k := dec.boxes.Len(), cfg.NClass+1
	require.Equal(t, 12, n)

	t.Run("within class", func(t *testing.T) {
		conf := backgroundLogits(n, k)
		// Square and wide box at the first grid point, IoU about 0.55.
		conf[0*k], conf[0*k+1] = 0, 6
		conf[1*k], conf[1*k+1] = 0, 5

		detections, err := dec.Decode(make([]float32, n*4), conf)
		require.NoError(t, err)
		require.Len(t, detections, 1)
		assert.Equal(t, dec.boxes.Rect(0), detections[0].Box)
	})

	t.Run("across classes", func(t *testing.T) {
		conf := backgroundLogits(n, k)
		conf[0*k], conf[0*k+1] = 0, 6
		conf[1*k], conf[1*k+2] = 0, 5

		detections, err := dec.Decode(make([]float32, n*4), conf)
		require.NoError(t, err)
		require.Len(t, detections, 1)
		assert.Equal(t, 0, detections[0].Class)
	})

	t.Run("low scores dropped", func(t *testing.T) {
		conf := make([]float32, n*k)
		for i := 0; i < n; i++ {
			conf[i*k] = 5
		}
		detections, err := dec.Decode(make([]float32, n*4), conf)
		require.NoError(t, err)
		assert.Empty(t, detections)
	})
}

func TestDecodeOffsets(t *testing.T) {
	cfg := smallConfig()
	dec := newDecoder(t, cfg)

	loc := make([]float32, 16)
	// Move box 1 down by half its height and double its width.
	loc[4], loc[7] = 5, float32(math.Log(2)/0.1)
	rects, err := dec.DecodeBoxes(loc)
	require.NoError(t, err)

	assert.InDelta(t, 12.0, rects[1].Y0, 1e-4)
	assert.InDelta(t, 36.0, rects[1].Y1, 1e-4)
	assert.InDelta(t, 139.0, rects[1].X0, 1e-4)
	assert.InDelta(t, 187.0, rects[1].X1, 1e-4)
}

func TestDecodeShapeMismatch(t *testing.T) {
	cfg := smallConfig()
	dec := newDecoder(t, cfg)

	_, err := dec.Decode(make([]float32, 15), backgroundLogits(4, 3))
	assert.Equal(t, ErrShapeMismatch, errors.Cause(err))

	_, err = dec.Decode(make([]float32, 16), backgroundLogits(4, 2))
	assert.Equal(t, ErrShapeMismatch, errors.Cause(err))

	boxes, err := NewDefaultBoxes(cfg)
	require.NoError(t, err)
	cfg.NClass = 0
	_, err = NewDecoder(boxes, cfg)
	assert.Equal(t, ErrInvalidConfig, errors.Cause(err))
}
