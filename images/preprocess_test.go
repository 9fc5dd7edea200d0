package images

import (
	"bytes"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestGrayscale(t *testing.T) {
	tests := []struct {
		name     string
		color    color.Color
		expected uint8
	}{
		{"white", color.RGBA{255, 255, 255, 255}, 255},
		{"black", color.RGBA{0, 0, 0, 255}, 0},
		{"red", color.RGBA{255, 0, 0, 255}, 76},
		{"green", color.RGBA{0, 255, 0, 255}, 150},
		{"blue", color.RGBA{0, 0, 255, 255}, 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gray := Grayscale(getTestImage(8, 4, tt.color))
			assert.Equal(t, image.Rect(0, 0, 8, 4), gray.Bounds())
			assert.Equal(t, tt.expected, gray.GrayAt(3, 2).Y, "unexpected luma for %s", tt.name)
		})
	}
}

func TestPrepareInput(t *testing.T) {
	t.Run("same size", func(t *testing.T) {
		dst := make([]float32, 4*6)
		require.NoError(t, PrepareInput(getTestImage(6, 4, color.White), 4, 6, dst))
		for i, v := range dst {
			assert.InDelta(t, 1.0, v, 1e-6, "pixel %d", i)
		}
	})

	t.Run("resized", func(t *testing.T) {
		dst := make([]float32, 60*175)
		require.NoError(t, PrepareInput(getTestImage(350, 120, color.Black), 60, 175, dst))
		for i, v := range dst {
			assert.InDelta(t, 0.0, v, 1e-6, "pixel %d", i)
		}
	})

	t.Run("short buffer", func(t *testing.T) {
		err := PrepareInput(getTestImage(6, 4, color.White), 4, 6, make([]float32, 5))
		assert.Error(t, err)
	})
}

func TestLoadInputGIF(t *testing.T) {
	frame := image.NewPaletted(image.Rect(0, 0, 10, 5), palette.Plan9)
	for y := 0; y < 5; y++ {
		for x := 0; x < 10; x++ {
			frame.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, frame, nil))

	path := filepath.Join(t.TempDir(), "glyphs.gif")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	img, err := LoadImageFile(path)
	require.NoError(t, err)
	assert.Equal(t, FormatGIF, img.Format)
	assert.Equal(t, 10, img.Width)
	assert.Equal(t, 5, img.Height)

	input, err := LoadInput(path, 5, 10)
	require.NoError(t, err)
	require.Len(t, input, 50)
	assert.InDelta(t, 1.0, input[0], 1e-6)
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("a/B.JPG")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, f)

	_, err = FormatFromPath("a/b.bmp")
	assert.Equal(t, ErrUnsupportedFormat, errors.Cause(err))
}
