package images

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// PrepareInput converts an image into the single-channel planar input of the
// detection head: grayscale, resized to height x width when the source size
// differs, and scaled to [0, 1].
//
// Arguments:
//   - img: The image to prepare.
//   - height: The input height of the network.
//   - width: The input width of the network.
//   - dst: The destination buffer, at least height*width long.
//
// Returns:
//   - error: An error if the destination buffer is too small.
func PrepareInput(img image.Image, height, width int, dst []float32) error {
	if height <= 0 || width <= 0 {
		return errors.Errorf("invalid input size %dx%d", height, width)
	}
	if len(dst) < height*width {
		return errors.Errorf("destination holds %d floats, needs %d", len(dst), height*width)
	}

	var src image.Image = Grayscale(img)
	bounds := src.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		src = resize.Resize(uint(width), uint(height), src, resize.Bilinear)
		bounds = src.Bounds()
	}
	gray := Grayscale(src)

	Parallel(height, func(partStart, partEnd int) {
		for y := partStart; y < partEnd; y++ {
			row := y * width
			for x := 0; x < width; x++ {
				dst[row+x] = float32(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y) / 255.0
			}
		}
	})
	return nil
}

// LoadInput reads an image file and prepares it with PrepareInput.
func LoadInput(path string, height, width int) ([]float32, error) {
	img, err := LoadImageFile(path)
	if err != nil {
		return nil, err
	}
	decoded, err := img.Decode()
	if err != nil {
		return nil, err
	}
	dst := make([]float32, height*width)
	if err := PrepareInput(decoded, height, width, dst); err != nil {
		return nil, errors.Wrapf(err, "preparing %s", path)
	}
	return dst, nil
}
