// Package render - Inspection overlays of decoded glyph boxes.
package render

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-multibox/images"
)

// DefaultScale enlarges the small captcha images for viewing.
const DefaultScale = 4

// BoxColors cycle over the glyph boxes, left to right.
var BoxColors = []color.RGBA{
	{0, 0, 255, 0},
	{255, 0, 0, 0},
	{0, 255, 0, 0},
	{0, 255, 255, 0},
	{255, 255, 0, 0},
}

// TextColor is the caption color.
var TextColor = color.RGBA{255, 0, 255, 0}

// Overlay draws glyph boxes on a grayscale copy of img, enlarges it by scale
// and writes caption along the bottom edge. The caller closes the returned Mat.
//
// Arguments:
//   - img: The captcha image.
//   - boxes: Glyph boxes as [y0, x0, y1, x1] pixels of img.
//   - caption: The text drawn under the glyphs, usually "file: text".
//   - scale: The enlargement factor, DefaultScale when < 1.
//
// Returns:
//   - gocv.Mat: The BGR overlay.
//   - error: An error if the image cannot be converted.
func Overlay(img image.Image, boxes [][4]int, caption string, scale int) (gocv.Mat, error) {
	if scale < 1 {
		scale = DefaultScale
	}
	gray, err := gocv.ImageGrayToMatGray(images.Grayscale(img))
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "converting image")
	}
	defer gray.Close()

	canvas := gocv.NewMat()
	gocv.CvtColor(gray, &canvas, gocv.ColorGrayToBGR)
	for i, bb := range boxes {
		r := image.Rect(bb[1], bb[0], bb[3], bb[2])
		gocv.Rectangle(&canvas, r, BoxColors[i%len(BoxColors)], 1)
	}

	h, w := canvas.Rows(), canvas.Cols()
	out := gocv.NewMat()
	gocv.Resize(canvas, &out, image.Pt(w*scale, h*scale), 0, 0, gocv.InterpolationLinear)
	canvas.Close()

	if caption != "" {
		gocv.PutText(&out, caption, image.Pt(0, h*scale-5), gocv.FontHersheyPlain, 2.5, TextColor, 3)
	}
	return out, nil
}

// WriteOverlay renders Overlay into an image file; the format follows the
// extension of path.
func WriteOverlay(path string, img image.Image, boxes [][4]int, caption string, scale int) error {
	out, err := Overlay(img, boxes, caption, scale)
	if err != nil {
		return err
	}
	defer out.Close()
	if !gocv.IMWrite(path, out) {
		return errors.Errorf("writing %s", path)
	}
	return nil
}
