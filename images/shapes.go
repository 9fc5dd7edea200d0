// Package images - Image processing utilities
package images

import (
	"fmt"
	"image"
)

// Rect is a bounding box in corner form.
//
// Coordinates follow the (y, x) ordering used by the annotation data: (Y0, X0)
// is the top-left corner and (Y1, X1) the bottom-right corner, both in image
// pixel space. Y1/X1 are exclusive in the same way image.Rectangle is.
type Rect struct {
	Y0, X0, Y1, X1 float64
}

// Box is a bounding box in center form: center y, center x, height, width.
type Box struct {
	CY, CX, H, W float64
}

// Rect converts a center-form box to corner form.
func (b Box) Rect() Rect {
	return Rect{
		Y0: b.CY - b.H/2,
		X0: b.CX - b.W/2,
		Y1: b.CY + b.H/2,
		X1: b.CX + b.W/2,
	}
}

// Box converts a corner-form rectangle to center form.
func (r Rect) Box() Box {
	h := r.Y1 - r.Y0
	w := r.X1 - r.X0
	return Box{
		CY: r.Y0 + h/2,
		CX: r.X0 + w/2,
		H:  h,
		W:  w,
	}
}

// Height returns Y1-Y0.
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Width returns X1-X0.
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Area returns the area of r, or 0 for an inverted rectangle.
func (r Rect) Area() float64 {
	h, w := r.Height(), r.Width()
	if h <= 0 || w <= 0 {
		return 0
	}
	return h * w
}

// ToRectangle rounds the corners to the nearest pixel and returns them as an
// image.Rectangle (note the X/Y order swap).
//
// @example
// r := Rect{Y0: 10.4, X0: 20.5, Y1: 30.6, X1: 40.2}
// rect := r.ToRectangle() // (21,10)-(40,31)
func (r Rect) ToRectangle() image.Rectangle {
	return image.Rect(roundHalfUp(r.X0), roundHalfUp(r.Y0), roundHalfUp(r.X1), roundHalfUp(r.Y1))
}

// Corners returns the rectangle as [y0, x0, y1, x1] rounded half up, which is
// the layout stored in dataset.json.
func (r Rect) Corners() [4]int {
	return [4]int{roundHalfUp(r.Y0), roundHalfUp(r.X0), roundHalfUp(r.Y1), roundHalfUp(r.X1)}
}

func (r Rect) String() string {
	return fmt.Sprintf("(y0=%.2f, x0=%.2f, y1=%.2f, x1=%.2f)", r.Y0, r.X0, r.Y1, r.X1)
}

func roundHalfUp(v float64) int {
	return int(v + 0.5)
}

// CalculateIoU returns the Intersection over Union of two rectangles, a value
// between 0.0 (no overlap) and 1.0 (identical rectangles).
//
//	IoU = Area of Intersection / Area of Union
//
// The intersection's top-left corner is the maximum of the two top-left
// corners, and its bottom-right corner the minimum of the two bottom-right
// corners. If either side of the intersection is zero or negative the
// rectangles do not overlap and 0 is returned. The union uses
// inclusion-exclusion: Area(A) + Area(B) - Area(A ∩ B).
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float64: The IoU score in [0, 1]. Degenerate inputs (zero union) yield 0.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{Y0: 0, X0: 0, Y1: 10, X1: 10}
//	rect2 := Rect{Y0: 5, X0: 5, Y1: 15, X1: 15}
//	iou := CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float64 {
	iy0 := max(r.Y0, o.Y0)
	ix0 := max(r.X0, o.X0)
	iy1 := min(r.Y1, o.Y1)
	ix1 := min(r.X1, o.X1)

	interH := iy1 - iy0
	interW := ix1 - ix0
	if interH <= 0 || interW <= 0 {
		return 0.0
	}
	interArea := interH * interW

	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}
