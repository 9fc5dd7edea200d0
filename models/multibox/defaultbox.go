package multibox

import (
	"math"

	"github.com/nvr-ai/go-multibox/images"
)

// DefaultBoxes is the fixed lattice of candidate boxes. Its order is the
// index space shared by regression targets, labels and head output: tier,
// then grid row-major, then the square box followed by each aspect ratio's
// pair. It is never modified after construction and can be shared between
// goroutines.
type DefaultBoxes struct {
	boxes    []images.Box
	rects    []images.Rect
	variance [2]float64
}

// NewDefaultBoxes validates cfg and builds its lattice.
//
// Arguments:
//   - cfg: The codec configuration.
//
// Returns:
//   - *DefaultBoxes: The lattice, NumBoxes() long.
//   - error: An error wrapping ErrInvalidConfig if cfg is malformed.
func NewDefaultBoxes(cfg Config) (*DefaultBoxes, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	size := cfg.BoxSize
	boxes := make([]images.Box, 0, cfg.NumBoxes())
	for k, g := range cfg.Grids {
		vstep := (float64(cfg.ImageHeight) - size) / float64(g.Rows()-1)
		hstep := (float64(cfg.ImageWidth) - size) / float64(g.Cols()-1)
		ratios := cfg.TierAspectRatios(k)

		for v := 0; v < g.Rows(); v++ {
			for u := 0; u < g.Cols(); u++ {
				cy := float64(v)*vstep + size/2
				cx := float64(u)*hstep + size/2
				boxes = append(boxes, images.Box{CY: cy, CX: cx, H: size, W: size})
				for _, ar := range ratios {
					s := math.Sqrt(ar)
					boxes = append(boxes,
						images.Box{CY: cy, CX: cx, H: size / s, W: size * s},
						images.Box{CY: cy, CX: cx, H: size * s, W: size / s},
					)
				}
			}
		}
	}

	rects := make([]images.Rect, len(boxes))
	for i, b := range boxes {
		rects[i] = b.Rect()
	}

	return &DefaultBoxes{boxes: boxes, rects: rects, variance: cfg.Variance}, nil
}

// Len returns the number of default boxes.
func (d *DefaultBoxes) Len() int { return len(d.boxes) }

// At returns default box i in center form.
func (d *DefaultBoxes) At(i int) images.Box { return d.boxes[i] }

// Rect returns default box i in corner form.
func (d *DefaultBoxes) Rect(i int) images.Rect { return d.rects[i] }

// Boxes returns a copy of the lattice in center form.
func (d *DefaultBoxes) Boxes() []images.Box {
	out := make([]images.Box, len(d.boxes))
	copy(out, d.boxes)
	return out
}

// Variance returns the regression variance pair.
func (d *DefaultBoxes) Variance() [2]float64 { return d.variance }
