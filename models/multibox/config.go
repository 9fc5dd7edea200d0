// Package multibox - implements the anchor-based detection codec: the default
// box lattice, the ground truth encoder used for training targets and the
// decoder that turns raw head output into left-to-right glyph detections.
package multibox

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig is returned for a malformed codec configuration.
	ErrInvalidConfig = errors.New("invalid multibox configuration")
	// ErrShapeMismatch is returned when offsets, scores or targets disagree
	// in length with the default box lattice.
	ErrShapeMismatch = errors.New("multibox shape mismatch")
)

// Grid is the (rows, cols) shape of one lattice tier.
type Grid [2]int

// Rows returns the number of grid rows.
func (g Grid) Rows() int { return g[0] }

// Cols returns the number of grid columns.
func (g Grid) Cols() int { return g[1] }

// Config describes the codec: the image it operates on, the default box
// lattice and the thresholds used at encode and decode time.
type Config struct {
	// ImageHeight is the input height in pixels.
	ImageHeight int `json:"image_height" yaml:"image_height"`
	// ImageWidth is the input width in pixels.
	ImageWidth int `json:"image_width" yaml:"image_width"`
	// BoxSize is the side of the square default box.
	BoxSize float64 `json:"box_size" yaml:"box_size"`
	// Grids holds one (rows, cols) entry per tier.
	Grids []Grid `json:"grids" yaml:"grids,flow"`
	// AspectRatios holds the aspect ratios of each tier. It is either empty
	// (no ratios for any tier) or has one list per grid.
	AspectRatios [][]float64 `json:"aspect_ratios" yaml:"aspect_ratios,flow"`
	// Variance rescales the center and size regression targets.
	Variance [2]float64 `json:"variance" yaml:"variance,flow"`
	// NClass is the number of glyph classes, background excluded.
	NClass int `json:"n_class" yaml:"n_class"`
	// MatchThreshold is the IoU a default box needs to be assigned to a
	// ground truth box in the threshold pass of encoding.
	MatchThreshold float64 `json:"match_threshold" yaml:"match_threshold"`
	// NMSThreshold is the IoU above which decoding suppresses a detection.
	NMSThreshold float64 `json:"nms_threshold" yaml:"nms_threshold"`
	// ScoreThreshold is the minimum class probability of a detection.
	ScoreThreshold float64 `json:"score_threshold" yaml:"score_threshold"`
}

// DefaultConfig returns the configuration for 60x175 captcha images: one
// 6x20 tier with aspect ratios 1.5 and 2.
func DefaultConfig() Config {
	return Config{
		ImageHeight:    60,
		ImageWidth:     175,
		BoxSize:        24,
		Grids:          []Grid{{6, 20}},
		AspectRatios:   [][]float64{{1.5, 2}},
		Variance:       [2]float64{0.1, 0.1},
		MatchThreshold: 0.5,
		NMSThreshold:   0.45,
		ScoreThreshold: 0.1,
	}
}

// TierAspectRatios returns the aspect ratios of tier k.
func (c Config) TierAspectRatios(k int) []float64 {
	if len(c.AspectRatios) == 0 {
		return nil
	}
	return c.AspectRatios[k]
}

// BoxesPerPoint returns the number of default boxes at each grid point of
// tier k: one square box and two per aspect ratio.
func (c Config) BoxesPerPoint(k int) int {
	return 1 + 2*len(c.TierAspectRatios(k))
}

// NumBoxes returns the lattice length, the sum over tiers of
// rows*cols*(1+2*len(aspect ratios)).
func (c Config) NumBoxes() int {
	n := 0
	for k, g := range c.Grids {
		n += g.Rows() * g.Cols() * c.BoxesPerPoint(k)
	}
	return n
}

// Validate reports the first problem found with the configuration. The
// returned error wraps ErrInvalidConfig.
func (c Config) Validate() error {
	if c.ImageHeight <= 0 || c.ImageWidth <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "image size %dx%d", c.ImageHeight, c.ImageWidth)
	}
	if c.BoxSize <= 0 || c.BoxSize > float64(c.ImageHeight) || c.BoxSize > float64(c.ImageWidth) {
		return errors.Wrapf(ErrInvalidConfig, "box size %g for a %dx%d image", c.BoxSize, c.ImageHeight, c.ImageWidth)
	}
	if len(c.Grids) == 0 {
		return errors.Wrap(ErrInvalidConfig, "no grids")
	}
	for k, g := range c.Grids {
		if g.Rows() < 2 || g.Cols() < 2 {
			return errors.Wrapf(ErrInvalidConfig, "grid %d is %dx%d, rows and cols must be at least 2", k, g.Rows(), g.Cols())
		}
	}
	if len(c.AspectRatios) != 0 && len(c.AspectRatios) != len(c.Grids) {
		return errors.Wrapf(ErrInvalidConfig, "%d aspect ratio lists for %d grids", len(c.AspectRatios), len(c.Grids))
	}
	for k, ratios := range c.AspectRatios {
		for _, ar := range ratios {
			if !(ar > 0) {
				return errors.Wrapf(ErrInvalidConfig, "aspect ratio %g in tier %d", ar, k)
			}
		}
	}
	if !(c.Variance[0] > 0) || !(c.Variance[1] > 0) {
		return errors.Wrapf(ErrInvalidConfig, "variance %v", c.Variance)
	}
	if c.NClass < 0 {
		return errors.Wrapf(ErrInvalidConfig, "n_class %d", c.NClass)
	}
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"match_threshold", c.MatchThreshold},
		{"nms_threshold", c.NMSThreshold},
		{"score_threshold", c.ScoreThreshold},
	} {
		if !(th.value > 0 && th.value <= 1) {
			return errors.Wrapf(ErrInvalidConfig, "%s %g outside (0, 1]", th.name, th.value)
		}
	}
	return nil
}
