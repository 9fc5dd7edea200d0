package multibox

import (
	"math"
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-multibox/images"
	"github.com/nvr-ai/go-multibox/models/postprocess"
)

// MaxLogit is the value logits are clamped to before exponentiation so that
// exp stays finite in float32.
const MaxLogit float32 = 88.72

// Decoder turns raw per-anchor head output into detections.
type Decoder struct {
	boxes          *DefaultBoxes
	nClass         int
	nmsThreshold   float64
	scoreThreshold float64
}

// NewDecoder returns a decoder over boxes using the class count and
// thresholds of cfg.
func NewDecoder(boxes *DefaultBoxes, cfg Config) (*Decoder, error) {
	if boxes == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil default boxes")
	}
	if cfg.NClass < 1 {
		return nil, errors.Wrapf(ErrInvalidConfig, "n_class %d, need at least one class", cfg.NClass)
	}
	if !(cfg.NMSThreshold > 0 && cfg.NMSThreshold <= 1) {
		return nil, errors.Wrapf(ErrInvalidConfig, "nms_threshold %g outside (0, 1]", cfg.NMSThreshold)
	}
	if !(cfg.ScoreThreshold > 0 && cfg.ScoreThreshold <= 1) {
		return nil, errors.Wrapf(ErrInvalidConfig, "score_threshold %g outside (0, 1]", cfg.ScoreThreshold)
	}
	return &Decoder{
		boxes:          boxes,
		nClass:         cfg.NClass,
		nmsThreshold:   cfg.NMSThreshold,
		scoreThreshold: cfg.ScoreThreshold,
	}, nil
}

// NumClass returns the number of glyph classes, background excluded.
func (d *Decoder) NumClass() int { return d.nClass }

// DecodeBoxes inverts the regression transform for every default box.
//
// Arguments:
//   - loc: Offsets (dy, dx, dh, dw) per default box, 4*Len() values.
//
// Returns:
//   - []images.Rect: The decoded boxes in corner form.
//   - error: An error wrapping ErrShapeMismatch for a wrong length.
func (d *Decoder) DecodeBoxes(loc []float32) ([]images.Rect, error) {
	return decodeBoxes(d.boxes, loc)
}

func decodeBoxes(boxes *DefaultBoxes, loc []float32) ([]images.Rect, error) {
	n := boxes.Len()
	if len(loc) != n*4 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d offsets for %d default boxes", len(loc), n)
	}
	v := boxes.Variance()
	out := make([]images.Rect, n)
	for i := 0; i < n; i++ {
		db := boxes.At(i)
		o := loc[i*4 : i*4+4]
		out[i] = images.Box{
			CY: db.CY + float64(o[0])*v[0]*db.H,
			CX: db.CX + float64(o[1])*v[0]*db.W,
			H:  db.H * math.Exp(float64(o[2])*v[1]),
			W:  db.W * math.Exp(float64(o[3])*v[1]),
		}.Rect()
	}
	return out, nil
}

// Softmax writes the class probabilities of one anchor into dst. Logits are
// clamped to MaxLogit, then the largest clamped logit is subtracted before
// exponentiation.
func Softmax(dst, logits []float32) {
	maxv := float32(-math32.MaxFloat32)
	for i, x := range logits {
		if x > MaxLogit {
			x = MaxLogit
		}
		dst[i] = x
		if x > maxv {
			maxv = x
		}
	}
	var sum float32
	for i, x := range dst[:len(logits)] {
		e := math32.Exp(x - maxv)
		dst[i] = e
		sum += e
	}
	for i := range dst[:len(logits)] {
		dst[i] /= sum
	}
}

// Decode converts raw head output into detections.
//
// Boxes are decoded and logits turned into probabilities. For each class,
// anchors scoring at least the score threshold are suppressed within the
// class, then the survivors of all classes are suppressed together. The
// result is ordered left to right by X0.
//
// Arguments:
//   - loc: Offsets, 4 per default box.
//   - conf: Logits, NumClass()+1 per default box with background first.
//
// Returns:
//   - []postprocess.Result: The detections, possibly empty. Class is zero-based.
//   - error: An error wrapping ErrShapeMismatch for wrong input lengths.
func (d *Decoder) Decode(loc, conf []float32) ([]postprocess.Result, error) {
	n := d.boxes.Len()
	k := d.nClass + 1
	if len(conf) != n*k {
		return nil, errors.Wrapf(ErrShapeMismatch, "%d scores for %d default boxes and %d classes", len(conf), n, k)
	}
	rects, err := decodeBoxes(d.boxes, loc)
	if err != nil {
		return nil, err
	}

	probs := make([]float32, n*k)
	for i := 0; i < n; i++ {
		Softmax(probs[i*k:(i+1)*k], conf[i*k:(i+1)*k])
	}

	var pooled []postprocess.Result
	var (
		candidates []images.Rect
		scores     []float32
		anchors    []int
	)
	for c := 1; c < k; c++ {
		candidates, scores, anchors = candidates[:0], scores[:0], anchors[:0]
		for i := 0; i < n; i++ {
			s := probs[i*k+c]
			if float64(s) >= d.scoreThreshold {
				candidates = append(candidates, rects[i])
				scores = append(scores, s)
				anchors = append(anchors, i)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		keep, err := postprocess.SuppressIndices(candidates, scores, d.nmsThreshold)
		if err != nil {
			return nil, err
		}
		for _, j := range keep {
			pooled = append(pooled, postprocess.Result{
				Box:   rects[anchors[j]],
				Score: scores[j],
				Class: c - 1,
			})
		}
	}

	detections := postprocess.ApplyGreedyNMS(pooled, &postprocess.NMSConfig{IoUThreshold: d.nmsThreshold})
	SortLeftToRight(detections)
	return detections, nil
}

// SortLeftToRight orders detections by ascending X0, keeping the current
// order between equal coordinates.
func SortLeftToRight(detections []postprocess.Result) {
	sort.SliceStable(detections, func(a, b int) bool {
		return detections[a].Box.X0 < detections[b].Box.X0
	})
}
