package multibox

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nvr-ai/go-multibox/images"
)

// matchEpsilon is the IoU below which the best-match pass stops.
const matchEpsilon = 1e-6

// Unassigned marks a default box that is matched to no ground truth box.
const Unassigned = -1

// GroundTruth holds the annotated glyphs of one image: corner-form boxes and
// their zero-based class labels.
type GroundTruth struct {
	Boxes  []images.Rect `json:"boxes" yaml:"boxes"`
	Labels []int         `json:"labels" yaml:"labels"`
}

// EncodedTarget holds the training targets of one image, parallel to the
// default box lattice. Labels are 0 for background and class+1 otherwise.
type EncodedTarget struct {
	Offsets [][4]float32
	Labels  []int32
}

// NumPositive returns the number of non-background labels.
func (t EncodedTarget) NumPositive() int {
	n := 0
	for _, l := range t.Labels {
		if l > 0 {
			n++
		}
	}
	return n
}

// Encoder assigns ground truth to default boxes and produces regression and
// classification targets.
type Encoder struct {
	boxes     *DefaultBoxes
	threshold float64
}

// NewEncoder returns an encoder over boxes. threshold is the minimum IoU for
// the threshold pass and must be in (0, 1].
func NewEncoder(boxes *DefaultBoxes, threshold float64) (*Encoder, error) {
	if boxes == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil default boxes")
	}
	if !(threshold > 0 && threshold <= 1) {
		return nil, errors.Wrapf(ErrInvalidConfig, "match threshold %g outside (0, 1]", threshold)
	}
	return &Encoder{boxes: boxes, threshold: threshold}, nil
}

// Boxes returns the lattice the encoder works on.
func (e *Encoder) Boxes() *DefaultBoxes { return e.boxes }

// IoU returns the (default boxes x ground truth) IoU matrix, or nil when
// truth is empty.
func (e *Encoder) IoU(truth []images.Rect) *mat.Dense {
	if len(truth) == 0 {
		return nil
	}
	iou := mat.NewDense(e.boxes.Len(), len(truth), nil)
	raw := iou.RawMatrix()
	for i := 0; i < e.boxes.Len(); i++ {
		d := e.boxes.Rect(i)
		row := raw.Data[i*raw.Stride : i*raw.Stride+len(truth)]
		for j, g := range truth {
			row[j] = images.CalculateIoU(d, g)
		}
	}
	return iou
}

// Match assigns every default box either Unassigned or the index of a
// ground truth box.
//
// The best-match pass repeatedly takes the pair with the largest remaining
// IoU, assigns it and removes its row and column, until no IoU of at least
// 1e-6 remains. Ties go to the first pair in row-major order. Every box still
// unassigned afterwards is assigned to its highest IoU ground truth (lowest
// index on ties) if that IoU reaches the match threshold.
//
// Arguments:
//   - truth: The ground truth boxes in corner form.
//
// Returns:
//   - []int: One entry per default box.
func (e *Encoder) Match(truth []images.Rect) []int {
	index := make([]int, e.boxes.Len())
	for i := range index {
		index[i] = Unassigned
	}
	if len(truth) == 0 {
		return index
	}

	iou := e.IoU(truth)
	work := mat.DenseCopyOf(iou)
	bestMatch(work, index)

	raw := iou.RawMatrix()
	for i := range index {
		if index[i] != Unassigned {
			continue
		}
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		best, bestJ := row[0], 0
		for j := 1; j < len(row); j++ {
			if row[j] > best {
				best, bestJ = row[j], j
			}
		}
		if best >= e.threshold {
			index[i] = bestJ
		}
	}
	return index
}

// bestMatch runs the greedy one-to-one pass over work, zeroing each matched
// row and column. It stops after at most min(rows, cols) assignments.
func bestMatch(work *mat.Dense, index []int) {
	raw := work.RawMatrix()
	rows, cols := raw.Rows, raw.Cols
	for n := 0; n < rows && n < cols; n++ {
		best, bi, bj := math.Inf(-1), -1, -1
		for i := 0; i < rows; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+cols]
			for j, v := range row {
				if v > best {
					best, bi, bj = v, i, j
				}
			}
		}
		if bi < 0 || best < matchEpsilon {
			return
		}
		index[bi] = bj
		for j := 0; j < cols; j++ {
			work.Set(bi, j, 0)
		}
		for i := 0; i < rows; i++ {
			work.Set(i, bj, 0)
		}
	}
}

// Encode produces the training targets of one image.
//
// Arguments:
//   - gt: The ground truth. Empty ground truth is valid and yields an
//     all-background target.
//
// Returns:
//   - EncodedTarget: Offsets and labels, one per default box.
//   - error: An error wrapping ErrShapeMismatch if boxes and labels differ
//     in length, or an error for a negative label.
func (e *Encoder) Encode(gt GroundTruth) (EncodedTarget, error) {
	n := e.boxes.Len()
	target := EncodedTarget{
		Offsets: make([][4]float32, n),
		Labels:  make([]int32, n),
	}
	if len(gt.Boxes) != len(gt.Labels) {
		return target, errors.Wrapf(ErrShapeMismatch, "%d ground truth boxes but %d labels", len(gt.Boxes), len(gt.Labels))
	}
	for j, l := range gt.Labels {
		if l < 0 {
			return target, errors.Errorf("negative label %d for ground truth %d", l, j)
		}
	}
	if len(gt.Boxes) == 0 {
		return target, nil
	}

	truth := make([]images.Box, len(gt.Boxes))
	for j, r := range gt.Boxes {
		truth[j] = r.Box()
	}

	v := e.boxes.Variance()
	for i, j := range e.Match(gt.Boxes) {
		if j == Unassigned {
			continue
		}
		target.Offsets[i] = encodeOffset(e.boxes.At(i), truth[j], v)
		target.Labels[i] = int32(gt.Labels[j] + 1)
	}
	return target, nil
}

// EncodeBatch encodes independent samples concurrently. The result is in the
// order of gts.
func (e *Encoder) EncodeBatch(gts []GroundTruth) ([]EncodedTarget, error) {
	targets := make([]EncodedTarget, len(gts))
	errs := make([]error, len(gts))
	images.Parallel(len(gts), func(start, end int) {
		for i := start; i < end; i++ {
			targets[i], errs[i] = e.Encode(gts[i])
		}
	})
	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
	}
	return targets, nil
}

func encodeOffset(d, g images.Box, v [2]float64) [4]float32 {
	return [4]float32{
		float32((g.CY - d.CY) / (v[0] * d.H)),
		float32((g.CX - d.CX) / (v[0] * d.W)),
		float32(math.Log(g.H/d.H) / v[1]),
		float32(math.Log(g.W/d.W) / v[1]),
	}
}
