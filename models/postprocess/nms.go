// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/bmharper/flatbush-go"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-multibox/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold is the overlap above which the lower scoring box is
	// suppressed. A box overlapping at exactly the threshold is kept.
	IoUThreshold float64 `json:"iou_threshold" yaml:"iou_threshold"`
	// ClassAware restricts suppression to boxes of the same class.
	ClassAware bool `json:"class_aware" yaml:"class_aware"`
}

// SuppressIndices runs greedy Non-Maximum Suppression over boxes and their
// scores.
//
// Boxes are visited by descending score; equal scores keep their input order.
// Each visited box that has not been suppressed is kept and suppresses every
// later box whose IoU with it exceeds threshold. Only boxes whose extents meet
// are compared, found through a packed R-tree over all boxes.
//
// Arguments:
//   - boxes: The candidate boxes in corner form.
//   - scores: The score of each box.
//   - threshold: The IoU above which a box is suppressed.
//
// Returns:
//   - []int: Indices into boxes of the kept boxes, by descending score.
//   - error: An error if boxes and scores differ in length.
func SuppressIndices(boxes []images.Rect, scores []float32, threshold float64) ([]int, error) {
	if len(boxes) != len(scores) {
		return nil, errors.Errorf("nms: %d boxes but %d scores", len(boxes), len(scores))
	}
	return suppress(boxes, scores, threshold, nil), nil
}

// suppress is the shared greedy loop. When sameGroup is non-nil only pairs
// it accepts can suppress each other.
func suppress(boxes []images.Rect, scores []float32, threshold float64, sameGroup func(i, j int) bool) []int {
	n := len(boxes)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	// rank[i] is the position of box i in visiting order.
	rank := make([]int, n)
	for pos, i := range order {
		rank[i] = pos
	}

	fb := flatbush.NewFlatbush[float64]()
	fb.Reserve(n)
	for _, b := range boxes {
		fb.Add(b.X0, b.Y0, b.X1, b.Y1)
	}
	fb.Finish()

	suppressed := make([]bool, n)
	keep := make([]int, 0, n)
	var nearby []int

	for _, i := range order {
		if suppressed[i] {
			continue
		}
		keep = append(keep, i)

		if threshold < 0 {
			// Every pair has IoU >= 0, so everything later is suppressed.
			for _, j := range order[rank[i]+1:] {
				if sameGroup == nil || sameGroup(i, j) {
					suppressed[j] = true
				}
			}
			continue
		}

		b := boxes[i]
		nearby = fb.SearchFast(b.X0, b.Y0, b.X1, b.Y1, nearby[:0])
		for _, j := range nearby {
			if j == i || suppressed[j] || rank[j] < rank[i] {
				continue
			}
			if sameGroup != nil && !sameGroup(i, j) {
				continue
			}
			if images.CalculateIoU(b, boxes[j]) > threshold {
				suppressed[j] = true
			}
		}
	}

	return keep
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression over
// detection results.
//
// Arguments:
//   - detections: The detections, in any order.
//   - config: NMS configuration. If ClassAware is set, only detections of the
//     same class suppress each other.
//
// Returns:
//   - The kept detections by descending score. If no detections are provided,
//     returns nil.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	if len(detections) == 0 {
		return nil
	}

	var sameGroup func(i, j int) bool
	if config.ClassAware {
		sameGroup = func(i, j int) bool {
			return detections[i].Class == detections[j].Class
		}
	}

	keep := suppress(Boxes(detections), Scores(detections), config.IoUThreshold, sameGroup)
	filtered := make([]Result, len(keep))
	for k, i := range keep {
		filtered[k] = detections[i]
	}
	return filtered
}
