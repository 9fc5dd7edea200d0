// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"fmt"
	"sort"

	"github.com/nvr-ai/go-multibox/images"
)

// Result represents a single detection result.
type Result struct {
	// The bounding box of the result, in corner form and image pixel space.
	Box images.Rect `json:"box" yaml:"box"`
	// The confidence score of the result.
	Score float32 `json:"score" yaml:"score"`
	// The predicted zero-based class index of the result.
	Class int `json:"class" yaml:"class"`
}

func (r Result) String() string {
	return fmt.Sprintf("class=%d score=%.3f box=%v", r.Class, r.Score, r.Box)
}

// Boxes returns the boxes of the results, in order.
func Boxes(results []Result) []images.Rect {
	out := make([]images.Rect, len(results))
	for i, r := range results {
		out[i] = r.Box
	}
	return out
}

// Scores returns the scores of the results, in order.
func Scores(results []Result) []float32 {
	out := make([]float32, len(results))
	for i, r := range results {
		out[i] = r.Score
	}
	return out
}

// Classes returns the class indices of the results, in order.
func Classes(results []Result) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.Class
	}
	return out
}

// TopK returns the k highest scoring results, best first. Equal scores keep
// their input order. The input slice is not modified.
//
// @example
// top := TopK(detections, 5)
// multibox.SortLeftToRight(top)
func TopK(results []Result, k int) []Result {
	out := make([]Result, len(results))
	copy(out, results)
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	if k < 0 {
		k = 0
	}
	if k < len(out) {
		out = out[:k]
	}
	return out
}
