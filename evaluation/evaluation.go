// Package evaluation - Sequence accuracy of a detector over an annotated
// validation set.
package evaluation

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-multibox/dataset"
	"github.com/nvr-ai/go-multibox/images"
	"github.com/nvr-ai/go-multibox/models/multibox"
	"github.com/nvr-ai/go-multibox/models/postprocess"
)

// Detector produces decoded detections for a prepared input.
type Detector interface {
	Detect(input []float32) ([]postprocess.Result, error)
}

// PredictFunc returns the detections of one sample.
type PredictFunc func(sample dataset.Sample) ([]postprocess.Result, error)

// Mistake records a sample whose reading differs from its annotation.
type Mistake struct {
	File string
	Want []int
	Got  []int
}

func (m Mistake) String() string {
	return fmt.Sprintf("%s: want %v, got %v", m.File, m.Want, m.Got)
}

// Report is the outcome of an evaluation run.
type Report struct {
	Total    int
	Correct  int
	Mistakes []Mistake
}

// Accuracy is the share of samples read correctly, 0 for an empty run.
func (r *Report) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Reading returns the labels of the len(truth) best scoring detections,
// left to right, and whether they equal truth. With fewer detections than
// glyphs the reading is never correct.
//
// @example
// labels, ok := Reading(sample.Truth.Labels, detections)
func Reading(truth []int, detections []postprocess.Result) ([]int, bool) {
	if len(detections) < len(truth) {
		return postprocess.Classes(detections), false
	}
	kept := postprocess.TopK(detections, len(truth))
	multibox.SortLeftToRight(kept)
	labels := postprocess.Classes(kept)
	for i := range truth {
		if labels[i] != truth[i] {
			return labels, false
		}
	}
	return labels, true
}

// Evaluate runs predict on every sample and compares the readings with the
// ground truth labels.
//
// Arguments:
//   - samples: The validation samples.
//   - predict: Returns the decoded detections of a sample.
//
// Returns:
//   - *Report: Counts and the misread samples.
//   - error: The first prediction error.
func Evaluate(samples []dataset.Sample, predict PredictFunc) (*Report, error) {
	r := &Report{}
	for _, s := range samples {
		detections, err := predict(s)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluating %s", s.File)
		}
		r.Total++
		got, ok := Reading(s.Truth.Labels, detections)
		if ok {
			r.Correct++
			continue
		}
		r.Mistakes = append(r.Mistakes, Mistake{File: s.File, Want: s.Truth.Labels, Got: got})
	}
	return r, nil
}

// FromDetector adapts a Detector: every sample image is loaded and prepared
// at height x width before detection.
func FromDetector(d Detector, height, width int) PredictFunc {
	return func(s dataset.Sample) ([]postprocess.Result, error) {
		input, err := images.LoadInput(s.Path, height, width)
		if err != nil {
			return nil, err
		}
		return d.Detect(input)
	}
}
