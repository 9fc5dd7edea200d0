// Package dataset - Annotated captcha datasets: dataset.json records, class
// derivation, ground truth and the train/validation split.
package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-multibox/images"
	"github.com/nvr-ai/go-multibox/models"
	"github.com/nvr-ai/go-multibox/models/multibox"
)

// FileName is the annotation file inside a dataset directory.
const FileName = "dataset.json"

// DefaultMaxChars is the number of glyphs in every captcha.
const DefaultMaxChars = 5

// DefaultTrainFraction is the share of samples used for training.
const DefaultTrainFraction = 0.9

// Entry is one record of dataset.json. Boxes are corner form [y0, x0, y1, x1]
// in pixels, one per character of Text.
type Entry struct {
	File  string       `json:"file"`
	Text  string       `json:"text"`
	BBs   [][4]float64 `json:"bbs"`
	Score []float32    `json:"score,omitempty"`
}

// Annotated reports whether the entry carries a non-empty text.
func (e *Entry) Annotated() bool {
	return e != nil && e.Text != ""
}

// Annotations is the content of dataset.json, keyed by file name.
type Annotations map[string]*Entry

// ReadAnnotations reads a dataset.json file.
func ReadAnnotations(path string) (Annotations, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	a := Annotations{}
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return a, nil
}

// Save writes the annotations as indented JSON with sorted keys.
func (a Annotations) Save(path string) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding annotations")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// Keys returns the file names in sorted order.
func (a Annotations) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sample is one usable record: the image path, its text and the ground truth
// derived from them.
type Sample struct {
	File  string
	Path  string
	Text  string
	Truth multibox.GroundTruth
}

// Dataset is the set of usable samples of a dataset directory.
type Dataset struct {
	Dir     string
	Samples []Sample
	Classes *models.OutputClassSet
}

// Load reads dataset.json from dir. Classes are the sorted distinct
// characters of every entry's text. Only entries whose text and boxes both
// have maxChars items become samples, in file name order.
//
// Arguments:
//   - dir: The dataset directory.
//   - maxChars: The required number of glyphs per entry.
//
// Returns:
//   - *Dataset: The samples and their class set.
//   - error: An error if dataset.json cannot be read.
func Load(dir string, maxChars int) (*Dataset, error) {
	annotations, err := ReadAnnotations(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}

	keys := annotations.Keys()
	texts := make([]string, 0, len(keys))
	for _, k := range keys {
		if e := annotations[k]; e != nil {
			texts = append(texts, e.Text)
		}
	}
	classes := models.ClassSetFromTexts(texts)

	ds := &Dataset{Dir: dir, Classes: classes}
	for _, k := range keys {
		e := annotations[k]
		if e == nil || len(e.BBs) != maxChars || utf8.RuneCountInString(e.Text) != maxChars {
			continue
		}
		labels, err := classes.Indices(e.Text)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %s", k)
		}
		boxes := make([]images.Rect, len(e.BBs))
		for i, bb := range e.BBs {
			boxes[i] = images.Rect{Y0: bb[0], X0: bb[1], Y1: bb[2], X1: bb[3]}
		}
		file := e.File
		if file == "" {
			file = k
		}
		ds.Samples = append(ds.Samples, Sample{
			File:  file,
			Path:  filepath.Join(dir, file),
			Text:  e.Text,
			Truth: multibox.GroundTruth{Boxes: boxes, Labels: labels},
		})
	}
	return ds, nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Samples) }

// Split divides the samples into a training share of int(n*fraction+0.5)
// and the remaining validation samples.
func (d *Dataset) Split(fraction float64) (train, validation []Sample) {
	n := len(d.Samples)
	cut := int(float64(n)*fraction + 0.5)
	if cut < 0 {
		cut = 0
	}
	if cut > n {
		cut = n
	}
	return d.Samples[:cut], d.Samples[cut:]
}

// LoadInputs decodes and prepares the image of every sample concurrently.
func LoadInputs(samples []Sample, height, width int) ([][]float32, error) {
	inputs := make([][]float32, len(samples))
	errs := make([]error, len(samples))
	images.Parallel(len(samples), func(start, end int) {
		for i := start; i < end; i++ {
			inputs[i], errs[i] = images.LoadInput(samples[i].Path, height, width)
		}
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return inputs, nil
}

// Truths returns the ground truth of every sample.
func Truths(samples []Sample) []multibox.GroundTruth {
	out := make([]multibox.GroundTruth, len(samples))
	for i, s := range samples {
		out[i] = s.Truth
	}
	return out
}
