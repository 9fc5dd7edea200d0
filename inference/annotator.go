package inference

import (
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-multibox/dataset"
)

// FileSolver reads one image file.
type FileSolver interface {
	SolveFile(path string) (*Solution, error)
}

// AnnotationStats summarizes an annotation run.
type AnnotationStats struct {
	Images    int
	Skipped   int
	Annotated int
	Failed    int
}

// Annotator fills dataset.json with the solutions of a solver for every image
// that has no text yet.
type Annotator struct {
	solver FileSolver
	log    logs.Log
}

// NewAnnotator returns an annotator backed by solver.
func NewAnnotator(solver FileSolver, log logs.Log) *Annotator {
	return &Annotator{solver: solver, log: log}
}

// Annotate solves the unannotated images of dir and saves dataset.json.
//
// Entries with a non-empty text are kept as they are. Images the solver
// fails on are logged and left out. A missing dataset.json is created.
//
// Arguments:
//   - dir: The dataset directory.
//
// Returns:
//   - AnnotationStats: Counts of the run.
//   - error: An error if the directory or dataset.json cannot be read or written.
func (a *Annotator) Annotate(dir string) (AnnotationStats, error) {
	var stats AnnotationStats
	path := filepath.Join(dir, dataset.FileName)

	annotations, err := dataset.ReadAnnotations(path)
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			return stats, err
		}
		annotations = dataset.Annotations{}
	}

	files, err := dataset.ListImageFiles(dir)
	if err != nil {
		return stats, err
	}

	for _, f := range files {
		stats.Images++
		if annotations[f.Name].Annotated() {
			stats.Skipped++
			continue
		}
		sol, err := a.solver.SolveFile(f.Path)
		if err != nil {
			a.log.Warnf("Skipping %s: %v", f.Name, err)
			stats.Failed++
			continue
		}
		bbs := make([][4]float64, len(sol.Boxes))
		for i, b := range sol.Boxes {
			bbs[i] = [4]float64{float64(b[0]), float64(b[1]), float64(b[2]), float64(b[3])}
		}
		annotations[f.Name] = &dataset.Entry{
			File:  f.Name,
			Text:  sol.Text,
			BBs:   bbs,
			Score: sol.Scores,
		}
		stats.Annotated++
		a.log.Infof("%s: %s", f.Name, sol.Text)
	}

	if err := annotations.Save(path); err != nil {
		return stats, err
	}
	a.log.Infof("Annotated %d of %d images (%d already done, %d failed)", stats.Annotated, stats.Images, stats.Skipped, stats.Failed)
	return stats, nil
}
