package inference

import (
	"image"
	"io"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-multibox/images"
	"github.com/nvr-ai/go-multibox/models"
	"github.com/nvr-ai/go-multibox/models/model"
	"github.com/nvr-ai/go-multibox/models/multibox"
	"github.com/nvr-ai/go-multibox/models/postprocess"
)

// DefaultMaxChars is the number of glyphs kept per image.
const DefaultMaxChars = 5

// Solution is the reading of one captcha image.
type Solution struct {
	// Text is the glyph sequence, left to right.
	Text string `json:"text"`
	// Boxes are the glyph boxes as [y0, x0, y1, x1] pixels, aligned with Text.
	Boxes [][4]int `json:"bbs"`
	// Scores are the class probabilities, aligned with Text.
	Scores []float32 `json:"score"`
	// Detections are the kept detections with unrounded boxes.
	Detections []postprocess.Result `json:"-"`
}

// Solver reads captcha images with a Predictor and the box decoder.
type Solver struct {
	predictor Predictor
	decoder   *multibox.Decoder
	classes   *models.OutputClassSet
	cfg       multibox.Config

	// MaxChars caps the number of glyphs of a solution. Zero or less disables
	// the cap.
	MaxChars int

	log logs.Log
}

// NewSolver builds a solver from a predictor and the codec configuration it
// was trained with.
//
// Arguments:
//   - predictor: The network.
//   - cfg: The codec configuration, NClass included.
//   - classes: The glyph of every class index.
//   - log: The logger.
//
// Returns:
//   - *Solver: The solver, with MaxChars set to DefaultMaxChars.
//   - error: An error if the configuration is invalid or disagrees with classes.
func NewSolver(predictor Predictor, cfg multibox.Config, classes *models.OutputClassSet, log logs.Log) (*Solver, error) {
	if classes.Len() != cfg.NClass {
		return nil, errors.Wrapf(multibox.ErrInvalidConfig, "%d class labels for n_class %d", classes.Len(), cfg.NClass)
	}
	boxes, err := multibox.NewDefaultBoxes(cfg)
	if err != nil {
		return nil, err
	}
	decoder, err := multibox.NewDecoder(boxes, cfg)
	if err != nil {
		return nil, err
	}
	return &Solver{
		predictor: predictor,
		decoder:   decoder,
		classes:   classes,
		cfg:       cfg,
		MaxChars:  DefaultMaxChars,
		log:       log,
	}, nil
}

// SolverOptions tune LoadSolver.
type SolverOptions struct {
	Session SessionConfig
	// NMSThreshold and ScoreThreshold override the model's values when
	// positive.
	NMSThreshold   float64
	ScoreThreshold float64
	MaxChars       int
}

// LoadSolver opens a model directory: model.json plus the ONNX graph it
// names.
func LoadSolver(dir string, opts SolverOptions, log logs.Log) (*Solver, error) {
	meta, err := model.LoadMetadata(dir)
	if err != nil {
		return nil, err
	}
	classes, err := meta.ClassSet()
	if err != nil {
		return nil, err
	}
	cfg := meta.Config()
	if opts.NMSThreshold > 0 {
		cfg.NMSThreshold = opts.NMSThreshold
	}
	if opts.ScoreThreshold > 0 {
		cfg.ScoreThreshold = opts.ScoreThreshold
	}

	sc := opts.Session
	if sc.ModelPath == "" {
		sc.ModelPath = filepath.Join(dir, meta.File)
	}
	session, err := NewSession(sc, meta, log)
	if err != nil {
		return nil, err
	}
	solver, err := NewSolver(session, cfg, classes, log)
	if err != nil {
		session.Close()
		return nil, err
	}
	if opts.MaxChars != 0 {
		solver.MaxChars = opts.MaxChars
	}
	return solver, nil
}

// Config returns the codec configuration of the solver.
func (s *Solver) Config() multibox.Config { return s.cfg }

// Classes returns the class set of the solver.
func (s *Solver) Classes() *models.OutputClassSet { return s.classes }

// Detect runs the network on a prepared input and decodes every detection,
// left to right.
func (s *Solver) Detect(input []float32) ([]postprocess.Result, error) {
	loc, conf, err := s.predictor.Predict(input)
	if err != nil {
		return nil, err
	}
	return s.decoder.Decode(loc, conf)
}

// SolveInput reads a prepared (1, 1, H, W) input.
//
// When more than MaxChars glyphs survive decoding, only the MaxChars best
// scoring ones are kept. Boxes are rounded half up and the glyphs ordered
// left to right.
func (s *Solver) SolveInput(input []float32) (*Solution, error) {
	detections, err := s.Detect(input)
	if err != nil {
		return nil, err
	}
	if s.MaxChars > 0 && len(detections) > s.MaxChars {
		detections = postprocess.TopK(detections, s.MaxChars)
	}
	multibox.SortLeftToRight(detections)

	sol := &Solution{
		Boxes:      make([][4]int, len(detections)),
		Scores:     postprocess.Scores(detections),
		Detections: detections,
	}
	for i, d := range detections {
		sol.Boxes[i] = d.Box.Corners()
	}
	if sol.Text, err = s.classes.Text(postprocess.Classes(detections)); err != nil {
		return nil, err
	}
	return sol, nil
}

// SolveImage reads a decoded image of any size.
func (s *Solver) SolveImage(img image.Image) (*Solution, error) {
	input := make([]float32, s.cfg.ImageHeight*s.cfg.ImageWidth)
	if err := images.PrepareInput(img, s.cfg.ImageHeight, s.cfg.ImageWidth, input); err != nil {
		return nil, err
	}
	return s.SolveInput(input)
}

// SolveFile reads an image file.
func (s *Solver) SolveFile(path string) (*Solution, error) {
	input, err := images.LoadInput(path, s.cfg.ImageHeight, s.cfg.ImageWidth)
	if err != nil {
		return nil, err
	}
	sol, err := s.SolveInput(input)
	if err != nil {
		return nil, errors.Wrapf(err, "solving %s", path)
	}
	s.log.Debugf("%s: %q %v", path, sol.Text, sol.Scores)
	return sol, nil
}

// Close releases the predictor when it holds resources.
func (s *Solver) Close() error {
	if c, ok := s.predictor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
