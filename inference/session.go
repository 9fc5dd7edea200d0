// Package inference - ONNX Runtime sessions, the captcha solver and the
// dataset annotator.
package inference

import (
	"os"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-multibox/models/model"
	"github.com/nvr-ai/go-multibox/models/multibox"
)

// Predictor runs the detection network on one prepared image.
type Predictor interface {
	// Predict takes a (1, 1, H, W) grayscale input in [0, 1] and returns the
	// offsets (4 per default box) and logits (NClass+1 per default box) in
	// lattice order.
	Predict(input []float32) (loc, conf []float32, err error)
}

// SessionConfig selects the model file and the runtime settings of a Session.
type SessionConfig struct {
	// ModelPath is the path to the .onnx graph.
	ModelPath string
	// LibraryPath is the onnxruntime shared library. Empty uses GetSharedLibPath.
	LibraryPath string
	// Provider is the execution provider.
	Provider ProviderBackend
	// DeviceID is the GPU used by the CUDA provider.
	DeviceID int
	// IntraOpThreads and InterOpThreads size the onnxruntime thread pools.
	IntraOpThreads int
	InterOpThreads int
}

var initMu sync.Mutex

// initEnvironment loads the shared library once per process.
func initEnvironment(libPath string) error {
	initMu.Lock()
	defer initMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		var err error
		if libPath, err = GetSharedLibPath(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "initializing onnxruntime environment")
	}
	return nil
}

// Session is a Predictor backed by an onnxruntime session. Tensors are
// allocated once and reused, so Predict calls are serialized.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Outputs []*ort.Tensor[float32]

	codec   multibox.Config
	perTier bool
	mu      sync.Mutex
	log     logs.Log

	runs    int64
	runTime time.Duration
}

// SessionStats reports the number of runs and the time spent in them.
type SessionStats struct {
	Runs    int64
	Total   time.Duration
	Average time.Duration
}

// NewSession loads an exported network described by meta.
//
// Arguments:
//   - cfg: The model path and runtime settings.
//   - meta: The model metadata, giving tensor names, class count and lattice.
//   - log: The logger.
//
// Returns:
//   - *Session: The session.
//   - error: An error if the runtime or the graph cannot be loaded.
func NewSession(cfg SessionConfig, meta *model.Metadata, log logs.Log) (*Session, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	codec := meta.Config()
	s := &Session{codec: codec, perTier: meta.PerTier, log: log}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, int64(codec.ImageHeight), int64(codec.ImageWidth)))
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	s.Input = input

	for _, shape := range outputShapes(codec, meta.PerTier) {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			s.Close()
			return nil, errors.Wrap(err, "creating output tensor")
		}
		s.Outputs = append(s.Outputs, t)
	}

	options, err := newSessionOptions(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	defer options.Destroy()

	outputs := make([]ort.ArbitraryTensor, len(s.Outputs))
	for i, t := range s.Outputs {
		outputs[i] = t
	}
	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{meta.InputName()},
		meta.OutputNames(),
		[]ort.ArbitraryTensor{s.Input},
		outputs,
		options,
	)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "loading %s", cfg.ModelPath)
	}
	s.Session = session

	log.Infof("Loaded %s (%d default boxes, %d classes, provider %s)", cfg.ModelPath, codec.NumBoxes(), codec.NClass, cfg.Provider)
	return s, nil
}

// outputShapes lists the output tensor shapes in OutputNames order.
func outputShapes(cfg multibox.Config, perTier bool) []ort.Shape {
	k := int64(cfg.NClass + 1)
	if !perTier {
		n := int64(cfg.NumBoxes())
		return []ort.Shape{ort.NewShape(1, n, 4), ort.NewShape(1, n, k)}
	}
	shapes := make([]ort.Shape, 0, 2*len(cfg.Grids))
	for t, g := range cfg.Grids {
		a := int64(cfg.BoxesPerPoint(t))
		rows, cols := int64(g.Rows()), int64(g.Cols())
		shapes = append(shapes,
			ort.NewShape(1, a*4, rows, cols),
			ort.NewShape(1, a*k, rows, cols),
		)
	}
	return shapes
}

// Predict runs the network on one prepared image.
func (s *Session) Predict(input []float32) (loc, conf []float32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Session == nil {
		return nil, nil, errors.New("session is closed")
	}
	dst := s.Input.GetData()
	if len(input) != len(dst) {
		return nil, nil, errors.Wrapf(multibox.ErrShapeMismatch, "input has %d values, expected %d", len(input), len(dst))
	}
	copy(dst, input)

	start := time.Now()
	if err := s.Session.Run(); err != nil {
		return nil, nil, errors.Wrap(err, "running session")
	}
	elapsed := time.Since(start)
	s.runs++
	s.runTime += elapsed
	s.log.Debugf("Inference took %v", elapsed)

	if !s.perTier {
		loc = append([]float32(nil), s.Outputs[0].GetData()...)
		conf = append([]float32(nil), s.Outputs[1].GetData()...)
		return loc, conf, nil
	}

	tiers := make([]TierOutput, len(s.codec.Grids))
	for t := range tiers {
		tiers[t] = TierOutput{
			Loc:  s.Outputs[2*t].GetData(),
			Conf: s.Outputs[2*t+1].GetData(),
		}
	}
	return FlattenHead(s.codec, tiers)
}

// Stats returns the run counters of the session.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionStats{Runs: s.runs, Total: s.runTime}
	if s.runs > 0 {
		st.Average = s.runTime / time.Duration(s.runs)
	}
	return st
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if s.Session != nil {
		keep(s.Session.Destroy())
		s.Session = nil
	}
	if s.Input != nil {
		keep(s.Input.Destroy())
		s.Input = nil
	}
	for _, t := range s.Outputs {
		keep(t.Destroy())
	}
	s.Outputs = nil
	if s.runs > 0 {
		s.log.Infof("Session closed after %d runs, %v average", s.runs, s.runTime/time.Duration(s.runs))
	}
	return first
}
