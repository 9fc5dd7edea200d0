// Package model - Persisted model metadata and codec configuration files.
package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-multibox/models"
	"github.com/nvr-ai/go-multibox/models/multibox"
)

// MetadataFile is the name of the metadata file inside a model directory.
const MetadataFile = "model.json"

// Default ONNX tensor names of the exported detection head.
const (
	DefaultInputName = "image"
	DefaultLocName   = "mb_locs"
	DefaultConfName  = "mb_confs"
)

// Metadata describes a trained model directory.
type Metadata struct {
	// File is the weights file, relative to the model directory.
	File string `json:"file" yaml:"file"`
	// NChannel is the base channel count of the feature extractor.
	NChannel int `json:"n_channel" yaml:"n_channel"`
	// NClass is the number of glyph classes, background excluded.
	NClass int `json:"n_class" yaml:"n_class"`
	// ClassLabels holds the glyph of each class index.
	ClassLabels []string `json:"class_labels" yaml:"class_labels"`
	// Input is the name of the image input of the exported graph.
	Input string `json:"input,omitempty" yaml:"input,omitempty"`
	// Outputs are the names of the offset and score outputs, in that order.
	// With PerTier set they come in pairs, one pair per grid.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	// PerTier marks graphs that emit the raw channel-major maps of every
	// tier instead of the flattened (1, N, 4) and (1, N, NClass+1) tensors.
	PerTier bool `json:"per_tier,omitempty" yaml:"per_tier,omitempty"`
	// Codec overrides the default codec configuration.
	Codec *multibox.Config `json:"codec,omitempty" yaml:"codec,omitempty"`
}

// Validate checks the metadata for consistency.
func (m *Metadata) Validate() error {
	if m.File == "" {
		return errors.New("model metadata has no weights file")
	}
	if m.NClass < 1 {
		return errors.Errorf("model metadata has n_class %d", m.NClass)
	}
	if len(m.ClassLabels) != m.NClass {
		return errors.Errorf("model metadata has %d class labels for n_class %d", len(m.ClassLabels), m.NClass)
	}
	if m.Codec != nil {
		if err := m.Config().Validate(); err != nil {
			return err
		}
	}
	if m.PerTier {
		if want := 2 * len(m.Config().Grids); len(m.Outputs) != want {
			return errors.Errorf("model metadata lists %d outputs, expected %d for per-tier maps", len(m.Outputs), want)
		}
		return nil
	}
	if len(m.Outputs) != 0 && len(m.Outputs) != 2 {
		return errors.Errorf("model metadata lists %d outputs, expected offsets and scores", len(m.Outputs))
	}
	return nil
}

// InputName returns the graph input name.
func (m *Metadata) InputName() string {
	if m.Input != "" {
		return m.Input
	}
	return DefaultInputName
}

// OutputNames returns the offset and score output names.
func (m *Metadata) OutputNames() []string {
	if m.PerTier || len(m.Outputs) == 2 {
		return m.Outputs
	}
	return []string{DefaultLocName, DefaultConfName}
}

// Config returns the codec configuration with NClass taken from the metadata.
func (m *Metadata) Config() multibox.Config {
	cfg := multibox.DefaultConfig()
	if m.Codec != nil {
		cfg = *m.Codec
	}
	cfg.NClass = m.NClass
	return cfg
}

// ClassSet returns the class set of the model.
func (m *Metadata) ClassSet() (*models.OutputClassSet, error) {
	return models.NewOutputClassSet(m.ClassLabels)
}

// LoadMetadata reads and validates model.json from a model directory.
//
// Arguments:
//   - dir: The model directory.
//
// Returns:
//   - *Metadata: The metadata.
//   - error: An error if the file is missing, malformed or inconsistent.
func LoadMetadata(dir string) (*Metadata, error) {
	path := filepath.Join(dir, MetadataFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var m Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(err, "validating %s", path)
	}
	return &m, nil
}

// Save writes the metadata as model.json into dir.
func (m *Metadata) Save(dir string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding model metadata")
	}
	path := filepath.Join(dir, MetadataFile)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// LoadConfig reads a codec configuration from a .json, .yaml or .yml file.
// Fields missing from the file keep their DefaultConfig values.
func LoadConfig(path string) (multibox.Config, error) {
	cfg := multibox.DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		return cfg, errors.Errorf("unsupported config extension %q", ext)
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "parsing %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "validating %s", path)
	}
	return cfg, nil
}

// SaveConfig writes a codec configuration as JSON or YAML depending on the
// extension of path.
func SaveConfig(path string, cfg multibox.Config) error {
	var (
		b   []byte
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		b, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		b, err = yaml.Marshal(cfg)
	default:
		return errors.Errorf("unsupported config extension %q", ext)
	}
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}
	return errors.Wrapf(os.WriteFile(path, b, 0o644), "writing %s", path)
}
