package inference

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-multibox/models/multibox"
)

// TierOutput is the raw prediction head output of one lattice tier for a
// single image, channel-major: Loc has shape (A*4, rows, cols) and Conf
// (A*(NClass+1), rows, cols), where A is the number of boxes per grid point.
type TierOutput struct {
	Loc  []float32
	Conf []float32
}

// FlattenHead rearranges per-tier head output into lattice order: per tier
// the maps are moved to (rows, cols, channels), split into one row per
// default box and concatenated across tiers.
//
// Arguments:
//   - cfg: The configuration the lattice was built from.
//   - tiers: One output per grid, in grid order.
//
// Returns:
//   - loc: 4 offsets per default box.
//   - conf: NClass+1 logits per default box.
//   - err: An error wrapping multibox.ErrShapeMismatch if any map has the wrong size.
func FlattenHead(cfg multibox.Config, tiers []TierOutput) (loc, conf []float32, err error) {
	if len(tiers) != len(cfg.Grids) {
		return nil, nil, errors.Wrapf(multibox.ErrShapeMismatch, "%d head outputs for %d grids", len(tiers), len(cfg.Grids))
	}

	k := cfg.NClass + 1
	locs := make([]*tensor.Dense, len(tiers))
	confs := make([]*tensor.Dense, len(tiers))
	for t, out := range tiers {
		g := cfg.Grids[t]
		a := cfg.BoxesPerPoint(t)
		if locs[t], err = toAnchorRows(out.Loc, g, a, 4); err != nil {
			return nil, nil, errors.Wrapf(err, "tier %d locations", t)
		}
		if confs[t], err = toAnchorRows(out.Conf, g, a, k); err != nil {
			return nil, nil, errors.Wrapf(err, "tier %d scores", t)
		}
	}

	if loc, err = concatRows(locs); err != nil {
		return nil, nil, err
	}
	if conf, err = concatRows(confs); err != nil {
		return nil, nil, err
	}
	return loc, conf, nil
}

// toAnchorRows turns a (a*width, rows, cols) map into a (rows*cols*a, width)
// matrix. The input slice is copied, never modified.
func toAnchorRows(data []float32, g multibox.Grid, a, width int) (*tensor.Dense, error) {
	channels := a * width
	if len(data) != channels*g.Rows()*g.Cols() {
		return nil, errors.Wrapf(multibox.ErrShapeMismatch, "%d values, expected %dx%dx%d", len(data), channels, g.Rows(), g.Cols())
	}

	backing := make([]float32, len(data))
	copy(backing, data)
	t := tensor.New(
		tensor.WithShape(channels, g.Rows(), g.Cols()),
		tensor.Of(tensor.Float32),
		tensor.WithBacking(backing),
	)
	if err := t.T(1, 2, 0); err != nil {
		return nil, errors.Wrap(err, "transposing head output")
	}
	if err := t.Transpose(); err != nil {
		return nil, errors.Wrap(err, "transposing head output")
	}
	if err := t.Reshape(g.Rows()*g.Cols()*a, width); err != nil {
		return nil, errors.Wrap(err, "reshaping head output")
	}
	return t, nil
}

func concatRows(parts []*tensor.Dense) ([]float32, error) {
	out := parts[0]
	if len(parts) > 1 {
		var err error
		if out, err = out.Concat(0, parts[1:]...); err != nil {
			return nil, errors.Wrap(err, "concatenating tiers")
		}
	}
	data, ok := out.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected head data type %T", out.Data())
	}
	return data, nil
}
