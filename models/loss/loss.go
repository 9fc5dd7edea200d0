// Package loss - implements the multibox training loss: smooth L1 over the
// offsets of positive anchors and softmax cross entropy over positives and
// mined hard negatives.
package loss

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-multibox/models/multibox"
)

// DefaultNegativeRatio is the number of hard negatives kept per positive.
const DefaultNegativeRatio = 3

// Prediction is the raw head output of one sample in lattice order: 4
// offsets and NClass+1 logits per default box.
type Prediction struct {
	Loc  []float32
	Conf []float32
}

// Result holds the two loss components of a batch.
type Result struct {
	// Loc is the smooth L1 localization loss per positive anchor.
	Loc float32 `json:"loc" yaml:"loc"`
	// Conf is the classification loss per positive anchor.
	Conf float32 `json:"conf" yaml:"conf"`
	// NumPositive is the number of positive anchors in the batch.
	NumPositive int `json:"num_positive" yaml:"num_positive"`
	// NumHardNegative is the number of negatives that contributed to Conf.
	NumHardNegative int `json:"num_hard_negative" yaml:"num_hard_negative"`
}

// Total combines the components as alpha*Loc + Conf.
func (r Result) Total(alpha float32) float32 {
	return alpha*r.Loc + r.Conf
}

// Gradients holds the derivatives of Total(alpha) with respect to each
// sample's prediction.
type Gradients struct {
	Loc  [][]float32
	Conf [][]float32
}

// HardNegativeLoss computes the multibox loss.
type HardNegativeLoss struct {
	// K is the number of hard negatives kept per positive in each sample.
	K int
	// Alpha weighs the localization loss in gradients and Total.
	Alpha float32
}

// New returns a loss with K hard negatives per positive and alpha 1.
func New(k int) *HardNegativeLoss {
	return &HardNegativeLoss{K: k, Alpha: 1}
}

// Compute returns the loss of a batch.
//
// Arguments:
//   - preds: The head output of each sample.
//   - targets: The encoded targets of each sample.
//
// Returns:
//   - Result: Both components, zero when the batch has no positive anchor.
//   - error: An error wrapping multibox.ErrShapeMismatch for inconsistent lengths.
func (l *HardNegativeLoss) Compute(preds []Prediction, targets []multibox.EncodedTarget) (Result, error) {
	res, _, err := l.compute(preds, targets, false)
	return res, err
}

// ComputeWithGradients returns the loss of a batch and the gradient of
// Total(Alpha) with respect to every prediction value.
func (l *HardNegativeLoss) ComputeWithGradients(preds []Prediction, targets []multibox.EncodedTarget) (Result, *Gradients, error) {
	return l.compute(preds, targets, true)
}

// sample is the per-sample view shared by the loss implementations.
type sample struct {
	pred     Prediction
	target   multibox.EncodedTarget
	nClass   int
	ce       []float32
	selected []bool
}

// prepare validates the batch, computes the per-anchor cross entropy and
// marks the anchors contributing to the classification loss.
func prepare(preds []Prediction, targets []multibox.EncodedTarget, k int) ([]sample, int, int, error) {
	if len(preds) != len(targets) {
		return nil, 0, 0, errors.Wrapf(multibox.ErrShapeMismatch, "%d predictions for %d targets", len(preds), len(targets))
	}
	if k < 0 {
		return nil, 0, 0, errors.Errorf("negative hard negative ratio %d", k)
	}

	samples := make([]sample, len(preds))
	nPos, nNeg := 0, 0
	for s, pred := range preds {
		t := targets[s]
		n := len(t.Labels)
		if len(t.Offsets) != n || len(pred.Loc) != n*4 || n == 0 || len(pred.Conf)%n != 0 || len(pred.Conf)/n < 2 {
			return nil, 0, 0, errors.Wrapf(multibox.ErrShapeMismatch,
				"sample %d: %d labels, %d target offsets, %d offsets, %d logits", s, n, len(t.Offsets), len(pred.Loc), len(pred.Conf))
		}
		nc := len(pred.Conf) / n
		for i, label := range t.Labels {
			if label < 0 || int(label) >= nc {
				return nil, 0, 0, errors.Wrapf(multibox.ErrShapeMismatch, "sample %d: label %d at anchor %d for %d classes", s, label, i, nc)
			}
		}

		ce := crossEntropy(pred.Conf, t.Labels, nc)
		selected, pos, neg := selectAnchors(ce, t.Labels, k)
		nPos += pos
		nNeg += neg
		samples[s] = sample{pred: pred, target: t, nClass: nc, ce: ce, selected: selected}
	}
	return samples, nPos, nNeg, nil
}

func (l *HardNegativeLoss) compute(preds []Prediction, targets []multibox.EncodedTarget, withGrad bool) (Result, *Gradients, error) {
	samples, nPos, nNeg, err := prepare(preds, targets, l.K)
	if err != nil {
		return Result{}, nil, err
	}

	var grads *Gradients
	if withGrad {
		grads = &Gradients{Loc: make([][]float32, len(samples)), Conf: make([][]float32, len(samples))}
		for s, smp := range samples {
			grads.Loc[s] = make([]float32, len(smp.pred.Loc))
			grads.Conf[s] = make([]float32, len(smp.pred.Conf))
		}
	}
	if nPos == 0 {
		return Result{}, grads, nil
	}

	inv := 1 / float32(nPos)
	var locSum, confSum float32
	for s, smp := range samples {
		for i, label := range smp.target.Labels {
			if label > 0 {
				for c := 0; c < 4; c++ {
					d := smp.pred.Loc[i*4+c] - smp.target.Offsets[i][c]
					locSum += huber(d)
					if withGrad {
						grads.Loc[s][i*4+c] = l.Alpha * inv * clampUnit(d)
					}
				}
			}
			if !smp.selected[i] {
				continue
			}
			confSum += smp.ce[i]
			if withGrad {
				k := smp.nClass
				g := grads.Conf[s][i*k : (i+1)*k]
				multibox.Softmax(g, smp.pred.Conf[i*k:(i+1)*k])
				g[label]--
				for c := range g {
					g[c] *= inv
				}
			}
		}
	}

	return Result{
		Loc:             locSum * inv,
		Conf:            confSum * inv,
		NumPositive:     nPos,
		NumHardNegative: nNeg,
	}, grads, nil
}

// crossEntropy returns the softmax cross entropy of every anchor.
func crossEntropy(conf []float32, labels []int32, k int) []float32 {
	ce := make([]float32, len(labels))
	for i, label := range labels {
		row := conf[i*k : (i+1)*k]
		maxv := row[0]
		for _, x := range row[1:] {
			if x > maxv {
				maxv = x
			}
		}
		var sum float32
		for _, x := range row {
			sum += math32.Exp(x - maxv)
		}
		ce[i] = math32.Log(sum) + maxv - row[label]
	}
	return ce
}

// selectAnchors marks every positive anchor and the k*positives negatives
// with the highest cross entropy. Equal losses keep the lower index.
func selectAnchors(ce []float32, labels []int32, k int) (selected []bool, nPos, nNeg int) {
	selected = make([]bool, len(labels))
	var negatives []int
	for i, label := range labels {
		if label > 0 {
			selected[i] = true
			nPos++
		} else {
			negatives = append(negatives, i)
		}
	}

	limit := k * nPos
	if limit > len(negatives) {
		limit = len(negatives)
	}
	if limit == 0 {
		return selected, nPos, 0
	}
	sort.SliceStable(negatives, func(a, b int) bool {
		return ce[negatives[a]] > ce[negatives[b]]
	})
	for _, i := range negatives[:limit] {
		selected[i] = true
	}
	return selected, nPos, limit
}

// huber is the smooth L1 loss with threshold 1.
func huber(d float32) float32 {
	a := math32.Abs(d)
	if a <= 1 {
		return 0.5 * a * a
	}
	return a - 0.5
}

func clampUnit(d float32) float32 {
	if d > 1 {
		return 1
	}
	if d < -1 {
		return -1
	}
	return d
}
