package loss

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-multibox/models/multibox"
)

func TestGraphLossMatchesCompute(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	preds := []Prediction{randomPrediction(r, 8), randomPrediction(r, 8)}
	targets := []multibox.EncodedTarget{
		target(0, 1, 0, 0, 0, 0, 2, 0),
		target(0, 0, 0, 0, 0, 0, 0, 0),
	}

	l := &HardNegativeLoss{K: DefaultNegativeRatio, Alpha: 1}
	want, wantGrads, err := l.ComputeWithGradients(preds, targets)
	require.NoError(t, err)

	gl, err := NewGraphLoss(preds, targets, l.K, l.Alpha)
	require.NoError(t, err)
	require.NotNil(t, gl.Graph())

	got, gotGrads, err := gl.Run()
	require.NoError(t, err)
	assert.Equal(t, want.NumPositive, got.NumPositive)
	assert.Equal(t, want.NumHardNegative, got.NumHardNegative)
	assert.InDelta(t, want.Loc, got.Loc, 1e-4)
	assert.InDelta(t, want.Conf, got.Conf, 1e-4)

	for s := range preds {
		assert.InDeltaSlice(t, wantGrads.Loc[s], gotGrads.Loc[s], 1e-4, "loc gradients of sample %d", s)
		assert.InDeltaSlice(t, wantGrads.Conf[s], gotGrads.Conf[s], 1e-4, "conf gradients of sample %d", s)
	}
}

func TestGraphLossZeroPositives(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	preds := []Prediction{randomPrediction(r, 4)}
	targets := []multibox.EncodedTarget{target(0, 0, 0, 0)}

	gl, err := NewGraphLoss(preds, targets, 3, 1)
	require.NoError(t, err)
	assert.Nil(t, gl.Graph())

	res, grads, err := gl.Run()
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Len(t, grads.Loc[0], 16)
	assert.Len(t, grads.Conf[0], 4*testClasses)
}
