package loss

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-multibox/models/multibox"
)

// GraphLoss is the multibox loss expressed as a gorgonia expression graph,
// for training loops that differentiate through gorgonia. Hard negatives are
// mined when the graph is built; the selection is not differentiated.
type GraphLoss struct {
	g      *G.ExprGraph
	loc    *G.Node
	conf   *G.Node
	total  *G.Node
	grads  G.Nodes
	result Result
	rows   []int
	nClass int
}

// NewGraphLoss builds the loss graph of one batch.
//
// Arguments:
//   - preds: The head output of each sample.
//   - targets: The encoded targets of each sample.
//   - k: The number of hard negatives kept per positive.
//   - alpha: The weight of the localization loss in the total.
//
// Returns:
//   - *GraphLoss: The graph, ready to Run.
//   - error: An error for an inconsistent batch or a graph construction failure.
func NewGraphLoss(preds []Prediction, targets []multibox.EncodedTarget, k int, alpha float32) (*GraphLoss, error) {
	samples, nPos, nNeg, err := prepare(preds, targets, k)
	if err != nil {
		return nil, err
	}

	gl := &GraphLoss{
		result: Result{NumPositive: nPos, NumHardNegative: nNeg},
		rows:   make([]int, len(samples)),
	}
	n := 0
	for s, smp := range samples {
		if s == 0 {
			gl.nClass = smp.nClass
		} else if smp.nClass != gl.nClass {
			return nil, errors.Wrapf(multibox.ErrShapeMismatch, "sample %d has %d classes, sample 0 has %d", s, smp.nClass, gl.nClass)
		}
		gl.rows[s] = len(smp.target.Labels)
		n += gl.rows[s]
	}
	if nPos == 0 || n == 0 {
		return gl, nil
	}

	nc := gl.nClass
	predLoc := make([]float32, 0, n*4)
	targetLoc := make([]float32, 0, n*4)
	locMask := make([]float32, 0, n*4)
	predConf := make([]float32, 0, n*nc)
	onehot := make([]float32, n*nc)
	row := 0
	for _, smp := range samples {
		predLoc = append(predLoc, smp.pred.Loc...)
		predConf = append(predConf, smp.pred.Conf...)
		for i, label := range smp.target.Labels {
			targetLoc = append(targetLoc, smp.target.Offsets[i][:]...)
			m := float32(0)
			if label > 0 {
				m = 1
			}
			locMask = append(locMask, m, m, m, m)
			if smp.selected[i] {
				onehot[row*nc+int(label)] = 1
			}
			row++
		}
	}

	g := G.NewGraph()
	matrix := func(name string, cols int, data []float32) *G.Node {
		return G.NewMatrix(g, tensor.Float32,
			G.WithShape(n, cols),
			G.WithName(name),
			G.WithValue(tensor.New(tensor.WithShape(n, cols), tensor.WithBacking(data))),
		)
	}
	pl := matrix("pred_loc", 4, predLoc)
	tl := matrix("target_loc", 4, targetLoc)
	mask := matrix("positive_mask", 4, locMask)
	pc := matrix("pred_conf", nc, predConf)
	oh := matrix("selected_onehot", nc, onehot)

	one := G.NewConstant(float32(1))
	half := G.NewConstant(float32(0.5))
	npos := G.NewConstant(float32(nPos))
	weight := G.NewConstant(alpha)

	// smooth L1 with threshold 1: m = min(|d|, 1); 0.5*m^2 + (|d| - m).
	d := G.Must(G.Sub(pl, tl))
	a := G.Must(G.Abs(d))
	m := G.Must(G.Sub(a, G.Must(G.Rectify(G.Must(G.Sub(a, one))))))
	hub := G.Must(G.Add(G.Must(G.Mul(half, G.Must(G.Square(m)))), G.Must(G.Sub(a, m))))
	locSum := G.Must(G.Sum(G.Must(G.HadamardProd(hub, mask))))
	gl.loc = G.Must(G.Div(locSum, npos))

	logp := G.Must(G.Log(G.Must(G.SoftMax(pc, 1))))
	ceSum := G.Must(G.Neg(G.Must(G.Sum(G.Must(G.HadamardProd(logp, oh))))))
	gl.conf = G.Must(G.Div(ceSum, npos))

	gl.total = G.Must(G.Add(G.Must(G.Mul(weight, gl.loc)), gl.conf))

	if gl.grads, err = G.Grad(gl.total, pl, pc); err != nil {
		return nil, errors.Wrap(err, "differentiating multibox loss")
	}
	gl.g = g
	return gl, nil
}

// Graph returns the expression graph, or nil when the batch has no positive
// anchor.
func (gl *GraphLoss) Graph() *G.ExprGraph { return gl.g }

// Run evaluates the graph and returns the loss and the gradient of the total
// with respect to every prediction value.
func (gl *GraphLoss) Run() (Result, *Gradients, error) {
	grads := &Gradients{Loc: make([][]float32, len(gl.rows)), Conf: make([][]float32, len(gl.rows))}
	for s, r := range gl.rows {
		grads.Loc[s] = make([]float32, r*4)
		grads.Conf[s] = make([]float32, r*gl.nClass)
	}
	if gl.g == nil {
		return gl.result, grads, nil
	}

	tm := G.NewTapeMachine(gl.g)
	defer tm.Close()
	if err := tm.RunAll(); err != nil {
		return Result{}, nil, errors.Wrap(err, "running multibox loss graph")
	}

	res := gl.result
	var err error
	if res.Loc, err = scalar(gl.loc); err != nil {
		return Result{}, nil, err
	}
	if res.Conf, err = scalar(gl.conf); err != nil {
		return Result{}, nil, err
	}

	dLoc, ok := gl.grads[0].Value().Data().([]float32)
	if !ok {
		return Result{}, nil, errors.Errorf("unexpected gradient type %T", gl.grads[0].Value().Data())
	}
	dConf, ok := gl.grads[1].Value().Data().([]float32)
	if !ok {
		return Result{}, nil, errors.Errorf("unexpected gradient type %T", gl.grads[1].Value().Data())
	}
	offset := 0
	for s, r := range gl.rows {
		copy(grads.Loc[s], dLoc[offset*4:(offset+r)*4])
		copy(grads.Conf[s], dConf[offset*gl.nClass:(offset+r)*gl.nClass])
		offset += r
	}
	return res, grads, nil
}

func scalar(n *G.Node) (float32, error) {
	switch v := n.Value().Data().(type) {
	case float32:
		return v, nil
	case []float32:
		if len(v) == 1 {
			return v[0], nil
		}
	}
	return 0, errors.Errorf("node %s is not a float32 scalar", n.Name())
}
