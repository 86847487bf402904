package tinyseq

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const normEps = float32(1e-5)

// LayerNorm standardizes each position's feature vector to zero mean and
// unit variance over the feature axis, then applies a learned per-feature
// gain and bias.
type LayerNorm struct {
	g     *gorgonia.ExprGraph
	dim   int
	gamma *gorgonia.Node
	beta  *gorgonia.Node
}

// NewLayerNorm allocates the gain (ones) and bias (zeros) vectors.
func NewLayerNorm(g *gorgonia.ExprGraph, name string, dim int) *LayerNorm {
	return &LayerNorm{
		g:   g,
		dim: dim,
		gamma: gorgonia.NewVector(g, tensor.Float32,
			gorgonia.WithShape(dim),
			gorgonia.WithName(name+"_gamma"),
			gorgonia.WithInit(gorgonia.Ones())),
		beta: gorgonia.NewVector(g, tensor.Float32,
			gorgonia.WithShape(dim),
			gorgonia.WithName(name+"_beta"),
			gorgonia.WithInit(gorgonia.Zeroes())),
	}
}

// Forward normalizes a (batch, seq, dim) node over its last axis.
func (l *LayerNorm) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, dim), got shape %v", shape)
	}
	if shape[2] != l.dim {
		return nil, fmt.Errorf("input feature dim %d does not match norm dim %d", shape[2], l.dim)
	}
	batch, seqLen := shape[0], shape[1]
	cols := tensor.Shape{batch, seqLen, 1}

	mu, err := gorgonia.Mean(x, 2)
	if err != nil {
		return nil, fmt.Errorf("computing mean: %w", err)
	}
	mu3, err := gorgonia.Reshape(mu, cols)
	if err != nil {
		return nil, fmt.Errorf("reshaping mean: %w", err)
	}
	centered, err := gorgonia.BroadcastSub(x, mu3, nil, []byte{2})
	if err != nil {
		return nil, fmt.Errorf("centering input: %w", err)
	}

	sq, err := gorgonia.Square(centered)
	if err != nil {
		return nil, fmt.Errorf("squaring deviations: %w", err)
	}
	variance, err := gorgonia.Mean(sq, 2)
	if err != nil {
		return nil, fmt.Errorf("computing variance: %w", err)
	}
	var3, err := gorgonia.Reshape(variance, cols)
	if err != nil {
		return nil, fmt.Errorf("reshaping variance: %w", err)
	}
	var3, err = gorgonia.Add(var3, gorgonia.NewConstant(normEps))
	if err != nil {
		return nil, fmt.Errorf("stabilizing variance: %w", err)
	}
	std, err := gorgonia.Sqrt(var3)
	if err != nil {
		return nil, fmt.Errorf("computing stddev: %w", err)
	}
	xhat, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{2})
	if err != nil {
		return nil, fmt.Errorf("standardizing input: %w", err)
	}

	row := tensor.Shape{1, 1, l.dim}
	gamma3, err := gorgonia.Reshape(l.gamma, row)
	if err != nil {
		return nil, fmt.Errorf("reshaping gain: %w", err)
	}
	beta3, err := gorgonia.Reshape(l.beta, row)
	if err != nil {
		return nil, fmt.Errorf("reshaping bias: %w", err)
	}
	scaled, err := gorgonia.BroadcastHadamardProd(xhat, gamma3, nil, []byte{0, 1})
	if err != nil {
		return nil, fmt.Errorf("applying gain: %w", err)
	}
	out, err := gorgonia.BroadcastAdd(scaled, beta3, nil, []byte{0, 1})
	if err != nil {
		return nil, fmt.Errorf("applying bias: %w", err)
	}
	return out, nil
}

// Learnables returns the gain and bias vectors.
func (l *LayerNorm) Learnables() []*gorgonia.Node {
	return []*gorgonia.Node{l.gamma, l.beta}
}

// Sublayer is the computation a Residual wraps: attention or
// feed-forward, closed over whatever state it needs.
type Sublayer func(*gorgonia.Node) (*gorgonia.Node, error)

// Residual wraps a sublayer with pre-normalization, dropout and an
// additive skip connection: x + dropout(sublayer(norm(x))). The
// normalize-before-sublayer order is load-bearing for training
// stability and must not be reordered.
type Residual struct {
	norm     *LayerNorm
	dropout  float64
	training bool
}

// NewResidual builds a wrapper with its own layer norm.
func NewResidual(g *gorgonia.ExprGraph, name string, dim int, dropout float64, training bool) *Residual {
	return &Residual{
		norm:     NewLayerNorm(g, name, dim),
		dropout:  dropout,
		training: training,
	}
}

// Apply runs norm -> sublayer -> dropout -> add-to-input.
func (r *Residual) Apply(x *gorgonia.Node, sub Sublayer) (*gorgonia.Node, error) {
	h, err := r.norm.Forward(x)
	if err != nil {
		return nil, err
	}
	h, err = sub(h)
	if err != nil {
		return nil, err
	}
	if r.training && r.dropout > 0 {
		h, err = gorgonia.Dropout(h, r.dropout)
		if err != nil {
			return nil, fmt.Errorf("residual dropout: %w", err)
		}
	}
	out, err := gorgonia.Add(x, h)
	if err != nil {
		return nil, fmt.Errorf("residual add: %w", err)
	}
	return out, nil
}

// Learnables returns the wrapper's norm parameters.
func (r *Residual) Learnables() []*gorgonia.Node {
	return r.norm.Learnables()
}
