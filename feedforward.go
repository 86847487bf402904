package tinyseq

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// FeedForward is the position-wise two-layer transformation
// dim -> inner -> dim with a ReLU nonlinearity and dropout between the
// layers. It never mixes information across positions.
type FeedForward struct {
	g        *gorgonia.ExprGraph
	dim      int
	inner    int
	dropout  float64
	training bool

	w1, b1 *gorgonia.Node
	w2, b2 *gorgonia.Node
}

// NewFeedForward allocates the two affine layers.
func NewFeedForward(g *gorgonia.ExprGraph, name string, dim, inner int, dropout float64, training bool) (*FeedForward, error) {
	if dim <= 0 || inner <= 0 {
		return nil, fmt.Errorf("feed-forward dims must be positive, got dim=%d inner=%d", dim, inner)
	}
	return &FeedForward{
		g:        g,
		dim:      dim,
		inner:    inner,
		dropout:  dropout,
		training: training,
		w1: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(dim, inner),
			gorgonia.WithName(name+"_w1"),
			gorgonia.WithInit(gorgonia.GlorotU(1.0))),
		b1: gorgonia.NewVector(g, tensor.Float32,
			gorgonia.WithShape(inner),
			gorgonia.WithName(name+"_b1"),
			gorgonia.WithInit(gorgonia.Zeroes())),
		w2: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(inner, dim),
			gorgonia.WithName(name+"_w2"),
			gorgonia.WithInit(gorgonia.GlorotU(1.0))),
		b2: gorgonia.NewVector(g, tensor.Float32,
			gorgonia.WithShape(dim),
			gorgonia.WithName(name+"_b2"),
			gorgonia.WithInit(gorgonia.Zeroes())),
	}, nil
}

// Forward applies the block to a (batch, seq, dim) node.
func (f *FeedForward) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, dim), got shape %v", shape)
	}
	if shape[2] != f.dim {
		return nil, fmt.Errorf("input feature dim %d does not match feed-forward dim %d", shape[2], f.dim)
	}
	batch, seqLen := shape[0], shape[1]

	flat, err := gorgonia.Reshape(x, tensor.Shape{batch * seqLen, f.dim})
	if err != nil {
		return nil, fmt.Errorf("flattening input: %w", err)
	}

	h, err := affine(flat, f.w1, f.b1, f.inner)
	if err != nil {
		return nil, fmt.Errorf("first feed-forward layer: %w", err)
	}
	h, err = gorgonia.Rectify(h)
	if err != nil {
		return nil, fmt.Errorf("feed-forward activation: %w", err)
	}
	if f.training && f.dropout > 0 {
		h, err = gorgonia.Dropout(h, f.dropout)
		if err != nil {
			return nil, fmt.Errorf("feed-forward dropout: %w", err)
		}
	}

	h, err = affine(h, f.w2, f.b2, f.dim)
	if err != nil {
		return nil, fmt.Errorf("second feed-forward layer: %w", err)
	}
	out, err := gorgonia.Reshape(h, tensor.Shape{batch, seqLen, f.dim})
	if err != nil {
		return nil, fmt.Errorf("reshaping output: %w", err)
	}
	return out, nil
}

// Learnables returns the four affine parameters.
func (f *FeedForward) Learnables() []*gorgonia.Node {
	return []*gorgonia.Node{f.w1, f.b1, f.w2, f.b2}
}

// affine computes x*w + b for a 2D x, broadcasting the bias over rows.
func affine(x, w, b *gorgonia.Node, out int) (*gorgonia.Node, error) {
	h, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, err
	}
	bRow, err := gorgonia.Reshape(b, tensor.Shape{1, out})
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(h, bRow, nil, []byte{0})
}
