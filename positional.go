package tinyseq

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// PositionalEncoding holds the fixed sinusoidal position table: even
// feature indices carry a sine, odd indices a cosine, with the frequency
// falling geometrically along the feature axis. The full (maxLen, dim)
// table is computed once at construction and sliced to the first seqLen
// rows on each apply.
type PositionalEncoding struct {
	table  *tensor.Dense
	maxLen int
	dim    int
}

// NewPositionalEncoding precomputes the position table for maxLen rows.
func NewPositionalEncoding(maxLen, dim int) (*PositionalEncoding, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("max_len must be positive, got %d", maxLen)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("dim must be positive, got %d", dim)
	}

	backing := make([]float32, maxLen*dim)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dim; i++ {
			denom := math.Pow(10000, float64(2*(i/2))/float64(dim))
			val := float64(pos) / denom
			if i%2 == 0 {
				backing[pos*dim+i] = float32(math.Sin(val))
			} else {
				backing[pos*dim+i] = float32(math.Cos(val))
			}
		}
	}

	return &PositionalEncoding{
		table:  tensor.New(tensor.WithShape(maxLen, dim), tensor.WithBacking(backing)),
		maxLen: maxLen,
		dim:    dim,
	}, nil
}

// Slice returns a fresh (seqLen, dim) copy of the table's first seqLen
// rows. Sequence lengths beyond the configured maximum are a contract
// violation, never truncated.
func (p *PositionalEncoding) Slice(seqLen int) (*tensor.Dense, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("seq_len must be positive, got %d", seqLen)
	}
	if seqLen > p.maxLen {
		return nil, fmt.Errorf("seq_len %d exceeds positional table size %d", seqLen, p.maxLen)
	}
	src := p.table.Data().([]float32)
	backing := make([]float32, seqLen*p.dim)
	copy(backing, src[:seqLen*p.dim])
	return tensor.New(tensor.WithShape(seqLen, p.dim), tensor.WithBacking(backing)), nil
}

// Apply adds the positional signal to a (batch, seq, dim) node.
func (p *PositionalEncoding) Apply(g *gorgonia.ExprGraph, x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, dim), got shape %v", shape)
	}
	if shape[2] != p.dim {
		return nil, fmt.Errorf("input feature dim %d does not match positional dim %d", shape[2], p.dim)
	}
	pe, err := p.Slice(shape[1])
	if err != nil {
		return nil, err
	}
	peNode := gorgonia.NodeFromAny(g, pe)
	pe3, err := gorgonia.Reshape(peNode, tensor.Shape{1, shape[1], p.dim})
	if err != nil {
		return nil, fmt.Errorf("reshaping positional table: %w", err)
	}
	out, err := gorgonia.BroadcastAdd(x, pe3, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("adding positional encoding: %w", err)
	}
	return out, nil
}

// LearnedPositional is the trainable position table used by the
// forecasting variant: one learned vector per absolute position within
// the window, added to the projected input.
type LearnedPositional struct {
	w      *gorgonia.Node
	maxLen int
	dim    int
}

// NewLearnedPositional allocates a (maxLen, dim) learnable table.
func NewLearnedPositional(g *gorgonia.ExprGraph, name string, maxLen, dim int) *LearnedPositional {
	w := gorgonia.NewMatrix(g,
		tensor.Float32,
		gorgonia.WithShape(maxLen, dim),
		gorgonia.WithName(name+"_pos"),
		gorgonia.WithInit(gorgonia.Gaussian(0, 0.02)),
	)
	return &LearnedPositional{w: w, maxLen: maxLen, dim: dim}
}

// Apply adds the learned positional rows to a (batch, seq, dim) node.
func (l *LearnedPositional) Apply(x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, dim), got shape %v", shape)
	}
	if shape[2] != l.dim {
		return nil, fmt.Errorf("input feature dim %d does not match positional dim %d", shape[2], l.dim)
	}
	seqLen := shape[1]
	if seqLen > l.maxLen {
		return nil, fmt.Errorf("seq_len %d exceeds positional table size %d", seqLen, l.maxLen)
	}

	rows, err := gorgonia.Slice(l.w, gorgonia.S(0, seqLen))
	if err != nil {
		return nil, fmt.Errorf("slicing positional table: %w", err)
	}
	rows3, err := gorgonia.Reshape(rows, tensor.Shape{1, seqLen, l.dim})
	if err != nil {
		return nil, fmt.Errorf("reshaping positional table: %w", err)
	}
	out, err := gorgonia.BroadcastAdd(x, rows3, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("adding learned positions: %w", err)
	}
	return out, nil
}

// Learnables returns the trainable position table.
func (l *LearnedPositional) Learnables() []*gorgonia.Node {
	return []*gorgonia.Node{l.w}
}
