package tinyseq

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// EncoderBlock composes self-attention and feed-forward through two
// residual wrappers.
type EncoderBlock struct {
	self *MultiHeadAttention
	ff   *FeedForward
	res  [2]*Residual
}

// NewEncoderBlock builds one encoder layer.
func NewEncoderBlock(g *gorgonia.ExprGraph, name string, dModel, heads, ffHidden int, dropout float64, training bool) (*EncoderBlock, error) {
	self, err := NewMultiHeadAttention(g, name+"_self", dModel, heads, dropout, training)
	if err != nil {
		return nil, err
	}
	ff, err := NewFeedForward(g, name+"_ff", dModel, ffHidden, dropout, training)
	if err != nil {
		return nil, err
	}
	return &EncoderBlock{
		self: self,
		ff:   ff,
		res: [2]*Residual{
			NewResidual(g, name+"_res0", dModel, dropout, training),
			NewResidual(g, name+"_res1", dModel, dropout, training),
		},
	}, nil
}

// Forward runs the block over a (batch, seq, dModel) node. srcPad, when
// non-nil, forbids attending to padded source positions.
func (b *EncoderBlock) Forward(x *gorgonia.Node, srcPad *tensor.Dense) (*gorgonia.Node, error) {
	x, err := b.res[0].Apply(x, func(h *gorgonia.Node) (*gorgonia.Node, error) {
		return b.self.Forward(h, h, h, &AttnMask{Padding: srcPad})
	})
	if err != nil {
		return nil, fmt.Errorf("encoder self-attention: %w", err)
	}
	x, err = b.res[1].Apply(x, b.ff.Forward)
	if err != nil {
		return nil, fmt.Errorf("encoder feed-forward: %w", err)
	}
	return x, nil
}

// Learnables returns all trainable parameters of the block.
func (b *EncoderBlock) Learnables() []*gorgonia.Node {
	out := b.self.Learnables()
	out = append(out, b.ff.Learnables()...)
	out = append(out, b.res[0].Learnables()...)
	out = append(out, b.res[1].Learnables()...)
	return out
}

// DecoderBlock composes causal self-attention, cross-attention over the
// encoder output and feed-forward through three residual wrappers.
type DecoderBlock struct {
	self  *MultiHeadAttention
	cross *MultiHeadAttention
	ff    *FeedForward
	res   [3]*Residual
}

// NewDecoderBlock builds one decoder layer.
func NewDecoderBlock(g *gorgonia.ExprGraph, name string, dModel, heads, ffHidden int, dropout float64, training bool) (*DecoderBlock, error) {
	self, err := NewMultiHeadAttention(g, name+"_self", dModel, heads, dropout, training)
	if err != nil {
		return nil, err
	}
	cross, err := NewMultiHeadAttention(g, name+"_cross", dModel, heads, dropout, training)
	if err != nil {
		return nil, err
	}
	ff, err := NewFeedForward(g, name+"_ff", dModel, ffHidden, dropout, training)
	if err != nil {
		return nil, err
	}
	return &DecoderBlock{
		self:  self,
		cross: cross,
		ff:    ff,
		res: [3]*Residual{
			NewResidual(g, name+"_res0", dModel, dropout, training),
			NewResidual(g, name+"_res1", dModel, dropout, training),
			NewResidual(g, name+"_res2", dModel, dropout, training),
		},
	}, nil
}

// Forward runs the block. x is the decoder state, enc the encoder's
// final output. Self-attention is causal and respects tgtPad; the
// cross-attention step is where decoder positions gather information
// from the encoded input, gated by srcPad.
func (b *DecoderBlock) Forward(x, enc *gorgonia.Node, srcPad, tgtPad *tensor.Dense) (*gorgonia.Node, error) {
	x, err := b.res[0].Apply(x, func(h *gorgonia.Node) (*gorgonia.Node, error) {
		return b.self.Forward(h, h, h, &AttnMask{Causal: true, Padding: tgtPad})
	})
	if err != nil {
		return nil, fmt.Errorf("decoder self-attention: %w", err)
	}
	x, err = b.res[1].Apply(x, func(h *gorgonia.Node) (*gorgonia.Node, error) {
		return b.cross.Forward(h, enc, enc, &AttnMask{Padding: srcPad})
	})
	if err != nil {
		return nil, fmt.Errorf("decoder cross-attention: %w", err)
	}
	x, err = b.res[2].Apply(x, b.ff.Forward)
	if err != nil {
		return nil, fmt.Errorf("decoder feed-forward: %w", err)
	}
	return x, nil
}

// Learnables returns all trainable parameters of the block.
func (b *DecoderBlock) Learnables() []*gorgonia.Node {
	out := b.self.Learnables()
	out = append(out, b.cross.Learnables()...)
	out = append(out, b.ff.Learnables()...)
	for _, r := range b.res {
		out = append(out, r.Learnables()...)
	}
	return out
}
