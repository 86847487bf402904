package tinyseq

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Encoder is a fixed stack of encoder blocks followed by a final layer
// norm. The block list is built once from the layer count and never
// resized.
type Encoder struct {
	blocks []*EncoderBlock
	norm   *LayerNorm
}

// NewEncoder builds a stack of layers blocks.
func NewEncoder(g *gorgonia.ExprGraph, name string, layers, dModel, heads, ffHidden int, dropout float64, training bool) (*Encoder, error) {
	if layers <= 0 {
		return nil, fmt.Errorf("num_layers must be positive, got %d", layers)
	}
	blocks := make([]*EncoderBlock, layers)
	for i := range blocks {
		b, err := NewEncoderBlock(g, fmt.Sprintf("%s%d", name, i), dModel, heads, ffHidden, dropout, training)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	return &Encoder{blocks: blocks, norm: NewLayerNorm(g, name+"_norm", dModel)}, nil
}

// Forward threads x through every block, passing the mask unchanged,
// then applies the final norm.
func (e *Encoder) Forward(x *gorgonia.Node, srcPad *tensor.Dense) (*gorgonia.Node, error) {
	var err error
	for i, b := range e.blocks {
		if x, err = b.Forward(x, srcPad); err != nil {
			return nil, fmt.Errorf("encoder block %d: %w", i, err)
		}
	}
	return e.norm.Forward(x)
}

// Learnables returns all trainable parameters of the stack.
func (e *Encoder) Learnables() []*gorgonia.Node {
	var out []*gorgonia.Node
	for _, b := range e.blocks {
		out = append(out, b.Learnables()...)
	}
	return append(out, e.norm.Learnables()...)
}

// Decoder is a fixed stack of decoder blocks followed by a final layer
// norm.
type Decoder struct {
	blocks []*DecoderBlock
	norm   *LayerNorm
}

// NewDecoder builds a stack of layers blocks.
func NewDecoder(g *gorgonia.ExprGraph, name string, layers, dModel, heads, ffHidden int, dropout float64, training bool) (*Decoder, error) {
	if layers <= 0 {
		return nil, fmt.Errorf("num_layers must be positive, got %d", layers)
	}
	blocks := make([]*DecoderBlock, layers)
	for i := range blocks {
		b, err := NewDecoderBlock(g, fmt.Sprintf("%s%d", name, i), dModel, heads, ffHidden, dropout, training)
		if err != nil {
			return nil, err
		}
		blocks[i] = b
	}
	return &Decoder{blocks: blocks, norm: NewLayerNorm(g, name+"_norm", dModel)}, nil
}

// Forward threads the decoder state through every block against the
// encoder output, then applies the final norm.
func (d *Decoder) Forward(x, enc *gorgonia.Node, srcPad, tgtPad *tensor.Dense) (*gorgonia.Node, error) {
	var err error
	for i, b := range d.blocks {
		if x, err = b.Forward(x, enc, srcPad, tgtPad); err != nil {
			return nil, fmt.Errorf("decoder block %d: %w", i, err)
		}
	}
	return d.norm.Forward(x)
}

// Learnables returns all trainable parameters of the stack.
func (d *Decoder) Learnables() []*gorgonia.Node {
	var out []*gorgonia.Node
	for _, b := range d.blocks {
		out = append(out, b.Learnables()...)
	}
	return append(out, d.norm.Learnables()...)
}

// Generator maps final hidden states to log-probabilities over the
// output vocabulary.
type Generator struct {
	g     *gorgonia.ExprGraph
	dim   int
	vocab int
	w, b  *gorgonia.Node
}

// NewGenerator allocates the vocabulary projection.
func NewGenerator(g *gorgonia.ExprGraph, name string, dim, vocab int) *Generator {
	return &Generator{
		g:     g,
		dim:   dim,
		vocab: vocab,
		w: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(dim, vocab),
			gorgonia.WithName(name+"_w"),
			gorgonia.WithInit(gorgonia.GlorotU(1.0))),
		b: gorgonia.NewVector(g, tensor.Float32,
			gorgonia.WithShape(vocab),
			gorgonia.WithName(name+"_b"),
			gorgonia.WithInit(gorgonia.Zeroes())),
	}
}

// Forward maps a (batch, seq, dim) node to (batch, seq, vocab)
// log-probabilities.
func (gen *Generator) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected 3D input (batch, seq, dim), got shape %v", shape)
	}
	if shape[2] != gen.dim {
		return nil, fmt.Errorf("input feature dim %d does not match generator dim %d", shape[2], gen.dim)
	}
	batch, seqLen := shape[0], shape[1]

	flat, err := gorgonia.Reshape(x, tensor.Shape{batch * seqLen, gen.dim})
	if err != nil {
		return nil, fmt.Errorf("flattening hidden states: %w", err)
	}
	logits, err := affine(flat, gen.w, gen.b, gen.vocab)
	if err != nil {
		return nil, fmt.Errorf("vocabulary projection: %w", err)
	}
	probs, err := gorgonia.SoftMax(logits, 1)
	if err != nil {
		return nil, fmt.Errorf("normalizing logits: %w", err)
	}
	logProbs, err := gorgonia.Log(probs)
	if err != nil {
		return nil, fmt.Errorf("taking log-probabilities: %w", err)
	}
	out, err := gorgonia.Reshape(logProbs, tensor.Shape{batch, seqLen, gen.vocab})
	if err != nil {
		return nil, fmt.Errorf("reshaping log-probabilities: %w", err)
	}
	return out, nil
}

// Learnables returns the projection parameters.
func (gen *Generator) Learnables() []*gorgonia.Node {
	return []*gorgonia.Node{gen.w, gen.b}
}

// Transformer is the full sequence-to-sequence model: embedding and
// positional front-ends, an encoder stack, a decoder stack and the
// vocabulary generator.
type Transformer struct {
	g   *gorgonia.ExprGraph
	cfg Config

	srcEmbed *Embedding
	tgtEmbed *Embedding
	pos      *PositionalEncoding
	encoder  *Encoder
	decoder  *Decoder
	gen      *Generator
}

// NewTransformer validates the configuration and allocates every
// parameter of the model on g.
func NewTransformer(g *gorgonia.ExprGraph, cfg Config) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	pos, err := NewPositionalEncoding(cfg.MaxLen, cfg.DModel)
	if err != nil {
		return nil, err
	}
	encoder, err := NewEncoder(g, "enc", cfg.Layers, cfg.DModel, cfg.Heads, cfg.FFHidden, cfg.Dropout, cfg.Training)
	if err != nil {
		return nil, err
	}
	decoder, err := NewDecoder(g, "dec", cfg.Layers, cfg.DModel, cfg.Heads, cfg.FFHidden, cfg.Dropout, cfg.Training)
	if err != nil {
		return nil, err
	}

	return &Transformer{
		g:        g,
		cfg:      cfg,
		srcEmbed: NewEmbedding(g, "src", cfg.SrcVocab, cfg.DModel),
		tgtEmbed: NewEmbedding(g, "tgt", cfg.TgtVocab, cfg.DModel),
		pos:      pos,
		encoder:  encoder,
		decoder:  decoder,
		gen:      NewGenerator(g, "gen", cfg.DModel, cfg.TgtVocab),
	}, nil
}

// Encode embeds the source ids and runs the encoder stack, returning
// the (batch, seq, dModel) memory the decoder attends over.
func (t *Transformer) Encode(srcIDs [][]int, srcPad *tensor.Dense) (*gorgonia.Node, error) {
	x, err := t.frontEnd(t.srcEmbed, srcIDs)
	if err != nil {
		return nil, fmt.Errorf("source front-end: %w", err)
	}
	return t.encoder.Forward(x, srcPad)
}

// Decode embeds the target ids, runs the decoder stack against the
// encoder output and projects to (batch, seq, tgtVocab)
// log-probabilities.
func (t *Transformer) Decode(tgtIDs [][]int, enc *gorgonia.Node, srcPad, tgtPad *tensor.Dense) (*gorgonia.Node, error) {
	x, err := t.frontEnd(t.tgtEmbed, tgtIDs)
	if err != nil {
		return nil, fmt.Errorf("target front-end: %w", err)
	}
	x, err = t.decoder.Forward(x, enc, srcPad, tgtPad)
	if err != nil {
		return nil, err
	}
	return t.gen.Forward(x)
}

// Forward runs the whole model: encode the source, decode the target
// against it.
func (t *Transformer) Forward(srcIDs, tgtIDs [][]int, srcPad, tgtPad *tensor.Dense) (*gorgonia.Node, error) {
	enc, err := t.Encode(srcIDs, srcPad)
	if err != nil {
		return nil, err
	}
	return t.Decode(tgtIDs, enc, srcPad, tgtPad)
}

// frontEnd is the shared discrete-token front-end: scaled embedding
// lookup, positional encoding, dropout.
func (t *Transformer) frontEnd(embed *Embedding, ids [][]int) (*gorgonia.Node, error) {
	if len(ids) > 0 && len(ids[0]) > t.cfg.MaxLen {
		return nil, fmt.Errorf("seq_len %d exceeds configured maximum %d", len(ids[0]), t.cfg.MaxLen)
	}
	x, err := embed.Forward(ids)
	if err != nil {
		return nil, err
	}
	x, err = t.pos.Apply(t.g, x)
	if err != nil {
		return nil, err
	}
	if t.cfg.Training && t.cfg.Dropout > 0 {
		x, err = gorgonia.Dropout(x, t.cfg.Dropout)
		if err != nil {
			return nil, fmt.Errorf("front-end dropout: %w", err)
		}
	}
	return x, nil
}

// Learnables returns every trainable parameter, for binding dual values
// and driving an external solver.
func (t *Transformer) Learnables() []*gorgonia.Node {
	out := t.srcEmbed.Learnables()
	out = append(out, t.tgtEmbed.Learnables()...)
	out = append(out, t.encoder.Learnables()...)
	out = append(out, t.decoder.Learnables()...)
	out = append(out, t.gen.Learnables()...)
	return out
}
