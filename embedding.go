package tinyseq

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Embedding maps token ids to feature vectors. The lookup is expressed
// as a one-hot matrix product so gradients flow into the table through
// the engine.
type Embedding struct {
	g     *gorgonia.ExprGraph
	w     *gorgonia.Node
	vocab int
	dim   int
}

// NewEmbedding allocates a (vocab, dim) learnable table.
func NewEmbedding(g *gorgonia.ExprGraph, name string, vocab, dim int) *Embedding {
	w := gorgonia.NewMatrix(g,
		tensor.Float32,
		gorgonia.WithShape(vocab, dim),
		gorgonia.WithName(name+"_embed"),
		gorgonia.WithInit(gorgonia.GlorotU(1.0)),
	)
	return &Embedding{g: g, w: w, vocab: vocab, dim: dim}
}

// Forward looks up a (batch, seq) id grid and returns a
// (batch, seq, dim) node, scaled by sqrt(dim) so the embedding signal
// is not drowned out by the additive positional encoding.
func (e *Embedding) Forward(ids [][]int) (*gorgonia.Node, error) {
	oneHot, batch, seqLen, err := oneHotLookup(ids, e.vocab)
	if err != nil {
		return nil, err
	}

	ohNode := gorgonia.NodeFromAny(e.g, oneHot)
	flat, err := gorgonia.Mul(ohNode, e.w) // (batch*seq, dim)
	if err != nil {
		return nil, fmt.Errorf("embedding lookup: %w", err)
	}
	scaled, err := gorgonia.Mul(flat, gorgonia.NewConstant(float32(math.Sqrt(float64(e.dim)))))
	if err != nil {
		return nil, fmt.Errorf("scaling embeddings: %w", err)
	}
	out, err := gorgonia.Reshape(scaled, tensor.Shape{batch, seqLen, e.dim})
	if err != nil {
		return nil, fmt.Errorf("reshaping embeddings: %w", err)
	}
	return out, nil
}

// Learnables returns the embedding table.
func (e *Embedding) Learnables() []*gorgonia.Node {
	return []*gorgonia.Node{e.w}
}

// oneHotLookup encodes an id grid as a (batch*seq, vocab) one-hot dense
// tensor. Ragged rows and out-of-range ids are contract violations.
func oneHotLookup(ids [][]int, vocab int) (*tensor.Dense, int, int, error) {
	batch := len(ids)
	if batch == 0 {
		return nil, 0, 0, fmt.Errorf("empty batch")
	}
	seqLen := len(ids[0])
	if seqLen == 0 {
		return nil, 0, 0, fmt.Errorf("empty sequence")
	}

	backing := make([]float32, batch*seqLen*vocab)
	for b, row := range ids {
		if len(row) != seqLen {
			return nil, 0, 0, fmt.Errorf("ragged batch: row %d has length %d, want %d", b, len(row), seqLen)
		}
		for t, id := range row {
			if id < 0 || id >= vocab {
				return nil, 0, 0, fmt.Errorf("token id %d out of range [0, %d)", id, vocab)
			}
			backing[(b*seqLen+t)*vocab+id] = 1
		}
	}
	oh := tensor.New(tensor.WithShape(batch*seqLen, vocab), tensor.WithBacking(backing))
	return oh, batch, seqLen, nil
}
