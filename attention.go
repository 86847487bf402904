package tinyseq

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// AttnMask describes the restrictions applied to one attention call.
// Causal forbids attending to later key positions; Padding, when
// non-nil, is a float32 (batch, keyLen) tensor where nonzero marks an
// attendable key. Both restrictions apply conjunctively and identically
// across all heads.
type AttnMask struct {
	Causal  bool
	Padding *tensor.Dense
}

func (m *AttnMask) empty() bool {
	return m == nil || (!m.Causal && m.Padding == nil)
}

// ScaledDotProduct computes attention over (groups, len, dk) nodes:
// scores = q k^T / sqrt(dk), plus the additive mask when present,
// softmax over the key axis, optional dropout on the probabilities,
// output = probs v. Both the output and the probability node are
// returned so callers can inspect attention weights.
func ScaledDotProduct(q, k, v *gorgonia.Node, mask *gorgonia.Node, dropout float64, training bool) (out, probs *gorgonia.Node, err error) {
	dk := k.Shape()[len(k.Shape())-1]

	kt, err := gorgonia.Transpose(k, 0, 2, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("transposing keys: %w", err)
	}
	scores, err := gorgonia.BatchedMatMul(q, kt)
	if err != nil {
		return nil, nil, fmt.Errorf("computing attention scores: %w", err)
	}
	scores, err = gorgonia.Mul(scores, gorgonia.NewConstant(float32(1.0/math.Sqrt(float64(dk)))))
	if err != nil {
		return nil, nil, fmt.Errorf("scaling attention scores: %w", err)
	}
	if mask != nil {
		// Additive mask: a fresh node per call, the raw scores are
		// never mutated in place.
		scores, err = gorgonia.Add(scores, mask)
		if err != nil {
			return nil, nil, fmt.Errorf("masking attention scores: %w", err)
		}
	}

	probs, err = gorgonia.SoftMax(scores, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("normalizing attention scores: %w", err)
	}

	applied := probs
	if training && dropout > 0 {
		applied, err = gorgonia.Dropout(probs, dropout)
		if err != nil {
			return nil, nil, fmt.Errorf("attention dropout: %w", err)
		}
	}

	out, err = gorgonia.BatchedMatMul(applied, v)
	if err != nil {
		return nil, nil, fmt.Errorf("applying attention to values: %w", err)
	}
	return out, probs, nil
}

// MultiHeadAttention projects queries, keys and values into per-head
// subspaces of size dModel/heads, runs scaled dot-product attention over
// all heads at once, concatenates the head outputs and applies a final
// output projection.
type MultiHeadAttention struct {
	g        *gorgonia.ExprGraph
	heads    int
	dModel   int
	dHead    int
	dropout  float64
	training bool

	wq, wk, wv, wo *gorgonia.Node

	probs *gorgonia.Node // probabilities of the most recent forward
}

// NewMultiHeadAttention allocates the four projection matrices. The head
// count must divide dModel evenly; violations fail here, before any
// parameter is allocated.
func NewMultiHeadAttention(g *gorgonia.ExprGraph, name string, dModel, heads int, dropout float64, training bool) (*MultiHeadAttention, error) {
	if heads <= 0 {
		return nil, fmt.Errorf("num_heads must be positive, got %d", heads)
	}
	if dModel%heads != 0 {
		return nil, fmt.Errorf("d_model (%d) must be divisible by num_heads (%d)", dModel, heads)
	}

	newProj := func(suffix string) *gorgonia.Node {
		return gorgonia.NewMatrix(g,
			tensor.Float32,
			gorgonia.WithShape(dModel, dModel),
			gorgonia.WithName(name+suffix),
			gorgonia.WithInit(gorgonia.GlorotU(1.0)),
		)
	}

	return &MultiHeadAttention{
		g:        g,
		heads:    heads,
		dModel:   dModel,
		dHead:    dModel / heads,
		dropout:  dropout,
		training: training,
		wq:       newProj("_wq"),
		wk:       newProj("_wk"),
		wv:       newProj("_wv"),
		wo:       newProj("_wo"),
	}, nil
}

// Forward runs multi-head attention. q, k and v are (batch, len, dModel)
// nodes; for self-attention all three are the same node, for
// cross-attention q carries the decoder state and k, v the encoder
// output. Output shape is (batch, qLen, dModel).
func (m *MultiHeadAttention) Forward(q, k, v *gorgonia.Node, mask *AttnMask) (*gorgonia.Node, error) {
	qs, ks, vs := q.Shape(), k.Shape(), v.Shape()
	if len(qs) != 3 || len(ks) != 3 || len(vs) != 3 {
		return nil, fmt.Errorf("expected 3D (batch, seq, d_model) inputs, got q=%v k=%v v=%v", qs, ks, vs)
	}
	if qs[2] != m.dModel || ks[2] != m.dModel || vs[2] != m.dModel {
		return nil, fmt.Errorf("feature dim must be %d, got q=%d k=%d v=%d", m.dModel, qs[2], ks[2], vs[2])
	}
	if qs[0] != ks[0] || qs[0] != vs[0] {
		return nil, fmt.Errorf("batch sizes differ: q=%d k=%d v=%d", qs[0], ks[0], vs[0])
	}
	if ks[1] != vs[1] {
		return nil, fmt.Errorf("key length %d does not match value length %d", ks[1], vs[1])
	}
	batch, qLen, kLen := qs[0], qs[1], ks[1]

	qh, err := m.projectHeads(q, m.wq, batch, qLen)
	if err != nil {
		return nil, err
	}
	kh, err := m.projectHeads(k, m.wk, batch, kLen)
	if err != nil {
		return nil, err
	}
	vh, err := m.projectHeads(v, m.wv, batch, kLen)
	if err != nil {
		return nil, err
	}

	var maskNode *gorgonia.Node
	if !mask.empty() {
		md, err := combinedAdditiveMask(batch, m.heads, qLen, kLen, mask.Causal, mask.Padding)
		if err != nil {
			return nil, err
		}
		if md != nil {
			maskNode = gorgonia.NodeFromAny(m.g, md)
		}
	}

	ctx, probs, err := ScaledDotProduct(qh, kh, vh, maskNode, m.dropout, m.training)
	if err != nil {
		return nil, err
	}
	m.probs = probs

	// Merge heads: (batch*heads, qLen, dHead) -> (batch, qLen, dModel).
	merged, err := gorgonia.Reshape(ctx, tensor.Shape{batch, m.heads, qLen, m.dHead})
	if err != nil {
		return nil, fmt.Errorf("unflattening heads: %w", err)
	}
	merged, err = gorgonia.Transpose(merged, 0, 2, 1, 3)
	if err != nil {
		return nil, fmt.Errorf("reordering heads: %w", err)
	}
	merged, err = gorgonia.Reshape(merged, tensor.Shape{batch * qLen, m.dModel})
	if err != nil {
		return nil, fmt.Errorf("concatenating heads: %w", err)
	}

	out, err := gorgonia.Mul(merged, m.wo)
	if err != nil {
		return nil, fmt.Errorf("output projection: %w", err)
	}
	out, err = gorgonia.Reshape(out, tensor.Shape{batch, qLen, m.dModel})
	if err != nil {
		return nil, fmt.Errorf("reshaping attention output: %w", err)
	}
	return out, nil
}

// projectHeads applies one projection matrix and splits the result into
// per-head groups: (batch, len, dModel) -> (batch*heads, len, dHead).
func (m *MultiHeadAttention) projectHeads(x, w *gorgonia.Node, batch, length int) (*gorgonia.Node, error) {
	flat, err := gorgonia.Reshape(x, tensor.Shape{batch * length, m.dModel})
	if err != nil {
		return nil, fmt.Errorf("flattening input: %w", err)
	}
	proj, err := gorgonia.Mul(flat, w)
	if err != nil {
		return nil, fmt.Errorf("projecting input: %w", err)
	}
	split, err := gorgonia.Reshape(proj, tensor.Shape{batch, length, m.heads, m.dHead})
	if err != nil {
		return nil, fmt.Errorf("splitting heads: %w", err)
	}
	split, err = gorgonia.Transpose(split, 0, 2, 1, 3)
	if err != nil {
		return nil, fmt.Errorf("reordering heads: %w", err)
	}
	split, err = gorgonia.Reshape(split, tensor.Shape{batch * m.heads, length, m.dHead})
	if err != nil {
		return nil, fmt.Errorf("grouping heads: %w", err)
	}
	return split, nil
}

// Probabilities returns the attention probability node of the most
// recent Forward call, shaped (batch*heads, qLen, kLen). Nil before the
// first call.
func (m *MultiHeadAttention) Probabilities() *gorgonia.Node {
	return m.probs
}

// Learnables returns the four projection matrices.
func (m *MultiHeadAttention) Learnables() []*gorgonia.Node {
	return []*gorgonia.Node{m.wq, m.wk, m.wv, m.wo}
}
