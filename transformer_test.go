package tinyseq

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
)

func TestEncoderEndToEnd(t *testing.T) {
	g := gorgonia.NewGraph()
	batch, seqLen, dModel := 2, 5, 8
	enc, err := NewEncoder(g, "enc", 2, dModel, 2, 32, 0, false)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}

	// Fixed embedding pattern: value depends on position and feature.
	backing := make([]float32, batch*seqLen*dModel)
	for i := range backing {
		backing[i] = float32(i%7)*0.1 - 0.3
	}
	x := gorgonia.NodeFromAny(g, denseOf(backing, batch, seqLen, dModel))

	out, err := enc.Forward(x, onesDense(batch, seqLen))
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !sameShape(out.Shape(), batch, seqLen, dModel) {
		t.Fatalf("output shape = %v, want (%d, %d, %d)", out.Shape(), batch, seqLen, dModel)
	}

	runGraph(t, g)
	if !allFinite(nodeData(t, out)) {
		t.Error("encoder output contains NaN/Inf")
	}
}

func TestGeneratorLogProbs(t *testing.T) {
	g := gorgonia.NewGraph()
	batch, seqLen, dim, vocab := 2, 3, 8, 11
	gen := NewGenerator(g, "gen", dim, vocab)

	x := gorgonia.NodeFromAny(g, randDense(61, batch, seqLen, dim))
	out, err := gen.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !sameShape(out.Shape(), batch, seqLen, vocab) {
		t.Fatalf("output shape = %v, want (%d, %d, %d)", out.Shape(), batch, seqLen, vocab)
	}

	runGraph(t, g)
	data := nodeData(t, out)
	for r := 0; r < batch*seqLen; r++ {
		var sum float64
		for j := 0; j < vocab; j++ {
			lp := data[r*vocab+j]
			if lp > 1e-6 {
				t.Fatalf("log-probability %v > 0 at row %d", lp, r)
			}
			sum += math.Exp(float64(lp))
		}
		if !approxEqual(float32(sum), 1, 1e-3) {
			t.Errorf("row %d: exp(log-probs) sums to %v, want 1", r, sum)
		}
	}
}

func TestTransformerForward(t *testing.T) {
	cfg := Config{
		SrcVocab: 13,
		TgtVocab: 17,
		DModel:   8,
		Heads:    2,
		Layers:   2,
		FFHidden: 32,
		MaxLen:   8,
		Dropout:  0.1,
		Training: false,
	}
	g := gorgonia.NewGraph()
	model, err := NewTransformer(g, cfg)
	if err != nil {
		t.Fatalf("NewTransformer failed: %v", err)
	}

	src := [][]int{{1, 4, 2, 9}}
	tgt := [][]int{{3, 0, 5}}
	out, err := model.Forward(src, tgt, nil, nil)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !sameShape(out.Shape(), 1, 3, cfg.TgtVocab) {
		t.Fatalf("output shape = %v, want (1, 3, %d)", out.Shape(), cfg.TgtVocab)
	}

	runGraph(t, g)
	if !allFinite(nodeData(t, out)) {
		t.Error("transformer output contains NaN/Inf")
	}
}

func TestTransformerSeqTooLong(t *testing.T) {
	cfg := Config{
		SrcVocab: 8,
		TgtVocab: 8,
		DModel:   8,
		Heads:    2,
		Layers:   1,
		FFHidden: 16,
		MaxLen:   4,
	}
	g := gorgonia.NewGraph()
	model, err := NewTransformer(g, cfg)
	if err != nil {
		t.Fatalf("NewTransformer failed: %v", err)
	}
	if _, err := model.Encode([][]int{{0, 1, 2, 3, 4}}, nil); err == nil {
		t.Error("expected error for source beyond max_len")
	}
}

func TestTransformerBadToken(t *testing.T) {
	cfg := Config{
		SrcVocab: 4,
		TgtVocab: 4,
		DModel:   8,
		Heads:    2,
		Layers:   1,
		FFHidden: 16,
		MaxLen:   4,
	}
	g := gorgonia.NewGraph()
	model, err := NewTransformer(g, cfg)
	if err != nil {
		t.Fatalf("NewTransformer failed: %v", err)
	}
	if _, err := model.Encode([][]int{{0, 7}}, nil); err == nil {
		t.Error("expected error for out-of-range token id")
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		SrcVocab: 8, TgtVocab: 8, DModel: 8, Heads: 2,
		Layers: 1, FFHidden: 16, MaxLen: 4,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := base
	bad.Heads = 3
	if err := bad.Validate(); err == nil {
		t.Error("expected error for indivisible head count")
	}

	bad = base
	bad.MaxLen = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero max_len")
	}

	bad = base
	bad.Dropout = 1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for dropout of 1")
	}
}
