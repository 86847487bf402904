package tinyseq

import (
	"testing"

	"gorgonia.org/gorgonia"
)

func TestLayerNormStandardizes(t *testing.T) {
	g := gorgonia.NewGraph()
	batch, seqLen, dim := 2, 3, 8
	ln := NewLayerNorm(g, "test", dim)

	x := gorgonia.NodeFromAny(g, randDense(51, batch, seqLen, dim))
	out, err := ln.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	runGraph(t, g)

	// With gamma at its ones init and beta at zeros, every position's
	// output should have mean ~0 and variance ~1.
	data := nodeData(t, out)
	for p := 0; p < batch*seqLen; p++ {
		row := data[p*dim : (p+1)*dim]
		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= float32(dim)
		if !approxEqual(mean, 0, 1e-4) {
			t.Errorf("position %d: mean = %v, want 0", p, mean)
		}
		var variance float32
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float32(dim)
		if !approxEqual(variance, 1, 1e-2) {
			t.Errorf("position %d: variance = %v, want 1", p, variance)
		}
	}
}

func TestLayerNormShapeMismatch(t *testing.T) {
	g := gorgonia.NewGraph()
	ln := NewLayerNorm(g, "test", 8)
	x := gorgonia.NodeFromAny(g, randDense(52, 2, 3, 6))
	if _, err := ln.Forward(x); err == nil {
		t.Error("expected error for mismatched feature dim")
	}
}

func TestResidualShapePreserving(t *testing.T) {
	g := gorgonia.NewGraph()
	batch, seqLen, dim := 2, 5, 8
	r := NewResidual(g, "test", dim, 0, false)

	x := gorgonia.NodeFromAny(g, randDense(53, batch, seqLen, dim))
	identity := func(h *gorgonia.Node) (*gorgonia.Node, error) { return h, nil }
	out, err := r.Apply(x, identity)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !sameShape(out.Shape(), batch, seqLen, dim) {
		t.Errorf("output shape = %v, want (%d, %d, %d)", out.Shape(), batch, seqLen, dim)
	}

	runGraph(t, g)
	if !allFinite(nodeData(t, out)) {
		t.Error("residual output contains NaN/Inf")
	}
}

func TestFeedForwardShape(t *testing.T) {
	g := gorgonia.NewGraph()
	batch, seqLen, dim, inner := 2, 4, 8, 32
	ff, err := NewFeedForward(g, "test", dim, inner, 0, false)
	if err != nil {
		t.Fatalf("NewFeedForward failed: %v", err)
	}
	x := gorgonia.NodeFromAny(g, randDense(54, batch, seqLen, dim))
	out, err := ff.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !sameShape(out.Shape(), batch, seqLen, dim) {
		t.Errorf("output shape = %v, want (%d, %d, %d)", out.Shape(), batch, seqLen, dim)
	}
	runGraph(t, g)
	if !allFinite(nodeData(t, out)) {
		t.Error("feed-forward output contains NaN/Inf")
	}
}
