package tinyseq

import (
	"math"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func evalForecastConfig() ForecastConfig {
	return ForecastConfig{
		Window:   8,
		Horizon:  4,
		DModel:   32,
		Heads:    4,
		Layers:   2,
		FFHidden: 128,
		Dropout:  0.1,
		Training: false,
	}
}

func sinusoidWindows(batch, window int) *tensor.Dense {
	backing := make([]float32, batch*window)
	for b := 0; b < batch; b++ {
		for t := 0; t < window; t++ {
			backing[b*window+t] = float32(math.Sin(0.25 * float64(b+t)))
		}
	}
	return denseOf(backing, batch, window)
}

func TestForecasterShape(t *testing.T) {
	cfg := evalForecastConfig()
	g := gorgonia.NewGraph()
	model, err := NewForecaster(g, cfg)
	if err != nil {
		t.Fatalf("NewForecaster failed: %v", err)
	}

	batch := 16
	x := gorgonia.NodeFromAny(g, sinusoidWindows(batch, cfg.Window))
	out, err := model.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if !sameShape(out.Shape(), batch, cfg.Horizon) {
		t.Fatalf("output shape = %v, want (%d, %d)", out.Shape(), batch, cfg.Horizon)
	}

	runGraph(t, g)
	if !allFinite(nodeData(t, out)) {
		t.Error("forecast output contains NaN/Inf")
	}
}

func TestForecasterDeterministicInEval(t *testing.T) {
	cfg := evalForecastConfig()
	g := gorgonia.NewGraph()
	model, err := NewForecaster(g, cfg)
	if err != nil {
		t.Fatalf("NewForecaster failed: %v", err)
	}

	batch := 16
	x := gorgonia.NewMatrix(g,
		tensor.Float32,
		gorgonia.WithShape(batch, cfg.Window),
		gorgonia.WithName("window"),
	)
	out, err := model.Forward(x)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	input := sinusoidWindows(batch, cfg.Window)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()

	if err := gorgonia.Let(x, input); err != nil {
		t.Fatalf("Let failed: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("first RunAll failed: %v", err)
	}
	first := append([]float32(nil), nodeData(t, out)...)

	vm.Reset()
	if err := gorgonia.Let(x, input); err != nil {
		t.Fatalf("Let failed: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("second RunAll failed: %v", err)
	}
	second := nodeData(t, out)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("evaluation runs differ at %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestForecasterWindowTooLong(t *testing.T) {
	cfg := evalForecastConfig()
	g := gorgonia.NewGraph()
	model, err := NewForecaster(g, cfg)
	if err != nil {
		t.Fatalf("NewForecaster failed: %v", err)
	}
	x := gorgonia.NodeFromAny(g, tensorZeros(2, cfg.Window+2))
	if _, err := model.Forward(x); err == nil {
		t.Error("expected error for window beyond block size")
	}
}

func TestForecastConfigValidate(t *testing.T) {
	cfg := evalForecastConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.Heads = 5
	if err := bad.Validate(); err == nil {
		t.Error("expected error for indivisible head count")
	}

	bad = cfg
	bad.Horizon = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero horizon")
	}
}
