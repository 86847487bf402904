package tinyseq

import (
	"math"
	"math/rand"
	"testing"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// runGraph executes every node in g on a fresh tape machine.
func runGraph(t *testing.T, g *gorgonia.ExprGraph) {
	t.Helper()
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("vm.RunAll failed: %v", err)
	}
}

// nodeData returns the computed float32 backing of a node.
func nodeData(t *testing.T, n *gorgonia.Node) []float32 {
	t.Helper()
	v := n.Value()
	if v == nil {
		t.Fatalf("node %v has no value", n)
	}
	data, ok := v.Data().([]float32)
	if !ok {
		t.Fatalf("node %v is not float32-backed: %T", n, v.Data())
	}
	return data
}

// randDense builds a deterministic pseudo-random dense tensor.
func randDense(seed int64, shape ...int) *tensor.Dense {
	rng := rand.New(rand.NewSource(seed))
	size := 1
	for _, s := range shape {
		size *= s
	}
	backing := make([]float32, size)
	for i := range backing {
		backing[i] = rng.Float32()*2 - 1
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

// denseOf wraps a backing slice in a dense tensor.
func denseOf(backing []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

// tensorZeros builds an all-zeros dense tensor.
func tensorZeros(shape ...int) *tensor.Dense {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float32, size)))
}

// onesDense builds an all-ones dense tensor.
func onesDense(shape ...int) *tensor.Dense {
	size := 1
	for _, s := range shape {
		size *= s
	}
	backing := make([]float32, size)
	for i := range backing {
		backing[i] = 1
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
}

func approxEqual(a, b, tol float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func allFinite(data []float32) bool {
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func sameShape(s tensor.Shape, want ...int) bool {
	if len(s) != len(want) {
		return false
	}
	for i := range want {
		if s[i] != want[i] {
			return false
		}
	}
	return true
}
