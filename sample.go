package tinyseq

import (
	"math"
	"math/rand"
	"sort"
)

// Sampling utilities over one vocabulary row emitted by the generator
// head. They accept raw logits or log-probabilities interchangeably.

// SoftmaxTemp converts a logit row to probabilities at the given
// temperature. Non-positive temperatures fall back to 1.
func SoftmaxTemp(logits []float32, temp float32) []float32 {
	if temp <= 0 {
		temp = 1
	}
	maxv := float32(math.Inf(-1))
	for _, v := range logits {
		if v > maxv {
			maxv = v
		}
	}
	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64((v - maxv) / temp)))
		out[i] = e
		sum += e
	}
	if sum == 0 {
		sum = 1
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// TopK keeps only the k most probable entries and renormalizes.
func TopK(probs []float32, k int) []float32 {
	if k <= 0 || k >= len(probs) {
		return probs
	}
	type kv struct {
		i int
		p float32
	}
	arr := make([]kv, len(probs))
	for i, p := range probs {
		arr[i] = kv{i, p}
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].p > arr[j].p })
	out := make([]float32, len(probs))
	var s float32
	for _, e := range arr[:k] {
		out[e.i] = e.p
		s += e.p
	}
	if s == 0 {
		return probs
	}
	for i := range out {
		out[i] /= s
	}
	return out
}

// TopP keeps the smallest set of entries whose cumulative probability
// reaches pth (nucleus sampling) and renormalizes.
func TopP(probs []float32, pth float32) []float32 {
	if pth <= 0 || pth >= 1 {
		return probs
	}
	type kv struct {
		i int
		p float32
	}
	arr := make([]kv, len(probs))
	for i, p := range probs {
		arr[i] = kv{i, p}
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].p > arr[j].p })
	var cum float32
	var idx int
	for idx = 0; idx < len(arr); idx++ {
		cum += arr[idx].p
		if cum >= pth {
			idx++
			break
		}
	}
	out := make([]float32, len(probs))
	var s float32
	for i := 0; i < idx; i++ {
		out[arr[i].i] = arr[i].p
		s += arr[i].p
	}
	if s == 0 {
		return probs
	}
	for i := range out {
		out[i] /= s
	}
	return out
}

// Choice samples an index from a probability distribution.
func Choice(probs []float32) int {
	r := rand.Float32()
	var cum float32
	for i, p := range probs {
		cum += p
		if r <= cum {
			return i
		}
	}
	return len(probs) - 1
}
