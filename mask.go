package tinyseq

import (
	"fmt"
	"sync"

	"gorgonia.org/tensor"
)

// Forbidden positions receive a large negative score before softmax, so
// their post-softmax probability is effectively zero.
const maskedScore = float32(-1e9)

var (
	causalMu   sync.Mutex
	causalMemo = map[int]*tensor.Dense{}
)

// CausalMask returns the (n, n) allowance matrix for causal attention:
// entry (i, j) is 1 when query position i may attend to key position j
// (j <= i) and 0 otherwise. Masks are memoized by length and shared, so
// callers must treat the result as read-only.
func CausalMask(n int) (*tensor.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("causal mask length must be positive, got %d", n)
	}

	causalMu.Lock()
	defer causalMu.Unlock()
	if m, ok := causalMemo[n]; ok {
		return m, nil
	}

	backing := make([]float32, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			backing[i*n+j] = 1
		}
	}
	m := tensor.New(tensor.WithShape(n, n), tensor.WithBacking(backing))
	causalMemo[n] = m
	return m, nil
}

// combinedAdditiveMask builds the additive score offset for one forward
// call: 0 where attention is allowed, maskedScore where it is forbidden.
// The causal restriction and the padding restriction apply conjunctively.
// The result has shape (batch*heads, qLen, kLen) so it can be added
// directly to the flattened-head score tensor; the same restriction is
// replicated across all heads.
//
// padding, when non-nil, must be a float32 (batch, kLen) tensor where a
// nonzero entry marks an attendable key position. A query row left with
// no attendable key at all is a malformed mask and is rejected.
//
// Returns (nil, nil) when there is nothing to restrict.
func combinedAdditiveMask(batch, heads, qLen, kLen int, causal bool, padding *tensor.Dense) (*tensor.Dense, error) {
	if !causal && padding == nil {
		return nil, nil
	}
	if causal && qLen != kLen {
		return nil, fmt.Errorf("causal mask requires square scores, got %dx%d", qLen, kLen)
	}

	var causalData []float32
	if causal {
		cm, err := CausalMask(qLen)
		if err != nil {
			return nil, err
		}
		causalData = cm.Data().([]float32)
	}

	var padData []float32
	if padding != nil {
		shape := padding.Shape()
		if len(shape) != 2 || shape[0] != batch || shape[1] != kLen {
			return nil, fmt.Errorf("padding mask shape %v does not match (batch=%d, key_len=%d)", shape, batch, kLen)
		}
		pd, ok := padding.Data().([]float32)
		if !ok {
			return nil, fmt.Errorf("padding mask must be backed by float32, got %T", padding.Data())
		}
		padData = pd
	}

	backing := make([]float32, batch*heads*qLen*kLen)
	block := make([]float32, qLen*kLen)
	for b := 0; b < batch; b++ {
		for i := 0; i < qLen; i++ {
			allowed := false
			for j := 0; j < kLen; j++ {
				ok := true
				if causalData != nil && causalData[i*kLen+j] == 0 {
					ok = false
				}
				if ok && padData != nil && padData[b*kLen+j] == 0 {
					ok = false
				}
				if ok {
					block[i*kLen+j] = 0
					allowed = true
				} else {
					block[i*kLen+j] = maskedScore
				}
			}
			if !allowed {
				return nil, fmt.Errorf("malformed mask: every key position forbidden for batch %d, query %d", b, i)
			}
		}
		for h := 0; h < heads; h++ {
			copy(backing[(b*heads+h)*qLen*kLen:], block)
		}
	}

	return tensor.New(tensor.WithShape(batch*heads, qLen, kLen), tensor.WithBacking(backing)), nil
}
