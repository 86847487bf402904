// Package tinyseq defines a sequence-to-sequence attention model (a
// Transformer) and a single-stack variant for scalar time-series
// forecasting, built as Gorgonia expression graphs. The package covers
// the model definition only: execution, gradients and optimization are
// driven externally through Gorgonia's tape machine and solvers.
package tinyseq

import "fmt"

// Config holds the hyperparameters of the sequence-to-sequence model.
// All sizes are fixed at construction; the stacks are never resized at
// runtime.
type Config struct {
	SrcVocab int // source vocabulary size
	TgtVocab int // target vocabulary size
	DModel   int // feature width carried through the whole stack
	Heads    int // attention heads; DModel must divide evenly
	Layers   int // number of encoder and decoder blocks
	FFHidden int // feed-forward inner width (commonly 4*DModel)
	MaxLen   int // maximum sequence length for positional encoding

	Dropout  float64 // dropout probability, applied only when Training
	Training bool    // insert dropout nodes into the graph
}

// Validate checks the configuration before any parameter is allocated.
func (c Config) Validate() error {
	if c.SrcVocab <= 0 {
		return fmt.Errorf("src_vocab must be positive, got %d", c.SrcVocab)
	}
	if c.TgtVocab <= 0 {
		return fmt.Errorf("tgt_vocab must be positive, got %d", c.TgtVocab)
	}
	if c.DModel <= 0 {
		return fmt.Errorf("d_model must be positive, got %d", c.DModel)
	}
	if c.Heads <= 0 {
		return fmt.Errorf("num_heads must be positive, got %d", c.Heads)
	}
	if c.DModel%c.Heads != 0 {
		return fmt.Errorf("d_model (%d) must be divisible by num_heads (%d)", c.DModel, c.Heads)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("num_layers must be positive, got %d", c.Layers)
	}
	if c.FFHidden <= 0 {
		return fmt.Errorf("ff_hidden must be positive, got %d", c.FFHidden)
	}
	if c.MaxLen <= 0 {
		return fmt.Errorf("max_len must be positive, got %d", c.MaxLen)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0,1), got %v", c.Dropout)
	}
	return nil
}

// ForecastConfig holds the hyperparameters of the scalar time-series
// forecasting variant: a single encoder stack over a fixed window of
// scalar observations, predicting Horizon future steps.
type ForecastConfig struct {
	Window   int // input window length (block size)
	Horizon  int // number of future scalar steps predicted
	DModel   int
	Heads    int
	Layers   int
	FFHidden int

	Dropout  float64
	Training bool
}

// Validate checks the forecaster configuration.
func (c ForecastConfig) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %d", c.Window)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %d", c.Horizon)
	}
	if c.DModel <= 0 {
		return fmt.Errorf("d_model must be positive, got %d", c.DModel)
	}
	if c.Heads <= 0 {
		return fmt.Errorf("num_heads must be positive, got %d", c.Heads)
	}
	if c.DModel%c.Heads != 0 {
		return fmt.Errorf("d_model (%d) must be divisible by num_heads (%d)", c.DModel, c.Heads)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("num_layers must be positive, got %d", c.Layers)
	}
	if c.FFHidden <= 0 {
		return fmt.Errorf("ff_hidden must be positive, got %d", c.FFHidden)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0,1), got %v", c.Dropout)
	}
	return nil
}
