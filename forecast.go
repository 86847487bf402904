package tinyseq

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Forecaster is the scalar time-series variant: each timestep of a
// fixed observation window is projected from one dimension up to
// dModel, a learned positional embedding is added, a single encoder
// stack runs over the window, and the last position's hidden state is
// extrapolated into Horizon future scalars.
type Forecaster struct {
	g   *gorgonia.ExprGraph
	cfg ForecastConfig

	wIn, bIn   *gorgonia.Node
	pos        *LearnedPositional
	encoder    *Encoder
	wOut, bOut *gorgonia.Node
}

// NewForecaster validates the configuration and allocates every
// parameter on g.
func NewForecaster(g *gorgonia.ExprGraph, cfg ForecastConfig) (*Forecaster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	encoder, err := NewEncoder(g, "fc_enc", cfg.Layers, cfg.DModel, cfg.Heads, cfg.FFHidden, cfg.Dropout, cfg.Training)
	if err != nil {
		return nil, err
	}
	return &Forecaster{
		g:   g,
		cfg: cfg,
		wIn: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, cfg.DModel),
			gorgonia.WithName("fc_in_w"),
			gorgonia.WithInit(gorgonia.GlorotU(1.0))),
		bIn: gorgonia.NewVector(g, tensor.Float32,
			gorgonia.WithShape(cfg.DModel),
			gorgonia.WithName("fc_in_b"),
			gorgonia.WithInit(gorgonia.Zeroes())),
		pos:     NewLearnedPositional(g, "fc", cfg.Window, cfg.DModel),
		encoder: encoder,
		wOut: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(cfg.DModel, cfg.Horizon),
			gorgonia.WithName("fc_out_w"),
			gorgonia.WithInit(gorgonia.GlorotU(1.0))),
		bOut: gorgonia.NewVector(g, tensor.Float32,
			gorgonia.WithShape(cfg.Horizon),
			gorgonia.WithName("fc_out_b"),
			gorgonia.WithInit(gorgonia.Zeroes())),
	}, nil
}

// Forward maps a (batch, window) scalar node to a (batch, horizon)
// forecast node. Windows longer than the configured block size are a
// contract violation; only the most recent position's hidden state is
// projected forward in time.
func (f *Forecaster) Forward(x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected 2D input (batch, window), got shape %v", shape)
	}
	batch, window := shape[0], shape[1]
	if window > f.cfg.Window {
		return nil, fmt.Errorf("window length %d exceeds configured block size %d", window, f.cfg.Window)
	}
	if window == 0 {
		return nil, fmt.Errorf("empty window")
	}

	// Per-timestep affine projection 1 -> dModel.
	flat, err := gorgonia.Reshape(x, tensor.Shape{batch * window, 1})
	if err != nil {
		return nil, fmt.Errorf("flattening window: %w", err)
	}
	h, err := affine(flat, f.wIn, f.bIn, f.cfg.DModel)
	if err != nil {
		return nil, fmt.Errorf("input projection: %w", err)
	}
	h3, err := gorgonia.Reshape(h, tensor.Shape{batch, window, f.cfg.DModel})
	if err != nil {
		return nil, fmt.Errorf("reshaping projected window: %w", err)
	}

	h3, err = f.pos.Apply(h3)
	if err != nil {
		return nil, err
	}
	if f.cfg.Training && f.cfg.Dropout > 0 {
		h3, err = gorgonia.Dropout(h3, f.cfg.Dropout)
		if err != nil {
			return nil, fmt.Errorf("front-end dropout: %w", err)
		}
	}

	enc, err := f.encoder.Forward(h3, nil)
	if err != nil {
		return nil, err
	}

	last, err := gorgonia.Slice(enc, gorgonia.S(0, batch), gorgonia.S(window-1))
	if err != nil {
		return nil, fmt.Errorf("selecting last position: %w", err)
	}
	out, err := affine(last, f.wOut, f.bOut, f.cfg.Horizon)
	if err != nil {
		return nil, fmt.Errorf("forecast projection: %w", err)
	}
	return out, nil
}

// Learnables returns every trainable parameter.
func (f *Forecaster) Learnables() []*gorgonia.Node {
	out := []*gorgonia.Node{f.wIn, f.bIn}
	out = append(out, f.pos.Learnables()...)
	out = append(out, f.encoder.Learnables()...)
	out = append(out, f.wOut, f.bOut)
	return out
}
