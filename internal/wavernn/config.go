// Package wavernn implements the coarse/fine WaveRNN vocoder: the masked GRU
// step unit, the two output heads and the autoregressive sampling loop.
package wavernn

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig reports unusable model dimensions.
	ErrInvalidConfig = errors.New("wavernn: invalid config")
	// ErrShapeMismatch reports a tensor whose shape disagrees with the model.
	ErrShapeMismatch = errors.New("wavernn: shape mismatch")
	// ErrMissingWeight reports a checkpoint that lacks a required tensor.
	ErrMissingWeight = errors.New("wavernn: missing weight")
)

// Config holds the model dimensions.
type Config struct {
	QuantizationChannels int // Q, classes per 8-bit half
	GRUChannels          int // G, must be even
	FCChannels           int // hidden width of each head
	LCChannels           int // conditioning features per timestep
}

// DefaultConfig returns the 896-unit, 80-band configuration.
func DefaultConfig() Config {
	return Config{
		QuantizationChannels: 256,
		GRUChannels:          896,
		FCChannels:           896,
		LCChannels:           80,
	}
}

func (c Config) Validate() error {
	switch {
	case c.GRUChannels <= 0 || c.GRUChannels%2 != 0:
		return fmt.Errorf("%w: gru_channels must be a positive even number, got %d", ErrInvalidConfig, c.GRUChannels)
	case c.FCChannels <= 0:
		return fmt.Errorf("%w: fc_channels must be > 0, got %d", ErrInvalidConfig, c.FCChannels)
	case c.LCChannels < 0:
		return fmt.Errorf("%w: lc_channels must be >= 0, got %d", ErrInvalidConfig, c.LCChannels)
	case c.QuantizationChannels < 2 || c.QuantizationChannels > 256:
		return fmt.Errorf("%w: quantization_channels must be in [2, 256], got %d", ErrInvalidConfig, c.QuantizationChannels)
	}

	return nil
}

// SplitSize is G/2, the width of each hidden half.
func (c Config) SplitSize() int { return c.GRUChannels / 2 }

// InputWidth is lc+3: conditioning plus the (prev coarse, prev fine, current
// coarse) triple.
func (c Config) InputWidth() int { return c.LCChannels + 3 }
