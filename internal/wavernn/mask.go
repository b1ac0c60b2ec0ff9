package wavernn

import (
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// BuildMask returns the (3*gru, lc+3) input-to-hidden mask. Within each of the
// three gate blocks the first gru/2 rows (the coarse half) cannot see the last
// input column, which carries the current coarse value; every other entry is 1.
func BuildMask(gruChannels, lcChannels int) (*tensor.Tensor, error) {
	if gruChannels <= 0 || gruChannels%2 != 0 {
		return nil, fmt.Errorf("%w: mask needs a positive even gru_channels, got %d", ErrInvalidConfig, gruChannels)
	}

	if lcChannels < 0 {
		return nil, fmt.Errorf("%w: mask needs lc_channels >= 0, got %d", ErrInvalidConfig, lcChannels)
	}

	cols := lcChannels + 3
	rows := 3 * gruChannels
	half := gruChannels / 2
	data := make([]float32, rows*cols)

	for i := range data {
		data[i] = 1
	}

	for gate := range 3 {
		for r := range half {
			data[(gate*gruChannels+r)*cols+cols-1] = 0
		}
	}

	return tensor.FromData(data, []int64{int64(rows), int64(cols)})
}

// ApplyMask returns weightIH ⊙ mask. The input is left untouched, and applying
// the mask again yields the same tensor.
func ApplyMask(weightIH, mask *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := tensor.Mul(weightIH, mask)
	if err != nil {
		return nil, fmt.Errorf("%w: apply mask: %w", ErrShapeMismatch, err)
	}

	return out, nil
}

// maskHolds reports whether every masked-out entry of w is exactly zero.
func maskHolds(w, mask *tensor.Tensor) bool {
	wd := w.RawData()
	md := mask.RawData()

	if len(wd) != len(md) {
		return false
	}

	for i, m := range md {
		if m == 0 && wd[i] != 0 {
			return false
		}
	}

	return true
}
