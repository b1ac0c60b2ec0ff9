package ops

import (
	"fmt"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// MLP computes linear(relu(linear(x))).
func MLP(x, w1, b1, w2, b2 *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := tensor.Linear(x, w1, b1)
	if err != nil {
		return nil, fmt.Errorf("ops: mlp first linear: %w", err)
	}

	out, err := tensor.Linear(tensor.ReLU(h), w2, b2)
	if err != nil {
		return nil, fmt.Errorf("ops: mlp second linear: %w", err)
	}

	return out, nil
}
