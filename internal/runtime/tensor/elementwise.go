package tensor

import "fmt"

// Mul multiplies two tensors of identical shape element by element.
func Mul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("tensor: mul requires non-nil inputs")
	}

	if !sameShape(a.shape, b.shape) {
		return nil, fmt.Errorf("tensor: mul shape mismatch %v vs %v", a.shape, b.shape)
	}

	out := make([]float32, len(a.data))
	for i := range out {
		out[i] = a.data[i] * b.data[i]
	}

	return newOwned(out, append([]int64(nil), a.shape...)), nil
}

func sameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
