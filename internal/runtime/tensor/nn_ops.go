package tensor

import (
	"errors"
	"fmt"
	"math"
)

// Softmax applies softmax along dim.
func Softmax(x *Tensor, dim int) (*Tensor, error) {
	return normalizeAxis(x, dim, "softmax", false)
}

// LogSoftmax applies log-softmax along dim.
func LogSoftmax(x *Tensor, dim int) (*Tensor, error) {
	return normalizeAxis(x, dim, "log_softmax", true)
}

func normalizeAxis(x *Tensor, dim int, op string, logSpace bool) (*Tensor, error) {
	if x == nil {
		return nil, fmt.Errorf("tensor: %s on nil tensor", op)
	}

	if len(x.shape) == 0 {
		return nil, fmt.Errorf("tensor: %s requires rank >= 1", op)
	}

	dim, err := normalizeDim(dim, len(x.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: %s: %w", op, err)
	}

	axis := x.shape[dim]
	if axis <= 0 {
		return nil, fmt.Errorf("tensor: %s axis dimension must be > 0, got %d", op, axis)
	}

	inner := int64(1)
	for i := dim + 1; i < len(x.shape); i++ {
		inner *= x.shape[i]
	}

	outer := int64(1)
	for i := range dim {
		outer *= x.shape[i]
	}

	out := x.Clone()

	for o := range outer {
		for in := range inner {
			base := o*axis*inner + in
			maxV := float32(math.Inf(-1))

			for k := range axis {
				v := out.data[base+k*inner]
				if v > maxV {
					maxV = v
				}
			}

			var sum float64

			for k := range axis {
				sum += math.Exp(float64(out.data[base+k*inner] - maxV))
			}

			if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
				return nil, fmt.Errorf("tensor: %s encountered invalid normalization sum %v", op, sum)
			}

			if logSpace {
				logSum := float32(math.Log(sum))
				for k := range axis {
					i := base + k*inner
					out.data[i] = out.data[i] - maxV - logSum
				}

				continue
			}

			inv := 1.0 / sum
			for k := range axis {
				i := base + k*inner
				out.data[i] = float32(math.Exp(float64(out.data[i]-maxV)) * inv)
			}
		}
	}

	return out, nil
}

// Linear applies y = x * W^T + b where weight shape is [out, in]. Rows of x
// are split across the configured kernel workers.
func Linear(x, weight, bias *Tensor) (*Tensor, error) {
	if x == nil || weight == nil {
		return nil, errors.New("tensor: linear requires non-nil x and weight")
	}

	if x.Rank() < 1 {
		return nil, errors.New("tensor: linear requires x rank >= 1")
	}

	if weight.Rank() != 2 {
		return nil, fmt.Errorf("tensor: linear weight must be rank 2, got %d", weight.Rank())
	}

	in := x.shape[x.Rank()-1]

	out := weight.shape[0]
	if weight.shape[1] != in {
		return nil, fmt.Errorf("tensor: linear mismatch: x last dim %d, weight in dim %d", in, weight.shape[1])
	}

	if bias != nil {
		if bias.Rank() != 1 || bias.shape[0] != out {
			return nil, fmt.Errorf("tensor: linear bias shape %v does not match out dim %d", bias.shape, out)
		}
	}

	inI := int(in)
	outI := int(out)

	batch := 0
	if inI > 0 {
		batch = len(x.data) / inI
	}

	outData := make([]float32, batch*outI)
	if bias != nil {
		for r := range batch {
			copy(outData[r*outI:(r+1)*outI], bias.data)
		}
	}

	if inI > 0 && outI > 0 {
		parallelFor(batch, getWorkers(), func(lo, hi int) {
			gemvRows(weight.data, outI, inI, x.data, outData, lo, hi)
		})
	}

	outShape := make([]int64, x.Rank())
	copy(outShape, x.shape[:x.Rank()-1])
	outShape[x.Rank()-1] = out

	return newOwned(outData, outShape), nil
}

// ReLU clamps negative values to zero.
func ReLU(x *Tensor) *Tensor {
	return mapUnary(x, func(v float32) float32 {
		if v < 0 {
			return 0
		}

		return v
	})
}

func mapUnary(x *Tensor, fn func(float32) float32) *Tensor {
	if x == nil {
		return nil
	}

	out := make([]float32, len(x.data))
	for i, v := range x.data {
		out[i] = fn(v)
	}

	return newOwned(out, append([]int64(nil), x.shape...))
}
