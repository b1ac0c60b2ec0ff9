package ops

import "fmt"

// Tolerance defines acceptable numeric drift between the native kernels and
// an ONNX Runtime execution of the same step graph.
type Tolerance struct {
	Abs float64
	Rel float64
}

// KernelTolerances defines per-kernel parity targets.
var KernelTolerances = map[string]Tolerance{
	"linear":       {Abs: 1e-4, Rel: 1e-4},
	"softmax":      {Abs: 1e-5, Rel: 1e-4},
	"log_softmax":  {Abs: 1e-4, Rel: 1e-4},
	"mlp":          {Abs: 2e-4, Rel: 2e-4},
	"gru_cell":     {Abs: 1e-4, Rel: 1e-4},
	"gru_sequence": {Abs: 5e-4, Rel: 5e-4},
	"mask":         {Abs: 0, Rel: 0},
}

func KernelTolerance(name string) (Tolerance, error) {
	t, ok := KernelTolerances[name]
	if !ok {
		return Tolerance{}, fmt.Errorf("ops: no tolerance configured for kernel %q", name)
	}

	return t, nil
}

// Within reports whether got is within the tolerance of want.
func (t Tolerance) Within(got, want float32) bool {
	diff := float64(got - want)
	if diff < 0 {
		diff = -diff
	}

	ref := float64(want)
	if ref < 0 {
		ref = -ref
	}

	return diff <= t.Abs+t.Rel*ref
}
