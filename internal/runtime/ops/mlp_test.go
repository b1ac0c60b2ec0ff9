package ops

import "testing"

func TestMLPAppliesReLUBetweenLayers(t *testing.T) {
	x := mustTensor(t, []float32{1, -2}, 1, 2)
	w1 := mustTensor(t, []float32{1, 0, 0, 1}, 2, 2)
	w2 := mustTensor(t, []float32{1, 1}, 1, 2)
	b2 := mustTensor(t, []float32{0.5}, 1)

	out, err := MLP(x, w1, nil, w2, b2)
	if err != nil {
		t.Fatalf("mlp: %v", err)
	}

	// relu([1, -2]) = [1, 0]; 1 + 0 + 0.5.
	assertClose(t, "mlp", out.RawData(), []float32{1.5})
}

func TestMLPShapeError(t *testing.T) {
	x := mustTensor(t, []float32{1, 2, 3}, 1, 3)
	w1 := mustTensor(t, []float32{1, 0, 0, 1}, 2, 2)

	if _, err := MLP(x, w1, nil, w1, nil); err == nil {
		t.Fatal("expected shape error")
	}
}

func TestKernelTolerance(t *testing.T) {
	tol, err := KernelTolerance("gru_cell")
	if err != nil {
		t.Fatalf("tolerance: %v", err)
	}

	if !tol.Within(1.00005, 1) {
		t.Fatal("expected value within tolerance")
	}

	if tol.Within(1.01, 1) {
		t.Fatal("expected value outside tolerance")
	}

	if _, err := KernelTolerance("nope"); err == nil {
		t.Fatal("expected unknown kernel error")
	}
}
