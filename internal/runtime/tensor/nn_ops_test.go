package tensor

import (
	"math"
	"testing"
)

func TestSoftmax(t *testing.T) {
	x := mustNew(t, []float32{1, 2, 3}, 3)

	out, err := Softmax(x, 0)
	if err != nil {
		t.Fatalf("softmax: %v", err)
	}

	want := []float32{0.09003057, 0.24472848, 0.66524094}
	if got := out.Data(); !equalF32(got, want, 1e-5) {
		t.Fatalf("softmax = %v, want ~%v", got, want)
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x := mustNew(t, []float32{
		-3, 0, 100, 2,
		1, 1, 1, 1,
	}, 2, 4)

	out, err := Softmax(x, -1)
	if err != nil {
		t.Fatalf("softmax: %v", err)
	}

	data := out.RawData()
	for r := range 2 {
		var sum float64
		for _, v := range data[r*4 : (r+1)*4] {
			if v < 0 {
				t.Fatalf("negative probability %v", v)
			}

			sum += float64(v)
		}

		if math.Abs(sum-1) > 1e-5 {
			t.Fatalf("row %d sums to %v", r, sum)
		}
	}
}

func TestLogSoftmaxMatchesLogOfSoftmax(t *testing.T) {
	x := mustNew(t, []float32{0.5, -1, 2, 4, 4, 0}, 2, 3)

	sm, err := Softmax(x, 1)
	if err != nil {
		t.Fatalf("softmax: %v", err)
	}

	lsm, err := LogSoftmax(x, 1)
	if err != nil {
		t.Fatalf("log softmax: %v", err)
	}

	for i, p := range sm.RawData() {
		want := math.Log(float64(p))
		if got := float64(lsm.RawData()[i]); math.Abs(got-want) > 1e-5 {
			t.Fatalf("index %d: log_softmax = %v, want %v", i, got, want)
		}
	}
}

func TestSoftmaxRejectsNaN(t *testing.T) {
	x := mustNew(t, []float32{float32(math.NaN()), 1}, 2)
	if _, err := Softmax(x, 0); err == nil {
		t.Fatal("expected error for NaN input")
	}
}

func TestLinear(t *testing.T) {
	x := mustNew(t, []float32{1, 2, 3, 4}, 2, 2)
	w := mustNew(t, []float32{1, 0, 0, 1, 1, 1}, 3, 2)
	b := mustNew(t, []float32{0.5, -0.5, 1}, 3)

	out, err := Linear(x, w, b)
	if err != nil {
		t.Fatalf("linear: %v", err)
	}

	if got := out.Shape(); !equalI64(got, []int64{2, 3}) {
		t.Fatalf("shape = %v, want [2 3]", got)
	}

	want := []float32{1.5, 1.5, 4, 3.5, 3.5, 8}
	if got := out.Data(); !equalF32(got, want, 1e-6) {
		t.Fatalf("data = %v, want %v", got, want)
	}
}

func TestLinearNoBiasParallel(t *testing.T) {
	SetWorkers(4)
	t.Cleanup(func() { SetWorkers(1) })

	rows := 9
	x := make([]float32, rows*2)
	for i := range x {
		x[i] = float32(i)
	}

	xt := mustNew(t, x, int64(rows), 2)
	w := mustNew(t, []float32{1, 1, 2, -1}, 2, 2)

	out, err := Linear(xt, w, nil)
	if err != nil {
		t.Fatalf("linear: %v", err)
	}

	for r := range rows {
		a, b := x[2*r], x[2*r+1]
		got := out.RawData()[2*r : 2*r+2]
		if got[0] != a+b || got[1] != 2*a-b {
			t.Fatalf("row %d = %v", r, got)
		}
	}
}

func TestLinearShapeErrors(t *testing.T) {
	x := mustNew(t, []float32{1, 2, 3}, 1, 3)
	w := mustNew(t, []float32{1, 2, 3, 4}, 2, 2)

	if _, err := Linear(x, w, nil); err == nil {
		t.Fatal("expected in-dim mismatch error")
	}

	w3 := mustNew(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	bad := mustNew(t, []float32{1, 2, 3}, 3)

	if _, err := Linear(x, w3, bad); err == nil {
		t.Fatal("expected bias mismatch error")
	}
}

func TestReLU(t *testing.T) {
	x := mustNew(t, []float32{-2, 0, 3}, 3)

	if got := ReLU(x).Data(); !equalF32(got, []float32{0, 0, 3}, 0) {
		t.Fatalf("relu = %v", got)
	}

	if ReLU(nil) != nil {
		t.Fatal("expected nil passthrough")
	}
}

func TestParallelForCoversRange(t *testing.T) {
	seen := make([]int, 17)
	parallelFor(len(seen), 5, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			seen[i]++
		}
	})

	for i, n := range seen {
		if n != 1 {
			t.Fatalf("index %d visited %d times", i, n)
		}
	}
}
