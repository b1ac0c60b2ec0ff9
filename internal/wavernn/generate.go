package wavernn

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/go-wavernn/internal/runtime/tensor"
)

// DefaultProgressInterval is the step period of progress reports.
const DefaultProgressInterval = 100

// ProgressFunc receives the 1-based count of finished steps, the total, and
// the average samples per second so far.
type ProgressFunc func(step, total int, samplesPerSec float64)

// Generator runs the autoregressive coarse/fine sampling loop.
type Generator struct {
	Cell    StepCell
	Sampler Sampler

	// Progress is called after step 0 and then every ProgressInterval steps.
	Progress         ProgressFunc
	ProgressInterval int
}

// Generate produces one sample row of length L per batch item from
// conditions of shape (B, L, lc). Values are in [−32768, 32767].
func (g *Generator) Generate(conditions *tensor.Tensor) ([][]int, error) {
	if g == nil || g.Cell == nil {
		return nil, errors.New("wavernn: generator has no cell")
	}

	if g.Sampler == nil {
		return nil, errors.New("wavernn: generator has no sampler")
	}

	cfg := g.Cell.Config()

	if conditions == nil || conditions.Rank() != 3 || conditions.Dim(2) != int64(cfg.LCChannels) {
		return nil, fmt.Errorf("%w: conditions have shape %v, want (B, L, %d)", ErrShapeMismatch, conditions.Shape(), cfg.LCChannels)
	}

	batch := int(conditions.Dim(0))
	steps := int(conditions.Dim(1))
	lc := cfg.LCChannels
	q := cfg.QuantizationChannels

	out := make([][]int, batch)
	for b := range out {
		out[b] = make([]int, steps)
	}

	if batch == 0 || steps == 0 {
		return out, nil
	}

	interval := g.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	h, err := tensor.Zeros([]int64{int64(batch), int64(cfg.GRUChannels)})
	if err != nil {
		return nil, err
	}

	cPrev := make([]float32, batch)
	fPrev := make([]float32, batch)
	cNew := make([]float32, batch)
	zero := make([]float32, batch)
	coarse := make([]int, batch)
	fine := make([]int, batch)

	cond := conditions.RawData()
	start := time.Now()

	for t := range steps {
		m, err := stepConditions(cond, batch, steps, lc, t)
		if err != nil {
			return nil, err
		}

		x, err := stepInput(cPrev, fPrev, zero)
		if err != nil {
			return nil, err
		}

		oc, err := g.Cell.StepCoarse(x, m, h)
		if err != nil {
			return nil, fmt.Errorf("wavernn: step %d coarse: %w", t, err)
		}

		if err := g.sampleRows(oc, q, coarse); err != nil {
			return nil, fmt.Errorf("wavernn: step %d coarse sample: %w", t, err)
		}

		for b, c := range coarse {
			cNew[b] = ClassToValue(c)
		}

		x, err = stepInput(cPrev, fPrev, cNew)
		if err != nil {
			return nil, err
		}

		of, next, err := g.Cell.StepFine(x, m, h)
		if err != nil {
			return nil, fmt.Errorf("wavernn: step %d fine: %w", t, err)
		}

		if err := g.sampleRows(of, q, fine); err != nil {
			return nil, fmt.Errorf("wavernn: step %d fine sample: %w", t, err)
		}

		for b := range batch {
			fPrev[b] = ClassToValue(fine[b])
			cPrev[b] = cNew[b]
			out[b][t] = CombineSample(coarse[b], fine[b])
		}

		h = next

		if g.Progress != nil && t%interval == 0 {
			elapsed := time.Since(start).Seconds()

			var rate float64
			if elapsed > 0 {
				rate = float64(t+1) / elapsed
			}

			g.Progress(t+1, steps, rate)
		}
	}

	return out, nil
}

func (g *Generator) sampleRows(logits *tensor.Tensor, q int, dst []int) error {
	if logits == nil || logits.Rank() != 2 || logits.Dim(0) != int64(len(dst)) || logits.Dim(1) != int64(q) {
		return fmt.Errorf("%w: logits have shape %v, want (%d, %d)", ErrShapeMismatch, logits.Shape(), len(dst), q)
	}

	probs, err := tensor.Softmax(logits, 1)
	if err != nil {
		return err
	}

	pd := probs.RawData()
	for b := range dst {
		cls, err := g.Sampler.Sample(pd[b*q : (b+1)*q])
		if err != nil {
			return err
		}

		if cls < 0 || cls >= q {
			return fmt.Errorf("wavernn: sampler returned class %d outside [0, %d)", cls, q)
		}

		dst[b] = cls
	}

	return nil
}

// Generate runs the sampling loop on a fresh cell derived from the model.
func (m *Model) Generate(conditions *tensor.Tensor, sampler Sampler, progress ProgressFunc) ([][]int, error) {
	cell, err := m.ToCell()
	if err != nil {
		return nil, err
	}

	g := &Generator{Cell: cell, Sampler: sampler, Progress: progress}

	return g.Generate(conditions)
}

func stepConditions(cond []float32, batch, steps, lc, t int) (*tensor.Tensor, error) {
	data := make([]float32, batch*lc)
	for b := range batch {
		src := (b*steps + t) * lc
		copy(data[b*lc:(b+1)*lc], cond[src:src+lc])
	}

	return tensor.FromData(data, []int64{int64(batch), int64(lc)})
}

func stepInput(cPrev, fPrev, cCur []float32) (*tensor.Tensor, error) {
	data := make([]float32, 3*len(cPrev))
	for b := range cPrev {
		data[3*b] = cPrev[b]
		data[3*b+1] = fPrev[b]
		data[3*b+2] = cCur[b]
	}

	return tensor.FromData(data, []int64{int64(len(cPrev)), 3})
}
