package wavernn

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws a class index from a probability vector.
type Sampler interface {
	Sample(probs []float32) (int, error)
}

var errDegenerate = errors.New("wavernn: degenerate distribution")

// CategoricalSampler draws from the categorical distribution given by probs.
// Draws are reproducible for a fixed seed and call order.
type CategoricalSampler struct {
	mu  sync.Mutex
	src rand.Source
	buf []float64
}

func NewCategoricalSampler(seed uint64) *CategoricalSampler {
	return &CategoricalSampler{src: rand.NewPCG(seed, seed>>1|1)}
}

func (s *CategoricalSampler) Sample(probs []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cap(s.buf) < len(probs) {
		s.buf = make([]float64, len(probs))
	}

	w := s.buf[:len(probs)]

	if err := toWeights(probs, w); err != nil {
		return 0, err
	}

	return int(distuv.NewCategorical(w, s.src).Rand()), nil
}

// ArgmaxSampler always picks the most probable class. Ties go to the lowest
// index.
type ArgmaxSampler struct{}

func (ArgmaxSampler) Sample(probs []float32) (int, error) {
	if len(probs) == 0 {
		return 0, fmt.Errorf("%w: empty probability vector", errDegenerate)
	}

	best := 0
	for i, p := range probs {
		if math.IsNaN(float64(p)) {
			return 0, fmt.Errorf("%w: NaN probability at %d", errDegenerate, i)
		}

		if p > probs[best] {
			best = i
		}
	}

	return best, nil
}

func toWeights(probs []float32, w []float64) error {
	if len(probs) == 0 {
		return fmt.Errorf("%w: empty probability vector", errDegenerate)
	}

	var sum float64

	for i, p := range probs {
		v := float64(p)
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: invalid probability %v at %d", errDegenerate, p, i)
		}

		w[i] = v
		sum += v
	}

	if sum <= 0 {
		return fmt.Errorf("%w: probabilities sum to zero", errDegenerate)
	}

	return nil
}
