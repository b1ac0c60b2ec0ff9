package wavernn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassToValue(t *testing.T) {
	assert.Equal(t, float32(-1), ClassToValue(0))
	assert.Equal(t, float32(1), ClassToValue(255))
	assert.InDelta(t, 0.00392, ClassToValue(128), 1e-5)
}

func TestCombineSample(t *testing.T) {
	tests := []struct {
		c, f, want int
	}{
		{0, 0, -32768},
		{255, 255, 32767},
		{128, 0, 0},
		{127, 255, -1},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.want, CombineSample(tt.c, tt.f), "CombineSample(%d, %d)", tt.c, tt.f)
	}
}

func TestSplitSampleInvertsCombine(t *testing.T) {
	for s := -32768; s <= 32767; s += 37 {
		c, f := SplitSample(s)
		assert.Equal(t, s, CombineSample(c, f))
	}

	c, f := SplitSample(32767)
	assert.Equal(t, 255, c)
	assert.Equal(t, 255, f)
}

func TestSampleToFloat(t *testing.T) {
	assert.Equal(t, float32(-1), SampleToFloat(-32768))
	assert.Equal(t, float32(0), SampleToFloat(0))
	assert.Less(t, SampleToFloat(32767), float32(1))
}
