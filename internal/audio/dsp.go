package audio

import (
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// Hook post-processes float samples before encoding.
type Hook func(samples []float32) []float32

func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// dcCutoffHz is the corner frequency of the DC blocking filter.
const dcCutoffHz = 20.0

// PeakNormalize scales samples so the peak amplitude reaches 1.0.
func PeakNormalize(samples []float32) []float32 {
	buf := widen(samples)

	peak := vecmath.MaxAbs(buf)
	if peak == 0 {
		return samples
	}

	vecmath.ScaleBlockInPlace(buf, 1/peak)

	return narrow(buf)
}

// DCBlock removes DC offset from samples using a one-pole high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 || sampleRate < 1 {
		return samples
	}

	r := 1 - 2*math.Pi*dcCutoffHz/float64(sampleRate)

	var prevIn, prevOut float64

	out := make([]float32, len(samples))
	for i, s := range samples {
		x := float64(s)
		y := x - prevIn + r*prevOut
		prevIn, prevOut = x, y
		out[i] = float32(y)
	}

	return out
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := min(fadeLen(sampleRate, ms), len(samples))
	if n == 0 {
		return samples
	}

	out := append([]float32(nil), samples...)
	for i := range n {
		out[i] *= float32(i) / float32(n)
	}

	return out
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := min(fadeLen(sampleRate, ms), len(samples))
	if n == 0 {
		return samples
	}

	out := append([]float32(nil), samples...)
	start := len(out) - n

	for i := range n {
		out[start+i] *= float32(n-1-i) / float32(n)
	}

	return out
}

// Dither returns a hook adding one LSB of 16-bit TPDF noise, seeded for
// reproducible output.
func Dither(seed int64) Hook {
	state := vecmath.NewDitherState(seed)

	return func(samples []float32) []float32 {
		buf := widen(samples)
		vecmath.AddDitherTPDF(buf, 1.0/32767, state)

		return narrow(buf)
	}
}

func fadeLen(sampleRate int, ms float64) int {
	if sampleRate < 1 || ms <= 0 {
		return 0
	}

	return int(ms / 1000 * float64(sampleRate))
}

func widen(samples []float32) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}

	return out
}

func narrow(buf []float64) []float32 {
	out := make([]float32, len(buf))
	for i, v := range buf {
		out[i] = float32(v)
	}

	return out
}
