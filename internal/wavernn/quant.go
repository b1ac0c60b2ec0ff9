package wavernn

// ClassToValue maps a class index in [0, 255] to 2c/255 − 1 in [−1, 1]. The
// result is fed back into the network as the next step's input.
func ClassToValue(c int) float32 {
	return 2*float32(c)/255 - 1
}

// CombineSample joins the coarse and fine classes into a signed 16-bit sample.
func CombineSample(c, f int) int {
	return c*256 + f - 32768
}

// SplitSample is the inverse of CombineSample for samples in
// [−32768, 32767].
func SplitSample(sample int) (c, f int) {
	u := sample + 32768
	return u / 256, u % 256
}

// SampleToFloat scales a 16-bit sample to [−1, 1).
func SampleToFloat(sample int) float32 {
	return float32(sample) / 32768
}
