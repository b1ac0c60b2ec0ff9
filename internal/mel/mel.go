// Package mel loads local-conditioning sequences (mel spectrogram frames) and
// prepares them as batched vocoder input.
package mel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/safetensors"
)

var (
	ErrUnsupportedFormat = errors.New("mel: unsupported file format")
	ErrChannelMismatch   = errors.New("mel: channel count mismatch")
)

// Frames is a (T, C) conditioning sequence stored row-major.
type Frames struct {
	Name     string
	Data     []float32
	Len      int
	Channels int
}

func (f Frames) Row(t int) []float32 {
	return f.Data[t*f.Channels : (t+1)*f.Channels]
}

// FromRows builds frames from a slice of equal-width rows.
func FromRows(name string, rows [][]float32) (Frames, error) {
	if len(rows) == 0 {
		return Frames{}, fmt.Errorf("mel: %s has no frames", name)
	}

	channels := len(rows[0])
	data := make([]float32, 0, len(rows)*channels)

	for i, r := range rows {
		if len(r) != channels {
			return Frames{}, fmt.Errorf("%w: %s row %d has %d values, want %d", ErrChannelMismatch, name, i, len(r), channels)
		}

		data = append(data, r...)
	}

	return Frames{Name: name, Data: data, Len: len(rows), Channels: channels}, nil
}

// Load reads a conditioning file by extension: .npy or .safetensors.
func Load(path string) (Frames, error) {
	name := Stem(path)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		f, err := os.Open(path)
		if err != nil {
			return Frames{}, fmt.Errorf("mel: open %s: %w", path, err)
		}
		defer f.Close()

		frames, err := ReadNPY(f)
		if err != nil {
			return Frames{}, fmt.Errorf("mel: %s: %w", path, err)
		}

		frames.Name = name

		return frames, nil
	case ".safetensors":
		t, err := safetensors.LoadFirstTensor(path)
		if err != nil {
			return Frames{}, fmt.Errorf("mel: %s: %w", path, err)
		}

		frames, err := fromShape(t.Shape, t.Data)
		if err != nil {
			return Frames{}, fmt.Errorf("mel: %s: %w", path, err)
		}

		frames.Name = name

		return frames, nil
	default:
		return Frames{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ScanDir lists loadable conditioning files in dir, sorted by name.
func ScanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("mel: scan %s: %w", dir, err)
	}

	var out []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".npy", ".safetensors":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}

	slices.Sort(out)

	return out, nil
}

// Stem returns the base name up to the first dot.
func Stem(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}

	return base
}

// Repeat duplicates every frame factor times.
func Repeat(f Frames, factor int) (Frames, error) {
	if factor < 1 {
		return Frames{}, fmt.Errorf("mel: upsample factor must be >= 1, got %d", factor)
	}

	if factor == 1 {
		return f, nil
	}

	out := Frames{
		Name:     f.Name,
		Data:     make([]float32, 0, len(f.Data)*factor),
		Len:      f.Len * factor,
		Channels: f.Channels,
	}

	for t := range f.Len {
		row := f.Row(t)
		for range factor {
			out.Data = append(out.Data, row...)
		}
	}

	return out, nil
}

// PadBatch zero-pads every item to the longest length and stacks them into a
// (B, maxLen, C) tensor. The original lengths are returned alongside.
func PadBatch(items []Frames) (*tensor.Tensor, []int, error) {
	if len(items) == 0 {
		return nil, nil, errors.New("mel: empty batch")
	}

	channels := items[0].Channels
	maxLen := 0
	lengths := make([]int, len(items))

	for i, it := range items {
		if it.Channels != channels {
			return nil, nil, fmt.Errorf("%w: %s has %d channels, want %d", ErrChannelMismatch, it.Name, it.Channels, channels)
		}

		lengths[i] = it.Len
		maxLen = max(maxLen, it.Len)
	}

	data := make([]float32, len(items)*maxLen*channels)
	for i, it := range items {
		copy(data[i*maxLen*channels:], it.Data)
	}

	t, err := tensor.FromData(data, []int64{int64(len(items)), int64(maxLen), int64(channels)})
	if err != nil {
		return nil, nil, err
	}

	return t, lengths, nil
}

func fromShape(shape []int64, data []float32) (Frames, error) {
	switch len(shape) {
	case 2:
	case 3:
		if shape[0] != 1 {
			return Frames{}, fmt.Errorf("expected a single sequence, got shape %v", shape)
		}

		shape = shape[1:]
	default:
		return Frames{}, fmt.Errorf("expected (T, C) frames, got shape %v", shape)
	}

	if shape[0] < 1 || shape[1] < 1 {
		return Frames{}, fmt.Errorf("empty frames shape %v", shape)
	}

	return Frames{Data: data, Len: int(shape[0]), Channels: int(shape[1])}, nil
}
