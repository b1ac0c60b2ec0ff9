package mel

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/sbinet/npyio"
)

// ReadNPY decodes a 2-D (T, C) float array in C order.
func ReadNPY(r io.Reader) (Frames, error) {
	data, shape, err := readNPY(r)
	if err != nil {
		return Frames{}, err
	}

	return fromShape(shape, data)
}

// LoadSamples reads reference audio stored as .npy. Float arrays in [-1, 1]
// are scaled to 16-bit range; integer arrays are taken as-is.
func LoadSamples(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mel: open %s: %w", path, err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("mel: %s: %w", path, err)
	}

	n := 1
	for _, d := range r.Header.Descr.Shape {
		n *= d
	}

	switch r.Header.Descr.Type {
	case "<i2", "<i4", "<i8":
		var raw []int64
		if err := readInts(r, &raw); err != nil {
			return nil, fmt.Errorf("mel: %s: %w", path, err)
		}

		out := make([]int, len(raw))
		for i, v := range raw {
			out[i] = int(v)
		}

		return out, nil
	}

	values, err := readFloats(r)
	if err != nil {
		return nil, fmt.Errorf("mel: %s: %w", path, err)
	}

	if len(values) != n {
		return nil, fmt.Errorf("mel: %s: read %d values, header says %d", path, len(values), n)
	}

	scale := 1.0
	peak := 0.0

	for _, v := range values {
		peak = max(peak, math.Abs(v))
	}

	if peak <= 1 {
		scale = 32767
	}

	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(math.Round(v * scale))
	}

	return out, nil
}

func readNPY(r io.Reader) ([]float32, []int64, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, err
	}

	if nr.Header.Descr.Fortran {
		return nil, nil, errors.New("fortran-ordered arrays are not supported")
	}

	values, err := readFloats(nr)
	if err != nil {
		return nil, nil, err
	}

	shape := make([]int64, len(nr.Header.Descr.Shape))
	for i, d := range nr.Header.Descr.Shape {
		shape[i] = int64(d)
	}

	data := make([]float32, len(values))
	for i, v := range values {
		data[i] = float32(v)
	}

	return data, shape, nil
}

func readFloats(r *npyio.Reader) ([]float64, error) {
	switch r.Header.Descr.Type {
	case "<f4", "float32":
		var raw []float32
		if err := r.Read(&raw); err != nil {
			return nil, err
		}

		out := make([]float64, len(raw))
		for i, v := range raw {
			out[i] = float64(v)
		}

		return out, nil
	case "<f8", "float64":
		var raw []float64
		if err := r.Read(&raw); err != nil {
			return nil, err
		}

		return raw, nil
	default:
		return nil, fmt.Errorf("%w: dtype %q", ErrUnsupportedFormat, r.Header.Descr.Type)
	}
}

func readInts(r *npyio.Reader, out *[]int64) error {
	switch r.Header.Descr.Type {
	case "<i2":
		var raw []int16
		if err := r.Read(&raw); err != nil {
			return err
		}

		*out = make([]int64, len(raw))
		for i, v := range raw {
			(*out)[i] = int64(v)
		}
	case "<i4":
		var raw []int32
		if err := r.Read(&raw); err != nil {
			return err
		}

		*out = make([]int64, len(raw))
		for i, v := range raw {
			(*out)[i] = int64(v)
		}
	default:
		return r.Read(out)
	}

	return nil
}
