package wavernn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/go-wavernn/internal/runtime/tensor"
	"github.com/example/go-wavernn/internal/safetensors"
)

// VarBuilder provides dotted, prefix-scoped tensor lookup over a safetensors
// store, mirroring PyTorch module paths such as "fc_coarse.0.weight".
type VarBuilder struct {
	store  *safetensors.Store
	prefix string
}

func NewVarBuilder(store *safetensors.Store) *VarBuilder {
	return &VarBuilder{store: store}
}

func (vb *VarBuilder) Path(parts ...string) *VarBuilder {
	if vb == nil {
		return nil
	}

	prefix := vb.prefix

	for _, part := range parts {
		part = strings.Trim(strings.TrimSpace(part), ".")
		if part == "" {
			continue
		}

		if prefix == "" {
			prefix = part
		} else {
			prefix += "." + part
		}
	}

	return &VarBuilder{store: vb.store, prefix: prefix}
}

func (vb *VarBuilder) Has(name string) bool {
	if vb == nil || vb.store == nil {
		return false
	}

	return vb.store.Has(vb.resolve(name))
}

// Tensor loads name, checking its shape when wantShape is given. Absent
// tensors wrap ErrMissingWeight and wrong shapes wrap ErrShapeMismatch.
func (vb *VarBuilder) Tensor(name string, wantShape ...int64) (*tensor.Tensor, error) {
	if vb == nil || vb.store == nil {
		return nil, errors.New("wavernn: varbuilder has no store")
	}

	fullName := vb.resolve(name)
	if !vb.store.Has(fullName) {
		return nil, fmt.Errorf("%w: %q", ErrMissingWeight, fullName)
	}

	if len(wantShape) > 0 {
		shape, _ := vb.store.Shape(fullName)
		if !equalShape(shape, wantShape) {
			return nil, fmt.Errorf("%w: tensor %q has shape %v, want %v", ErrShapeMismatch, fullName, shape, wantShape)
		}
	}

	st, err := vb.store.Tensor(fullName)
	if err != nil {
		return nil, err
	}

	t, err := tensor.FromData(st.Data, st.Shape)
	if err != nil {
		return nil, fmt.Errorf("wavernn: tensor %q: %w", fullName, err)
	}

	return t, nil
}

func (vb *VarBuilder) TensorMaybe(name string, wantShape ...int64) (*tensor.Tensor, bool, error) {
	if !vb.Has(name) {
		return nil, false, nil
	}

	t, err := vb.Tensor(name, wantShape...)
	if err != nil {
		return nil, true, err
	}

	return t, true, nil
}

func (vb *VarBuilder) resolve(name string) string {
	name = strings.TrimSpace(name)
	if vb == nil || vb.prefix == "" {
		return name
	}

	if name == "" {
		return vb.prefix
	}

	return vb.prefix + "." + name
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
