package safetensors

import (
	"fmt"
)

// Tensor holds a single tensor loaded from a safetensors file.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// LoadFirstTensor reads a safetensors file and returns its first tensor in
// name order. Conditioning files carry a single mel matrix, so this is how
// they are read.
func LoadFirstTensor(path string) (*Tensor, error) {
	store, err := OpenStore(path, StoreOptions{})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return firstTensor(store)
}

// LoadFirstTensorFromBytes decodes a safetensors payload and returns the first
// tensor.
func LoadFirstTensorFromBytes(data []byte) (*Tensor, error) {
	store, err := OpenStoreFromBytes(data, StoreOptions{})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return firstTensor(store)
}

func firstTensor(store *Store) (*Tensor, error) {
	names := store.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("safetensors: no tensors found")
	}

	return store.Tensor(names[0])
}
