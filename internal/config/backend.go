package config

import (
	"fmt"
	"strings"
)

const (
	// BackendNative runs the step cell in pure Go over safetensors weights.
	BackendNative = "native"
	// BackendONNX runs an exported step graph through ONNX Runtime.
	BackendONNX = "onnx"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendNative
	}

	switch backend {
	case BackendNative, BackendONNX:
		return backend, nil
	case "go", "native-safetensors":
		return BackendNative, nil
	case "ort", "onnxruntime":
		return BackendONNX, nil
	default:
		return "", fmt.Errorf("invalid backend %q (expected %s|%s)", raw, BackendNative, BackendONNX)
	}
}
