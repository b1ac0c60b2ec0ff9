package main

import (
	"fmt"
	"os"

	"github.com/example/go-wavernn/internal/onnx"
)

func main() {
	err := NewRootCmd().Execute()

	onnx.Shutdown()

	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)

		os.Exit(1)
	}
}
