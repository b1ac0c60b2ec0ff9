package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultBaseURL is the Hugging Face host files are resolved against.
const DefaultBaseURL = "https://huggingface.co"

// Manifest pins the checkpoint files of a model repository. A file with an
// empty SHA256 is resolved from the hub's metadata on first download and
// persisted in the lock manifest.
type Manifest struct {
	Repo  string      `json:"repo"`
	Files []ModelFile `json:"files"`
}

type ModelFile struct {
	Filename string `json:"filename"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

// LoadManifest reads a JSON manifest from path.
func LoadManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}

	return m, nil
}

func (m Manifest) Validate() error {
	var errs []error

	if strings.TrimSpace(m.Repo) == "" {
		errs = append(errs, errors.New("repo is required"))
	}

	if len(m.Files) == 0 {
		errs = append(errs, errors.New("at least one file is required"))
	}

	for i, f := range m.Files {
		if f.Filename == "" {
			errs = append(errs, fmt.Errorf("file %d: filename is required", i))
		}

		if f.Revision == "" {
			errs = append(errs, fmt.Errorf("file %d: revision is required", i))
		}

		if f.SHA256 != "" && !isSHA256Hex(f.SHA256) {
			errs = append(errs, fmt.Errorf("file %d: sha256 %q is not a hex digest", i, f.SHA256))
		}
	}

	return errors.Join(errs...)
}
