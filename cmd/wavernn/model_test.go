package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-wavernn/internal/model"
)

func TestModelInitVerifyInspect(t *testing.T) {
	restoreConfig(t)

	path := filepath.Join(t.TempDir(), "wavernn.safetensors")

	if err := runCLI(t, append([]string{"model", "init", "--init-seed", "9"}, tinyArgs(path)...)...); err != nil {
		t.Fatalf("model init: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}

	if err := runCLI(t, append([]string{"model", "verify"}, tinyArgs(path)...)...); err != nil {
		t.Fatalf("model verify: %v", err)
	}

	if err := runCLI(t, append([]string{"model", "inspect"}, tinyArgs(path)...)...); err != nil {
		t.Fatalf("model inspect: %v", err)
	}
}

func TestModelVerify_MismatchFails(t *testing.T) {
	restoreConfig(t)

	path := filepath.Join(t.TempDir(), "wavernn.safetensors")

	if err := runCLI(t, append([]string{"model", "init"}, tinyArgs(path)...)...); err != nil {
		t.Fatalf("model init: %v", err)
	}

	args := append([]string{"model", "verify"}, tinyArgs(path)...)
	args = append(args, "--model-fc-channels", "4")

	err := runCLI(t, args...)
	if err == nil || !strings.Contains(err.Error(), "model verify failed") {
		t.Fatalf("err = %v; want verify failure", err)
	}
}

func TestModelDownload(t *testing.T) {
	restoreConfig(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.json")

	body := `{"repo":"org/wavernn","files":[{"filename":"w.bin","revision":"main",` +
		`"sha256":"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"}]}`
	if err := os.WriteFile(manifest, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "models")

	if err := runCLI(t, "model", "download", "--manifest", manifest, "--out-dir", out, "--base-url", srv.URL); err != nil {
		t.Fatalf("model download: %v", err)
	}

	if err := model.VerifyLocked(out, nil); err != nil {
		t.Fatalf("VerifyLocked: %v", err)
	}

	if err := runCLI(t, "model", "download"); err == nil {
		t.Error("expected --manifest to be required")
	}
}
