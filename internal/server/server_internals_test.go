package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/go-wavernn/internal/config"
)

// --- New & WithShutdownTimeout ---

func TestNew_ShutdownTimeoutFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.ShutdownTimeout = 7

	s := New(cfg, nil)
	if s.shutdownTimeout != 7*time.Second {
		t.Errorf("shutdownTimeout = %v; want 7s", s.shutdownTimeout)
	}

	cfg.Server.ShutdownTimeout = 0
	if s := New(cfg, nil); s.shutdownTimeout != 30*time.Second {
		t.Errorf("shutdownTimeout = %v; want 30s fallback", s.shutdownTimeout)
	}
}

func TestWithShutdownTimeout_Chaining(t *testing.T) {
	s := New(config.DefaultConfig(), nil)

	returned := s.WithShutdownTimeout(10 * time.Second)
	if returned != s {
		t.Error("WithShutdownTimeout should return the same *Server")
	}

	if s.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v; want 10s", s.shutdownTimeout)
	}
}

// --- handlerOptions ---

func TestHandlerOptions_FromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Workers = 3
	cfg.Server.MaxFrames = 42
	cfg.Server.RequestTimeout = 9

	opts := defaultOptions()
	for _, fn := range New(cfg, nil).handlerOptions() {
		fn(&opts)
	}

	if opts.workers != 3 || opts.maxFrames != 42 || opts.requestTimeout != 9*time.Second {
		t.Errorf("options = %+v; want workers=3 maxFrames=42 requestTimeout=9s", opts)
	}

	cfg.Server.RequestTimeout = 0

	opts = defaultOptions()
	for _, fn := range New(cfg, nil).handlerOptions() {
		fn(&opts)
	}

	if opts.requestTimeout != defaultOptions().requestTimeout {
		t.Errorf("requestTimeout = %v; want default", opts.requestTimeout)
	}
}

// --- ProbeHTTP ---

func TestProbeHTTP_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().String()

	if err := ProbeHTTP(addr); err != nil {
		t.Errorf("ProbeHTTP(%q) = %v; want nil", addr, err)
	}
}

func TestProbeHTTP_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := ProbeHTTP(srv.Listener.Addr().String()); err == nil {
		t.Error("ProbeHTTP() = nil; want error for non-200 response")
	}
}

func TestProbeHTTP_ConnectionRefused(t *testing.T) {
	if err := ProbeHTTP("127.0.0.1:1"); err == nil {
		t.Error("ProbeHTTP() = nil; want error for unreachable host")
	}
}

func TestProbeGRPC_ConnectionRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := ProbeGRPC(ctx, "127.0.0.1:1"); err == nil {
		t.Error("ProbeGRPC() = nil; want error for unreachable host")
	}
}

// --- Start: model load failure ---

func TestStart_MissingModel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.ModelPath = t.TempDir() + "/missing.safetensors"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := New(cfg, nil).Start(ctx); err == nil {
		t.Error("Start() = nil; want error for missing model")
	}
}

func TestStart_InvalidBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Runtime.Backend = "bogus"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := New(cfg, nil).Start(ctx); err == nil {
		t.Error("Start() = nil; want error for invalid backend")
	}
}

// --- Functional options ---

func TestOptions(t *testing.T) {
	opts := defaultOptions()

	WithMaxFrames(1024)(&opts)
	WithWorkers(8)(&opts)
	WithRequestTimeout(90 * time.Second)(&opts)

	if opts.maxFrames != 1024 {
		t.Errorf("maxFrames = %d; want 1024", opts.maxFrames)
	}

	if opts.workers != 8 {
		t.Errorf("workers = %d; want 8", opts.workers)
	}

	if opts.requestTimeout != 90*time.Second {
		t.Errorf("requestTimeout = %v; want 90s", opts.requestTimeout)
	}

	WithLogger(nil)(&opts)

	if opts.logger == nil {
		t.Error("WithLogger(nil) cleared the logger")
	}
}
