package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/go-wavernn/internal/config"
	"github.com/example/go-wavernn/internal/mel"
	"github.com/example/go-wavernn/internal/vocoder"
)

// HealthService is the service name reported by the gRPC health server
// alongside the empty overall name.
const HealthService = "wavernn.Vocoder"

const contentTypeNPY = "application/x-npy"

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Vocoder turns one conditioning sequence into WAV bytes.
type Vocoder interface {
	VocodeWAV(ctx context.Context, frames mel.Frames) ([]byte, error)
}

// ModelInfo describes the loaded model.
type ModelInfo interface {
	Info() vocoder.Info
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxFrames      int
	workers        int
	requestTimeout time.Duration
	logger         *slog.Logger
}

func defaultOptions() options {
	return options{
		maxFrames:      2000,
		workers:        2,
		requestTimeout: 300 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxFrames caps the number of conditioning frames accepted by POST /vocode.
func WithMaxFrames(n int) Option {
	return func(o *options) { o.maxFrames = n }
}

// WithWorkers sets the maximum number of concurrent generations. Zero
// disables throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request generation deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	voc  Vocoder
	info ModelInfo
	opts options
	sem  chan struct{}
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /model and
// POST /vocode.
func NewHandler(voc Vocoder, info ModelInfo, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		voc:  voc,
		info: info,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/model", h.handleModel)
	mux.HandleFunc("/vocode", h.handleVocode)

	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleModel(w http.ResponseWriter, _ *http.Request) {
	if h.info == nil {
		writeError(w, http.StatusServiceUnavailable, "model not loaded")
		return
	}

	writeJSON(w, http.StatusOK, h.info.Info())
}

type vocodeRequest struct {
	Name   string      `json:"name"`
	Frames [][]float32 `json:"frames"`
}

// decodeFrames reads either a JSON body or a raw .npy array.
func decodeFrames(r *http.Request) (mel.Frames, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == contentTypeNPY {
		f, err := mel.ReadNPY(r.Body)
		if err != nil {
			return mel.Frames{}, fmt.Errorf("invalid npy body: %w", err)
		}

		f.Name = r.URL.Query().Get("name")

		return f, nil
	}

	var req vocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return mel.Frames{}, fmt.Errorf("invalid JSON: %w", err)
	}

	if len(req.Frames) == 0 {
		return mel.Frames{}, errors.New("frames field is required")
	}

	return mel.FromRows(req.Name, req.Frames)
}

func (h *handler) handleVocode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	frames, err := decodeFrames(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.opts.maxFrames > 0 && frames.Len > h.opts.maxFrames {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("input has %d frames, maximum is %d", frames.Len, h.opts.maxFrames))
		return
	}

	if h.info != nil {
		if want := h.info.Info().LCChannels; want > 0 && frames.Channels != want {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("input has %d channels, model expects %d", frames.Channels, want))
			return
		}
	}

	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	start := time.Now()
	wav, err := h.voc.VocodeWAV(ctx, frames)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			h.log.WarnContext(r.Context(), "generation timed out",
				slog.String("name", frames.Name),
				slog.Int("frames", frames.Len),
				slog.Int64("duration_ms", durationMS),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusGatewayTimeout, "generation timed out")

			return
		}

		h.log.ErrorContext(r.Context(), "generation failed",
			slog.String("name", frames.Name),
			slog.Int("frames", frames.Len),
			slog.Int64("duration_ms", durationMS),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	h.log.InfoContext(r.Context(), "generation complete",
		slog.String("name", frames.Name),
		slog.Int("frames", frames.Len),
		slog.Int64("duration_ms", durationMS),
		slog.Int("wav_bytes", len(wav)),
	)

	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server wires the handler into net/http and a gRPC health endpoint
// ---------------------------------------------------------------------------

type Server struct {
	cfg             config.Config
	svc             *vocoder.Service
	shutdownTimeout time.Duration
}

// New returns a server for cfg. A nil svc is loaded from cfg on Start.
func New(cfg config.Config, svc *vocoder.Service) *Server {
	timeout := 30 * time.Second
	if cfg.Server.ShutdownTimeout > 0 {
		timeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}

	return &Server{
		cfg:             cfg,
		svc:             svc,
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

func (s *Server) handlerOptions() []Option {
	opts := []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithMaxFrames(s.cfg.Server.MaxFrames),
	}

	if s.cfg.Server.RequestTimeout > 0 {
		opts = append(opts, WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second))
	}

	return opts
}

// Start serves until ctx ends, then drains both listeners.
func (s *Server) Start(ctx context.Context) error {
	svc := s.svc
	if svc == nil {
		var err error

		svc, err = vocoder.NewService(s.cfg)
		if err != nil {
			return fmt.Errorf("initialize vocoder: %w", err)
		}
		defer svc.Close()
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           NewHandler(svc, svc, s.handlerOptions()...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	var (
		grpcServer *grpc.Server
		healthSrv  *health.Server
	)

	if s.cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.Server.GRPCAddr)
		if err != nil {
			_ = httpServer.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}

		grpcServer = grpc.NewServer()
		healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthSrv.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

		slog.Info("grpc health listening", "addr", lis.Addr().String())

		go func() {
			errCh <- grpcServer.Serve(lis)
		}()
	}

	slog.Info("http listening", "addr", s.cfg.Server.ListenAddr, "backend", svc.Info().Backend)

	stopGRPC := func() {
		if grpcServer != nil {
			healthSrv.Shutdown()
			grpcServer.GracefulStop()
		}
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")

		stopGRPC()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}

		return nil
	case err := <-errCh:
		stopGRPC()
		_ = httpServer.Close()

		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}

		return fmt.Errorf("listen: %w", err)
	}
}

// ProbeHTTP checks the /health endpoint at addr.
func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}

	return nil
}

// ProbeGRPC asks the gRPC health service at addr for the vocoder status.
func ProbeGRPC(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return fmt.Errorf("grpc health check: %w", err)
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unexpected grpc health status: %s", resp.GetStatus())
	}

	return nil
}
