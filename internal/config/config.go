package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/go-wavernn/internal/wavernn"
)

type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Model    ModelConfig    `mapstructure:"model"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Generate GenerateConfig `mapstructure:"generate"`
	Server   ServerConfig   `mapstructure:"server"`
	LogLevel string         `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelPath    string `mapstructure:"model_path"`
	ONNXCellPath string `mapstructure:"onnx_cell_path"`
	InputDir     string `mapstructure:"input_dir"`
	OutputDir    string `mapstructure:"output_dir"`
}

type ModelConfig struct {
	QuantizationChannels int    `mapstructure:"quantization_channels"`
	GRUChannels          int    `mapstructure:"gru_channels"`
	FCChannels           int    `mapstructure:"fc_channels"`
	LCChannels           int    `mapstructure:"lc_channels"`
	WeightPrefix         string `mapstructure:"weight_prefix"`
}

type RuntimeConfig struct {
	Backend        string `mapstructure:"backend"`
	Threads        int    `mapstructure:"threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	ORTAPIVersion  int    `mapstructure:"ort_api_version"`
}

type GenerateConfig struct {
	Seed             uint64 `mapstructure:"seed"` // 0 picks a time-based seed
	ProgressInterval int    `mapstructure:"progress_interval"`
	UpsampleFactor   int    `mapstructure:"upsample_factor"`
	SampleRate       int    `mapstructure:"sample_rate"`
	BatchSize        int    `mapstructure:"batch_size"` // 0 means one batch for every input
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	GRPCAddr        string `mapstructure:"grpc_addr"`
	Workers         int    `mapstructure:"workers"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // seconds
	RequestTimeout  int    `mapstructure:"request_timeout"`  // seconds
	MaxFrames       int    `mapstructure:"max_frames"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	model := wavernn.DefaultConfig()

	return Config{
		Paths: PathsConfig{
			ModelPath:    "models/wavernn.safetensors",
			ONNXCellPath: "models/wavernn_cell.onnx",
			InputDir:     "data/test",
			OutputDir:    "out",
		},
		Model: ModelConfig{
			QuantizationChannels: model.QuantizationChannels,
			GRUChannels:          model.GRUChannels,
			FCChannels:           model.FCChannels,
			LCChannels:           model.LCChannels,
			WeightPrefix:         "",
		},
		Runtime: RuntimeConfig{
			Backend:        BackendNative,
			Threads:        4,
			ORTLibraryPath: "",
			ORTVersion:     "",
			ORTAPIVersion:  23,
		},
		Generate: GenerateConfig{
			Seed:             0,
			ProgressInterval: wavernn.DefaultProgressInterval,
			UpsampleFactor:   1,
			SampleRate:       16000,
			BatchSize:        0,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			GRPCAddr:        ":9090",
			Workers:         2,
			ShutdownTimeout: 30,
			RequestTimeout:  300,
			MaxFrames:       2000,
		},
		LogLevel: "info",
	}
}

// ModelConfig projects the model section onto the vocoder dimensions.
func (c Config) ModelConfig() wavernn.Config {
	return wavernn.Config{
		QuantizationChannels: c.Model.QuantizationChannels,
		GRUChannels:          c.Model.GRUChannels,
		FCChannels:           c.Model.FCChannels,
		LCChannels:           c.Model.LCChannels,
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	var errs []error

	if err := c.ModelConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	if _, err := NormalizeBackend(c.Runtime.Backend); err != nil {
		errs = append(errs, err)
	}

	if c.Generate.UpsampleFactor < 1 {
		errs = append(errs, fmt.Errorf("generate.upsample_factor must be >= 1, got %d", c.Generate.UpsampleFactor))
	}

	if c.Generate.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("generate.sample_rate must be > 0, got %d", c.Generate.SampleRate))
	}

	if c.Generate.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("generate.batch_size must be >= 0, got %d", c.Generate.BatchSize))
	}

	return errors.Join(errs...)
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-path", defaults.Paths.ModelPath, "Path to the safetensors checkpoint (file or checkpoint directory)")
	fs.String("paths-onnx-cell-path", defaults.Paths.ONNXCellPath, "Path to the exported ONNX step cell")
	fs.String("paths-input-dir", defaults.Paths.InputDir, "Directory holding mel/ (and optional audio/) inputs")
	fs.String("paths-output-dir", defaults.Paths.OutputDir, "Directory for generated WAV files")
	fs.Int("model-quantization-channels", defaults.Model.QuantizationChannels, "Classes per coarse/fine half")
	fs.Int("model-gru-channels", defaults.Model.GRUChannels, "GRU hidden width (even)")
	fs.Int("model-fc-channels", defaults.Model.FCChannels, "Hidden width of each output head")
	fs.Int("model-lc-channels", defaults.Model.LCChannels, "Conditioning features per frame")
	fs.String("model-weight-prefix", defaults.Model.WeightPrefix, "Tensor name prefix inside the checkpoint (e.g. wavernn)")
	fs.String("backend", defaults.Runtime.Backend, "Step backend: native|onnx")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "Kernel worker goroutines")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Int("runtime-ort-api-version", defaults.Runtime.ORTAPIVersion, "ONNX Runtime C API version")
	fs.Uint64("seed", defaults.Generate.Seed, "Sampling seed (0 = time based)")
	fs.Int("progress-interval", defaults.Generate.ProgressInterval, "Log progress every N generated samples")
	fs.Int("upsample-factor", defaults.Generate.UpsampleFactor, "Repeat each conditioning frame N times")
	fs.Int("sample-rate", defaults.Generate.SampleRate, "Output WAV sample rate")
	fs.Int("batch-size", defaults.Generate.BatchSize, "Inputs per generation batch (0 = all)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.String("server-grpc-addr", defaults.Server.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.Int("workers", defaults.Server.Workers, "Concurrent vocode requests")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("max-frames", defaults.Server.MaxFrames, "Maximum conditioning frames per request")
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	registerAliases(v)

	v.SetEnvPrefix("WAVERNN")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)

	if err := v.BindEnv("runtime.ort_library_path", "WAVERNN_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}

	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("wavernn")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_path", c.Paths.ModelPath)
	v.SetDefault("paths.onnx_cell_path", c.Paths.ONNXCellPath)
	v.SetDefault("paths.input_dir", c.Paths.InputDir)
	v.SetDefault("paths.output_dir", c.Paths.OutputDir)
	v.SetDefault("model.quantization_channels", c.Model.QuantizationChannels)
	v.SetDefault("model.gru_channels", c.Model.GRUChannels)
	v.SetDefault("model.fc_channels", c.Model.FCChannels)
	v.SetDefault("model.lc_channels", c.Model.LCChannels)
	v.SetDefault("model.weight_prefix", c.Model.WeightPrefix)
	v.SetDefault("runtime.backend", c.Runtime.Backend)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.ort_api_version", c.Runtime.ORTAPIVersion)
	v.SetDefault("generate.seed", c.Generate.Seed)
	v.SetDefault("generate.progress_interval", c.Generate.ProgressInterval)
	v.SetDefault("generate.upsample_factor", c.Generate.UpsampleFactor)
	v.SetDefault("generate.sample_rate", c.Generate.SampleRate)
	v.SetDefault("generate.batch_size", c.Generate.BatchSize)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.grpc_addr", c.Server.GRPCAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.max_frames", c.Server.MaxFrames)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.model_path", "paths-model-path")
	v.RegisterAlias("paths.onnx_cell_path", "paths-onnx-cell-path")
	v.RegisterAlias("paths.input_dir", "paths-input-dir")
	v.RegisterAlias("paths.output_dir", "paths-output-dir")
	v.RegisterAlias("model.quantization_channels", "model-quantization-channels")
	v.RegisterAlias("model.gru_channels", "model-gru-channels")
	v.RegisterAlias("model.fc_channels", "model-fc-channels")
	v.RegisterAlias("model.lc_channels", "model-lc-channels")
	v.RegisterAlias("model.weight_prefix", "model-weight-prefix")
	v.RegisterAlias("runtime.backend", "backend")
	v.RegisterAlias("runtime.threads", "runtime-threads")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_version", "runtime-ort-version")
	v.RegisterAlias("runtime.ort_api_version", "runtime-ort-api-version")
	v.RegisterAlias("generate.seed", "seed")
	v.RegisterAlias("generate.progress_interval", "progress-interval")
	v.RegisterAlias("generate.upsample_factor", "upsample-factor")
	v.RegisterAlias("generate.sample_rate", "sample-rate")
	v.RegisterAlias("generate.batch_size", "batch-size")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.grpc_addr", "server-grpc-addr")
	v.RegisterAlias("server.workers", "workers")
	v.RegisterAlias("server.shutdown_timeout", "shutdown-timeout")
	v.RegisterAlias("server.request_timeout", "request-timeout")
	v.RegisterAlias("server.max_frames", "max-frames")
	v.RegisterAlias("log_level", "log-level")
}
