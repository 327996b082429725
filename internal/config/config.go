// Package config loads service configuration from an optional YAML file
// followed by APLAB_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/aplab/internal/auth"
	"github.com/star/aplab/internal/skycache"
	"github.com/star/aplab/internal/solver"
	"github.com/star/aplab/internal/stream"
)

// EnvFile names the variable holding the YAML config path.
const EnvFile = "APLAB_CONFIG"

type Server struct {
	Addr       string `yaml:"addr"`
	LogLevel   string `yaml:"log_level"`
	TrustProxy bool   `yaml:"trust_proxy"`
}

type Auth struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

type Data struct {
	Dir       string `yaml:"dir"`
	Watch     bool   `yaml:"watch"`
	ImagesDir string `yaml:"images_dir"` // object pictures; <dir>/images when empty
}

// Images returns the object picture directory.
func (d Data) Images() string {
	if d.ImagesDir != "" {
		return d.ImagesDir
	}
	return filepath.Join(d.Dir, "images")
}

type Catalog struct {
	SourceURL    string `yaml:"source_url"`
	CacheDir     string `yaml:"cache_dir"`
	MaxFiles     int    `yaml:"max_files"`
	FetchOnStart bool   `yaml:"fetch_on_start"`
}

type Sky struct {
	Location string        `yaml:"location"` // default location name; first location when empty
	Step     time.Duration `yaml:"step"`
	Horizon  time.Duration `yaml:"horizon"`
	Buffer   time.Duration `yaml:"buffer"`
	MinAlt   float64       `yaml:"min_alt"`
}

type Solver struct {
	Command        string        `yaml:"command"`
	Args           string        `yaml:"args"`
	HintArgs       string        `yaml:"hint_args"`
	WorkDir        string        `yaml:"work_dir"`
	Timeout        time.Duration `yaml:"timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	Retention      time.Duration `yaml:"retention"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

type Stream struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"`
	MaxTotal           int           `yaml:"max_total"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
}

// Config is the full service configuration.
type Config struct {
	Server  Server  `yaml:"server"`
	Auth    Auth    `yaml:"auth"`
	Data    Data    `yaml:"data"`
	Catalog Catalog `yaml:"catalog"`
	Sky     Sky     `yaml:"sky"`
	Solver  Solver  `yaml:"solver"`
	Stream  Stream  `yaml:"stream"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{Addr: ":8080", LogLevel: "info"},
		Data:   Data{Dir: "./data", Watch: true},
		Catalog: Catalog{
			CacheDir: "/tmp/aplab/catalog",
			MaxFiles: 5,
		},
		Sky: Sky{
			Step:    time.Minute,
			Horizon: 2 * time.Hour,
			Buffer:  2 * time.Minute,
		},
		Solver: Solver{
			Command:        solver.DefaultCommand,
			Args:           solver.DefaultArgs,
			HintArgs:       solver.DefaultHintArgs,
			WorkDir:        "/tmp/aplab/solve",
			Timeout:        2 * time.Minute,
			PollInterval:   500 * time.Millisecond,
			Workers:        2,
			QueueSize:      32,
			Retention:      time.Hour,
			MaxUploadBytes: 64 << 20,
		},
		Stream: Stream{
			MaxConcurrentPerIP: 10,
			MaxTotal:           1000,
			KeepaliveInterval:  15 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides. A missing or malformed
// file is an error; a malformed environment value logs a warning and keeps
// the previous value.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	env := envReader{logger: logger}
	env.setString("APLAB_HTTP_ADDR", &cfg.Server.Addr)
	env.setString("APLAB_LOG_LEVEL", &cfg.Server.LogLevel)
	env.setBool("APLAB_TRUST_PROXY", &cfg.Server.TrustProxy)

	if v := os.Getenv("APLAB_AUTH_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.New("APLAB_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Auth.Enabled = enabled
	}
	env.setString("APLAB_AUTH_TOKEN", &cfg.Auth.Token)

	env.setString("APLAB_DATA_DIR", &cfg.Data.Dir)
	env.setBool("APLAB_DATA_WATCH", &cfg.Data.Watch)
	env.setString("APLAB_IMAGES_DIR", &cfg.Data.ImagesDir)

	env.setString("APLAB_CATALOG_SOURCE_URL", &cfg.Catalog.SourceURL)
	env.setString("APLAB_CATALOG_CACHE_DIR", &cfg.Catalog.CacheDir)
	env.setPositiveInt("APLAB_CATALOG_MAX_FILES", &cfg.Catalog.MaxFiles)
	env.setBool("APLAB_CATALOG_FETCH", &cfg.Catalog.FetchOnStart)

	env.setString("APLAB_SKY_LOCATION", &cfg.Sky.Location)
	env.setSeconds("APLAB_SKY_STEP", &cfg.Sky.Step)
	env.setSeconds("APLAB_SKY_HORIZON", &cfg.Sky.Horizon)
	env.setSeconds("APLAB_SKY_BUFFER", &cfg.Sky.Buffer)
	env.setFloat("APLAB_SKY_MIN_ALT", &cfg.Sky.MinAlt)

	env.setString("APLAB_SOLVER_COMMAND", &cfg.Solver.Command)
	env.setString("APLAB_SOLVER_ARGS", &cfg.Solver.Args)
	env.setString("APLAB_SOLVER_HINT_ARGS", &cfg.Solver.HintArgs)
	env.setString("APLAB_SOLVER_WORK_DIR", &cfg.Solver.WorkDir)
	env.setSeconds("APLAB_SOLVER_TIMEOUT", &cfg.Solver.Timeout)
	env.setPositiveInt("APLAB_SOLVER_WORKERS", &cfg.Solver.Workers)
	env.setPositiveInt("APLAB_SOLVER_QUEUE_SIZE", &cfg.Solver.QueueSize)
	env.setSeconds("APLAB_SOLVER_RETENTION", &cfg.Solver.Retention)
	if v := os.Getenv("APLAB_SOLVER_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			logger.Warn("invalid APLAB_SOLVER_MAX_UPLOAD_BYTES value, using default", "value", v, "default", cfg.Solver.MaxUploadBytes)
		} else {
			cfg.Solver.MaxUploadBytes = n
		}
	}

	env.setPositiveInt("APLAB_STREAM_MAX_CONCURRENT", &cfg.Stream.MaxConcurrentPerIP)
	env.setPositiveInt("APLAB_STREAM_MAX_TOTAL", &cfg.Stream.MaxTotal)
	env.setSeconds("APLAB_STREAM_KEEPALIVE_INTERVAL", &cfg.Stream.KeepaliveInterval)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports configuration the service cannot start with.
func (c Config) Validate() error {
	if c.Auth.Enabled && c.Auth.Token == "" {
		return errors.New("auth token is required when auth is enabled")
	}
	if _, err := ParseLevel(c.Server.LogLevel); err != nil {
		return err
	}
	if c.Data.Dir == "" {
		return errors.New("data dir must not be empty")
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// Level is the configured log level; info when unparseable.
func (s Server) Level() slog.Level {
	l, err := ParseLevel(s.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func (a Auth) Config() auth.Config {
	return auth.Config{Enabled: a.Enabled, Token: a.Token}
}

func (s Sky) Config() skycache.Config {
	return skycache.Config{Step: s.Step, Horizon: s.Horizon, Buffer: s.Buffer}
}

func (s Solver) Config() solver.Config {
	return solver.Config{
		Command:      s.Command,
		Args:         s.Args,
		HintArgs:     s.HintArgs,
		WorkDir:      s.WorkDir,
		Timeout:      s.Timeout,
		PollInterval: s.PollInterval,
		Workers:      s.Workers,
		QueueSize:    s.QueueSize,
		Retention:    s.Retention,
	}
}

// StreamConfig combines the stream section with the server's proxy trust.
func (c Config) StreamConfig() stream.Config {
	return stream.Config{
		MaxConcurrentPerIP: c.Stream.MaxConcurrentPerIP,
		MaxTotal:           c.Stream.MaxTotal,
		KeepaliveInterval:  c.Stream.KeepaliveInterval,
		TrustProxy:         c.Server.TrustProxy,
	}
}

// envReader applies APLAB_* overrides, warning on malformed values.
type envReader struct {
	logger *slog.Logger
}

func (e envReader) setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e envReader) setBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = b
}

func (e envReader) setPositiveInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		e.logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = n
}

func (e envReader) setFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.logger.Warn("invalid "+key+" value, using default", "value", v, "default", *dst)
		return
	}
	*dst = f
}

// setSeconds reads a whole number of seconds.
func (e envReader) setSeconds(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		e.logger.Warn("invalid "+key+" value, using default", "value", v, "default_seconds", dst.Seconds())
		return
	}
	*dst = time.Duration(n) * time.Second
}
