// Package config provides configuration management for the clipdeck agent.
// Values come from defaults, an optional clipdeck.yaml, a .env file and
// CLIPDECK_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipdeck"

	EnvPrefix      = "CLIPDECK"
	ConfigFileName = "clipdeck"

	// Database filename
	DBFilename = "clipdeck.db"

	DefaultFallbackDuration  = 8.0
	DefaultDriftTolerance    = 0.25
	DefaultTickInterval      = 50 * time.Millisecond
	DefaultProbePollInterval = 2 * time.Second
	DefaultProbeTimeout      = 30 * time.Second
	DefaultRenderPoll        = 1200 * time.Millisecond

	StorageFS    = "fs"
	StorageMinio = "minio"
)

// Keys understood in clipdeck.yaml. Environment variables use the
// upper-cased key with dots replaced by underscores, e.g. CLIPDECK_RENDER_ENDPOINT.
const (
	KeyPort              = "port"
	KeyLogLevel          = "log.level"
	KeyLogFile           = "log.file"
	KeyDataDir           = "data_dir"
	KeyDBPath            = "db_path"
	KeyMediaDir          = "media_dir"
	KeyImportDir         = "import_dir"
	KeyFFprobePath       = "ffprobe.path"
	KeyProbeTimeout      = "ffprobe.timeout"
	KeyProbePollInterval = "ffprobe.poll_interval"
	KeyFallbackDuration  = "timeline.fallback_duration"
	KeyDriftTolerance    = "playback.drift_tolerance"
	KeyTickInterval      = "playback.tick_interval"
	KeyRenderEndpoint    = "render.endpoint"
	KeyRenderPoll        = "render.poll_interval"
	KeyStorageBackend    = "storage.backend"
	KeyMinioEndpoint     = "storage.minio.endpoint"
	KeyMinioAccessKey    = "storage.minio.access_key"
	KeyMinioSecretKey    = "storage.minio.secret_key"
	KeyMinioBucket       = "storage.minio.bucket"
	KeyMinioUseSSL       = "storage.minio.use_ssl"
	KeyAllowedOrigins    = "allowed_origins"
	KeyHeadless          = "headless"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFile() string
	DataDir() string
	DBPath() string
	MediaDir() string
	ImportDir() string
	FFprobePath() string
	ProbeTimeout() time.Duration
	ProbePollInterval() time.Duration
	FallbackDuration() float64
	DriftTolerance() float64
	TickInterval() time.Duration
	RenderEndpoint() string
	RenderPollInterval() time.Duration
	Storage() StorageConfig
	AllowedOrigins() []string
	Headless() bool
}

// StorageConfig selects where imported media lives.
type StorageConfig struct {
	Backend        string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// ViperConfig is the Config backed by a private viper instance.
type ViperConfig struct {
	v *viper.Viper
}

// FlagKeys maps command-line flags to config keys. Flags that were set
// explicitly win over every other source.
var FlagKeys = map[string]string{
	"port":       KeyPort,
	"log-level":  KeyLogLevel,
	"data-dir":   KeyDataDir,
	"import-dir": KeyImportDir,
	"headless":   KeyHeadless,
}

// New loads .env from the working directory (if present), binds the flags
// in FlagKeys found in flags, then builds the configuration. A missing .env
// or clipdeck.yaml is not an error.
func New(flags *pflag.FlagSet) (*ViperConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	v := viper.New()
	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
				}
			}
		}
	}
	return Load(v)
}

// Load fills v with defaults and environment bindings, reads clipdeck.yaml
// from the data dir or working directory, and validates the result.
func Load(v *viper.Viper) (*ViperConfig, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyDataDir, defaultDataDir())
	v.SetDefault(KeyDBPath, "")
	v.SetDefault(KeyMediaDir, "")
	v.SetDefault(KeyImportDir, "")
	v.SetDefault(KeyFFprobePath, "ffprobe")
	v.SetDefault(KeyProbeTimeout, DefaultProbeTimeout)
	v.SetDefault(KeyProbePollInterval, DefaultProbePollInterval)
	v.SetDefault(KeyFallbackDuration, DefaultFallbackDuration)
	v.SetDefault(KeyDriftTolerance, DefaultDriftTolerance)
	v.SetDefault(KeyTickInterval, DefaultTickInterval)
	v.SetDefault(KeyRenderEndpoint, "")
	v.SetDefault(KeyRenderPoll, DefaultRenderPoll)
	v.SetDefault(KeyStorageBackend, StorageFS)
	v.SetDefault(KeyMinioEndpoint, "")
	v.SetDefault(KeyMinioAccessKey, "")
	v.SetDefault(KeyMinioSecretKey, "")
	v.SetDefault(KeyMinioBucket, "clipdeck-media")
	v.SetDefault(KeyMinioUseSSL, false)
	v.SetDefault(KeyAllowedOrigins, []string{})
	v.SetDefault(KeyHeadless, false)

	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(v.GetString(KeyDataDir))
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read %s.yaml: %w", ConfigFileName, err)
		}
	}

	cfg := &ViperConfig{v: v}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ViperConfig) validate() error {
	if raw := c.v.GetString(KeyPort); raw != "" {
		port := c.v.GetInt(KeyPort)
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s: port must be between 1 and 65535", envName(KeyPort))
		}
	}
	if c.FallbackDuration() <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envName(KeyFallbackDuration))
	}
	if c.DriftTolerance() <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envName(KeyDriftTolerance))
	}
	if c.TickInterval() <= 0 {
		return fmt.Errorf("invalid %s: must be positive", envName(KeyTickInterval))
	}
	switch backend := c.Storage().Backend; backend {
	case StorageFS:
	case StorageMinio:
		if c.Storage().MinioEndpoint == "" {
			return fmt.Errorf("%s is required for the minio backend", envName(KeyMinioEndpoint))
		}
	default:
		return fmt.Errorf("invalid %s: unknown backend %q", envName(KeyStorageBackend), backend)
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Port returns the HTTP server port
func (c *ViperConfig) Port() int {
	return c.v.GetInt(KeyPort)
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *ViperConfig) LogLevel() string {
	return c.v.GetString(KeyLogLevel)
}

// LogFile returns the rotated log file path, or "" for stdout only.
func (c *ViperConfig) LogFile() string {
	return c.v.GetString(KeyLogFile)
}

// DataDir returns the data directory path
func (c *ViperConfig) DataDir() string {
	return c.v.GetString(KeyDataDir)
}

// DBPath returns the full path to the SQLite database file
func (c *ViperConfig) DBPath() string {
	if p := c.v.GetString(KeyDBPath); p != "" {
		return p
	}
	return filepath.Join(c.DataDir(), DBFilename)
}

// MediaDir is where the fs storage backend keeps imported files.
func (c *ViperConfig) MediaDir() string {
	if p := c.v.GetString(KeyMediaDir); p != "" {
		return p
	}
	return filepath.Join(c.DataDir(), "media")
}

// ImportDir is the watched drop folder. Empty disables the watcher.
func (c *ViperConfig) ImportDir() string {
	return c.v.GetString(KeyImportDir)
}

func (c *ViperConfig) FFprobePath() string {
	return c.v.GetString(KeyFFprobePath)
}

func (c *ViperConfig) ProbeTimeout() time.Duration {
	return c.v.GetDuration(KeyProbeTimeout)
}

func (c *ViperConfig) ProbePollInterval() time.Duration {
	return c.v.GetDuration(KeyProbePollInterval)
}

// FallbackDuration is the length given to clips whose source has no
// probed duration yet.
func (c *ViperConfig) FallbackDuration() float64 {
	return c.v.GetFloat64(KeyFallbackDuration)
}

func (c *ViperConfig) DriftTolerance() float64 {
	return c.v.GetFloat64(KeyDriftTolerance)
}

func (c *ViperConfig) TickInterval() time.Duration {
	return c.v.GetDuration(KeyTickInterval)
}

// RenderEndpoint is the base URL of the remote render service. Empty
// disables render submission.
func (c *ViperConfig) RenderEndpoint() string {
	return c.v.GetString(KeyRenderEndpoint)
}

func (c *ViperConfig) RenderPollInterval() time.Duration {
	return c.v.GetDuration(KeyRenderPoll)
}

func (c *ViperConfig) Storage() StorageConfig {
	return StorageConfig{
		Backend:        strings.ToLower(c.v.GetString(KeyStorageBackend)),
		MinioEndpoint:  c.v.GetString(KeyMinioEndpoint),
		MinioAccessKey: c.v.GetString(KeyMinioAccessKey),
		MinioSecretKey: c.v.GetString(KeyMinioSecretKey),
		MinioBucket:    c.v.GetString(KeyMinioBucket),
		MinioUseSSL:    c.v.GetBool(KeyMinioUseSSL),
	}
}

// AllowedOrigins lists CORS origins allowed in addition to loopback.
// The env form is comma separated.
func (c *ViperConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range c.v.GetStringSlice(KeyAllowedOrigins) {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Headless disables the system tray.
func (c *ViperConfig) Headless() bool {
	return c.v.GetBool(KeyHeadless)
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
