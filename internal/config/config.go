// Package config provides configuration management for the highlightr agent.
// Configuration is loaded from environment variables with sensible defaults, optionally
// overlaid on a YAML file named by HIGHLIGHTR_CONFIG. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort              = 8787
	DefaultLogLevel          = "info"
	DefaultDataDir           = ".highlightr"
	DefaultBackendURL        = "http://localhost:5000"
	DefaultPollInterval      = 2 * time.Second
	DefaultPollBackoff       = 1.0
	DefaultPollMaxInterval   = 30 * time.Second
	DefaultUploadMaxBytes    = 100 * 1024 * 1024
	DefaultProgressMode      = "synthetic"
	DefaultControlsHideDelay = 3 * time.Second
	DefaultRequestTimeout    = 60 * time.Second
	DefaultWatchSettle       = 2 * time.Second

	// Environment variable names
	EnvConfigFile        = "HIGHLIGHTR_CONFIG"
	EnvPort              = "HIGHLIGHTR_PORT"
	EnvLogLevel          = "HIGHLIGHTR_LOG_LEVEL"
	EnvDataDir           = "HIGHLIGHTR_DATA_DIR"
	EnvBackendURL        = "HIGHLIGHTR_BACKEND_URL"
	EnvBackendToken      = "HIGHLIGHTR_BACKEND_TOKEN"
	EnvPollInterval      = "HIGHLIGHTR_POLL_INTERVAL"
	EnvPollMaxDuration   = "HIGHLIGHTR_POLL_MAX_DURATION"
	EnvPollBackoff       = "HIGHLIGHTR_POLL_BACKOFF"
	EnvPollMaxInterval   = "HIGHLIGHTR_POLL_MAX_INTERVAL"
	EnvUploadMaxBytes    = "HIGHLIGHTR_UPLOAD_MAX_BYTES"
	EnvProgressMode      = "HIGHLIGHTR_UPLOAD_PROGRESS"
	EnvControlsHideDelay = "HIGHLIGHTR_CONTROLS_HIDE_DELAY"
	EnvRequestTimeout    = "HIGHLIGHTR_REQUEST_TIMEOUT"
	EnvAutoDownload      = "HIGHLIGHTR_AUTO_DOWNLOAD"
	EnvWatchDir          = "HIGHLIGHTR_WATCH_DIR"
	EnvHeadless          = "HIGHLIGHTR_HEADLESS"
	EnvAllowedOrigins    = "HIGHLIGHTR_ALLOWED_ORIGINS"

	// Database filename
	DBFilename = "highlightr.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	CacheDir() string
	BackendURL() string
	BackendToken() string
	PollInterval() time.Duration
	PollMaxDuration() time.Duration
	PollBackoff() float64
	PollMaxInterval() time.Duration
	UploadMaxBytes() int64
	ProgressMode() string
	ControlsHideDelay() time.Duration
	RequestTimeout() time.Duration
	AutoDownload() bool
	WatchDir() string
	WatchSettle() time.Duration
	Headless() bool
	AllowedOrigins() []string
}

// fileConfig mirrors the YAML file. Pointer fields distinguish "unset" from zero values.
type fileConfig struct {
	Port           *int        `yaml:"port"`
	LogLevel       string      `yaml:"log_level"`
	DataDir        string      `yaml:"data_dir"`
	Backend        fileBackend `yaml:"backend"`
	Poll           filePoll    `yaml:"poll"`
	Upload         fileUpload  `yaml:"upload"`
	Player         filePlayer  `yaml:"player"`
	AutoDownload   *bool       `yaml:"auto_download"`
	WatchDir       string      `yaml:"watch_dir"`
	Headless       *bool       `yaml:"headless"`
	AllowedOrigins []string    `yaml:"allowed_origins"`
}

type fileBackend struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

type filePoll struct {
	Interval    string   `yaml:"interval"`
	MaxDuration string   `yaml:"max_duration"`
	Backoff     *float64 `yaml:"backoff"`
	MaxInterval string   `yaml:"max_interval"`
}

type fileUpload struct {
	MaxBytes *int64 `yaml:"max_bytes"`
	Progress string `yaml:"progress"`
}

type filePlayer struct {
	ControlsHideDelay string `yaml:"controls_hide_delay"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port              int
	logLevel          string
	dataDir           string
	backendURL        string
	backendToken      string
	pollInterval      time.Duration
	pollMaxDuration   time.Duration
	pollBackoff       float64
	pollMaxInterval   time.Duration
	uploadMaxBytes    int64
	progressMode      string
	controlsHideDelay time.Duration
	requestTimeout    time.Duration
	autoDownload      bool
	watchDir          string
	headless          bool
	allowedOrigins    []string
}

// New creates a new EnvConfig with defaults, the optional YAML file and environment variable
// overrides, in that order.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		backendURL:        DefaultBackendURL,
		pollInterval:      DefaultPollInterval,
		pollBackoff:       DefaultPollBackoff,
		pollMaxInterval:   DefaultPollMaxInterval,
		uploadMaxBytes:    DefaultUploadMaxBytes,
		progressMode:      DefaultProgressMode,
		controlsHideDelay: DefaultControlsHideDelay,
		requestTimeout:    DefaultRequestTimeout,
		autoDownload:      true,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if f.Port != nil {
		c.port = *f.Port
	}
	setString(&c.logLevel, f.LogLevel)
	setString(&c.dataDir, f.DataDir)
	setString(&c.backendURL, f.Backend.URL)
	setString(&c.backendToken, f.Backend.Token)
	setString(&c.progressMode, f.Upload.Progress)
	setString(&c.watchDir, f.WatchDir)
	if f.Poll.Backoff != nil {
		c.pollBackoff = *f.Poll.Backoff
	}
	if f.Upload.MaxBytes != nil {
		c.uploadMaxBytes = *f.Upload.MaxBytes
	}
	if f.AutoDownload != nil {
		c.autoDownload = *f.AutoDownload
	}
	if f.Headless != nil {
		c.headless = *f.Headless
	}
	if len(f.AllowedOrigins) > 0 {
		c.allowedOrigins = f.AllowedOrigins
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"backend.timeout", f.Backend.Timeout, &c.requestTimeout},
		{"poll.interval", f.Poll.Interval, &c.pollInterval},
		{"poll.max_duration", f.Poll.MaxDuration, &c.pollMaxDuration},
		{"poll.max_interval", f.Poll.MaxInterval, &c.pollMaxInterval},
		{"player.controls_hide_delay", f.Player.ControlsHideDelay, &c.controlsHideDelay},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", d.key, path, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.backendURL, os.Getenv(EnvBackendURL))
	setString(&c.backendToken, os.Getenv(EnvBackendToken))
	setString(&c.progressMode, os.Getenv(EnvProgressMode))
	setString(&c.watchDir, os.Getenv(EnvWatchDir))

	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{EnvPollInterval, &c.pollInterval},
		{EnvPollMaxDuration, &c.pollMaxDuration},
		{EnvPollMaxInterval, &c.pollMaxInterval},
		{EnvControlsHideDelay, &c.controlsHideDelay},
		{EnvRequestTimeout, &c.requestTimeout},
	} {
		if raw := os.Getenv(d.env); raw != "" {
			v, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", d.env, err)
			}
			*d.dst = v
		}
	}

	if raw := os.Getenv(EnvPollBackoff); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPollBackoff, err)
		}
		c.pollBackoff = v
	}
	if raw := os.Getenv(EnvUploadMaxBytes); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvUploadMaxBytes, err)
		}
		c.uploadMaxBytes = v
	}
	for _, b := range []struct {
		env string
		dst *bool
	}{
		{EnvAutoDownload, &c.autoDownload},
		{EnvHeadless, &c.headless},
	} {
		if raw := os.Getenv(b.env); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", b.env, err)
			}
			*b.dst = v
		}
	}
	if raw := os.Getenv(EnvAllowedOrigins); raw != "" {
		c.allowedOrigins = nil
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.allowedOrigins = append(c.allowedOrigins, o)
			}
		}
	}
	return nil
}

func (c *EnvConfig) validate() error {
	var errs []error
	if c.port < 1 || c.port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port))
	}
	if c.pollInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid poll interval %s: must be positive", c.pollInterval))
	}
	if c.pollMaxDuration < 0 {
		errs = append(errs, fmt.Errorf("invalid poll max duration %s", c.pollMaxDuration))
	}
	if c.pollBackoff < 1 {
		errs = append(errs, fmt.Errorf("invalid poll backoff %v: must be at least 1", c.pollBackoff))
	}
	if c.uploadMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("invalid upload max bytes %d", c.uploadMaxBytes))
	}
	if c.progressMode != "synthetic" && c.progressMode != "transfer" {
		errs = append(errs, fmt.Errorf("invalid upload progress mode %q: want synthetic or transfer", c.progressMode))
	}
	if c.controlsHideDelay <= 0 {
		errs = append(errs, fmt.Errorf("invalid controls hide delay %s", c.controlsHideDelay))
	}
	if c.requestTimeout < 0 {
		errs = append(errs, fmt.Errorf("invalid request timeout %s", c.requestTimeout))
	}
	if !strings.HasPrefix(c.backendURL, "http://") && !strings.HasPrefix(c.backendURL, "https://") {
		errs = append(errs, fmt.Errorf("invalid backend url %q: want http or https", c.backendURL))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// CacheDir holds spooled uploads and fetched artifacts.
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

func (c *EnvConfig) BackendURL() string {
	return c.backendURL
}

func (c *EnvConfig) BackendToken() string {
	return c.backendToken
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

// PollMaxDuration bounds a single poll run. Zero means unbounded.
func (c *EnvConfig) PollMaxDuration() time.Duration {
	return c.pollMaxDuration
}

func (c *EnvConfig) PollBackoff() float64 {
	return c.pollBackoff
}

func (c *EnvConfig) PollMaxInterval() time.Duration {
	return c.pollMaxInterval
}

func (c *EnvConfig) UploadMaxBytes() int64 {
	return c.uploadMaxBytes
}

// ProgressMode is "synthetic" or "transfer".
func (c *EnvConfig) ProgressMode() string {
	return c.progressMode
}

func (c *EnvConfig) ControlsHideDelay() time.Duration {
	return c.controlsHideDelay
}

func (c *EnvConfig) RequestTimeout() time.Duration {
	return c.requestTimeout
}

func (c *EnvConfig) AutoDownload() bool {
	return c.autoDownload
}

// WatchDir is the inbox folder. Empty disables the watcher.
func (c *EnvConfig) WatchDir() string {
	return c.watchDir
}

func (c *EnvConfig) WatchSettle() time.Duration {
	return DefaultWatchSettle
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// AllowedOrigins lists extra UI origins beyond localhost.
func (c *EnvConfig) AllowedOrigins() []string {
	return append([]string(nil), c.allowedOrigins...)
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
