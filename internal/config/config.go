// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/agentchat/internal/util"
)

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration written as "30s" in TOML and JSON.
type Duration struct {
	time.Duration
}

// D wraps d.
func D(d time.Duration) Duration { return Duration{d} }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete agentchat configuration.
type Config struct {
	// Version is the config schema version.
	Version string `toml:"version" json:"version"`

	Backend   BackendConfig   `toml:"backend" json:"backend"`
	Timeouts  TimeoutConfig   `toml:"timeouts" json:"timeouts"`
	Retry     RetryConfig     `toml:"retry" json:"retry"`
	Cache     CacheConfig     `toml:"cache" json:"cache"`
	RateLimit RateLimitConfig `toml:"rate_limit" json:"rate_limit"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	Metrics   MetricsConfig   `toml:"metrics" json:"metrics"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
}

// BackendConfig selects the chat backend.
type BackendConfig struct {
	// URL is the backend root, e.g. http://localhost:5000.
	URL string `toml:"url" json:"url"`

	// UserAgent is sent on every request.
	UserAgent string `toml:"user_agent" json:"user_agent"`

	// CoalesceAuthChecks shares one network call between concurrent
	// session checks that miss the cache.
	CoalesceAuthChecks bool `toml:"coalesce_auth_checks" json:"coalesce_auth_checks"`
}

// TimeoutConfig bounds request durations.
type TimeoutConfig struct {
	// Request bounds ordinary calls.
	Request Duration `toml:"request" json:"request"`

	// Send bounds message sends, which wait for the assistant.
	Send Duration `toml:"send" json:"send"`
}

// RetryConfig controls the backoff policy for idempotent reads.
type RetryConfig struct {
	// Disabled turns retrying off entirely.
	Disabled bool `toml:"disabled" json:"disabled"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `toml:"max_retries" json:"max_retries"`

	// BaseDelay is the delay before the first retry; it doubles after.
	BaseDelay Duration `toml:"base_delay" json:"base_delay"`
}

// CacheConfig controls the session-check response cache.
type CacheConfig struct {
	// Disabled sends every session check to the network.
	Disabled bool `toml:"disabled" json:"disabled"`

	// TTL is how long a cached answer is served.
	TTL Duration `toml:"ttl" json:"ttl"`
}

// RateLimitConfig throttles outgoing requests.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables limiting.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`

	// Burst is the number of requests allowed at once.
	Burst int `toml:"burst" json:"burst"`
}

// LoggingConfig controls diagnostic logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level"`

	// Format is "console" or "json".
	Format string `toml:"format" json:"format"`

	// File, when set, receives logs with rotation instead of stderr.
	File string `toml:"file" json:"file"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics, e.g. "127.0.0.1:9464".
	// Empty disables the endpoint.
	Addr string `toml:"addr" json:"addr"`
}

// StorageConfig locates local state.
type StorageConfig struct {
	// SessionFile persists session cookies between invocations.
	SessionFile string `toml:"session_file" json:"session_file"`

	// HistoryDB is the SQLite database of sent messages.
	HistoryDB string `toml:"history_db" json:"history_db"`

	// DisableHistory skips recording sent messages.
	DisableHistory bool `toml:"disable_history" json:"disable_history"`

	// ReplHistory is the line-editor history file for the chat REPL.
	ReplHistory string `toml:"repl_history" json:"repl_history"`
}

// CurrentVersion is the config schema version written by Save.
const CurrentVersion = "1"

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Backend: BackendConfig{
			URL:       "http://localhost:5000",
			UserAgent: "agentchat",
		},
		Timeouts: TimeoutConfig{
			Request: D(30 * time.Second),
			Send:    D(60 * time.Second),
		},
		Retry: RetryConfig{
			MaxRetries: 2,
			BaseDelay:  D(time.Second),
		},
		Cache: CacheConfig{
			TTL: D(30 * time.Second),
		},
		RateLimit: RateLimitConfig{
			Burst: 5,
		},
		Logging: LoggingConfig{
			Level:      "warn",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Storage: StorageConfig{
			SessionFile: "session.json",
			HistoryDB:   "history.db",
			ReplHistory: "repl_history",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// HomeEnv overrides the configuration directory.
const HomeEnv = "AGENTCHAT_HOME"

// ConfigDir returns the agentchat configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".agentchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ResolvePath returns p unchanged when absolute, otherwise p joined to the
// config directory. Empty stays empty.
func ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	dir, err := ConfigDir()
	if err != nil {
		return p
	}
	return filepath.Join(dir, p)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		return LoadFromPath(path)
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", filepath.Base(path), strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
// The file is decoded over the defaults, so absent keys keep their default
// and explicit zero values (such as max_retries = 0) are preserved.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills in any missing values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}

	if c.Backend.URL == "" {
		c.Backend.URL = d.Backend.URL
	}
	if c.Backend.UserAgent == "" {
		c.Backend.UserAgent = d.Backend.UserAgent
	}

	if c.Timeouts.Request.Duration == 0 {
		c.Timeouts.Request = d.Timeouts.Request
	}
	if c.Timeouts.Send.Duration == 0 {
		c.Timeouts.Send = d.Timeouts.Send
	}

	if c.Retry.BaseDelay.Duration == 0 {
		c.Retry.BaseDelay = d.Retry.BaseDelay
	}

	if c.Cache.TTL.Duration == 0 {
		c.Cache.TTL = d.Cache.TTL
	}

	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = d.RateLimit.Burst
	}

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = d.Logging.MaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = d.Logging.MaxAgeDays
	}

	if c.Storage.SessionFile == "" {
		c.Storage.SessionFile = d.Storage.SessionFile
	}
	if c.Storage.HistoryDB == "" {
		c.Storage.HistoryDB = d.Storage.HistoryDB
	}
	if c.Storage.ReplHistory == "" {
		c.Storage.ReplHistory = d.Storage.ReplHistory
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# agentchat configuration file\n")
	b.WriteString("# Generated by agentchat - edit with care\n")
	b.WriteString("\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Backend
	if u, err := url.Parse(c.Backend.URL); err != nil {
		add("backend.url", "invalid URL: %v", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("backend.url", "scheme must be http or https, got '%s'", u.Scheme)
	} else if u.Host == "" {
		add("backend.url", "missing host")
	}

	// Timeouts
	if c.Timeouts.Request.Duration < 0 || c.Timeouts.Request.Duration > 10*time.Minute {
		add("timeouts.request", "must be between 0 and 10m, got %s", c.Timeouts.Request)
	}
	if c.Timeouts.Send.Duration < 0 || c.Timeouts.Send.Duration > 30*time.Minute {
		add("timeouts.send", "must be between 0 and 30m, got %s", c.Timeouts.Send)
	}

	// Retry
	if c.Retry.MaxRetries < 0 || c.Retry.MaxRetries > 10 {
		add("retry.max_retries", "must be between 0 and 10, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelay.Duration < 0 || c.Retry.BaseDelay.Duration > time.Minute {
		add("retry.base_delay", "must be between 0 and 1m, got %s", c.Retry.BaseDelay)
	}

	// Cache
	if c.Cache.TTL.Duration < 0 || c.Cache.TTL.Duration > time.Hour {
		add("cache.ttl", "must be between 0 and 1h, got %s", c.Cache.TTL)
	}

	// Rate limit
	if c.RateLimit.RequestsPerSecond < 0 {
		add("rate_limit.requests_per_second", "must not be negative, got %g", c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.Burst < 0 {
		add("rate_limit.burst", "must not be negative, got %d", c.RateLimit.Burst)
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		add("logging.format", "invalid format '%s', must be one of: console, json", c.Logging.Format)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		add("logging", "rotation limits must not be negative")
	}

	// Metrics
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			add("metrics.addr", "invalid listen address '%s': %v", c.Metrics.Addr, err)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - AGENTCHAT_BACKEND_URL: overrides backend.url
//   - AGENTCHAT_TIMEOUT: overrides timeouts.request
//   - AGENTCHAT_SEND_TIMEOUT: overrides timeouts.send
//   - AGENTCHAT_MAX_RETRIES: overrides retry.max_retries
//   - AGENTCHAT_NO_RETRY: sets retry.disabled
//   - AGENTCHAT_LOG_LEVEL: overrides logging.level
//   - AGENTCHAT_LOG_FILE: overrides logging.file
//   - AGENTCHAT_METRICS_ADDR: overrides metrics.addr
//   - AGENTCHAT_NO_HISTORY: sets storage.disable_history
//
// Unparseable numeric and duration values are ignored.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("AGENTCHAT_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("AGENTCHAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeouts.Request = D(d)
		}
	}
	if v := os.Getenv("AGENTCHAT_SEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeouts.Send = D(d)
		}
	}
	if v := os.Getenv("AGENTCHAT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("AGENTCHAT_NO_RETRY"); v != "" {
		c.Retry.Disabled = parseBool(v)
	}
	if v := os.Getenv("AGENTCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AGENTCHAT_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("AGENTCHAT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("AGENTCHAT_NO_HISTORY"); v != "" {
		c.Storage.DisableHistory = parseBool(v)
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "backend.url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if d, ok := field.Interface().(Duration); ok {
		return d.String(), nil
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "retry.max_retries").
// String values are converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct || field.Type() == reflect.TypeOf(Duration{}) {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		if field.Type() == reflect.TypeOf(Duration{}) {
			var d Duration
			if err := d.UnmarshalText([]byte(strVal)); err != nil {
				return err
			}
			field.Set(reflect.ValueOf(d))
			return nil
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := strings.Split(f.Tag.Get("toml"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(Duration{}) {
				walk(f.Type, prefix+name+".")
				continue
			}
			keys = append(keys, prefix+name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// String returns the config as indented JSON for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
