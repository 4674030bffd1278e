// Package config handles configuration loading and validation for keyrecalld.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config is the root configuration for keyrecalld.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`
	Search  SearchConfig  `toml:"search" json:"search" yaml:"search"`
	Masking MaskingConfig `toml:"masking" json:"masking" yaml:"masking"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// CaptureConfig controls the key event capture pipeline.
type CaptureConfig struct {
	// BufferSize is the number of events that triggers a flush.
	BufferSize int `toml:"buffer_size" json:"buffer_size" yaml:"buffer_size"`

	// FlushIntervalSecs is the maximum time events wait in the buffer.
	FlushIntervalSecs int `toml:"flush_interval_secs" json:"flush_interval_secs" yaml:"flush_interval_secs"`

	// CaptureModifiers includes modifier keys (shift, ctrl, alt, meta).
	CaptureModifiers bool `toml:"capture_modifiers" json:"capture_modifiers" yaml:"capture_modifiers"`

	// CaptureFunctionKeys includes F1-F24 keys.
	CaptureFunctionKeys bool `toml:"capture_function_keys" json:"capture_function_keys" yaml:"capture_function_keys"`

	// IgnoredApplications lists application names whose events are dropped.
	IgnoredApplications []string `toml:"ignored_applications" json:"ignored_applications" yaml:"ignored_applications"`

	// IgnoredWindowPatterns lists regexes matched against window
	// titles; events from matching windows are dropped.
	IgnoredWindowPatterns []string `toml:"ignored_window_patterns" json:"ignored_window_patterns" yaml:"ignored_window_patterns"`

	// WindowPollMs sets how often the active window is re-queried.
	WindowPollMs int `toml:"window_poll_ms" json:"window_poll_ms" yaml:"window_poll_ms"`
}

// StorageConfig controls the SQLite event store.
type StorageConfig struct {
	// Path is the database file location.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// KeyFile holds the passphrase used to derive the database key.
	// Empty disables encryption.
	KeyFile string `toml:"key_file" json:"key_file" yaml:"key_file"`
}

// SearchConfig controls query behavior and the embedding provider.
type SearchConfig struct {
	// Limit is the default maximum number of results.
	Limit int `toml:"limit" json:"limit" yaml:"limit"`

	// TextWeight weights lexical matches in hybrid fusion.
	TextWeight float64 `toml:"text_weight" json:"text_weight" yaml:"text_weight"`

	// SemanticWeight weights embedding matches in hybrid fusion.
	SemanticWeight float64 `toml:"semantic_weight" json:"semantic_weight" yaml:"semantic_weight"`

	// MinScore filters fused results below this score.
	MinScore float64 `toml:"min_score" json:"min_score" yaml:"min_score"`

	// Provider names the embedding backend ("openai" or "none").
	Provider string `toml:"provider" json:"provider" yaml:"provider"`

	// Model is the embedding model identifier.
	Model string `toml:"model" json:"model" yaml:"model"`

	// Dimensions is the embedding vector size.
	Dimensions int `toml:"dimensions" json:"dimensions" yaml:"dimensions"`
}

// MaskingConfig controls PII masking.
type MaskingConfig struct {
	// Enabled toggles masking. Capture still runs when disabled.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// RulesFile points to an optional JSON file with custom rules.
	RulesFile string `toml:"rules_file" json:"rules_file" yaml:"rules_file"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int64  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: Version,
		Capture: CaptureConfig{
			BufferSize:          100,
			FlushIntervalSecs:   5,
			CaptureModifiers:    false,
			CaptureFunctionKeys: false,
			WindowPollMs:        1000,
		},
		Storage: StorageConfig{
			Path:          DefaultDatabasePath(),
			BusyTimeoutMs: 5000,
		},
		Search: SearchConfig{
			Limit:          50,
			TextWeight:     0.7,
			SemanticWeight: 0.3,
			MinScore:       0.1,
			Provider:       "none",
			Model:          "text-embedding-3-small",
			Dimensions:     384,
		},
		Masking: MaskingConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// DataDir returns the platform-specific data directory for keyrecall.
func DataDir() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "keyrecall")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "keyrecall")
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			homeDir, _ := os.UserHomeDir()
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataHome, "keyrecall")
	}
}

// DefaultDatabasePath returns the default SQLite database path.
func DefaultDatabasePath() string {
	return filepath.Join(DataDir(), "keyrecall.db")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return filepath.Join(DataDir(), "config.toml")
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			homeDir, _ := os.UserHomeDir()
			configHome = filepath.Join(homeDir, ".config")
		}
		return filepath.Join(configHome, "keyrecall", "config.toml")
	}
}

// ApplyEnvOverrides overrides config fields from KEYRECALL_* env variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("KEYRECALL_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("KEYRECALL_KEY_FILE"); v != "" {
		c.Storage.KeyFile = v
	}
	if v := os.Getenv("KEYRECALL_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Capture.BufferSize = n
		}
	}
	if v := os.Getenv("KEYRECALL_FLUSH_INTERVAL_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Capture.FlushIntervalSecs = n
		}
	}
	if v := os.Getenv("KEYRECALL_MASKING_ENABLED"); v != "" {
		c.Masking.Enabled = parseBool(v, c.Masking.Enabled)
	}
	if v := os.Getenv("KEYRECALL_MASKING_RULES"); v != "" {
		c.Masking.RulesFile = v
	}
	if v := os.Getenv("KEYRECALL_EMBEDDING_PROVIDER"); v != "" {
		c.Search.Provider = v
	}
	if v := os.Getenv("KEYRECALL_EMBEDDING_MODEL"); v != "" {
		c.Search.Model = v
	}
	if v := os.Getenv("KEYRECALL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KEYRECALL_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("KEYRECALL_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return fallback
	}
	return b
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Capture.BufferSize <= 0 {
		return fmt.Errorf("capture.buffer_size must be positive, got %d", c.Capture.BufferSize)
	}
	if c.Capture.FlushIntervalSecs <= 0 {
		return fmt.Errorf("capture.flush_interval_secs must be positive, got %d", c.Capture.FlushIntervalSecs)
	}
	if c.Capture.WindowPollMs <= 0 {
		return fmt.Errorf("capture.window_poll_ms must be positive, got %d", c.Capture.WindowPollMs)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Search.Limit <= 0 {
		return fmt.Errorf("search.limit must be positive, got %d", c.Search.Limit)
	}
	if c.Search.TextWeight < 0 || c.Search.SemanticWeight < 0 {
		return fmt.Errorf("search weights must not be negative")
	}
	if c.Search.TextWeight == 0 && c.Search.SemanticWeight == 0 {
		return fmt.Errorf("at least one search weight must be positive")
	}
	if c.Search.MinScore < 0 {
		return fmt.Errorf("search.min_score must not be negative, got %f", c.Search.MinScore)
	}
	switch c.Search.Provider {
	case "", "none", "openai":
	default:
		return fmt.Errorf("unknown search.provider %q", c.Search.Provider)
	}
	if c.Search.Provider == "openai" && c.Search.Dimensions <= 0 {
		return fmt.Errorf("search.dimensions must be positive, got %d", c.Search.Dimensions)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Capture.IgnoredApplications = append([]string(nil), c.Capture.IgnoredApplications...)
	clone.Capture.IgnoredWindowPatterns = append([]string(nil), c.Capture.IgnoredWindowPatterns...)
	return &clone
}

// SaveConfig writes the configuration to path in the format implied by
// the file extension (TOML by default).
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var data []byte
	var err error
	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf strings.Builder
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = []byte(buf.String())
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
