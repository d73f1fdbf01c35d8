package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Logging
	LogLevel      string `json:"log_level" yaml:"log_level"`
	LogFile       string `json:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `json:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `json:"log_max_backups" yaml:"log_max_backups"`

	// Storage
	StorePath string `json:"store_path" yaml:"store_path"`

	// Identity
	DeviceName string   `json:"device_name" yaml:"device_name"`
	BotName    string   `json:"bot_name" yaml:"bot_name"`
	Owners     []string `json:"owners" yaml:"owners"`
	RepoURL    string   `json:"repo_url" yaml:"repo_url"`

	// HTTP pairing surface
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`

	Session  SessionConfig  `json:"session" yaml:"session"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	AI       AIConfig       `json:"ai" yaml:"ai"`
}

// SessionConfig tunes the connection supervisors.
type SessionConfig struct {
	ConnectTimeout      Duration `json:"connect_timeout" yaml:"connect_timeout"`
	PairingCodeExpiry   Duration `json:"pairing_code_expiry" yaml:"pairing_code_expiry"`
	PairingAttempts     int      `json:"pairing_attempts" yaml:"pairing_attempts"`
	PairingRetryWait    Duration `json:"pairing_retry_wait" yaml:"pairing_retry_wait"`
	PairingAttemptLimit Duration `json:"pairing_attempt_timeout" yaml:"pairing_attempt_timeout"`
	RestartDelay        Duration `json:"restart_delay" yaml:"restart_delay"`
	ReconnectDelay      Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnects       int      `json:"max_reconnects" yaml:"max_reconnects"` // 0 = unlimited
	RestoreParallelism  int      `json:"restore_parallelism" yaml:"restore_parallelism"`
	AutoBioInterval     Duration `json:"auto_bio_interval" yaml:"auto_bio_interval"`
	AutoBioTexts        []string `json:"auto_bio_texts" yaml:"auto_bio_texts"`
}

// PipelineConfig tunes inbound message processing.
type PipelineConfig struct {
	Workers        int      `json:"workers" yaml:"workers"`
	RecentMessages int      `json:"recent_messages" yaml:"recent_messages"`
	PresenceHold   Duration `json:"presence_hold" yaml:"presence_hold"`
	HandlerTimeout Duration `json:"handler_timeout" yaml:"handler_timeout"`
}

// AIConfig holds the OpenAI-compatible endpoint used by the ai command.
type AIConfig struct {
	APIKey       string `json:"api_key" yaml:"api_key"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	Model        string `json:"model" yaml:"model"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// Duration is a time.Duration that unmarshals from "5s" style strings or
// from plain integer seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw interface{}) error {
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v) * time.Second)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultStore := filepath.Join(homeDir, ".fleetbot", "store")

	return &Config{
		LogLevel:      "INFO",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
		StorePath:     defaultStore,
		DeviceName:    "Chrome (Linux)",
		BotName:       "Fleetbot",
		Owners:        []string{},
		HTTPAddr:      ":8000",
		Session: SessionConfig{
			ConnectTimeout:      Duration(60 * time.Second),
			PairingCodeExpiry:   Duration(5 * time.Minute),
			PairingAttempts:     3,
			PairingRetryWait:    Duration(1500 * time.Millisecond),
			PairingAttemptLimit: Duration(20 * time.Second),
			RestartDelay:        Duration(2 * time.Second),
			ReconnectDelay:      Duration(5 * time.Second),
			RestoreParallelism:  4,
			AutoBioInterval:     Duration(30 * time.Minute),
			AutoBioTexts: []string{
				"Always online",
				"Fast and reliable",
				"Powered by fleetbot",
			},
		},
		Pipeline: PipelineConfig{
			Workers:        64,
			RecentMessages: 500,
			PresenceHold:   Duration(time.Second),
			HandlerTimeout: Duration(60 * time.Second),
		},
		AI: AIConfig{
			Model:        "gpt-4o-mini",
			SystemPrompt: "You are a helpful WhatsApp assistant. Keep answers short.",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file.
// A missing file yields the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads the optional config file, then .env, then FLEETBOT_* environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		var err error
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
	}

	// .env is optional
	_ = godotenv.Load()

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("FLEETBOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLEETBOT_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("FLEETBOT_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("FLEETBOT_DEVICE_NAME"); v != "" {
		cfg.DeviceName = v
	}
	if v := os.Getenv("FLEETBOT_BOT_NAME"); v != "" {
		cfg.BotName = v
	}
	if v := os.Getenv("FLEETBOT_REPO_URL"); v != "" {
		cfg.RepoURL = v
	}
	if v := os.Getenv("FLEETBOT_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("FLEETBOT_OWNERS"); v != "" {
		cfg.Owners = splitList(v)
	}
	if v := os.Getenv("FLEETBOT_MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.MaxReconnects = n
		}
	}
	if v := os.Getenv("FLEETBOT_PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("FLEETBOT_OPENAI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("FLEETBOT_OPENAI_BASE_URL"); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := os.Getenv("FLEETBOT_OPENAI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the values that would otherwise fail deep inside the services.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	if c.Session.ConnectTimeout <= 0 || c.Session.PairingCodeExpiry <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	if c.Session.PairingAttempts <= 0 {
		return fmt.Errorf("pairing_attempts must be positive")
	}
	if c.Session.RestartDelay < 0 || c.Session.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect delays must not be negative")
	}
	for _, owner := range c.Owners {
		if owner == "" || strings.Trim(owner, "0123456789") != "" {
			return fmt.Errorf("owner %q must contain digits only", owner)
		}
	}
	return nil
}

// DatabasePath returns the sqlite file used for both app tables and device keys.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StorePath, "fleetbot.db")
}

// EnsureStorePath creates the store directory if it doesn't exist.
func (c *Config) EnsureStorePath() error {
	return os.MkdirAll(c.StorePath, 0755)
}
