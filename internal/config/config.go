package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FEEDLANE_DRY_RUN.
const EnvPrefix = "FEEDLANE_"

type Config struct {
	DataDir       string `json:"data_dir" yaml:"data_dir" env:"DATA_DIR"`
	LogLevel      string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	DryRun        bool   `json:"dry_run" yaml:"dry_run" env:"DRY_RUN"`
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent" env:"MAX_CONCURRENT"`

	Account  AccountConfig  `json:"account" yaml:"account" envPrefix:"ACCOUNT_"`
	Storage  StorageConfig  `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Source   SourceConfig   `json:"source" yaml:"source" envPrefix:"SOURCE_"`
	Queue    QueueConfig    `json:"queue" yaml:"queue" envPrefix:"QUEUE_"`
	Sync     SyncConfig     `json:"sync" yaml:"sync" envPrefix:"SYNC_"`
	Post     PostConfig     `json:"post" yaml:"post" envPrefix:"POST_"`
	Actions  ActionsConfig  `json:"actions" yaml:"actions" envPrefix:"ACTIONS_"`
	Article  ArticleConfig  `json:"article" yaml:"article" envPrefix:"ARTICLE_"`
	LLM      LLMConfig      `json:"llm" yaml:"llm" envPrefix:"LLM_"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram" envPrefix:"TELEGRAM_"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook" envPrefix:"WEBHOOK_"`
}

// AccountConfig identifies the tracked account. UserID may be left empty
// and resolved from the source's profile endpoint.
type AccountConfig struct {
	ID         string `json:"id" yaml:"id" env:"ID"`
	ScreenName string `json:"screen_name" yaml:"screen_name" env:"SCREEN_NAME"`
	UserID     string `json:"user_id" yaml:"user_id" env:"USER_ID"`
}

// StorageConfig selects the cache and conversation store backend:
// "file" (JSON and JSONL under data_dir) or "sqlite".
type StorageConfig struct {
	Backend    string `json:"backend" yaml:"backend" env:"BACKEND"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path" env:"SQLITE_PATH"`
}

type SourceConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	APIKey         string `json:"api_key" yaml:"api_key" env:"API_KEY"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

func (s SourceConfig) Timeout() time.Duration { return seconds(s.TimeoutSeconds) }

type QueueConfig struct {
	BackoffBaseMs int `json:"backoff_base_ms" yaml:"backoff_base_ms" env:"BACKOFF_BASE_MS"`
	BackoffMaxMs  int `json:"backoff_max_ms" yaml:"backoff_max_ms" env:"BACKOFF_MAX_MS"`
	JitterMinMs   int `json:"jitter_min_ms" yaml:"jitter_min_ms" env:"JITTER_MIN_MS"`
	JitterMaxMs   int `json:"jitter_max_ms" yaml:"jitter_max_ms" env:"JITTER_MAX_MS"`
}

func (q QueueConfig) BackoffBase() time.Duration { return millis(q.BackoffBaseMs) }
func (q QueueConfig) BackoffMax() time.Duration  { return millis(q.BackoffMaxMs) }
func (q QueueConfig) JitterMin() time.Duration   { return millis(q.JitterMinMs) }
func (q QueueConfig) JitterMax() time.Duration   { return millis(q.JitterMaxMs) }

type SyncConfig struct {
	Namespace           string `json:"namespace" yaml:"namespace" env:"NAMESPACE"`
	TimelineCount       int    `json:"timeline_count" yaml:"timeline_count" env:"TIMELINE_COUNT"`
	ReducedCount        int    `json:"reduced_count" yaml:"reduced_count" env:"REDUCED_COUNT"`
	MentionsCount       int    `json:"mentions_count" yaml:"mentions_count" env:"MENTIONS_COUNT"`
	SearchCount         int    `json:"search_count" yaml:"search_count" env:"SEARCH_COUNT"`
	FetchTimeoutSeconds int    `json:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds" env:"FETCH_TIMEOUT_SECONDS"`
	SnapshotTTLSeconds  int    `json:"snapshot_ttl_seconds" yaml:"snapshot_ttl_seconds" env:"SNAPSHOT_TTL_SECONDS"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds" env:"POLL_INTERVAL_SECONDS"`
}

func (s SyncConfig) FetchTimeout() time.Duration { return seconds(s.FetchTimeoutSeconds) }
func (s SyncConfig) SnapshotTTL() time.Duration  { return seconds(s.SnapshotTTLSeconds) }
func (s SyncConfig) PollInterval() time.Duration { return seconds(s.PollIntervalSeconds) }

type PostConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled" env:"ENABLED"`
	IntervalMinMinutes int      `json:"interval_min_minutes" yaml:"interval_min_minutes" env:"INTERVAL_MIN_MINUTES"`
	IntervalMaxMinutes int      `json:"interval_max_minutes" yaml:"interval_max_minutes" env:"INTERVAL_MAX_MINUTES"`
	Immediately        bool     `json:"immediately" yaml:"immediately" env:"IMMEDIATELY"`
	MaxLength          int      `json:"max_length" yaml:"max_length" env:"MAX_LENGTH"`
	Targets            []string `json:"targets" yaml:"targets" env:"TARGETS" envSeparator:","`
}

func (p PostConfig) IntervalMin() time.Duration { return minutes(p.IntervalMinMinutes) }
func (p PostConfig) IntervalMax() time.Duration { return minutes(p.IntervalMaxMinutes) }

type ActionsConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled" env:"ENABLED"`
	IntervalMinutes int  `json:"interval_minutes" yaml:"interval_minutes" env:"INTERVAL_MINUTES"`
	CooldownSeconds int  `json:"cooldown_seconds" yaml:"cooldown_seconds" env:"COOLDOWN_SECONDS"`
}

func (a ActionsConfig) Interval() time.Duration { return minutes(a.IntervalMinutes) }
func (a ActionsConfig) Cooldown() time.Duration { return seconds(a.CooldownSeconds) }

type ArticleConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	URL             string `json:"url" yaml:"url" env:"URL"`
	LinkPrefix      string `json:"link_prefix" yaml:"link_prefix" env:"LINK_PREFIX"`
	IntervalMinutes int    `json:"interval_minutes" yaml:"interval_minutes" env:"INTERVAL_MINUTES"`
}

func (a ArticleConfig) Interval() time.Duration { return minutes(a.IntervalMinutes) }

type LLMConfig struct {
	Provider         string  `json:"provider" yaml:"provider" env:"PROVIDER"`
	BaseURL          string  `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	APIKey           string  `json:"api_key" yaml:"api_key" env:"API_KEY"`
	Model            string  `json:"model" yaml:"model" env:"MODEL"`
	MaxTokens        int     `json:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature      float32 `json:"temperature" yaml:"temperature" env:"TEMPERATURE"`
	MaxContextTokens int     `json:"max_context_tokens" yaml:"max_context_tokens" env:"MAX_CONTEXT_TOKENS"`
	OutputReserve    int     `json:"output_reserve" yaml:"output_reserve" env:"OUTPUT_RESERVE"`
	TimeoutSeconds   int     `json:"timeout_seconds" yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	MaxRetries       int     `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES"`
}

func (l LLMConfig) Timeout() time.Duration { return seconds(l.TimeoutSeconds) }

type TelegramConfig struct {
	Token      string `json:"token" yaml:"token" env:"TOKEN"`
	MirrorChat int64  `json:"mirror_chat" yaml:"mirror_chat" env:"MIRROR_CHAT"`
}

type WebhookConfig struct {
	Addr string `json:"addr" yaml:"addr" env:"ADDR"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".feedlane"),
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.Account.ID = "default"
	cfg.Storage.Backend = "file"
	cfg.Source.BaseURL = "http://127.0.0.1:8787"
	cfg.Source.TimeoutSeconds = 30
	cfg.Queue.BackoffBaseMs = 1000
	cfg.Queue.BackoffMaxMs = 300000
	cfg.Queue.JitterMinMs = 1500
	cfg.Queue.JitterMaxMs = 3500
	cfg.Sync.Namespace = "feed"
	cfg.Sync.TimelineCount = 50
	cfg.Sync.ReducedCount = 10
	cfg.Sync.MentionsCount = 20
	cfg.Sync.SearchCount = 20
	cfg.Sync.FetchTimeoutSeconds = 15
	cfg.Sync.SnapshotTTLSeconds = 10
	cfg.Sync.PollIntervalSeconds = 120
	cfg.Post.IntervalMinMinutes = 90
	cfg.Post.IntervalMaxMinutes = 180
	cfg.Post.MaxLength = 280
	cfg.Actions.IntervalMinutes = 5
	cfg.Actions.CooldownSeconds = 30
	cfg.Article.IntervalMinutes = 5
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 300
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.TimeoutSeconds = 60
	cfg.LLM.MaxRetries = 2
	cfg.Webhook.Addr = "127.0.0.1:8484"
	return cfg
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshal(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func marshal(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Load reads the config file at path, writing the defaults there first if it
// does not exist. A .env file in the working directory is loaded next, then
// FEEDLANE_* variables and the well-known secret variables override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// Override from env (highest precedence)
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := marshal(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map keyed by the JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config map: %w", err)
	}
	return m, nil
}

// ListValues returns the flattened config, with secrets masked if mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw returns the file at path as a flat map, keeping keys the Config
// struct does not know.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := unmarshal(path, data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return Flatten(m), nil
}

// GetValue returns the value stored under a dot-separated key. The config
// file is created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dot-separated key in an existing config
// file. Values that parse as JSON (numbers, booleans, lists) keep that type;
// anything else is stored as a string.
func SetValue(path, key, value string) error {
	flat, err := readRaw(path)
	if err != nil {
		return err
	}
	flat[key] = ParseValue(value)

	data, err := marshal(path, Unflatten(flat))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

// ParseValue interprets a command-line value as JSON when possible.
func ParseValue(value string) any {
	var v any
	if err := json.Unmarshal([]byte(value), &v); err == nil {
		return v
	}
	return value
}
