package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

// clearSecretEnv keeps the developer's shell from leaking into Load.
func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "TELEGRAM_BOT_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearSecretEnv(t)
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			want := Default()
			want.DataDir = "/srv/feedlane"
			want.DryRun = true
			want.Account = AccountConfig{ID: "desk", ScreenName: "marketsdesk", UserID: "u-77"}
			want.Storage.Backend = "sqlite"
			want.Source.APIKey = "source-key-123"
			want.Sync.Namespace = "markets"
			want.Post.Targets = []string{"feed", "telegram:42"}
			want.LLM.APIKey = "sk-test-round-trip"
			want.LLM.Temperature = 0.5
			want.Telegram.Token = "bot-token-456"

			if err := Save(path, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
			}
		})
	}
}

func TestSave_NoTempFileLeft(t *testing.T) {
	path := tempConfigPath(t)
	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "config.json" {
		t.Errorf("expected only config.json, got %v", entries)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestListValues(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret-key-1234"
	cfg.Source.APIKey = "source-key-5678"
	cfg.Telegram.Token = "bot-token-abcd"

	tests := []struct {
		mask bool
		want map[string]any
	}{
		{false, map[string]any{
			"llm.api_key":    "sk-secret-key-1234",
			"source.api_key": "source-key-5678",
			"telegram.token": "bot-token-abcd",
		}},
		{true, map[string]any{
			"llm.api_key":    "***1234",
			"source.api_key": "***5678",
			"telegram.token": "***abcd",
		}},
	}
	for _, tt := range tests {
		flat, err := ListValues(cfg, tt.mask)
		if err != nil {
			t.Fatalf("ListValues(mask=%v): %v", tt.mask, err)
		}
		for k, v := range tt.want {
			if flat[k] != v {
				t.Errorf("mask=%v: %s = %v, want %v", tt.mask, k, flat[k], v)
			}
		}
		if flat["sync.namespace"] != "feed" {
			t.Errorf("mask=%v: sync.namespace = %v", tt.mask, flat["sync.namespace"])
		}
		// JSON numbers come back as float64.
		if flat["sync.timeline_count"] != float64(50) {
			t.Errorf("mask=%v: sync.timeline_count = %v", tt.mask, flat["sync.timeline_count"])
		}
	}
}

func TestGetValue(t *testing.T) {
	path := tempConfigPath(t)
	cfg := Default()
	cfg.Account.ScreenName = "marketsdesk"
	cfg.MaxConcurrent = 8
	writeTestConfig(t, path, cfg)

	tests := map[string]any{
		"account.screen_name": "marketsdesk",
		"max_concurrent":      float64(8),
		"storage.backend":     "file",
	}
	for key, want := range tests {
		v, err := GetValue(path, key)
		if err != nil {
			t.Fatalf("GetValue(%s): %v", key, err)
		}
		if v != want {
			t.Errorf("%s = %v (%T), want %v", key, v, v, want)
		}
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
	writeTestConfig(t, path, cfg)

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestSetValue(t *testing.T) {
	tests := []struct {
		name string
		key  string
		raw  string
		want any
	}{
		{"string", "log_level", "debug", "debug"},
		{"integer", "sync.timeline_count", "80", float64(80)},
		{"boolean", "dry_run", "true", true},
		{"float", "llm.temperature", "0.3", 0.3},
		{"nested", "source.base_url", "http://10.0.0.2:8787", "http://10.0.0.2:8787"},
		{"list", "post.targets", `["feed","telegram:42"]`, []any{"feed", "telegram:42"}},
		{"new nested key", "custom.setting", "value", "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tempConfigPath(t)
			cfg := Default()
			cfg.LLM.Provider = "openai"
			writeTestConfig(t, path, cfg)

			if err := SetValue(path, tt.key, tt.raw); err != nil {
				t.Fatalf("SetValue: %v", err)
			}
			v, err := GetValue(path, tt.key)
			if err != nil {
				t.Fatalf("GetValue: %v", err)
			}
			if !reflect.DeepEqual(v, tt.want) {
				t.Errorf("%s = %v (%T), want %v", tt.key, v, v, tt.want)
			}

			// Neighbouring keys survive the rewrite.
			if v, _ := GetValue(path, "llm.provider"); v != "openai" {
				t.Errorf("llm.provider = %v after set", v)
			}
		})
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	err := SetValue(path, "log_level", "debug")
	if err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestGetValue_NonexistentFile(t *testing.T) {
	// Load writes defaults on first use.
	path := tempConfigPath(t)

	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	// Default log_level is "info"
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.json")

	cfg := &Config{LogLevel: "warn"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("log_level: warn\naccount:\n  id: alice\n  screen_name: alice\npost:\n  max_length: 140\n  targets:\n    - feed\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected log_level=warn, got %q", cfg.LogLevel)
	}
	if cfg.Account.ID != "alice" || cfg.Account.ScreenName != "alice" {
		t.Errorf("unexpected account: %+v", cfg.Account)
	}
	if cfg.Post.MaxLength != 140 {
		t.Errorf("expected post.max_length=140, got %d", cfg.Post.MaxLength)
	}
	// Unset fields keep their defaults
	if cfg.Sync.TimelineCount != 50 {
		t.Errorf("expected default sync.timeline_count=50, got %d", cfg.Sync.TimelineCount)
	}
}

func TestSetValue_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	writeTestConfig(t, path, &Config{LogLevel: "info"})

	if err := SetValue(path, "account.screen_name", "bob"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Account.ScreenName != "bob" {
		t.Errorf("expected account.screen_name=bob, got %q", cfg.Account.ScreenName)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	t.Setenv("FEEDLANE_DRY_RUN", "true")
	t.Setenv("FEEDLANE_SYNC_TIMELINE_COUNT", "25")
	t.Setenv("FEEDLANE_POST_TARGETS", "feed,telegram:7")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.DryRun {
		t.Error("expected dry_run from environment")
	}
	if cfg.Sync.TimelineCount != 25 {
		t.Errorf("expected sync.timeline_count=25, got %d", cfg.Sync.TimelineCount)
	}
	if len(cfg.Post.Targets) != 2 || cfg.Post.Targets[1] != "telegram:7" {
		t.Errorf("unexpected post.targets: %v", cfg.Post.Targets)
	}
	if cfg.Telegram.Token != "tg-from-env" {
		t.Errorf("expected telegram token from environment, got %q", cfg.Telegram.Token)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	if got := cfg.Sync.FetchTimeout(); got != 15*time.Second {
		t.Errorf("FetchTimeout = %v", got)
	}
	if got := cfg.Post.IntervalMax(); got != 180*time.Minute {
		t.Errorf("IntervalMax = %v", got)
	}
	if got := cfg.Queue.BackoffBase(); got != time.Second {
		t.Errorf("BackoffBase = %v", got)
	}
	if got := cfg.LLM.Timeout(); got != time.Minute {
		t.Errorf("LLM.Timeout = %v", got)
	}
	if cfg.LLM.MaxRetries != 2 {
		t.Errorf("LLM.MaxRetries = %d", cfg.LLM.MaxRetries)
	}
}
