package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	PROVIDER_DIFY   = "dify"
	PROVIDER_OPENAI = "openai"
)

type LineConfig struct {
	ChannelSecret      string `koanf:"channel_secret"`
	ChannelAccessToken string `koanf:"channel_access_token"`
	ApiEndpoint        string `koanf:"api_endpoint"` // empty = SDK default
}

type AIConfig struct {
	Provider string        `koanf:"provider"` // "dify" or "openai"
	Timeout  time.Duration `koanf:"timeout"`
}

type DifyConfig struct {
	ApiKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type OpenAIConfig struct {
	ApiKey       string `koanf:"api_key"`
	Model        string `koanf:"model"`
	BaseURL      string `koanf:"base_url"`
	SystemPrompt string `koanf:"system_prompt"`
}

// Fallbacks are the user-facing texts sent when no real answer is available.
type Fallbacks struct {
	Empty      string `koanf:"empty"`
	Timeout    string `koanf:"timeout"`
	HTTPError  string `koanf:"http_error"`
	Network    string `koanf:"network"`
	Unexpected string `koanf:"unexpected"`
	System     string `koanf:"system"`
}

type Configuration struct {
	ApiPort             string `koanf:"api_port"`
	BotName             string `koanf:"bot_name"`
	LogLevel            string `koanf:"log_level"`
	MaxConcurrentEvents int    `koanf:"max_concurrent_events"`

	Line   LineConfig   `koanf:"line"`
	AI     AIConfig     `koanf:"ai"`
	Dify   DifyConfig   `koanf:"dify"`
	OpenAI OpenAIConfig `koanf:"openai"`

	// Delivery ledger. Empty Database disables it.
	Database        string        `koanf:"database"` // "", "sqlite3" or "postgres"
	DbHost          string        `koanf:"db_host"`
	DbPort          string        `koanf:"db_port"`
	DbUser          string        `koanf:"db_user"`
	DbName          string        `koanf:"db_name"`
	DbPass          string        `koanf:"db_pass"`
	DbPath          string        `koanf:"db_path"`
	LedgerRetention time.Duration `koanf:"ledger_retention"`

	AdminToken string `koanf:"admin_token"`

	Fallbacks Fallbacks `koanf:"fallbacks"`
}

// envKeys maps the deployment environment variables onto config keys.
var envKeys = map[string]string{
	"PORT":                      "api_port",
	"BOT_NAME":                  "bot_name",
	"LOG_LEVEL":                 "log_level",
	"MAX_CONCURRENT_EVENTS":     "max_concurrent_events",
	"LINE_CHANNEL_SECRET":       "line.channel_secret",
	"LINE_CHANNEL_ACCESS_TOKEN": "line.channel_access_token",
	"LINE_API_ENDPOINT":         "line.api_endpoint",
	"AI_PROVIDER":               "ai.provider",
	"AI_TIMEOUT":                "ai.timeout",
	"DIFY_API_KEY":              "dify.api_key",
	"DIFY_API_BASE_URL":         "dify.base_url",
	"OPENAI_API_KEY":            "openai.api_key",
	"OPENAI_MODEL":              "openai.model",
	"OPENAI_BASE_URL":           "openai.base_url",
	"OPENAI_SYSTEM_PROMPT":      "openai.system_prompt",
	"DATABASE":                  "database",
	"DB_HOST":                   "db_host",
	"DB_PORT":                   "db_port",
	"DB_USER":                   "db_user",
	"DB_NAME":                   "db_name",
	"DB_PASS":                   "db_pass",
	"DB_PATH":                   "db_path",
	"LEDGER_RETENTION":          "ledger_retention",
	"ADMIN_TOKEN":               "admin_token",
}

// Default returns the configuration used when nothing overrides a key.
func Default() Configuration {
	return Configuration{
		ApiPort:             "10000",
		BotName:             "Future Agency Lab LINE Bot",
		LogLevel:            "info",
		MaxConcurrentEvents: 1,
		AI: AIConfig{
			Provider: PROVIDER_DIFY,
			Timeout:  30 * time.Second,
		},
		Dify: DifyConfig{
			BaseURL: "https://api.dify.ai/v1",
		},
		OpenAI: OpenAIConfig{
			Model:        "gpt-4.1-mini",
			SystemPrompt: "あなたは親切で簡潔なアシスタントです。日本語で回答してください。",
		},
		DbPath:          "db/database.db",
		LedgerRetention: 7 * 24 * time.Hour,
		Fallbacks: Fallbacks{
			Empty:      "申し訳ございません。応答の取得に失敗しました。",
			Timeout:    "申し訳ございません。応答に時間がかかりすぎています。しばらくしてから再度お試しください。",
			HTTPError:  "申し訳ございません。AIサービスでエラーが発生しました。",
			Network:    "申し訳ございません。通信エラーが発生しました。",
			Unexpected: "申し訳ございません。予期しないエラーが発生しました。",
			System:     "申し訳ございません。システムエラーが発生しました。しばらくしてから再度お試しください。",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML/JSON file and
// the environment, in that order of precedence (environment wins).
func Load(path string) (Configuration, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return cfg, fmt.Errorf("accessing config %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		mapped, ok := envKeys[key]
		if !ok || strings.TrimSpace(value) == "" {
			return "", nil
		}
		return mapped, strings.TrimSpace(value)
	}), nil); err != nil {
		return cfg, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Dify.BaseURL = strings.TrimRight(cfg.Dify.BaseURL, "/")
	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	cfg.Database = strings.ToLower(strings.TrimSpace(cfg.Database))

	return cfg, nil
}

// Validate checks what the relay cannot run without.
func (c Configuration) Validate() error {
	if c.Line.ChannelSecret == "" {
		return fmt.Errorf("LINE_CHANNEL_SECRET is required")
	}
	if c.Line.ChannelAccessToken == "" {
		return fmt.Errorf("LINE_CHANNEL_ACCESS_TOKEN is required")
	}

	switch c.AI.Provider {
	case PROVIDER_DIFY:
		if c.Dify.ApiKey == "" {
			return fmt.Errorf("DIFY_API_KEY is required")
		}
		if c.Dify.BaseURL == "" {
			return fmt.Errorf("DIFY_API_BASE_URL is required")
		}
	case PROVIDER_OPENAI:
		if c.OpenAI.ApiKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("OPENAI_MODEL is required")
		}
	default:
		return fmt.Errorf("invalid ai provider %q: must be one of dify, openai", c.AI.Provider)
	}

	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai timeout must be positive")
	}
	if c.MaxConcurrentEvents < 1 {
		return fmt.Errorf("max_concurrent_events must be at least 1")
	}

	switch c.Database {
	case "", "sqlite3", "postgres", "postgresql":
	default:
		return fmt.Errorf("invalid database %q: must be sqlite3 or postgres", c.Database)
	}

	return nil
}

// LedgerEnabled reports whether a delivery ledger database is configured.
func (c Configuration) LedgerEnabled() bool {
	return c.Database != ""
}

// SlogLevel parses LogLevel, defaulting to info.
func (c Configuration) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogSummary writes which secrets are present, never their values.
func (c Configuration) LogSummary(logger *slog.Logger) {
	logger.Info("configuration loaded",
		"line_channel_access_token", setOrNot(c.Line.ChannelAccessToken),
		"line_channel_secret", setOrNot(c.Line.ChannelSecret),
		"ai_provider", c.AI.Provider,
		"dify_api_key", setOrNot(c.Dify.ApiKey),
		"dify_api_base_url", c.Dify.BaseURL,
		"openai_api_key", setOrNot(c.OpenAI.ApiKey),
		"ai_timeout", c.AI.Timeout,
		"database", c.Database,
		"admin_token", setOrNot(c.AdminToken),
	)
}

func setOrNot(v string) string {
	if v == "" {
		return "NOT SET"
	}
	return "SET"
}
