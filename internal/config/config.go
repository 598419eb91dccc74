package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Supported model providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderDummy  = "dummy"
)

const configFileName = "config.yaml"

// ChatConfig holds configuration for the chat front end and its agent.
type ChatConfig struct {
	ModelProvider         string `yaml:"model_provider"`
	Model                 string `yaml:"model"`
	OllamaAPIBase         string `yaml:"ollama_api_base"`
	OpenAIChatCompURL     string `yaml:"openai_chat_completions_url"`
	OpenAIAPIKey          string `yaml:"openai_api_key"`
	GeminiAPIKey          string `yaml:"gemini_api_key"`
	AgentName             string `yaml:"agent_name"`
	AgentDescription      string `yaml:"agent_description"`
	AgentInstruction      string `yaml:"agent_instruction"`
	AppName               string `yaml:"app_name"`
	UserID                string `yaml:"user_id"`
	SessionID             string `yaml:"session_id"`
	DBPath                string `yaml:"db_path"`
	HistoryEnabled        bool   `yaml:"history_enabled"`
	HistoryWindow         int    `yaml:"history_window"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	LogLevel              string `yaml:"log_level"`
	LogFile               string `yaml:"log_file"`
	DummyProviderScript   string `yaml:"dummy_provider_script"`

	// ConfigDir and ConfigFile record where configuration was looked up.
	ConfigDir  string `yaml:"-"`
	ConfigFile string `yaml:"-"`
}

// RequestTimeout returns the per-request budget as a duration.
func (c ChatConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// DefaultChatConfig returns the built-in defaults.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		ModelProvider:     ProviderOllama,
		Model:             "gemma3",
		OllamaAPIBase:     "http://localhost:11434",
		OpenAIChatCompURL: "http://localhost:11434/v1/chat/completions",
		AgentName:         "XJ10",
		AgentDescription:  "Agent to answer questions about Music and Music genres.",
		AgentInstruction: "You are a helpful agent super knowledgable about Music and Music genres. " +
			"Use KAOMOJIS such as (｡♥‿♥｡), (≧◡≦), (✿◠‿◠), to show friendliness.",
		AppName:               "XJ10",
		UserID:                "Roboto",
		SessionID:             "roboto_session",
		DBPath:                "conversation.db",
		HistoryEnabled:        true,
		HistoryWindow:         20,
		RequestTimeoutSeconds: 120,
		LogLevel:              "warn",
		DummyProviderScript:   "ok",
	}
}

// LoadChatConfig layers defaults, the YAML config file and environment
// variables. path overrides the config file location; when empty,
// XJ10_CONFIG_FILE and then <config dir>/config.yaml are tried. Only an
// explicitly named file must exist.
func LoadChatConfig(path string) (ChatConfig, error) {
	cfg := DefaultChatConfig()

	dir, explicitDir, err := resolveConfigDir()
	if err != nil {
		return ChatConfig{}, err
	}
	if explicitDir {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ChatConfig{}, fmt.Errorf("failed to create XJ10_CONFIG_DIR %s: %w", dir, err)
		}
	}
	cfg.ConfigDir = dir

	if path == "" {
		path = os.Getenv("XJ10_CONFIG_FILE")
	}
	explicitFile := path != ""
	if !explicitFile {
		path = filepath.Join(dir, configFileName)
	}
	loaded, err := loadFile(path, &cfg)
	if err != nil {
		if explicitFile || !errors.Is(err, os.ErrNotExist) {
			return ChatConfig{}, err
		}
	}
	if loaded {
		cfg.ConfigFile = path
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return ChatConfig{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c ChatConfig) Validate() error {
	switch c.ModelProvider {
	case ProviderOllama, ProviderOpenAI, ProviderDummy:
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required in environment when XJ10_MODEL_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("unsupported XJ10_MODEL_PROVIDER: %q", c.ModelProvider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("XJ10_MODEL must not be empty")
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("XJ10_HISTORY_WINDOW must be >= 0, got %d", c.HistoryWindow)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("XJ10_REQUEST_TIMEOUT_SECONDS must be > 0, got %d", c.RequestTimeoutSeconds)
	}
	if c.HistoryEnabled && strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("XJ10_DB_PATH must not be empty when history is enabled")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid XJ10_LOG_LEVEL: %w", err)
	}
	return nil
}

func loadFile(path string, cfg *ChatConfig) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return true, nil
}

func applyEnv(cfg *ChatConfig) {
	cfg.ModelProvider = envOrDefault("XJ10_MODEL_PROVIDER", cfg.ModelProvider)
	cfg.Model = envOrDefault("XJ10_MODEL", cfg.Model)
	cfg.OllamaAPIBase = envOrDefault("OLLAMA_API_BASE", cfg.OllamaAPIBase)
	cfg.OpenAIChatCompURL = envOrDefault("XJ10_OPENAI_CHAT_COMPLETIONS_URL", cfg.OpenAIChatCompURL)
	cfg.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.GeminiAPIKey = envOrDefault("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.AgentName = envOrDefault("XJ10_AGENT_NAME", cfg.AgentName)
	cfg.AgentDescription = envOrDefault("XJ10_AGENT_DESCRIPTION", cfg.AgentDescription)
	cfg.AgentInstruction = envOrDefault("XJ10_AGENT_INSTRUCTION", cfg.AgentInstruction)
	cfg.AppName = envOrDefault("XJ10_APP_NAME", cfg.AppName)
	cfg.UserID = envOrDefault("XJ10_USER_ID", cfg.UserID)
	cfg.SessionID = envOrDefault("XJ10_SESSION_ID", cfg.SessionID)
	cfg.DBPath = envOrDefault("XJ10_DB_PATH", cfg.DBPath)
	cfg.HistoryEnabled = envBoolOrDefault("XJ10_HISTORY_ENABLED", cfg.HistoryEnabled)
	cfg.HistoryWindow = envIntOrDefault("XJ10_HISTORY_WINDOW", cfg.HistoryWindow)
	cfg.RequestTimeoutSeconds = envIntOrDefault("XJ10_REQUEST_TIMEOUT_SECONDS", cfg.RequestTimeoutSeconds)
	cfg.LogLevel = envOrDefault("XJ10_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = envOrDefault("XJ10_LOG_FILE", cfg.LogFile)
	cfg.DummyProviderScript = envOrDefault("XJ10_DUMMY_PROVIDER_SCRIPT", cfg.DummyProviderScript)
}

// resolveConfigDir picks XJ10_CONFIG_DIR, then $XDG_CONFIG_HOME/xj10, then
// ~/.config/xj10. The bool reports whether the directory was set explicitly.
func resolveConfigDir() (string, bool, error) {
	if dir := os.Getenv("XJ10_CONFIG_DIR"); dir != "" {
		return dir, true, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "xj10"), false, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(home, ".config", "xj10"), false, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
