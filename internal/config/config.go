// Package config provides configuration management for Concierge.
//
// Configuration is loaded from ~/.concierge/config.yaml (created with defaults
// on first use) and can be overridden by environment variables with the
// CONCIERGE_ prefix, e.g. CONCIERGE_LOGGING_LEVEL=debug.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LLM          LLMConfig                   `mapstructure:"llm" yaml:"llm"`
	Agents       map[string]AgentModelConfig `mapstructure:"agents" yaml:"agents"`
	Routing      RoutingConfig               `mapstructure:"routing" yaml:"routing"`
	Topic        TopicConfig                 `mapstructure:"topic" yaml:"topic"`
	Tools        ToolsConfig                 `mapstructure:"tools" yaml:"tools"`
	Quality      QualityConfig               `mapstructure:"quality" yaml:"quality"`
	Orchestrator OrchestratorConfig          `mapstructure:"orchestrator" yaml:"orchestrator"`
	Enrich       EnrichConfig                `mapstructure:"enrich" yaml:"enrich"`
	Cache        CacheConfig                 `mapstructure:"cache" yaml:"cache"`
	Data         DataConfig                  `mapstructure:"data" yaml:"data"`
	Server       ServerConfig                `mapstructure:"server" yaml:"server"`
	Scheduler    SchedulerConfig             `mapstructure:"scheduler" yaml:"scheduler"`
	Persona      PersonaConfig               `mapstructure:"persona" yaml:"persona"`
	Logging      LoggingConfig               `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig contains configuration for the OpenAI-compatible providers.
type LLMConfig struct {
	// Providers maps provider names to their endpoint and credential settings.
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	// Timeout bounds a single completion call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MaxTokens is the default completion length.
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`
	// Temperature is the default sampling temperature.
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// ProviderConfig contains configuration for a specific provider.
type ProviderConfig struct {
	// BaseURL is the OpenAI-compatible API base URL.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// APIKey is the credential; usually left empty in favour of APIKeyEnv.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
}

// ModelRef names a (provider, model) pair.
type ModelRef struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
}

// AgentModelConfig binds an agent to its primary model and fallback chain.
type AgentModelConfig struct {
	Provider  string     `mapstructure:"provider" yaml:"provider"`
	Model     string     `mapstructure:"model" yaml:"model"`
	Fallbacks []ModelRef `mapstructure:"fallbacks" yaml:"fallbacks,omitempty"`
}

// RoutingConfig tunes the router.
type RoutingConfig struct {
	// ContinuityThreshold is the keyword overlap above which a message continues the current topic.
	ContinuityThreshold float64 `mapstructure:"continuity_threshold" yaml:"continuity_threshold"`
	// SwitchPhrases mark an explicit change of subject.
	SwitchPhrases []string `mapstructure:"switch_phrases" yaml:"switch_phrases"`
	// LLMClassifier enables the model-based tier for inconclusive messages.
	LLMClassifier bool `mapstructure:"llm_classifier" yaml:"llm_classifier"`
}

// TopicConfig tunes the topic tracker.
type TopicConfig struct {
	// SwitchBackWindow is how long an interrupted task stays eligible for a suggestion.
	SwitchBackWindow time.Duration `mapstructure:"switch_back_window" yaml:"switch_back_window"`
	// MinInterruptedTurns is the continuity an agent needs before it is snapshotted.
	MinInterruptedTurns int `mapstructure:"min_interrupted_turns" yaml:"min_interrupted_turns"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	// DefaultTimeout applies to tools missing from Timeouts.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// Timeouts maps tool names (or "prefix*" patterns) to timeouts.
	Timeouts map[string]time.Duration `mapstructure:"timeouts" yaml:"timeouts"`
	// MaxParallel bounds concurrent tool calls within one model turn.
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
	// Devices are the entity ids the home agent can control.
	Devices []string `mapstructure:"devices" yaml:"devices"`
}

// QualityConfig configures response scoring.
type QualityConfig struct {
	// CacheThreshold is the overall score a response needs to be worth caching.
	CacheThreshold float64 `mapstructure:"cache_threshold" yaml:"cache_threshold"`
	// TrendWindow bounds the samples used for per-agent trends.
	TrendWindow time.Duration `mapstructure:"trend_window" yaml:"trend_window"`
	// FollowupWindow is how soon a follow-up question counts as implicit feedback.
	FollowupWindow time.Duration `mapstructure:"followup_window" yaml:"followup_window"`
}

// OrchestratorConfig configures the request pipeline.
type OrchestratorConfig struct {
	// HistoryLimit is the number of recent messages sent to the provider.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
	// ShowTools emits tool_start/tool_end events by default.
	ShowTools bool `mapstructure:"show_tools" yaml:"show_tools"`
	// VoiceWrapping enables the unified-voice rewrite of specialist answers.
	VoiceWrapping bool `mapstructure:"voice_wrapping" yaml:"voice_wrapping"`
	// MinWrapLength is the shortest response that gets rewritten.
	MinWrapLength int `mapstructure:"min_wrap_length" yaml:"min_wrap_length"`
	// MemoryLimit is the number of stored memories added to the prompt.
	MemoryLimit int `mapstructure:"memory_limit" yaml:"memory_limit"`
	// DocumentLimit is the number of documents added to the prompt.
	DocumentLimit int `mapstructure:"document_limit" yaml:"document_limit"`
	// LLMMemoryExtraction adds a model-based pass to memory extraction.
	LLMMemoryExtraction bool `mapstructure:"llm_memory_extraction" yaml:"llm_memory_extraction"`
}

// EnrichConfig configures context enrichment.
type EnrichConfig struct {
	Location             string        `mapstructure:"location" yaml:"location"`
	Latitude             float64       `mapstructure:"latitude" yaml:"latitude"`
	Longitude            float64       `mapstructure:"longitude" yaml:"longitude"`
	Timezone             string        `mapstructure:"timezone" yaml:"timezone"`
	WeatherURL           string        `mapstructure:"weather_url" yaml:"weather_url"`
	WeatherTTL           time.Duration `mapstructure:"weather_ttl" yaml:"weather_ttl"`
	MemoryMinImportance  float64       `mapstructure:"memory_min_importance" yaml:"memory_min_importance"`
	DocumentMinRelevance float64       `mapstructure:"document_min_relevance" yaml:"document_min_relevance"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `mapstructure:"backend" yaml:"backend"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
}

// DataConfig configures the SQLite store.
type DataConfig struct {
	DBPath             string        `mapstructure:"db_path" yaml:"db_path"`
	TelemetryRetention time.Duration `mapstructure:"telemetry_retention" yaml:"telemetry_retention"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// APIKeys guard the /v1 endpoints when non-empty.
	APIKeys []APIKey `mapstructure:"api_keys" yaml:"api_keys,omitempty"`
}

// APIKey is a named bcrypt hash of a bearer key (see `concierge keygen`).
type APIKey struct {
	Name string `mapstructure:"name" yaml:"name"`
	Hash string `mapstructure:"hash" yaml:"hash"`
}

// SchedulerConfig configures background jobs (cron syntax).
type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	MetricsSpec   string `mapstructure:"metrics_spec" yaml:"metrics_spec"`
	RetentionSpec string `mapstructure:"retention_spec" yaml:"retention_spec"`
	SweepSpec     string `mapstructure:"sweep_spec" yaml:"sweep_spec"`
}

// PersonaConfig points to the unified-voice persona definition.
type PersonaConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := defaultDataDir()

	return &Config{
		LLM: LLMConfig{
			Providers: map[string]ProviderConfig{
				"openai":     {BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY"},
				"anthropic":  {BaseURL: "https://api.anthropic.com/v1/", APIKeyEnv: "ANTHROPIC_API_KEY"},
				"groq":       {BaseURL: "https://api.groq.com/openai/v1", APIKeyEnv: "GROQ_API_KEY"},
				"openrouter": {BaseURL: "https://openrouter.ai/api/v1", APIKeyEnv: "OPENROUTER_API_KEY"},
				"gemini":     {BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai/", APIKeyEnv: "GEMINI_API_KEY"},
				"grok":       {BaseURL: "https://api.x.ai/v1", APIKeyEnv: "XAI_API_KEY"},
				"ollama":     {BaseURL: "http://127.0.0.1:11434/v1"},
			},
			Timeout:     2 * time.Minute,
			MaxTokens:   2048,
			Temperature: 0.7,
		},
		Agents: map[string]AgentModelConfig{
			"coding": {
				Provider: "anthropic", Model: "claude-sonnet-4-20250514",
				Fallbacks: []ModelRef{{"openai", "gpt-4o"}, {"openrouter", "anthropic/claude-sonnet-4"}},
			},
			"research": {
				Provider: "openai", Model: "gpt-4o",
				Fallbacks: []ModelRef{{"openrouter", "perplexity/sonar"}, {"gemini", "gemini-2.0-flash"}},
			},
			"scheduling": {
				Provider: "openai", Model: "gpt-4o-mini",
				Fallbacks: []ModelRef{{"groq", "llama-3.3-70b-versatile"}},
			},
			"home": {
				Provider: "groq", Model: "llama-3.3-70b-versatile",
				Fallbacks: []ModelRef{{"openai", "gpt-4o-mini"}},
			},
			"finance": {
				Provider: "openai", Model: "gpt-4o",
				Fallbacks: []ModelRef{{"anthropic", "claude-sonnet-4-20250514"}, {"gemini", "gemini-2.0-flash"}},
			},
			"personality": {
				Provider: "openai", Model: "gpt-4o-mini",
				Fallbacks: []ModelRef{{"groq", "llama-3.3-70b-versatile"}, {"gemini", "gemini-2.0-flash"}},
			},
			"image": {
				Provider: "openai", Model: "gpt-4o-mini",
				Fallbacks: []ModelRef{{"openrouter", "openai/gpt-4o-mini"}},
			},
		},
		Routing: RoutingConfig{
			ContinuityThreshold: 0.3,
			SwitchPhrases: []string{
				"by the way", "another thing", "different question", "on another note",
				"changing the subject", "unrelated", "also, can you", "switching gears",
			},
			LLMClassifier: false,
		},
		Topic: TopicConfig{
			SwitchBackWindow:    30 * time.Minute,
			MinInterruptedTurns: 2,
		},
		Tools: ToolsConfig{
			DefaultTimeout: 10 * time.Second,
			Timeouts: map[string]time.Duration{
				"web_search":          30 * time.Second,
				"fetch_url":           20 * time.Second,
				"generate_image":      30 * time.Second,
				"create_pull_request": 30 * time.Second,
				"github_*":            20 * time.Second,
				"run_sql":             15 * time.Second,
				"get_weather":         10 * time.Second,
				"home_*":              10 * time.Second,
				"control_device":      10 * time.Second,
				"send_email":          20 * time.Second,
				"get_current_time":    1 * time.Second,
				"calculate":           2 * time.Second,
				"search_memories":     5 * time.Second,
				"search_documents":    5 * time.Second,
				"remember":            3 * time.Second,
			},
			MaxParallel: 4,
			Devices:     []string{"light.living_room", "light.kitchen", "light.bedroom", "switch.coffee_maker"},
		},
		Quality: QualityConfig{
			CacheThreshold: 0.7,
			TrendWindow:    7 * 24 * time.Hour,
			FollowupWindow: 2 * time.Minute,
		},
		Orchestrator: OrchestratorConfig{
			HistoryLimit:  20,
			ShowTools:     false,
			VoiceWrapping: true,
			MinWrapLength: 50,
			MemoryLimit:   5,
			DocumentLimit: 3,
		},
		Enrich: EnrichConfig{
			Location:             "",
			Timezone:             "Local",
			WeatherURL:           "https://api.open-meteo.com/v1/forecast",
			WeatherTTL:           10 * time.Minute,
			MemoryMinImportance:  0.5,
			DocumentMinRelevance: 0.2,
		},
		Cache: CacheConfig{
			Backend:   "memory",
			RedisAddr: "127.0.0.1:6379",
		},
		Data: DataConfig{
			DBPath:             filepath.Join(dataDir, "concierge.db"),
			TelemetryRetention: 30 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8088",
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			MetricsSpec:   "*/15 * * * *",
			RetentionSpec: "0 4 * * *",
			SweepSpec:     "*/5 * * * *",
		},
		Persona: PersonaConfig{
			File: filepath.Join(dataDir, "persona.yaml"),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "concierge.log"),
		},
	}
}

// Load reads configuration from the default location (~/.concierge/config.yaml).
func Load() (*Config, error) {
	return LoadFromPath(filepath.Join(defaultDataDir(), "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: CONCIERGE_SERVER_ADDR=0.0.0.0:8088
	v.SetEnvPrefix("CONCIERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Data.DBPath = expandPath(cfg.Data.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Persona.File = expandPath(cfg.Persona.File)
	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Tools.DefaultTimeout <= 0 {
		c.Tools.DefaultTimeout = d.Tools.DefaultTimeout
	}
	if c.Tools.MaxParallel <= 0 {
		c.Tools.MaxParallel = d.Tools.MaxParallel
	}
	if c.Topic.SwitchBackWindow <= 0 {
		c.Topic.SwitchBackWindow = d.Topic.SwitchBackWindow
	}
	if c.Topic.MinInterruptedTurns <= 0 {
		c.Topic.MinInterruptedTurns = d.Topic.MinInterruptedTurns
	}
	if c.Orchestrator.HistoryLimit <= 0 {
		c.Orchestrator.HistoryLimit = d.Orchestrator.HistoryLimit
	}
	if c.Orchestrator.MinWrapLength <= 0 {
		c.Orchestrator.MinWrapLength = d.Orchestrator.MinWrapLength
	}
	if c.Quality.CacheThreshold <= 0 {
		c.Quality.CacheThreshold = d.Quality.CacheThreshold
	}
	if c.Enrich.WeatherTTL <= 0 {
		c.Enrich.WeatherTTL = d.Enrich.WeatherTTL
	}
}

// Save writes the configuration to the default config file location.
func (c *Config) Save() error {
	return c.SaveToPath(filepath.Join(defaultDataDir(), "config.yaml"))
}

// SaveToPath writes the configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// EnsureDirectories creates the data and log directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Data.DBPath),
		filepath.Dir(c.Logging.File),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("llm.providers cannot be empty")
	}

	for name, agent := range c.Agents {
		if _, ok := c.LLM.Providers[agent.Provider]; !ok {
			return fmt.Errorf("agent %s: unknown provider '%s'", name, agent.Provider)
		}
		if agent.Model == "" {
			return fmt.Errorf("agent %s: model cannot be empty", name)
		}
		for i, fb := range agent.Fallbacks {
			if _, ok := c.LLM.Providers[fb.Provider]; !ok {
				return fmt.Errorf("agent %s: fallback %d uses unknown provider '%s'", name, i, fb.Provider)
			}
		}
	}

	if c.Routing.ContinuityThreshold < 0 || c.Routing.ContinuityThreshold > 1 {
		return fmt.Errorf("routing.continuity_threshold must be between 0 and 1")
	}
	if c.Quality.CacheThreshold < 0 || c.Quality.CacheThreshold > 1 {
		return fmt.Errorf("quality.cache_threshold must be between 0 and 1")
	}

	validBackends := map[string]bool{"memory": true, "redis": true}
	if !validBackends[c.Cache.Backend] {
		return fmt.Errorf("invalid cache backend '%s', must be one of: memory, redis", c.Cache.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".concierge"
	}
	return filepath.Join(homeDir, ".concierge")
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
