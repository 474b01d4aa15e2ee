package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Config represents the main caseagent configuration
type Config struct {
	// Model profiles keyed by type ("vision", "text")
	Models map[string]ModelProfile `json:"models" mapstructure:"models"`

	// Defaults
	Defaults DefaultsConfig `json:"defaults" mapstructure:"defaults"`

	// Agent run loop settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Case image data
	Images ImagesConfig `json:"image_data" mapstructure:"image_data"`

	// Case search index
	Search SearchConfig `json:"search" mapstructure:"search"`

	// Directories
	Dirs DirsConfig `json:"dirs" mapstructure:"dirs"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ModelProfile describes one chat-completion endpoint the agent can run on
type ModelProfile struct {
	ModelID        string `json:"model_id" mapstructure:"model_id"`
	Provider       string `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKeyEnv      string `json:"api_key_env" mapstructure:"api_key_env"`
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	SupportsVision bool   `json:"supports_vision" mapstructure:"supports_vision"`
}

// DefaultsConfig selects which model profile is active when none is requested
type DefaultsConfig struct {
	ModelType string `json:"model_type" mapstructure:"model_type"` // vision, text
}

// AgentConfig holds run loop limits
type AgentConfig struct {
	MaxTurns       int     `json:"max_turns" mapstructure:"max_turns"`
	MaxTokens      int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	BashTimeout    int     `json:"bash_timeout" mapstructure:"bash_timeout"`         // seconds
	MaxBashTimeout int     `json:"max_bash_timeout" mapstructure:"max_bash_timeout"` // seconds
	MaxSubAgents   int     `json:"max_sub_agents" mapstructure:"max_sub_agents"`
}

// ImagesConfig points at the case image metadata and cache
type ImagesConfig struct {
	CSVPath  string `json:"csv_path" mapstructure:"csv_path"`
	CacheDir string `json:"cache_dir" mapstructure:"cache_dir"`
	Headless bool   `json:"headless" mapstructure:"headless"`
}

// SearchConfig holds case search index configuration
type SearchConfig struct {
	DBPath    string          `json:"db_path" mapstructure:"db_path"`
	CasesCSV  string          `json:"cases_csv" mapstructure:"cases_csv"`
	TopK      int             `json:"top_k" mapstructure:"top_k"`
	Embedding EmbeddingConfig `json:"embedding" mapstructure:"embedding"`
}

// EmbeddingConfig enables semantic search alongside keyword search
type EmbeddingConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Model      string `json:"model" mapstructure:"model"`
	Dimensions int    `json:"dimensions" mapstructure:"dimensions"`
	APIKeyEnv  string `json:"api_key_env" mapstructure:"api_key_env"`
	BaseURL    string `json:"base_url" mapstructure:"base_url"`
}

// DirsConfig holds the data directories
type DirsConfig struct {
	Skills   string `json:"skills" mapstructure:"skills"`
	Sessions string `json:"sessions" mapstructure:"sessions"`
	Logs     string `json:"logs" mapstructure:"logs"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Models: map[string]ModelProfile{
			"vision": {
				ModelID:        "gpt-5-mini",
				Provider:       "openai",
				APIKeyEnv:      "OPENAI_API_KEY",
				BaseURL:        "https://api.openai.com/v1",
				SupportsVision: true,
			},
			"text": {
				ModelID:        "deepseek-chat",
				Provider:       "openai",
				APIKeyEnv:      "DEEPSEEK_API_KEY",
				BaseURL:        "https://api.deepseek.com",
				SupportsVision: false,
			},
		},
		Defaults: DefaultsConfig{
			ModelType: "text",
		},
		Agent: AgentConfig{
			MaxTurns:       15,
			MaxTokens:      4096,
			Temperature:    0.3,
			BashTimeout:    60,
			MaxBashTimeout: 300,
			MaxSubAgents:   5,
		},
		Images: ImagesConfig{
			CSVPath:  "data/case_images.csv",
			CacheDir: "data/image_cache",
			Headless: true,
		},
		Search: SearchConfig{
			DBPath:   "data/cases.db",
			CasesCSV: "data/cases.csv",
			TopK:     5,
			Embedding: EmbeddingConfig{
				Enabled:    false,
				Model:      "text-embedding-3-small",
				Dimensions: 1536,
				APIKeyEnv:  "OPENAI_API_KEY",
			},
		},
		Dirs: DirsConfig{
			Skills:   "skills",
			Sessions: "sessions",
			Logs:     "logs",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   50,
			MaxAge:    14,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// ModelTypes returns the configured profile names in sorted order
func (c *Config) ModelTypes() []string {
	types := make([]string, 0, len(c.Models))
	for name := range c.Models {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// GetModelProfile resolves a model profile by type. An empty type selects
// the configured default.
func (c *Config) GetModelProfile(modelType string) (ModelProfile, error) {
	if modelType == "" {
		modelType = c.Defaults.ModelType
	}
	if modelType == "" {
		modelType = "text"
	}

	profile, ok := c.Models[modelType]
	if !ok {
		return ModelProfile{}, fmt.Errorf("unknown model_type %q, available: %v", modelType, c.ModelTypes())
	}
	return profile, nil
}

// ResolveAPIKey reads the profile's API key from the environment
func (p ModelProfile) ResolveAPIKey() (string, error) {
	key := os.Getenv(p.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("missing API key: set %s environment variable", p.APIKeyEnv)
	}
	return key, nil
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("no model profiles configured: at least one model is required")
	}

	for name, profile := range c.Models {
		if profile.ModelID == "" {
			return fmt.Errorf("model %s: model_id is required", name)
		}
		if profile.Provider != "openai" && profile.Provider != "anthropic" {
			return fmt.Errorf("model %s: invalid provider %s (must be: openai, anthropic)", name, profile.Provider)
		}
		if profile.APIKeyEnv == "" {
			return fmt.Errorf("model %s: api_key_env is required", name)
		}
	}

	if c.Defaults.ModelType != "" {
		if _, ok := c.Models[c.Defaults.ModelType]; !ok {
			return fmt.Errorf("default model_type %q is not a configured model, available: %v", c.Defaults.ModelType, c.ModelTypes())
		}
	}

	if c.Agent.MaxTurns < 1 {
		return fmt.Errorf("agent max_turns must be at least 1, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.MaxTokens <= 0 {
		return fmt.Errorf("agent max_tokens must be positive, got %d", c.Agent.MaxTokens)
	}
	if c.Agent.MaxSubAgents < 1 || c.Agent.MaxSubAgents > 5 {
		return fmt.Errorf("agent max_sub_agents must be between 1 and 5, got %d", c.Agent.MaxSubAgents)
	}
	if c.Agent.BashTimeout <= 0 {
		return fmt.Errorf("agent bash_timeout must be positive, got %d", c.Agent.BashTimeout)
	}
	if c.Agent.MaxBashTimeout < c.Agent.BashTimeout {
		return fmt.Errorf("agent max_bash_timeout must be >= bash_timeout")
	}

	return nil
}
