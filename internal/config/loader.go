package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. Missing files yield the default
// config; environment variables prefixed with CASEAGENT_ override file
// values either way.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".caseagent", "agent.yaml")
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CASEAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		l.applyDefaults(cfg, filepath.Dir(configPath))
		return cfg, nil
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.applyDefaults(cfg, filepath.Dir(configPath))
	return cfg, nil
}

// applyDefaults resolves relative paths against the config file's directory
// and fills in derived paths.
func (l *Loader) applyDefaults(cfg *Config, baseDir string) {
	cfg.Images.CSVPath = resolvePath(baseDir, cfg.Images.CSVPath)
	cfg.Images.CacheDir = resolvePath(baseDir, cfg.Images.CacheDir)
	cfg.Search.DBPath = resolvePath(baseDir, cfg.Search.DBPath)
	cfg.Search.CasesCSV = resolvePath(baseDir, cfg.Search.CasesCSV)
	cfg.Dirs.Skills = resolvePath(baseDir, cfg.Dirs.Skills)
	cfg.Dirs.Sessions = resolvePath(baseDir, cfg.Dirs.Sessions)
	cfg.Dirs.Logs = resolvePath(baseDir, cfg.Dirs.Logs)

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.Dirs.Logs, "agent.log")
	} else {
		cfg.Logging.File = resolvePath(baseDir, cfg.Logging.File)
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".caseagent", "agent.yaml")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.Set("models", cfg.Models)
	v.Set("defaults", cfg.Defaults)
	v.Set("agent", cfg.Agent)
	v.Set("image_data", cfg.Images)
	v.Set("search", cfg.Search)
	v.Set("dirs", cfg.Dirs)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".caseagent", "agent.yaml")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
