package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "taxomat.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/taxomat"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvPrefix is the prefix for environment variable overrides
	EnvPrefix = "TAXOMAT_"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/taxomat/config.yaml)
// 3. Project config (taxomat.yaml in current or parent directories)
// 4. Environment variables (TAXOMAT_*)
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	// Load project config
	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	applyEnv(config)
	l.resolvePaths(config)

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFile loads a single explicit config file over the defaults, applying
// the same environment overrides and path resolution as Load.
func (l *Loader) LoadFile(path string) (*Config, error) {
	config := DefaultConfig()
	fileConfig, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	config.Merge(fileConfig)

	applyEnv(config)
	l.resolvePaths(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// UserConfigPath returns the path to the user config file
func (l *Loader) UserConfigPath() string {
	return l.userConfigPath()
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for taxomat.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}

// resolvePaths fills in path defaults that depend on the environment
func (l *Loader) resolvePaths(config *Config) {
	if config.DataDir == "" {
		config.DataDir = defaultDataDir()
		l.logger.Debug("Using default data directory", slog.String("path", config.DataDir))
	}
	config.DataDir = expandHome(config.DataDir)
	config.Cache.Path = expandHome(config.Cache.Path)
	if config.Cache.Backend == "sqlite" && config.Cache.Path == "" {
		config.Cache.Path = filepath.Join(config.DataDir, "cache.db")
	}
	for i, pattern := range config.Vocabulary.Paths {
		config.Vocabulary.Paths[i] = expandHome(pattern)
	}
}

// applyEnv overrides addresses and paths from TAXOMAT_* environment variables
func applyEnv(config *Config) {
	if v := os.Getenv(EnvPrefix + "LANGUAGE"); v != "" {
		config.Language = v
	}
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv(EnvPrefix + "API_HOST"); v != "" {
		config.API.Host = v
	}
	if v := os.Getenv(EnvPrefix + "API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.API.Port = port
		}
	}
	if v := os.Getenv(EnvPrefix + "CACHE_BACKEND"); v != "" {
		config.Cache.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "CACHE_PATH"); v != "" {
		config.Cache.Path = v
	}
	if v := os.Getenv(EnvPrefix + "CACHE_URL"); v != "" {
		config.Cache.URL = v
	}
}

// defaultDataDir returns ~/.local/share/taxomat, or a relative fallback
// when the home directory is unknown
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "taxomat-data"
	}
	return filepath.Join(home, ".local", "share", "taxomat")
}

// expandHome expands a leading ~/ to the user's home directory
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
