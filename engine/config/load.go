package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file name searched for.
const FileName = "oxyscene.yaml"

// Overrides are command line settings applied over the file.
type Overrides struct {
	Verbose bool
	LogFile string
}

// Load loads configuration with priority: defaults < file < overrides.
//
// Parameters:
//   - path: an explicit config file, or empty to search the standard locations
//   - overrides: command line settings
//
// Returns:
//   - *Config: the validated configuration
//   - error: error if the file cannot be read or a setting is out of range
func Load(path string, overrides Overrides) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	overrides.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (o Overrides) apply(cfg *Config) {
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	if o.LogFile != "" {
		cfg.Logging.File.Path = o.LogFile
	}
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		FileName,
		filepath.Join(ConfigDir(), FileName),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "OxyScene")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "OxyScene")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "oxy-scene")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "oxy-scene")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// SaveTo writes the config to a specific path.
func (c *Config) SaveTo(path string) error {
	// Create parent directory if needed
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
