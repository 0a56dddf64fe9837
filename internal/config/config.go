// Package config loads the optional run configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/diastream/diastream-cli/internal/logging"
)

// Config holds run options the CLI reads before flags are applied; flags
// take precedence over file values.
type Config struct {
	// Vendor is the default export dialect: "carelink" or "diasend".
	Vendor string `yaml:"vendor"`

	// Output is the default path for the normalized NDJSON stream;
	// empty means stdout.
	Output string `yaml:"output"`

	// StartTime and EndTime bound the run when the export's own declared
	// range should be overridden, in "2006-01-02T15:04:05" form.
	StartTime string `yaml:"start_time"`
	EndTime   string `yaml:"end_time"`

	Logging logging.Config `yaml:"logging"`
}

func Default() Config {
	return Config{
		Vendor:  "carelink",
		Logging: logging.DefaultConfig(),
	}
}

// Load reads a YAML config file. A missing path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}
