package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/backend/sim"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load
const (
	EnvConfig            = "LEDCTL_CONFIG"
	EnvSlotFilters       = "LEDCTL_SLOT_FILTERS"
	EnvControllerFilters = "LEDCTL_CONTROLLER_FILTERS"
)

type Config struct {
	// Slots whose id starts with one of these prefixes are hidden
	SlotFilters []string `yaml:"slot_filters,omitempty"`
	// Controller types treated as absent
	ControllerFilters []string `yaml:"controller_filters,omitempty"`
	// Multipath arbitration order, most preferred first
	Priority []string `yaml:"priority,omitempty"`
	// Bound on every backend call
	Timeout time.Duration `yaml:"timeout,omitempty"`

	LogFile  string `yaml:"log_file,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`

	// sqlite file recording LED changes, empty disables the journal
	Journal string `yaml:"journal,omitempty"`

	SysfsRoot string        `yaml:"sysfs_root,omitempty"`
	Simulate  *sim.Topology `yaml:"simulate,omitempty"`

	// Path of the file the config was read from, empty for defaults
	Path string `yaml:"-"`
}

// defaultConfig provides baseline settings
var defaultConfig = Config{
	Priority:  []string{"NPEM", "VMD", "SCSI"},
	Timeout:   5 * time.Second,
	LogLevel:  "warning",
	SysfsRoot: "/",
}

// Default returns the built in configuration
func Default() *Config {
	cfg := defaultConfig
	cfg.Priority = append([]string(nil), defaultConfig.Priority...)
	return &cfg
}

// Load reads the config file at path. With an empty path $LEDCTL_CONFIG
// and then the default locations are tried; when none exists the
// defaults are used. Environment filters are applied on top.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	explicit := path != ""
	if path == "" {
		// Try default locations
		candidates := []string{
			"/etc/ledctl/ledctl.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/ledctl/ledctl.yaml"),
			"ledctl.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if explicit {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			cfg.Path = path
		}
	}

	// Apply defaults for missing values
	if len(cfg.Priority) == 0 {
		cfg.Priority = append([]string(nil), defaultConfig.Priority...)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultConfig.Timeout
	}
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = defaultConfig.SysfsRoot
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultConfig.LogLevel
	}

	if v := os.Getenv(EnvSlotFilters); v != "" {
		cfg.SlotFilters = splitList(v)
	}
	if v := os.Getenv(EnvControllerFilters); v != "" {
		cfg.ControllerFilters = splitList(v)
	}

	if _, err := cfg.ExcludedControllers(); err != nil {
		return nil, err
	}
	if _, err := cfg.PriorityTable(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseTypes(names []string) ([]backend.ControllerType, error) {
	var out []backend.ControllerType
	for _, n := range names {
		ct, err := backend.ParseControllerType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, nil
}

// ExcludedControllers parses controller_filters
func (c *Config) ExcludedControllers() ([]backend.ControllerType, error) {
	return parseTypes(c.ControllerFilters)
}

// PriorityTable parses the arbitration order
func (c *Config) PriorityTable() ([]backend.ControllerType, error) {
	return parseTypes(c.Priority)
}

// Topology returns the simulated hardware for test mode
func (c *Config) Topology() sim.Topology {
	if c.Simulate != nil {
		return *c.Simulate
	}
	return sim.DefaultTopology()
}
