// Package config loads finimport settings from the embedded defaults, an
// optional YAML file, FINIMPORT_* environment variables (a .env file in the
// working directory included) and command-line flags, in increasing order
// of precedence.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// EnvPrefix prefixes every environment variable read.
const EnvPrefix = "FINIMPORT"

// Config is the resolved configuration of one run.
type Config struct {
	Ledger          string             `mapstructure:"ledger" validate:"required"`
	Verbose         bool               `mapstructure:"verbose"`
	Currency        string             `mapstructure:"currency" validate:"required,len=3"`
	StagingPrefix   string             `mapstructure:"staging_prefix" validate:"required"`
	DefaultCategory string             `mapstructure:"default_category" validate:"required"`
	RulesFile       string             `mapstructure:"rules_file"`
	QIF             QIF                `mapstructure:"qif"`
	OFX             OFX                `mapstructure:"ofx"`
	Profiles        map[string]Profile `mapstructure:"profiles" validate:"dive"`
}

// QIF settings.
type QIF struct {
	DateLayout string `mapstructure:"date_layout" validate:"required"`
	Charset    string `mapstructure:"charset"`
}

// OFX settings.
type OFX struct {
	Charset string `mapstructure:"charset"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"ledger":   "ledger",
	"verbose":  "verbose",
	"currency": "currency",
	"rules":    "rules_file",
}

// Build resolves the configuration. cfgFile may be empty, in which case
// finimport.yaml is looked up in the working directory and in
// ~/.config/finimport. flags may be nil.
func Build(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return nil, fmt.Errorf("failed to read built-in defaults: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("finimport")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "finimport"))
		}
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	for name, p := range cfg.Profiles {
		p.Name = name
		cfg.Profiles[name] = p
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)

	ledger, err := expandHome(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	cfg.Ledger = ledger

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and every import profile.
func (c *Config) Validate() error {
	if errs := validateStruct(c); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", joinFieldErrors(errs))
	}
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: profile %q: %w", name, err)
		}
	}
	return nil
}

// Profile returns the named import profile.
func (c *Config) Profile(name string) (Profile, error) {
	p, ok := c.Profiles[strings.ToLower(name)]
	if !ok {
		return Profile{}, fmt.Errorf("unknown import profile %q (available: %s)", name, strings.Join(c.ProfileNames(), ", "))
	}
	return p, nil
}

// ProfileNames returns the profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
