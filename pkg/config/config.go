package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/engramhq/engram/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// Configer reads and writes the persistent config.toml in the resolved
// .engram/ directory. Reads go through the full viper precedence chain;
// writes only touch the file.
type Configer struct {
	v          *viper.Viper
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	ddm := dotdir.NewManager()
	target, err := ddm.Target(override)
	if err != nil {
		return nil, err
	}

	v, err := InitViper(override)
	if err != nil {
		return nil, err
	}

	cfger := &Configer{v: v}
	if target != "" {
		cfger.targetPath = filepath.Join(target, configFile)
	}

	return cfger, nil
}

// ValidConfigKeys returns the supported configuration key names in a stable,
// logical order matching the TOML section layout.
func ValidConfigKeys() []string {
	ordered := []string{
		"storage.driver",
		"storage.sqlite_path",
		"storage.postgres_dsn",
		"api.listen",
		"vector_store.provider",
		"vector_store.target",
		"embedding.provider",
		"embedding.target",
		"embedding.model",
		"embedding.dimensions",
		"dedup.threshold",
		"dedup.candidate_limit",
		"recall.page_size",
		"dispatch.provider",
		"dispatch.workers",
		"dispatch.queue_size",
		"dispatch.brokers",
		"dispatch.topic",
		"dispatch.group_id",
	}

	// Sanity: only return keys that actually exist in the map, then append
	// any map keys the ordered list missed.
	result := make([]string, 0, len(configKeys))
	seen := make(map[string]bool, len(configKeys))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
			seen[k] = true
		}
	}
	for k := range configKeys {
		if !seen[k] {
			result = append(result, k)
		}
	}

	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// LoadConfig materializes the effective configuration: file values merged
// over defaults, with ENGRAM_ environment variables taking precedence.
func (c *Configer) LoadConfig() (*Config, error) {
	return FromViper(c.v)
}

// SaveConfig persists the configuration to config.toml in the target .engram/
// directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	w := viper.New()
	w.SetConfigType("toml")
	w.Set("version", cfg.Version)
	for key, info := range configKeys {
		if val := info.get(cfg); val != "" {
			w.Set(key, val)
		}
	}

	if err := w.WriteConfigAs(c.targetPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ConfigFileExists reports whether a config.toml is already present at the
// resolved target.
func (c *Configer) ConfigFileExists() (bool, error) {
	if c.targetPath == "" {
		return false, nil
	}
	_, err := os.Stat(c.targetPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("reading config: %w", err)
}
