package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version" mapstructure:"version"`
	Storage     StorageConfig     `toml:"storage" mapstructure:"storage"`
	API         APIConfig         `toml:"api" mapstructure:"api"`
	VectorStore VectorStoreConfig `toml:"vector_store" mapstructure:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding" mapstructure:"embedding"`
	Dedup       DedupConfig       `toml:"dedup" mapstructure:"dedup"`
	Recall      RecallConfig      `toml:"recall" mapstructure:"recall"`
	Dispatch    DispatchConfig    `toml:"dispatch" mapstructure:"dispatch"`
}

// StorageConfig holds the persistence backend settings.
type StorageConfig struct {
	Driver      string `toml:"driver,omitempty" mapstructure:"driver"`
	SQLitePath  string `toml:"sqlite_path,omitempty" mapstructure:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn,omitempty" mapstructure:"postgres_dsn"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty" mapstructure:"listen"`
}

// VectorStoreConfig holds similarity index settings.
type VectorStoreConfig struct {
	Provider string `toml:"provider,omitempty" mapstructure:"provider"`
	Target   string `toml:"target,omitempty" mapstructure:"target"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty" mapstructure:"provider"`
	Target     string `toml:"target,omitempty" mapstructure:"target"`
	Model      string `toml:"model,omitempty" mapstructure:"model"`
	Dimensions uint   `toml:"dimensions,omitempty" mapstructure:"dimensions"`
}

// DedupConfig holds canonicalization settings.
type DedupConfig struct {
	Threshold      float64 `toml:"threshold,omitempty" mapstructure:"threshold"`
	CandidateLimit int     `toml:"candidate_limit,omitempty" mapstructure:"candidate_limit"`
}

// RecallConfig holds recall queue settings.
type RecallConfig struct {
	PageSize int `toml:"page_size,omitempty" mapstructure:"page_size"`
}

// DispatchConfig holds background job transport settings. The pool provider
// runs jobs in-process; kafka routes them through a broker so workers can run
// in a separate process.
type DispatchConfig struct {
	Provider  string   `toml:"provider,omitempty" mapstructure:"provider"`
	Workers   uint     `toml:"workers,omitempty" mapstructure:"workers"`
	QueueSize uint     `toml:"queue_size,omitempty" mapstructure:"queue_size"`
	Brokers   []string `toml:"brokers,omitempty" mapstructure:"brokers"`
	Topic     string   `toml:"topic,omitempty" mapstructure:"topic"`
	GroupID   string   `toml:"group_id,omitempty" mapstructure:"group_id"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error { c.Storage.Driver = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.postgres_dsn": {
		get: func(c *Config) string { return c.Storage.PostgresDSN },
		set: func(c *Config, v string) error { c.Storage.PostgresDSN = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.target": {
		get: func(c *Config) string { return c.VectorStore.Target },
		set: func(c *Config, v string) error { c.VectorStore.Target = v; return nil },
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"dedup.threshold": {
		get: func(c *Config) string {
			if c.Dedup.Threshold == 0 {
				return ""
			}
			return strconv.FormatFloat(c.Dedup.Threshold, 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for dedup.threshold: %w", err)
			}
			if f <= 0 || f > 1 {
				return fmt.Errorf("dedup.threshold must be in (0, 1], got %v", f)
			}
			c.Dedup.Threshold = f
			return nil
		},
	},
	"dedup.candidate_limit": {
		get: func(c *Config) string {
			if c.Dedup.CandidateLimit == 0 {
				return ""
			}
			return strconv.Itoa(c.Dedup.CandidateLimit)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for dedup.candidate_limit: %w", err)
			}
			c.Dedup.CandidateLimit = n
			return nil
		},
	},
	"recall.page_size": {
		get: func(c *Config) string {
			if c.Recall.PageSize == 0 {
				return ""
			}
			return strconv.Itoa(c.Recall.PageSize)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for recall.page_size: %w", err)
			}
			c.Recall.PageSize = n
			return nil
		},
	},
	"dispatch.provider": {
		get: func(c *Config) string { return c.Dispatch.Provider },
		set: func(c *Config, v string) error { c.Dispatch.Provider = v; return nil },
	},
	"dispatch.workers": {
		get: func(c *Config) string {
			if c.Dispatch.Workers == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Dispatch.Workers), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for dispatch.workers: %w", err)
			}
			c.Dispatch.Workers = uint(n)
			return nil
		},
	},
	"dispatch.queue_size": {
		get: func(c *Config) string {
			if c.Dispatch.QueueSize == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Dispatch.QueueSize), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for dispatch.queue_size: %w", err)
			}
			c.Dispatch.QueueSize = uint(n)
			return nil
		},
	},
	"dispatch.brokers": {
		get: func(c *Config) string { return strings.Join(c.Dispatch.Brokers, ",") },
		set: func(c *Config, v string) error {
			var brokers []string
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					brokers = append(brokers, b)
				}
			}
			c.Dispatch.Brokers = brokers
			return nil
		},
	},
	"dispatch.topic": {
		get: func(c *Config) string { return c.Dispatch.Topic },
		set: func(c *Config, v string) error { c.Dispatch.Topic = v; return nil },
	},
	"dispatch.group_id": {
		get: func(c *Config) string { return c.Dispatch.GroupID },
		set: func(c *Config, v string) error { c.Dispatch.GroupID = v; return nil },
	},
}
