// Package compactcmder provides the compact command: a one-shot maintenance
// pass that merges drifted canonical clusters and collects orphaned
// representatives.
package compactcmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/canonical"
	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/storage/postgres"
	"github.com/engramhq/engram/pkg/storage/sqlite"
	"github.com/engramhq/engram/pkg/vector"
	"github.com/engramhq/engram/pkg/vector/sqlitevec"
)

var compactFlags = config.FlagSet{
	config.FlagStorageDriver: {
		Name: "storage-driver", ViperKey: "storage.driver",
		Description: "Storage backend (sqlite, postgres)",
	},
	config.FlagSQLite: {
		Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path",
		Description: "Path to SQLite database",
	},
	config.FlagPostgresDSN: {
		Name: "postgres-dsn", ViperKey: "storage.postgres_dsn",
		Description: "Postgres connection string",
	},
	config.FlagVectorStoreProv: {
		Name: "vector-store-provider", ViperKey: "vector_store.provider",
		Description: "Vector index backend (sqlite, none)",
	},
	config.FlagVectorStoreTgt: {
		Name: "vector-store-target", ViperKey: "vector_store.target",
		Description: "Vector index target (SQLite path for the sqlite provider)",
	},
	config.FlagDedupThreshold: {
		Name: "dedup-threshold", ViperKey: "dedup.threshold",
		Description: "Cosine similarity at or above which clusters merge",
	},
}

var compactFlagKeys = []string{
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagDedupThreshold,
}

type CompactCommander struct {
	storageDriver  string
	sqlitePath     string
	postgresDSN    string
	vectorProvider string
	vectorTarget   string
	dedupThreshold float64
	debug          bool

	v      *viper.Viper
	logger *zap.Logger
}

const compactLongDesc string = `Run one canonical maintenance pass.

Concurrent ingestion can leave sibling clusters holding near-identical
content, and lost races can leave representatives nobody references. This
command folds newer siblings into the oldest similar cluster, repoints their
mappings, and deletes zero-reference representatives. Running it again is
harmless.`

const compactShortDesc string = "Merge drifted canonical clusters and collect orphans"

func NewCompactCmd() *cobra.Command {
	cmder := &CompactCommander{}

	cmd := &cobra.Command{
		Use:   "compact",
		Short: compactShortDesc,
		Long:  compactLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, compactFlags, compactFlagKeys)
			cmder.v = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, compactFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, compactFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, compactFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, compactFlags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, compactFlags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddFloat64Flag(cmd, compactFlags, config.FlagDedupThreshold, &cmder.dedupThreshold)

	return cmd
}

func (c *CompactCommander) run() error {
	c.logger = logger.New(c.debug)
	defer c.logger.Sync()

	cfg, err := config.FromViper(c.v)
	if err != nil {
		return err
	}

	storer, err := c.newStorageDriver(cfg)
	if err != nil {
		return err
	}
	defer storer.Close()

	index, err := c.newVectorDriver(cfg)
	if err != nil {
		return err
	}
	if index != nil {
		defer index.Close()
	}

	engine := canonical.NewEngine(canonical.Config{
		Threshold:      cfg.Dedup.Threshold,
		CandidateLimit: cfg.Dedup.CandidateLimit,
	}, storer, index, c.logger)

	report, err := engine.Compact(context.Background())
	if err != nil {
		return fmt.Errorf("compacting: %w", err)
	}

	fmt.Printf("Merged:    %d\nRepointed: %d\nDeleted:   %d\n",
		report.Merged, report.Repointed, report.Deleted)
	return nil
}

func (c *CompactCommander) newStorageDriver(cfg *config.Config) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case "sqlite", "":
		driver, err := sqlite.NewDriver(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", cfg.Storage.SQLitePath))
		return driver, nil

	case "postgres":
		driver, err := postgres.NewDriver(context.Background(), cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres storer: %w", err)
		}
		c.logger.Info("using Postgres storage")
		return driver, nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

func (c *CompactCommander) newVectorDriver(cfg *config.Config) (vector.Driver, error) {
	switch cfg.VectorStore.Provider {
	case "sqlite", "":
		target := cfg.VectorStore.Target
		if target == "" {
			target = cfg.Storage.SQLitePath + ".vec"
		}
		driver, err := sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     target,
			Dimensions: cfg.Embedding.Dimensions,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite-vec index: %w", err)
		}
		return driver, nil

	case "none":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown vector store provider: %q", cfg.VectorStore.Provider)
	}
}
