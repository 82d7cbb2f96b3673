// Package servecmder provides the serve command: the API server plus the
// background canonicalization and review workers in one process.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/engramhq/engram/api"
	"github.com/engramhq/engram/pkg/canonical"
	"github.com/engramhq/engram/pkg/config"
	"github.com/engramhq/engram/pkg/dispatch"
	"github.com/engramhq/engram/pkg/dispatch/kafka"
	"github.com/engramhq/engram/pkg/dispatch/syncd"
	"github.com/engramhq/engram/pkg/embeddings"
	"github.com/engramhq/engram/pkg/embeddings/ollama"
	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/scheduler"
	"github.com/engramhq/engram/pkg/storage"
	"github.com/engramhq/engram/pkg/storage/inmemory"
	"github.com/engramhq/engram/pkg/storage/postgres"
	"github.com/engramhq/engram/pkg/storage/sqlite"
	"github.com/engramhq/engram/pkg/vector"
	"github.com/engramhq/engram/pkg/vector/bruteforce"
	"github.com/engramhq/engram/pkg/vector/sqlitevec"
)

var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name: "listen", Shorthand: "l", ViperKey: "api.listen",
		Description: "Address for API server to listen on",
	},
	config.FlagStorageDriver: {
		Name: "storage-driver", ViperKey: "storage.driver",
		Description: "Storage backend (sqlite, postgres, inmemory)",
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
		Description: "Vector index backend (sqlite, bruteforce, none)",
	},
	config.FlagVectorStoreTgt: {
		Name: "vector-store-target", ViperKey: "vector_store.target",
		Description: "Vector index target (SQLite path for the sqlite provider)",
	},
	config.FlagEmbeddingProv: {
		Name: "embedding-provider", ViperKey: "embedding.provider",
		Description: "Embedding backend (ollama, none)",
	},
	config.FlagEmbeddingTgt: {
		Name: "embedding-target", ViperKey: "embedding.target",
		Description: "Embedding provider URL",
	},
	config.FlagEmbeddingModel: {
		Name: "embedding-model", ViperKey: "embedding.model",
		Description: "Embedding model name",
	},
	config.FlagDedupThreshold: {
		Name: "dedup-threshold", ViperKey: "dedup.threshold",
		Description: "Cosine similarity at or above which chunks deduplicate",
	},
	config.FlagDispatchProv: {
		Name: "dispatch-provider", ViperKey: "dispatch.provider",
		Description: "Job transport (pool, kafka, sync)",
	},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagDedupThreshold,
	config.FlagDispatchProv,
}

type ServeCommander struct {
	listen         string
	storageDriver  string
	sqlitePath     string
	postgresDSN    string
	vectorProvider string
	vectorTarget   string
	embedProvider  string
	embedTarget    string
	embedModel     string
	dedupThreshold float64
	dispatchProv   string
	debug          bool

	v      *viper.Viper
	logger *zap.Logger
}

const serveLongDesc string = `Run the engram API server together with the background workers.

The canonicalization and review jobs run on an in-process worker pool by
default; set dispatch.provider to "kafka" to route them through a broker
instead.`

const serveShortDesc string = "Run the engram server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)
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

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, serveFlags, config.FlagVectorStoreProv, &cmder.vectorProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagVectorStoreTgt, &cmder.vectorTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddFloat64Flag(cmd, serveFlags, config.FlagDedupThreshold, &cmder.dedupThreshold)
	config.AddStringFlag(cmd, serveFlags, config.FlagDispatchProv, &cmder.dispatchProv)

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.New(c.debug)
	defer c.logger.Sync()

	cfg, err := config.FromViper(c.v)
	if err != nil {
		return err
	}

	storer, err := newStorageDriver(cfg, c.logger)
	if err != nil {
		return err
	}
	defer storer.Close()

	index, err := newVectorDriver(cfg, c.logger)
	if err != nil {
		return err
	}
	if index != nil {
		defer index.Close()
	}

	embedder, err := newEmbedder(cfg, c.logger)
	if err != nil {
		return err
	}
	if embedder != nil {
		defer embedder.Close()
	}

	engine := canonical.NewEngine(canonical.Config{
		Threshold:      cfg.Dedup.Threshold,
		CandidateLimit: cfg.Dedup.CandidateLimit,
		Embedder:       embedder,
	}, storer, index, c.logger)

	sched := scheduler.NewScheduler(storer, c.logger)

	dispatcher, consumer, err := newDispatcher(cfg, engine, sched, c.logger)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	apiConfig := api.Config{
		ListenAddr: cfg.API.Listen,
	}
	apiServer := api.NewServer(apiConfig, storer, sched, dispatcher, c.logger)

	errChan := make(chan error, 2)

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	var stopConsumer func()
	if consumer != nil {
		stopConsumer = startConsumer(consumer, errChan)
		defer stopConsumer()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	// Stop accepting requests first, then drain the dispatcher so in-flight
	// jobs finish against live storage.
	if err := apiServer.Shutdown(); err != nil {
		c.logger.Warn("API server shutdown failed", zap.Error(err))
	}
	return nil
}

func newStorageDriver(cfg *config.Config, log *zap.Logger) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case "sqlite", "":
		driver, err := sqlite.NewDriver(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		log.Info("using SQLite storage", zap.String("path", cfg.Storage.SQLitePath))
		return driver, nil

	case "postgres":
		driver, err := postgres.NewDriver(context.Background(), cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres storer: %w", err)
		}
		log.Info("using Postgres storage")
		return driver, nil

	case "inmemory":
		log.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

func newVectorDriver(cfg *config.Config, log *zap.Logger) (vector.Driver, error) {
	switch cfg.VectorStore.Provider {
	case "sqlite", "":
		target := cfg.VectorStore.Target
		if target == "" {
			target = cfg.Storage.SQLitePath + ".vec"
		}
		driver, err := sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     target,
			Dimensions: cfg.Embedding.Dimensions,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite-vec index: %w", err)
		}
		log.Info("using sqlite-vec index", zap.String("path", target))
		return driver, nil

	case "bruteforce":
		log.Info("using brute-force in-memory index")
		return bruteforce.NewDriver(), nil

	case "none":
		log.Info("no vector index configured, candidates scan storage directly")
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown vector store provider: %q", cfg.VectorStore.Provider)
	}
}

func newEmbedder(cfg *config.Config, log *zap.Logger) (embeddings.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "ollama", "":
		embedder, err := ollama.NewEmbedder(ollama.Config{
			BaseURL: cfg.Embedding.Target,
			Model:   cfg.Embedding.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
		}
		log.Info("using ollama embedder",
			zap.String("target", cfg.Embedding.Target),
			zap.String("model", cfg.Embedding.Model),
		)
		return embedder, nil

	case "none":
		log.Info("no embedder configured, chunks must arrive embedded")
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Embedding.Provider)
	}
}

// newDispatcher builds the job transport and registers the two handlers. For
// the kafka provider the returned consumer must be run by the caller; for the
// in-process providers it is nil.
func newDispatcher(cfg *config.Config, engine *canonical.Engine, sched *scheduler.Scheduler, log *zap.Logger) (dispatch.Dispatcher, *kafka.Consumer, error) {
	canonicalizeHandler := canonical.CanonicalizeHandler(engine)
	reviewHandler := scheduler.ReviewHandler(sched)

	switch cfg.Dispatch.Provider {
	case "pool", "":
		pool, err := dispatch.NewPool(&dispatch.PoolConfig{
			NumWorkers: cfg.Dispatch.Workers,
			QueueSize:  cfg.Dispatch.QueueSize,
			Logger:     log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
		pool.Handle(dispatch.TopicCanonicalize, canonicalizeHandler)
		pool.Handle(dispatch.TopicSubmitReview, reviewHandler)
		log.Info("using in-process worker pool",
			zap.Uint("workers", cfg.Dispatch.Workers),
		)
		return pool, nil, nil

	case "kafka":
		kafkaConfig := kafka.Config{
			Brokers: cfg.Dispatch.Brokers,
			Topic:   cfg.Dispatch.Topic,
			GroupID: cfg.Dispatch.GroupID,
		}
		publisher, err := kafka.NewPublisher(kafkaConfig, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		consumer, err := kafka.NewConsumer(kafkaConfig, log)
		if err != nil {
			publisher.Close()
			return nil, nil, fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		consumer.Handle(dispatch.TopicCanonicalize, canonicalizeHandler)
		consumer.Handle(dispatch.TopicSubmitReview, reviewHandler)
		return publisher, consumer, nil

	case "sync":
		d := syncd.NewDispatcher()
		d.Handle(dispatch.TopicCanonicalize, canonicalizeHandler)
		d.Handle(dispatch.TopicSubmitReview, reviewHandler)
		log.Info("using synchronous dispatcher")
		return d, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown dispatch provider: %q", cfg.Dispatch.Provider)
	}
}

// startConsumer runs the kafka consumer until stopped. The returned function
// cancels the consume loop and closes the reader.
func startConsumer(consumer *kafka.Consumer, errChan chan<- error) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := consumer.Run(ctx); err != nil {
			errChan <- fmt.Errorf("kafka consumer error: %w", err)
		}
	}()

	return func() {
		cancel()
		consumer.Close()
	}
}
