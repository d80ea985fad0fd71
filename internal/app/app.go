// Package app initializes and holds long-lived application services, acting as
// a dependency injection container.
package app

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/buyeewatch/buyee-watcher/internal/config"
	"github.com/buyeewatch/buyee-watcher/internal/crawler"
	"github.com/buyeewatch/buyee-watcher/internal/credentials"
	"github.com/buyeewatch/buyee-watcher/internal/database"
	"github.com/buyeewatch/buyee-watcher/internal/logging"
	memorypub "github.com/buyeewatch/buyee-watcher/internal/publisher/memory"
	"github.com/buyeewatch/buyee-watcher/internal/publisher/pubsub"
	"github.com/buyeewatch/buyee-watcher/internal/sheets"
	"github.com/buyeewatch/buyee-watcher/internal/storage/gcs"
	"github.com/buyeewatch/buyee-watcher/internal/storage/local"
	memoryblob "github.com/buyeewatch/buyee-watcher/internal/storage/memory"
)

// Publisher extends the crawler publisher contract with shutdown.
type Publisher interface {
	crawler.Publisher
	Close() error
}

// BlobCloser is implemented by blob stores that hold client connections.
type BlobCloser interface {
	Close() error
}

// App holds the shared, long-lived services for the watcher. It is built once
// at startup, stored in the command context, and closed by a Cobra hook.
type App struct {
	logger     *zap.Logger
	cfg        config.Config
	watchboard crawler.Watchboard
	database   database.Provider
	blobStore  crawler.BlobStore
	publisher  Publisher
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetConfig exposes the validated service configuration.
func (a *App) GetConfig() config.Config { return a.cfg }

// GetWatchboard returns the configured spreadsheet provider.
func (a *App) GetWatchboard() crawler.Watchboard { return a.watchboard }

// GetDatabase provides access to the run metadata provider.
func (a *App) GetDatabase() database.Provider { return a.database }

// GetBlobStore exposes the configured snapshot store.
func (a *App) GetBlobStore() crawler.BlobStore { return a.blobStore }

// GetPublisher returns the new-listing publisher, which may be nil when
// pubsub is disabled.
func (a *App) GetPublisher() Publisher { return a.publisher }

// NewApp creates and initializes an App from the global Viper configuration.
// It fails fast: a misconfigured provider aborts startup before any crawl
// traffic is generated.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logging.L = logger
	logger.Info("initializing application services",
		zap.Bool("ci", credentials.RunningInCI()),
	)

	// The proxy environment is scrubbed unconditionally: crawl traffic must
	// only ever use the explicitly configured residential proxy.
	if err := credentials.ScrubProxyEnv(); err != nil {
		return nil, fmt.Errorf("scrub proxy env: %w", err)
	}

	watchboard, err := buildWatchboard(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	db, err := buildDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	blobStore, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	pub, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("application services initialized")
	return &App{
		logger:     logger,
		cfg:        cfg,
		watchboard: watchboard,
		database:   db,
		blobStore:  blobStore,
		publisher:  pub,
	}, nil
}

func buildWatchboard(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Watchboard, error) {
	switch cfg.Sheets.Provider {
	case "google":
		if err := credentials.MaterializeFromEnv(cfg.Sheets.CredentialsFile); err != nil {
			return nil, fmt.Errorf("materialize credentials: %w", err)
		}
		logger.Info("using Google Sheets watchboard",
			zap.String("spreadsheet_id", cfg.Sheets.SpreadsheetID),
		)
		board, err := sheets.NewGoogleWatchboard(ctx, sheets.Config{
			CredentialsFile: cfg.Sheets.CredentialsFile,
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			CodeSheet:       cfg.Sheets.CodeSheet,
			ListSheet:       cfg.Sheets.ListSheet,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init sheets watchboard: %w", err)
		}
		return board, nil
	case "memory":
		logger.Info("using in-memory watchboard; listings are not persisted")
		return sheets.NewMemoryWatchboard(nil), nil
	default:
		return nil, fmt.Errorf("unknown sheets provider: %s", cfg.Sheets.Provider)
	}
}

func buildDatabase(ctx context.Context, cfg config.Config, logger *zap.Logger) (database.Provider, error) {
	switch cfg.DB.Provider {
	case "postgres":
		logger.Info("connecting to PostgreSQL")
		db, err := database.NewPostgresProvider(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		return db, nil
	case "memory":
		return database.NewMemoryStore(), nil
	case "noop":
		logger.Info("using no-op database provider; run metadata is discarded")
		return database.NoOpProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown database provider: %s", cfg.DB.Provider)
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		logger.Info("using GCS snapshot store", zap.String("bucket", cfg.Storage.GCSBucket))
		store, err := gcs.New(ctx, cfg.Storage.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return store, nil
	case "local":
		store, err := local.New(cfg.Storage.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return store, nil
	case "memory":
		return memoryblob.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (Publisher, error) {
	if !cfg.PubSub.Enabled {
		return memorypub.New(), nil
	}
	logger.Info("connecting to GCP Pub/Sub", zap.String("topic", cfg.PubSub.TopicID))
	pub, err := pubsub.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub: %w", err)
	}
	return pub, nil
}

// Close gracefully shuts down all services in the container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if err := a.database.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
	}
	if closer, ok := a.blobStore.(BlobCloser); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("close blob store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
