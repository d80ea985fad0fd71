package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buyeewatch/buyee-watcher/internal/app"
	cfgpkg "github.com/buyeewatch/buyee-watcher/internal/config"
	"github.com/buyeewatch/buyee-watcher/internal/crawler"
	"github.com/buyeewatch/buyee-watcher/internal/database"
	"github.com/buyeewatch/buyee-watcher/internal/logging"
	"github.com/buyeewatch/buyee-watcher/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. This allows
// injecting a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() cfgpkg.Config
	GetWatchboard() crawler.Watchboard
	GetDatabase() database.Provider
	GetBlobStore() crawler.BlobStore
	GetPublisher() app.Publisher
}

// newApp is the application factory. It is a variable so tests can replace it
// with a mock factory.
var newApp func(ctx context.Context) (App, error) = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buyee-watcher",
		Short: "A Buyee Mercari watchlist crawler backed by Google Sheets.",
		Long: `buyee-watcher crawls Buyee's Mercari search pages for every keyword on a
Google Sheets watchlist, filters new listings by price ceiling, and writes
them back to the sheet. It can run once, on a cron schedule, or behind an
HTTP API.`,

		// Runs after config is loaded but before the subcommand's RunE: the
		// right place to build and inject the application container.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(config.InitConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.buyee-watcher/config.yaml)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	logging.InitLogger()

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("command execution failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}
