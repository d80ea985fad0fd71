// Package config initializes the application's configuration. It uses Viper to
// read settings from a config file, environment variables, and command-line
// flags, providing a unified configuration system.
package config

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/buyeewatch/buyee-watcher/internal/logging"
)

// InitConfig initializes the application's configuration using Viper. It sets
// defaults, defines search paths, and enables environment variables. Designed
// to be called once at startup via cobra.OnInitialize.
func InitConfig() {
	viper.SetConfigName("config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/buyee-watcher/")
	viper.AddConfigPath("$HOME/.buyee-watcher")

	// Service defaults.
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout_seconds", 60)
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("schedule.enabled", true)
	viper.SetDefault("schedule.spec", "0 */3 * * *")
	viper.SetDefault("worker.count", 1)
	viper.SetDefault("worker.queue_depth", 16)
	viper.SetDefault("logging.development", true)

	// Spreadsheet defaults. The worksheet names match the two tabs the watch
	// sheet has carried since the beginning.
	viper.SetDefault("sheets.provider", "memory")
	viper.SetDefault("sheets.code_sheet", "code")
	viper.SetDefault("sheets.list_sheet", "list")
	viper.SetDefault("sheets.credentials_file", "credentials.json")

	// Provider defaults keep a bare checkout runnable without cloud access.
	viper.SetDefault("storage.provider", "local")
	viper.SetDefault("storage.local_dir", "data/snapshots")
	viper.SetDefault("database.provider", "memory")
	viper.SetDefault("pubsub.enabled", false)

	// Crawl pipeline defaults.
	viper.SetDefault("crawler.search_base_url", "https://buyee.jp/mercari/search")
	viper.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	viper.SetDefault("crawler.concurrency", 2)
	viper.SetDefault("crawler.request_timeout", "15s")
	viper.SetDefault("crawler.render_timeout", "45s")
	viper.SetDefault("crawler.render_max_concurrency", 1)
	viper.SetDefault("crawler.render_domain_qps", 0.5)
	viper.SetDefault("crawler.retry_max_attempts", 3)
	viper.SetDefault("crawler.retry_base_delay", "250ms")
	viper.SetDefault("crawler.retry_max_delay", "5s")
	viper.SetDefault("crawler.snapshot_content_type", "text/html; charset=utf-8")
	viper.SetDefault("crawler.snapshot_prefix", "snapshots")
	viper.SetDefault("crawler.no_result_placeholder_row", true)

	// Selectors track Buyee's CSS-module class names and move with their
	// releases; overriding them via config avoids a redeploy when they churn.
	viper.SetDefault("crawler.selectors.item", "a.simple_container__llX1q")
	viper.SetDefault("crawler.selectors.sold", "span.sold_text__yvzaS")
	viper.SetDefault("crawler.selectors.title", "span.simple_name__XMcbt")
	viper.SetDefault("crawler.selectors.price", "span.simple_price__h13DP")
	viper.SetDefault("crawler.selectors.iframe", `iframe[src*="asf.buyee.jp/mercari"]`)

	viper.SetDefault("detector.min_html_bytes", 2000)
	viper.SetDefault("detector.keywords", []string{
		"__NEXT_DATA__",
		"data-reactroot",
		"window.__NUXT__",
	})

	// e.g. BUYEE_SERVER_PORT=9090, BUYEE_CRAWLER_RESIDENTIAL_PROXY=...
	viper.SetEnvPrefix("BUYEE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// RESIDENTIAL_PROXY is injected unprefixed by the deployment environment.
	_ = viper.BindEnv("residential_proxy", "RESIDENTIAL_PROXY")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Warn("config file not found; using defaults and environment variables")
		} else {
			logging.L.Error("error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
