package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every configuration knob that influences a crawl run.
// All values originate from Viper so the watcher can be configured via files,
// env vars, or CLI flags.
type Config struct {
	SearchBaseURL          string
	UserAgent              string
	ResidentialProxy       string
	Concurrency            int
	RequestTimeout         time.Duration
	RenderTimeout          time.Duration
	RenderMaxConcurrency   int
	RenderDomainQPS        float64
	RetryMaxAttempts       int
	RetryBaseDelay         time.Duration
	RetryMaxDelay          time.Duration
	ItemSelector           string
	SoldSelector           string
	TitleSelector          string
	PriceSelector          string
	IframeSelector         string
	DetectorMinHTMLBytes   int
	DetectorKeywords       []string
	SnapshotContentType    string
	SnapshotPrefix         string
	NoResultPlaceholderRow bool
}

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		SearchBaseURL:          v.GetString("crawler.search_base_url"),
		UserAgent:              v.GetString("crawler.user_agent"),
		ResidentialProxy:       firstSetString(v, []string{"crawler.residential_proxy", "residential_proxy"}),
		Concurrency:            v.GetInt("crawler.concurrency"),
		RequestTimeout:         v.GetDuration("crawler.request_timeout"),
		RenderTimeout:          v.GetDuration("crawler.render_timeout"),
		RenderMaxConcurrency:   v.GetInt("crawler.render_max_concurrency"),
		RenderDomainQPS:        v.GetFloat64("crawler.render_domain_qps"),
		RetryMaxAttempts:       v.GetInt("crawler.retry_max_attempts"),
		RetryBaseDelay:         v.GetDuration("crawler.retry_base_delay"),
		RetryMaxDelay:          v.GetDuration("crawler.retry_max_delay"),
		ItemSelector:           v.GetString("crawler.selectors.item"),
		SoldSelector:           v.GetString("crawler.selectors.sold"),
		TitleSelector:          v.GetString("crawler.selectors.title"),
		PriceSelector:          v.GetString("crawler.selectors.price"),
		IframeSelector:         v.GetString("crawler.selectors.iframe"),
		DetectorMinHTMLBytes:   v.GetInt("detector.min_html_bytes"),
		DetectorKeywords:       normalizeKeywords(v.GetStringSlice("detector.keywords")),
		SnapshotContentType:    v.GetString("crawler.snapshot_content_type"),
		SnapshotPrefix:         v.GetString("crawler.snapshot_prefix"),
		NoResultPlaceholderRow: v.GetBool("crawler.no_result_placeholder_row"),
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.SearchBaseURL == "" {
		return fmt.Errorf("crawler.search_base_url must be set")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.RenderTimeout <= 0 {
		return fmt.Errorf("crawler.render_timeout must be > 0")
	}
	if c.RenderMaxConcurrency <= 0 {
		return fmt.Errorf("crawler.render_max_concurrency must be > 0")
	}
	if c.RenderDomainQPS < 0 {
		return fmt.Errorf("crawler.render_domain_qps must be >= 0")
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("crawler.retry_max_attempts must be >= 0")
	}
	if c.ItemSelector == "" {
		return fmt.Errorf("crawler.selectors.item must be set")
	}
	if c.IframeSelector == "" {
		return fmt.Errorf("crawler.selectors.iframe must be set")
	}
	if c.DetectorMinHTMLBytes < 0 {
		return fmt.Errorf("detector.min_html_bytes must be >= 0")
	}
	return nil
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{})
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func firstSetString(v *viper.Viper, keys []string) string {
	for _, k := range keys {
		if v.IsSet(k) {
			return v.GetString(k)
		}
	}
	return ""
}
