// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig       `mapstructure:"crawler"`
	Render  RenderConfig        `mapstructure:"render"`
	PDF     PDFConfig           `mapstructure:"pdf"`
	Captcha CaptchaConfig       `mapstructure:"captcha"`
	Extract ExtractConfig       `mapstructure:"extract"`
	Storage StorageConfig       `mapstructure:"storage"`
	DB      DBConfig            `mapstructure:"db"`
	Server  ServerConfig        `mapstructure:"server"`
	Logging LoggingConfig       `mapstructure:"logging"`
	Seeds   map[string][]string `mapstructure:"seeds"`
}

// CrawlerConfig governs budgets, throttling, and discovery bounds.
type CrawlerConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	Workers         int           `mapstructure:"workers"`
	MaxRequests     int           `mapstructure:"max_requests"`
	MaxRuntime      time.Duration `mapstructure:"max_runtime"`
	DomainDelay     time.Duration `mapstructure:"domain_delay"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	MaxFetchBytes   int           `mapstructure:"max_fetch_bytes"`
	MaxTextChars    int           `mapstructure:"max_text_chars"`
	MinTextChars    int           `mapstructure:"min_text_chars"`
	MaxPagesPerFirm int           `mapstructure:"max_pages_per_firm"`
	CrawlDepth      int           `mapstructure:"crawl_depth"`
	MaxDeepLinks    int           `mapstructure:"max_deep_links"`
	SitemapMaxURLs  int           `mapstructure:"sitemap_max_urls"`
}

// RenderConfig configures the headless rendering subsystem.
type RenderConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	DomainQPS      float64       `mapstructure:"domain_qps"`
	PageBudget     int           `mapstructure:"page_budget"`
}

// PDFConfig controls the PDF text layer and OCR fallback.
type PDFConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	OCREnabled  bool `mapstructure:"ocr_enabled"`
	OCRMaxPages int  `mapstructure:"ocr_max_pages"`
}

// CaptchaConfig selects and times the external challenge solver.
type CaptchaConfig struct {
	Provider     string        `mapstructure:"provider"`
	APIKey       string        `mapstructure:"api_key"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ExtractConfig points at the inference endpoint and bounds its cost.
type ExtractConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	Model      string        `mapstructure:"model"`
	MaxChunks  int           `mapstructure:"max_chunks"`
	ChunkChars int           `mapstructure:"chunk_chars"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FIRMCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.user_agent", "firmcrawl/1.0 (+https://github.com/firmlens/firmcrawl)")
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.max_requests", 500)
	v.SetDefault("crawler.max_runtime", "20m")
	v.SetDefault("crawler.domain_delay", "2s")
	v.SetDefault("crawler.fetch_timeout", "20s")
	v.SetDefault("crawler.max_fetch_bytes", 3*1024*1024)
	v.SetDefault("crawler.max_text_chars", 40000)
	v.SetDefault("crawler.min_text_chars", 400)
	v.SetDefault("crawler.max_pages_per_firm", 10)
	v.SetDefault("crawler.crawl_depth", 0)
	v.SetDefault("crawler.max_deep_links", 10)
	v.SetDefault("crawler.sitemap_max_urls", 200)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.timeout", "25s")
	v.SetDefault("render.max_concurrency", 2)
	v.SetDefault("render.domain_qps", 0.5)
	v.SetDefault("render.page_budget", 20)
	v.SetDefault("pdf.enabled", true)
	v.SetDefault("pdf.ocr_enabled", false)
	v.SetDefault("pdf.ocr_max_pages", 3)
	v.SetDefault("captcha.provider", "")
	v.SetDefault("captcha.poll_timeout", "90s")
	v.SetDefault("captcha.poll_interval", "5s")
	v.SetDefault("extract.endpoint", "")
	v.SetDefault("extract.model", "qwen2.5-7b-instruct")
	v.SetDefault("extract.max_chunks", 4)
	v.SetDefault("extract.chunk_chars", 6000)
	v.SetDefault("extract.timeout", "60s")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "data/evidence")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.MaxRequests <= 0 {
		return fmt.Errorf("crawler.max_requests must be > 0")
	}
	if c.Crawler.MaxRuntime <= 0 {
		return fmt.Errorf("crawler.max_runtime must be > 0")
	}
	if c.Crawler.FetchTimeout <= 0 {
		return fmt.Errorf("crawler.fetch_timeout must be > 0")
	}
	if c.Render.Enabled && c.Render.MaxConcurrency <= 0 {
		return fmt.Errorf("render.max_concurrency must be > 0 when rendering is enabled")
	}
	if c.Captcha.Provider != "" && c.Captcha.APIKey == "" {
		return fmt.Errorf("captcha.api_key must be set when a provider is selected")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, memory")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}
