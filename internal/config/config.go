// Package config loads and validates configuration for all webcrawl
// components from a config file, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonesrussell/webcrawl/internal/logger"
)

// Config holds the full configuration tree shared by every component.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Logger        logger.Config       `yaml:"logger"`
	Redis         RedisConfig         `yaml:"redis"`
	Streams       StreamsConfig       `yaml:"streams"`
	Blob          BlobConfig          `yaml:"blob"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Master        MasterConfig        `yaml:"master"`
	Crawler       CrawlerConfig       `yaml:"crawler"`
	Aggregator    AggregatorConfig    `yaml:"aggregator"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	// Hostname identifies this process in health events. Defaults to
	// os.Hostname when empty.
	Hostname string `yaml:"hostname"`
}

// RedisConfig holds the message bus connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StreamsConfig names the logical bus channels and their consumer groups.
type StreamsConfig struct {
	Jobs     string `yaml:"jobs"`
	Tasks    string `yaml:"tasks"`
	Index    string `yaml:"index"`
	Progress string `yaml:"progress"`
	Health   string `yaml:"health"`

	MasterGroup     string `yaml:"master_group"`
	CrawlerGroup    string `yaml:"crawler_group"`
	IndexerGroup    string `yaml:"indexer_group"`
	AggregatorGroup string `yaml:"aggregator_group"`

	// MaxOutstanding bounds the number of messages a subscriber processes
	// concurrently (bus flow control).
	MaxOutstanding int `yaml:"max_outstanding"`
	// AckDeadline is how long a delivery may stay pending before it is
	// reclaimed and redelivered to another consumer.
	AckDeadline time.Duration `yaml:"ack_deadline"`
	// PublishTimeout bounds the wait for publish confirmation.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// BlobConfig holds MinIO object storage settings.
type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// ElasticsearchConfig holds full-text index settings. URL is a complete
// endpoint including scheme and port.
type ElasticsearchConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
}

// MasterConfig holds job expander settings.
type MasterConfig struct {
	// SeedPacing is the delay between crawl-task publishes for seed jobs.
	SeedPacing time.Duration `yaml:"seed_pacing"`
	// ContinuationPacing is the delay between publishes for link batches.
	ContinuationPacing time.Duration `yaml:"continuation_pacing"`
}

// CrawlerConfig holds fetch worker settings.
type CrawlerConfig struct {
	UserAgent         string        `yaml:"user_agent"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PolitenessDelay   time.Duration `yaml:"politeness_delay"`
	DefaultDepthLimit int           `yaml:"default_depth_limit"`
	// SeenCap bounds the in-memory seen-URL set. 0 means unbounded.
	SeenCap int `yaml:"seen_cap"`
}

// AggregatorConfig holds progress aggregator settings.
type AggregatorConfig struct {
	Port           int `yaml:"port"`
	MaxActiveTasks int `yaml:"max_active_tasks"`

	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SubmittedTimeout time.Duration `yaml:"submitted_timeout"`
	ProgressTimeout  time.Duration `yaml:"progress_timeout"`
	SlowWarnAfter    time.Duration `yaml:"slow_warn_after"`
	HealthStaleAfter time.Duration `yaml:"health_stale_after"`
}

// Default values applied when neither the environment nor the config file
// provides a setting.
const (
	defaultAckDeadline    = 5 * time.Minute
	defaultPublishTimeout = 30 * time.Second
	defaultMaxOutstanding = 10

	defaultSeedPacing         = 50 * time.Millisecond
	defaultContinuationPacing = 10 * time.Millisecond

	defaultRequestTimeout  = 10 * time.Second
	defaultPolitenessDelay = time.Second
	defaultDepthLimit      = 3

	defaultAggregatorPort   = 8090
	defaultMaxActiveTasks   = 20
	defaultSweepInterval    = 30 * time.Second
	defaultSubmittedTimeout = 2 * time.Minute
	defaultProgressTimeout  = 10 * time.Minute
	defaultSlowWarnAfter    = 3 * time.Minute
	defaultHealthStaleAfter = 2 * time.Minute
)

// DefaultUserAgent identifies the crawler to remote servers.
const DefaultUserAgent = "webcrawl/1.0 (+https://github.com/jonesrussell/webcrawl)"

// Load reads configuration from an optional config file, the environment,
// and built-in defaults. Missing required values cause an error; components
// treat that as startup-fatal.
func Load(cfgFile string) (*Config, error) {
	// .env first so its values are visible to viper's AutomaticEnv.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Config file is optional; env vars and defaults cover everything.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgFile != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := fromViper(v)

	if cfg.App.Hostname == "" {
		if hn, err := os.Hostname(); err == nil {
			cfg.App.Hostname = hn
		} else {
			cfg.App.Hostname = "webcrawl"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers default values for every optional setting.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("streams.jobs", "crawl:jobs")
	v.SetDefault("streams.tasks", "crawl:tasks")
	v.SetDefault("streams.index", "crawl:index")
	v.SetDefault("streams.progress", "crawl:progress")
	v.SetDefault("streams.health", "crawl:health")
	v.SetDefault("streams.master_group", "master")
	v.SetDefault("streams.crawler_group", "crawlers")
	v.SetDefault("streams.indexer_group", "indexers")
	v.SetDefault("streams.aggregator_group", "aggregator")
	v.SetDefault("streams.max_outstanding", defaultMaxOutstanding)
	v.SetDefault("streams.ack_deadline", defaultAckDeadline)
	v.SetDefault("streams.publish_timeout", defaultPublishTimeout)

	v.SetDefault("blob.endpoint", "localhost:9000")
	v.SetDefault("blob.bucket", "webcrawl")

	v.SetDefault("elasticsearch.url", "http://localhost:9200")
	v.SetDefault("elasticsearch.index", "crawled_pages")

	v.SetDefault("master.seed_pacing", defaultSeedPacing)
	v.SetDefault("master.continuation_pacing", defaultContinuationPacing)

	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.request_timeout", defaultRequestTimeout)
	v.SetDefault("crawler.politeness_delay", defaultPolitenessDelay)
	v.SetDefault("crawler.default_depth_limit", defaultDepthLimit)
	v.SetDefault("crawler.seen_cap", 0)

	v.SetDefault("aggregator.port", defaultAggregatorPort)
	v.SetDefault("aggregator.max_active_tasks", defaultMaxActiveTasks)
	v.SetDefault("aggregator.sweep_interval", defaultSweepInterval)
	v.SetDefault("aggregator.submitted_timeout", defaultSubmittedTimeout)
	v.SetDefault("aggregator.progress_timeout", defaultProgressTimeout)
	v.SetDefault("aggregator.slow_warn_after", defaultSlowWarnAfter)
	v.SetDefault("aggregator.health_stale_after", defaultHealthStaleAfter)
}

// fromViper copies resolved settings into the typed config tree.
func fromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Hostname: v.GetString("app.hostname"),
		},
		Logger: logger.Config{
			Level:       v.GetString("logger.level"),
			Development: v.GetBool("logger.development"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Streams: StreamsConfig{
			Jobs:            v.GetString("streams.jobs"),
			Tasks:           v.GetString("streams.tasks"),
			Index:           v.GetString("streams.index"),
			Progress:        v.GetString("streams.progress"),
			Health:          v.GetString("streams.health"),
			MasterGroup:     v.GetString("streams.master_group"),
			CrawlerGroup:    v.GetString("streams.crawler_group"),
			IndexerGroup:    v.GetString("streams.indexer_group"),
			AggregatorGroup: v.GetString("streams.aggregator_group"),
			MaxOutstanding:  v.GetInt("streams.max_outstanding"),
			AckDeadline:     v.GetDuration("streams.ack_deadline"),
			PublishTimeout:  v.GetDuration("streams.publish_timeout"),
		},
		Blob: BlobConfig{
			Endpoint:  v.GetString("blob.endpoint"),
			AccessKey: v.GetString("blob.access_key"),
			SecretKey: v.GetString("blob.secret_key"),
			UseSSL:    v.GetBool("blob.use_ssl"),
			Bucket:    v.GetString("blob.bucket"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      v.GetString("elasticsearch.url"),
			Username: v.GetString("elasticsearch.username"),
			Password: v.GetString("elasticsearch.password"),
			Index:    v.GetString("elasticsearch.index"),
		},
		Master: MasterConfig{
			SeedPacing:         v.GetDuration("master.seed_pacing"),
			ContinuationPacing: v.GetDuration("master.continuation_pacing"),
		},
		Crawler: CrawlerConfig{
			UserAgent:         v.GetString("crawler.user_agent"),
			RequestTimeout:    v.GetDuration("crawler.request_timeout"),
			PolitenessDelay:   v.GetDuration("crawler.politeness_delay"),
			DefaultDepthLimit: v.GetInt("crawler.default_depth_limit"),
			SeenCap:           v.GetInt("crawler.seen_cap"),
		},
		Aggregator: AggregatorConfig{
			Port:             v.GetInt("aggregator.port"),
			MaxActiveTasks:   v.GetInt("aggregator.max_active_tasks"),
			SweepInterval:    v.GetDuration("aggregator.sweep_interval"),
			SubmittedTimeout: v.GetDuration("aggregator.submitted_timeout"),
			ProgressTimeout:  v.GetDuration("aggregator.progress_timeout"),
			SlowWarnAfter:    v.GetDuration("aggregator.slow_warn_after"),
			HealthStaleAfter: v.GetDuration("aggregator.health_stale_after"),
		},
	}
}

// Validate checks required settings shared by all components.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Blob.Bucket == "" {
		return errors.New("blob.bucket is required")
	}
	if c.Elasticsearch.URL == "" {
		return errors.New("elasticsearch.url is required")
	}
	if c.Elasticsearch.Index == "" {
		return errors.New("elasticsearch.index is required")
	}
	if c.Streams.MaxOutstanding <= 0 {
		return errors.New("streams.max_outstanding must be positive")
	}
	if c.Crawler.DefaultDepthLimit < 0 {
		return errors.New("crawler.default_depth_limit must be non-negative")
	}
	return nil
}
