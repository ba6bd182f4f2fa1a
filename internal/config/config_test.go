package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "crawl:jobs", cfg.Streams.Jobs)
	assert.Equal(t, "crawl:tasks", cfg.Streams.Tasks)
	assert.Equal(t, "crawl:index", cfg.Streams.Index)
	assert.Equal(t, "crawl:progress", cfg.Streams.Progress)
	assert.Equal(t, "crawl:health", cfg.Streams.Health)
	assert.Equal(t, 10, cfg.Streams.MaxOutstanding)
	assert.Equal(t, 5*time.Minute, cfg.Streams.AckDeadline)

	assert.Equal(t, "webcrawl", cfg.Blob.Bucket)
	assert.Equal(t, "crawled_pages", cfg.Elasticsearch.Index)

	assert.Equal(t, 50*time.Millisecond, cfg.Master.SeedPacing)
	assert.Equal(t, 10*time.Millisecond, cfg.Master.ContinuationPacing)

	assert.Equal(t, DefaultUserAgent, cfg.Crawler.UserAgent)
	assert.Equal(t, 10*time.Second, cfg.Crawler.RequestTimeout)
	assert.Equal(t, time.Second, cfg.Crawler.PolitenessDelay)
	assert.Equal(t, 3, cfg.Crawler.DefaultDepthLimit)

	assert.Equal(t, 8090, cfg.Aggregator.Port)
	assert.Equal(t, 20, cfg.Aggregator.MaxActiveTasks)
	assert.Equal(t, 30*time.Second, cfg.Aggregator.SweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.Aggregator.SubmittedTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Aggregator.ProgressTimeout)

	assert.NotEmpty(t, cfg.App.Hostname)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := []byte(`
redis:
  addr: redis.internal:6380
crawler:
  politeness_delay: 250ms
  default_depth_limit: 5
aggregator:
  max_active_tasks: 50
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Crawler.PolitenessDelay)
	assert.Equal(t, 5, cfg.Crawler.DefaultDepthLimit)
	assert.Equal(t, 50, cfg.Aggregator.MaxActiveTasks)

	// Untouched settings keep their defaults.
	assert.Equal(t, "crawl:tasks", cfg.Streams.Tasks)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Redis:         RedisConfig{Addr: "localhost:6379"},
			Blob:          BlobConfig{Bucket: "webcrawl"},
			Elasticsearch: ElasticsearchConfig{URL: "http://localhost:9200", Index: "pages"},
			Streams:       StreamsConfig{MaxOutstanding: 10},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing redis addr", mutate: func(c *Config) { c.Redis.Addr = "" }},
		{name: "missing bucket", mutate: func(c *Config) { c.Blob.Bucket = "" }},
		{name: "missing es url", mutate: func(c *Config) { c.Elasticsearch.URL = "" }},
		{name: "missing es index", mutate: func(c *Config) { c.Elasticsearch.Index = "" }},
		{name: "zero max outstanding", mutate: func(c *Config) { c.Streams.MaxOutstanding = 0 }},
		{name: "negative depth limit", mutate: func(c *Config) { c.Crawler.DefaultDepthLimit = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
