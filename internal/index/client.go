// Package index wraps the Elasticsearch full-text index used for crawled
// pages: one document per URL, upserted by id so re-indexing is idempotent.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/webcrawl/internal/logger"
)

// Config holds Elasticsearch connection settings. URL is a complete
// endpoint including scheme and port.
type Config struct {
	URL      string
	Username string
	Password string `json:"-"`
	Index    string
}

// Client is a thin wrapper around the official Elasticsearch client scoped
// to one index.
type Client struct {
	es    *es.Client
	index string
	log   logger.Logger
}

// pingTimeout bounds the startup connection check.
const pingTimeout = 10 * time.Second

// pageMapping is the index mapping for crawled pages: exact-match URL plus
// analyzed page text.
const pageMapping = `{
  "mappings": {
    "properties": {
      "url": {"type": "keyword"},
      "content": {"type": "text", "analyzer": "standard"}
    }
  }
}`

// ErrUnexpectedResult is returned when an upsert reports something other
// than created or updated.
var ErrUnexpectedResult = errors.New("unexpected index result")

// NewClient connects to Elasticsearch and verifies the connection.
func NewClient(ctx context.Context, cfg Config, log logger.Logger) (*Client, error) {
	if cfg.Index == "" {
		return nil, errors.New("index name is required")
	}

	esCfg := es.Config{
		Addresses: []string{normalizeURL(cfg.URL)},
	}
	if cfg.Username != "" && cfg.Password != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	esClient, err := es.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	client := &Client{es: esClient, index: cfg.Index, log: log}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	res, err := esClient.Ping(esClient.Ping.WithContext(pingCtx))
	if err != nil {
		return nil, fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("ping elasticsearch: %s", res.Status())
	}

	return client, nil
}

// normalizeURL adds an http:// prefix when the scheme is missing.
func normalizeURL(url string) string {
	if url == "" {
		return "http://localhost:9200"
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "http://" + url
	}
	return url
}

// EnsureIndex creates the pages index with its mapping if it does not
// exist. Safe to call on every startup.
func (c *Client) EnsureIndex(ctx context.Context) error {
	exists, err := c.es.Indices.Exists(
		[]string{c.index},
		c.es.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("check index %s: %w", c.index, err)
	}
	defer exists.Body.Close()

	if exists.StatusCode == 200 {
		return nil
	}

	res, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(pageMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", c.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		// A concurrent worker may have created it between the two calls.
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: %s", c.index, res.Status())
	}

	c.log.Info("created index", logger.String("index", c.index))

	return nil
}

// Document is an indexed page.
type Document struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Upsert writes the document with id = URL, replacing any previous
// version. The index service must report created or updated.
func (c *Client) Upsert(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	res, err := c.es.Index(
		c.index,
		bytes.NewReader(body),
		c.es.Index.WithContext(ctx),
		c.es.Index.WithDocumentID(doc.URL),
	)
	if err != nil {
		return fmt.Errorf("index %s: %w", doc.URL, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index %s: %s", doc.URL, res.Status())
	}

	var parsed struct {
		Result string `json:"result"`
	}
	if decodeErr := json.NewDecoder(res.Body).Decode(&parsed); decodeErr != nil {
		return fmt.Errorf("decode index response: %w", decodeErr)
	}

	if parsed.Result != "created" && parsed.Result != "updated" {
		return fmt.Errorf("%w: %q", ErrUnexpectedResult, parsed.Result)
	}

	return nil
}
