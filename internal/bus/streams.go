// Package bus implements the durable message bus on Redis Streams.
//
// Each logical channel is one stream. Publishing is XADD with the JSON
// envelope in a single payload field. Consuming uses consumer groups:
// XREADGROUP delivers, XACK acknowledges, and un-acked entries are
// reclaimed with XCLAIM once their idle time exceeds the ack deadline,
// which gives at-least-once delivery with redelivery on failure.
package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// PayloadField is the stream field holding the JSON envelope.
const PayloadField = "payload"

// PublishedAtField records when the message entered the stream.
const PublishedAtField = "published_at"

// connectionTimeout bounds the startup connection check.
const connectionTimeout = 5 * time.Second

// Client wraps a Redis client with stream operations shared by the
// publisher and subscriber.
type Client struct {
	rdb *redis.Client
}

// ClientConfig holds Redis connection settings.
type ClientConfig struct {
	Addr     string
	Password string `json:"-"`
	DB       int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing Redis client. Used by tests.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the underlying Redis client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks whether Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// EnsureGroup creates a consumer group for a stream if it does not exist,
// creating the stream as a side effect.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

func (c *Client) xAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	return c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
}

func (c *Client) xReadGroup(
	ctx context.Context, group, consumer, stream string, count int64, block time.Duration,
) ([]redis.XStream, error) {
	return c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
}

func (c *Client) xAck(ctx context.Context, stream, group string, ids ...string) error {
	return c.rdb.XAck(ctx, stream, group, ids...).Err()
}

func (c *Client) xPendingExt(
	ctx context.Context, stream, group string, count int64,
) ([]redis.XPendingExt, error) {
	return c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

func (c *Client) xClaim(
	ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string,
) ([]redis.XMessage, error) {
	return c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}
