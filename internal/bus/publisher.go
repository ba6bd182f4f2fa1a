package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Publisher publishes JSON envelopes to streams with a bounded wait for
// confirmation.
type Publisher struct {
	client  *Client
	timeout time.Duration
}

// defaultPublishTimeout bounds the wait for publish confirmation when no
// timeout is configured.
const defaultPublishTimeout = 30 * time.Second

// NewPublisher creates a Publisher. A zero timeout uses the default.
func NewPublisher(client *Client, timeout time.Duration) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("bus client is required")
	}
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Publisher{client: client, timeout: timeout}, nil
}

// Publish marshals the envelope and appends it to the stream, waiting up
// to the publish timeout for confirmation.
func (p *Publisher) Publish(ctx context.Context, stream string, envelope any) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", stream, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	values := map[string]any{
		PayloadField:     string(data),
		PublishedAtField: time.Now().UTC().Format(time.RFC3339),
	}

	if _, addErr := p.client.xAdd(ctx, stream, values); addErr != nil {
		return fmt.Errorf("publish to %s: %w", stream, addErr)
	}

	return nil
}
