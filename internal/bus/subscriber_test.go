package bus

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/webcrawl/internal/logger"
)

func TestTransientMarking(t *testing.T) {
	base := errors.New("redis gone")

	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(Transient(base)))
	assert.Nil(t, Transient(nil))

	// The marker survives further wrapping.
	wrapped := fmt.Errorf("publish crawl task: %w", Transient(base))
	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, base)
}

func TestNewSubscriberValidation(t *testing.T) {
	client := NewClientFromRedis(nil)
	handler := func(_ context.Context, _ Delivery) error { return nil }
	log := logger.NewNop()

	_, err := NewSubscriber(nil, SubscriberConfig{Stream: "s", Group: "g", Consumer: "c"}, handler, log)
	assert.Error(t, err)

	_, err = NewSubscriber(client, SubscriberConfig{Group: "g", Consumer: "c"}, handler, log)
	assert.Error(t, err)

	_, err = NewSubscriber(client, SubscriberConfig{Stream: "s", Group: "g"}, handler, log)
	assert.Error(t, err)

	_, err = NewSubscriber(client, SubscriberConfig{Stream: "s", Group: "g", Consumer: "c"}, nil, log)
	assert.Error(t, err)

	sub, err := NewSubscriber(client, SubscriberConfig{Stream: "s", Group: "g", Consumer: "c"}, handler, log)
	require.NoError(t, err)

	// Zero values fall back to safe defaults.
	assert.Equal(t, defaultMaxOutstanding, sub.cfg.MaxOutstanding)
	assert.Equal(t, defaultBlockTimeout, sub.cfg.BlockTimeout)
	assert.Equal(t, defaultAckDeadline, sub.cfg.AckDeadline)
}

func TestConsumerID(t *testing.T) {
	assert.Equal(t, "crawler-host-1", ConsumerID("crawler", "host-1"))
}
