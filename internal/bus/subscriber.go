package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/webcrawl/internal/logger"
)

// Delivery is one message handed to a handler.
type Delivery struct {
	// ID is the stream entry id.
	ID string
	// Payload is the raw JSON envelope.
	Payload []byte
}

// Handler processes one delivery. A nil return acknowledges the message.
// An error wrapped with Transient leaves the message pending so it is
// redelivered after the ack deadline. Any other error acknowledges and
// drops the message as terminally invalid.
type Handler func(ctx context.Context, d Delivery) error

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the subscriber leaves the delivery pending for
// redelivery instead of acknowledging it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or any error it wraps) was marked
// transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// SubscriberConfig configures one consumer-group subscriber.
type SubscriberConfig struct {
	Stream   string
	Group    string
	Consumer string
	// MaxOutstanding bounds concurrently processed deliveries (flow control).
	MaxOutstanding int
	// BlockTimeout is how long a read blocks waiting for new entries.
	BlockTimeout time.Duration
	// AckDeadline is the idle time after which a pending delivery is
	// reclaimed and redelivered.
	AckDeadline time.Duration
}

const (
	defaultBlockTimeout   = 5 * time.Second
	defaultAckDeadline    = 5 * time.Minute
	defaultMaxOutstanding = 10

	// maxPendingCheck caps how many pending entries one reclaim pass reads.
	maxPendingCheck = 100

	// readErrorBackoff is the pause after a failed stream read.
	readErrorBackoff = time.Second
)

// Subscriber reads deliveries from one stream via a consumer group and
// dispatches them to a handler on a bounded worker pool.
type Subscriber struct {
	client  *Client
	cfg     SubscriberConfig
	handler Handler
	log     logger.Logger
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(client *Client, cfg SubscriberConfig, handler Handler, log logger.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("bus client is required")
	}
	if cfg.Stream == "" || cfg.Group == "" {
		return nil, errors.New("stream and group are required")
	}
	if cfg.Consumer == "" {
		return nil, errors.New("consumer id is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = defaultMaxOutstanding
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	if cfg.AckDeadline <= 0 {
		cfg.AckDeadline = defaultAckDeadline
	}

	return &Subscriber{client: client, cfg: cfg, handler: handler, log: log}, nil
}

// Run consumes until ctx is cancelled. In-flight deliveries are allowed to
// finish before it returns.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := s.client.EnsureGroup(ctx, s.cfg.Stream, s.cfg.Group); err != nil {
		return err
	}

	s.log.Info("subscriber started",
		logger.String("stream", s.cfg.Stream),
		logger.String("group", s.cfg.Group),
		logger.String("consumer", s.cfg.Consumer),
		logger.Int("max_outstanding", s.cfg.MaxOutstanding),
	)

	// sem bounds outstanding deliveries; wg tracks in-flight handlers.
	sem := make(chan struct{}, s.cfg.MaxOutstanding)

	var wg sync.WaitGroup

	go s.reclaimLoop(ctx, sem, &wg)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.log.Info("subscriber stopped", logger.String("stream", s.cfg.Stream))
			return nil
		default:
		}

		s.readAndDispatch(ctx, sem, &wg)
	}
}

// readAndDispatch reads one batch of new entries and dispatches them.
func (s *Subscriber) readAndDispatch(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	streams, err := s.client.xReadGroup(
		ctx, s.cfg.Group, s.cfg.Consumer, s.cfg.Stream,
		int64(s.cfg.MaxOutstanding), s.cfg.BlockTimeout,
	)
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error("stream read failed",
			logger.String("stream", s.cfg.Stream),
			logger.Error(err),
		)
		s.sleep(ctx, readErrorBackoff)
		return
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			s.dispatch(ctx, msg, sem, wg)
		}
	}
}

// reclaimLoop periodically claims deliveries whose idle time exceeded the
// ack deadline and re-dispatches them to this consumer.
func (s *Subscriber) reclaimLoop(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	interval := s.cfg.AckDeadline / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reclaimPending(ctx, sem, wg)
		}
	}
}

func (s *Subscriber) reclaimPending(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	pending, err := s.client.xPendingExt(ctx, s.cfg.Stream, s.cfg.Group, maxPendingCheck)
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error("pending check failed", logger.String("stream", s.cfg.Stream), logger.Error(err))
		return
	}

	var stale []string
	for _, entry := range pending {
		if entry.Idle >= s.cfg.AckDeadline {
			stale = append(stale, entry.ID)
		}
	}
	if len(stale) == 0 {
		return
	}

	claimed, err := s.client.xClaim(
		ctx, s.cfg.Stream, s.cfg.Group, s.cfg.Consumer, s.cfg.AckDeadline, stale...,
	)
	if err != nil {
		s.log.Error("claim failed", logger.String("stream", s.cfg.Stream), logger.Error(err))
		return
	}

	s.log.Info("redelivering stale messages",
		logger.String("stream", s.cfg.Stream),
		logger.Int("count", len(claimed)),
	)

	for _, msg := range claimed {
		s.dispatch(ctx, msg, sem, wg)
	}
}

// dispatch hands one entry to the handler on a pooled goroutine, blocking
// while the pool is full.
func (s *Subscriber) dispatch(ctx context.Context, msg redis.XMessage, sem chan struct{}, wg *sync.WaitGroup) {
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	wg.Add(1)

	go func() {
		defer wg.Done()
		defer func() { <-sem }()
		s.process(ctx, msg)
	}()
}

// process runs the handler and settles the delivery by the error policy.
func (s *Subscriber) process(ctx context.Context, msg redis.XMessage) {
	payload, ok := msg.Values[PayloadField].(string)
	if !ok {
		s.log.Warn("message missing payload field, dropping",
			logger.String("stream", s.cfg.Stream),
			logger.String("id", msg.ID),
		)
		s.ack(ctx, msg.ID)
		return
	}

	err := s.handler(ctx, Delivery{ID: msg.ID, Payload: []byte(payload)})
	if err == nil {
		s.ack(ctx, msg.ID)
		return
	}

	if IsTransient(err) {
		// Leave the entry pending; it is redelivered after the ack deadline.
		s.log.Warn("handler failed, will redeliver",
			logger.String("stream", s.cfg.Stream),
			logger.String("id", msg.ID),
			logger.Error(err),
		)
		return
	}

	s.log.Warn("dropping invalid message",
		logger.String("stream", s.cfg.Stream),
		logger.String("id", msg.ID),
		logger.Error(err),
	)
	s.ack(ctx, msg.ID)
}

func (s *Subscriber) ack(ctx context.Context, id string) {
	if err := s.client.xAck(ctx, s.cfg.Stream, s.cfg.Group, id); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("ack failed",
			logger.String("stream", s.cfg.Stream),
			logger.String("id", id),
			logger.Error(err),
		)
	}
}

func (s *Subscriber) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// ConsumerID builds a unique consumer identifier from a component name.
func ConsumerID(component, hostname string) string {
	return fmt.Sprintf("%s-%s", component, hostname)
}
