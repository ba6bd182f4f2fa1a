package cmd

import (
	"fmt"

	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/config"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

// runtime bundles the pieces every component needs: resolved config, a
// logger, the bus connection, and a publisher on it.
type runtime struct {
	cfg *config.Config
	log logger.Logger
	bus *bus.Client
	pub *bus.Publisher
}

// newRuntime loads configuration and connects to the bus. Callers must
// Close when done.
func newRuntime(component string) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	log = log.With(logger.String("component", component))

	busClient, err := bus.NewClient(bus.ClientConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}

	pub, err := bus.NewPublisher(busClient, cfg.Streams.PublishTimeout)
	if err != nil {
		busClient.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, log: log, bus: busClient, pub: pub}, nil
}

// Close flushes the logger and closes the bus connection.
func (r *runtime) Close() {
	_ = r.log.Sync()
	_ = r.bus.Close()
}

// subscriberConfig builds the consumer-group settings for one stream.
func (r *runtime) subscriberConfig(component, stream, group string) bus.SubscriberConfig {
	return bus.SubscriberConfig{
		Stream:         stream,
		Group:          group,
		Consumer:       bus.ConsumerID(component, r.cfg.App.Hostname),
		MaxOutstanding: r.cfg.Streams.MaxOutstanding,
		AckDeadline:    r.cfg.Streams.AckDeadline,
	}
}
