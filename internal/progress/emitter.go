// Package progress publishes progress events and health heartbeats for a
// worker process.
package progress

import (
	"context"
	"time"

	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

// Publisher is the bus publish operation the emitter needs.
type Publisher interface {
	Publish(ctx context.Context, stream string, envelope any) error
}

// Emitter publishes progress and health events for one component.
// Progress publishes are best effort: a lost event degrades dashboards,
// never the pipeline, so failures are logged and not propagated.
type Emitter struct {
	pub            Publisher
	nodeType       domain.NodeType
	hostname       string
	progressStream string
	healthStream   string
	log            logger.Logger
}

// NewEmitter creates an Emitter for the given component.
func NewEmitter(
	pub Publisher,
	nodeType domain.NodeType,
	hostname string,
	progressStream, healthStream string,
	log logger.Logger,
) *Emitter {
	return &Emitter{
		pub:            pub,
		nodeType:       nodeType,
		hostname:       hostname,
		progressStream: progressStream,
		healthStream:   healthStream,
		log:            log,
	}
}

// Emit publishes one progress event with optional extra fields.
func (e *Emitter) Emit(ctx context.Context, event, taskID, url string, extras map[string]any) {
	ev := domain.ProgressEvent{
		NodeType:  e.nodeType,
		Event:     event,
		TaskID:    taskID,
		URL:       url,
		Timestamp: time.Now().UTC(),
		Extras:    extras,
	}

	if err := e.pub.Publish(ctx, e.progressStream, ev); err != nil {
		e.log.Error("progress publish failed",
			logger.String("event", event),
			logger.String("task_id", taskID),
			logger.Error(err),
		)
	}
}

// heartbeatInterval is how often workers announce themselves.
const heartbeatInterval = 30 * time.Second

// StartHeartbeat publishes an online health event every 30 seconds until
// ctx is cancelled. Runs on its own goroutine.
func (e *Emitter) StartHeartbeat(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		e.publishHealth(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.publishHealth(ctx)
			}
		}
	}()
}

func (e *Emitter) publishHealth(ctx context.Context) {
	ev := domain.HealthEvent{
		NodeType:  e.nodeType,
		Hostname:  e.hostname,
		Status:    domain.HealthOnline,
		Timestamp: time.Now().UTC(),
	}

	if err := e.pub.Publish(ctx, e.healthStream, ev); err != nil {
		e.log.Error("heartbeat publish failed", logger.Error(err))
	}
}
