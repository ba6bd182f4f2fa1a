package aggregator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

// HandleProgress consumes one progress-event delivery. Malformed events
// are acked and dropped; state mutation never fails, so progress handling
// never nacks.
func (tr *Tracker) HandleProgress(_ context.Context, d bus.Delivery) error {
	var ev domain.ProgressEvent
	if err := json.Unmarshal(d.Payload, &ev); err != nil {
		return fmt.Errorf("decode progress event: %w", err)
	}
	if ev.Event == "" {
		return fmt.Errorf("progress event %s missing event kind", d.ID)
	}

	tr.Apply(ev)

	tr.log.Debug("applied progress event",
		logger.String("event", ev.Event),
		logger.String("task_id", ev.TaskID),
		logger.String("node_type", string(ev.NodeType)),
	)
	return nil
}

// HandleHealth consumes one heartbeat delivery.
func (tr *Tracker) HandleHealth(_ context.Context, d bus.Delivery) error {
	var ev domain.HealthEvent
	if err := json.Unmarshal(d.Payload, &ev); err != nil {
		return fmt.Errorf("decode health event: %w", err)
	}
	if ev.NodeType == "" {
		return fmt.Errorf("health event %s missing node_type", d.ID)
	}

	tr.ApplyHealth(ev)
	return nil
}
