package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// progressWire is the fixed portion of a progress event on the wire.
type progressWire struct {
	NodeType  NodeType  `json:"node_type"`
	Event     string    `json:"event"`
	TaskID    string    `json:"task_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON flattens Extras into the top-level JSON object so consumers
// see `{"event": "new_urls_found", "count": 3, ...}` rather than a nested
// extras object.
func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Extras)+5)
	for k, v := range e.Extras {
		obj[k] = v
	}

	obj["node_type"] = e.NodeType
	obj["event"] = e.Event
	obj["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339)
	if e.TaskID != "" {
		obj["task_id"] = e.TaskID
	}
	if e.URL != "" {
		obj["url"] = e.URL
	}

	return json.Marshal(obj)
}

// UnmarshalJSON splits the fixed fields from the event-specific extras.
func (e *ProgressEvent) UnmarshalJSON(data []byte) error {
	var wire progressWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode progress event: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode progress extras: %w", err)
	}

	delete(raw, "node_type")
	delete(raw, "event")
	delete(raw, "task_id")
	delete(raw, "url")
	delete(raw, "timestamp")

	e.NodeType = wire.NodeType
	e.Event = wire.Event
	e.TaskID = wire.TaskID
	e.URL = wire.URL
	e.Timestamp = wire.Timestamp
	if len(raw) > 0 {
		e.Extras = raw
	} else {
		e.Extras = nil
	}

	return nil
}
