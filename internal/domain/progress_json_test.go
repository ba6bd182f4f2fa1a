package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressEventMarshalFlattensExtras(t *testing.T) {
	ev := ProgressEvent{
		NodeType:  NodeCrawler,
		Event:     EventNewURLsFound,
		TaskID:    "job-1",
		URL:       "https://example.com",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Extras:    map[string]any{"count": 3},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "crawler", raw["node_type"])
	assert.Equal(t, "new_urls_found", raw["event"])
	assert.Equal(t, "job-1", raw["task_id"])
	assert.Equal(t, float64(3), raw["count"], "extras must be top-level fields")
	assert.Equal(t, "2025-06-01T12:00:00Z", raw["timestamp"])

	_, nested := raw["extras"]
	assert.False(t, nested)
}

func TestProgressEventRoundTrip(t *testing.T) {
	ev := ProgressEvent{
		NodeType:  NodeMaster,
		Event:     EventURLScheduled,
		TaskID:    "job-1",
		URL:       "https://example.com/page",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Extras:    map[string]any{"depth": float64(1)},
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded ProgressEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, ev.NodeType, decoded.NodeType)
	assert.Equal(t, ev.Event, decoded.Event)
	assert.Equal(t, ev.TaskID, decoded.TaskID)
	assert.Equal(t, ev.URL, decoded.URL)
	assert.True(t, ev.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, ev.Extras, decoded.Extras)
}

func TestProgressEventUnmarshalWithoutExtras(t *testing.T) {
	var ev ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(
		`{"node_type":"indexer","event":"url_indexed","timestamp":"2025-06-01T12:00:00Z"}`,
	), &ev))

	assert.Equal(t, NodeIndexer, ev.NodeType)
	assert.Nil(t, ev.Extras)
}

func TestCanonicalEvent(t *testing.T) {
	assert.Equal(t, EventURLCrawled, CanonicalEvent("crawled"))
	assert.Equal(t, EventURLIndexed, CanonicalEvent("indexed"))
	assert.Equal(t, EventTaskStarted, CanonicalEvent(EventTaskStarted))
	assert.Equal(t, "custom_event", CanonicalEvent("custom_event"))
}
