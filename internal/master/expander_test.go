package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/webcrawl/internal/blob"
	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

const testTasksStream = "crawl:tasks"

type fakeBlobReader struct {
	objects map[string][]byte
	err     error
}

func (f *fakeBlobReader) Get(_ context.Context, qualified string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[qualified]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", qualified, blob.ErrNotFound)
	}
	return data, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	envelopes []any
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, stream string, envelope any) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes = append(f.envelopes, envelope)
	return nil
}

func (f *fakePublisher) tasks(t *testing.T) []domain.CrawlTask {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.CrawlTask, 0, len(f.envelopes))
	for _, e := range f.envelopes {
		task, ok := e.(domain.CrawlTask)
		require.True(t, ok)
		out = append(out, task)
	}
	return out
}

type emitted struct {
	event  string
	taskID string
	url    string
	extras map[string]any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, event, taskID, url string, extras map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event: event, taskID: taskID, url: url, extras: extras})
}

func (f *fakeEmitter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.event
	}
	return out
}

type expanderFixture struct {
	expander *Expander
	blobs    *fakeBlobReader
	pub      *fakePublisher
	emitter  *fakeEmitter
}

func newExpanderFixture() *expanderFixture {
	f := &expanderFixture{
		blobs:   &fakeBlobReader{objects: make(map[string][]byte)},
		pub:     &fakePublisher{},
		emitter: &fakeEmitter{},
	}
	f.expander = NewExpander(f.blobs, f.pub, f.emitter, Config{
		TasksStream: testTasksStream,
	}, logger.NewNop())
	return f
}

func (f *expanderFixture) putObject(t *testing.T, path string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	f.blobs.objects[path] = data
}

func envelopeDelivery(t *testing.T, envelope domain.JobEnvelope) bus.Delivery {
	t.Helper()
	data, err := json.Marshal(envelope)
	require.NoError(t, err)
	return bus.Delivery{ID: "1-0", Payload: data}
}

func TestHandleSubmissionSeedJob(t *testing.T) {
	f := newExpanderFixture()

	path := "blob://test/crawl_tasks/job-1.json"
	f.putObject(t, path, map[string]any{
		"seed_urls":          []string{"https://example.com/a", "https://example.com/b"},
		"depth":              2,
		"domain_restriction": "example.com",
	})

	err := f.expander.HandleSubmission(context.Background(), envelopeDelivery(t, domain.JobEnvelope{
		TaskID:   "job-1",
		BlobPath: path,
	}))
	require.NoError(t, err)

	tasks := f.pub.tasks(t)
	require.Len(t, tasks, 2)
	for i, task := range tasks {
		assert.Equal(t, "job-1", task.TaskID)
		assert.Equal(t, "job-1", task.SourceJobID)
		assert.Equal(t, 0, task.Depth)
		assert.Equal(t, 2, task.DepthLimit)
		assert.Equal(t, "example.com", task.DomainRestriction)
		assert.False(t, task.IsContinuation, "seed task %d", i)
	}
	assert.Equal(t, "https://example.com/a", tasks[0].URL)
	assert.Equal(t, "https://example.com/b", tasks[1].URL)

	assert.Equal(t, []string{
		domain.EventJobReceived,
		domain.EventURLScheduled,
		domain.EventURLScheduled,
		domain.EventTaskStarted,
	}, f.emitter.names())

	jobs, urls := f.expander.Stats()
	assert.Equal(t, int64(1), jobs)
	assert.Equal(t, int64(2), urls)
}

func TestHandleSubmissionContinuationKeepsTaskID(t *testing.T) {
	f := newExpanderFixture()

	path := "blob://test/new_tasks/batch-1.json"
	f.putObject(t, path, map[string]any{
		"urls":        []string{"https://example.com/found"},
		"depth":       1,
		"depth_limit": 2,
	})

	err := f.expander.HandleSubmission(context.Background(), envelopeDelivery(t, domain.JobEnvelope{
		TaskID:         "job-1",
		BlobPath:       path,
		IsContinuation: true,
		URLCount:       1,
	}))
	require.NoError(t, err)

	tasks := f.pub.tasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, "job-1", tasks[0].TaskID, "continuation must reuse the parent task id")
	assert.Equal(t, 1, tasks[0].Depth)
	assert.Equal(t, 2, tasks[0].DepthLimit)
	assert.True(t, tasks[0].IsContinuation)

	assert.Contains(t, f.emitter.names(), domain.EventTaskContinuation)
	assert.NotContains(t, f.emitter.names(), domain.EventJobReceived)
	assert.NotContains(t, f.emitter.names(), domain.EventTaskStarted)
}

func TestHandleSubmissionInfersContinuationFromShape(t *testing.T) {
	f := newExpanderFixture()

	path := "blob://test/new_tasks/batch-2.json"
	f.putObject(t, path, map[string]any{
		"urls":        []string{"https://example.com/x"},
		"depth":       1,
		"depth_limit": 3,
	})

	// Envelope does not set is_continuation; the urls-only payload shape
	// must still route to the continuation path.
	err := f.expander.HandleSubmission(context.Background(), envelopeDelivery(t, domain.JobEnvelope{
		TaskID:   "job-7",
		BlobPath: path,
	}))
	require.NoError(t, err)

	tasks := f.pub.tasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, "job-7", tasks[0].TaskID)
	assert.True(t, tasks[0].IsContinuation)
}

func TestHandleSubmissionSeedJobMintsMissingTaskID(t *testing.T) {
	f := newExpanderFixture()

	path := "blob://test/crawl_tasks/legacy.json"
	f.putObject(t, path, map[string]any{
		"seed_urls": []string{"https://example.com"},
		"depth":     0,
	})

	err := f.expander.HandleSubmission(context.Background(), envelopeDelivery(t, domain.JobEnvelope{
		BlobPath: path,
	}))
	require.NoError(t, err)

	tasks := f.pub.tasks(t)
	require.Len(t, tasks, 1)
	assert.NotEmpty(t, tasks[0].TaskID)
}

func TestHandleSubmissionBlobReadFailureIsTransient(t *testing.T) {
	f := newExpanderFixture()
	f.blobs.err = errors.New("connection reset")

	err := f.expander.HandleSubmission(context.Background(), envelopeDelivery(t, domain.JobEnvelope{
		TaskID:   "job-1",
		BlobPath: "blob://test/crawl_tasks/job-1.json",
	}))
	require.Error(t, err)
	assert.True(t, bus.IsTransient(err))
}

func TestHandleSubmissionInvalidBlobPathDropped(t *testing.T) {
	f := newExpanderFixture()
	f.blobs.err = fmt.Errorf("%w: %q", blob.ErrInvalidPath, "gs://elsewhere/x")

	err := f.expander.HandleSubmission(context.Background(), envelopeDelivery(t, domain.JobEnvelope{
		TaskID:   "job-1",
		BlobPath: "gs://elsewhere/x",
	}))
	require.Error(t, err)
	assert.False(t, bus.IsTransient(err), "unusable paths can never succeed on retry")
}

func TestHandleSubmissionPublishFailureIsTransient(t *testing.T) {
	f := newExpanderFixture()
	f.pub.err = errors.New("stream unavailable")

	path := "blob://test/crawl_tasks/job-1.json"
	f.putObject(t, path, map[string]any{
		"seed_urls": []string{"https://example.com"},
		"depth":     1,
	})

	err := f.expander.HandleSubmission(context.Background(), envelopeDelivery(t, domain.JobEnvelope{
		TaskID:   "job-1",
		BlobPath: path,
	}))
	require.Error(t, err)
	assert.True(t, bus.IsTransient(err))
}

func TestHandleSubmissionTerminallyInvalid(t *testing.T) {
	tests := []struct {
		name     string
		envelope domain.JobEnvelope
		payload  map[string]any
	}{
		{
			name:     "missing blob path",
			envelope: domain.JobEnvelope{TaskID: "job-1"},
		},
		{
			name:     "empty seed list",
			envelope: domain.JobEnvelope{TaskID: "job-1", BlobPath: "blob://test/p.json"},
			payload:  map[string]any{"seed_urls": []string{}, "depth": 1},
		},
		{
			name:     "continuation without task id",
			envelope: domain.JobEnvelope{BlobPath: "blob://test/p.json", IsContinuation: true},
			payload:  map[string]any{"urls": []string{"https://example.com"}, "depth": 1, "depth_limit": 2},
		},
		{
			// Shape inference alone routes this to the continuation path;
			// no fallback id may be minted for it.
			name:     "shape-inferred continuation without task id",
			envelope: domain.JobEnvelope{BlobPath: "blob://test/p.json"},
			payload:  map[string]any{"urls": []string{"https://example.com"}, "depth": 1, "depth_limit": 2},
		},
		{
			name:     "continuation without depth limit",
			envelope: domain.JobEnvelope{TaskID: "job-1", BlobPath: "blob://test/p.json", IsContinuation: true},
			payload:  map[string]any{"urls": []string{"https://example.com"}, "depth": 1},
		},
		{
			name:     "continuation depth beyond limit",
			envelope: domain.JobEnvelope{TaskID: "job-1", BlobPath: "blob://test/p.json", IsContinuation: true},
			payload:  map[string]any{"urls": []string{"https://example.com"}, "depth": 3, "depth_limit": 2},
		},
		{
			name:     "negative seed depth",
			envelope: domain.JobEnvelope{TaskID: "job-1", BlobPath: "blob://test/p.json"},
			payload:  map[string]any{"seed_urls": []string{"https://example.com"}, "depth": -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExpanderFixture()
			if tt.payload != nil {
				f.putObject(t, tt.envelope.BlobPath, tt.payload)
			}

			err := f.expander.HandleSubmission(context.Background(), envelopeDelivery(t, tt.envelope))
			require.Error(t, err)
			assert.False(t, bus.IsTransient(err))
			assert.Empty(t, f.pub.envelopes)
		})
	}
}

func TestHandleSubmissionEmptyPayloadDropped(t *testing.T) {
	f := newExpanderFixture()
	f.blobs.objects["blob://test/empty.json"] = []byte{}

	err := f.expander.HandleSubmission(context.Background(), envelopeDelivery(t, domain.JobEnvelope{
		TaskID:   "job-1",
		BlobPath: "blob://test/empty.json",
	}))
	require.Error(t, err)
	assert.False(t, bus.IsTransient(err))
}
