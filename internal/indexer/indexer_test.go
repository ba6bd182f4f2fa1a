package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/webcrawl/internal/blob"
	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/index"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

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

type fakeIndexer struct {
	docs []index.Document
	err  error
}

func (f *fakeIndexer) Upsert(_ context.Context, doc index.Document) error {
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, doc)
	return nil
}

type emitted struct {
	event  string
	taskID string
	url    string
	extras map[string]any
}

type fakeEmitter struct {
	events []emitted
}

func (f *fakeEmitter) Emit(_ context.Context, event, taskID, url string, extras map[string]any) {
	f.events = append(f.events, emitted{event: event, taskID: taskID, url: url, extras: extras})
}

type workerFixture struct {
	worker  *Worker
	blobs   *fakeBlobReader
	docs    *fakeIndexer
	emitter *fakeEmitter
}

func newWorkerFixture() *workerFixture {
	f := &workerFixture{
		blobs:   &fakeBlobReader{objects: make(map[string][]byte)},
		docs:    &fakeIndexer{},
		emitter: &fakeEmitter{},
	}
	f.worker = NewWorker(f.blobs, f.docs, f.emitter, logger.NewNop())
	return f
}

func indexTaskDelivery(t *testing.T, task domain.IndexTask) bus.Delivery {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return bus.Delivery{ID: "1-0", Payload: data}
}

func TestHandleIndexTaskUpsertsByFinalURL(t *testing.T) {
	f := newWorkerFixture()

	path := "blob://test/processed_text/c1.txt"
	f.blobs.objects[path] = []byte("extracted page text")

	err := f.worker.HandleIndexTask(context.Background(), indexTaskDelivery(t, domain.IndexTask{
		SourceTaskID:     "job-1",
		ContentID:        "c1",
		OriginalURL:      "https://example.com/page",
		FinalURL:         "https://example.com/page/final",
		ProcessedPath:    path,
		CrawledTimestamp: time.Now().UTC(),
	}))
	require.NoError(t, err)

	require.Len(t, f.docs.docs, 1)
	assert.Equal(t, "https://example.com/page/final", f.docs.docs[0].URL)
	assert.Equal(t, "extracted page text", f.docs.docs[0].Content)

	require.Len(t, f.emitter.events, 1)
	ev := f.emitter.events[0]
	assert.Equal(t, domain.EventURLIndexed, ev.event)
	assert.Equal(t, "job-1", ev.taskID)
	assert.Equal(t, "https://example.com/page/final", ev.url)
	assert.Equal(t, "c1", ev.extras["content_id"])
}

func TestHandleIndexTaskFallsBackToOriginalURL(t *testing.T) {
	f := newWorkerFixture()

	path := "blob://test/processed_text/c2.txt"
	f.blobs.objects[path] = []byte("text")

	err := f.worker.HandleIndexTask(context.Background(), indexTaskDelivery(t, domain.IndexTask{
		SourceTaskID:  "job-1",
		ContentID:     "c2",
		OriginalURL:   "https://example.com/orig",
		ProcessedPath: path,
	}))
	require.NoError(t, err)

	require.Len(t, f.docs.docs, 1)
	assert.Equal(t, "https://example.com/orig", f.docs.docs[0].URL)
}

func TestHandleIndexTaskBlobReadFailureIsTransient(t *testing.T) {
	f := newWorkerFixture()
	f.blobs.err = errors.New("connection reset")

	err := f.worker.HandleIndexTask(context.Background(), indexTaskDelivery(t, domain.IndexTask{
		SourceTaskID:  "job-1",
		OriginalURL:   "https://example.com",
		ProcessedPath: "blob://test/processed_text/c3.txt",
	}))
	require.Error(t, err)
	assert.True(t, bus.IsTransient(err))
	assert.Empty(t, f.docs.docs)
}

func TestHandleIndexTaskForeignBucketDropped(t *testing.T) {
	f := newWorkerFixture()
	f.blobs.err = fmt.Errorf("%w: blob://other/x", blob.ErrForeignBucket)

	err := f.worker.HandleIndexTask(context.Background(), indexTaskDelivery(t, domain.IndexTask{
		SourceTaskID:  "job-1",
		OriginalURL:   "https://example.com",
		ProcessedPath: "blob://other/x",
	}))
	require.Error(t, err)
	assert.False(t, bus.IsTransient(err))
}

func TestHandleIndexTaskUpsertFailureIsTransient(t *testing.T) {
	f := newWorkerFixture()

	path := "blob://test/processed_text/c4.txt"
	f.blobs.objects[path] = []byte("text")
	f.docs.err = index.ErrUnexpectedResult

	err := f.worker.HandleIndexTask(context.Background(), indexTaskDelivery(t, domain.IndexTask{
		SourceTaskID:  "job-1",
		OriginalURL:   "https://example.com",
		ProcessedPath: path,
	}))
	require.Error(t, err)
	assert.True(t, bus.IsTransient(err))
	assert.Empty(t, f.emitter.events)
}

func TestHandleIndexTaskInvalidEnvelopeDropped(t *testing.T) {
	f := newWorkerFixture()

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "malformed json", payload: []byte("{not json")},
		{name: "no urls", payload: mustMarshal(t, domain.IndexTask{SourceTaskID: "job-1", ProcessedPath: "blob://test/x"})},
		{name: "no processed path", payload: mustMarshal(t, domain.IndexTask{SourceTaskID: "job-1", OriginalURL: "https://example.com"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.worker.HandleIndexTask(context.Background(), bus.Delivery{ID: "1-0", Payload: tt.payload})
			require.Error(t, err)
			assert.False(t, bus.IsTransient(err))
		})
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
