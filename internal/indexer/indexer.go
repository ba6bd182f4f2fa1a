// Package indexer implements the index worker: it reads processed page
// text from the blob store and upserts one document per URL into the
// full-text index.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonesrussell/webcrawl/internal/blob"
	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/index"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

// BlobReader reads processed text from object storage.
type BlobReader interface {
	Get(ctx context.Context, qualified string) ([]byte, error)
}

// DocumentIndexer upserts page documents into the full-text index.
type DocumentIndexer interface {
	Upsert(ctx context.Context, doc index.Document) error
}

// ProgressEmitter publishes per-URL progress events.
type ProgressEmitter interface {
	Emit(ctx context.Context, event, taskID, url string, extras map[string]any)
}

// Worker processes index tasks.
type Worker struct {
	blobs   BlobReader
	docs    DocumentIndexer
	emitter ProgressEmitter
	log     logger.Logger
}

// NewWorker creates a Worker.
func NewWorker(blobs BlobReader, docs DocumentIndexer, emitter ProgressEmitter, log logger.Logger) *Worker {
	return &Worker{blobs: blobs, docs: docs, emitter: emitter, log: log}
}

// HandleIndexTask processes one index-task delivery. The document id is
// the URL, so redelivered tasks are idempotent upserts.
func (w *Worker) HandleIndexTask(ctx context.Context, d bus.Delivery) error {
	var task domain.IndexTask
	if err := json.Unmarshal(d.Payload, &task); err != nil {
		return fmt.Errorf("decode index task: %w", err)
	}

	url := task.FinalURL
	if url == "" {
		url = task.OriginalURL
	}
	if url == "" {
		return errors.New("index task has no url")
	}
	if task.ProcessedPath == "" {
		return fmt.Errorf("index task for %s missing processed path", url)
	}

	content, err := w.blobs.Get(ctx, task.ProcessedPath)
	if err != nil {
		// Paths outside our bucket are terminally invalid; read failures
		// are retried.
		if errors.Is(err, blob.ErrInvalidPath) || errors.Is(err, blob.ErrForeignBucket) {
			return fmt.Errorf("index task for %s: %w", url, err)
		}
		return bus.Transient(fmt.Errorf("read processed text for %s: %w", url, err))
	}

	doc := index.Document{URL: url, Content: string(content)}
	if upsertErr := w.docs.Upsert(ctx, doc); upsertErr != nil {
		return bus.Transient(fmt.Errorf("upsert %s: %w", url, upsertErr))
	}

	w.emitter.Emit(ctx, domain.EventURLIndexed, task.SourceTaskID, url, map[string]any{
		"content_id": task.ContentID,
	})

	w.log.Info("indexed document",
		logger.String("task_id", task.SourceTaskID),
		logger.String("url", url),
		logger.String("content_id", task.ContentID),
	)

	return nil
}
