// Package master implements the job expander: it turns job submissions
// and crawler-emitted link batches into individual crawl tasks, preserving
// task-id identity across continuations.
package master

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/webcrawl/internal/blob"
	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

// BlobReader reads job payloads from object storage.
type BlobReader interface {
	Get(ctx context.Context, qualified string) ([]byte, error)
}

// Publisher publishes envelopes to bus streams.
type Publisher interface {
	Publish(ctx context.Context, stream string, envelope any) error
}

// ProgressEmitter publishes scheduling progress events.
type ProgressEmitter interface {
	Emit(ctx context.Context, event, taskID, url string, extras map[string]any)
}

// Config configures the expander.
type Config struct {
	TasksStream string
	// SeedPacing is the delay between task publishes for seed jobs;
	// ContinuationPacing for link batches. Pacing limits bus-burst
	// pressure during expansion.
	SeedPacing         time.Duration
	ContinuationPacing time.Duration
}

// Expander consumes the job-submission stream and emits crawl tasks.
type Expander struct {
	blobs   BlobReader
	pub     Publisher
	emitter ProgressEmitter
	cfg     Config
	log     logger.Logger

	jobsReceived  atomic.Int64
	urlsScheduled atomic.Int64
}

// NewExpander creates an Expander.
func NewExpander(blobs BlobReader, pub Publisher, emitter ProgressEmitter, cfg Config, log logger.Logger) *Expander {
	return &Expander{
		blobs:   blobs,
		pub:     pub,
		emitter: emitter,
		cfg:     cfg,
		log:     log,
	}
}

// jobPayload is the union of the two blob shapes announced on the
// job-submission stream: seed jobs carry seed_urls with depth as the
// limit, link batches carry urls at a given depth with an explicit
// depth_limit.
type jobPayload struct {
	TaskID            string   `json:"task_id"`
	SeedURLs          []string `json:"seed_urls"`
	URLs              []string `json:"urls"`
	Depth             int      `json:"depth"`
	DepthLimit        *int     `json:"depth_limit"`
	DomainRestriction string   `json:"domain_restriction"`
}

// HandleSubmission processes one job-submission delivery. Terminally
// invalid envelopes are dropped; blob-read and publish failures are
// transient so the bus redelivers.
func (e *Expander) HandleSubmission(ctx context.Context, d bus.Delivery) error {
	var envelope domain.JobEnvelope
	if err := json.Unmarshal(d.Payload, &envelope); err != nil {
		return fmt.Errorf("decode job envelope: %w", err)
	}

	if envelope.BlobPath == "" {
		return errors.New("job envelope missing blob_path")
	}

	content, err := e.blobs.Get(ctx, envelope.BlobPath)
	if err != nil {
		if errors.Is(err, blob.ErrInvalidPath) || errors.Is(err, blob.ErrForeignBucket) {
			return fmt.Errorf("job %s: %w", envelope.TaskID, err)
		}
		return bus.Transient(fmt.Errorf("read job payload %s: %w", envelope.BlobPath, err))
	}

	if len(content) == 0 {
		return fmt.Errorf("job payload %s is empty", envelope.BlobPath)
	}

	var payload jobPayload
	if err := json.Unmarshal(content, &payload); err != nil {
		return fmt.Errorf("decode job payload %s: %w", envelope.BlobPath, err)
	}

	// The envelope flag is authoritative; payload shape covers envelopes
	// from older crawlers that did not set it.
	if envelope.IsContinuation || (len(payload.URLs) > 0 && len(payload.SeedURLs) == 0) {
		return e.expandContinuation(ctx, envelope, payload)
	}

	return e.expandSeedJob(ctx, envelope, payload)
}

// expandSeedJob emits depth-0 crawl tasks for a user-submitted job. The
// envelope task id (assigned at submission) is the logical identifier for
// every URL transitively discovered from this job.
func (e *Expander) expandSeedJob(ctx context.Context, envelope domain.JobEnvelope, payload jobPayload) error {
	if len(payload.SeedURLs) == 0 {
		return fmt.Errorf("job %s has no seed urls", envelope.TaskID)
	}

	taskID := envelope.TaskID
	if taskID == "" {
		// Legacy submitters may omit the id; mint one so the job still
		// runs. Only seed jobs get this: a continuation without a task id
		// can never be attributed and is dropped instead.
		taskID = uuid.NewString()
	}
	depthLimit := payload.Depth
	if depthLimit < 0 {
		return fmt.Errorf("job %s has negative depth %d", taskID, depthLimit)
	}

	received := e.jobsReceived.Add(1)

	e.emitter.Emit(ctx, domain.EventJobReceived, taskID, "", map[string]any{
		"job_id":             taskID,
		"seed_urls":          payload.SeedURLs,
		"depth":              depthLimit,
		"domain_restriction": payload.DomainRestriction,
	})

	e.log.Info("expanding seed job",
		logger.String("task_id", taskID),
		logger.Int("seed_count", len(payload.SeedURLs)),
		logger.Int("depth_limit", depthLimit),
		logger.Int64("jobs_received", received),
	)

	err := e.publishTasks(ctx, taskID, payload.SeedURLs, 0, depthLimit,
		payload.DomainRestriction, false, e.cfg.SeedPacing)
	if err != nil {
		return err
	}

	e.emitter.Emit(ctx, domain.EventTaskStarted, taskID, "", map[string]any{
		"seed_urls":          payload.SeedURLs,
		"total_depth":        depthLimit,
		"domain_restriction": payload.DomainRestriction,
	})

	return nil
}

// expandContinuation re-expands a crawler-discovered link batch under the
// parent task id. Continuations never mint a new task id: doing so would
// orphan discovered-URL events from their originating job.
func (e *Expander) expandContinuation(ctx context.Context, envelope domain.JobEnvelope, payload jobPayload) error {
	taskID := envelope.TaskID
	if taskID == "" {
		return errors.New("continuation envelope missing task_id")
	}
	if len(payload.URLs) == 0 {
		return fmt.Errorf("continuation for task %s has no urls", taskID)
	}
	if payload.DepthLimit == nil {
		return fmt.Errorf("continuation for task %s missing depth_limit", taskID)
	}

	depthLimit := *payload.DepthLimit
	if payload.Depth < 0 || payload.Depth > depthLimit {
		return fmt.Errorf("continuation for task %s has depth %d outside [0, %d]",
			taskID, payload.Depth, depthLimit)
	}

	e.emitter.Emit(ctx, domain.EventTaskContinuation, taskID, "", map[string]any{
		"job_id":    taskID,
		"url_count": len(payload.URLs),
	})

	e.log.Info("expanding link batch",
		logger.String("task_id", taskID),
		logger.Int("url_count", len(payload.URLs)),
		logger.Int("depth", payload.Depth),
	)

	return e.publishTasks(ctx, taskID, payload.URLs, payload.Depth, depthLimit,
		payload.DomainRestriction, true, e.cfg.ContinuationPacing)
}

// publishTasks emits one crawl task per URL with a pacing delay between
// publishes. Any publish failure is transient: the whole envelope is
// redelivered and the crawler's seen-set absorbs the duplicates.
func (e *Expander) publishTasks(
	ctx context.Context,
	taskID string,
	urls []string,
	depth, depthLimit int,
	domainRestriction string,
	isContinuation bool,
	pacing time.Duration,
) error {
	for _, u := range urls {
		task := domain.CrawlTask{
			TaskID:            taskID,
			URL:               u,
			Depth:             depth,
			DepthLimit:        depthLimit,
			DomainRestriction: domainRestriction,
			SourceJobID:       taskID,
			IsContinuation:    isContinuation,
		}

		if err := e.pub.Publish(ctx, e.cfg.TasksStream, task); err != nil {
			return bus.Transient(fmt.Errorf("publish crawl task for %s: %w", u, err))
		}

		e.urlsScheduled.Add(1)
		e.emitter.Emit(ctx, domain.EventURLScheduled, taskID, u, map[string]any{
			"depth": depth,
		})

		if pacing > 0 {
			select {
			case <-ctx.Done():
				return bus.Transient(ctx.Err())
			case <-time.After(pacing):
			}
		}
	}

	return nil
}

// Stats returns the running totals since process start.
func (e *Expander) Stats() (jobsReceived, urlsScheduled int64) {
	return e.jobsReceived.Load(), e.urlsScheduled.Load()
}
