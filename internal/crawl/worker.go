package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/webcrawl/internal/blob"
	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

// maxResponseBodyBytes limits the size of fetched page bodies.
const maxResponseBodyBytes = 10 * 1024 * 1024 // 10 MB

// SkipReasonRobots is the url_skipped reason for robots.txt denials.
const SkipReasonRobots = "robots_txt"

// BlobWriter writes crawl artifacts to object storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Publisher publishes envelopes to bus streams.
type Publisher interface {
	Publish(ctx context.Context, stream string, envelope any) error
}

// ProgressEmitter publishes per-URL progress events.
type ProgressEmitter interface {
	Emit(ctx context.Context, event, taskID, url string, extras map[string]any)
}

// RobotsAllower checks robots.txt compliance.
type RobotsAllower interface {
	IsAllowed(ctx context.Context, rawURL string) (bool, error)
}

// WorkerConfig configures the fetch worker.
type WorkerConfig struct {
	UserAgent         string
	PolitenessDelay   time.Duration
	DefaultDepthLimit int
	IndexStream       string
	JobsStream        string
}

// Worker processes crawl tasks: fetch one URL politely, persist raw and
// processed artifacts, emit the index task, and forward discovered links
// to the master as a link batch.
type Worker struct {
	blobs      BlobWriter
	pub        Publisher
	emitter    ProgressEmitter
	robots     RobotsAllower
	seen       *SeenSet
	httpClient *http.Client
	cfg        WorkerConfig
	log        logger.Logger
}

// NewWorker creates a Worker. The HTTP client's timeout is the per-request
// fetch timeout; timeouts nack the task while other fetch errors drop it.
func NewWorker(
	blobs BlobWriter,
	pub Publisher,
	emitter ProgressEmitter,
	robots RobotsAllower,
	seen *SeenSet,
	httpClient *http.Client,
	cfg WorkerConfig,
	log logger.Logger,
) *Worker {
	return &Worker{
		blobs:      blobs,
		pub:        pub,
		emitter:    emitter,
		robots:     robots,
		seen:       seen,
		httpClient: httpClient,
		cfg:        cfg,
		log:        log,
	}
}

// crawlTaskWire mirrors domain.CrawlTask with a pointer depth limit so an
// absent field can fall back to the configured default.
type crawlTaskWire struct {
	TaskID            string `json:"task_id"`
	URL               string `json:"url"`
	Depth             int    `json:"depth"`
	DepthLimit        *int   `json:"depth_limit"`
	DomainRestriction string `json:"domain_restriction"`
	SourceJobID       string `json:"source_job_id"`
	IsContinuation    bool   `json:"is_continuation"`
}

// HandleTask processes one crawl-task delivery. It is the bus.Handler for
// the crawl-task stream: a nil return acks, bus.Transient errors nack, and
// other errors drop the message as terminally invalid.
func (w *Worker) HandleTask(ctx context.Context, d bus.Delivery) error {
	task, err := w.parseTask(d.Payload)
	if err != nil {
		return err
	}

	normalized, err := NormalizeURL(task.URL)
	if err != nil {
		return fmt.Errorf("task %s: %w", task.TaskID, err)
	}

	if alreadySeen := w.seen.Add(normalized); alreadySeen {
		w.log.Debug("skipping already seen URL", logger.String("url", normalized))
		return nil
	}

	if handleErr := w.crawl(ctx, task, normalized); handleErr != nil {
		if bus.IsTransient(handleErr) {
			// Let the redelivered task through the dedup check.
			w.seen.Remove(normalized)
		}
		return handleErr
	}

	return nil
}

// parseTask decodes and validates a crawl task. All failures here are
// terminal: the message can never become valid.
func (w *Worker) parseTask(payload []byte) (*domain.CrawlTask, error) {
	var wire crawlTaskWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode crawl task: %w", err)
	}

	if wire.TaskID == "" {
		return nil, errors.New("crawl task missing task_id")
	}
	if !ValidTaskURL(wire.URL) {
		return nil, fmt.Errorf("crawl task has invalid url %q", wire.URL)
	}

	depthLimit := w.cfg.DefaultDepthLimit
	if wire.DepthLimit != nil {
		depthLimit = *wire.DepthLimit
	}

	if wire.Depth < 0 || wire.Depth > depthLimit {
		return nil, fmt.Errorf("crawl task depth %d outside [0, %d]", wire.Depth, depthLimit)
	}

	return &domain.CrawlTask{
		TaskID:            wire.TaskID,
		URL:               wire.URL,
		Depth:             wire.Depth,
		DepthLimit:        depthLimit,
		DomainRestriction: wire.DomainRestriction,
		SourceJobID:       wire.SourceJobID,
		IsContinuation:    wire.IsContinuation,
	}, nil
}

// crawl runs the fetch pipeline for one validated, unseen task.
func (w *Worker) crawl(ctx context.Context, task *domain.CrawlTask, normalized string) error {
	if !w.politenessDelay(ctx) {
		return bus.Transient(ctx.Err())
	}

	allowed, err := w.robots.IsAllowed(ctx, task.URL)
	if err != nil {
		return fmt.Errorf("robots check for %s: %w", task.URL, err)
	}
	if !allowed {
		w.log.Info("robots.txt disallows URL",
			logger.String("task_id", task.TaskID),
			logger.String("url", task.URL),
		)
		w.emitter.Emit(ctx, domain.EventURLSkipped, task.TaskID, task.URL, map[string]any{
			"reason": SkipReasonRobots,
		})
		return nil
	}

	body, finalURL, contentType, fetchErr := w.fetch(ctx, task.URL)
	if fetchErr != nil {
		if isTimeout(fetchErr) {
			return bus.Transient(fmt.Errorf("fetch %s: %w", task.URL, fetchErr))
		}
		// Permanent remote failure: ack to avoid redelivery storms.
		w.log.Warn("fetch failed permanently",
			logger.String("task_id", task.TaskID),
			logger.String("url", task.URL),
			logger.Error(fetchErr),
		)
		return nil
	}

	if !strings.Contains(strings.ToLower(contentType), "html") {
		w.log.Info("skipping non-HTML content",
			logger.String("url", task.URL),
			logger.String("content_type", contentType),
		)
		return nil
	}

	contentID := uuid.NewString()

	if _, putErr := w.blobs.Put(ctx, blob.RawHTMLKey(contentID), body, blob.ContentTypeHTML); putErr != nil {
		return bus.Transient(putErr)
	}

	page, parseErr := ParsePage(body, finalURL)
	if parseErr != nil {
		return fmt.Errorf("task %s: %w", task.TaskID, parseErr)
	}

	processedPath, putErr := w.blobs.Put(
		ctx, blob.ProcessedTextKey(contentID), []byte(page.Text), blob.ContentTypeText,
	)
	if putErr != nil {
		return bus.Transient(putErr)
	}

	indexTask := domain.IndexTask{
		SourceTaskID:     task.TaskID,
		ContentID:        contentID,
		OriginalURL:      task.URL,
		FinalURL:         finalURL,
		ProcessedPath:    processedPath,
		CrawledTimestamp: time.Now().UTC(),
	}
	if pubErr := w.pub.Publish(ctx, w.cfg.IndexStream, indexTask); pubErr != nil {
		return bus.Transient(pubErr)
	}

	w.emitter.Emit(ctx, domain.EventURLCrawled, task.TaskID, task.URL, map[string]any{
		"depth": task.Depth,
	})

	if task.Depth < task.DepthLimit {
		if forwardErr := w.forwardLinks(ctx, task, finalURL, page.Links); forwardErr != nil {
			return forwardErr
		}
	} else {
		w.emitter.Emit(ctx, domain.EventDepthComplete, task.TaskID, task.URL, map[string]any{
			"depth": task.Depth,
		})
	}

	return nil
}

// forwardLinks filters discovered links and hands them back to the master
// as a link batch under the same task id. Publishing directly to the
// crawl-task stream would bypass the master's pacing and accounting.
func (w *Worker) forwardLinks(ctx context.Context, task *domain.CrawlTask, finalURL string, links []string) error {
	accepted := w.filterLinks(task, links)
	if len(accepted) == 0 {
		return nil
	}

	batch := domain.LinkBatch{
		URLs:              accepted,
		Depth:             task.Depth + 1,
		DepthLimit:        task.DepthLimit,
		DomainRestriction: task.DomainRestriction,
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal link batch: %w", err)
	}

	batchKey := blob.LinkBatchKey(uuid.NewString(), time.Now())

	batchPath, putErr := w.blobs.Put(ctx, batchKey, data, blob.ContentTypeJSON)
	if putErr != nil {
		w.unseeLinks(accepted)
		return bus.Transient(putErr)
	}

	envelope := domain.JobEnvelope{
		TaskID:         task.TaskID,
		BlobPath:       batchPath,
		IsContinuation: true,
		URLCount:       len(accepted),
	}
	if pubErr := w.pub.Publish(ctx, w.cfg.JobsStream, envelope); pubErr != nil {
		w.unseeLinks(accepted)
		return bus.Transient(pubErr)
	}

	w.emitter.Emit(ctx, domain.EventNewURLsFound, task.TaskID, finalURL, map[string]any{
		"count": len(accepted),
	})

	w.log.Info("forwarded link batch",
		logger.String("task_id", task.TaskID),
		logger.Int("url_count", len(accepted)),
		logger.Int("next_depth", task.Depth+1),
	)

	return nil
}

// unseeLinks removes links from the seen-set so a redelivered task can
// re-forward them after a transient batch failure. Without this, the
// redelivery would find every discovered link "already seen" and the
// subtree would never be scheduled.
func (w *Worker) unseeLinks(links []string) {
	for _, link := range links {
		w.seen.Remove(link)
	}
}

// filterLinks applies the domain restriction and the seen-set to
// discovered links, inserting accepted links into the seen-set so sibling
// pages do not re-forward them. Callers must unsee the accepted links if
// the batch is not durably forwarded.
func (w *Worker) filterLinks(task *domain.CrawlTask, links []string) []string {
	var accepted []string

	for _, link := range links {
		if !HostMatchesRestriction(link, task.DomainRestriction) {
			continue
		}

		normalized, err := NormalizeURL(link)
		if err != nil {
			continue
		}

		if alreadySeen := w.seen.Add(normalized); alreadySeen {
			continue
		}

		accepted = append(accepted, normalized)
	}

	return accepted
}

// fetch performs the HTTP GET, following redirects, and returns the body,
// post-redirect URL, and content type.
func (w *Worker) fetch(ctx context.Context, rawURL string) (body []byte, finalURL, contentType string, err error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if reqErr != nil {
		return nil, "", "", fmt.Errorf("create request: %w", reqErr)
	}

	req.Header.Set("User-Agent", w.cfg.UserAgent)

	resp, doErr := w.httpClient.Do(req)
	if doErr != nil {
		return nil, "", "", fmt.Errorf("http fetch: %w", doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", "", fmt.Errorf("http status %d", resp.StatusCode)
	}

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if readErr != nil {
		return nil, "", "", fmt.Errorf("read response body: %w", readErr)
	}

	return data, resp.Request.URL.String(), resp.Header.Get("Content-Type"), nil
}

// politenessDelay waits the configured delay before a fetch. Returns false
// if the context was cancelled while waiting.
func (w *Worker) politenessDelay(ctx context.Context) bool {
	if w.cfg.PolitenessDelay <= 0 {
		return true
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.cfg.PolitenessDelay):
		return true
	}
}

// isTimeout reports whether a fetch error is a timeout (transient) rather
// than a permanent request failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
