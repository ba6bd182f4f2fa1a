// Package domain defines the wire-level types exchanged between webcrawl
// components over the message bus and the blob store.
package domain

import "time"

// NodeType identifies which component produced an event.
type NodeType string

const (
	// NodeMaster is the job expander.
	NodeMaster NodeType = "master"
	// NodeCrawler is the fetch worker.
	NodeCrawler NodeType = "crawler"
	// NodeIndexer is the index worker.
	NodeIndexer NodeType = "indexer"
	// NodeAggregator is the progress aggregator.
	NodeAggregator NodeType = "aggregator"
)

// Job is a user submission persisted as a blob at crawl_tasks/{job_id}.json.
type Job struct {
	TaskID            string    `json:"task_id"`
	SeedURLs          []string  `json:"seed_urls"`
	Depth             int       `json:"depth"`
	DomainRestriction string    `json:"domain_restriction,omitempty"`
	SubmittedAt       time.Time `json:"submitted_at,omitzero"`
}

// LinkBatch is a crawler-emitted continuation payload persisted as a blob
// at new_tasks/{batch_id}_{ts}.json. URLs belong to an existing task.
type LinkBatch struct {
	URLs              []string `json:"urls"`
	Depth             int      `json:"depth"`
	DepthLimit        int      `json:"depth_limit"`
	DomainRestriction string   `json:"domain_restriction,omitempty"`
}

// JobEnvelope announces a job or link-batch blob on the job-submission
// stream. For link batches TaskID is the parent task id.
type JobEnvelope struct {
	TaskID         string `json:"task_id"`
	BlobPath       string `json:"blob_path"`
	IsContinuation bool   `json:"is_continuation,omitempty"`
	URLCount       int    `json:"url_count,omitempty"`
}

// CrawlTask is a single URL to fetch, delivered inline on the crawl-task
// stream. TaskID equals the originating job id for every URL expanded from
// that job, including URLs discovered later.
type CrawlTask struct {
	TaskID            string `json:"task_id"`
	URL               string `json:"url"`
	Depth             int    `json:"depth"`
	DepthLimit        int    `json:"depth_limit"`
	DomainRestriction string `json:"domain_restriction,omitempty"`
	SourceJobID       string `json:"source_job_id"`
	IsContinuation    bool   `json:"is_continuation"`
}

// IndexTask requests indexing of one processed page.
type IndexTask struct {
	SourceTaskID     string    `json:"source_task_id"`
	ContentID        string    `json:"content_id"`
	OriginalURL      string    `json:"original_url"`
	FinalURL         string    `json:"final_url"`
	ProcessedPath    string    `json:"processed_path"`
	CrawledTimestamp time.Time `json:"crawled_timestamp"`
}

// Progress event kinds.
const (
	EventJobReceived      = "job_received"
	EventTaskContinuation = "task_continuation"
	EventURLScheduled     = "url_scheduled"
	EventTaskStarted      = "task_started"
	EventURLCrawled       = "url_crawled"
	EventURLSkipped       = "url_skipped"
	EventNewURLsFound     = "new_urls_found"
	EventURLIndexed       = "url_indexed"
	EventDepthComplete    = "depth_complete"
	EventTaskCompleted    = "task_completed"
	EventTaskFailed       = "task_failed"
)

// ProgressEvent is published by every worker and consumed by the
// aggregator. Extras carries event-specific fields (counts, depths,
// reasons) that are flattened into the JSON object on the wire.
type ProgressEvent struct {
	NodeType  NodeType       `json:"node_type"`
	Event     string         `json:"event"`
	TaskID    string         `json:"task_id,omitempty"`
	URL       string         `json:"url,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Extras    map[string]any `json:"-"`
}

// HealthEvent is a worker heartbeat.
type HealthEvent struct {
	NodeType  NodeType  `json:"node_type"`
	Hostname  string    `json:"hostname"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthOnline is the status carried by heartbeats from live workers.
const HealthOnline = "online"

// CanonicalEvent maps observed aliases to the canonical progress event
// name. Older emitters used the short forms.
func CanonicalEvent(event string) string {
	switch event {
	case "crawled":
		return EventURLCrawled
	case "indexed":
		return EventURLIndexed
	default:
		return event
	}
}
