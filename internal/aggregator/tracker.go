// Package aggregator merges the progress and health streams into live
// per-task and per-component state for the dashboard read API.
package aggregator

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

// Task statuses.
const (
	StatusSubmitted  = "submitted"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Bounded-list limits: lists are capped, and on overflow we retain the
// head (earliest entries) plus the most recent tail.
const (
	listCap      = 100
	listKeepHead = 10
	listKeepTail = 40
)

// TimelineEntry is one observed event in a task's history.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	URL       string    `json:"url,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// ContinuationDetail records one link-batch re-expansion.
type ContinuationDetail struct {
	Timestamp time.Time `json:"timestamp"`
	URLCount  int       `json:"url_count"`
}

// TaskState is the aggregator's view of one logical crawl job.
type TaskState struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`

	CrawledURLs   int `json:"crawled_urls"`
	IndexedURLs   int `json:"indexed_urls"`
	Continuations int `json:"continuations"`

	CurrentDepth int `json:"current_depth"`
	TotalDepth   int `json:"total_depth"`
	// DeepestComplete is the deepest depth reported finished.
	DeepestComplete int `json:"deepest_complete"`

	SeedURLs          []string `json:"seed_urls,omitempty"`
	DomainRestriction string   `json:"domain_restriction,omitempty"`

	CrawledList   []string             `json:"crawled_list,omitempty"`
	IndexedList   []string             `json:"indexed_list,omitempty"`
	Timeline      []TimelineEntry      `json:"timeline,omitempty"`
	Continuation  []ContinuationDetail `json:"continuation_details,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	LastUpdate time.Time `json:"last_update"`
	EndedAt    time.Time `json:"ended_at,omitzero"`

	Error         string `json:"error,omitempty"`
	Warning       string `json:"warning,omitempty"`
	AutoCompleted bool   `json:"auto_completed,omitempty"`
}

// Terminal reports whether the task has reached a final status.
func (t *TaskState) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// ComponentHealth is the latest known heartbeat state for one component
// type (master, crawler, indexer).
type ComponentHealth struct {
	NodeType string    `json:"node_type"`
	Hostname string    `json:"hostname"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// Summary is the roll-up across all tracked tasks.
type Summary struct {
	ActiveTasks    int `json:"active_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
	TotalCrawled   int `json:"total_crawled"`
	TotalIndexed   int `json:"total_indexed"`
}

// Config holds the tracker's timeouts and caps.
type Config struct {
	MaxActiveTasks   int
	SubmittedTimeout time.Duration
	ProgressTimeout  time.Duration
	SlowWarnAfter    time.Duration
	HealthStaleAfter time.Duration
}

// Tracker holds all aggregator state. A single mutex guards the task map
// and the seed-key map; handlers never hold it across blocking I/O.
type Tracker struct {
	mu       sync.Mutex
	tasks    map[string]*TaskState
	seedKeys map[string]string // canonical seed key -> task id
	aliases  map[string]string // coalesced duplicate id -> surviving task id
	health   map[string]*ComponentHealth

	startup time.Time
	cfg     Config
	log     logger.Logger

	now func() time.Time // swappable in tests
}

// NewTracker creates a Tracker. Events timestamped before creation time
// are discarded by the handlers.
func NewTracker(cfg Config, log logger.Logger) *Tracker {
	return &Tracker{
		tasks:    make(map[string]*TaskState),
		seedKeys: make(map[string]string),
		aliases:  make(map[string]string),
		health:   make(map[string]*ComponentHealth),
		startup:  time.Now().UTC(),
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// seedKey builds the canonical key for duplicate-submission coalescing:
// the sorted seed-url set, independent of submission order.
func seedKey(seeds []string) string {
	sorted := make([]string, len(seeds))
	copy(sorted, seeds)
	sort.Strings(sorted)
	return strings.Join(sorted, "\n")
}

// Apply folds one progress event into the task map. Events older than the
// tracker's startup time are ignored.
func (tr *Tracker) Apply(ev domain.ProgressEvent) {
	if ev.Timestamp.Before(tr.startup) {
		return
	}

	event := domain.CanonicalEvent(ev.Event)
	if ev.TaskID == "" {
		// Events without a task id (e.g. standalone url_skipped) have
		// nothing to attribute; drop them.
		return
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	taskID := ev.TaskID
	if target, ok := tr.aliases[taskID]; ok {
		taskID = target
	}

	// Coalesce duplicate submissions: identical seed sets map to the
	// first live task that carried them. The master still expands the
	// duplicate job, so its id is recorded as an alias and every later
	// event it emits lands on the surviving task.
	if event == domain.EventJobReceived {
		if seeds := stringsExtra(ev.Extras, "seed_urls"); len(seeds) > 0 {
			key := seedKey(seeds)
			if existing, ok := tr.seedKeys[key]; ok && existing != taskID {
				if task, live := tr.tasks[existing]; live && !task.Terminal() {
					tr.aliases[taskID] = existing
					taskID = existing
				} else {
					tr.seedKeys[key] = taskID
				}
			} else {
				tr.seedKeys[key] = taskID
			}
		}
	}

	task, ok := tr.tasks[taskID]
	if !ok {
		task = tr.createTaskLocked(taskID, event, ev.Timestamp)
	}

	tr.applyLocked(task, event, ev)
}

// createTaskLocked registers a new task entry and enforces the active-task
// cap by auto-completing the stalest active tasks.
func (tr *Tracker) createTaskLocked(taskID, event string, ts time.Time) *TaskState {
	status := StatusInProgress
	if event == domain.EventJobReceived {
		status = StatusSubmitted
	}

	task := &TaskState{
		TaskID:     taskID,
		Status:     status,
		StartedAt:  ts,
		LastUpdate: ts,
	}
	tr.tasks[taskID] = task

	if tr.cfg.MaxActiveTasks > 0 {
		tr.enforceActiveCapLocked(taskID)
	}

	return task
}

// enforceActiveCapLocked auto-completes the oldest active tasks (by last
// update) until the active count fits the cap. The task being created is
// never the victim.
func (tr *Tracker) enforceActiveCapLocked(newTaskID string) {
	var active []*TaskState
	for _, t := range tr.tasks {
		if !t.Terminal() {
			active = append(active, t)
		}
	}
	if len(active) <= tr.cfg.MaxActiveTasks {
		return
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LastUpdate.Before(active[j].LastUpdate)
	})

	excess := len(active) - tr.cfg.MaxActiveTasks
	for _, t := range active {
		if excess == 0 {
			break
		}
		if t.TaskID == newTaskID {
			continue
		}
		t.Status = StatusCompleted
		t.AutoCompleted = true
		t.EndedAt = tr.now()
		excess--

		tr.log.Warn("auto-completed task over active cap",
			logger.String("task_id", t.TaskID),
			logger.Int("max_active", tr.cfg.MaxActiveTasks),
		)
	}
}

// applyLocked dispatches one canonical event to its handler. Handlers are
// commutative up to the indexed<=crawled clamp, so bus reordering cannot
// corrupt state.
func (tr *Tracker) applyLocked(task *TaskState, event string, ev domain.ProgressEvent) {
	task.LastUpdate = ev.Timestamp
	appendBounded(&task.Timeline, TimelineEntry{
		Timestamp: ev.Timestamp,
		Event:     event,
		URL:       ev.URL,
	})

	switch event {
	case domain.EventJobReceived:
		if seeds := stringsExtra(ev.Extras, "seed_urls"); len(seeds) > 0 {
			task.SeedURLs = seeds
		}
		if depth, ok := intExtra(ev.Extras, "depth"); ok {
			task.TotalDepth = depth
		}
		if dr, ok := ev.Extras["domain_restriction"].(string); ok && dr != "" {
			task.DomainRestriction = dr
		}

	case domain.EventTaskStarted:
		if !task.Terminal() {
			task.Status = StatusInProgress
		}
		if seeds := stringsExtra(ev.Extras, "seed_urls"); len(seeds) > 0 {
			task.SeedURLs = seeds
		}
		if depth, ok := intExtra(ev.Extras, "total_depth"); ok {
			task.TotalDepth = depth
		}
		if dr, ok := ev.Extras["domain_restriction"].(string); ok && dr != "" {
			task.DomainRestriction = dr
		}

	case domain.EventTaskContinuation:
		task.Continuations++
		count, _ := intExtra(ev.Extras, "url_count")
		appendBounded(&task.Continuation, ContinuationDetail{
			Timestamp: ev.Timestamp,
			URLCount:  count,
		})

	case domain.EventURLCrawled:
		task.CrawledURLs++
		if ev.URL != "" {
			appendBoundedUnique(&task.CrawledList, ev.URL)
		}
		if depth, ok := intExtra(ev.Extras, "depth"); ok && depth > task.CurrentDepth {
			task.CurrentDepth = depth
		}
		tr.promoteLocked(task)

	case domain.EventURLIndexed:
		task.IndexedURLs++
		if task.IndexedURLs > task.CrawledURLs {
			task.IndexedURLs = task.CrawledURLs
			task.Warning = "indexed count clamped to crawled count"
			tr.log.Warn("clamped indexed count",
				logger.String("task_id", task.TaskID),
				logger.Int("crawled", task.CrawledURLs),
			)
		}
		if ev.URL != "" {
			appendBoundedUnique(&task.IndexedList, ev.URL)
		}
		tr.promoteLocked(task)

	case domain.EventDepthComplete:
		if depth, ok := intExtra(ev.Extras, "depth"); ok && depth > task.DeepestComplete {
			task.DeepestComplete = depth
		}

	case domain.EventTaskCompleted:
		task.Status = StatusCompleted
		task.EndedAt = ev.Timestamp
		if reason, ok := ev.Extras["reason"].(string); ok {
			task.Timeline[len(task.Timeline)-1].Detail = reason
		}

	case domain.EventTaskFailed:
		task.Status = StatusFailed
		task.EndedAt = ev.Timestamp
		if msg, ok := ev.Extras["error"].(string); ok && msg != "" {
			task.Error = msg
		} else if reason, ok := ev.Extras["reason"].(string); ok {
			task.Error = reason
		}

	case domain.EventURLScheduled, domain.EventURLSkipped, domain.EventNewURLsFound:
		// Timeline-only events; url_scheduled still promotes a submitted
		// task since work is visibly flowing.
		if event == domain.EventURLScheduled {
			tr.promoteLocked(task)
		}
	}
}

// promoteLocked moves a submitted task to in_progress. Terminal statuses
// are never overwritten by late events.
func (tr *Tracker) promoteLocked(task *TaskState) {
	if task.Status == StatusSubmitted {
		task.Status = StatusInProgress
	}
}

// ApplyHealth folds one heartbeat into the component table.
func (tr *Tracker) ApplyHealth(ev domain.HealthEvent) {
	if ev.Timestamp.Before(tr.startup) {
		return
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	node := string(ev.NodeType)
	entry, ok := tr.health[node]
	if !ok {
		entry = &ComponentHealth{NodeType: node}
		tr.health[node] = entry
	}
	entry.Hostname = ev.Hostname
	entry.Status = ev.Status
	entry.LastSeen = ev.Timestamp
}

// Task returns a copy of one task's state.
func (tr *Tracker) Task(taskID string) (TaskState, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	task, ok := tr.tasks[taskID]
	if !ok {
		return TaskState{}, false
	}
	return cloneTask(task), true
}

// Tasks returns copies of all tracked tasks, newest first.
func (tr *Tracker) Tasks() []TaskState {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	out := make([]TaskState, 0, len(tr.tasks))
	for _, t := range tr.tasks {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Summary recomputes the roll-up counters, clamping any per-task
// indexed>crawled before aggregating.
func (tr *Tracker) Summary() Summary {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var s Summary
	for _, t := range tr.tasks {
		switch t.Status {
		case StatusCompleted:
			s.CompletedTasks++
		case StatusFailed:
			s.FailedTasks++
		default:
			s.ActiveTasks++
		}

		indexed := t.IndexedURLs
		if indexed > t.CrawledURLs {
			indexed = t.CrawledURLs
		}
		s.TotalCrawled += t.CrawledURLs
		s.TotalIndexed += indexed
	}
	return s
}

// Components returns the component health table.
func (tr *Tracker) Components() []ComponentHealth {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	out := make([]ComponentHealth, 0, len(tr.health))
	for _, h := range tr.health {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NodeType < out[j].NodeType
	})
	return out
}

// Clear drops all terminal tasks, their seed-key mappings, and any
// duplicate-id aliases pointing at them.
func (tr *Tracker) Clear() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	removed := 0
	for id, t := range tr.tasks {
		if t.Terminal() {
			delete(tr.tasks, id)
			removed++
		}
	}
	for key, id := range tr.seedKeys {
		if _, ok := tr.tasks[id]; !ok {
			delete(tr.seedKeys, key)
		}
	}
	for dup, target := range tr.aliases {
		if _, ok := tr.tasks[target]; !ok {
			delete(tr.aliases, dup)
		}
	}
	return removed
}

// Sweep runs the periodic stall and health-staleness checks. Called on a
// fixed cadence by the aggregator's scheduler.
func (tr *Tracker) Sweep() {
	now := tr.now()

	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, task := range tr.tasks {
		if task.Terminal() {
			continue
		}
		idle := now.Sub(task.LastUpdate)

		switch {
		case task.Status == StatusSubmitted && idle > tr.cfg.SubmittedTimeout:
			task.Status = StatusFailed
			task.EndedAt = now
			task.Error = "stalled: no progress after submission"
			tr.log.Warn("task stalled in submitted",
				logger.String("task_id", task.TaskID),
				logger.Duration("idle", idle),
			)

		case task.Status == StatusInProgress && idle > tr.cfg.ProgressTimeout:
			task.Status = StatusFailed
			task.EndedAt = now
			task.Error = "stalled: no progress updates"
			tr.log.Warn("task stalled in progress",
				logger.String("task_id", task.TaskID),
				logger.Duration("idle", idle),
			)

		case task.Status == StatusInProgress && idle > tr.cfg.SlowWarnAfter:
			task.Warning = "slow_progress"
		}
	}

	for _, h := range tr.health {
		if h.Status != "offline" && now.Sub(h.LastSeen) > tr.cfg.HealthStaleAfter {
			h.Status = "offline"
			tr.log.Warn("component heartbeat stale",
				logger.String("node_type", h.NodeType),
				logger.String("hostname", h.Hostname),
			)
		}
	}
}

// cloneTask deep-copies a task so API handlers never alias tracker memory.
func cloneTask(t *TaskState) TaskState {
	out := *t
	out.SeedURLs = append([]string(nil), t.SeedURLs...)
	out.CrawledList = append([]string(nil), t.CrawledList...)
	out.IndexedList = append([]string(nil), t.IndexedList...)
	out.Timeline = append([]TimelineEntry(nil), t.Timeline...)
	out.Continuation = append([]ContinuationDetail(nil), t.Continuation...)
	return out
}

// appendBounded appends to a capped slice, keeping the head and recent
// tail when the cap is exceeded.
func appendBounded[T any](list *[]T, item T) {
	*list = append(*list, item)
	if len(*list) > listCap {
		trimmed := make([]T, 0, listKeepHead+listKeepTail)
		trimmed = append(trimmed, (*list)[:listKeepHead]...)
		trimmed = append(trimmed, (*list)[len(*list)-listKeepTail:]...)
		*list = trimmed
	}
}

// appendBoundedUnique appends a URL only if it is not already present.
func appendBoundedUnique(list *[]string, url string) {
	for _, existing := range *list {
		if existing == url {
			return
		}
	}
	appendBounded(list, url)
}

// stringsExtra extracts a []string extra, tolerating the []any shape
// produced by JSON decoding.
func stringsExtra(extras map[string]any, key string) []string {
	switch v := extras[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// intExtra extracts an integer extra, tolerating the float64 shape
// produced by JSON decoding.
func intExtra(extras map[string]any, key string) (int, bool) {
	switch v := extras[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
