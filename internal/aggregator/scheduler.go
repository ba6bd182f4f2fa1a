package aggregator

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/webcrawl/internal/logger"
)

// Scheduler runs the tracker's periodic duties (stall detection, health
// staleness, summary recomputation) on a fixed cadence, independent of
// the message handlers.
type Scheduler struct {
	cron *cron.Cron
	log  logger.Logger
}

// NewScheduler registers the sweep job. interval <= 0 falls back to 30s.
func NewScheduler(tr *Tracker, interval time.Duration, log logger.Logger) (*Scheduler, error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c := cron.New()

	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		tr.Sweep()

		summary := tr.Summary()
		log.Debug("sweep complete",
			logger.Int("active", summary.ActiveTasks),
			logger.Int("completed", summary.CompletedTasks),
			logger.Int("failed", summary.FailedTasks),
			logger.Int("crawled", summary.TotalCrawled),
			logger.Int("indexed", summary.TotalIndexed),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("register sweep job: %w", err)
	}

	return &Scheduler{cron: c, log: log}, nil
}

// Start begins running sweeps in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
