package cmd

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/webcrawl/internal/blob"
	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/crawl"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/logger"
	"github.com/jonesrussell/webcrawl/internal/progress"
)

func newCrawlerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "crawler",
		Short: "Run a fetch worker",
		Long: `Consumes crawl tasks: fetches each URL politely, stores raw
and extracted text in the blob store, emits index tasks, and forwards
newly discovered links back to the master. Horizontally replicable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawler(cmd)
		},
	}
}

func runCrawler(cmd *cobra.Command) error {
	ctx := cmd.Context()

	rt, err := newRuntime("crawler")
	if err != nil {
		return err
	}
	defer rt.Close()

	blobs, err := blob.NewStore(ctx, blob.Config{
		Endpoint:  rt.cfg.Blob.Endpoint,
		AccessKey: rt.cfg.Blob.AccessKey,
		SecretKey: rt.cfg.Blob.SecretKey,
		UseSSL:    rt.cfg.Blob.UseSSL,
		Bucket:    rt.cfg.Blob.Bucket,
	})
	if err != nil {
		return err
	}

	emitter := progress.NewEmitter(
		rt.pub, domain.NodeCrawler, rt.cfg.App.Hostname,
		rt.cfg.Streams.Progress, rt.cfg.Streams.Health, rt.log,
	)
	emitter.StartHeartbeat(ctx)

	httpClient := &http.Client{Timeout: rt.cfg.Crawler.RequestTimeout}
	robots := crawl.NewRobotsChecker(httpClient, rt.cfg.Crawler.UserAgent)
	seen := crawl.NewSeenSet(rt.cfg.Crawler.SeenCap)

	worker := crawl.NewWorker(blobs, rt.pub, emitter, robots, seen, httpClient, crawl.WorkerConfig{
		UserAgent:         rt.cfg.Crawler.UserAgent,
		PolitenessDelay:   rt.cfg.Crawler.PolitenessDelay,
		DefaultDepthLimit: rt.cfg.Crawler.DefaultDepthLimit,
		IndexStream:       rt.cfg.Streams.Index,
		JobsStream:        rt.cfg.Streams.Jobs,
	}, rt.log)

	sub, err := bus.NewSubscriber(
		rt.bus,
		rt.subscriberConfig("crawler", rt.cfg.Streams.Tasks, rt.cfg.Streams.CrawlerGroup),
		worker.HandleTask,
		rt.log,
	)
	if err != nil {
		return err
	}

	rt.log.Info("crawler started",
		logger.String("tasks_stream", rt.cfg.Streams.Tasks),
		logger.String("user_agent", rt.cfg.Crawler.UserAgent),
	)
	return sub.Run(ctx)
}
