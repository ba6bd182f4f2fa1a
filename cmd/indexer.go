package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/webcrawl/internal/blob"
	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/index"
	"github.com/jonesrussell/webcrawl/internal/indexer"
	"github.com/jonesrussell/webcrawl/internal/logger"
	"github.com/jonesrussell/webcrawl/internal/progress"
)

func newIndexerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "indexer",
		Short: "Run an index worker",
		Long: `Consumes index tasks: reads extracted page text from the blob
store and upserts one document per URL into the full-text index.
Horizontally replicable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexer(cmd)
		},
	}
}

func runIndexer(cmd *cobra.Command) error {
	ctx := cmd.Context()

	rt, err := newRuntime("indexer")
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

	docs, err := index.NewClient(ctx, index.Config{
		URL:      rt.cfg.Elasticsearch.URL,
		Username: rt.cfg.Elasticsearch.Username,
		Password: rt.cfg.Elasticsearch.Password,
		Index:    rt.cfg.Elasticsearch.Index,
	}, rt.log)
	if err != nil {
		return err
	}

	if ensureErr := docs.EnsureIndex(ctx); ensureErr != nil {
		return ensureErr
	}

	emitter := progress.NewEmitter(
		rt.pub, domain.NodeIndexer, rt.cfg.App.Hostname,
		rt.cfg.Streams.Progress, rt.cfg.Streams.Health, rt.log,
	)
	emitter.StartHeartbeat(ctx)

	worker := indexer.NewWorker(blobs, docs, emitter, rt.log)

	sub, err := bus.NewSubscriber(
		rt.bus,
		rt.subscriberConfig("indexer", rt.cfg.Streams.Index, rt.cfg.Streams.IndexerGroup),
		worker.HandleIndexTask,
		rt.log,
	)
	if err != nil {
		return err
	}

	rt.log.Info("indexer started",
		logger.String("index_stream", rt.cfg.Streams.Index),
		logger.String("index", rt.cfg.Elasticsearch.Index),
	)
	return sub.Run(ctx)
}
