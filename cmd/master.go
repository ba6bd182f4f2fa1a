package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/webcrawl/internal/blob"
	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/logger"
	"github.com/jonesrussell/webcrawl/internal/master"
	"github.com/jonesrussell/webcrawl/internal/progress"
)

func newMasterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "master",
		Short: "Run the job expander",
		Long: `Consumes job submissions and crawler-emitted link batches,
expands them into per-URL crawl tasks, and emits scheduling progress
events. Runs as a singleton.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaster(cmd)
		},
	}
}

func runMaster(cmd *cobra.Command) error {
	ctx := cmd.Context()

	rt, err := newRuntime("master")
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
		rt.pub, domain.NodeMaster, rt.cfg.App.Hostname,
		rt.cfg.Streams.Progress, rt.cfg.Streams.Health, rt.log,
	)
	emitter.StartHeartbeat(ctx)

	expander := master.NewExpander(blobs, rt.pub, emitter, master.Config{
		TasksStream:        rt.cfg.Streams.Tasks,
		SeedPacing:         rt.cfg.Master.SeedPacing,
		ContinuationPacing: rt.cfg.Master.ContinuationPacing,
	}, rt.log)

	sub, err := bus.NewSubscriber(
		rt.bus,
		rt.subscriberConfig("master", rt.cfg.Streams.Jobs, rt.cfg.Streams.MasterGroup),
		expander.HandleSubmission,
		rt.log,
	)
	if err != nil {
		return err
	}

	rt.log.Info("master started", logger.String("jobs_stream", rt.cfg.Streams.Jobs))
	return sub.Run(ctx)
}
