package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/webcrawl/internal/aggregator"
	"github.com/jonesrussell/webcrawl/internal/bus"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

// apiShutdownTimeout bounds draining of in-flight API requests.
const apiShutdownTimeout = 10 * time.Second

func newAggregatorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregator",
		Short: "Run the progress aggregator and read API",
		Long: `Merges the progress and health streams into live per-task and
per-component state, detects stalls, coalesces duplicate submissions,
and serves the dashboard read API. Runs as a singleton.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAggregator(cmd)
		},
	}
}

func runAggregator(cmd *cobra.Command) error {
	ctx := cmd.Context()

	rt, err := newRuntime("aggregator")
	if err != nil {
		return err
	}
	defer rt.Close()

	tracker := aggregator.NewTracker(aggregator.Config{
		MaxActiveTasks:   rt.cfg.Aggregator.MaxActiveTasks,
		SubmittedTimeout: rt.cfg.Aggregator.SubmittedTimeout,
		ProgressTimeout:  rt.cfg.Aggregator.ProgressTimeout,
		SlowWarnAfter:    rt.cfg.Aggregator.SlowWarnAfter,
		HealthStaleAfter: rt.cfg.Aggregator.HealthStaleAfter,
	}, rt.log)

	progressSub, err := bus.NewSubscriber(
		rt.bus,
		rt.subscriberConfig("aggregator", rt.cfg.Streams.Progress, rt.cfg.Streams.AggregatorGroup),
		tracker.HandleProgress,
		rt.log,
	)
	if err != nil {
		return err
	}

	healthSub, err := bus.NewSubscriber(
		rt.bus,
		rt.subscriberConfig("aggregator-health", rt.cfg.Streams.Health, rt.cfg.Streams.AggregatorGroup),
		tracker.HandleHealth,
		rt.log,
	)
	if err != nil {
		return err
	}

	scheduler, err := aggregator.NewScheduler(tracker, rt.cfg.Aggregator.SweepInterval, rt.log)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := aggregator.NewServer(tracker, rt.cfg.Aggregator.Port, rt.log)

	errCh := make(chan error, 3)
	go func() { errCh <- progressSub.Run(ctx) }()
	go func() { errCh <- healthSub.Run(ctx) }()
	go func() { errCh <- server.Run() }()

	rt.log.Info("aggregator started",
		logger.String("progress_stream", rt.cfg.Streams.Progress),
		logger.Int("api_port", rt.cfg.Aggregator.Port),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		rt.log.Error("api shutdown failed", logger.Error(shutdownErr))
	}

	if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
		return runErr
	}
	return nil
}
