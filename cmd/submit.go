package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/webcrawl/internal/blob"
	"github.com/jonesrussell/webcrawl/internal/crawl"
	"github.com/jonesrussell/webcrawl/internal/domain"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

func newSubmitCommand() *cobra.Command {
	var (
		seedURLs          []string
		depth             int
		domainRestriction string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a crawl job",
		Long: `Uploads a job payload to the blob store and announces it on the
job-submission stream. Prints the task id used to follow progress in
the aggregator API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, seedURLs, depth, domainRestriction)
		},
	}

	cmd.Flags().StringSliceVar(&seedURLs, "url", nil, "seed URL (repeatable)")
	cmd.Flags().IntVar(&depth, "depth", 1, "link-following depth limit")
	cmd.Flags().StringVar(&domainRestriction, "domain", "", "restrict discovered links to hosts containing this substring")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func runSubmit(cmd *cobra.Command, seedURLs []string, depth int, domainRestriction string) error {
	ctx := cmd.Context()

	if depth < 0 {
		return errors.New("depth must be non-negative")
	}
	for _, u := range seedURLs {
		if !crawl.ValidTaskURL(u) {
			return fmt.Errorf("invalid seed url %q", u)
		}
	}

	rt, err := newRuntime("submit")
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

	job := domain.Job{
		TaskID:            uuid.NewString(),
		SeedURLs:          seedURLs,
		Depth:             depth,
		DomainRestriction: domainRestriction,
		SubmittedAt:       time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	blobPath, err := blobs.Put(ctx, blob.JobKey(job.TaskID), payload, blob.ContentTypeJSON)
	if err != nil {
		return err
	}

	envelope := domain.JobEnvelope{
		TaskID:   job.TaskID,
		BlobPath: blobPath,
	}
	if pubErr := rt.pub.Publish(ctx, rt.cfg.Streams.Jobs, envelope); pubErr != nil {
		return pubErr
	}

	rt.log.Info("job submitted",
		logger.String("task_id", job.TaskID),
		logger.Int("seed_count", len(seedURLs)),
		logger.Int("depth", depth),
	)

	fmt.Fprintf(cmd.OutOrStdout(), "submitted task %s (%d seeds, depth %d)\n",
		job.TaskID, len(seedURLs), depth)

	return nil
}
