package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/webcrawl/internal/config"
	"github.com/jonesrussell/webcrawl/internal/index"
	"github.com/jonesrussell/webcrawl/internal/logger"
)

func newSearchCommand() *cobra.Command {
	var (
		from int
		size int
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Query the full-text index",
		Long: `Runs a match query against crawled page content and prints the
matching URLs with highlighted snippets. With --all, pages through every
indexed document instead (export listing).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			if len(args) > 0 {
				query = args[0]
			}
			return runSearch(cmd, query, from, size, all)
		},
	}

	cmd.Flags().IntVar(&from, "from", 0, "result offset")
	cmd.Flags().IntVar(&size, "size", 10, "page size")
	cmd.Flags().BoolVar(&all, "all", false, "list all indexed documents")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, from, size int, all bool) error {
	ctx := cmd.Context()

	if !all && query == "" {
		return fmt.Errorf("a query argument is required unless --all is set")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	client, err := index.NewClient(ctx, index.Config{
		URL:      cfg.Elasticsearch.URL,
		Username: cfg.Elasticsearch.Username,
		Password: cfg.Elasticsearch.Password,
		Index:    cfg.Elasticsearch.Index,
	}, log)
	if err != nil {
		return err
	}

	var result *index.SearchResult
	if all {
		result, err = client.Scan(ctx, from, size)
	} else {
		result, err = client.Search(ctx, query, from, size)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d results\n", result.Total)

	for i, hit := range result.Hits {
		fmt.Fprintf(out, "%d. %s (score %.2f)\n", from+i+1, hit.URL, hit.Score)
		for _, snippet := range hit.Snippets {
			fmt.Fprintf(out, "   %s\n", strings.TrimSpace(snippet))
		}
	}

	return nil
}
