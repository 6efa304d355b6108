package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/msrl/internal/engine"
	"github.com/Aman-CERP/msrl/internal/output"
)

type searchOptions struct {
	limit           int
	maxExcerptChars int
	pathPrefix      string
	format          string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed vault",
		Long: `Runs a hybrid BM25 + semantic search over the active snapshot
and prints ranked, excerpted results.

Examples:
  msrl search "authentication middleware"
  msrl search "release checklist" --limit 5 --format json
  msrl search "onboarding" --path-prefix docs/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&opts.maxExcerptChars, "max-excerpt-chars", 0, "Maximum excerpt length (0 = server default)")
	cmd.Flags().StringVar(&opts.pathPrefix, "path-prefix", "", "Restrict results to docUris under this prefix")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(ctx) }()

	params := engine.QueryParams{
		Query:           query,
		TopK:            opts.limit,
		MaxExcerptChars: opts.maxExcerptChars,
	}
	if opts.pathPrefix != "" {
		params.Filters.DocURIPrefix = opts.pathPrefix
	}

	result, err := e.Query(ctx, params)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if len(result.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	out.Statusf("", "Found %d results for %q (%dms):", len(result.Results), query, result.TookMs)
	out.Newline()
	for i, r := range result.Results {
		location := r.DocURI
		if r.HeadingPath != "" {
			location = fmt.Sprintf("%s (%s)", location, r.HeadingPath)
		}
		out.Statusf("", "%d. %s — score %.3f", i+1, location, r.Score)
		excerpt := strings.ReplaceAll(strings.TrimSpace(r.Excerpt), "\n", " ")
		out.Status("", "   "+excerpt)
		if r.ExcerptTruncated {
			out.Status("", "   …")
		}
		out.Newline()
	}
	return nil
}
