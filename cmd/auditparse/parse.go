package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/auditparse/internal/api"
	"github.com/jackzampolin/auditparse/internal/config"
	"github.com/jackzampolin/auditparse/internal/home"
	"github.com/jackzampolin/auditparse/internal/pipeline"
	"github.com/jackzampolin/auditparse/internal/results"
	"github.com/jackzampolin/auditparse/internal/svcctx"
)

var (
	parseLimit   int
	parseMerge   bool
	parseTrace   bool
	parseResults string
)

var parseCmd = &cobra.Command{
	Use:   "parse <dir>",
	Short: "Extract report records from every document in a directory",
	Long: `Extract one report record per .pptx/.pdf document in a directory.

Documents are read in directory listing order and sent to the extraction
service in batches (extraction.batch_size). A batch that fails is retried
(extraction.retries); a batch that still fails gives each of its documents
an unresolved default record. The result set is written atomically as one
JSON object keyed by filename.

Examples:
  auditparse parse ./reports
  auditparse parse ./reports --limit 10 --trace
  auditparse parse ./reports --merge --results out/reports.json
  auditparse parse ./reports -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, h, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := newServices(mgr.Get(), h, parseResults, parseTrace)
		if err != nil {
			return err
		}
		defer svc.Close()
		ctx = svcctx.WithServices(ctx, svc)

		set := results.NewSet()
		if parseMerge {
			if set, err = results.LoadOrNew(svc.ResultsPath()); err != nil {
				return fmt.Errorf("failed to load previous results: %w", err)
			}
			slog.Info("merging into previous results", "path", svc.ResultsPath(), "records", set.Len())
		}

		runner, err := svc.NewRunner("")
		if err != nil {
			return err
		}
		sum, err := runner.Run(ctx, args[0], parseLimit, set)
		if err != nil {
			if sum != nil && ctx.Err() != nil {
				slog.Warn("run interrupted, results not saved", "run_id", runner.RunID())
			}
			return err
		}

		return finishRun(svc, set, sum)
	},
}

func init() {
	parseCmd.Flags().IntVar(&parseLimit, "limit", 0, "process at most this many documents (0 = all)")
	parseCmd.Flags().BoolVar(&parseMerge, "merge", false, "merge into the existing result set instead of replacing it")
	parseCmd.Flags().BoolVar(&parseTrace, "trace", false, "record every extraction call next to the results (.calls.jsonl)")
	parseCmd.Flags().StringVar(&parseResults, "results", "", "result set path (default: config output or ~/.auditparse/output/reports.json)")
}

// newServices builds the service set, creating the home output directory
// when it is where results will go.
func newServices(cfg *config.Config, h *home.Dir, resultsPath string, trace bool) (*svcctx.Services, error) {
	if resultsPath == "" && cfg.Output == "" {
		if err := h.EnsureExists(); err != nil {
			return nil, err
		}
	}
	return svcctx.New(cfg, h, svcctx.Options{
		ResultsPath: resultsPath,
		Trace:       trace,
		Logger:      slog.Default(),
	})
}

// finishRun persists the set and prints the run summary. Unresolved
// documents are warnings, not failures.
func finishRun(svc *svcctx.Services, set *results.Set, sum *pipeline.Summary) error {
	if err := set.Save(svc.ResultsPath()); err != nil {
		return err
	}
	sum.Output = svc.ResultsPath()

	if sum.HasWarnings() {
		if n := len(sum.Unresolved); n > 0 {
			api.Warnf("%d of %d documents have unresolved records", n, sum.Documents)
		}
		if n := len(sum.Rejected); n > 0 {
			api.Warnf("%d documents excluded for unsafe or duplicate names: %v", n, sum.Rejected)
		}
		if sum.FailedBatches > 0 {
			api.Warnf("%d batches failed after retrying", sum.FailedBatches)
		}
	}
	return api.Output(sum)
}
