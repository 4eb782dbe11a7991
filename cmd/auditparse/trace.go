package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/auditparse/internal/api"
	"github.com/jackzampolin/auditparse/internal/config"
	"github.com/jackzampolin/auditparse/internal/llmcall"
	"github.com/jackzampolin/auditparse/internal/svcctx"
)

var (
	traceFile    string
	traceRun     string
	traceDoc     string
	traceFailed  bool
	traceList    bool
	traceLimit   int
	traceResults string
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Summarize recorded extraction calls",
	Long: `Summarize or list extraction calls recorded with --trace.

Examples:
  auditparse trace
  auditparse trace --run 3f2c... --failed --list
  auditparse trace --doc payroll.pptx --list -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := traceFile
		if path == "" {
			resultsPath := traceResults
			if resultsPath == "" {
				mgr, h, err := loadConfig()
				if err != nil {
					return err
				}
				resultsPath = resultsPathFor(mgr.Get(), h.ResultsPath())
			}
			path = svcctx.TracePath(resultsPath)
		}

		calls, err := llmcall.ReadFile(path)
		if err != nil {
			return err
		}

		filter := llmcall.QueryFilter{RunID: traceRun, File: traceDoc, Limit: traceLimit}
		if traceFailed {
			f := false
			filter.Success = &f
		}
		matched := llmcall.List(calls, filter)

		if traceList {
			return api.Output(matched)
		}
		if len(matched) == 0 {
			return fmt.Errorf("no calls match in %s", path)
		}
		return api.Output(llmcall.Summarize(matched))
	},
}

func init() {
	traceCmd.Flags().StringVar(&traceFile, "file", "", "trace file (default: derived from the result set path)")
	traceCmd.Flags().StringVar(&traceResults, "results", "", "result set path the trace was written next to")
	traceCmd.Flags().StringVar(&traceRun, "run", "", "only calls from this run id")
	traceCmd.Flags().StringVar(&traceDoc, "doc", "", "only calls whose batch included this document")
	traceCmd.Flags().BoolVar(&traceFailed, "failed", false, "only failed calls")
	traceCmd.Flags().BoolVar(&traceList, "list", false, "list matching calls instead of summarizing")
	traceCmd.Flags().IntVar(&traceLimit, "limit", 0, "maximum calls to list (0 = all)")
}

func resultsPathFor(cfg *config.Config, fallback string) string {
	if cfg.Output != "" {
		return cfg.Output
	}
	return fallback
}
