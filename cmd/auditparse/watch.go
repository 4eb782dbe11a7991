package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/auditparse/internal/config"
	"github.com/jackzampolin/auditparse/internal/home"
	"github.com/jackzampolin/auditparse/internal/pipeline"
	"github.com/jackzampolin/auditparse/internal/results"
	"github.com/jackzampolin/auditparse/internal/slides"
)

var (
	watchInitial  bool
	watchDebounce time.Duration
	watchTrace    bool
	watchResults  string
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Re-extract documents as they appear or change in a directory",
	Long: `Watch a directory and extract new or changed documents.

Changed documents are collected for --debounce, extracted together, and
merged into the result set (last write wins), which is saved after every
run. The config file is watched too; changes apply from the next run.

Examples:
  auditparse watch ./reports
  auditparse watch ./reports --initial=false --debounce 5s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir := args[0]

		mgr, h, err := loadConfig()
		if err != nil {
			return err
		}
		mgr.OnChange(func(cfg *config.Config) {
			slog.Info("config changed, applies to the next run", "model", cfg.Provider.Model, "batch_size", cfg.Extraction.BatchSize)
		})
		mgr.WatchConfig()

		w := &watcher{dir: dir, mgr: mgr, home: h}
		if err := w.loadResults(); err != nil {
			return err
		}

		if watchInitial {
			if err := w.run(ctx, nil); err != nil {
				return err
			}
		}

		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer fsw.Close()
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		slog.Info("watching for documents", "dir", dir, "debounce", watchDebounce)

		return w.loop(ctx, fsw)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchInitial, "initial", true, "extract every existing document before watching")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "quiet period before extracting changed documents")
	watchCmd.Flags().BoolVar(&watchTrace, "trace", false, "record every extraction call next to the results (.calls.jsonl)")
	watchCmd.Flags().StringVar(&watchResults, "results", "", "result set path (default: config output or ~/.auditparse/output/reports.json)")
}

type watcher struct {
	dir  string
	mgr  *config.Manager
	home *home.Dir
	set  *results.Set
}

func (w *watcher) loadResults() error {
	svc, err := newServices(w.mgr.Get(), w.home, watchResults, false)
	if err != nil {
		return err
	}
	defer svc.Close()
	w.set, err = results.LoadOrNew(svc.ResultsPath())
	if err != nil {
		return fmt.Errorf("failed to load previous results: %w", err)
	}
	return nil
}

// run extracts paths (the whole directory when nil) with services built
// from the current config, then saves the set.
func (w *watcher) run(ctx context.Context, paths []string) error {
	svc, err := newServices(w.mgr.Get(), w.home, watchResults, watchTrace)
	if err != nil {
		return err
	}
	defer svc.Close()

	runner, err := svc.NewRunner("")
	if err != nil {
		return err
	}

	var sum *pipeline.Summary
	if paths == nil {
		sum, err = runner.Run(ctx, w.dir, 0, w.set)
	} else {
		sum, err = runner.RunFiles(ctx, paths, w.set)
	}
	if err != nil {
		return err
	}
	return finishRun(svc, w.set, sum)
}

func (w *watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) error {
	pending := make(map[string]struct{})
	timer := time.NewTimer(watchDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if _, ok := slides.FormatFor(event.Name); !ok {
				slog.Debug("ignoring unsupported file", "path", event.Name)
				continue
			}
			pending[filepath.Clean(event.Name)] = struct{}{}
			timer.Reset(watchDebounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)

		case <-timer.C:
			paths := readyPaths(pending)
			clear(pending)
			if len(paths) == 0 {
				continue
			}
			slog.Info("extracting changed documents", "count", len(paths))
			if err := w.run(ctx, paths); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("run failed", "error", err)
			}
		}
	}
}

// readyPaths returns the pending files that still exist, sorted.
func readyPaths(pending map[string]struct{}) []string {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
