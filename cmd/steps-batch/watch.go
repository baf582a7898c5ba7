package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/steps-tracker/internal/batch"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
	"github.com/joseph-ayodele/steps-tracker/internal/ingest"
)

var (
	watchDirs     []string
	watchExisting bool
	watchDebounce time.Duration
	watchSubmit   bool
	watchResolve  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch directories and process new proof images as they appear",
	Long: `Watch one or more directories (recursively). Each new image is extracted
as soon as it lands; with --submit, reviewed items are committed right away and
low-confidence ones stay in review. Date collisions found on submit are settled
with --resolve, as in "run". Stop with Ctrl+C.

Examples:
  steps-batch watch --dir ./inbox
  steps-batch watch --dir ./inbox --dir ./phone --existing --submit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if _, err := applyPolicy(nil, watchResolve); err != nil {
			return err
		}
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:       watchDirs,
			InitialScan: watchExisting,
			Debounce:    watchDebounce,
			SkipHidden:  true,
		}, a.logger)
		if err != nil {
			return err
		}

		ctrl := a.controller(batch.WithObserver(func(it entity.BatchItem) {
			a.logger.Info("watch.item", "item_id", it.ID, "filename", it.Filename, "status", it.Status)
		}))
		defer ctrl.Close()

		dedup := ingest.NewDeduper()
		a.logger.Info("watch.started", "dirs", watchDirs, "batch_id", ctrl.ID())
		for {
			select {
			case <-ctx.Done():
				a.logger.Info("watch.stopped")
				return nil
			case err, ok := <-errs:
				if ok {
					a.logger.Warn("watch.error", "error", err)
				}
			case path, ok := <-events:
				if !ok {
					return nil
				}
				p, err := ingest.ReadProof(path, 0)
				if err != nil {
					a.logger.Warn("watch.read_failed", "path", path, "error", err)
					continue
				}
				if first, fresh := dedup.Accept(p.Hash, p.Path); !fresh {
					a.logger.Info("watch.duplicate", "path", p.Path, "duplicate_of", first)
					continue
				}
				ctrl.Add(batch.Source{Filename: p.Filename, Data: p.Data})
				ctrl.ExtractAll(ctx)
				if watchSubmit {
					submitAndResolve(ctx, a.logger, ctrl, watchResolve)
				}
			}
		}
	},
}

// submitAndResolve commits reviewed items, then settles any date collisions
// so they do not stay open for the lifetime of the watch.
func submitAndResolve(ctx context.Context, logger *slog.Logger, ctrl *batch.Controller, policy string) {
	if _, err := ctrl.SubmitReviewed(ctx); err != nil {
		logger.Warn("watch.submit_blocked", "error", err)
	}
	rc, err := resolveOpen(ctx, ctrl, policy)
	if err != nil {
		logger.Error("watch.resolve_failed", "error", err)
		return
	}
	if rc != nil {
		logger.Info("watch.conflicts_resolved",
			"policy", policy,
			"kept", rc.Kept,
			"replaced", rc.Replaced,
			"skipped", rc.Skipped,
			"failed", rc.Failed,
		)
	}
}

func init() {
	watchCmd.Flags().StringArrayVar(&watchDirs, "dir", nil, "directory to watch (repeatable, required)")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "also process images already present")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 750*time.Millisecond, "coalesce bursts of file events")
	watchCmd.Flags().BoolVar(&watchSubmit, "submit", false, "commit reviewed items immediately")
	watchCmd.Flags().StringVar(&watchResolve, "resolve", "recommended", "conflict policy with --submit: recommended|keep_existing|use_incoming|skip")
	_ = watchCmd.MarkFlagRequired("dir")
}
