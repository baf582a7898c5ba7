package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/batch"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/conflict"
	"github.com/joseph-ayodele/steps-tracker/internal/export"
	"github.com/joseph-ayodele/steps-tracker/internal/ingest"
)

var (
	runDir        string
	runReport     string
	runResolve    string
	runConfirmLow bool
	runNoSubmit   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every proof image in a directory",
	Long: `Scan a directory, extract each proof, then submit the reviewed values.

Duplicate images (same content) are submitted once. Low-confidence extractions
block the submit unless --confirm-low is given. Date collisions are resolved
with --resolve: "recommended" (default), keep_existing, use_incoming or skip.

Examples:
  steps-batch run --dir ./screenshots
  steps-batch run --dir ./screenshots --confirm-low --report batch.xlsx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		proofs, _, stats, err := ingest.ScanDirectory(ctx, runDir, ingest.ScanOptions{SkipHidden: true, Logger: a.logger})
		if err != nil {
			return err
		}
		if len(proofs) == 0 {
			a.logger.Warn("run.no_proofs", "dir", runDir, "matched", stats.Matched)
			return nil
		}

		ctrl := a.controller()
		defer ctrl.Close()

		res, err := processBatch(ctx, ctrl, proofs, batchOptions{
			confirmLow: runConfirmLow,
			submit:     !runNoSubmit,
			resolve:    runResolve,
		})
		if runReport != "" {
			if rerr := writeBatchReport(a, ctrl, runReport); rerr != nil {
				a.logger.Error("run.report.failed", "path", runReport, "error", rerr)
			}
		}
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	runCmd.Flags().StringVar(&runDir, "dir", "", "directory of proof images (required)")
	runCmd.Flags().StringVar(&runReport, "report", "", "write an XLSX batch report to this path")
	runCmd.Flags().StringVar(&runResolve, "resolve", "recommended", "conflict policy: recommended|keep_existing|use_incoming|skip")
	runCmd.Flags().BoolVar(&runConfirmLow, "confirm-low", false, "accept low-confidence extractions without review")
	runCmd.Flags().BoolVar(&runNoSubmit, "no-submit", false, "stop after extraction")
	_ = runCmd.MarkFlagRequired("dir")
}

type batchOptions struct {
	confirmLow bool
	submit     bool
	resolve    string
}

// batchResult is printed as JSON at the end of a run.
type batchResult struct {
	BatchID   string               `json:"batchId"`
	Extract   batch.ExtractSummary `json:"extract"`
	Submit    *batch.SubmitSummary `json:"submit,omitempty"`
	Resolve   *resolveCounts       `json:"resolve,omitempty"`
	Blocked   []string             `json:"blocked,omitempty"`
	Statuses  map[string]int       `json:"statuses"`
	Conflicts int                  `json:"openConflicts"`
}

type resolveCounts struct {
	Kept     int `json:"kept"`
	Replaced int `json:"replaced"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func processBatch(ctx context.Context, ctrl *batch.Controller, proofs []ingest.Proof, opts batchOptions) (batchResult, error) {
	sources := make([]batch.Source, 0, len(proofs))
	for _, p := range proofs {
		sources = append(sources, batch.Source{Filename: p.Filename, Data: p.Data})
	}
	ctrl.Add(sources...)

	res := batchResult{BatchID: ctrl.ID()}
	res.Extract = ctrl.ExtractAll(ctx)
	ctrl.Wait()

	if opts.submit {
		if opts.confirmLow {
			for _, it := range ctrl.Items() {
				if it.Status == constants.StatusReview && it.LowConfidence() {
					_ = ctrl.ConfirmLowConfidence(it.ID, true)
				}
			}
		}
		sum, err := ctrl.SubmitReviewed(ctx)
		var blocked *common.BlockedSubmitError
		switch {
		case errors.As(err, &blocked):
			res.Blocked = append(append(res.Blocked, blocked.Unconfirmed...), blocked.Invalid...)
		case err != nil:
			return res, err
		default:
			res.Submit = &sum
		}

		rc, err := resolveOpen(ctx, ctrl, opts.resolve)
		if err != nil {
			return res, err
		}
		res.Resolve = rc
	}

	res.Statuses = map[string]int{}
	for _, it := range ctrl.Items() {
		res.Statuses[string(it.Status)]++
	}
	res.Conflicts = len(ctrl.Conflicts())
	return res, nil
}

// resolveOpen settles every open conflict with policy. It returns nil when
// nothing was open.
func resolveOpen(ctx context.Context, ctrl *batch.Controller, policy string) (*resolveCounts, error) {
	cases := ctrl.Conflicts()
	if len(cases) == 0 {
		return nil, nil
	}
	chosen, err := applyPolicy(cases, policy)
	if err != nil {
		return nil, err
	}
	rs := ctrl.ResolveConflicts(ctx, chosen)
	return &resolveCounts{Kept: rs.Kept, Replaced: rs.Replaced, Skipped: rs.Skipped, Failed: rs.Failed}, nil
}

// applyPolicy checks every row and applies one resolution to all of them;
// "recommended" leaves each row on its own recommendation.
func applyPolicy(cases []*conflict.Case, policy string) ([]*conflict.Case, error) {
	table := conflict.NewTable(cases)
	if policy == "" || policy == "recommended" {
		return table.Cases(), nil
	}
	table.CheckAll(true)
	if _, err := table.BulkApply(constants.Resolution(policy)); err != nil {
		return nil, fmt.Errorf("--resolve: %w", err)
	}
	return table.Cases(), nil
}

func writeBatchReport(a *app, ctrl *batch.Controller, path string) error {
	svc := export.NewService(a.lister, a.cfg.Bulk.PageSize, a.logger)
	data, err := svc.BatchReportXLSX(ctrl.ID(), ctrl.Items(), ctrl.Conflicts())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
