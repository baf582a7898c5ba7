package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/selection"
)

var (
	bulkIDs    []string
	bulkAll    bool
	bulkDate   string
	bulkFilter recordFilterFlags
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Delete, re-date or re-verify committed records",
	Long: `Bulk operations take either explicit --id values or --all, which targets
every record matching the filter flags at execution time.

Examples:
  steps-batch bulk delete --id 1f0c... --id 9a2b...
  steps-batch bulk reverify --all --from 2026-01-01 --to 2026-01-31
  steps-batch bulk redate --id 1f0c... --date 2026-01-09`,
}

var bulkDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the selected records (one request per record)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd.Context(), func(ctx context.Context, svc *selection.BulkService, sel selection.Selection) (client.BulkResult, error) {
			return svc.Delete(ctx, sel)
		})
	},
}

var bulkReverifyCmd = &cobra.Command{
	Use:   "reverify",
	Short: "Request re-verification of the selected records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd.Context(), func(ctx context.Context, svc *selection.BulkService, sel selection.Selection) (client.BulkResult, error) {
			return svc.Reverify(ctx, sel)
		})
	},
}

var bulkRedateCmd = &cobra.Command{
	Use:   "redate",
	Short: "Move the selected records to --date (one request per record)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bulkDate == "" {
			return fmt.Errorf("--date is required")
		}
		return runBulk(cmd.Context(), func(ctx context.Context, svc *selection.BulkService, sel selection.Selection) (client.BulkResult, error) {
			return svc.EditDate(ctx, sel, bulkDate)
		})
	},
}

func init() {
	bulkCmd.PersistentFlags().StringArrayVar(&bulkIDs, "id", nil, "record id (repeatable)")
	bulkCmd.PersistentFlags().BoolVar(&bulkAll, "all", false, "select every record matching the filter")
	bulkRedateCmd.Flags().StringVar(&bulkDate, "date", "", "target date YYYY-MM-DD")
	for _, c := range []*cobra.Command{bulkDeleteCmd, bulkReverifyCmd, bulkRedateCmd} {
		bulkFilter.register(c)
		bulkCmd.AddCommand(c)
	}
}

type bulkOp func(ctx context.Context, svc *selection.BulkService, sel selection.Selection) (client.BulkResult, error)

func runBulk(ctx context.Context, op bulkOp) error {
	if bulkAll == (len(bulkIDs) > 0) {
		return fmt.Errorf("pass either --id or --all")
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	f, err := bulkFilter.build()
	if err != nil {
		return err
	}
	if err := selection.CheckScope(f); err != nil {
		return err
	}

	m := selection.NewManager(a.cfg.Bulk.PageSize, f)
	if bulkAll {
		// Mirror the listing view: select the first page, then escalate when
		// more records match than fit on it.
		page, err := a.lister.List(ctx, f, 1, a.cfg.Bulk.PageSize)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(page.Items))
		for _, r := range page.Items {
			ids = append(ids, r.ID)
		}
		m.ChangePage(ids, page.Total)
		m.SelectPage(true)
		if m.CanEscalate() {
			if err := m.Escalate(); err != nil {
				return err
			}
		}
	} else {
		m.ChangePage(bulkIDs, len(bulkIDs))
		m.SelectPage(true)
	}
	a.logger.Info("bulk.selection", "count", m.Count(), "all_matching", m.Escalated())

	svc := selection.NewBulkService(a.mutator, a.lister, a.cfg.Bulk, a.logger)
	res, err := op(ctx, svc, m.Selection())
	if err != nil {
		return err
	}
	return printJSON(res)
}
