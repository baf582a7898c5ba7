package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
	"github.com/joseph-ayodele/steps-tracker/internal/export"
	"github.com/joseph-ayodele/steps-tracker/internal/period"
)

var (
	exportOut    string
	exportPreset string
	exportDays   string
	exportFilter recordFilterFlags
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export committed records to XLSX",
	Long: `Export every record matching the filter, newest first, with a summary
sheet of totals and streaks. With --preset the window is computed from today and
the summary also shows the total of the preceding window.

Examples:
  steps-batch export --out steps.xlsx --preset last_30_days
  steps-batch export --out proxy.xlsx --view proxy --proxy 7c9e...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		f, err := exportFilter.build()
		if err != nil {
			return err
		}
		days := period.DayFilter(exportDays)
		switch days {
		case period.AllDays, period.Weekdays, period.Weekends:
		default:
			return fmt.Errorf("invalid --days %q (all|weekdays|weekends)", exportDays)
		}
		svc := export.NewService(a.lister, a.cfg.Bulk.PageSize, a.logger).WithDays(days)
		var data []byte
		if exportPreset != "" {
			data, err = svc.PeriodXLSX(ctx, f, period.Preset(exportPreset))
		} else {
			data, err = svc.RecordsXLSX(ctx, f)
		}
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		a.logger.Info("export.written", "path", exportOut, "bytes", len(data))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "steps.xlsx", "output XLSX path")
	exportCmd.Flags().StringVar(&exportPreset, "preset", "", "date window preset (today, last_7_days, this_month, ...)")
	exportCmd.Flags().StringVar(&exportDays, "days", "all", "keep all|weekdays|weekends")
	exportFilter.register(exportCmd)
}

// recordFilterFlags binds the listing filter to a command's flags.
type recordFilterFlags struct {
	from, to, view, user, proxy, verified string
}

func (r *recordFilterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.from, "from", "", "from date YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&r.to, "to", "", "to date YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&r.view, "view", "self", "view context: self|proxy")
	cmd.Flags().StringVar(&r.user, "user", "", "user id for the self view")
	cmd.Flags().StringVar(&r.proxy, "proxy", "", "proxied user id (required for --view proxy)")
	cmd.Flags().StringVar(&r.verified, "verified", "", "filter by verification: true|false")
}

func (r *recordFilterFlags) build() (entity.RecordFilter, error) {
	f := entity.RecordFilter{UserID: r.user, ProxyID: r.proxy}
	for _, d := range []*string{&r.from, &r.to} {
		if *d == "" {
			continue
		}
		norm, err := period.NormalizeDate(*d)
		if err != nil {
			return f, err
		}
		*d = norm
	}
	f.From, f.To = r.from, r.to
	switch r.view {
	case "", "self":
		f.ViewContext = constants.ViewSelf
	case "proxy":
		f.ViewContext = constants.ViewProxy
	default:
		return f, fmt.Errorf("--view must be self or proxy, got %q", r.view)
	}
	switch r.verified {
	case "":
	case "true", "false":
		v := r.verified == "true"
		f.Verified = &v
	default:
		return f, fmt.Errorf("--verified must be true or false, got %q", r.verified)
	}
	return f, nil
}
