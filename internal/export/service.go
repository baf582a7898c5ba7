// Package export renders batch outcomes and committed records as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/conflict"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
	"github.com/joseph-ayodele/steps-tracker/internal/period"
)

const (
	sheetItems     = "Items"
	sheetConflicts = "Conflicts"
	sheetRecords   = "Records"
	sheetSummary   = "Summary"
)

// Service produces XLSX bytes for batch reports and record exports.
type Service struct {
	lister   client.RecordLister
	pageSize int
	days     period.DayFilter
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(lister client.RecordLister, pageSize int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Service{lister: lister, pageSize: pageSize, days: period.AllDays, now: time.Now, logger: logger}
}

// WithDays restricts record exports to weekdays or weekends.
func (s *Service) WithDays(f period.DayFilter) *Service {
	s.days = f
	return s
}

// BatchReportXLSX lists every item of a batch with its outcome, plus any open conflicts.
func (s *Service) BatchReportXLSX(batchID string, items []entity.BatchItem, cases []*conflict.Case) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := useSheet(f, sheetItems); err != nil {
		return nil, err
	}
	w := &sheetWriter{f: f, sheet: sheetItems, row: 1}
	w.line("Filename", "Status", "Extracted Steps", "Extracted Date", "Confidence",
		"Steps", "Date", "Proof", "Record ID", "Retries", "Last Error")
	for _, it := range items {
		var exSteps any = ""
		exDate, conf := "", ""
		if it.Extracted != nil {
			if it.Extracted.Steps != nil {
				exSteps = *it.Extracted.Steps
			}
			exDate, conf = it.Extracted.Date, string(it.Extracted.Confidence)
		}
		var steps any = ""
		date := ""
		if it.Edited != nil {
			steps, date = it.Edited.Steps, it.Edited.Date
		}
		w.line(it.Filename, string(it.Status), exSteps, exDate, conf,
			steps, date, it.ProofRef, it.SubmissionID, it.Retry.Count, truncate(it.Retry.LastError, 140))
	}
	_ = f.SetColWidth(sheetItems, "A", "A", 28)
	_ = f.SetColWidth(sheetItems, "H", "I", 40)
	_ = f.SetColWidth(sheetItems, "K", "K", 60)

	if len(cases) > 0 {
		if _, err := f.NewSheet(sheetConflicts); err != nil {
			return nil, err
		}
		cw := &sheetWriter{f: f, sheet: sheetConflicts, row: 1}
		cw.line("Date", "Existing ID", "Existing Steps", "Existing Verified", "Existing Proof",
			"Incoming Steps", "Incoming Proof", "Recommended", "Resolution")
		for _, c := range cases {
			cw.line(c.Date, c.Existing.ID, c.Existing.Steps, c.Existing.Verified, c.Existing.ProofRef,
				c.Incoming.Steps, c.Incoming.ProofRef, string(c.Recommended()), string(c.Resolution()))
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.batch_report.ok", "batch_id", batchID, "rows", len(items), "conflicts", len(cases))
	return buf.Bytes(), nil
}

// RecordsXLSX exports every record matching filter, newest first, with a
// summary sheet of totals and streaks.
func (s *Service) RecordsXLSX(ctx context.Context, filter entity.RecordFilter) ([]byte, error) {
	recs, err := s.listAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return s.recordsWorkbook(recs, nil)
}

// comparison is the preceding window's total shown next to the export's own.
type comparison struct {
	from, to string
	total    int
}

// PeriodXLSX exports the records of preset's window relative to now and adds
// the total of the preceding window to the summary sheet.
func (s *Service) PeriodXLSX(ctx context.Context, filter entity.RecordFilter, preset period.Preset) ([]byte, error) {
	r, err := period.ForPreset(preset, s.now(), time.Monday)
	if err != nil {
		return nil, err
	}
	filter.From, filter.To = r.Strings()
	recs, err := s.listAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	prev := filter
	prev.From, prev.To = period.Previous(preset, r).Strings()
	prevRecs, err := s.listAll(ctx, prev)
	if err != nil {
		return nil, fmt.Errorf("query previous period: %w", err)
	}
	cmp := &comparison{from: prev.From, to: prev.To}
	for _, rec := range prevRecs {
		cmp.total += rec.Steps
	}
	return s.recordsWorkbook(recs, cmp)
}

func (s *Service) recordsWorkbook(recs []entity.Record, cmp *comparison) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer f.Close()
	if err := useSheet(f, sheetRecords); err != nil {
		return nil, err
	}
	w := &sheetWriter{f: f, sheet: sheetRecords, row: 1}
	w.line("Date", "Steps", "Verified", "Proof", "Record ID")

	total := 0
	dates := make([]time.Time, 0, len(recs))
	for _, r := range recs {
		w.line(r.Date, r.Steps, r.Verified, r.ProofRef, r.ID)
		total += r.Steps
		if d, err := period.ParseDate(r.Date); err == nil {
			dates = append(dates, d)
		}
	}
	_ = f.SetColWidth(sheetRecords, "A", "C", 14)
	_ = f.SetColWidth(sheetRecords, "D", "E", 40)

	if _, err := f.NewSheet(sheetSummary); err != nil {
		return nil, err
	}
	sw := &sheetWriter{f: f, sheet: sheetSummary, row: 1}
	sw.line("Records", len(recs))
	sw.line("Total Steps", total)
	if len(recs) > 0 {
		sw.line("Average Steps", total/len(recs))
	}
	sw.line("Current Streak", period.CurrentStreak(dates, s.now()))
	sw.line("Longest Streak", period.LongestStreak(dates))
	if cmp != nil {
		sw.line("Previous Period", cmp.from+" .. "+cmp.to)
		sw.line("Previous Total", cmp.total)
		if cmp.total > 0 {
			sw.line("Change %", math.Round(float64(total-cmp.total)*1000/float64(cmp.total))/10)
		}
	}
	_ = f.SetColWidth(sheetSummary, "A", "A", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.records.ok",
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func (s *Service) listAll(ctx context.Context, filter entity.RecordFilter) ([]entity.Record, error) {
	var out []entity.Record
	seen := 0
	for page := 1; ; page++ {
		p, err := s.lister.List(ctx, filter, page, s.pageSize)
		if err != nil {
			return nil, err
		}
		seen += len(p.Items)
		for _, r := range p.Items {
			if d, err := period.ParseDate(r.Date); err == nil && !s.days.Matches(d) {
				continue
			}
			out = append(out, r)
		}
		if len(p.Items) < s.pageSize || seen >= p.Total {
			return out, nil
		}
	}
}

// useSheet renames the default sheet so the workbook opens on name.
func useSheet(f *excelize.File, name string) error {
	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return err
	}
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	return nil
}

type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func (w *sheetWriter) line(values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, w.row)
		_ = w.f.SetCellValue(w.sheet, cell, v)
	}
	w.row++
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
