package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/conflict"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
	"github.com/joseph-ayodele/steps-tracker/internal/period"
	"github.com/joseph-ayodele/steps-tracker/internal/repository"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func open(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestBatchReport(t *testing.T) {
	steps := 8000
	items := []entity.BatchItem{
		{
			Filename:     "a.png",
			Status:       constants.StatusSuccess,
			Extracted:    &entity.Extracted{Steps: &steps, Date: "2026-01-10", Confidence: constants.ConfidenceHigh},
			Edited:       &entity.Edited{Steps: 8100, Date: "2026-01-10"},
			ProofRef:     "proofs/a.png",
			SubmissionID: "rec-1",
		},
		{
			Filename: "b.png",
			Status:   constants.StatusError,
			Retry:    entity.RetryState{Count: 3, LastError: "extract (network): boom"},
		},
	}
	cases := []*conflict.Case{
		conflict.NewCase("i3", "2026-01-11", entity.ExistingRecord{ID: "rec-2", Steps: 100}, entity.IncomingRecord{Steps: 200, ProofRef: "p"}),
	}

	s := NewService(nil, 0, quietLogger())
	data, err := s.BatchReportXLSX("batch-1", items, cases)
	require.NoError(t, err)

	f := open(t, data)
	rows, err := f.GetRows(sheetItems)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Filename", rows[0][0])
	assert.Equal(t, []string{"a.png", "success", "8000", "2026-01-10", "high", "8100", "2026-01-10", "proofs/a.png", "rec-1", "0"}, rows[1])
	assert.Equal(t, "error", rows[2][1])
	assert.Equal(t, "extract (network): boom", rows[2][10])

	crow, err := f.GetRows(sheetConflicts)
	require.NoError(t, err)
	require.Len(t, crow, 2)
	assert.Equal(t, "use_incoming", crow[1][7])
}

func TestRecordsExportPagesAndSummarizes(t *testing.T) {
	db, err := repository.NewMemory()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	repo := repository.NewRecordRepository(db, "user-1", quietLogger())
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if i == 4 {
			continue
		}
		_, err := repo.Commit(ctx, client.CommitRequest{Date: fmt.Sprintf("2026-01-%02d", i), Steps: 1000 * i})
		require.NoError(t, err)
	}

	s := NewService(repo, 2, quietLogger())
	s.now = func() time.Time { return time.Date(2026, 1, 5, 18, 0, 0, 0, time.UTC) }
	data, err := s.RecordsXLSX(ctx, entity.RecordFilter{})
	require.NoError(t, err)

	f := open(t, data)
	rows, err := f.GetRows(sheetRecords)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "2026-01-05", rows[1][0])
	assert.Equal(t, "2026-01-01", rows[4][0])

	total, _ := f.GetCellValue(sheetSummary, "B2")
	assert.Equal(t, "11000", total)
	current, _ := f.GetCellValue(sheetSummary, "B4")
	assert.Equal(t, "1", current)
	longest, _ := f.GetCellValue(sheetSummary, "B5")
	assert.Equal(t, "3", longest)
}

func TestPeriodExportComparesPreviousWindow(t *testing.T) {
	db, err := repository.NewMemory()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	repo := repository.NewRecordRepository(db, "user-1", quietLogger())
	ctx := context.Background()
	for date, steps := range map[string]int{
		"2026-01-09": 4000,
		"2026-01-11": 2000,
		"2026-01-13": 6000,
		"2026-01-14": 3000,
		"2026-01-18": 9000,
	} {
		_, err := repo.Commit(ctx, client.CommitRequest{Date: date, Steps: steps})
		require.NoError(t, err)
	}

	s := NewService(repo, 10, quietLogger())
	s.now = func() time.Time { return time.Date(2026, 1, 18, 12, 0, 0, 0, time.UTC) }
	data, err := s.PeriodXLSX(ctx, entity.RecordFilter{}, period.Last7Days)
	require.NoError(t, err)

	f := open(t, data)
	rows, err := f.GetRows(sheetRecords)
	require.NoError(t, err)
	require.Len(t, rows, 4, "header plus 2026-01-12..18")

	prevRange, _ := f.GetCellValue(sheetSummary, "B6")
	assert.Equal(t, "2026-01-05 .. 2026-01-11", prevRange)
	prevTotal, _ := f.GetCellValue(sheetSummary, "B7")
	assert.Equal(t, "6000", prevTotal)
	change, _ := f.GetCellValue(sheetSummary, "B8")
	assert.Equal(t, "200", change)

	_, err = s.PeriodXLSX(ctx, entity.RecordFilter{}, period.Custom)
	assert.Error(t, err)
}

func TestRecordsExportDayFilter(t *testing.T) {
	db, err := repository.NewMemory()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	repo := repository.NewRecordRepository(db, "user-1", quietLogger())
	ctx := context.Background()
	// 2026-01-09 is a Friday.
	for i := 9; i <= 12; i++ {
		_, err := repo.Commit(ctx, client.CommitRequest{Date: fmt.Sprintf("2026-01-%02d", i), Steps: 1000})
		require.NoError(t, err)
	}

	s := NewService(repo, 3, quietLogger()).WithDays(period.Weekends)
	data, err := s.RecordsXLSX(ctx, entity.RecordFilter{})
	require.NoError(t, err)

	rows, err := open(t, data).GetRows(sheetRecords)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2026-01-11", rows[1][0])
	assert.Equal(t, "2026-01-10", rows[2][0])
}
