package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/period"
)

// ErrEmptySelection is returned when a bulk operation resolves to no records.
var ErrEmptySelection = errors.New("selection is empty")

// Bulk operation names reported in LimitExceededError and logs.
const (
	OpDelete   = "delete"
	OpEditDate = "edit_date"
	OpReverify = "reverify"
)

// BulkService runs delete, date-edit and re-verify over a selection.
// Operations are not locked against each other.
type BulkService struct {
	mutator  client.BulkMutator
	resolver *Resolver
	cfg      common.BulkConfig
	now      func() time.Time
	logger   *slog.Logger
}

func NewBulkService(mutator client.BulkMutator, lister client.RecordLister, cfg common.BulkConfig, logger *slog.Logger) *BulkService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkService{
		mutator:  mutator,
		resolver: NewResolver(lister, cfg.PageSize, logger),
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock overrides the clock used for date validation.
func (s *BulkService) WithClock(now func() time.Time) *BulkService {
	s.now = now
	return s
}

// Delete removes every selected record, one request per id. Failures are
// reported per id and never stop the remaining deletions.
func (s *BulkService) Delete(ctx context.Context, sel Selection) (client.BulkResult, error) {
	ctx, ids, err := s.prepare(ctx, OpDelete, sel, s.cfg.DeleteMax)
	if err != nil {
		return client.BulkResult{}, err
	}
	res := client.BulkResult{}
	for _, id := range ids {
		r, err := s.mutator.DeleteByIDs(ctx, []string{id})
		switch {
		case err != nil:
			res.Fail(id, err.Error())
		case r.Failed > 0:
			res.Fail(id, perIDError(r, id))
		default:
			res.Succeeded++
		}
	}
	s.logDone(OpDelete, len(ids), res)
	return res, nil
}

// EditDate moves every selected record to date, one request per id.
func (s *BulkService) EditDate(ctx context.Context, sel Selection, date string) (client.BulkResult, error) {
	norm, err := period.NormalizeDate(date)
	if err == nil {
		err = period.ValidateRecordDate(norm, s.now())
	}
	if err != nil {
		return client.BulkResult{}, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	ctx, ids, err := s.prepare(ctx, OpEditDate, sel, 0)
	if err != nil {
		return client.BulkResult{}, err
	}
	res := client.BulkResult{}
	for _, id := range ids {
		if err := s.mutator.PatchDate(ctx, id, norm); err != nil {
			res.Fail(id, err.Error())
			continue
		}
		res.Succeeded++
	}
	s.logDone(OpEditDate, len(ids), res)
	return res, nil
}

// Reverify asks for the selected records to be verified again. Selections
// larger than the configured maximum are refused before any request is made.
func (s *BulkService) Reverify(ctx context.Context, sel Selection) (client.BulkResult, error) {
	ctx, ids, err := s.prepare(ctx, OpReverify, sel, s.cfg.ReverifyMax)
	if err != nil {
		return client.BulkResult{}, err
	}
	res, err := s.mutator.ReverifyByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("selection.bulk.failed", "op", OpReverify, "count", len(ids), "error", err)
		return client.BulkResult{}, fmt.Errorf("reverify %d records: %w", len(ids), err)
	}
	s.logDone(OpReverify, len(ids), res)
	return res, nil
}

// prepare resolves sel and enforces limit (0 = unlimited). A proxy-scoped
// selection acts as the proxied user.
func (s *BulkService) prepare(ctx context.Context, op string, sel Selection, limit int) (context.Context, []string, error) {
	if am, ok := sel.(AllMatching); ok && am.Filter.ViewContext == constants.ViewProxy && am.Filter.ProxyID != "" {
		ctx = common.WithUserID(ctx, am.Filter.ProxyID)
	}
	ids, err := s.resolver.Resolve(ctx, sel)
	if err != nil {
		s.logger.Warn("selection.bulk.resolve_failed", "op", op, "error", err)
		return ctx, nil, err
	}
	if len(ids) == 0 {
		return ctx, nil, ErrEmptySelection
	}
	if limit > 0 && len(ids) > limit {
		s.logger.Warn("selection.bulk.refused", "op", op, "count", len(ids), "limit", limit)
		return ctx, nil, &common.LimitExceededError{Op: op, Limit: limit, Count: len(ids)}
	}
	s.logger.Info("selection.bulk.start", "op", op, "count", len(ids))
	return ctx, ids, nil
}

func (s *BulkService) logDone(op string, n int, res client.BulkResult) {
	s.logger.Info("selection.bulk.done",
		"op", op,
		"count", n,
		"succeeded", res.Succeeded,
		"failed", res.Failed,
	)
}

func perIDError(r client.BulkResult, id string) string {
	if msg, ok := r.Errors[id]; ok {
		return msg
	}
	return "rejected"
}
