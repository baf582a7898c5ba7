package batch

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/conflict"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// SubmitSummary reports one SubmitReviewed pass. Conflicts are copies; pass
// them back to ResolveConflicts after choosing resolutions.
type SubmitSummary struct {
	SuccessCount  int
	ErrorCount    int
	ConflictCount int
	Skipped       int
	Conflicts     []*conflict.Case
}

// ResolveSummary reports one ResolveConflicts pass.
type ResolveSummary struct {
	Kept     int
	Replaced int
	Skipped  int
	Failed   int
	Outcomes []conflict.Outcome
}

// SubmitReviewed commits every item in review, in batch order. The call is
// refused as a whole, with no side effects, while any review item is blocked.
func (c *Controller) SubmitReviewed(ctx context.Context) (SubmitSummary, error) {
	ctx = common.WithBatchID(ctx, c.batchID)
	var ids []string
	err := c.do(func() error {
		var review []*entity.BatchItem
		for _, id := range c.order {
			if it := c.items[id]; it.Status == constants.StatusReview {
				review = append(review, it)
				ids = append(ids, id)
			}
		}
		return c.gate.CheckSubmittable(review)
	})
	if err != nil {
		c.logger.Warn("batch.submit.blocked", "error", err)
		return SubmitSummary{}, err
	}

	var sum SubmitSummary
	c.logger.Info("batch.submit.start", "items", len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if c.submitOne(ctx, id, &sum) == submitSkipped {
			sum.Skipped++
		}
	}
	c.logger.Info("batch.submit.done",
		"success", sum.SuccessCount,
		"error", sum.ErrorCount,
		"conflict", sum.ConflictCount,
		"skipped", sum.Skipped,
	)
	return sum, nil
}

type submitResult int

const (
	submitSkipped submitResult = iota
	submitDone
)

func (c *Controller) submitOne(ctx context.Context, id string, sum *SubmitSummary) submitResult {
	if err := c.slot.Acquire(ctx, 1); err != nil {
		return submitSkipped
	}
	defer c.slot.Release(1)

	var req client.CommitRequest
	ok := false
	_ = c.do(func() error {
		it, found := c.items[id]
		if !found || it.Status != constants.StatusReview {
			return nil
		}
		// Edits may have landed since the batch-wide check.
		if c.gate.Blocked(it) || c.gate.ValidateEdited(it) != nil {
			return nil
		}
		if err := c.setStatus(it, constants.StatusSubmitting); err != nil {
			return err
		}
		req = client.CommitRequest{Date: it.Edited.Date, Steps: it.Edited.Steps, ProofRef: it.ProofRef}
		ok = true
		c.notify(it)
		return nil
	})
	if !ok {
		return submitSkipped
	}

	res, commitErr := c.committer.Commit(ctx, req)

	_ = c.do(func() error {
		it := c.items[id]
		var ce *common.ConflictError
		switch {
		case commitErr == nil:
			if err := c.setStatus(it, constants.StatusSuccess); err != nil {
				return err
			}
			it.SubmissionID = res.ID
			it.Retry = entity.RetryState{}
			sum.SuccessCount++
			c.logger.Info("batch.submit.ok", "item_id", id, "record_id", res.ID, "date", req.Date)
		case errors.As(commitErr, &ce):
			cs := conflict.NewCase(id, req.Date, ce.Existing, entity.IncomingRecord{Steps: req.Steps, ProofRef: req.ProofRef})
			c.cases[id] = cs
			sum.ConflictCount++
			sum.Conflicts = append(sum.Conflicts, cs.Clone())
			c.logger.Info("batch.submit.conflict",
				"item_id", id,
				"date", req.Date,
				"existing_id", ce.Existing.ID,
				"recommended", cs.Recommended(),
			)
		default:
			if err := c.fail(it, commitErr); err != nil {
				return err
			}
			sum.ErrorCount++
			c.logger.Error("batch.submit.failed", "item_id", id, "kind", it.Retry.LastKind, "error", commitErr)
		}
		c.notify(it)
		return nil
	})
	return submitDone
}

// fail must run on the loop. Commit failures are never retried automatically.
func (c *Controller) fail(it *entity.BatchItem, cause error) error {
	if err := c.setStatus(it, constants.StatusError); err != nil {
		return err
	}
	kind := common.Classify(cause)
	it.Retry.LastError = cause.Error()
	it.Retry.LastKind = string(kind)
	it.Retry.Retryable = kind.Retryable() || kind == common.KindCanceled
	it.Retry.AutoRetrying = false
	it.Retry.NextRetryAt = time.Time{}
	return nil
}

// Conflicts returns copies of every open conflict, in batch order.
func (c *Controller) Conflicts() []*conflict.Case {
	var out []*conflict.Case
	_ = c.do(func() error {
		for _, id := range c.order {
			if cs, ok := c.cases[id]; ok {
				out = append(out, cs.Clone())
			}
		}
		return nil
	})
	return out
}

// ResolveConflicts applies each decided case independently. Cases that no
// longer match an open conflict are reported as failed outcomes.
func (c *Controller) ResolveConflicts(ctx context.Context, cases []*conflict.Case) ResolveSummary {
	ctx = common.WithBatchID(ctx, c.batchID)
	var sum ResolveSummary
	for _, cs := range cases {
		out := c.resolveOne(ctx, cs)
		sum.Outcomes = append(sum.Outcomes, out)
		switch {
		case out.Err != nil:
			sum.Failed++
		case out.Resolution == constants.ResolutionKeepExisting:
			sum.Kept++
		case out.Resolution == constants.ResolutionUseIncoming:
			sum.Replaced++
		case out.Resolution == constants.ResolutionSkip:
			sum.Skipped++
		}
	}
	c.logger.Info("batch.resolve.done",
		"kept", sum.Kept,
		"replaced", sum.Replaced,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	return sum
}

func (c *Controller) resolveOne(ctx context.Context, in *conflict.Case) conflict.Outcome {
	var cs *conflict.Case
	err := c.do(func() error {
		open, ok := c.cases[in.ItemID]
		if !ok {
			return ErrNoConflict
		}
		cs = open.Clone()
		return cs.SetResolution(in.Resolution())
	})
	if err != nil {
		return conflict.Outcome{ItemID: in.ItemID, Resolution: in.Resolution(), Err: err}
	}

	if err := c.slot.Acquire(ctx, 1); err != nil {
		return conflict.Outcome{ItemID: in.ItemID, Resolution: cs.Resolution(), Err: err}
	}
	out := c.resolver.Apply(ctx, cs)
	c.slot.Release(1)

	_ = c.do(func() error {
		it, ok := c.items[cs.ItemID]
		if !ok {
			return nil
		}
		delete(c.cases, cs.ItemID)
		switch {
		case out.Err != nil:
			if err := c.fail(it, out.Err); err != nil {
				return err
			}
		case out.Resolution == constants.ResolutionSkip:
			c.removeLocked(it.ID)
			c.logger.Info("batch.item.discarded", "item_id", it.ID, "date", cs.Date)
			return nil
		default:
			if err := c.setStatus(it, constants.StatusSuccess); err != nil {
				return err
			}
			it.SubmissionID = out.RecordID
			it.Retry = entity.RetryState{}
		}
		c.notify(it)
		return nil
	})
	return out
}

// RetrySubmitOnly returns a failed item to review using its cached extraction
// and proof. Reviewed values and confirmation are kept.
func (c *Controller) RetrySubmitOnly(id string) error {
	err := c.do(func() error {
		it, err := c.lookup(id)
		if err != nil {
			return err
		}
		if err := manualRetryable(it, true); err != nil {
			return err
		}
		if err := c.setStatus(it, constants.StatusReview); err != nil {
			return err
		}
		if it.Edited == nil {
			c.gate.Enter(it, it.Extracted)
		}
		it.Retry = entity.RetryState{}
		c.cancelTimer(id)
		c.notify(it)
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("batch.retry.submit_only", "item_id", id)
	return nil
}

// RetryFailed retries every retryable item in error that has no automatic
// retry armed. Items with a cached extraction return to review; the rest are
// re-extracted, one at a time with the inter-item delay.
func (c *Controller) RetryFailed(ctx context.Context) ExtractSummary {
	type target struct {
		id     string
		cached bool
	}
	var targets []target
	_ = c.do(func() error {
		for _, id := range c.order {
			it := c.items[id]
			if it.Status == constants.StatusError && it.Retry.Retryable && !it.Retry.AutoRetrying {
				targets = append(targets, target{id: id, cached: it.HasCachedExtraction()})
			}
		}
		return nil
	})

	var sum ExtractSummary
	extracted := 0
	for _, t := range targets {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		if t.cached {
			if err := c.RetrySubmitOnly(t.id); err == nil {
				sum.Resubmitted++
			}
			continue
		}
		if extracted > 0 {
			if err := sleepCtx(ctx, c.delay); err != nil {
				sum.Interrupted = true
				break
			}
		}
		extracted++
		sum.add(c.runExtraction(ctx, t.id, modeFull))
	}
	c.logger.Info("batch.retry_failed.done",
		"resubmitted", sum.Resubmitted,
		"extracted", sum.Extracted,
		"failed", sum.Failed,
		"retrying", sum.Retrying,
	)
	return sum
}
