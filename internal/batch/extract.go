package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
	"github.com/joseph-ayodele/steps-tracker/internal/pipeline"
)

type runMode int

const (
	modeInitial runMode = iota
	modeAuto
	modeFull
)

// ExtractSummary counts the outcome of one ExtractAll or RetryFailed pass.
type ExtractSummary struct {
	Extracted   int
	Failed      int
	Retrying    int
	Resubmitted int
	Interrupted bool
}

type extractResult int

const (
	resultSkipped extractResult = iota
	resultExtracted
	resultFailed
	resultRetrying
)

func (s *ExtractSummary) add(r extractResult) {
	switch r {
	case resultExtracted:
		s.Extracted++
	case resultFailed:
		s.Failed++
	case resultRetrying:
		s.Retrying++
	}
}

// ExtractAll runs the pipeline for every pending item in batch order, pausing
// between items. Retryable failures are scheduled for automatic retry.
func (c *Controller) ExtractAll(ctx context.Context) ExtractSummary {
	var pending []string
	_ = c.do(func() error {
		for _, id := range c.order {
			if c.items[id].Status == constants.StatusPending {
				pending = append(pending, id)
			}
		}
		return nil
	})

	var sum ExtractSummary
	c.logger.Info("batch.extract.start", "items", len(pending))
	for i, id := range pending {
		if i > 0 {
			if err := sleepCtx(ctx, c.delay); err != nil {
				sum.Interrupted = true
				break
			}
		}
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		sum.add(c.runExtraction(ctx, id, modeInitial))
	}
	c.logger.Info("batch.extract.done",
		"extracted", sum.Extracted,
		"failed", sum.Failed,
		"retrying", sum.Retrying,
		"interrupted", sum.Interrupted,
	)
	return sum
}

// RetryFullExtraction reruns the pipeline for an item in error. The cached
// proof is reused, so only extraction is repeated when an upload already happened.
func (c *Controller) RetryFullExtraction(ctx context.Context, id string) error {
	err := c.do(func() error {
		it, err := c.lookup(id)
		if err != nil {
			return err
		}
		return manualRetryable(it, false)
	})
	if err != nil {
		return err
	}
	if c.runExtraction(ctx, id, modeFull) != resultSkipped {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Something else moved the item while this call waited for the slot.
	return c.do(func() error {
		it, err := c.lookup(id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%s (%s): %w", id, it.Status, ErrNotRetryable)
	})
}

func manualRetryable(it *entity.BatchItem, needCache bool) error {
	if it.Status != constants.StatusError || !it.Retry.Retryable {
		return fmt.Errorf("%s (%s): %w", it.ID, it.Status, ErrNotRetryable)
	}
	if needCache && !it.HasCachedExtraction() {
		return fmt.Errorf("%s: %w", it.ID, ErrNoCachedExtraction)
	}
	return nil
}

// runExtraction drives one item through the pipeline. The call slot is held
// across both loop events, so a queued run never sees an item mid-extraction.
func (c *Controller) runExtraction(ctx context.Context, id string, mode runMode) extractResult {
	ctx = common.WithBatchID(ctx, c.batchID)
	if err := c.slot.Acquire(ctx, 1); err != nil {
		return resultSkipped
	}
	defer c.slot.Release(1)

	var in pipeline.Input
	ok := false
	_ = c.do(func() error {
		it, found := c.items[id]
		if !found {
			return nil
		}
		want := constants.StatusPending
		if mode != modeInitial {
			want = constants.StatusError
		}
		if it.Status != want {
			return nil
		}
		switch mode {
		case modeAuto:
			// A manual retry took over, or a newer timer is armed.
			if _, armed := c.sched.Pending(id); !it.Retry.AutoRetrying || armed {
				c.logger.Debug("batch.extract.stale_retry", "item_id", id)
				return nil
			}
		case modeFull:
			if !it.Retry.Retryable {
				return nil
			}
			c.cancelTimer(id)
		}
		if err := c.setStatus(it, constants.StatusExtracting); err != nil {
			return err
		}
		if mode == modeFull {
			it.Extracted = nil
			it.Edited = nil
			it.Retry = entity.RetryState{}
		}
		it.Retry.AutoRetrying = false
		it.Retry.NextRetryAt = time.Time{}
		in = pipeline.Input{ItemID: it.ID, Filename: it.Filename, Source: it.Source, ProofRef: it.ProofRef}
		ok = true
		c.notify(it)
		return nil
	})
	if !ok {
		return resultSkipped
	}

	out, runErr := c.runner.Run(ctx, in)

	result := resultSkipped
	_ = c.do(func() error {
		it, found := c.items[id]
		if !found || it.Status != constants.StatusExtracting {
			c.logger.Debug("batch.extract.result_dropped", "item_id", id)
			return nil
		}
		if out.ProofRef != "" {
			it.ProofRef = out.ProofRef
		}
		if runErr == nil {
			if err := c.setStatus(it, constants.StatusReview); err != nil {
				return err
			}
			c.gate.Enter(it, out.Extracted)
			it.Retry.LastError, it.Retry.LastKind = "", ""
			it.Retry.Retryable = false
			result = resultExtracted
			c.logger.Info("batch.extract.ok", "item_id", id, "confidence", confidenceOf(out.Extracted))
			c.notify(it)
			return nil
		}

		if err := c.fail(it, runErr); err != nil {
			return err
		}
		kind := common.Kind(it.Retry.LastKind)
		result = resultFailed

		if kind.Retryable() && c.policy.ShouldRetry(runErr, it.Retry.Count) && c.baseCtx.Err() == nil {
			it.Retry.Count++
			it.Retry.AutoRetrying = true
			c.timers.Add(1)
			at, replaced := c.sched.Schedule(id, c.policy.Delay(it.Retry.Count), func() { c.fire(id) })
			if replaced {
				c.timers.Done()
			}
			it.Retry.NextRetryAt = at
			result = resultRetrying
			c.logger.Warn("batch.extract.retry_scheduled",
				"item_id", id,
				"attempt", it.Retry.Count,
				"kind", kind,
				"due", it.Retry.NextRetryAt,
			)
		} else {
			c.logger.Error("batch.extract.failed",
				"item_id", id,
				"kind", kind,
				"retryable", it.Retry.Retryable,
				"retries", it.Retry.Count,
				"error", runErr,
			)
		}
		c.notify(it)
		return nil
	})
	return result
}

// fire runs on the timer goroutine.
func (c *Controller) fire(id string) {
	defer c.timers.Done()
	if c.baseCtx.Err() != nil {
		return
	}
	c.logger.Info("batch.extract.retry_fired", "item_id", id)
	c.runExtraction(c.baseCtx, id, modeAuto)
}

func confidenceOf(ex *entity.Extracted) constants.Confidence {
	if ex == nil {
		return ""
	}
	return ex.Confidence
}
