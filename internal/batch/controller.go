// Package batch drives proof images from upload to committed records.
//
// Item state lives in a map owned by a single event loop. Public operations,
// network results and retry timers all reach that state through loop events;
// network calls themselves run outside the loop, one at a time, through a
// one-slot semaphore.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/async"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/conflict"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
	"github.com/joseph-ayodele/steps-tracker/internal/pipeline"
	"github.com/joseph-ayodele/steps-tracker/internal/retry"
	"github.com/joseph-ayodele/steps-tracker/internal/review"
)

var (
	ErrItemNotFound       = fmt.Errorf("batch item: %w", common.ErrNotFound)
	ErrNotCancellable     = errors.New("item is submitting and can no longer be removed")
	ErrNotRetryable       = errors.New("item is not in a retryable error state")
	ErrNoCachedExtraction = errors.New("item has no cached extraction and proof to resubmit")
	ErrNoConflict         = errors.New("item has no open conflict")
)

// DefaultInterItemDelay spaces consecutive pipeline calls.
const DefaultInterItemDelay = 400 * time.Millisecond

// Runner is the extraction pipeline as seen by the controller.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
}

// Source is one image handed to Add.
type Source struct {
	Filename string
	Data     []byte
}

// Controller owns a batch of items and their lifecycle.
type Controller struct {
	runner    Runner
	committer client.RecordCommitter
	resolver  *conflict.Resolver
	gate      *review.Gate
	policy    retry.Policy
	sched     *retry.Scheduler
	slot      *semaphore.Weighted
	delay     time.Duration
	now       func() time.Time
	observer  func(entity.BatchItem)
	batchID   string
	logger    *slog.Logger

	loop *async.Loop
	// owned by loop
	items map[string]*entity.BatchItem
	order []string
	cases map[string]*conflict.Case

	baseCtx   context.Context
	cancel    context.CancelFunc
	timers    sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*Controller)

func WithInterItemDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.delay = d
		}
	}
}

func WithPolicy(p retry.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver registers a callback invoked on the event loop after every item
// change. It must not call back into the controller.
func WithObserver(fn func(entity.BatchItem)) Option {
	return func(c *Controller) { c.observer = fn }
}

func WithBatchID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.batchID = id
		}
	}
}

func NewController(runner Runner, committer client.RecordCommitter, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		runner:    runner,
		committer: committer,
		policy:    retry.DefaultPolicy(),
		slot:      semaphore.NewWeighted(1),
		delay:     DefaultInterItemDelay,
		now:       time.Now,
		batchID:   uuid.NewString(),
		items:     make(map[string]*entity.BatchItem),
		cases:     make(map[string]*conflict.Case),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = logger.With("batch_id", c.batchID)
	c.resolver = conflict.NewResolver(committer, c.logger)
	c.gate = review.NewGate(c.now)
	c.sched = retry.NewScheduler(c.logger)
	c.loop = async.NewLoop(c.logger, async.WithName("batch"))
	c.baseCtx, c.cancel = context.WithCancel(common.WithBatchID(context.Background(), c.batchID))
	return c
}

// ID identifies this batch in logs and reports.
func (c *Controller) ID() string { return c.batchID }

// do runs fn on the event loop and waits for it.
func (c *Controller) do(fn func() error) error {
	var err error
	if lerr := c.loop.Do(func() { err = fn() }); lerr != nil {
		return lerr
	}
	return err
}

// lookup must run on the loop.
func (c *Controller) lookup(id string) (*entity.BatchItem, error) {
	it, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	return it, nil
}

// setStatus must run on the loop.
func (c *Controller) setStatus(it *entity.BatchItem, to constants.ItemStatus) error {
	from := it.Status
	if err := transition(it, to); err != nil {
		c.logger.Error("batch.item.invalid_transition", "item_id", it.ID, "from", from, "to", to)
		return err
	}
	c.logger.Debug("batch.item.transition", "item_id", it.ID, "from", from, "to", to)
	return nil
}

// notify must run on the loop.
func (c *Controller) notify(it *entity.BatchItem) {
	if c.observer != nil {
		c.observer(it.Clone())
	}
}

// removeLocked must run on the loop.
func (c *Controller) removeLocked(id string) {
	delete(c.items, id)
	delete(c.cases, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Controller) cancelTimer(id string) {
	if c.sched.Cancel(id) {
		c.timers.Done()
	}
}

// Add appends new pending items and returns their ids in order.
func (c *Controller) Add(sources ...Source) []string {
	ids := make([]string, 0, len(sources))
	_ = c.do(func() error {
		for _, src := range sources {
			it := &entity.BatchItem{
				ID:       uuid.NewString(),
				Filename: src.Filename,
				Source:   src.Data,
				Status:   constants.StatusPending,
				AddedAt:  c.now(),
			}
			c.items[it.ID] = it
			c.order = append(c.order, it.ID)
			ids = append(ids, it.ID)
			c.notify(it)
		}
		return nil
	})
	c.logger.Info("batch.items.added", "count", len(ids))
	return ids
}

// Remove excludes an item from further processing and cancels its pending
// auto-retry. Items already submitting cannot be removed.
func (c *Controller) Remove(id string) error {
	err := c.do(func() error {
		it, err := c.lookup(id)
		if err != nil {
			return err
		}
		if it.Status == constants.StatusSubmitting {
			return fmt.Errorf("%s: %w", id, ErrNotCancellable)
		}
		c.removeLocked(id)
		return nil
	})
	if err != nil {
		return err
	}
	c.cancelTimer(id)
	c.logger.Info("batch.item.removed", "item_id", id)
	return nil
}

// Items returns copies of every item in batch order.
func (c *Controller) Items() []entity.BatchItem {
	var out []entity.BatchItem
	_ = c.do(func() error {
		out = make([]entity.BatchItem, 0, len(c.order))
		for _, id := range c.order {
			out = append(out, c.items[id].Clone())
		}
		return nil
	})
	return out
}

// Item returns a copy of one item.
func (c *Controller) Item(id string) (entity.BatchItem, bool) {
	var (
		out entity.BatchItem
		ok  bool
	)
	_ = c.do(func() error {
		if it, found := c.items[id]; found {
			out, ok = it.Clone(), true
		}
		return nil
	})
	return out, ok
}

// Edit overwrites the reviewed steps and date of an item in review.
func (c *Controller) Edit(id string, steps int, date string) error {
	return c.do(func() error {
		it, err := c.lookup(id)
		if err != nil {
			return err
		}
		if err := c.gate.Edit(it, steps, date); err != nil {
			return err
		}
		c.notify(it)
		return nil
	})
}

// ConfirmLowConfidence records the user's decision on a low-confidence item.
func (c *Controller) ConfirmLowConfidence(id string, confirmed bool) error {
	return c.do(func() error {
		it, err := c.lookup(id)
		if err != nil {
			return err
		}
		if err := c.gate.Confirm(it, confirmed); err != nil {
			return err
		}
		c.notify(it)
		return nil
	})
}

// Notice returns the confidence text for an item.
func (c *Controller) Notice(id string) (string, error) {
	var out string
	err := c.do(func() error {
		it, err := c.lookup(id)
		if err != nil {
			return err
		}
		out = c.gate.Notice(it)
		return nil
	})
	return out, err
}

// Wait blocks until no auto-retry is armed or running.
func (c *Controller) Wait() {
	c.timers.Wait()
}

// Close cancels pending retries and stops the event loop. In-flight calls are
// canceled through their context.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		for range c.sched.CancelAll() {
			c.timers.Done()
		}
		c.timers.Wait()
		c.loop.Shutdown(context.Background())
		c.logger.Info("batch.closed")
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
