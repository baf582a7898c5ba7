package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/client/clienttest"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
	"github.com/joseph-ayodele/steps-tracker/internal/pipeline"
	"github.com/joseph-ayodele/steps-tracker/internal/repository"
	"github.com/joseph-ayodele/steps-tracker/internal/retry"
	"github.com/joseph-ayodele/steps-tracker/internal/review"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func unavailable() error { return &common.HTTPError{StatusCode: http.StatusServiceUnavailable} }

type harness struct {
	up  *clienttest.Uploader
	ex  *clienttest.Extractor
	com client.RecordCommitter
	c   *Controller
}

func newHarness(t *testing.T, com client.RecordCommitter, ex *clienttest.Extractor, opts ...Option) *harness {
	t.Helper()
	if ex == nil {
		ex = &clienttest.Extractor{}
	}
	if com == nil {
		com = clienttest.NewCommitter()
	}
	h := &harness{up: &clienttest.Uploader{}, ex: ex, com: com}
	p := pipeline.New(h.up, h.ex, pipeline.Config{ContextHint: "steps"}, quietLogger())
	opts = append([]Option{WithInterItemDelay(0)}, opts...)
	h.c = NewController(p, com, quietLogger(), opts...)
	t.Cleanup(h.c.Close)
	return h
}

func (h *harness) item(t *testing.T, id string) entity.BatchItem {
	t.Helper()
	it, ok := h.c.Item(id)
	require.True(t, ok, "item %s", id)
	return it
}

func byFilename(results map[string]client.ExtractResult) func(client.ExtractRequest) (client.ExtractResult, error) {
	return func(req client.ExtractRequest) (client.ExtractResult, error) {
		for name, res := range results {
			if strings.HasSuffix(req.ProofRef, name) {
				return res, nil
			}
		}
		return client.ExtractResult{}, errors.New("unexpected proof " + req.ProofRef)
	}
}

func TestBatchLowConfidenceBlocksUntilConfirmed(t *testing.T) {
	ex := &clienttest.Extractor{Fn: byFilename(map[string]client.ExtractResult{
		"low.png": {Steps: clienttest.IntPtr(5000), Date: "2026-01-11", Confidence: "low"},
		"a.png":   {Steps: clienttest.IntPtr(7000), Date: "2026-01-12", Confidence: "high"},
		"b.png":   {Steps: clienttest.IntPtr(9000), Date: "2026-01-13", Confidence: "high"},
	})}
	com := clienttest.NewCommitter()
	h := newHarness(t, com, ex)
	ctx := context.Background()

	ids := h.c.Add(
		Source{Filename: "a.png", Data: []byte("a")},
		Source{Filename: "low.png", Data: []byte("l")},
		Source{Filename: "b.png", Data: []byte("b")},
	)
	require.Len(t, ids, 3)

	sum := h.c.ExtractAll(ctx)
	assert.Equal(t, 3, sum.Extracted)
	for _, id := range ids {
		assert.Equal(t, constants.StatusReview, h.item(t, id).Status)
	}

	notice, err := h.c.Notice(ids[1])
	require.NoError(t, err)
	assert.NotEmpty(t, notice)

	_, err = h.c.SubmitReviewed(ctx)
	var blocked *common.BlockedSubmitError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, []string{ids[1]}, blocked.Unconfirmed)
	assert.Empty(t, com.Calls(), "blocked submit must not commit anything")
	for _, id := range ids {
		assert.Equal(t, constants.StatusReview, h.item(t, id).Status)
	}

	require.NoError(t, h.c.ConfirmLowConfidence(ids[1], true))
	out, err := h.c.SubmitReviewed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, out.SuccessCount)
	assert.Zero(t, out.ErrorCount)
	assert.Zero(t, out.ConflictCount)

	for _, id := range ids {
		it := h.item(t, id)
		assert.Equal(t, constants.StatusSuccess, it.Status)
		assert.NotEmpty(t, it.SubmissionID)
	}
	rec, ok := com.Record("2026-01-11")
	require.True(t, ok)
	assert.Equal(t, 5000, rec.Steps)
}

func TestBatchConflictUseIncomingAgainstStore(t *testing.T) {
	db, err := repository.NewMemory()
	require.NoError(t, err)
	t.Cleanup(db.Close)
	repo := repository.NewRecordRepository(db, "user-1", quietLogger())
	ctx := context.Background()

	seeded, err := repo.Commit(ctx, client.CommitRequest{Date: "2026-01-10", Steps: 4000})
	require.NoError(t, err)

	h := newHarness(t, repo, nil)
	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	h.c.ExtractAll(ctx)

	sum, err := h.c.SubmitReviewed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ConflictCount)
	require.Len(t, sum.Conflicts, 1)
	assert.Equal(t, constants.StatusSubmitting, h.item(t, ids[0]).Status)

	cases := h.c.Conflicts()
	require.Len(t, cases, 1)
	assert.Equal(t, constants.ResolutionUseIncoming, cases[0].Resolution())
	assert.Equal(t, seeded.ID, cases[0].Existing.ID)

	res := h.c.ResolveConflicts(ctx, cases)
	assert.Equal(t, 1, res.Replaced)
	assert.Zero(t, res.Failed)
	assert.Empty(t, h.c.Conflicts())

	it := h.item(t, ids[0])
	assert.Equal(t, constants.StatusSuccess, it.Status)
	assert.Equal(t, seeded.ID, it.SubmissionID)

	rec, err := repo.Get(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, rec.Steps)
	assert.Equal(t, "proofs/1-a.png", rec.ProofRef)
}

func TestBatchConflictSkipAndKeep(t *testing.T) {
	com := clienttest.NewCommitter(
		entity.Record{ID: "rec-10", Date: "2026-01-10", Steps: 4000, Verified: true, ProofRef: "old.jpg"},
		entity.Record{ID: "rec-11", Date: "2026-01-11", Steps: 3000},
	)
	ex := &clienttest.Extractor{Fn: byFilename(map[string]client.ExtractResult{
		"a.png": {Steps: clienttest.IntPtr(1000), Date: "2026-01-10", Confidence: "high"},
		"b.png": {Steps: clienttest.IntPtr(2000), Date: "2026-01-11", Confidence: "high"},
	})}
	h := newHarness(t, com, ex)
	ctx := context.Background()

	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")}, Source{Filename: "b.png", Data: []byte("b")})
	h.c.ExtractAll(ctx)
	sum, err := h.c.SubmitReviewed(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, sum.ConflictCount)

	assert.ErrorIs(t, h.c.Remove(ids[0]), ErrNotCancellable)

	cases := h.c.Conflicts()
	require.Len(t, cases, 2)
	assert.Equal(t, constants.ResolutionKeepExisting, cases[0].Resolution())
	require.NoError(t, cases[1].SetResolution(constants.ResolutionSkip))

	res := h.c.ResolveConflicts(ctx, cases)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 1, res.Skipped)

	kept := h.item(t, ids[0])
	assert.Equal(t, constants.StatusSuccess, kept.Status)
	assert.Equal(t, "rec-10", kept.SubmissionID)

	_, ok := h.c.Item(ids[1])
	assert.False(t, ok, "skipped item is discarded")

	rec, _ := com.Record("2026-01-11")
	assert.Equal(t, 3000, rec.Steps)
	rec, _ = com.Record("2026-01-10")
	assert.Equal(t, 4000, rec.Steps)

	again := h.c.ResolveConflicts(ctx, cases[:1])
	assert.Equal(t, 1, again.Failed)
	assert.ErrorIs(t, again.Outcomes[0].Err, ErrNoConflict)
}

func TestBatchAutoRetryStopsAtBudget(t *testing.T) {
	ex := &clienttest.Extractor{Errs: []error{unavailable(), unavailable(), unavailable(), unavailable()}}
	policy := retry.NewPolicy([]time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, 3)
	h := newHarness(t, nil, ex, WithPolicy(policy))

	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	sum := h.c.ExtractAll(context.Background())
	assert.Equal(t, 1, sum.Retrying)

	h.c.Wait()

	it := h.item(t, ids[0])
	assert.Equal(t, constants.StatusError, it.Status)
	assert.Equal(t, 3, it.Retry.Count)
	assert.False(t, it.Retry.AutoRetrying)
	assert.True(t, it.Retry.Retryable)
	assert.Equal(t, string(common.KindNetwork), it.Retry.LastKind)
	assert.Len(t, ex.Calls(), 4)
	assert.Equal(t, 1, h.up.Requests(), "retries reuse the uploaded proof")
}

func TestBatchAutoRetryRecovers(t *testing.T) {
	ex := &clienttest.Extractor{Errs: []error{unavailable()}}
	policy := retry.NewPolicy([]time.Duration{time.Millisecond}, 3)
	h := newHarness(t, nil, ex, WithPolicy(policy))

	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	h.c.ExtractAll(context.Background())
	h.c.Wait()

	it := h.item(t, ids[0])
	assert.Equal(t, constants.StatusReview, it.Status)
	assert.Equal(t, 1, it.Retry.Count)
	assert.Empty(t, it.Retry.LastError)
}

func TestBatchRemoveCancelsPendingRetry(t *testing.T) {
	ex := &clienttest.Extractor{Errs: []error{unavailable()}}
	policy := retry.NewPolicy([]time.Duration{time.Hour}, 3)
	h := newHarness(t, nil, ex, WithPolicy(policy))

	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	h.c.ExtractAll(context.Background())
	it := h.item(t, ids[0])
	assert.True(t, it.Retry.AutoRetrying)
	assert.False(t, it.Retry.NextRetryAt.IsZero())

	require.NoError(t, h.c.Remove(ids[0]))

	done := make(chan struct{})
	go func() { h.c.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the retry was canceled")
	}
	assert.Empty(t, h.c.Items())
	assert.Len(t, ex.Calls(), 1)
	assert.ErrorIs(t, h.c.Remove(ids[0]), common.ErrNotFound)
}

func TestBatchTerminalFailureIsNotRetryable(t *testing.T) {
	ex := &clienttest.Extractor{Errs: []error{&common.HTTPError{StatusCode: http.StatusUnprocessableEntity}}}
	h := newHarness(t, nil, ex)
	ctx := context.Background()

	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	sum := h.c.ExtractAll(ctx)
	assert.Equal(t, 1, sum.Failed)
	h.c.Wait()

	it := h.item(t, ids[0])
	assert.Equal(t, constants.StatusError, it.Status)
	assert.False(t, it.Retry.Retryable)
	assert.Equal(t, string(common.KindValidation), it.Retry.LastKind)

	assert.ErrorIs(t, h.c.RetryFullExtraction(ctx, ids[0]), ErrNotRetryable)
	assert.ErrorIs(t, h.c.RetrySubmitOnly(ids[0]), ErrNotRetryable)
	assert.Len(t, ex.Calls(), 1)
}

func TestBatchRetryFullExtractionSkipsUpload(t *testing.T) {
	ex := &clienttest.Extractor{Errs: []error{unavailable()}}
	h := newHarness(t, nil, ex, WithPolicy(retry.NewPolicy(nil, 0)))
	ctx := context.Background()

	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	sum := h.c.ExtractAll(ctx)
	assert.Equal(t, 1, sum.Failed)

	it := h.item(t, ids[0])
	require.True(t, it.Retry.Retryable)
	assert.Equal(t, "proofs/1-a.png", it.ProofRef)

	assert.ErrorIs(t, h.c.RetrySubmitOnly(ids[0]), ErrNoCachedExtraction)

	require.NoError(t, h.c.RetryFullExtraction(ctx, ids[0]))
	it = h.item(t, ids[0])
	assert.Equal(t, constants.StatusReview, it.Status)
	require.NotNil(t, it.Extracted)
	assert.Equal(t, 1, h.up.Requests())

	calls := ex.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].ProofRef, calls[1].ProofRef)
}

func TestBatchSubmitOnlyRetryAfterCommitFailure(t *testing.T) {
	com := clienttest.NewCommitter()
	com.Errs = []error{unavailable()}
	h := newHarness(t, com, nil)
	ctx := context.Background()

	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	h.c.ExtractAll(ctx)
	require.NoError(t, h.c.Edit(ids[0], 12345, "2026-01-09"))

	sum, err := h.c.SubmitReviewed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ErrorCount)

	it := h.item(t, ids[0])
	assert.Equal(t, constants.StatusError, it.Status)
	assert.True(t, it.Retry.Retryable)
	assert.False(t, it.Retry.AutoRetrying, "commit failures wait for a manual retry")
	assert.True(t, it.HasCachedExtraction())

	retried := h.c.RetryFailed(ctx)
	assert.Equal(t, 1, retried.Resubmitted)
	it = h.item(t, ids[0])
	assert.Equal(t, constants.StatusReview, it.Status)
	assert.Equal(t, 12345, it.Edited.Steps, "reviewed values survive the retry")

	sum, err = h.c.SubmitReviewed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SuccessCount)
	assert.Len(t, h.ex.Calls(), 1, "no pipeline call on submit-only retry")
	assert.Equal(t, 1, h.up.Requests())

	rec, ok := com.Record("2026-01-09")
	require.True(t, ok)
	assert.Equal(t, 12345, rec.Steps)
}

func TestBatchExtractionLeavesPendingOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	assert.Equal(t, 1, h.c.ExtractAll(ctx).Extracted)
	assert.Zero(t, h.c.ExtractAll(ctx).Extracted)
	assert.Len(t, h.ex.Calls(), 1)
}

func TestBatchEditValidation(t *testing.T) {
	now := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, nil, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")}, Source{Filename: "b.png", Data: []byte("b")})
	assert.ErrorIs(t, h.c.Edit(ids[0], 100, "2026-01-10"), review.ErrNotInReview)

	h.c.ExtractAll(ctx)
	assert.Error(t, h.c.Edit(ids[0], 0, "2026-01-10"))
	assert.Error(t, h.c.Edit(ids[0], 100, "2026-01-21"))
	assert.Error(t, h.c.Edit(ids[0], 100, "10/01/2026"))
	require.NoError(t, h.c.Edit(ids[0], 100, "2026-01-20"))

	it := h.item(t, ids[0])
	assert.Equal(t, entity.Edited{Steps: 100, Date: "2026-01-20"}, *it.Edited)
	assert.Equal(t, 1000, *it.Extracted.Steps, "extracted values are kept alongside edits")
}

func TestBatchCallSlotSerializesNetworkCalls(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	ex := &clienttest.Extractor{
		Errs: []error{unavailable(), unavailable(), unavailable()},
		Fn: func(client.ExtractRequest) (client.ExtractResult, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			return client.ExtractResult{Steps: clienttest.IntPtr(1), Date: "2026-01-10", Confidence: "high"}, nil
		},
	}
	policy := retry.NewPolicy([]time.Duration{time.Millisecond}, 3)
	h := newHarness(t, nil, ex, WithPolicy(policy))

	ids := h.c.Add(
		Source{Filename: "a.png", Data: []byte("a")},
		Source{Filename: "b.png", Data: []byte("b")},
		Source{Filename: "c.png", Data: []byte("c")},
		Source{Filename: "d.png", Data: []byte("d")},
	)
	h.c.ExtractAll(context.Background())
	h.c.Wait()

	for _, id := range ids {
		assert.Equal(t, constants.StatusReview, h.item(t, id).Status)
	}
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestBatchObserverSeesTransitions(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []constants.ItemStatus
	)
	obs := func(it entity.BatchItem) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, it.Status)
	}
	h := newHarness(t, nil, nil, WithObserver(obs))
	ctx := context.Background()

	h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	h.c.ExtractAll(ctx)
	_, err := h.c.SubmitReviewed(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []constants.ItemStatus{
		constants.StatusPending,
		constants.StatusExtracting,
		constants.StatusReview,
		constants.StatusSubmitting,
		constants.StatusSuccess,
	}, seen)
}

func TestBatchCloseDropsArmedRetries(t *testing.T) {
	ex := &clienttest.Extractor{Errs: []error{unavailable()}}
	h := newHarness(t, nil, ex, WithPolicy(retry.NewPolicy([]time.Duration{time.Hour}, 3)))

	h.c.Add(Source{Filename: "a.png", Data: []byte("a")})
	h.c.ExtractAll(context.Background())

	h.c.Close()
	h.c.Wait()
	assert.Nil(t, h.c.Items())
	assert.Len(t, ex.Calls(), 1)
}

func TestBatchExtractAllStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil, nil, WithInterItemDelay(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	h.c.Add(Source{Filename: "a.png", Data: []byte("a")}, Source{Filename: "b.png", Data: []byte("b")})
	sum := h.c.ExtractAll(ctx)
	assert.Equal(t, 1, sum.Extracted)
	assert.True(t, sum.Interrupted)
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	done := make(chan struct{})
	go func() { c.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return; an armed retry was never accounted for")
	}
}

// queueManualBehindTimer fails a.png until its extractor has been called
// aFailures times. While b.png holds the call slot, a's automatic retry fires
// and queues first, then a manual full retry of a queues behind it.
func queueManualBehindTimer(t *testing.T, aFailures int) (*harness, string, int, error) {
	t.Helper()
	var (
		mu     sync.Mutex
		aCalls int
	)
	blocked := make(chan struct{})
	release := make(chan struct{})
	ex := &clienttest.Extractor{Fn: func(req client.ExtractRequest) (client.ExtractResult, error) {
		if strings.HasSuffix(req.ProofRef, "b.png") {
			close(blocked)
			<-release
			return client.ExtractResult{Steps: clienttest.IntPtr(2000), Date: "2026-01-12", Confidence: "high"}, nil
		}
		mu.Lock()
		aCalls++
		n := aCalls
		mu.Unlock()
		if n <= aFailures {
			return client.ExtractResult{}, unavailable()
		}
		return client.ExtractResult{Steps: clienttest.IntPtr(1000), Date: "2026-01-11", Confidence: "high"}, nil
	}}
	h := newHarness(t, nil, ex, WithPolicy(retry.NewPolicy([]time.Duration{time.Millisecond}, 3)))
	ctx := context.Background()

	ids := h.c.Add(Source{Filename: "a.png", Data: []byte("a")}, Source{Filename: "b.png", Data: []byte("b")})
	extracted := make(chan ExtractSummary, 1)
	go func() { extracted <- h.c.ExtractAll(ctx) }()

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("b.png never reached the extractor")
	}
	time.Sleep(30 * time.Millisecond)

	manual := make(chan error, 1)
	go func() { manual <- h.c.RetryFullExtraction(ctx, ids[0]) }()
	time.Sleep(30 * time.Millisecond)
	close(release)

	var err error
	select {
	case err = <-manual:
	case <-time.After(2 * time.Second):
		t.Fatal("manual retry did not return")
	}
	<-extracted
	waitIdle(t, h.c)

	mu.Lock()
	defer mu.Unlock()
	return h, ids[0], aCalls, err
}

func TestBatchManualRetryBehindFiredTimerSettles(t *testing.T) {
	// initial run, queued auto retry and manual retry all fail; the retry
	// armed by the manual run recovers the item.
	h, id, aCalls, err := queueManualBehindTimer(t, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, aCalls)

	it := h.item(t, id)
	assert.Equal(t, constants.StatusReview, it.Status)
	assert.Equal(t, 1, it.Retry.Count, "the manual retry restarted the budget")
	assert.False(t, it.Retry.AutoRetrying)
	assert.Equal(t, 2, h.up.Requests())
}

func TestBatchManualRetryReportsItemAlreadyRecovered(t *testing.T) {
	h, id, aCalls, err := queueManualBehindTimer(t, 1)
	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Contains(t, err.Error(), string(constants.StatusReview))
	assert.Equal(t, 2, aCalls, "the manual retry did not run the pipeline again")
	assert.Equal(t, constants.StatusReview, h.item(t, id).Status)

	require.NoError(t, h.c.Remove(id))
	assert.ErrorIs(t, h.c.RetryFullExtraction(context.Background(), id), common.ErrNotFound)
}

func TestBatchRetryFailedMixedBatch(t *testing.T) {
	var (
		mu    sync.Mutex
		seen  = map[string]int{}
		stamp = map[string]time.Time{}
	)
	ok := client.ExtractResult{Steps: clienttest.IntPtr(3000), Date: "2026-01-14", Confidence: "high"}
	ex := &clienttest.Extractor{Fn: func(req client.ExtractRequest) (client.ExtractResult, error) {
		name := req.ProofRef[strings.Index(req.ProofRef, "-")+1:]
		mu.Lock()
		seen[name]++
		n := seen[name]
		stamp[name] = time.Now()
		mu.Unlock()
		switch name {
		case "terminal.png":
			return client.ExtractResult{}, &common.HTTPError{StatusCode: http.StatusUnprocessableEntity}
		case "armed.png":
			return client.ExtractResult{}, unavailable()
		case "u1.png", "u2.png":
			if n == 1 {
				return client.ExtractResult{}, context.Canceled
			}
		}
		return ok, nil
	}}
	com := clienttest.NewCommitter()
	com.Errs = []error{unavailable()}
	const delay = 15 * time.Millisecond
	h := newHarness(t, com, ex,
		WithPolicy(retry.NewPolicy([]time.Duration{time.Hour}, 3)),
		WithInterItemDelay(delay),
	)
	ctx := context.Background()

	ids := h.c.Add(
		Source{Filename: "terminal.png", Data: []byte("t")},
		Source{Filename: "u1.png", Data: []byte("1")},
		Source{Filename: "cached.png", Data: []byte("c")},
		Source{Filename: "u2.png", Data: []byte("2")},
		Source{Filename: "armed.png", Data: []byte("w")},
	)
	terminal, u1, cached, u2, armed := ids[0], ids[1], ids[2], ids[3], ids[4]

	first := h.c.ExtractAll(ctx)
	assert.Equal(t, ExtractSummary{Extracted: 1, Failed: 3, Retrying: 1}, first)
	sub, err := h.c.SubmitReviewed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.ErrorCount)

	cachedItem := h.item(t, cached)
	require.True(t, cachedItem.HasCachedExtraction())
	require.True(t, h.item(t, armed).Retry.AutoRetrying)
	for _, id := range []string{u1, u2} {
		it := h.item(t, id)
		require.True(t, it.Retry.Retryable)
		require.False(t, it.Retry.AutoRetrying)
		require.Equal(t, string(common.KindCanceled), it.Retry.LastKind)
	}
	u1Ref := h.item(t, u1).ProofRef
	before := len(ex.Calls())
	terminalBefore := h.item(t, terminal)

	sum := h.c.RetryFailed(ctx)
	assert.Equal(t, ExtractSummary{Extracted: 2, Resubmitted: 1}, sum)

	calls := ex.Calls()[before:]
	require.Len(t, calls, 2)
	assert.True(t, strings.HasSuffix(calls[0].ProofRef, "u1.png"))
	assert.True(t, strings.HasSuffix(calls[1].ProofRef, "u2.png"))
	assert.Equal(t, u1Ref, calls[0].ProofRef, "re-extraction reuses the uploaded proof")
	mu.Lock()
	assert.GreaterOrEqual(t, stamp["u2.png"].Sub(stamp["u1.png"]), delay)
	assert.Equal(t, 1, seen["cached.png"])
	assert.Equal(t, 1, seen["terminal.png"])
	assert.Equal(t, 1, seen["armed.png"])
	mu.Unlock()
	assert.Equal(t, 5, h.up.Requests())

	assert.Equal(t, constants.StatusReview, h.item(t, u1).Status)
	assert.Equal(t, constants.StatusReview, h.item(t, u2).Status)
	assert.Equal(t, constants.StatusReview, h.item(t, cached).Status)
	assert.Equal(t, terminalBefore, h.item(t, terminal))

	w := h.item(t, armed)
	assert.Equal(t, constants.StatusError, w.Status)
	assert.True(t, w.Retry.AutoRetrying, "armed automatic retry is left alone")
	assert.Equal(t, 1, w.Retry.Count)
	assert.False(t, w.Retry.NextRetryAt.IsZero())
}
