package selection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/joseph-ayodele/steps-tracker/constants"
	"github.com/joseph-ayodele/steps-tracker/internal/client"
	"github.com/joseph-ayodele/steps-tracker/internal/common"
	"github.com/joseph-ayodele/steps-tracker/internal/entity"
)

// Page fetch retry settings.
const (
	fetchAttempts = 3
	fetchDelay    = 200 * time.Millisecond
)

// Resolver turns a selection into concrete record ids at execution time.
type Resolver struct {
	lister   client.RecordLister
	pageSize int
	delay    time.Duration
	logger   *slog.Logger
}

func NewResolver(lister client.RecordLister, pageSize int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Resolver{lister: lister, pageSize: pageSize, delay: fetchDelay, logger: logger}
}

// CheckScope refuses a proxy view that names no proxy.
func CheckScope(f entity.RecordFilter) error {
	if f.ViewContext == constants.ViewProxy && f.ProxyID == "" {
		return common.ErrProxyRequired
	}
	return nil
}

// Resolve returns the ids sel targets. AllMatching is re-listed page by page,
// so records added or removed since the user escalated are accounted for.
func (r *Resolver) Resolve(ctx context.Context, sel Selection) ([]string, error) {
	switch s := sel.(type) {
	case ExplicitIDs:
		return dedupe(s.IDs), nil
	case AllMatching:
		if err := CheckScope(s.Filter); err != nil {
			return nil, err
		}
		return r.listAll(ctx, s.Filter)
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown selection %T", common.ErrInvalidInput, sel)
}

func (r *Resolver) listAll(ctx context.Context, f entity.RecordFilter) ([]string, error) {
	var ids []string
	for page := 1; ; page++ {
		p, err := r.fetch(ctx, f, page)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}
		for _, rec := range p.Items {
			ids = append(ids, rec.ID)
		}
		// Servers may clamp the page size, so a short page is not the end.
		if len(p.Items) == 0 || len(ids) >= p.Total {
			break
		}
	}
	ids = dedupe(ids)
	r.logger.Debug("selection.resolve.all_matching", "count", len(ids))
	return ids, nil
}

func (r *Resolver) fetch(ctx context.Context, f entity.RecordFilter, page int) (entity.RecordPage, error) {
	return retry.DoWithData(
		func() (entity.RecordPage, error) {
			return r.lister.List(ctx, f, page, r.pageSize)
		},
		retry.Context(ctx),
		retry.Attempts(fetchAttempts),
		retry.Delay(r.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(common.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("selection.resolve.page_retry", "page", page, "attempt", n+1, "error", err)
		}),
	)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
