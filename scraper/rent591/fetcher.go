package rent591

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rent591-notifier/models"
	"rent591-notifier/utils"
)

// Fetcher is the retry/fallback state machine over the two strategies.
//
// List pages only ever use the static strategy: rendering a full browser page
// per region index is too costly, so a list failure is surfaced to the caller
// and the region's cycle aborts. Detail pages get up to maxAttempts static
// tries (network failures and structurally empty responses both count as
// retryable), then a single browser attempt before the detail is declared
// unavailable.
type Fetcher struct {
	list     ListStrategy
	detail   DetailStrategy
	fallback DetailStrategy

	maxAttempts int
	retryDelay  time.Duration
	logger      *utils.Logger
}

// Options configures a Fetcher built on the real strategies.
type Options struct {
	ChromeBin      string
	FetchTimeout   time.Duration
	BrowserTimeout time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
}

// New creates a Fetcher wired to the static and browser strategies.
func New(opts Options, logger *utils.Logger) *Fetcher {
	static := NewStaticFetcher(opts.FetchTimeout, logger)
	browser := NewBrowserFetcher(opts.ChromeBin, opts.BrowserTimeout, logger)
	return NewWithStrategies(static, static, browser, opts.MaxAttempts, opts.RetryDelay, logger)
}

// NewWithStrategies creates a Fetcher from explicit strategies. Tests use it
// to exercise the retry/fallback policy with stubs instead of the network.
func NewWithStrategies(list ListStrategy, detail, fallback DetailStrategy, maxAttempts int, retryDelay time.Duration, logger *utils.Logger) *Fetcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Fetcher{
		list:        list,
		detail:      detail,
		fallback:    fallback,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger,
	}
}

// FetchList fetches a region's index page. Transient errors are retried up to
// the attempt budget; a structurally empty page is fatal immediately, as there
// is no fallback strategy for list pages, so retrying a page the site has
// restructured cannot help.
func (f *Fetcher) FetchList(ctx context.Context, region, maxItems int) ([]*models.RawListItem, error) {
	var lastErr error
	delay := f.retryDelay

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		items, err := f.list.FetchList(ctx, region, maxItems)
		if err == nil {
			f.logger.Info("[fetcher] region %d list fetched — %d items (attempt %d)", region, len(items), attempt)
			return items, nil
		}
		lastErr = err

		if errors.Is(err, ErrStructuralEmpty) {
			f.logger.Error("[fetcher] region %d list page structurally empty — aborting", region)
			break
		}
		f.logger.Warn("[fetcher] region %d list attempt %d/%d failed: %v", region, attempt, f.maxAttempts, err)

		if attempt < f.maxAttempts {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("list fetch for region %d aborted: %w", region, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("list fetch for region %d failed: %w", region, lastErr)
}

// FetchDetail fetches one detail page: static attempts first, one browser
// attempt as the last resort. Every attempt outcome is logged so a noisy
// site shows up in diagnostics rather than as silent data loss.
func (f *Fetcher) FetchDetail(ctx context.Context, id string) (*models.RawDetailItem, error) {
	var lastErr error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		item, err := f.detail.FetchDetail(ctx, id)
		if err == nil {
			f.logger.Debug("[fetcher] detail %s fetched (static, attempt %d)", id, attempt)
			return item, nil
		}
		lastErr = err
		f.logger.Warn("[fetcher] detail %s static attempt %d/%d failed: %v", id, attempt, f.maxAttempts, err)

		if attempt < f.maxAttempts && f.retryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("detail fetch %s aborted: %w", id, ctx.Err())
			case <-time.After(f.retryDelay):
			}
		}
	}

	f.logger.Warn("[fetcher] detail %s static attempts exhausted — falling back to browser", id)

	item, err := f.fallback.FetchDetail(ctx, id)
	if err != nil {
		f.logger.Error("[fetcher] detail %s failed on every strategy: %v", id, err)
		return nil, fmt.Errorf("detail fetch %s exhausted all strategies (last static error: %v): %w", id, lastErr, err)
	}

	f.logger.Info("[fetcher] detail %s recovered via browser fallback", id)
	return item, nil
}
