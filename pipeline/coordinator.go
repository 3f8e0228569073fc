package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"rent591-notifier/models"
	"rent591-notifier/services"
	"rent591-notifier/storage"
	"rent591-notifier/utils"
)

// Fetcher is the slice of the scraper the coordinator needs. The real
// implementation is scraper/rent591.Fetcher; tests plug in stubs.
type Fetcher interface {
	FetchList(ctx context.Context, region, maxItems int) ([]*models.RawListItem, error)
	FetchDetail(ctx context.Context, id string) (*models.RawDetailItem, error)
}

// RawSink receives each cycle's raw list cards, e.g. the CSV dump writer.
type RawSink interface {
	WriteRaw(items []*models.RawListItem) error
}

// Options tunes one Coordinator.
type Options struct {
	MaxConcurrency int
	RateLimitMs    int
	ListMaxItems   int

	// InstantFetchCount is how many recent listings an instant run replays.
	InstantFetchCount int
	// InstantMatchAll widens an instant run from the triggering subscription
	// to every active subscription in the region.
	InstantMatchAll bool
}

// Coordinator drives one full crawl cycle per region: fetch the list page,
// claim new IDs, fetch details for listings a subscription might want,
// transform, persist, match and dispatch. Every cycle leaves a CrawlRun
// audit row behind, successful or not.
type Coordinator struct {
	fetcher     Fetcher
	transformer *services.Transformer
	matcher     *services.Matcher

	dedup    storage.DedupStore
	store    storage.ListingStore
	subs     storage.SubscriptionSource
	notifier storage.Notifier
	alerts   storage.AlertSink
	rawSink  RawSink

	opts   Options
	logger *utils.Logger
}

// NewCoordinator wires a Coordinator. rawSink may be nil.
func NewCoordinator(
	fetcher Fetcher,
	transformer *services.Transformer,
	matcher *services.Matcher,
	dedup storage.DedupStore,
	store storage.ListingStore,
	subs storage.SubscriptionSource,
	notifier storage.Notifier,
	alerts storage.AlertSink,
	rawSink RawSink,
	opts Options,
	logger *utils.Logger,
) *Coordinator {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Coordinator{
		fetcher:     fetcher,
		transformer: transformer,
		matcher:     matcher,
		dedup:       dedup,
		store:       store,
		subs:        subs,
		notifier:    notifier,
		alerts:      alerts,
		rawSink:     rawSink,
		opts:        opts,
		logger:      logger,
	}
}

// RunCycle executes one crawl cycle for a region and returns its audit row.
// A failed list fetch or subscription load aborts the whole cycle before any
// dedup state is written, so no listing can be swallowed unmatched.
func (c *Coordinator) RunCycle(ctx context.Context, region int) (*models.CrawlRun, error) {
	startedAt := time.Now()
	runID, err := c.store.StartRun(ctx, region, startedAt)
	if err != nil {
		return nil, fmt.Errorf("cycle region %d: %w", region, err)
	}

	run := &models.CrawlRun{
		ID:        runID,
		Region:    region,
		StartedAt: startedAt,
		Status:    models.RunStatusRunning,
	}

	items, err := c.fetcher.FetchList(ctx, region, c.opts.ListMaxItems)
	if err != nil {
		c.alerts.Alert(ctx, fmt.Sprintf("region %d: list fetch failed: %v", region, err))
		return c.failRun(ctx, run, fmt.Errorf("cycle region %d: list fetch: %w", region, err))
	}
	run.TotalFetched = len(items)

	subs, err := c.subs.ActiveForRegion(ctx, region)
	if err != nil {
		return c.failRun(ctx, run, fmt.Errorf("cycle region %d: load subscriptions: %w", region, err))
	}

	if c.rawSink != nil {
		if err := c.rawSink.WriteRaw(items); err != nil {
			c.logger.Warn("[pipeline] region %d: raw dump failed: %v", region, err)
		}
	}

	var mu sync.Mutex
	pool := utils.NewWorkerPool(c.opts.MaxConcurrency, c.opts.RateLimitMs)

	for _, item := range items {
		item := item
		id, err := strconv.ParseInt(item.ID, 10, 64)
		if err != nil || id == 0 {
			c.logger.Warn("[pipeline] region %d: skipping card with bad ID %q", region, item.ID)
			continue
		}

		isNew, err := c.dedup.CheckAndMark(ctx, region, id)
		if err != nil {
			c.logger.Error("[pipeline] region %d: dedup check for %d failed: %v", region, id, err)
			continue
		}

		if !isNew {
			if err := c.store.Touch(ctx, id, startedAt); err != nil {
				c.logger.Warn("[pipeline] region %d: touch %d failed: %v", region, id, err)
			}
			continue
		}

		mu.Lock()
		run.NewListings++
		mu.Unlock()

		// Price/area knowable from the card alone decide whether a detail
		// fetch can possibly pay off.
		probe := services.ProbeFromListItem(*item)
		wantDetail := len(subs) > 0 && c.matcher.MatchQuickAny(probe, subs)

		pool.Submit(func() {
			c.processItem(ctx, region, id, item, wantDetail, subs, run, &mu)
		})
	}

	pool.Wait()

	c.markInitialized(ctx, subs)

	run.Status = models.RunStatusSuccess
	run.FinishedAt = time.Now()
	if err := c.store.FinishRun(ctx, run); err != nil {
		c.logger.Error("[pipeline] region %d: finish run %d failed: %v", region, run.ID, err)
	}

	c.logger.Info("[pipeline] region %d cycle done — %d fetched, %d new, %d details, %d/%d notified",
		region, run.TotalFetched, run.NewListings, run.DetailFetched,
		run.BroadcastSuccess, run.BroadcastTotal)

	return run, nil
}

// processItem handles one newly claimed listing end to end. A persistence
// failure releases the dedup claim so the next cycle retries the listing.
func (c *Coordinator) processItem(
	ctx context.Context,
	region int,
	id int64,
	item *models.RawListItem,
	wantDetail bool,
	subs []*models.Subscription,
	run *models.CrawlRun,
	mu *sync.Mutex,
) {
	var detail *models.RawDetailItem
	if wantDetail {
		d, err := c.fetcher.FetchDetail(ctx, item.ID)
		if err != nil {
			c.logger.Warn("[pipeline] region %d: detail %d unavailable, keeping list-only record: %v", region, id, err)
		} else {
			detail = d
			mu.Lock()
			run.DetailFetched++
			mu.Unlock()
		}
	}

	listing := c.transformer.Transform(services.Combine(*item, detail))
	if listing.Region == 0 {
		listing.Region = region
	}
	now := time.Now()
	listing.IsActive = true
	listing.FirstSeenAt = now
	listing.LastSeenAt = now

	if err := c.store.Upsert(ctx, &listing); err != nil {
		c.logger.Error("[pipeline] region %d: persist %d failed, releasing claim: %v", region, id, err)
		if uerr := c.dedup.Unmark(ctx, region, id); uerr != nil {
			c.logger.Error("[pipeline] region %d: release claim %d failed: %v", region, id, uerr)
		}
		return
	}

	for _, sub := range subs {
		if !c.matcher.MatchFull(&listing, sub) {
			continue
		}
		if !sub.Initialized {
			// First cycle of a fresh subscription: match silently so the
			// existing backlog does not flood the user.
			c.logger.Debug("[pipeline] listing %d matches uninitialized subscription %d — not notifying", id, sub.ID)
			continue
		}

		mu.Lock()
		run.BroadcastTotal++
		mu.Unlock()

		if err := c.notifier.Dispatch(ctx, &listing, sub); err != nil {
			c.logger.Error("[pipeline] dispatch listing %d to subscription %d failed: %v", id, sub.ID, err)
			mu.Lock()
			run.BroadcastFailed++
			mu.Unlock()
			continue
		}
		mu.Lock()
		run.BroadcastSuccess++
		mu.Unlock()
	}
}

// RunInstant replays recent listings against a newly created subscription so
// the user gets immediate feedback instead of waiting for the next cycle.
// A region with no history gets a full cycle first to seed it.
func (c *Coordinator) RunInstant(ctx context.Context, sub *models.Subscription) error {
	known, err := c.store.CountKnown(ctx, sub.Region)
	if err != nil {
		return fmt.Errorf("instant run for subscription %d: %w", sub.ID, err)
	}
	if known == 0 {
		if _, err := c.RunCycle(ctx, sub.Region); err != nil {
			return fmt.Errorf("instant run for subscription %d: seed cycle: %w", sub.ID, err)
		}
	}

	listings, err := c.store.FindRecent(ctx, sub.Region, c.opts.InstantFetchCount)
	if err != nil {
		return fmt.Errorf("instant run for subscription %d: %w", sub.ID, err)
	}

	targets := []*models.Subscription{sub}
	if c.opts.InstantMatchAll {
		all, err := c.subs.ActiveForRegion(ctx, sub.Region)
		if err != nil {
			return fmt.Errorf("instant run for subscription %d: %w", sub.ID, err)
		}
		targets = all
	}

	notified := 0
	for _, listing := range listings {
		for _, target := range targets {
			if !c.matcher.MatchFull(listing, target) {
				continue
			}
			if err := c.notifier.Dispatch(ctx, listing, target); err != nil {
				c.logger.Error("[pipeline] instant dispatch listing %d to subscription %d failed: %v", listing.ID, target.ID, err)
				continue
			}
			notified++
		}
	}

	// An instant run counts as the subscription's first cycle.
	if err := c.subs.MarkInitialized(ctx, sub.ID); err != nil {
		c.logger.Warn("[pipeline] mark subscription %d initialized failed: %v", sub.ID, err)
	}
	sub.Initialized = true

	c.logger.Info("[pipeline] instant run for subscription %d — %d listings replayed, %d notifications", sub.ID, len(listings), notified)
	return nil
}

// markInitialized flips every subscription that just finished its silent
// first cycle.
func (c *Coordinator) markInitialized(ctx context.Context, subs []*models.Subscription) {
	for _, sub := range subs {
		if sub.Initialized {
			continue
		}
		if err := c.subs.MarkInitialized(ctx, sub.ID); err != nil {
			c.logger.Warn("[pipeline] mark subscription %d initialized failed: %v", sub.ID, err)
			continue
		}
		sub.Initialized = true
	}
}

// failRun closes the audit row as failed and returns the causing error.
func (c *Coordinator) failRun(ctx context.Context, run *models.CrawlRun, cause error) (*models.CrawlRun, error) {
	run.Status = models.RunStatusFailed
	run.FinishedAt = time.Now()
	run.ErrorMessage = cause.Error()
	if err := c.store.FinishRun(ctx, run); err != nil {
		c.logger.Error("[pipeline] region %d: finish failed run %d: %v", run.Region, run.ID, err)
	}
	return run, cause
}
