package pipeline

import (
	"context"
	"sync"
	"time"

	"rent591-notifier/models"
	"rent591-notifier/storage"
	"rent591-notifier/utils"
)

// CycleRunner is the coordinator surface the scheduler drives.
type CycleRunner interface {
	RunCycle(ctx context.Context, region int) (*models.CrawlRun, error)
	RunInstant(ctx context.Context, sub *models.Subscription) error
}

// ScheduleConfig holds the day/night cadence. During the night window
// (NightStartHour inclusive to NightEndHour exclusive, local time) cycles run
// on fixed wall-clock boundaries instead of the rolling day interval, so a
// fleet of regions settles onto the same quiet-hours rhythm.
type ScheduleConfig struct {
	DayInterval    time.Duration
	NightInterval  time.Duration
	NightStartHour int
	NightEndHour   int
}

// NextRun computes when a region should crawl again, given when its last
// cycle finished. Day cadence rolls from the last finish; a slot landing in
// the night window snaps forward to the next night boundary.
func NextRun(cfg ScheduleConfig, now, lastFinished time.Time) time.Time {
	next := lastFinished.Add(cfg.DayInterval)
	if next.Before(now) {
		next = now
	}
	if !inNightWindow(cfg, next) {
		return next
	}
	return nextNightBoundary(cfg, next)
}

func inNightWindow(cfg ScheduleConfig, t time.Time) bool {
	if cfg.NightStartHour == cfg.NightEndHour {
		return false
	}
	h := t.Hour()
	if cfg.NightStartHour < cfg.NightEndHour {
		return h >= cfg.NightStartHour && h < cfg.NightEndHour
	}
	// Window wraps midnight, e.g. 23 to 6.
	return h >= cfg.NightStartHour || h < cfg.NightEndHour
}

// nightWindowStart returns the most recent window start at or before t.
// t must be inside the window.
func nightWindowStart(cfg ScheduleConfig, t time.Time) time.Time {
	start := time.Date(t.Year(), t.Month(), t.Day(), cfg.NightStartHour, 0, 0, 0, t.Location())
	if start.After(t) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// nextNightBoundary snaps t forward to the next NightInterval multiple past
// the window start. A boundary at or beyond the window end resolves to the
// window end, where the day cadence resumes.
func nextNightBoundary(cfg ScheduleConfig, t time.Time) time.Time {
	start := nightWindowStart(cfg, t)

	end := time.Date(start.Year(), start.Month(), start.Day(), cfg.NightEndHour, 0, 0, 0, start.Location())
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	steps := t.Sub(start)/cfg.NightInterval + 1
	boundary := start.Add(steps * cfg.NightInterval)
	if !boundary.Before(end) {
		return end
	}
	return boundary
}

// Scheduler runs one crawl loop per watched region and a side channel for
// instant runs triggered by new subscriptions. Instant runs never reset a
// region's timer.
type Scheduler struct {
	runner CycleRunner
	subs   storage.SubscriptionSource
	cfg    ScheduleConfig
	logger *utils.Logger

	instant chan *models.Subscription
}

// NewScheduler creates a Scheduler.
func NewScheduler(runner CycleRunner, subs storage.SubscriptionSource, cfg ScheduleConfig, logger *utils.Logger) *Scheduler {
	return &Scheduler{
		runner:  runner,
		subs:    subs,
		cfg:     cfg,
		logger:  logger,
		instant: make(chan *models.Subscription, 16),
	}
}

// TriggerInstant enqueues an instant run for a fresh subscription. Returns
// false when the queue is full; the subscription still gets picked up by the
// region's next scheduled cycle.
func (s *Scheduler) TriggerInstant(sub *models.Subscription) bool {
	select {
	case s.instant <- sub:
		return true
	default:
		s.logger.Warn("[scheduler] instant queue full, subscription %d waits for the next cycle", sub.ID)
		return false
	}
}

// Run blocks until ctx is cancelled, crawling every region with at least one
// active subscription on the configured cadence.
func (s *Scheduler) Run(ctx context.Context) error {
	regions, err := s.subs.ActiveRegions(ctx)
	if err != nil {
		return err
	}
	if len(regions) == 0 {
		s.logger.Warn("[scheduler] no active subscriptions, nothing to crawl")
	}

	var wg sync.WaitGroup
	for _, region := range regions {
		region := region
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.regionLoop(ctx, region)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.instantLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) regionLoop(ctx context.Context, region int) {
	s.logger.Info("[scheduler] region %d loop started", region)
	for {
		if _, err := s.runner.RunCycle(ctx, region); err != nil {
			s.logger.Error("[scheduler] region %d cycle failed: %v", region, err)
		}

		next := NextRun(s.cfg, time.Now(), time.Now())
		s.logger.Debug("[scheduler] region %d next cycle at %s", region, next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			s.logger.Info("[scheduler] region %d loop stopped", region)
			return
		case <-time.After(time.Until(next)):
		}
	}
}

func (s *Scheduler) instantLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-s.instant:
			if err := s.runner.RunInstant(ctx, sub); err != nil {
				s.logger.Error("[scheduler] instant run for subscription %d failed: %v", sub.ID, err)
			}
		}
	}
}
