package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rent591-notifier/models"
	"rent591-notifier/services"
	"rent591-notifier/utils"
)

type fakeFetcher struct {
	mu          sync.Mutex
	listItems   []*models.RawListItem
	listErr     error
	details     map[string]*models.RawDetailItem
	detailErr   error
	detailCalls []string
}

func (f *fakeFetcher) FetchList(_ context.Context, _, _ int) ([]*models.RawListItem, error) {
	return f.listItems, f.listErr
}

func (f *fakeFetcher) FetchDetail(_ context.Context, id string) (*models.RawDetailItem, error) {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, id)
	f.mu.Unlock()
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	if d, ok := f.details[id]; ok {
		return d, nil
	}
	return nil, errors.New("no such detail")
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
	err  error
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: make(map[string]struct{})}
}

func (d *fakeDedup) key(region int, id int64) string { return fmt.Sprintf("%d/%d", region, id) }

func (d *fakeDedup) Exists(_ context.Context, region int, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[d.key(region, id)]
	return ok, d.err
}

func (d *fakeDedup) CheckAndMark(_ context.Context, region int, id int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	k := d.key(region, id)
	if _, ok := d.seen[k]; ok {
		return false, nil
	}
	d.seen[k] = struct{}{}
	return true, nil
}

func (d *fakeDedup) Unmark(_ context.Context, region int, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, d.key(region, id))
	return nil
}

func (d *fakeDedup) MarkSeen(_ context.Context, region int, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[d.key(region, id)] = struct{}{}
	return nil
}

func (d *fakeDedup) CountSeen(_ context.Context, _ int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen)), nil
}

type fakeStore struct {
	mu        sync.Mutex
	upserts   map[int64]*models.Listing
	upsertErr error
	touched   []int64
	runs      []*models.CrawlRun
	finished  []*models.CrawlRun
	known     int
	recent    []*models.Listing
	nextRunID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserts: make(map[int64]*models.Listing)}
}

func (s *fakeStore) Upsert(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	cp := *l
	s.upserts[l.ID] = &cp
	return nil
}

func (s *fakeStore) Touch(_ context.Context, id int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func (s *fakeStore) FindRecent(_ context.Context, _, limit int) ([]*models.Listing, error) {
	if limit < len(s.recent) {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

func (s *fakeStore) CountKnown(_ context.Context, _ int) (int, error) {
	return s.known, nil
}

func (s *fakeStore) StartRun(_ context.Context, region int, startedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunID++
	s.runs = append(s.runs, &models.CrawlRun{ID: s.nextRunID, Region: region, StartedAt: startedAt})
	return s.nextRunID, nil
}

func (s *fakeStore) FinishRun(_ context.Context, run *models.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.finished = append(s.finished, &cp)
	return nil
}

type fakeSubs struct {
	mu          sync.Mutex
	subs        []*models.Subscription
	err         error
	initialized []int64
}

func (f *fakeSubs) ActiveForRegion(_ context.Context, _ int) ([]*models.Subscription, error) {
	return f.subs, f.err
}

func (f *fakeSubs) ActiveRegions(_ context.Context) ([]int, error) {
	regions := map[int]struct{}{}
	var out []int
	for _, sub := range f.subs {
		if _, ok := regions[sub.Region]; !ok {
			regions[sub.Region] = struct{}{}
			out = append(out, sub.Region)
		}
	}
	return out, f.err
}

func (f *fakeSubs) MarkInitialized(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = append(f.initialized, id)
	return nil
}

type dispatched struct {
	listingID int64
	subID     int64
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []dispatched
	err  error
}

func (n *fakeNotifier) Dispatch(_ context.Context, l *models.Listing, sub *models.Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, dispatched{listingID: l.ID, subID: sub.ID})
	return nil
}

type fakeAlerts struct {
	mu       sync.Mutex
	messages []string
}

func (a *fakeAlerts) Alert(_ context.Context, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg)
}

type testRig struct {
	fetcher  *fakeFetcher
	dedup    *fakeDedup
	store    *fakeStore
	subs     *fakeSubs
	notifier *fakeNotifier
	alerts   *fakeAlerts
	coord    *Coordinator
}

func newTestRig(opts Options) *testRig {
	logger := utils.NewLogger()
	rig := &testRig{
		fetcher:  &fakeFetcher{details: map[string]*models.RawDetailItem{}},
		dedup:    newFakeDedup(),
		store:    newFakeStore(),
		subs:     &fakeSubs{},
		notifier: &fakeNotifier{},
		alerts:   &fakeAlerts{},
	}
	rig.coord = NewCoordinator(
		rig.fetcher,
		services.NewTransformer(services.DefaultMappings()),
		services.NewMatcher(logger),
		rig.dedup, rig.store, rig.subs, rig.notifier, rig.alerts, nil,
		opts, logger,
	)
	return rig
}

func listCard(region int, id, price string) *models.RawListItem {
	return &models.RawListItem{
		Region:   region,
		ID:       id,
		URL:      "https://rent.591.com.tw/" + id,
		Title:    "市區套房",
		PriceRaw: price,
	}
}

func detailPage(id string) *models.RawDetailItem {
	return &models.RawDetailItem{
		ID:        id,
		Title:     "市區套房",
		PriceRaw:  "18,000元/月",
		LayoutRaw: "2房1衛",
		RuleRaw:   "此房屋限女生租住，可養寵物",
		Tags:      []string{"有陽台", "可養寵物"},
	}
}

func TestRunCycleNotifiesMatchingSubscription(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "101", "18,000元/月")}
	rig.fetcher.details["101"] = detailPage("101")
	rig.subs.subs = []*models.Subscription{{ID: 7, Region: 1, Initialized: true}}

	run, err := rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.TotalFetched)
	assert.Equal(t, 1, run.NewListings)
	assert.Equal(t, 1, run.DetailFetched)
	assert.Equal(t, 1, run.BroadcastSuccess)

	require.Len(t, rig.notifier.sent, 1)
	assert.Equal(t, int64(101), rig.notifier.sent[0].listingID)
	assert.Equal(t, int64(7), rig.notifier.sent[0].subID)

	stored, ok := rig.store.upserts[101]
	require.True(t, ok, "listing must be persisted")
	assert.True(t, stored.HasDetail)
	assert.Equal(t, 18000, *stored.Price)
}

func TestRunCycleSeenListingOnlyTouched(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "101", "18,000元/月")}
	rig.fetcher.details["101"] = detailPage("101")
	rig.subs.subs = []*models.Subscription{{ID: 7, Region: 1, Initialized: true}}

	_, err := rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	run, err := rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0, run.NewListings)
	assert.Equal(t, []int64{101}, rig.store.touched)
	assert.Len(t, rig.notifier.sent, 1, "a seen listing must not notify again")
}

func TestRunCycleListFailureAlertsAndAborts(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	rig.fetcher.listErr = errors.New("status 429")

	run, err := rig.coord.RunCycle(context.Background(), 1)
	require.Error(t, err)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)
	assert.Len(t, rig.alerts.messages, 1)
	require.Len(t, rig.store.finished, 1)
	assert.Equal(t, models.RunStatusFailed, rig.store.finished[0].Status)
}

func TestRunCycleSubscriptionLoadFailureAbortsBeforeDedup(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "101", "18,000元/月")}
	rig.subs.err = errors.New("db down")

	_, err := rig.coord.RunCycle(context.Background(), 1)
	require.Error(t, err)

	exists, _ := rig.dedup.Exists(context.Background(), 1, 101)
	assert.False(t, exists, "no dedup claim may be written when subscriptions cannot load")
}

func TestRunCycleQuickFilterSkipsDetailButPersists(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	// Card price 30000 is above every subscription's budget.
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "101", "30,000元/月")}
	max := 20000
	rig.subs.subs = []*models.Subscription{{ID: 7, Region: 1, PriceMax: &max, Initialized: true}}

	run, err := rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	assert.Empty(t, rig.fetcher.detailCalls, "no subscription can match, detail fetch is wasted money")
	assert.Equal(t, 0, run.DetailFetched)
	assert.Empty(t, rig.notifier.sent)

	stored, ok := rig.store.upserts[101]
	require.True(t, ok, "pre-filtered listings are still recorded")
	assert.False(t, stored.HasDetail)
}

func TestRunCycleDetailFailureKeepsListOnlyRecord(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "101", "18,000元/月")}
	rig.fetcher.detailErr = errors.New("every strategy failed")
	rig.subs.subs = []*models.Subscription{{ID: 7, Region: 1, Initialized: true}}

	run, err := rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, run.NewListings)
	assert.Equal(t, 0, run.DetailFetched)

	stored, ok := rig.store.upserts[101]
	require.True(t, ok)
	assert.False(t, stored.HasDetail)
	// A subscription with no detail-only predicates still matches.
	assert.Len(t, rig.notifier.sent, 1)
}

func TestRunCyclePersistFailureReleasesClaim(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "101", "18,000元/月")}
	rig.fetcher.details["101"] = detailPage("101")
	rig.store.upsertErr = errors.New("disk full")
	rig.subs.subs = []*models.Subscription{{ID: 7, Region: 1, Initialized: true}}

	_, err := rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	exists, _ := rig.dedup.Exists(context.Background(), 1, 101)
	assert.False(t, exists, "failed persistence must release the claim for the next cycle")
	assert.Empty(t, rig.notifier.sent, "an unpersisted listing must not notify")
}

func TestRunCycleUninitializedSubscriptionMatchesSilently(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "101", "18,000元/月")}
	rig.fetcher.details["101"] = detailPage("101")
	rig.subs.subs = []*models.Subscription{{ID: 7, Region: 1, Initialized: false}}

	run, err := rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	assert.Empty(t, rig.notifier.sent, "first cycle of a fresh subscription is silent")
	assert.Equal(t, 0, run.BroadcastTotal)
	assert.Equal(t, []int64{7}, rig.subs.initialized)

	// Second cycle with a new listing notifies normally.
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "102", "18,000元/月")}
	rig.fetcher.details["102"] = detailPage("102")

	_, err = rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rig.notifier.sent, 1)
	assert.Equal(t, int64(102), rig.notifier.sent[0].listingID)
}

func TestRunCycleListOnlyListingMatchesDetailFreeSubscription(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "101", "12,000元/月")}
	rig.fetcher.detailErr = errors.New("site throttled")

	min, max := 8000, 15000
	priceOnly := &models.Subscription{ID: 1, Region: 1, PriceMin: &min, PriceMax: &max, Initialized: true}
	petToo := &models.Subscription{ID: 2, Region: 1, PriceMin: &min, PriceMax: &max, PetRequired: true, Initialized: true}
	rig.subs.subs = []*models.Subscription{priceOnly, petToo}

	_, err := rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	stored, ok := rig.store.upserts[101]
	require.True(t, ok, "the listing must be persisted despite the failed detail fetch")
	assert.False(t, stored.HasDetail)

	require.Len(t, rig.notifier.sent, 1, "only the subscription without detail-only predicates may match")
	assert.Equal(t, int64(1), rig.notifier.sent[0].subID)
}

func TestRunCycleSkipsCardsWithBadID(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2})
	rig.fetcher.listItems = []*models.RawListItem{
		listCard(1, "not-a-number", "18,000元/月"),
		listCard(1, "101", "18,000元/月"),
	}
	rig.fetcher.details["101"] = detailPage("101")

	run, err := rig.coord.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, run.NewListings)
	_, ok := rig.store.upserts[101]
	assert.True(t, ok)
}

func TestRunInstantReplaysRecentListings(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2, InstantFetchCount: 10})
	price := 18000
	yes := true
	rig.store.known = 2
	rig.store.recent = []*models.Listing{
		{ID: 201, Region: 1, Price: &price, Gender: models.GenderAll, PetAllowed: &yes, HasDetail: true, IsActive: true},
		{ID: 202, Region: 1, Price: &price, Gender: models.GenderBoy, HasDetail: true, IsActive: true},
	}
	sub := &models.Subscription{ID: 9, Region: 1, Gender: models.GenderGirl}

	require.NoError(t, rig.coord.RunInstant(context.Background(), sub))

	require.Len(t, rig.notifier.sent, 1, "only the gender-compatible listing notifies")
	assert.Equal(t, int64(201), rig.notifier.sent[0].listingID)
	assert.Equal(t, []int64{9}, rig.subs.initialized)
	assert.True(t, sub.Initialized)
	assert.Empty(t, rig.store.runs, "a warm region needs no seed cycle")
}

func TestRunInstantSeedsEmptyRegion(t *testing.T) {
	rig := newTestRig(Options{MaxConcurrency: 2, InstantFetchCount: 10})
	rig.fetcher.listItems = []*models.RawListItem{listCard(1, "101", "18,000元/月")}
	rig.fetcher.details["101"] = detailPage("101")
	sub := &models.Subscription{ID: 9, Region: 1}
	rig.subs.subs = []*models.Subscription{sub}

	require.NoError(t, rig.coord.RunInstant(context.Background(), sub))

	assert.Len(t, rig.store.runs, 1, "an empty region is seeded with a full cycle first")
}
