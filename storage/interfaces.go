package storage

import (
	"context"
	"time"

	"rent591-notifier/models"
)

// DedupStore is the fast key-presence cache the coordinator consults before
// spending a detail fetch. CheckAndMark must be a single conditional write so
// that two concurrent cycles can never both claim the same new ID.
type DedupStore interface {
	Exists(ctx context.Context, region int, id int64) (bool, error)
	// CheckAndMark atomically marks the ID as seen and reports whether this
	// call was the one that marked it.
	CheckAndMark(ctx context.Context, region int, id int64) (bool, error)
	// Unmark removes a claim, used when persistence fails so the listing is
	// retried on the next cycle.
	Unmark(ctx context.Context, region int, id int64) error
	MarkSeen(ctx context.Context, region int, id int64) error
	CountSeen(ctx context.Context, region int) (int64, error)
}

// ListingStore is the durable relational store for listings and crawl audit
// rows.
type ListingStore interface {
	Upsert(ctx context.Context, listing *models.Listing) error
	// Touch refreshes last_seen_at and the active flag of a known listing.
	Touch(ctx context.Context, id int64, seenAt time.Time) error
	FindRecent(ctx context.Context, region, limit int) ([]*models.Listing, error)
	CountKnown(ctx context.Context, region int) (int, error)

	StartRun(ctx context.Context, region int, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, run *models.CrawlRun) error
}

// SubscriptionSource provides the active filter sets for a region. The
// pipeline never writes subscriptions except to flip the initialized flag
// after a subscription's first cycle.
type SubscriptionSource interface {
	ActiveForRegion(ctx context.Context, region int) ([]*models.Subscription, error)
	ActiveRegions(ctx context.Context) ([]int, error)
	MarkInitialized(ctx context.Context, subscriptionID int64) error
}

// Notifier delivers one matched (listing, subscription) pair downstream.
// Retrying failed deliveries is the dispatcher's concern, not the pipeline's.
type Notifier interface {
	Dispatch(ctx context.Context, listing *models.Listing, sub *models.Subscription) error
}

// AlertSink receives operator alerts, e.g. when a region's list fetch fails
// outright and the cycle has to abort.
type AlertSink interface {
	Alert(ctx context.Context, message string)
}
