package rent591

import (
	"context"
	"errors"

	"rent591-notifier/models"
)

const (
	listURLFormat   = "https://rent.591.com.tw/list?region=%d&sort=posttime_desc"
	detailURLFormat = "https://rent.591.com.tw/%s"

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ErrStructuralEmpty marks a page that came back parseable but without the
// tags/cards the extractor requires. For detail pages this is retryable, for
// list pages it aborts the cycle.
var ErrStructuralEmpty = errors.New("rent591: page parsed but required elements missing")

// ListStrategy fetches a region's index page.
type ListStrategy interface {
	FetchList(ctx context.Context, region, maxItems int) ([]*models.RawListItem, error)
}

// DetailStrategy fetches one listing's detail page by external ID.
type DetailStrategy interface {
	FetchDetail(ctx context.Context, id string) (*models.RawDetailItem, error)
}
