package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"rent591-notifier/models"
)

// PostgresStore persists listings, crawl audit rows and subscriptions in
// PostgreSQL. It implements both ListingStore and SubscriptionSource.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return s, nil
}

// NewPostgresStoreWithDB wraps an existing connection without migrating.
// Tests use it with a mock driver.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id                   BIGINT PRIMARY KEY,
			url                  TEXT         NOT NULL,
			title                TEXT         NOT NULL DEFAULT '',
			region               INT          NOT NULL,
			section              INT,
			kind                 INT,
			kind_name            VARCHAR(50)  NOT NULL DEFAULT '',
			price                INT,
			area                 NUMERIC(8,2),
			floor                INT,
			total_floor          INT,
			is_rooftop           BOOLEAN      NOT NULL DEFAULT FALSE,
			layout               INT,
			layout_raw           VARCHAR(50)  NOT NULL DEFAULT '',
			bathroom             INT,
			shape                INT,
			fitment              INT,
			gender               VARCHAR(10)  NOT NULL DEFAULT 'all',
			pet_allowed          BOOLEAN,
			address              TEXT         NOT NULL DEFAULT '',
			tags                 TEXT[]       NOT NULL DEFAULT '{}',
			options              TEXT[]       NOT NULL DEFAULT '{}',
			others               TEXT[]       NOT NULL DEFAULT '{}',
			surrounding_type     VARCHAR(20)  NOT NULL DEFAULT '',
			surrounding_desc     TEXT         NOT NULL DEFAULT '',
			surrounding_distance INT,
			has_detail           BOOLEAN      NOT NULL DEFAULT FALSE,
			is_active            BOOLEAN      NOT NULL DEFAULT TRUE,
			first_seen_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_seen_at         TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_region      ON listings(region);
		CREATE INDEX IF NOT EXISTS idx_listings_price       ON listings(price);
		CREATE INDEX IF NOT EXISTS idx_listings_last_seen   ON listings(last_seen_at);

		CREATE TABLE IF NOT EXISTS crawl_runs (
			id                BIGSERIAL PRIMARY KEY,
			region            INT          NOT NULL,
			started_at        TIMESTAMPTZ  NOT NULL,
			finished_at       TIMESTAMPTZ,
			status            VARCHAR(20)  NOT NULL DEFAULT 'running',
			total_fetched     INT          NOT NULL DEFAULT 0,
			new_listings      INT          NOT NULL DEFAULT 0,
			detail_fetched    INT          NOT NULL DEFAULT 0,
			broadcast_total   INT          NOT NULL DEFAULT 0,
			broadcast_success INT          NOT NULL DEFAULT 0,
			broadcast_failed  INT          NOT NULL DEFAULT 0,
			error_message     TEXT         NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_crawl_runs_region ON crawl_runs(region, started_at);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id              BIGSERIAL PRIMARY KEY,
			user_id         BIGINT       NOT NULL,
			name            VARCHAR(100) NOT NULL DEFAULT '',
			region          INT          NOT NULL,
			price_min       INT,
			price_max       INT,
			area_min        NUMERIC(8,2),
			area_max        NUMERIC(8,2),
			floor_min       INT,
			floor_max       INT,
			sections        INT[]        NOT NULL DEFAULT '{}',
			kinds           INT[]        NOT NULL DEFAULT '{}',
			layouts         INT[]        NOT NULL DEFAULT '{}',
			bathrooms       INT[]        NOT NULL DEFAULT '{}',
			shapes          INT[]        NOT NULL DEFAULT '{}',
			fitments        INT[]        NOT NULL DEFAULT '{}',
			options         TEXT[]       NOT NULL DEFAULT '{}',
			others          TEXT[]       NOT NULL DEFAULT '{}',
			gender          VARCHAR(10)  NOT NULL DEFAULT '',
			exclude_rooftop BOOLEAN      NOT NULL DEFAULT FALSE,
			pet_required    BOOLEAN      NOT NULL DEFAULT FALSE,
			initialized     BOOLEAN      NOT NULL DEFAULT FALSE,
			is_active       BOOLEAN      NOT NULL DEFAULT TRUE
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_region ON subscriptions(region) WHERE is_active;
	`)
	return err
}

const listingColumns = `id, url, title, region, section, kind, kind_name,
	price, area, floor, total_floor, is_rooftop, layout, layout_raw,
	bathroom, shape, fitment, gender, pet_allowed, address,
	tags, options, others,
	surrounding_type, surrounding_desc, surrounding_distance,
	has_detail, is_active, first_seen_at, last_seen_at`

// Upsert inserts a listing or refreshes an existing row. first_seen_at is
// written once at insert and never touched again.
func (s *PostgresStore) Upsert(ctx context.Context, l *models.Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			region = EXCLUDED.region,
			section = EXCLUDED.section,
			kind = EXCLUDED.kind,
			kind_name = EXCLUDED.kind_name,
			price = EXCLUDED.price,
			area = EXCLUDED.area,
			floor = EXCLUDED.floor,
			total_floor = EXCLUDED.total_floor,
			is_rooftop = EXCLUDED.is_rooftop,
			layout = EXCLUDED.layout,
			layout_raw = EXCLUDED.layout_raw,
			bathroom = EXCLUDED.bathroom,
			shape = EXCLUDED.shape,
			fitment = EXCLUDED.fitment,
			gender = EXCLUDED.gender,
			pet_allowed = EXCLUDED.pet_allowed,
			address = EXCLUDED.address,
			tags = EXCLUDED.tags,
			options = EXCLUDED.options,
			others = EXCLUDED.others,
			surrounding_type = EXCLUDED.surrounding_type,
			surrounding_desc = EXCLUDED.surrounding_desc,
			surrounding_distance = EXCLUDED.surrounding_distance,
			has_detail = EXCLUDED.has_detail,
			is_active = EXCLUDED.is_active,
			last_seen_at = EXCLUDED.last_seen_at
	`,
		l.ID, l.URL, l.Title, l.Region, l.Section, l.Kind, l.KindName,
		l.Price, l.Area, l.Floor, l.TotalFloor, l.IsRooftop, l.Layout, l.LayoutRaw,
		l.Bathroom, l.Shape, l.Fitment, l.Gender, l.PetAllowed, l.Address,
		pq.Array(l.Tags), pq.Array(l.Options), pq.Array(l.Others),
		l.SurroundingType, l.SurroundingDesc, l.SurroundingDistance,
		l.HasDetail, l.IsActive, l.FirstSeenAt, l.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %d: %w", l.ID, err)
	}
	return nil
}

// Touch refreshes last_seen_at and reactivates a known listing.
func (s *PostgresStore) Touch(ctx context.Context, id int64, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE listings SET last_seen_at = $2, is_active = TRUE WHERE id = $1
	`, id, seenAt)
	if err != nil {
		return fmt.Errorf("postgres: touch listing %d: %w", id, err)
	}
	return nil
}

// FindRecent returns up to limit active listings for a region, newest first.
func (s *PostgresStore) FindRecent(ctx context.Context, region, limit int) ([]*models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE region = $1 AND is_active
		ORDER BY first_seen_at DESC
		LIMIT $2
	`, region, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: find recent: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func scanListing(rows *sql.Rows) (*models.Listing, error) {
	l := &models.Listing{}
	var tags, options, others pq.StringArray
	if err := rows.Scan(
		&l.ID, &l.URL, &l.Title, &l.Region, &l.Section, &l.Kind, &l.KindName,
		&l.Price, &l.Area, &l.Floor, &l.TotalFloor, &l.IsRooftop, &l.Layout, &l.LayoutRaw,
		&l.Bathroom, &l.Shape, &l.Fitment, &l.Gender, &l.PetAllowed, &l.Address,
		&tags, &options, &others,
		&l.SurroundingType, &l.SurroundingDesc, &l.SurroundingDistance,
		&l.HasDetail, &l.IsActive, &l.FirstSeenAt, &l.LastSeenAt,
	); err != nil {
		return nil, fmt.Errorf("postgres: scan listing: %w", err)
	}
	l.Tags = tags
	l.Options = options
	l.Others = others
	return l, nil
}

// CountKnown returns how many listings a region has accumulated.
func (s *PostgresStore) CountKnown(ctx context.Context, region int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE region = $1`, region,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count listings: %w", err)
	}
	return n, nil
}

// StartRun opens an audit row for one region cycle and returns its ID.
func (s *PostgresStore) StartRun(ctx context.Context, region int, startedAt time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO crawl_runs (region, started_at, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`, region, startedAt, models.RunStatusRunning).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: start run: %w", err)
	}
	return id, nil
}

// FinishRun closes the audit row with the cycle's final counters.
func (s *PostgresStore) FinishRun(ctx context.Context, run *models.CrawlRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE crawl_runs SET
			finished_at = $2,
			status = $3,
			total_fetched = $4,
			new_listings = $5,
			detail_fetched = $6,
			broadcast_total = $7,
			broadcast_success = $8,
			broadcast_failed = $9,
			error_message = $10
		WHERE id = $1
	`,
		run.ID, run.FinishedAt, run.Status,
		run.TotalFetched, run.NewListings, run.DetailFetched,
		run.BroadcastTotal, run.BroadcastSuccess, run.BroadcastFailed,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run %d: %w", run.ID, err)
	}
	return nil
}

const subscriptionColumns = `id, user_id, name, region,
	price_min, price_max, area_min, area_max, floor_min, floor_max,
	sections, kinds, layouts, bathrooms, shapes, fitments,
	options, others, gender, exclude_rooftop, pet_required, initialized`

// ActiveForRegion returns the active subscriptions watching a region.
func (s *PostgresStore) ActiveForRegion(ctx context.Context, region int) ([]*models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE region = $1 AND is_active
		ORDER BY id
	`, region)
	if err != nil {
		return nil, fmt.Errorf("postgres: load subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub := &models.Subscription{}
		var sections, kinds, layouts, bathrooms, shapes, fitments pq.Int64Array
		var options, others pq.StringArray
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Name, &sub.Region,
			&sub.PriceMin, &sub.PriceMax, &sub.AreaMin, &sub.AreaMax, &sub.FloorMin, &sub.FloorMax,
			&sections, &kinds, &layouts, &bathrooms, &shapes, &fitments,
			&options, &others, &sub.Gender, &sub.ExcludeRooftop, &sub.PetRequired, &sub.Initialized,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan subscription: %w", err)
		}
		sub.Sections = toIntSlice(sections)
		sub.Kinds = toIntSlice(kinds)
		sub.Layouts = toIntSlice(layouts)
		sub.Bathrooms = toIntSlice(bathrooms)
		sub.Shapes = toIntSlice(shapes)
		sub.Fitments = toIntSlice(fitments)
		sub.Options = options
		sub.Others = others
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ActiveRegions returns the distinct regions with at least one active
// subscription. The scheduler only crawls regions somebody watches.
func (s *PostgresStore) ActiveRegions(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT region FROM subscriptions WHERE is_active ORDER BY region
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: active regions: %w", err)
	}
	defer rows.Close()

	var regions []int
	for rows.Next() {
		var region int
		if err := rows.Scan(&region); err != nil {
			return nil, fmt.Errorf("postgres: scan region: %w", err)
		}
		regions = append(regions, region)
	}
	return regions, rows.Err()
}

// MarkInitialized flips a subscription out of its silent first cycle.
func (s *PostgresStore) MarkInitialized(ctx context.Context, subscriptionID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET initialized = TRUE WHERE id = $1
	`, subscriptionID)
	if err != nil {
		return fmt.Errorf("postgres: mark subscription %d initialized: %w", subscriptionID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func toIntSlice(arr pq.Int64Array) []int {
	if len(arr) == 0 {
		return nil
	}
	out := make([]int, len(arr))
	for i, v := range arr {
		out[i] = int(v)
	}
	return out
}
