package models

import "time"

// RawListItem holds the fields scraped from one card on a 591 list page.
// Produced per crawl cycle, consumed by the combiner, never persisted as-is.
type RawListItem struct {
	Region    int
	ID        string
	URL       string
	Title     string
	PriceRaw  string
	AreaRaw   string
	FloorRaw  string
	LayoutRaw string
	KindName  string
	Address   string
	Tags      []string
}

// RawDetailItem holds the fields scraped from a 591 detail page.
// Detail pages are best-effort: a listing exists even if this is never fetched.
type RawDetailItem struct {
	ID         string
	Title      string
	PriceRaw   string
	AreaRaw    string
	FloorRaw   string
	LayoutRaw  string
	Address    string
	RegionRaw  string
	SectionRaw string
	KindRaw    string
	RuleRaw    string
	ShapeRaw   string
	FitmentRaw string
	Options    []string
	Tags       []string

	SurroundingType string
	SurroundingRaw  string
}

// CombinedRawItem merges a list card with its detail page. Detail fields win
// where both exist; the layout string is only ever taken from detail because
// list-page layout strings never carry the bath count.
type CombinedRawItem struct {
	ID         string
	URL        string
	Title      string
	PriceRaw   string
	AreaRaw    string
	FloorRaw   string
	LayoutRaw  string
	KindName   string
	Address    string
	RegionRaw  string
	SectionRaw string
	KindRaw    string
	RuleRaw    string
	ShapeRaw   string
	FitmentRaw string
	Options    []string
	Tags       []string

	SurroundingType string
	SurroundingRaw  string

	HasDetail bool
}

// Listing is the canonical, typed rental record stored in PostgreSQL.
// Nil pointer fields mean the source text could not be parsed; parsers never
// guess a default. The external ID is immutable once created and FirstSeenAt
// never changes after the first observation.
type Listing struct {
	ID       int64
	URL      string
	Title    string
	Region   int
	Section  *int
	Kind     *int
	KindName string

	Price      *int
	Area       *float64
	Floor      *int
	TotalFloor *int
	IsRooftop  bool
	Layout     *int // room count, 4 means "4 or more"
	LayoutRaw  string
	Bathroom   *int
	Shape      *int
	Fitment    *int

	Gender     string // "boy" | "girl" | "all"
	PetAllowed *bool  // nil = source does not mention pets

	Address string
	Tags    []string
	Options []string // equipment codes, e.g. "washer", "icebox"
	Others  []string // feature codes, e.g. "near_subway", "pet"

	SurroundingType     string
	SurroundingDesc     string
	SurroundingDistance *int

	HasDetail   bool
	IsActive    bool
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}
