package models

import "time"

// Subscription is one user's saved filter set, scoped to a single region.
// The pipeline only reads subscriptions; creating and editing them is the
// API layer's business. An empty/nil predicate field means "no filter", not
// "filter on the empty set".
type Subscription struct {
	ID     int64
	UserID int64
	Name   string
	Region int

	// Range predicates, inclusive on both ends; nil bound = open.
	PriceMin *int
	PriceMax *int
	AreaMin  *float64
	AreaMax  *float64
	FloorMin *int
	FloorMax *int

	// Set-membership predicates: listing value must be one of these.
	// For Layouts and Bathrooms the value 4 means "4 or more".
	Sections  []int
	Kinds     []int
	Layouts   []int
	Bathrooms []int
	Shapes    []int
	Fitments  []int

	// Subset predicates: every listed code must appear on the listing.
	Options []string
	Others  []string

	// "boy" wants boy-or-all, "girl" wants girl-or-all, "" = no filter.
	Gender string

	ExcludeRooftop bool
	PetRequired    bool

	// A fresh subscription is matched but not notified on its first cycle,
	// so that the backlog of already-listed rentals does not flood the user.
	Initialized bool
}

// CrawlRun is the audit row for one (region, cycle) pair.
type CrawlRun struct {
	ID         int64
	Region     int
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string // "running" | "success" | "failed"

	TotalFetched     int
	NewListings      int
	DetailFetched    int
	BroadcastTotal   int
	BroadcastSuccess int
	BroadcastFailed  int

	ErrorMessage string
}

// CrawlRun status values.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Gender codes shared by listings and subscriptions.
const (
	GenderBoy  = "boy"
	GenderGirl = "girl"
	GenderAll  = "all"
)
