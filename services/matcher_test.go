package services

import (
	"testing"

	"rent591-notifier/models"
	"rent591-notifier/utils"
)

func newTestMatcher() *Matcher { return NewMatcher(utils.NewLogger()) }

func fullListing() *models.Listing {
	price := 18000
	area := 12.5
	floor := 3
	layout := 2
	bathroom := 1
	shape := 2
	pet := true
	return &models.Listing{
		ID:         101,
		Region:     1,
		Price:      &price,
		Area:       &area,
		Floor:      &floor,
		Layout:     &layout,
		Bathroom:   &bathroom,
		Shape:      &shape,
		Gender:     models.GenderAll,
		PetAllowed: &pet,
		Options:    []string{"cold", "washer"},
		Others:     []string{"near_subway", "pet"},
		HasDetail:  true,
	}
}

func TestMatchFullUnconfiguredSubscriptionMatchesEverything(t *testing.T) {
	m := newTestMatcher()
	sub := &models.Subscription{ID: 1, Region: 1}

	if !m.MatchFull(fullListing(), sub) {
		t.Error("a subscription with no predicates must match any listing")
	}
	if !m.MatchFull(&models.Listing{ID: 9, Region: 1}, sub) {
		t.Error("a subscription with no predicates must match even an all-nil listing")
	}
}

func TestMatchFullInclusiveRangeBounds(t *testing.T) {
	m := newTestMatcher()
	l := fullListing()

	tests := []struct {
		name string
		sub  models.Subscription
		want bool
	}{
		{"price at min", models.Subscription{ID: 1, PriceMin: intp(18000)}, true},
		{"price at max", models.Subscription{ID: 2, PriceMax: intp(18000)}, true},
		{"price below min", models.Subscription{ID: 3, PriceMin: intp(18001)}, false},
		{"price above max", models.Subscription{ID: 4, PriceMax: intp(17999)}, false},
		{"area inside", models.Subscription{ID: 5, AreaMin: floatp(10), AreaMax: floatp(15)}, true},
		{"floor at both bounds", models.Subscription{ID: 6, FloorMin: intp(3), FloorMax: intp(3)}, true},
	}

	for _, tt := range tests {
		if got := m.MatchFull(l, &tt.sub); got != tt.want {
			t.Errorf("%s: MatchFull = %v; want %v", tt.name, got, tt.want)
		}
	}
}

func TestMatchFullNilValueAgainstConfiguredPredicate(t *testing.T) {
	m := newTestMatcher()
	l := fullListing()
	l.Price = nil
	l.Shape = nil

	if m.MatchFull(l, &models.Subscription{ID: 1, PriceMin: intp(1)}) {
		t.Error("a nil price cannot prove inclusion in a configured price range")
	}
	if m.MatchFull(l, &models.Subscription{ID: 2, Shapes: []int{1, 2}}) {
		t.Error("a nil shape cannot prove membership in a configured shape set")
	}
	if !m.MatchFull(l, &models.Subscription{ID: 3}) {
		t.Error("nil values against unconfigured predicates must still match")
	}
}

func TestMatchFullSetMembership(t *testing.T) {
	m := newTestMatcher()
	l := fullListing()

	if !m.MatchFull(l, &models.Subscription{ID: 1, Shapes: []int{1, 2, 3}}) {
		t.Error("shape 2 must satisfy the set {1,2,3}")
	}
	if m.MatchFull(l, &models.Subscription{ID: 2, Shapes: []int{3, 4}}) {
		t.Error("shape 2 must fail the set {3,4}")
	}
}

func TestMatchFullLayoutFourPlusBucket(t *testing.T) {
	m := newTestMatcher()
	l := fullListing()
	five := 5
	l.Layout = &five

	if !m.MatchFull(l, &models.Subscription{ID: 1, Layouts: []int{4}}) {
		t.Error("layout 5 must satisfy the 4+ bucket")
	}
	if m.MatchFull(l, &models.Subscription{ID: 2, Layouts: []int{3}}) {
		t.Error("layout 5 must not satisfy an exact smaller value")
	}
}

func TestMatchFullSubsetPredicates(t *testing.T) {
	m := newTestMatcher()
	l := fullListing()

	if !m.MatchFull(l, &models.Subscription{ID: 1, Options: []string{"cold"}}) {
		t.Error("required option present must match")
	}
	if !m.MatchFull(l, &models.Subscription{ID: 2, Options: []string{"COLD", "Washer"}}) {
		t.Error("subset comparison must be case-insensitive")
	}
	if m.MatchFull(l, &models.Subscription{ID: 3, Options: []string{"cold", "tv"}}) {
		t.Error("a missing required option must fail the whole subset")
	}
	if !m.MatchFull(l, &models.Subscription{ID: 4, Others: []string{"pet", "near_subway"}}) {
		t.Error("every required feature present must match")
	}
}

func TestMatchFullGender(t *testing.T) {
	m := newTestMatcher()

	l := fullListing() // gender all
	if !m.MatchFull(l, &models.Subscription{ID: 1, Gender: models.GenderGirl}) {
		t.Error("an unrestricted listing must satisfy any gender preference")
	}

	l.Gender = models.GenderBoy
	if m.MatchFull(l, &models.Subscription{ID: 2, Gender: models.GenderGirl}) {
		t.Error("a boys-only listing must fail a girl preference")
	}
	if !m.MatchFull(l, &models.Subscription{ID: 3, Gender: models.GenderBoy}) {
		t.Error("a boys-only listing must satisfy a boy preference")
	}
	if !m.MatchFull(l, &models.Subscription{ID: 4}) {
		t.Error("no gender preference must match regardless of listing gender")
	}
}

func TestMatchFullPetRequired(t *testing.T) {
	m := newTestMatcher()

	l := fullListing()
	if !m.MatchFull(l, &models.Subscription{ID: 1, PetRequired: true}) {
		t.Error("pets explicitly allowed must satisfy PetRequired")
	}

	no := false
	l.PetAllowed = &no
	if m.MatchFull(l, &models.Subscription{ID: 2, PetRequired: true}) {
		t.Error("pets forbidden must fail PetRequired")
	}

	l.PetAllowed = nil
	if m.MatchFull(l, &models.Subscription{ID: 3, PetRequired: true}) {
		t.Error("unknown pet policy cannot satisfy PetRequired")
	}
	if !m.MatchFull(l, &models.Subscription{ID: 4}) {
		t.Error("unknown pet policy with no requirement must match")
	}
}

func TestMatchFullRooftopExclusion(t *testing.T) {
	m := newTestMatcher()
	l := fullListing()
	l.IsRooftop = true

	if m.MatchFull(l, &models.Subscription{ID: 1, ExcludeRooftop: true}) {
		t.Error("a rooftop addition must fail ExcludeRooftop")
	}
	if !m.MatchFull(l, &models.Subscription{ID: 2}) {
		t.Error("a rooftop addition without the exclusion must match")
	}
}

func TestMatchFullListOnlyListingFailsDetailPredicates(t *testing.T) {
	m := newTestMatcher()
	l := fullListing()
	l.HasDetail = false

	if m.MatchFull(l, &models.Subscription{ID: 1, Layouts: []int{2}}) {
		t.Error("a list-only listing must fail a layout predicate")
	}
	if m.MatchFull(l, &models.Subscription{ID: 2, Gender: models.GenderGirl}) {
		t.Error("a list-only listing must fail a gender predicate")
	}
	if m.MatchFull(l, &models.Subscription{ID: 3, PetRequired: true}) {
		t.Error("a list-only listing must fail a pet predicate")
	}
	if !m.MatchFull(l, &models.Subscription{ID: 4, PriceMax: intp(20000)}) {
		t.Error("a list-only listing must still satisfy list-derivable predicates")
	}
}

func TestMatchFullContradictoryBoundsNeverMatch(t *testing.T) {
	m := newTestMatcher()
	l := fullListing()
	sub := &models.Subscription{ID: 1, PriceMin: intp(20000), PriceMax: intp(10000)}

	for i := 0; i < 3; i++ {
		if m.MatchFull(l, sub) {
			t.Fatal("contradictory bounds must never match")
		}
	}
}

func TestMatchFullRelaxationIsMonotonic(t *testing.T) {
	m := newTestMatcher()
	l := fullListing()

	strict := &models.Subscription{
		ID:       1,
		PriceMin: intp(10000), PriceMax: intp(20000),
		AreaMin: floatp(10), AreaMax: floatp(20),
		Shapes:  []int{2},
		Layouts: []int{2},
		Options: []string{"cold"},
		Gender:  models.GenderGirl,
	}
	if !m.MatchFull(l, strict) {
		t.Fatal("baseline subscription must match the listing")
	}

	relaxations := []*models.Subscription{
		{ID: 2, AreaMin: floatp(10), AreaMax: floatp(20), Shapes: []int{2}, Layouts: []int{2}, Options: []string{"cold"}, Gender: models.GenderGirl},
		{ID: 3, PriceMin: intp(10000), PriceMax: intp(20000), Shapes: []int{2}, Layouts: []int{2}, Options: []string{"cold"}, Gender: models.GenderGirl},
		{ID: 4, PriceMin: intp(10000), PriceMax: intp(20000), AreaMin: floatp(10), AreaMax: floatp(20), Layouts: []int{2}, Options: []string{"cold"}, Gender: models.GenderGirl},
		{ID: 5, PriceMin: intp(10000), PriceMax: intp(20000), AreaMin: floatp(10), AreaMax: floatp(20), Shapes: []int{2}, Layouts: []int{2}, Gender: models.GenderGirl},
		{ID: 6, PriceMin: intp(10000), PriceMax: intp(20000), AreaMin: floatp(10), AreaMax: floatp(20), Shapes: []int{2}, Layouts: []int{2}, Options: []string{"cold"}},
	}
	for _, relaxed := range relaxations {
		if !m.MatchFull(l, relaxed) {
			t.Errorf("subscription %d: removing a predicate must never turn a match into a non-match", relaxed.ID)
		}
	}
}

func TestMatchQuickAbsenceNeverExcludes(t *testing.T) {
	m := newTestMatcher()
	sub := &models.Subscription{ID: 1, PriceMin: intp(10000), PriceMax: intp(20000), AreaMin: floatp(10)}

	if !m.MatchQuick(QuickProbe{}, sub) {
		t.Error("an empty probe must pass; absence of evidence is not exclusion")
	}
	if !m.MatchQuick(QuickProbe{Price: intp(15000)}, sub) {
		t.Error("in-range price with unknown area must pass")
	}
	if m.MatchQuick(QuickProbe{Price: intp(25000)}, sub) {
		t.Error("a parseable out-of-range price must exclude")
	}
	if m.MatchQuick(QuickProbe{Price: intp(15000), Area: floatp(5)}, sub) {
		t.Error("a parseable out-of-range area must exclude")
	}
}

func TestMatchQuickAny(t *testing.T) {
	m := newTestMatcher()
	subs := []*models.Subscription{
		{ID: 1, PriceMax: intp(10000)},
		{ID: 2, PriceMin: intp(30000)},
	}

	if !m.MatchQuickAny(QuickProbe{Price: intp(8000)}, subs) {
		t.Error("probe satisfying one subscription must pass")
	}
	if m.MatchQuickAny(QuickProbe{Price: intp(20000)}, subs) {
		t.Error("probe satisfying no subscription must fail")
	}
	if m.MatchQuickAny(QuickProbe{Price: intp(8000)}, nil) {
		t.Error("no subscriptions means no possible payoff")
	}
}

func TestProbeFromListItem(t *testing.T) {
	probe := ProbeFromListItem(models.RawListItem{
		PriceRaw: "15,000-20,000元/月",
		AreaRaw:  "約10.5坪",
	})
	if probe.Price == nil || *probe.Price != 15000 {
		t.Errorf("probe price = %v; want range lower bound 15000", deref(probe.Price))
	}
	if probe.Area == nil || *probe.Area != 10.5 {
		t.Errorf("probe area = %v; want 10.5", derefF(probe.Area))
	}

	probe = ProbeFromListItem(models.RawListItem{PriceRaw: "面議"})
	if probe.Price != nil || probe.Area != nil {
		t.Error("negotiable price and missing area must probe as unknown")
	}
}
