package services

import (
	"strings"
	"sync"

	"rent591-notifier/models"
	"rent591-notifier/utils"
)

// QuickProbe carries the two fields knowable before a detail fetch. Nil
// values mean "not parseable from the list page"; at the quick stage absence
// of evidence is never exclusion.
type QuickProbe struct {
	Price *int
	Area  *float64
}

// ProbeFromListItem builds a QuickProbe from list-page raw strings.
func ProbeFromListItem(item models.RawListItem) QuickProbe {
	return QuickProbe{
		Price: ParseQuickPrice(item.PriceRaw),
		Area:  ParseArea(item.AreaRaw),
	}
}

// Matcher evaluates listings against subscription predicate sets. Matching
// never fails: malformed subscriptions (min above max) degrade to "never
// matches" and are logged once per subscription, not once per listing.
type Matcher struct {
	logger *utils.Logger

	mu            sync.Mutex
	warnedBadSubs map[int64]struct{}
}

// NewMatcher creates a Matcher.
func NewMatcher(logger *utils.Logger) *Matcher {
	return &Matcher{
		logger:        logger,
		warnedBadSubs: make(map[int64]struct{}),
	}
}

// MatchQuick decides whether a listing is worth a detail fetch, using only
// the price and area range predicates. It returns true unless a parseable
// quick field definitively excludes the listing.
func (m *Matcher) MatchQuick(probe QuickProbe, sub *models.Subscription) bool {
	if !m.boundsValid(sub) {
		return false
	}
	if probe.Price != nil {
		if sub.PriceMin != nil && *probe.Price < *sub.PriceMin {
			return false
		}
		if sub.PriceMax != nil && *probe.Price > *sub.PriceMax {
			return false
		}
	}
	if probe.Area != nil {
		if sub.AreaMin != nil && *probe.Area < *sub.AreaMin {
			return false
		}
		if sub.AreaMax != nil && *probe.Area > *sub.AreaMax {
			return false
		}
	}
	return true
}

// MatchQuickAny reports whether any subscription might still match, i.e.
// whether a detail fetch can pay off at all.
func (m *Matcher) MatchQuickAny(probe QuickProbe, subs []*models.Subscription) bool {
	for _, sub := range subs {
		if m.MatchQuick(probe, sub) {
			return true
		}
	}
	return false
}

// MatchFull evaluates the complete predicate set: conjunctive across fields,
// disjunctive within a multi-valued field, subset semantics for tag fields.
// Unconfigured predicates always pass. A nil listing value against a
// configured predicate is a non-match, since inclusion cannot be proven. Listings
// without detail automatically fail the detail-only predicates (layout,
// gender, pet).
func (m *Matcher) MatchFull(l *models.Listing, sub *models.Subscription) bool {
	if !m.boundsValid(sub) {
		return false
	}

	// Detail-only predicates against a list-only listing: the fields were
	// never observed, so the predicate cannot be satisfied.
	if !l.HasDetail {
		if len(sub.Layouts) > 0 || sub.Gender != "" || sub.PetRequired {
			return false
		}
	}

	if !matchIntRange(l.Price, sub.PriceMin, sub.PriceMax) {
		return false
	}
	if !matchFloatRange(l.Area, sub.AreaMin, sub.AreaMax) {
		return false
	}
	if !matchIntRange(l.Floor, sub.FloorMin, sub.FloorMax) {
		return false
	}

	if !matchIntSet(l.Section, sub.Sections, false) {
		return false
	}
	if !matchIntSet(l.Kind, sub.Kinds, false) {
		return false
	}
	if !matchIntSet(l.Shape, sub.Shapes, false) {
		return false
	}
	if !matchIntSet(l.Fitment, sub.Fitments, false) {
		return false
	}
	// Layout and bathroom sets treat the value 4 as "4 or more".
	if !matchIntSet(l.Layout, sub.Layouts, true) {
		return false
	}
	if !matchIntSet(l.Bathroom, sub.Bathrooms, true) {
		return false
	}

	if sub.ExcludeRooftop && l.IsRooftop {
		return false
	}

	if sub.Gender != "" {
		if l.Gender != sub.Gender && l.Gender != models.GenderAll {
			return false
		}
	}

	if sub.PetRequired {
		if l.PetAllowed == nil || !*l.PetAllowed {
			return false
		}
	}

	if !matchSubset(l.Others, sub.Others) {
		return false
	}
	if !matchSubset(l.Options, sub.Options) {
		return false
	}

	return true
}

// boundsValid reports whether the subscription's range bounds are coherent.
// Contradictory bounds make the subscription unsatisfiable; that is logged
// once and every evaluation short-circuits to false.
func (m *Matcher) boundsValid(sub *models.Subscription) bool {
	bad := (sub.PriceMin != nil && sub.PriceMax != nil && *sub.PriceMin > *sub.PriceMax) ||
		(sub.AreaMin != nil && sub.AreaMax != nil && *sub.AreaMin > *sub.AreaMax) ||
		(sub.FloorMin != nil && sub.FloorMax != nil && *sub.FloorMin > *sub.FloorMax)
	if !bad {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, warned := m.warnedBadSubs[sub.ID]; !warned {
		m.warnedBadSubs[sub.ID] = struct{}{}
		m.logger.Warn("[matcher] subscription %d has contradictory bounds — it will never match", sub.ID)
	}
	return false
}

// matchIntRange checks an inclusive range predicate. Nil bounds are open;
// a nil value against a configured bound cannot prove inclusion.
func matchIntRange(value, min, max *int) bool {
	if min == nil && max == nil {
		return true
	}
	if value == nil {
		return false
	}
	if min != nil && *value < *min {
		return false
	}
	if max != nil && *value > *max {
		return false
	}
	return true
}

func matchFloatRange(value, min, max *float64) bool {
	if min == nil && max == nil {
		return true
	}
	if value == nil {
		return false
	}
	if min != nil && *value < *min {
		return false
	}
	if max != nil && *value > *max {
		return false
	}
	return true
}

// matchIntSet checks a set-membership predicate (OR within the set). With
// openTop, the configured value 4 accepts any listing value of 4 or more.
func matchIntSet(value *int, allowed []int, openTop bool) bool {
	if len(allowed) == 0 {
		return true
	}
	if value == nil {
		return false
	}
	for _, want := range allowed {
		if openTop && want == maxLayoutCode && *value >= maxLayoutCode {
			return true
		}
		if *value == want {
			return true
		}
	}
	return false
}

// matchSubset checks that every required code appears in the listing's set.
// Codes compare case-insensitively.
func matchSubset(have, required []string) bool {
	if len(required) == 0 {
		return true
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, code := range have {
		haveSet[strings.ToLower(code)] = struct{}{}
	}
	for _, code := range required {
		if _, ok := haveSet[strings.ToLower(code)]; !ok {
			return false
		}
	}
	return true
}
