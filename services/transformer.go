package services

import (
	"regexp"
	"strconv"
	"strings"

	"rent591-notifier/models"
)

var (
	// leadingIntRegexp captures the integer a price string starts with,
	// after separators are stripped.
	leadingIntRegexp = regexp.MustCompile(`^(\d+)`)
	// decimalRegexp captures the first decimal number in an area string.
	decimalRegexp = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	// numberRangeRegexp captures "15000-20000" style ranges (lower bound wins).
	numberRangeRegexp = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[-~]\s*\d`)
	// digitsRegexp finds a digit run anywhere, for the loose list-page parsers.
	digitsRegexp = regexp.MustCompile(`\d+`)
	// basementRegexp matches basement markers like "B1", "b2".
	basementRegexp = regexp.MustCompile(`^[Bb](\d+)`)
	// totalFloorRegexp captures the total-floor half of "3F/5F" or "3/5".
	totalFloorRegexp = regexp.MustCompile(`/\s*(\d+)`)
	// roomRegexp and bathRegexp pull counts out of "3房2廳1衛".
	roomRegexp = regexp.MustCompile(`(\d+)房`)
	bathRegexp = regexp.MustCompile(`(\d+)衛`)
	// surroundingRegexp splits "距信義安和站353公尺" into name and metres.
	surroundingRegexp = regexp.MustCompile(`距(.+?)(\d+)公尺`)
)

// maxLayoutCode is the "4 or more" bucket rooms collapse into.
const maxLayoutCode = 4

// Transformer converts combined raw records into canonical listings. It is a
// pure, deterministic mapping: unparseable sub-fields become nil, never a
// guessed default, and no input ever makes it fail.
type Transformer struct {
	mappings *Mappings
}

// NewTransformer creates a Transformer using the given keyword tables.
func NewTransformer(mappings *Mappings) *Transformer {
	return &Transformer{mappings: mappings}
}

// Transform maps a combined raw record onto the canonical Listing shape.
// Timestamps, region fallback and activity flags are the coordinator's
// business; this only covers the 1:1 field mapping.
func (t *Transformer) Transform(c models.CombinedRawItem) models.Listing {
	floor, totalFloor, isRooftop := ParseFloor(c.FloorRaw)
	layout, bathroom := ParseLayout(c.LayoutRaw)
	gender, petFromRule := ParseRule(c.RuleRaw)

	listing := models.Listing{
		ID:         parseID(c.ID),
		URL:        c.URL,
		Title:      normaliseText(c.Title),
		Region:     parseCode(c.RegionRaw),
		Section:    parseCodePtr(c.SectionRaw),
		Kind:       parseCodePtr(c.KindRaw),
		KindName:   normaliseText(c.KindName),
		Price:      ParsePrice(c.PriceRaw),
		Area:       ParseArea(c.AreaRaw),
		Floor:      floor,
		TotalFloor: totalFloor,
		IsRooftop:  isRooftop,
		Layout:     layout,
		LayoutRaw:  c.LayoutRaw,
		Bathroom:   bathroom,
		Shape:      ParseShape(c.ShapeRaw, t.mappings),
		Fitment:    ParseFitment(c.FitmentRaw, t.mappings),
		Gender:     gender,
		Address:    normaliseAddress(c.Address),
		Tags:       append([]string(nil), c.Tags...),
		HasDetail:  c.HasDetail,
	}

	// Pets: the detail rule text is authoritative; tags are the fallback.
	// Both leave nil when the source never mentions pets.
	if petFromRule != nil {
		listing.PetAllowed = petFromRule
	} else {
		listing.PetAllowed = ParsePetFromTags(c.Tags)
	}

	// Equipment codes come from the detail options block plus any
	// equipment-looking tags; feature codes come from tags alone.
	listing.Options = convertToCodes(t.mappings.Options, append(append([]string(nil), c.Options...), c.Tags...))
	listing.Others = convertToCodes(t.mappings.Others, c.Tags)

	listing.SurroundingType = c.SurroundingType
	listing.SurroundingDesc, listing.SurroundingDistance = ParseSurrounding(c.SurroundingRaw)

	return listing
}

// ParsePrice extracts the leading integer from a price string that may carry
// thousand separators and a unit suffix ("15,000元/月" → 15000). Nil when the
// string holds no digits.
func ParsePrice(raw string) *int {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(raw)
	m := leadingIntRegexp.FindStringSubmatch(cleaned)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// ParseQuickPrice is the looser list-page variant used by the pre-filter.
// It accepts digits anywhere, takes the lower bound of "15,000-20,000元/月"
// ranges, and treats "面議" (negotiable) as unknown.
func ParseQuickPrice(raw string) *int {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(raw)
	if cleaned == "" || strings.Contains(cleaned, "面議") {
		return nil
	}
	if m := numberRangeRegexp.FindStringSubmatch(cleaned); m != nil {
		if n, err := strconv.Atoi(strings.SplitN(m[1], ".", 2)[0]); err == nil {
			return &n
		}
	}
	m := digitsRegexp.FindString(cleaned)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

// ParseArea extracts a decimal from an area string ("10.5 坪" → 10.5).
// Range strings resolve to the lower bound. Nil when no number is present.
func ParseArea(raw string) *float64 {
	cleaned := strings.NewReplacer(" ", "", "約", "").Replace(raw)
	if cleaned == "" {
		return nil
	}
	var text string
	if m := numberRangeRegexp.FindStringSubmatch(cleaned); m != nil {
		text = m[1]
	} else if m := decimalRegexp.FindStringSubmatch(cleaned); m != nil {
		text = m[1]
	} else {
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	return &f
}

// ParseFloor parses floor strings into (floor, totalFloor, isRooftop).
//
//	"3F/5F"    → 3, 5, false
//	"3/5"      → 3, 5, false
//	"頂樓加蓋/5F" → 0, 5, true
//	"B2/8F"    → −2, 8, false
//	"整棟"      → nil, nil, false
func ParseFloor(raw string) (*int, *int, bool) {
	if raw == "" {
		return nil, nil, false
	}

	isRooftop := strings.Contains(raw, "頂") && strings.Contains(raw, "加")

	var totalFloor *int
	if m := totalFloorRegexp.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			totalFloor = &n
		}
	}

	var floor *int
	switch {
	case isRooftop:
		zero := 0
		floor = &zero
	case basementRegexp.MatchString(raw):
		m := basementRegexp.FindStringSubmatch(raw)
		if n, err := strconv.Atoi(m[1]); err == nil {
			neg := -n
			floor = &neg
		}
	default:
		if m := leadingIntRegexp.FindStringSubmatch(raw); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				floor = &n
			}
		}
	}

	return floor, totalFloor, isRooftop
}

// ParseLayout pulls the room and bathroom counts out of a layout string like
// "3房2廳1衛". Room counts of four or more collapse into the 4+ bucket.
// Strings without a room segment ("開放格局") yield nil counts.
func ParseLayout(raw string) (rooms *int, bathrooms *int) {
	if raw == "" {
		return nil, nil
	}
	if m := roomRegexp.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if n > maxLayoutCode {
				n = maxLayoutCode
			}
			rooms = &n
		}
	}
	if m := bathRegexp.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			bathrooms = &n
		}
	}
	return rooms, bathrooms
}

// ParseRule reads the occupant-rule text from a detail page, e.g.
// "此房屋限男生租住，不可養寵物". Gender defaults to "all"; the pet flag is
// tri-state and stays nil when the text never mentions pets.
func ParseRule(raw string) (gender string, petAllowed *bool) {
	gender = models.GenderAll
	if raw == "" {
		return gender, nil
	}

	if strings.Contains(raw, "限男") {
		gender = models.GenderBoy
	} else if strings.Contains(raw, "限女") {
		gender = models.GenderGirl
	}

	// "不可養寵物" contains "可養寵物", so the negative form must win.
	switch {
	case strings.Contains(raw, "不可養") || strings.Contains(raw, "禁養"):
		no := false
		petAllowed = &no
	case strings.Contains(raw, "可養寵"):
		yes := true
		petAllowed = &yes
	}

	return gender, petAllowed
}

// ParsePetFromTags resolves the pet tri-state from list-page tags. Nil when
// no tag mentions pets at all.
func ParsePetFromTags(tags []string) *bool {
	for _, tag := range tags {
		if strings.Contains(tag, "不可養") || strings.Contains(tag, "禁養") {
			no := false
			return &no
		}
		if strings.Contains(tag, "可養寵") {
			yes := true
			return &yes
		}
	}
	return nil
}

// ParseShape maps building-shape free text onto the shape enumeration.
func ParseShape(raw string, m *Mappings) *int {
	code, ok := matchKeyword(m.Shape, raw)
	if !ok {
		return nil
	}
	return &code
}

// ParseFitment maps fitment free text onto the fitment enumeration.
// "--" is the site's explicit "not stated" marker.
func ParseFitment(raw string, m *Mappings) *int {
	if raw == "--" {
		return nil
	}
	code, ok := matchKeyword(m.Fitment, raw)
	if !ok {
		return nil
	}
	return &code
}

// ParseSurrounding splits "距信義安和站353公尺" into the station name and the
// distance in metres.
func ParseSurrounding(raw string) (string, *int) {
	m := surroundingRegexp.FindStringSubmatch(raw)
	if m == nil {
		return "", nil
	}
	dist, err := strconv.Atoi(m[2])
	if err != nil {
		return m[1], nil
	}
	return m[1], &dist
}

func parseID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func parseCode(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

func parseCodePtr(raw string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &n
}

// normaliseText collapses internal whitespace and trims the ends.
func normaliseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normaliseAddress strips the separators the site sprinkles into addresses
// ("永和區-永和路" → "永和區永和路").
func normaliseAddress(s string) string {
	return strings.NewReplacer("-", "", " ", "").Replace(s)
}
