package services

import "rent591-notifier/models"

// Combine merges a list card with its detail page into one raw record.
// Pure function, no I/O. When detail is nil the output carries only the
// list-page fields and HasDetail=false.
//
// Priority rules, mirroring where each field is authoritative on the source:
//   - ID, URL, KindName: list only
//   - Title, PriceRaw, AreaRaw, FloorRaw, Address: detail wins when non-empty
//   - LayoutRaw: detail ONLY; list layout strings never include the bath
//     count, so a list value must not leak into the combined record
//   - Tags: merged, list order first, deduplicated
//   - Region/Section/Kind codes, rule, shape, fitment, options,
//     surrounding: detail only
func Combine(list models.RawListItem, detail *models.RawDetailItem) models.CombinedRawItem {
	combined := models.CombinedRawItem{
		ID:       list.ID,
		URL:      list.URL,
		Title:    list.Title,
		PriceRaw: list.PriceRaw,
		AreaRaw:  list.AreaRaw,
		FloorRaw: list.FloorRaw,
		KindName: list.KindName,
		Address:  list.Address,
		Tags:     append([]string(nil), list.Tags...),
	}

	if detail == nil {
		return combined
	}

	combined.HasDetail = true
	combined.LayoutRaw = detail.LayoutRaw

	if detail.Title != "" {
		combined.Title = detail.Title
	}
	if detail.PriceRaw != "" {
		combined.PriceRaw = detail.PriceRaw
	}
	if detail.AreaRaw != "" {
		combined.AreaRaw = detail.AreaRaw
	}
	if detail.FloorRaw != "" {
		combined.FloorRaw = detail.FloorRaw
	}
	if detail.Address != "" {
		combined.Address = detail.Address
	}

	combined.RegionRaw = detail.RegionRaw
	combined.SectionRaw = detail.SectionRaw
	combined.KindRaw = detail.KindRaw
	combined.RuleRaw = detail.RuleRaw
	combined.ShapeRaw = detail.ShapeRaw
	combined.FitmentRaw = detail.FitmentRaw
	combined.Options = append([]string(nil), detail.Options...)
	combined.SurroundingType = detail.SurroundingType
	combined.SurroundingRaw = detail.SurroundingRaw

	combined.Tags = mergeTags(list.Tags, detail.Tags)

	return combined
}

// mergeTags concatenates list tags and detail tags, keeping list-page order
// first and dropping duplicates.
func mergeTags(listTags, detailTags []string) []string {
	seen := make(map[string]struct{}, len(listTags)+len(detailTags))
	merged := make([]string, 0, len(listTags)+len(detailTags))
	for _, tag := range listTags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	for _, tag := range detailTags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	return merged
}
