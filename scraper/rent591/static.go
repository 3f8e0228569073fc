package rent591

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rent591-notifier/models"
	"rent591-notifier/utils"
)

var (
	regionHrefRegexp  = regexp.MustCompile(`region=(\d+)`)
	sectionHrefRegexp = regexp.MustCompile(`section=(\d+)`)
	kindHrefRegexp    = regexp.MustCompile(`kind=(\d+)`)

	floorTextRegexp  = regexp.MustCompile(`(?:\d+F|[Bb]\d+|頂樓加蓋|頂層加蓋)\s*/\s*\d+F?`)
	layoutTextRegexp = regexp.MustCompile(`[1-9]\d*房(?:\d+廳)?(?:\d+衛)?`)
	areaTextRegexp   = regexp.MustCompile(`\d+(?:\.\d+)?\s*坪`)
	ruleTextRegexp   = regexp.MustCompile(`此房屋[^。\n]{0,60}`)
	distanceRegexp   = regexp.MustCompile(`\d+`)
)

// shapeKeywords and fitmentKeywords are the site's vocabulary, longest first
// so "電梯大樓" is found before any shorter keyword could shadow it.
var (
	shapeKeywords   = []string{"電梯大樓", "透天厝", "公寓", "透天", "別墅"}
	fitmentKeywords = []string{"豪華裝潢", "高檔裝潢", "中檔裝潢", "新裝潢", "三年內", "高檔", "中檔"}
	kindNames       = []string{"整層住家", "獨立套房", "分租套房", "雅房", "車位", "其他"}
)

// StaticFetcher scrapes server-rendered markup over plain HTTP. It is the
// cheap strategy: one GET and a goquery parse, no browser involved.
type StaticFetcher struct {
	client *http.Client
	logger *utils.Logger
}

// NewStaticFetcher creates a StaticFetcher with the given request timeout.
func NewStaticFetcher(timeout time.Duration, logger *utils.Logger) *StaticFetcher {
	return &StaticFetcher{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (f *StaticFetcher) get(ctx context.Context, url string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "zh-TW,zh;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, nil
}

// FetchList scrapes up to maxItems cards from a region's index page, newest
// first. Returns ErrStructuralEmpty when the page holds no listing cards.
func (f *StaticFetcher) FetchList(ctx context.Context, region, maxItems int) ([]*models.RawListItem, error) {
	url := fmt.Sprintf(listURLFormat, region)
	doc, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	seen := utils.NewStringSet()
	var items []*models.RawListItem

	doc.Find("div.item").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if maxItems > 0 && len(items) >= maxItems {
			return false
		}
		item := parseListCard(region, card)
		if item == nil || !seen.Add(item.ID) {
			return true
		}
		items = append(items, item)
		return true
	})

	if len(items) == 0 {
		return nil, fmt.Errorf("list page for region %d: %w", region, ErrStructuralEmpty)
	}

	f.logger.Debug("[static] region %d — %d list cards parsed", region, len(items))
	return items, nil
}

func parseListCard(region int, card *goquery.Selection) *models.RawListItem {
	id, ok := card.Attr("data-id")
	if !ok || strings.TrimSpace(id) == "" {
		return nil
	}

	item := &models.RawListItem{
		Region: region,
		ID:     strings.TrimSpace(id),
		URL:    fmt.Sprintf(detailURLFormat, strings.TrimSpace(id)),
		Title:  strings.TrimSpace(card.Find(".item-info-title a").First().Text()),
	}

	if href, ok := card.Find("a[href*='rent.591.com.tw']").First().Attr("href"); ok {
		item.URL = href
	}

	item.PriceRaw = strings.TrimSpace(card.Find("[class*='price']").First().Text())
	item.Address = strings.TrimSpace(card.Find("[class*='place'], [class*='address']").First().Text())

	card.Find(".item-tags span, .item-info-tag span").Each(func(_ int, tag *goquery.Selection) {
		if text := strings.TrimSpace(tag.Text()); text != "" {
			item.Tags = append(item.Tags, text)
		}
	})

	// The info spans carry kind, layout, area and floor in no fixed order;
	// classify each by content.
	card.Find(".item-info-txt span").Each(func(_ int, span *goquery.Selection) {
		text := strings.TrimSpace(span.Text())
		switch {
		case text == "":
		case strings.Contains(text, "坪") && item.AreaRaw == "":
			item.AreaRaw = text
		case layoutTextRegexp.MatchString(text) && item.LayoutRaw == "":
			item.LayoutRaw = text
		case floorTextRegexp.MatchString(text) && item.FloorRaw == "":
			item.FloorRaw = text
		case item.KindName == "" && isKindName(text):
			item.KindName = text
		}
	})

	return item
}

func isKindName(text string) bool {
	for _, name := range kindNames {
		if text == name {
			return true
		}
	}
	return false
}

// FetchDetail scrapes one detail page. Returns ErrStructuralEmpty when the
// page parsed but carries none of the expected label tags; the site serves
// such husks when it throttles plain HTTP clients.
func (f *StaticFetcher) FetchDetail(ctx context.Context, id string) (*models.RawDetailItem, error) {
	doc, err := f.get(ctx, fmt.Sprintf(detailURLFormat, id))
	if err != nil {
		return nil, err
	}
	return parseDetailDocument(id, doc)
}

// parseDetailDocument extracts the raw detail fields from a rendered or
// server-side document. Shared by the static and browser strategies so both
// return identical shapes.
func parseDetailDocument(id string, doc *goquery.Document) (*models.RawDetailItem, error) {
	item := &models.RawDetailItem{
		ID:    id,
		Title: strings.TrimSpace(doc.Find("h1").First().Text()),
	}

	item.PriceRaw = strings.TrimSpace(doc.Find("span.c-price").First().Text())
	if item.PriceRaw == "" {
		item.PriceRaw = strings.TrimSpace(doc.Find("[class*='price']").First().Text())
	}

	doc.Find("span.label-item").Each(func(_ int, tag *goquery.Selection) {
		if text := strings.TrimSpace(tag.Text()); text != "" {
			item.Tags = append(item.Tags, text)
		}
	})

	item.Address = strings.TrimSpace(doc.Find("div.address span.load-map").First().Text())

	// Region/section/kind codes ride on the breadcrumb link hrefs.
	doc.Find("a[href*='region=']").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if m := regionHrefRegexp.FindStringSubmatch(href); m != nil {
			item.RegionRaw = m[1]
		}
		if m := sectionHrefRegexp.FindStringSubmatch(href); m != nil {
			item.SectionRaw = m[1]
		}
		if m := kindHrefRegexp.FindStringSubmatch(href); m != nil {
			item.KindRaw = m[1]
		}
		return item.RegionRaw == "" || item.SectionRaw == "" || item.KindRaw == ""
	})

	pageText := doc.Text()
	item.FloorRaw = floorTextRegexp.FindString(pageText)
	item.LayoutRaw = layoutTextRegexp.FindString(pageText)
	item.AreaRaw = areaTextRegexp.FindString(pageText)
	item.RuleRaw = ruleTextRegexp.FindString(pageText)
	item.ShapeRaw = firstKeyword(pageText, shapeKeywords)
	item.FitmentRaw = firstKeyword(pageText, fitmentKeywords)

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		if dl.HasClass("del") {
			return
		}
		if text := strings.TrimSpace(dl.Find("dd.text").First().Text()); text != "" {
			item.Options = append(item.Options, text)
		}
	})

	if traffic := doc.Find("div.traffic").First(); traffic.Length() > 0 {
		name := strings.TrimSpace(traffic.Find("b.ellipsis").First().Text())
		dist := distanceRegexp.FindString(traffic.Find("strong").First().Text())
		if name != "" && dist != "" {
			item.SurroundingRaw = "距" + name + dist + "公尺"
			if strings.Contains(traffic.Text(), "捷運") || strings.Contains(name, "站") {
				item.SurroundingType = "metro"
			} else {
				item.SurroundingType = "bus"
			}
		}
	}

	if len(item.Tags) == 0 {
		return nil, fmt.Errorf("detail page %s: %w", id, ErrStructuralEmpty)
	}

	return item, nil
}

func firstKeyword(text string, keywords []string) string {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return keyword
		}
	}
	return ""
}
