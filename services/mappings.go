package services

import (
	"sort"
	"strings"
)

// Mappings holds the keyword-to-code tables used by the transformer. They are
// loaded once at startup and passed by reference; nothing mutates them after
// construction.
type Mappings struct {
	// Building shape: 1=walk-up apartment, 2=elevator building,
	// 3=townhouse, 4=villa.
	Shape map[string]int
	// Fitment tier: 99=newly decorated (within 3 years), 3=mid-range,
	// 4=high-end.
	Fitment map[string]int
	// Equipment keyword → code.
	Options map[string]string
	// Feature-tag keyword → code.
	Others map[string]string
}

// DefaultMappings returns the keyword tables for rent.591.com.tw.
func DefaultMappings() *Mappings {
	return &Mappings{
		Shape: map[string]int{
			"公寓":   1,
			"電梯大樓": 2,
			"透天厝":  3,
			"透天":   3,
			"別墅":   4,
		},
		Fitment: map[string]int{
			"新裝潢":  99,
			"三年內":  99,
			"中檔":   3,
			"中檔裝潢": 3,
			"高檔":   4,
			"高檔裝潢": 4,
			"豪華裝潢": 4,
		},
		Options: map[string]string{
			"冷氣":   "cold",
			"空調":   "cold",
			"洗衣機":  "washer",
			"洗衣":   "washer",
			"冰箱":   "icebox",
			"熱水器":  "hotwater",
			"熱水":   "hotwater",
			"天然瓦斯": "naturalgas",
			"天然氣":  "naturalgas",
			"瓦斯":   "naturalgas",
			"網路":   "broadband",
			"寬頻":   "broadband",
			"wifi": "broadband",
			"WiFi": "broadband",
			"床鋪":   "bed",
			"床":    "bed",
			"電視":   "tv",
			"衣櫃":   "wardrobe",
			"第四台":  "cable",
			"沙發":   "sofa",
			"桌椅":   "desk",
			"陽台":   "balcony",
			"電梯":   "lift",
			"車位":   "parking",
		},
		Others: map[string]string{
			"近捷運":   "near_subway",
			"捷運":    "near_subway",
			"mrt":   "near_subway",
			"可養寵物":  "pet",
			"可養寵":   "pet",
			"寵物":    "pet",
			"可開伙":   "cook",
			"開伙":    "cook",
			"廚房":    "cook",
			"有電梯":   "lift",
			"電梯":    "lift",
			"有陽台":   "balcony_1",
			"陽台":    "balcony_1",
			"車位":    "cartplace",
			"停車":    "cartplace",
			"新上架":   "newPost",
			"短租":    "lease",
			"可短期租賃": "lease",
			"社會住宅":  "social-housing",
			"租金補貼":  "rental-subsidy",
			"高齡友善":  "elderly-friendly",
			"可報稅":   "tax-deductible",
			"可入籍":   "naturalization",
		},
	}
}

// matchKeyword resolves free text to a code by exact then substring match.
// Substring candidates are tried longest-first so "電梯大樓" wins over "電梯"
// and the result does not depend on map iteration order. Returns the zero
// value and false when nothing in the table applies.
func matchKeyword[T comparable](table map[string]T, text string) (T, bool) {
	var zero T
	if text == "" {
		return zero, false
	}
	if code, ok := table[text]; ok {
		return code, true
	}
	keywords := make([]string, 0, len(table))
	for keyword := range table {
		keywords = append(keywords, keyword)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})
	for _, keyword := range keywords {
		if containsFold(text, keyword) {
			return table[keyword], true
		}
	}
	return zero, false
}

func containsFold(text, keyword string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}

// convertToCodes maps a list of free-text names onto table codes, dropping
// duplicates and anything unrecognised. Output order follows input order.
func convertToCodes(table map[string]string, names []string) []string {
	if len(names) == 0 {
		return nil
	}
	var codes []string
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		code, ok := matchKeyword(table, name)
		if !ok {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}
