// Package normalize converts one provider's raw product representation into
// the canonical schema, independent of any previously known state.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/pricesmith/pricesmith/pkg/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrInvalidProduct marks a malformed provider payload. The record is
// skipped and logged; the surrounding batch continues.
var ErrInvalidProduct = errors.New("invalid raw product")

const (
	maxNameLen        = 200
	maxDescriptionLen = 1000
	maxImages         = 10
	fallbackCategory  = "Electronics"
)

var reWhitespace = regexp.MustCompile(`\s+`)
var reNonAlnum = regexp.MustCompile(`[^A-Z0-9]`)

var titleCaser = cases.Title(language.English)

// Settlement currency conversion rates: one unit of the key currency in USD.
var defaultCurrencyRates = map[string]float64{
	"USD": 1.0,
	"EUR": 1.09,
	"GBP": 1.27,
	"CNY": 0.14,
	"JPY": 0.0067,
}

var defaultCategoryMap = map[string]string{
	"computers & accessories": "Computers",
	"laptops":                 "Computers",
	"cell phones":             "Phones",
	"smartphones":             "Phones",
	"tv & video":              "TV & Audio",
	"audio":                   "TV & Audio",
	"video games":             "Gaming",
	"cameras":                 "Cameras",
	"wearable technology":     "Wearables",
}

// Keyword heuristics applied when the exact dictionary misses.
var categoryKeywords = []struct {
	keywords []string
	category string
}{
	{[]string{"computer", "laptop", "pc", "desktop", "notebook"}, "Computers"},
	{[]string{"phone", "smartphone", "mobile"}, "Phones"},
	{[]string{"tablet", "ipad"}, "Tablets"},
	{[]string{"tv", "television", "monitor", "speaker", "headphone"}, "TV & Audio"},
	{[]string{"game", "gaming", "console"}, "Gaming"},
	{[]string{"camera", "lens", "drone"}, "Cameras"},
	{[]string{"watch", "band", "fitness tracker"}, "Wearables"},
}

var defaultBrandMap = map[string]string{
	"hp":       "HP",
	"lg":       "LG",
	"tcl":      "TCL",
	"asus":     "ASUS",
	"msi":      "MSI",
	"amd":      "AMD",
	"jbl":      "JBL",
	"iphone":   "Apple",
	"macbook":  "Apple",
	"galaxy":   "Samsung",
	"thinkpad": "Lenovo",
}

// Markup percentage by canonical category.
var defaultMarkupTable = map[string]float64{
	"Computers":  12.0,
	"Phones":     10.0,
	"Tablets":    11.0,
	"TV & Audio": 15.0,
	"Gaming":     14.0,
	"Cameras":    13.0,
	"Wearables":  16.0,
}

const defaultMarkup = 15.0

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".avif": true,
}

// Normalizer maps raw provider products into canonical form. The zero-value
// tables are production defaults; tests override them via options.
type Normalizer struct {
	currencyRates map[string]float64
	markupTable   map[string]float64
	defaultMarkup float64
	now           func() time.Time
}

type Option func(*Normalizer)

// WithCurrencyRates overrides the settlement conversion table.
func WithCurrencyRates(rates map[string]float64) Option {
	return func(n *Normalizer) { n.currencyRates = rates }
}

// WithMarkupTable overrides the per-category markup table and its fallback.
func WithMarkupTable(table map[string]float64, fallback float64) Option {
	return func(n *Normalizer) {
		n.markupTable = table
		n.defaultMarkup = fallback
	}
}

func withClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a Normalizer with default tables.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		currencyRates: defaultCurrencyRates,
		markupTable:   defaultMarkupTable,
		defaultMarkup: defaultMarkup,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts a raw product from the named provider into the
// canonical shape. The output always carries exactly one ProviderOffer,
// even if no canonical record exists for the SKU yet.
func (n *Normalizer) Normalize(providerName string, raw models.RawProduct) (*models.NormalizedProduct, error) {
	if raw.ExternalID == "" {
		return nil, fmt.Errorf("%w: missing external id", ErrInvalidProduct)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidProduct)
	}
	if raw.Price <= 0 {
		return nil, fmt.Errorf("%w: non-positive price %v", ErrInvalidProduct, raw.Price)
	}

	name := CleanText(raw.Name, maxNameLen)
	brand := NormalizeBrand(raw.Brand, name)
	category := NormalizeCategory(raw.Category, name)
	price := n.NormalizePrice(raw.Price, raw.Currency)
	shipping := n.NormalizePrice(raw.ShippingCost, raw.Currency)
	markup := n.markupFor(category)
	now := n.now().UTC()

	offer := models.ProviderOffer{
		Provider:     providerName,
		ExternalID:   raw.ExternalID,
		Price:        price,
		Currency:     "USD",
		Available:    raw.Available,
		ShippingCost: shipping,
		DeliveryDays: raw.DeliveryDays,
		LastUpdated:  now,
		URL:          raw.URL,
	}

	return &models.NormalizedProduct{
		SKU:              GenerateSKU(brand, name, providerName, raw.ExternalID),
		Name:             name,
		Description:      CleanText(raw.Description, maxDescriptionLen),
		Category:         category,
		Brand:            brand,
		Specifications:   raw.Specs,
		Images:           FilterImages(raw.Images),
		Offers:           []models.ProviderOffer{offer},
		OurPrice:         round2(price * (1 + markup/100)),
		MarkupPercentage: markup,
		IsActive:         raw.Available,
		LastSynced:       now,
	}, nil
}

// GenerateSKU derives the stable merge key from brand, name, provider and
// external id: fixed-length uppercase alphanumeric slices, hyphen-joined.
// The same inputs always produce the same SKU.
func GenerateSKU(brand, name, providerName, externalID string) string {
	return strings.Join([]string{
		skuSlice(brand, 4),
		skuSlice(name, 8),
		skuSlice(providerName, 3),
		skuSlice(externalID, 8),
	}, "-")
}

func skuSlice(s string, n int) string {
	cleaned := reNonAlnum.ReplaceAllString(strings.ToUpper(s), "")
	if cleaned == "" {
		cleaned = "X"
	}
	if len(cleaned) > n {
		cleaned = cleaned[:n]
	}
	return cleaned
}

// CleanText collapses whitespace and caps the length at maxLen runes.
func CleanText(s string, maxLen int) string {
	s = strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return s
}

// NormalizeCategory canonicalizes a provider category: exact dictionary
// match first, then keyword heuristics over category and product name,
// falling back to Electronics.
func NormalizeCategory(rawCategory, productName string) string {
	key := strings.ToLower(strings.TrimSpace(rawCategory))
	if canonical, ok := defaultCategoryMap[key]; ok {
		return canonical
	}

	haystack := key + " " + strings.ToLower(productName)
	for _, h := range categoryKeywords {
		for _, kw := range h.keywords {
			if containsWord(haystack, kw) {
				return h.category
			}
		}
	}
	return fallbackCategory
}

// NormalizeBrand canonicalizes a brand name via the dictionary, inferring
// from the product name when the brand is missing, with a title-cased
// fallback.
func NormalizeBrand(rawBrand, productName string) string {
	key := strings.ToLower(strings.TrimSpace(rawBrand))
	if canonical, ok := defaultBrandMap[key]; ok {
		return canonical
	}
	if key != "" {
		return titleCaser.String(key)
	}

	// No brand reported: try to spot a known one in the product name.
	lowerName := strings.ToLower(productName)
	for alias, canonical := range defaultBrandMap {
		if containsWord(lowerName, alias) {
			return canonical
		}
	}
	if first, _, found := strings.Cut(strings.TrimSpace(productName), " "); found && first != "" {
		return titleCaser.String(strings.ToLower(first))
	}
	return "Generic"
}

// NormalizePrice converts an amount into the settlement currency (USD)
// using the fixed conversion table, rounded to 2 decimals. Unknown
// currencies are assumed already settled.
func (n *Normalizer) NormalizePrice(amount float64, currency string) float64 {
	rate, ok := n.currencyRates[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		rate = 1.0
	}
	return round2(amount * rate)
}

// FilterImages drops empty or malformed entries and anything without a
// recognizable image extension, capping the result at 10.
func FilterImages(images []string) []string {
	var out []string
	for _, img := range images {
		if img == "" {
			continue
		}
		u, err := url.Parse(img)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		dot := strings.LastIndex(u.Path, ".")
		if dot < 0 || !imageExtensions[strings.ToLower(u.Path[dot:])] {
			continue
		}
		out = append(out, img)
		if len(out) == maxImages {
			break
		}
	}
	return out
}

func (n *Normalizer) markupFor(category string) float64 {
	if m, ok := n.markupTable[category]; ok {
		return m
	}
	return n.defaultMarkup
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(haystack[start-1])
		afterOK := end == len(haystack) || !isAlnum(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
