package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonical units
const (
	UnitGram   = "g"
	UnitKilo   = "kg"
	UnitMilli  = "ml"
	UnitLiter  = "l"
	UnitPieces = "pieces"
)

var unitAliases = map[string]string{
	"g":      UnitGram,
	"gr":     UnitGram,
	"gram":   UnitGram,
	"г":      UnitGram,
	"гр":     UnitGram,
	"kg":     UnitKilo,
	"кг":     UnitKilo,
	"ml":     UnitMilli,
	"мл":     UnitMilli,
	"l":      UnitLiter,
	"lt":     UnitLiter,
	"л":      UnitLiter,
	"pieces": UnitPieces,
	"piece":  UnitPieces,
	"pcs":    UnitPieces,
	"pc":     UnitPieces,
	"шт":     UnitPieces,
	"stück":  UnitPieces,
	"stuck":  UnitPieces,
	"stk":    UnitPieces,
	"kom":    UnitPieces,
	"copë":   UnitPieces,
	"cope":   UnitPieces,
	"buc":    UnitPieces,
}

// Currency words that show up around scraped amounts. Symbols are stripped
// separately; these need word-level removal so digits survive.
var currencyWords = []string{
	"leke", "lekë", "lek", "din", "rsd", "mkd", "bgn", "ron", "lei", "kn",
	"hrk", "eur", "euro", "usd", "chf", "ден", "лв", "дин",
}

var (
	numberRe    = regexp.MustCompile(`-?\d[\d.,\s]*`)
	multipackRe = regexp.MustCompile(`(?i)(\d+)\s*[x×х]\s*(\d+(?:[.,]\d+)?)\s*([a-zA-Zа-яА-ЯëË\x{00fc}\x{00dc}]+)`)
	quantityRe  = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*([a-zA-Zа-яА-ЯëË\x{00fc}\x{00dc}]+)`)
	multiSpace  = regexp.MustCompile(`\s+`)
	nonWordRe   = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// Quantity is a parsed amount with its (canonical) unit token.
type Quantity struct {
	Value float64
	Unit  string
}

// ParsePrice extracts a numeric amount from scraped price text. Both decimal
// conventions are accepted: "1.234,56" and "1,234.56" parse to 1234.56.
// Returns nil when nothing numeric can be found, so a malformed record can
// be skipped without aborting its page.
func ParsePrice(text string) *float64 {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return nil
	}
	for _, w := range currencyWords {
		s = strings.ReplaceAll(s, w, " ")
	}

	match := numberRe.FindString(s)
	if match == "" {
		return nil
	}
	match = strings.TrimSpace(strings.ReplaceAll(match, " ", ""))
	match = strings.Trim(match, ".,")
	if match == "" || match == "-" {
		return nil
	}

	v, err := strconv.ParseFloat(decimalize(match), 64)
	if err != nil {
		return nil
	}
	return &v
}

// decimalize rewrites a localized number into strconv form. With both
// separators present the rightmost one is the decimal point. A lone
// separator followed by exactly three digits is a thousands separator.
func decimalize(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 != 3 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if !(strings.Count(s, ".") == 1 && len(s)-lastDot-1 != 3) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// ExtractQuantity scans free text (usually a product name) for a
// quantity+unit token. Multi-pack forms like "6 x 250 g" multiply out to
// the total amount. Returns nil when no recognizable token is present.
func ExtractQuantity(text string) *Quantity {
	if m := multipackRe.FindStringSubmatch(text); m != nil {
		if unit, ok := unitAliases[strings.ToLower(m[3])]; ok {
			count, err1 := strconv.ParseFloat(m[1], 64)
			size, err2 := strconv.ParseFloat(strings.Replace(m[2], ",", ".", 1), 64)
			if err1 == nil && err2 == nil {
				return &Quantity{Value: count * size, Unit: unit}
			}
		}
	}

	for _, m := range quantityRe.FindAllStringSubmatch(text, -1) {
		unit, ok := unitAliases[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
		if err != nil {
			continue
		}
		return &Quantity{Value: v, Unit: unit}
	}
	return nil
}

// NormalizeUnit canonicalizes a unit token and collapses metric amounts:
// grams >= 1000 become kilograms, milliliters >= 1000 become liters.
// Unrecognized tokens pass through unchanged with the original quantity so
// cross-country comparison degrades instead of failing the record.
func NormalizeUnit(rawUnit string, quantity float64) (string, float64) {
	unit, ok := unitAliases[strings.ToLower(strings.TrimSpace(rawUnit))]
	if !ok {
		return rawUnit, quantity
	}

	switch unit {
	case UnitGram:
		if quantity >= 1000 {
			return UnitKilo, quantity / 1000
		}
	case UnitMilli:
		if quantity >= 1000 {
			return UnitLiter, quantity / 1000
		}
	}
	return unit, quantity
}

// PricePerUnit converts an absolute price into a per-kg, per-liter or
// per-piece figure. Returns nil, never zero, when the quantity or unit is
// unknown; nil must not be read as "free".
func PricePerUnit(price, quantity float64, unit string) *float64 {
	if price <= 0 || quantity <= 0 {
		return nil
	}

	u, q := NormalizeUnit(unit, quantity)

	var perUnit float64
	switch u {
	case UnitGram:
		perUnit = price / q * 1000
	case UnitMilli:
		perUnit = price / q * 1000
	case UnitKilo, UnitLiter, UnitPieces:
		perUnit = price / q
	default:
		return nil
	}

	perUnit = math.Round(perUnit*100) / 100
	return &perUnit
}

var nameFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases and diacritic-folds a product name for fuzzy
// matching across sources.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if folded, _, err := transform.String(nameFolder, s); err == nil {
		s = folded
	}
	s = nonWordRe.ReplaceAllString(s, " ")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
