package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// knownModels maps lowercase make names to the models we can match in a query.
var knownModels = map[string][]string{
	"toyota":     {"corolla", "camry", "rav4", "highlander", "prius", "tacoma", "sienna"},
	"honda":      {"civic", "accord", "cr-v", "crv", "pilot", "odyssey", "fit"},
	"mazda":      {"mazda3", "mazda6", "cx-5", "cx5", "cx-9", "mx-5"},
	"ford":       {"focus", "fusion", "escape", "f-150", "f150", "explorer", "mustang"},
	"hyundai":    {"elantra", "sonata", "tucson", "santa fe", "kona"},
	"kia":        {"forte", "optima", "sportage", "sorento", "soul"},
	"nissan":     {"sentra", "altima", "rogue", "murano", "versa"},
	"volkswagen": {"jetta", "golf", "passat", "tiguan", "atlas"},
	"subaru":     {"impreza", "outback", "forester", "crosstrek", "legacy"},
	"chevrolet":  {"cruze", "malibu", "equinox", "silverado", "traverse"},
	"bmw":        {"3 series", "5 series", "x3", "x5", "328i", "330i"},
	"audi":       {"a3", "a4", "a6", "q3", "q5", "q7"},
}

// makeAliases maps common shorthand to canonical make names.
var makeAliases = map[string]string{
	"vw":    "volkswagen",
	"chevy": "chevrolet",
}

var (
	priceUnderRe   = regexp.MustCompile(`(?i)(?:under|below|less than|max|up to)\s*\$?\s*([\d,]+)\s*(k)?`)
	priceOverRe    = regexp.MustCompile(`(?i)(?:over|above|more than|min|at least)\s*\$?\s*([\d,]+)\s*(k)?`)
	priceRangeRe   = regexp.MustCompile(`(?i)\$?\s*([\d,]+)\s*(k)?\s*(?:-|to)\s*\$?\s*([\d,]+)\s*(k)?`)
	yearRangeRe    = regexp.MustCompile(`\b(19[89]\d|20[0-4]\d)\s*(?:-|to)\s*(19[89]\d|20[0-4]\d)\b`)
	yearSingleRe   = regexp.MustCompile(`\b(19[89]\d|20[0-4]\d)\b`)
	mileageMaxRe   = regexp.MustCompile(`(?i)(?:under|below|less than|max)\s*([\d,]+)\s*(k)?\s*(?:km|kms|miles|mi)\b`)
	postalCodeRe   = regexp.MustCompile(`(?i)\b([A-Z]\d[A-Z])\s?\d?[A-Z]?\d?\b`)
	nearLocationRe = regexp.MustCompile(`(?i)(?:in|near|around)\s+([A-Za-z][A-Za-z .'-]{2,30})$`)
)

// Parser extracts structured filters from a free-form query string.
// It is the rule-based stand-in for the AI query parser: make/model
// matching against a known table, plus regex extraction of year, price,
// mileage and location hints.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse extracts a ParsedQuery from a natural-language query.
// A query that matches nothing still yields a ParsedQuery whose
// Keywords carry the raw query, mirroring the permissive fallback
// of the upstream parser.
func (p *Parser) Parse(query string) ParsedQuery {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)

	pq := ParsedQuery{}

	pq.Make, pq.Model = matchMakeModel(lower)
	pq.YearMin, pq.YearMax = parseYears(lower)
	pq.PriceMin, pq.PriceMax = parsePriceRange(lower)
	pq.MileageMax = parseMileageMax(lower)
	pq.Location = parseLocation(q)

	if pq.Make == "" && pq.Model == "" {
		pq.Keywords = []string{q}
	}

	return pq
}

// Validate reports whether the parsed query carries enough filters to
// run a meaningful source search. Make and model are required.
func (p *Parser) Validate(pq ParsedQuery) error {
	if pq.Make == "" {
		return fmt.Errorf("query must include a car make, e.g. %q", "Honda Civic")
	}
	if pq.Model == "" {
		return fmt.Errorf("query must include a model for make %q", pq.Make)
	}
	return nil
}

func matchMakeModel(lower string) (mk, model string) {
	for alias, canonical := range makeAliases {
		if containsWord(lower, alias) {
			lower = strings.ReplaceAll(lower, alias, canonical)
		}
	}

	for name, models := range knownModels {
		if containsWord(lower, name) {
			mk = title(name)
			for _, m := range models {
				if strings.Contains(lower, m) {
					model = title(m)
					break
				}
			}
			return mk, model
		}
	}

	// Model mentioned without its make, e.g. "2020 Civic under 20000".
	for name, models := range knownModels {
		for _, m := range models {
			if containsWord(lower, m) {
				return title(name), title(m)
			}
		}
	}

	return "", ""
}

func parseYears(lower string) (min, max int) {
	if m := yearRangeRe.FindStringSubmatch(lower); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		if lo > hi {
			lo, hi = hi, lo
		}
		return lo, hi
	}
	if m := yearSingleRe.FindStringSubmatch(lower); m != nil {
		y, _ := strconv.Atoi(m[1])
		return y, 0
	}
	return 0, 0
}

func parsePriceRange(lower string) (min, max float64) {
	if m := priceRangeRe.FindStringSubmatch(lower); m != nil {
		lo := parseAmount(m[1], m[2])
		hi := parseAmount(m[3], m[4])
		// Year ranges also match the generic range pattern; a pair of
		// model years is not a price range, keep looking.
		if !(lo >= 1980 && lo <= 2049 && hi >= 1980 && hi <= 2049) {
			if lo > hi {
				lo, hi = hi, lo
			}
			return lo, hi
		}
	}
	if m := priceUnderRe.FindStringSubmatch(lower); m != nil {
		return 0, parseAmount(m[1], m[2])
	}
	if m := priceOverRe.FindStringSubmatch(lower); m != nil {
		return parseAmount(m[1], m[2]), 0
	}
	return 0, 0
}

func parseMileageMax(lower string) int {
	if m := mileageMaxRe.FindStringSubmatch(lower); m != nil {
		return int(parseAmount(m[1], m[2]))
	}
	return 0
}

func parseLocation(query string) string {
	if m := nearLocationRe.FindStringSubmatch(query); m != nil {
		loc := strings.TrimSpace(m[1])
		// "under 20000 in toronto" already stripped of filters by
		// anchoring at end of query; reject obvious non-places.
		if !yearSingleRe.MatchString(loc) {
			return loc
		}
	}
	if m := postalCodeRe.FindStringSubmatch(query); m != nil {
		return strings.ToUpper(strings.ReplaceAll(m[1], " ", ""))
	}
	return ""
}

func parseAmount(digits, kSuffix string) float64 {
	n, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return 0
	}
	if kSuffix != "" {
		n *= 1000
	}
	return n
}

func containsWord(s, word string) bool {
	idx := strings.Index(s, word)
	if idx < 0 {
		return false
	}
	before := idx == 0 || !isAlnum(s[idx-1])
	end := idx + len(word)
	after := end == len(s) || !isAlnum(s[end])
	return before && after
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
