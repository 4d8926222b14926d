package search

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Score weights. Price dominates, year and mileage split most of the
// rest, data completeness breaks ties.
const (
	weightPrice        = 0.4
	weightYear         = 0.25
	weightMileage      = 0.25
	weightCompleteness = 0.1
)

const kmPerYear = 15000

var numberRe = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)

// Scorer computes recommendation scores for listings.
type Scorer struct {
	now func() time.Time
}

// NewScorer creates a Scorer using the wall clock.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Rank scores every listing in place and returns them sorted by
// overall score, highest first. The input slice is not modified.
func (s *Scorer) Rank(cars []Listing) []Listing {
	ranked := make([]Listing, len(cars))
	copy(ranked, cars)

	for i := range ranked {
		s.score(&ranked[i])
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].OverallScore > ranked[j].OverallScore
	})
	return ranked
}

func (s *Scorer) score(car *Listing) {
	car.PriceScore = s.priceScore(car)
	car.YearScore = s.yearScore(car)
	car.MileageScore = s.mileageScore(car)
	car.QualityScore = completenessScore(car)

	car.OverallScore = car.PriceScore*weightPrice +
		car.YearScore*weightYear +
		car.MileageScore*weightMileage +
		car.QualityScore*weightCompleteness
}

// priceScore rates how close the asking price is to the expected price
// for the car's age and mileage. 1.0 inside the reasonable band,
// degrading to 0.3 for outliers.
func (s *Scorer) priceScore(car *Listing) float64 {
	price, ok := ParsePrice(car.Price)
	if !ok || price <= 0 {
		return 0
	}

	expected := s.basePriceForYear(car.Year) * s.mileageFactor(car)
	if expected <= 0 {
		return 0.3
	}

	ratio := price / expected
	switch {
	case ratio >= 0.8 && ratio <= 1.2:
		return 1.0
	case ratio >= 0.6 && ratio <= 1.4:
		return 0.8
	case ratio >= 0.4 && ratio <= 1.6:
		return 0.6
	default:
		return 0.3
	}
}

func (s *Scorer) yearScore(car *Listing) float64 {
	if car.Year <= 0 {
		return 0
	}
	age := s.now().Year() - car.Year
	switch {
	case age <= 2:
		return 1.0
	case age <= 5:
		return 0.9
	case age <= 8:
		return 0.8
	case age <= 12:
		return 0.7
	default:
		return 0.5
	}
}

func (s *Scorer) mileageScore(car *Listing) float64 {
	km, ok := ParseMileage(car.Mileage)
	if !ok {
		return 0
	}

	age := s.now().Year() - car.Year
	if age <= 0 {
		return 0.5
	}
	ratio := float64(km) / float64(age*kmPerYear)
	switch {
	case ratio <= 0.8:
		return 1.0
	case ratio <= 1.2:
		return 0.9
	case ratio <= 1.5:
		return 0.7
	default:
		return 0.4
	}
}

// basePriceForYear is a coarse depreciation curve anchored on a new-car
// price, used only to judge whether an asking price is plausible.
func (s *Scorer) basePriceForYear(year int) float64 {
	if year <= 0 {
		return 0
	}
	age := s.now().Year() - year
	if age < 0 {
		age = 0
	}
	const newPrice = 35000.0
	price := newPrice
	for i := 0; i < age; i++ {
		price *= 0.88
	}
	if price < 2000 {
		price = 2000
	}
	return price
}

func (s *Scorer) mileageFactor(car *Listing) float64 {
	km, ok := ParseMileage(car.Mileage)
	if !ok || car.Year <= 0 {
		return 1.0
	}
	age := s.now().Year() - car.Year
	if age <= 0 {
		return 1.0
	}
	ratio := float64(km) / float64(age*kmPerYear)
	switch {
	case ratio <= 0.8:
		return 1.1
	case ratio <= 1.2:
		return 1.0
	case ratio <= 1.5:
		return 0.9
	default:
		return 0.75
	}
}

func completenessScore(car *Listing) float64 {
	score := 0.0
	if len(strings.TrimSpace(car.Title)) > 10 {
		score += 0.3
	}
	if strings.TrimSpace(car.Price) != "" {
		score += 0.3
	}
	if car.Year > 0 {
		score += 0.2
	}
	if strings.TrimSpace(car.Mileage) != "" {
		score += 0.1
	}
	if strings.TrimSpace(car.Location) != "" {
		score += 0.1
	}
	return score
}

// ParsePrice extracts a numeric dollar amount from a display string
// like "$18,500" or "CAD 21000".
func ParsePrice(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseMileage extracts a kilometre count from a display string like
// "85,000 km" or "120k km".
func ParseMileage(s string) (int, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if strings.Contains(strings.ToLower(s), "k ") || strings.HasSuffix(strings.ToLower(strings.TrimSpace(s)), "k") {
		n *= 1000
	}
	return int(n), true
}
