package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Source is one car listing backend (CarGurus, Kijiji, AutoTrader, ...).
// Implementations must honour ctx cancellation.
type Source interface {
	Name() string
	Search(ctx context.Context, q ParsedQuery) ([]Listing, error)
}

// Aggregator fans a query out to every configured source concurrently
// and merges the results, deduplicating by listing link. Individual
// source failures are logged and tolerated as long as at least one
// source succeeds.
type Aggregator struct {
	sources []Source
	timeout time.Duration
}

// NewAggregator creates an Aggregator. perSourceTimeout bounds each
// source call; zero means 30s.
func NewAggregator(perSourceTimeout time.Duration, sources ...Source) *Aggregator {
	if perSourceTimeout <= 0 {
		perSourceTimeout = 30 * time.Second
	}
	return &Aggregator{sources: sources, timeout: perSourceTimeout}
}

// SourceCount returns the number of configured sources.
func (a *Aggregator) SourceCount() int {
	return len(a.sources)
}

type sourceResult struct {
	name string
	cars []Listing
	err  error
}

// Search runs the fan-out. onSourceDone, if non-nil, is invoked after
// each source finishes with the source name and its listing count.
func (a *Aggregator) Search(ctx context.Context, q ParsedQuery, onSourceDone func(name string, found int)) ([]Listing, error) {
	if len(a.sources) == 0 {
		return nil, fmt.Errorf("no search sources configured")
	}

	results := make(chan sourceResult, len(a.sources))
	var wg sync.WaitGroup

	for _, src := range a.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			srcCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()

			cars, err := src.Search(srcCtx, q)
			results <- sourceResult{name: src.Name(), cars: cars, err: err}
		}(src)
	}

	wg.Wait()
	close(results)

	var merged []Listing
	seen := make(map[string]bool)
	failures := 0
	var lastErr error

	for res := range results {
		if res.err != nil {
			failures++
			lastErr = res.err
			slog.Warn("search source failed",
				"source", res.name,
				"error", res.err)
		} else {
			for _, car := range res.cars {
				if car.Link != "" && seen[car.Link] {
					continue
				}
				seen[car.Link] = true
				merged = append(merged, car)
			}
		}
		if onSourceDone != nil {
			onSourceDone(res.name, len(res.cars))
		}
	}

	if failures == len(a.sources) {
		return nil, fmt.Errorf("all %d sources failed: %w", failures, lastErr)
	}
	return merged, nil
}

// CatalogSource serves listings from a fixed in-memory catalog. It
// stands in for the crawler backends in development and in tests;
// results are deterministic for a given query.
type CatalogSource struct {
	name    string
	catalog []Listing
}

// NewCatalogSource creates a CatalogSource with the given platform name.
// A nil catalog uses the built-in demo inventory.
func NewCatalogSource(name string, catalog []Listing) *CatalogSource {
	if catalog == nil {
		catalog = demoCatalog(name)
	}
	return &CatalogSource{name: name, catalog: catalog}
}

func (c *CatalogSource) Name() string {
	return c.name
}

// Search filters the catalog against the parsed query.
func (c *CatalogSource) Search(ctx context.Context, q ParsedQuery) ([]Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Listing
	for _, car := range c.catalog {
		if !matches(car, q) {
			continue
		}
		out = append(out, car)
	}
	return out, nil
}

func matches(car Listing, q ParsedQuery) bool {
	if q.Make != "" && !strings.EqualFold(car.Make, q.Make) {
		return false
	}
	if q.Model != "" && !strings.EqualFold(car.Model, q.Model) {
		return false
	}
	if q.YearMin > 0 && car.Year < q.YearMin {
		return false
	}
	if q.YearMax > 0 && car.Year > q.YearMax {
		return false
	}
	if q.PriceMin > 0 || q.PriceMax > 0 {
		price, ok := ParsePrice(car.Price)
		if !ok {
			return false
		}
		if q.PriceMin > 0 && price < q.PriceMin {
			return false
		}
		if q.PriceMax > 0 && price > q.PriceMax {
			return false
		}
	}
	if q.MileageMax > 0 {
		km, ok := ParseMileage(car.Mileage)
		if !ok || km > q.MileageMax {
			return false
		}
	}
	return true
}

// demoCatalog builds a small spread of listings per platform so that
// typical make/model/year/price queries return something.
func demoCatalog(platform string) []Listing {
	specs := []struct {
		mk, model string
		year      int
		price     string
		mileage   string
	}{
		{"Honda", "Civic", 2020, "$19,400", "61,000 km"},
		{"Honda", "Civic", 2018, "$16,800", "95,000 km"},
		{"Honda", "Accord", 2019, "$22,500", "78,000 km"},
		{"Toyota", "Corolla", 2021, "$21,200", "42,000 km"},
		{"Toyota", "Camry", 2017, "$18,900", "110,000 km"},
		{"Toyota", "Rav4", 2020, "$27,300", "66,000 km"},
		{"Mazda", "Mazda3", 2019, "$17,600", "71,000 km"},
		{"Hyundai", "Elantra", 2020, "$16,400", "58,000 km"},
		{"Volkswagen", "Jetta", 2018, "$15,200", "102,000 km"},
		{"Subaru", "Impreza", 2019, "$19,100", "64,000 km"},
	}

	cars := make([]Listing, 0, len(specs))
	for i, s := range specs {
		id := fmt.Sprintf("%s-%04d", platform, i+1)
		cars = append(cars, Listing{
			ID:       id,
			Title:    fmt.Sprintf("%d %s %s", s.year, s.mk, s.model),
			Price:    s.price,
			Mileage:  s.mileage,
			Year:     s.year,
			Make:     s.mk,
			Model:    s.model,
			Location: "Toronto, ON",
			Link:     fmt.Sprintf("https://%s.example.com/listing/%s", platform, id),
			Platform: platform,
		})
	}
	return cars
}
