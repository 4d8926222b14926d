package store

import (
	"time"

	"github.com/carscope/carscope/internal/search"
)

// Saver adapts a Store to the pipeline's persistence contract.
type Saver struct {
	store Store
}

// NewSaver creates a Saver backed by store.
func NewSaver(store Store) *Saver {
	return &Saver{store: store}
}

// SaveListings persists the run's listings.
func (s *Saver) SaveListings(taskID string, cars []search.Listing) error {
	records := make([]ListingRecord, 0, len(cars))
	for _, c := range cars {
		records = append(records, ListingRecord{
			ID:           c.ID,
			TaskID:       taskID,
			Title:        c.Title,
			Price:        c.Price,
			Mileage:      c.Mileage,
			Year:         c.Year,
			Make:         c.Make,
			Model:        c.Model,
			Location:     c.Location,
			Link:         c.Link,
			ImageURL:     c.ImageURL,
			Platform:     c.Platform,
			OverallScore: c.OverallScore,
		})
	}
	return s.store.SaveListings(taskID, records)
}

// RecordSearch appends one row of search history.
func (s *Saver) RecordSearch(taskID, query string, resultCount int, duration time.Duration) error {
	return s.store.RecordSearch(&SearchRecord{
		TaskID:      taskID,
		Query:       query,
		ResultCount: resultCount,
		Duration:    duration,
	})
}
