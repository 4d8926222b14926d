package store

import (
	"time"
)

// Store is the persistence interface for finished search output.
// Task state itself is deliberately ephemeral; only listings and
// search history survive a restart.
type Store interface {
	// Listings
	SaveListings(taskID string, cars []ListingRecord) error
	RecentListings(limit int) ([]ListingRecord, error)

	// Search history
	RecordSearch(rec *SearchRecord) error
	RecentSearches(limit int) ([]SearchRecord, error)

	// Maintenance
	Cleanup(retention time.Duration) (int64, error)
	Close() error
}

// ListingRecord is a persisted car listing.
type ListingRecord struct {
	ID           string
	TaskID       string
	Title        string
	Price        string
	Mileage      string
	Year         int
	Make         string
	Model        string
	Location     string
	Link         string
	ImageURL     string
	Platform     string
	OverallScore float64
	CreatedAt    time.Time
}

// SearchRecord is one row of search history.
type SearchRecord struct {
	ID          int64
	TaskID      string
	Query       string
	ResultCount int
	Duration    time.Duration
	CreatedAt   time.Time
}
