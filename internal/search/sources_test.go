package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	name string
	cars []Listing
	err  error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Search(ctx context.Context, q ParsedQuery) ([]Listing, error) {
	return s.cars, s.err
}

func TestAggregator_Search_MergesAllSources(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(time.Second,
		&stubSource{name: "a", cars: []Listing{{ID: "1", Link: "https://a/1"}}},
		&stubSource{name: "b", cars: []Listing{{ID: "2", Link: "https://b/2"}}},
	)

	cars, err := agg.Search(context.Background(), ParsedQuery{}, nil)
	require.NoError(t, err)
	assert.Len(t, cars, 2)
}

func TestAggregator_Search_DeduplicatesByLink(t *testing.T) {
	t.Parallel()

	shared := Listing{ID: "dup", Link: "https://shared/1"}
	agg := NewAggregator(time.Second,
		&stubSource{name: "a", cars: []Listing{shared}},
		&stubSource{name: "b", cars: []Listing{shared}},
	)

	cars, err := agg.Search(context.Background(), ParsedQuery{}, nil)
	require.NoError(t, err)
	assert.Len(t, cars, 1)
}

func TestAggregator_Search_ToleratesPartialFailure(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(time.Second,
		&stubSource{name: "up", cars: []Listing{{ID: "1", Link: "https://up/1"}}},
		&stubSource{name: "down", err: errors.New("boom")},
	)

	cars, err := agg.Search(context.Background(), ParsedQuery{}, nil)
	require.NoError(t, err)
	assert.Len(t, cars, 1)
}

func TestAggregator_Search_AllSourcesFailedReturnsError(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(time.Second,
		&stubSource{name: "a", err: errors.New("down")},
		&stubSource{name: "b", err: errors.New("down too")},
	)

	_, err := agg.Search(context.Background(), ParsedQuery{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 sources failed")
}

func TestAggregator_Search_ReportsEachSource(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(time.Second,
		&stubSource{name: "a", cars: []Listing{{ID: "1", Link: "https://a/1"}}},
		&stubSource{name: "b"},
	)

	done := make(map[string]int)
	_, err := agg.Search(context.Background(), ParsedQuery{}, func(name string, found int) {
		done[name] = found
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"a": 1, "b": 0}, done)
}

func TestAggregator_Search_NoSourcesConfigured(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(time.Second)
	_, err := agg.Search(context.Background(), ParsedQuery{}, nil)
	require.Error(t, err)
}

func TestCatalogSource_Search_FiltersByQuery(t *testing.T) {
	t.Parallel()

	src := NewCatalogSource("autotrader", nil)

	cars, err := src.Search(context.Background(), ParsedQuery{Make: "Honda", Model: "Civic"})
	require.NoError(t, err)
	require.NotEmpty(t, cars)
	for _, car := range cars {
		assert.Equal(t, "Honda", car.Make)
		assert.Equal(t, "Civic", car.Model)
	}
}

func TestCatalogSource_Search_AppliesPriceAndYearBounds(t *testing.T) {
	t.Parallel()

	src := NewCatalogSource("kijiji", nil)

	cars, err := src.Search(context.Background(), ParsedQuery{
		Make:     "Honda",
		Model:    "Civic",
		YearMin:  2019,
		PriceMax: 20000,
	})
	require.NoError(t, err)
	require.Len(t, cars, 1)
	assert.Equal(t, 2020, cars[0].Year)
}

func TestCatalogSource_Search_HonoursCancelledContext(t *testing.T) {
	t.Parallel()

	src := NewCatalogSource("cargurus", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Search(ctx, ParsedQuery{})
	assert.ErrorIs(t, err, context.Canceled)
}
