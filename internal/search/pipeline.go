package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Runner is the stage contract the task orchestrator drives. Each stage
// reports progress through the supplied ReportFunc at least once before
// returning; a returned error fails the whole task.
type Runner interface {
	ParseQuery(ctx context.Context, query string, report ReportFunc) (ParsedQuery, error)
	SearchSources(ctx context.Context, q ParsedQuery, report ReportFunc) ([]Listing, error)
	AnalyzeResults(ctx context.Context, cars []Listing, query string, report ReportFunc) ([]Listing, error)
	Finalize(ctx context.Context, taskID, query string, cars []Listing, duration time.Duration, report ReportFunc) error
}

// Saver persists finished search output. Defined at the consumer side;
// the store package provides the implementation.
type Saver interface {
	SaveListings(taskID string, cars []Listing) error
	RecordSearch(taskID, query string, resultCount int, duration time.Duration) error
}

// Pipeline is the production Runner: rule-based parsing, concurrent
// source fan-out, score/rank analysis and store persistence.
type Pipeline struct {
	parser *Parser
	agg    *Aggregator
	scorer *Scorer
	saver  Saver // nil disables persistence
}

// NewPipeline assembles a Pipeline. saver may be nil.
func NewPipeline(agg *Aggregator, saver Saver) *Pipeline {
	return &Pipeline{
		parser: NewParser(),
		agg:    agg,
		scorer: NewScorer(),
		saver:  saver,
	}
}

// ParseQuery extracts and validates structured filters from the query.
func (p *Pipeline) ParseQuery(ctx context.Context, query string, report ReportFunc) (ParsedQuery, error) {
	if err := ctx.Err(); err != nil {
		return ParsedQuery{}, err
	}

	pq := p.parser.Parse(query)
	if err := p.parser.Validate(pq); err != nil {
		report(20, fmt.Sprintf("query parsing failed: %v", err), "parsing_failed", nil)
		return ParsedQuery{}, err
	}

	report(20, "query parsed", "parsing_completed", nil)
	return pq, nil
}

// SearchSources fans the query out to every configured source.
func (p *Pipeline) SearchSources(ctx context.Context, q ParsedQuery, report ReportFunc) ([]Listing, error) {
	total := p.agg.SourceCount()
	report(50, fmt.Sprintf("searching %d sources", total), "searching_sources",
		map[string]any{"total_sources": total})

	completed := 0
	cars, err := p.agg.Search(ctx, q, func(name string, found int) {
		completed++
		pct := 50 + 25*float64(completed)/float64(total)
		report(pct, fmt.Sprintf("searched %s", name), "searching_"+name,
			map[string]any{
				"total_sources":     total,
				"completed_sources": completed,
			})
	})
	if err != nil {
		return nil, err
	}

	report(75, fmt.Sprintf("found %d listings", len(cars)), "search_completed",
		map[string]any{"cars_found": len(cars)})
	return cars, nil
}

// AnalyzeResults scores and ranks the merged listings.
func (p *Pipeline) AnalyzeResults(ctx context.Context, cars []Listing, query string, report ReportFunc) ([]Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report(85, "calculating recommendation scores", "calculating_scores", nil)
	ranked := p.scorer.Rank(cars)

	report(95, "analysis complete", "analysis_completed",
		map[string]any{"cars_found": len(ranked)})
	return ranked, nil
}

// Finalize persists the run's output. Persistence failures are logged,
// not fatal: the results were already delivered to subscribers.
func (p *Pipeline) Finalize(ctx context.Context, taskID, query string, cars []Listing, duration time.Duration, report ReportFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.saver != nil {
		if err := p.saver.SaveListings(taskID, cars); err != nil {
			slog.Warn("failed to save listings",
				"task_id", taskID,
				"error", err)
		}
		if err := p.saver.RecordSearch(taskID, query, len(cars), duration); err != nil {
			slog.Warn("failed to record search history",
				"task_id", taskID,
				"error", err)
		}
	}

	report(98, "results saved", "finalizing", nil)
	return nil
}
