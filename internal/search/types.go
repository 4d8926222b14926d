package search

// Listing represents a single car listing returned by a source.
type Listing struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	Mileage  string `json:"mileage,omitempty"`
	Year     int    `json:"year,omitempty"`
	Make     string `json:"make,omitempty"`
	Model    string `json:"model,omitempty"`
	Location string `json:"location,omitempty"`
	Link     string `json:"link"`
	ImageURL string `json:"image_url,omitempty"`
	Platform string `json:"platform"`

	QualityScore float64 `json:"quality_score,omitempty"`
	PriceScore   float64 `json:"price_score,omitempty"`
	YearScore    float64 `json:"year_score,omitempty"`
	MileageScore float64 `json:"mileage_score,omitempty"`
	OverallScore float64 `json:"overall_score,omitempty"`
}

// ParsedQuery holds the structured search filters extracted from a
// natural-language query.
type ParsedQuery struct {
	Make       string   `json:"make,omitempty"`
	Model      string   `json:"model,omitempty"`
	YearMin    int      `json:"year_min,omitempty"`
	YearMax    int      `json:"year_max,omitempty"`
	PriceMin   float64  `json:"price_min,omitempty"`
	PriceMax   float64  `json:"price_max,omitempty"`
	MileageMax int      `json:"mileage_max,omitempty"`
	Location   string   `json:"location,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// Request is a search request as submitted by a client.
type Request struct {
	Query string `json:"query"`
}

// ReportFunc is called by pipeline stages to report progress.
// pct is 0-100, step is a short machine-readable stage name,
// extra carries optional counters (total_sources, cars_found, ...).
type ReportFunc func(pct float64, message, step string, extra map[string]any)
