// Package geocode resolves free-text location strings to coordinates by
// trying an ordered chain of sources: a static gazetteer, a metered primary
// API, a rate-limited community geocoder, and a secondary free geocoder.
package geocode

import "context"

// Status is the outcome of a resolution.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusNotFound Status = "not_found"
	StatusError    Status = "error"
)

// Source tags.
const (
	SourceStatic    = "static"
	SourcePrimary   = "primary"
	SourceCommunity = "community"
	SourceSecondary = "secondary"
)

// Result is the output of Resolve.
type Result struct {
	Status    Status   `json:"status"`
	Source    string   `json:"source,omitempty"`
	Label     string   `json:"label,omitempty"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	TimeZone  string   `json:"time_zone,omitempty"`
	Attempted []string `json:"attempted,omitempty"`
}

// Found reports whether the result carries coordinates.
func (r *Result) Found() bool {
	return r != nil && r.Status == StatusSuccess
}

func (r *Result) clone() *Result {
	cp := *r
	cp.Attempted = append([]string(nil), r.Attempted...)
	return &cp
}

// Match is a single source's answer for a normalized query.
type Match struct {
	Label     string
	Latitude  float64
	Longitude float64
	TimeZone  string
}

// Source is one link in the fallback chain. Lookup returns (nil, nil) for a
// clean miss and an error when the source could not answer.
type Source interface {
	Name() string
	Lookup(ctx context.Context, query string) (*Match, error)
}

// HealthChecker is implemented by sources that must be probed before use.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
