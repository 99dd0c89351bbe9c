package session

import (
	"time"

	"github.com/leadlift/attribution/internal/domain"
)

// Config holds the stitching parameters
type Config struct {
	// Window is the half-open lookback within which a page hit joins an
	// existing visit
	Window time.Duration
	// TrailingAllowance is the fixed time credited to a visit's last page
	TrailingAllowance time.Duration
}

// Normalize fills zero values with the pipeline defaults
func (c Config) Normalize() Config {
	if c.Window == 0 {
		c.Window = domain.DefaultSessionWindow
	}
	if c.TrailingAllowance == 0 {
		c.TrailingAllowance = domain.DefaultTrailingPageAllowance
	}
	return c
}

// PageHit is one request as the stitcher sees it
type PageHit struct {
	PageURL     string
	RequestedAt time.Time
}

// Aggregates is the derived state of a visit
type Aggregates struct {
	StartedAt      time.Time
	EndedAt        time.Time
	PagesCount     int
	FullTimeSec    int64
	AverageTimeSec float64
}

// InWindow reports whether a prior request at `prior` puts an event at `t`
// inside the same visit. The window is half-open: [t - window, t].
func InWindow(prior, t time.Time, window time.Duration) bool {
	if prior.After(t) {
		return false
	}
	return !prior.Before(t.Add(-window))
}

// Recompute derives a visit's aggregates from its full request set.
// start = min(requested_at), end = max(requested_at),
// full_time = (end - start) + allowance, pages = distinct normalized pages,
// average = full_time / request count.
func Recompute(hits []PageHit, allowance time.Duration) Aggregates {
	if len(hits) == 0 {
		return Aggregates{}
	}

	start := hits[0].RequestedAt
	end := hits[0].RequestedAt
	pages := make(map[string]struct{}, len(hits))

	for _, hit := range hits {
		if hit.RequestedAt.Before(start) {
			start = hit.RequestedAt
		}
		if hit.RequestedAt.After(end) {
			end = hit.RequestedAt
		}
		pages[hit.PageURL] = struct{}{}
	}

	fullTime := int64(end.Sub(start)/time.Second) + int64(allowance/time.Second)

	return Aggregates{
		StartedAt:      start,
		EndedAt:        end,
		PagesCount:     len(pages),
		FullTimeSec:    fullTime,
		AverageTimeSec: float64(fullTime) / float64(len(hits)),
	}
}

// Open returns the aggregates of a brand new single-page visit at t
func Open(t time.Time, allowance time.Duration) Aggregates {
	allowanceSec := int64(allowance / time.Second)
	return Aggregates{
		StartedAt:      t,
		EndedAt:        t,
		PagesCount:     1,
		FullTimeSec:    allowanceSec,
		AverageTimeSec: float64(allowanceSec),
	}
}
