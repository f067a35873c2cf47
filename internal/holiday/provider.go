// Package holiday provides public/school holiday lookups for the holiday
// sync scheduler. The Provider interface and its HTTP-implementation-plus-
// test-fake split let the scheduler depend on an interface while tests
// swap in a canned fake; the real provider is an HTTP JSON API keyed by
// country/region.
package holiday

import (
	"context"
	"time"
)

// Holiday is one public or school holiday observed on Date.
type Holiday struct {
	Date  time.Time
	Name  string
	Type  string // "public" or "school"
}

// Provider fetches holidays for a country/region and year.
type Provider interface {
	FetchHolidays(ctx context.Context, countryCode, region string, year int) ([]Holiday, error)
}
