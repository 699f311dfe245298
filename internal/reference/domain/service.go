package domain

import (
	"context"
	"time"
)

// Snapshot is an immutable view of all effective country weights at one
// instant, used by batch scoring runs so every record in the run sees the
// same reference data.
type Snapshot struct {
	AsOf    time.Time
	weights map[string]float64
}

func NewSnapshot(asOf time.Time, weights map[string]float64) Snapshot {
	copied := make(map[string]float64, len(weights))
	for code, weight := range weights {
		copied[code] = weight
	}
	return Snapshot{AsOf: asOf, weights: copied}
}

// Lookup returns the weight for the country code, or false when unmapped.
func (s Snapshot) Lookup(countryCode string) (float64, bool) {
	weight, ok := s.weights[countryCode]
	return weight, ok
}

// Len returns the number of mapped countries.
func (s Snapshot) Len() int { return len(s.weights) }

type Service interface {
	// LookupCountryRisk returns the weight whose effective range covers asOf,
	// or ErrNotFound when the country is unmapped at that instant.
	LookupCountryRisk(ctx context.Context, countryCode string, asOf time.Time) (float64, error)
	// Snapshot materializes all weights effective at asOf.
	Snapshot(ctx context.Context, asOf time.Time) (Snapshot, error)
	// Get returns the full effective-dated row covering asOf.
	Get(ctx context.Context, req GetCountryRiskRequest) (CountryRiskScore, error)
	// Upsert closes the open range for the country and starts a new one.
	Upsert(ctx context.Context, req UpsertCountryRiskRequest) (CountryRiskScore, error)
}
