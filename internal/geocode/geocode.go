// Package geocode resolves free-text addresses to coordinates through an
// external service. Every lookup is bounded by a timeout and failures are
// reported as *LookupError so callers can treat them as non-fatal.
package geocode

import (
	"context"
	"errors"
	"fmt"

	"github.com/opted/inventory/internal/dql"
)

// ErrNoMatch is wrapped by LookupError when the service found nothing.
var ErrNoMatch = errors.New("no match")

// ErrDisabled is wrapped by LookupError when no service is configured.
var ErrDisabled = errors.New("geocoding disabled")

// Result is a resolved location.
type Result struct {
	Point       dql.Geo `json:"point"`
	Address     string  `json:"address"`
	Name        string  `json:"name,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Kind        string  `json:"kind,omitempty"`
}

// Geocoder resolves addresses and coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (*Result, error)
	Reverse(ctx context.Context, p dql.Geo) (*Result, error)
}

// LookupError reports that an external lookup could not be completed.
type LookupError struct {
	Op    string
	Query string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("geocode %s %q: %v", e.Op, e.Query, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Disabled is a Geocoder used when no service is configured.
type Disabled struct{}

func (Disabled) Geocode(_ context.Context, query string) (*Result, error) {
	return nil, &LookupError{Op: "search", Query: query, Err: ErrDisabled}
}

func (Disabled) Reverse(_ context.Context, p dql.Geo) (*Result, error) {
	return nil, &LookupError{Op: "reverse", Query: fmt.Sprintf("%g,%g", p.Lat, p.Lon), Err: ErrDisabled}
}
