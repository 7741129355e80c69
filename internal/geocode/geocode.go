// Package geocode resolves storm-event place names to coordinates for
// records that arrive without them.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kelvins/geocoder"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
)

// ErrNoResult is returned when the provider has no match.
var ErrNoResult = errors.New("geocode: no result")

// Country is appended to every query.
const Country = "United States"

// Query describes a place to look up. County is used when Place is empty.
type Query struct {
	Place  string
	County string
	State  string
}

// Address renders the query as a single-line address.
func (q Query) Address() string {
	name := strings.TrimSpace(q.Place)
	if name == "" {
		name = strings.TrimSpace(q.County) + " County"
	}
	return fmt.Sprintf("%s %s, %s", name, strings.TrimSpace(q.State), Country)
}

// Geocoder resolves a query to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, q Query) (model.Geo, error)
}

// Google calls the Google Geocoding API.
type Google struct {
	lookup func(geocoder.Address) (geocoder.Location, error)
}

// NewGoogle configures the API key and returns a Google geocoder.
func NewGoogle(apiKey string) *Google {
	geocoder.ApiKey = apiKey
	return &Google{lookup: geocoder.Geocoding}
}

// Geocode looks up q. The upstream client does not take a context, so
// cancellation is only checked before the call.
func (g *Google) Geocode(ctx context.Context, q Query) (model.Geo, error) {
	if err := ctx.Err(); err != nil {
		return model.Geo{}, err
	}
	addr := geocoder.Address{
		City:    strings.TrimSpace(q.Place),
		State:   strings.TrimSpace(q.State),
		Country: Country,
	}
	if addr.City == "" {
		addr.County = strings.TrimSpace(q.County) + " County"
	}
	loc, err := g.lookup(addr)
	if err != nil {
		return model.Geo{}, fmt.Errorf("geocode %q: %w", q.Address(), err)
	}
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return model.Geo{}, fmt.Errorf("%w for %q", ErrNoResult, q.Address())
	}
	return model.Geo{Lat: loc.Latitude, Lon: loc.Longitude}, nil
}

// Cached wraps a Geocoder with an in-memory LRU. Failures are not cached.
type Cached struct {
	inner Geocoder
	cache *lru.Cache[string, model.Geo]
}

// NewCached creates a cache decorator holding up to size entries.
func NewCached(inner Geocoder, size int) (*Cached, error) {
	c, err := lru.New[string, model.Geo](size)
	if err != nil {
		return nil, fmt.Errorf("create geocode cache: %w", err)
	}
	return &Cached{inner: inner, cache: c}, nil
}

// Geocode serves repeated queries from the cache.
func (c *Cached) Geocode(ctx context.Context, q Query) (model.Geo, error) {
	key := strings.ToLower(q.Address())
	if g, ok := c.cache.Get(key); ok {
		return g, nil
	}
	g, err := c.inner.Geocode(ctx, q)
	if err != nil {
		return g, err
	}
	c.cache.Add(key, g)
	return g, nil
}
