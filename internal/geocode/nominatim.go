package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opted/inventory/internal/dql"
)

// Defaults applied by NewNominatim.
const (
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 24 * time.Hour
)

// Nominatim is a Geocoder backed by an OpenStreetMap Nominatim server.
type Nominatim struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	client    *http.Client
	cache     Cache
	ttl       time.Duration
	group     singleflight.Group
	logger    *slog.Logger
}

// Option configures a Nominatim client.
type Option func(*Nominatim)

// WithTimeout bounds each request to the server.
func WithTimeout(d time.Duration) Option { return func(n *Nominatim) { n.timeout = d } }

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option { return func(n *Nominatim) { n.client = c } }

// WithLogger sets the logger for cache failures.
func WithLogger(l *slog.Logger) Option { return func(n *Nominatim) { n.logger = l } }

// WithCache stores results in c for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(n *Nominatim) {
		n.cache = c
		n.ttl = ttl
	}
}

// NewNominatim creates a client for the server at baseURL. Nominatim's
// usage policy requires an identifying user agent.
func NewNominatim(baseURL, userAgent string, opts ...Option) *Nominatim {
	n := &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		timeout:   DefaultTimeout,
		client:    http.DefaultClient,
		ttl:       DefaultCacheTTL,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

type place struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Name        string            `json:"name"`
	AddressType string            `json:"addresstype"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

func (p place) result() (*Result, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q", p.Lat)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q", p.Lon)
	}
	return &Result{
		Point:       dql.Geo{Lat: lat, Lon: lon},
		Address:     p.DisplayName,
		Name:        p.Name,
		CountryCode: strings.ToUpper(p.Address["country_code"]),
		Kind:        p.AddressType,
	}, nil
}

// Geocode resolves a free-text query to its best match.
func (n *Nominatim) Geocode(ctx context.Context, query string) (*Result, error) {
	q := strings.Join(strings.Fields(query), " ")
	params := url.Values{
		"q":              {q},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
		"limit":          {"1"},
	}
	return n.lookup(ctx, "search", "search:"+strings.ToLower(q), q, params, func(body []byte) (*Result, error) {
		var places []place
		if err := json.Unmarshal(body, &places); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if len(places) == 0 {
			return nil, ErrNoMatch
		}
		return places[0].result()
	})
}

// Reverse resolves coordinates to the enclosing address.
func (n *Nominatim) Reverse(ctx context.Context, p dql.Geo) (*Result, error) {
	lat := strconv.FormatFloat(p.Lat, 'f', 6, 64)
	lon := strconv.FormatFloat(p.Lon, 'f', 6, 64)
	params := url.Values{
		"lat":            {lat},
		"lon":            {lon},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
	}
	return n.lookup(ctx, "reverse", "reverse:"+lat+","+lon, lat+","+lon, params, func(body []byte) (*Result, error) {
		var pl place
		if err := json.Unmarshal(body, &pl); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if pl.Error != "" {
			return nil, ErrNoMatch
		}
		return pl.result()
	})
}

// lookup serves key from the cache or performs one request for all
// concurrent callers asking for the same key. Each caller still returns
// as soon as its own context ends.
func (n *Nominatim) lookup(ctx context.Context, op, key, query string, params url.Values, decode func([]byte) (*Result, error)) (*Result, error) {
	if n.cache != nil {
		r, ok, err := n.cache.Get(ctx, key)
		if err != nil {
			n.logger.Warn("geocode cache read failed", "key", key, "error", err)
		} else if ok {
			return r, nil
		}
	}

	ch := n.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		body, err := n.get(rctx, op, params)
		if err != nil {
			return nil, err
		}
		r, err := decode(body)
		if err != nil {
			return nil, err
		}
		if n.cache != nil {
			if err := n.cache.Set(rctx, key, r, n.ttl); err != nil {
				n.logger.Warn("geocode cache write failed", "key", key, "error", err)
			}
		}
		return r, nil
	})

	select {
	case <-ctx.Done():
		return nil, &LookupError{Op: op, Query: query, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, &LookupError{Op: op, Query: query, Err: res.Err}
		}
		r := *res.Val.(*Result)
		return &r, nil
	}
}

func (n *Nominatim) get(ctx context.Context, op string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/"+op+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return raw, nil
}
