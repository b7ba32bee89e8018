// Package geo talks to the OpenRouteService geocoding and routing APIs.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultBaseURL = "https://api.openrouteservice.org"

var ErrNoResults = errors.New("geo: no results")

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Geocode returns the best match for a free-text address.
func (c *Client) Geocode(ctx context.Context, address string) (Point, error) {
	var resp geocodeResponse
	err := c.get(ctx, "/geocode/search", url.Values{"text": {address}}, &resp)
	if err != nil {
		return Point{}, err
	}
	if len(resp.Features) == 0 || len(resp.Features[0].Geometry.Coordinates) < 2 {
		return Point{}, fmt.Errorf("geocode %q: %w", address, ErrNoResults)
	}

	coords := resp.Features[0].Geometry.Coordinates
	return Point{Lng: coords[0], Lat: coords[1]}, nil
}

type directionsResponse struct {
	Features []struct {
		Properties struct {
			Segments []struct {
				Distance float64 `json:"distance"`
			} `json:"segments"`
		} `json:"properties"`
	} `json:"features"`
}

// Distance returns the driving distance in meters between two addresses.
func (c *Client) Distance(ctx context.Context, origin, destination string) (float64, error) {
	from, err := c.Geocode(ctx, origin)
	if err != nil {
		return 0, err
	}
	to, err := c.Geocode(ctx, destination)
	if err != nil {
		return 0, err
	}

	var resp directionsResponse
	err = c.get(ctx, "/v2/directions/driving-car", url.Values{
		"start": {lngLat(from)},
		"end":   {lngLat(to)},
	}, &resp)
	if err != nil {
		return 0, err
	}
	if len(resp.Features) == 0 || len(resp.Features[0].Properties.Segments) == 0 {
		return 0, fmt.Errorf("route %q -> %q: %w", origin, destination, ErrNoResults)
	}
	return resp.Features[0].Properties.Segments[0].Distance, nil
}

func lngLat(p Point) string {
	return strconv.FormatFloat(p.Lng, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	params.Set("api_key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geo: %s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
