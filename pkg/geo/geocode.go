package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kass/go-mart-connect/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultNominatimURL is the public OpenStreetMap search endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// GeocodeResult is one match for a free-text location query.
type GeocodeResult struct {
	Coordinate  models.Coordinate `json:"coordinate"`
	DisplayName string            `json:"display_name"`
}

// Geocoder resolves free text into coordinates.
type Geocoder interface {
	Search(ctx context.Context, query string, limit int) ([]GeocodeResult, error)
}

// NominatimClient queries a Nominatim-compatible GeoJSON search API.
type NominatimClient struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

// NewNominatimClient returns a client for baseURL, falling back to the
// public endpoint when baseURL is empty.
func NewNominatimClient(baseURL, userAgent string) *NominatimClient {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &NominatimClient{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

type featureCollection struct {
	Features []struct {
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			DisplayName string `json:"display_name"`
			Name        string `json:"name"`
		} `json:"properties"`
	} `json:"features"`
}

// Search returns up to limit point matches for query. A blank query
// returns no results without contacting the service.
func (c *NominatimClient) Search(ctx context.Context, query string, limit int) ([]GeocodeResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "geojson")
	params.Set("polygon_geojson", "0")
	params.Set("addressdetails", "1")
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")
	req.Header.Set("Accept-Language", "en")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unable to fetch location data: status %d", resp.StatusCode)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}

	results := make([]GeocodeResult, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			continue
		}
		// GeoJSON order is lon, lat
		coord := models.Coordinate{Lat: f.Geometry.Coordinates[1], Lon: f.Geometry.Coordinates[0]}
		if err := coord.Validate(); err != nil {
			log.Debug().Err(err).Str("query", query).Msg("Skipping geocode result with invalid coordinate")
			continue
		}
		name := f.Properties.DisplayName
		if name == "" {
			name = f.Properties.Name
		}
		if name == "" {
			name = query
		}
		results = append(results, GeocodeResult{Coordinate: coord, DisplayName: name})
	}
	return results, nil
}
