package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jacobbs10/responder-dispatch/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrNoResult is returned when the provider resolves the query to nothing.
// It is distinct from transport errors so callers can tell "bad address"
// from "provider down".
var ErrNoResult = errors.New("geocode: no result for address")

// NominatimClient resolves free-text addresses against a Nominatim-compatible
// geocoding endpoint.
type NominatimClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewNominatimClient creates a geocoding client with a bounded timeout.
func NewNominatimClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *NominatimClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NominatimClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode resolves an address to a point. A timeout or transport failure is
// returned as a plain error; an empty result set is ErrNoResult.
func (c *NominatimClient) Geocode(ctx context.Context, address string) (models.Point, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	reqURL := fmt.Sprintf("%s/search?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.Point{}, fmt.Errorf("geocode: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Point{}, fmt.Errorf("geocode: provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Point{}, fmt.Errorf("geocode: provider returned status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return models.Point{}, fmt.Errorf("geocode: failed to decode response: %w", err)
	}
	if len(results) == 0 {
		return models.Point{}, ErrNoResult
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return models.Point{}, fmt.Errorf("geocode: invalid latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return models.Point{}, fmt.Errorf("geocode: invalid longitude %q: %w", results[0].Lon, err)
	}
	if lat < -90 || lat > 90 {
		return models.Point{}, fmt.Errorf("geocode: latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return models.Point{}, fmt.Errorf("geocode: longitude %v out of range", lon)
	}

	pt := models.Point{Latitude: lat, Longitude: lon}
	c.logger.WithFields(logrus.Fields{
		"address":   address,
		"latitude":  pt.Latitude,
		"longitude": pt.Longitude,
	}).Debug("Address geocoded")
	return pt, nil
}
