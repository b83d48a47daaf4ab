package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jacobbs10/responder-dispatch/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrNoRoute is returned when the provider cannot connect the two points.
// It is distinct from transport errors so the dispatch flow can leave the
// incident unassigned instead of treating the failure as transient.
var ErrNoRoute = errors.New("routing: no route between points")

// OSRMClient computes routes against an OSRM-compatible routing endpoint.
type OSRMClient struct {
	baseURL     string
	httpClient  *http.Client
	minDuration int
	logger      *logrus.Logger
}

// NewOSRMClient creates a routing client with a bounded timeout.
// minDurationSecs floors the reported traversal duration; degenerate
// zero-length routes must still take time, otherwise the simulation would
// arrive on its first tick.
func NewOSRMClient(baseURL string, timeout time.Duration, minDurationSecs int, logger *logrus.Logger) *OSRMClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if minDurationSecs < 1 {
		minDurationSecs = 1
	}
	return &OSRMClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		minDuration: minDurationSecs,
		logger:      logger,
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"` // [lon, lat]
		} `json:"geometry"`
	} `json:"routes"`
}

// Route returns an ordered path from start to end and the estimated traversal
// duration in whole seconds. The returned path always begins at the exact
// start point and ends at the exact end point; the provider snaps both to the
// road network, so the raw geometry endpoints may be slightly off.
func (c *OSRMClient) Route(ctx context.Context, from, to models.Point) (models.Path, int, error) {
	reqURL := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		c.baseURL, from.Longitude, from.Latitude, to.Longitude, to.Latitude)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("routing: failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("routing: provider request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("routing: failed to decode response: %w", err)
	}

	switch parsed.Code {
	case "Ok":
	case "NoRoute", "NoSegment":
		return nil, 0, ErrNoRoute
	default:
		return nil, 0, fmt.Errorf("routing: provider returned code %q (status %d)", parsed.Code, resp.StatusCode)
	}
	if len(parsed.Routes) == 0 {
		return nil, 0, ErrNoRoute
	}

	best := parsed.Routes[0]
	path := make(models.Path, 0, len(best.Geometry.Coordinates)+2)
	path = append(path, from)
	for _, coord := range best.Geometry.Coordinates {
		if len(coord) < 2 {
			continue
		}
		path = append(path, models.Point{Latitude: coord[1], Longitude: coord[0]})
	}
	path = append(path, to)

	duration := int(math.Ceil(best.Duration))
	if duration < c.minDuration {
		duration = c.minDuration
	}

	c.logger.WithFields(logrus.Fields{
		"points":           len(path),
		"duration_seconds": duration,
	}).Debug("Route computed")
	return path, duration, nil
}
