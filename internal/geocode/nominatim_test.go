package geocode

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func TestGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "1 Main Street", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"32.0853","lon":"34.7818"}]`))
	}))
	defer srv.Close()

	client := NewNominatimClient(srv.URL, 2*time.Second, newTestLogger())
	pt, err := client.Geocode(context.Background(), "1 Main Street")

	require.NoError(t, err)
	assert.InDelta(t, 32.0853, pt.Latitude, 1e-9)
	assert.InDelta(t, 34.7818, pt.Longitude, 1e-9)
}

func TestGeocode_NoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewNominatimClient(srv.URL, 2*time.Second, newTestLogger())
	_, err := client.Geocode(context.Background(), "nowhere at all")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestGeocode_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewNominatimClient(srv.URL, 2*time.Second, newTestLogger())
	_, err := client.Geocode(context.Background(), "1 Main Street")

	require.Error(t, err)
	// a provider failure must not look like "no result"
	assert.NotErrorIs(t, err, ErrNoResult)
}

func TestGeocode_OutOfRangeCoordinates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "latitude above range", body: `[{"lat":"123.0","lon":"34.7818"}]`},
		{name: "latitude below range", body: `[{"lat":"-91.5","lon":"34.7818"}]`},
		{name: "longitude above range", body: `[{"lat":"32.0853","lon":"181.0"}]`},
		{name: "longitude below range", body: `[{"lat":"32.0853","lon":"-200.0"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewNominatimClient(srv.URL, 2*time.Second, newTestLogger())
			_, err := client.Geocode(context.Background(), "1 Main Street")

			require.Error(t, err)
			// a bad provider payload must not look like "no result"
			assert.NotErrorIs(t, err, ErrNoResult)
		})
	}
}

func TestGeocode_InvalidCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"not-a-number","lon":"34.7818"}]`))
	}))
	defer srv.Close()

	client := NewNominatimClient(srv.URL, 2*time.Second, newTestLogger())
	_, err := client.Geocode(context.Background(), "1 Main Street")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoResult)
}
