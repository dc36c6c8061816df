// Package geocode resolves coordinates to a country name using the
// BigDataCloud reverse-geocoding API. No API key is required.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/monscodex/spot-and-block/internal/adapter/external/gateway"
)

// Client performs reverse country lookups.
type Client struct {
	gw      *gateway.Gateway
	baseURL string
	logger  *slog.Logger
}

// Config holds geocode client configuration.
type Config struct {
	BaseURL string
	Logger  *slog.Logger
}

// New creates a reverse-geolocation client.
func New(gw *gateway.Gateway, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bigdatacloud.net/data/reverse-geocode-client"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{gw: gw, baseURL: cfg.BaseURL, logger: cfg.Logger}
}

type geocodeResponse struct {
	CountryName string `json:"countryName"`
}

// CountryName resolves (lat, lon) to a country name. A missing or unusable
// result is not a failure of the aggregate: it returns "" with a nil error.
func (c *Client) CountryName(ctx context.Context, latitude, longitude float64) string {
	url := fmt.Sprintf("%s?latitude=%f&longitude=%f&localityLanguage=en",
		c.baseURL, latitude, longitude)

	body, err := c.gw.Do(ctx, gateway.Request{URL: url, MaxAttempts: 3})
	if err != nil {
		c.logger.Debug("[GEO] reverse lookup failed", "lat", latitude, "lon", longitude, "error", err)
		return ""
	}

	var resp geocodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Debug("[GEO] reverse lookup returned unusable payload", "error", err)
		return ""
	}
	return resp.CountryName
}
