// Package cvedetail enriches CVE identifiers with their CVSS score using the
// CIRCL CVE Search API.
package cvedetail

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/monscodex/spot-and-block/internal/adapter/external/gateway"
	"github.com/monscodex/spot-and-block/internal/entity"
)

// Client looks up detail records for single CVE ids.
type Client struct {
	gw      *gateway.Gateway
	baseURL string
	limiter *rate.Limiter
}

// Config holds cvedetail client configuration.
type Config struct {
	BaseURL string
	// RequestsPerMinute paces the fan-out the fingerprint client triggers;
	// one host can carry dozens of CVEs. Defaults to 60.
	RequestsPerMinute int
}

// New creates a CVE detail client.
func New(gw *gateway.Gateway, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://cve.circl.lu/api/cve"
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 60
	}
	return &Client{
		gw:      gw,
		baseURL: cfg.BaseURL,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 5),
	}
}

type cveResponse struct {
	ID   string   `json:"id"`
	CVSS *float64 `json:"cvss"`
}

// Fetch returns the detail record for one CVE id. A response whose id does
// not echo the request is treated as invalid and retried by the gateway.
func (c *Client) Fetch(ctx context.Context, cveID string) (*entity.CveRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("cve detail pacing: %w", err)
	}

	body, err := c.gw.Do(ctx, gateway.Request{
		URL:         fmt.Sprintf("%s/%s", c.baseURL, cveID),
		Validate:    gateway.FieldEquals("id", cveID),
		MaxAttempts: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", cveID, err)
	}

	var resp cveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", cveID, err)
	}

	return &entity.CveRecord{ID: resp.ID, CVSS: resp.CVSS}, nil
}

// SetPace adjusts the pacing limiter, mainly for tests.
func (c *Client) SetPace(perSecond float64, burst int) {
	c.limiter.SetLimit(rate.Limit(perSecond))
	c.limiter.SetBurst(burst)
}
