// Package shodan is the mandatory fingerprint source: open ports, server
// tags, a geolocation seed and the list of known vulnerability ids for an
// IP. Its failure aborts the whole assessment run.
package shodan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/monscodex/spot-and-block/internal/adapter/external/cvedetail"
	"github.com/monscodex/spot-and-block/internal/adapter/external/gateway"
	"github.com/monscodex/spot-and-block/internal/adapter/external/geocode"
	"github.com/monscodex/spot-and-block/internal/entity"
	"github.com/monscodex/spot-and-block/internal/ratelimit"
)

const (
	// maxQuotaRetries bounds how often we re-enter the admission queue after
	// the provider itself answers 429 despite local limiting.
	maxQuotaRetries = 5

	// cveFanOutLimit bounds the concurrent detail lookups one host triggers.
	cveFanOutLimit = 4
)

// Client queries the Shodan host API under a sliding-window quota.
type Client struct {
	gw      *gateway.Gateway
	limiter *ratelimit.SlidingWindow
	cve     *cvedetail.Client
	geo     *geocode.Client
	logger  *slog.Logger

	apiKey  string
	baseURL string
}

// Config holds fingerprint client configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Logger  *slog.Logger
}

// New creates a fingerprint client. The limiter is shared state scoped to
// this provider and injected by the caller that owns its lifetime.
func New(gw *gateway.Gateway, limiter *ratelimit.SlidingWindow, cve *cvedetail.Client, geo *geocode.Client, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.shodan.io"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		gw:      gw,
		limiter: limiter,
		cve:     cve,
		geo:     geo,
		logger:  cfg.Logger,
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
	}
}

// hostResponse is the minified Shodan host payload.
type hostResponse struct {
	IPStr       string   `json:"ip_str"`
	City        string   `json:"city"`
	RegionCode  string   `json:"region_code"`
	AreaCode    *int     `json:"area_code"`
	CountryCode string   `json:"country_code"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Tags        []string `json:"tags"`
	Ports       []int    `json:"ports"`
	Vulns       []string `json:"vulns"`
}

// ParseIP fetches the fingerprint record for an IP, resolves the country
// name from the coordinates and fans out detail lookups for every known
// vulnerability id.
//
// A 401 from the provider means the configured API key is invalid: fatal and
// user-actionable, never retried. A 429 means the provider's own quota
// tripped despite local admission control: wait out a jittered delay, go
// through the queue again.
func (c *Client) ParseIP(ctx context.Context, ip string) (*entity.SiteRecord, error) {
	var body json.RawMessage
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Admit(ctx); err != nil {
			return nil, fmt.Errorf("fingerprint admission: %w", err)
		}

		var err error
		body, err = c.gw.Do(ctx, gateway.Request{
			URL:         fmt.Sprintf("%s/shodan/host/%s?key=%s&minify=true", c.baseURL, ip, c.apiKey),
			Validate:    gateway.FieldEquals("ip_str", ip),
			MaxAttempts: 1,
		})
		if err == nil {
			break
		}

		switch entity.StatusCode(err) {
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("fingerprint provider: %w", entity.ErrInvalidCredentials)
		case http.StatusTooManyRequests:
			if attempt >= maxQuotaRetries {
				return nil, fmt.Errorf("fingerprint provider kept refusing: %w", err)
			}
			delay := time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
			c.logger.Warn("[SHODAN] provider quota hit, backing off", "ip", ip, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		default:
			return nil, fmt.Errorf("fingerprint %s: %w", ip, err)
		}
	}

	var resp hostResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode fingerprint for %s: %w", ip, err)
	}

	record := &entity.SiteRecord{
		IP:        ip,
		Tags:      resp.Tags,
		OpenPorts: resp.Ports,
		Location: entity.Location{
			City:        resp.City,
			RegionCode:  resp.RegionCode,
			CountryCode: resp.CountryCode,
			Latitude:    resp.Latitude,
			Longitude:   resp.Longitude,
		},
	}
	if resp.AreaCode != nil {
		record.Location.AreaCode = strconv.Itoa(*resp.AreaCode)
	}
	record.Location.Country = c.geo.CountryName(ctx, resp.Latitude, resp.Longitude)

	cves, err := c.enrichCVEs(ctx, resp.Vulns)
	if err != nil {
		return nil, err
	}
	record.CVEs = cves

	return record, nil
}

// enrichCVEs runs the detail lookups with bounded concurrency and merges the
// results keyed by id, so completion order never matters. A failed lookup
// keeps the bare id: a known vulnerability without a score is still a known
// vulnerability.
func (c *Client) enrichCVEs(ctx context.Context, ids []string) ([]entity.CveRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	byID := make(map[string]entity.CveRecord, len(ids))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cveFanOutLimit)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			detail, err := c.cve.Fetch(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				c.logger.Warn("[SHODAN] cve detail lookup failed", "cve", id, "error", err)
				byID[id] = entity.CveRecord{ID: id}
				return nil
			}
			byID[detail.ID] = *detail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cve fan-out: %w", err)
	}

	records := make([]entity.CveRecord, 0, len(byID))
	for _, rec := range byID {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}
