// Package urlscan is the optional malware-scan source. It fetches the
// latest antivirus report for a domain and, when the report has gone stale,
// triggers a fresh scan and polls until the provider produces an updated
// one. All calls run under a fixed-window cooldown quota.
package urlscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/monscodex/spot-and-block/internal/adapter/external/gateway"
	"github.com/monscodex/spot-and-block/internal/entity"
	"github.com/monscodex/spot-and-block/internal/ratelimit"
)

// scanDateLayout is the provider's report timestamp format, in UTC.
const scanDateLayout = "2006-01-02 15:04:05"

// Benign verdict labels dropped at this boundary; only flagged engines make
// it into the stored report.
const (
	labelClean   = "clean site"
	labelUnrated = "unrated site"
)

// Client queries the URL scan provider under a cooldown quota.
type Client struct {
	gw      *ratelimitedGateway
	logger  *slog.Logger
	apiKey  string
	baseURL string

	// scanTimeout is how old a report may be before a rescan is triggered.
	scanTimeout time.Duration

	pollInitialDelay time.Duration
	pollInterval     time.Duration
	maxPolls         int
}

// Config holds URL-scan client configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	ScanTimeout time.Duration
	Logger      *slog.Logger

	// Poll tuning; zero values take the provider-friendly defaults
	// (3s initial delay, 1s interval, 30 polls).
	PollInitialDelay time.Duration
	PollInterval     time.Duration
	MaxPolls         int
}

// New creates a URL-scan client gated by the given cooldown limiter.
func New(gw *gateway.Gateway, limiter *ratelimit.Cooldown, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.virustotal.com/vtapi/v2"
	}
	if cfg.ScanTimeout == 0 {
		cfg.ScanTimeout = 7 * 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInitialDelay == 0 {
		cfg.PollInitialDelay = 3 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = 30
	}
	return &Client{
		gw:               &ratelimitedGateway{gw: gw, limiter: limiter},
		logger:           cfg.Logger,
		apiKey:           cfg.APIKey,
		baseURL:          cfg.BaseURL,
		scanTimeout:      cfg.ScanTimeout,
		pollInitialDelay: cfg.PollInitialDelay,
		pollInterval:     cfg.PollInterval,
		maxPolls:         cfg.MaxPolls,
	}
}

// ratelimitedGateway refuses calls outright while the cooldown is active.
type ratelimitedGateway struct {
	gw      *gateway.Gateway
	limiter *ratelimit.Cooldown
}

func (r *ratelimitedGateway) Do(ctx context.Context, req gateway.Request) (json.RawMessage, error) {
	if !r.limiter.TryAdmit() {
		return nil, entity.ErrQuotaExceeded
	}
	return r.gw.Do(ctx, req)
}

type reportResponse struct {
	ResponseCode int    `json:"response_code"`
	Resource     string `json:"resource"`
	Positives    int    `json:"positives"`
	Total        int    `json:"total"`
	ScanDate     string `json:"scan_date"`
	Scans        map[string]struct {
		Detected bool   `json:"detected"`
		Result   string `json:"result"`
	} `json:"scans"`
}

type scanResponse struct {
	ScanID string `json:"scan_id"`
}

// CompleteCheck returns the freshest report the provider can give for a
// domain. A stale report triggers a rescan followed by fixed-interval
// polling; a domain the provider has never analysed yields (nil, nil).
// Quota refusal mid-flight degrades to whatever report is already in hand.
func (c *Client) CompleteCheck(ctx context.Context, domain string) (*entity.ScanRecord, error) {
	report, err := c.report(ctx, domain)
	switch {
	case errors.Is(err, entity.ErrNeverAnalysed):
		report = nil
	case errors.Is(err, entity.ErrQuotaExceeded):
		return nil, err
	case err != nil:
		return nil, err
	}

	if report.Fresh(time.Now(), c.scanTimeout) {
		return report, nil
	}

	refreshed, err := c.rescan(ctx, domain)
	if err != nil {
		if errors.Is(err, entity.ErrQuotaExceeded) || errors.Is(err, entity.ErrNeverAnalysed) {
			// No fresh data to be had right now; the stale report (or
			// nothing) is the best answer available.
			return report, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// report fetches the current report for a resource (domain or scan id).
func (c *Client) report(ctx context.Context, resource string) (*entity.ScanRecord, error) {
	reqURL := fmt.Sprintf("%s/url/report?apikey=%s&resource=%s",
		c.baseURL, c.apiKey, url.QueryEscape(resource))

	body, err := c.gw.Do(ctx, gateway.Request{URL: reqURL, MaxAttempts: 3})
	if err != nil {
		if entity.StatusCode(err) == http.StatusForbidden {
			return nil, fmt.Errorf("scan provider: %w", entity.ErrInvalidCredentials)
		}
		return nil, err
	}

	var resp reportResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if resp.ResponseCode == 0 {
		return nil, entity.ErrNeverAnalysed
	}

	return c.toRecord(&resp)
}

// rescan submits the domain for a fresh analysis and polls the returned scan
// id until its report is no longer stale.
func (c *Client) rescan(ctx context.Context, domain string) (*entity.ScanRecord, error) {
	form := url.Values{"apikey": {c.apiKey}, "url": {domain}}

	body, err := c.gw.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/url/scan",
		Header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		Body:   []byte(form.Encode()),
		Validate: gateway.Predicate("scan submission must return a scan id", func(body json.RawMessage) bool {
			var resp scanResponse
			return json.Unmarshal(body, &resp) == nil && resp.ScanID != ""
		}),
		MaxAttempts: 3,
	})
	if err != nil {
		if entity.StatusCode(err) == http.StatusForbidden {
			return nil, fmt.Errorf("scan provider: %w", entity.ErrInvalidCredentials)
		}
		return nil, err
	}

	var resp scanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode scan submission: %w", err)
	}

	return c.pollReport(ctx, resp.ScanID)
}

// pollReport waits out the provider's analysis: a fixed initial delay, then
// fixed-interval polls of the scan id until a non-stale scan date shows up.
// The loop terminates when the provider signals the resource was never
// analysed, when the quota runs dry, or when the poll budget is spent.
func (c *Client) pollReport(ctx context.Context, scanID string) (*entity.ScanRecord, error) {
	if err := sleep(ctx, c.pollInitialDelay); err != nil {
		return nil, err
	}

	for poll := 0; poll < c.maxPolls; poll++ {
		if err := sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}

		report, err := c.report(ctx, scanID)
		if err != nil {
			if errors.Is(err, entity.ErrNeverAnalysed) || errors.Is(err, entity.ErrQuotaExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("poll scan %s: %w", scanID, err)
		}

		if report.Fresh(time.Now(), c.scanTimeout) {
			return report, nil
		}
		c.logger.Debug("[SCAN] report still stale, polling again", "scan_id", scanID, "poll", poll)
	}

	return nil, fmt.Errorf("scan %s: %w", scanID, entity.ErrQuotaExceeded)
}

// toRecord converts a provider report into the stored form, dropping benign
// per-engine verdicts.
func (c *Client) toRecord(resp *reportResponse) (*entity.ScanRecord, error) {
	scanDate, err := time.ParseInLocation(scanDateLayout, resp.ScanDate, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse scan date %q: %w", resp.ScanDate, err)
	}

	record := &entity.ScanRecord{
		Positives: resp.Positives,
		Total:     resp.Total,
		ScanDate:  scanDate,
		Verdicts:  make(map[string]entity.EngineVerdict),
	}
	for engine, verdict := range resp.Scans {
		if verdict.Detected || (verdict.Result != labelClean && verdict.Result != labelUnrated) {
			record.Verdicts[engine] = entity.EngineVerdict{
				Detected: verdict.Detected,
				Result:   verdict.Result,
			}
		}
	}
	return record, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
