package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/monscodex/spot-and-block/internal/entity"
	"github.com/monscodex/spot-and-block/internal/targets"
)

// Repository defines the site cache access the assessment flow needs.
type Repository interface {
	Get(ctx context.Context, domain string) (*entity.SiteRecord, error)
	Upsert(ctx context.Context, rec *entity.SiteRecord) error
}

// Fingerprinter resolves an IP into a server fingerprint (location, tags,
// open ports, CVEs). This source is mandatory: without it there is no record.
type Fingerprinter interface {
	ParseIP(ctx context.Context, ip string) (*entity.SiteRecord, error)
}

// Scanner fetches the malware-scan report for a domain. This source is
// optional: when it fails or has nothing, the record simply carries no scan.
type Scanner interface {
	CompleteCheck(ctx context.Context, domain string) (*entity.ScanRecord, error)
}

// Options tune the assessment staleness policy.
type Options struct {
	// RecheckTimeout is how long a cached record stays fresh. Past it the
	// target is re-fetched on the next encounter.
	RecheckTimeout time.Duration

	// HighPriority matches domains that are re-checked on every encounter
	// and never receive a freshness stamp.
	HighPriority *targets.Matcher

	// Excluded matches domains the system must not assess at all.
	Excluded *targets.Matcher
}

// Service runs the assessment flow: decide staleness, fetch the two provider
// sources concurrently, merge, and persist the result as a whole record.
type Service struct {
	repo        Repository
	fingerprint Fingerprinter
	scanner     Scanner
	opts        Options
	active      *ActiveTargets
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a new assessment service.
func NewService(repo Repository, fingerprint Fingerprinter, scanner Scanner, opts Options, active *ActiveTargets, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if active == nil {
		active = NewActiveTargets()
	}
	return &Service{
		repo:        repo,
		fingerprint: fingerprint,
		scanner:     scanner,
		opts:        opts,
		active:      active,
		logger:      logger,
		now:         time.Now,
	}
}

// Active exposes the in-use target registry so the evictor can skip domains
// with an assessment in flight or an open session.
func (s *Service) Active() *ActiveTargets {
	return s.active
}

// Assess returns the current SiteRecord for a target, fetching from the
// providers only when the cached record is stale. Excluded targets are never
// assessed: the stored record (possibly nil) comes back untouched.
//
// On a mandatory-source failure the error is returned and the store is left
// exactly as it was: a stale record beats a half-fetched one.
func (s *Service) Assess(ctx context.Context, ip, domain string) (*entity.SiteRecord, error) {
	if s.opts.Excluded != nil && s.opts.Excluded.Match(domain) {
		s.logger.Debug("[ASSESS] Target excluded, skipping", "domain", domain)
		rec, err := s.repo.Get(ctx, domain)
		if err != nil {
			return nil, fmt.Errorf("load excluded site %s: %w", domain, err)
		}
		return rec, nil
	}

	s.active.Acquire(domain)
	defer s.active.Release(domain)

	highPriority := s.opts.HighPriority != nil && s.opts.HighPriority.Match(domain)

	stored, err := s.repo.Get(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("load site %s: %w", domain, err)
	}
	if !s.stale(stored, highPriority) {
		s.logger.Debug("[ASSESS] Serving cached record", "domain", domain, "checked", stored.DateChecked)
		return stored, nil
	}

	rec, err := s.fetch(ctx, ip, domain)
	if err != nil {
		return nil, err
	}
	if !highPriority {
		rec.DateChecked = s.now().UTC()
	}

	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("store site %s: %w", domain, err)
	}
	s.logger.Info("[ASSESS] Target assessed",
		"domain", domain,
		"ip", ip,
		"high_priority", highPriority,
		"cves", len(rec.CVEs),
		"has_scan", rec.Scan != nil)
	return rec, nil
}

// stale decides whether a fetch is needed, before any network call happens.
func (s *Service) stale(rec *entity.SiteRecord, highPriority bool) bool {
	if highPriority || rec == nil {
		return true
	}
	if rec.DateChecked.IsZero() {
		return true
	}
	return s.now().After(rec.DateChecked.Add(s.opts.RecheckTimeout))
}

// fetch queries both providers concurrently and merges their results. The
// fingerprint is mandatory; the scan degrades to absent on failure, except
// for credential errors which must reach the caller.
func (s *Service) fetch(ctx context.Context, ip, domain string) (*entity.SiteRecord, error) {
	var (
		wg      sync.WaitGroup
		rec     *entity.SiteRecord
		recErr  error
		scan    *entity.ScanRecord
		scanErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		rec, recErr = s.fingerprint.ParseIP(ctx, ip)
	}()
	go func() {
		defer wg.Done()
		scan, scanErr = s.scanner.CompleteCheck(ctx, domain)
	}()
	wg.Wait()

	if recErr != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", ip, recErr)
	}
	if rec == nil {
		return nil, fmt.Errorf("fingerprint %s: empty response", ip)
	}
	if scanErr != nil {
		if errors.Is(scanErr, entity.ErrInvalidCredentials) {
			return nil, fmt.Errorf("scan %s: %w", domain, scanErr)
		}
		s.logger.Warn("[ASSESS] Scan unavailable, recording without it", "domain", domain, "error", scanErr)
		scan = nil
	}

	rec.IP = ip
	rec.DomainName = domain
	rec.Scan = scan
	return rec, nil
}
