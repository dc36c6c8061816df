package evictor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/monscodex/spot-and-block/internal/entity"
)

// Repository defines the cache access the evictor needs. It works on sizes
// and summaries only: records are never decoded during a sweep.
type Repository interface {
	BytesInUse(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int, error)
	OldestFirst(ctx context.Context) ([]entity.SiteSummary, error)
	Delete(ctx context.Context, domains ...string) error
}

// ActiveSet reports whether a domain is currently in use and must not be
// evicted.
type ActiveSet interface {
	Active(domain string) bool
}

// targetFill is how full the cache is left after a sweep, as a fraction of
// the byte budget. Cleaning down to the budget exactly would trigger a sweep
// on every single write.
const targetFill = 0.9

// Service reclaims cache space in the background. When the stored records
// exceed the byte budget, the oldest inactive ones are deleted until usage
// falls back under 90% of the budget.
type Service struct {
	repo   Repository
	active ActiveSet
	budget int64
	logger *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewService creates a new eviction service. budget is the cache byte budget;
// active may be nil when nothing tracks in-use targets.
func NewService(repo Repository, active ActiveSet, budget int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		active: active,
		budget: budget,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start starts the background eviction worker.
func (s *Service) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.wg.Add(1)
	go s.sweepWorker(interval)
	s.logger.Info("[EVICT] Background eviction worker started", "interval", interval, "budget_bytes", s.budget)
}

// Stop stops the background eviction worker.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopCh)
	s.wg.Wait()
	s.running = false
	s.logger.Info("[EVICT] Background eviction worker stopped")
}

func (s *Service) sweepWorker(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("[EVICT] Sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one eviction pass. It is a no-op while usage stays within the
// budget.
func (s *Service) Sweep(ctx context.Context) error {
	used, err := s.repo.BytesInUse(ctx)
	if err != nil {
		return err
	}
	if used <= s.budget {
		s.logger.Debug("[EVICT] Cache within budget", "used_bytes", used, "budget_bytes", s.budget)
		return nil
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	// Size the batch from the average record size instead of re-reading
	// usage after every delete.
	avg := used / int64(count)
	if avg == 0 {
		avg = 1
	}
	excess := used - int64(float64(s.budget)*targetFill)
	toDelete := int((excess + avg - 1) / avg)

	sites, err := s.repo.OldestFirst(ctx)
	if err != nil {
		return err
	}

	victims := make([]string, 0, toDelete)
	skipped := 0
	for _, site := range sites {
		if len(victims) == toDelete {
			break
		}
		if s.active != nil && s.active.Active(site.Domain) {
			skipped++
			continue
		}
		victims = append(victims, site.Domain)
	}
	if len(victims) == 0 {
		s.logger.Warn("[EVICT] Over budget but nothing evictable", "used_bytes", used, "active_skipped", skipped)
		return nil
	}

	if err := s.repo.Delete(ctx, victims...); err != nil {
		return err
	}
	s.logger.Info("[EVICT] Evicted oldest records",
		"deleted", len(victims),
		"active_skipped", skipped,
		"used_bytes", used,
		"budget_bytes", s.budget)
	return nil
}
