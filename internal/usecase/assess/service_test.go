package assess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/monscodex/spot-and-block/internal/entity"
	"github.com/monscodex/spot-and-block/internal/targets"
)

// =============================================================================
// Mocks - implement Repository, Fingerprinter and Scanner
// =============================================================================

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context, domain string) (*entity.SiteRecord, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SiteRecord), args.Error(1)
}

func (m *MockRepository) Upsert(ctx context.Context, rec *entity.SiteRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type MockFingerprinter struct {
	mock.Mock
}

func (m *MockFingerprinter) ParseIP(ctx context.Context, ip string) (*entity.SiteRecord, error) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SiteRecord), args.Error(1)
}

type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) CompleteCheck(ctx context.Context, domain string) (*entity.ScanRecord, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.ScanRecord), args.Error(1)
}

// =============================================================================
// Helpers
// =============================================================================

func newTestService(t *testing.T, repo *MockRepository, fp *MockFingerprinter, sc *MockScanner, opts Options) *Service {
	t.Helper()
	svc := NewService(repo, fp, sc, opts, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func mustMatcher(t *testing.T, patterns ...string) *targets.Matcher {
	t.Helper()
	m, err := targets.NewMatcher(patterns)
	require.NoError(t, err)
	return m
}

func fingerprintOf(ip string) *entity.SiteRecord {
	cvss := 7.5
	return &entity.SiteRecord{
		IP:        ip,
		Location:  entity.Location{Country: "Netherlands", CountryCode: "NL"},
		Tags:      []string{"cdn"},
		OpenPorts: []int{80, 443},
		CVEs:      []entity.CveRecord{{ID: "CVE-2021-41773", CVSS: &cvss}},
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestAssessServesFreshCachedRecord(t *testing.T) {
	repo := new(MockRepository)
	fp := new(MockFingerprinter)
	sc := new(MockScanner)
	svc := newTestService(t, repo, fp, sc, Options{RecheckTimeout: 24 * time.Hour})

	cached := fingerprintOf("93.184.216.34")
	cached.DomainName = "example.com"
	cached.DateChecked = svc.now().Add(-1 * time.Hour)
	repo.On("Get", mock.Anything, "example.com").Return(cached, nil)

	rec, err := svc.Assess(context.Background(), "93.184.216.34", "example.com")

	require.NoError(t, err)
	assert.Same(t, cached, rec)
	fp.AssertNotCalled(t, "ParseIP", mock.Anything, mock.Anything)
	sc.AssertNotCalled(t, "CompleteCheck", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestAssessRefetchesExpiredRecord(t *testing.T) {
	repo := new(MockRepository)
	fp := new(MockFingerprinter)
	sc := new(MockScanner)
	svc := newTestService(t, repo, fp, sc, Options{RecheckTimeout: 24 * time.Hour})

	expired := fingerprintOf("93.184.216.34")
	expired.DateChecked = svc.now().Add(-48 * time.Hour)
	repo.On("Get", mock.Anything, "example.com").Return(expired, nil)

	scan := &entity.ScanRecord{Positives: 3, Total: 70, ScanDate: svc.now()}
	fp.On("ParseIP", mock.Anything, "93.184.216.34").Return(fingerprintOf("93.184.216.34"), nil)
	sc.On("CompleteCheck", mock.Anything, "example.com").Return(scan, nil)
	repo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	rec, err := svc.Assess(context.Background(), "93.184.216.34", "example.com")

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "example.com", rec.DomainName)
	assert.Equal(t, "93.184.216.34", rec.IP)
	assert.Same(t, scan, rec.Scan)
	assert.Equal(t, svc.now(), rec.DateChecked)
	repo.AssertCalled(t, "Upsert", mock.Anything, rec)
}

func TestAssessHighPriorityAlwaysRefetches(t *testing.T) {
	repo := new(MockRepository)
	fp := new(MockFingerprinter)
	sc := new(MockScanner)
	svc := newTestService(t, repo, fp, sc, Options{
		RecheckTimeout: 24 * time.Hour,
		HighPriority:   mustMatcher(t, "*.bank.example"),
	})

	// Cached only an hour ago, but high-priority targets never count as fresh.
	cached := fingerprintOf("198.51.100.7")
	repo.On("Get", mock.Anything, "login.bank.example").Return(cached, nil)
	fp.On("ParseIP", mock.Anything, "198.51.100.7").Return(fingerprintOf("198.51.100.7"), nil)
	sc.On("CompleteCheck", mock.Anything, "login.bank.example").Return(nil, entity.ErrNeverAnalysed)
	repo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	rec, err := svc.Assess(context.Background(), "198.51.100.7", "login.bank.example")

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.DateChecked.IsZero(), "high-priority records must not be stamped")
	fp.AssertCalled(t, "ParseIP", mock.Anything, "198.51.100.7")
}

func TestAssessMandatoryFailureLeavesStoreUntouched(t *testing.T) {
	repo := new(MockRepository)
	fp := new(MockFingerprinter)
	sc := new(MockScanner)
	svc := newTestService(t, repo, fp, sc, Options{RecheckTimeout: 24 * time.Hour})

	repo.On("Get", mock.Anything, "example.com").Return(nil, nil)
	fp.On("ParseIP", mock.Anything, "93.184.216.34").Return(nil, errors.New("connection reset"))
	sc.On("CompleteCheck", mock.Anything, "example.com").Return(&entity.ScanRecord{Total: 70}, nil)

	rec, err := svc.Assess(context.Background(), "93.184.216.34", "example.com")

	require.Error(t, err)
	assert.Nil(t, rec)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestAssessOptionalFailureDegradesToNoScan(t *testing.T) {
	repo := new(MockRepository)
	fp := new(MockFingerprinter)
	sc := new(MockScanner)
	svc := newTestService(t, repo, fp, sc, Options{RecheckTimeout: 24 * time.Hour})

	repo.On("Get", mock.Anything, "example.com").Return(nil, nil)
	fp.On("ParseIP", mock.Anything, "93.184.216.34").Return(fingerprintOf("93.184.216.34"), nil)
	sc.On("CompleteCheck", mock.Anything, "example.com").Return(nil, entity.ErrQuotaExceeded)
	repo.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	rec, err := svc.Assess(context.Background(), "93.184.216.34", "example.com")

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.Scan)
	assert.Len(t, rec.CVEs, 1)
	repo.AssertCalled(t, "Upsert", mock.Anything, rec)
}

func TestAssessCredentialErrorPropagates(t *testing.T) {
	repo := new(MockRepository)
	fp := new(MockFingerprinter)
	sc := new(MockScanner)
	svc := newTestService(t, repo, fp, sc, Options{RecheckTimeout: 24 * time.Hour})

	repo.On("Get", mock.Anything, "example.com").Return(nil, nil)
	fp.On("ParseIP", mock.Anything, "93.184.216.34").Return(fingerprintOf("93.184.216.34"), nil)
	sc.On("CompleteCheck", mock.Anything, "example.com").Return(nil, entity.ErrInvalidCredentials)

	rec, err := svc.Assess(context.Background(), "93.184.216.34", "example.com")

	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrInvalidCredentials)
	assert.Nil(t, rec)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestAssessExcludedTargetSkipsProviders(t *testing.T) {
	repo := new(MockRepository)
	fp := new(MockFingerprinter)
	sc := new(MockScanner)
	svc := newTestService(t, repo, fp, sc, Options{
		RecheckTimeout: 24 * time.Hour,
		Excluded:       mustMatcher(t, "*.internal.example"),
	})

	cached := fingerprintOf("10.0.0.5")
	repo.On("Get", mock.Anything, "wiki.internal.example").Return(cached, nil)

	rec, err := svc.Assess(context.Background(), "10.0.0.5", "wiki.internal.example")

	require.NoError(t, err)
	assert.Same(t, cached, rec)
	fp.AssertNotCalled(t, "ParseIP", mock.Anything, mock.Anything)
	sc.AssertNotCalled(t, "CompleteCheck", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestActiveTargetsRefCounting(t *testing.T) {
	at := NewActiveTargets()

	at.Acquire("example.com")
	at.Acquire("example.com")
	at.Acquire("other.example")
	assert.True(t, at.Active("example.com"))
	assert.Equal(t, 2, at.Count())

	at.Release("example.com")
	assert.True(t, at.Active("example.com"), "one reference still held")

	at.Release("example.com")
	assert.False(t, at.Active("example.com"))
	assert.Equal(t, 1, at.Count())

	// Releasing a domain nobody holds is harmless.
	at.Release("unknown.example")
	assert.Equal(t, 1, at.Count())
}
