package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monscodex/spot-and-block/internal/entity"
)

func newTestRepo(t *testing.T) *SitesRepository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "sites.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func record(domain string, checked time.Time) *entity.SiteRecord {
	return &entity.SiteRecord{
		IP:          "192.0.2.10",
		DomainName:  domain,
		Tags:        []string{"cloud"},
		OpenPorts:   []int{80, 443},
		DateChecked: checked,
	}
}

func TestUpsertReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	first := record("example.com", time.Unix(1_700_000_000, 0).UTC())
	first.Tags = []string{"tor"}
	require.NoError(t, repo.Upsert(ctx, first))

	second := record("example.com", time.Unix(1_700_100_000, 0).UTC())
	require.NoError(t, repo.Upsert(ctx, second))

	stored, err := repo.Get(ctx, "example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []string{"cloud"}, stored.Tags, "old fields must not leak through an upsert")
	assert.Equal(t, second.DateChecked, stored.DateChecked)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetMissingDomainReturnsNil(t *testing.T) {
	repo := newTestRepo(t)
	stored, err := repo.Get(context.Background(), "absent.example")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestOldestFirstOrdering(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	base := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, repo.Upsert(ctx, record("newest.example", base.Add(2*time.Hour))))
	require.NoError(t, repo.Upsert(ctx, record("oldest.example", base)))
	require.NoError(t, repo.Upsert(ctx, record("middle.example", base.Add(time.Hour))))
	// High-priority targets carry no check stamp and sort first.
	require.NoError(t, repo.Upsert(ctx, record("priority.example", time.Time{})))

	sites, err := repo.OldestFirst(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 4)
	assert.Equal(t, "priority.example", sites[0].Domain)
	assert.Equal(t, "oldest.example", sites[1].Domain)
	assert.Equal(t, "middle.example", sites[2].Domain)
	assert.Equal(t, "newest.example", sites[3].Domain)
	assert.True(t, sites[0].DateChecked.IsZero())
}

func TestDeleteAndBytesInUse(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Upsert(ctx, record("a.example", time.Unix(1, 0))))
	require.NoError(t, repo.Upsert(ctx, record("b.example", time.Unix(2, 0))))

	before, err := repo.BytesInUse(ctx)
	require.NoError(t, err)
	assert.Positive(t, before)

	require.NoError(t, repo.Delete(ctx, "a.example", "b.example"))

	after, err := repo.BytesInUse(ctx)
	require.NoError(t, err)
	assert.Zero(t, after)
}
