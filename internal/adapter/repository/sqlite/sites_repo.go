// Package sqlite persists SiteRecords in a local SQLite database keyed by
// domain name. Records are replaced whole: a write either lands a complete
// record or leaves the previous one untouched.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/monscodex/spot-and-block/internal/entity"
)

// SitesRepository is the storage collaborator for assessed targets.
type SitesRepository struct {
	db *sql.DB
}

// New opens (or creates) the database at path and ensures the schema exists.
func New(path string) (*SitesRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SitesRepository{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func initSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sites (
	domain TEXT PRIMARY KEY,
	record TEXT NOT NULL,
	date_checked INTEGER NOT NULL,
	byte_size INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sites_date_checked ON sites (date_checked);
`
	_, err := db.Exec(ddl)
	return err
}

// Get returns the stored record for a domain, or nil when none exists.
func (r *SitesRepository) Get(ctx context.Context, domain string) (*entity.SiteRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT record FROM sites WHERE domain = ?;`, domain)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch site %s: %w", domain, err)
	}

	var record entity.SiteRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode site %s: %w", domain, err)
	}
	return &record, nil
}

// Upsert replaces the stored record for the record's domain in one statement.
// A zero DateChecked (high-priority target) is stored as 0 so such records
// sort oldest and are eligible for eviction first.
func (r *SitesRepository) Upsert(ctx context.Context, record *entity.SiteRecord) error {
	if record == nil {
		return fmt.Errorf("record must not be nil")
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode site %s: %w", record.DomainName, err)
	}

	var checked int64
	if !record.DateChecked.IsZero() {
		checked = record.DateChecked.UTC().Unix()
	}

	const query = `
INSERT INTO sites (domain, record, date_checked, byte_size)
VALUES (?, ?, ?, ?)
ON CONFLICT(domain)
DO UPDATE SET
	record = excluded.record,
	date_checked = excluded.date_checked,
	byte_size = excluded.byte_size;
`
	if _, err := r.db.ExecContext(ctx, query,
		record.DomainName, string(raw), checked, len(raw)); err != nil {
		return fmt.Errorf("upsert site %s: %w", record.DomainName, err)
	}
	return nil
}

// Delete removes the records for the given domains.
func (r *SitesRepository) Delete(ctx context.Context, domains ...string) error {
	if len(domains) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(domains)), ",")
	args := make([]any, len(domains))
	for i, d := range domains {
		args[i] = d
	}

	query := fmt.Sprintf(`DELETE FROM sites WHERE domain IN (%s);`, placeholders)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete sites: %w", err)
	}
	return nil
}

// BytesInUse returns the total stored record payload size.
func (r *SitesRepository) BytesInUse(ctx context.Context) (int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(byte_size), 0) FROM sites;`)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum byte sizes: %w", err)
	}
	return total, nil
}

// Count returns the number of stored records.
func (r *SitesRepository) Count(ctx context.Context) (int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites;`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count sites: %w", err)
	}
	return n, nil
}

// OldestFirst lists all stored sites ordered oldest date_checked first, the
// order the evictor consumes them in.
func (r *SitesRepository) OldestFirst(ctx context.Context) ([]entity.SiteSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT domain, date_checked FROM sites ORDER BY date_checked ASC, domain ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []entity.SiteSummary
	for rows.Next() {
		var (
			site    entity.SiteSummary
			checked int64
		)
		if err := rows.Scan(&site.Domain, &checked); err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		if checked > 0 {
			site.DateChecked = time.Unix(checked, 0).UTC()
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// Close releases the underlying database resources.
func (r *SitesRepository) Close() error {
	return r.db.Close()
}
