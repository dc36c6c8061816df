package entity

import (
	"strconv"
	"strings"
	"time"
)

// SiteRecord holds everything we know about one target (IP + domain name).
// It is produced by a completed assessment run and replaced as a whole:
// a failed fetch never partially overwrites a stored record.
type SiteRecord struct {
	IP         string      `json:"ip"`
	DomainName string      `json:"domain_name"`
	Location   Location    `json:"location"`
	Tags       []string    `json:"tags"`
	OpenPorts  []int       `json:"open_ports"`
	CVEs       []CveRecord `json:"cves,omitempty"`
	Scan       *ScanRecord `json:"scan,omitempty"`

	// DateChecked is zero for high-priority targets: they are re-checked on
	// every encounter and never become "fresh".
	DateChecked time.Time `json:"date_checked,omitempty"`
}

// SiteSummary is the eviction view of a stored record: its key and when it
// was last checked. Zero DateChecked sorts first, so high-priority targets
// are the cheapest to reclaim.
type SiteSummary struct {
	Domain      string
	DateChecked time.Time
}

// Location is the geolocation of the server hosting a target.
type Location struct {
	City        string  `json:"city,omitempty"`
	Country     string  `json:"country,omitempty"`
	RegionCode  string  `json:"region_code,omitempty"`
	AreaCode    string  `json:"area_code,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// CveRecord is one known vulnerability of the hosting server.
// Immutable once fetched.
type CveRecord struct {
	ID   string   `json:"id"`
	CVSS *float64 `json:"cvss,omitempty"`
}

// Year extracts the year from a CVE-YYYY-NNNN identifier.
// Returns 0 when the id is not well-formed.
func (c CveRecord) Year() int {
	parts := strings.SplitN(c.ID, "-", 3)
	if len(parts) < 2 {
		return 0
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return year
}

// ScanRecord is the malware-scan report for a domain, filtered down to the
// engines that flagged something (benign "clean site" / "unrated site"
// verdicts are dropped at the provider boundary).
type ScanRecord struct {
	Positives int                      `json:"positives"`
	Total     int                      `json:"total"`
	ScanDate  time.Time                `json:"scan_date"`
	Verdicts  map[string]EngineVerdict `json:"verdicts,omitempty"`
}

// EngineVerdict is a single antivirus engine's verdict about the domain.
type EngineVerdict struct {
	Detected bool   `json:"detected"`
	Result   string `json:"result"`
}

// Fresh reports whether the report is still trustworthy: a report older than
// scanTimeout must be refreshed before anybody relies on it.
func (s *ScanRecord) Fresh(now time.Time, scanTimeout time.Duration) bool {
	if s == nil || s.ScanDate.IsZero() {
		return false
	}
	return now.Sub(s.ScanDate) < scanTimeout
}

// MaxCVSS returns the highest CVSS score across the record's CVEs and whether
// any CVE carried a score at all.
func (r *SiteRecord) MaxCVSS() (float64, bool) {
	max, found := 0.0, false
	for _, cve := range r.CVEs {
		if cve.CVSS == nil {
			continue
		}
		if !found || *cve.CVSS > max {
			max = *cve.CVSS
		}
		found = true
	}
	return max, found
}

// OldestCVEYear returns the smallest year across the record's CVEs and
// whether any CVE carried a parsable year.
func (r *SiteRecord) OldestCVEYear() (int, bool) {
	oldest, found := 0, false
	for _, cve := range r.CVEs {
		year := cve.Year()
		if year == 0 {
			continue
		}
		if !found || year < oldest {
			oldest = year
		}
		found = true
	}
	return oldest, found
}
