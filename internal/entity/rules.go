package entity

import (
	"fmt"
	"strings"
	"time"
)

// RuleName identifies which rule explained a category match. The names are a
// contract with the messaging layer, not an implementation detail.
type RuleName string

const (
	RuleMaxCVSS       RuleName = "max_cvss"
	RuleCVEAge        RuleName = "cve_age"
	RuleCountry       RuleName = "server_country"
	RuleServerTag     RuleName = "server_tag"
	RuleScanCount     RuleName = "suspicious_scan_count"
	RuleScanLabel     RuleName = "scan_verdict_label"
	RuleOpenPortCount RuleName = "open_port_count"
)

// ActionName is a blocking action the enforcement collaborator knows how to
// execute. The classifier attaches them verbatim; it never interprets them
// beyond the takedown action, which triggers an explanation message.
type ActionName string

const (
	ActionBlockJS         ActionName = "block_js"
	ActionBlockThirdParty ActionName = "block_third_party"
	ActionClearSiteData   ActionName = "clear_site_data"
	ActionCloseSite       ActionName = "close_site_promptly"
)

// Category is one risk tier. Thresholds are evaluated independently, in the
// declared rule order; nil/empty thresholds disable the corresponding rule.
type Category struct {
	Name string `mapstructure:"name" json:"name"`

	// MinCVSS matches when the record's highest CVSS is at or above it.
	MinCVSS *float64 `mapstructure:"min_cvss" json:"min_cvss,omitempty"`
	// MaxCVEAgeYears matches when the oldest CVE's year is at least this many
	// years behind the current year.
	MaxCVEAgeYears *int `mapstructure:"max_cve_age_years" json:"max_cve_age_years,omitempty"`
	// ForbiddenCountries matches when the server's country is listed.
	ForbiddenCountries []string `mapstructure:"forbidden_countries" json:"forbidden_countries,omitempty"`
	// ForbiddenTags matches on the first listed tag carried by the server.
	ForbiddenTags []string `mapstructure:"forbidden_tags" json:"forbidden_tags,omitempty"`
	// MinSuspiciousScans matches when at least this many engines flagged the domain.
	MinSuspiciousScans *int `mapstructure:"min_suspicious_scans" json:"min_suspicious_scans,omitempty"`
	// ForbiddenScanLabels matches when any verdict's leading label token is listed.
	ForbiddenScanLabels []string `mapstructure:"forbidden_scan_labels" json:"forbidden_scan_labels,omitempty"`
	// MinOpenPorts matches when the server exposes at least this many ports.
	MinOpenPorts *int `mapstructure:"min_open_ports" json:"min_open_ports,omitempty"`

	Actions []ActionName `mapstructure:"actions" json:"actions,omitempty"`
}

// RuleSet is the ordered battery of categories, highest severity first.
// The first category with any matching rule wins.
type RuleSet struct {
	Categories []Category `mapstructure:"categories" json:"categories"`

	// ScanTimeout bounds how old a scan report may be before the
	// scan-dependent rules stop trusting it.
	ScanTimeout time.Duration `mapstructure:"scan_timeout" json:"scan_timeout"`
}

// Validate rejects malformed thresholds at load time so that classification
// itself stays total and never fails.
func (rs *RuleSet) Validate() error {
	if rs.ScanTimeout < 0 {
		return fmt.Errorf("rules: scan_timeout must not be negative")
	}
	seen := make(map[string]struct{}, len(rs.Categories))
	for i, cat := range rs.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("rules: category %d has no name", i)
		}
		if _, dup := seen[cat.Name]; dup {
			return fmt.Errorf("rules: duplicate category %q", cat.Name)
		}
		seen[cat.Name] = struct{}{}

		if cat.MinCVSS != nil && (*cat.MinCVSS < 0 || *cat.MinCVSS > 10) {
			return fmt.Errorf("rules: category %q: min_cvss %v out of range [0,10]", cat.Name, *cat.MinCVSS)
		}
		if cat.MaxCVEAgeYears != nil && *cat.MaxCVEAgeYears < 0 {
			return fmt.Errorf("rules: category %q: max_cve_age_years must not be negative", cat.Name)
		}
		if cat.MinSuspiciousScans != nil && *cat.MinSuspiciousScans < 0 {
			return fmt.Errorf("rules: category %q: min_suspicious_scans must not be negative", cat.Name)
		}
		if cat.MinOpenPorts != nil && *cat.MinOpenPorts < 0 {
			return fmt.Errorf("rules: category %q: min_open_ports must not be negative", cat.Name)
		}
	}
	return nil
}

// ClassificationResult is derived from a (record, rules) pair and recomputed
// whenever either changes; it is never persisted on its own.
type ClassificationResult struct {
	// Category is empty when no rule in any category matched.
	Category    string       `json:"category,omitempty"`
	MatchedRule RuleName     `json:"matched_rule,omitempty"`
	Evidence    any          `json:"evidence,omitempty"`
	Actions     []ActionName `json:"actions,omitempty"`
	Message     *Message     `json:"message,omitempty"`
}

// Matched reports whether any category claimed the record.
func (r ClassificationResult) Matched() bool {
	return r.Category != ""
}

// HasAction reports whether the matched category's action set carries the
// given action.
func (r ClassificationResult) HasAction(action ActionName) bool {
	for _, a := range r.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Message is the human-readable explanation rendered when the matched
// category demands an immediate takedown.
type Message struct {
	TLDR            string `json:"tldr"`
	FullExplanation string `json:"full_explanation"`
}
