// Package classify decides which risk category, if any, an assessed site
// falls into. Classification is a pure function over (record, rules): same
// inputs, same result, no side effects, and it never fails — missing CVEs,
// scan data or geolocation are all tolerated.
package classify

import (
	"sort"
	"strings"
	"time"

	"github.com/monscodex/spot-and-block/internal/entity"
)

// Engine evaluates rule sets against site records.
type Engine struct {
	now func() time.Time // stubbed in tests
}

// New creates a classification engine.
func New() *Engine {
	return &Engine{now: time.Now}
}

// Classify walks the categories from highest to lowest severity and returns
// the first category with any matching rule; lower categories are never
// evaluated once a match occurs. Within a category the rules run in a fixed
// declared order and the first match wins — downstream messaging depends on
// which rule explains the match, so the order is a contract.
func (e *Engine) Classify(record *entity.SiteRecord, rules *entity.RuleSet) entity.ClassificationResult {
	if record == nil || rules == nil {
		return entity.ClassificationResult{}
	}

	now := e.now()
	for _, category := range rules.Categories {
		rule, evidence, matched := e.matchCategory(record, rules, &category, now)
		if !matched {
			continue
		}

		result := entity.ClassificationResult{
			Category:    category.Name,
			MatchedRule: rule,
			Evidence:    evidence,
			Actions:     append([]entity.ActionName(nil), category.Actions...),
		}
		if result.HasAction(entity.ActionCloseSite) {
			result.Message = renderMessage(record.DomainName, category.Name, rule, evidence)
		}
		return result
	}

	return entity.ClassificationResult{}
}

// matchCategory evaluates the category's rules in declared order. Each rule
// is independently evaluable; a nil threshold disables its rule.
func (e *Engine) matchCategory(record *entity.SiteRecord, rules *entity.RuleSet, category *entity.Category, now time.Time) (entity.RuleName, any, bool) {
	if category.MinCVSS != nil {
		if max, ok := record.MaxCVSS(); ok && max >= *category.MinCVSS {
			return entity.RuleMaxCVSS, max, true
		}
	}

	if category.MaxCVEAgeYears != nil {
		if oldest, ok := record.OldestCVEYear(); ok && oldest <= now.Year()-*category.MaxCVEAgeYears {
			return entity.RuleCVEAge, oldest, true
		}
	}

	if len(category.ForbiddenCountries) > 0 && record.Location.Country != "" {
		for _, country := range category.ForbiddenCountries {
			if country == record.Location.Country {
				return entity.RuleCountry, country, true
			}
		}
	}

	// The first forbidden tag carried by the server, in forbidden-set
	// order, is the evidence.
	for _, forbidden := range category.ForbiddenTags {
		for _, tag := range record.Tags {
			if tag == forbidden {
				return entity.RuleServerTag, forbidden, true
			}
		}
	}

	// Scan-dependent rules only trust a report that is still fresh; an
	// expired or absent report simply yields no match.
	scan := usableScan(record, rules, now)

	if category.MinSuspiciousScans != nil && scan != nil {
		if count := len(scan.Verdicts); count >= *category.MinSuspiciousScans {
			return entity.RuleScanCount, count, true
		}
	}

	if len(category.ForbiddenScanLabels) > 0 && scan != nil {
		if label, ok := matchVerdictLabel(scan, category.ForbiddenScanLabels); ok {
			return entity.RuleScanLabel, label, true
		}
	}

	if category.MinOpenPorts != nil && len(record.OpenPorts) >= *category.MinOpenPorts {
		return entity.RuleOpenPortCount, len(record.OpenPorts), true
	}

	return "", nil, false
}

func usableScan(record *entity.SiteRecord, rules *entity.RuleSet, now time.Time) *entity.ScanRecord {
	if record.Scan == nil {
		return nil
	}
	if rules.ScanTimeout > 0 && !record.Scan.Fresh(now, rules.ScanTimeout) {
		return nil
	}
	return record.Scan
}

// matchVerdictLabel checks each verdict's leading label token against the
// forbidden set. Engines are walked in sorted order so the evidence is
// deterministic.
func matchVerdictLabel(scan *entity.ScanRecord, forbidden []string) (string, bool) {
	engines := make([]string, 0, len(scan.Verdicts))
	for engine := range scan.Verdicts {
		engines = append(engines, engine)
	}
	sort.Strings(engines)

	for _, engine := range engines {
		label, _, _ := strings.Cut(scan.Verdicts[engine].Result, " ")
		for _, f := range forbidden {
			if label == f {
				return label, true
			}
		}
	}
	return "", false
}
