package config

import "github.com/monscodex/spot-and-block/internal/entity"

func f(v float64) *float64 { return &v }
func n(v int) *int         { return &v }

// DefaultRuleSet is the shipped three-tier classification battery, used when
// the config file carries no rules section. Categories are ordered highest
// severity first.
func DefaultRuleSet() entity.RuleSet {
	return entity.RuleSet{
		Categories: []entity.Category{
			{
				Name:                "critical",
				MinCVSS:             f(8),
				MaxCVEAgeYears:      n(8),
				MinSuspiciousScans:  n(4),
				ForbiddenTags:       []string{"malware", "compromised", "doublepulsar", "honeypot"},
				ForbiddenScanLabels: []string{"malware", "phishing", "malicious"},
				MinOpenPorts:        n(15),
				Actions: []entity.ActionName{
					entity.ActionCloseSite,
					entity.ActionBlockJS,
					entity.ActionBlockThirdParty,
					entity.ActionClearSiteData,
				},
			},
			{
				Name:               "medium",
				MinCVSS:            f(4),
				MaxCVEAgeYears:     n(5),
				MinSuspiciousScans: n(3),
				ForbiddenTags:      []string{"tor"},
				MinOpenPorts:       n(10),
				Actions: []entity.ActionName{
					entity.ActionBlockThirdParty,
					entity.ActionClearSiteData,
				},
			},
			{
				Name:                "low-risk",
				MinCVSS:             f(1),
				MaxCVEAgeYears:      n(2),
				MinSuspiciousScans:  n(1),
				ForbiddenTags:       []string{"self-signed", "vpn"},
				ForbiddenScanLabels: []string{"suspicious"},
				MinOpenPorts:        n(5),
				Actions: []entity.ActionName{
					entity.ActionClearSiteData,
				},
			},
		},
	}
}
