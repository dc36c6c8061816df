package classify

import (
	"fmt"

	"github.com/monscodex/spot-and-block/internal/entity"
)

// messageTemplates explain each rule match to the user, keyed by the rule
// that produced the evidence. The short form fits a notification; the long
// form the interstitial page.
var messageTemplates = map[entity.RuleName]struct {
	tldr string
	full string
}{
	entity.RuleMaxCVSS: {
		tldr: "The site has a poor security: hackers could attack it!",
		full: "The site is hosted on a server. This server has a maximum CVSS score of %v. This is a risky flaw (vulnerability) that hackers could attack.",
	},
	entity.RuleCVEAge: {
		tldr: "The site has a poor security: hackers could attack it!",
		full: "The site is hosted on a server. This server has a CVE (vulnerability) dating back to %v. This could mean that the site isn't taken care of.",
	},
	entity.RuleCountry: {
		tldr: "The site is hosted in a blocked country. The site could be dangerous.",
		full: "The site is hosted on a server. This server is located in %v which is a blocked country.",
	},
	entity.RuleServerTag: {
		tldr: "The site could be dangerous.",
		full: "The site is hosted on a server. This server is flagged as %q.",
	},
	entity.RuleScanCount: {
		tldr: "Numerous antiviruses flagged the site as dangerous.",
		full: "The site has been flagged as either a malware, a malicious, a suspicious or a phishing site by %v antivirus engines.",
	},
	entity.RuleScanLabel: {
		tldr: "An antivirus flagged the site as dangerous.",
		full: "The site has been flagged as %q.",
	},
	entity.RuleOpenPortCount: {
		tldr: "The site could have been hacked.",
		full: "The site is hosted on a server that has %v open ports. A server doing that many different things at once is easier for attackers to compromise.",
	},
}

// renderMessage builds the takedown explanation: the rule's short line plus
// a full explanation naming the closed site and its matched category.
func renderMessage(domain, category string, rule entity.RuleName, evidence any) *entity.Message {
	tmpl, ok := messageTemplates[rule]
	if !ok {
		return nil
	}

	return &entity.Message{
		TLDR: tmpl.tldr,
		FullExplanation: fmt.Sprintf(
			"The site you tried to open (%s) was closed because it was matched as %s. %s",
			domain, category, fmt.Sprintf(tmpl.full, evidence),
		),
	}
}
