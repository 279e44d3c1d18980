package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// Finding is one analyzer diagnostic, attributed to a rule and a
// source location when the output names them.
type Finding struct {
	Level   Level  `json:"level"`
	Rule    string `json:"rule,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Col     int    `json:"col,omitempty"`
	Message string `json:"message"`
}

var (
	findingHeader = regexp.MustCompile(`^(warning|error)(\[([A-Za-z0-9]+)\])?: (.+)$`)
	findingSite   = regexp.MustCompile(`^\s*-->\s*([^\s:]+):(\d+):(\d+)`)
	findingRule   = regexp.MustCompile("`#\\[(?:warn|deny)\\(([A-Za-z0-9_:]+)\\)\\]`|`-[DW] ([A-Za-z0-9_:-]+)`")
)

// ParseFindings extracts the analyzer's diagnostics from captured lint
// output. The effective level is the policy's when the rule is
// configured there; otherwise the level the analyzer printed stands.
// The scan is a single deterministic pass, so the same output and
// policy always produce the same findings.
func ParseFindings(out string, policy RulePolicy) []Finding {
	var findings []Finding
	var cur *Finding

	flush := func() {
		if cur != nil {
			findings = append(findings, *cur)
			cur = nil
		}
	}

	for _, line := range strings.Split(out, "\n") {
		if m := findingHeader.FindStringSubmatch(line); m != nil {
			flush()

			if summaryLine(m[4]) {
				continue
			}

			f := Finding{
				Level:   Warn,
				Rule:    normalizeRule(m[3]), // compiler error code, when present
				Message: m[4],
			}
			if m[1] == "error" {
				f.Level = Deny
			}

			cur = &f
			continue
		}

		if cur == nil {
			continue
		}

		if m := findingSite.FindStringSubmatch(line); m != nil && cur.File == "" {
			cur.File = m[1]
			cur.Line, _ = strconv.Atoi(m[2])
			cur.Col, _ = strconv.Atoi(m[3])
			continue
		}

		if m := findingRule.FindStringSubmatch(line); m != nil && cur.Rule == "" {
			rule := m[1]
			if rule == "" {
				rule = m[2]
			}
			cur.Rule = normalizeRule(rule)

			if lvl, ok := policy.Level(cur.Rule); ok {
				cur.Level = lvl
			}
		}
	}
	flush()

	return findings
}

// The analyzer ends the pass with tallies and abort notices. Those
// lines share the warning/error prefix but aren't findings.
func summaryLine(msg string) bool {
	switch {
	case strings.Contains(msg, "generated ") && strings.Contains(msg, "warning"):
		return true
	case strings.HasPrefix(msg, "aborting due to"):
		return true
	case strings.HasPrefix(msg, "could not compile"):
		return true
	case strings.HasPrefix(msg, "build failed"):
		return true
	case strings.HasSuffix(msg, "warnings emitted") || strings.HasSuffix(msg, "warning emitted"):
		return true
	}

	return false
}

// Flags spell rule names with dashes while the policy document uses
// the canonical underscore form. Normalize to the document's form so
// lookups match.
func normalizeRule(rule string) string {
	return strings.Replace(rule, "-", "_", -1)
}
