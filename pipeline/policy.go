package pipeline

import (
	"errors"
	"fmt"
)

// Level is the enforcement level of a lint rule.
type Level string

const (
	// Deny fails the lint job when a finding matches the rule.
	Deny Level = "deny"
	// Warn records the finding without failing anything.
	Warn Level = "warn"
)

// RulePolicy maps analyzer rule identifiers to enforcement levels. The
// two lists keep the document's order, so flag rendering, and with it
// the analyzer's behavior, is identical on every run of the same
// document.
type RulePolicy struct {
	Deny []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	Warn []string `json:"warn,omitempty" yaml:"warn,omitempty"`
}

// Validate rejects duplicate rule entries. The same rule at two
// different levels is a conflict that must never be resolved by
// whichever entry happens to come last; a straight repeat is rejected
// the same way so the document stays an honest mapping.
func (p RulePolicy) Validate() error {
	levels := make(map[string]Level, len(p.Deny)+len(p.Warn))

	for _, rule := range p.Deny {
		if rule == "" {
			return errors.New("empty lint rule at level deny")
		}
		if _, ok := levels[rule]; ok {
			return fmt.Errorf("lint rule %q listed twice at level deny", rule)
		}
		levels[rule] = Deny
	}

	for _, rule := range p.Warn {
		if rule == "" {
			return errors.New("empty lint rule at level warn")
		}
		if lvl, ok := levels[rule]; ok {
			if lvl == Deny {
				return fmt.Errorf("lint rule %q configured as both deny and warn", rule)
			}
			return fmt.Errorf("lint rule %q listed twice at level warn", rule)
		}
		levels[rule] = Warn
	}

	return nil
}

// Args renders the policy as analyzer flags: -D for every deny rule,
// then -W for every warn rule, both in document order.
func (p RulePolicy) Args() []string {
	args := make([]string, 0, 2*(len(p.Deny)+len(p.Warn)))

	for _, rule := range p.Deny {
		args = append(args, "-D", rule)
	}
	for _, rule := range p.Warn {
		args = append(args, "-W", rule)
	}

	return args
}

// Level returns the configured level for a rule. Unconfigured rules
// are left to the analyzer's own default, so ok is false for them.
func (p RulePolicy) Level(rule string) (Level, bool) {
	for _, r := range p.Deny {
		if r == rule {
			return Deny, true
		}
	}
	for _, r := range p.Warn {
		if r == rule {
			return Warn, true
		}
	}

	return "", false
}

// Rules is the number of rules the policy configures.
func (p RulePolicy) Rules() int {
	return len(p.Deny) + len(p.Warn)
}
