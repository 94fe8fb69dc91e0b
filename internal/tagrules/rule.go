// Package tagrules classifies XML tag names into the node classes the
// paper builder understands (document, section, question, page, ...).
// Built-in rules cover the fixed tag vocabulary; operators can extend
// recognition to additional tag families via tagrules.yaml without a
// rebuild. Grounded on the teacher's internal/engine rule-matching
// engine (compiledMatcher / Rule / first-match-wins Evaluate), retargeted
// from tool-call guardrails to tag classification.
package tagrules

import (
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
)

// NodeClass is what a tag name was recognized as. Mirrors the tag
// vocabulary named in the tag vocabulary table: xml, root, instructions,
// meta_data, section, section_number, question_number, page, item,
// question, plus "unrecognized" for anything no rule matches.
type NodeClass string

const (
	ClassXML          NodeClass = "xml"
	ClassRoot         NodeClass = "root"
	ClassInstructions NodeClass = "instructions"
	ClassMeta         NodeClass = "meta_data"
	ClassSection      NodeClass = "section"
	ClassSectionName  NodeClass = "section_number"
	ClassQuestionNum  NodeClass = "question_number"
	ClassPage         NodeClass = "page"
	ClassItem         NodeClass = "item"
	ClassQuestion     NodeClass = "question"
	ClassUnrecognized NodeClass = "unrecognized"
)

// Match describes how a rule recognizes a tag name. At least one of
// Equals, Glob, Regex must be set; when more than one is set, all must
// agree (AND logic), matching the teacher's RuleMatch convention.
type Match struct {
	Equals string `yaml:"equals"`
	Glob   string `yaml:"glob"`
	Regex  string `yaml:"regex"`
}

// Rule maps tag names matching Match to Class. First-match-wins ordering
// is controlled by Classifier, not by the rule itself.
type Rule struct {
	Name    string    `yaml:"name"`
	Class   NodeClass `yaml:"class"`
	Match   Match     `yaml:"match"`
	Builtin bool      `yaml:"-"`

	compiled compiledMatch
}

type compiledMatch struct {
	glob  glob.Glob
	regex *regexp.Regexp
}

// compile pre-compiles the glob/regex patterns on a rule. Called once at
// load time so per-tag classification stays cheap.
func compile(r *Rule) error {
	var c compiledMatch
	if r.Match.Glob != "" {
		g, err := glob.Compile(r.Match.Glob)
		if err != nil {
			return fmt.Errorf("rule %q: invalid glob %q: %w", r.Name, r.Match.Glob, err)
		}
		c.glob = g
	}
	if r.Match.Regex != "" {
		re, err := regexp.Compile(r.Match.Regex)
		if err != nil {
			return fmt.Errorf("rule %q: invalid regex %q: %w", r.Name, r.Match.Regex, err)
		}
		c.regex = re
	}
	r.compiled = c
	return nil
}

// matches reports whether name satisfies every condition set on the rule.
func matches(r *Rule, name string) bool {
	matched := false

	if r.Match.Equals != "" {
		if r.Match.Equals != name {
			return false
		}
		matched = true
	}
	if r.compiled.glob != nil {
		if !r.compiled.glob.Match(name) {
			return false
		}
		matched = true
	}
	if r.compiled.regex != nil {
		if !r.compiled.regex.MatchString(name) {
			return false
		}
		matched = true
	}

	return matched
}
