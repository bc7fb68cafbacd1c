package contracts

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Error definitions for rule configuration and evaluation.
var (
	// ErrRuleActionFailed indicates a matched rule's action could not be executed.
	ErrRuleActionFailed = errors.New("rule action failed")
	// ErrInvalidRule indicates a rule with an unknown action or a bad pattern.
	ErrInvalidRule = errors.New("invalid rule")
)

// RuleAction is what a matched rule does with an endpoint.
type RuleAction string

const (
	// ActionAutoOpen opens a port on the endpoint without application involvement.
	ActionAutoOpen RuleAction = "auto-open"
	// ActionIgnore explicitly leaves the endpoint unbound, stopping evaluation.
	ActionIgnore RuleAction = "ignore"
)

// RuleMatch selects endpoints by name pattern, transport kind or direction.
// Zero-valued fields match everything, so a match with only Name set applies
// to both directions on any transport.
type RuleMatch struct {
	// Name is a regular expression matched against the endpoint name.
	// Empty matches any name.
	Name string `yaml:"name,omitempty"`
	// ID matches one exact endpoint identifier. Empty matches any.
	ID EndpointID `yaml:"id,omitempty"`
	// Transport restricts the match to one transport kind ("usb", "virtual",
	// "network"). Empty matches any transport.
	Transport string `yaml:"transport,omitempty"`
	// Direction restricts the match to "input" or "output". Empty matches both.
	Direction string `yaml:"direction,omitempty"`

	re *regexp.Regexp
}

// Rule pairs a declarative endpoint match with an action. Rules are ordered
// and the first match wins; an endpoint no rule matches stays unbound.
type Rule struct {
	Match  RuleMatch  `yaml:"match"`
	Action RuleAction `yaml:"action"`
	// Alias names the port opened by ActionAutoOpen. The binding is restored
	// when the same endpoint reappears after a transient disconnect.
	Alias string `yaml:"alias,omitempty"`
}

// Compile validates the rule and prepares its name pattern for matching.
func (r *Rule) Compile() error {
	switch r.Action {
	case ActionAutoOpen, ActionIgnore:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, r.Action)
	}
	if r.Match.Name != "" {
		re, err := regexp.Compile(r.Match.Name)
		if err != nil {
			return fmt.Errorf("%w: name pattern %q: %v", ErrInvalidRule, r.Match.Name, err)
		}
		r.Match.re = re
	}
	return nil
}

// Matches reports whether the endpoint satisfies every populated criterion.
// Compile must have been called first.
func (r *Rule) Matches(info EndpointInfo) bool {
	if r.Match.ID != "" && r.Match.ID != info.ID {
		return false
	}
	if r.Match.re != nil && !r.Match.re.MatchString(info.Name) {
		return false
	}
	if r.Match.Transport != "" && r.Match.Transport != info.Transport.String() {
		return false
	}
	if r.Match.Direction != "" && r.Match.Direction != info.Direction.String() {
		return false
	}
	return true
}

// CompileRules compiles every rule in place, reporting the first failure.
func CompileRules(rules []Rule) error {
	for i := range rules {
		if err := rules[i].Compile(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}

// LoadRules reads an ordered rule list from a YAML file and compiles it.
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}
	if err := CompileRules(doc.Rules); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}
