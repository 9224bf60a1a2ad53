// Package rules provides a YAML-based rules engine that assigns category
// accounts to imported entries.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/finimport/internal/domain"
	"github.com/rumor-ml/commons.systems/finimport/internal/transform"
)

//go:embed rules.yaml
var embeddedRules []byte

// MatchType defines how patterns are matched against entry text
type MatchType string

const (
	// MatchTypeExact requires the pattern to match the entire text exactly
	MatchTypeExact MatchType = "exact"
	// MatchTypeContains requires the pattern to be a substring of the text
	MatchTypeContains MatchType = "contains"
	// MatchTypePrefix requires the text to start with the pattern
	MatchTypePrefix MatchType = "prefix"
)

// Field selects the entry text a rule looks at.
type Field string

const (
	FieldAny   Field = ""
	FieldPayee Field = "payee"
	FieldMemo  Field = "memo"
)

// Rule represents a single categorization rule.
//
// Rules should be created via NewRule or loaded through NewEngine; both
// validate every field. Category is the short name of a ledger account, a
// category or a capital account for transfers.
type Rule struct {
	Name      string    `yaml:"name"`
	Pattern   string    `yaml:"pattern"`
	MatchType MatchType `yaml:"match_type"`
	Field     Field     `yaml:"field"`
	Priority  int       `yaml:"priority"`
	Category  string    `yaml:"category"`
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("category cannot be empty")
	}
	if r.Priority < 0 || r.Priority > 999 {
		return fmt.Errorf("priority must be in [0,999], got %d", r.Priority)
	}
	switch r.MatchType {
	case MatchTypeExact, MatchTypeContains, MatchTypePrefix:
	default:
		return fmt.Errorf("invalid match_type %q (must be 'exact', 'contains' or 'prefix')", r.MatchType)
	}
	switch r.Field {
	case FieldAny, FieldPayee, FieldMemo:
	default:
		return fmt.Errorf("invalid field %q (must be 'payee' or 'memo')", r.Field)
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	return nil
}

// NewRule creates a validated rule.
func NewRule(name, pattern string, matchType MatchType, field Field, priority int, category string) (*Rule, error) {
	r := Rule{
		Name:      name,
		Pattern:   pattern,
		MatchType: matchType,
		Field:     field,
		Priority:  priority,
		Category:  category,
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// RuleSet is the document form of a rules file.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// compiled is a rule with its pattern already normalized.
type compiled struct {
	Rule
	pattern string
}

// Engine matches entry text against rules, highest priority first.
type Engine struct {
	rules []compiled
}

// MatchResult names the rule that matched and the category it assigns.
type MatchResult struct {
	Category string
	RuleName string
}

// NewEngine parses and validates a YAML rule set. Rules of equal priority
// keep their file order.
func NewEngine(data []byte) (*Engine, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}

	e := &Engine{rules: make([]compiled, 0, len(set.Rules))}
	for i, r := range set.Rules {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		e.rules = append(e.rules, compiled{Rule: r, pattern: transform.NormalizeText(r.Pattern)})
	}
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority > e.rules[j].Priority
	})
	return e, nil
}

// LoadEmbedded returns the engine for the rules compiled into the binary.
func LoadEmbedded() (*Engine, error) {
	e, err := NewEngine(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("embedded rules are invalid: %w", err)
	}
	return e, nil
}

// LoadFromFile reads a rules file from disk.
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	e, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return e, nil
}

// Match applies rules to one text and returns the first match. Payee and
// memo rules both apply. Text and patterns are compared after
// transform.NormalizeText.
func (e *Engine) Match(text string) (*MatchResult, bool) {
	return e.match(text, text)
}

func (e *Engine) match(payee, memo string) (*MatchResult, bool) {
	payee = transform.NormalizeText(payee)
	memo = transform.NormalizeText(memo)
	for _, r := range e.rules {
		hit := false
		if r.Field != FieldMemo {
			hit = matches(r.MatchType, payee, r.pattern)
		}
		if !hit && r.Field != FieldPayee {
			hit = matches(r.MatchType, memo, r.pattern)
		}
		if hit {
			return &MatchResult{Category: r.Category, RuleName: r.Name}, true
		}
	}
	return nil, false
}

func matches(t MatchType, text, pattern string) bool {
	if text == "" {
		return false
	}
	switch t {
	case MatchTypeExact:
		return text == pattern
	case MatchTypePrefix:
		return strings.HasPrefix(text, pattern)
	}
	return strings.Contains(text, pattern)
}

// Categorize returns the category of the first rule matching the entry's
// payee (or description) and memo.
func (e *Engine) Categorize(entry domain.EntryData) (string, bool) {
	payee := entry.Payee
	if payee == "" {
		payee = entry.Description
	}
	res, ok := e.match(payee, entry.Memo)
	if !ok {
		return "", false
	}
	return res.Category, true
}

// GetRules returns the rules in priority order.
func (e *Engine) GetRules() []Rule {
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
	}
	return out
}
