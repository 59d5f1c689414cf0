// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package rules defines filtering rules for Miniflux entries: the rule file
// model, validation, the evaluator that matches articles against rules and a
// directory-backed rule store.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleSet is a collection of rules applied to a single feed. One rule set is
// typically stored per YAML file in the rules directory.
type RuleSet struct {
	FeedID   int64  `json:"feed_id" yaml:"feed_id"`
	FeedName string `json:"feed_name,omitempty" yaml:"feed_name,omitempty"`
	// Enabled reports whether this rule set participates in filtering.
	// A nil value means enabled.
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

// IsEnabled reports whether the rule set participates in filtering.
func (rs *RuleSet) IsEnabled() bool { return rs.Enabled == nil || *rs.Enabled }

// Rule is a single action guarded by a list of conditions. All conditions
// must match for the rule to match.
type Rule struct {
	Action     Action      `json:"action" yaml:"action"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// Condition compares a single article field with a value.
type Condition struct {
	Field    Field    `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value" yaml:"value"`
}

// Action is what happens to an entry when a rule matches.
type Action string

// Known actions.
const (
	ActionMarkRead Action = "markread"
)

// ParseAction parses s into an [Action].
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(s)) {
	case ActionMarkRead:
		return ActionMarkRead, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// UnmarshalYAML implements the [yaml.Unmarshaler] interface.
func (a *Action) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return a.UnmarshalText([]byte(s))
}

// Field is the part of an article a condition looks at.
type Field string

// Known fields.
const (
	FieldTitle   Field = "title"
	FieldContent Field = "content"
	FieldAuthor  Field = "author"
	FieldURL     Field = "url"
	FieldTag     Field = "tag"
)

// ParseField parses s into a [Field].
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(s)); f {
	case FieldTitle, FieldContent, FieldAuthor, FieldURL, FieldTag:
		return f, nil
	}
	return "", fmt.Errorf("unknown field %q", s)
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (f *Field) UnmarshalText(b []byte) error {
	v, err := ParseField(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// UnmarshalYAML implements the [yaml.Unmarshaler] interface.
func (f *Field) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return f.UnmarshalText([]byte(s))
}

// Operator is the comparison a condition applies.
type Operator string

// Known operators.
//
// String operators compare case-insensitively; Matches applies an RE2
// regular expression as written.
const (
	OpContains    Operator = "contains"
	OpNotContains Operator = "notcontains"
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notequals"
	OpStartsWith  Operator = "startswith"
	OpEndsWith    Operator = "endswith"
	OpMatches     Operator = "matches"
)

// ParseOperator parses s into an [Operator].
func ParseOperator(s string) (Operator, error) {
	switch op := Operator(strings.ToLower(s)); op {
	case OpContains, OpNotContains, OpEquals, OpNotEquals, OpStartsWith, OpEndsWith, OpMatches:
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (op *Operator) UnmarshalText(b []byte) error {
	v, err := ParseOperator(string(b))
	if err != nil {
		return err
	}
	*op = v
	return nil
}

// UnmarshalYAML implements the [yaml.Unmarshaler] interface.
func (op *Operator) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return op.UnmarshalText([]byte(s))
}

// Validate checks the rule set for problems that would make it unusable.
//
// An empty rules list is allowed (the caller may want to warn about it, see
// [RuleSet.IsEmpty]), but every present rule must have at least one
// condition, every condition must have a non-empty value, and every Matches
// pattern must compile. Positions in error messages are 1-based.
func (rs *RuleSet) Validate() error {
	if rs.FeedID <= 0 {
		return fmt.Errorf("feed_id must be positive, got %d", rs.FeedID)
	}
	for i, rule := range rs.Rules {
		if rule.Action == "" {
			return fmt.Errorf("rule %d: missing action", i+1)
		}
		if len(rule.Conditions) == 0 {
			return fmt.Errorf("rule %d: no conditions", i+1)
		}
		for j, cond := range rule.Conditions {
			if cond.Field == "" {
				return fmt.Errorf("rule %d: condition %d: missing field", i+1, j+1)
			}
			if cond.Operator == "" {
				return fmt.Errorf("rule %d: condition %d: missing operator", i+1, j+1)
			}
			if strings.TrimSpace(cond.Value) == "" {
				return fmt.Errorf("rule %d: condition %d: empty value", i+1, j+1)
			}
			if cond.Operator == OpMatches {
				if _, err := regexp.Compile(cond.Value); err != nil {
					return fmt.Errorf("rule %d: condition %d: invalid pattern: %v", i+1, j+1, err)
				}
			}
		}
	}
	return nil
}

// IsEmpty reports whether the rule set has no rules.
func (rs *RuleSet) IsEmpty() bool { return len(rs.Rules) == 0 }
