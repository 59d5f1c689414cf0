// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package rules

import (
	"log/slog"
	"regexp"
	"strings"
)

// Article is the evaluator's view of an entry. It carries only the fields
// conditions can look at, so it can be built from a Miniflux entry or from a
// raw feed item alike.
type Article struct {
	Title   string
	URL     string
	Content string
	Author  string
	Tags    []string
}

// Evaluator matches articles against rule sets.
type Evaluator struct {
	log *slog.Logger
}

// NewEvaluator returns a new [Evaluator] that logs evaluation anomalies to
// log. If log is nil, [slog.Default] is used.
func NewEvaluator(log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{log: log}
}

// Evaluate returns the indices (0-based, ascending) of the rules in rs that
// match a. A disabled rule set never matches anything.
func (e *Evaluator) Evaluate(rs *RuleSet, a *Article) []int {
	if !rs.IsEnabled() {
		return nil
	}
	var matched []int
	for i, rule := range rs.Rules {
		if e.matchRule(&rule, a) {
			matched = append(matched, i)
		}
	}
	return matched
}

// matchRule reports whether all conditions of the rule match the article.
func (e *Evaluator) matchRule(r *Rule, a *Article) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	for _, cond := range r.Conditions {
		if !e.matchCondition(&cond, a) {
			return false
		}
	}
	return true
}

func (e *Evaluator) matchCondition(c *Condition, a *Article) bool {
	if c.Field == FieldTag {
		return e.matchTags(c, a.Tags)
	}

	var field string
	switch c.Field {
	case FieldTitle:
		field = a.Title
	case FieldContent:
		field = a.Content
	case FieldAuthor:
		field = a.Author
	case FieldURL:
		field = a.URL
	default:
		return false
	}

	have := strings.ToLower(field)
	want := strings.ToLower(c.Value)

	switch c.Operator {
	case OpContains:
		return strings.Contains(have, want)
	case OpNotContains:
		return !strings.Contains(have, want)
	case OpEquals:
		return have == want
	case OpNotEquals:
		return have != want
	case OpStartsWith:
		return strings.HasPrefix(have, want)
	case OpEndsWith:
		return strings.HasSuffix(have, want)
	case OpMatches:
		return e.matchRegexp(c.Value, field)
	}
	return false
}

// matchTags applies the condition to an article's tag collection.
//
// Contains and NotContains test against the tags joined with a single space,
// so a value can match across a tag boundary. Equals, StartsWith and EndsWith
// test each tag individually and are true if any tag satisfies them;
// NotEquals is the negation of "any tag equals".
func (e *Evaluator) matchTags(c *Condition, tags []string) bool {
	want := strings.ToLower(c.Value)

	switch c.Operator {
	case OpContains:
		return strings.Contains(strings.ToLower(strings.Join(tags, " ")), want)
	case OpNotContains:
		return !strings.Contains(strings.ToLower(strings.Join(tags, " ")), want)
	case OpEquals, OpStartsWith, OpEndsWith:
		for _, tag := range tags {
			have := strings.ToLower(tag)
			switch c.Operator {
			case OpEquals:
				if have == want {
					return true
				}
			case OpStartsWith:
				if strings.HasPrefix(have, want) {
					return true
				}
			case OpEndsWith:
				if strings.HasSuffix(have, want) {
					return true
				}
			}
		}
		return false
	case OpNotEquals:
		for _, tag := range tags {
			if strings.ToLower(tag) == want {
				return false
			}
		}
		return true
	case OpMatches:
		for _, tag := range tags {
			if e.matchRegexp(c.Value, tag) {
				return true
			}
		}
		return false
	}
	return false
}

// matchRegexp compiles pattern and tests it against s. Validation should
// have rejected uncompilable patterns already; a pattern failing here
// evaluates to false and is logged, never a crash.
func (e *Evaluator) matchRegexp(pattern, s string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		e.log.Warn("skipping condition with invalid pattern", "pattern", pattern, "error", err)
		return false
	}
	return re.MatchString(s)
}
