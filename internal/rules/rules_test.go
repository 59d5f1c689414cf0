// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package rules

import (
	"strings"
	"testing"

	"go.xela.dev/mffilter/internal/testutil"

	"gopkg.in/yaml.v3"
)

func boolPtr(v bool) *bool { return &v }

func TestUnmarshalRejectsUnknownEnums(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		yaml    string
		wantErr string
	}{
		"unknown field": {
			yaml: `
feed_id: 1
rules:
  - action: markread
    conditions:
      - field: summary
        operator: contains
        value: ad
`,
			wantErr: `unknown field "summary"`,
		},
		"unknown operator": {
			yaml: `
feed_id: 1
rules:
  - action: markread
    conditions:
      - field: title
        operator: like
        value: ad
`,
			wantErr: `unknown operator "like"`,
		},
		"unknown action": {
			yaml: `
feed_id: 1
rules:
  - action: delete
    conditions:
      - field: title
        operator: contains
        value: ad
`,
			wantErr: `unknown action "delete"`,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var rs RuleSet
			err := yaml.Unmarshal([]byte(tc.yaml), &rs)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestUnmarshalEnumsAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	var rs RuleSet
	err := yaml.Unmarshal([]byte(`
feed_id: 7
rules:
  - action: MarkRead
    conditions:
      - field: Title
        operator: Contains
        value: advertisement
`), &rs)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, rs.Rules[0].Action, ActionMarkRead)
	testutil.AssertEqual(t, rs.Rules[0].Conditions[0].Field, FieldTitle)
	testutil.AssertEqual(t, rs.Rules[0].Conditions[0].Operator, OpContains)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cond := func(f Field, op Operator, v string) Condition {
		return Condition{Field: f, Operator: op, Value: v}
	}

	cases := map[string]struct {
		rs      RuleSet
		wantErr string
	}{
		"valid": {
			rs: RuleSet{FeedID: 1, Rules: []Rule{
				{Action: ActionMarkRead, Conditions: []Condition{cond(FieldTitle, OpContains, "ad")}},
			}},
		},
		"empty rules allowed": {
			rs: RuleSet{FeedID: 1},
		},
		"bad feed id": {
			rs:      RuleSet{FeedID: 0},
			wantErr: "feed_id must be positive",
		},
		"no conditions": {
			rs: RuleSet{FeedID: 1, Rules: []Rule{
				{Action: ActionMarkRead},
			}},
			wantErr: "rule 1: no conditions",
		},
		"empty value": {
			rs: RuleSet{FeedID: 1, Rules: []Rule{
				{Action: ActionMarkRead, Conditions: []Condition{cond(FieldTitle, OpContains, "ad")}},
				{Action: ActionMarkRead, Conditions: []Condition{
					cond(FieldTitle, OpContains, "ok"),
					cond(FieldAuthor, OpEquals, "   "),
				}},
			}},
			wantErr: "rule 2: condition 2: empty value",
		},
		"invalid pattern": {
			rs: RuleSet{FeedID: 1, Rules: []Rule{
				{Action: ActionMarkRead, Conditions: []Condition{cond(FieldTitle, OpMatches, "[unclosed")}},
			}},
			wantErr: "rule 1: condition 1: invalid pattern",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.rs.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("want error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestIsEnabled(t *testing.T) {
	t.Parallel()

	testutil.AssertEqual(t, (&RuleSet{FeedID: 1}).IsEnabled(), true)
	testutil.AssertEqual(t, (&RuleSet{FeedID: 1, Enabled: boolPtr(true)}).IsEnabled(), true)
	testutil.AssertEqual(t, (&RuleSet{FeedID: 1, Enabled: boolPtr(false)}).IsEnabled(), false)
}
