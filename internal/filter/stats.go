// © 2025 The mffilter authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package filter

// Stats summarize the rule sets currently on disk.
type Stats struct {
	RuleSets        int `json:"rule_sets"`
	EnabledRuleSets int `json:"enabled_rule_sets"`
	Rules           int `json:"rules"`
}

// Stats re-reads the rule store and summarizes it.
func (e *Engine) Stats() (Stats, error) {
	all, err := e.store.LoadAll()
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, rs := range all {
		s.RuleSets++
		if rs.IsEnabled() {
			s.EnabledRuleSets++
		}
		s.Rules += len(rs.Rules)
	}
	return s, nil
}
