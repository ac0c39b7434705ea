package inspection

import (
	"fmt"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"
)

// evaluateAcceptance applies a Skill's acceptance-criteria rules to one
// device's result data in order (spec §4.3.2: "a small, declarative
// language: per-field threshold comparisons and boolean combinators").
// The first rule whose field extracts and whose expression evaluates true
// wins; a rule whose field is absent is skipped rather than treated as a
// match. If no rule matches, the tier defaults to PASS.
func evaluateAcceptance(rules []Rule, data map[string]any) (Tier, []string, error) {
	var bullets []string
	for _, rule := range rules {
		value, err := jsonpath.Get(rule.Field, data)
		if err != nil {
			// Field absent from this device's output; rule does not apply.
			continue
		}

		result, err := gval.Evaluate(rule.Expr, map[string]any{"value": value})
		if err != nil {
			return TierFail, bullets, fmt.Errorf("inspection: acceptance rule %q: %w", rule.Expr, err)
		}

		matched, ok := result.(bool)
		if !ok {
			return TierFail, bullets, fmt.Errorf("inspection: acceptance rule %q did not evaluate to a boolean", rule.Expr)
		}

		if matched {
			if rule.Note != "" {
				bullets = append(bullets, rule.Note)
			}
			return rule.Tier, bullets, nil
		}
	}
	return TierPass, bullets, nil
}
