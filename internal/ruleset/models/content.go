package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"rulegate/pkg/domain"
)

// Rule is one compliance rule inside a ruleset's content blob.
type Rule struct {
	Code        string          `json:"code"`
	Description string          `json:"description,omitempty"`
	Severity    domain.Severity `json:"severity"`
	Conditions  []Condition     `json:"conditions"`
}

// Condition is one check inside a rule. The engine never evaluates
// conditions itself (that is the document-validation executor's job); it only
// validates their structure on upload.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// ValidationError reports every structural defect found in uploaded content,
// not just the first, plus non-blocking warnings. The caller decides whether
// warnings block use.
type ValidationError struct {
	Defects  []string `json:"defects"`
	Warnings []string `json:"warnings,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ruleset content rejected: %d defect(s)", len(e.Defects))
}

// ParseContent decodes and structurally validates an uploaded rule
// collection. On success it returns the rules plus any warnings; on failure
// it returns a ValidationError carrying the full defect list.
func ParseContent(raw []byte) ([]Rule, []string, error) {
	if len(raw) == 0 {
		return nil, nil, &ValidationError{Defects: []string{"content is empty"}}
	}

	var rules []Rule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, nil, &ValidationError{Defects: []string{fmt.Sprintf("content is not a parseable rule collection: %v", err)}}
	}

	var defects, warnings []string
	if len(rules) == 0 {
		warnings = append(warnings, "content contains zero rules")
	}

	seen := make(map[string]bool, len(rules))
	for i, rule := range rules {
		label := fmt.Sprintf("rule %d", i+1)
		code := strings.TrimSpace(rule.Code)
		if code == "" {
			defects = append(defects, label+": missing rule code")
		} else {
			label = fmt.Sprintf("rule %d (%s)", i+1, code)
			if seen[code] {
				warnings = append(warnings, label+": duplicate rule code")
			}
			seen[code] = true
		}
		if len(rule.Conditions) == 0 {
			defects = append(defects, label+": at least one condition is required")
		}
		if rule.Severity != "" && !rule.Severity.IsValid() {
			defects = append(defects, fmt.Sprintf("%s: unknown severity %q", label, rule.Severity))
		}
	}

	if len(defects) > 0 {
		return nil, nil, &ValidationError{Defects: defects, Warnings: warnings}
	}
	return rules, warnings, nil
}
