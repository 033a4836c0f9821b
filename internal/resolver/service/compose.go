package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	analyticsmodels "rulegate/internal/analytics/models"
	exceptionmodels "rulegate/internal/exception/models"
	overlaymodels "rulegate/internal/overlay/models"
	"rulegate/internal/resolver/models"
	rulesetmodels "rulegate/internal/ruleset/models"
	"rulegate/pkg/domain"
)

// Synthetic rule codes injected by overlay stricter checks.
const (
	codeExpiryRequired  = "OVERLAY_EXPIRY_DATE_REQUIRED"
	codeMandatoryDocFmt = "OVERLAY_MANDATORY_DOC_MISSING:%s"
	codeDateSlippage    = "OVERLAY_DATE_SLIPPAGE_EXCEEDED"
	codeAmountThreshold = "OVERLAY_AMOUNT_BELOW_THRESHOLD"
	effectOverlay       = "overlay"
	syntheticSeverity   = domain.SeverityMajor
	defaultRuleSeverity = domain.SeverityMedium
)

// composeInput is everything composition needs, prefetched so the function
// itself performs no I/O.
type composeInput struct {
	req        models.ResolveRequest
	rules      map[string]rulesetmodels.Rule
	overlay    *overlaymodels.Overlay
	exceptions []*exceptionmodels.Exception
	attrs      domain.Scope
	at         time.Time
}

// composeOutput carries the adjusted results plus the change log for the
// application event.
type composeOutput struct {
	results   []models.RuleResult
	waived    []models.RuleResult
	consulted []domain.ExceptionID
	applied   []domain.ExceptionID
	changes   []analyticsmodels.RuleChange
	summary   models.Summary
}

// compose applies the three policy layers to the raw results: overlay
// stricter checks and severity override first, then exception effects per the
// fixed precedence. It is a pure function over its input; identical input
// always yields identical output.
func compose(in composeInput) composeOutput {
	var out composeOutput

	results := make([]models.RuleResult, len(in.req.RawResults))
	copy(results, in.req.RawResults)
	for i := range results {
		enrich(&results[i], in.rules)
	}

	out.summary.PreDiscrepancies = countFailing(results)

	if in.overlay != nil {
		results = applyStricterChecks(in.req, in.overlay.Config.StricterChecks, results, &out)
		results = applySeverityOverride(in.overlay.Config.Thresholds.SeverityOverride, results, &out)
		results = applyAutoReject(in.overlay.Config.Thresholds.AutoRejectConditions, results, &out)
	}

	consulted := make(map[domain.ExceptionID]bool)
	var final []models.RuleResult
	for _, r := range results {
		var matches []*exceptionmodels.Exception
		for _, e := range in.exceptions {
			if e.AppliesTo(r.RuleCode, in.attrs, in.at) {
				matches = append(matches, e)
				consulted[e.ID] = true
			}
		}

		winner := exceptionmodels.ResolveWinner(matches)
		if winner == nil {
			final = append(final, r)
			continue
		}

		before := r
		switch winner.Effect {
		case domain.EffectWaive:
			out.waived = append(out.waived, r)
			out.applied = append(out.applied, winner.ID)
			out.changes = append(out.changes, analyticsmodels.RuleChange{
				RuleCode:       r.RuleCode,
				BeforeSeverity: before.Severity,
				BeforePassed:   before.Passed,
				AfterPassed:    true,
				Effect:         string(domain.EffectWaive),
				Waived:         true,
			})
			continue

		case domain.EffectDowngrade:
			r.Severity = r.Severity.Downgrade()

		case domain.EffectOverride:
			if winner.OverrideSeverity != "" {
				r.Severity = winner.OverrideSeverity
			}
			if winner.OverridePassed != nil {
				r.Passed = *winner.OverridePassed
			}
		}

		out.applied = append(out.applied, winner.ID)
		out.changes = append(out.changes, analyticsmodels.RuleChange{
			RuleCode:       r.RuleCode,
			BeforeSeverity: before.Severity,
			AfterSeverity:  r.Severity,
			BeforePassed:   before.Passed,
			AfterPassed:    r.Passed,
			Effect:         string(winner.Effect),
		})
		final = append(final, r)
	}

	out.results = final
	out.consulted = sortedIDs(consulted)
	out.summary.PostDiscrepancies = countFailing(final)
	out.summary.BySeverity = severityCounts(final)
	return out
}

// enrich fills severity and description from the ruleset definition when the
// executor left them blank.
func enrich(r *models.RuleResult, rules map[string]rulesetmodels.Rule) {
	def, ok := rules[r.RuleCode]
	if r.Severity == "" {
		if ok && def.Severity != "" {
			r.Severity = def.Severity
		} else {
			r.Severity = defaultRuleSeverity
		}
	}
	if r.Description == "" && ok {
		r.Description = def.Description
	}
}

// applyStricterChecks injects synthetic failing results for overlay
// requirements the raw results do not cover.
func applyStricterChecks(req models.ResolveRequest, checks overlaymodels.StricterChecks, results []models.RuleResult, out *composeOutput) []models.RuleResult {
	inject := func(code, description string) []models.RuleResult {
		synthetic := models.RuleResult{
			RuleCode:    code,
			Description: description,
			Severity:    syntheticSeverity,
			Passed:      false,
			Synthetic:   true,
		}
		out.changes = append(out.changes, analyticsmodels.RuleChange{
			RuleCode:      code,
			AfterSeverity: synthetic.Severity,
			BeforePassed:  true,
			AfterPassed:   false,
			Effect:        effectOverlay,
		})
		return append(results, synthetic)
	}

	if checks.RequireExpiryDate && !anyCodeMentions(results, "EXPIRY") {
		results = inject(codeExpiryRequired, "overlay requires an expiry date check")
	}

	presented := make(map[string]bool, len(req.PresentedDocuments))
	for _, doc := range req.PresentedDocuments {
		presented[strings.ToLower(doc)] = true
	}
	for _, doc := range checks.MandatoryDocuments {
		if !presented[strings.ToLower(doc)] {
			results = inject(fmt.Sprintf(codeMandatoryDocFmt, doc), "overlay-mandated document not presented")
		}
	}

	if checks.MaxDateSlippageDays != nil && req.DateSlippageDays != nil &&
		*req.DateSlippageDays > *checks.MaxDateSlippageDays {
		results = inject(codeDateSlippage, "date slippage exceeds the overlay limit")
	}

	if checks.MinAmountThreshold != nil && req.Amount != nil &&
		*req.Amount < *checks.MinAmountThreshold {
		results = inject(codeAmountThreshold, "amount is below the overlay threshold")
	}

	return results
}

// applySeverityOverride forces every discrepancy to the overlay's severity.
func applySeverityOverride(override domain.Severity, results []models.RuleResult, out *composeOutput) []models.RuleResult {
	if override == "" {
		return results
	}
	for i := range results {
		if results[i].Passed || results[i].Severity == override {
			continue
		}
		out.changes = append(out.changes, analyticsmodels.RuleChange{
			RuleCode:       results[i].RuleCode,
			BeforeSeverity: results[i].Severity,
			AfterSeverity:  override,
			BeforePassed:   false,
			AfterPassed:    false,
			Effect:         effectOverlay,
		})
		results[i].Severity = override
	}
	return results
}

// applyAutoReject escalates listed discrepancies to critical. Runs after the
// severity override so the escalation always sticks.
func applyAutoReject(conditions []string, results []models.RuleResult, out *composeOutput) []models.RuleResult {
	if len(conditions) == 0 {
		return results
	}
	reject := make(map[string]bool, len(conditions))
	for _, code := range conditions {
		reject[code] = true
	}
	for i := range results {
		if results[i].Passed || !reject[results[i].RuleCode] || results[i].Severity == domain.SeverityCritical {
			continue
		}
		out.changes = append(out.changes, analyticsmodels.RuleChange{
			RuleCode:       results[i].RuleCode,
			BeforeSeverity: results[i].Severity,
			AfterSeverity:  domain.SeverityCritical,
			BeforePassed:   false,
			AfterPassed:    false,
			Effect:         effectOverlay,
		})
		results[i].Severity = domain.SeverityCritical
	}
	return results
}

func anyCodeMentions(results []models.RuleResult, token string) bool {
	for _, r := range results {
		if strings.Contains(strings.ToUpper(r.RuleCode), token) {
			return true
		}
	}
	return false
}

func countFailing(results []models.RuleResult) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}

func severityCounts(results []models.RuleResult) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		if !r.Passed {
			counts[string(r.Severity)]++
		}
	}
	return counts
}

func sortedIDs(set map[domain.ExceptionID]bool) []domain.ExceptionID {
	if len(set) == 0 {
		return nil
	}
	out := make([]domain.ExceptionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
