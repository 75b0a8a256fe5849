package engine

import "coach-assessment-service/internal/catalog"

// ExitPolicy decides when a module may end early.
type ExitPolicy struct {
	catalog *catalog.Catalog
}

func NewExitPolicy(c *catalog.Catalog) ExitPolicy {
	return ExitPolicy{catalog: c}
}

// ShouldExitModule reports whether module may end now. It requires the module's
// question budget to be reached, the negative fraction to meet the threshold, and every
// critical gateway of the module to be in criticalAsked. Modules without a rule never
// exit early.
func (p ExitPolicy) ShouldExitModule(module string, questionsAskedInModule int, negativeAnswerFraction float64, criticalAsked map[string]bool) bool {
	rule, ok := p.catalog.ExitRule(module)
	if !ok {
		return false
	}
	for _, id := range p.catalog.CriticalGateways(module) {
		if !criticalAsked[id] {
			return false
		}
	}
	if questionsAskedInModule < rule.MaxQuestionsIfNoIssues {
		return false
	}
	return negativeAnswerFraction >= rule.ExitThreshold
}
