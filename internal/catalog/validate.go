package catalog

import (
	"fmt"
	"strings"

	"coach-assessment-service/internal/domain"
)

// ValidationError lists every problem found in an artifact.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("catalog validation failed: %s", strings.Join(e.Problems, "; "))
}

// Compile validates a and builds the immutable indexes and orderings.
func Compile(a Artifact) (*Catalog, error) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	c := &Catalog{
		artifact:     a,
		settings:     a.Settings.withDefaults(),
		moduleIndex:  make(map[string]int, len(a.Modules)),
		questions:    make(map[string]domain.Question, len(a.Questions)),
		groups:       make(map[string]domain.QuestionGroup, len(a.Groups)),
		gatewayGroup: make(map[string]string, len(a.Groups)),
		memberGroup:  make(map[string]string),
		exitRules:    make(map[string]domain.ModuleExitRule, len(a.ExitRules)),
		critical:     make(map[string][]string),
		ordering:     make(map[string][]string, len(a.Modules)),
	}
	c.artifact.Settings = c.settings

	if a.Version == "" {
		addf("version is required")
	}
	for i, m := range a.Modules {
		if m.ID == "" {
			addf("module %d has no id", i)
			continue
		}
		if _, dup := c.moduleIndex[m.ID]; dup {
			addf("duplicate module %q", m.ID)
			continue
		}
		c.moduleIndex[m.ID] = i
	}

	for _, q := range a.Questions {
		switch {
		case q.ID == "":
			addf("question with empty id in module %q", q.Module)
			continue
		case !c.HasModule(q.Module):
			addf("question %q references unknown module %q", q.ID, q.Module)
		case !q.AnswerType.Valid():
			addf("question %q has unknown answer type %q", q.ID, q.AnswerType)
		case q.AnswerType == domain.AnswerMultipleChoice && len(q.Options) == 0:
			addf("question %q is multiple choice without options", q.ID)
		}
		if _, dup := c.questions[q.ID]; dup {
			addf("duplicate question %q", q.ID)
			continue
		}
		c.questions[q.ID] = q
	}

	for _, g := range a.Groups {
		if g.ID == "" {
			addf("group with empty id (gateway %q)", g.GatewayQuestionID)
			continue
		}
		if _, dup := c.groups[g.ID]; dup {
			addf("duplicate group %q", g.ID)
			continue
		}
		if _, ok := c.questions[g.GatewayQuestionID]; !ok {
			addf("group %q gateway %q is not a known question", g.ID, g.GatewayQuestionID)
		}
		if other, ok := c.gatewayGroup[g.GatewayQuestionID]; ok {
			addf("question %q gates both %q and %q", g.GatewayQuestionID, other, g.ID)
		}
		if len(g.TriggerValues) == 0 {
			addf("group %q has no trigger values", g.ID)
		}
		for _, m := range g.MemberQuestionIDs {
			if m == g.GatewayQuestionID {
				addf("group %q gateway %q lists itself as a member", g.ID, m)
				continue
			}
			if _, ok := c.questions[m]; !ok {
				addf("group %q member %q is not a known question", g.ID, m)
				continue
			}
			if other, ok := c.memberGroup[m]; ok {
				addf("question %q is a member of both %q and %q", m, other, g.ID)
				continue
			}
			c.memberGroup[m] = g.ID
		}
		c.groups[g.ID] = g
		c.gatewayGroup[g.GatewayQuestionID] = g.ID
	}

	for _, q := range a.Questions {
		if q.GroupID == "" {
			continue
		}
		g, ok := c.groups[q.GroupID]
		if !ok {
			addf("question %q references unknown group %q", q.ID, q.GroupID)
			continue
		}
		if g.GatewayQuestionID != q.ID && c.memberGroup[q.ID] != g.ID {
			addf("question %q claims group %q but is neither its gateway nor a member", q.ID, q.GroupID)
		}
	}

	criticalSet := make(map[string]bool)
	for _, q := range a.Questions {
		if q.CriticalGateway {
			criticalSet[q.ID] = true
		}
	}
	for _, r := range a.ExitRules {
		if !c.HasModule(r.Module) {
			addf("exit rule references unknown module %q", r.Module)
			continue
		}
		if _, dup := c.exitRules[r.Module]; dup {
			addf("duplicate exit rule for module %q", r.Module)
			continue
		}
		if r.ExitThreshold <= 0 || r.ExitThreshold > 1 {
			addf("exit rule for %q has threshold %v outside (0,1]", r.Module, r.ExitThreshold)
		}
		if r.MaxQuestionsIfNoIssues < 0 {
			addf("exit rule for %q has negative maxQuestionsIfNoIssues", r.Module)
		}
		for _, id := range r.CriticalGatewayIDs {
			q, ok := c.questions[id]
			if !ok {
				addf("exit rule for %q lists unknown critical gateway %q", r.Module, id)
				continue
			}
			if q.Module != r.Module {
				addf("critical gateway %q belongs to %q, not %q", id, q.Module, r.Module)
				continue
			}
			criticalSet[id] = true
		}
		c.exitRules[r.Module] = r
	}

	ruleIDs := make(map[string]bool, len(a.ScoringRules))
	for _, r := range a.ScoringRules {
		if r.ID == "" || ruleIDs[r.ID] {
			addf("scoring rule %q has an empty or duplicate id", r.ID)
		}
		ruleIDs[r.ID] = true
		for _, id := range r.QuestionIDs {
			if _, ok := c.questions[id]; !ok {
				addf("scoring rule %q references unknown question %q", r.ID, id)
			}
		}
		switch r.Calculation {
		case domain.CalcSum, domain.CalcAverage, domain.CalcWeighted:
		case domain.CalcCustom:
			if !domain.KnownStrategy(r.Strategy) {
				addf("scoring rule %q names unknown custom strategy %q", r.ID, r.Strategy)
			}
		default:
			addf("scoring rule %q has unknown calculation %q", r.ID, r.Calculation)
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	c.buildOrdering(criticalSet)
	return c, nil
}

func (c *Catalog) buildOrdering(criticalSet map[string]bool) {
	var critical, gateways, rest = map[string][]string{}, map[string][]string{}, map[string][]string{}
	for _, q := range c.artifact.Questions {
		_, isGateway := c.gatewayGroup[q.ID]
		switch {
		case criticalSet[q.ID]:
			critical[q.Module] = append(critical[q.Module], q.ID)
		case isGateway:
			gateways[q.Module] = append(gateways[q.Module], q.ID)
		default:
			rest[q.Module] = append(rest[q.Module], q.ID)
		}
	}
	for _, m := range c.artifact.Modules {
		order := make([]string, 0, len(critical[m.ID])+len(gateways[m.ID])+len(rest[m.ID]))
		order = append(order, critical[m.ID]...)
		order = append(order, gateways[m.ID]...)
		order = append(order, rest[m.ID]...)
		c.ordering[m.ID] = order
		c.critical[m.ID] = critical[m.ID]
	}
}
