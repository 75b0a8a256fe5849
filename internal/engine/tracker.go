package engine

import (
	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
)

// tracker derives per-turn views from a session and its response history.
type tracker struct {
	cat      *catalog.Catalog
	a        *domain.Assessment
	history  []domain.ClientResponse
	answered map[string]bool
}

func newTracker(cat *catalog.Catalog, a *domain.Assessment, history []domain.ClientResponse) *tracker {
	answered := make(map[string]bool, len(history))
	for _, r := range history {
		answered[r.QuestionID] = true
	}
	return &tracker{cat: cat, a: a, history: history, answered: answered}
}

// askable reports whether id exists, is unanswered, unsuppressed, and in an open module.
func (t *tracker) askable(id string) bool {
	q, ok := t.cat.Question(id)
	if !ok || t.answered[id] {
		return false
	}
	return !t.a.Traversal.Suppressed(id) && !t.a.Traversal.Closed(q.Module)
}

func (t *tracker) askableIn(module string) []string {
	var out []string
	for _, id := range t.cat.Ordering(module) {
		if t.askable(id) {
			out = append(out, id)
		}
	}
	return out
}

func (t *tracker) candidates() []Candidate {
	var out []Candidate
	for _, m := range t.cat.Modules() {
		for _, id := range t.askableIn(m.ID) {
			q, _ := t.cat.Question(id)
			out = append(out, Candidate{
				ID:              q.ID,
				Module:          q.Module,
				Prompt:          q.Prompt,
				AnswerType:      q.AnswerType,
				CriticalGateway: t.cat.IsCritical(q.ID),
			})
		}
	}
	return out
}

func (t *tracker) pendingCritical(module string) (string, bool) {
	for _, id := range t.cat.CriticalGateways(module) {
		if t.askable(id) {
			return id, true
		}
	}
	return "", false
}

// firstAskable prefers the module's pending critical gateways, then the rest of the
// module, then later modules in catalog order.
func (t *tracker) firstAskable(module string) (string, bool) {
	if id, ok := t.pendingCritical(module); ok {
		return id, true
	}
	if ids := t.askableIn(module); len(ids) > 0 {
		return ids[0], true
	}
	if c := t.candidates(); len(c) > 0 {
		if id, ok := t.pendingCritical(c[0].Module); ok {
			return id, true
		}
		return c[0].ID, true
	}
	return "", false
}

func (t *tracker) askedIn(module string) int {
	n := 0
	for _, r := range t.history {
		if r.Module == module {
			n++
		}
	}
	return n
}

// moduleStats returns the answered count, the fraction of negative answers and the set
// of critical gateways answered in module.
func (t *tracker) moduleStats(module string) (int, float64, map[string]bool) {
	settings := t.cat.Settings()
	asked, negative := 0, 0
	critical := map[string]bool{}
	for _, r := range t.history {
		if r.Module != module {
			continue
		}
		asked++
		q, ok := t.cat.Question(r.QuestionID)
		if !ok {
			q = domain.Question{ID: r.QuestionID, Module: r.Module, AnswerType: r.ResponseType}
		}
		if IsNegative(q, r.ResponseValue, settings) {
			negative++
		}
		if t.cat.IsCritical(r.QuestionID) {
			critical[r.QuestionID] = true
		}
	}
	if asked == 0 {
		return 0, 0, critical
	}
	return asked, float64(negative) / float64(asked), critical
}

// closeModule marks module exited by byQuestion's turn and counts its remaining askable
// questions as saved. It returns false when the module was already closed.
func (t *tracker) closeModule(module, byQuestion string) bool {
	tr := &t.a.Traversal
	if tr.Closed(module) {
		return false
	}
	remaining := len(t.askableIn(module))
	tr.ClosedModules = append(tr.ClosedModules, module)
	if tr.ExitSavings == nil {
		tr.ExitSavings = map[string]int{}
	}
	tr.ExitSavings[module] = remaining
	if tr.ClosedBy == nil {
		tr.ClosedBy = map[string]string{}
	}
	tr.ClosedBy[module] = byQuestion

	for _, m := range t.a.AIContext.ModulesCompleted {
		if m == module {
			return true
		}
	}
	t.a.AIContext.ModulesCompleted = append(t.a.AIContext.ModulesCompleted, module)
	return true
}

// enforceCriticalGateways keeps critical gateways ahead of any other question: a decision
// that enters a module with pending critical gateways, or completes while any remain, is
// redirected to the first such gateway.
func (t *tracker) enforceCriticalGateways(d Decision) Decision {
	if d.Complete {
		for _, m := range t.cat.Modules() {
			if id, ok := t.pendingCritical(m.ID); ok {
				return Decision{NextQuestionID: id, NextModule: m.ID, Reasoning: d.Reasoning, QuestionsInModule: d.QuestionsInModule, QuestionsSaved: d.QuestionsSaved}
			}
		}
		return d
	}
	q, _ := t.cat.Question(d.NextQuestionID)
	if q.CriticalGateway || t.cat.IsCritical(q.ID) {
		return d
	}
	if id, ok := t.pendingCritical(q.Module); ok {
		d.NextQuestionID = id
		d.NextModule = q.Module
	}
	return d
}

func (t *tracker) request(last domain.Question, exitRecommended bool, candidates []Candidate) DecisionRequest {
	return DecisionRequest{
		AssessmentID:          t.a.ID,
		CurrentModule:         last.Module,
		LastQuestionID:        last.ID,
		Responses:             append([]domain.ClientResponse(nil), t.history...),
		SymptomProfile:        t.a.SymptomProfile.Clone(),
		AIContext:             t.a.AIContext.Clone(),
		QuestionsAsked:        len(t.history),
		QuestionsSaved:        t.a.Traversal.Saved(),
		QuestionsInModule:     t.askedIn(last.Module),
		ClosedModules:         append([]string(nil), t.a.Traversal.ClosedModules...),
		ModuleExitRecommended: exitRecommended,
		Candidates:            candidates,
	}
}
