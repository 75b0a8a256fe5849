package engine

import (
	"context"
	"fmt"

	"coach-assessment-service/internal/domain"
)

// Decider is the external next-step decision service.
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
}

// Candidate is a question the decider may choose.
type Candidate struct {
	ID              string            `json:"id"`
	Module          string            `json:"module"`
	Prompt          string            `json:"prompt"`
	AnswerType      domain.AnswerType `json:"answerType"`
	CriticalGateway bool              `json:"criticalGateway,omitempty"`
}

// DecisionRequest is everything the decider sees on one turn.
type DecisionRequest struct {
	AssessmentID          string                  `json:"assessmentId"`
	CurrentModule         string                  `json:"currentModule"`
	LastQuestionID        string                  `json:"lastQuestionId"`
	Responses             []domain.ClientResponse `json:"responses"`
	SymptomProfile        domain.SymptomProfile   `json:"symptomProfile"`
	AIContext             domain.AIContext        `json:"aiContext"`
	QuestionsAsked        int                     `json:"questionsAsked"`
	QuestionsSaved        int                     `json:"questionsSaved"`
	QuestionsInModule     int                     `json:"questionsInModule"`
	ClosedModules         []string                `json:"closedModules"`
	ModuleExitRecommended bool                    `json:"moduleExitRecommended"`
	Candidates            []Candidate             `json:"candidates"`
}

// Decision is the tagged result of a Decider: either NextQuestionID is set or Complete
// is true, never both.
type Decision struct {
	NextQuestionID    string `json:"nextQuestionId,omitempty"`
	Complete          bool   `json:"assessmentComplete,omitempty"`
	NextModule        string `json:"nextModule,omitempty"`
	QuestionsInModule *int   `json:"questionsInModule,omitempty"`
	QuestionsSaved    *int   `json:"questionsSaved,omitempty"`
	Reasoning         string `json:"reasoning,omitempty"`
}

// Validate checks d against the candidates of req. Any violation wraps
// domain.ErrInvalidDecision.
func (d Decision) Validate(req DecisionRequest) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrInvalidDecision, fmt.Sprintf(format, args...))
	}

	if d.Complete == (d.NextQuestionID != "") {
		return invalid("exactly one of nextQuestionId or assessmentComplete must be set")
	}
	if d.QuestionsInModule != nil && *d.QuestionsInModule < 0 {
		return invalid("questionsInModule is negative")
	}
	if d.QuestionsSaved != nil && *d.QuestionsSaved < 0 {
		return invalid("questionsSaved is negative")
	}
	if d.Complete {
		if d.NextModule != "" {
			return invalid("nextModule set on a completing decision")
		}
		return nil
	}

	for _, c := range req.Candidates {
		if c.ID != d.NextQuestionID {
			continue
		}
		if d.NextModule != "" && d.NextModule != c.Module {
			return invalid("nextModule %q does not match question %s in module %q", d.NextModule, c.ID, c.Module)
		}
		return nil
	}
	return invalid("question %q is not askable", d.NextQuestionID)
}

// CatalogDecider walks the fixed catalog ordering: the rest of the current module first,
// then the following modules. It never errors.
type CatalogDecider struct{}

func (CatalogDecider) Decide(_ context.Context, req DecisionRequest) (Decision, error) {
	if len(req.Candidates) == 0 {
		return Decision{Complete: true, Reasoning: "no askable questions remain"}, nil
	}
	for _, c := range req.Candidates {
		if c.Module == req.CurrentModule {
			return Decision{NextQuestionID: c.ID, NextModule: c.Module, Reasoning: "next question in module order"}, nil
		}
	}
	c := req.Candidates[0]
	return Decision{NextQuestionID: c.ID, NextModule: c.Module, Reasoning: fmt.Sprintf("module %s has no remaining questions", req.CurrentModule)}, nil
}
