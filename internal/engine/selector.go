package engine

import (
	"context"
	"fmt"
	"time"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
	"github.com/google/uuid"
)

const defaultDecisionTimeout = 20 * time.Second

// Config tunes an Engine. Zero values select defaults.
type Config struct {
	DecisionTimeout time.Duration
	Now             func() time.Time
	NewID           func() string
}

// Engine is the next-step selector. It never persists anything: every method takes the
// session as loaded and returns the state the caller must commit.
type Engine struct {
	decider Decider
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

func New(decider Decider, cfg Config) *Engine {
	if decider == nil {
		decider = CatalogDecider{}
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = defaultDecisionTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{decider: decider, timeout: cfg.DecisionTimeout, now: cfg.Now, newID: cfg.NewID}
}

// Turn is the uncommitted outcome of one answer.
type Turn struct {
	Assessment domain.Assessment
	Response   domain.ClientResponse
	Result     domain.TurnResult
	// Decision is what drove the turn; Deterministic is true when no decider was called.
	Decision      Decision
	Deterministic bool
	// Transitions lists the engine states passed through, in order.
	Transitions   []domain.EngineState
	ClosedModules []string
}

// Start creates a session positioned on the catalog's first question.
func (e *Engine) Start(cat *catalog.Catalog, clientID string) (domain.Assessment, error) {
	first, ok := cat.FirstQuestion()
	if !ok {
		return domain.Assessment{}, fmt.Errorf("%w: catalog %s has no questions", domain.ErrCatalogNotFound, cat.Version())
	}
	now := e.now()
	return domain.Assessment{
		ID:                e.newID(),
		ClientID:          clientID,
		CatalogVersion:    cat.Version(),
		Status:            domain.StatusInProgress,
		State:             domain.StateAwaitingAnswer,
		CurrentModule:     first.Module,
		CurrentQuestionID: first.ID,
		SymptomProfile:    domain.SymptomProfile{},
		AIContext: domain.AIContext{
			HighSeveritySymptoms: []domain.SeverityFlag{},
			ModulesCompleted:     []string{},
		},
		StartedAt:    now,
		LastActiveAt: now,
	}, nil
}

// Process runs one answer through skip logic, profiling, the exit policy and the decider.
// On error the caller's session is untouched and nothing must be persisted.
func (e *Engine) Process(ctx context.Context, cat *catalog.Catalog, current domain.Assessment, history []domain.ClientResponse, sub domain.AnswerSubmission) (Turn, error) {
	if current.Status != domain.StatusInProgress {
		return Turn{}, domain.ErrAssessmentNotAnswerable
	}
	q, ok := cat.Question(sub.QuestionID)
	if !ok {
		return Turn{}, domain.NewInputError(domain.ErrUnknownQuestion, "questionId", fmt.Sprintf("%q is not in catalog %s", sub.QuestionID, cat.Version()))
	}
	for _, r := range history {
		if r.QuestionID == q.ID {
			return Turn{}, fmt.Errorf("%w: %s", domain.ErrDuplicateResponse, q.ID)
		}
	}
	if q.ID != current.CurrentQuestionID {
		return Turn{}, domain.NewInputError(domain.ErrQuestionNotActive, "questionId", fmt.Sprintf("active question is %q", current.CurrentQuestionID))
	}
	if sub.Module != "" && sub.Module != q.Module {
		return Turn{}, domain.NewInputError(domain.ErrInvalidAnswer, "module", fmt.Sprintf("question %s belongs to module %s", q.ID, q.Module))
	}
	settings := cat.Settings()
	value, err := NormalizeAnswer(q, sub.Value, settings)
	if err != nil {
		return Turn{}, err
	}

	now := e.now()
	resp := domain.ClientResponse{
		ID:            e.newID(),
		AssessmentID:  current.ID,
		QuestionID:    q.ID,
		QuestionText:  q.Prompt,
		Module:        q.Module,
		ResponseType:  q.AnswerType,
		ResponseValue: value,
		AnsweredAt:    now,
	}

	next := current.Clone()
	next.State = domain.StateProcessing
	if next.SymptomProfile == nil {
		next.SymptomProfile = domain.SymptomProfile{}
	}
	t := newTracker(cat, &next, append(append([]domain.ClientResponse(nil), history...), resp))
	next.QuestionsAsked = len(t.history)
	turn := Turn{Response: resp, Transitions: []domain.EngineState{domain.StateProcessing}}

	if group, ok := cat.GroupForGateway(q.ID); ok {
		var suppressed []string
		for _, id := range ResolveSkips(value, group) {
			if cat.IsCritical(id) || !t.askable(id) {
				continue
			}
			suppressed = append(suppressed, id)
		}
		if len(suppressed) > 0 {
			if next.Traversal.Suppressions == nil {
				next.Traversal.Suppressions = map[string][]string{}
			}
			next.Traversal.Suppressions[q.ID] = suppressed
		}
	}

	if v, ok := RecordAnswer(next.SymptomProfile, q, value); ok {
		FlagIfSevere(&next.AIContext, q, v, settings.SeverityThreshold)
	}
	NoteCategory(&next.AIContext, q, value)

	module := q.Module
	asked, negative, critical := t.moduleStats(module)
	exit := NewExitPolicy(cat).ShouldExitModule(module, asked, negative, critical)
	if exit || len(t.askableIn(module)) == 0 {
		if t.closeModule(module, q.ID) {
			turn.ClosedModules = append(turn.ClosedModules, module)
		}
	}

	d, deterministic, err := e.decide(ctx, t, q, exit)
	if err != nil {
		return Turn{}, err
	}
	turn.Decision = d
	turn.Deterministic = deterministic

	if d.Complete {
		if t.closeModule(module, q.ID) {
			turn.ClosedModules = append(turn.ClosedModules, module)
		}
		next.Status = domain.StatusCompleted
		next.State = domain.StateComplete
		next.CompletedAt = &now
		next.CurrentQuestionID = ""
		next.QuestionsSaved = next.Traversal.Saved()
		next.QuestionsInModule = t.askedIn(next.CurrentModule)
		turn.Result = domain.TurnResult{
			Complete:       true,
			TotalQuestions: next.QuestionsAsked,
			QuestionsSaved: next.QuestionsSaved,
			AIReasoning:    d.Reasoning,
		}
	} else {
		nq, _ := cat.Question(d.NextQuestionID)
		if nq.Module != module {
			turn.Transitions = append(turn.Transitions, domain.StateModuleTransition)
			if t.closeModule(module, q.ID) {
				turn.ClosedModules = append(turn.ClosedModules, module)
			}
			next.CurrentModule = nq.Module
		}
		next.State = domain.StateAwaitingAnswer
		next.CurrentQuestionID = nq.ID
		next.QuestionsSaved = next.Traversal.Saved()
		inModule := t.askedIn(nq.Module)
		next.QuestionsInModule = inModule
		turn.Result = domain.TurnResult{
			NextQuestion:      &nq,
			Module:            nq.Module,
			QuestionsInModule: &inModule,
			QuestionsSaved:    next.QuestionsSaved,
			AIReasoning:       d.Reasoning,
		}
	}
	turn.Transitions = append(turn.Transitions, next.State)
	next.AIContext.LastReasoning = d.Reasoning
	next.LastActiveAt = now
	turn.Assessment = next
	return turn, nil
}

func (e *Engine) decide(ctx context.Context, t *tracker, last domain.Question, exitRecommended bool) (Decision, bool, error) {
	candidates := t.candidates()
	if len(candidates) == 0 {
		return Decision{Complete: true, Reasoning: "every question has been answered or skipped"}, true, nil
	}
	if !t.a.Traversal.Closed(last.Module) {
		if id, ok := t.pendingCritical(last.Module); ok {
			return Decision{NextQuestionID: id, NextModule: last.Module, Reasoning: "critical gateway must be asked"}, true, nil
		}
	}

	req := t.request(last, exitRecommended, candidates)
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	d, err := e.decider.Decide(callCtx, req)
	if err != nil {
		return Decision{}, false, fmt.Errorf("next-step decision: %w", err)
	}
	if err := d.Validate(req); err != nil {
		return Decision{}, false, err
	}
	return t.enforceCriticalGateways(d), false, nil
}

// Rewind undoes the most recent answer. It returns the new session state and the
// response the caller must delete in the same unit of work.
func (e *Engine) Rewind(cat *catalog.Catalog, current domain.Assessment, history []domain.ClientResponse) (domain.Assessment, domain.ClientResponse, error) {
	if current.Status != domain.StatusInProgress {
		return domain.Assessment{}, domain.ClientResponse{}, domain.ErrAssessmentNotAnswerable
	}
	if len(history) == 0 {
		return domain.Assessment{}, domain.ClientResponse{}, domain.ErrNothingToUndo
	}
	last := history[len(history)-1]

	next := current.Clone()
	delete(next.Traversal.Suppressions, last.QuestionID)
	for module, by := range next.Traversal.ClosedBy {
		if by == last.QuestionID {
			reopenModule(&next, module)
		}
	}
	if q, ok := cat.Question(last.QuestionID); ok {
		ForgetAnswer(next.SymptomProfile, q)
	} else if answers, ok := next.SymptomProfile[last.Module]; ok {
		delete(answers, last.QuestionID)
	}

	t := newTracker(cat, &next, history[:len(history)-1])
	next.QuestionsAsked = len(t.history)
	next.QuestionsSaved = next.Traversal.Saved()
	next.CurrentModule = last.Module
	next.CurrentQuestionID = last.QuestionID
	next.QuestionsInModule = t.askedIn(last.Module)
	next.State = domain.StateAwaitingAnswer
	next.LastActiveAt = e.now()
	return next, last, nil
}

// Pause moves an in-progress session to PAUSED, keeping all state.
func (e *Engine) Pause(current domain.Assessment) (domain.Assessment, error) {
	if current.Status != domain.StatusInProgress {
		return domain.Assessment{}, fmt.Errorf("%w: cannot pause a %s assessment", domain.ErrInvalidTransition, current.Status)
	}
	next := current.Clone()
	next.Status = domain.StatusPaused
	next.LastActiveAt = e.now()
	return next, nil
}

// Resume re-enters AWAITING_ANSWER using only the persisted session and its responses.
// Counters are recomputed from history; the active question is kept while it is still
// askable and otherwise taken from the fixed ordering.
func (e *Engine) Resume(cat *catalog.Catalog, current domain.Assessment, history []domain.ClientResponse) (domain.Assessment, error) {
	if current.Status != domain.StatusPaused {
		return domain.Assessment{}, fmt.Errorf("%w: cannot resume a %s assessment", domain.ErrInvalidTransition, current.Status)
	}
	next := current.Clone()
	if next.SymptomProfile == nil {
		next.SymptomProfile = domain.SymptomProfile{}
	}
	t := newTracker(cat, &next, history)
	now := e.now()

	next.Status = domain.StatusInProgress
	next.State = domain.StateAwaitingAnswer
	next.QuestionsAsked = len(history)
	next.QuestionsSaved = next.Traversal.Saved()
	if !t.askable(next.CurrentQuestionID) {
		id, ok := t.firstAskable(next.CurrentModule)
		if !ok {
			next.Status = domain.StatusCompleted
			next.State = domain.StateComplete
			next.CompletedAt = &now
			next.CurrentQuestionID = ""
		} else {
			q, _ := cat.Question(id)
			next.CurrentQuestionID = id
			next.CurrentModule = q.Module
		}
	}
	next.QuestionsInModule = t.askedIn(next.CurrentModule)
	next.LastActiveAt = now
	return next, nil
}

// CurrentQuestion returns the active question of an in-progress session.
func CurrentQuestion(cat *catalog.Catalog, a domain.Assessment) (domain.Question, error) {
	if a.Status != domain.StatusInProgress || a.CurrentQuestionID == "" {
		return domain.Question{}, domain.ErrAssessmentNotAnswerable
	}
	q, ok := cat.Question(a.CurrentQuestionID)
	if !ok {
		return domain.Question{}, fmt.Errorf("%w: active question %s missing from catalog %s", domain.ErrCatalogNotFound, a.CurrentQuestionID, cat.Version())
	}
	return q, nil
}

// Scores computes every catalog scoring rule over history.
func Scores(cat *catalog.Catalog, history []domain.ClientResponse) []domain.Score {
	return NewScorer(cat.Settings()).ComputeScores(cat.ScoringRules(), history)
}

func reopenModule(a *domain.Assessment, module string) {
	a.Traversal.ClosedModules = removeLast(a.Traversal.ClosedModules, module)
	delete(a.Traversal.ExitSavings, module)
	delete(a.Traversal.ClosedBy, module)
	a.AIContext.ModulesCompleted = removeLast(a.AIContext.ModulesCompleted, module)
}

func removeLast(list []string, v string) []string {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] == v {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
