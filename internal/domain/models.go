package domain

import (
	"strconv"
	"strings"
	"time"
)

// AnswerType describes how a question is answered and how its value is normalized.
type AnswerType string

const (
	AnswerScale          AnswerType = "scale"
	AnswerYesNo          AnswerType = "yes_no"
	AnswerMultipleChoice AnswerType = "multiple_choice"
	AnswerFrequency      AnswerType = "frequency"
	AnswerText           AnswerType = "text"
)

// Valid reports whether t is one of the known answer types.
func (t AnswerType) Valid() bool {
	switch t {
	case AnswerScale, AnswerYesNo, AnswerMultipleChoice, AnswerFrequency, AnswerText:
		return true
	}
	return false
}

// Numeric reports whether answers of this type are profiled as numbers.
func (t AnswerType) Numeric() bool {
	return t == AnswerScale
}

// Module is a body-system grouping of questions traversed as a unit.
type Module struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Question is an immutable catalog entry.
type Question struct {
	ID              string     `json:"id" yaml:"id"`
	Module          string     `json:"module" yaml:"module"`
	Prompt          string     `json:"prompt" yaml:"prompt"`
	AnswerType      AnswerType `json:"answerType" yaml:"answerType"`
	Options         []string   `json:"options,omitempty" yaml:"options,omitempty"`
	ScoringWeight   float64    `json:"scoringWeight,omitempty" yaml:"scoringWeight,omitempty"`
	Category        string     `json:"category,omitempty" yaml:"category,omitempty"`
	GroupID         string     `json:"groupId,omitempty" yaml:"groupId,omitempty"`
	CriticalGateway bool       `json:"criticalGateway,omitempty" yaml:"criticalGateway,omitempty"`
}

// QuestionGroup links a gateway question to the members it can make inapplicable.
type QuestionGroup struct {
	ID                string   `json:"id" yaml:"id"`
	GatewayQuestionID string   `json:"gatewayQuestionId" yaml:"gatewayQuestionId"`
	MemberQuestionIDs []string `json:"memberQuestionIds" yaml:"memberQuestionIds"`
	TriggerValues     []string `json:"triggerValues" yaml:"triggerValues"`
}

// ModuleExitRule configures early exit for one module.
type ModuleExitRule struct {
	Module                 string   `json:"module" yaml:"module"`
	MaxQuestionsIfNoIssues int      `json:"maxQuestionsIfNoIssues" yaml:"maxQuestionsIfNoIssues"`
	ExitThreshold          float64  `json:"exitThreshold" yaml:"exitThreshold"`
	CriticalGatewayIDs     []string `json:"criticalGatewayIds,omitempty" yaml:"criticalGatewayIds,omitempty"`
}

// Calculation names a scoring aggregation strategy.
type Calculation string

const (
	CalcSum      Calculation = "sum"
	CalcAverage  Calculation = "average"
	CalcWeighted Calculation = "weighted"
	CalcCustom   Calculation = "custom"
)

// ScoringRule aggregates a set of answers into one Score.
type ScoringRule struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Category    string             `json:"category,omitempty" yaml:"category,omitempty"`
	QuestionIDs []string           `json:"questionIds" yaml:"questionIds"`
	Calculation Calculation        `json:"calculation" yaml:"calculation"`
	Weights     map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	// Strategy names a built-in custom strategy; used only when Calculation is custom.
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// Score is the computed result of one ScoringRule.
type Score struct {
	RuleID          string   `json:"ruleId"`
	Name            string   `json:"name"`
	Category        string   `json:"category,omitempty"`
	Score           float64  `json:"score"`
	MaxScore        float64  `json:"maxScore"`
	Percentage      float64  `json:"percentage"`
	Band            string   `json:"band"`
	Interpretation  string   `json:"interpretation"`
	Recommendations []string `json:"recommendations"`
}

// Status is the externally visible lifecycle of an assessment.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusPaused     Status = "PAUSED"
)

// EngineState is the Next-Step Selector state persisted with the session.
type EngineState string

const (
	StateAwaitingAnswer   EngineState = "AWAITING_ANSWER"
	StateProcessing       EngineState = "PROCESSING"
	StateModuleTransition EngineState = "MODULE_TRANSITION"
	StateComplete         EngineState = "COMPLETE"
)

// SeverityFlag records a numeric answer at or above the severity threshold.
type SeverityFlag struct {
	QuestionID string  `json:"questionId"`
	Severity   float64 `json:"severity"`
	Module     string  `json:"module"`
}

// CategoryNote records an answer to a category-tagged question.
type CategoryNote struct {
	QuestionID string `json:"questionId"`
	Module     string `json:"module"`
	Value      string `json:"value"`
}

// AIContext is the accumulated signal passed to the decision step on every turn.
type AIContext struct {
	HighSeveritySymptoms []SeverityFlag             `json:"highSeveritySymptoms"`
	CategoryNotes        map[string][]CategoryNote `json:"categoryNotes,omitempty"`
	ModulesCompleted     []string                  `json:"modulesCompleted"`
	LastReasoning        string                    `json:"lastReasoning,omitempty"`
}

// Clone returns a deep copy.
func (c AIContext) Clone() AIContext {
	out := AIContext{
		HighSeveritySymptoms: append([]SeverityFlag(nil), c.HighSeveritySymptoms...),
		ModulesCompleted:     append([]string(nil), c.ModulesCompleted...),
		LastReasoning:        c.LastReasoning,
	}
	if c.CategoryNotes != nil {
		out.CategoryNotes = make(map[string][]CategoryNote, len(c.CategoryNotes))
		for k, v := range c.CategoryNotes {
			out.CategoryNotes[k] = append([]CategoryNote(nil), v...)
		}
	}
	return out
}

// SymptomProfile maps module -> question id -> numeric value.
type SymptomProfile map[string]map[string]float64

// Clone returns a deep copy.
func (p SymptomProfile) Clone() SymptomProfile {
	out := make(SymptomProfile, len(p))
	for module, answers := range p {
		inner := make(map[string]float64, len(answers))
		for id, v := range answers {
			inner[id] = v
		}
		out[module] = inner
	}
	return out
}

// Traversal is the engine bookkeeping that cannot be derived from responses alone.
type Traversal struct {
	// Suppressions maps a gateway question id to the members it suppressed.
	Suppressions map[string][]string `json:"suppressions,omitempty"`
	// ClosedModules lists modules that were exited, in order.
	ClosedModules []string `json:"closedModules,omitempty"`
	// ExitSavings maps a closed module to the questions counted as saved when it closed.
	ExitSavings map[string]int `json:"exitSavings,omitempty"`
	// ClosedBy maps a closed module to the question whose turn closed it.
	ClosedBy map[string]string `json:"closedBy,omitempty"`
}

// Clone returns a deep copy.
func (t Traversal) Clone() Traversal {
	out := Traversal{ClosedModules: append([]string(nil), t.ClosedModules...)}
	if t.Suppressions != nil {
		out.Suppressions = make(map[string][]string, len(t.Suppressions))
		for k, v := range t.Suppressions {
			out.Suppressions[k] = append([]string(nil), v...)
		}
	}
	if t.ExitSavings != nil {
		out.ExitSavings = make(map[string]int, len(t.ExitSavings))
		for k, v := range t.ExitSavings {
			out.ExitSavings[k] = v
		}
	}
	if t.ClosedBy != nil {
		out.ClosedBy = make(map[string]string, len(t.ClosedBy))
		for k, v := range t.ClosedBy {
			out.ClosedBy[k] = v
		}
	}
	return out
}

// Saved is the questions-saved counter derived from suppressions and module exits.
func (t Traversal) Saved() int {
	n := 0
	for _, members := range t.Suppressions {
		n += len(members)
	}
	for _, v := range t.ExitSavings {
		n += v
	}
	return n
}

// Suppressed reports whether questionID was suppressed by any gateway.
func (t Traversal) Suppressed(questionID string) bool {
	for _, members := range t.Suppressions {
		for _, id := range members {
			if id == questionID {
				return true
			}
		}
	}
	return false
}

// Closed reports whether module has been exited.
func (t Traversal) Closed(module string) bool {
	for _, m := range t.ClosedModules {
		if m == module {
			return true
		}
	}
	return false
}

// Assessment is the persisted per-client session record.
type Assessment struct {
	ID                string         `json:"id"`
	ClientID          string         `json:"clientId"`
	CatalogVersion    string         `json:"catalogVersion"`
	Status            Status         `json:"status"`
	State             EngineState    `json:"state"`
	CurrentModule     string         `json:"currentModule"`
	CurrentQuestionID string         `json:"currentQuestionId,omitempty"`
	QuestionsAsked    int            `json:"questionsAsked"`
	QuestionsSaved    int            `json:"questionsSaved"`
	QuestionsInModule int            `json:"questionsInModule"`
	SymptomProfile    SymptomProfile `json:"symptomProfile"`
	AIContext         AIContext      `json:"aiContext"`
	Traversal         Traversal      `json:"traversal"`
	StartedAt         time.Time      `json:"startedAt"`
	LastActiveAt      time.Time      `json:"lastActiveAt"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	// Version is bumped on every persisted change and guards concurrent writers.
	Version int `json:"-"`
}

// Clone returns a deep copy so callers can mutate without touching the stored value.
func (a Assessment) Clone() Assessment {
	out := a
	out.SymptomProfile = a.SymptomProfile.Clone()
	out.AIContext = a.AIContext.Clone()
	out.Traversal = a.Traversal.Clone()
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// ClientResponse is an append-only answer record.
type ClientResponse struct {
	ID            string     `json:"id"`
	AssessmentID  string     `json:"assessmentId"`
	QuestionID    string     `json:"questionId"`
	QuestionText  string     `json:"questionText"`
	Module        string     `json:"module"`
	ResponseType  AnswerType `json:"responseType"`
	ResponseValue string     `json:"responseValue"`
	AnsweredAt    time.Time  `json:"answeredAt"`
}

// Numeric parses the stored value as a number.
func (r ClientResponse) Numeric() (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.ResponseValue), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Progress is the read model returned by the progress endpoint.
type Progress struct {
	Assessment     Assessment `json:"assessment"`
	ResponsesCount int        `json:"responsesCount"`
	QuestionsAsked int        `json:"questionsAsked"`
	QuestionsSaved int        `json:"questionsSaved"`
	CurrentModule  string     `json:"currentModule"`
	Status         Status     `json:"status"`
}

// AnswerSubmission is a client's answer to the active question.
type AnswerSubmission struct {
	QuestionID string
	Value      any
	Module     string
}

// TurnResult is the outcome of one processed answer.
type TurnResult struct {
	Complete          bool      `json:"assessmentComplete,omitempty"`
	NextQuestion      *Question `json:"nextQuestion,omitempty"`
	Module            string    `json:"module,omitempty"`
	QuestionsInModule *int      `json:"questionsInModule,omitempty"`
	QuestionsSaved    int       `json:"questionsSaved"`
	TotalQuestions    int       `json:"totalQuestions,omitempty"`
	AIReasoning       string    `json:"aiReasoning,omitempty"`
}

// Built-in custom scoring strategies, resolved by name.
const (
	StrategyPeak        = "peak"
	StrategySevereCount = "severe_count"
)

// KnownStrategy reports whether name is a built-in custom scoring strategy.
func KnownStrategy(name string) bool {
	return name == StrategyPeak || name == StrategySevereCount
}
