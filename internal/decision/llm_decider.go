// Package decision adapts a language model into the engine's next-step decider.
package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"

	"coach-assessment-service/internal/domain"
	"coach-assessment-service/internal/engine"
	"coach-assessment-service/internal/llm"
	"go.uber.org/zap"
)

// Config tunes the model call.
type Config struct {
	MaxTokens   int
	Temperature float64
	// RecentResponses caps how much history is rendered into the prompt.
	RecentResponses int
}

func DefaultConfig() Config {
	return Config{MaxTokens: 512, Temperature: 0.2, RecentResponses: 25}
}

// LLMDecider asks a model to pick the next question from the engine's candidates.
type LLMDecider struct {
	provider llm.Provider
	cfg      Config
	logger   *zap.Logger
}

func NewLLMDecider(provider llm.Provider, cfg Config, logger *zap.Logger) *LLMDecider {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.RecentResponses <= 0 {
		cfg.RecentResponses = DefaultConfig().RecentResponses
	}
	return &LLMDecider{provider: provider, cfg: cfg, logger: logger.Named("decision")}
}

// decisionOutput is the raw model payload.
type decisionOutput struct {
	NextQuestionID     *string `json:"nextQuestionId"`
	AssessmentComplete bool    `json:"assessmentComplete"`
	NextModule         *string `json:"nextModule"`
	QuestionsInModule  *int    `json:"questionsInModule"`
	QuestionsSaved     *int    `json:"questionsSaved"`
	Reasoning          string  `json:"reasoning"`
}

// Decide implements engine.Decider. Malformed payloads wrap domain.ErrInvalidDecision;
// the engine validates reachability afterwards.
func (d *LLMDecider) Decide(ctx context.Context, req engine.DecisionRequest) (engine.Decision, error) {
	ctx = llm.WithPurpose(ctx, "next-step")

	prompt, err := renderPrompt(req, d.cfg.RecentResponses)
	if err != nil {
		return engine.Decision{}, fmt.Errorf("build next-step prompt: %w", err)
	}

	resp, err := d.provider.Generate(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Schema:      Schema,
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
	})
	if err != nil {
		var invalid *llm.ErrInvalidResponse
		if errors.As(err, &invalid) {
			return engine.Decision{}, fmt.Errorf("%w: %v", domain.ErrInvalidDecision, err)
		}
		return engine.Decision{}, fmt.Errorf("llm next-step: %w", err)
	}

	var out decisionOutput
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return engine.Decision{}, fmt.Errorf("%w: decode payload: %v", domain.ErrInvalidDecision, err)
	}

	decision := engine.Decision{
		Complete:          out.AssessmentComplete,
		QuestionsInModule: out.QuestionsInModule,
		QuestionsSaved:    out.QuestionsSaved,
		Reasoning:         out.Reasoning,
	}
	if out.NextQuestionID != nil {
		decision.NextQuestionID = *out.NextQuestionID
	}
	if out.NextModule != nil {
		decision.NextModule = *out.NextModule
	}

	if out.QuestionsSaved != nil && *out.QuestionsSaved != req.QuestionsSaved {
		d.logger.Debug("model questionsSaved differs from engine count",
			zap.String("assessment_id", req.AssessmentID),
			zap.Int("model", *out.QuestionsSaved),
			zap.Int("engine", req.QuestionsSaved),
		)
	}
	return decision, nil
}

const systemPrompt = `You steer an adaptive health-intake questionnaire for a wellness coach. After each answer you choose the single most informative next question, or decide the assessment is complete.

Rules:
- Only choose a question id from the candidate list. Never invent ids.
- Prefer staying in the current module while its remaining questions are relevant. When the module is recommended for exit or no longer relevant, move to the next module.
- Follow up on high-severity symptoms before moving on.
- Set assessmentComplete to true and nextQuestionId to null only when the remaining candidates add no meaningful information.
- nextModule must be the module of the chosen question.
- Keep reasoning to one sentence a coach could read.`

var promptTemplate = template.Must(template.New("next-step").Funcs(template.FuncMap{
	"json": func(v any) string {
		b, _ := json.Marshal(v)
		return string(b)
	},
}).Parse(`Current module: {{.Req.CurrentModule}}
Last answered question: {{.Req.LastQuestionID}}
Questions asked: {{.Req.QuestionsAsked}} (in this module: {{.Req.QuestionsInModule}})
Questions saved so far: {{.Req.QuestionsSaved}}
Module exit recommended: {{.Req.ModuleExitRecommended}}
Modules completed: {{json .Req.AIContext.ModulesCompleted}}
Closed modules: {{json .Req.ClosedModules}}

High-severity symptoms:
{{range .Req.AIContext.HighSeveritySymptoms}}- {{.QuestionID}} ({{.Module}}): {{.Severity}}
{{else}}- none
{{end}}
Symptom profile: {{json .Req.SymptomProfile}}
{{if .Req.AIContext.CategoryNotes}}Category notes: {{json .Req.AIContext.CategoryNotes}}
{{end}}
Recent answers (oldest first):
{{range .Recent}}- [{{.Module}}] {{.QuestionID}}: {{.QuestionText}} => {{.ResponseValue}}
{{end}}
Candidate questions:
{{range .Req.Candidates}}- {{.ID}} [{{.Module}}{{if .CriticalGateway}}, critical{{end}}] ({{.AnswerType}}) {{.Prompt}}
{{end}}`))

func renderPrompt(req engine.DecisionRequest, recent int) (string, error) {
	responses := req.Responses
	if len(responses) > recent {
		responses = responses[len(responses)-recent:]
	}
	var buf bytes.Buffer
	err := promptTemplate.Execute(&buf, struct {
		Req    engine.DecisionRequest
		Recent []domain.ClientResponse
	}{Req: req, Recent: responses})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Schema is the structured-output contract for the next-step payload.
var Schema = &llm.Schema{
	Name:        "next-step-decision",
	Description: "The next question to ask, or completion of the assessment",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nextQuestionId": map[string]any{
				"type":        []any{"string", "null"},
				"description": "Candidate question id to ask next, null when complete",
			},
			"assessmentComplete": map[string]any{"type": "boolean"},
			"nextModule": map[string]any{
				"type":        []any{"string", "null"},
				"description": "Module of the chosen question",
			},
			"questionsInModule": map[string]any{"type": []any{"integer", "null"}, "minimum": 0},
			"questionsSaved":    map[string]any{"type": []any{"integer", "null"}, "minimum": 0},
			"reasoning":         map[string]any{"type": "string"},
		},
		"required":             []any{"nextQuestionId", "assessmentComplete", "nextModule", "questionsInModule", "questionsSaved", "reasoning"},
		"additionalProperties": false,
	},
}
