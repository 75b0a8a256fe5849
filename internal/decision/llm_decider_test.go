package decision

import (
	"context"
	"encoding/json"
	"testing"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
	"coach-assessment-service/internal/engine"
	"coach-assessment-service/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleRequest() engine.DecisionRequest {
	return engine.DecisionRequest{
		AssessmentID:   "a-1",
		CurrentModule:  "digestive",
		LastQuestionID: "dig_pain",
		Responses: []domain.ClientResponse{
			{QuestionID: "dig_pain", QuestionText: "How severe is abdominal pain?", Module: "digestive", ResponseValue: "8"},
		},
		SymptomProfile: domain.SymptomProfile{"digestive": {"dig_pain": 8}},
		AIContext: domain.AIContext{
			HighSeveritySymptoms: []domain.SeverityFlag{{QuestionID: "dig_pain", Severity: 8, Module: "digestive"}},
		},
		QuestionsAsked: 1,
		Candidates: []engine.Candidate{
			{ID: "dig_reflux", Module: "digestive", Prompt: "How severe is reflux?", AnswerType: domain.AnswerScale},
			{ID: "cv_chest_pain", Module: "cardiovascular", Prompt: "Chest pain?", AnswerType: domain.AnswerYesNo, CriticalGateway: true},
		},
	}
}

func TestDecideParsesNextQuestion(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`{
		"nextQuestionId": "dig_reflux", "assessmentComplete": false, "nextModule": "digestive",
		"questionsInModule": 2, "questionsSaved": 0, "reasoning": "Pain is severe; check reflux."}`)})
	d := NewLLMDecider(mock, DefaultConfig(), zap.NewNop())

	got, err := d.Decide(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "dig_reflux", got.NextQuestionID)
	assert.Equal(t, "digestive", got.NextModule)
	assert.False(t, got.Complete)
	require.NotNil(t, got.QuestionsInModule)
	assert.Equal(t, 2, *got.QuestionsInModule)
	assert.NoError(t, got.Validate(sampleRequest()))

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, Schema, calls[0].Schema)
	prompt := calls[0].Messages[0].Content
	assert.Contains(t, prompt, "dig_reflux [digestive] (scale) How severe is reflux?")
	assert.Contains(t, prompt, "cv_chest_pain [cardiovascular, critical]")
	assert.Contains(t, prompt, "dig_pain (digestive): 8")
}

func TestDecideParsesCompletion(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`{
		"nextQuestionId": null, "assessmentComplete": true, "nextModule": null,
		"questionsInModule": null, "questionsSaved": null, "reasoning": "Nothing left to learn."}`)})
	d := NewLLMDecider(mock, DefaultConfig(), zap.NewNop())

	got, err := d.Decide(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, got.Complete)
	assert.Empty(t, got.NextQuestionID)
	assert.Nil(t, got.QuestionsSaved)
}

func TestDecideRejectsMalformedPayload(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`{"next":"dig_reflux"}`)})
	d := NewLLMDecider(mock, DefaultConfig(), zap.NewNop())

	_, err := d.Decide(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, domain.ErrInvalidDecision)
}

func TestDecidePropagatesProviderFailure(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Err: &llm.ErrProviderUnavailable{}})
	d := NewLLMDecider(mock, DefaultConfig(), zap.NewNop())

	_, err := d.Decide(context.Background(), sampleRequest())
	var unavailable *llm.ErrProviderUnavailable
	assert.ErrorAs(t, err, &unavailable)
	assert.NotErrorIs(t, err, domain.ErrInvalidDecision)
}

func TestRenderPromptKeepsMostRecentResponses(t *testing.T) {
	req := sampleRequest()
	req.Responses = nil
	for _, id := range []string{"q1", "q2", "q3"} {
		req.Responses = append(req.Responses, domain.ClientResponse{QuestionID: id, Module: "m", ResponseValue: "1"})
	}

	prompt, err := renderPrompt(req, 2)
	require.NoError(t, err)
	assert.NotContains(t, prompt, "] q1:")
	assert.Contains(t, prompt, "] q2:")
	assert.Contains(t, prompt, "] q3:")
}

func TestEngineDrivenByModelDecisions(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`{
		"nextQuestionId": "dig_pain", "assessmentComplete": false, "nextModule": "digestive",
		"questionsInModule": null, "questionsSaved": null, "reasoning": "Start with pain."}`)})
	e := engine.New(NewLLMDecider(mock, DefaultConfig(), zap.NewNop()), engine.Config{})

	a, err := e.Start(cat, "client-1")
	require.NoError(t, err)
	require.Equal(t, "dig_blood_stool", a.CurrentQuestionID)

	// The critical gateway opened the session without the model; the next pick is the model's.
	turn, err := e.Process(context.Background(), cat, a, nil, domain.AnswerSubmission{QuestionID: "dig_blood_stool", Value: "no"})
	require.NoError(t, err)
	assert.Equal(t, "dig_pain", turn.Result.NextQuestion.ID)
	assert.Equal(t, "Start with pain.", turn.Result.AIReasoning)
	assert.Equal(t, 1, mock.CallCount())
}
