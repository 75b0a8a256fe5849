package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coach-assessment-service/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details string          `json:"details"`
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestRESTAssessmentLifecycle(t *testing.T) {
	srv := newTestServer(t)
	tok := srv.token(t, "c1")

	status, resp := srv.do(t, http.MethodPost, "/api/v1/assessments", tok, "")
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	var started questionView
	require.NoError(t, json.Unmarshal(resp.Data, &started))
	require.NotNil(t, started.Question)
	assert.Equal(t, "d_gate", started.Question.ID)
	id := started.Assessment.ID
	base := "/api/v1/assessments/" + id

	status, resp = srv.do(t, http.MethodPost, base+"/responses", tok, `{"questionId":"d_gate","value":"no"}`)
	require.Equal(t, http.StatusOK, status)
	var turn domain.TurnResult
	require.NoError(t, json.Unmarshal(resp.Data, &turn))
	assert.Equal(t, "s_one", turn.NextQuestion.ID)

	status, resp = srv.do(t, http.MethodPost, base+"/responses", tok, `{"questionId":"s_one","value":11}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	status, resp = srv.do(t, http.MethodGet, base+"/question", tok, "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Data), `"s_one"`)

	status, _ = srv.do(t, http.MethodPost, base+"/pause", tok, "")
	require.Equal(t, http.StatusOK, status)
	status, _ = srv.do(t, http.MethodPost, base+"/responses", tok, `{"questionId":"s_one","value":4}`)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = srv.do(t, http.MethodPost, base+"/pause", tok, "")
	assert.Equal(t, http.StatusConflict, status)
	status, _ = srv.do(t, http.MethodPost, base+"/resume", tok, "")
	require.Equal(t, http.StatusOK, status)

	status, resp = srv.do(t, http.MethodPost, base+"/responses", tok, `{"questionId":"s_one","value":4}`)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &turn))
	assert.True(t, turn.Complete)
	assert.Equal(t, 2, turn.TotalQuestions)

	status, resp = srv.do(t, http.MethodGet, base, tok, "")
	require.Equal(t, http.StatusOK, status)
	var progress domain.Progress
	require.NoError(t, json.Unmarshal(resp.Data, &progress))
	assert.Equal(t, domain.StatusCompleted, progress.Status)
	assert.Equal(t, 2, progress.ResponsesCount)

	status, resp = srv.do(t, http.MethodGet, base+"/scores", tok, "")
	require.Equal(t, http.StatusOK, status)
	var scores struct {
		Scores []domain.Score `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &scores))
	require.Len(t, scores.Scores, 1)
	assert.Equal(t, 4.0, scores.Scores[0].Score)
}

func TestRESTRejectsMissingOrForeignIdentity(t *testing.T) {
	srv := newTestServer(t)
	id := srv.start(t, "c1")

	status, resp := srv.do(t, http.MethodGet, "/api/v1/assessments/"+id, "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, resp.Success)

	status, _ = srv.do(t, http.MethodGet, "/api/v1/assessments/"+id, "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = srv.do(t, http.MethodGet, "/api/v1/assessments/"+id, srv.token(t, "c2"), "")
	assert.Equal(t, http.StatusNotFound, status)

	status, resp = srv.do(t, http.MethodPost, "/api/v1/assessments/"+id+"/responses", srv.token(t, "c1"), `{"value":1}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "questionId: required", resp.Details)
}

func TestHealthzIsPublic(t *testing.T) {
	srv := newTestServer(t)
	status, resp := srv.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)
}

func TestJWTIdentity(t *testing.T) {
	id := NewJWTIdentity(testSecret, "coach-platform")
	tok, err := id.IssueToken("c9", time.Hour)
	require.NoError(t, err)
	got, err := id.ClientIDFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "c9", got)

	other := NewJWTIdentity("another-secret", "coach-platform")
	_, err = other.ClientIDFromToken(tok)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	expired := NewJWTIdentity(testSecret, "coach-platform")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.IssueToken("c9", time.Hour)
	require.NoError(t, err)
	_, err = id.ClientIDFromToken(old)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	// tokens minted elsewhere may only carry the subject
	subjectOnly, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "c10",
		Issuer:  "coach-platform",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	got, err = id.ClientIDFromToken(subjectOnly)
	require.NoError(t, err)
	assert.Equal(t, "c10", got)
}

func TestClassifyHidesDependencyErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", domain.ErrAssessmentNotAnswerable), http.StatusNotFound},
		{domain.NewInputError(domain.ErrInvalidAnswer, "value", "out of range"), http.StatusBadRequest},
		{domain.ErrSessionBusy, http.StatusConflict},
		{domain.ErrNothingToUndo, http.StatusConflict},
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{errors.New("dial tcp 10.0.0.1:5432: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, msg, _ := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.NotContains(t, msg, "10.0.0.1")
	}

	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"internal error"}`, rec.Body.String())
}

func TestRESTRejectsNonFiniteScaleValues(t *testing.T) {
	srv := newTestServer(t)
	tok := srv.token(t, "c1")
	id := srv.start(t, "c1")
	base := "/api/v1/assessments/" + id

	status, _ := srv.do(t, http.MethodPost, base+"/responses", tok, `{"questionId":"d_gate","value":"no"}`)
	require.Equal(t, http.StatusOK, status)

	for _, v := range []string{"NaN", "Inf", "-Inf"} {
		status, resp := srv.do(t, http.MethodPost, base+"/responses", tok, `{"questionId":"s_one","value":"`+v+`"}`)
		assert.Equal(t, http.StatusBadRequest, status, v)
		assert.False(t, resp.Success)
	}

	status, resp := srv.do(t, http.MethodGet, base, tok, "")
	require.Equal(t, http.StatusOK, status)
	var progress domain.Progress
	require.NoError(t, json.Unmarshal(resp.Data, &progress))
	assert.Equal(t, 1, progress.ResponsesCount)
}

func TestWriteJSONReportsUnencodablePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"score": math.NaN()})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"internal error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]int{"n": 1})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"n":1}}`, rec.Body.String())
}
