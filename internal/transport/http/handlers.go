package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"coach-assessment-service/internal/app"
	"coach-assessment-service/internal/domain"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 64 << 10

// AssessmentHandler exposes the assessment use cases over REST.
type AssessmentHandler struct {
	service *app.AssessmentService
}

func NewAssessmentHandler(service *app.AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{service: service}
}

type submitRequest struct {
	QuestionID string `json:"questionId"`
	Value      any    `json:"value"`
	Module     string `json:"module,omitempty"`
}

type questionView struct {
	Assessment domain.Assessment `json:"assessment"`
	Question   *domain.Question  `json:"question,omitempty"`
}

func viewOf(a domain.Assessment, q domain.Question) questionView {
	v := questionView{Assessment: a}
	if q.ID != "" {
		v.Question = &q
	}
	return v
}

// Start handles POST /assessments.
func (h *AssessmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	a, q, err := h.service.Start(r.Context(), ClientID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a, q))
}

// Progress handles GET /assessments/{id}.
func (h *AssessmentHandler) Progress(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Progress(r.Context(), ClientID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Question handles GET /assessments/{id}/question.
func (h *AssessmentHandler) Question(w http.ResponseWriter, r *http.Request) {
	q, err := h.service.CurrentQuestion(r.Context(), ClientID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.Question{"question": q})
}

// Submit handles POST /assessments/{id}/responses.
func (h *AssessmentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sub, err := decodeSubmission(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.service.SubmitAnswer(r.Context(), ClientID(r.Context()), mux.Vars(r)["id"], sub)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Previous handles POST /assessments/{id}/previous.
func (h *AssessmentHandler) Previous(w http.ResponseWriter, r *http.Request) {
	a, q, err := h.service.GoBack(r.Context(), ClientID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a, q))
}

func (h *AssessmentHandler) Pause(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Pause(r.Context(), ClientID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a, domain.Question{}))
}

func (h *AssessmentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	a, q, err := h.service.Resume(r.Context(), ClientID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a, q))
}

func (h *AssessmentHandler) Scores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.service.Scores(r.Context(), ClientID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Score{"scores": scores})
}

// decodeSubmission reads an answer body. Numbers are kept as json.Number so scale
// answers are validated on their literal text.
func decodeSubmission(body io.Reader) (domain.AnswerSubmission, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.AnswerSubmission{}, domain.NewInputError(domain.ErrInvalidAnswer, "body", "request body too large")
	}
	return parseSubmission(raw)
}

func parseSubmission(raw []byte) (domain.AnswerSubmission, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var req submitRequest
	if err := dec.Decode(&req); err != nil {
		return domain.AnswerSubmission{}, domain.NewInputError(domain.ErrInvalidAnswer, "body", "malformed JSON")
	}
	if req.QuestionID == "" {
		return domain.AnswerSubmission{}, domain.NewInputError(domain.ErrUnknownQuestion, "questionId", "required")
	}
	if req.Value == nil {
		return domain.AnswerSubmission{}, domain.NewInputError(domain.ErrInvalidAnswer, "value", "required")
	}
	return domain.AnswerSubmission{QuestionID: req.QuestionID, Value: req.Value, Module: req.Module}, nil
}
