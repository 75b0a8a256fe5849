package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"coach-assessment-service/internal/domain"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

var internalErrorBody = []byte(`{"success":false,"error":"internal error"}` + "\n")

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status, message, details := classify(err)
	writeEnvelope(w, status, envelope{Error: message, Details: details})
}

// writeEnvelope encodes before committing the status so an unencodable payload becomes a 500
// instead of an empty success.
func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		status, body = http.StatusInternalServerError, internalErrorBody
	} else {
		body = append(body, '\n')
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// classify maps an error to a status and client-safe text. Dependency failures never
// leak their cause.
func classify(err error) (int, string, string) {
	var input *domain.InputError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, domain.ErrUnauthenticated.Error(), ""
	case errors.As(err, &input):
		return http.StatusBadRequest, input.Err.Error(), detail(input)
	case errors.Is(err, domain.ErrUnknownQuestion),
		errors.Is(err, domain.ErrQuestionNotActive),
		errors.Is(err, domain.ErrInvalidAnswer):
		return http.StatusBadRequest, err.Error(), ""
	case errors.Is(err, domain.ErrAssessmentNotFound),
		errors.Is(err, domain.ErrAssessmentNotAnswerable):
		return http.StatusNotFound, err.Error(), ""
	case errors.Is(err, domain.ErrDuplicateResponse),
		errors.Is(err, domain.ErrSessionBusy),
		errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, domain.ErrNothingToUndo),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, err.Error(), ""
	default:
		return http.StatusInternalServerError, "internal error", ""
	}
}

func detail(e *domain.InputError) string {
	if e.Field == "" {
		return e.Detail
	}
	return e.Field + ": " + e.Detail
}
