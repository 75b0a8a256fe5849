package http

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"coach-assessment-service/internal/app"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter wires the REST and websocket surfaces. Everything except the health check
// requires a client token.
func NewRouter(service *app.AssessmentService, identity *JWTIdentity, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := NewAssessmentHandler(service)
	ws := NewWSHandler(service, logger)

	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.Use(requestLogger(logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	r.Handle("/ws", identity.Require(http.HandlerFunc(ws.ServeWS))).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1/assessments").Subrouter()
	api.Use(identity.Require)
	api.HandleFunc("", h.Start).Methods(http.MethodPost)
	api.HandleFunc("/{id}", h.Progress).Methods(http.MethodGet)
	api.HandleFunc("/{id}/question", h.Question).Methods(http.MethodGet)
	api.HandleFunc("/{id}/responses", h.Submit).Methods(http.MethodPost)
	api.HandleFunc("/{id}/previous", h.Previous).Methods(http.MethodPost)
	api.HandleFunc("/{id}/pause", h.Pause).Methods(http.MethodPost)
	api.HandleFunc("/{id}/resume", h.Resume).Methods(http.MethodPost)
	api.HandleFunc("/{id}/scores", h.Scores).Methods(http.MethodGet)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack is needed for the websocket upgrade to pass through the logger.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func requestLogger(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
