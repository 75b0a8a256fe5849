package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"coach-assessment-service/internal/app"
	"coach-assessment-service/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler runs an assessment over a websocket: the client sends answers and
// navigation commands and receives questions, turn results and progress updates.
type WSHandler struct {
	service  *app.AssessmentService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AssessmentService, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func errorMessage(err error) outboundMessage {
	_, msg, details := classify(err)
	return outboundMessage{Type: "error", Payload: errorPayload{Message: msg, Details: details}}
}

// ServeWS expects an authenticated request with an assessmentId query parameter.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	assessmentID := r.URL.Query().Get("assessmentId")
	if assessmentID == "" {
		writeError(w, domain.NewInputError(domain.ErrAssessmentNotFound, "assessmentId", "required"))
		return
	}
	ctx := r.Context()
	clientID := ClientID(ctx)

	// Ownership is checked before the upgrade so failures get a plain HTTP status.
	updates, cancel, err := h.service.Subscribe(ctx, clientID, assessmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// gorilla connections allow one concurrent writer, so all output goes through send.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write failed", zap.String("assessment_id", assessmentID), zap.Error(err))
				// unblocks the reader
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: "progress", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	if q, err := h.service.CurrentQuestion(ctx, clientID, assessmentID); err == nil {
		send <- outboundMessage{Type: "question", Payload: map[string]domain.Question{"question": q}}
	}

read:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.logger.Debug("ws read ended", zap.String("assessment_id", assessmentID), zap.Error(err))
			}
			break
		}
		reply := h.handle(r, clientID, assessmentID, inbound)
		select {
		case send <- reply:
		case <-writerDone:
			break read
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) handle(r *http.Request, clientID, assessmentID string, inbound inboundMessage) outboundMessage {
	ctx := r.Context()
	switch inbound.Type {
	case "answer":
		sub, err := parseSubmission(inbound.Payload)
		if err != nil {
			return errorMessage(err)
		}
		res, err := h.service.SubmitAnswer(ctx, clientID, assessmentID, sub)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage{Type: "turn", Payload: res}
	case "previous":
		a, q, err := h.service.GoBack(ctx, clientID, assessmentID)
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage{Type: "question", Payload: viewOf(a, q)}
	default:
		return outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
	}
}
