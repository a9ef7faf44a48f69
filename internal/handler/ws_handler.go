package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const wsOutboxSize = 16

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams attempt state to the student and accepts autosaves.
type WSHandler struct {
	attemptService *service.AttemptService
	hub            *ws.StatusHub
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, hub *ws.StatusHub, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		hub:            hub,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Pushes the attempt state whenever it changes (lock, unlock decision,
// submission) and saves answers sent as autosave actions.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err, "Load attempt state failed")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("request_id", c.GetString(response.ContextKeyRequestID)).
		Int("student_id", claims.UserID).
		Str("exam_id", examID.String()).
		Logger()
	wsLog.Info().Msg("Student stream connected")

	updates, unsubscribe := h.hub.Subscribe(state.AttemptID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// gorilla allows one concurrent writer; everything goes through outbox.
	outbox := make(chan ws.Message, wsOutboxSize)
	outbox <- ws.Message{Event: ws.EventStatus, State: state}

	go func() {
		defer cancel()
		h.readLoop(ctx, conn, wsLog, examID, claims.UserID, outbox)
	}()

	ping := time.NewTicker(ws.PingPeriod)
	defer ping.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			wsLog.Debug().Msg("Student stream closed")
			return
		case msg := <-outbox:
			err = ws.WriteTyped(conn, msg)
		case st := <-updates:
			err = ws.WriteTyped(conn, ws.Message{Event: ws.EventStatus, State: &st})
		case <-ping.C:
			err = ws.WritePing(conn)
		}
		if err != nil {
			wsLog.Debug().Err(err).Msg("Stream write failed")
			return
		}
	}
}

func (h *WSHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	log zerolog.Logger,
	examID uuid.UUID,
	studentID int,
	outbox chan<- ws.Message,
) {
	ws.KeepAlive(conn)
	send := func(m ws.Message) bool {
		select {
		case outbox <- m:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var raw json.RawMessage
		if err := ws.ReadJSON(conn, &raw); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			if !send(ws.Message{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "malformed frame"}) {
				return
			}
			continue
		}

		var reply ws.Message
		switch env.Action {
		case ws.ActionPing:
			reply = ws.Message{Event: ws.EventPong}
		case ws.ActionAutosave:
			reply = h.autosave(ctx, log, examID, studentID, raw)
		default:
			reply = ws.Message{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "unknown action: " + string(env.Action)}
		}
		if !send(reply) {
			return
		}
	}
}

func (h *WSHandler) autosave(ctx context.Context, log zerolog.Logger, examID uuid.UUID, studentID int, raw json.RawMessage) ws.Message {
	var req ws.AutosaveRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Answer.QuestionID == uuid.Nil {
		return ws.Message{Event: ws.EventError, Code: string(response.ErrInvalidPayload), Error: "answer.question_id is required"}
	}

	if err := h.attemptService.SaveAnswer(ctx, examID, studentID, req.Answer); err != nil {
		code := codeFor(err)
		if code == response.ErrInternal {
			log.Error().Err(err).Msg("Autosave failed")
		}
		return ws.Message{Event: ws.EventError, Code: string(code), Error: response.GetMessage(code)}
	}
	return ws.Message{Event: ws.EventSaved, QuestionID: req.Answer.QuestionID.String()}
}
