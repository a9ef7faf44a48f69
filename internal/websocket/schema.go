package websocket

import "github.com/stemsi/exstem-proctor/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest is sent by the client to save a single answer.
type AutosaveRequest struct {
	Action Action       `json:"action"`
	Answer model.Answer `json:"answer"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError  Event = "error"
	EventSaved  Event = "saved"
	EventStatus Event = "status"
	EventPong   Event = "pong"
)

// Message is the single frame shape the server sends. Exactly one of the
// optional fields is set, depending on Event.
type Message struct {
	Event      Event               `json:"event"`
	QuestionID string              `json:"question_id,omitempty"`
	State      *model.AttemptState `json:"state,omitempty"`
	Code       string              `json:"code,omitempty"`
	Error      string              `json:"error,omitempty"`
}
