package chat

// This package implements the client-side run lifecycle engine behind the
// Redeven Console chat surface.
//
// Design notes:
// - The console talks to the gateway via a generic request/notify transport;
//   this package never opens connections itself (see Transport in rpc.go).
// - The server's persisted history is authoritative but lags local optimistic
//   appends; reconciliation tolerates that lag rather than trusting whichever
//   side answered last (see history.go).
// - Streaming events may arrive at any time, including before the request
//   that started the run has been acknowledged.

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

const (
	BlockTypeText       = "text"
	BlockTypeImage      = "image"
	BlockTypeToolCall   = "tool-call"
	BlockTypeToolResult = "tool-result"
)

// ContentBlock is one ordered element of a message body. Type selects which
// of the optional fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	MimeType string `json:"mimeType,omitempty"`
	Content  string `json:"content,omitempty"` // base64 for image blocks

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// Message is one transcript entry. Messages are never mutated in place:
// edits surface as new server-confirmed state via reconciliation.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp int64          `json:"timestamp,omitempty"` // unix ms
}

// Text joins the message's text blocks. Non-text blocks are skipped.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	parts := make([]string, 0, len(m.Content))
	for _, b := range m.Content {
		if b.Type == BlockTypeText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Attachment is a user-composed file pending for the next send. The payload
// travels client-side as a data URL and is translated to the wire shape in
// attachments.go.
type Attachment struct {
	MimeType string `json:"mimeType"`
	DataURL  string `json:"dataUrl"`
}

// Draft is a composed-but-not-yet-sent message.
type Draft struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// EventState discriminates the inbound streaming event union.
type EventState string

const (
	EventDelta   EventState = "delta"
	EventFinal   EventState = "final"
	EventAborted EventState = "aborted"
	EventError   EventState = "error"
)

func (s EventState) Valid() bool {
	switch s {
	case EventDelta, EventFinal, EventAborted, EventError:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state ends a run.
func (s EventState) Terminal() bool {
	return s == EventFinal || s == EventAborted || s == EventError
}

// ChatEvent is the wire payload of one inbound streaming event. It is a
// transient input to the correlator, not owned state.
//
// Message is deliberately raw: delta frames carry a bare string with the
// partial text so far, final frames carry a full message object.
type ChatEvent struct {
	RunID        string          `json:"runId"`
	SessionKey   string          `json:"sessionKey"`
	State        EventState      `json:"state"`
	Message      json.RawMessage `json:"message,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// DecodeEvent validates a raw payload at the transport boundary. Payloads
// with an unknown state are rejected here so the correlator's switch stays
// exhaustive.
func DecodeEvent(raw []byte) (*ChatEvent, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty event payload")
	}
	var ev ChatEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	ev.RunID = strings.TrimSpace(ev.RunID)
	ev.SessionKey = strings.TrimSpace(ev.SessionKey)
	if !ev.State.Valid() {
		return nil, errors.New("unknown event state")
	}
	return &ev, nil
}

// DeltaText extracts the partial text carried by a delta frame. Accepts both
// a bare string and a message object with text blocks.
func (ev *ChatEvent) DeltaText() string {
	if ev == nil || len(ev.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(ev.Message, &s); err == nil {
		return s
	}
	if m, ok := ev.DecodedMessage(); ok {
		return m.Text()
	}
	return ""
}

// DecodedMessage parses the carried message object, reporting whether it is
// well-formed enough to append (a role plus at least one block).
func (ev *ChatEvent) DecodedMessage() (*Message, bool) {
	if ev == nil || len(ev.Message) == 0 {
		return nil, false
	}
	var m Message
	if err := json.Unmarshal(ev.Message, &m); err != nil {
		return nil, false
	}
	if strings.TrimSpace(m.Role) == "" || len(m.Content) == 0 {
		return nil, false
	}
	return &m, true
}

// NewRunID generates a cryptographically random run id. The same token is
// used as the causality correlator for streaming events and as the
// idempotency key of the request that started the run.
func NewRunID() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "run_" + base64.RawURLEncoding.EncodeToString(b), nil
}

func newUserMessageID() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "u_" + base64.RawURLEncoding.EncodeToString(b), nil
}

func newLocalMessageID() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "m_" + base64.RawURLEncoding.EncodeToString(b), nil
}

func nowUnixMs() int64 {
	return time.Now().UnixMilli()
}
