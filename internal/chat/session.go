package chat

// StreamState is the partial assistant output of an in-progress run. A
// non-nil state with empty text means "run started, no tokens yet"; nil
// means no stream is active.
type StreamState struct {
	Text            string `json:"text"`
	StartedAtUnixMs int64  `json:"started_at_unix_ms"`
}

// SessionState holds everything the engine tracks for one session key.
// There is no global singleton: the Controller owns one state object per
// session and passes it by reference into the transition code.
//
// Invariant: at most one locally-owned active run per session. Runs started
// elsewhere in the same session (sub-agents) are observed through events but
// never occupy ActiveRunID.
type SessionState struct {
	Key string

	Messages    []Message
	ActiveRunID string
	Stream      *StreamState

	Loading   bool
	Sending   bool
	LastError string

	Pending            []Draft
	PendingAttachments []Attachment

	ThinkingLevel   string
	Recommendations []string
}

func newSessionState(key string) *SessionState {
	return &SessionState{Key: key}
}

// clearRun drops the active run reference and stream buffer. Only the
// correlator and failure paths call this; abort never does (single-writer
// discipline over run termination).
func (st *SessionState) clearRun() {
	st.ActiveRunID = ""
	st.Stream = nil
}

// snapshot returns a deep copy safe to hand to readers outside the
// controller's lock.
func (st *SessionState) snapshot() SessionState {
	out := *st
	out.Messages = append([]Message(nil), st.Messages...)
	out.Pending = append([]Draft(nil), st.Pending...)
	out.PendingAttachments = append([]Attachment(nil), st.PendingAttachments...)
	out.Recommendations = append([]string(nil), st.Recommendations...)
	if st.Stream != nil {
		s := *st.Stream
		out.Stream = &s
	}
	return out
}

// messageIndexByID resolves a stable message id to its current position.
// Addressing is by id, not position: the render layer may truncate or
// filter the list it shows.
func (st *SessionState) messageIndexByID(messageID string) int {
	for i := range st.Messages {
		if st.Messages[i].ID != "" && st.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}
