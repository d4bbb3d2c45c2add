package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/floegence/redeven-console/internal/chat/journal"
)

const (
	defaultHistoryRetryDelay = 800 * time.Millisecond
	defaultHistoryMaxRetries = 3

	journalOpTimeout = 3 * time.Second
	sideFetchTimeout = 15 * time.Second
)

type Options struct {
	Transport Transport

	// Journal is optional; when set, run lifecycle and reconciliation
	// outcomes are recorded fire-and-forget.
	Journal *journal.Store

	Logger *slog.Logger

	HistoryLimit         int
	HistoryRetryDelay    time.Duration
	HistoryMaxRetries    int
	RecommendationsLimit int

	// OnHistoryNeeded overrides the reaction to a terminal event that
	// requires a history refresh. The default runs LoadHistory in a
	// goroutine; tests inject a capture hook instead.
	OnHistoryNeeded func(sessionKey string)
}

// Controller owns per-session transcript state and orchestrates runs
// against the gateway. All state access is serialized by mu, but the lock
// is never held across a remote call or a retry delay: every resumption
// re-validates what it captured before applying anything.
type Controller struct {
	mu        sync.Mutex
	transport Transport
	journal   *journal.Store
	log       *slog.Logger

	sessions  map[string]*SessionState
	activeKey string

	historyLimit      int
	historyRetryDelay time.Duration
	historyMaxRetries int
	recsLimit         int

	onHistoryNeeded func(string)
}

func New(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, errors.New("missing transport")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	retryDelay := opts.HistoryRetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultHistoryRetryDelay
	}
	maxRetries := opts.HistoryMaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultHistoryMaxRetries
	}
	recsLimit := opts.RecommendationsLimit
	if recsLimit <= 0 {
		recsLimit = defaultRecommendationsLimit
	}

	return &Controller{
		transport:         opts.Transport,
		journal:           opts.Journal,
		log:               logger,
		sessions:          make(map[string]*SessionState),
		historyLimit:      clampHistoryLimit(opts.HistoryLimit),
		historyRetryDelay: retryDelay,
		historyMaxRetries: maxRetries,
		recsLimit:         recsLimit,
		onHistoryNeeded:   opts.OnHistoryNeeded,
	}, nil
}

func (c *Controller) ensureLocked(key string) *SessionState {
	st := c.sessions[key]
	if st == nil {
		st = newSessionState(key)
		c.sessions[key] = st
	}
	return st
}

// SetActiveSession switches the session the engine mutates and correlates
// events against. In-flight work for the previous session discards its
// results when it resumes.
func (c *Controller) SetActiveSession(key string) {
	key = strings.TrimSpace(key)
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	c.activeKey = key
	c.ensureLocked(key)
	c.mu.Unlock()
}

func (c *Controller) ActiveSessionKey() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeKey
}

// Session returns a deep-copied snapshot of one session's state.
func (c *Controller) Session(key string) (SessionState, bool) {
	if c == nil {
		return SessionState{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.sessions[strings.TrimSpace(key)]
	if st == nil {
		return SessionState{}, false
	}
	return st.snapshot(), true
}

// QueueDraft stages a composed message for a later send.
func (c *Controller) QueueDraft(key string, d Draft) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key = strings.TrimSpace(key)
	if key == "" {
		key = c.activeKey
	}
	if key == "" {
		return
	}
	st := c.ensureLocked(key)
	st.Pending = append(st.Pending, d)
}

// PopPendingDraft removes and returns the oldest staged draft.
func (c *Controller) PopPendingDraft(key string) (Draft, bool) {
	if c == nil {
		return Draft{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.sessions[strings.TrimSpace(key)]
	if st == nil || len(st.Pending) == 0 {
		return Draft{}, false
	}
	d := st.Pending[0]
	st.Pending = st.Pending[1:]
	return d, true
}

// StageAttachment adds an attachment to be consumed by the next send on
// the session.
func (c *Controller) StageAttachment(key string, a Attachment) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key = strings.TrimSpace(key)
	if key == "" {
		key = c.activeKey
	}
	if key == "" {
		return
	}
	st := c.ensureLocked(key)
	st.PendingAttachments = append(st.PendingAttachments, a)
}

// Send starts a new run from user input. It optimistically appends the user
// message, claims the active-run slot (last call wins), and issues the
// remote send with the run id doubling as the idempotency key. Empty input
// and disconnected transports are silent no-ops.
func (c *Controller) Send(ctx context.Context, text string, attachments []Attachment) (string, error) {
	if c == nil {
		return "", errors.New("nil controller")
	}
	text = strings.TrimSpace(text)

	c.mu.Lock()
	key := c.activeKey
	if key == "" {
		c.mu.Unlock()
		return "", errors.New("no active session")
	}
	st := c.ensureLocked(key)

	atts := make([]Attachment, 0, len(st.PendingAttachments)+len(attachments))
	atts = append(atts, st.PendingAttachments...)
	atts = append(atts, attachments...)
	if text == "" && len(atts) == 0 {
		c.mu.Unlock()
		return "", nil
	}
	if !c.transport.Connected() {
		c.mu.Unlock()
		return "", nil
	}

	runID, err := NewRunID()
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	msgID, err := newUserMessageID()
	if err != nil {
		c.mu.Unlock()
		return "", err
	}

	blocks := make([]ContentBlock, 0, 1+len(atts))
	if text != "" {
		blocks = append(blocks, ContentBlock{Type: BlockTypeText, Text: text})
	}
	wire := make([]WireAttachment, 0, len(atts))
	for _, a := range atts {
		w, werr := toWireAttachment(a)
		if werr != nil {
			c.log.Warn("chat attachment skipped", "session_key", key, "error", werr)
			continue
		}
		wire = append(wire, w)
		blocks = append(blocks, attachmentBlock(w))
	}
	if len(blocks) == 0 {
		c.mu.Unlock()
		return "", nil
	}

	st.Messages = append(st.Messages, Message{
		ID:        msgID,
		Role:      RoleUser,
		Content:   blocks,
		Timestamp: nowUnixMs(),
	})
	st.PendingAttachments = nil
	c.beginRunLocked(st, runID)
	c.mu.Unlock()

	c.journalAppend(key, runID, journal.KindRunStarted, previewText(text))

	_, reqErr := c.transport.Request(ctx, MethodSend, sendParams{
		SessionKey:     key,
		Message:        text,
		Deliver:        false,
		IdempotencyKey: runID,
		Attachments:    wire,
	})

	if err := c.settleRunRequest(st, key, runID, reqErr, true); err != nil {
		return "", err
	}
	return runID, nil
}

// RerunFromMessage re-generates from an existing message, addressed by its
// stable id. Same run-creation contract as Send, without a fresh optimistic
// user append (the target already exists).
func (c *Controller) RerunFromMessage(ctx context.Context, messageID string) (string, error) {
	if c == nil {
		return "", errors.New("nil controller")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return "", errors.New("missing message id")
	}

	c.mu.Lock()
	key := c.activeKey
	if key == "" {
		c.mu.Unlock()
		return "", errors.New("no active session")
	}
	if !c.transport.Connected() {
		c.mu.Unlock()
		return "", nil
	}
	st := c.ensureLocked(key)
	runID, err := NewRunID()
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.beginRunLocked(st, runID)
	c.mu.Unlock()

	c.journalAppend(key, runID, journal.KindRunStarted, "rerun from "+messageID)

	_, reqErr := c.transport.Request(ctx, MethodRerun, rerunParams{
		SessionKey:     key,
		MessageID:      messageID,
		IdempotencyKey: runID,
	})
	if err := c.settleRunRequest(st, key, runID, reqErr, false); err != nil {
		return "", err
	}
	return runID, nil
}

// EditMessage rewrites a message's content on the server. With rerun set it
// follows the run-creation contract and returns the new run id; without it
// the edit only marks the transcript for reconciliation (the edited state
// arrives via the next history fetch).
func (c *Controller) EditMessage(ctx context.Context, messageID string, content string, rerun bool) (string, error) {
	if c == nil {
		return "", errors.New("nil controller")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return "", errors.New("missing message id")
	}

	c.mu.Lock()
	key := c.activeKey
	if key == "" {
		c.mu.Unlock()
		return "", errors.New("no active session")
	}
	if !c.transport.Connected() {
		c.mu.Unlock()
		return "", nil
	}
	st := c.ensureLocked(key)

	runID := ""
	if rerun {
		id, err := NewRunID()
		if err != nil {
			c.mu.Unlock()
			return "", err
		}
		runID = id
		c.beginRunLocked(st, runID)
	}
	c.mu.Unlock()

	_, reqErr := c.transport.Request(ctx, MethodEdit, editParams{
		SessionKey:     key,
		MessageID:      messageID,
		Content:        content,
		Rerun:          rerun,
		IdempotencyKey: runID,
	})

	if rerun {
		if err := c.settleRunRequest(st, key, runID, reqErr, false); err != nil {
			return "", err
		}
		return runID, nil
	}

	if reqErr != nil {
		c.mu.Lock()
		st.LastError = reqErr.Error()
		c.mu.Unlock()
		return "", reqErr
	}
	c.markLoading(key)
	c.historyNeeded(key)
	return "", nil
}

// DeleteMessage removes one message. The removal is applied optimistically
// so the local count does not run ahead of the server's during the
// follow-up reconciliation.
func (c *Controller) DeleteMessage(ctx context.Context, messageID string) error {
	return c.deleteMessages(ctx, messageID, MethodDelete)
}

// DeleteFromMessage removes a message and everything after it.
func (c *Controller) DeleteFromMessage(ctx context.Context, messageID string) error {
	return c.deleteMessages(ctx, messageID, MethodDeleteFrom)
}

func (c *Controller) deleteMessages(ctx context.Context, messageID string, method string) error {
	if c == nil {
		return errors.New("nil controller")
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return errors.New("missing message id")
	}

	c.mu.Lock()
	key := c.activeKey
	if key == "" {
		c.mu.Unlock()
		return errors.New("no active session")
	}
	if !c.transport.Connected() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, reqErr := c.transport.Request(ctx, method, deleteParams{SessionKey: key, MessageID: messageID})

	c.mu.Lock()
	st := c.ensureLocked(key)
	if reqErr != nil {
		st.LastError = reqErr.Error()
		c.mu.Unlock()
		return reqErr
	}
	if idx := st.messageIndexByID(messageID); idx >= 0 {
		if method == MethodDeleteFrom {
			st.Messages = st.Messages[:idx]
		} else {
			st.Messages = append(st.Messages[:idx], st.Messages[idx+1:]...)
		}
	}
	st.Loading = true
	c.mu.Unlock()

	c.historyNeeded(key)
	return nil
}

// Abort requests cancellation of the active run. When the local run id is
// unknown the abort falls back to session scope. Local run state is not
// touched here: only the resulting aborted event clears it, so a double
// abort or an abort racing a final cannot desynchronize us from the server.
func (c *Controller) Abort(ctx context.Context) (bool, error) {
	if c == nil {
		return false, errors.New("nil controller")
	}
	c.mu.Lock()
	key := c.activeKey
	runID := ""
	if st := c.sessions[key]; st != nil {
		runID = st.ActiveRunID
	}
	c.mu.Unlock()
	if key == "" {
		return false, errors.New("no active session")
	}

	raw, err := c.transport.Request(ctx, MethodAbort, abortParams{SessionKey: key, RunID: runID})
	if err != nil {
		c.log.Warn("chat abort failed", "session_key", key, "run_id", runID, "error", err)
		return false, err
	}

	ok := true
	var ack struct {
		OK *bool `json:"ok"`
	}
	if len(raw) > 0 && json.Unmarshal(raw, &ack) == nil && ack.OK != nil {
		ok = *ack.OK
	}
	return ok, nil
}

func (c *Controller) beginRunLocked(st *SessionState, runID string) {
	st.Sending = true
	st.LastError = ""
	// Last call wins on the active-run slot.
	st.ActiveRunID = runID
	// Empty but non-nil: the run started, no tokens yet.
	st.Stream = &StreamState{StartedAtUnixMs: nowUnixMs()}
}

// settleRunRequest is the finally-equivalent path for every run-starting
// request: sending is always cleared, and on failure the run slot is
// released only if this call still owns it.
func (c *Controller) settleRunRequest(st *SessionState, key string, runID string, reqErr error, inlineError bool) error {
	c.mu.Lock()
	st.Sending = false
	if reqErr == nil {
		c.mu.Unlock()
		return nil
	}
	if st.ActiveRunID == runID {
		st.clearRun()
	}
	st.LastError = reqErr.Error()
	if inlineError {
		if id, err := newLocalMessageID(); err == nil {
			st.Messages = append(st.Messages, Message{
				ID:        id,
				Role:      RoleAssistant,
				Content:   []ContentBlock{{Type: BlockTypeText, Text: "Message failed to send: " + reqErr.Error()}},
				Timestamp: nowUnixMs(),
			})
		}
	}
	c.mu.Unlock()

	c.journalAppend(key, runID, journal.KindSendFailed, reqErr.Error())
	c.log.Warn("chat run request failed", "session_key", key, "run_id", runID, "error", reqErr)
	return reqErr
}

func (c *Controller) markLoading(key string) {
	c.mu.Lock()
	c.ensureLocked(key).Loading = true
	c.mu.Unlock()
}

func (c *Controller) historyNeeded(key string) {
	if c.onHistoryNeeded != nil {
		c.onHistoryNeeded(key)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideFetchTimeout)
		defer cancel()
		_ = c.LoadHistory(ctx, key)
	}()
}

func (c *Controller) journalAppend(key string, runID string, kind string, detail string) {
	if c == nil || c.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalOpTimeout)
	defer cancel()
	_ = c.journal.Append(ctx, journal.Record{
		SessionKey: key,
		RunID:      runID,
		Kind:       kind,
		Detail:     detail,
	})
}

func previewText(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= 120 {
		return s
	}
	return string(runes[:120])
}
