package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/floegence/redeven-console/internal/chat"
	"github.com/floegence/redeven-console/internal/chat/journal"
)

type replayReport struct {
	Status        string   `json:"status"`
	Reasons       []string `json:"reasons,omitempty"`
	Messages      int      `json:"messages"`
	Loading       bool     `json:"loading"`
	RunActive     bool     `json:"run_active"`
	LastError     string   `json:"last_error,omitempty"`
	JournalEvents int      `json:"journal_events,omitempty"`
}

type replayOptions struct {
	logger       *slog.Logger
	historyLimit int
	journal      *journal.Store
}

// scriptedTransport answers gateway calls from the scenario's canned pages.
// History pages are consumed in order; once exhausted the last page repeats,
// so retry loops observe a stable server.
type scriptedTransport struct {
	mu      sync.Mutex
	pages   []historyPage
	nextIdx int
}

func (t *scriptedTransport) Connected() bool { return true }

func (t *scriptedTransport) Request(_ context.Context, method string, _ any) (json.RawMessage, error) {
	switch method {
	case chat.MethodHistory:
		return json.Marshal(t.nextPage())
	case chat.MethodRecommendations:
		return json.Marshal(map[string]any{"recommendations": []string{}})
	default:
		return json.RawMessage(`{}`), nil
	}
}

func (t *scriptedTransport) nextPage() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	page := historyPage{}
	if len(t.pages) > 0 {
		idx := t.nextIdx
		if idx >= len(t.pages) {
			idx = len(t.pages) - 1
		} else {
			t.nextIdx++
		}
		page = t.pages[idx]
	}

	messages := make([]chat.Message, 0, len(page.Messages))
	for i, m := range page.Messages {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			id = fmt.Sprintf("m_replay_%d", i)
		}
		messages = append(messages, chat.Message{
			ID:      id,
			Role:    strings.TrimSpace(m.Role),
			Content: []chat.ContentBlock{{Type: chat.BlockTypeText, Text: m.Text}},
		})
	}
	out := map[string]any{"messages": messages}
	if level := strings.TrimSpace(page.ThinkingLevel); level != "" {
		out["thinkingLevel"] = level
	}
	return out
}

func runReplay(sc *scenarioFile, opts replayOptions) (replayReport, error) {
	logger := opts.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	transport := &scriptedTransport{pages: sc.History}
	ctrl, err := chat.New(chat.Options{
		Transport:         transport,
		Journal:           opts.journal,
		Logger:            logger,
		HistoryLimit:      opts.historyLimit,
		HistoryRetryDelay: 1,
		// History refreshes stay explicit replay steps; the default async
		// fetch would make step ordering nondeterministic.
		OnHistoryNeeded: func(string) {},
	})
	if err != nil {
		return replayReport{}, err
	}

	session := strings.TrimSpace(sc.Session)
	ctrl.SetActiveSession(session)

	ctx := context.Background()
	activeRun := ""
	for i, step := range sc.Steps {
		switch {
		case strings.TrimSpace(step.Send) != "":
			runID, err := ctrl.Send(ctx, step.Send, nil)
			if err != nil {
				return replayReport{}, fmt.Errorf("step %d: send: %w", i, err)
			}
			if runID != "" {
				activeRun = runID
			}
		case step.Abort:
			if _, err := ctrl.Abort(ctx); err != nil {
				return replayReport{}, fmt.Errorf("step %d: abort: %w", i, err)
			}
		case step.LoadHistory:
			if err := ctrl.LoadHistory(ctx, session); err != nil {
				return replayReport{}, fmt.Errorf("step %d: load history: %w", i, err)
			}
		case step.Event != nil:
			ctrl.HandleEventPayload(eventPayload(session, activeRun, step.Event))
		}
	}

	st, ok := ctrl.Session(session)
	if !ok {
		return replayReport{}, fmt.Errorf("session %s has no state", session)
	}

	report := replayReport{
		Status:    "pass",
		Messages:  len(st.Messages),
		Loading:   st.Loading,
		RunActive: st.ActiveRunID != "",
		LastError: st.LastError,
	}
	if opts.journal != nil {
		records, err := opts.journal.List(ctx, session, 0)
		if err != nil {
			return replayReport{}, fmt.Errorf("read journal: %w", err)
		}
		report.JournalEvents = len(records)
	}
	if reasons := evaluateExpect(sc.Expect, st); len(reasons) > 0 {
		report.Status = "fail"
		report.Reasons = reasons
	}
	return report, nil
}

func eventPayload(session string, activeRun string, ev *scenarioEvent) []byte {
	runID := strings.TrimSpace(ev.Run)
	if runID == "" || runID == "$active" {
		runID = activeRun
	}
	sessionKey := strings.TrimSpace(ev.Session)
	if sessionKey == "" {
		sessionKey = session
	}
	state := strings.TrimSpace(strings.ToLower(ev.State))

	payload := map[string]any{
		"runId":      runID,
		"sessionKey": sessionKey,
		"state":      state,
	}
	switch state {
	case "delta":
		payload["message"] = ev.Text
	case "final":
		payload["message"] = chat.Message{
			Role:    chat.RoleAssistant,
			Content: []chat.ContentBlock{{Type: chat.BlockTypeText, Text: ev.Text}},
		}
	case "error":
		payload["errorMessage"] = ev.Error
	}
	b, _ := json.Marshal(payload)
	return b
}

func evaluateExpect(expect scenarioExpect, st chat.SessionState) []string {
	reasons := make([]string, 0, 4)
	if expect.Messages != nil && len(st.Messages) != *expect.Messages {
		reasons = append(reasons, fmt.Sprintf("messages: got=%d want=%d", len(st.Messages), *expect.Messages))
	}
	if expect.Loading != nil && st.Loading != *expect.Loading {
		reasons = append(reasons, fmt.Sprintf("loading: got=%v want=%v", st.Loading, *expect.Loading))
	}
	if expect.RunActive != nil && (st.ActiveRunID != "") != *expect.RunActive {
		reasons = append(reasons, fmt.Sprintf("run_active: got=%v want=%v", st.ActiveRunID != "", *expect.RunActive))
	}
	if expect.StreamText != nil {
		got := ""
		if st.Stream != nil {
			got = st.Stream.Text
		}
		if got != *expect.StreamText {
			reasons = append(reasons, fmt.Sprintf("stream_text: got=%q want=%q", got, *expect.StreamText))
		}
	}
	if expect.StreamCleared != nil && (st.Stream == nil) != *expect.StreamCleared {
		reasons = append(reasons, fmt.Sprintf("stream_cleared: got=%v want=%v", st.Stream == nil, *expect.StreamCleared))
	}
	if expect.LastError != nil && st.LastError != *expect.LastError {
		reasons = append(reasons, fmt.Sprintf("last_error: got=%q want=%q", st.LastError, *expect.LastError))
	}
	if expect.LastMessageText != nil {
		got := ""
		if n := len(st.Messages); n > 0 {
			got = st.Messages[n-1].Text()
		}
		if got != *expect.LastMessageText {
			reasons = append(reasons, fmt.Sprintf("last_message_text: got=%q want=%q", got, *expect.LastMessageText))
		}
	}
	return reasons
}
