package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type fakeCall struct {
	Method string
	Params any
}

// fakeTransport scripts gateway responses per method and records every
// request it sees.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	reply     func(method string, params any) (any, error)
	calls     []fakeCall
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true}
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) setConnected(connected bool) {
	t.mu.Lock()
	t.connected = connected
	t.mu.Unlock()
}

func (t *fakeTransport) setReply(reply func(method string, params any) (any, error)) {
	t.mu.Lock()
	t.reply = reply
	t.mu.Unlock()
}

func (t *fakeTransport) Request(_ context.Context, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	t.calls = append(t.calls, fakeCall{Method: method, Params: params})
	reply := t.reply
	t.mu.Unlock()

	if reply == nil {
		return json.RawMessage(`{}`), nil
	}
	v, err := reply(method, params)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (t *fakeTransport) callsFor(method string) []fakeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]fakeCall, 0, len(t.calls))
	for _, c := range t.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestController builds a controller with refresh side effects stubbed
// out so tests can assert state between transitions.
func newTestController(t *testing.T, ft *fakeTransport) *Controller {
	t.Helper()
	c, err := New(Options{
		Transport:         ft,
		Logger:            testLogger(),
		HistoryRetryDelay: 1, // nanosecond-scale, retries should not slow tests
		OnHistoryNeeded:   func(string) {},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func textMessage(id string, role string, text string) Message {
	return Message{ID: id, Role: role, Content: []ContentBlock{{Type: BlockTypeText, Text: text}}}
}
