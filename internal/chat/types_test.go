package chat

import (
	"strings"
	"testing"
)

func TestDecodeEvent_RejectsUnknownState(t *testing.T) {
	t.Parallel()

	if _, err := DecodeEvent([]byte(`{"runId":"r1","sessionKey":"s1","state":"running"}`)); err == nil {
		t.Fatalf("DecodeEvent accepted unknown state")
	}
	if _, err := DecodeEvent(nil); err == nil {
		t.Fatalf("DecodeEvent accepted empty payload")
	}
	if _, err := DecodeEvent([]byte(`not json`)); err == nil {
		t.Fatalf("DecodeEvent accepted malformed json")
	}
}

func TestDecodeEvent_TrimsIdentifiers(t *testing.T) {
	t.Parallel()

	ev, err := DecodeEvent([]byte(`{"runId":" r1 ","sessionKey":" s1 ","state":"delta","message":"abc"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if ev.RunID != "r1" || ev.SessionKey != "s1" {
		t.Fatalf("identifiers not trimmed: %q %q", ev.RunID, ev.SessionKey)
	}
	if ev.DeltaText() != "abc" {
		t.Fatalf("DeltaText = %q, want abc", ev.DeltaText())
	}
}

func TestDeltaText_AcceptsMessageObject(t *testing.T) {
	t.Parallel()

	ev, err := DecodeEvent([]byte(`{"runId":"r1","sessionKey":"s1","state":"delta","message":{"role":"assistant","content":[{"type":"text","text":"partial out"}]}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if got := ev.DeltaText(); got != "partial out" {
		t.Fatalf("DeltaText = %q, want partial out", got)
	}
}

func TestDecodedMessage_RejectsIllFormed(t *testing.T) {
	t.Parallel()

	ev := &ChatEvent{State: EventFinal, Message: []byte(`{"role":"assistant"}`)}
	if _, ok := ev.DecodedMessage(); ok {
		t.Fatalf("DecodedMessage accepted message without content")
	}
	ev = &ChatEvent{State: EventFinal, Message: []byte(`{"content":[{"type":"text","text":"x"}]}`)}
	if _, ok := ev.DecodedMessage(); ok {
		t.Fatalf("DecodedMessage accepted message without role")
	}
	ev = &ChatEvent{State: EventFinal}
	if _, ok := ev.DecodedMessage(); ok {
		t.Fatalf("DecodedMessage accepted absent message")
	}
}

func TestMessageText_JoinsTextBlocksOnly(t *testing.T) {
	t.Parallel()

	m := Message{Role: RoleAssistant, Content: []ContentBlock{
		{Type: BlockTypeText, Text: "first"},
		{Type: BlockTypeToolCall, ToolName: "shell.exec"},
		{Type: BlockTypeText, Text: "second"},
	}}
	if got, want := m.Text(), "first\n\nsecond"; got != want {
		t.Fatalf("Text got=%q want=%q", got, want)
	}
}

func TestNewRunID_PrefixAndUniqueness(t *testing.T) {
	t.Parallel()

	a, err := NewRunID()
	if err != nil {
		t.Fatalf("NewRunID: %v", err)
	}
	b, err := NewRunID()
	if err != nil {
		t.Fatalf("NewRunID: %v", err)
	}
	if !strings.HasPrefix(a, "run_") || a == b {
		t.Fatalf("run ids = %q %q", a, b)
	}
}

func TestEventStateTerminal(t *testing.T) {
	t.Parallel()

	if EventDelta.Terminal() {
		t.Fatalf("delta is not terminal")
	}
	for _, s := range []EventState{EventFinal, EventAborted, EventError} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}
