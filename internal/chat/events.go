package chat

import (
	"context"
	"strings"

	"github.com/floegence/redeven-console/internal/chat/journal"
)

// HandleEventPayload decodes and applies one raw inbound event. Malformed
// payloads are a no-op.
func (c *Controller) HandleEventPayload(raw []byte) {
	ev, err := DecodeEvent(raw)
	if err != nil {
		if c != nil {
			c.log.Debug("chat event discarded", "error", err)
		}
		return
	}
	c.HandleEvent(ev)
}

// HandleEvent is the streaming-event correlator. Per-session stream states:
// idle (no buffer) -> streaming (buffer set, run id set) -> idle again on
// any terminal event.
//
// Precedence: cross-session events are discarded; events for a run this
// client did not start only ever mark the transcript for a refresh; only
// then is the event applied to the locally tracked run.
func (c *Controller) HandleEvent(ev *ChatEvent) {
	if c == nil || ev == nil || !ev.State.Valid() {
		return
	}

	c.mu.Lock()
	key := c.activeKey
	if key == "" || ev.SessionKey != key {
		// Stale cross-session delivery.
		c.mu.Unlock()
		return
	}
	st := c.ensureLocked(key)

	if st.ActiveRunID == "" || ev.RunID != st.ActiveRunID {
		// A foreign run sharing the session, e.g. a sub-agent announcing
		// its own completion. Its final means the server transcript grew,
		// so request a refresh; everything else about it is not ours to
		// track. The local run's buffer, slot, and sending flag stay put.
		if ev.State != EventFinal {
			c.mu.Unlock()
			return
		}
		st.Loading = true
		c.mu.Unlock()
		c.journalAppend(key, ev.RunID, journal.KindForeignRunFinal, "")
		c.historyNeeded(key)
		return
	}

	switch ev.State {
	case EventDelta:
		text := ev.DeltaText()
		if st.Stream == nil {
			st.Stream = &StreamState{StartedAtUnixMs: nowUnixMs()}
		}
		// Monotonic-length guard: an out-of-order or duplicate delta must
		// not roll the buffer back behind content already streamed.
		if len(text) >= len(st.Stream.Text) {
			st.Stream.Text = text
		}
		c.mu.Unlock()

	case EventFinal:
		if msg, ok := ev.DecodedMessage(); ok {
			// Show the result without waiting on the next history fetch.
			st.Messages = append(st.Messages, *msg)
		}
		// Loading goes up before the stream comes down so the surface
		// never flickers empty between stream end and history reload.
		st.Loading = true
		st.clearRun()
		st.Sending = false
		c.mu.Unlock()
		c.journalAppend(key, ev.RunID, journal.KindRunFinal, "")
		c.refreshRecommendations(key)
		c.historyNeeded(key)

	case EventAborted:
		st.clearRun()
		st.Sending = false
		c.mu.Unlock()
		c.journalAppend(key, ev.RunID, journal.KindRunAborted, "")

	case EventError:
		errMsg := strings.TrimSpace(ev.ErrorMessage)
		st.clearRun()
		st.Sending = false
		st.LastError = errMsg
		c.mu.Unlock()
		c.journalAppend(key, ev.RunID, journal.KindRunError, errMsg)
		c.log.Warn("chat run errored", "session_key", key, "run_id", ev.RunID, "error", errMsg)
	}
}

// refreshRecommendations fetches follow-up suggestions fire-and-forget.
// Failures are advisory only.
func (c *Controller) refreshRecommendations(key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideFetchTimeout)
		defer cancel()

		raw, err := c.transport.Request(ctx, MethodRecommendations, recommendationsParams{
			SessionKey: key,
			Limit:      c.recsLimit,
		})
		if err != nil {
			c.log.Debug("chat recommendations fetch failed", "session_key", key, "error", err)
			return
		}
		res, err := decodeResult[recommendationsResult](raw)
		if err != nil {
			c.log.Debug("chat recommendations decode failed", "session_key", key, "error", err)
			return
		}

		c.mu.Lock()
		if c.activeKey == key {
			c.ensureLocked(key).Recommendations = res.Recommendations
		}
		c.mu.Unlock()
	}()
}
