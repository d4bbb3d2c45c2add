package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/floegence/redeven-console/internal/chat/journal"
)

// LoadHistory fetches the authoritative transcript for a session and
// reconciles it into local state.
//
// The server persists asynchronously, so right after an optimistic append
// it may still answer with fewer messages than we hold. Rather than let the
// transcript visibly empty and refill, the reconciler retries a bounded
// number of times with loading held true, and on exhaustion keeps the local
// view: dropping a just-sent message from sight is worse than briefly
// trusting stale local state.
//
// Every resumption after a remote call or delay re-checks that the active
// session is still the one captured at entry; if the user navigated away,
// the result is discarded outright — success, failure, and the loading flag
// alike.
func (c *Controller) LoadHistory(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" || !c.transport.Connected() {
		return nil
	}

	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		if c.activeKey != key {
			c.mu.Unlock()
			return nil
		}
		st := c.ensureLocked(key)
		// Re-captured each attempt: an optimistic append landing between
		// attempts raises the bar for what counts as a complete answer.
		localCount := len(st.Messages)
		st.Loading = true
		st.LastError = ""
		limit := c.historyLimit
		c.mu.Unlock()

		raw, reqErr := c.transport.Request(ctx, MethodHistory, historyParams{SessionKey: key, Limit: limit})

		c.mu.Lock()
		if c.activeKey != key {
			// The world moved on while the fetch was in flight.
			c.mu.Unlock()
			c.journalAppend(key, "", journal.KindHistoryDiscarded, "session switched mid-fetch")
			return nil
		}
		if reqErr != nil {
			st.LastError = reqErr.Error()
			st.Loading = false
			c.mu.Unlock()
			c.log.Warn("chat history fetch failed", "session_key", key, "error", reqErr)
			return reqErr
		}

		res, decErr := decodeResult[historyResult](raw)
		if decErr != nil {
			st.LastError = decErr.Error()
			st.Loading = false
			c.mu.Unlock()
			return decErr
		}

		if len(res.Messages) < localCount {
			if attempt < c.historyMaxRetries {
				// Server persistence is lagging our optimistic state; hold
				// loading and ask again shortly.
				c.mu.Unlock()
				select {
				case <-ctx.Done():
					c.clearLoadingIfActive(key)
					return ctx.Err()
				case <-time.After(c.historyRetryDelay):
				}
				continue
			}

			// Retry budget exhausted with the server still behind: keep the
			// local transcript instead of overwriting it with a truncated
			// authoritative view.
			st.Loading = false
			c.mu.Unlock()
			c.log.Warn("chat history still behind local state, keeping local transcript",
				"session_key", key, "server_count", len(res.Messages), "local_count", localCount, "attempts", attempt+1)
			c.journalAppend(key, "", journal.KindHistoryStale,
				fmt.Sprintf("server=%d local=%d attempts=%d", len(res.Messages), localCount, attempt+1))
			return nil
		}

		st.Messages = res.Messages
		if lvl := strings.TrimSpace(res.ThinkingLevel); lvl != "" {
			st.ThinkingLevel = lvl
		}
		st.Loading = false
		c.mu.Unlock()

		c.journalAppend(key, "", journal.KindHistoryReplaced, fmt.Sprintf("count=%d", len(res.Messages)))
		c.refreshRecommendations(key)
		return nil
	}
}

func (c *Controller) clearLoadingIfActive(key string) {
	c.mu.Lock()
	if c.activeKey == key {
		if st := c.sessions[key]; st != nil {
			st.Loading = false
		}
	}
	c.mu.Unlock()
}
