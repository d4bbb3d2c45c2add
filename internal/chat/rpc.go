package chat

import (
	"context"
	"encoding/json"
)

// Remote method names served by the gateway. The engine never assumes
// anything about how they travel; Transport hides the wire.
const (
	MethodHistory         = "chat.history"
	MethodSend            = "chat.send"
	MethodAbort           = "chat.abort"
	MethodRerun           = "chat.rerun"
	MethodEdit            = "chat.edit"
	MethodDelete          = "chat.delete"
	MethodDeleteFrom      = "chat.deleteFrom"
	MethodRecommendations = "chat.recommendations"
)

// Transport performs named remote calls against the gateway and reports
// connectivity. Implementations own timeouts, retries of the connection
// itself, and delivery of inbound event payloads to Controller.HandleEvent.
type Transport interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	Connected() bool
}

type historyParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit"`
}

type historyResult struct {
	Messages      []Message `json:"messages"`
	ThinkingLevel string    `json:"thinkingLevel,omitempty"`
}

type sendParams struct {
	SessionKey     string           `json:"sessionKey"`
	Message        string           `json:"message"`
	Deliver        bool             `json:"deliver"`
	IdempotencyKey string           `json:"idempotencyKey"`
	Attachments    []WireAttachment `json:"attachments,omitempty"`
}

type abortParams struct {
	SessionKey string `json:"sessionKey"`
	RunID      string `json:"runId,omitempty"`
}

type rerunParams struct {
	SessionKey     string `json:"sessionKey"`
	MessageID      string `json:"messageId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type editParams struct {
	SessionKey     string `json:"sessionKey"`
	MessageID      string `json:"messageId"`
	Content        string `json:"content"`
	Rerun          bool   `json:"rerun"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type deleteParams struct {
	SessionKey string `json:"sessionKey"`
	MessageID  string `json:"messageId"`
}

type recommendationsParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit"`
}

type recommendationsResult struct {
	Recommendations []string `json:"recommendations"`
}

const (
	defaultHistoryLimit = 200
	maxHistoryLimit     = 500

	defaultRecommendationsLimit = 3
)

func decodeResult[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
