package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/callrelay/internal/conversation"
)

// ConversationLister is the slice of the conversation store the history function reads.
type ConversationLister interface {
	ListConversations(ctx context.Context, filter conversation.ListFilter) ([]conversation.Conversation, error)
}

type callSummary struct {
	StreamSID       string `json:"stream_sid"`
	StartedAt       string `json:"started_at"`
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`
	MessageCount    int    `json:"message_count"`
}

// CallerHistory returns get_caller_history: previous calls from the current
// caller, or from caller_number when given.
func CallerHistory(store ConversationLister) Function {
	return Function{
		Name:        "get_caller_history",
		Description: "List previous calls from the current caller",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"caller_number": {"type": "string", "description": "E.164 number; defaults to the current caller"},
				"limit": {"type": "integer", "description": "Maximum calls to return"}
			},
			"required": []
		}`),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args struct {
				CallerNumber string `json:"caller_number"`
				Limit        int    `json:"limit"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("decode arguments: %w", err)
			}
			call, _ := CallFromContext(ctx)
			caller := strings.TrimSpace(args.CallerNumber)
			if caller == "" {
				caller = call.CallerNumber
			}
			if caller == "" {
				return "", fmt.Errorf("caller number unknown")
			}
			limit := args.Limit
			if limit <= 0 || limit > 20 {
				limit = 5
			}

			convs, err := store.ListConversations(ctx, conversation.ListFilter{CallerNumber: caller, Limit: limit + 1})
			if err != nil {
				return "", err
			}
			calls := make([]callSummary, 0, len(convs))
			for _, c := range convs {
				if c.StreamSID == call.StreamSID {
					continue
				}
				calls = append(calls, callSummary{
					StreamSID:       c.StreamSID,
					StartedAt:       c.StartedAt.Format(time.RFC3339),
					DurationSeconds: c.DurationSeconds,
					MessageCount:    c.MessageCount,
				})
				if len(calls) == limit {
					break
				}
			}
			out, err := json.Marshal(map[string]any{"caller_number": caller, "previous_calls": calls})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}
