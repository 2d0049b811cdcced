package conversation

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("conversation not found")

// Conversation is the persisted record of one call.
type Conversation struct {
	ID              string     `json:"id"`
	StreamSID       string     `json:"stream_sid"`
	PhoneNumber     string     `json:"phone_number"`
	PhoneNumberSID  string     `json:"phone_number_sid,omitempty"`
	CallerNumber    string     `json:"caller_number,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
	MessageCount    int        `json:"message_count"`
}

// ListFilter narrows ListConversations. Zero fields do not filter.
type ListFilter struct {
	PhoneNumber    string
	PhoneNumberSID string
	CallerNumber   string
	Since          time.Time
	Until          time.Time
	Limit          int
}

const defaultListLimit = 50

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	if f.Limit > 500 {
		return 500
	}
	return f.Limit
}

func (f ListFilter) matches(c Conversation) bool {
	if f.PhoneNumber != "" && c.PhoneNumber != f.PhoneNumber {
		return false
	}
	if f.PhoneNumberSID != "" && c.PhoneNumberSID != f.PhoneNumberSID {
		return false
	}
	if f.CallerNumber != "" && c.CallerNumber != f.CallerNumber {
		return false
	}
	if !f.Since.IsZero() && c.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !c.StartedAt.Before(f.Until) {
		return false
	}
	return true
}

// Store persists conversations and their items.
type Store interface {
	// StartConversation records a call start. Restarting a known stream
	// resets its record and returns the existing id.
	StartConversation(ctx context.Context, streamSID, phoneNumber, phoneNumberSID, callerNumber string) (string, error)
	// SaveItems upserts items keyed by item id within the conversation.
	SaveItems(ctx context.Context, conversationID string, items []Item) error
	// EndConversation stamps the end time, whole-second duration and message count.
	EndConversation(ctx context.Context, streamSID string, messageCount int) error
	GetConversationByStreamSID(ctx context.Context, streamSID string) (Conversation, error)
	GetItems(ctx context.Context, conversationID string) ([]Item, error)
	// ListConversations returns matches newest first.
	ListConversations(ctx context.Context, filter ListFilter) ([]Conversation, error)
	DeleteConversation(ctx context.Context, streamSID string) (bool, error)
	Mode() string
	Close() error
}

func durationSeconds(start, end time.Time) int64 {
	d := int64(end.Sub(start) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
