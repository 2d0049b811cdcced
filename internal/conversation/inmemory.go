package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps conversations in process memory for local/dev use.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	byStream      map[string]string
	items         map[string]*ItemList
	now           func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*Conversation),
		byStream:      make(map[string]string),
		items:         make(map[string]*ItemList),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) StartConversation(_ context.Context, streamSID, phoneNumber, phoneNumberSID, callerNumber string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.byStream[streamSID]; ok {
		c := s.conversations[id]
		c.PhoneNumber = phoneNumber
		c.PhoneNumberSID = phoneNumberSID
		c.CallerNumber = callerNumber
		c.StartedAt = now
		c.EndedAt = nil
		c.DurationSeconds = nil
		c.MessageCount = 0
		return id, nil
	}

	id := uuid.NewString()
	s.conversations[id] = &Conversation{
		ID:             id,
		StreamSID:      streamSID,
		PhoneNumber:    phoneNumber,
		PhoneNumberSID: phoneNumberSID,
		CallerNumber:   callerNumber,
		StartedAt:      now,
	}
	s.byStream[streamSID] = id
	s.items[id] = NewItemList()
	return id, nil
}

func (s *InMemoryStore) SaveItems(_ context.Context, conversationID string, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.items[conversationID]
	if !ok {
		return ErrNotFound
	}
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, exists := list.index[item.ID]; exists {
			list.items[list.index[item.ID]] = item.clone()
			continue
		}
		list.insert(item.clone())
	}
	return nil
}

func (s *InMemoryStore) EndConversation(_ context.Context, streamSID string, messageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byStream[streamSID]
	if !ok {
		return ErrNotFound
	}
	c := s.conversations[id]
	end := s.now()
	dur := durationSeconds(c.StartedAt, end)
	c.EndedAt = &end
	c.DurationSeconds = &dur
	c.MessageCount = messageCount
	return nil
}

func (s *InMemoryStore) GetConversationByStreamSID(_ context.Context, streamSID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byStream[streamSID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return cloneConversation(s.conversations[id]), nil
}

func (s *InMemoryStore) GetItems(_ context.Context, conversationID string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.items[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return list.Snapshot(), nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, filter ListFilter) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0)
	for _, c := range s.conversations {
		if filter.matches(*c) {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) DeleteConversation(_ context.Context, streamSID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byStream[streamSID]
	if !ok {
		return false, nil
	}
	delete(s.byStream, streamSID)
	delete(s.conversations, id)
	delete(s.items, id)
	return true, nil
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }

func cloneConversation(c *Conversation) Conversation {
	out := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		out.DurationSeconds = &d
	}
	return out
}
