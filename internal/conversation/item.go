package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ent0n29/callrelay/internal/protocol"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"

	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Item is one structured unit of a call's conversation.
type Item struct {
	ID        string          `json:"id"`
	Object    string          `json:"object,omitempty"`
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Status    string          `json:"status,omitempty"`
	Content   []ContentPart   `json:"content,omitempty"`
	Name      string          `json:"name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Output    string          `json:"output,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text joins the item's text parts.
func (i Item) Text() string {
	parts := make([]string, 0, len(i.Content))
	for _, p := range i.Content {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "")
}

func (i Item) hasText() bool {
	for _, p := range i.Content {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

func (i Item) clone() Item {
	out := i
	if i.Content != nil {
		out.Content = append([]ContentPart(nil), i.Content...)
	}
	if i.Params != nil {
		out.Params = append(json.RawMessage(nil), i.Params...)
	}
	return out
}

// NormalizeContent converts model content parts (text, input_text, audio
// with transcript) into plain text parts. Parts without readable text are dropped.
func NormalizeContent(parts []protocol.ContentPart) []ContentPart {
	if len(parts) == 0 {
		return nil
	}
	out := make([]ContentPart, 0, len(parts))
	for _, p := range parts {
		text := p.PlainText()
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, ContentPart{Type: "text", Text: text})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// FromRealtime converts a model-reported item. Function call arguments that
// parse as JSON are also kept as Params.
func FromRealtime(ri protocol.RealtimeItem) Item {
	item := Item{
		ID:        ri.ID,
		Object:    ri.Object,
		Type:      ri.Type,
		Role:      ri.Role,
		Status:    ri.Status,
		Content:   NormalizeContent(ri.Content),
		Name:      ri.Name,
		CallID:    ri.CallID,
		Arguments: ri.Arguments,
		Output:    ri.Output,
	}
	if item.Object == "" {
		item.Object = "realtime.item"
	}
	if ri.Arguments != "" && json.Valid([]byte(ri.Arguments)) {
		item.Params = json.RawMessage(ri.Arguments)
	}
	return item
}

// ItemList is the ordered, id-unique item sequence of one call. It is not
// safe for concurrent use; the owning session serializes access.
type ItemList struct {
	items []Item
	index map[string]int
	now   func() time.Time
}

func NewItemList() *ItemList {
	return &ItemList{index: make(map[string]int), now: func() time.Time { return time.Now().UTC() }}
}

func (l *ItemList) Len() int { return len(l.items) }

func (l *ItemList) Get(id string) (Item, bool) {
	idx, ok := l.index[id]
	if !ok {
		return Item{}, false
	}
	return l.items[idx].clone(), true
}

// Snapshot returns a deep copy of the items in order.
func (l *ItemList) Snapshot() []Item {
	out := make([]Item, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, item.clone())
	}
	return out
}

// MessageCount counts items of type message.
func (l *ItemList) MessageCount() int {
	n := 0
	for _, item := range l.items {
		if item.Type == protocol.ItemTypeMessage {
			n++
		}
	}
	return n
}

func (l *ItemList) insert(item Item) *Item {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = l.now()
	}
	l.index[item.ID] = len(l.items)
	l.items = append(l.items, item)
	return &l.items[len(l.items)-1]
}

// Upsert creates item or merges it into the entry with the same id.
// Non-empty incoming fields win, except content: text already accumulated on
// the existing entry is kept over the incoming snapshot.
func (l *ItemList) Upsert(item Item) Item {
	if item.ID == "" {
		return Item{}
	}
	idx, ok := l.index[item.ID]
	if !ok {
		return l.insert(item.clone()).clone()
	}

	cur := &l.items[idx]
	if item.Object != "" {
		cur.Object = item.Object
	}
	if item.Type != "" {
		cur.Type = item.Type
	}
	if item.Role != "" {
		cur.Role = item.Role
	}
	if item.Status != "" {
		cur.Status = item.Status
	}
	if !cur.hasText() && len(item.Content) > 0 {
		cur.Content = append([]ContentPart(nil), item.Content...)
	}
	if item.Name != "" {
		cur.Name = item.Name
	}
	if item.CallID != "" {
		cur.CallID = item.CallID
	}
	if item.Arguments != "" {
		cur.Arguments = item.Arguments
	}
	if len(item.Params) > 0 {
		cur.Params = append(json.RawMessage(nil), item.Params...)
	}
	if item.Output != "" {
		cur.Output = item.Output
	}
	return cur.clone()
}

// AppendText adds a streamed fragment to item id, folding earlier fragments
// into a single text part first. A missing item is created as a running
// assistant message.
func (l *ItemList) AppendText(id, delta string) Item {
	if id == "" {
		return Item{}
	}
	idx, ok := l.index[id]
	var cur *Item
	if ok {
		cur = &l.items[idx]
	} else {
		cur = l.insert(Item{
			ID:     id,
			Object: "realtime.item",
			Type:   protocol.ItemTypeMessage,
			Role:   RoleAssistant,
			Status: StatusRunning,
		})
	}
	text := cur.Text() + delta
	cur.Content = []ContentPart{{Type: "text", Text: text}}
	if cur.Status == "" {
		cur.Status = StatusRunning
	}
	return cur.clone()
}

// SetText replaces item id's content with text and sets its status. A
// missing item is created as a message with role.
func (l *ItemList) SetText(id, role, text, status string) Item {
	if id == "" {
		return Item{}
	}
	idx, ok := l.index[id]
	var cur *Item
	if ok {
		cur = &l.items[idx]
	} else {
		cur = l.insert(Item{ID: id, Object: "realtime.item", Type: protocol.ItemTypeMessage, Role: role})
	}
	cur.Content = []ContentPart{{Type: "text", Text: text}}
	if status != "" {
		cur.Status = status
	}
	if cur.Role == "" {
		cur.Role = role
	}
	return cur.clone()
}

// CompleteFunctionCall marks the function_call item carrying callID completed.
func (l *ItemList) CompleteFunctionCall(callID string) bool {
	if callID == "" {
		return false
	}
	for i := range l.items {
		if l.items[i].Type == protocol.ItemTypeFunctionCall && l.items[i].CallID == callID {
			l.items[i].Status = StatusCompleted
			return true
		}
	}
	return false
}
