package router

import "sync"

// Observer is told about every change a MemoryStore applies.
type Observer interface {
	MessageAppended(msg Message)
	MessageUpdated(msg Message)
}

// Observers fans a change out to several observers in order.
type Observers []Observer

func (o Observers) MessageAppended(msg Message) {
	for _, ob := range o {
		ob.MessageAppended(msg.Clone())
	}
}

func (o Observers) MessageUpdated(msg Message) {
	for _, ob := range o {
		ob.MessageUpdated(msg.Clone())
	}
}

// MemoryStore is an in-memory Store. It is safe for concurrent use; the
// observer is invoked outside the lock.
type MemoryStore struct {
	mu        sync.RWMutex
	messages  []Message
	toolIndex map[string]int

	observer Observer
}

// NewMemoryStore creates an empty store. observer may be nil.
func NewMemoryStore(observer Observer) *MemoryStore {
	return &MemoryStore{
		toolIndex: make(map[string]int),
		observer:  observer,
	}
}

func (s *MemoryStore) LastMessage() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

func (s *MemoryStore) AppendMessage(msg Message) {
	msg = msg.Clone()
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	if msg.ToolCall != nil && msg.ToolCall.ID != "" {
		s.toolIndex[msg.ToolCall.ID] = len(s.messages) - 1
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.MessageAppended(msg.Clone())
	}
}

// UpdateLastMessage applies fn to the most recent message under the store
// lock. fn returns false to leave the message untouched.
func (s *MemoryStore) UpdateLastMessage(fn func(*Message) bool) bool {
	s.mu.Lock()
	if len(s.messages) == 0 {
		s.mu.Unlock()
		return false
	}
	last := s.messages[len(s.messages)-1].Clone()
	if !fn(&last) {
		s.mu.Unlock()
		return false
	}
	s.messages[len(s.messages)-1] = last
	updated := last.Clone()
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.MessageUpdated(updated)
	}
	return true
}

func (s *MemoryStore) UpdateMessageByID(toolCallID string, fn func(*Message)) bool {
	s.mu.Lock()
	idx, ok := s.toolIndex[toolCallID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(&s.messages[idx])
	updated := s.messages[idx].Clone()
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.MessageUpdated(updated)
	}
	return true
}

// Messages returns a snapshot of all messages in order.
func (s *MemoryStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Reset drops all messages.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.toolIndex = make(map[string]int)
	s.mu.Unlock()
}
