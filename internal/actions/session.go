package actions

import (
	"sync"
)

// Session is the menu state of one conversation: which declarative menu
// was last shown and which actions message was last sent.
type Session struct {
	mu            sync.Mutex
	lastMenu      string
	lastMessageID string
	lastActionsID string
}

// LastMenu returns the id of the last shown menu, or "".
func (s *Session) LastMenu() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMenu
}

func (s *Session) setLastMenu(menuID string) {
	s.mu.Lock()
	s.lastMenu = menuID
	s.mu.Unlock()
}

// LastSent returns the transport message id and actions id of the last
// actions message sent in this conversation.
func (s *Session) LastSent() (messageID, actionsID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessageID, s.lastActionsID
}

// RecordSent stores the last sent actions message.
func (s *Session) RecordSent(messageID, actionsID string) {
	s.mu.Lock()
	s.lastMessageID = messageID
	s.lastActionsID = actionsID
	s.mu.Unlock()
}

// Sessions holds one Session per conversation id. Safe for concurrent use.
type Sessions struct {
	mu sync.Mutex
	m  map[string]*Session
}

// NewSessions creates an empty session table.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*Session)}
}

// Get returns the session for conversationID, creating it on first use.
func (s *Sessions) Get(conversationID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[conversationID]
	if !ok {
		sess = &Session{}
		s.m[conversationID] = sess
	}
	return sess
}

// Delete drops the session of conversationID.
func (s *Sessions) Delete(conversationID string) {
	s.mu.Lock()
	delete(s.m, conversationID)
	s.mu.Unlock()
}

// Len returns the number of tracked conversations.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
