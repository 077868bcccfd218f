package api

import (
	"sync"

	"github.com/docbot-ai/docbot/internal/chatbot"
)

// sessionStore keeps per-session conversation history in memory for the
// lifetime of the process. Sessions are created implicitly on first use and
// are not persisted across restarts.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string][]chatbot.Turn
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string][]chatbot.Turn)}
}

func sessionKey(chatbotID, sessionID string) string {
	return chatbotID + "/" + sessionID
}

// History returns a copy of the session's turns so callers can't mutate
// shared state.
func (s *sessionStore) History(chatbotID, sessionID string) []chatbot.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.sessions[sessionKey(chatbotID, sessionID)]
	out := make([]chatbot.Turn, len(history))
	copy(out, history)
	return out
}

// Update replaces the session's history.
func (s *sessionStore) Update(chatbotID, sessionID string, history []chatbot.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey(chatbotID, sessionID)] = history
}

// Drop discards a single session.
func (s *sessionStore) Drop(chatbotID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey(chatbotID, sessionID))
}
