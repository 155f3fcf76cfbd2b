package telegram

import (
	"sync"

	"github.com/digkill/SmachnoBot/internal/models"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingStyle
	StateAwaitingWishes
)

// Session is the in-progress creative of one chat. It lives only in memory;
// a restart sends the user back to "send a photo".
type Session struct {
	State    SessionState
	PhotoURL string
	Style    models.Style
}

type StateManager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[int64]*Session),
	}
}

// Get returns a copy so callers can modify it before Set.
func (m *StateManager) Get(chatID int64) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if session, ok := m.sessions[chatID]; ok {
		return *session
	}
	return Session{State: StateIdle}
}

func (m *StateManager) Set(chatID int64, session Session) {
	m.mu.Lock()
	m.sessions[chatID] = &session
	m.mu.Unlock()
}

func (m *StateManager) Reset(chatID int64) {
	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
}

// StartWithPhoto keeps the photo and asks for a style again.
func (m *StateManager) StartWithPhoto(chatID int64, photoURL string) {
	m.Set(chatID, Session{State: StateAwaitingStyle, PhotoURL: photoURL})
}
