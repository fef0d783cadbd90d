package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UnknownSession is the session id used until the server sends SESSION_INFO.
const UnknownSession = "unknown"

// Identity is the user a connection authenticates as.
type Identity struct {
	UserID   ID
	Username string
	Email    string
}

// Session tracks the identifiers attached to every outbound frame.
type Session struct {
	mu           sync.RWMutex
	identity     Identity
	hasIdentity  bool
	projectID    string
	sessionID    string
	connectionID string
}

func NewSession() *Session {
	return &Session{sessionID: UnknownSession}
}

func (s *Session) SetIdentity(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.hasIdentity = true
}

func (s *Session) Identity() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.hasIdentity
}

func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *Session) setSessionID(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

func (s *Session) ConnectionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionID
}

func (s *Session) ProjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectID
}

// begin records the project and mints a fresh connection id for one connect
// attempt.
func (s *Session) begin(projectID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectID = projectID
	s.connectionID = newConnectionID()
	return s.connectionID
}

// header returns the fields stamped onto every outbound frame.
func (s *Session) header() (sessionID, connectionID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID, s.connectionID
}

func newConnectionID() string {
	return fmt.Sprintf("conn_%d_%s", time.Now().UnixMilli(), uuid.NewString())
}
