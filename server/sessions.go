package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chazu/luau/vm"
)

// Session is a workspace with its own coroutine. In a sandboxed VM every
// coroutine has its own global table, so sessions do not see each other's
// globals.
type Session struct {
	ID     string
	Name   string
	thread *vm.Ref[vm.Coroutine]
}

// Thread returns the session's coroutine. Worker goroutine only.
func (s *Session) Thread() *vm.Thread {
	return s.thread.Get().Thread()
}

// SessionStore manages workspace sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	handles  *HandleStore
	worker   *VMWorker
}

// NewSessionStore creates a new session store.
func NewSessionStore(worker *VMWorker, handles *HandleStore) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		handles:  handles,
		worker:   worker,
	}
}

// Create creates a new session with an optional name.
func (s *SessionStore) Create(ctx context.Context, name string) (*Session, error) {
	res, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		return v.MainThread().NewThread()
	})
	if err != nil {
		return nil, fmt.Errorf("creating session thread: %w", err)
	}

	session := &Session{
		ID:     "s-" + uuid.NewString(),
		Name:   name,
		thread: res.(*vm.Ref[vm.Coroutine]),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	log.Infof("created session %s %q", session.ID, name)
	return session, nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Destroy removes a session and releases all its handles. It reports
// whether the session existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.handles.ReleaseSession(id)
	s.worker.Later(session.thread.Release)
	return true
}
