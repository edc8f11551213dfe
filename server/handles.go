package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/luau/vm"
)

// handle is a server-side reference to a VM value.
type handle struct {
	id        string
	ref       *vm.Ref[vm.Value]
	kind      vm.Tag
	display   string
	sessionID string
	created   time.Time
	lastUsed  time.Time
}

// HandleStore maps opaque string IDs to anchored VM values. The store owns
// each ref it is given; dropping a handle releases the ref on the worker
// goroutine.
type HandleStore struct {
	mu      sync.RWMutex
	handles map[string]*handle
	worker  *VMWorker
}

// NewHandleStore creates a new handle store.
func NewHandleStore(worker *VMWorker) *HandleStore {
	return &HandleStore{
		handles: make(map[string]*handle),
		worker:  worker,
	}
}

// Create registers a ref and returns an opaque handle ID. display and kind
// are captured by the caller on the worker goroutine so that metadata can
// be served without touching the VM.
func (s *HandleStore) Create(ref *vm.Ref[vm.Value], kind vm.Tag, display, sessionID string) string {
	id := "h-" + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.handles[id] = &handle{
		id:        id,
		ref:       ref,
		kind:      kind,
		display:   display,
		sessionID: sessionID,
		created:   now,
		lastUsed:  now,
	}
	return id
}

// Lookup retrieves the ref for a handle. The ref may only be used on the
// worker goroutine.
func (s *HandleStore) Lookup(id string) (*vm.Ref[vm.Value], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return nil, false
	}
	h.lastUsed = time.Now()
	return h.ref, true
}

// Describe returns the kind and display string captured at creation.
func (s *HandleStore) Describe(id string) (vm.Tag, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handles[id]
	if !ok {
		return vm.TagNil, "", false
	}
	return h.kind, h.display, true
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Release removes a handle and drops its anchor. It reports whether the
// handle existed.
func (s *HandleStore) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return false
	}
	s.drop(h)
	return true
}

// ReleaseSession releases all handles owned by a session.
func (s *HandleStore) ReleaseSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, h := range s.handles {
		if h.sessionID == sessionID {
			s.drop(h)
			removed++
		}
	}
	return removed
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *HandleStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, h := range s.handles {
		if h.lastUsed.Before(cutoff) {
			s.drop(h)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("swept %d idle handles", removed)
	}
	return removed
}

// drop must be called with mu held.
func (s *HandleStore) drop(h *handle) {
	delete(s.handles, h.id)
	s.worker.Later(h.ref.Release)
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *HandleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
