package session

import (
	"sync"
	"time"

	"github.com/entrhq/pagedock/pkg/driver"
)

// State describes where a session is in its lifecycle.
type State string

const (
	// StateActive means the session is idle and ready for the next action
	StateActive State = "active"

	// StateBusy means exactly one action is in flight
	StateBusy State = "busy"

	// StateClosing means close was requested and teardown is in progress
	StateClosing State = "closing"

	// StateClosed is terminal; the browser handle has been released
	StateClosed State = "closed"
)

// Info is a point-in-time snapshot of one session, safe to serialize.
type Info struct {
	ID           string    `json:"session_id"`
	OriginURL    string    `json:"origin_url"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Session is one externally addressable browser instance and its current
// page. The id is the only reference callers ever hold; the handle is
// reachable solely between Acquire and the matching release.
type Session struct {
	id     string
	handle driver.Handle

	mu           sync.Mutex // guards state, originURL, lastActivity
	state        State
	originURL    string
	createdAt    time.Time
	lastActivity time.Time

	// slot is a one-token channel serving as the action lock: sending the
	// token acquires the session, receiving it back releases. Blocked
	// senders queue in FIFO order, which gives same-session actions their
	// arrival-order guarantee.
	slot chan struct{}

	// done is closed once the session reaches StateClosed so blocked
	// acquirers fail fast instead of waiting out their full timeout.
	done chan struct{}
}

func newSession(id string, handle driver.Handle) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		handle:       handle,
		state:        StateActive,
		originURL:    "about:blank",
		createdAt:    now,
		lastActivity: now,
		slot:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() string {
	return s.id
}

// Handle returns the browser handle. Callers must hold the session via
// Acquire for as long as they use it.
func (s *Session) Handle() driver.Handle {
	return s.handle
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OriginURL returns the last successfully navigated URL.
func (s *Session) OriginURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.originURL
}

// SetOriginURL records the last successfully navigated URL for diagnostics.
func (s *Session) SetOriginURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.originURL = url
}

// LastActivity returns the time the session last finished an action.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.id,
		OriginURL:    s.originURL,
		State:        s.state,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
}

// acquire obtains exclusive access to the session's handle, waiting up to
// wait when an action is already in flight. On success the session is Busy
// and the returned release must be called exactly once.
func (s *Session) acquire(wait time.Duration) (func(), error) {
	// Fail fast when teardown has already started
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return nil, NewError(KindSessionClosed, "session %s is closing", s.id)
	}
	s.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s.slot <- struct{}{}:
	case <-s.done:
		return nil, NewError(KindSessionClosed, "session %s is closing", s.id)
	case <-timer.C:
		return nil, NewError(KindBusyTimeout, "session %s is busy, gave up after %s", s.id, wait)
	}

	// A close may have started while this caller was queued. Hand the token
	// straight back so the closer can proceed.
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		<-s.slot
		return nil, NewError(KindSessionClosed, "session %s is closing", s.id)
	}
	s.state = StateBusy
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(s.release)
	}, nil
}

// release finishes the in-flight action and returns the token. When a close
// is pending the state is left for the closer to finalize.
func (s *Session) release() {
	s.mu.Lock()
	if s.state == StateBusy {
		s.state = StateActive
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()
	<-s.slot
}

// beginClose flags teardown so new acquirers are turned away. Only the
// first closer sees true; everyone else finds teardown already underway.
func (s *Session) beginClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosing || s.state == StateClosed {
		return false
	}
	s.state = StateClosing
	return true
}

// finalizeClose marks the terminal state and wakes every blocked acquirer.
// Called exactly once, by the closer that won beginClose.
func (s *Session) finalizeClose() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)
}
