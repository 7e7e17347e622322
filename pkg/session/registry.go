package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/pagedock/pkg/driver"
	"github.com/entrhq/pagedock/pkg/logging"
)

// Default limits for the registry.
const (
	DefaultMaxSessions    = 5
	DefaultAcquireTimeout = 10 * time.Second
)

// Registry owns every live session. Its structural lock guards only the map
// and is held briefly for bookkeeping; launching, driving, and closing
// browsers all happen outside it so one slow session never stalls the rest.
// Per-session serialization is the session's own job (see Session.acquire).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	pending  int // launches counted against the cap but not yet registered
	draining bool

	driver      driver.Driver
	maxSessions int
	log         *logging.Logger

	created   atomic.Int64
	closed    atomic.Int64
	reclaimed atomic.Int64
}

// Stats is a point-in-time set of registry counters.
type Stats struct {
	Active    int
	Created   int64
	Closed    int64
	Reclaimed int64
}

// NewRegistry creates an empty registry on top of the given driver.
func NewRegistry(d driver.Driver, maxSessions int, log *logging.Logger) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		driver:      d,
		maxSessions: maxSessions,
		log:         log,
	}
}

// Create launches a new browser instance and registers it under a fresh id.
// The launch runs outside the structural lock; the cap is reserved up front
// so concurrent creates cannot overshoot it. On launch failure nothing is
// registered.
func (r *Registry) Create(profile driver.Profile) (string, error) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return "", NewError(KindDriverUnavailable, "service is shutting down")
	}
	if len(r.sessions)+r.pending >= r.maxSessions {
		r.mu.Unlock()
		return "", NewError(KindCapacityExceeded, "maximum number of sessions (%d) reached", r.maxSessions)
	}
	r.pending++
	r.mu.Unlock()

	handle, err := r.driver.Launch(profile)

	r.mu.Lock()
	r.pending--
	if err != nil {
		r.mu.Unlock()
		return "", WrapError(KindLaunchError, err, "failed to launch browser")
	}
	if r.draining {
		r.mu.Unlock()
		// Shutdown began while the browser was starting; roll it back
		if cerr := handle.Close(); cerr != nil {
			r.log.Warnf("failed to close browser launched during shutdown: %v", cerr)
		}
		return "", NewError(KindDriverUnavailable, "service is shutting down")
	}

	id := uuid.New().String()
	s := newSession(id, handle)
	r.sessions[id] = s
	r.mu.Unlock()

	r.created.Add(1)
	r.log.Infof("session %s created", id)
	return id, nil
}

// Acquire resolves the id and obtains exclusive access to the session,
// waiting up to wait when another action is already in flight. The returned
// release must be called exactly once, on every exit path.
func (r *Registry) Acquire(id string, wait time.Duration) (*Session, func(), error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, NewError(KindNotFound, "session %s not found", id)
	}

	release, err := s.acquire(wait)
	if err != nil {
		return nil, nil, err
	}
	return s, release, nil
}

// Close tears down the session: new acquirers are turned away immediately,
// any in-flight action is waited out, then the browser handle is released
// exactly once and the entry removed. When ctx expires first, the session is
// force-removed and the handle close happens anyway, best-effort, which also
// unblocks whatever driver call was stuck.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return NewError(KindNotFound, "session %s not found", id)
	}

	if !s.beginClose() {
		return NewError(KindSessionClosed, "session %s is already closing", id)
	}

	forced := false
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		forced = true
	}

	if err := s.handle.Close(); err != nil {
		r.log.Warnf("session %s: browser close failed: %v", id, err)
	}

	s.finalizeClose()

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	if forced {
		r.log.Warnf("session %s force-closed with an action still in flight", id)
	} else {
		// Return the token taken above; the channel stays full forever
		// otherwise, which is harmless but untidy
		<-s.slot
		r.log.Infof("session %s closed", id)
	}

	r.closed.Add(1)
	return nil
}

// List returns a snapshot of every live session ordered by creation time.
// The structural lock is held only long enough to copy the map.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// IDs returns the ids of all live sessions.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetDraining stops Create from accepting new sessions. One-way.
func (r *Registry) SetDraining() {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()
}

// ReclaimIdle closes every session that was Active with no activity since
// before maxIdle ago at the time of the call, and reports how many were
// reclaimed. Busy sessions are left alone: a running action is activity.
func (r *Registry) ReclaimIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	reclaimed := 0
	for _, s := range r.snapshot() {
		info := s.Info()
		if info.State != StateActive || !info.LastActivity.Before(cutoff) {
			continue
		}
		if err := r.Close(ctx, s.ID()); err != nil {
			// Someone closed it between the scan and now
			continue
		}
		r.log.Infof("session %s reclaimed after %s idle", s.ID(), time.Since(info.LastActivity).Round(time.Second))
		r.reclaimed.Add(1)
		reclaimed++
	}
	return reclaimed
}

// ReclaimDead closes sessions whose browser reports dead (crashed or killed
// out from under us) so their entries do not linger until the idle cutoff.
func (r *Registry) ReclaimDead(ctx context.Context) int {
	reclaimed := 0
	for _, s := range r.snapshot() {
		if s.State() != StateActive || s.handle.Alive() {
			continue
		}
		if err := r.Close(ctx, s.ID()); err != nil {
			continue
		}
		r.log.Warnf("session %s reclaimed: browser no longer alive", s.ID())
		r.reclaimed.Add(1)
		reclaimed++
	}
	return reclaimed
}

// Stats returns the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Active:    r.Len(),
		Created:   r.created.Load(),
		Closed:    r.closed.Load(),
		Reclaimed: r.reclaimed.Load(),
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
