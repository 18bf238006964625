package hub

import (
	"context"
	"log"
	"sync"
	"time"
)

// LastSeenStore persists last-seen timestamps across restarts. The registry
// works without one; writes are best-effort.
type LastSeenStore interface {
	RecordLastSeen(ctx context.Context, userID string, t time.Time) error
	LoadLastSeen(ctx context.Context, userID string) (time.Time, bool, error)
}

// TransitionFunc receives the externally observable 0<->1 transitions of a
// user's connection count. lastSeen is only meaningful when online is false.
// Called with the registry locked so transitions for one user are observed
// in order; implementations must not call back into the Registry.
type TransitionFunc func(userID string, online bool, lastSeen time.Time)

// Registry is the single source of truth for user reachability. Multiple
// simultaneous connections for one user collapse to one presence state.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]map[string]struct{}
	lastSeen map[string]time.Time

	store        LastSeenStore
	onTransition TransitionFunc
	now          func() time.Time
}

func NewRegistry(store LastSeenStore, onTransition TransitionFunc) *Registry {
	return &Registry{
		conns:        make(map[string]map[string]struct{}),
		lastSeen:     make(map[string]time.Time),
		store:        store,
		onTransition: onTransition,
		now:          time.Now,
	}
}

// Connect adds connID to the user's connection set. The online transition
// fires only when the set goes from empty to non-empty.
func (r *Registry) Connect(userID, connID string) {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	wentOnline := len(set) == 0
	set[connID] = struct{}{}
	// Emitted before the lock is released: on connection churn a stale
	// offline publish must never overtake the newer online one.
	if wentOnline && r.onTransition != nil {
		r.onTransition(userID, true, time.Time{})
	}
	r.mu.Unlock()

	if wentOnline {
		onlineUsers.Inc()
	}
}

// Disconnect removes connID. When the set becomes empty the user's last-seen
// is recorded and the offline transition fires.
func (r *Registry) Disconnect(userID, connID string) {
	now := r.now().UTC()

	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(set, connID)
	wentOffline := len(set) == 0
	if wentOffline {
		delete(r.conns, userID)
		r.lastSeen[userID] = now
		if r.onTransition != nil {
			r.onTransition(userID, false, now)
		}
	}
	r.mu.Unlock()

	if !wentOffline {
		return
	}
	onlineUsers.Dec()
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.store.RecordLastSeen(ctx, userID, now); err != nil {
			log.Printf("presence: record last seen for %s: %v", userID, err)
		}
		cancel()
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID]) > 0
}

// LastSeen returns the user's last-seen timestamp. Only meaningful for
// offline users; falls through to the persistent store when this process
// has not observed the user disconnect.
func (r *Registry) LastSeen(ctx context.Context, userID string) (time.Time, bool) {
	r.mu.Lock()
	if len(r.conns[userID]) > 0 {
		r.mu.Unlock()
		return time.Time{}, false
	}
	if t, ok := r.lastSeen[userID]; ok {
		r.mu.Unlock()
		return t, true
	}
	r.mu.Unlock()

	if r.store != nil {
		if t, ok, err := r.store.LoadLastSeen(ctx, userID); err == nil && ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Snapshot returns every currently online user id plus the capture time,
// for bulk reconciliation on reconnect.
func (r *Registry) Snapshot() PresenceSnapshotPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	online := make([]string, 0, len(r.conns))
	for userID, set := range r.conns {
		if len(set) > 0 {
			online = append(online, userID)
		}
	}
	return PresenceSnapshotPayload{OnlineUserIDs: online, Timestamp: r.now().UTC()}
}
