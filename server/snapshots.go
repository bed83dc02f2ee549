package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/jfe/jarray"
)

// Snapshot is a decoded value kept on the server so clients can fetch it
// again, in another format, without re-running the expression.
type Snapshot struct {
	ID        string
	SessionID string
	Expr      string
	Value     jarray.Value
	Created   time.Time
	LastUsed  time.Time
}

// SnapshotStore maps opaque string IDs to decoded values. Values own their
// data, so a snapshot outlives later changes to the engine binding it came
// from.
type SnapshotStore struct {
	mu     sync.Mutex
	snaps  map[string]*Snapshot
	nextID atomic.Uint64
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]*Snapshot)}
}

// Create registers a value and returns its snapshot ID.
func (s *SnapshotStore) Create(sessionID, expr string, v jarray.Value) string {
	id := fmt.Sprintf("snap-%d", s.nextID.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.snaps[id] = &Snapshot{
		ID:        id,
		SessionID: sessionID,
		Expr:      expr,
		Value:     v,
		Created:   now,
		LastUsed:  now,
	}
	return id
}

// Lookup returns a copy of the snapshot and marks it used.
func (s *SnapshotStore) Lookup(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[id]
	if !ok {
		return Snapshot{}, false
	}
	snap.LastUsed = time.Now()
	return *snap, true
}

// Export returns the snapshot's value as canonical CBOR.
func (s *SnapshotStore) Export(id string) ([]byte, error) {
	snap, ok := s.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("snapshot %s not found", id)
	}
	return jarray.MarshalValue(snap.Value)
}

// Release removes a snapshot. It reports whether the snapshot existed.
func (s *SnapshotStore) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.snaps[id]
	delete(s.snaps, id)
	return ok
}

// ReleaseSession removes every snapshot taken in a session.
func (s *SnapshotStore) ReleaseSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, snap := range s.snaps {
		if snap.SessionID == sessionID {
			delete(s.snaps, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live snapshots.
func (s *SnapshotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

// Sweep removes snapshots that haven't been used within the TTL.
func (s *SnapshotStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, snap := range s.snaps {
		if snap.LastUsed.Before(cutoff) {
			delete(s.snaps, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("swept %d snapshots", removed)
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SnapshotStore) StartSweeper(interval, ttl time.Duration) func() {
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
